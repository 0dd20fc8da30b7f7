package pipeline

import (
	"github.com/ginjaninja78/boq-rate-filler/internal/rowscan"
	"github.com/ginjaninja78/boq-rate-filler/internal/types"
	"github.com/ginjaninja78/boq-rate-filler/internal/xlsxparser"
)

// Inspection describes how a workbook would be read, without matching or
// writing anything.
type Inspection struct {
	Sheets []xlsxparser.SheetRef

	// Sheet is the worksheet that would be used.
	Sheet xlsxparser.SheetRef

	HeaderRow int
	Columns   types.ColumnMap

	// DraftRows is the number of distinct priced rows if used as a draft.
	DraftRows int

	// OpenLines and TotalRows count the rows a fill would target if used
	// as a target.
	OpenLines int
	TotalRows int
}

// Inspect opens data and reports its sheets, header and column layout. When
// the sheet opens but its columns cannot be identified, the partial
// Inspection is returned with the error.
func (r *Reconciler) Inspect(data []byte, sheetName string) (*Inspection, error) {
	c, err := xlsxparser.Open(data)
	if err != nil {
		return nil, err
	}
	sheets, err := c.Sheets()
	if err != nil {
		return nil, err
	}
	ins := &Inspection{Sheets: sheets, Columns: types.NewColumnMap()}

	ref, err := c.ResolveSheet(sheetName)
	if err != nil {
		return ins, err
	}
	ins.Sheet = ref

	l, err := r.load(data, sheetName)
	if err != nil {
		return ins, err
	}
	ins.HeaderRow = l.columns.HeaderRow
	ins.Columns = l.columns.Columns
	ins.DraftRows = rowscan.ScanDraft(l.sheet, l.columns.Columns, l.columns.HeaderRow).Len()

	scan := rowscan.ScanTarget(l.sheet, l.columns.Columns, l.columns.HeaderRow)
	for _, line := range scan.Lines {
		if line.IsTotalRow {
			ins.TotalRows++
			continue
		}
		ins.OpenLines++
	}
	return ins, nil
}

// DescribeColumns renders a column map as letters, "-" for absent fields.
func DescribeColumns(cm types.ColumnMap) string {
	return describeColumns(cm)
}
