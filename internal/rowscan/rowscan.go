// =============================================================================
// BOQ Rate Filler - Row Scanner
// =============================================================================
//
// This module walks the data rows below the header and turns them into
// TargetLines (target workbook) or a DraftSet (draft workbook).
//
// TARGET ROW RULES:
//   1. Rows with both item and description blank are spacer rows: skipped.
//   2. A blank item is inferred from the previous item by incrementing its
//      last dot segment ("5" -> "5.1", "5.1" -> "5.2").
//   3. Rows whose item or description mention "remark" are skipped.
//   4. Rows whose item or description mention "total" are Total rows.
//   5. Only rows with a blank rate or a blank amount become TargetLines.
//
// DRAFT ROW RULES:
//   Rows are keyed by normalized "item|description". On a key collision the
//   first row to supply a field keeps it; later rows only fill fields that
//   are still empty.
//
// =============================================================================

package rowscan

import (
	"strconv"
	"strings"

	"github.com/ginjaninja78/boq-rate-filler/internal/columns"
	"github.com/ginjaninja78/boq-rate-filler/internal/textnorm"
	"github.com/ginjaninja78/boq-rate-filler/internal/types"
	"github.com/ginjaninja78/boq-rate-filler/internal/xlsxparser"
)

// =============================================================================
// SCAN RESULTS
// =============================================================================

// ScannedRow is the classification of one data row of the target sheet.
// The writer uses it to bound Total-row sums.
type ScannedRow struct {
	Number  int
	Item    string
	IsTotal bool
	Skipped bool

	// Amount is the numeric value already in the amount column, if any.
	Amount *float64
}

// TargetScan is the result of scanning a target sheet.
type TargetScan struct {
	HeaderRow int

	// DataStart is the first row number below the header.
	DataStart int

	Lines []types.TargetLine
	Rows  []ScannedRow
}

// LastTotalBefore returns the number of the nearest Total row above row,
// or 0 when there is none.
func (s *TargetScan) LastTotalBefore(row int) int {
	last := 0
	for _, r := range s.Rows {
		if r.Number >= row {
			break
		}
		if r.IsTotal {
			last = r.Number
		}
	}
	return last
}

// =============================================================================
// CLASSIFIERS
// =============================================================================

// IsRemark reports whether a row is a remark line.
func IsRemark(item, description string) bool {
	return containsWord(item, "remark") || containsWord(description, "remark")
}

// IsTotal reports whether a row is a Total line.
func IsTotal(item, description string) bool {
	return containsWord(item, "total") || containsWord(description, "total")
}

func containsWord(s, word string) bool {
	return strings.Contains(strings.ToLower(s), word)
}

// InferItem derives the next item number from prev by incrementing its last
// dot segment. A single-level item gains a ".1" sub-level. A last segment
// that is not a number also gains ".1".
func InferItem(prev string) string {
	prev = strings.TrimSpace(prev)
	if prev == "" {
		return ""
	}
	idx := strings.LastIndex(prev, ".")
	if idx < 0 {
		return prev + ".1"
	}
	n, err := strconv.Atoi(prev[idx+1:])
	if err != nil {
		return prev + ".1"
	}
	return prev[:idx+1] + strconv.Itoa(n+1)
}

// =============================================================================
// TARGET SCANNING
// =============================================================================

// ScanTarget extracts the lines that still need a rate or an amount.
func ScanTarget(sheet *xlsxparser.Sheet, cm types.ColumnMap, headerRow int) *TargetScan {
	scan := &TargetScan{HeaderRow: headerRow, DataStart: headerRow + 1}

	prevItem := ""
	for _, row := range sheet.Rows {
		if row.Number <= headerRow {
			continue
		}

		item := strings.TrimSpace(row.Value(cm.Item).String())
		desc := strings.TrimSpace(row.Value(cm.Description).String())
		amount := row.Value(cm.Amount)
		rate := row.Value(cm.Rate)

		sr := ScannedRow{Number: row.Number, Amount: amount.FloatPtr()}

		if item == "" && desc == "" {
			sr.Skipped = true
			scan.Rows = append(scan.Rows, sr)
			continue
		}

		sr.IsTotal = IsTotal(item, desc)

		// Total rows keep their own (possibly blank) item and do not feed
		// inference for the rows after them.
		inferred := false
		if item == "" && !sr.IsTotal {
			item = InferItem(prevItem)
			inferred = item != ""
		}
		sr.Item = item

		if IsRemark(item, desc) || (item == "" && !sr.IsTotal) {
			sr.Skipped = true
			sr.IsTotal = false
			scan.Rows = append(scan.Rows, sr)
			continue
		}

		scan.Rows = append(scan.Rows, sr)
		if !sr.IsTotal {
			prevItem = item
		}

		if !rate.IsBlank() && !amount.IsBlank() {
			continue
		}

		scan.Lines = append(scan.Lines, types.TargetLine{
			Item:         item,
			Description:  desc,
			Unit:         strings.TrimSpace(row.Value(cm.Unit).String()),
			Qty:          row.Value(cm.Qty).FloatPtr(),
			RowNumber:    row.Number,
			RateColumn:   cm.Rate,
			AmountColumn: cm.Amount,
			IsTotalRow:   sr.IsTotal,
			ItemInferred: inferred,
		})
	}
	return scan
}

// =============================================================================
// DRAFT SCANNING
// =============================================================================

// ScanDraft builds the keyed, ordered set of priced draft rows.
func ScanDraft(sheet *xlsxparser.Sheet, cm types.ColumnMap, headerRow int) *types.DraftSet {
	set := types.NewDraftSet()

	for _, row := range sheet.Rows {
		if row.Number <= headerRow {
			continue
		}

		item := strings.TrimSpace(row.Value(cm.Item).String())
		desc := strings.TrimSpace(row.Value(cm.Description).String())
		if item == "" && desc == "" {
			continue
		}
		if IsRemark(item, desc) {
			continue
		}

		src := &types.SourceRow{
			Item:        item,
			Description: desc,
			Unit:        strings.TrimSpace(row.Value(cm.Unit).String()),
			Qty:         row.Value(cm.Qty).FloatPtr(),
			Rate:        row.Value(cm.Rate).FloatPtr(),
			Amount:      row.Value(cm.Amount).FloatPtr(),
			RowNumber:   row.Number,
		}

		key := textnorm.CompositeKey(item, desc)
		existing, ok := set.Rows[key]
		if !ok {
			set.Keys = append(set.Keys, key)
			set.Rows[key] = src
			continue
		}
		mergeInto(existing, src)
	}
	return set
}

// mergeInto fills the fields of dst that are still empty from src.
func mergeInto(dst, src *types.SourceRow) {
	if dst.Unit == "" {
		dst.Unit = src.Unit
	}
	if dst.Qty == nil {
		dst.Qty = src.Qty
	}
	if dst.Rate == nil {
		dst.Rate = src.Rate
	}
	if dst.Amount == nil {
		dst.Amount = src.Amount
	}
}

// =============================================================================
// HEADER ROWS
// =============================================================================

// HeaderCandidates converts the rows numbered 1..limit into the shape the
// column identifier reads.
func HeaderCandidates(sheet *xlsxparser.Sheet, limit int) []columns.Row {
	var out []columns.Row
	for _, row := range sheet.Rows {
		if row.Number > limit {
			break
		}
		out = append(out, columns.Row{Number: row.Number, Cells: row.Texts()})
	}
	return out
}
