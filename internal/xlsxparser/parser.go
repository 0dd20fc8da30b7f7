// =============================================================================
// BOQ Rate Filler - Worksheet Parser
// =============================================================================
//
// This module decodes a worksheet part into rows of typed cell values. It
// reads the XML directly instead of going through a spreadsheet library so
// that the values seen by the scanner are exactly what is stored on disk.
//
// CELL KINDS:
//   | Attribute t  | Value source                        | Result      |
//   |--------------|-------------------------------------|-------------|
//   | inlineStr    | concatenated <is><t> runs           | text        |
//   | s            | shared string table at index <v>    | text        |
//   | str, b, e, d | raw <v> literal                     | text        |
//   | n or absent  | raw <v> literal                     | number/text |
//   | any, with <f>| formula text plus cached <v>        | formula     |
//
// Column indices are 0-based to line up with ColumnMap; row numbers are the
// 1-based numbers shown by spreadsheet programs.
//
// =============================================================================

package xlsxparser

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ginjaninja78/boq-rate-filler/internal/types"
	pkgerrors "github.com/ginjaninja78/boq-rate-filler/pkg/errors"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// SHEET STRUCTURE
// =============================================================================

// Sheet is a decoded worksheet.
type Sheet struct {
	// Rows holds the rows present in the part, in document order.
	Rows []Row

	// MaxCol is the highest 0-based column index seen, or -1.
	MaxCol int

	byNumber map[int]int
}

// Row is one <row> element.
type Row struct {
	Number int
	Cells  []Cell
}

// Cell is one <c> element.
type Cell struct {
	Ref   string
	Col   int
	Row   int
	Style string
	Value types.CellValue
	Raw   RawCell
}

// RawCell holds the undecoded pieces of a <c> element.
type RawCell struct {
	Type      string
	V         string
	F         string
	HasF      bool
	FRef      string // ref of a shared-formula master or array formula
	Inline    string
	HasInline bool
}

// Text resolves the displayed text of the cell, following the three cell
// kinds. The bool is false when the cell references a shared string that
// does not exist.
func (rc RawCell) Text(sst []string) (string, bool) {
	switch rc.Type {
	case "inlineStr":
		if rc.HasInline {
			return rc.Inline, true
		}
		return rc.V, true
	case "s":
		idx, err := strconv.Atoi(strings.TrimSpace(rc.V))
		if err != nil || idx < 0 || idx >= len(sst) {
			return "", false
		}
		return sst[idx], true
	}
	return rc.V, true
}

// Row returns the row with the given 1-based number.
func (s *Sheet) Row(number int) (Row, bool) {
	i, ok := s.byNumber[number]
	if !ok {
		return Row{}, false
	}
	return s.Rows[i], true
}

// Value returns the value at a 1-based row and 0-based column.
func (s *Sheet) Value(row, col int) types.CellValue {
	r, ok := s.Row(row)
	if !ok {
		return types.CellValue{}
	}
	return r.Value(col)
}

// Cell returns the cell at a 0-based column.
func (r Row) Cell(col int) (Cell, bool) {
	for _, c := range r.Cells {
		if c.Col == col {
			return c, true
		}
	}
	return Cell{}, false
}

// Value returns the value at a 0-based column; missing cells are empty.
func (r Row) Value(col int) types.CellValue {
	if col < 0 {
		return types.CellValue{}
	}
	c, ok := r.Cell(col)
	if !ok {
		return types.CellValue{}
	}
	return c.Value
}

// Texts returns the displayed text of every column up to the last cell.
func (r Row) Texts() []string {
	maxCol := -1
	for _, c := range r.Cells {
		if c.Col > maxCol {
			maxCol = c.Col
		}
	}
	out := make([]string, maxCol+1)
	for _, c := range r.Cells {
		out[c.Col] = c.Value.String()
	}
	return out
}

// =============================================================================
// PARSING
// =============================================================================

// ParseSheet decodes worksheet XML. Shared string indices are resolved
// against sst; a bad index yields an empty cell rather than an error.
func ParseSheet(data []byte, sst []string) (*Sheet, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	sheet := &Sheet{MaxCol: -1, byNumber: make(map[int]int)}

	var (
		inData  bool
		row     *Row
		cell    *Cell
		field   string // "v", "f" or "t" while inside one of them
		inIS    bool
		phon    int
		lastRow int
		lastCol = -1
		inline  strings.Builder
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, pkgerrors.NewStructureError("worksheet", fmt.Sprintf("malformed XML: %v", err))
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "sheetData":
				inData = true
			case "row":
				if !inData {
					continue
				}
				num := lastRow + 1
				if v := attr(t, "r"); v != "" {
					if n, err := strconv.Atoi(v); err == nil && n > 0 {
						num = n
					}
				}
				lastRow = num
				lastCol = -1
				row = &Row{Number: num}
			case "c":
				if row == nil {
					continue
				}
				c := Cell{Row: row.Number, Col: lastCol + 1}
				c.Ref = attr(t, "r")
				if c.Ref != "" {
					if col, r, err := excelize.CellNameToCoordinates(c.Ref); err == nil {
						c.Col, c.Row = col-1, r
					}
				}
				if c.Ref == "" {
					c.Ref, _ = CellName(c.Col, row.Number)
				}
				c.Raw.Type = attr(t, "t")
				c.Style = attr(t, "s")
				lastCol = c.Col
				cell = &c
				inline.Reset()
			case "v", "f":
				if cell != nil && !inIS {
					field = t.Name.Local
					if field == "f" {
						cell.Raw.HasF = true
						cell.Raw.FRef = attr(t, "ref")
					}
				}
			case "is":
				if cell != nil {
					inIS = true
					cell.Raw.HasInline = true
				}
			case "rPh":
				phon++
			case "t":
				if inIS && phon == 0 {
					field = "t"
				}
			}

		case xml.CharData:
			if cell == nil {
				continue
			}
			switch field {
			case "v":
				cell.Raw.V += string(t)
			case "f":
				cell.Raw.F += string(t)
			case "t":
				inline.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "v", "f", "t":
				field = ""
			case "rPh":
				phon--
			case "is":
				inIS = false
				if cell != nil {
					cell.Raw.Inline = inline.String()
				}
			case "c":
				if cell != nil && row != nil {
					cell.Value = decodeValue(cell.Raw, sst)
					row.Cells = append(row.Cells, *cell)
					if cell.Col > sheet.MaxCol {
						sheet.MaxCol = cell.Col
					}
				}
				cell = nil
			case "row":
				if row != nil {
					sheet.byNumber[row.Number] = len(sheet.Rows)
					sheet.Rows = append(sheet.Rows, *row)
				}
				row = nil
			case "sheetData":
				inData = false
			}
		}
	}
	return sheet, nil
}

// decodeValue turns the raw pieces of a cell into a tagged value.
func decodeValue(rc RawCell, sst []string) types.CellValue {
	text, ok := rc.Text(sst)
	if !ok {
		text = ""
	}

	if rc.HasF {
		return types.FormulaValue(rc.F, text)
	}
	if text == "" {
		return types.CellValue{}
	}

	switch rc.Type {
	case "", "n":
		if f, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return types.NumberValue(f)
		}
	}
	return types.TextValue(text)
}

func attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local && a.Name.Space == "" {
			return a.Value
		}
	}
	return ""
}

// =============================================================================
// CELL REFERENCES
// =============================================================================

// ColumnName converts a 0-based column index to letters ("A", "AB").
func ColumnName(col int) (string, error) {
	return excelize.ColumnNumberToName(col + 1)
}

// CellName builds an A1 reference from a 0-based column and 1-based row.
func CellName(col, row int) (string, error) {
	return excelize.CoordinatesToCellName(col+1, row)
}
