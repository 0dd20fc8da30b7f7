// =============================================================================
// BOQ Rate Filler - Shared Types
// =============================================================================
//
// This package contains the data model shared by the codec, scanner, matcher,
// writer and pipeline packages. Keeping it here avoids import cycles between
// those packages.
//
// =============================================================================

package types

import (
	"math"
	"strconv"
	"strings"
)

// =============================================================================
// CELL VALUES
// =============================================================================

// CellKind tags the variant held by a CellValue.
type CellKind int

const (
	// CellEmpty is a missing cell or a cell without any value.
	CellEmpty CellKind = iota

	// CellText is a shared, inline or otherwise non-numeric string.
	CellText

	// CellNumber is a literal numeric value.
	CellNumber

	// CellFormula is a cell carrying a formula, with or without a cached result.
	CellFormula
)

// String returns the kind name used in logs.
func (k CellKind) String() string {
	switch k {
	case CellText:
		return "text"
	case CellNumber:
		return "number"
	case CellFormula:
		return "formula"
	}
	return "empty"
}

// CellValue is the decoded content of a single worksheet cell.
// Only the fields belonging to Kind are meaningful.
type CellValue struct {
	Kind CellKind

	// Text holds the decoded string for CellText.
	Text string

	// Number holds the value for CellNumber.
	Number float64

	// Formula holds the formula text (without a leading '=') for CellFormula.
	Formula string

	// Cached holds the last computed result of a formula, if the producer stored one.
	Cached string
}

// TextValue builds a CellText value.
func TextValue(s string) CellValue { return CellValue{Kind: CellText, Text: s} }

// NumberValue builds a CellNumber value.
func NumberValue(v float64) CellValue { return CellValue{Kind: CellNumber, Number: v} }

// FormulaValue builds a CellFormula value.
func FormulaValue(formula, cached string) CellValue {
	return CellValue{Kind: CellFormula, Formula: formula, Cached: cached}
}

// String renders the value the way a user would read it in the cell.
func (v CellValue) String() string {
	switch v.Kind {
	case CellText:
		return v.Text
	case CellNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case CellFormula:
		return v.Cached
	}
	return ""
}

// IsBlank reports whether the cell shows nothing. A formula without a cached
// result is blank.
func (v CellValue) IsBlank() bool {
	return strings.TrimSpace(v.String()) == ""
}

// Float extracts a numeric value. Text is accepted when it parses as a number
// once thousands separators and surrounding spaces are removed.
func (v CellValue) Float() (float64, bool) {
	switch v.Kind {
	case CellNumber:
		return v.Number, true
	case CellText:
		return ParseNumber(v.Text)
	case CellFormula:
		return ParseNumber(v.Cached)
	}
	return 0, false
}

// FloatPtr is Float returning nil when the cell holds no number.
func (v CellValue) FloatPtr() *float64 {
	f, ok := v.Float()
	if !ok {
		return nil
	}
	return &f
}

// ParseNumber parses user-entered numeric text such as "1,250.50". Text
// such as "NaN" or "inf" is not a number.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

// =============================================================================
// COLUMN MAP
// =============================================================================

// ColumnMap holds 0-based column indices for each logical field.
// A value of -1 means the field was not found.
type ColumnMap struct {
	Item        int
	Description int
	Unit        int
	Qty         int
	Rate        int
	Amount      int
}

// NewColumnMap returns a map with every field absent.
func NewColumnMap() ColumnMap {
	return ColumnMap{Item: -1, Description: -1, Unit: -1, Qty: -1, Rate: -1, Amount: -1}
}

// Missing lists the required fields that are absent.
func (m ColumnMap) Missing() []string {
	var missing []string
	if m.Item < 0 {
		missing = append(missing, "item")
	}
	if m.Description < 0 {
		missing = append(missing, "description")
	}
	if m.Rate < 0 {
		missing = append(missing, "rate")
	}
	if m.Amount < 0 {
		missing = append(missing, "amount")
	}
	return missing
}

// =============================================================================
// ROWS
// =============================================================================

// SourceRow is a priced line from the draft workbook.
type SourceRow struct {
	Item        string
	Description string
	Unit        string
	Qty         *float64
	Rate        *float64
	Amount      *float64

	// RowNumber is the 1-based worksheet row the values came from.
	RowNumber int
}

// DraftSet is the ordered, de-duplicated collection of draft rows keyed by
// the normalized "item|description" composite key.
type DraftSet struct {
	Keys []string
	Rows map[string]*SourceRow
}

// NewDraftSet returns an empty set.
func NewDraftSet() *DraftSet {
	return &DraftSet{Rows: make(map[string]*SourceRow)}
}

// Len returns the number of distinct keys.
func (d *DraftSet) Len() int { return len(d.Keys) }

// Ordered returns the rows in first-seen order.
func (d *DraftSet) Ordered() []*SourceRow {
	rows := make([]*SourceRow, 0, len(d.Keys))
	for _, k := range d.Keys {
		rows = append(rows, d.Rows[k])
	}
	return rows
}

// TargetLine is a target row whose rate or amount is blank.
type TargetLine struct {
	Item        string
	Description string
	Unit        string
	Qty         *float64

	// RowNumber is the 1-based worksheet row.
	RowNumber int

	// RateColumn and AmountColumn are 0-based column indices.
	RateColumn   int
	AmountColumn int

	IsTotalRow   bool
	ItemInferred bool
}

// =============================================================================
// MATCH RESULTS
// =============================================================================

// MatchKind records which tier produced a match.
type MatchKind string

const (
	MatchNone         MatchKind = "none"
	MatchExact        MatchKind = "exact"
	MatchItem         MatchKind = "item"
	MatchDescription  MatchKind = "description"
	MatchVectorStrong MatchKind = "vector-strong"
	MatchVectorMedium MatchKind = "vector-medium"
	MatchVectorWeak   MatchKind = "vector-weak"
)

// MatchOutcome is the result of reconciling one TargetLine. The writer fills
// in the Written* and formula fields.
type MatchOutcome struct {
	Target  TargetLine
	Source  *SourceRow
	Matched bool
	Kind    MatchKind

	// Score is the vector distance for vector matches and 0 otherwise.
	Score float64

	// Values copied from the source row. Any of them may be nil.
	Rate   *float64
	Amount *float64
	Qty    *float64

	WrittenRate   *float64
	WrittenAmount *float64
	WrittenQty    *float64
	WrittenItem   string
	WrittenDesc   string

	// AmountFormula and TotalFormula carry a leading '='.
	AmountFormula string
	TotalFormula  string

	// CalculatedTotal is the literal sum behind TotalFormula; DraftTotal is the
	// matched draft amount for the same Total row, when one exists.
	CalculatedTotal *float64
	DraftTotal      *float64
}

// Wrote reports whether the writer changed any cell for this outcome.
func (o MatchOutcome) Wrote() bool {
	return o.WrittenRate != nil || o.WrittenAmount != nil || o.WrittenQty != nil ||
		o.WrittenItem != "" || o.WrittenDesc != "" ||
		o.AmountFormula != "" || o.TotalFormula != ""
}

// =============================================================================
// SUMMARY
// =============================================================================

// Summary is the caller-facing result of one reconciliation run.
type Summary struct {
	Success      bool
	Message      string
	MatchedCount int
	TotalCount   int
	Logs         []string
}
