// =============================================================================
// BOQ Rate Filler - Spreadsheet Writer
// =============================================================================
//
// This module writes reconciled values back into the target worksheet. It
// never re-serializes a part: the worksheet XML is scanned for byte offsets
// and only the targeted cells are replaced, so every other byte (styles,
// merged ranges, drawings, unknown extensions) survives untouched.
//
// WRITE RULES (per matched, non-Total line):
//   | Field       | Written when                   | Form                         |
//   |-------------|--------------------------------|------------------------------|
//   | Item        | target cell blank              | inline string                |
//   | Description | target cell blank              | inline string                |
//   | Qty         | target cell blank, source qty  | number                       |
//   | Rate        | target cell blank, source rate | number                       |
//   | Amount      | cell blank or a formula        | =Q*R formula or number       |
//
// TOTAL ROWS:
//   A blank amount cell on a Total row receives =SUM(A{start}:A{end}), where
//   start is the row after the nearest Total row above (or the first data
//   row) and end is the row above. The literal sum is kept for reporting.
//
// WORKBOOK:
//   Rate and Amount columns are widened (never narrowed) to fit the longest
//   value, and calcPr is set so Excel recalculates on open.
//
// =============================================================================

package xmlwriter

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/ginjaninja78/boq-rate-filler/internal/rowscan"
	"github.com/ginjaninja78/boq-rate-filler/internal/types"
	"github.com/ginjaninja78/boq-rate-filler/internal/xlsxparser"
	pkgerrors "github.com/ginjaninja78/boq-rate-filler/pkg/errors"
	"github.com/shopspring/decimal"
)

// DefaultColumnWidth is Excel's width for a column without a <col> entry.
const DefaultColumnWidth = 8.43

// =============================================================================
// WRITE OPTIONS
// =============================================================================

// Options controls the optional parts of a write.
type Options struct {
	// ClearStyle drops the s attribute from every written cell.
	// Default: true
	ClearStyle bool

	// AutoWidth widens the Rate and Amount columns to fit their values.
	// Default: true
	AutoWidth bool

	// ForceRecalc sets calcMode="auto" and fullCalcOnLoad="1" on the workbook.
	// Default: true
	ForceRecalc bool
}

// DefaultOptions returns the options used by the pipeline.
func DefaultOptions() Options {
	return Options{ClearStyle: true, AutoWidth: true, ForceRecalc: true}
}

// Input is everything the writer needs about one target sheet.
type Input struct {
	Sheet    *xlsxparser.Sheet
	Scan     *rowscan.TargetScan
	Outcomes []types.MatchOutcome
	Columns  types.ColumnMap
}

// Output holds the mutated parts, keyed by archive name, and the outcomes
// enriched with what was actually persisted. Parts is empty when nothing
// had to change.
type Output struct {
	Parts    map[string][]byte
	Outcomes []types.MatchOutcome
}

// =============================================================================
// MAIN ENTRY POINT
// =============================================================================

// Apply plans and performs every write for one target sheet.
//
// PARAMETERS:
//   - c: the opened target container
//   - ref: the resolved target sheet
//   - in: parsed sheet, scan, match outcomes and column map
//   - opts: write options
//
// RETURNS:
//   - Output with the mutated parts; the input outcomes are not modified
//   - WriteError on any failure, including a panic while planning or splicing
func Apply(c *xlsxparser.Container, ref xlsxparser.SheetRef, in Input, opts Options) (out *Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, pkgerrors.NewWriteError(ref.Part, fmt.Errorf("writer panic: %v", r))
		}
	}()

	if in.Sheet == nil || in.Scan == nil {
		return nil, pkgerrors.NewWriteError(ref.Part, fmt.Errorf("missing sheet or scan"))
	}

	out = &Output{
		Parts:    make(map[string][]byte),
		Outcomes: make([]types.MatchOutcome, len(in.Outcomes)),
	}
	copy(out.Outcomes, in.Outcomes)

	p := newPlan(in)
	for i := range out.Outcomes {
		o := &out.Outcomes[i]
		if o.Matched && !o.Target.IsTotalRow {
			p.line(o)
		}
	}
	// Totals go second so their sums see the amounts written above.
	for i := range out.Outcomes {
		if o := &out.Outcomes[i]; o.Target.IsTotalRow {
			p.total(o)
		}
	}
	if p.empty() {
		return out, nil
	}

	data, err := c.SheetData(ref)
	if err != nil {
		return nil, pkgerrors.NewWriteError(ref.Part, err)
	}
	var widths map[int]float64
	if opts.AutoWidth {
		widths = p.widths()
	}
	sheetXML, err := spliceSheet(data, p, widths, opts)
	if err != nil {
		return nil, pkgerrors.NewWriteError(ref.Part, err)
	}
	out.Parts[ref.Part] = sheetXML

	if opts.ForceRecalc {
		name, ok := c.Name(xlsxparser.WorkbookPart)
		if !ok {
			return nil, pkgerrors.NewWriteError(xlsxparser.WorkbookPart, fmt.Errorf("part missing"))
		}
		wb, _, err := c.Part(name)
		if err != nil {
			return nil, pkgerrors.NewWriteError(name, err)
		}
		updated, changed, err := setCalcPr(wb)
		if err != nil {
			return nil, pkgerrors.NewWriteError(name, err)
		}
		if changed {
			out.Parts[name] = updated
		}
	}
	return out, nil
}

// =============================================================================
// WRITE PLAN
// =============================================================================

// cellWrite is one planned cell value. Formulas carry no leading '='.
type cellWrite struct {
	col     int
	kind    types.CellKind
	text    string
	number  float64
	formula string
	cached  *float64
}

// plan collects the cell writes of one sheet, grouped by row.
type plan struct {
	sheet   *xlsxparser.Sheet
	scan    *rowscan.TargetScan
	cm      types.ColumnMap
	writes  map[int]map[int]cellWrite
	amounts map[int]float64
}

func newPlan(in Input) *plan {
	return &plan{
		sheet:   in.Sheet,
		scan:    in.Scan,
		cm:      in.Columns,
		writes:  make(map[int]map[int]cellWrite),
		amounts: make(map[int]float64),
	}
}

func (p *plan) empty() bool { return len(p.writes) == 0 }

func (p *plan) set(row int, w cellWrite) {
	if p.writes[row] == nil {
		p.writes[row] = make(map[int]cellWrite)
	}
	p.writes[row][w.col] = w
}

func (p *plan) planned(row, col int) bool {
	_, ok := p.writes[row][col]
	return ok
}

// blank reports whether a cell may receive a value.
func (p *plan) blank(row, col int) bool {
	return col >= 0 && !p.planned(row, col) && p.sheet.Value(row, col).IsBlank()
}

// rows returns the planned row numbers in ascending order.
func (p *plan) rows() []int {
	out := make([]int, 0, len(p.writes))
	for r := range p.writes {
		out = append(out, r)
	}
	sort.Ints(out)
	return out
}

// line plans the writes of one matched line and records them on o.
func (p *plan) line(o *types.MatchOutcome) {
	r := o.Target.RowNumber
	src := o.Source
	if src == nil {
		return
	}

	if src.Item != "" && p.blank(r, p.cm.Item) {
		p.set(r, cellWrite{col: p.cm.Item, kind: types.CellText, text: src.Item})
		o.WrittenItem = src.Item
	}
	if src.Description != "" && p.blank(r, p.cm.Description) {
		p.set(r, cellWrite{col: p.cm.Description, kind: types.CellText, text: src.Description})
		o.WrittenDesc = src.Description
	}

	qty := o.Target.Qty
	if o.Qty != nil && p.blank(r, p.cm.Qty) {
		p.set(r, cellWrite{col: p.cm.Qty, kind: types.CellNumber, number: *o.Qty})
		o.WrittenQty = types.Float64(*o.Qty)
		qty = o.WrittenQty
	}

	rateCol, amountCol := o.Target.RateColumn, o.Target.AmountColumn
	rate := p.sheet.Value(r, rateCol).FloatPtr()
	if o.Rate != nil && p.blank(r, rateCol) {
		p.set(r, cellWrite{col: rateCol, kind: types.CellNumber, number: *o.Rate})
		o.WrittenRate = types.Float64(*o.Rate)
		rate = o.WrittenRate
	}

	if amountCol < 0 {
		return
	}
	existing := p.sheet.Value(r, amountCol)
	hasFormula := existing.Kind == types.CellFormula
	if !hasFormula && !p.blank(r, amountCol) {
		return
	}

	switch {
	case p.cm.Qty >= 0 && rate != nil && (hasFormula || (qty != nil && *qty > 0)):
		formula, err := productFormula(p.cm.Qty, rateCol, r)
		if err != nil {
			return
		}
		w := cellWrite{col: amountCol, kind: types.CellFormula, formula: formula}
		if master, ok := p.rangeMaster(r, amountCol); ok && master != formula {
			// The master's own text stays; its value is left to recalculation.
			w.formula = master
			p.set(r, w)
			o.AmountFormula = "=" + master
			return
		}
		if qty != nil {
			v, _ := decimal.NewFromFloat(*qty).Mul(decimal.NewFromFloat(*rate)).Float64()
			w.cached = types.Float64(v)
			o.WrittenAmount = types.Float64(v)
			p.amounts[r] = v
		}
		p.set(r, w)
		o.AmountFormula = "=" + formula
	case hasFormula:
		// An existing formula is kept when no product can replace it.
	case o.Amount != nil:
		p.set(r, cellWrite{col: amountCol, kind: types.CellNumber, number: *o.Amount})
		o.WrittenAmount = types.Float64(*o.Amount)
		p.amounts[r] = *o.Amount
	}
}

// rangeMaster returns the formula of a cell that anchors a shared or array
// formula range. Such a formula is kept; only its cached value changes.
func (p *plan) rangeMaster(row, col int) (string, bool) {
	r, ok := p.sheet.Row(row)
	if !ok {
		return "", false
	}
	c, ok := r.Cell(col)
	if !ok || !c.Raw.HasF || c.Raw.FRef == "" {
		return "", false
	}
	return c.Raw.F, true
}

// total plans the SUM formula of one Total row.
func (p *plan) total(o *types.MatchOutcome) {
	if o.Matched && o.Amount != nil {
		o.DraftTotal = types.Float64(*o.Amount)
	}

	r, col := o.Target.RowNumber, o.Target.AmountColumn
	if !p.blank(r, col) {
		return
	}
	start := p.scan.DataStart
	if last := p.scan.LastTotalBefore(r); last > 0 {
		start = last + 1
	}
	end := r - 1
	if end < start {
		return
	}

	from, err := xlsxparser.CellName(col, start)
	if err != nil {
		return
	}
	to, err := xlsxparser.CellName(col, end)
	if err != nil {
		return
	}

	sum := decimal.Zero
	for _, sr := range p.scan.Rows {
		if sr.Number < start || sr.Number > end || sr.IsTotal {
			continue
		}
		if v, ok := p.amounts[sr.Number]; ok {
			sum = sum.Add(decimal.NewFromFloat(v))
		} else if sr.Amount != nil {
			sum = sum.Add(decimal.NewFromFloat(*sr.Amount))
		}
	}
	total, _ := sum.Float64()

	formula := fmt.Sprintf("SUM(%s:%s)", from, to)
	p.set(r, cellWrite{col: col, kind: types.CellFormula, formula: formula, cached: types.Float64(total)})
	o.TotalFormula = "=" + formula
	o.CalculatedTotal = types.Float64(total)
}

// productFormula renders Q{row}*R{row}.
func productFormula(qtyCol, rateCol, row int) (string, error) {
	q, err := xlsxparser.CellName(qtyCol, row)
	if err != nil {
		return "", err
	}
	r, err := xlsxparser.CellName(rateCol, row)
	if err != nil {
		return "", err
	}
	return q + "*" + r, nil
}

// =============================================================================
// COLUMN WIDTHS
// =============================================================================

// widths returns the width needed by each Rate or Amount column that
// received a write, considering both existing and written values.
func (p *plan) widths() map[int]float64 {
	cols := map[int]bool{}
	for _, row := range p.writes {
		for col := range row {
			if col == p.cm.Rate || col == p.cm.Amount {
				cols[col] = true
			}
		}
	}

	out := make(map[int]float64, len(cols))
	for col := range cols {
		need := 0.0
		for _, row := range p.sheet.Rows {
			v, ok := p.numberAt(row.Number, col)
			if ok {
				need = math.Max(need, CurrencyWidth(v))
			}
		}
		for r := range p.writes {
			if v, ok := p.numberAt(r, col); ok {
				need = math.Max(need, CurrencyWidth(v))
			}
		}
		if need > 0 {
			out[col] = need
		}
	}
	return out
}

func (p *plan) numberAt(row, col int) (float64, bool) {
	if w, ok := p.writes[row][col]; ok {
		switch {
		case w.kind == types.CellNumber:
			return w.number, true
		case w.cached != nil:
			return *w.cached, true
		}
		return 0, false
	}
	v := p.sheet.Value(row, col)
	if v.Kind == types.CellText {
		return 0, false
	}
	return v.Float()
}

// CurrencyWidth estimates the display width of v rendered as currency:
// sign, integer digits, thousands separators, decimal point and two
// decimals.
func CurrencyWidth(v float64) float64 {
	digits := len(strconv.FormatFloat(math.Trunc(math.Abs(v)), 'f', 0, 64))
	return float64(1 + digits + (digits-1)/3 + 1 + 2)
}
