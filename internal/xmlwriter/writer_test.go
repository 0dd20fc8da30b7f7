package xmlwriter

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/ginjaninja78/boq-rate-filler/internal/rowscan"
	"github.com/ginjaninja78/boq-rate-filler/internal/testutil"
	"github.com/ginjaninja78/boq-rate-filler/internal/types"
	"github.com/ginjaninja78/boq-rate-filler/internal/xlsxparser"
	pkgerrors "github.com/ginjaninja78/boq-rate-filler/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var boqColumns = types.ColumnMap{Item: 0, Description: 1, Unit: 2, Qty: 3, Rate: 4, Amount: 5}

const header = `<row r="1">` +
	`<c r="A1" s="1" t="inlineStr"><is><t>Item</t></is></c>` +
	`<c r="B1" s="1" t="inlineStr"><is><t>Description</t></is></c>` +
	`<c r="C1" s="1" t="inlineStr"><is><t>Unit</t></is></c>` +
	`<c r="D1" s="1" t="inlineStr"><is><t>Qty</t></is></c>` +
	`<c r="E1" s="1" t="inlineStr"><is><t>Rate</t></is></c>` +
	`<c r="F1" s="1" t="inlineStr"><is><t>Amount</t></is></c></row>`

type fixture struct {
	data  []byte
	c     *xlsxparser.Container
	ref   xlsxparser.SheetRef
	sheet *xlsxparser.Sheet
	scan  *rowscan.TargetScan
}

func load(t *testing.T, data []byte) *fixture {
	t.Helper()
	c, err := xlsxparser.Open(data)
	require.NoError(t, err)
	ref, err := c.ResolveSheet("")
	require.NoError(t, err)
	sst, err := c.SharedStrings()
	require.NoError(t, err)
	raw, err := c.SheetData(ref)
	require.NoError(t, err)
	sheet, err := xlsxparser.ParseSheet(raw, sst)
	require.NoError(t, err)
	return &fixture{
		data:  data,
		c:     c,
		ref:   ref,
		sheet: sheet,
		scan:  rowscan.ScanTarget(sheet, boqColumns, 1),
	}
}

func newFixture(t *testing.T, sheetXML string) *fixture {
	t.Helper()
	return load(t, testutil.Workbook(t, sheetXML))
}

// outcomes pairs each scanned line with the source keyed by its row.
func (f *fixture) outcomes(sources map[int]*types.SourceRow) []types.MatchOutcome {
	out := make([]types.MatchOutcome, 0, len(f.scan.Lines))
	for _, l := range f.scan.Lines {
		o := types.MatchOutcome{Target: l, Kind: types.MatchNone}
		if src, ok := sources[l.RowNumber]; ok {
			o.Source, o.Matched, o.Kind = src, true, types.MatchExact
			o.Rate, o.Amount, o.Qty = copyPtr(src.Rate), copyPtr(src.Amount), copyPtr(src.Qty)
		}
		out = append(out, o)
	}
	return out
}

func (f *fixture) apply(t *testing.T, outcomes []types.MatchOutcome, opts Options) *Output {
	t.Helper()
	out, err := Apply(f.c, f.ref, Input{Sheet: f.sheet, Scan: f.scan, Outcomes: outcomes, Columns: boqColumns}, opts)
	require.NoError(t, err)
	return out
}

func copyPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func byRow(outcomes []types.MatchOutcome) map[int]types.MatchOutcome {
	m := make(map[int]types.MatchOutcome, len(outcomes))
	for _, o := range outcomes {
		m[o.Target.RowNumber] = o
	}
	return m
}

func TestApply(t *testing.T) {
	row4 := `<row r="4"><c r="A4" s="7" t="inlineStr"><is><t>1.3</t></is></c>` +
		`<c r="B4" t="inlineStr"><is><t>Priced</t></is></c>` +
		`<c r="D4"><v>2</v></c><c r="E4" s="7"><v>3</v></c><c r="F4" s="7"><v>6</v></c></row>`
	f := newFixture(t, testutil.SheetXML(
		header,
		`<row r="2"><c r="A2" t="inlineStr"><is><t>1.1</t></is></c>`+
			`<c r="B2" t="inlineStr"><is><t>Concrete</t></is></c>`+
			`<c r="C2" t="inlineStr"><is><t>m3</t></is></c>`+
			`<c r="D2" s="2"><v>10</v></c><c r="E2" s="5"/>`+
			`<c r="G2" t="inlineStr"><is><t>note</t></is></c></row>`,
		`<row r="3"><c r="A3" t="inlineStr"><is><t>1.2</t></is></c>`+
			`<c r="B3" t="inlineStr"><is><t>Formwork</t></is></c></row>`,
		row4,
		`<row r="5"><c r="B5" s="9" t="inlineStr"><is><t>Total</t></is></c></row>`,
	))

	in := f.outcomes(map[int]*types.SourceRow{
		2: {Item: "1.1", Description: "Concrete", Qty: types.Float64(10), Rate: types.Float64(12), Amount: types.Float64(999)},
		3: {Item: "1.2", Description: "Formwork", Rate: types.Float64(5), Amount: types.Float64(50)},
	})
	out := f.apply(t, in, DefaultOptions())

	sheet := string(out.Parts[f.ref.Part])
	require.NotEmpty(t, sheet)

	t.Run("rate written and style cleared", func(t *testing.T) {
		assert.Contains(t, sheet, `<c r="E2"><v>12</v></c>`)
		assert.Contains(t, sheet, `<c r="D2" s="2"><v>10</v></c>`, "untouched cells keep their style")
		assert.Contains(t, sheet, `<c r="A1" s="1" t="inlineStr">`)
	})

	t.Run("amount formula inserted in column order", func(t *testing.T) {
		f2 := strings.Index(sheet, `<c r="F2"><f>D2*E2</f><v>120</v></c>`)
		g2 := strings.Index(sheet, `<c r="G2"`)
		require.Positive(t, f2)
		assert.Less(t, f2, g2)
	})

	t.Run("literal amount without qty", func(t *testing.T) {
		assert.Contains(t, sheet, `<c r="E3"><v>5</v></c><c r="F3"><v>50</v></c></row>`)
	})

	t.Run("priced row untouched", func(t *testing.T) {
		assert.Contains(t, sheet, row4)
	})

	t.Run("total row sum", func(t *testing.T) {
		assert.Contains(t, sheet, `<c r="F5"><f>SUM(F2:F4)</f><v>176</v></c>`)
	})

	t.Run("outcomes enriched", func(t *testing.T) {
		got := byRow(out.Outcomes)
		require.NotNil(t, got[2].WrittenRate)
		assert.InDelta(t, 12, *got[2].WrittenRate, 1e-9)
		assert.Equal(t, "=D2*E2", got[2].AmountFormula)
		require.NotNil(t, got[2].WrittenAmount)
		assert.InDelta(t, 120, *got[2].WrittenAmount, 1e-9)
		assert.Nil(t, got[2].WrittenQty)
		assert.Empty(t, got[2].WrittenItem)

		require.NotNil(t, got[3].WrittenAmount)
		assert.InDelta(t, 50, *got[3].WrittenAmount, 1e-9)
		assert.Empty(t, got[3].AmountFormula)

		assert.Equal(t, "=SUM(F2:F4)", got[5].TotalFormula)
		require.NotNil(t, got[5].CalculatedTotal)
		assert.InDelta(t, 176, *got[5].CalculatedTotal, 1e-9)

		assert.Empty(t, byRow(in)[2].AmountFormula, "input outcomes are not modified")
	})

	t.Run("workbook recalculates", func(t *testing.T) {
		wb := string(out.Parts[xlsxparser.WorkbookPart])
		assert.Contains(t, wb, `</sheets><calcPr calcMode="auto" fullCalcOnLoad="1"/></workbook>`)
	})

	t.Run("reads back", func(t *testing.T) {
		repacked, err := f.c.Repack(out.Parts)
		require.NoError(t, err)
		g := load(t, repacked)
		assert.InDelta(t, 12, g.sheet.Value(2, 4).Number, 1e-9)
		assert.Equal(t, "D2*E2", g.sheet.Value(2, 5).Formula)
		assert.Equal(t, "note", g.sheet.Value(2, 6).Text)
		assert.Equal(t, "SUM(F2:F4)", g.sheet.Value(5, 5).Formula)
	})
}

func TestApplyKeepsStyleWhenAsked(t *testing.T) {
	f := newFixture(t, testutil.SheetXML(header,
		`<row r="2"><c r="A2" t="inlineStr"><is><t>1</t></is></c>`+
			`<c r="B2" t="inlineStr"><is><t>Doors</t></is></c><c r="E2" s="5" t="s"/></row>`))
	in := f.outcomes(map[int]*types.SourceRow{2: {Item: "1", Description: "Doors", Rate: types.Float64(7)}})

	out := f.apply(t, in, Options{})
	sheet := string(out.Parts[f.ref.Part])
	assert.Contains(t, sheet, `<c r="E2" s="5"><v>7</v></c>`, "t is always dropped for numbers")
	assert.NotContains(t, string(out.Parts[xlsxparser.WorkbookPart]), "calcPr")
}

func TestApplyNoEdits(t *testing.T) {
	f := newFixture(t, testutil.SheetXML(header,
		`<row r="2"><c r="A2" t="inlineStr"><is><t>1</t></is></c><c r="B2" t="inlineStr"><is><t>Doors</t></is></c></row>`))

	out := f.apply(t, f.outcomes(nil), DefaultOptions())
	assert.Empty(t, out.Parts)

	repacked, err := f.c.Repack(out.Parts)
	require.NoError(t, err)
	assert.Equal(t, f.data, repacked, "an unmatched run leaves the archive byte-identical")
}

func TestApplyTextWrites(t *testing.T) {
	f := newFixture(t, testutil.SheetXML(header,
		`<row r="2"><c r="A2" t="inlineStr"><is><t>4</t></is></c><c r="B2" t="inlineStr"><is><t>Walls</t></is></c></row>`,
		`<row r="3"><c r="B3" s="4" t="inlineStr"><is><t>Plaster &amp; paint</t></is></c></row>`,
	))
	require.Len(t, f.scan.Lines, 2)
	require.True(t, f.scan.Lines[1].ItemInferred)

	in := f.outcomes(map[int]*types.SourceRow{
		3: {Item: "4.1", Description: "Plaster & paint", Unit: "m2", Qty: types.Float64(3), Rate: types.Float64(2)},
	})
	out := f.apply(t, in, DefaultOptions())
	sheet := string(out.Parts[f.ref.Part])

	assert.Contains(t, sheet, `<row r="3"><c r="A3" t="inlineStr"><is><t>4.1</t></is></c><c r="B3" s="4" t="inlineStr">`,
		"blank item cell filled, existing description untouched")
	assert.Contains(t, sheet, `<c r="D3"><v>3</v></c><c r="E3"><v>2</v></c><c r="F3"><f>D3*E3</f><v>6</v></c>`)

	got := byRow(out.Outcomes)[3]
	assert.Equal(t, "4.1", got.WrittenItem)
	assert.Empty(t, got.WrittenDesc)
	require.NotNil(t, got.WrittenQty)
	assert.InDelta(t, 3, *got.WrittenQty, 1e-9)
}

func TestApplyRecoversAsWriteError(t *testing.T) {
	f := newFixture(t, testutil.SheetXML(header,
		`<row r="2"><c r="A2" t="inlineStr"><is><t>1</t></is></c><c r="B2" t="inlineStr"><is><t>Doors</t></is></c>`+
			`<c r="D2"><v>10</v></c></row>`))
	in := f.outcomes(map[int]*types.SourceRow{2: {Item: "1", Description: "Doors", Rate: types.Float64(math.NaN())}})

	var (
		out *Output
		err error
	)
	require.NotPanics(t, func() {
		out, err = Apply(f.c, f.ref, Input{Sheet: f.sheet, Scan: f.scan, Outcomes: in, Columns: boqColumns}, DefaultOptions())
	})
	assert.Nil(t, out)
	assert.True(t, pkgerrors.IsWrite(err))
	assert.Contains(t, err.Error(), "writer panic")
}

func TestApplyExistingFormula(t *testing.T) {
	f := newFixture(t, testutil.SheetXML(header,
		`<row r="2"><c r="A2" t="inlineStr"><is><t>1</t></is></c><c r="B2" t="inlineStr"><is><t>Doors</t></is></c>`+
			`<c r="F2" s="3"><f>D2*E2*1.1</f><v>0</v><extLst><ext uri="x"/></extLst></c></row>`))
	in := f.outcomes(map[int]*types.SourceRow{2: {Item: "1", Description: "Doors", Rate: types.Float64(7), Amount: types.Float64(70)}})

	out := f.apply(t, in, DefaultOptions())
	sheet := string(out.Parts[f.ref.Part])
	assert.Contains(t, sheet, `<c r="F2"><f>D2*E2</f><extLst><ext uri="x"/></extLst></c>`)
	assert.Nil(t, byRow(out.Outcomes)[2].WrittenAmount)
}

func TestApplySharedFormulaMaster(t *testing.T) {
	sharedRows := func(master string) string {
		return testutil.SheetXML(header,
			`<row r="2"><c r="A2" t="inlineStr"><is><t>1</t></is></c><c r="B2" t="inlineStr"><is><t>Doors</t></is></c>`+
				`<c r="D2"><v>10</v></c><c r="F2"><f t="shared" ref="F2:F3" si="0">`+master+`</f><v>0</v></c></row>`,
			`<row r="3"><c r="A3" t="inlineStr"><is><t>2</t></is></c><c r="B3" t="inlineStr"><is><t>Windows</t></is></c>`+
				`<c r="D3"><v>4</v></c><c r="F3"><f t="shared" si="0"/><v>0</v></c></row>`)
	}
	src := map[int]*types.SourceRow{2: {Item: "1", Description: "Doors", Rate: types.Float64(1.5)}}

	t.Run("product master keeps its range", func(t *testing.T) {
		f := newFixture(t, sharedRows("D2*E2"))
		out := f.apply(t, f.outcomes(src), DefaultOptions())
		sheet := string(out.Parts[f.ref.Part])

		assert.Contains(t, sheet, `<c r="F2"><f t="shared" ref="F2:F3" si="0">D2*E2</f><v>15</v></c>`)
		assert.Contains(t, sheet, `<c r="F3"><f t="shared" si="0"/><v>0</v></c>`)
		got := byRow(out.Outcomes)[2]
		assert.Equal(t, "=D2*E2", got.AmountFormula)
		require.NotNil(t, got.WrittenAmount)
		assert.InDelta(t, 15, *got.WrittenAmount, 1e-9)

		repacked, err := f.c.Repack(out.Parts)
		require.NoError(t, err)
		g := load(t, repacked)
		row2, _ := g.sheet.Row(2)
		master, ok := row2.Cell(5)
		require.True(t, ok)
		assert.Equal(t, "F2:F3", master.Raw.FRef)
		row3, _ := g.sheet.Row(3)
		dependent, ok := row3.Cell(5)
		require.True(t, ok)
		assert.True(t, dependent.Raw.HasF)
	})

	t.Run("other master text is kept", func(t *testing.T) {
		f := newFixture(t, sharedRows("D2*E2*1.1"))
		out := f.apply(t, f.outcomes(src), DefaultOptions())
		sheet := string(out.Parts[f.ref.Part])

		assert.Contains(t, sheet, `<c r="F2"><f t="shared" ref="F2:F3" si="0">D2*E2*1.1</f></c>`)
		assert.Contains(t, sheet, `<c r="F3"><f t="shared" si="0"/><v>0</v></c>`)
		got := byRow(out.Outcomes)[2]
		assert.Equal(t, "=D2*E2*1.1", got.AmountFormula)
		assert.Nil(t, got.WrittenAmount)
	})
}

func TestSpliceSynthesizesRows(t *testing.T) {
	p := &plan{writes: map[int]map[int]cellWrite{
		3: {4: {col: 4, kind: types.CellNumber, number: 5}},
		4: {1: {col: 1, kind: types.CellText, text: "x"}},
		7: {5: {col: 5, kind: types.CellFormula, formula: "D7*E7"}, 4: {col: 4, kind: types.CellNumber, number: 2}},
	}}

	t.Run("rows go in row order", func(t *testing.T) {
		src := testutil.SheetXML(
			`<row r="2"><c r="A2"><v>1</v></c></row>`,
			`<row r="4" ht="20"/>`,
			`<row r="6"><c r="A6"><v>6</v></c></row>`,
		)
		got, err := spliceSheet([]byte(src), p, nil, DefaultOptions())
		require.NoError(t, err)
		assert.Contains(t, string(got), `<sheetData>`+
			`<row r="2"><c r="A2"><v>1</v></c></row>`+
			`<row r="3"><c r="E3"><v>5</v></c></row>`+
			`<row r="4" ht="20"><c r="B4" t="inlineStr"><is><t>x</t></is></c></row>`+
			`<row r="6"><c r="A6"><v>6</v></c></row>`+
			`<row r="7"><c r="E7"><v>2</v></c><c r="F7"><f>D7*E7</f></c></row>`+
			`</sheetData>`)

		sheet, err := xlsxparser.ParseSheet(got, nil)
		require.NoError(t, err)
		assert.Equal(t, types.TextValue("x"), sheet.Value(4, 1))
		assert.Equal(t, "D7*E7", sheet.Value(7, 5).Formula)
	})

	t.Run("empty sheetData is opened", func(t *testing.T) {
		src := strings.Replace(testutil.SheetXML(), `<sheetData></sheetData>`, `<sheetData/>`, 1)
		got, err := spliceSheet([]byte(src), p, nil, DefaultOptions())
		require.NoError(t, err)
		assert.Contains(t, string(got), `<sheetData><row r="3"><c r="E3"><v>5</v></c></row>`+
			`<row r="4"><c r="B4" t="inlineStr"><is><t>x</t></is></c></row>`+
			`<row r="7"><c r="E7"><v>2</v></c><c r="F7"><f>D7*E7</f></c></row></sheetData>`)
	})
}

func totalsSheet(rows ...[2]any) string {
	var parts []string
	for i, r := range rows {
		n := i + 2
		var b strings.Builder
		fmt.Fprintf(&b, `<row r="%d">`, n)
		if item, ok := r[0].(string); ok {
			fmt.Fprintf(&b, `<c r="A%d" t="inlineStr"><is><t>%s</t></is></c>`, n, item)
			fmt.Fprintf(&b, `<c r="E%d"><v>1</v></c>`, n)
		} else {
			fmt.Fprintf(&b, `<c r="B%d" t="inlineStr"><is><t>Total</t></is></c>`, n)
		}
		if amt, ok := r[1].(float64); ok {
			fmt.Fprintf(&b, `<c r="F%d"><v>%v</v></c>`, n, amt)
		}
		b.WriteString(`</row>`)
		parts = append(parts, b.String())
	}
	return testutil.SheetXML(append([]string{header}, parts...)...)
}

func TestApplyTotals(t *testing.T) {
	f := newFixture(t, totalsSheet(
		[2]any{"1", 10.0}, // row 2
		[2]any{"2", 20.0}, // row 3
		[2]any{nil, nil},  // row 4: Total
		[2]any{"3", 5.0},  // row 5
		[2]any{nil, nil},  // row 6: Total
		[2]any{nil, nil},  // row 7: Total with an empty range
	))

	in := f.outcomes(map[int]*types.SourceRow{
		4: {Description: "Total", Rate: types.Float64(1), Amount: types.Float64(31)},
	})
	out := f.apply(t, in, DefaultOptions())
	got := byRow(out.Outcomes)

	assert.Equal(t, "=SUM(F2:F3)", got[4].TotalFormula)
	assert.InDelta(t, 30, *got[4].CalculatedTotal, 1e-9)
	require.NotNil(t, got[4].DraftTotal)
	assert.InDelta(t, 31, *got[4].DraftTotal, 1e-9)
	assert.Nil(t, got[4].WrittenRate, "Total rows never receive a rate")

	assert.Equal(t, "=SUM(F5:F5)", got[6].TotalFormula)
	assert.InDelta(t, 5, *got[6].CalculatedTotal, 1e-9)
	assert.Nil(t, got[6].DraftTotal)

	assert.Empty(t, got[7].TotalFormula)
	assert.Nil(t, got[7].CalculatedTotal)
}

func TestApplyWidens(t *testing.T) {
	row := `<row r="2"><c r="A2" t="inlineStr"><is><t>1</t></is></c><c r="B2" t="inlineStr"><is><t>Plant</t></is></c></row>`
	src := map[int]*types.SourceRow{2: {Item: "1", Description: "Plant", Rate: types.Float64(2.5), Amount: types.Float64(1234567.5)}}

	t.Run("adds cols", func(t *testing.T) {
		f := newFixture(t, testutil.SheetXML(header, row))
		sheet := string(f.apply(t, f.outcomes(src), DefaultOptions()).Parts[f.ref.Part])
		assert.Contains(t, sheet, `<cols><col min="6" max="6" width="13" customWidth="1"/></cols><sheetData>`)
	})

	t.Run("widens covering col", func(t *testing.T) {
		xml := strings.Replace(testutil.SheetXML(header, row), "<sheetData>",
			`<cols><col min="1" max="2" width="20"/><col min="5" max="6" width="9" style="3"/></cols><sheetData>`, 1)
		f := newFixture(t, xml)
		sheet := string(f.apply(t, f.outcomes(src), DefaultOptions()).Parts[f.ref.Part])
		assert.Contains(t, sheet, `<col min="1" max="2" width="20"/><col min="5" max="6" width="13" style="3" customWidth="1"/></cols>`)
	})

	t.Run("never narrows", func(t *testing.T) {
		xml := strings.Replace(testutil.SheetXML(header, row), "<sheetData>",
			`<cols><col min="6" max="6" width="30" customWidth="1"/></cols><sheetData>`, 1)
		f := newFixture(t, xml)
		sheet := string(f.apply(t, f.outcomes(src), DefaultOptions()).Parts[f.ref.Part])
		assert.Contains(t, sheet, `<col min="6" max="6" width="30" customWidth="1"/>`)
	})

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, testutil.SheetXML(header, row))
		sheet := string(f.apply(t, f.outcomes(src), Options{ClearStyle: true}).Parts[f.ref.Part])
		assert.NotContains(t, sheet, "<cols>")
	})
}

func TestCurrencyWidth(t *testing.T) {
	assert.InDelta(t, 5, CurrencyWidth(1), 1e-9)
	assert.InDelta(t, 8, CurrencyWidth(1234), 1e-9)
	assert.InDelta(t, 13, CurrencyWidth(-1234567.89), 1e-9)
}

func TestApplyExcelizeWorkbook(t *testing.T) {
	data := testutil.Excelize(t, "BOQ", [][]any{
		testutil.BOQHeader,
		{"1.1", "Concrete", "m3", 10, nil, nil},
		{"1.2", "Formwork", "m2", nil, nil, nil},
		{nil, "Total"},
	})
	f := load(t, data)
	in := f.outcomes(map[int]*types.SourceRow{
		2: {Item: "1.1", Description: "Concrete", Rate: types.Float64(12)},
		3: {Item: "1.2", Description: "Formwork", Rate: types.Float64(4), Amount: types.Float64(50)},
	})
	out := f.apply(t, in, DefaultOptions())
	repacked, err := f.c.Repack(out.Parts)
	require.NoError(t, err)

	x := testutil.Open(t, repacked)
	v, err := x.GetCellValue("BOQ", "E2")
	require.NoError(t, err)
	assert.Equal(t, "12", v)

	formula, err := x.GetCellFormula("BOQ", "F2")
	require.NoError(t, err)
	assert.Equal(t, "D2*E2", formula)

	v, err = x.GetCellValue("BOQ", "F3")
	require.NoError(t, err)
	assert.Equal(t, "50", v)

	formula, err = x.GetCellFormula("BOQ", "F4")
	require.NoError(t, err)
	assert.Equal(t, "SUM(F2:F3)", formula)

	wb := string(testutil.Unzip(t, repacked)[xlsxparser.WorkbookPart])
	assert.Contains(t, wb, `calcMode="auto"`)
	assert.Contains(t, wb, `fullCalcOnLoad="1"`)
}
