package validation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ginjaninja78/boq-rate-filler/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var cm = types.ColumnMap{Item: 0, Description: 1, Unit: 2, Qty: 3, Rate: 4, Amount: 5}

func written(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Item", "Description", "Unit", "Qty", "Rate", "Amount"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"1.1", "Concrete", "m3", 10, 12}))
	require.NoError(t, f.SetCellFormula("Sheet1", "F2", "D2*E2"))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]any{"1.2", "Formwork", "m2", nil, 5, 50}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func outcome(row int) types.MatchOutcome {
	return types.MatchOutcome{
		Target:  types.TargetLine{RowNumber: row, RateColumn: cm.Rate, AmountColumn: cm.Amount},
		Matched: true,
	}
}

func TestVerifyPasses(t *testing.T) {
	a := outcome(2)
	a.WrittenRate = types.Float64(12)
	a.WrittenItem = "1.1"
	a.AmountFormula = "=D2*E2"

	b := outcome(3)
	b.WrittenRate = types.Float64(5)
	b.WrittenAmount = types.Float64(50.0000001)

	result := Verify(written(t), "Sheet1", []types.MatchOutcome{a, b}, cm)
	assert.True(t, result.IsValid, FormatErrors(result.Errors))
	assert.Equal(t, 5, result.CellsChecked)
	assert.Zero(t, result.ErrorCount)
}

func TestVerifyMismatches(t *testing.T) {
	a := outcome(2)
	a.WrittenRate = types.Float64(13)
	a.WrittenDesc = "Blockwork"
	a.AmountFormula = "=D2*E2*2"

	result := Verify(written(t), "Sheet1", []types.MatchOutcome{a}, cm)
	assert.False(t, result.IsValid)
	require.Equal(t, 3, result.ErrorCount)

	cells := map[string]string{}
	for _, e := range result.Errors {
		cells[e.Cell] = e.Message
	}
	assert.Equal(t, map[string]string{
		"E2": "number mismatch",
		"B2": "text mismatch",
		"F2": "formula mismatch",
	}, cells)
	assert.Contains(t, result.Errors[0].Error(), "[ERROR] B2")
}

func TestVerifyUnreadable(t *testing.T) {
	result := Verify([]byte("not a workbook"), "Sheet1", nil, cm)
	assert.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
	assert.Empty(t, result.Errors[0].Cell)
}

func TestWriteErrorLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verify.log")
	errs := []*ValidationError{{Severity: SeverityError, Cell: "E4", Expected: "1", Actual: "2", Message: "number mismatch"}}
	require.NoError(t, WriteErrorLog(errs, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "1 finding(s)")
	assert.Contains(t, string(data), `E4: number mismatch (expected "1", got "2")`)
	assert.Equal(t, "No validation errors.", FormatErrors(nil))
}
