package report

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/ginjaninja78/boq-rate-filler/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outcomes() []types.MatchOutcome {
	return []types.MatchOutcome{
		{
			Target:        types.TargetLine{RowNumber: 4, Item: "1.1", Description: "Concrete, grade 30", Unit: "m3", Qty: types.Float64(10)},
			Source:        &types.SourceRow{RowNumber: 7},
			Matched:       true,
			Kind:          types.MatchVectorMedium,
			Score:         0.41234,
			WrittenRate:   types.Float64(12.5),
			WrittenAmount: types.Float64(125),
			AmountFormula: "=D4*E4",
		},
		{
			Target: types.TargetLine{RowNumber: 5, Item: "1.1.1", Description: "Sundries", ItemInferred: true},
		},
		{
			Target:          types.TargetLine{RowNumber: 9, Description: "Total", IsTotalRow: true},
			Matched:         true,
			Kind:            types.MatchExact,
			TotalFormula:    "=SUM(F4:F8)",
			CalculatedTotal: types.Float64(125),
			DraftTotal:      types.Float64(130),
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, outcomes()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, Header, records[0])

	assert.Equal(t, []string{
		"4", "1.1", "Concrete, grade 30", "m3", "true", "vector-medium", "0.4123", "7",
		"10", "12.5", "125", "=D4*E4", "", "", "",
	}, records[1])
	assert.Equal(t, []string{
		"5", "1.1.1 (inferred)", "Sundries", "", "false", "none", "", "",
		"", "", "", "", "", "", "",
	}, records[2])
	assert.Equal(t, "=SUM(F4:F8)", records[3][12])
	assert.Equal(t, "125", records[3][13])
	assert.Equal(t, "130", records[3][14])
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.csv")
	require.NoError(t, WriteFile(path, outcomes()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Concrete, grade 30"`)
}
