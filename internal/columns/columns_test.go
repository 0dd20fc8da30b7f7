package columns

import (
	"testing"

	"github.com/ginjaninja78/boq-rate-filler/internal/types"
	pkgerrors "github.com/ginjaninja78/boq-rate-filler/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rows(cells ...[]string) []Row {
	out := make([]Row, len(cells))
	for i, c := range cells {
		out[i] = Row{Number: i + 1, Cells: c}
	}
	return out
}

func TestIdentify(t *testing.T) {
	tests := []struct {
		name      string
		rows      []Row
		headerRow int
		want      types.ColumnMap
	}{
		{
			name:      "plain header on first row",
			rows:      rows([]string{"Item", "Description", "Unit", "Qty", "Rate", "Amount"}),
			headerRow: 1,
			want:      types.ColumnMap{Item: 0, Description: 1, Unit: 2, Qty: 3, Rate: 4, Amount: 5},
		},
		{
			name: "title block above header",
			rows: rows(
				[]string{"Bill No. 2 - Substructure"},
				[]string{},
				[]string{"", "Item No.", "Item Description", "Quantity", "Unit", "Unit Rate (RM)", "Amount (RM)"},
			),
			headerRow: 3,
			want:      types.ColumnMap{Item: 1, Description: 2, Unit: 4, Qty: 3, Rate: 5, Amount: 6},
		},
		{
			name:      "chinese headers",
			rows:      rows([]string{"序号", "项目名称", "单位", "工程量", "综合单价", "合价"}),
			headerRow: 1,
			want:      types.ColumnMap{Item: 0, Description: 1, Unit: 2, Qty: 3, Rate: 4, Amount: 5},
		},
		{
			name:      "unit and qty optional",
			rows:      rows([]string{"S/N", "Particulars", "Rates", "Amounts"}),
			headerRow: 1,
			want:      types.ColumnMap{Item: 0, Description: 1, Unit: -1, Qty: -1, Rate: 2, Amount: 3},
		},
		{
			name:      "first match wins",
			rows:      rows([]string{"Item", "Description", "Rate", "Amount", "Rate", "Amount"}),
			headerRow: 1,
			want:      types.ColumnMap{Item: 0, Description: 1, Unit: -1, Qty: -1, Rate: 2, Amount: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Identify(tt.rows, DefaultOptions())
			require.NoError(t, err)
			assert.Equal(t, tt.headerRow, res.HeaderRow)
			assert.Equal(t, tt.want, res.Columns)
		})
	}
}

func TestIdentifyMissingRequired(t *testing.T) {
	_, err := Identify(rows([]string{"Item", "Description", "Unit", "Qty"}), DefaultOptions())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsColumnIdentification(err))

	var cie *pkgerrors.ColumnIdentificationError
	require.ErrorAs(t, err, &cie)
	assert.Equal(t, []string{"rate", "amount"}, cie.Missing)
}

func TestIdentifySkipsTitleRow(t *testing.T) {
	in := rows(
		[]string{"Items of Work - Block A"},
		[]string{"Item", "Description", "Unit", "Qty", "Rate", "Amount"},
	)
	res, err := Identify(in, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, res.HeaderRow)
	assert.Equal(t, types.ColumnMap{Item: 0, Description: 1, Unit: 2, Qty: 3, Rate: 4, Amount: 5}, res.Columns)
}

func TestIdentifyReportsClosestCandidate(t *testing.T) {
	in := rows(
		[]string{"Items of Work - Block A"},
		[]string{"Item", "Description", "Unit", "Qty"},
	)
	res, err := Identify(in, DefaultOptions())
	var cie *pkgerrors.ColumnIdentificationError
	require.ErrorAs(t, err, &cie)
	assert.Equal(t, []string{"rate", "amount"}, cie.Missing)
	assert.Equal(t, 2, res.HeaderRow)
}

func TestIdentifyHeaderOutsideWindow(t *testing.T) {
	var in []Row
	for i := 0; i < 5; i++ {
		in = append(in, Row{Number: i + 1, Cells: []string{"note"}})
	}
	in = append(in, Row{Number: 6, Cells: []string{"Item", "Description", "Rate", "Amount"}})

	_, err := Identify(in, Options{ScanRows: 5, MinSimilarity: 0.7})
	assert.True(t, pkgerrors.IsColumnIdentification(err))

	res, err := Identify(in, Options{ScanRows: 6, MinSimilarity: 0.7})
	require.NoError(t, err)
	assert.Equal(t, 6, res.HeaderRow)
}
