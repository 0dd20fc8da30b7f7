// Package columns locates the header row of a bill-of-quantities sheet and
// maps each logical field to a column.
package columns

import (
	"strings"

	"github.com/ginjaninja78/boq-rate-filler/internal/textnorm"
	"github.com/ginjaninja78/boq-rate-filler/internal/types"
	pkgerrors "github.com/ginjaninja78/boq-rate-filler/pkg/errors"
)

// Options controls header discovery.
type Options struct {
	// ScanRows is how many leading rows are searched for the header.
	ScanRows int

	// MinSimilarity is the threshold for the fuzzy rate and amount headers.
	MinSimilarity float64
}

// DefaultOptions returns the standard header window and similarity.
func DefaultOptions() Options {
	return Options{ScanRows: 30, MinSimilarity: 0.70}
}

// Row is one candidate header row: its 1-based number and the displayed
// text of each 0-based column.
type Row struct {
	Number int
	Cells  []string
}

// Result is the identified header.
type Result struct {
	Columns   types.ColumnMap
	HeaderRow int
}

// Synonym lists, compared against normalized header text.
var (
	// itemTokens mark a header row. Short tokens must match the whole cell.
	itemTokens      = []string{"item", "itemno", "itemno.", "no", "no.", "sn", "s/n", "sno", "s.no", "slno", "sl.no", "ref", "ref.", "序号", "编号", "項目"}
	itemContains    = []string{"item", "序号", "编号"}
	descContains    = []string{"description", "desc", "particular", "workdescription", "名称", "描述", "项目特征"}
	unitContains    = []string{"unit", "uom", "单位"}
	qtyContains     = []string{"qty", "quantity", "quantities", "数量", "工程量"}
	rateSynonyms    = []string{"rate", "unitrate", "unitprice", "unitcost", "price", "rates", "单价", "综合单价"}
	amountSynonyms  = []string{"amount", "totalamount", "total", "sum", "cost", "合价", "金额", "合计"}
	itemExactTokens = map[string]bool{}
)

func init() {
	for _, tok := range itemTokens {
		itemExactTokens[tok] = true
	}
}

// Identify finds the header row within the first opts.ScanRows rows and
// maps each field to a column. The header row is the first row having an
// item-like cell whose cells place every required field (item, description,
// rate, amount). Otherwise it fails with a ColumnIdentificationError naming
// the fields the closest candidate row could not place.
func Identify(rows []Row, opts Options) (Result, error) {
	if opts.ScanRows <= 0 {
		opts.ScanRows = DefaultOptions().ScanRows
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = DefaultOptions().MinSimilarity
	}

	limit := len(rows)
	if limit > opts.ScanRows {
		limit = opts.ScanRows
	}

	var best *Result
	bestMissing := 0
	for _, row := range rows[:limit] {
		if !isHeaderRow(row.Cells) {
			continue
		}
		cm := mapColumns(row.Cells, opts.MinSimilarity)
		missing := cm.Missing()
		if len(missing) == 0 {
			return Result{Columns: cm, HeaderRow: row.Number}, nil
		}
		// A title such as "Items of Work" looks like a header; keep looking.
		if best == nil || len(missing) < bestMissing {
			best, bestMissing = &Result{Columns: cm, HeaderRow: row.Number}, len(missing)
		}
	}

	if best != nil {
		return *best, pkgerrors.NewColumnIdentificationError(opts.ScanRows, best.Columns.Missing()...)
	}
	return Result{Columns: types.NewColumnMap()},
		pkgerrors.NewColumnIdentificationError(opts.ScanRows, types.NewColumnMap().Missing()...)
}

func isHeaderRow(cells []string) bool {
	for _, c := range cells {
		n := textnorm.Normalize(c)
		if n == "" {
			continue
		}
		if itemExactTokens[n] || strings.HasPrefix(n, "item") {
			return true
		}
	}
	return false
}

// mapColumns assigns each cell to at most one field; the first cell to
// match a field wins it. Within a cell, description and the fuzzy price
// fields are tried before unit and item so that headers such as
// "Item Description" or "Unit Rate" land on the right field.
func mapColumns(cells []string, minSim float64) types.ColumnMap {
	cm := types.NewColumnMap()
	for idx, c := range cells {
		n := textnorm.Normalize(c)
		if n == "" {
			continue
		}
		switch {
		case cm.Description < 0 && containsAny(n, descContains):
			cm.Description = idx
		case cm.Rate < 0 && similarToAny(n, rateSynonyms, minSim):
			cm.Rate = idx
		case cm.Amount < 0 && similarToAny(n, amountSynonyms, minSim):
			cm.Amount = idx
		case cm.Qty < 0 && containsAny(n, qtyContains):
			cm.Qty = idx
		case cm.Unit < 0 && containsAny(n, unitContains):
			cm.Unit = idx
		case cm.Item < 0 && (itemExactTokens[n] || containsAny(n, itemContains)):
			cm.Item = idx
		}
	}
	return cm
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func similarToAny(s string, synonyms []string, minSim float64) bool {
	for _, syn := range synonyms {
		if textnorm.Similarity(s, syn) > minSim {
			return true
		}
	}
	return false
}
