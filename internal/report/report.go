// =============================================================================
// BOQ Rate Filler - Match Report
// =============================================================================
//
// This module exports the outcome list of one run as CSV, one line per target
// row, so a reviewer can audit which draft row priced which target row.
//
// COLUMNS:
//   row, item, description, unit, matched, kind, score, draft_row,
//   qty, rate, amount, formula, total_formula, calculated_total, draft_total
//
// Empty cells mean "not written" or "not known", never zero.
//
// =============================================================================

package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ginjaninja78/boq-rate-filler/internal/types"
	pkgerrors "github.com/ginjaninja78/boq-rate-filler/pkg/errors"
)

// Header is the first CSV record.
var Header = []string{
	"row", "item", "description", "unit", "matched", "kind", "score", "draft_row",
	"qty", "rate", "amount", "formula", "total_formula", "calculated_total", "draft_total",
}

// WriteCSV writes outcomes to w.
func WriteCSV(w io.Writer, outcomes []types.MatchOutcome) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}
	for _, o := range outcomes {
		if err := cw.Write(Record(o)); err != nil {
			return fmt.Errorf("failed to write report row %d: %w", o.Target.RowNumber, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes the report to path, creating parent directories.
func WriteFile(path string, outcomes []types.MatchOutcome) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pkgerrors.NewIOError("create directory", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return pkgerrors.NewIOError("create report", path, err)
	}
	if err := WriteCSV(f, outcomes); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return pkgerrors.NewIOError("close report", path, err)
	}
	return nil
}

// Record converts one outcome to a CSV record aligned with Header.
func Record(o types.MatchOutcome) []string {
	t := o.Target
	item := t.Item
	if t.ItemInferred {
		item += " (inferred)"
	}

	kind := string(o.Kind)
	if kind == "" {
		kind = string(types.MatchNone)
	}

	score := ""
	if o.Score != 0 {
		score = strconv.FormatFloat(o.Score, 'f', 4, 64)
	}

	draftRow := ""
	if o.Source != nil {
		draftRow = strconv.Itoa(o.Source.RowNumber)
	}

	qty := o.WrittenQty
	if qty == nil {
		qty = t.Qty
	}

	return []string{
		strconv.Itoa(t.RowNumber),
		item,
		t.Description,
		t.Unit,
		strconv.FormatBool(o.Matched),
		kind,
		score,
		draftRow,
		number(qty),
		number(o.WrittenRate),
		number(o.WrittenAmount),
		o.AmountFormula,
		o.TotalFormula,
		number(o.CalculatedTotal),
		number(o.DraftTotal),
	}
}

func number(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
