// =============================================================================
// BOQ Rate Filler - Reconciliation Engine
// =============================================================================
//
// This module pairs each target line with at most one draft row. Tiers are
// tried in a fixed order and the first hit wins:
//
//   | Tier | Lookup                                   | Tie-break                    |
//   |------|------------------------------------------|------------------------------|
//   | 1    | normalized "item|description" key       | none (keys are unique)       |
//   | 2    | numeric-folded item key                  | equal normalized description |
//   | 3    | normalized description                   | equal item key               |
//   | 4    | weighted vector score over all rows      | lowest score, then first row |
//
// MODES:
//   indexed    - tiers 1 to 3
//   fallback   - tiers 1 to 3, then tier 4 for lines that missed
//   best-match - tier 4 only; no index is built
//
// The engine is built per run from its own DraftSet and is not shared
// between goroutines.
//
// =============================================================================

package matcher

import (
	"fmt"

	"github.com/ginjaninja78/boq-rate-filler/internal/textnorm"
	"github.com/ginjaninja78/boq-rate-filler/internal/types"
	"github.com/ginjaninja78/boq-rate-filler/internal/vector"
	"github.com/rs/zerolog"
)

// Mode selects which tiers run.
type Mode string

const (
	ModeIndexed   Mode = "indexed"
	ModeFallback  Mode = "fallback"
	ModeBestMatch Mode = "best-match"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeIndexed, ModeFallback, ModeBestMatch:
		return m, nil
	case "":
		return ModeIndexed, nil
	}
	return "", fmt.Errorf("unknown matching mode %q", s)
}

// Policy carries the engine's mode and scoring parameters.
type Policy struct {
	Mode   Mode
	Vector vector.Params
}

// DefaultPolicy runs the indexed tiers with standard vector parameters.
func DefaultPolicy() Policy {
	return Policy{Mode: ModeIndexed, Vector: vector.DefaultParams()}
}

// =============================================================================
// INDEX
// =============================================================================

// Index holds the lookup tables of tiers 1 to 3.
type Index struct {
	byKey  map[string]*types.SourceRow
	byItem map[string][]*types.SourceRow
	byDesc map[string][]*types.SourceRow
}

// NewIndex builds the lookup tables from a draft set. Candidate lists keep
// draft order.
func NewIndex(draft *types.DraftSet) *Index {
	idx := &Index{
		byKey:  make(map[string]*types.SourceRow, draft.Len()),
		byItem: make(map[string][]*types.SourceRow),
		byDesc: make(map[string][]*types.SourceRow),
	}
	for _, key := range draft.Keys {
		row := draft.Rows[key]
		idx.byKey[key] = row
		if ik := textnorm.ItemKey(row.Item); ik != "" {
			idx.byItem[ik] = append(idx.byItem[ik], row)
		}
		if dk := textnorm.Normalize(row.Description); dk != "" {
			idx.byDesc[dk] = append(idx.byDesc[dk], row)
		}
	}
	return idx
}

// Exact looks up tier 1.
func (idx *Index) Exact(item, description string) *types.SourceRow {
	return idx.byKey[textnorm.CompositeKey(item, description)]
}

// ByItem looks up tier 2, preferring a candidate with the same description.
func (idx *Index) ByItem(item, description string) *types.SourceRow {
	cands := idx.byItem[textnorm.ItemKey(item)]
	if len(cands) == 0 {
		return nil
	}
	want := textnorm.Normalize(description)
	for _, c := range cands {
		if textnorm.Normalize(c.Description) == want {
			return c
		}
	}
	return cands[0]
}

// ByDescription looks up tier 3, preferring a candidate with the same item key.
func (idx *Index) ByDescription(item, description string) *types.SourceRow {
	dk := textnorm.Normalize(description)
	if dk == "" {
		return nil
	}
	cands := idx.byDesc[dk]
	if len(cands) == 0 {
		return nil
	}
	want := textnorm.ItemKey(item)
	if want != "" {
		for _, c := range cands {
			if textnorm.ItemKey(c.Item) == want {
				return c
			}
		}
	}
	return cands[0]
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine reconciles target lines against one draft set.
type Engine struct {
	policy Policy
	index  *Index
	rows   []*types.SourceRow
	logger zerolog.Logger
}

// NewEngine prepares an engine. In best-match mode no index is built.
func NewEngine(draft *types.DraftSet, policy Policy, logger zerolog.Logger) *Engine {
	if policy.Mode == "" {
		policy.Mode = ModeIndexed
	}
	e := &Engine{policy: policy, rows: draft.Ordered(), logger: logger}
	if policy.Mode != ModeBestMatch {
		e.index = NewIndex(draft)
	}
	return e
}

// Match reconciles every line, preserving order.
func (e *Engine) Match(lines []types.TargetLine) []types.MatchOutcome {
	out := make([]types.MatchOutcome, len(lines))
	for i, l := range lines {
		out[i] = e.MatchLine(l)
	}
	return out
}

// MatchLine reconciles one line. A miss returns Matched=false; it is never
// an error.
func (e *Engine) MatchLine(line types.TargetLine) types.MatchOutcome {
	if e.index != nil {
		if src := e.index.Exact(line.Item, line.Description); src != nil {
			return e.hit(line, src, types.MatchExact, 0)
		}
		if src := e.index.ByItem(line.Item, line.Description); src != nil {
			return e.hit(line, src, types.MatchItem, 0)
		}
		if src := e.index.ByDescription(line.Item, line.Description); src != nil {
			return e.hit(line, src, types.MatchDescription, 0)
		}
	}

	if e.policy.Mode == ModeFallback || e.policy.Mode == ModeBestMatch {
		if src, b, kind := e.bestVector(line); src != nil {
			return e.hit(line, src, kind, b.Score)
		}
	}

	e.logger.Debug().Int("row", line.RowNumber).Str("item", line.Item).Msg("no draft row matched")
	return types.MatchOutcome{Target: line, Kind: types.MatchNone}
}

// bestVector scans every draft row and keeps the lowest score. Ties keep
// the earlier row. The winner must still fall inside an acceptance band.
func (e *Engine) bestVector(line types.TargetLine) (*types.SourceRow, vector.Breakdown, types.MatchKind) {
	target := vector.FromTarget(line)
	var (
		best      *types.SourceRow
		bestScore vector.Breakdown
	)
	for _, row := range e.rows {
		b := vector.Score(target, vector.FromSource(row), e.policy.Vector)
		if best == nil || b.Score < bestScore.Score {
			best, bestScore = row, b
		}
	}
	if best == nil {
		return nil, vector.Breakdown{}, types.MatchNone
	}
	kind := vector.Classify(bestScore, e.policy.Vector)
	if kind == types.MatchNone {
		return nil, bestScore, kind
	}
	return best, bestScore, kind
}

func (e *Engine) hit(line types.TargetLine, src *types.SourceRow, kind types.MatchKind, score float64) types.MatchOutcome {
	e.logger.Debug().
		Int("row", line.RowNumber).
		Str("item", line.Item).
		Str("kind", string(kind)).
		Int("draft_row", src.RowNumber).
		Msg("matched")
	return types.MatchOutcome{
		Target:  line,
		Source:  src,
		Matched: true,
		Kind:    kind,
		Score:   score,
		Rate:    copyFloat(src.Rate),
		Amount:  copyFloat(src.Amount),
		Qty:     copyFloat(src.Qty),
	}
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
