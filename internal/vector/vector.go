// Package vector scores a target line against a draft row using a small
// numeric feature vector plus description similarity. It backs the
// best-match tier of the matcher.
package vector

import (
	"math"
	"strconv"
	"strings"

	"github.com/ginjaninja78/boq-rate-filler/internal/textnorm"
	"github.com/ginjaninja78/boq-rate-filler/internal/types"
)

// Unit buckets.
const (
	UnitUnknown = iota
	UnitLength
	UnitArea
	UnitVolume
	UnitCount
)

const unitBuckets = UnitCount

// Params holds the weights and thresholds of the score.
type Params struct {
	ItemWeight        float64
	DescriptionWeight float64
	UnitWeight        float64
	QtyWeight         float64

	// QtyDiffThreshold is the relative quantity difference above which the
	// penalty is amplified by QtyPenaltyFactor and capped at QtyPenaltyCap.
	QtyDiffThreshold float64
	QtyPenaltyFactor float64
	QtyPenaltyCap    float64

	// QtyScale is the quantity that maps to 1.0 in the feature vector.
	QtyScale float64

	Strong Band
	Medium Band
	Weak   Band
}

// Band is one acceptance level: a description similarity floor and a score
// ceiling that must both hold.
type Band struct {
	MinSimilarity float64
	MaxScore      float64
}

// DefaultParams returns the standard weights and bands.
func DefaultParams() Params {
	return Params{
		ItemWeight:        0.40,
		DescriptionWeight: 0.35,
		UnitWeight:        0.10,
		QtyWeight:         0.15,
		QtyDiffThreshold:  0.20,
		QtyPenaltyFactor:  2.0,
		QtyPenaltyCap:     2.0,
		QtyScale:          1000,
		Strong:            Band{MinSimilarity: 0.90, MaxScore: 0.30},
		Medium:            Band{MinSimilarity: 0.80, MaxScore: 0.45},
		Weak:              Band{MinSimilarity: 0.70, MaxScore: 0.60},
	}
}

// Vector is [itemLevel1, itemLevel2, unitCode, qty], each in [0, 1].
type Vector [4]float64

// Candidate is the comparable view of a target line or a draft row.
type Candidate struct {
	Item        string
	Description string
	Unit        string
	Qty         *float64
}

// FromTarget adapts a target line.
func FromTarget(l types.TargetLine) Candidate {
	return Candidate{Item: l.Item, Description: l.Description, Unit: l.Unit, Qty: l.Qty}
}

// FromSource adapts a draft row.
func FromSource(r *types.SourceRow) Candidate {
	return Candidate{Item: r.Item, Description: r.Description, Unit: r.Unit, Qty: r.Qty}
}

// Breakdown is a score with its components.
type Breakdown struct {
	Score          float64
	ItemDistance   float64
	DescSimilarity float64
	UnitPenalty    float64
	QtyPenalty     float64
}

// ItemLevels splits an item number into two normalized levels. A third
// segment is folded into the second as level2*100+level3. ok is false when
// the first segment is not numeric.
func ItemLevels(item string) (l1, l2 float64, ok bool) {
	segs := strings.Split(textnorm.Normalize(item), ".")
	if len(segs) == 0 || segs[0] == "" {
		return 0, 0, false
	}
	first, err := strconv.Atoi(segs[0])
	if err != nil {
		return 0, 0, false
	}
	l1 = clamp(float64(first) / 100)

	if len(segs) >= 2 {
		second, err := strconv.Atoi(segs[1])
		if err != nil {
			return l1, 0, true
		}
		if len(segs) >= 3 {
			if third, err := strconv.Atoi(segs[2]); err == nil {
				l2 = clamp(float64(second*100+third) / 10000)
				return l1, l2, true
			}
		}
		l2 = clamp(float64(second) / 100)
	}
	return l1, l2, true
}

// UnitCode maps a unit of measure to its bucket.
func UnitCode(unit string) int {
	u := strings.TrimSuffix(textnorm.Normalize(unit), ".")
	switch u {
	case "":
		return UnitUnknown
	case "m", "lm", "km", "cm", "mm", "rm", "lin.m", "linm", "ft", "米", "延米":
		return UnitLength
	case "m2", "m²", "sqm", "sq.m", "sm", "ft2", "sqft", "平方米", "㎡":
		return UnitArea
	case "m3", "m³", "cum", "cu.m", "ft3", "立方米", "㎥":
		return UnitVolume
	case "no", "nr", "nos", "pcs", "pc", "ea", "each", "set", "sets", "item", "ls", "lot", "sum", "个", "套", "项", "台":
		return UnitCount
	}
	return UnitUnknown
}

// Features builds the feature vector of a candidate.
func Features(c Candidate, p Params) Vector {
	l1, l2, _ := ItemLevels(c.Item)
	var qty float64
	if c.Qty != nil && p.QtyScale > 0 {
		qty = clamp(*c.Qty / p.QtyScale)
	}
	return Vector{l1, l2, float64(UnitCode(c.Unit)) / unitBuckets, qty}
}

// Score compares a target with a source; lower is better.
func Score(target, source Candidate, p Params) Breakdown {
	tv := Features(target, p)
	sv := Features(source, p)

	b := Breakdown{
		ItemDistance:   math.Hypot(tv[0]-sv[0], tv[1]-sv[1]),
		DescSimilarity: textnorm.Similarity(textnorm.Normalize(target.Description), textnorm.Normalize(source.Description)),
		UnitPenalty:    unitPenalty(target.Unit, source.Unit),
		QtyPenalty:     qtyPenalty(target.Qty, source.Qty, p),
	}
	b.Score = p.ItemWeight*b.ItemDistance +
		p.DescriptionWeight*(1-b.DescSimilarity) +
		p.UnitWeight*b.UnitPenalty +
		p.QtyWeight*b.QtyPenalty
	return b
}

// Classify maps a breakdown to a match kind, strongest band first.
func Classify(b Breakdown, p Params) types.MatchKind {
	switch {
	case b.DescSimilarity >= p.Strong.MinSimilarity && b.Score <= p.Strong.MaxScore:
		return types.MatchVectorStrong
	case b.DescSimilarity >= p.Medium.MinSimilarity && b.Score <= p.Medium.MaxScore:
		return types.MatchVectorMedium
	case b.DescSimilarity >= p.Weak.MinSimilarity && b.Score <= p.Weak.MaxScore:
		return types.MatchVectorWeak
	}
	return types.MatchNone
}

func unitPenalty(a, b string) float64 {
	if UnitCode(a) == UnitCode(b) {
		return 0
	}
	return 1
}

// qtyPenalty is the relative quantity difference, amplified past the
// threshold. A missing quantity on one side counts as half a penalty.
func qtyPenalty(a, b *float64, p Params) float64 {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil || b == nil:
		return 0.5
	}
	den := math.Max(math.Abs(*a), math.Abs(*b))
	if den == 0 {
		return 0
	}
	rel := math.Abs(*a-*b) / den
	if rel > p.QtyDiffThreshold {
		return math.Min(rel*p.QtyPenaltyFactor, p.QtyPenaltyCap)
	}
	return rel
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
