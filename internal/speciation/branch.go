package speciation

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/talgya/evo-world/internal/alloc"
	"github.com/talgya/evo-world/internal/species"
	"github.com/talgya/evo-world/internal/traits"
	"github.com/talgya/evo-world/internal/world"
)

// ErrNoBranch is returned when a decision cannot be executed.
var ErrNoBranch = errors.New("branch not executable")

// Founder share bounds for the child, as a fraction of the pre-split
// population.
const (
	MinChildShare = 0.20
	MaxChildShare = 0.40
)

// FounderSplit divides pop into parent and child counts. The parent keeps
// parentShare (rounded) with the child clamped to [20%, 40%] of pop. The two
// always sum to pop. ok is false when pop is too small to split.
func FounderSplit(pop int64, parentShare float64) (parent, child int64, ok bool) {
	lo := int64(math.Ceil(MinChildShare * float64(pop)))
	hi := int64(math.Floor(MaxChildShare * float64(pop)))
	if pop <= 0 || lo > hi || hi <= 0 {
		return pop, 0, false
	}
	child = pop - int64(math.Round(float64(pop)*parentShare))
	child = max(lo, min(hi, child))
	return pop - child, child, true
}

// Thresholds are minimum trait values a child must satisfy.
type Thresholds map[traits.Slot]float64

// Keep returns the set of slots the thresholds protect.
func (t Thresholds) Keep() map[traits.Slot]bool {
	out := make(map[traits.Slot]bool, len(t))
	for s := range t {
		out[s] = true
	}
	return out
}

// Named returns the thresholds keyed by trait name.
func (t Thresholds) Named() map[string]float64 {
	out := make(map[string]float64, len(t))
	for s, v := range t {
		out[s.String()] = v
	}
	return out
}

// Constraints computes the mandatory trait minimums a region imposes.
func (e *Engine) Constraints(env *world.Tile) Thresholds {
	th := make(Thresholds)
	if env == nil {
		return th
	}
	if env.Temperature > 0.7 && env.Humidity > 0.7 {
		th[traits.HeatTolerance] = e.cfg.SynergyHeatMin
	}
	if env.IsWater() && env.Depth > 0.6 {
		th[traits.PressureTolerance] = e.cfg.DeepPressureMin
		th[traits.Locomotion] = e.cfg.DeepLocomotionMin
	}
	if env.Humidity < 0.3 && env.Temperature > 0.6 {
		th[traits.DroughtTolerance] = e.cfg.AridDroughtMin
	}
	if env.Temperature < 0.25 {
		th[traits.ColdTolerance] = e.cfg.ColdToleranceMin
	}
	return th
}

// Satisfies reports whether v meets every threshold.
func (t Thresholds) Satisfies(v traits.Vector) bool {
	for s, lo := range t {
		if v.Get(s) < lo-1e-9 {
			return false
		}
	}
	return true
}

// RuleChild derives child traits from the parent and the diverging region
// alone: a partial step toward the region's target.
func (e *Engine) RuleChild(parent *species.Species, region Region) traits.Vector {
	v := parent.Traits.Clone()
	for i := range v.Core {
		v.Core[i] += (region.Target.Core[i] - v.Core[i]) * e.cfg.ChildStepScale
	}
	return v
}

// Fit returns thresholds that fit under sumCap for a vector shaped like v.
// When the minimums alone, with every other trait at MinValue, would exceed
// the cap, each minimum's excess over MinValue is scaled down by the same
// factor.
func (t Thresholds) Fit(v traits.Vector, sumCap float64) Thresholds {
	slots := float64(int(traits.NumSlots) + len(v.Ext))
	var raised float64
	for _, s := range t.slots() {
		raised += math.Max(0, t[s]-traits.MinValue)
	}
	floor := slots*traits.MinValue + raised
	if floor <= sumCap || raised == 0 {
		return t
	}
	f := math.Max(0, sumCap-slots*traits.MinValue) / raised
	out := make(Thresholds, len(t))
	for s, lo := range t {
		out[s] = traits.MinValue + math.Max(0, lo-traits.MinValue)*f
	}
	slog.Warn("trait minimums exceed sum cap, scaled down", "cap", sumCap, "floor", floor, "factor", f)
	return out
}

// slots returns the protected slots in index order.
func (t Thresholds) slots() []traits.Slot {
	out := make([]traits.Slot, 0, len(t))
	for s := range t {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

func (t Thresholds) raise(v *traits.Vector) {
	for s, lo := range t {
		if v.Get(s) < lo {
			v.Set(s, lo)
		}
	}
}

// FinalizeChild forces v to satisfy the thresholds, the specialization rule,
// the trait bounds, and the trophic sum cap. Threshold slots are never
// reduced below their minimum; minimums that cannot fit the cap are first
// scaled with Fit.
func (e *Engine) FinalizeChild(v traits.Vector, th Thresholds, sumCap float64) traits.Vector {
	th = th.Fit(v, sumCap)
	out := v.Clone()
	out.Clamp()
	th.raise(&out)
	out.EnforceSpecialization(e.traits.SpecializationCap, e.traits.MaxSpecialized)
	th.raise(&out)
	if out.FitSum(sumCap, th.Keep()) {
		return out
	}

	// Free slots are exhausted; take the rest from protected slots down to
	// their minimums.
	for i := range out.Core {
		if _, ok := th[traits.Slot(i)]; !ok {
			out.Core[i] = traits.MinValue
		}
	}
	for k := range out.Ext {
		out.Ext[k] = traits.MinValue
	}
	excess := out.Sum() - sumCap
	var reducible float64
	for _, s := range th.slots() {
		reducible += out.Get(s) - th[s]
	}
	if excess > 0 && reducible > 0 {
		f := math.Min(1, excess/reducible)
		for s, lo := range th {
			x := out.Get(s)
			out.Set(s, x-(x-lo)*f)
		}
	}
	return out
}

// ChildSpec is everything needed to create a child lineage.
type ChildSpec struct {
	Traits      traits.Vector
	Name        string
	Description string
	Source      string // "adviser" or "rule"
}

// Branch records an executed split.
type Branch struct {
	Parent       species.Code   `json:"parent"`
	Child        species.Code   `json:"child"`
	ParentBefore int64          `json:"parent_before"`
	ParentAfter  int64          `json:"parent_after"`
	ChildAfter   int64          `json:"child_after"`
	Tiles        []world.TileID `json:"tiles"`
	Isolated     bool           `json:"isolated"`
	Source       string         `json:"source"`
}

// Execute performs the founder split for a branching decision and adds the
// child to tbl as a subspecies. The child's population is placed on the
// diverging region's tiles; it is taken from the parent's population there
// first and from the rest of its range after.
func (e *Engine) Execute(tbl *species.Table, parent *species.Species, d Decision, spec ChildSpec, turn int) (*species.Species, Branch, error) {
	region, ok := d.Diverging()
	if !ok || !d.Branch {
		return nil, Branch{}, fmt.Errorf("execute %s: %w", parent.Code, ErrNoBranch)
	}
	before := parent.RecountPopulation()
	_, childPop, ok := FounderSplit(before, d.ParentShare)
	if !ok {
		return nil, Branch{}, fmt.Errorf("execute %s: population %d: %w", parent.Code, before, ErrNoBranch)
	}

	// Take founders from the parent.
	inRegion := make(map[world.TileID]bool, len(region.Tiles))
	for _, id := range region.Tiles {
		inRegion[id] = true
	}
	var near, far []world.TileID
	for _, id := range parent.Tiles() {
		if inRegion[id] {
			near = append(near, id)
		} else {
			far = append(far, id)
		}
	}
	remaining := childPop
	for _, group := range [][]world.TileID{near, far} {
		if remaining == 0 {
			break
		}
		counts := make([]int64, len(group))
		for i, id := range group {
			counts[i] = parent.Distribution[id]
		}
		taken := alloc.Take(remaining, counts)
		for i, id := range group {
			parent.Distribution[id] -= taken[i]
			remaining -= taken[i]
		}
	}

	// Place founders on the region in proportion to where the parent was.
	weights := make([]float64, len(region.Tiles))
	for i := range region.Tiles {
		weights[i] = float64(region.Counts[i])
	}
	placed := alloc.Apportion(childPop, weights)

	child := &species.Species{
		Code:         tbl.NextChildCode(parent),
		Name:         spec.Name,
		Description:  spec.Description,
		Traits:       spec.Traits,
		Profile:      parent.Profile,
		SizeClass:    parent.SizeClass,
		TrophicLevel: parent.TrophicLevel,
		Distribution: make(map[world.TileID]int64, len(region.Tiles)),
		Tier:         species.TierBackground,
		Status:       species.StatusAlive,
		Generation:   parent.Generation + 1,
		ParentCode:   parent.Code,
		CreatedTurn:  turn,

		CooldownUntil: turn + e.cfg.CooldownTurns,
		LastTrack:     species.TrackAdapt,
		Subspecies:    true,
		PromoteAtTurn: turn + e.cfg.SubspeciesTurns,
	}
	child.Profile.PreyLevels = append([]float64(nil), parent.Profile.PreyLevels...)
	child.Profile.Keywords = append([]string(nil), parent.Profile.Keywords...)
	if child.Name == "" {
		child.Name = parent.Name + " " + string(child.Code)
	}
	for i, id := range region.Tiles {
		if placed[i] > 0 {
			child.Distribution[id] = placed[i]
		}
	}
	child.RecountPopulation()
	if err := tbl.Add(child); err != nil {
		return nil, Branch{}, fmt.Errorf("execute %s: %w", parent.Code, err)
	}

	parent.RecountPopulation()
	parent.CooldownUntil = turn + e.cfg.CooldownTurns
	parent.LagUntil = turn + e.cfg.LagTurns
	parent.LagPenalty = d.LagPenalty
	parent.IsolationTurns = 0

	tiles := append([]world.TileID(nil), region.Tiles...)
	b := Branch{
		Parent:       parent.Code,
		Child:        child.Code,
		ParentBefore: before,
		ParentAfter:  parent.Population,
		ChildAfter:   child.Population,
		Tiles:        tiles,
		Isolated:     d.Isolated,
		Source:       spec.Source,
	}
	slog.Info("lineage branched",
		"parent", b.Parent,
		"child", b.Child,
		"parent_after", b.ParentAfter,
		"child_after", b.ChildAfter,
		"source", b.Source,
	)
	return child, b, nil
}
