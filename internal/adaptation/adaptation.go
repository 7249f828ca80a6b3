// Package adaptation evolves trait vectors toward regional targets under an
// energy-conservation constraint: every step preserves the vector's L2 norm,
// so gaining magnitude in one trait costs magnitude elsewhere.
package adaptation

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/talgya/evo-world/internal/config"
	"github.com/talgya/evo-world/internal/species"
	"github.com/talgya/evo-world/internal/traits"
	"github.com/talgya/evo-world/internal/trophic"
)

// Proposal rejection reasons.
var (
	ErrMalformed = errors.New("malformed proposal")
	ErrBudget    = errors.New("proposal exceeds step budget")
	ErrNoStep    = errors.New("no admissible step")
)

// Source identifies where an applied delta came from.
type Source string

const (
	SourceRule    Source = "rule"
	SourceAdviser Source = "adviser"
)

// Outcome describes what happened to one species' traits this turn.
type Outcome struct {
	Code       species.Code `json:"code"`
	Source     Source       `json:"source"`
	Applied    bool         `json:"applied"`
	Alpha      float64      `json:"alpha"`
	NormBefore float64      `json:"norm_before"`
	NormAfter  float64      `json:"norm_after"`
	EraScaled  bool         `json:"era_scaled,omitempty"`
	Corrected  bool         `json:"corrected,omitempty"` // Invariant repaired before stepping
	Rejected   string       `json:"rejected,omitempty"`  // Why an adviser proposal was not used
}

// Engine applies adaptation steps.
type Engine struct {
	cfg      config.AdaptationConfig
	traits   config.TraitsConfig
	trophic  *trophic.Classifier
	registry *traits.Registry
}

// NewEngine creates an adaptation engine. The registry decides which
// extension traits proposals may name.
func NewEngine(cfg config.AdaptationConfig, tc config.TraitsConfig, cl *trophic.Classifier, reg *traits.Registry) *Engine {
	return &Engine{cfg: cfg, traits: tc, trophic: cl, registry: reg}
}

// Step returns (v + α·d) rescaled to ‖v‖.
func Step(v traits.Vector, d traits.Delta, alpha float64) traits.Vector {
	out := v.Apply(d.Scaled(alpha))
	out.ScaleNorm(v.Norm())
	return out
}

// RuleDelta is the local rule-computed delta toward target, limited to the
// per-turn step magnitude.
func (e *Engine) RuleDelta(v, target traits.Vector) traits.Delta {
	d := traits.DeltaBetween(v, target)
	if m := d.Magnitude(); m > e.cfg.MaxStepMagnitude && m > 0 {
		d = d.Scaled(e.cfg.MaxStepMagnitude / m)
	}
	return d
}

// EraCap returns the maximum trait norm at turn, or 0 when uncapped.
func (e *Engine) EraCap(turn int) float64 {
	return e.cfg.EraAt(turn).MaxNorm
}

// EnforceEraCap shrinks a vector above the current era's norm cap down to
// it. Traits never drop below MinValue, so the result is in bounds and at
// or under the cap.
func (e *Engine) EnforceEraCap(sp *species.Species, turn int) bool {
	limit := e.EraCap(turn)
	if limit <= 0 || sp.Traits.Norm() <= limit {
		return false
	}
	if !sp.Traits.ShrinkToNorm(limit) {
		slog.Warn("era cap below trait floor", "code", sp.Code, "turn", turn, "cap", limit)
	}
	return true
}

// CheckProposal validates an adviser delta: known trait names, finite
// values, and magnitude within the per-turn budget.
func (e *Engine) CheckProposal(d traits.Delta) error {
	if len(d) == 0 {
		return fmt.Errorf("%w: empty delta", ErrMalformed)
	}
	if err := d.Validate(e.registry); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if m := d.Magnitude(); m > e.cfg.MaxStepMagnitude+1e-9 {
		return fmt.Errorf("%w: magnitude %.3f > %.3f", ErrBudget, m, e.cfg.MaxStepMagnitude)
	}
	return nil
}

// admissible reports whether candidate satisfies bounds, the trophic sum
// cap, the specialization rule, and norm conservation against norm.
func (e *Engine) admissible(candidate traits.Vector, limit, norm float64) bool {
	if !candidate.InBounds() {
		return false
	}
	if candidate.Sum() > limit+1e-9 {
		return false
	}
	if candidate.Specialized(e.traits.SpecializationCap) > e.traits.MaxSpecialized {
		return false
	}
	return math.Abs(candidate.Norm()-norm) <= 1e-9*math.Max(1, norm)
}

// tryStep attempts the step at alpha, halving on failure.
func (e *Engine) tryStep(v traits.Vector, d traits.Delta, alpha, limit float64) (traits.Vector, float64, bool) {
	norm := v.Norm()
	for i := 0; i <= e.cfg.MaxHalvings; i++ {
		cand := Step(v, d, alpha)
		if e.admissible(cand, limit, norm) {
			return cand, alpha, true
		}
		alpha /= 2
	}
	return v, 0, false
}

// repair restores the sum limit and specialization invariants in place.
func (e *Engine) repair(sp *species.Species, limit float64) bool {
	fixed := false
	if sp.Traits.Sum() > limit+1e-9 {
		sp.Traits.FitSum(limit, nil)
		fixed = true
	}
	if sp.Traits.EnforceSpecialization(e.traits.SpecializationCap, e.traits.MaxSpecialized) > 0 {
		fixed = true
	}
	if !sp.Traits.InBounds() {
		sp.Traits.Clamp()
		fixed = true
	}
	return fixed
}

// Adapt nudges sp toward target. A non-nil proposal from the adviser is used
// when it passes validation and yields an admissible step; otherwise the
// rule delta is used. The species record is updated in place.
func (e *Engine) Adapt(sp *species.Species, target traits.Vector, proposal traits.Delta, turn int) Outcome {
	out := Outcome{Code: sp.Code, Source: SourceRule}
	out.EraScaled = e.EnforceEraCap(sp, turn)

	sumCap := e.trophic.CapFor(sp)
	if e.repair(sp, sumCap) {
		out.Corrected = true
		slog.Warn("trait invariant repaired", "code", sp.Code, "sum", sp.Traits.Sum(), "cap", sumCap)
	}
	v := sp.Traits
	out.NormBefore = v.Norm()

	if proposal != nil {
		err := e.CheckProposal(proposal)
		if err == nil {
			d := traits.ClampDeltaToCap(v, proposal, sumCap)
			if next, alpha, ok := e.tryStep(v, d, 1, sumCap); ok {
				sp.Traits = next
				out.Source, out.Applied, out.Alpha = SourceAdviser, true, alpha
				out.NormAfter = next.Norm()
				return out
			}
			err = ErrNoStep
		}
		out.Rejected = err.Error()
		slog.Debug("adviser proposal rejected", "code", sp.Code, "err", err)
	}

	d := e.RuleDelta(v, target)
	next, alpha, ok := e.tryStep(v, d, e.cfg.Alpha, sumCap)
	sp.Traits = next
	out.Applied, out.Alpha = ok, alpha
	out.NormAfter = next.Norm()
	return out
}
