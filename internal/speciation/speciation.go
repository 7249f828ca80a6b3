// Package speciation decides, per species and turn, between in-place
// adaptation and branching into a new lineage, and executes founder-effect
// splits.
package speciation

import (
	"hash/fnv"
	"math"
	"math/rand/v2"

	"github.com/talgya/evo-world/internal/config"
	"github.com/talgya/evo-world/internal/species"
	"github.com/talgya/evo-world/internal/traits"
	"github.com/talgya/evo-world/internal/trophic"
	"github.com/talgya/evo-world/internal/world"
)

// Engine runs the per-species speciation state machine.
type Engine struct {
	cfg     config.SpeciationConfig
	traits  config.TraitsConfig
	trophic *trophic.Classifier
	seed    int64
}

// NewEngine creates a speciation engine. The seed makes branch draws
// reproducible.
func NewEngine(cfg config.SpeciationConfig, tc config.TraitsConfig, cl *trophic.Classifier, seed int64) *Engine {
	return &Engine{cfg: cfg, traits: tc, trophic: cl, seed: seed}
}

// Decision is the divergence test outcome for one species.
type Decision struct {
	Code       species.Code  `json:"code"`
	Track      species.Track `json:"track"`
	Similarity float64       `json:"similarity"`
	Regions    []Region      `json:"-"`
	Target     traits.Vector `json:"-"` // Adaptation target across all regions
	Isolated   bool          `json:"isolated"`
	Branch     bool          `json:"branch"`
	Reason     string        `json:"reason,omitempty"` // Why Track B did not branch

	// Drawn at decision time so execution order cannot change them.
	ParentShare float64 `json:"parent_share,omitempty"`
	LagPenalty  float64 `json:"lag_penalty,omitempty"`
}

// Diverging returns the region the child lineage would occupy.
func (d Decision) Diverging() (Region, bool) {
	if len(d.Regions) < 2 {
		return Region{}, false
	}
	return d.Regions[1], true
}

// Similarity is the cosine of the two regions' target trait vectors.
func Similarity(a, b Region) float64 {
	return traits.Cosine(a.Target, b.Target)
}

// ChooseTrack maps a similarity to a track. Above the Track A threshold the
// species adapts in place; below the Track B threshold it speciates; inside
// the band it keeps its previous track, defaulting to adaptation.
func (e *Engine) ChooseTrack(similarity float64, prev species.Track) species.Track {
	switch {
	case similarity > e.cfg.TrackAThreshold:
		return species.TrackAdapt
	case similarity < e.cfg.TrackBThreshold:
		return species.TrackSpeciate
	case prev == species.TrackNone:
		return species.TrackAdapt
	}
	return prev
}

// EarlyGame reports whether turn falls in the early-game window.
func (e *Engine) EarlyGame(turn int) bool {
	return turn < e.cfg.EarlyGameTurns
}

// CapDamping scales branch probability down as the living species count
// approaches the soft cap.
func (e *Engine) CapDamping(living int) float64 {
	if e.cfg.SoftSpeciesCap <= 0 {
		return 1
	}
	r := float64(living) / float64(e.cfg.SoftSpeciesCap)
	return math.Max(0, 1-r*r)
}

// BranchThreshold is the minimum divergence (1 − similarity) required to
// branch. Missing isolation raises it; the early game lowers it.
func (e *Engine) BranchThreshold(isolated, early bool) float64 {
	th := e.cfg.BranchThreshold
	if !isolated {
		th *= e.cfg.NoIsolationMultiplier
	}
	if early {
		th *= e.cfg.EarlyThresholdDiscount
	}
	return th
}

// BranchProbability combines the base probability with the soft-cap damping
// and the isolation bonus. Each factor is applied independently.
func (e *Engine) BranchProbability(living, isolationTurns int) float64 {
	p := e.cfg.BaseProbability * e.CapDamping(living)
	p *= 1 + e.cfg.IsolationBonusPerTurn*float64(isolationTurns)
	return math.Min(1, p)
}

// rng returns the deterministic stream for one species in one turn.
func (e *Engine) rng(code species.Code, turn int) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(code))
	return rand.New(rand.NewPCG(uint64(e.seed), h.Sum64()^uint64(turn)*0x9e3779b97f4a7c15))
}

// Decide runs region identification and the divergence test for sp and
// decides whether it branches this turn. It updates sp.LastTrack and
// sp.IsolationTurns.
func (e *Engine) Decide(sp *species.Species, m *world.Map, turn, living int) Decision {
	regions := e.Regions(sp, m)
	d := Decision{
		Code:       sp.Code,
		Regions:    regions,
		Target:     OverallTarget(sp, regions),
		Similarity: 1,
	}
	if len(regions) == 0 {
		d.Track = species.TrackNone
		d.Reason = "no regions"
		return d
	}
	if len(regions) == 1 {
		d.Track = species.TrackAdapt
		sp.LastTrack = d.Track
		sp.IsolationTurns = 0
		return d
	}

	d.Similarity = Similarity(regions[0], regions[1])
	d.Track = e.ChooseTrack(d.Similarity, sp.LastTrack)
	sp.LastTrack = d.Track

	d.Isolated = !Adjacent(m, regions[0], regions[1])
	if d.Isolated {
		sp.IsolationTurns++
	} else {
		sp.IsolationTurns = 0
	}
	if d.Track != species.TrackSpeciate {
		return d
	}

	early := e.EarlyGame(turn)
	rng := e.rng(sp.Code, turn)
	roll := rng.Float64()
	d.ParentShare = e.cfg.FounderParentMin + rng.Float64()*(e.cfg.FounderParentMax-e.cfg.FounderParentMin)
	d.LagPenalty = e.cfg.LagPenaltyMin + rng.Float64()*(e.cfg.LagPenaltyMax-e.cfg.LagPenaltyMin)

	switch {
	case sp.Subspecies:
		d.Reason = "subspecies"
	case !early && turn < sp.CooldownUntil:
		d.Reason = "cooldown"
	case sp.Population < e.cfg.MinBranchPopulation:
		d.Reason = "population"
	case 1-d.Similarity < e.BranchThreshold(d.Isolated, early):
		d.Reason = "divergence"
	case roll >= e.BranchProbability(living, sp.IsolationTurns):
		d.Reason = "chance"
	default:
		d.Branch = true
	}
	return d
}
