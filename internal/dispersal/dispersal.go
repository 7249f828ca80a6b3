// Package dispersal moves population between tiles under pressure-,
// saturation-, and overflow-driven migration.
package dispersal

import (
	"log/slog"
	"math"
	"sort"

	"github.com/talgya/evo-world/internal/alloc"
	"github.com/talgya/evo-world/internal/config"
	"github.com/talgya/evo-world/internal/habitat"
	"github.com/talgya/evo-world/internal/mortality"
	"github.com/talgya/evo-world/internal/reproduction"
	"github.com/talgya/evo-world/internal/species"
	"github.com/talgya/evo-world/internal/world"
)

// Trigger names.
const (
	TriggerPressure   = "pressure"
	TriggerSaturation = "saturation"
	TriggerOverflow   = "overflow"
)

// MortalityView exposes local mortality and resource pressure.
type MortalityView interface {
	Local(code species.Code, tile world.TileID) (mortality.Cell, bool)
}

// GrowthView exposes local growth multipliers.
type GrowthView interface {
	Local(code species.Code, tile world.TileID) (reproduction.Cell, bool)
}

// Input is everything one dispersal pass reads.
type Input struct {
	Living    []*species.Species
	Map       *world.Map
	Mortality MortalityView
	Growth    GrowthView
}

// Migration is one source tile's emigration for a species.
type Migration struct {
	Code     species.Code           `json:"code"`
	From     world.TileID           `json:"from"`
	To       map[world.TileID]int64 `json:"to"`
	Moved    int64                  `json:"moved"`
	Triggers []string               `json:"triggers"`
}

// Result is the outcome of a dispersal pass.
type Result struct {
	Migrations []Migration
	Moved      int64
}

// Engine runs dispersal.
type Engine struct {
	cfg config.DispersalConfig
}

// NewEngine creates a dispersal engine.
func NewEngine(cfg config.DispersalConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Triggers returns which migration conditions hold for a cell and the
// emigrant fraction before damping.
func (e *Engine) Triggers(localMortality, resourcePressure, growth float64) ([]string, float64) {
	var names []string
	var frac float64
	if localMortality > e.cfg.PressureMortality {
		names = append(names, TriggerPressure)
		frac = math.Max(frac, e.cfg.PressureFraction)
	}
	if resourcePressure > e.cfg.SaturationPressure {
		names = append(names, TriggerSaturation)
		frac = math.Max(frac, e.cfg.SaturationFraction)
	}
	if growth > e.cfg.OverflowGrowth && resourcePressure > e.cfg.OverflowPressure {
		names = append(names, TriggerOverflow)
		frac = math.Max(frac, e.cfg.OverflowFraction)
	}
	return names, frac
}

// Damping is the dispersal factor for a trophic level. Large predators
// disperse more conservatively.
func (e *Engine) Damping(level float64) float64 {
	switch {
	case level >= 4:
		return e.cfg.HighTrophicDamping
	case level >= 3:
		return e.cfg.MidTrophicDamping
	}
	return 1
}

type destination struct {
	id    world.TileID
	score float64
}

// Destinations returns up to K habitable tiles within mobility range of src
// whose suitability meets the cutoff, best first.
func (e *Engine) Destinations(sp *species.Species, m *world.Map, src world.TileID) []world.TileID {
	ds := e.destinations(sp, m, src, nil)
	out := make([]world.TileID, len(ds))
	for i, d := range ds {
		out[i] = d.id
	}
	return out
}

func (e *Engine) destinations(sp *species.Species, m *world.Map, src world.TileID, cache map[world.TileID]float64) []destination {
	mob := e.cfg.MobilityFor(sp.Profile.Habitat.MobilityClass())
	var ds []destination
	for _, id := range m.Within(src, mob.Range) {
		s, ok := cache[id]
		if !ok {
			s = habitat.Suitability(sp, m, id)
			if cache != nil {
				cache[id] = s
			}
		}
		if s > 0 && s >= e.cfg.MinSuitability {
			ds = append(ds, destination{id, s})
		}
	}
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].score != ds[j].score {
			return ds[i].score > ds[j].score
		}
		return ds[i].id < ds[j].id
	})
	if len(ds) > mob.TopK {
		ds = ds[:mob.TopK]
	}
	return ds
}

// Run computes migrations from each species' distribution at the start of
// the pass and applies them in place. Individuals that move this turn do
// not move again. Population is conserved exactly.
func (e *Engine) Run(in Input) *Result {
	res := &Result{}
	for _, sp := range in.Living {
		if !sp.Alive() {
			continue
		}
		damping := e.Damping(sp.TrophicLevel)
		cache := make(map[world.TileID]float64)

		var moves []Migration
		for _, src := range sp.Tiles() {
			n := sp.Distribution[src]
			var mort, rp, growth float64
			if c, ok := in.Mortality.Local(sp.Code, src); ok {
				mort, rp = c.Mortality, c.ResourcePressure
			}
			if c, ok := in.Growth.Local(sp.Code, src); ok {
				growth = c.Multiplier
			}
			triggers, frac := e.Triggers(mort, rp, growth)
			if len(triggers) == 0 {
				continue
			}
			emigrants := int64(math.Floor(float64(n)*frac*damping + 1e-9))
			if emigrants <= 0 {
				continue
			}
			ds := e.destinations(sp, in.Map, src, cache)
			if len(ds) == 0 {
				continue
			}
			weights := make([]float64, len(ds))
			for i, d := range ds {
				weights[i] = d.score
			}
			shares := alloc.Apportion(emigrants, weights)
			mv := Migration{Code: sp.Code, From: src, To: make(map[world.TileID]int64, len(ds)), Moved: emigrants, Triggers: triggers}
			for i, d := range ds {
				if shares[i] > 0 {
					mv.To[d.id] = shares[i]
				}
			}
			moves = append(moves, mv)
		}

		for _, mv := range moves {
			sp.Distribution[mv.From] -= mv.Moved
			for id, k := range mv.To {
				sp.Distribution[id] += k
			}
			res.Moved += mv.Moved
		}
		sp.RecountPopulation()
		res.Migrations = append(res.Migrations, moves...)
	}
	slog.Debug("dispersal applied", "migrations", len(res.Migrations), "moved", res.Moved)
	return res
}
