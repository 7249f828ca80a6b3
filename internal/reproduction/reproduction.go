// Package reproduction computes per-turn growth multipliers and carrying
// capacity, and applies births.
package reproduction

import (
	"log/slog"
	"math"

	"github.com/talgya/evo-world/internal/config"
	"github.com/talgya/evo-world/internal/species"
	"github.com/talgya/evo-world/internal/traits"
	"github.com/talgya/evo-world/internal/trophic"
	"github.com/talgya/evo-world/internal/world"
)

// Biomass divisor per size class for carrying capacity.
var sizeDivisor = [...]float64{
	species.SizeMicro:  1e-3,
	species.SizeTiny:   1e-2,
	species.SizeSmall:  0.1,
	species.SizeMedium: 1,
	species.SizeLarge:  10,
	species.SizeHuge:   50,
}

// Engine computes growth.
type Engine struct {
	cfg     config.ReproductionConfig
	trophic *trophic.Classifier
}

// NewEngine creates a reproduction engine.
func NewEngine(cfg config.ReproductionConfig, tc *trophic.Classifier) *Engine {
	return &Engine{cfg: cfg, trophic: tc}
}

// CarryingCapacity is the population a tile can support for a species.
// Productive tiles support more; each trophic step up loses the transfer
// efficiency, and bigger bodies need more per head.
func (e *Engine) CarryingCapacity(sp *species.Species, t *world.Tile) float64 {
	res := math.Max(0.05, t.Resource)
	transfer := math.Pow(e.trophic.TransferEfficiency(), math.Max(0, sp.TrophicLevel-1))
	div := sizeDivisor[min(int(sp.SizeClass), len(sizeDivisor)-1)]
	return math.Max(1, res*e.cfg.CapacityPerResource*transfer/div)
}

func (e *Engine) sizeBonus(c species.SizeClass) float64 {
	switch c {
	case species.SizeMicro:
		return e.cfg.MicroBonus
	case species.SizeTiny:
		return e.cfg.TinyBonus
	case species.SizeSmall:
		return e.cfg.SmallBonus
	}
	return 1
}

func (e *Engine) generationBonus(days float64) float64 {
	switch {
	case days <= 0:
		return 1
	case days <= 7:
		return e.cfg.WeeklyBonus
	case days <= 30:
		return e.cfg.MonthlyBonus
	case days <= 180:
		return e.cfg.HalfYearBonus
	}
	return 1
}

// InstinctBonus is the survival-instinct boost at a given density ratio
// (population / carrying capacity). It grows linearly from zero at the
// threshold to the maximum at zero population.
func (e *Engine) InstinctBonus(ratio float64) float64 {
	th := e.cfg.InstinctThreshold
	if th <= 0 || ratio >= th {
		return 0
	}
	return e.cfg.InstinctMaxBonus * (1 - math.Max(0, ratio)/th)
}

// Multiplier is the growth multiplier for sp at the given density ratio,
// clamped to [MinMultiplier, MaxMultiplier].
func (e *Engine) Multiplier(sp *species.Species, ratio float64) float64 {
	base := 1 + sp.Traits.Get(traits.ReproductiveSpeed)/traits.MaxValue*e.cfg.BaseScale
	g := base*e.sizeBonus(sp.SizeClass)*e.generationBonus(sp.Profile.GenerationDays) - 1
	g *= e.trophic.BirthEfficiency(sp.TrophicLevel)
	g *= 1 + e.InstinctBonus(ratio)
	g *= 1 - ratio
	return math.Max(e.cfg.MinMultiplier, math.Min(e.cfg.MaxMultiplier, 1+g))
}

// Cell is the outcome for one occupancy.
type Cell struct {
	Species    species.Code `json:"species"`
	Tile       world.TileID `json:"tile"`
	Before     int64        `json:"before"`
	After      int64        `json:"after"`
	Multiplier float64      `json:"multiplier"`
}

// SpeciesResult summarizes one species.
type SpeciesResult struct {
	Code   species.Code `json:"code"`
	Before int64        `json:"before"`
	After  int64        `json:"after"`
	Growth float64      `json:"growth"` // After / Before
}

// Result is the outcome of a reproduction pass.
type Result struct {
	Cells   []Cell
	Species []SpeciesResult

	index map[cellKey]int
}

type cellKey struct {
	code species.Code
	tile world.TileID
}

// Local returns the growth multiplier for a species on a tile.
func (r *Result) Local(code species.Code, tile world.TileID) (Cell, bool) {
	i, ok := r.index[cellKey{code, tile}]
	if !ok {
		return Cell{}, false
	}
	return r.Cells[i], true
}

// maxTilePopulation bounds a single cell so products stay exact in float64.
const maxTilePopulation = 1 << 50

// Run applies growth to every living species in place.
func (e *Engine) Run(living []*species.Species, m *world.Map) *Result {
	res := &Result{index: make(map[cellKey]int)}
	for _, sp := range living {
		if !sp.Alive() {
			continue
		}
		before := sp.Population
		for _, id := range sp.Tiles() {
			t := m.Tile(id)
			if t == nil {
				continue
			}
			n := sp.Distribution[id]
			ratio := float64(n) / e.CarryingCapacity(sp, t)
			mult := e.Multiplier(sp, ratio)
			next := min(int64(math.Round(float64(n)*mult)), maxTilePopulation)
			sp.Distribution[id] = next
			res.index[cellKey{sp.Code, id}] = len(res.Cells)
			res.Cells = append(res.Cells, Cell{Species: sp.Code, Tile: id, Before: n, After: next, Multiplier: mult})
		}
		after := sp.RecountPopulation()
		sr := SpeciesResult{Code: sp.Code, Before: before, After: after}
		if before > 0 {
			sr.Growth = float64(after) / float64(before)
		}
		res.Species = append(res.Species, sr)
	}
	slog.Debug("reproduction applied", "cells", len(res.Cells))
	return res
}
