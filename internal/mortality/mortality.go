// Package mortality computes per-turn death rates from five pressure
// sources and applies them to species populations.
//
// Every (species, tile) occupancy is a cell. Pressures are built as one
// column per source over all cells, blended from an additive and a
// multiplicative model, reduced by resistance, and clamped.
package mortality

import (
	"log/slog"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/talgya/evo-world/internal/config"
	"github.com/talgya/evo-world/internal/habitat"
	"github.com/talgya/evo-world/internal/species"
	"github.com/talgya/evo-world/internal/traits"
	"github.com/talgya/evo-world/internal/trophic"
	"github.com/talgya/evo-world/internal/world"
)

// Pressure sources, in column order.
const (
	Environment = iota
	Competition
	Trophic
	Resource
	Predation

	NumPressures
)

// Pressures holds one value per source, each in [0, cap].
type Pressures [NumPressures]float64

// Capacity supplies carrying capacity per species and tile.
type Capacity interface {
	CarryingCapacity(sp *species.Species, t *world.Tile) float64
}

// Input is everything one mortality pass reads.
type Input struct {
	Turn    int
	Living  []*species.Species
	Map     *world.Map
	Stress  map[world.TileID]float64 // Extra environmental stress from directives
	Parents map[species.Code][]*species.Species
}

// Cell is the outcome for one occupancy.
type Cell struct {
	Species          species.Code `json:"species"`
	Tile             world.TileID `json:"tile"`
	Population       int64        `json:"population"`
	Pressures        Pressures    `json:"pressures"`
	Mortality        float64      `json:"mortality"`
	ResourcePressure float64      `json:"resource_pressure"`
	Deaths           int64        `json:"deaths"`
}

// SpeciesResult summarizes one species.
type SpeciesResult struct {
	Code      species.Code `json:"code"`
	Before    int64        `json:"before"`
	After     int64        `json:"after"`
	Mortality float64      `json:"mortality"` // Population-weighted mean
	Extinct   bool         `json:"extinct"`
}

// Result is the outcome of a mortality pass.
type Result struct {
	Cells       []Cell
	Species     []SpeciesResult
	Extinctions []species.Code

	index map[cellKey]int
}

type cellKey struct {
	code species.Code
	tile world.TileID
}

// Local returns the cell result for a species on a tile.
func (r *Result) Local(code species.Code, tile world.TileID) (Cell, bool) {
	i, ok := r.index[cellKey{code, tile}]
	if !ok {
		return Cell{}, false
	}
	return r.Cells[i], true
}

// Engine computes and applies mortality.
type Engine struct {
	cfg      config.MortalityConfig
	trophic  *trophic.Classifier
	capacity Capacity
}

// NewEngine creates a mortality engine.
func NewEngine(cfg config.MortalityConfig, tc *trophic.Classifier, capacity Capacity) *Engine {
	return &Engine{cfg: cfg, trophic: tc, capacity: capacity}
}

func (e *Engine) caps(plant bool) Pressures {
	c := e.cfg.Caps
	p := Pressures{c.Environment, c.Competition, c.Trophic, c.Resource, c.Predation}
	if plant {
		p[Competition] = math.Min(p[Competition], e.cfg.PlantCompetition)
	}
	return p
}

func (e *Engine) weights() []float64 {
	w := e.cfg.Weights
	return []float64{w.Environment, w.Competition, w.Trophic, w.Resource, w.Predation}
}

func (e *Engine) coefficients() []float64 {
	c := e.cfg.Coefficients
	return []float64{c.Environment, c.Competition, c.Trophic, c.Resource, c.Predation}
}

// Resistance is the fraction of blended mortality a species shrugs off from
// body size and accumulated generations.
func (e *Engine) Resistance(sp *species.Species) float64 {
	r := e.cfg.SizeResistance*sp.SizeProxy() + e.cfg.GenResistance*float64(sp.Generation)
	return math.Max(0, math.Min(e.cfg.MaxResistance, r))
}

// LagPenalty is the evolutionary lag added to a recently branched parent.
func LagPenalty(sp *species.Species, turn int) float64 {
	if turn < sp.LagUntil {
		return sp.LagPenalty
	}
	return 0
}

// Rate computes the final mortality for one set of pressures. Pressures are
// clamped to their caps first. The result is always in [MinMortality,
// MaxMortality].
func (e *Engine) Rate(p Pressures, plant bool, resistance, lag float64) float64 {
	caps := e.caps(plant)
	for i := range p {
		p[i] = math.Max(0, math.Min(caps[i], p[i]))
	}
	add := floats.Dot(e.weights(), p[:])
	surv := 1.0
	for i, c := range e.coefficients() {
		surv *= 1 - p[i]*c
	}
	return e.finalize(e.blend(add, 1-surv), resistance, lag)
}

func (e *Engine) blend(additive, multiplicative float64) float64 {
	s := e.cfg.AdditiveShare
	return s*additive + (1-s)*multiplicative
}

func (e *Engine) finalize(blended, resistance, lag float64) float64 {
	m := blended*(1-resistance) + lag
	if math.IsNaN(m) {
		m = e.cfg.MaxMortality
	}
	return math.Max(e.cfg.MinMortality, math.Min(e.cfg.MaxMortality, m))
}

// occupant is a species' presence on one tile.
type occupant struct {
	sp   *species.Species
	tile world.TileID
	n    int64
	col  int
}

// Run computes pressures for every cell and applies deaths to the living
// species in place. Species whose population reaches zero become extinct.
func (e *Engine) Run(in Input) *Result {
	// Build cells in species order, tiles ascending.
	var cells []Cell
	var plant []bool
	byTile := make(map[world.TileID][]occupant)
	for _, sp := range in.Living {
		for _, id := range sp.Tiles() {
			n := sp.Distribution[id]
			byTile[id] = append(byTile[id], occupant{sp: sp, tile: id, n: n, col: len(cells)})
			cells = append(cells, Cell{Species: sp.Code, Tile: id, Population: n})
			plant = append(plant, sp.IsPlant())
		}
	}
	res := &Result{Cells: cells, index: make(map[cellKey]int, len(cells))}
	for i, c := range cells {
		res.index[cellKey{c.Species, c.Tile}] = i
	}

	n := len(cells)
	cols := make([][]float64, NumPressures)
	for i := range cols {
		cols[i] = make([]float64, n)
	}
	rp := make([]float64, n)

	tiles := make([]world.TileID, 0, len(byTile))
	for id := range byTile {
		tiles = append(tiles, id)
	}
	slices.Sort(tiles)

	for _, id := range tiles {
		occ := byTile[id]
		t := in.Map.Tile(id)
		if t == nil {
			continue
		}
		demand := habitat.DemandOf(t)
		var total int64
		for _, o := range occ {
			total += o.n
		}
		for _, o := range occ {
			env := habitat.Mismatch(o.sp.Traits, demand) + in.Stress[id]
			if !habitat.Habitable(o.sp.Profile.Habitat, in.Map, id) {
				env = 1
			}
			cols[Environment][o.col] = env
			cols[Competition][o.col] = e.competition(o, occ, total, in.Parents)
			cols[Trophic][o.col] = e.trophicShortfall(o, occ)

			k := e.capacity.CarryingCapacity(o.sp, t)
			ratio := float64(o.n) / math.Max(1, k)
			rp[o.col] = ratio
			cols[Resource][o.col] = math.Max(0, ratio-0.8) * 0.75
			cols[Predation][o.col] = predation(o, occ)
		}
	}

	// Clamp each column to its cap; plants get the tighter competition cap.
	for i := range cells {
		caps := e.caps(plant[i])
		for p := range cols {
			cols[p][i] = math.Max(0, math.Min(caps[p], cols[p][i]))
		}
	}

	additive := make([]float64, n)
	for p, w := range e.weights() {
		floats.AddScaled(additive, w, cols[p])
	}
	surv := make([]float64, n)
	for i := range surv {
		surv[i] = 1
	}
	tmp := make([]float64, n)
	for p, c := range e.coefficients() {
		floats.ScaleTo(tmp, -c, cols[p])
		floats.AddConst(1, tmp)
		floats.Mul(surv, tmp)
	}
	multiplicative := surv
	floats.Scale(-1, multiplicative)
	floats.AddConst(1, multiplicative)

	blended := make([]float64, n)
	floats.ScaleTo(blended, e.cfg.AdditiveShare, additive)
	floats.AddScaled(blended, 1-e.cfg.AdditiveShare, multiplicative)

	// Apply per cell.
	start := 0
	for _, sp := range in.Living {
		resist := e.Resistance(sp)
		lag := LagPenalty(sp, in.Turn)
		before := sp.Population
		var weighted float64
		end := start
		for end < n && cells[end].Species == sp.Code {
			end++
		}
		for i := start; i < end; i++ {
			c := &res.Cells[i]
			for p := range c.Pressures {
				c.Pressures[p] = cols[p][i]
			}
			c.ResourcePressure = rp[i]
			c.Mortality = e.finalize(blended[i], resist, lag)
			c.Deaths = min(c.Population, int64(math.Round(float64(c.Population)*c.Mortality)))
			sp.Distribution[c.Tile] = c.Population - c.Deaths
			weighted += c.Mortality * float64(c.Population)
		}
		start = end

		after := sp.RecountPopulation()
		sr := SpeciesResult{Code: sp.Code, Before: before, After: after}
		if before > 0 {
			sr.Mortality = weighted / float64(before)
		}
		if after == 0 {
			sp.Status = species.StatusExtinct
			sp.ExtinctTurn = in.Turn
			sr.Extinct = true
			res.Extinctions = append(res.Extinctions, sp.Code)
			slog.Info("species extinct", "code", sp.Code, "turn", in.Turn, "mortality", sr.Mortality)
		}
		res.Species = append(res.Species, sr)
	}

	slog.Debug("mortality applied", "cells", n, "extinctions", len(res.Extinctions))
	return res
}

// competition is niche overlap with co-resident species weighted by their
// share of the tile, plus the penalty a parent pays for sharing its tile
// with same-genus children.
func (e *Engine) competition(o occupant, occ []occupant, total int64, parents map[species.Code][]*species.Species) float64 {
	if total <= 0 {
		return 0
	}
	var c float64
	for _, other := range occ {
		if other.sp == o.sp {
			continue
		}
		closeness := math.Max(0, 1-math.Abs(o.sp.TrophicLevel-other.sp.TrophicLevel))
		if closeness == 0 {
			continue
		}
		overlap := math.Max(0, traits.Cosine(o.sp.Traits, other.sp.Traits)) * closeness
		c += overlap * float64(other.n) / float64(total)
	}

	var penalty float64
	for _, child := range parents[o.sp.Code] {
		if child.Code.Genus() != o.sp.Code.Genus() || !child.Alive() {
			continue
		}
		cn := child.Distribution[o.tile]
		if cn > 0 {
			penalty += e.cfg.SameGenusPenalty * float64(cn) / float64(cn+o.n)
		}
	}
	return c + math.Min(e.cfg.SameGenusPenalty, penalty)
}

// biomass is population times body mass, with a floor for massless records.
func biomass(o occupant) float64 {
	return float64(o.n) * math.Max(o.sp.Profile.BodyMassKg, 1e-9)
}

// trophicShortfall is the fraction of a consumer's food need not met by prey
// biomass on the tile one level down.
func (e *Engine) trophicShortfall(o occupant, occ []occupant) float64 {
	if o.sp.IsPlant() || o.sp.TrophicLevel < 1.5 {
		return 0
	}
	var prey float64
	for _, other := range occ {
		if other.sp == o.sp {
			continue
		}
		d := o.sp.TrophicLevel - other.sp.TrophicLevel
		if d >= 0.5 && d <= 1.5 {
			prey += biomass(other)
		}
	}
	need := biomass(o)
	if need <= 0 {
		return 0
	}
	supply := prey * e.trophic.TransferEfficiency()
	return 1 - math.Min(1, supply/need)
}

// predation is the predator biomass pressure on the tile, reduced by the
// species' defense and locomotion.
func predation(o occupant, occ []occupant) float64 {
	var pred float64
	for _, other := range occ {
		d := other.sp.TrophicLevel - o.sp.TrophicLevel
		if d >= 0.5 && d <= 1.5 {
			pred += biomass(other)
		}
	}
	if pred == 0 {
		return 0
	}
	own := biomass(o)
	ratio := pred / math.Max(own, 1e-12)
	evasion := 0.35*(o.sp.Traits.Get(traits.Defense)-traits.MinValue)/(traits.MaxValue-traits.MinValue) +
		0.15*(o.sp.Traits.Get(traits.Locomotion)-traits.MinValue)/(traits.MaxValue-traits.MinValue)
	return ratio / (ratio + 1) * (1 - evasion)
}
