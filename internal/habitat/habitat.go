// Package habitat relates species to the tiles they live on: which tiles a
// habitat can occupy at all, which trait values a tile's environment selects
// for, and how suitable a tile is as a destination.
package habitat

import (
	"math"

	"github.com/talgya/evo-world/internal/species"
	"github.com/talgya/evo-world/internal/traits"
	"github.com/talgya/evo-world/internal/world"
)

// Habitable reports whether a species of habitat h can live on tile id at
// all. Marine species need open water, terrestrial and aerial species need
// land, and coastal species need a tile on the land/water boundary.
func Habitable(h species.Habitat, m *world.Map, id world.TileID) bool {
	t := m.Tile(id)
	if t == nil {
		return false
	}
	switch h {
	case species.HabitatMarine:
		return t.IsWater()
	case species.HabitatCoastal:
		if t.Terrain == world.TerrainCoast {
			return true
		}
		for _, n := range m.Neighbors(id) {
			if m.Tile(n).IsWater() != t.IsWater() {
				return true
			}
		}
		return false
	default:
		return !t.IsWater()
	}
}

// Demand is the trait profile a tile's environment selects for. Only the
// environmental slots carry a value; the others are zero.
type Demand [traits.NumSlots]float64

var environmental = [traits.NumSlots]bool{
	traits.HeatTolerance:       true,
	traits.ColdTolerance:       true,
	traits.DroughtTolerance:    true,
	traits.SalinityTolerance:   true,
	traits.PressureTolerance:   true,
	traits.Locomotion:          true,
	traits.Sensing:             true,
	traits.MetabolicEfficiency: true,
}

// Environmental reports whether the environment acts on slot s.
func Environmental(s traits.Slot) bool {
	return environmental[s]
}

func scale(x float64) float64 {
	return traits.MinValue + world.Clamp01(x)*(traits.MaxValue-traits.MinValue)
}

// DemandOf computes the environmental demand of a tile.
func DemandOf(t *world.Tile) Demand {
	var d Demand
	heat := (t.Temperature - 0.55) / 0.45
	cold := (0.45 - t.Temperature) / 0.45
	arid := world.Clamp01((0.5-t.Humidity)/0.5) * (0.5 + 0.5*t.Temperature)

	d[traits.HeatTolerance] = scale(heat)
	d[traits.ColdTolerance] = scale(cold)
	d[traits.DroughtTolerance] = scale(arid)
	d[traits.MetabolicEfficiency] = scale(0.7 * (1 - t.Resource))
	d[traits.Sensing] = scale(0.4 * (1 - t.Resource))

	switch {
	case t.IsWater():
		d[traits.SalinityTolerance] = scale(0.8)
		d[traits.PressureTolerance] = scale(t.Depth)
		d[traits.Locomotion] = scale(0.6 * t.Depth)
		d[traits.DroughtTolerance] = traits.MinValue
	case t.Terrain == world.TerrainCoast:
		d[traits.SalinityTolerance] = scale(0.35)
		d[traits.PressureTolerance] = traits.MinValue
		d[traits.Locomotion] = traits.MinValue
	default:
		d[traits.SalinityTolerance] = traits.MinValue
		d[traits.PressureTolerance] = traits.MinValue
		d[traits.Locomotion] = scale(0.6 * (t.Elevation - 0.6) / 0.4)
	}
	return d
}

// Target returns the vector the environment pulls cur toward: demanded
// values on environmental slots, cur's own values elsewhere.
func (d Demand) Target(cur traits.Vector) traits.Vector {
	out := traits.Vector{Core: cur.Core}
	for i := range d {
		if environmental[i] {
			out.Core[i] = d[i]
		}
	}
	return out
}

// Mismatch is the tolerance shortfall of v against d in [0, 1]. It blends
// the worst single shortfall with the mean so one badly missing tolerance
// dominates.
func Mismatch(v traits.Vector, d Demand) float64 {
	var worst, sum float64
	n := 0
	for i, want := range d {
		if !environmental[i] {
			continue
		}
		short := math.Max(0, want-v.Core[i]) / (traits.MaxValue - traits.MinValue)
		worst = math.Max(worst, short)
		sum += short
		n++
	}
	if n == 0 {
		return 0
	}
	return world.Clamp01(0.6*worst + 0.4*sum/float64(n))
}

// Suitability scores tile id as a home for sp in [0, 1]. Uninhabitable
// tiles score zero.
func Suitability(sp *species.Species, m *world.Map, id world.TileID) float64 {
	if !Habitable(sp.Profile.Habitat, m, id) {
		return 0
	}
	t := m.Tile(id)
	fit := 1 - Mismatch(sp.Traits, DemandOf(t))
	return fit * (0.5 + 0.5*t.Resource)
}

// Mean returns a synthetic tile whose environment is the weighted mean of
// the given tiles. Its terrain is ocean when most of the weight is on water.
func Mean(m *world.Map, ids []world.TileID, weights []float64) *world.Tile {
	var out world.Tile
	var total, water float64
	for i, id := range ids {
		t := m.Tile(id)
		if t == nil {
			continue
		}
		w := weights[i]
		total += w
		out.Temperature += w * t.Temperature
		out.Humidity += w * t.Humidity
		out.Elevation += w * t.Elevation
		out.Resource += w * t.Resource
		out.Depth += w * t.Depth
		if t.IsWater() {
			water += w
		}
	}
	if total <= 0 {
		return &out
	}
	out.Temperature /= total
	out.Humidity /= total
	out.Elevation /= total
	out.Resource /= total
	out.Depth /= total
	out.Terrain = world.TerrainPlains
	if water > total/2 {
		out.Terrain = world.TerrainOcean
	}
	return &out
}
