// World generation using layered simplex noise.
// Generates elevation, humidity, and temperature layers, then derives terrain
// and primary productivity.
package world

import (
	"math"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/evo-world/internal/config"
)

// Generate creates a complete tile map. The same seed always yields the same map.
func Generate(cfg config.WorldConfig, seed int64) *Map {
	if seed == 0 {
		seed = rand.Int63()
	}

	// Three noise generators for independent layers.
	elevNoise := opensimplex.NewNormalized(seed)
	humidNoise := opensimplex.NewNormalized(seed + 1)
	tempNoise := opensimplex.NewNormalized(seed + 2)

	m := NewMap(cfg.Radius)
	for q := -cfg.Radius; q <= cfg.Radius; q++ {
		for r := -cfg.Radius; r <= cfg.Radius; r++ {
			coord := HexCoord{Q: q, R: r}
			if !m.InBounds(coord) {
				continue
			}

			// Hex axial → cartesian for noise sampling.
			x := float64(q) + float64(r)*0.5
			y := float64(r) * math.Sqrt(3.0) / 2.0

			elev := octaveNoise(elevNoise, x, y, 4, 0.08, 0.5)
			humid := octaveNoise(humidNoise, x, y, 3, 0.06, 0.5)
			temp := octaveNoise(tempNoise, x, y, 3, 0.05, 0.5)

			// Continental shaping: ocean border.
			distFromCenter := math.Sqrt(x*x+y*y) / float64(cfg.Radius)
			elev *= math.Max(0, 1.0-math.Pow(distFromCenter, 3.5))

			// Colder toward the poles and at altitude.
			temp = temp*0.6 + (1.0-math.Abs(y)/float64(cfg.Radius))*0.3 + (1.0-elev)*0.1

			t := &Tile{
				Coord:       coord,
				Temperature: Clamp01(temp),
				Humidity:    Clamp01(humid),
				Elevation:   Clamp01(elev),
			}
			t.Terrain = deriveTerrain(t, cfg)
			if t.Terrain == TerrainOcean && cfg.SeaLevel > 0 {
				t.Depth = Clamp01((cfg.SeaLevel - t.Elevation) / cfg.SeaLevel)
			}
			t.Resource = productivity(t)
			m.Add(t)
		}
	}

	markCoast(m)
	return m
}

// deriveTerrain determines terrain type from environmental parameters.
func deriveTerrain(t *Tile, cfg config.WorldConfig) Terrain {
	switch {
	case t.Elevation < cfg.SeaLevel:
		return TerrainOcean
	case t.Elevation > cfg.MountainLevel:
		return TerrainMountain
	case t.Temperature < 0.25:
		return TerrainTundra
	case t.Humidity < 0.25 && t.Temperature > 0.5:
		return TerrainDesert
	case t.Humidity > 0.7 && t.Elevation < 0.45:
		return TerrainSwamp
	case t.Humidity > 0.45:
		return TerrainForest
	default:
		return TerrainPlains
	}
}

// productivity estimates primary productivity from climate. Warm, wet tiles
// are the most productive; the deep ocean and high peaks the least.
func productivity(t *Tile) float64 {
	if t.IsWater() {
		return Clamp01(0.6 - t.Depth*0.5 + t.Temperature*0.2)
	}
	p := 0.2 + t.Humidity*0.5 + (1-math.Abs(t.Temperature-0.6))*0.3
	if t.Terrain == TerrainMountain {
		p *= 0.5
	}
	return Clamp01(p)
}

// markCoast converts low land tiles adjacent to ocean into coast.
func markCoast(m *Map) {
	var toMark []TileID
	for _, t := range m.Tiles {
		if t.IsWater() || t.Elevation >= 0.5 {
			continue
		}
		for _, n := range m.Neighbors(t.ID) {
			if m.Tile(n).IsWater() {
				toMark = append(toMark, t.ID)
				break
			}
		}
	}
	for _, id := range toMark {
		t := m.Tile(id)
		if t.Terrain == TerrainPlains || t.Terrain == TerrainForest || t.Terrain == TerrainSwamp {
			t.Terrain = TerrainCoast
		}
	}
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

// TerrainCounts returns a summary of terrain type distribution.
func TerrainCounts(m *Map) map[Terrain]int {
	counts := make(map[Terrain]int)
	for _, t := range m.Tiles {
		counts[t.Terrain]++
	}
	return counts
}
