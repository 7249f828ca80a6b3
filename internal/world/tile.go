package world

import "math"

// TileID indexes a tile within its Map. IDs are dense and stable for the
// lifetime of a world.
type TileID int

// Terrain classifies a tile for habitability checks.
type Terrain uint8

const (
	TerrainOcean    Terrain = iota // Open water
	TerrainCoast                   // Land bordering ocean
	TerrainPlains                  // Grassland
	TerrainForest                  // Wet uplands
	TerrainDesert                  // Hot and arid
	TerrainSwamp                   // Wet lowland
	TerrainTundra                  // Cold
	TerrainMountain                // High elevation
)

// Tile is one cell of the world grid. Environment attributes are normalized
// to [0, 1].
type Tile struct {
	ID          TileID   `json:"id"`
	Coord       HexCoord `json:"coord"`
	Terrain     Terrain  `json:"terrain"`
	Temperature float64  `json:"temperature"` // 0 frozen, 1 hot
	Humidity    float64  `json:"humidity"`    // 0 arid, 1 saturated
	Elevation   float64  `json:"elevation"`   // 0 sea floor, 1 peak
	Resource    float64  `json:"resource"`    // Primary productivity
	Depth       float64  `json:"depth"`       // Ocean depth, 0 for land
}

// IsWater reports whether the tile is open water.
func (t *Tile) IsWater() bool {
	return t.Terrain == TerrainOcean
}

// EnvDistance is the Euclidean distance between two tiles' environments,
// normalized to [0, 1].
func EnvDistance(a, b *Tile) float64 {
	dt := a.Temperature - b.Temperature
	dh := a.Humidity - b.Humidity
	de := a.Elevation - b.Elevation
	dr := a.Resource - b.Resource
	return math.Sqrt(dt*dt+dh*dh+de*de+dr*dr) / 2
}

// TerrainName returns a human-readable name for a terrain type.
func TerrainName(t Terrain) string {
	switch t {
	case TerrainOcean:
		return "Ocean"
	case TerrainCoast:
		return "Coast"
	case TerrainPlains:
		return "Plains"
	case TerrainForest:
		return "Forest"
	case TerrainDesert:
		return "Desert"
	case TerrainSwamp:
		return "Swamp"
	case TerrainTundra:
		return "Tundra"
	case TerrainMountain:
		return "Mountain"
	default:
		return "Unknown"
	}
}

// Clamp01 limits v to [0, 1].
func Clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
