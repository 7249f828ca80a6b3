package world

import (
	"testing"

	"github.com/talgya/evo-world/internal/config"
)

func TestGenerateDeterministic(t *testing.T) {
	cfg := config.Default().World
	cfg.Radius = 6

	a := Generate(cfg, 7)
	b := Generate(cfg, 7)

	if a.TileCount() != b.TileCount() {
		t.Fatalf("tile counts differ: %d vs %d", a.TileCount(), b.TileCount())
	}
	// Radius R hex grid holds 3R(R+1)+1 tiles.
	if want := 3*6*7 + 1; a.TileCount() != want {
		t.Errorf("tile count = %d, want %d", a.TileCount(), want)
	}
	for i := range a.Tiles {
		if *a.Tiles[i] != *b.Tiles[i] {
			t.Fatalf("tile %d differs between runs", i)
		}
	}
}

func TestGenerateRanges(t *testing.T) {
	cfg := config.Default().World
	cfg.Radius = 8
	m := Generate(cfg, 3)

	for _, tile := range m.Tiles {
		for name, v := range map[string]float64{
			"temperature": tile.Temperature,
			"humidity":    tile.Humidity,
			"elevation":   tile.Elevation,
			"resource":    tile.Resource,
			"depth":       tile.Depth,
		} {
			if v < 0 || v > 1 {
				t.Errorf("tile %d %s = %f, outside [0,1]", tile.ID, name, v)
			}
		}
		if !tile.IsWater() && tile.Depth != 0 {
			t.Errorf("land tile %d has depth %f", tile.ID, tile.Depth)
		}
	}
}

func TestNeighborsAndWithin(t *testing.T) {
	m := NewMap(2)
	for q := -2; q <= 2; q++ {
		for r := -2; r <= 2; r++ {
			c := HexCoord{Q: q, R: r}
			if m.InBounds(c) {
				m.Add(&Tile{Coord: c})
			}
		}
	}

	center := m.At(HexCoord{})
	if got := len(m.Neighbors(center.ID)); got != 6 {
		t.Errorf("center neighbors = %d, want 6", got)
	}
	if got := len(m.Within(center.ID, 2)); got != m.TileCount()-1 {
		t.Errorf("within(2) = %d, want %d", got, m.TileCount()-1)
	}

	corner := m.At(HexCoord{Q: 2, R: 0})
	if got := len(m.Neighbors(corner.ID)); got != 3 {
		t.Errorf("corner neighbors = %d, want 3", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	m := NewMap(1)
	m.Add(&Tile{Coord: HexCoord{}, Temperature: 0.5})
	c := m.Clone()
	c.Tiles[0].Temperature = 0.9

	if m.Tiles[0].Temperature != 0.5 {
		t.Error("mutating clone changed the original")
	}
	if c.At(HexCoord{}) != c.Tiles[0] {
		t.Error("clone index points at the wrong tile")
	}
}
