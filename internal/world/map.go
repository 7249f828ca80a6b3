package world

import "fmt"

// Map holds the complete tile grid.
type Map struct {
	Radius int     `json:"radius"`
	Tiles  []*Tile `json:"tiles"` // Indexed by TileID

	index map[HexCoord]TileID
}

// NewMap creates an empty map with the given radius.
// A hex grid of radius R contains tiles where max(|q|, |r|, |s|) <= R.
func NewMap(radius int) *Map {
	return &Map{
		Radius: radius,
		index:  make(map[HexCoord]TileID),
	}
}

// Add appends a tile, assigning its ID.
func (m *Map) Add(t *Tile) TileID {
	t.ID = TileID(len(m.Tiles))
	m.Tiles = append(m.Tiles, t)
	if m.index == nil {
		m.index = make(map[HexCoord]TileID)
	}
	m.index[t.Coord] = t.ID
	return t.ID
}

// Tile returns the tile with the given ID, or nil if out of range.
func (m *Map) Tile(id TileID) *Tile {
	if id < 0 || int(id) >= len(m.Tiles) {
		return nil
	}
	return m.Tiles[id]
}

// At returns the tile at the given coordinate, or nil.
func (m *Map) At(coord HexCoord) *Tile {
	id, ok := m.index[coord]
	if !ok {
		return nil
	}
	return m.Tiles[id]
}

// Neighbors returns the IDs of tiles adjacent to id, in direction order.
func (m *Map) Neighbors(id TileID) []TileID {
	t := m.Tile(id)
	if t == nil {
		return nil
	}
	out := make([]TileID, 0, 6)
	for _, c := range t.Coord.Neighbors() {
		if n, ok := m.index[c]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Within returns the IDs of tiles at hex distance 1..radius from id, in ID order.
func (m *Map) Within(id TileID, radius int) []TileID {
	center := m.Tile(id)
	if center == nil {
		return nil
	}
	var out []TileID
	for _, t := range m.Tiles {
		if t.ID == id {
			continue
		}
		if Distance(center.Coord, t.Coord) <= radius {
			out = append(out, t.ID)
		}
	}
	return out
}

// InBounds returns true if the coordinate is within the map radius.
func (m *Map) InBounds(coord HexCoord) bool {
	return max(abs(coord.Q), abs(coord.R), abs(coord.S())) <= m.Radius
}

// Clone returns a deep copy. Turns mutate the copy, never the committed map.
func (m *Map) Clone() *Map {
	c := NewMap(m.Radius)
	for _, t := range m.Tiles {
		cp := *t
		c.Tiles = append(c.Tiles, &cp)
		c.index[cp.Coord] = cp.ID
	}
	return c
}

// Reindex rebuilds the coordinate index after Tiles was populated directly
// (e.g. by a loader).
func (m *Map) Reindex() {
	m.index = make(map[HexCoord]TileID, len(m.Tiles))
	for i, t := range m.Tiles {
		t.ID = TileID(i)
		m.index[t.Coord] = t.ID
	}
}

// TileCount returns the total number of tiles.
func (m *Map) TileCount() int {
	return len(m.Tiles)
}

// String returns a summary of the map.
func (m *Map) String() string {
	return fmt.Sprintf("Map(radius=%d, tiles=%d)", m.Radius, m.TileCount())
}
