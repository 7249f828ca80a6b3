// Package world provides the hex tile grid the species populations live on.
// Tiles use axial coordinates (q, r); the third cube coordinate is derived.
package world

// HexCoord is a position on the hex grid in axial coordinates.
type HexCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S returns the implicit third cube coordinate.
func (h HexCoord) S() int {
	return -h.Q - h.R
}

// hexDirections are the six neighbor offsets in axial coordinates.
var hexDirections = [6]HexCoord{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// Neighbors returns the six adjacent coordinates.
func (h HexCoord) Neighbors() [6]HexCoord {
	var result [6]HexCoord
	for i, dir := range hexDirections {
		result[i] = HexCoord{Q: h.Q + dir.Q, R: h.R + dir.R}
	}
	return result
}

// Distance returns the hex distance between two coordinates.
func Distance(a, b HexCoord) int {
	return max(abs(a.Q-b.Q), abs(a.R-b.R), abs(a.S()-b.S()))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
