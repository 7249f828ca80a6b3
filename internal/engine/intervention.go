package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/talgya/evo-world/internal/species"
	"github.com/talgya/evo-world/internal/world"
)

// ErrInvalidDirective is returned for directives that cannot be applied.
var ErrInvalidDirective = errors.New("invalid directive")

// PressureDirective shifts the environment of a region of the map. A nil
// Center applies it to every tile. Environment changes persist; Stress is
// extra environmental mortality pressure for this turn only.
type PressureDirective struct {
	Label       string          `json:"label,omitempty"`
	Center      *world.HexCoord `json:"center,omitempty"`
	Radius      int             `json:"radius"`
	Temperature float64         `json:"temperature"`
	Humidity    float64         `json:"humidity"`
	Resource    float64         `json:"resource"`
	Stress      float64         `json:"stress"`
}

// Validate checks the directive against the map.
func (p PressureDirective) Validate(m *world.Map) error {
	for name, v := range map[string]float64{"temperature": p.Temperature, "humidity": p.Humidity, "resource": p.Resource} {
		if math.IsNaN(v) || v < -1 || v > 1 {
			return fmt.Errorf("%w: %s delta %v outside [-1,1]", ErrInvalidDirective, name, v)
		}
	}
	if math.IsNaN(p.Stress) || p.Stress < 0 || p.Stress > 1 {
		return fmt.Errorf("%w: stress %v outside [0,1]", ErrInvalidDirective, p.Stress)
	}
	if p.Radius < 0 {
		return fmt.Errorf("%w: negative radius", ErrInvalidDirective)
	}
	if p.Center != nil && m != nil && m.At(*p.Center) == nil {
		return fmt.Errorf("%w: center (%d,%d) not on map", ErrInvalidDirective, p.Center.Q, p.Center.R)
	}
	return nil
}

// Tiles returns the tiles the directive covers.
func (p PressureDirective) Tiles(m *world.Map) []world.TileID {
	if p.Center == nil {
		ids := make([]world.TileID, len(m.Tiles))
		for i, t := range m.Tiles {
			ids[i] = t.ID
		}
		return ids
	}
	c := m.At(*p.Center)
	if c == nil {
		return nil
	}
	return append([]world.TileID{c.ID}, m.Within(c.ID, p.Radius)...)
}

// Directives are the operator inputs for one turn.
type Directives struct {
	// Watchlist replaces the current watchlist when non-nil.
	Watchlist []species.Code      `json:"watchlist,omitempty"`
	Pressures []PressureDirective `json:"pressures,omitempty"`
}

// Merge appends later directives. A later watchlist replaces an earlier one.
func (d Directives) Merge(later Directives) Directives {
	out := Directives{Watchlist: d.Watchlist, Pressures: slices.Clone(d.Pressures)}
	if later.Watchlist != nil {
		out.Watchlist = later.Watchlist
	}
	out.Pressures = append(out.Pressures, later.Pressures...)
	return out
}

// NormalizeWatchlist sorts and deduplicates codes and keeps at most limit.
func NormalizeWatchlist(codes []species.Code, limit int) []species.Code {
	out := slices.Clone(codes)
	slices.Sort(out)
	out = slices.Compact(out)
	if limit >= 0 && len(out) > limit {
		slog.Warn("watchlist truncated", "requested", len(out), "limit", limit)
		out = out[:limit]
	}
	return out
}

// applyPressures mutates m and returns this turn's extra stress per tile and
// the applied deltas.
func applyPressures(m *world.Map, ds []PressureDirective) (map[world.TileID]float64, []EnvironmentDelta, error) {
	stress := make(map[world.TileID]float64)
	var deltas []EnvironmentDelta
	for _, d := range ds {
		if err := d.Validate(m); err != nil {
			return nil, nil, err
		}
		ids := d.Tiles(m)
		for _, id := range ids {
			t := m.Tile(id)
			t.Temperature = world.Clamp01(t.Temperature + d.Temperature)
			t.Humidity = world.Clamp01(t.Humidity + d.Humidity)
			t.Resource = world.Clamp01(t.Resource + d.Resource)
			if d.Stress > 0 {
				stress[id] = math.Min(1, stress[id]+d.Stress)
			}
		}
		deltas = append(deltas, EnvironmentDelta{
			Label:       d.Label,
			Tiles:       len(ids),
			Temperature: d.Temperature,
			Humidity:    d.Humidity,
			Resource:    d.Resource,
			Stress:      d.Stress,
		})
		slog.Info("pressure directive applied", "label", d.Label, "tiles", len(ids), "temperature", d.Temperature, "humidity", d.Humidity, "resource", d.Resource, "stress", d.Stress)
	}
	return stress, deltas, nil
}
