package speciation

import (
	"sort"

	"github.com/talgya/evo-world/internal/habitat"
	"github.com/talgya/evo-world/internal/species"
	"github.com/talgya/evo-world/internal/traits"
	"github.com/talgya/evo-world/internal/world"
)

// Region is an Eco-Geo Region: a connected, environmentally homogeneous
// cluster of the tiles a species occupies. Regions are derived each turn and
// never persisted.
type Region struct {
	Tiles      []world.TileID `json:"tiles"`
	Counts     []int64        `json:"counts"` // Population per tile, parallel to Tiles
	Population int64          `json:"population"`
	Env        *world.Tile    `json:"env"`    // Population-weighted mean environment
	Target     traits.Vector  `json:"target"` // Population-weighted target traits
}

// Share is the region's fraction of total.
func (r Region) Share(total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(r.Population) / float64(total)
}

// Regions clusters the habitable tiles sp occupies. Neighbouring tiles join
// the same cluster when their environments are within the homogeneity
// threshold. Clusters under the minimum population share are dropped. The
// result is ordered by population, largest first.
func (e *Engine) Regions(sp *species.Species, m *world.Map) []Region {
	occupied := make(map[world.TileID]bool)
	for _, id := range sp.Tiles() {
		if habitat.Habitable(sp.Profile.Habitat, m, id) {
			occupied[id] = true
		}
	}
	if len(occupied) == 0 {
		return nil
	}

	visited := make(map[world.TileID]bool, len(occupied))
	var regions []Region
	for _, start := range sp.Tiles() {
		if !occupied[start] || visited[start] {
			continue
		}
		var cluster []world.TileID
		queue := []world.TileID{start}
		visited[start] = true
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			cluster = append(cluster, id)
			here := m.Tile(id)
			for _, n := range m.Neighbors(id) {
				if visited[n] || !occupied[n] {
					continue
				}
				if world.EnvDistance(here, m.Tile(n)) > e.cfg.HomogeneityThreshold {
					continue
				}
				visited[n] = true
				queue = append(queue, n)
			}
		}
		sort.Slice(cluster, func(i, j int) bool { return cluster[i] < cluster[j] })
		regions = append(regions, e.buildRegion(sp, m, cluster))
	}

	total := sp.Population
	kept := regions[:0]
	for _, r := range regions {
		if r.Population > 0 && r.Share(total) >= e.cfg.MinRegionShare {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Population != kept[j].Population {
			return kept[i].Population > kept[j].Population
		}
		return kept[i].Tiles[0] < kept[j].Tiles[0]
	})
	return kept
}

func (e *Engine) buildRegion(sp *species.Species, m *world.Map, tiles []world.TileID) Region {
	r := Region{Tiles: tiles, Counts: make([]int64, len(tiles))}
	weights := make([]float64, len(tiles))
	targets := make([]traits.Vector, len(tiles))
	for i, id := range tiles {
		n := sp.Distribution[id]
		r.Counts[i] = n
		r.Population += n
		weights[i] = float64(n)
		targets[i] = habitat.DemandOf(m.Tile(id)).Target(sp.Traits)
	}
	r.Env = habitat.Mean(m, tiles, weights)
	r.Target = traits.Mean(targets, weights)
	return r
}

// Adjacent reports whether any tile of a borders any tile of b.
func Adjacent(m *world.Map, a, b Region) bool {
	inB := make(map[world.TileID]bool, len(b.Tiles))
	for _, id := range b.Tiles {
		inB[id] = true
	}
	for _, id := range a.Tiles {
		for _, n := range m.Neighbors(id) {
			if inB[n] {
				return true
			}
		}
	}
	return false
}

// OverallTarget is the population-weighted target across regions. With no
// regions the species is its own target.
func OverallTarget(sp *species.Species, regions []Region) traits.Vector {
	if len(regions) == 0 {
		return sp.Traits.Clone()
	}
	vs := make([]traits.Vector, len(regions))
	ws := make([]float64, len(regions))
	for i, r := range regions {
		vs[i] = r.Target
		ws[i] = float64(r.Population)
	}
	out := traits.Mean(vs, ws)
	out.Ext = sp.Traits.Clone().Ext
	return out
}
