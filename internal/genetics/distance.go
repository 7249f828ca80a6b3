// Package genetics computes genetic distance between species and maintains
// each genus' pairwise distance matrix.
package genetics

import (
	"math"

	"github.com/talgya/evo-world/internal/config"
	"github.com/talgya/evo-world/internal/species"
	"github.com/talgya/evo-world/internal/traits"
)

// Calculator computes symmetric distances in [0, 1] from morphology, trait
// vectors, and lineage.
type Calculator struct {
	cfg config.GeneticsConfig
}

// NewCalculator creates a calculator.
func NewCalculator(cfg config.GeneticsConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// Largest possible Euclidean distance between two core trait vectors.
var maxTraitDistance = math.Sqrt(float64(traits.NumSlots)) * (traits.MaxValue - traits.MinValue)

// Distance returns the genetic distance between a and b. Species of
// different genera are maximally distant.
func (c *Calculator) Distance(a, b *species.Species) float64 {
	if a.Code == b.Code {
		return 0
	}
	if a.Code.Genus() != b.Code.Genus() {
		return 1
	}

	wm, wt, wl := c.cfg.MorphologyWeight, c.cfg.TraitWeight, c.cfg.LineageWeight
	total := wm + wt + wl
	if total <= 0 {
		return 0
	}

	d := (wm*morphology(a, b) + wt*traitDistance(a.Traits, b.Traits) + wl*c.lineage(a.Code, b.Code)) / total
	return math.Max(0, math.Min(1, d))
}

// morphology compares size class and log body mass.
func morphology(a, b *species.Species) float64 {
	size := math.Abs(float64(a.SizeClass)-float64(b.SizeClass)) / float64(species.SizeHuge)
	mass := math.Abs(logMass(a.Profile.BodyMassKg)-logMass(b.Profile.BodyMassKg)) / 12
	return math.Min(1, 0.5*size+0.5*math.Min(1, mass))
}

func logMass(kg float64) float64 {
	return math.Log10(math.Max(kg, 1e-9))
}

func traitDistance(a, b traits.Vector) float64 {
	var s float64
	for i := range a.Core {
		d := a.Core[i] - b.Core[i]
		s += d * d
	}
	return math.Min(1, math.Sqrt(s)/maxTraitDistance)
}

// lineage maps branch edges to [0, 1): e/(e+k).
func (c *Calculator) lineage(a, b species.Code) float64 {
	e := species.TreeDistance(a, b)
	if e < 0 {
		return 1
	}
	k := c.cfg.LineageScale
	if k <= 0 {
		k = 1
	}
	return float64(e) / (float64(e) + k)
}

// CanHybridize reports whether two species are close enough to interbreed.
func (c *Calculator) CanHybridize(a, b *species.Species) bool {
	return c.Distance(a, b) < c.threshold()
}

func (c *Calculator) threshold() float64 {
	if c.cfg.HybridizationThreshold > 0 {
		return c.cfg.HybridizationThreshold
	}
	return 0.5
}

// UpdateGenus recomputes the distance matrix for the living members of g
// and folds their traits into the gene pool.
func (c *Calculator) UpdateGenus(g *species.Genus, members []*species.Species) {
	g.Distances = make(map[species.PairKey]float64, len(members)*(len(members)-1)/2)
	for i, a := range members {
		for s := traits.Slot(0); s < traits.NumSlots; s++ {
			g.Discover(s.String(), a.Traits.Get(s))
		}
		for name, v := range a.Traits.Ext {
			g.Discover(name, v)
		}
		for _, b := range members[i+1:] {
			g.SetDistance(a.Code, b.Code, c.Distance(a, b))
		}
	}
}

// Diversity is the mean distance from s to every other species in living.
// A lone species has diversity 1.
func (c *Calculator) Diversity(s *species.Species, living []*species.Species) float64 {
	var sum float64
	n := 0
	for _, o := range living {
		if o.Code == s.Code {
			continue
		}
		sum += c.Distance(s, o)
		n++
	}
	if n == 0 {
		return 1
	}
	return sum / float64(n)
}
