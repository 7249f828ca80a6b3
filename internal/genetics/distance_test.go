package genetics

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/talgya/evo-world/internal/config"
	"github.com/talgya/evo-world/internal/species"
	"github.com/talgya/evo-world/internal/traits"
)

func randomSpecies(rng *rand.Rand, code species.Code) *species.Species {
	var v traits.Vector
	for i := range v.Core {
		v.Core[i] = traits.MinValue + rng.Float64()*(traits.MaxValue-traits.MinValue)
	}
	length := math.Pow(10, rng.Float64()*5-2)
	return &species.Species{
		Code:      code,
		Traits:    v,
		SizeClass: species.SizeClassFor(length),
		Profile: species.Profile{
			BodyLengthCm: length,
			BodyMassKg:   math.Pow(10, rng.Float64()*8-6),
		},
	}
}

func TestDistanceSymmetricAndBounded(t *testing.T) {
	c := NewCalculator(config.Default().Genetics)
	rng := rand.New(rand.NewPCG(1, 2))
	codes := []species.Code{"A1", "A1.1", "A1.2", "A1.2.1", "A2", "B1", "B1.3"}

	for i := 0; i < 200; i++ {
		a := randomSpecies(rng, codes[rng.IntN(len(codes))])
		b := randomSpecies(rng, codes[rng.IntN(len(codes))])
		if a.Code == b.Code {
			continue
		}
		ab, ba := c.Distance(a, b), c.Distance(b, a)
		if ab != ba {
			t.Fatalf("Distance(%s,%s)=%f != Distance(%s,%s)=%f", a.Code, b.Code, ab, b.Code, a.Code, ba)
		}
		if ab < 0 || ab > 1 {
			t.Fatalf("distance %f outside [0,1]", ab)
		}
		if c.CanHybridize(a, b) != (ab < 0.5) {
			t.Fatalf("CanHybridize disagrees with distance %f", ab)
		}
	}
}

func TestDistanceCases(t *testing.T) {
	c := NewCalculator(config.Default().Genetics)
	base := &species.Species{Code: "A1", Traits: traits.Uniform(5), Profile: species.Profile{BodyMassKg: 1, BodyLengthCm: 20}}
	base.SizeClass = species.SizeClassFor(20)

	twin := base.Clone()
	twin.Code = "A1.1"
	if d := c.Distance(base, twin); d >= 0.5 {
		t.Errorf("identical sister distance = %f, want < 0.5", d)
	}
	if !c.CanHybridize(base, twin) {
		t.Error("identical sister cannot hybridize")
	}

	other := base.Clone()
	other.Code = "B1"
	if d := c.Distance(base, other); d != 1 {
		t.Errorf("cross-genus distance = %f, want 1", d)
	}

	if d := c.Distance(base, base); d != 0 {
		t.Errorf("self distance = %f, want 0", d)
	}
}

func TestUpdateGenus(t *testing.T) {
	c := NewCalculator(config.Default().Genetics)
	rng := rand.New(rand.NewPCG(3, 4))
	members := []*species.Species{
		randomSpecies(rng, "A1"),
		randomSpecies(rng, "A1.1"),
		randomSpecies(rng, "A1.2"),
	}
	g := species.NewGenus("A")
	c.UpdateGenus(g, members)

	if len(g.Distances) != 3 {
		t.Fatalf("pairs = %d, want 3", len(g.Distances))
	}
	d, ok := g.Distance("A1.2", "A1")
	if !ok || d != c.Distance(members[0], members[2]) {
		t.Errorf("stored distance = %f (%v)", d, ok)
	}
	if len(g.GenePool) != int(traits.NumSlots) {
		t.Errorf("gene pool size = %d", len(g.GenePool))
	}
}

func TestDiversity(t *testing.T) {
	c := NewCalculator(config.Default().Genetics)
	lone := &species.Species{Code: "A1", Traits: traits.Uniform(4)}
	if got := c.Diversity(lone, []*species.Species{lone}); got != 1 {
		t.Errorf("lone diversity = %f, want 1", got)
	}
}
