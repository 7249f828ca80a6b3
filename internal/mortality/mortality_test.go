package mortality

import (
	"math/rand/v2"
	"testing"

	"github.com/talgya/evo-world/internal/config"
	"github.com/talgya/evo-world/internal/species"
	"github.com/talgya/evo-world/internal/traits"
	"github.com/talgya/evo-world/internal/trophic"
	"github.com/talgya/evo-world/internal/world"
)

type fixedCapacity float64

func (f fixedCapacity) CarryingCapacity(*species.Species, *world.Tile) float64 { return float64(f) }

func newTestEngine(k float64) *Engine {
	cfg := config.Default()
	return NewEngine(cfg.Mortality, trophic.NewClassifier(cfg.Trophic), fixedCapacity(k))
}

func TestRateBounds(t *testing.T) {
	e := newTestEngine(1000)
	lo, hi := e.cfg.MinMortality, e.cfg.MaxMortality

	tests := []struct {
		name  string
		p     Pressures
		plant bool
		res   float64
		lag   float64
		want  float64 // 0 means only check bounds
	}{
		{"no pressure", Pressures{}, false, 0, 0, lo},
		{"all pressures max", Pressures{1, 1, 1, 1, 1}, false, 0, 0, 0},
		{"all pressures max plant", Pressures{1, 1, 1, 1, 1}, true, 0, 0, 0},
		{"pressures beyond range", Pressures{5, 5, 5, 5, 5}, false, 0, 0, 0},
		{"negative pressures", Pressures{-1, -1, -1, -1, -1}, false, 0, 0, lo},
		{"lag saturates", Pressures{1, 1, 1, 1, 1}, false, 0, 1, hi},
		{"full resistance", Pressures{1, 1, 1, 1, 1}, false, 0.25, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Rate(tt.p, tt.plant, tt.res, tt.lag)
			if got < lo || got > hi {
				t.Fatalf("Rate = %f outside [%f, %f]", got, lo, hi)
			}
			if tt.want != 0 && got != tt.want {
				t.Errorf("Rate = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestRateRandomInputsStayInBounds(t *testing.T) {
	e := newTestEngine(1000)
	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 1000; i++ {
		var p Pressures
		for j := range p {
			p[j] = rng.Float64()*3 - 1
		}
		got := e.Rate(p, rng.IntN(2) == 0, rng.Float64(), rng.Float64()*0.2)
		if got < e.cfg.MinMortality || got > e.cfg.MaxMortality {
			t.Fatalf("Rate(%v) = %f out of bounds", p, got)
		}
	}
}

func TestBlendSitsBetweenModels(t *testing.T) {
	e := newTestEngine(1000)
	p := Pressures{0.5, 0.3, 0.2, 0.4, 0.5}
	got := e.Rate(p, false, 0, 0)

	add := 0.3*0.5 + 0.15*0.3 + 0.2*0.2 + 0.15*0.4 + 0.2*0.5
	mult := 1 - (1-0.5*0.9)*(1-0.3*0.6)*(1-0.2*0.8)*(1-0.4*0.6)*(1-0.5*0.8)
	lo, hi := min(add, mult), max(add, mult)
	if got < lo-1e-12 || got > hi+1e-12 {
		t.Errorf("blend %f not between additive %f and multiplicative %f", got, add, mult)
	}
}

func lineMap(n int) *world.Map {
	m := world.NewMap(n)
	for i := 0; i < n; i++ {
		m.Add(&world.Tile{Coord: world.HexCoord{Q: i}, Terrain: world.TerrainPlains, Temperature: 0.5, Humidity: 0.5, Resource: 0.6})
	}
	return m
}

func TestRunConservesAndRecords(t *testing.T) {
	e := newTestEngine(10000)
	m := lineMap(3)
	sp := &species.Species{
		Code:         "A1",
		Traits:       traits.Uniform(6),
		TrophicLevel: 1,
		Profile:      species.Profile{Photosynthetic: true, BodyMassKg: 0.1, BodyLengthCm: 10},
		Distribution: map[world.TileID]int64{0: 5000, 1: 3000, 2: 12000},
	}
	sp.RecountPopulation()
	before := sp.Population

	res := e.Run(Input{Turn: 1, Living: []*species.Species{sp}, Map: m})

	var deaths int64
	for _, c := range res.Cells {
		deaths += c.Deaths
		if c.Mortality < e.cfg.MinMortality || c.Mortality > e.cfg.MaxMortality {
			t.Errorf("tile %d mortality %f out of bounds", c.Tile, c.Mortality)
		}
	}
	if sp.Population != before-deaths {
		t.Errorf("population %d, want %d", sp.Population, before-deaths)
	}
	if len(res.Species) != 1 || res.Species[0].After != sp.Population {
		t.Fatalf("species result = %+v", res.Species)
	}

	crowded, ok := res.Local("A1", 2)
	if !ok {
		t.Fatal("no cell for tile 2")
	}
	if crowded.ResourcePressure != 1.2 {
		t.Errorf("resource pressure = %f, want 1.2", crowded.ResourcePressure)
	}
	sparse, _ := res.Local("A1", 1)
	if crowded.Mortality <= sparse.Mortality {
		t.Errorf("crowded tile mortality %f not above sparse %f", crowded.Mortality, sparse.Mortality)
	}
}

func TestRunMarksExtinct(t *testing.T) {
	e := newTestEngine(10000)
	m := lineMap(1)
	sp := &species.Species{
		Code:         "A1",
		Traits:       traits.Uniform(6),
		TrophicLevel: 1,
		Population:   1,
		Distribution: map[world.TileID]int64{0: 1},
		LagUntil:     5,
		LagPenalty:   1,
	}
	res := e.Run(Input{Turn: 3, Living: []*species.Species{sp}, Map: m})

	if sp.Status != species.StatusExtinct || sp.ExtinctTurn != 3 {
		t.Errorf("status %s extinct turn %d", sp.Status, sp.ExtinctTurn)
	}
	if len(res.Extinctions) != 1 || res.Extinctions[0] != "A1" {
		t.Errorf("extinctions = %v", res.Extinctions)
	}
}

func TestPredationAndTrophicPressure(t *testing.T) {
	e := newTestEngine(1e9)
	m := lineMap(1)
	grazer := &species.Species{
		Code: "A1", Traits: traits.Uniform(4), TrophicLevel: 2,
		Profile:      species.Profile{Diet: species.DietHerbivore, BodyMassKg: 10},
		Distribution: map[world.TileID]int64{0: 1000},
	}
	hunter := &species.Species{
		Code: "B1", Traits: traits.Uniform(4), TrophicLevel: 3.2,
		Profile:      species.Profile{Diet: species.DietCarnivore, BodyMassKg: 50},
		Distribution: map[world.TileID]int64{0: 100},
	}
	res := e.Run(Input{Turn: 1, Living: []*species.Species{grazer, hunter}, Map: m})

	g, _ := res.Local("A1", 0)
	h, _ := res.Local("B1", 0)
	if g.Pressures[Predation] <= 0 {
		t.Error("grazer feels no predation")
	}
	if h.Pressures[Predation] != 0 {
		t.Error("hunter is preyed upon")
	}
	if h.Pressures[Trophic] <= 0 {
		t.Error("hunter with scarce prey feels no trophic pressure")
	}
	if g.Pressures[Trophic] != e.cfg.Caps.Trophic {
		t.Errorf("grazer with no plants: trophic pressure %f, want cap", g.Pressures[Trophic])
	}
}
