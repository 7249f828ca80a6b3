package speciation

import (
	"math"
	"testing"

	"github.com/talgya/evo-world/internal/config"
	"github.com/talgya/evo-world/internal/species"
	"github.com/talgya/evo-world/internal/traits"
	"github.com/talgya/evo-world/internal/trophic"
	"github.com/talgya/evo-world/internal/world"
)

func newTestEngine(mut func(*config.SpeciationConfig)) *Engine {
	cfg := config.Default()
	if mut != nil {
		mut(&cfg.Speciation)
	}
	return NewEngine(cfg.Speciation, cfg.Traits, trophic.NewClassifier(cfg.Trophic), cfg.Seed)
}

// splitWorld is a strip of ten land tiles: cold on the west end, hot and dry
// on the east end, temperate in between.
func splitWorld() *world.Map {
	m := world.NewMap(10)
	for q := 0; q < 10; q++ {
		t := &world.Tile{Coord: world.HexCoord{Q: q}, Terrain: world.TerrainPlains, Temperature: 0.5, Humidity: 0.5, Resource: 0.5}
		switch {
		case q < 2:
			t.Temperature, t.Terrain = 0.1, world.TerrainTundra
		case q >= 8:
			t.Temperature, t.Humidity, t.Terrain = 0.95, 0.05, world.TerrainDesert
		}
		m.Add(t)
	}
	return m
}

func spanning(dist map[world.TileID]int64) *species.Species {
	sp := &species.Species{
		Code:         "A1",
		Name:         "Test grazer",
		Traits:       traits.Uniform(5),
		TrophicLevel: 2,
		Profile:      species.Profile{Diet: species.DietHerbivore, BodyMassKg: 1, BodyLengthCm: 30},
		Distribution: dist,
	}
	sp.SizeClass = species.SizeClassFor(sp.Profile.BodyLengthCm)
	sp.RecountPopulation()
	return sp
}

func TestFounderSplit(t *testing.T) {
	for _, pop := range []int64{5, 10, 99, 100, 101, 1000, 12345, 999_999, 1 << 40} {
		for _, share := range []float64{0.5, 0.6, 0.65, 0.7, 0.8, 0.9} {
			parent, child, ok := FounderSplit(pop, share)
			if !ok {
				t.Fatalf("FounderSplit(%d, %.2f) refused", pop, share)
			}
			if parent+child != pop {
				t.Fatalf("FounderSplit(%d, %.2f): %d + %d != %d", pop, share, parent, child, pop)
			}
			r := float64(child) / float64(pop)
			if r < MinChildShare || r > MaxChildShare {
				t.Fatalf("FounderSplit(%d, %.2f): child share %f", pop, share, r)
			}
		}
	}
	if _, _, ok := FounderSplit(1, 0.7); ok {
		t.Error("population of 1 should not split")
	}
}

func TestChooseTrack(t *testing.T) {
	e := newTestEngine(nil)
	tests := []struct {
		name string
		sim  float64
		prev species.Track
		want species.Track
	}{
		{"similar regions adapt", 0.92, species.TrackNone, species.TrackAdapt},
		{"similar regions leave speciation", 0.92, species.TrackSpeciate, species.TrackAdapt},
		{"divergent regions speciate", 0.80, species.TrackNone, species.TrackSpeciate},
		{"divergent regions leave adaptation", 0.80, species.TrackAdapt, species.TrackSpeciate},
		{"band keeps adapt", 0.87, species.TrackAdapt, species.TrackAdapt},
		{"band keeps speciate", 0.87, species.TrackSpeciate, species.TrackSpeciate},
		{"band defaults to adapt", 0.87, species.TrackNone, species.TrackAdapt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.ChooseTrack(tt.sim, tt.prev); got != tt.want {
				t.Errorf("ChooseTrack(%.2f, %s) = %s, want %s", tt.sim, tt.prev, got, tt.want)
			}
		})
	}
}

func TestRegions(t *testing.T) {
	e := newTestEngine(nil)
	m := splitWorld()
	sp := spanning(map[world.TileID]int64{0: 1000, 1: 1000, 5: 40, 8: 1000, 9: 1000})

	regions := e.Regions(sp, m)
	if len(regions) != 2 {
		t.Fatalf("regions = %d, want 2 (the 1%% cluster dropped)", len(regions))
	}
	if regions[0].Tiles[0] != 0 || regions[1].Tiles[0] != 8 {
		t.Errorf("region order = %v, %v", regions[0].Tiles, regions[1].Tiles)
	}
	if Adjacent(m, regions[0], regions[1]) {
		t.Error("separated regions reported adjacent")
	}
	if math.Abs(regions[1].Env.Temperature-0.95) > 1e-12 {
		t.Errorf("hot region mean temperature = %f", regions[1].Env.Temperature)
	}
}

func TestRegionsExcludeUninhabitable(t *testing.T) {
	e := newTestEngine(nil)
	m := splitWorld()
	m.Tile(9).Terrain = world.TerrainOcean
	sp := spanning(map[world.TileID]int64{8: 1000, 9: 1000})

	regions := e.Regions(sp, m)
	if len(regions) != 1 || len(regions[0].Tiles) != 1 || regions[0].Tiles[0] != 8 {
		t.Errorf("regions = %+v, want only tile 8", regions)
	}
}

func TestDecideBranchesOnDivergence(t *testing.T) {
	e := newTestEngine(func(c *config.SpeciationConfig) { c.BaseProbability = 1 })
	m := splitWorld()
	sp := spanning(map[world.TileID]int64{0: 1000, 1: 1000, 8: 1000, 9: 1000})

	d := e.Decide(sp, m, 30, 10)
	if d.Track != species.TrackSpeciate {
		t.Fatalf("track = %s (similarity %f), want speciate", d.Track, d.Similarity)
	}
	if !d.Isolated || !d.Branch {
		t.Fatalf("decision = %+v, want isolated branch", d)
	}
	if d.ParentShare < 0.6 || d.ParentShare > 0.8 {
		t.Errorf("parent share %f outside [0.6, 0.8]", d.ParentShare)
	}
	if d.LagPenalty < 0.05 || d.LagPenalty > 0.15 {
		t.Errorf("lag penalty %f outside [0.05, 0.15]", d.LagPenalty)
	}

	again := e.Decide(spanning(map[world.TileID]int64{0: 1000, 1: 1000, 8: 1000, 9: 1000}), m, 30, 10)
	if again.ParentShare != d.ParentShare || again.LagPenalty != d.LagPenalty {
		t.Error("decision draws are not reproducible")
	}
}

func TestDecideAdaptsWhenRegionsAgree(t *testing.T) {
	e := newTestEngine(func(c *config.SpeciationConfig) { c.BaseProbability = 1 })
	m := splitWorld()
	sp := spanning(map[world.TileID]int64{2: 1000, 3: 1000, 6: 1000, 7: 1000})

	d := e.Decide(sp, m, 30, 10)
	if len(d.Regions) != 2 {
		t.Fatalf("regions = %d", len(d.Regions))
	}
	if d.Track != species.TrackAdapt || d.Branch {
		t.Errorf("decision = %s branch=%v similarity=%f", d.Track, d.Branch, d.Similarity)
	}
}

func TestDecideCooldownAndEarlyGame(t *testing.T) {
	e := newTestEngine(func(c *config.SpeciationConfig) { c.BaseProbability = 1 })
	m := splitWorld()
	dist := map[world.TileID]int64{0: 1000, 1: 1000, 8: 1000, 9: 1000}

	sp := spanning(dist)
	sp.CooldownUntil = 40
	if d := e.Decide(sp, m, 30, 10); d.Branch || d.Reason != "cooldown" {
		t.Errorf("cooldown not respected: %+v", d)
	}

	sp = spanning(dist)
	sp.CooldownUntil = 40
	if d := e.Decide(sp, m, 5, 10); !d.Branch {
		t.Errorf("early game did not skip cooldown: %+v", d)
	}

	sp = spanning(dist)
	sp.Subspecies = true
	if d := e.Decide(sp, m, 30, 10); d.Branch {
		t.Error("subspecies branched")
	}
}

func TestBranchProbabilityFactors(t *testing.T) {
	e := newTestEngine(nil)
	if e.CapDamping(0) != 1 || e.CapDamping(120) != 0 {
		t.Errorf("cap damping endpoints = %f, %f", e.CapDamping(0), e.CapDamping(120))
	}
	if e.BranchProbability(100, 0) >= e.BranchProbability(10, 0) {
		t.Error("probability should fall toward the soft cap")
	}
	if e.BranchProbability(10, 5) <= e.BranchProbability(10, 0) {
		t.Error("isolation should raise probability")
	}
	if e.BranchThreshold(false, false) <= e.BranchThreshold(true, false) {
		t.Error("missing isolation should raise the threshold")
	}
	if e.BranchThreshold(true, true) >= e.BranchThreshold(true, false) {
		t.Error("early game should lower the threshold")
	}
}

func TestExecuteFounderEffect(t *testing.T) {
	e := newTestEngine(func(c *config.SpeciationConfig) { c.BaseProbability = 1 })
	m := splitWorld()
	parent := spanning(map[world.TileID]int64{0: 1000, 1: 1000, 8: 700, 9: 300})
	tbl := species.NewTable(parent)

	d := e.Decide(parent, m, 30, 1)
	if !d.Branch {
		t.Fatalf("setup: no branch: %+v", d)
	}
	region, _ := d.Diverging()
	th := e.Constraints(region.Env)
	childTraits := e.FinalizeChild(e.RuleChild(parent, region), th, e.trophic.CapFor(parent))

	before := parent.Population
	child, b, err := e.Execute(tbl, parent, d, ChildSpec{Traits: childTraits, Source: "rule"}, 30)
	if err != nil {
		t.Fatal(err)
	}

	if parent.Population+child.Population != before {
		t.Errorf("parent %d + child %d != %d", parent.Population, child.Population, before)
	}
	r := float64(child.Population) / float64(before)
	if r < 0.2 || r > 0.4 {
		t.Errorf("child share %f outside [0.2, 0.4]", r)
	}
	for id := range child.Distribution {
		if id != 8 && id != 9 {
			t.Errorf("child placed on tile %d outside the diverging region", id)
		}
	}
	if child.Code != "A1.1" || child.ParentCode != "A1" || tbl.Get("A1.1") != child {
		t.Errorf("child code %s parent %s", child.Code, child.ParentCode)
	}
	if !child.Subspecies || child.PromoteAtTurn != 45 {
		t.Errorf("child subspecies=%v promote=%d", child.Subspecies, child.PromoteAtTurn)
	}
	if parent.LagUntil != 33 || parent.LagPenalty != d.LagPenalty || parent.CooldownUntil != 40 {
		t.Errorf("parent lag until %d penalty %f cooldown %d", parent.LagUntil, parent.LagPenalty, parent.CooldownUntil)
	}
	if child.TrophicLevel != parent.TrophicLevel {
		t.Error("trophic level not inherited")
	}
	if !th.Satisfies(child.Traits) {
		t.Errorf("child traits %v violate thresholds %v", child.Traits.Core, th)
	}
	if b.ParentAfter != parent.Population || b.ChildAfter != child.Population {
		t.Errorf("branch record %+v", b)
	}
}

func TestConstraints(t *testing.T) {
	e := newTestEngine(nil)
	tests := []struct {
		name string
		env  world.Tile
		want []traits.Slot
	}{
		{"temperate", world.Tile{Temperature: 0.5, Humidity: 0.5}, nil},
		{"hot and humid", world.Tile{Temperature: 0.8, Humidity: 0.8}, []traits.Slot{traits.HeatTolerance}},
		{"deep ocean", world.Tile{Terrain: world.TerrainOcean, Depth: 0.8, Temperature: 0.5, Humidity: 1}, []traits.Slot{traits.PressureTolerance, traits.Locomotion}},
		{"arid heat", world.Tile{Temperature: 0.9, Humidity: 0.1}, []traits.Slot{traits.DroughtTolerance}},
		{"cold", world.Tile{Temperature: 0.1, Humidity: 0.5}, []traits.Slot{traits.ColdTolerance}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := e.Constraints(&tt.env)
			if len(th) != len(tt.want) {
				t.Fatalf("thresholds = %v, want slots %v", th, tt.want)
			}
			for _, s := range tt.want {
				if _, ok := th[s]; !ok {
					t.Errorf("missing threshold on %s", s)
				}
			}
		})
	}
}

func TestFinalizeChild(t *testing.T) {
	e := newTestEngine(nil)
	th := Thresholds{traits.PressureTolerance: 8, traits.Locomotion: 6}
	v := traits.Uniform(7)
	v.Set(traits.HeatTolerance, 14)
	v.Set(traits.ColdTolerance, 13)
	v.Set(traits.Defense, 12)

	got := e.FinalizeChild(v, th, 80)
	if !th.Satisfies(got) {
		t.Errorf("thresholds violated: %v", got.Core)
	}
	if got.Sum() > 80+1e-9 {
		t.Errorf("sum %f over cap", got.Sum())
	}
	if got.Specialized(10) > 2 {
		t.Errorf("%d specialized traits", got.Specialized(10))
	}
	if !got.InBounds() {
		t.Error("out of bounds")
	}
}

func TestFinalizeChildUnderTightCap(t *testing.T) {
	e := newTestEngine(nil)

	t.Run("protected slots give up their surplus", func(t *testing.T) {
		th := Thresholds{traits.PressureTolerance: 8}
		v := traits.Uniform(traits.MinValue)
		v.Set(traits.PressureTolerance, 15)

		got := e.FinalizeChild(v, th, 20)
		if !th.Satisfies(got) {
			t.Errorf("pressure tolerance %f below 8", got.Get(traits.PressureTolerance))
		}
		if math.Abs(got.Sum()-20) > 1e-9 {
			t.Errorf("sum = %f, want 20", got.Sum())
		}
	})

	t.Run("minimums scaled to the cap", func(t *testing.T) {
		th := Thresholds{
			traits.HeatTolerance:     15,
			traits.ColdTolerance:     15,
			traits.PressureTolerance: 15,
			traits.Locomotion:        15,
		}
		fitted := th.Fit(traits.Vector{}, 50)
		for s, lo := range fitted {
			if math.Abs(lo-10.5) > 1e-9 {
				t.Errorf("fitted %s = %f, want 10.5", s, lo)
			}
		}

		got := e.FinalizeChild(traits.Uniform(7), th, 50)
		if got.Sum() > 50+1e-9 {
			t.Errorf("sum %f over cap", got.Sum())
		}
		if !fitted.Satisfies(got) {
			t.Errorf("fitted minimums violated: %v", got.Core)
		}
		if !got.InBounds() {
			t.Error("out of bounds")
		}
	})

	t.Run("feasible minimums untouched", func(t *testing.T) {
		th := Thresholds{traits.PressureTolerance: 8}
		fitted := th.Fit(traits.Vector{}, 80)
		if fitted[traits.PressureTolerance] != 8 {
			t.Errorf("fitted = %v", fitted)
		}
	})
}

type fixedHybridizer bool

func (f fixedHybridizer) CanHybridize(*species.Species, *species.Species) bool { return bool(f) }

func TestLifecycle(t *testing.T) {
	e := newTestEngine(nil)

	setup := func() (*species.Table, *species.Species, *species.Species) {
		parent := spanning(map[world.TileID]int64{0: 5000, 1: 5000})
		child := spanning(map[world.TileID]int64{1: 800, 2: 200})
		child.Code, child.ParentCode = "A1.1", "A1"
		child.Subspecies, child.PromoteAtTurn = true, 45
		return species.NewTable(parent, child), parent, child
	}

	tbl, _, child := setup()
	if ev := e.Lifecycle(tbl, fixedHybridizer(true), 44); len(ev) != 0 || !child.Subspecies {
		t.Fatalf("promoted early: %+v", ev)
	}

	tbl, parent, child := setup()
	ev := e.Lifecycle(tbl, fixedHybridizer(true), 45)
	if len(ev) != 1 || ev[0].Kind != KindReabsorbed {
		t.Fatalf("events = %+v, want reabsorption", ev)
	}
	if child.Status != species.StatusSplit || child.Population != 0 {
		t.Errorf("child status %s population %d", child.Status, child.Population)
	}
	if parent.Population != 11000 {
		t.Errorf("parent population %d, want 11000", parent.Population)
	}

	tbl, _, child = setup()
	ev = e.Lifecycle(tbl, fixedHybridizer(false), 45)
	if len(ev) != 1 || ev[0].Kind != KindPromoted || child.Subspecies || !child.Alive() {
		t.Errorf("events = %+v subspecies=%v", ev, child.Subspecies)
	}
}

// adaptedTo places sp on its population-weighted target, the state
// adaptation converges to.
func adaptedTo(e *Engine, sp *species.Species, m *world.Map) {
	sp.Traits = OverallTarget(sp, e.Regions(sp, m))
}

func TestDecideOnTargetSimilarity(t *testing.T) {
	e := newTestEngine(func(c *config.SpeciationConfig) { c.BaseProbability = 1 })
	dist := map[world.TileID]int64{0: 1000, 1: 1000, 8: 1000, 9: 1000}

	t.Run("close targets adapt", func(t *testing.T) {
		m := world.NewMap(10)
		for q := 0; q < 10; q++ {
			temp := 0.5
			switch {
			case q < 2:
				temp = 0.30
			case q >= 8:
				temp = 0.32
			}
			m.Add(&world.Tile{Coord: world.HexCoord{Q: q}, Terrain: world.TerrainPlains, Temperature: temp, Humidity: 0.5, Resource: 0.5})
		}
		sp := spanning(dist)
		adaptedTo(e, sp, m)

		d := e.Decide(sp, m, 30, 10)
		if len(d.Regions) != 2 || !d.Isolated {
			t.Fatalf("regions = %d isolated = %v", len(d.Regions), d.Isolated)
		}
		want := traits.Cosine(d.Regions[0].Target, d.Regions[1].Target)
		if math.Abs(d.Similarity-want) > 1e-12 || d.Similarity <= 0.9 {
			t.Fatalf("similarity = %f, target cosine %f", d.Similarity, want)
		}
		if d.Track != species.TrackAdapt || d.Branch {
			t.Errorf("track = %s branch = %v, want adapt", d.Track, d.Branch)
		}
	})

	t.Run("divergent targets speciate", func(t *testing.T) {
		m := splitWorld()
		sp := spanning(dist)
		adaptedTo(e, sp, m)

		d := e.Decide(sp, m, 30, 10)
		if len(d.Regions) != 2 {
			t.Fatalf("regions = %d", len(d.Regions))
		}
		if d.Similarity >= 0.85 {
			t.Fatalf("similarity = %f, want below 0.85", d.Similarity)
		}
		if d.Track != species.TrackSpeciate || !d.Branch {
			t.Errorf("track = %s branch = %v reason %q, want speciate", d.Track, d.Branch, d.Reason)
		}
	})
}
