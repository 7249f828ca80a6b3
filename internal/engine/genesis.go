package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/talgya/evo-world/internal/config"
	"github.com/talgya/evo-world/internal/genetics"
	"github.com/talgya/evo-world/internal/habitat"
	"github.com/talgya/evo-world/internal/mortality"
	"github.com/talgya/evo-world/internal/reproduction"
	"github.com/talgya/evo-world/internal/species"
	"github.com/talgya/evo-world/internal/traits"
	"github.com/talgya/evo-world/internal/trophic"
	"github.com/talgya/evo-world/internal/world"
)

// ErrEmptyWorld is returned when genesis could not place any species.
var ErrEmptyWorld = errors.New("no species could be placed")

// template is a founding species archetype. Traits are in slot order: heat,
// cold, drought, salinity, pressure, locomotion, sensing, defense,
// aggression, reproductive speed, sociality, metabolic efficiency.
type template struct {
	name        string
	description string
	profile     species.Profile
	traits      [traits.NumSlots]float64
}

var templates = []template{
	{"Sun kelp", "Broad-bladed algae forming shallow forests.",
		species.Profile{Diet: species.DietProducer, Habitat: species.HabitatMarine, Photosynthetic: true, BodyMassKg: 0.5, BodyLengthCm: 150, GenerationDays: 60},
		[traits.NumSlots]float64{2, 2, 1, 5, 3, 1, 1, 2, 1, 5, 2, 4}},
	{"Meadow grass", "Low perennial grass carpeting open ground.",
		species.Profile{Diet: species.DietProducer, Habitat: species.HabitatTerrestrial, Photosynthetic: true, BodyMassKg: 0.01, BodyLengthCm: 40, GenerationDays: 120},
		[traits.NumSlots]float64{2, 2, 3, 1, 1, 1, 1, 2, 1, 6, 3, 4}},
	{"Reef grazer", "Small schooling fish that crops algae.",
		species.Profile{Diet: species.DietHerbivore, Habitat: species.HabitatMarine, BodyMassKg: 0.2, BodyLengthCm: 12, GenerationDays: 120},
		[traits.NumSlots]float64{3, 2, 1, 7, 4, 4, 4, 4, 2, 6, 5, 5}},
	{"Plains grazer", "Heavy herd animal of the grasslands.",
		species.Profile{Diet: species.DietHerbivore, Habitat: species.HabitatTerrestrial, BodyMassKg: 250, BodyLengthCm: 200, GenerationDays: 700},
		[traits.NumSlots]float64{4, 4, 4, 1, 1, 6, 5, 5, 2, 3, 7, 5}},
	{"Burrowing vole", "Seed-eating rodent living in shallow tunnels.",
		species.Profile{Diet: species.DietHerbivore, Habitat: species.HabitatTerrestrial, BodyMassKg: 0.05, BodyLengthCm: 10, GenerationDays: 45},
		[traits.NumSlots]float64{3, 5, 3, 1, 1, 4, 5, 3, 2, 8, 4, 6}},
	{"Litter beetle", "Decomposer working through fallen leaves.",
		species.Profile{Diet: species.DietDecomposer, Habitat: species.HabitatTerrestrial, BodyMassKg: 0.001, BodyLengthCm: 0.8, GenerationDays: 20},
		[traits.NumSlots]float64{4, 3, 4, 1, 1, 3, 3, 5, 1, 9, 3, 8}},
	{"Shore crab", "Armoured scavenger of the tide line.",
		species.Profile{Diet: species.DietOmnivore, Habitat: species.HabitatCoastal, BodyMassKg: 0.4, BodyLengthCm: 9, GenerationDays: 200},
		[traits.NumSlots]float64{5, 4, 4, 7, 3, 5, 5, 8, 5, 6, 4, 6}},
	{"Dune skink", "Sand-swimming lizard hunting insects in the heat.",
		species.Profile{Diet: species.DietCarnivore, Habitat: species.HabitatTerrestrial, BodyMassKg: 0.1, BodyLengthCm: 20, GenerationDays: 365},
		[traits.NumSlots]float64{9, 2, 8, 1, 1, 6, 6, 4, 6, 5, 2, 7}},
	{"Reef barracuda", "Fast ambush predator of the shallows.",
		species.Profile{Diet: species.DietCarnivore, Habitat: species.HabitatMarine, BodyMassKg: 15, BodyLengthCm: 130, GenerationDays: 800},
		[traits.NumSlots]float64{4, 3, 1, 8, 5, 9, 7, 4, 8, 4, 3, 6}},
	{"Plains stalker", "Pack-hunting apex predator.",
		species.Profile{Diet: species.DietApex, Habitat: species.HabitatTerrestrial, BodyMassKg: 120, BodyLengthCm: 180, GenerationDays: 1100},
		[traits.NumSlots]float64{5, 5, 4, 1, 1, 9, 9, 6, 9, 3, 6, 7}},
	{"Sky gleaner", "Agile bird taking seeds and insects on the wing.",
		species.Profile{Diet: species.DietOmnivore, Habitat: species.HabitatAerial, BodyMassKg: 0.3, BodyLengthCm: 25, GenerationDays: 365},
		[traits.NumSlots]float64{5, 5, 4, 2, 1, 9, 8, 3, 4, 5, 6, 6}},
	{"Deep angler", "Lure-bearing predator of the dark water.",
		species.Profile{Diet: species.DietCarnivore, Habitat: species.HabitatMarine, BodyMassKg: 4, BodyLengthCm: 60, GenerationDays: 900},
		[traits.NumSlots]float64{2, 6, 1, 8, 10, 4, 9, 4, 7, 3, 1, 8}},
}

// Genesis seeds the founding species, one genus each, onto m. Placement is
// reproducible for a given seed. Templates with no suitable tiles are
// skipped.
func Genesis(cfg config.Config, m *world.Map, cl *trophic.Classifier, capacity mortality.Capacity, seed int64) (*species.Table, error) {
	tbl := species.NewTable()
	for i := 0; i < cfg.World.InitialSpecies; i++ {
		tpl := templates[i%len(templates)]
		genus := string(rune('A' + i))
		sp := &species.Species{
			Code:         species.Code(genus + "1"),
			Name:         tpl.name,
			Description:  tpl.description,
			Profile:      tpl.profile,
			SizeClass:    species.SizeClassFor(tpl.profile.BodyLengthCm),
			Distribution: make(map[world.TileID]int64),
			Status:       species.StatusAlive,
			LastTrack:    species.TrackAdapt,
		}
		if i >= len(templates) {
			sp.Name = fmt.Sprintf("%s (%s)", tpl.name, genus)
		}
		sp.TrophicLevel = cl.Classify(sp.Profile)
		sp.Traits = traits.Vector{Core: tpl.traits}
		sp.Traits.Clamp()
		sp.Traits.EnforceSpecialization(cfg.Traits.SpecializationCap, cfg.Traits.MaxSpecialized)
		sp.Traits.FitSum(0.95*cl.CapFor(sp), nil)

		rng := rand.New(rand.NewPCG(uint64(seed), uint64(i)+1))
		if !place(sp, m, capacity, cfg.Dispersal.MinSuitability, rng) {
			slog.Warn("genesis template skipped", "name", tpl.name, "reason", "no suitable tiles")
			continue
		}
		if err := tbl.Add(sp); err != nil {
			return nil, fmt.Errorf("genesis: %w", err)
		}
		slog.Debug("species seeded", "code", sp.Code, "name", sp.Name, "level", sp.TrophicLevel, "population", sp.Population, "tiles", len(sp.Distribution))
	}
	if tbl.Len() == 0 {
		return nil, fmt.Errorf("genesis: %w", ErrEmptyWorld)
	}
	return tbl, nil
}

type scoredTile struct {
	id    world.TileID
	score float64
}

func rankTiles(sp *species.Species, m *world.Map, ids []world.TileID, cutoff float64) []scoredTile {
	var out []scoredTile
	for _, id := range ids {
		if s := habitat.Suitability(sp, m, id); s > 0 && s >= cutoff {
			out = append(out, scoredTile{id, s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].id < out[j].id
	})
	return out
}

// place picks a home range among the best tiles and fills it to half of
// carrying capacity, scaled by suitability.
func place(sp *species.Species, m *world.Map, capacity mortality.Capacity, cutoff float64, rng *rand.Rand) bool {
	all := make([]world.TileID, len(m.Tiles))
	for i, t := range m.Tiles {
		all[i] = t.ID
	}
	candidates := rankTiles(sp, m, all, cutoff)
	if len(candidates) == 0 {
		return false
	}
	start := candidates[rng.IntN(min(8, len(candidates)))]
	home := append([]scoredTile{start}, rankTiles(sp, m, m.Within(start.id, 2), cutoff)...)
	if len(home) > 7 {
		home = home[:7]
	}
	for _, h := range home {
		k := capacity.CarryingCapacity(sp, m.Tile(h.id))
		sp.Distribution[h.id] = max(50, int64(math.Round(0.5*k*h.score)))
	}
	sp.RecountPopulation()
	return true
}

// Bootstrap generates a world and its founding species from cfg.
func Bootstrap(cfg config.Config) (*State, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int64()
	}
	m := world.Generate(cfg.World, seed)
	cl := trophic.NewClassifier(cfg.Trophic)
	tbl, err := Genesis(cfg, m, cl, reproduction.NewEngine(cfg.Reproduction, cl), seed)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	st := &State{Seed: seed, World: m, Species: tbl, Genera: make(species.Genera)}
	updateGenera(st, genetics.NewCalculator(cfg.Genetics))
	slog.Info("world created", "seed", seed, "tiles", m.TileCount(), "species", tbl.Len())
	return st, nil
}

// updateGenera refreshes distance matrices and gene pools for every genus
// with living members and drops the rest. Returns the dropped genus codes.
func updateGenera(st *State, gc *genetics.Calculator) []string {
	keys, groups := st.Species.Genera()
	for _, k := range keys {
		gc.UpdateGenus(st.Genera.Ensure(k), groups[k])
	}
	return st.Genera.Prune(st.Species)
}
