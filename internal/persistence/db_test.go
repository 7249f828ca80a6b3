package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/talgya/evo-world/internal/config"
	"github.com/talgya/evo-world/internal/engine"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "evo.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Seed = 11
	cfg.World.Radius = 5
	cfg.World.InitialSpecies = 6
	return cfg
}

func TestLoadStateEmpty(t *testing.T) {
	db := openTestDB(t)
	if _, _, err := db.LoadState(context.Background()); !errors.Is(err, ErrNoState) {
		t.Fatalf("err = %v, want ErrNoState", err)
	}
}

func TestSaveStateRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	st, err := engine.Bootstrap(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SaveState(ctx, st); err != nil {
		t.Fatal(err)
	}

	got, report, err := db.LoadState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report != nil {
		t.Errorf("expected no report before the first turn")
	}
	if got.Seed != st.Seed || got.Turn != 0 {
		t.Errorf("seed/turn = %d/%d, want %d/0", got.Seed, got.Turn, st.Seed)
	}
	if got.World.TileCount() != st.World.TileCount() || got.World.Radius != st.World.Radius {
		t.Fatalf("map mismatch: %d tiles radius %d", got.World.TileCount(), got.World.Radius)
	}
	for i, tile := range st.World.Tiles {
		if *got.World.Tiles[i] != *tile {
			t.Fatalf("tile %d: %+v != %+v", i, *got.World.Tiles[i], *tile)
		}
		if got.World.At(tile.Coord) == nil {
			t.Fatalf("tile %d not indexed by coordinate", i)
		}
	}
	for _, sp := range st.Species.All() {
		other := got.Species.Get(sp.Code)
		if other == nil {
			t.Fatalf("%s not loaded", sp.Code)
		}
		if other.Name != sp.Name || other.Population != sp.Population || other.Traits.Core != sp.Traits.Core {
			t.Errorf("%s loaded as %+v", sp.Code, other)
		}
		for id, n := range sp.Distribution {
			if other.Distribution[id] != n {
				t.Errorf("%s tile %d: %d != %d", sp.Code, id, other.Distribution[id], n)
			}
		}
	}
	if len(got.Genera) != len(st.Genera) {
		t.Errorf("genera = %d, want %d", len(got.Genera), len(st.Genera))
	}
}

func TestWriteTurnPersistsEverything(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	cfg := testConfig()
	st, err := engine.Bootstrap(cfg)
	if err != nil {
		t.Fatal(err)
	}
	o, err := engine.NewOrchestrator(cfg, st, engine.WithWriter(db))
	if err != nil {
		t.Fatal(err)
	}
	var last *engine.TurnReport
	for range 3 {
		if last, err = o.RunTurn(ctx, engine.Directives{}); err != nil {
			t.Fatal(err)
		}
	}

	got, report, err := db.LoadState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Turn != 3 || report == nil || report.Turn != 3 {
		t.Fatalf("loaded turn %d, report %+v", got.Turn, report)
	}
	if report.ID != last.ID || report.Stats.Living != last.Stats.Living {
		t.Errorf("report mismatch: %s/%d vs %s/%d", report.ID, report.Stats.Living, last.ID, last.Stats.Living)
	}
	want := o.State()
	for _, sp := range want.Species.All() {
		other := got.Species.Get(sp.Code)
		if other == nil || other.Population != sp.Population || other.Status != sp.Status {
			t.Errorf("%s not persisted faithfully", sp.Code)
		}
	}

	// A restored orchestrator carries on from the saved turn.
	o2, err := engine.NewOrchestrator(cfg, got, engine.WithLastReport(report), engine.WithWriter(db))
	if err != nil {
		t.Fatal(err)
	}
	if r, err := o2.RunTurn(ctx, engine.Directives{}); err != nil || r.Turn != 4 {
		t.Fatalf("resumed turn = %v, err %v", r, err)
	}
}

func TestRecentEvents(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	cfg := testConfig()
	st, err := engine.Bootstrap(cfg)
	if err != nil {
		t.Fatal(err)
	}
	code := st.Species.Living()[0].Code

	report := &engine.TurnReport{ID: "r1", RunID: "run", Turn: 1, Events: []engine.Event{
		{Turn: 1, Kind: engine.EventEnvironment, Description: "shift", Meta: map[string]any{"stress": 0.5}},
		{Turn: 1, Kind: engine.EventMigration, Code: code, Description: "moved"},
	}}
	st.Turn = 1
	if err := db.WriteTurn(ctx, st, report); err != nil {
		t.Fatal(err)
	}

	all, err := db.RecentEvents(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Kind != engine.EventMigration {
		t.Fatalf("events = %+v", all)
	}
	if all[1].Meta["stress"] != 0.5 {
		t.Errorf("meta = %v", all[1].Meta)
	}

	mine, err := db.RecentEvents(ctx, code, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].Code != code {
		t.Errorf("filtered events = %+v", mine)
	}
}
