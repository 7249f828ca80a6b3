// Package persistence provides SQLite-based storage for committed turns.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/evo-world/internal/engine"
	"github.com/talgya/evo-world/internal/species"
	"github.com/talgya/evo-world/internal/world"
)

// ErrNoState is returned by LoadState when nothing has been saved yet.
var ErrNoState = errors.New("no saved state")

var (
	_ engine.SnapshotReader = (*DB)(nil)
	_ engine.ResultWriter   = (*DB)(nil)
)

// DB wraps a SQLite connection for world state persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Writes are serialized by the orchestrator; one connection keeps
	// SQLite from returning busy errors between readers and the writer.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS species (
		code TEXT PRIMARY KEY,
		genus TEXT NOT NULL,
		name TEXT NOT NULL,
		status INTEGER NOT NULL,
		tier INTEGER NOT NULL,
		population INTEGER NOT NULL,
		trophic_level REAL NOT NULL,
		parent_code TEXT NOT NULL DEFAULT '',
		created_turn INTEGER NOT NULL,
		extinct_turn INTEGER NOT NULL DEFAULT 0,
		data_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tiles (
		id INTEGER PRIMARY KEY,
		q INTEGER NOT NULL,
		r INTEGER NOT NULL,
		terrain INTEGER NOT NULL,
		temperature REAL NOT NULL,
		humidity REAL NOT NULL,
		elevation REAL NOT NULL,
		resource REAL NOT NULL,
		depth REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS genera (
		code TEXT PRIMARY KEY,
		gene_pool_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS genus_distances (
		genus TEXT NOT NULL,
		a TEXT NOT NULL,
		b TEXT NOT NULL,
		distance REAL NOT NULL,
		PRIMARY KEY (genus, a, b)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		turn INTEGER NOT NULL,
		kind TEXT NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		related TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL,
		meta_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS turn_reports (
		turn INTEGER PRIMARY KEY,
		id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		report_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_turn ON events(turn);
	CREATE INDEX IF NOT EXISTS idx_events_code ON events(code);
	CREATE INDEX IF NOT EXISTS idx_species_status ON species(status);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type tileRow struct {
	ID          int     `db:"id"`
	Q           int     `db:"q"`
	R           int     `db:"r"`
	Terrain     int     `db:"terrain"`
	Temperature float64 `db:"temperature"`
	Humidity    float64 `db:"humidity"`
	Elevation   float64 `db:"elevation"`
	Resource    float64 `db:"resource"`
	Depth       float64 `db:"depth"`
}

type genusRow struct {
	Code     string `db:"code"`
	GenePool string `db:"gene_pool_json"`
}

type distanceRow struct {
	Genus    string  `db:"genus"`
	A        string  `db:"a"`
	B        string  `db:"b"`
	Distance float64 `db:"distance"`
}

type eventRow struct {
	Turn        int    `db:"turn"`
	Kind        string `db:"kind"`
	Code        string `db:"code"`
	Related     string `db:"related"`
	Description string `db:"description"`
	Meta        string `db:"meta_json"`
}

// SaveState replaces the stored world with st without recording a turn.
// Used for the freshly bootstrapped world.
func (db *DB) SaveState(ctx context.Context, st *engine.State) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := saveState(ctx, tx, st); err != nil {
		return err
	}
	return tx.Commit()
}

// WriteTurn stores a completed turn and the state it produced in a single
// transaction.
func (db *DB) WriteTurn(ctx context.Context, st *engine.State, report *engine.TurnReport) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := saveState(ctx, tx, st); err != nil {
		return err
	}
	if err := saveEvents(ctx, tx, report.Events); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO turn_reports (turn, id, run_id, report_json) VALUES (?, ?, ?, ?)",
		report.Turn, report.ID, report.RunID, string(data),
	); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit turn %d: %w", report.Turn, err)
	}
	slog.Debug("turn saved", "turn", report.Turn, "species", st.Species.Len(), "events", len(report.Events))
	return nil
}

func saveState(ctx context.Context, tx *sqlx.Tx, st *engine.State) error {
	if err := saveSpecies(ctx, tx, st.Species); err != nil {
		return fmt.Errorf("save species: %w", err)
	}
	if err := saveTiles(ctx, tx, st.World); err != nil {
		return fmt.Errorf("save tiles: %w", err)
	}
	if err := saveGenera(ctx, tx, st.Genera); err != nil {
		return fmt.Errorf("save genera: %w", err)
	}
	watch, err := json.Marshal(st.Watchlist)
	if err != nil {
		return err
	}
	meta := map[string]string{
		"seed":            strconv.FormatInt(st.Seed, 10),
		"turn":            strconv.Itoa(st.Turn),
		"radius":          strconv.Itoa(st.World.Radius),
		"watchlist":       string(watch),
		"mass_extinction": strconv.FormatBool(st.MassExtinction),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("save meta %s: %w", k, err)
		}
	}
	return nil
}

// saveSpecies writes every species record (full replace).
func saveSpecies(ctx context.Context, tx *sqlx.Tx, tbl *species.Table) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM species"); err != nil {
		return err
	}
	stmt, err := tx.PreparexContext(ctx, `INSERT INTO species
		(code, genus, name, status, tier, population, trophic_level,
		 parent_code, created_turn, extinct_turn, data_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sp := range tbl.All() {
		data, err := json.Marshal(sp)
		if err != nil {
			return fmt.Errorf("encode %s: %w", sp.Code, err)
		}
		_, err = stmt.ExecContext(ctx,
			string(sp.Code), sp.Code.Genus(), sp.Name, int(sp.Status), int(sp.Tier),
			sp.Population, sp.TrophicLevel, string(sp.ParentCode),
			sp.CreatedTurn, sp.ExtinctTurn, string(data),
		)
		if err != nil {
			return fmt.Errorf("insert species %s: %w", sp.Code, err)
		}
	}
	return nil
}

func saveTiles(ctx context.Context, tx *sqlx.Tx, m *world.Map) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM tiles"); err != nil {
		return err
	}
	stmt, err := tx.PreparexContext(ctx, `INSERT INTO tiles
		(id, q, r, terrain, temperature, humidity, elevation, resource, depth)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range m.Tiles {
		if _, err := stmt.ExecContext(ctx,
			int(t.ID), t.Coord.Q, t.Coord.R, int(t.Terrain),
			t.Temperature, t.Humidity, t.Elevation, t.Resource, t.Depth,
		); err != nil {
			return fmt.Errorf("insert tile %d: %w", t.ID, err)
		}
	}
	return nil
}

func saveGenera(ctx context.Context, tx *sqlx.Tx, genera species.Genera) error {
	for _, q := range []string{"DELETE FROM genera", "DELETE FROM genus_distances"} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	for code, g := range genera {
		pool, err := json.Marshal(g.GenePool)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO genera (code, gene_pool_json) VALUES (?, ?)", code, string(pool)); err != nil {
			return fmt.Errorf("insert genus %s: %w", code, err)
		}
		for k, d := range g.Distances {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO genus_distances (genus, a, b, distance) VALUES (?, ?, ?, ?)",
				code, string(k.A), string(k.B), d,
			); err != nil {
				return fmt.Errorf("insert distance %s/%s: %w", k.A, k.B, err)
			}
		}
	}
	return nil
}

func saveEvents(ctx context.Context, tx *sqlx.Tx, events []engine.Event) error {
	for _, e := range events {
		meta := []byte("{}")
		if len(e.Meta) > 0 {
			var err error
			if meta, err = json.Marshal(e.Meta); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO events (turn, kind, code, related, description, meta_json) VALUES (?, ?, ?, ?, ?, ?)",
			e.Turn, e.Kind, string(e.Code), string(e.Related), e.Description, string(meta),
		); err != nil {
			return err
		}
	}
	return nil
}

// LoadState restores the last saved world and its most recent report. The
// report is nil if the world was saved before any turn ran.
func (db *DB) LoadState(ctx context.Context) (*engine.State, *engine.TurnReport, error) {
	meta, err := db.meta(ctx)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := meta["turn"]; !ok {
		return nil, nil, ErrNoState
	}

	st := &engine.State{}
	if st.Seed, err = strconv.ParseInt(meta["seed"], 10, 64); err != nil {
		return nil, nil, fmt.Errorf("meta seed: %w", err)
	}
	if st.Turn, err = strconv.Atoi(meta["turn"]); err != nil {
		return nil, nil, fmt.Errorf("meta turn: %w", err)
	}
	radius, err := strconv.Atoi(meta["radius"])
	if err != nil {
		return nil, nil, fmt.Errorf("meta radius: %w", err)
	}
	if w := meta["watchlist"]; w != "" {
		if err := json.Unmarshal([]byte(w), &st.Watchlist); err != nil {
			return nil, nil, fmt.Errorf("meta watchlist: %w", err)
		}
	}
	st.MassExtinction = meta["mass_extinction"] == "true"

	if st.World, err = db.loadMap(ctx, radius); err != nil {
		return nil, nil, err
	}
	if st.Species, err = db.loadSpecies(ctx); err != nil {
		return nil, nil, err
	}
	if st.Genera, err = db.loadGenera(ctx); err != nil {
		return nil, nil, err
	}

	report, err := db.Report(ctx, st.Turn)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, err
	}
	slog.Info("world state loaded", "turn", st.Turn, "species", st.Species.Len(), "tiles", st.World.TileCount())
	return st, report, nil
}

func (db *DB) meta(ctx context.Context) (map[string]string, error) {
	var rows []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	if err := db.conn.SelectContext(ctx, &rows, "SELECT key, value FROM world_meta"); err != nil {
		return nil, fmt.Errorf("load meta: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

func (db *DB) loadMap(ctx context.Context, radius int) (*world.Map, error) {
	var rows []tileRow
	if err := db.conn.SelectContext(ctx, &rows, "SELECT * FROM tiles ORDER BY id"); err != nil {
		return nil, fmt.Errorf("load tiles: %w", err)
	}
	m := world.NewMap(radius)
	for _, r := range rows {
		t := &world.Tile{
			Coord:       world.HexCoord{Q: r.Q, R: r.R},
			Terrain:     world.Terrain(r.Terrain),
			Temperature: r.Temperature,
			Humidity:    r.Humidity,
			Elevation:   r.Elevation,
			Resource:    r.Resource,
			Depth:       r.Depth,
		}
		if id := m.Add(t); int(id) != r.ID {
			return nil, fmt.Errorf("load tiles: gap at id %d", r.ID)
		}
	}
	return m, nil
}

func (db *DB) loadSpecies(ctx context.Context) (*species.Table, error) {
	var rows []string
	if err := db.conn.SelectContext(ctx, &rows, "SELECT data_json FROM species ORDER BY code"); err != nil {
		return nil, fmt.Errorf("load species: %w", err)
	}
	tbl := species.NewTable()
	for _, data := range rows {
		sp := &species.Species{}
		if err := json.Unmarshal([]byte(data), sp); err != nil {
			return nil, fmt.Errorf("decode species: %w", err)
		}
		if sp.Distribution == nil {
			sp.Distribution = make(map[world.TileID]int64)
		}
		if err := tbl.Add(sp); err != nil {
			return nil, fmt.Errorf("load species: %w", err)
		}
	}
	return tbl, nil
}

func (db *DB) loadGenera(ctx context.Context) (species.Genera, error) {
	var rows []genusRow
	if err := db.conn.SelectContext(ctx, &rows, "SELECT code, gene_pool_json FROM genera"); err != nil {
		return nil, fmt.Errorf("load genera: %w", err)
	}
	out := make(species.Genera, len(rows))
	for _, r := range rows {
		g := out.Ensure(r.Code)
		if err := json.Unmarshal([]byte(r.GenePool), &g.GenePool); err != nil {
			return nil, fmt.Errorf("decode genus %s: %w", r.Code, err)
		}
	}

	var dists []distanceRow
	if err := db.conn.SelectContext(ctx, &dists, "SELECT genus, a, b, distance FROM genus_distances"); err != nil {
		return nil, fmt.Errorf("load distances: %w", err)
	}
	for _, d := range dists {
		out.Ensure(d.Genus).SetDistance(species.Code(d.A), species.Code(d.B), d.Distance)
	}
	return out, nil
}

// Report returns the stored report for turn.
func (db *DB) Report(ctx context.Context, turn int) (*engine.TurnReport, error) {
	var data string
	if err := db.conn.GetContext(ctx, &data, "SELECT report_json FROM turn_reports WHERE turn = ?", turn); err != nil {
		return nil, err
	}
	r := &engine.TurnReport{}
	if err := json.Unmarshal([]byte(data), r); err != nil {
		return nil, fmt.Errorf("decode report %d: %w", turn, err)
	}
	return r, nil
}

// RecentEvents returns up to limit events, newest first. A non-empty code
// restricts them to events about that species.
func (db *DB) RecentEvents(ctx context.Context, code species.Code, limit int) ([]engine.Event, error) {
	var rows []eventRow
	var err error
	if code == "" {
		err = db.conn.SelectContext(ctx, &rows,
			"SELECT turn, kind, code, related, description, meta_json FROM events ORDER BY id DESC LIMIT ?", limit)
	} else {
		err = db.conn.SelectContext(ctx, &rows,
			"SELECT turn, kind, code, related, description, meta_json FROM events WHERE code = ? OR related = ? ORDER BY id DESC LIMIT ?",
			string(code), string(code), limit)
	}
	if err != nil {
		return nil, err
	}
	out := make([]engine.Event, len(rows))
	for i, r := range rows {
		out[i] = engine.Event{
			Turn:        r.Turn,
			Kind:        r.Kind,
			Code:        species.Code(r.Code),
			Related:     species.Code(r.Related),
			Description: r.Description,
		}
		if r.Meta != "{}" {
			if err := json.Unmarshal([]byte(r.Meta), &out[i].Meta); err != nil {
				return nil, fmt.Errorf("decode event meta: %w", err)
			}
		}
	}
	return out, nil
}
