// Package telemetry writes per-turn CSV output for offline analysis.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/talgya/evo-world/internal/config"
	"github.com/talgya/evo-world/internal/engine"
)

// TurnRecord is one row of turns.csv.
type TurnRecord struct {
	Turn             int     `csv:"turn"`
	Era              string  `csv:"era"`
	Living           int     `csv:"living"`
	Extinct          int     `csv:"extinct"`
	Subspecies       int     `csv:"subspecies"`
	Genera           int     `csv:"genera"`
	TotalPopulation  int64   `csv:"total_population"`
	Deaths           int64   `csv:"deaths"`
	Births           int64   `csv:"births"`
	Migrants         int64   `csv:"migrants"`
	Branches         int     `csv:"branches"`
	Extinctions      int     `csv:"extinctions"`
	MeanMortality    float64 `csv:"mean_mortality"`
	MeanGrowth       float64 `csv:"mean_growth"`
	Critical         int     `csv:"critical"`
	Focus            int     `csv:"focus"`
	Background       int     `csv:"background"`
	AdviserCalls     int     `csv:"adviser_calls"`
	AdviserFallbacks int     `csv:"adviser_fallbacks"`
	MassExtinction   bool    `csv:"mass_extinction"`
	ElapsedMs        int64   `csv:"elapsed_ms"`
}

// SpeciesRecord is one row of species.csv.
type SpeciesRecord struct {
	Turn             int     `csv:"turn"`
	Code             string  `csv:"code"`
	Name             string  `csv:"name"`
	Status           string  `csv:"status"`
	Tier             string  `csv:"tier"`
	Track            string  `csv:"track"`
	TrophicLevel     float64 `csv:"trophic_level"`
	PopulationBefore int64   `csv:"population_before"`
	PopulationAfter  int64   `csv:"population_after"`
	Mortality        float64 `csv:"mortality"`
	Growth           float64 `csv:"growth"`
	NormAfter        float64 `csv:"norm_after"`
	TraitSum         float64 `csv:"trait_sum"`
	Tiles            int     `csv:"tiles"`
}

// NewTurnRecord flattens a report's summary.
func NewTurnRecord(r *engine.TurnReport) TurnRecord {
	return TurnRecord{
		Turn:             r.Turn,
		Era:              r.Era,
		Living:           r.Stats.Living,
		Extinct:          r.Stats.Extinct,
		Subspecies:       r.Stats.Subspecies,
		Genera:           r.Stats.Genera,
		TotalPopulation:  r.Stats.TotalPopulation,
		Deaths:           r.Stats.Deaths,
		Births:           r.Stats.Births,
		Migrants:         r.Stats.Migrants,
		Branches:         r.Stats.Branches,
		Extinctions:      r.Stats.Extinctions,
		MeanMortality:    r.Stats.MeanMortality,
		MeanGrowth:       r.Stats.MeanGrowth,
		Critical:         r.Tiers.Critical,
		Focus:            r.Tiers.Focus,
		Background:       r.Tiers.Background,
		AdviserCalls:     r.Stats.AdviserCalls,
		AdviserFallbacks: r.Stats.AdviserFallbacks,
		MassExtinction:   r.Stats.MassExtinction,
		ElapsedMs:        r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
	}
}

// OutputManager handles per-turn CSV logging.
type OutputManager struct {
	dir         string
	turnFile    *os.File
	speciesFile *os.File

	turnHeaderWritten    bool
	speciesHeaderWritten bool
}

// NewOutputManager creates the output directory and its CSV files.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}
	f, err := os.Create(filepath.Join(dir, "turns.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating turns.csv: %w", err)
	}
	om.turnFile = f

	f, err = os.Create(filepath.Join(dir, "species.csv"))
	if err != nil {
		om.turnFile.Close()
		return nil, fmt.Errorf("creating species.csv: %w", err)
	}
	om.speciesFile = f
	return om, nil
}

// WriteConfig saves the run's configuration as YAML.
func (om *OutputManager) WriteConfig(cfg config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteTurn appends the report's summary and species rows.
func (om *OutputManager) WriteTurn(r *engine.TurnReport) error {
	if om == nil || r == nil {
		return nil
	}

	if err := write(om.turnFile, []TurnRecord{NewTurnRecord(r)}, &om.turnHeaderWritten); err != nil {
		return fmt.Errorf("writing turn: %w", err)
	}

	if len(r.Species) == 0 {
		return nil
	}
	rows := make([]SpeciesRecord, len(r.Species))
	for i, s := range r.Species {
		rows[i] = SpeciesRecord{
			Turn:             r.Turn,
			Code:             string(s.Code),
			Name:             s.Name,
			Status:           s.Status,
			Tier:             s.Tier,
			Track:            s.Track,
			TrophicLevel:     s.TrophicLevel,
			PopulationBefore: s.PopulationBefore,
			PopulationAfter:  s.PopulationAfter,
			Mortality:        s.Mortality,
			Growth:           s.Growth,
			NormAfter:        s.NormAfter,
			TraitSum:         s.TraitSum,
			Tiles:            s.Tiles,
		}
	}
	if err := write(om.speciesFile, rows, &om.speciesHeaderWritten); err != nil {
		return fmt.Errorf("writing species: %w", err)
	}
	return nil
}

// write marshals records, including headers only on the first call.
func write(f *os.File, records any, headerWritten *bool) error {
	if *headerWritten {
		return gocsv.MarshalWithoutHeaders(records, f)
	}
	if err := gocsv.Marshal(records, f); err != nil {
		return err
	}
	*headerWritten = true
	return nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}
	var firstErr error
	for _, f := range []*os.File{om.turnFile, om.speciesFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
