package engine

import (
	"maps"
	"slices"
	"time"

	"github.com/talgya/evo-world/internal/species"
)

// Event kinds.
const (
	EventBranch             = "branch"
	EventExtinction         = "extinction"
	EventMigration          = "migration"
	EventPromotion          = "promotion"
	EventDemotion           = "demotion"
	EventReemergence        = "reemergence"
	EventSubspeciesPromoted = "subspecies_promoted"
	EventReabsorbed         = "reabsorbed"
	EventAdviserFallback    = "adviser_fallback"
	EventNarrative          = "narrative"
	EventGenusLost          = "genus_lost"
	EventEnvironment        = "environment"
)

// Event is a notable occurrence in a turn.
type Event struct {
	Turn        int            `json:"turn"`
	Kind        string         `json:"kind"`
	Code        species.Code   `json:"code,omitempty"`
	Related     species.Code   `json:"related,omitempty"`
	Description string         `json:"description"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// EnvironmentDelta records one applied pressure directive.
type EnvironmentDelta struct {
	Label       string  `json:"label,omitempty"`
	Tiles       int     `json:"tiles"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Resource    float64 `json:"resource"`
	Stress      float64 `json:"stress"`
}

// SpeciesSnapshot is one species' turn summary.
type SpeciesSnapshot struct {
	Code             species.Code `json:"code"`
	Name             string       `json:"name"`
	Status           string       `json:"status"`
	Tier             string       `json:"tier"`
	Track            string       `json:"track"`
	TrophicLevel     float64      `json:"trophic_level"`
	PopulationBefore int64        `json:"population_before"`
	PopulationAfter  int64        `json:"population_after"`
	Mortality        float64      `json:"mortality"`
	Growth           float64      `json:"growth"`
	NormBefore       float64      `json:"norm_before"`
	NormAfter        float64      `json:"norm_after"`
	TraitSum         float64      `json:"trait_sum"`
	Tiles            int          `json:"tiles"`
	Subspecies       bool         `json:"subspecies,omitempty"`
}

// TierCounts is the size of each compute tier.
type TierCounts struct {
	Critical   int `json:"critical"`
	Focus      int `json:"focus"`
	Background int `json:"background"`
}

// Stats are aggregate turn figures.
type Stats struct {
	Living           int     `json:"living"`
	Extinct          int     `json:"extinct"`
	Split            int     `json:"split"`
	Subspecies       int     `json:"subspecies"`
	Genera           int     `json:"genera"`
	TotalPopulation  int64   `json:"total_population"`
	Deaths           int64   `json:"deaths"`
	Births           int64   `json:"births"`
	Migrants         int64   `json:"migrants"`
	Branches         int     `json:"branches"`
	Extinctions      int     `json:"extinctions"`
	MeanMortality    float64 `json:"mean_mortality"`
	MeanGrowth       float64 `json:"mean_growth"`
	AdviserCalls     int     `json:"adviser_calls"`
	AdviserFallbacks int     `json:"adviser_fallbacks"`
	MassExtinction   bool    `json:"mass_extinction"`
}

// TurnReport is the immutable record of one committed turn.
type TurnReport struct {
	ID          string                  `json:"id"`
	RunID       string                  `json:"run_id"`
	Turn        int                     `json:"turn"`
	Era         string                  `json:"era"`
	StartedAt   time.Time               `json:"started_at"`
	FinishedAt  time.Time               `json:"finished_at"`
	Environment []EnvironmentDelta      `json:"environment,omitempty"`
	Species     []SpeciesSnapshot       `json:"species"`
	Events      []Event                 `json:"events"`
	Tiers       TierCounts              `json:"tiers"`
	Stats       Stats                   `json:"stats"`
	Narrative   map[species.Code]string `json:"narrative,omitempty"`
}

// Snapshot returns a deep copy.
func (r *TurnReport) Snapshot() *TurnReport {
	if r == nil {
		return nil
	}
	c := *r
	c.Environment = slices.Clone(r.Environment)
	c.Species = slices.Clone(r.Species)
	c.Events = make([]Event, len(r.Events))
	for i, e := range r.Events {
		e.Meta = maps.Clone(e.Meta)
		c.Events[i] = e
	}
	c.Narrative = maps.Clone(r.Narrative)
	return &c
}

// EventsOf returns the events of one kind.
func (r *TurnReport) EventsOf(kind string) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// SpeciesByCode returns the snapshot for code.
func (r *TurnReport) SpeciesByCode(code species.Code) (SpeciesSnapshot, bool) {
	for _, s := range r.Species {
		if s.Code == code {
			return s, true
		}
	}
	return SpeciesSnapshot{}, false
}
