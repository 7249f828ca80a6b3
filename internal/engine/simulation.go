// Package engine runs the turn pipeline over the committed world state and
// paces turns with a runner.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/talgya/evo-world/internal/adaptation"
	"github.com/talgya/evo-world/internal/config"
	"github.com/talgya/evo-world/internal/dispersal"
	"github.com/talgya/evo-world/internal/genetics"
	"github.com/talgya/evo-world/internal/llm"
	"github.com/talgya/evo-world/internal/mortality"
	"github.com/talgya/evo-world/internal/reproduction"
	"github.com/talgya/evo-world/internal/speciation"
	"github.com/talgya/evo-world/internal/species"
	"github.com/talgya/evo-world/internal/tiering"
	"github.com/talgya/evo-world/internal/traits"
	"github.com/talgya/evo-world/internal/trophic"
	"github.com/talgya/evo-world/internal/world"
)

// ErrTurnCancelled is returned when a turn's context ends before commit.
var ErrTurnCancelled = errors.New("turn cancelled")

// State is the complete committed world. Turns work on a clone and swap it
// in only on success.
type State struct {
	Seed           int64          `json:"seed"`
	Turn           int            `json:"turn"`
	World          *world.Map     `json:"world"`
	Species        *species.Table `json:"-"`
	Genera         species.Genera `json:"-"`
	Watchlist      []species.Code `json:"watchlist"`
	MassExtinction bool           `json:"mass_extinction"` // Set by the previous turn
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := *s
	c.World = s.World.Clone()
	c.Species = s.Species.Clone()
	c.Genera = s.Genera.Clone()
	c.Watchlist = append([]species.Code(nil), s.Watchlist...)
	return &c
}

// Orchestrator owns the committed state and runs turns against it.
type Orchestrator struct {
	cfg   config.Config
	runID string

	registry     *traits.Registry
	trophic      *trophic.Classifier
	genetics     *genetics.Calculator
	tiering      *tiering.Scheduler
	mortality    *mortality.Engine
	reproduction *reproduction.Engine
	adaptation   *adaptation.Engine
	speciation   *speciation.Engine
	dispersal    *dispersal.Engine
	client       *llm.Client
	adviser      llm.Adviser
	pool         *llm.Pool
	writer       ResultWriter

	turnMu sync.Mutex // Serializes RunTurn

	mu    sync.RWMutex
	state *State
	last  *TurnReport
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAdviser sets the adviser consulted for Critical and Focus species.
func WithAdviser(a llm.Adviser) Option {
	return func(o *Orchestrator) { o.adviser = a }
}

// WithClient backs the adviser with an API client. Ignored when WithAdviser
// is also given or the client is disabled.
func WithClient(c *llm.Client) Option {
	return func(o *Orchestrator) { o.client = c }
}

// WithWriter persists every turn before it is committed.
func WithWriter(w ResultWriter) Option {
	return func(o *Orchestrator) { o.writer = w }
}

// WithLastReport restores the most recent report, e.g. after loading state.
func WithLastReport(r *TurnReport) Option {
	return func(o *Orchestrator) { o.last = r }
}

// NewOrchestrator validates cfg and builds every engine around st.
func NewOrchestrator(cfg config.Config, st *State, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new orchestrator: %w", err)
	}
	if st == nil || st.World == nil || st.Species == nil {
		return nil, fmt.Errorf("new orchestrator: incomplete state")
	}
	if st.Genera == nil {
		st.Genera = make(species.Genera)
	}

	reg := traits.NewRegistry(cfg.Traits.Extensions...)
	for _, sp := range st.Species.All() {
		for name := range sp.Traits.Ext {
			if !reg.Known(name) {
				if err := reg.Register(name); err != nil {
					return nil, fmt.Errorf("new orchestrator: %w", err)
				}
			}
		}
	}

	cl := trophic.NewClassifier(cfg.Trophic)
	gc := genetics.NewCalculator(cfg.Genetics)
	repro := reproduction.NewEngine(cfg.Reproduction, cl)
	o := &Orchestrator{
		cfg:          cfg,
		runID:        uuid.NewString(),
		registry:     reg,
		trophic:      cl,
		genetics:     gc,
		tiering:      tiering.NewScheduler(cfg.Tiering, gc),
		mortality:    mortality.NewEngine(cfg.Mortality, cl, repro),
		reproduction: repro,
		adaptation:   adaptation.NewEngine(cfg.Adaptation, cfg.Traits, cl, reg),
		speciation:   speciation.NewEngine(cfg.Speciation, cfg.Traits, cl, st.Seed),
		dispersal:    dispersal.NewEngine(cfg.Dispersal),
		state:        st,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.adviser == nil {
		o.adviser = llm.NewClientAdviser(o.client, reg)
	}
	o.pool = llm.NewPool(o.adviser, reg, cfg.Adviser.Concurrency, cfg.Adviser.Timeout)
	updateGenera(o.state, gc)
	return o, nil
}

// RunID identifies this process's run.
func (o *Orchestrator) RunID() string { return o.runID }

// Registry returns the extension trait registry.
func (o *Orchestrator) Registry() *traits.Registry { return o.registry }

// Config returns the configuration the orchestrator was built with.
func (o *Orchestrator) Config() config.Config { return o.cfg }

// State returns a deep copy of the committed state.
func (o *Orchestrator) State() *State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.Clone()
}

// Turn returns the last committed turn number.
func (o *Orchestrator) Turn() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.Turn
}

// LastReport returns a copy of the most recent committed report, or nil.
func (o *Orchestrator) LastReport() *TurnReport {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last.Snapshot()
}

// Species returns a copy of one species record.
func (o *Orchestrator) Species(code species.Code) (*species.Species, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	sp := o.state.Species.Get(code)
	if sp == nil {
		return nil, false
	}
	return sp.Clone(), true
}

// RunTurn executes one full turn. The committed state changes only if every
// phase succeeds and the result is persisted; otherwise the error is
// returned and nothing is committed. A cancelled ctx yields ErrTurnCancelled.
func (o *Orchestrator) RunTurn(ctx context.Context, dir Directives) (*TurnReport, error) {
	o.turnMu.Lock()
	defer o.turnMu.Unlock()

	o.mu.RLock()
	st := o.state.Clone()
	o.mu.RUnlock()

	st.Turn++
	t := newTurn(o, st)

	phases := []struct {
		name string
		run  func(context.Context) error
	}{
		{"directives", func(context.Context) error { return t.applyDirectives(dir) }},
		{"tiering", t.schedule},
		{"mortality", t.applyMortality},
		{"reproduction", t.applyReproduction},
		{"evolution", t.evolve},
		{"dispersal", t.disperse},
		{"lifecycle", t.lifecycle},
		{"genetics", t.updateGenetics},
		{"narrative", t.narrate},
	}
	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			slog.Warn("turn cancelled", "turn", st.Turn, "phase", p.name)
			return nil, fmt.Errorf("turn %d before %s: %w: %w", st.Turn, p.name, ErrTurnCancelled, err)
		}
		if err := p.run(ctx); err != nil {
			return nil, fmt.Errorf("turn %d %s: %w", st.Turn, p.name, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("turn %d: %w: %w", st.Turn, ErrTurnCancelled, err)
	}

	report := t.finish()
	if o.writer != nil {
		if err := o.writer.WriteTurn(ctx, st, report); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("turn %d persist: %w: %w", st.Turn, ErrTurnCancelled, err)
			}
			return nil, fmt.Errorf("turn %d persist: %w", st.Turn, err)
		}
	}

	o.mu.Lock()
	o.state = st
	o.last = report
	o.mu.Unlock()

	slog.Info("turn committed",
		"turn", report.Turn,
		"era", report.Era,
		"living", report.Stats.Living,
		"population", humanize.Comma(report.Stats.TotalPopulation),
		"branches", report.Stats.Branches,
		"extinctions", report.Stats.Extinctions,
		"critical", report.Tiers.Critical,
		"focus", report.Tiers.Focus,
		"elapsed", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
	)
	return report.Snapshot(), nil
}

// Christen asks the adviser to name and describe the founding species. Only
// names and descriptions are taken; traits are left as generated. Failures
// keep the template names.
func (o *Orchestrator) Christen(ctx context.Context) error {
	o.turnMu.Lock()
	defer o.turnMu.Unlock()

	o.mu.RLock()
	st := o.state.Clone()
	o.mu.RUnlock()

	living := st.Species.Living()
	reqs := make([]llm.Request, len(living))
	for i, sp := range living {
		reqs[i] = llm.Request{
			Role:         llm.RoleSpeciesGeneration,
			Code:         sp.Code,
			Name:         sp.Name,
			Turn:         st.Turn,
			TrophicLevel: sp.TrophicLevel,
			Population:   sp.Population,
			Traits:       llm.TraitMap(sp.Traits),
			Budget:       llm.Budget{SumCap: o.trophic.CapFor(sp)},
		}
	}
	named := 0
	for i, res := range o.pool.Run(ctx, reqs) {
		if res.Fallback() || res.Response.Name == "" {
			continue
		}
		living[i].Name = res.Response.Name
		if res.Response.Description != "" {
			living[i].Description = res.Response.Description
		}
		named++
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("christen: %w", err)
	}

	o.mu.Lock()
	o.state = st
	o.mu.Unlock()
	slog.Info("founding species named", "named", named, "species", len(living))
	return nil
}
