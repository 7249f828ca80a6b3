package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/talgya/evo-world/internal/adaptation"
	"github.com/talgya/evo-world/internal/dispersal"
	"github.com/talgya/evo-world/internal/llm"
	"github.com/talgya/evo-world/internal/mortality"
	"github.com/talgya/evo-world/internal/reproduction"
	"github.com/talgya/evo-world/internal/speciation"
	"github.com/talgya/evo-world/internal/species"
	"github.com/talgya/evo-world/internal/tiering"
	"github.com/talgya/evo-world/internal/traits"
	"github.com/talgya/evo-world/internal/world"
)

// turn carries one turn's intermediate results between phases. It only ever
// touches its own cloned State.
type turn struct {
	o   *Orchestrator
	st  *State
	num int

	report *TurnReport
	stress map[world.TileID]float64

	livingAtStart int
	before        map[species.Code]int64
	normBefore    map[species.Code]float64

	tiers     tiering.Result
	mort      *mortality.Result
	growth    *reproduction.Result
	decisions map[species.Code]speciation.Decision
	outcomes  map[species.Code]adaptation.Outcome
	branches  []speciation.Branch
	moved     *dispersal.Result
	created   map[species.Code]bool
}

func newTurn(o *Orchestrator, st *State) *turn {
	return &turn{
		o:   o,
		st:  st,
		num: st.Turn,
		report: &TurnReport{
			ID:        uuid.NewString(),
			RunID:     o.runID,
			Turn:      st.Turn,
			Era:       o.cfg.Adaptation.EraAt(st.Turn).Name,
			StartedAt: time.Now(),
			Narrative: make(map[species.Code]string),
		},
		before:     make(map[species.Code]int64),
		normBefore: make(map[species.Code]float64),
		decisions:  make(map[species.Code]speciation.Decision),
		outcomes:   make(map[species.Code]adaptation.Outcome),
		created:    make(map[species.Code]bool),
	}
}

func (t *turn) event(kind string, code, related species.Code, desc string, meta map[string]any) {
	t.report.Events = append(t.report.Events, Event{
		Turn:        t.num,
		Kind:        kind,
		Code:        code,
		Related:     related,
		Description: desc,
		Meta:        meta,
	})
}

func (t *turn) applyDirectives(dir Directives) error {
	if dir.Watchlist != nil {
		t.st.Watchlist = NormalizeWatchlist(dir.Watchlist, t.o.cfg.Tiering.WatchlistMax)
	}
	watched := make(map[species.Code]bool, len(t.st.Watchlist))
	for _, c := range t.st.Watchlist {
		watched[c] = true
	}
	for _, sp := range t.st.Species.All() {
		sp.Watchlisted = watched[sp.Code]
	}

	stress, deltas, err := applyPressures(t.st.World, dir.Pressures)
	if err != nil {
		return err
	}
	t.stress = stress
	t.report.Environment = deltas
	for _, d := range deltas {
		t.event(EventEnvironment, "", "", fmt.Sprintf("Environmental shift %q across %d tiles", d.Label, d.Tiles), map[string]any{
			"temperature": d.Temperature,
			"humidity":    d.Humidity,
			"resource":    d.Resource,
			"stress":      d.Stress,
		})
	}
	return nil
}

func (t *turn) schedule(context.Context) error {
	living := t.st.Species.Living()
	t.livingAtStart = len(living)
	watch := make(map[species.Code]bool, len(t.st.Watchlist))
	for _, sp := range living {
		t.before[sp.Code] = sp.Population
		t.normBefore[sp.Code] = sp.Traits.Norm()
		if sp.Watchlisted {
			watch[sp.Code] = true
		}
	}

	t.tiers = t.o.tiering.Schedule(living, watch, t.st.MassExtinction)
	c, f, b := t.tiers.Counts()
	t.report.Tiers = TierCounts{Critical: c, Focus: f, Background: b}

	for _, ch := range t.tiers.Changes {
		kind := EventPromotion
		switch ch.Reason {
		case "demotion":
			kind = EventDemotion
		case "reemergence":
			kind = EventReemergence
		}
		t.event(kind, ch.Code, "", fmt.Sprintf("%s moved from %s to %s", ch.Code, ch.From, ch.To), nil)
	}
	return nil
}

func (t *turn) applyMortality(context.Context) error {
	living := t.st.Species.Living()
	parents := make(map[species.Code][]*species.Species)
	for _, sp := range living {
		if sp.Subspecies && sp.ParentCode != "" {
			parents[sp.ParentCode] = append(parents[sp.ParentCode], sp)
		}
	}
	t.mort = t.o.mortality.Run(mortality.Input{
		Turn:    t.num,
		Living:  living,
		Map:     t.st.World,
		Stress:  t.stress,
		Parents: parents,
	})
	for _, code := range t.mort.Extinctions {
		sp := t.st.Species.Get(code)
		t.event(EventExtinction, code, sp.ParentCode, fmt.Sprintf("%s has gone extinct", sp.Name), map[string]any{
			"population_before": t.before[code],
		})
	}
	return nil
}

func (t *turn) applyReproduction(context.Context) error {
	t.growth = t.o.reproduction.Run(t.st.Species.Living(), t.st.World)
	return nil
}

// plan is one species' evolutionary step, decided before any is applied.
type plan struct {
	sp      *species.Species
	d       speciation.Decision
	request int // Index into the adviser batch, or -1
}

func (t *turn) evolve(ctx context.Context) error {
	living := t.st.Species.Living()
	plans := make([]plan, 0, len(living))
	var reqs []llm.Request
	for _, sp := range living {
		d := t.o.speciation.Decide(sp, t.st.World, t.num, len(living))
		t.decisions[sp.Code] = d
		p := plan{sp: sp, d: d, request: -1}
		if sp.Tier != species.TierBackground {
			if req, ok := t.request(sp, d); ok {
				p.request = len(reqs)
				reqs = append(reqs, req)
			}
		}
		plans = append(plans, p)
	}

	results := t.o.pool.Run(ctx, reqs)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("adviser batch: %w: %w", ErrTurnCancelled, err)
	}
	t.countAdvice(results)

	for _, p := range plans {
		var res *llm.Result
		if p.request >= 0 {
			res = &results[p.request]
		}
		if p.d.Branch {
			t.branch(p.sp, p.d, res)
			continue
		}
		if p.d.Track == species.TrackNone {
			continue
		}
		var proposal traits.Delta
		if res != nil && !res.Fallback() {
			proposal = res.Response.Delta
		}
		t.outcomes[p.sp.Code] = t.o.adaptation.Adapt(p.sp, p.d.Target, proposal, t.num)
	}
	return nil
}

// childBase is the rule-derived child for a branching decision, already
// meeting the region's constraints and the parent's trait-sum cap.
func (t *turn) childBase(sp *species.Species, d speciation.Decision) (traits.Vector, speciation.Thresholds, float64) {
	region, _ := d.Diverging()
	sumCap := t.o.trophic.CapFor(sp)
	th := t.o.speciation.Constraints(region.Env)
	return t.o.speciation.FinalizeChild(t.o.speciation.RuleChild(sp, region), th, sumCap), th, sumCap
}

func (t *turn) request(sp *species.Species, d speciation.Decision) (llm.Request, bool) {
	req := llm.Request{
		Code:         sp.Code,
		Name:         sp.Name,
		Turn:         t.num,
		TrophicLevel: sp.TrophicLevel,
		Population:   sp.Population,
		Regions:      summarize(d.Regions),
		Timeout:      t.o.cfg.Adviser.Timeout,
	}
	switch {
	case d.Branch:
		base, th, sumCap := t.childBase(sp, d)
		req.Role = llm.RoleSpeciesGeneration
		req.Traits = llm.TraitMap(base)
		req.Budget = llm.Budget{SumCap: sumCap, Thresholds: th.Named()}
	case d.Track != species.TrackNone:
		req.Role = llm.RoleTraitProposal
		req.Traits = llm.TraitMap(sp.Traits)
		req.Target = llm.TraitMap(d.Target)
		req.Budget = llm.Budget{SumCap: t.o.trophic.CapFor(sp), StepMagnitude: t.o.cfg.Adaptation.MaxStepMagnitude}
	default:
		return req, false
	}
	return req, true
}

func summarize(regions []speciation.Region) []llm.RegionSummary {
	out := make([]llm.RegionSummary, 0, min(3, len(regions)))
	for _, r := range regions[:min(3, len(regions))] {
		if r.Env == nil {
			continue
		}
		out = append(out, llm.RegionSummary{
			Terrain:     world.TerrainName(r.Env.Terrain),
			Tiles:       len(r.Tiles),
			Population:  r.Population,
			Temperature: r.Env.Temperature,
			Humidity:    r.Env.Humidity,
			Resource:    r.Env.Resource,
			Depth:       r.Env.Depth,
		})
	}
	return out
}

func (t *turn) countAdvice(results []llm.Result) {
	for _, r := range results {
		if errors.Is(r.Err, llm.ErrNoAdvice) {
			continue
		}
		t.report.Stats.AdviserCalls++
		if r.Fallback() {
			t.report.Stats.AdviserFallbacks++
			t.event(EventAdviserFallback, r.Request.Code, "", "Adviser response rejected; rule-based path used", map[string]any{
				"role":  string(r.Request.Role),
				"error": fmt.Sprint(r.Err),
			})
		}
	}
}

func (t *turn) branch(sp *species.Species, d speciation.Decision, res *llm.Result) {
	base, th, sumCap := t.childBase(sp, d)
	spec := speciation.ChildSpec{Traits: base, Source: string(adaptation.SourceRule)}
	if res != nil && !res.Fallback() {
		r := res.Response
		v := base
		if len(r.Traits) > 0 {
			v = t.o.speciation.FinalizeChild(r.ChildVector(base), th, sumCap)
		}
		spec = speciation.ChildSpec{Traits: v, Name: r.Name, Description: r.Description, Source: string(adaptation.SourceAdviser)}
	}

	child, b, err := t.o.speciation.Execute(t.st.Species, sp, d, spec, t.num)
	if err != nil {
		slog.Warn("branch skipped", "code", sp.Code, "error", err)
		return
	}
	t.branches = append(t.branches, b)
	t.created[child.Code] = true
	t.event(EventBranch, child.Code, sp.Code, fmt.Sprintf("%s arose from %s", child.Name, sp.Name), map[string]any{
		"parent_before": b.ParentBefore,
		"parent_after":  b.ParentAfter,
		"child_after":   b.ChildAfter,
		"isolated":      b.Isolated,
		"source":        b.Source,
	})
}

func (t *turn) disperse(context.Context) error {
	t.moved = t.o.dispersal.Run(dispersal.Input{
		Living:    t.st.Species.Living(),
		Map:       t.st.World,
		Mortality: t.mort,
		Growth:    t.growth,
	})

	type agg struct {
		moved    int64
		from, to map[world.TileID]bool
	}
	by := make(map[species.Code]*agg)
	var order []species.Code
	for _, m := range t.moved.Migrations {
		a, ok := by[m.Code]
		if !ok {
			a = &agg{from: make(map[world.TileID]bool), to: make(map[world.TileID]bool)}
			by[m.Code] = a
			order = append(order, m.Code)
		}
		a.moved += m.Moved
		a.from[m.From] = true
		for id := range m.To {
			a.to[id] = true
		}
	}
	for _, code := range order {
		a := by[code]
		t.event(EventMigration, code, "", fmt.Sprintf("%d individuals of %s dispersed", a.moved, code), map[string]any{
			"moved":        a.moved,
			"source_tiles": len(a.from),
			"dest_tiles":   len(a.to),
		})
	}
	return nil
}

func (t *turn) lifecycle(context.Context) error {
	for _, ev := range t.o.speciation.Lifecycle(t.st.Species, t.o.genetics, t.num) {
		switch ev.Kind {
		case speciation.KindReabsorbed:
			t.event(EventReabsorbed, ev.Code, ev.Parent, fmt.Sprintf("%s merged back into %s", ev.Code, ev.Parent), map[string]any{"population": ev.Population})
		default:
			t.event(EventSubspeciesPromoted, ev.Code, ev.Parent, fmt.Sprintf("%s is now a full species", ev.Code), map[string]any{"population": ev.Population})
		}
	}
	return nil
}

func (t *turn) updateGenetics(context.Context) error {
	for _, g := range updateGenera(t.st, t.o.genetics) {
		t.event(EventGenusLost, "", "", fmt.Sprintf("Genus %s has no living members", g), map[string]any{"genus": g})
	}
	return nil
}

func (t *turn) narrate(ctx context.Context) error {
	if !t.o.cfg.Adviser.Narrative {
		return nil
	}
	var reqs []llm.Request
	for _, sp := range t.st.Species.Living() {
		if sp.Tier != species.TierCritical {
			continue
		}
		var notes []string
		for _, e := range t.report.Events {
			if e.Code == sp.Code || e.Related == sp.Code {
				notes = append(notes, e.Description)
			}
		}
		reqs = append(reqs, llm.Request{
			Role:         llm.RoleNarrative,
			Code:         sp.Code,
			Name:         sp.Name,
			Turn:         t.num,
			TrophicLevel: sp.TrophicLevel,
			Population:   sp.Population,
			Events:       notes,
			Timeout:      t.o.cfg.Adviser.Timeout,
		})
	}

	results := t.o.pool.Run(ctx, reqs)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("narrative batch: %w: %w", ErrTurnCancelled, err)
	}
	t.countAdvice(results)
	for _, r := range results {
		if r.Fallback() {
			continue
		}
		t.report.Narrative[r.Request.Code] = r.Response.Text
		t.event(EventNarrative, r.Request.Code, "", r.Response.Text, nil)
	}
	return nil
}

// finish assembles the report and records the mass-extinction flag for the
// next turn's scheduling.
func (t *turn) finish() *TurnReport {
	r := t.report
	mortBy := make(map[species.Code]mortality.SpeciesResult, len(t.mort.Species))
	for _, s := range t.mort.Species {
		mortBy[s.Code] = s
		r.Stats.Deaths += s.Before - s.After
	}
	growthBy := make(map[species.Code]reproduction.SpeciesResult, len(t.growth.Species))
	for _, s := range t.growth.Species {
		growthBy[s.Code] = s
		r.Stats.Births += s.After - s.Before
	}

	var mort, growth, weights []float64
	for _, sp := range t.st.Species.All() {
		before, wasLiving := t.before[sp.Code]
		if !wasLiving && !t.created[sp.Code] {
			continue
		}
		track := species.TrackNone
		if d, ok := t.decisions[sp.Code]; ok {
			track = d.Track
		}
		norm, ok := t.normBefore[sp.Code]
		if !ok {
			norm = sp.Traits.Norm()
		}
		snap := SpeciesSnapshot{
			Code:             sp.Code,
			Name:             sp.Name,
			Status:           sp.Status.String(),
			Tier:             sp.Tier.String(),
			Track:            track.String(),
			TrophicLevel:     sp.TrophicLevel,
			PopulationBefore: before,
			PopulationAfter:  sp.Population,
			Mortality:        mortBy[sp.Code].Mortality,
			Growth:           growthBy[sp.Code].Growth,
			NormBefore:       norm,
			NormAfter:        sp.Traits.Norm(),
			TraitSum:         sp.Traits.Sum(),
			Tiles:            len(sp.Distribution),
			Subspecies:       sp.Subspecies,
		}
		r.Species = append(r.Species, snap)
		if wasLiving && before > 0 {
			mort = append(mort, snap.Mortality)
			growth = append(growth, snap.Growth)
			weights = append(weights, float64(before))
		}
	}

	for _, sp := range t.st.Species.All() {
		switch sp.Status {
		case species.StatusAlive:
			r.Stats.Living++
			r.Stats.TotalPopulation += sp.Population
			if sp.Subspecies {
				r.Stats.Subspecies++
			}
		case species.StatusExtinct:
			r.Stats.Extinct++
		case species.StatusSplit:
			r.Stats.Split++
		}
	}
	r.Stats.Genera = len(t.st.Genera)
	r.Stats.Branches = len(t.branches)
	r.Stats.Extinctions = len(t.mort.Extinctions)
	if t.moved != nil {
		r.Stats.Migrants = t.moved.Moved
	}
	if len(weights) > 0 {
		r.Stats.MeanMortality = finite(stat.Mean(mort, weights))
		r.Stats.MeanGrowth = finite(stat.Mean(growth, weights))
	}
	r.Stats.MassExtinction = t.o.tiering.IsMassExtinction(r.Stats.Extinctions, t.livingAtStart)
	t.st.MassExtinction = r.Stats.MassExtinction
	if r.Stats.MassExtinction {
		slog.Warn("mass extinction", "turn", t.num, "extinctions", r.Stats.Extinctions, "living_at_start", t.livingAtStart)
	}
	if len(r.Narrative) == 0 {
		r.Narrative = nil
	}
	r.FinishedAt = time.Now()
	return r
}

func finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

// Describe renders a one-line summary of a report for logs and the CLI.
func Describe(r *TurnReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "turn %d (%s): %d living, %d branches, %d extinctions", r.Turn, r.Era, r.Stats.Living, r.Stats.Branches, r.Stats.Extinctions)
	if r.Stats.MassExtinction {
		b.WriteString(", mass extinction")
	}
	return b.String()
}
