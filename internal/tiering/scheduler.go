// Package tiering allocates per-turn analysis depth across species.
// Critical species receive full individual analysis and narrative, Focus
// species batched adviser analysis, Background species numeric updates only.
package tiering

import (
	"log/slog"
	"math"
	"sort"

	"github.com/talgya/evo-world/internal/config"
	"github.com/talgya/evo-world/internal/genetics"
	"github.com/talgya/evo-world/internal/species"
)

// Change records a tier transition.
type Change struct {
	Code   species.Code `json:"code"`
	From   species.Tier `json:"from"`
	To     species.Tier `json:"to"`
	Reason string       `json:"reason"` // "promotion", "demotion", "reemergence"
}

// Result is the partition produced for one turn.
type Result struct {
	Critical   []species.Code                `json:"critical"`
	Focus      []species.Code                `json:"focus"`
	Background []species.Code                `json:"background"`
	Scores     map[species.Code]float64      `json:"scores"`
	Changes    []Change                      `json:"changes"`
	Tiers      map[species.Code]species.Tier `json:"-"`
}

// Counts returns the number of species in each tier.
func (r Result) Counts() (critical, focus, background int) {
	return len(r.Critical), len(r.Focus), len(r.Background)
}

// Scheduler scores species and assigns compute tiers.
type Scheduler struct {
	cfg      config.TieringConfig
	genetics *genetics.Calculator
}

// NewScheduler creates a scheduler. The genetics calculator is used for
// reemergence diversity scoring.
func NewScheduler(cfg config.TieringConfig, gc *genetics.Calculator) *Scheduler {
	return &Scheduler{cfg: cfg, genetics: gc}
}

type scored struct {
	sp    *species.Species
	score float64
	watch bool
}

// Score computes a species' priority.
func (s *Scheduler) Score(sp *species.Species, watched, specialRole bool) float64 {
	score := s.cfg.TrophicWeight*sp.TrophicLevel +
		math.Log(math.Max(1, float64(sp.Population)))*s.cfg.PopulationScale
	if sp.Population < s.cfg.RarityThreshold {
		score += s.cfg.EndangermentBonus
	}
	if specialRole {
		score += s.cfg.SpecialRoleBonus
	}
	if watched {
		score += s.cfg.WatchlistBonus
	}
	return score
}

// specialRoles marks apex consumers and the dominant producer.
func specialRoles(living []*species.Species) map[species.Code]bool {
	roles := make(map[species.Code]bool)
	var dominant *species.Species
	for _, sp := range living {
		if sp.TrophicLevel >= 4 {
			roles[sp.Code] = true
		}
		if sp.IsPlant() && (dominant == nil || sp.Population > dominant.Population) {
			dominant = sp
		}
	}
	if dominant != nil {
		roles[dominant.Code] = true
	}
	return roles
}

// Schedule partitions the living species into tiers and writes the new tier
// onto each record. Every watchlisted species lands in Critical. When
// massExtinction is set, diverse Background survivors are force-promoted to
// Focus.
func (s *Scheduler) Schedule(living []*species.Species, watchlist map[species.Code]bool, massExtinction bool) Result {
	res := Result{
		Scores: make(map[species.Code]float64, len(living)),
		Tiers:  make(map[species.Code]species.Tier, len(living)),
	}
	if len(living) == 0 {
		return res
	}

	roles := specialRoles(living)
	list := make([]scored, 0, len(living))
	for _, sp := range living {
		w := watchlist[sp.Code]
		sc := s.Score(sp, w, roles[sp.Code])
		list = append(list, scored{sp: sp, score: sc, watch: w})
		res.Scores[sp.Code] = sc
	}

	// Sort descending, code ascending on ties.
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		return list[i].sp.Code < list[j].sp.Code
	})

	previous := make(map[species.Code]species.Tier, len(living))
	for _, e := range list {
		previous[e.sp.Code] = e.sp.Tier
	}

	// Critical: every watchlisted species, then the best of the rest up to the limit.
	assigned := make(map[species.Code]species.Tier, len(list))
	nCritical := 0
	for _, e := range list {
		if e.watch {
			assigned[e.sp.Code] = species.TierCritical
			nCritical++
		}
	}
	nFocus := 0
	for _, e := range list {
		if _, done := assigned[e.sp.Code]; done {
			continue
		}
		switch {
		case nCritical < s.cfg.CriticalLimit:
			assigned[e.sp.Code] = species.TierCritical
			nCritical++
		case nFocus < s.cfg.FocusLimit:
			assigned[e.sp.Code] = species.TierFocus
			nFocus++
		default:
			assigned[e.sp.Code] = species.TierBackground
		}
	}

	reemerged := make(map[species.Code]bool)
	if massExtinction {
		for _, code := range s.reemerge(list, assigned, living) {
			assigned[code] = species.TierFocus
			reemerged[code] = true
		}
	}

	for _, e := range list {
		code := e.sp.Code
		tier := assigned[code]
		e.sp.Tier = tier
		res.Tiers[code] = tier
		switch tier {
		case species.TierCritical:
			res.Critical = append(res.Critical, code)
		case species.TierFocus:
			res.Focus = append(res.Focus, code)
		default:
			res.Background = append(res.Background, code)
		}

		from := previous[code]
		switch {
		case reemerged[code]:
			res.Changes = append(res.Changes, Change{Code: code, From: from, To: tier, Reason: "reemergence"})
		case tier > from:
			res.Changes = append(res.Changes, Change{Code: code, From: from, To: tier, Reason: "promotion"})
		case tier < from:
			res.Changes = append(res.Changes, Change{Code: code, From: from, To: tier, Reason: "demotion"})
		}
	}

	slog.Debug("tiers scheduled",
		"critical", len(res.Critical),
		"focus", len(res.Focus),
		"background", len(res.Background),
		"reemerged", len(reemerged),
	)
	return res
}

// reemerge picks the most genetically diverse Background survivors to
// repopulate niches vacated by a mass extinction.
func (s *Scheduler) reemerge(list []scored, assigned map[species.Code]species.Tier, living []*species.Species) []species.Code {
	if s.cfg.ReemergenceLimit <= 0 || s.genetics == nil {
		return nil
	}
	type cand struct {
		code      species.Code
		diversity float64
	}
	var cands []cand
	for _, e := range list {
		if assigned[e.sp.Code] != species.TierBackground {
			continue
		}
		d := s.genetics.Diversity(e.sp, living)
		if d >= s.cfg.ReemergenceMinDiv {
			cands = append(cands, cand{e.sp.Code, d})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].diversity != cands[j].diversity {
			return cands[i].diversity > cands[j].diversity
		}
		return cands[i].code < cands[j].code
	})
	if len(cands) > s.cfg.ReemergenceLimit {
		cands = cands[:s.cfg.ReemergenceLimit]
	}
	out := make([]species.Code, len(cands))
	for i, c := range cands {
		out[i] = c.code
	}
	return out
}

// IsMassExtinction reports whether extinctions this turn reach the configured
// fraction of the species alive at the start of the turn.
func (s *Scheduler) IsMassExtinction(extinctions, livingAtStart int) bool {
	if livingAtStart == 0 || extinctions == 0 {
		return false
	}
	return float64(extinctions)/float64(livingAtStart) >= s.cfg.MassExtinctionFraction
}
