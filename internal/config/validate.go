package config

import (
	"errors"
	"fmt"
)

// Validate reports configuration that would make a turn impossible to run
// consistently. Every problem found is joined into one error wrapping
// ErrInvalid.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// Trophic caps must describe an energy pyramid.
	if len(c.Trophic.Caps) != 5 {
		bad("trophic.caps: want 5 tiers, got %d", len(c.Trophic.Caps))
	} else {
		for i, cp := range c.Trophic.Caps {
			if cp <= 0 {
				bad("trophic.caps[%d]: must be positive, got %.2f", i, cp)
			}
			if i > 0 && cp <= c.Trophic.Caps[i-1] {
				bad("trophic.caps[%d]: %.2f not above tier below (%.2f)", i, cp, c.Trophic.Caps[i-1])
			}
		}
	}
	if len(c.Trophic.BirthEfficiency) != 4 {
		bad("trophic.birth_efficiency: want 4 tiers, got %d", len(c.Trophic.BirthEfficiency))
	}
	for i, e := range c.Trophic.BirthEfficiency {
		if e <= 0 || e > 1 {
			bad("trophic.birth_efficiency[%d]: %.2f outside (0,1]", i, e)
		}
	}
	if c.Trophic.KleiberMaxBonus < 1 {
		bad("trophic.kleiber_max_bonus: %.2f below 1", c.Trophic.KleiberMaxBonus)
	}

	m := c.Mortality
	if m.MinMortality < 0 || m.MaxMortality > 1 || m.MinMortality >= m.MaxMortality {
		bad("mortality: bounds [%.2f, %.2f] invalid", m.MinMortality, m.MaxMortality)
	}
	if m.AdditiveShare < 0 || m.AdditiveShare > 1 {
		bad("mortality.additive_share: %.2f outside [0,1]", m.AdditiveShare)
	}
	if m.MaxResistance < 0 || m.MaxResistance >= 1 {
		bad("mortality.max_resistance: %.2f outside [0,1)", m.MaxResistance)
	}
	for name, v := range map[string]float64{
		"environment": m.Caps.Environment, "competition": m.Caps.Competition,
		"trophic": m.Caps.Trophic, "resource": m.Caps.Resource,
		"predation": m.Caps.Predation, "plant_competition": m.PlantCompetition,
	} {
		if v < 0 || v > 1 {
			bad("mortality.caps.%s: %.2f outside [0,1]", name, v)
		}
	}

	r := c.Reproduction
	if r.MinMultiplier <= 0 || r.MinMultiplier >= r.MaxMultiplier {
		bad("reproduction: multiplier range [%.2f, %.2f] invalid", r.MinMultiplier, r.MaxMultiplier)
	}
	if r.InstinctThreshold <= 0 || r.InstinctThreshold >= 1 {
		bad("reproduction.instinct_threshold: %.2f outside (0,1)", r.InstinctThreshold)
	}

	t := c.Tiering
	if t.CriticalLimit < 0 || t.FocusLimit < 0 {
		bad("tiering: negative tier limits")
	}
	if t.WatchlistMax < 0 {
		bad("tiering.watchlist_max: negative")
	}

	g := c.Genetics
	if g.MorphologyWeight+g.TraitWeight+g.LineageWeight <= 0 {
		bad("genetics: weights sum to zero")
	}

	a := c.Adaptation
	if a.Alpha <= 0 || a.Alpha > 1 {
		bad("adaptation.alpha: %.2f outside (0,1]", a.Alpha)
	}
	for i, e := range a.Eras {
		if e.MaxNorm <= 0 {
			bad("adaptation.eras[%d]: max_norm must be positive", i)
		}
		if i > 0 && e.StartTurn <= a.Eras[i-1].StartTurn {
			bad("adaptation.eras[%d]: start_turn not increasing", i)
		}
	}

	s := c.Speciation
	if s.TrackBThreshold > s.TrackAThreshold {
		bad("speciation: track_b_threshold %.2f above track_a_threshold %.2f", s.TrackBThreshold, s.TrackAThreshold)
	}
	if s.FounderParentMin < 0.6 || s.FounderParentMax > 0.8 || s.FounderParentMin > s.FounderParentMax {
		bad("speciation: founder parent share [%.2f, %.2f] must lie within [0.6, 0.8]", s.FounderParentMin, s.FounderParentMax)
	}
	if s.LagPenaltyMin < 0 || s.LagPenaltyMin > s.LagPenaltyMax {
		bad("speciation: lag penalty range [%.2f, %.2f] invalid", s.LagPenaltyMin, s.LagPenaltyMax)
	}
	if s.NoIsolationMultiplier < 1 {
		bad("speciation.no_isolation_multiplier: %.2f below 1", s.NoIsolationMultiplier)
	}

	if c.World.Radius < 1 {
		bad("world.radius: must be at least 1")
	}
	if c.World.InitialSpecies < 1 || c.World.InitialSpecies > 26 {
		bad("world.initial_species: %d outside [1,26]", c.World.InitialSpecies)
	}

	if _, ok := c.Dispersal.Mobility["terrestrial"]; !ok {
		bad("dispersal.mobility: terrestrial class required")
	}

	if c.Adviser.Concurrency < 1 {
		bad("adviser.concurrency: must be at least 1")
	}
	if c.Adviser.Timeout <= 0 {
		bad("adviser.timeout: must be positive")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
