// Package trophic places species in the energy pyramid and derives the
// trait-sum caps and birth efficiencies that follow from their position.
package trophic

import (
	"math"
	"strings"

	"github.com/talgya/evo-world/internal/config"
	"github.com/talgya/evo-world/internal/species"
)

// Level bounds.
const (
	MinLevel = 1.0
	MaxLevel = 5.5
)

// Classifier assigns trophic levels and caps. It is stateless beyond its
// configuration.
type Classifier struct {
	cfg config.TrophicConfig
}

// NewClassifier creates a classifier. The config must have passed
// config.Validate.
func NewClassifier(cfg config.TrophicConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

var dietLevels = map[species.Diet]float64{
	species.DietProducer:   1.0,
	species.DietDecomposer: 1.5,
	species.DietHerbivore:  2.0,
	species.DietOmnivore:   2.5,
	species.DietCarnivore:  3.2,
	species.DietApex:       4.2,
}

// Keyword hints, checked in order so the most specific wins.
var keywordLevels = []struct {
	word  string
	level float64
}{
	{"apex", 4.2},
	{"predator", 3.2},
	{"carniv", 3.2},
	{"piscivor", 3.2},
	{"insectiv", 2.6},
	{"omniv", 2.5},
	{"scaveng", 2.2},
	{"filter", 2.0},
	{"graz", 2.0},
	{"herbiv", 2.0},
	{"detrit", 1.5},
	{"decompos", 1.5},
	{"photosynth", 1.0},
	{"algae", 1.0},
	{"plant", 1.0},
}

// Classify returns the trophic level for a profile. Insufficient data
// defaults to the lowest tier.
func (c *Classifier) Classify(p species.Profile) float64 {
	if len(p.PreyLevels) > 0 {
		var sum float64
		for _, l := range p.PreyLevels {
			sum += l
		}
		return clampLevel(1 + sum/float64(len(p.PreyLevels)))
	}
	if p.Photosynthetic {
		return MinLevel
	}
	if l, ok := dietLevels[p.Diet]; ok {
		return l
	}
	for _, kw := range p.Keywords {
		kw = strings.ToLower(kw)
		for _, h := range keywordLevels {
			if strings.Contains(kw, h.word) {
				return h.level
			}
		}
	}
	return MinLevel
}

func clampLevel(l float64) float64 {
	if math.IsNaN(l) {
		return MinLevel
	}
	return math.Max(MinLevel, math.Min(MaxLevel, l))
}

// Tier maps a level to its integer tier 1..5. Tier n covers [n, n+1) and
// tier 5 is everything from 5.0 up.
func Tier(level float64) int {
	t := int(math.Floor(level))
	return max(1, min(5, t))
}

// BaseCap returns the configured trait-sum cap for a level.
func (c *Classifier) BaseCap(level float64) float64 {
	return c.cfg.Caps[Tier(level)-1]
}

// Cap returns the trait-sum cap for a level and body mass. Bodies heavier
// than the reference mass gain a Kleiber-style bonus, (mass/ref)^0.25,
// bounded by the configured maximum.
func (c *Classifier) Cap(level, bodyMassKg float64) float64 {
	base := c.BaseCap(level)
	ref := c.cfg.KleiberRefMassKg
	if ref <= 0 || bodyMassKg <= ref {
		return base
	}
	bonus := math.Pow(bodyMassKg/ref, 0.25)
	return base * math.Min(c.cfg.KleiberMaxBonus, bonus)
}

// CapFor is Cap for a species record.
func (c *Classifier) CapFor(s *species.Species) float64 {
	return c.Cap(s.TrophicLevel, s.Profile.BodyMassKg)
}

// BirthEfficiency is the fraction of reproductive output that survives
// energy transfer losses at this level (T1, T2, T3, T4+).
func (c *Classifier) BirthEfficiency(level float64) float64 {
	i := min(Tier(level), 4) - 1
	return c.cfg.BirthEfficiency[i]
}

// TransferEfficiency is the share of prey biomass available one level up.
func (c *Classifier) TransferEfficiency() float64 {
	return c.cfg.TransferEff
}
