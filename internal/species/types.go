// Package species provides the species data model: lineage codes, the
// species record and table, and genus gene pools.
package species

import (
	"math"
	"slices"

	"github.com/talgya/evo-world/internal/traits"
	"github.com/talgya/evo-world/internal/world"
)

// Status is a species' lifecycle state. Species are never deleted, only
// transitioned.
type Status uint8

const (
	StatusAlive   Status = iota
	StatusExtinct        // Population reached zero
	StatusSplit          // Population folded into another lineage
)

func (s Status) String() string {
	switch s {
	case StatusAlive:
		return "alive"
	case StatusExtinct:
		return "extinct"
	case StatusSplit:
		return "split"
	}
	return "unknown"
}

// Tier is the compute-allocation class for a turn.
type Tier uint8

const (
	TierBackground Tier = iota // Numeric-only, no adviser calls
	TierFocus                  // Batched adviser analysis
	TierCritical               // Full individual analysis and narrative
)

func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "critical"
	case TierFocus:
		return "focus"
	}
	return "background"
}

// SizeClass is the morphological size class, ordered smallest first.
type SizeClass uint8

const (
	SizeMicro  SizeClass = iota // < 1 mm
	SizeTiny                    // < 1 cm
	SizeSmall                   // < 10 cm
	SizeMedium                  // < 1 m
	SizeLarge                   // < 5 m
	SizeHuge                    // larger
)

// SizeClassFor derives the class from body length in centimetres.
func SizeClassFor(lengthCm float64) SizeClass {
	switch {
	case lengthCm < 0.1:
		return SizeMicro
	case lengthCm < 1:
		return SizeTiny
	case lengthCm < 10:
		return SizeSmall
	case lengthCm < 100:
		return SizeMedium
	case lengthCm < 500:
		return SizeLarge
	}
	return SizeHuge
}

func (s SizeClass) String() string {
	return [...]string{"micro", "tiny", "small", "medium", "large", "huge"}[min(int(s), 5)]
}

// Habitat constrains which tiles a species can occupy.
type Habitat uint8

const (
	HabitatTerrestrial Habitat = iota
	HabitatMarine
	HabitatCoastal // Amphibious: coast, shallow ocean, or land bordering water
	HabitatAerial
)

// MobilityClass returns the dispersal class name for the habitat.
func (h Habitat) MobilityClass() string {
	switch h {
	case HabitatMarine:
		return "marine"
	case HabitatCoastal:
		return "coastal"
	case HabitatAerial:
		return "aerial"
	}
	return "terrestrial"
}

// Diet is the coarse feeding category used by the trophic classifier.
type Diet uint8

const (
	DietUnknown Diet = iota
	DietProducer
	DietDecomposer
	DietHerbivore
	DietOmnivore
	DietCarnivore
	DietApex
)

// Profile is the descriptive/numeric profile a species is classified from.
type Profile struct {
	Diet           Diet      `json:"diet"`
	Habitat        Habitat   `json:"habitat"`
	Photosynthetic bool      `json:"photosynthetic"`
	BodyMassKg     float64   `json:"body_mass_kg"`
	BodyLengthCm   float64   `json:"body_length_cm"`
	GenerationDays float64   `json:"generation_days"`
	PreyLevels     []float64 `json:"prey_levels,omitempty"`
	Keywords       []string  `json:"keywords,omitempty"`
}

// Species is the central simulation entity.
type Species struct {
	Code        Code          `json:"code"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Traits      traits.Vector `json:"traits"`
	Profile     Profile       `json:"profile"`
	SizeClass   SizeClass     `json:"size_class"`

	// Set at creation; stable across generations.
	TrophicLevel float64 `json:"trophic_level"`

	Population   int64                  `json:"population"`
	Distribution map[world.TileID]int64 `json:"distribution"`

	Tier        Tier   `json:"tier"`
	Status      Status `json:"status"`
	Watchlisted bool   `json:"watchlisted,omitempty"`
	Generation  int    `json:"generation"`

	// Weak back-reference into the species table.
	ParentCode Code `json:"parent_code,omitempty"`

	CreatedTurn    int     `json:"created_turn"`
	ExtinctTurn    int     `json:"extinct_turn,omitempty"`
	CooldownUntil  int     `json:"cooldown_until"`
	IsolationTurns int     `json:"isolation_turns"`
	LagUntil       int     `json:"lag_until,omitempty"`
	LagPenalty     float64 `json:"lag_penalty,omitempty"`
	LastTrack      Track   `json:"last_track"`

	// Subspecies are promoted to full species at PromoteAtTurn if alive.
	Subspecies    bool `json:"subspecies,omitempty"`
	PromoteAtTurn int  `json:"promote_at_turn,omitempty"`

	NextChild int `json:"next_child"` // Ordinal for the next branch code
}

// Track is the evolutionary track chosen by the divergence test.
type Track uint8

const (
	TrackNone Track = iota
	TrackAdapt
	TrackSpeciate
)

func (t Track) String() string {
	switch t {
	case TrackAdapt:
		return "adapt"
	case TrackSpeciate:
		return "speciate"
	}
	return "none"
}

// Alive reports whether the species is living.
func (s *Species) Alive() bool {
	return s.Status == StatusAlive
}

// IsPlant reports whether the species is a primary producer.
func (s *Species) IsPlant() bool {
	return s.Profile.Photosynthetic || s.Profile.Diet == DietProducer
}

// SizeProxy is log10 of body length in cm, shifted to be non-negative for
// micro organisms.
func (s *Species) SizeProxy() float64 {
	l := s.Profile.BodyLengthCm
	if l <= 0 {
		return 0
	}
	return math.Max(0, math.Log10(l)+2)
}

// RecountPopulation recomputes Population from Distribution, dropping empty
// tiles.
func (s *Species) RecountPopulation() int64 {
	var total int64
	for id, n := range s.Distribution {
		if n <= 0 {
			delete(s.Distribution, id)
			continue
		}
		total += n
	}
	s.Population = total
	return total
}

// Clone returns a deep copy.
func (s *Species) Clone() *Species {
	c := *s
	c.Traits = s.Traits.Clone()
	c.Profile.PreyLevels = append([]float64(nil), s.Profile.PreyLevels...)
	c.Profile.Keywords = append([]string(nil), s.Profile.Keywords...)
	c.Distribution = make(map[world.TileID]int64, len(s.Distribution))
	for k, v := range s.Distribution {
		c.Distribution[k] = v
	}
	return &c
}

// Tiles returns the occupied tile IDs in ascending order.
func (s *Species) Tiles() []world.TileID {
	ids := make([]world.TileID, 0, len(s.Distribution))
	for id, n := range s.Distribution {
		if n > 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}
