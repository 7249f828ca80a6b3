// Package config loads the tunable coefficients for the simulation.
// A Config is loaded once per process and passed explicitly into each engine;
// there is no package-level instance.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalid is wrapped by every fatal configuration error.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all simulation configuration parameters.
type Config struct {
	Seed         int64              `yaml:"seed"`
	Log          LogConfig          `yaml:"log"`
	World        WorldConfig        `yaml:"world"`
	Traits       TraitsConfig       `yaml:"traits"`
	Trophic      TrophicConfig      `yaml:"trophic"`
	Mortality    MortalityConfig    `yaml:"mortality"`
	Reproduction ReproductionConfig `yaml:"reproduction"`
	Tiering      TieringConfig      `yaml:"tiering"`
	Genetics     GeneticsConfig     `yaml:"genetics"`
	Adaptation   AdaptationConfig   `yaml:"adaptation"`
	Speciation   SpeciationConfig   `yaml:"speciation"`
	Dispersal    DispersalConfig    `yaml:"dispersal"`
	Adviser      AdviserConfig      `yaml:"adviser"`
	Runner       RunnerConfig       `yaml:"runner"`
	API          APIConfig          `yaml:"api"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// LogConfig selects the root logger level ("debug", "info", "warn", "error").
type LogConfig struct {
	Level string `yaml:"level"`
}

// WorldConfig holds tile-grid generation parameters.
type WorldConfig struct {
	Radius         int     `yaml:"radius"`           // Hex grid radius
	SeaLevel       float64 `yaml:"sea_level"`        // Elevation below which tiles are ocean
	MountainLevel  float64 `yaml:"mountain_level"`   // Elevation above which tiles are mountain
	DeepOceanLevel float64 `yaml:"deep_ocean_level"` // Ocean depth (0..1) regarded as deep water
	InitialSpecies int     `yaml:"initial_species"`  // Species seeded at genesis
}

// TraitsConfig holds trait-vector constraints shared by every engine.
type TraitsConfig struct {
	SpecializationCap float64  `yaml:"specialization_cap"` // Per-trait baseline specialization cap
	MaxSpecialized    int      `yaml:"max_specialized"`    // Traits allowed above the cap
	Extensions        []string `yaml:"extensions"`         // Registered extension trait names
}

// TrophicConfig holds energy-pyramid caps and transfer efficiencies.
type TrophicConfig struct {
	Caps             []float64 `yaml:"caps"`               // Trait-sum cap per tier T1..T5+
	BirthEfficiency  []float64 `yaml:"birth_efficiency"`   // Birth efficiency per tier T1..T4+
	KleiberRefMassKg float64   `yaml:"kleiber_ref_mass_kg"` // Body mass above which the metabolic discount applies
	KleiberMaxBonus  float64   `yaml:"kleiber_max_bonus"`   // Upper bound on the cap multiplier
	TransferEff      float64   `yaml:"transfer_efficiency"` // Energy passed up one trophic level
}

// PressureSet holds one value per mortality pressure source.
type PressureSet struct {
	Environment float64 `yaml:"environment"`
	Competition float64 `yaml:"competition"`
	Trophic     float64 `yaml:"trophic"`
	Resource    float64 `yaml:"resource"`
	Predation   float64 `yaml:"predation"`
}

// MortalityConfig holds the pressure model coefficients.
type MortalityConfig struct {
	Caps             PressureSet `yaml:"caps"`
	PlantCompetition float64     `yaml:"plant_competition_cap"`
	Weights          PressureSet `yaml:"weights"`      // Additive model
	Coefficients     PressureSet `yaml:"coefficients"` // Multiplicative model
	AdditiveShare    float64     `yaml:"additive_share"`
	SizeResistance   float64     `yaml:"size_resistance"`       // Per unit of size proxy (log10 body length cm)
	GenResistance    float64     `yaml:"generation_resistance"` // Per generation
	MaxResistance    float64     `yaml:"max_resistance"`
	MinMortality     float64     `yaml:"min_mortality"`
	MaxMortality     float64     `yaml:"max_mortality"`
	SameGenusPenalty float64     `yaml:"same_genus_penalty"` // Max competition added to a parent by its children
}

// ReproductionConfig holds growth multiplier coefficients.
type ReproductionConfig struct {
	BaseScale           float64 `yaml:"base_scale"`
	MicroBonus          float64 `yaml:"micro_bonus"`
	TinyBonus           float64 `yaml:"tiny_bonus"`
	SmallBonus          float64 `yaml:"small_bonus"`
	WeeklyBonus         float64 `yaml:"weekly_bonus"`
	MonthlyBonus        float64 `yaml:"monthly_bonus"`
	HalfYearBonus       float64 `yaml:"half_year_bonus"`
	InstinctThreshold   float64 `yaml:"instinct_threshold"` // Fraction of carrying capacity
	InstinctMaxBonus    float64 `yaml:"instinct_max_bonus"`
	MinMultiplier       float64 `yaml:"min_multiplier"`
	MaxMultiplier       float64 `yaml:"max_multiplier"`
	CapacityPerResource float64 `yaml:"capacity_per_resource"` // Individuals per unit resource at T1, micro size
}

// TieringConfig holds compute-tier scoring parameters.
type TieringConfig struct {
	CriticalLimit          int     `yaml:"critical_limit"`
	FocusLimit             int     `yaml:"focus_limit"`
	TrophicWeight          float64 `yaml:"trophic_weight"`
	PopulationScale        float64 `yaml:"population_scale"`
	RarityThreshold        int64   `yaml:"rarity_threshold"`
	EndangermentBonus      float64 `yaml:"endangerment_bonus"`
	SpecialRoleBonus       float64 `yaml:"special_role_bonus"`
	WatchlistBonus         float64 `yaml:"watchlist_bonus"`
	WatchlistMax           int     `yaml:"watchlist_max"`
	MassExtinctionFraction float64 `yaml:"mass_extinction_fraction"`
	ReemergenceLimit       int     `yaml:"reemergence_limit"`
	ReemergenceMinDiv      float64 `yaml:"reemergence_min_diversity"`
}

// GeneticsConfig weights the genetic distance components.
type GeneticsConfig struct {
	MorphologyWeight       float64 `yaml:"morphology_weight"`
	TraitWeight            float64 `yaml:"trait_weight"`
	LineageWeight          float64 `yaml:"lineage_weight"`
	LineageScale           float64 `yaml:"lineage_scale"`
	HybridizationThreshold float64 `yaml:"hybridization_threshold"`
}

// EraConfig caps trait-vector norm from StartTurn onward.
type EraConfig struct {
	Name      string  `yaml:"name"`
	StartTurn int     `yaml:"start_turn"`
	MaxNorm   float64 `yaml:"max_norm"`
}

// AdaptationConfig holds progressive adaptation parameters.
type AdaptationConfig struct {
	Alpha            float64     `yaml:"alpha"`
	MaxStepMagnitude float64     `yaml:"max_step_magnitude"` // Per-turn adviser delta budget
	MaxHalvings      int         `yaml:"max_halvings"`
	Eras             []EraConfig `yaml:"eras"`
}

// SpeciationConfig holds region clustering and branching parameters.
type SpeciationConfig struct {
	MinRegionShare         float64 `yaml:"min_region_share"`
	HomogeneityThreshold   float64 `yaml:"homogeneity_threshold"`
	TrackAThreshold        float64 `yaml:"track_a_threshold"`
	TrackBThreshold        float64 `yaml:"track_b_threshold"`
	CooldownTurns          int     `yaml:"cooldown_turns"`
	EarlyGameTurns         int     `yaml:"early_game_turns"`
	EarlyThresholdDiscount float64 `yaml:"early_threshold_discount"`
	BranchThreshold        float64 `yaml:"branch_threshold"`
	BaseProbability        float64 `yaml:"base_probability"`
	SoftSpeciesCap         int     `yaml:"soft_species_cap"`
	NoIsolationMultiplier  float64 `yaml:"no_isolation_multiplier"`
	IsolationBonusPerTurn  float64 `yaml:"isolation_bonus_per_turn"`
	FounderParentMin       float64 `yaml:"founder_parent_min"`
	FounderParentMax       float64 `yaml:"founder_parent_max"`
	MinBranchPopulation    int64   `yaml:"min_branch_population"`
	SubspeciesTurns        int     `yaml:"subspecies_turns"`
	LagTurns               int     `yaml:"lag_turns"`
	LagPenaltyMin          float64 `yaml:"lag_penalty_min"`
	LagPenaltyMax          float64 `yaml:"lag_penalty_max"`
	ChildStepScale         float64 `yaml:"child_step_scale"`
	SynergyHeatMin         float64 `yaml:"synergy_heat_min"`
	DeepPressureMin        float64 `yaml:"deep_pressure_min"`
	DeepLocomotionMin      float64 `yaml:"deep_locomotion_min"`
	AridDroughtMin         float64 `yaml:"arid_drought_min"`
	ColdToleranceMin       float64 `yaml:"cold_tolerance_min"`
}

// MobilityConfig bounds dispersal for one mobility class.
type MobilityConfig struct {
	Range int `yaml:"range"` // Hex distance
	TopK  int `yaml:"top_k"`
}

// DispersalConfig holds migration trigger thresholds.
type DispersalConfig struct {
	PressureMortality  float64                   `yaml:"pressure_mortality"`
	SaturationPressure float64                   `yaml:"saturation_pressure"`
	OverflowGrowth     float64                   `yaml:"overflow_growth"`
	OverflowPressure   float64                   `yaml:"overflow_pressure"`
	PressureFraction   float64                   `yaml:"pressure_fraction"`
	SaturationFraction float64                   `yaml:"saturation_fraction"`
	OverflowFraction   float64                   `yaml:"overflow_fraction"`
	MinSuitability     float64                   `yaml:"min_suitability"`
	HighTrophicDamping float64                   `yaml:"high_trophic_damping"`
	MidTrophicDamping  float64                   `yaml:"mid_trophic_damping"`
	Mobility           map[string]MobilityConfig `yaml:"mobility"`
}

// AdviserConfig bounds calls to the external generative adviser.
type AdviserConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxPerMinute int           `yaml:"max_per_minute"`
	Model        string        `yaml:"model"`
	Narrative    bool          `yaml:"narrative"` // Request narrative for Critical species
}

// RunnerConfig paces the turn loop.
type RunnerConfig struct {
	Interval time.Duration `yaml:"interval"`
	MaxTurns int           `yaml:"max_turns"` // 0 = unbounded
}

// APIConfig holds the operator API listener settings.
type APIConfig struct {
	Port int `yaml:"port"`
}

// TelemetryConfig holds per-turn CSV output settings.
type TelemetryConfig struct {
	Dir string `yaml:"dir"` // Empty disables output
}

// Default returns the embedded defaults. It panics only if the embedded file
// is corrupt, which is a build defect.
func Default() Config {
	cfg, err := parse(nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// Load reads the embedded defaults and overlays the file at path, if any.
// The result is validated; a fatal error wraps ErrInvalid.
func Load(path string) (Config, error) {
	var overlay []byte
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		overlay = data
	}
	cfg, err := parse(overlay)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parse(overlay []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	if len(overlay) > 0 {
		// Only overwrites fields present in the overlay.
		if err := yaml.Unmarshal(overlay, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}
	return cfg, nil
}

// WriteYAML saves the configuration to path.
func (c Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// EraAt returns the era in effect at turn. Eras are ordered by StartTurn;
// the zero EraConfig is returned when none is configured.
func (a AdaptationConfig) EraAt(turn int) EraConfig {
	var era EraConfig
	for _, e := range a.Eras {
		if e.StartTurn <= turn {
			era = e
		}
	}
	return era
}

// MobilityFor returns the mobility bounds for a class name, falling back to
// the terrestrial entry.
func (d DispersalConfig) MobilityFor(class string) MobilityConfig {
	if m, ok := d.Mobility[class]; ok {
		return m
	}
	return d.Mobility["terrestrial"]
}
