// Package traits defines the adaptive trait vector carried by every species.
//
// A vector has a fixed schema of known slots plus a sparse set of extension
// traits admitted through a Registry, so the sum and norm invariants are
// always computable over a flat []float64.
package traits

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Slot indexes a known trait.
type Slot int

const (
	HeatTolerance Slot = iota
	ColdTolerance
	DroughtTolerance
	SalinityTolerance
	PressureTolerance
	Locomotion
	Sensing
	Defense
	Aggression
	ReproductiveSpeed
	Sociality
	MetabolicEfficiency

	NumSlots
)

// Value bounds for every trait.
const (
	MinValue = 1.0
	MaxValue = 15.0
)

var slotNames = [NumSlots]string{
	"heat_tolerance",
	"cold_tolerance",
	"drought_tolerance",
	"salinity_tolerance",
	"pressure_tolerance",
	"locomotion",
	"sensing",
	"defense",
	"aggression",
	"reproductive_speed",
	"sociality",
	"metabolic_efficiency",
}

// String returns the trait's snake_case name.
func (s Slot) String() string {
	if s < 0 || s >= NumSlots {
		return fmt.Sprintf("slot(%d)", int(s))
	}
	return slotNames[s]
}

// SlotByName looks up a known slot.
func SlotByName(name string) (Slot, bool) {
	for i, n := range slotNames {
		if n == name {
			return Slot(i), true
		}
	}
	return 0, false
}

// Vector is a species' trait profile.
type Vector struct {
	Core [NumSlots]float64 `json:"core"`
	Ext  map[string]float64 `json:"ext,omitempty"`
}

// Uniform returns a vector with every core slot set to v.
func Uniform(v float64) Vector {
	var out Vector
	for i := range out.Core {
		out.Core[i] = v
	}
	return out
}

// Clone returns a deep copy.
func (v Vector) Clone() Vector {
	out := Vector{Core: v.Core}
	if len(v.Ext) > 0 {
		out.Ext = make(map[string]float64, len(v.Ext))
		for k, x := range v.Ext {
			out.Ext[k] = x
		}
	}
	return out
}

// Get returns a core slot value.
func (v Vector) Get(s Slot) float64 {
	return v.Core[s]
}

// Set assigns a core slot value.
func (v *Vector) Set(s Slot, x float64) {
	v.Core[s] = x
}

// extKeys returns extension names in sorted order so flattening is stable.
func (v Vector) extKeys() []string {
	keys := make([]string, 0, len(v.Ext))
	for k := range v.Ext {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flat returns the core slots followed by extensions in name order.
func (v Vector) Flat() []float64 {
	out := make([]float64, 0, int(NumSlots)+len(v.Ext))
	out = append(out, v.Core[:]...)
	for _, k := range v.extKeys() {
		out = append(out, v.Ext[k])
	}
	return out
}

// setFlat is the inverse of Flat for a vector with the same extension keys.
func (v *Vector) setFlat(flat []float64) {
	copy(v.Core[:], flat[:NumSlots])
	for i, k := range v.extKeys() {
		v.Ext[k] = flat[int(NumSlots)+i]
	}
}

// Sum is the total trait magnitude, the quantity capped by trophic tier.
func (v Vector) Sum() float64 {
	return floats.Sum(v.Flat())
}

// Norm is the L2 norm, the quantity conserved by adaptation steps.
func (v Vector) Norm() float64 {
	return floats.Norm(v.Flat(), 2)
}

// Cosine returns the cosine similarity of the core slots of a and b.
// Zero vectors are treated as identical.
func Cosine(a, b Vector) float64 {
	return CosineSlices(a.Core[:], b.Core[:])
}

// CosineSlices returns the cosine similarity of two equal-length slices.
// If either has zero norm the result is 1.
func CosineSlices(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na < 1e-12 || nb < 1e-12 {
		return 1
	}
	c := floats.Dot(a, b) / (na * nb)
	return math.Max(-1, math.Min(1, c))
}

// InBounds reports whether every trait lies in [MinValue, MaxValue].
func (v Vector) InBounds() bool {
	for _, x := range v.Flat() {
		if x < MinValue-1e-9 || x > MaxValue+1e-9 || math.IsNaN(x) {
			return false
		}
	}
	return true
}

// Clamp limits every trait to [MinValue, MaxValue].
func (v *Vector) Clamp() {
	for i := range v.Core {
		v.Core[i] = clampValue(v.Core[i])
	}
	for k, x := range v.Ext {
		v.Ext[k] = clampValue(x)
	}
}

func clampValue(x float64) float64 {
	if math.IsNaN(x) {
		return MinValue
	}
	return math.Max(MinValue, math.Min(MaxValue, x))
}

// Specialized counts traits strictly above cap.
func (v Vector) Specialized(cap float64) int {
	n := 0
	for _, x := range v.Flat() {
		if x > cap {
			n++
		}
	}
	return n
}

// EnforceSpecialization clamps every over-cap trait to cap except the
// maxOver largest ones. Returns the number of traits clamped.
func (v *Vector) EnforceSpecialization(cap float64, maxOver int) int {
	type over struct {
		key   string
		slot  Slot
		value float64
	}
	var list []over
	for i, x := range v.Core {
		if x > cap {
			list = append(list, over{slot: Slot(i), value: x})
		}
	}
	for _, k := range v.extKeys() {
		if x := v.Ext[k]; x > cap {
			list = append(list, over{key: k, slot: -1, value: x})
		}
	}
	if len(list) <= maxOver {
		return 0
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].value > list[j].value })
	for _, o := range list[maxOver:] {
		if o.slot >= 0 {
			v.Core[o.slot] = cap
		} else {
			v.Ext[o.key] = cap
		}
	}
	return len(list) - maxOver
}

// ScaleNorm rescales the vector to the given L2 norm.
func (v *Vector) ScaleNorm(norm float64) {
	n := v.Norm()
	if n < 1e-12 {
		return
	}
	flat := v.Flat()
	floats.Scale(norm/n, flat)
	v.setFlat(flat)
}

// ShrinkToNorm lowers every trait toward MinValue by a common factor until
// the norm equals limit, so the result stays in bounds. Values are clamped
// first. Returns false when even the all-minimum vector exceeds limit, in
// which case every trait is left at MinValue.
func (v *Vector) ShrinkToNorm(limit float64) bool {
	v.Clamp()
	if v.Norm() <= limit {
		return true
	}
	flat := v.Flat()
	base := make([]float64, len(flat))
	for i := range base {
		base[i] = MinValue
	}
	excess := make([]float64, len(flat))
	floats.SubTo(excess, flat, base)

	// Solve ‖base + f·excess‖ = limit for f in [0, 1).
	a := floats.Dot(excess, excess)
	b := 2 * floats.Dot(base, excess)
	c := floats.Dot(base, base) - limit*limit
	if c >= 0 || a < 1e-12 {
		v.setFlat(base)
		return c <= 0
	}
	f := (-b + math.Sqrt(b*b-4*a*c)) / (2 * a)
	floats.AddScaled(base, f, excess)
	v.setFlat(base)
	return true
}

// FitSum reduces the vector so its sum does not exceed cap, taking magnitude
// proportionally from every trait's excess over MinValue. Slots in keep are
// not reduced. Returns false if cap cannot be reached.
func (v *Vector) FitSum(cap float64, keep map[Slot]bool) bool {
	sum := v.Sum()
	if sum <= cap {
		return true
	}
	excess := sum - cap
	var reducible float64
	for i, x := range v.Core {
		if !keep[Slot(i)] {
			reducible += x - MinValue
		}
	}
	for _, x := range v.Ext {
		reducible += x - MinValue
	}
	if reducible < excess {
		return false
	}
	f := excess / reducible
	for i, x := range v.Core {
		if !keep[Slot(i)] {
			v.Core[i] = x - (x-MinValue)*f
		}
	}
	for k, x := range v.Ext {
		v.Ext[k] = x - (x-MinValue)*f
	}
	return true
}

// Mean returns the weighted mean of vectors' core slots. Extensions are
// not averaged. Weights must be non-negative; zero total yields the zero vector.
func Mean(vs []Vector, weights []float64) Vector {
	var out Vector
	total := floats.Sum(weights)
	if total <= 0 {
		return out
	}
	for i, v := range vs {
		floats.AddScaled(out.Core[:], weights[i]/total, v.Core[:])
	}
	return out
}
