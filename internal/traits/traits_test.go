package traits

import (
	"errors"
	"math"
	"testing"
)

func TestSlotNames(t *testing.T) {
	for s := Slot(0); s < NumSlots; s++ {
		got, ok := SlotByName(s.String())
		if !ok || got != s {
			t.Errorf("SlotByName(%q) = %v, %v", s.String(), got, ok)
		}
	}
	if _, ok := SlotByName("wings"); ok {
		t.Error("unexpected slot for unknown name")
	}
}

func TestSumAndNormIncludeExtensions(t *testing.T) {
	reg := NewRegistry("venom")
	v := Uniform(2)
	if err := v.SetExt(reg, "venom", 4); err != nil {
		t.Fatal(err)
	}

	wantSum := 2*float64(NumSlots) + 4
	if math.Abs(v.Sum()-wantSum) > 1e-9 {
		t.Errorf("Sum = %f, want %f", v.Sum(), wantSum)
	}
	wantNorm := math.Sqrt(4*float64(NumSlots) + 16)
	if math.Abs(v.Norm()-wantNorm) > 1e-9 {
		t.Errorf("Norm = %f, want %f", v.Norm(), wantNorm)
	}
}

func TestSetExtRejectsUnregistered(t *testing.T) {
	reg := NewRegistry()
	v := Uniform(2)
	if err := v.SetExt(reg, "gills", 3); !errors.Is(err, ErrUnknownTrait) {
		t.Errorf("err = %v, want ErrUnknownTrait", err)
	}
	if err := v.SetExt(reg, "locomotion", 3); err == nil {
		t.Error("core trait accepted as extension")
	}
}

func TestEnforceSpecialization(t *testing.T) {
	v := Uniform(3)
	v.Set(HeatTolerance, 14)
	v.Set(Locomotion, 12)
	v.Set(Defense, 11)
	v.Set(Sensing, 13)

	clamped := v.EnforceSpecialization(10, 2)
	if clamped != 2 {
		t.Errorf("clamped = %d, want 2", clamped)
	}
	if v.Specialized(10) != 2 {
		t.Errorf("specialized = %d, want 2", v.Specialized(10))
	}
	// The two largest survive.
	if v.Get(HeatTolerance) != 14 || v.Get(Sensing) != 13 {
		t.Errorf("largest traits changed: heat=%f sensing=%f", v.Get(HeatTolerance), v.Get(Sensing))
	}
	if v.Get(Locomotion) != 10 || v.Get(Defense) != 10 {
		t.Errorf("smaller traits not clamped: loco=%f def=%f", v.Get(Locomotion), v.Get(Defense))
	}
}

func TestClampDeltaToCap(t *testing.T) {
	// Trait sum 79 at a trophic cap of 80, with a +5 proposal.
	v := Uniform(6)
	v.Set(Aggression, 79-6*float64(NumSlots-1))
	if math.Abs(v.Sum()-79) > 1e-9 {
		t.Fatalf("setup sum = %f", v.Sum())
	}

	d := Delta{"aggression": 5}
	clamped := ClampDeltaToCap(v, d, 80)
	after := v.Apply(clamped)
	if after.Sum() > 80+1e-9 {
		t.Errorf("sum after clamp = %f, want <= 80", after.Sum())
	}
	if math.Abs(clamped["aggression"]-1) > 1e-9 {
		t.Errorf("clamped gain = %f, want 1", clamped["aggression"])
	}
}

func TestClampDeltaToCapKeepsTradeOffs(t *testing.T) {
	v := Uniform(5) // sum 60
	d := Delta{"heat_tolerance": 4, "cold_tolerance": -3}
	got := ClampDeltaToCap(v, d, 61)
	if got["cold_tolerance"] != -3 {
		t.Errorf("loss altered: %f", got["cold_tolerance"])
	}
	if s := v.Apply(got).Sum(); s > 61+1e-9 {
		t.Errorf("sum = %f, want <= 61", s)
	}
	// Under cap: unchanged.
	same := ClampDeltaToCap(v, d, 100)
	if same["heat_tolerance"] != 4 {
		t.Errorf("delta under cap altered: %v", same)
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 1}, []float64{-1, -1}, -1},
		{"zero vector", []float64{0, 0}, []float64{1, 2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSlices(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSlices = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestFitSum(t *testing.T) {
	v := Uniform(5)
	v.Set(HeatTolerance, 12)
	keep := map[Slot]bool{HeatTolerance: true}

	if !v.FitSum(50, keep) {
		t.Fatal("FitSum reported impossible")
	}
	if v.Sum() > 50+1e-9 {
		t.Errorf("sum = %f, want <= 50", v.Sum())
	}
	if v.Get(HeatTolerance) != 12 {
		t.Errorf("kept slot changed to %f", v.Get(HeatTolerance))
	}
	if !v.InBounds() {
		t.Error("FitSum left vector out of bounds")
	}

	tight := Uniform(2)
	if tight.FitSum(5, nil) {
		t.Error("FitSum below the all-minimum sum should fail")
	}
}

func TestScaleNormPreservesDirection(t *testing.T) {
	v := Uniform(4)
	v.Set(Sensing, 9)
	before := v.Clone()
	v.ScaleNorm(10)
	if math.Abs(v.Norm()-10) > 1e-9 {
		t.Errorf("norm = %f, want 10", v.Norm())
	}
	if c := Cosine(before, v); math.Abs(c-1) > 1e-9 {
		t.Errorf("direction changed, cosine = %f", c)
	}
}

func TestShrinkToNorm(t *testing.T) {
	tests := []struct {
		name  string
		limit float64
		ok    bool
	}{
		{"well above floor", 10, true},
		{"just above floor", 4, true},
		{"below floor", 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Uniform(MinValue)
			v.Set(HeatTolerance, 15)
			v.Set(Sensing, 9)
			if got := v.ShrinkToNorm(tt.limit); got != tt.ok {
				t.Fatalf("ShrinkToNorm(%.0f) = %v, want %v", tt.limit, got, tt.ok)
			}
			if !v.InBounds() {
				t.Errorf("out of bounds: %v", v.Core)
			}
			if tt.ok && math.Abs(v.Norm()-tt.limit) > 1e-9 {
				t.Errorf("norm = %f, want %f", v.Norm(), tt.limit)
			}
			if !tt.ok && v.Core != Uniform(MinValue).Core {
				t.Errorf("below-floor result = %v, want all MinValue", v.Core)
			}
			if v.Get(Defense) != MinValue {
				t.Errorf("floored trait moved to %f", v.Get(Defense))
			}
		})
	}
}
