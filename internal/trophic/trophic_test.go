package trophic

import (
	"math"
	"testing"

	"github.com/talgya/evo-world/internal/config"
	"github.com/talgya/evo-world/internal/species"
)

func newTestClassifier() *Classifier {
	return NewClassifier(config.Default().Trophic)
}

func TestClassify(t *testing.T) {
	c := newTestClassifier()
	tests := []struct {
		name    string
		profile species.Profile
		want    float64
	}{
		{"empty profile", species.Profile{}, 1.0},
		{"photosynthetic", species.Profile{Photosynthetic: true, Diet: species.DietCarnivore}, 1.0},
		{"herbivore", species.Profile{Diet: species.DietHerbivore}, 2.0},
		{"apex", species.Profile{Diet: species.DietApex}, 4.2},
		{"prey levels", species.Profile{PreyLevels: []float64{2, 3}}, 3.5},
		{"prey clamp", species.Profile{PreyLevels: []float64{9}}, MaxLevel},
		{"keywords", species.Profile{Keywords: []string{"Grazing", "herd"}}, 2.0},
		{"unknown keywords", species.Profile{Keywords: []string{"blue"}}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.profile); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Classify = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestCaps(t *testing.T) {
	c := newTestClassifier()
	tests := []struct {
		level float64
		want  float64
	}{
		{1.0, 30}, {1.4, 30}, {1.5, 30}, {1.99, 30}, {2.0, 50}, {2.5, 50},
		{3.0, 80}, {3.2, 80}, {4.2, 105}, {4.5, 105}, {4.99, 105}, {5.0, 135}, {5.5, 135},
	}
	for _, tt := range tests {
		if got := c.Cap(tt.level, 1); got != tt.want {
			t.Errorf("Cap(%.1f) = %f, want %f", tt.level, got, tt.want)
		}
	}
}

func TestTierBands(t *testing.T) {
	tests := []struct {
		level float64
		want  int
	}{
		{0.5, 1}, {1.0, 1}, {1.5, 1}, {2.49, 2}, {2.5, 2}, {3.9, 3}, {4.5, 4}, {5.0, 5}, {7, 5},
	}
	for _, tt := range tests {
		if got := Tier(tt.level); got != tt.want {
			t.Errorf("Tier(%.2f) = %d, want %d", tt.level, got, tt.want)
		}
	}
}

func TestKleiberBonus(t *testing.T) {
	c := newTestClassifier()
	small := c.Cap(3, 5)
	large := c.Cap(3, 160) // (160/10)^0.25 = 2, bounded by 1.15
	mid := c.Cap(3, 12)

	if small != 80 {
		t.Errorf("small body cap = %f, want 80", small)
	}
	if math.Abs(large-80*1.15) > 1e-9 {
		t.Errorf("large body cap = %f, want %f", large, 80*1.15)
	}
	if !(mid > small && mid < large) {
		t.Errorf("bonus not sub-linear: small=%f mid=%f large=%f", small, mid, large)
	}
}

func TestBirthEfficiency(t *testing.T) {
	c := newTestClassifier()
	tests := []struct {
		level float64
		want  float64
	}{
		{1, 1.0}, {1.5, 1.0}, {2, 0.85}, {2.5, 0.85}, {3, 0.60}, {4, 0.40}, {5.5, 0.40},
	}
	for _, tt := range tests {
		if got := c.BirthEfficiency(tt.level); got != tt.want {
			t.Errorf("BirthEfficiency(%.1f) = %f, want %f", tt.level, got, tt.want)
		}
	}
}
