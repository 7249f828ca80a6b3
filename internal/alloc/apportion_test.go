package alloc

import (
	"math/rand/v2"
	"testing"
)

func sum(xs []int64) int64 {
	var s int64
	for _, x := range xs {
		s += x
	}
	return s
}

func TestApportion(t *testing.T) {
	tests := []struct {
		name    string
		total   int64
		weights []float64
		want    []int64
	}{
		{"even", 9, []float64{1, 1, 1}, []int64{3, 3, 3}},
		{"remainder to lower index", 10, []float64{1, 1, 1}, []int64{4, 3, 3}},
		{"largest remainder", 10, []float64{45, 35, 20}, []int64{5, 3, 2}},
		{"zero weight", 5, []float64{0, 1}, []int64{0, 5}},
		{"no weight", 5, []float64{0, 0}, []int64{0, 0}},
		{"zero total", 0, []float64{1, 2}, []int64{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apportion(tt.total, tt.weights)
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("Apportion = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestApportionConserves(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	for i := 0; i < 500; i++ {
		w := make([]float64, 1+rng.IntN(8))
		for j := range w {
			w[j] = rng.Float64()
		}
		total := rng.Int64N(1_000_000)
		if got := sum(Apportion(total, w)); got != total {
			t.Fatalf("sum %d, want %d", got, total)
		}
	}
}

func TestTake(t *testing.T) {
	rng := rand.New(rand.NewPCG(2, 2))
	for i := 0; i < 500; i++ {
		counts := make([]int64, 1+rng.IntN(6))
		for j := range counts {
			counts[j] = rng.Int64N(50)
		}
		total := rng.Int64N(sum(counts) + 10)
		got := Take(total, counts)
		want := min(total, sum(counts))
		if sum(got) != want {
			t.Fatalf("Take(%d, %v) took %d, want %d", total, counts, sum(got), want)
		}
		for j := range got {
			if got[j] < 0 || got[j] > counts[j] {
				t.Fatalf("Take(%d, %v) = %v overdraws", total, counts, got)
			}
		}
	}
}
