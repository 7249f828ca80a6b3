// Package alloc splits integer populations across weighted destinations
// without losing or inventing individuals.
package alloc

import (
	"math"
	"sort"
)

// Apportion splits total across weights using the largest-remainder method.
// The result always sums to total (for total >= 0 and a positive weight
// sum); ties on remainder go to the lower index. Non-positive weights
// receive nothing.
func Apportion(total int64, weights []float64) []int64 {
	out := make([]int64, len(weights))
	if total <= 0 || len(weights) == 0 {
		return out
	}
	var sum float64
	for _, w := range weights {
		if w > 0 {
			sum += w
		}
	}
	if sum <= 0 {
		return out
	}

	type rem struct {
		i    int
		frac float64
	}
	rems := make([]rem, 0, len(weights))
	var given int64
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		exact := float64(total) * w / sum
		base := math.Floor(exact)
		out[i] = int64(base)
		given += out[i]
		rems = append(rems, rem{i, exact - base})
	}
	sort.SliceStable(rems, func(a, b int) bool {
		if rems[a].frac != rems[b].frac {
			return rems[a].frac > rems[b].frac
		}
		return rems[a].i < rems[b].i
	})
	for k := 0; given < total; k = (k + 1) % len(rems) {
		out[rems[k].i]++
		given++
	}
	return out
}

// Take removes total from the counts in proportion to their size, never
// taking more than a count holds. It returns the amount taken from each.
// If total exceeds the sum of counts, everything is taken.
func Take(total int64, counts []int64) []int64 {
	var sum int64
	for _, c := range counts {
		sum += max(0, c)
	}
	if total >= sum {
		out := make([]int64, len(counts))
		for i, c := range counts {
			out[i] = max(0, c)
		}
		return out
	}
	weights := make([]float64, len(counts))
	for i, c := range counts {
		weights[i] = float64(max(0, c))
	}
	out := Apportion(total, weights)
	// Rounding can overshoot a small count by one; move the excess on.
	var spill int64
	for i := range out {
		if c := max(0, counts[i]); out[i] > c {
			spill += out[i] - c
			out[i] = c
		}
	}
	for i := 0; spill > 0 && i < len(out); i++ {
		room := max(0, counts[i]) - out[i]
		move := min(room, spill)
		out[i] += move
		spill -= move
	}
	return out
}
