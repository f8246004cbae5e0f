// Package stats provides the shared numeric helpers used across the
// estimation services. Quantile interpolation is implemented here rather
// than delegated so that the threshold-selection rule is a single,
// documented, deterministic definition.
package stats

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean of xs. Returns NaN for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Variance returns the unbiased (n-1) sample variance of xs.
// Returns NaN when fewer than two observations are supplied.
func Variance(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return ss / float64(len(xs)-1)
}

// StdDev returns the sample standard deviation of xs.
func StdDev(xs []float64) float64 {
	return math.Sqrt(Variance(xs))
}

// Quantile returns the empirical quantile of xs at probability p in [0, 1]
// using linear interpolation between order statistics (Hyndman-Fan type 7,
// the R default): with h = (n-1)p, the result is
//
//	x[floor(h)] + (h - floor(h)) * (x[floor(h)+1] - x[floor(h)])
//
// over the ascending-sorted sample. The input slice is not modified.
// Returns NaN for an empty sample; p is clamped to [0, 1].
func Quantile(xs []float64, p float64) float64 {
	n := len(xs)
	if n == 0 {
		return math.NaN()
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}

	sorted := make([]float64, n)
	copy(sorted, xs)
	sort.Float64s(sorted)

	h := float64(n-1) * p
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// AllFinite reports whether every element of xs is a finite number.
func AllFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
