package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeanVariance(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5}

	assert.InDelta(t, 3.0, Mean(xs), 1e-12)
	assert.InDelta(t, 2.5, Variance(xs), 1e-12)
	assert.InDelta(t, math.Sqrt(2.5), StdDev(xs), 1e-12)

	assert.True(t, math.IsNaN(Mean(nil)))
	assert.True(t, math.IsNaN(Variance([]float64{1})))
}

func TestQuantile(t *testing.T) {
	xs := []float64{4, 1, 3, 2} // unsorted on purpose

	tests := []struct {
		name string
		p    float64
		want float64
	}{
		{"min", 0.0, 1.0},
		{"max", 1.0, 4.0},
		{"median", 0.5, 2.5},
		{"lower interp", 0.25, 1.75},
		{"upper interp", 0.75, 3.25},
		{"clamped below", -0.5, 1.0},
		{"clamped above", 1.5, 4.0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Quantile(xs, tc.p), 1e-12)
		})
	}

	// Input must stay untouched.
	assert.Equal(t, []float64{4, 1, 3, 2}, xs)
}

func TestQuantileDeterministic(t *testing.T) {
	xs := []float64{0.3, -1.2, 2.4, 0.0, -0.7, 1.1, 0.9}
	first := Quantile(xs, 0.95)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Quantile(xs, 0.95))
	}
}

func TestQuantileEmpty(t *testing.T) {
	assert.True(t, math.IsNaN(Quantile(nil, 0.5)))
}

func TestAllFinite(t *testing.T) {
	assert.True(t, AllFinite([]float64{1, -2, 0}))
	assert.False(t, AllFinite([]float64{1, math.NaN()}))
	assert.False(t, AllFinite([]float64{math.Inf(1)}))
}
