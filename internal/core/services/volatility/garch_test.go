package volatility

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailrisk-engine/internal/core/domain"
	"github.com/tailrisk-engine/pkg/stats"
)

// simulateGARCH generates a GARCH(1,1) return series with Gaussian shocks
// and a fixed seed so every run sees the same sample.
func simulateGARCH(n int, mu, omega, alpha, beta float64, seed int64) domain.ReturnSeries {
	rng := rand.New(rand.NewSource(seed))
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	points := make([]domain.ReturnPoint, n)
	sigma2 := omega / (1 - alpha - beta)
	prev := 0.0
	for t := 0; t < n; t++ {
		if t > 0 {
			sigma2 = omega + alpha*prev*prev + beta*sigma2
		}
		shock := math.Sqrt(sigma2) * rng.NormFloat64()
		points[t] = domain.ReturnPoint{
			Timestamp: start.AddDate(0, 0, t),
			Value:     mu + shock,
		}
		prev = shock
	}
	series, err := domain.NewReturnSeries(points)
	if err != nil {
		panic(err)
	}
	return series
}

func TestFitRecoversSimulatedParameters(t *testing.T) {
	const (
		mu    = 0.0005
		omega = 5e-6
		alpha = 0.10
		beta  = 0.85
	)
	series := simulateGARCH(3000, mu, omega, alpha, beta, 42)

	model, err := Fit(context.Background(), series, DefaultFitOptions())
	require.NoError(t, err)
	require.True(t, model.Converged)

	assert.InDelta(t, mu, model.Mu, 1e-3)
	assert.InDelta(t, alpha, model.Alpha, 0.08)
	assert.InDelta(t, beta, model.Beta, 0.15)
	assert.Less(t, model.Persistence(), 1.0)
	assert.Greater(t, model.Omega, 0.0)
}

func TestFitOutputs(t *testing.T) {
	series := simulateGARCH(1000, 0, 1e-5, 0.08, 0.90, 7)

	model, err := Fit(context.Background(), series, DefaultFitOptions())
	require.NoError(t, err)

	n := series.Len()
	require.Len(t, model.CondVolatility, n)
	require.Len(t, model.Residuals, n)

	for t2, sigma := range model.CondVolatility {
		require.Greater(t, sigma, 0.0, "sigma at %d", t2)
	}
	assert.Greater(t, model.ForecastVolatility, 0.0)
	assert.Equal(t, n, model.SampleSize)
	assert.NotEqual(t, model.ID.String(), "00000000-0000-0000-0000-000000000000")

	// Standardized residuals should be roughly mean zero, unit variance.
	assert.InDelta(t, 0.0, stats.Mean(model.Residuals), 0.1)
	assert.InDelta(t, 1.0, stats.StdDev(model.Residuals), 0.15)
}

func TestFitDeterministic(t *testing.T) {
	// An unremarkable 600-observation sample must converge within the
	// default budget and tolerance; the production defaults are part of
	// the contract here, not just the repeatability.
	series := simulateGARCH(600, 0, 1e-5, 0.05, 0.90, 11)

	a, err := Fit(context.Background(), series, DefaultFitOptions())
	require.NoError(t, err)
	require.True(t, a.Converged)
	b, err := Fit(context.Background(), series, DefaultFitOptions())
	require.NoError(t, err)

	assert.Equal(t, a.Mu, b.Mu)
	assert.Equal(t, a.Omega, b.Omega)
	assert.Equal(t, a.Alpha, b.Alpha)
	assert.Equal(t, a.Beta, b.Beta)
	assert.Equal(t, a.LogLikelihood, b.LogLikelihood)
}

func TestFitInsufficientData(t *testing.T) {
	series := simulateGARCH(100, 0, 1e-5, 0.05, 0.90, 3)

	_, err := Fit(context.Background(), series, DefaultFitOptions())
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeData))
}

func TestFitIterationBudget(t *testing.T) {
	series := simulateGARCH(600, 0, 1e-5, 0.05, 0.90, 5)

	opts := DefaultFitOptions()
	opts.MaxIterations = 2

	_, err := Fit(context.Background(), series, opts)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeConvergence))

	// Best-found parameters travel with the error as a diagnostic.
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Constraints, "best_alpha")
	assert.Contains(t, de.Constraints, "best_beta")
}

func TestFitCancellation(t *testing.T) {
	series := simulateGARCH(600, 0, 1e-5, 0.05, 0.90, 9)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Fit(ctx, series, DefaultFitOptions())
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeConvergence))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReparameterizationBounds(t *testing.T) {
	// Any optimizer vector must decode into the constrained region.
	thetas := [][]float64{
		{0, 0, 0, 0},
		{1, -30, 40, -40},
		{-1, 30, -40, 40},
		{0.1, 5, 10, 10},
	}
	for _, theta := range thetas {
		_, omega, alpha, beta := decodeParams(theta)
		assert.Greater(t, omega, 0.0)
		assert.GreaterOrEqual(t, alpha, 0.0)
		assert.GreaterOrEqual(t, beta, 0.0)
		assert.Less(t, alpha+beta, 1.0)
	}
}
