package pipeline

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailrisk-engine/internal/core/domain"
)

func simulateReturns(t *testing.T, n int, seed int64) domain.ReturnSeries {
	t.Helper()

	const (
		mu    = 0.0
		omega = 5e-6
		alpha = 0.08
		beta  = 0.90
	)
	rng := rand.New(rand.NewSource(seed))
	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

	points := make([]domain.ReturnPoint, n)
	sigma2 := omega / (1 - alpha - beta)
	prev := 0.0
	for i := 0; i < n; i++ {
		if i > 0 {
			sigma2 = omega + alpha*prev*prev + beta*sigma2
		}
		prev = math.Sqrt(sigma2) * rng.NormFloat64()
		points[i] = domain.ReturnPoint{Timestamp: start.AddDate(0, 0, i), Value: mu + prev}
	}
	series, err := domain.NewReturnSeries(points)
	require.NoError(t, err)
	return series
}

func TestRunEndToEnd(t *testing.T) {
	series := simulateReturns(t, 1500, 42)

	report, err := New(nil).Run(context.Background(), series, DefaultParams())
	require.NoError(t, err)

	require.NotNil(t, report.Volatility)
	require.NotNil(t, report.Tail)
	assert.True(t, report.Volatility.Converged)
	assert.Less(t, report.Volatility.Persistence(), 1.0)

	// One estimate per observation, EVT and Normal alike.
	require.Len(t, report.Estimates, series.Len())
	require.Len(t, report.NormalEstimates, series.Len())

	// 95th-percentile threshold over 1500 residuals leaves 75 exceedances.
	assert.Equal(t, 75, report.Tail.NumExceedances)
	assert.False(t, report.Tail.LowSampleWarning)

	assert.Greater(t, report.Forecast.VaR, 0.0)
	assert.Greater(t, report.Forecast.ES, report.Forecast.VaR)
	assert.Greater(t, report.NormalForecast.VaR, 0.0)

	// In-sample 99% VaR breaches should land loosely around the nominal
	// 1% rate.
	rate := report.Backtest.Summary.BreachRate
	assert.GreaterOrEqual(t, rate, 0.0)
	assert.Less(t, rate, 0.05)
	assert.Equal(t, series.Len(), report.Backtest.Summary.Observations)
}

func TestRunPropagatesStageErrors(t *testing.T) {
	t.Run("short series fails the volatility stage", func(t *testing.T) {
		series := simulateReturns(t, 50, 1)
		_, err := New(nil).Run(context.Background(), series, DefaultParams())
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.ErrCodeData))
	})

	t.Run("shallow confidence fails the risk stage", func(t *testing.T) {
		series := simulateReturns(t, 600, 2)
		params := DefaultParams()
		// threshold quantile 0.95 with confidence 0.95 puts the
		// extrapolation term at exactly 1.
		params.Confidence = 0.95
		_, err := New(nil).Run(context.Background(), series, params)
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.ErrCodeDomain))
	})
}

func TestRunBatch(t *testing.T) {
	series := map[string]domain.ReturnSeries{
		"AAA":   simulateReturns(t, 900, 3),
		"BBB":   simulateReturns(t, 900, 4),
		"SHORT": simulateReturns(t, 40, 5),
	}

	results := New(nil).RunBatch(context.Background(), series, DefaultParams(), 2)
	require.Len(t, results, 3)

	for _, ticker := range []string{"AAA", "BBB"} {
		res := results[ticker]
		require.NoError(t, res.Err, ticker)
		require.NotNil(t, res.Report, ticker)
		assert.Len(t, res.Report.Estimates, 900)
	}

	short := results["SHORT"]
	require.Error(t, short.Err)
	assert.True(t, domain.IsCode(short.Err, domain.ErrCodeData))
	assert.Nil(t, short.Report)
}

func TestRunBatchIsolation(t *testing.T) {
	// Identical inputs through the batch path and the single path must
	// produce identical parameters: runs share nothing.
	series := simulateReturns(t, 700, 6)

	single, err := New(nil).Run(context.Background(), series, DefaultParams())
	require.NoError(t, err)

	results := New(nil).RunBatch(context.Background(), map[string]domain.ReturnSeries{
		"X": series,
		"Y": series,
	}, DefaultParams(), 0)

	for _, key := range []string{"X", "Y"} {
		res := results[key]
		require.NoError(t, res.Err)
		assert.Equal(t, single.Volatility.Alpha, res.Report.Volatility.Alpha, key)
		assert.Equal(t, single.Tail.Xi, res.Report.Tail.Xi, key)
	}
}
