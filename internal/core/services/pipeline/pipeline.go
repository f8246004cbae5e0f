// Package pipeline wires the estimation stages end to end: returns in,
// volatility filter, tail fit on the standardized residuals, time-varying
// VaR/ES, backtest. Every stage passes immutable values to the next; there
// is no shared state between runs, so batches fan out freely.
package pipeline

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tailrisk-engine/internal/core/domain"
	"github.com/tailrisk-engine/internal/core/services/backtest"
	"github.com/tailrisk-engine/internal/core/services/risk"
	"github.com/tailrisk-engine/internal/core/services/tail"
	"github.com/tailrisk-engine/internal/core/services/volatility"
)

// Params configures one pipeline run.
type Params struct {
	// ThresholdQuantile selects the loss threshold of the tail fit, in (0,1).
	ThresholdQuantile float64
	// Confidence is the VaR/ES confidence level, in (0,1).
	Confidence float64

	Volatility volatility.FitOptions
	Tail       tail.FitOptions
}

// DefaultParams returns the production defaults: a 95th-percentile loss
// threshold and 99% confidence.
func DefaultParams() Params {
	return Params{
		ThresholdQuantile: 0.95,
		Confidence:        0.99,
		Volatility:        volatility.DefaultFitOptions(),
		Tail:              tail.DefaultFitOptions(),
	}
}

// Report is the full output of one pipeline run.
type Report struct {
	Volatility *volatility.Model `json:"volatility"`
	Tail       *tail.Model       `json:"tail"`

	// Estimates is the in-sample time-varying EVT VaR/ES series, one per
	// input observation.
	Estimates []risk.Estimate `json:"estimates"`
	// NormalEstimates is the Gaussian-baseline series over the same path.
	NormalEstimates []risk.Estimate `json:"normal_estimates"`

	// Forecast and NormalForecast are the one-day-ahead point estimates
	// scaled by the forecast volatility.
	Forecast       risk.Estimate `json:"forecast"`
	NormalForecast risk.Estimate `json:"normal_forecast"`

	Backtest backtest.Result `json:"backtest"`
}

// Pipeline runs the estimation stages. Safe for concurrent use; it holds no
// per-run state.
type Pipeline struct {
	logger *zap.Logger
	calc   *risk.Calculator
}

// New creates a Pipeline. A nil logger disables logging.
func New(logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		logger: logger,
		calc:   risk.NewCalculator(logger),
	}
}

// Run executes the full pipeline on one return series.
func (p *Pipeline) Run(ctx context.Context, series domain.ReturnSeries, params Params) (*Report, error) {
	volOpts := params.Volatility
	if volOpts.Logger == nil {
		volOpts.Logger = p.logger
	}
	tailOpts := params.Tail
	if tailOpts.Logger == nil {
		tailOpts.Logger = p.logger
	}

	volModel, err := volatility.Fit(ctx, series, volOpts)
	if err != nil {
		return nil, err
	}

	tailModel, err := tail.Fit(ctx, volModel.Residuals, params.ThresholdQuantile, tailOpts)
	if err != nil {
		return nil, err
	}

	estimates, err := p.calc.EstimateSeries(tailModel, volModel.CondVolatility, params.Confidence)
	if err != nil {
		return nil, err
	}
	normalEstimates, err := p.calc.NormalSeries(volModel.CondVolatility, params.Confidence)
	if err != nil {
		return nil, err
	}

	forecast, err := p.calc.Estimate(tailModel, volModel.ForecastVolatility, params.Confidence)
	if err != nil {
		return nil, err
	}
	normalForecast, err := p.calc.NormalEstimate(volModel.ForecastVolatility, params.Confidence)
	if err != nil {
		return nil, err
	}

	bt, err := backtest.Evaluate(series, estimates)
	if err != nil {
		return nil, err
	}

	p.logger.Info("pipeline run complete",
		zap.Int("observations", series.Len()),
		zap.Float64("persistence", volModel.Persistence()),
		zap.Float64("xi", tailModel.Xi),
		zap.Float64("forecast_var", forecast.VaR),
		zap.Int("breaches", bt.Summary.Breaches),
	)

	return &Report{
		Volatility:      volModel,
		Tail:            tailModel,
		Estimates:       estimates,
		NormalEstimates: normalEstimates,
		Forecast:        forecast,
		NormalForecast:  normalForecast,
		Backtest:        bt,
	}, nil
}

// BatchResult holds the outcome of one ticker in a batch run. Err is set
// when that ticker's pipeline failed; other tickers are unaffected.
type BatchResult struct {
	Report *Report
	Err    error
}

// RunBatch runs the pipeline across independent return series with bounded
// concurrency. A non-positive concurrency defaults to the CPU count. Each
// ticker fails or succeeds on its own; cancellation of ctx stops all of
// them.
func (p *Pipeline) RunBatch(ctx context.Context, series map[string]domain.ReturnSeries, params Params, concurrency int) map[string]BatchResult {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	results := make(map[string]BatchResult, len(series))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for ticker, s := range series {
		ticker, s := ticker, s
		g.Go(func() error {
			report, err := p.Run(ctx, s, params)
			mu.Lock()
			results[ticker] = BatchResult{Report: report, Err: err}
			mu.Unlock()
			// Per-ticker failures stay in the result map; only ctx
			// cancellation aborts the group.
			return nil
		})
	}
	// The closures never return an error, so Wait only synchronizes.
	_ = g.Wait()

	return results
}
