// Package tail fits a Generalized Pareto Distribution to the losses
// exceeding a high empirical threshold (peaks over threshold). The input is
// the standardized-residual series of a fitted volatility filter, but any
// approximately i.i.d. sample works.
package tail

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/tailrisk-engine/internal/core/domain"
	"github.com/tailrisk-engine/pkg/stats"
)

// XiTolerance is the band around zero inside which the shape parameter is
// treated as exactly zero and the exponential-limit density is used. The
// risk calculator applies the same tolerance so fitting and quantile
// formulas switch regimes together.
const XiTolerance = 1e-6

// LowSampleExceedances is the exceedance count below which the fit is
// flagged with a low-sample warning rather than rejected.
const LowSampleExceedances = 20

// FitOptions bounds and parameterizes the likelihood optimization.
type FitOptions struct {
	MaxIterations int
	Tolerance     float64
	Logger        *zap.Logger
}

// DefaultFitOptions returns the production defaults.
func DefaultFitOptions() FitOptions {
	return FitOptions{
		MaxIterations: 1000,
		Tolerance:     1e-8,
	}
}

// Model is a fitted GPD tail. Losses are the negated input sample, so large
// losses are large positive numbers. The model is immutable after the fit.
type Model struct {
	ID uuid.UUID `json:"id"`

	// Threshold is the loss level u: the empirical quantile of the loss
	// sample at the requested threshold quantile (Hyndman-Fan type 7
	// interpolation, see pkg/stats.Quantile).
	Threshold float64 `json:"threshold"`
	// Xi is the GPD shape. Positive means a heavy Pareto-type tail, zero an
	// exponential tail, negative a finite loss endpoint.
	Xi float64 `json:"xi"`
	// Beta is the GPD scale, strictly positive.
	Beta float64 `json:"beta"`

	// NumExceedances is the count of losses strictly above Threshold.
	NumExceedances int `json:"num_exceedances"`
	// SampleSize is the size of the full input sample.
	SampleSize int `json:"sample_size"`

	// StdErrXi and StdErrBeta come from the inverse observed Fisher
	// information at the optimum. They are meaningful only when
	// StdErrValid is true; an ill-conditioned Hessian leaves them unset
	// without failing the fit.
	StdErrXi    float64 `json:"std_err_xi"`
	StdErrBeta  float64 `json:"std_err_beta"`
	StdErrValid bool    `json:"std_err_valid"`

	// LowSampleWarning is set when fewer than LowSampleExceedances losses
	// exceed the threshold. The fit proceeds; the caller decides.
	LowSampleWarning bool `json:"low_sample_warning"`

	LogLikelihood float64 `json:"log_likelihood"`
	Converged     bool    `json:"converged"`
	Iterations    int     `json:"iterations"`

	FittedAt time.Time `json:"fitted_at"`
}

// HeavyTail reports whether the fitted shape indicates a Pareto-type tail.
func (m *Model) HeavyTail() bool {
	return m.Xi > XiTolerance
}

// Endpoint returns the finite loss endpoint u - Beta/Xi implied by a
// negative shape. ok is false when the tail is unbounded (Xi >= 0).
func (m *Model) Endpoint() (endpoint float64, ok bool) {
	if m.Xi < -XiTolerance {
		return m.Threshold - m.Beta/m.Xi, true
	}
	return 0, false
}

// Fit selects the loss threshold at thresholdQuantile and fits a GPD to the
// exceedances by maximum likelihood. residuals follow the return sign
// convention (losses negative); they are negated internally so the tail
// model studies large positive losses.
func Fit(ctx context.Context, residuals []float64, thresholdQuantile float64, opts FitOptions) (*Model, error) {
	const op = "tail.Fit"

	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultFitOptions().MaxIterations
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultFitOptions().Tolerance
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(residuals) == 0 {
		return nil, domain.NewDataError(op, "empty residual sample")
	}
	if !(thresholdQuantile > 0 && thresholdQuantile < 1) {
		return nil, domain.NewDataError(op, "threshold quantile %v outside (0,1)", thresholdQuantile).
			WithConstraint("threshold_quantile", thresholdQuantile)
	}
	if !stats.AllFinite(residuals) {
		return nil, domain.NewDataError(op, "residual sample contains non-finite values")
	}

	losses := make([]float64, len(residuals))
	for i, r := range residuals {
		losses[i] = -r
	}

	u := stats.Quantile(losses, thresholdQuantile)

	var exceedances []float64
	for _, loss := range losses {
		if loss > u {
			exceedances = append(exceedances, loss-u)
		}
	}
	if len(exceedances) == 0 {
		return nil, domain.NewThresholdError(op, "no losses exceed threshold %v at quantile %v", u, thresholdQuantile).
			WithConstraint("threshold", u).
			WithConstraint("threshold_quantile", thresholdQuantile).
			WithConstraint("sample_size", len(losses))
	}

	xi, beta, ll, iterations, err := fitExceedances(ctx, exceedances, opts)
	if err != nil {
		return nil, err
	}

	model := &Model{
		ID:             uuid.New(),
		Threshold:      u,
		Xi:             xi,
		Beta:           beta,
		NumExceedances: len(exceedances),
		SampleSize:     len(losses),
		LogLikelihood:  ll,
		Converged:      true,
		Iterations:     iterations,
		FittedAt:       time.Now().UTC(),
	}
	if model.NumExceedances < LowSampleExceedances {
		model.LowSampleWarning = true
		logger.Warn("tail fit on a low exceedance count",
			zap.Int("num_exceedances", model.NumExceedances),
			zap.Int("min_recommended", LowSampleExceedances),
		)
	}

	model.StdErrXi, model.StdErrBeta, model.StdErrValid = standardErrors(exceedances, xi, beta)

	logger.Debug("gpd fit complete",
		zap.Float64("threshold", u),
		zap.Float64("xi", xi),
		zap.Float64("beta", beta),
		zap.Int("num_exceedances", model.NumExceedances),
		zap.Bool("std_err_valid", model.StdErrValid),
	)

	return model, nil
}

// fitExceedances maximizes the GPD log-likelihood over (xi, beta) with beta
// kept positive through a log reparameterization. Candidates violating the
// support condition 1 + xi*y/beta > 0 are rejected with an infinite
// objective.
func fitExceedances(ctx context.Context, y []float64, opts FitOptions) (xi, beta, ll float64, iterations int, err error) {
	const op = "tail.Fit"

	// Moment-based starting point; falls back to an exponential guess when
	// the sample moments are degenerate.
	m := stats.Mean(y)
	v := stats.Variance(y)
	xi0 := 0.0
	beta0 := m
	if v > 0 && m > 0 {
		ratio := m * m / v
		xi0 = 0.5 * (1 - ratio)
		beta0 = 0.5 * m * (ratio + 1)
	}
	if !(beta0 > 0) || math.IsNaN(beta0) {
		beta0 = 1
	}
	if xi0 > 0.9 {
		xi0 = 0.9
	}
	if xi0 < -0.9 {
		xi0 = -0.9
	}
	theta0 := []float64{xi0, math.Log(beta0)}

	negLL := func(theta []float64) float64 {
		nll, ok := negLogLikelihood(y, theta[0], math.Exp(theta[1]))
		if !ok {
			return math.Inf(1)
		}
		return nll
	}

	problem := optimize.Problem{
		Func: negLL,
		Status: func() (optimize.Status, error) {
			select {
			case <-ctx.Done():
				return optimize.Failure, ctx.Err()
			default:
				return optimize.NotTerminated, nil
			}
		},
	}
	settings := &optimize.Settings{
		MajorIterations: opts.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   opts.Tolerance,
			Iterations: 50,
		},
	}

	result, optErr := optimize.Minimize(problem, theta0, settings, &optimize.NelderMead{})
	if result == nil || len(result.X) != len(theta0) {
		return 0, 0, 0, 0, domain.NewConvergenceError(op, "optimizer returned no candidate").WithCause(optErr)
	}

	xi = result.X[0]
	beta = math.Exp(result.X[1])

	diagnostic := func(msg string) *domain.Error {
		return domain.NewConvergenceError(op, "%s", msg).
			WithConstraint("best_xi", xi).
			WithConstraint("best_beta", beta).
			WithConstraint("iterations", result.Stats.MajorIterations).
			WithConstraint("status", result.Status.String())
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, 0, 0, 0, diagnostic("optimization cancelled").WithCause(ctxErr)
	}
	if optErr != nil {
		return 0, 0, 0, 0, diagnostic("optimizer failed").WithCause(optErr)
	}
	switch result.Status {
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.RuntimeLimit:
		return 0, 0, 0, 0, diagnostic("iteration budget exhausted")
	}
	if math.IsInf(result.F, 0) || math.IsNaN(result.F) {
		return 0, 0, 0, 0, domain.NewNumericalError(op, "likelihood did not evaluate to a finite value at the optimum")
	}

	return xi, beta, -result.F, result.Stats.MajorIterations, nil
}

// negLogLikelihood evaluates the negative GPD log-likelihood at (xi, beta)
// in the natural parameter space. Inside the XiTolerance band the
// exponential-limit form is used to avoid the 1/xi singularity. ok is false
// when the parameters leave the support of any observation.
func negLogLikelihood(y []float64, xi, beta float64) (float64, bool) {
	if !(beta > 0) || math.IsNaN(xi) || math.IsInf(xi, 0) || math.IsInf(beta, 0) {
		return 0, false
	}

	logBeta := math.Log(beta)
	var nll float64
	if math.Abs(xi) < XiTolerance {
		for _, yi := range y {
			nll += logBeta + yi/beta
		}
	} else {
		c := 1 + 1/xi
		for _, yi := range y {
			arg := 1 + xi*yi/beta
			if arg <= 0 {
				return 0, false
			}
			nll += logBeta + c*math.Log(arg)
		}
	}
	if math.IsNaN(nll) || math.IsInf(nll, 0) {
		return 0, false
	}
	return nll, true
}

// standardErrors derives parameter standard errors from the inverse of the
// observed Fisher information, approximating the Hessian of the negative
// log-likelihood at (xi, beta) by central finite differences. A singular or
// indefinite Hessian reports valid=false instead of failing the fit.
func standardErrors(y []float64, xi, beta float64) (seXi, seBeta float64, valid bool) {
	f := func(p []float64) (float64, bool) {
		return negLogLikelihood(y, p[0], p[1])
	}

	x := []float64{xi, beta}
	h := []float64{
		1e-5 * math.Max(1, math.Abs(xi)),
		1e-5 * math.Max(1, math.Abs(beta)),
	}

	hess := mat.NewDense(2, 2, nil)
	for i := 0; i < 2; i++ {
		for j := i; j < 2; j++ {
			d, ok := centralSecondDiff(f, x, i, j, h)
			if !ok {
				return 0, 0, false
			}
			hess.Set(i, j, d)
			hess.Set(j, i, d)
		}
	}

	var cov mat.Dense
	if err := cov.Inverse(hess); err != nil {
		return 0, 0, false
	}
	vXi, vBeta := cov.At(0, 0), cov.At(1, 1)
	if !(vXi > 0) || !(vBeta > 0) || math.IsInf(vXi, 0) || math.IsInf(vBeta, 0) {
		return 0, 0, false
	}
	return math.Sqrt(vXi), math.Sqrt(vBeta), true
}

// centralSecondDiff approximates d2f/(dx_i dx_j) by central differences,
// failing when the objective leaves its domain at a probe point.
func centralSecondDiff(f func([]float64) (float64, bool), x []float64, i, j int, h []float64) (float64, bool) {
	probe := func(di, dj float64) (float64, bool) {
		p := []float64{x[0], x[1]}
		p[i] += di
		p[j] += dj
		return f(p)
	}

	if i == j {
		fp, ok1 := probe(h[i], 0)
		f0, ok2 := f(x)
		fm, ok3 := probe(-h[i], 0)
		if !ok1 || !ok2 || !ok3 {
			return 0, false
		}
		return (fp - 2*f0 + fm) / (h[i] * h[i]), true
	}

	fpp, ok1 := probe(h[i], h[j])
	fpm, ok2 := probe(h[i], -h[j])
	fmp, ok3 := probe(-h[i], h[j])
	fmm, ok4 := probe(-h[i], -h[j])
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return 0, false
	}
	return (fpp - fpm - fmp + fmm) / (4 * h[i] * h[j]), true
}
