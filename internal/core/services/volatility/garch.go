// Package volatility fits a GARCH(1,1) conditional-variance filter to a
// log-return series by Gaussian quasi-maximum likelihood. The fit produces
// the conditional-volatility path, the standardized residuals consumed by
// the tail estimator, and a one-step-ahead volatility forecast.
package volatility

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"

	"github.com/tailrisk-engine/internal/core/domain"
	"github.com/tailrisk-engine/pkg/stats"
)

// MinObservations is the default minimum series length for a GARCH fit.
// Shorter samples do not identify the variance recursion reliably.
const MinObservations = 250

// FitOptions bounds and parameterizes the likelihood optimization.
type FitOptions struct {
	// MaxIterations is the major-iteration budget of the optimizer.
	// Exhausting it yields a CONVERGENCE error with best-found parameters
	// attached as a diagnostic.
	MaxIterations int
	// Tolerance is the absolute function-convergence tolerance.
	Tolerance float64
	// MinObservations overrides the default minimum series length.
	MinObservations int
	// Logger receives fit diagnostics. Nil disables logging.
	Logger *zap.Logger
}

// DefaultFitOptions returns the production defaults. The tolerance is tuned
// for a four-parameter Nelder-Mead search: much tighter and the simplex
// spends the whole iteration budget polishing digits the estimates do not
// have.
func DefaultFitOptions() FitOptions {
	return FitOptions{
		MaxIterations:   1000,
		Tolerance:       1e-8,
		MinObservations: MinObservations,
	}
}

// Model is a fitted GARCH(1,1) filter. It is created once per fit and never
// mutated; re-fitting produces a new Model.
type Model struct {
	ID uuid.UUID `json:"id"`

	// Parameters of the recursion
	// sigma2[t] = Omega + Alpha*(r[t-1]-Mu)^2 + Beta*sigma2[t-1].
	Mu    float64 `json:"mu"`
	Omega float64 `json:"omega"`
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`

	LogLikelihood float64 `json:"log_likelihood"`
	Converged     bool    `json:"converged"`
	Iterations    int     `json:"iterations"`
	SampleSize    int     `json:"sample_size"`

	// CondVolatility holds sigma_t for every input observation.
	CondVolatility []float64 `json:"cond_volatility"`
	// Residuals holds the standardized residuals z_t = (r_t - Mu)/sigma_t.
	Residuals []float64 `json:"residuals"`
	// ForecastVolatility is the one-step-ahead forecast sigma_{T+1}.
	ForecastVolatility float64 `json:"forecast_volatility"`

	FittedAt time.Time `json:"fitted_at"`
}

// Persistence returns Alpha+Beta. The reparameterized optimizer keeps it
// strictly below one, so a fitted model is always covariance-stationary.
func (m *Model) Persistence() float64 {
	return m.Alpha + m.Beta
}

// Fit estimates a GARCH(1,1) model on the return series by maximizing the
// Gaussian conditional log-likelihood over (mu, omega, alpha, beta). The
// constraints omega>0, alpha>=0, beta>=0, alpha+beta<1 are enforced through
// an unconstrained reparameterization (log scale for omega, nested logistic
// transforms for the ARCH/GARCH weights), so the optimizer itself runs
// unconstrained. The optimization is deterministic: fixed starting point,
// fixed tolerances.
func Fit(ctx context.Context, series domain.ReturnSeries, opts FitOptions) (*Model, error) {
	const op = "volatility.Fit"

	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultFitOptions().MaxIterations
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultFitOptions().Tolerance
	}
	if opts.MinObservations <= 0 {
		opts.MinObservations = MinObservations
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	n := series.Len()
	if n < opts.MinObservations {
		return nil, domain.NewDataError(op, "need at least %d observations, got %d", opts.MinObservations, n).
			WithConstraint("min_observations", opts.MinObservations).
			WithConstraint("observations", n)
	}

	r := series.Values()
	sampleMean := stats.Mean(r)
	sampleVar := stats.Variance(r)
	if !(sampleVar > 0) || math.IsInf(sampleVar, 0) {
		return nil, domain.NewNumericalError(op, "degenerate sample variance %v", sampleVar)
	}

	// Starting point: mu at the sample mean, alpha=0.05, beta=0.90, omega
	// sized so the unconditional variance matches the sample variance.
	const (
		alpha0 = 0.05
		beta0  = 0.90
	)
	theta0 := []float64{
		sampleMean,
		math.Log(sampleVar * (1 - alpha0 - beta0)),
		logit(alpha0 + beta0),
		logit(alpha0 / (alpha0 + beta0)),
	}

	negLL := func(theta []float64) float64 {
		mu, omega, alpha, beta := decodeParams(theta)
		ll, ok := logLikelihood(r, sampleVar, mu, omega, alpha, beta, nil)
		if !ok {
			return math.Inf(1)
		}
		return -ll
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

	result, err := optimize.Minimize(problem, theta0, settings, &optimize.NelderMead{})
	if result == nil || len(result.X) != len(theta0) {
		return nil, domain.NewConvergenceError(op, "optimizer returned no candidate").WithCause(err)
	}

	mu, omega, alpha, beta := decodeParams(result.X)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, convergenceDiagnostic(op, "optimization cancelled", mu, omega, alpha, beta, result).
			WithCause(ctxErr)
	}
	if err != nil {
		return nil, convergenceDiagnostic(op, "optimizer failed", mu, omega, alpha, beta, result).
			WithCause(err)
	}
	switch result.Status {
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.RuntimeLimit:
		return nil, convergenceDiagnostic(op, "iteration budget exhausted", mu, omega, alpha, beta, result)
	}
	if math.IsInf(result.F, 0) || math.IsNaN(result.F) {
		return nil, domain.NewNumericalError(op, "likelihood did not evaluate to a finite value at the optimum")
	}

	// Final filter pass at the optimum, keeping the variance path.
	sigma2 := make([]float64, n)
	ll, ok := logLikelihood(r, sampleVar, mu, omega, alpha, beta, sigma2)
	if !ok {
		return nil, domain.NewNumericalError(op, "non-positive conditional variance at fitted parameters")
	}

	condVol := make([]float64, n)
	residuals := make([]float64, n)
	for t := 0; t < n; t++ {
		condVol[t] = math.Sqrt(sigma2[t])
		residuals[t] = (r[t] - mu) / condVol[t]
	}

	forecastVar := omega + alpha*square(r[n-1]-mu) + beta*sigma2[n-1]
	if !(forecastVar > 0) {
		return nil, domain.NewNumericalError(op, "non-positive forecast variance %v", forecastVar)
	}

	model := &Model{
		ID:                 uuid.New(),
		Mu:                 mu,
		Omega:              omega,
		Alpha:              alpha,
		Beta:               beta,
		LogLikelihood:      ll,
		Converged:          true,
		Iterations:         result.Stats.MajorIterations,
		SampleSize:         n,
		CondVolatility:     condVol,
		Residuals:          residuals,
		ForecastVolatility: math.Sqrt(forecastVar),
		FittedAt:           time.Now().UTC(),
	}

	logger.Debug("garch fit complete",
		zap.Float64("mu", mu),
		zap.Float64("omega", omega),
		zap.Float64("alpha", alpha),
		zap.Float64("beta", beta),
		zap.Float64("persistence", model.Persistence()),
		zap.Float64("log_likelihood", ll),
		zap.Int("iterations", model.Iterations),
	)

	return model, nil
}

// logLikelihood evaluates the Gaussian conditional log-likelihood of the
// GARCH(1,1) recursion, seeding sigma2[0] with the sample variance. When dst
// is non-nil the variance path is written into it. Returns ok=false when any
// conditional variance is non-positive or non-finite.
func logLikelihood(r []float64, sampleVar, mu, omega, alpha, beta float64, dst []float64) (float64, bool) {
	const log2pi = 1.8378770664093453

	sigma2 := sampleVar
	var ll float64
	for t := range r {
		if t > 0 {
			sigma2 = omega + alpha*square(r[t-1]-mu) + beta*sigma2
		}
		if !(sigma2 > 0) || math.IsInf(sigma2, 0) || math.IsNaN(sigma2) {
			return 0, false
		}
		if dst != nil {
			dst[t] = sigma2
		}
		d := r[t] - mu
		ll += -0.5*log2pi - 0.5*math.Log(sigma2) - 0.5*d*d/sigma2
	}
	if math.IsNaN(ll) || math.IsInf(ll, 0) {
		return 0, false
	}
	return ll, true
}

// decodeParams maps the unconstrained optimizer vector back to the natural
// parameter space: omega>0 via exp, and alpha, beta >= 0 with alpha+beta<1
// via a persistence/mixing logistic split.
func decodeParams(theta []float64) (mu, omega, alpha, beta float64) {
	mu = theta[0]
	omega = math.Exp(theta[1])
	persistence := logistic(theta[2])
	// The logistic saturates to exactly 1.0 in floating point for large
	// arguments; pull it back inside the open interval so the fitted model
	// always satisfies alpha+beta < 1.
	if persistence >= 1 {
		persistence = 1 - 1e-12
	}
	mix := logistic(theta[3])
	alpha = persistence * mix
	beta = persistence * (1 - mix)
	return mu, omega, alpha, beta
}

func convergenceDiagnostic(op, msg string, mu, omega, alpha, beta float64, result *optimize.Result) *domain.Error {
	e := domain.NewConvergenceError(op, "%s", msg).
		WithConstraint("best_mu", mu).
		WithConstraint("best_omega", omega).
		WithConstraint("best_alpha", alpha).
		WithConstraint("best_beta", beta)
	if result != nil {
		e = e.WithConstraint("iterations", result.Stats.MajorIterations).
			WithConstraint("status", result.Status.String())
	}
	return e
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

func square(x float64) float64 {
	return x * x
}
