// Package risk combines a fitted GPD tail model with conditional volatility
// to produce Value-at-Risk and Expected Shortfall estimates, alongside a
// Normal-distribution baseline for comparison.
//
// Asset-scale metrics multiply the residual-scale quantile by the
// conditional volatility at each time point. This recombination assumes the
// standardized residuals are i.i.d. across time and that the volatility
// filter captures all time variation; the fitted tail shape is treated as
// stable over the whole history. That is a modeling assumption of the
// method, not a property this package validates.
package risk

import (
	"errors"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tailrisk-engine/internal/core/domain"
	"github.com/tailrisk-engine/internal/core/services/tail"
)

// ModelTag identifies which distributional model produced an estimate.
type ModelTag string

const (
	// ModelEVT tags estimates from the GPD tail model.
	ModelEVT ModelTag = "EVT"
	// ModelNormal tags estimates from the Gaussian baseline.
	ModelNormal ModelTag = "NORMAL"
)

// Estimate is a VaR/ES pair at one volatility point. VaR and ES are loss
// magnitudes: positive numbers on the asset scale.
type Estimate struct {
	Confidence float64  `json:"confidence"`
	Model      ModelTag `json:"model"`

	// Residual-scale quantiles of the standardized-loss distribution.
	VaRResidual float64 `json:"var_residual"`
	ESResidual  float64 `json:"es_residual"`

	// Asset-scale metrics: residual quantile times conditional volatility.
	VaR float64 `json:"var"`
	ES  float64 `json:"es"`

	// Volatility is the conditional volatility used for scaling.
	Volatility float64 `json:"volatility"`
}

// Calculator produces risk estimates from tail models and volatilities.
type Calculator struct {
	logger *zap.Logger
	normal distuv.Normal
}

// NewCalculator creates a Calculator. A nil logger disables logging.
func NewCalculator(logger *zap.Logger) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{
		logger: logger,
		normal: distuv.Normal{Mu: 0, Sigma: 1},
	}
}

// Estimate computes the EVT VaR/ES point estimate at one volatility value.
//
// The tail extrapolation requires (N/N_u)*(1-confidence) < 1: the requested
// confidence must imply fewer exceedances than were observed beyond the
// threshold. Shallower confidence levels are a DOMAIN error. ES requires
// xi < 1; at or above one the tail mean is infinite, also a DOMAIN error.
func (c *Calculator) Estimate(tm *tail.Model, volatility, confidence float64) (Estimate, error) {
	const op = "risk.Estimate"

	if err := validateConfidence(op, confidence); err != nil {
		return Estimate{}, err
	}
	if !(volatility > 0) || math.IsInf(volatility, 0) || math.IsNaN(volatility) {
		return Estimate{}, domain.NewNumericalError(op, "non-positive volatility %v", volatility).
			WithConstraint("volatility", volatility)
	}

	varR, err := residualVaR(op, tm, confidence)
	if err != nil {
		return Estimate{}, err
	}
	esR, err := residualES(op, tm, varR)
	if err != nil {
		return Estimate{}, err
	}

	c.logger.Debug("evt estimate",
		zap.Float64("confidence", confidence),
		zap.Float64("var_residual", varR),
		zap.Float64("es_residual", esR),
		zap.Float64("volatility", volatility),
	)

	return Estimate{
		Confidence:  confidence,
		Model:       ModelEVT,
		VaRResidual: varR,
		ESResidual:  esR,
		VaR:         varR * volatility,
		ES:          esR * volatility,
		Volatility:  volatility,
	}, nil
}

// EstimateSeries computes the time-varying EVT VaR/ES series across a
// conditional-volatility path. The residual-scale quantiles are constant;
// only the volatility scaling varies with t.
func (c *Calculator) EstimateSeries(tm *tail.Model, volatilities []float64, confidence float64) ([]Estimate, error) {
	const op = "risk.EstimateSeries"

	if len(volatilities) == 0 {
		return nil, domain.NewDataError(op, "empty volatility series")
	}
	if err := validateConfidence(op, confidence); err != nil {
		return nil, err
	}

	varR, err := residualVaR(op, tm, confidence)
	if err != nil {
		return nil, err
	}
	esR, err := residualES(op, tm, varR)
	if err != nil {
		return nil, err
	}

	estimates := make([]Estimate, len(volatilities))
	for t, vol := range volatilities {
		if !(vol > 0) || math.IsInf(vol, 0) || math.IsNaN(vol) {
			return nil, domain.NewNumericalError(op, "non-positive volatility %v at index %d", vol, t).
				WithConstraint("index", t)
		}
		estimates[t] = Estimate{
			Confidence:  confidence,
			Model:       ModelEVT,
			VaRResidual: varR,
			ESResidual:  esR,
			VaR:         varR * vol,
			ES:          esR * vol,
			Volatility:  vol,
		}
	}

	c.logger.Debug("evt estimate series",
		zap.Float64("confidence", confidence),
		zap.Float64("var_residual", varR),
		zap.Float64("es_residual", esR),
		zap.Int("points", len(estimates)),
	)
	return estimates, nil
}

// NormalEstimate computes the Gaussian-baseline VaR/ES at one volatility
// value: VaR = z_c * sigma and ES = sigma * phi(z_c)/p.
func (c *Calculator) NormalEstimate(volatility, confidence float64) (Estimate, error) {
	const op = "risk.NormalEstimate"

	if err := validateConfidence(op, confidence); err != nil {
		return Estimate{}, err
	}
	if !(volatility > 0) || math.IsInf(volatility, 0) || math.IsNaN(volatility) {
		return Estimate{}, domain.NewNumericalError(op, "non-positive volatility %v", volatility).
			WithConstraint("volatility", volatility)
	}

	p := 1 - confidence
	z := c.normal.Quantile(confidence)
	esR := c.normal.Prob(z) / p

	return Estimate{
		Confidence:  confidence,
		Model:       ModelNormal,
		VaRResidual: z,
		ESResidual:  esR,
		VaR:         z * volatility,
		ES:          esR * volatility,
		Volatility:  volatility,
	}, nil
}

// NormalSeries computes the Gaussian-baseline series across a volatility path.
func (c *Calculator) NormalSeries(volatilities []float64, confidence float64) ([]Estimate, error) {
	const op = "risk.NormalSeries"

	if len(volatilities) == 0 {
		return nil, domain.NewDataError(op, "empty volatility series")
	}
	estimates := make([]Estimate, len(volatilities))
	for t, vol := range volatilities {
		e, err := c.NormalEstimate(vol, confidence)
		if err != nil {
			var de *domain.Error
			if errors.As(err, &de) {
				return nil, de.WithConstraint("index", t)
			}
			return nil, err
		}
		estimates[t] = e
	}
	return estimates, nil
}

// residualVaR evaluates the POT quantile formula on the residual scale.
// For |xi| below tail.XiTolerance the exponential-limit formula is used,
// matching the regime switch of the fitting code.
func residualVaR(op string, tm *tail.Model, confidence float64) (float64, error) {
	if tm == nil {
		return 0, domain.NewDataError(op, "nil tail model")
	}
	if tm.NumExceedances <= 0 || tm.SampleSize <= 0 {
		return 0, domain.NewDataError(op, "tail model has no exceedances")
	}

	p := 1 - confidence
	term := float64(tm.SampleSize) / float64(tm.NumExceedances) * p
	// The boundary term == 1 must be rejected even when 1-confidence
	// rounds a hair below it (0.1 is not exact in binary).
	if term >= 1-1e-12 {
		return 0, domain.NewDomainError(op,
			"confidence %v is not deep enough in the tail for threshold quantile with %d/%d exceedances",
			confidence, tm.NumExceedances, tm.SampleSize).
			WithConstraint("extrapolation_term", term).
			WithConstraint("requirement", "(N/N_u)*(1-confidence) < 1")
	}

	var varR float64
	if math.Abs(tm.Xi) < tail.XiTolerance {
		varR = tm.Threshold - tm.Beta*math.Log(term)
	} else {
		varR = tm.Threshold + tm.Beta/tm.Xi*(math.Pow(term, -tm.Xi)-1)
	}
	if math.IsNaN(varR) || math.IsInf(varR, 0) {
		return 0, domain.NewNumericalError(op, "VaR formula produced %v", varR)
	}

	// A negative shape bounds the loss distribution; the quantile must not
	// extrapolate beyond the finite endpoint.
	if endpoint, ok := tm.Endpoint(); ok && varR > endpoint {
		return 0, domain.NewDomainError(op, "VaR %v exceeds the finite loss endpoint %v implied by xi=%v", varR, endpoint, tm.Xi).
			WithConstraint("endpoint", endpoint).
			WithConstraint("var_residual", varR)
	}
	return varR, nil
}

// residualES evaluates the POT expected-shortfall formula, defined only for
// xi < 1 (the tail mean is infinite otherwise).
func residualES(op string, tm *tail.Model, varR float64) (float64, error) {
	if tm.Xi >= 1 {
		return 0, domain.NewDomainError(op, "expected shortfall undefined for xi=%v >= 1 (infinite tail mean)", tm.Xi).
			WithConstraint("xi", tm.Xi)
	}
	esR := (varR + tm.Beta - tm.Xi*tm.Threshold) / (1 - tm.Xi)
	if math.IsNaN(esR) || math.IsInf(esR, 0) {
		return 0, domain.NewNumericalError(op, "ES formula produced %v", esR)
	}
	return esR, nil
}

func validateConfidence(op string, confidence float64) error {
	if !(confidence > 0 && confidence < 1) {
		return domain.NewDataError(op, "confidence %v outside (0,1)", confidence).
			WithConstraint("confidence", confidence)
	}
	return nil
}
