// Package backtest compares realized returns against a time-varying VaR
// series, flags breaches, and summarizes the empirical breach rate against
// the nominal rate. The raw counts are always exposed so a caller can layer
// any coverage test on top; the Kupiec proportion-of-failures statistic is
// computed as a convenience.
package backtest

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tailrisk-engine/internal/core/domain"
	"github.com/tailrisk-engine/internal/core/services/risk"
)

// BreachRecord flags one timestamp where the realized loss is compared to
// the estimated VaR. VaR is a positive loss magnitude; a breach means the
// realized return fell below -VaR.
type BreachRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Return    float64   `json:"return"`
	VaR       float64   `json:"var"`
	Breach    bool      `json:"breach"`
}

// Summary aggregates breach counts over the evaluation window.
type Summary struct {
	Observations int     `json:"observations"`
	Breaches     int     `json:"breaches"`
	BreachRate   float64 `json:"breach_rate"`
	// NominalRate is the targeted breach probability p = 1 - confidence.
	NominalRate float64 `json:"nominal_rate"`
	Confidence  float64 `json:"confidence"`

	// Kupiec proportion-of-failures likelihood-ratio test of the breach
	// rate against the nominal rate, chi-squared with one degree of
	// freedom. Supplementary: the raw counts above are the contract.
	LRStatistic float64 `json:"lr_statistic"`
	PValue      float64 `json:"p_value"`
}

// Result is the full backtest output: the per-timestamp records plus the
// aggregate summary.
type Result struct {
	Records []BreachRecord `json:"records"`
	Summary Summary        `json:"summary"`
}

// Evaluate compares the return series against the aligned VaR estimates.
// The two series must cover the same observations in the same order: a
// length mismatch or inconsistent confidence levels is a DATA error, never
// a silent partial comparison.
func Evaluate(returns domain.ReturnSeries, estimates []risk.Estimate) (Result, error) {
	const op = "backtest.Evaluate"

	n := returns.Len()
	if n == 0 {
		return Result{}, domain.NewDataError(op, "empty return series")
	}
	if len(estimates) != n {
		return Result{}, domain.NewDataError(op, "VaR series length %d does not match return series length %d", len(estimates), n).
			WithConstraint("returns", n).
			WithConstraint("estimates", len(estimates))
	}

	confidence := estimates[0].Confidence
	records := make([]BreachRecord, n)
	breaches := 0
	for t := 0; t < n; t++ {
		if estimates[t].Confidence != confidence {
			return Result{}, domain.NewDataError(op, "mixed confidence levels in VaR series at index %d", t).
				WithConstraint("index", t).
				WithConstraint("expected", confidence).
				WithConstraint("actual", estimates[t].Confidence)
		}
		point := returns.At(t)
		breach := point.Value < -estimates[t].VaR
		if breach {
			breaches++
		}
		records[t] = BreachRecord{
			Timestamp: point.Timestamp,
			Return:    point.Value,
			VaR:       estimates[t].VaR,
			Breach:    breach,
		}
	}

	summary := Summary{
		Observations: n,
		Breaches:     breaches,
		BreachRate:   float64(breaches) / float64(n),
		NominalRate:  1 - confidence,
		Confidence:   confidence,
	}
	summary.LRStatistic, summary.PValue = kupiecPOF(n, breaches, summary.NominalRate)

	return Result{Records: records, Summary: summary}, nil
}

// kupiecPOF computes the proportion-of-failures likelihood ratio
//
//	LR = -2 [ ln L(p) - ln L(x/n) ]
//
// with the convention 0*ln(0) = 0 at the boundary breach counts.
func kupiecPOF(n, x int, p float64) (lr, pValue float64) {
	if n == 0 || p <= 0 || p >= 1 {
		return 0, 1
	}

	nf, xf := float64(n), float64(x)
	pi := xf / nf

	logLik := func(q float64) float64 {
		var ll float64
		if n-x > 0 {
			ll += (nf - xf) * math.Log(1-q)
		}
		if x > 0 {
			ll += xf * math.Log(q)
		}
		return ll
	}

	lr = -2 * (logLik(p) - logLik(pi))
	if lr < 0 {
		// Guard against tiny negative values from rounding.
		lr = 0
	}
	chi2 := distuv.ChiSquared{K: 1}
	return lr, chi2.Survival(lr)
}
