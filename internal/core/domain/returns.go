// Package domain holds the immutable data types shared by the estimation
// pipeline: the return series the pipeline consumes and the structured error
// taxonomy every service reports through.
package domain

import (
	"math"
	"time"
)

// ReturnPoint is a single observation of a log-return series.
type ReturnPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// ReturnSeries is an ordered sequence of log-returns with strictly
// increasing timestamps. It is immutable once constructed; accessors return
// copies so no pipeline stage can mutate another's input.
type ReturnSeries struct {
	points []ReturnPoint
}

// NewReturnSeries validates and constructs a return series. Timestamps must
// be strictly increasing (no duplicates) and every value must be finite.
func NewReturnSeries(points []ReturnPoint) (ReturnSeries, error) {
	const op = "domain.NewReturnSeries"
	if len(points) == 0 {
		return ReturnSeries{}, NewDataError(op, "empty return series")
	}
	for i, p := range points {
		if !isFinite(p.Value) {
			return ReturnSeries{}, NewDataError(op, "non-finite return at index %d", i).
				WithConstraint("index", i)
		}
		if i > 0 && !points[i-1].Timestamp.Before(p.Timestamp) {
			return ReturnSeries{}, NewDataError(op, "timestamps not strictly increasing at index %d", i).
				WithConstraint("index", i).
				WithConstraint("previous", points[i-1].Timestamp).
				WithConstraint("current", p.Timestamp)
		}
	}
	owned := make([]ReturnPoint, len(points))
	copy(owned, points)
	return ReturnSeries{points: owned}, nil
}

// Len returns the number of observations.
func (s ReturnSeries) Len() int {
	return len(s.points)
}

// At returns the i-th observation.
func (s ReturnSeries) At(i int) ReturnPoint {
	return s.points[i]
}

// Values returns a copy of the log-return values in time order.
func (s ReturnSeries) Values() []float64 {
	vs := make([]float64, len(s.points))
	for i, p := range s.points {
		vs[i] = p.Value
	}
	return vs
}

// Timestamps returns a copy of the observation timestamps in time order.
func (s ReturnSeries) Timestamps() []time.Time {
	ts := make([]time.Time, len(s.points))
	for i, p := range s.points {
		ts[i] = p.Timestamp
	}
	return ts
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
