package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(i int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

func TestNewReturnSeries(t *testing.T) {
	t.Run("valid series", func(t *testing.T) {
		s, err := NewReturnSeries([]ReturnPoint{
			{Timestamp: day(0), Value: 0.01},
			{Timestamp: day(1), Value: -0.02},
			{Timestamp: day(2), Value: 0.003},
		})
		require.NoError(t, err)
		assert.Equal(t, 3, s.Len())
		assert.Equal(t, -0.02, s.At(1).Value)
		assert.Equal(t, []float64{0.01, -0.02, 0.003}, s.Values())
	})

	t.Run("empty", func(t *testing.T) {
		_, err := NewReturnSeries(nil)
		assert.True(t, IsCode(err, ErrCodeData))
	})

	t.Run("duplicate timestamp", func(t *testing.T) {
		_, err := NewReturnSeries([]ReturnPoint{
			{Timestamp: day(0), Value: 0.01},
			{Timestamp: day(0), Value: 0.02},
		})
		assert.True(t, IsCode(err, ErrCodeData))
	})

	t.Run("decreasing timestamp", func(t *testing.T) {
		_, err := NewReturnSeries([]ReturnPoint{
			{Timestamp: day(1), Value: 0.01},
			{Timestamp: day(0), Value: 0.02},
		})
		assert.True(t, IsCode(err, ErrCodeData))
	})

	t.Run("non-finite value", func(t *testing.T) {
		_, err := NewReturnSeries([]ReturnPoint{
			{Timestamp: day(0), Value: math.NaN()},
		})
		assert.True(t, IsCode(err, ErrCodeData))
	})
}

func TestReturnSeriesImmutable(t *testing.T) {
	input := []ReturnPoint{
		{Timestamp: day(0), Value: 0.01},
		{Timestamp: day(1), Value: 0.02},
	}
	s, err := NewReturnSeries(input)
	require.NoError(t, err)

	// Mutating the constructor input must not reach the series.
	input[0].Value = 99
	assert.Equal(t, 0.01, s.At(0).Value)

	// Mutating an accessor copy must not reach the series either.
	vs := s.Values()
	vs[1] = -99
	assert.Equal(t, 0.02, s.At(1).Value)
}
