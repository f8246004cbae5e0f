package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReturns(t *testing.T) {
	t.Run("with header", func(t *testing.T) {
		in := strings.NewReader("date,return\n2024-01-02,0.013\n2024-01-03,-0.021\n")
		points, err := parseReturns(in)
		require.NoError(t, err)
		require.Len(t, points, 2)
		assert.Equal(t, 0.013, points[0].Value)
		assert.Equal(t, -0.021, points[1].Value)
		assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), points[1].Timestamp)
	})

	t.Run("without header", func(t *testing.T) {
		in := strings.NewReader("2024-01-02T00:00:00Z,0.01\n2024-01-03T00:00:00Z,0.02\n")
		points, err := parseReturns(in)
		require.NoError(t, err)
		require.Len(t, points, 2)
	})

	t.Run("bad value", func(t *testing.T) {
		in := strings.NewReader("2024-01-02,zero\n")
		_, err := parseReturns(in)
		assert.Error(t, err)
	})

	t.Run("bad timestamp past header", func(t *testing.T) {
		in := strings.NewReader("2024-01-02,0.01\nnot-a-date,0.02\n")
		_, err := parseReturns(in)
		assert.Error(t, err)
	})
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"2024-03-01", true},
		{"2024-03-01T12:30:00Z", true},
		{"2024-03-01 12:30:00", true},
		{"03/01/2024", false},
	}
	for _, tc := range tests {
		_, err := parseTimestamp(tc.in)
		if tc.ok {
			assert.NoError(t, err, tc.in)
		} else {
			assert.Error(t, err, tc.in)
		}
	}
}
