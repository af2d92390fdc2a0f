package pacing_test

import (
	"testing"
	"time"

	"github.com/sanskar85/whatsapp-api/internal/pacing"
	"github.com/stretchr/testify/require"
)

func at(hour, min int) time.Time {
	return time.Date(2024, 5, 1, hour, min, 0, 0, time.UTC)
}

func TestWithinWindow(t *testing.T) {
	require.True(t, pacing.WithinWindow(at(12, 0), "09:00", "18:00"))
	require.True(t, pacing.WithinWindow(at(9, 0), "09:00", "18:00"))
	require.True(t, pacing.WithinWindow(at(18, 0), "09:00", "18:00"))
	require.False(t, pacing.WithinWindow(at(8, 59), "09:00", "18:00"))
	require.False(t, pacing.WithinWindow(at(18, 1), "09:00", "18:00"))

	// All-day window.
	require.True(t, pacing.WithinWindow(at(0, 0), "00:00", "23:59"))
	require.True(t, pacing.WithinWindow(at(23, 59), "00:00", "23:59"))

	// Unparseable inputs are treated as closed.
	require.False(t, pacing.WithinWindow(at(12, 0), "9am", "18:00"))
}

func TestValidateWindow(t *testing.T) {
	require.NoError(t, pacing.ValidateWindow("00:00", "23:59"))
	require.NoError(t, pacing.ValidateWindow("10:30", "10:30"))
	require.Error(t, pacing.ValidateWindow("22:00", "06:00"), "overnight windows unsupported")
	require.Error(t, pacing.ValidateWindow("bogus", "06:00"))
}

func TestDelayBounds(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := pacing.Delay(2*time.Second, 5*time.Second)
		require.GreaterOrEqual(t, d, 2*time.Second)
		require.LessOrEqual(t, d, 5*time.Second)
		require.Zero(t, d%time.Second, "delays are whole seconds")
	}
	require.Equal(t, 3*time.Second, pacing.Delay(3*time.Second, 3*time.Second))
}

func TestAdvanceBatchBoundary(t *testing.T) {
	now := at(10, 0)
	p := pacing.Params{
		MinDelay:   time.Second,
		MaxDelay:   time.Second,
		BatchSize:  2,
		BatchDelay: 10 * time.Second,
	}

	cur := pacing.Advance(now, p, pacing.Cursor{})
	require.Equal(t, 1, cur.BatchSent)
	require.Equal(t, now.Add(time.Second), cur.NextEligible)

	// Second send fills the batch: batch delay applies and counter resets.
	cur = pacing.Advance(now.Add(time.Second), p, cur)
	require.Equal(t, 0, cur.BatchSent)
	require.Equal(t, now.Add(time.Second).Add(10*time.Second), cur.NextEligible)
}
