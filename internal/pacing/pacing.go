// Package pacing holds the pure send-pacing policy: the daily send window,
// the per-message random delay and the batch-boundary delay. It never
// mutates state; the per-campaign cursor is persisted by the store.
package pacing

import (
	"fmt"
	"math/rand/v2"
	"time"
)

type Params struct {
	MinDelay   time.Duration
	MaxDelay   time.Duration
	BatchSize  int
	BatchDelay time.Duration
}

// Cursor is the per-campaign runtime bookkeeping that makes pacing survive
// restarts: how many sends happened in the current batch, and the earliest
// instant the next send may happen.
type Cursor struct {
	BatchSent    int
	NextEligible time.Time
}

// ParseClock parses a "HH:MM" wall-clock string into minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ValidateWindow rejects unparseable times and overnight (wrapping) windows.
func ValidateWindow(start, end string) error {
	s, err := ParseClock(start)
	if err != nil {
		return err
	}
	e, err := ParseClock(end)
	if err != nil {
		return err
	}
	if s > e {
		return fmt.Errorf("window start %s after end %s: overnight windows are not supported", start, end)
	}
	return nil
}

// WithinWindow reports whether now's time of day falls inside [start, end],
// inclusive on both edges. Windows never wrap midnight; ValidateWindow
// rejects start > end at submission time, and a wrapped window that slips
// through evaluates as always-closed outside [start, end].
func WithinWindow(now time.Time, start, end string) bool {
	s, err := ParseClock(start)
	if err != nil {
		return false
	}
	e, err := ParseClock(end)
	if err != nil {
		return false
	}
	m := now.Hour()*60 + now.Minute()
	return m >= s && m <= e
}

// Delay draws a uniform random whole-second delay in [min, max].
func Delay(min, max time.Duration) time.Duration {
	lo := int(min / time.Second)
	hi := int(max / time.Second)
	if hi <= lo {
		return time.Duration(lo) * time.Second
	}
	return time.Duration(lo+rand.IntN(hi-lo+1)) * time.Second
}

// Advance returns the cursor after one claim at time now: the batch counter
// incremented, and the next eligible instant pushed out by either the
// per-message delay or, at a batch boundary, the batch delay (with the
// counter reset to zero).
func Advance(now time.Time, p Params, cur Cursor) Cursor {
	sent := cur.BatchSent + 1
	if p.BatchSize > 0 && sent >= p.BatchSize {
		return Cursor{BatchSent: 0, NextEligible: now.Add(p.BatchDelay)}
	}
	return Cursor{BatchSent: sent, NextEligible: now.Add(Delay(p.MinDelay, p.MaxDelay))}
}
