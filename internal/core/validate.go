package core

import (
	"fmt"
	"time"

	"github.com/sanskar85/whatsapp-api/internal/pacing"
)

// Defaults applied when a submission omits optional pacing fields. These
// mirror the values the original scheduler UI pre-filled.
const (
	DefaultMinDelaySec   = 1
	DefaultMaxDelaySec   = 60
	DefaultBatchSize     = 1
	DefaultBatchDelaySec = 120
	DefaultStartTime     = "00:00"
	DefaultEndTime       = "23:59"
)

// ValidateDefinition checks the immutable campaign definition before
// anything is persisted. All violations wrap ErrInvalidFields.
func (c *Campaign) ValidateDefinition() error {
	if c.Name == "" {
		return fmt.Errorf("%w: campaign_name is required", ErrInvalidFields)
	}
	switch c.SourceType {
	case SourceNumbers, SourceCSV, SourceGroup, SourceGroupIndividual, SourceLabel:
	default:
		return fmt.Errorf("%w: unknown recipient type %q", ErrInvalidFields, c.SourceType)
	}
	if c.MinDelaySec < 1 || c.MaxDelaySec < 1 {
		return fmt.Errorf("%w: min_delay and max_delay must be >= 1", ErrInvalidFields)
	}
	if c.MinDelaySec > c.MaxDelaySec {
		return fmt.Errorf("%w: min_delay must not exceed max_delay", ErrInvalidFields)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch_size must be >= 1", ErrInvalidFields)
	}
	if c.BatchDelaySec < 1 {
		return fmt.Errorf("%w: batch_delay must be >= 1", ErrInvalidFields)
	}
	if err := pacing.ValidateWindow(c.StartTime, c.EndTime); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFields, err)
	}
	return nil
}

func (c *Campaign) PacingParams() pacing.Params {
	return pacing.Params{
		MinDelay:   time.Duration(c.MinDelaySec) * time.Second,
		MaxDelay:   time.Duration(c.MaxDelaySec) * time.Second,
		BatchSize:  c.BatchSize,
		BatchDelay: time.Duration(c.BatchDelaySec) * time.Second,
	}
}

func (c *Campaign) Cursor() pacing.Cursor {
	return pacing.Cursor{BatchSent: c.BatchSent, NextEligible: c.NextEligibleAt}
}
