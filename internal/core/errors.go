package core

import "errors"

var (
	ErrAlreadyExists     = errors.New("already_exists")
	ErrNotFound          = errors.New("not_found")
	ErrInvalidFields     = errors.New("invalid_fields")
	ErrInvalidTransition = errors.New("invalid_transition")

	// Resolution failures, surfaced at campaign creation time.
	ErrSourceUnavailable       = errors.New("source_unavailable")
	ErrEmptyRecipients         = errors.New("empty_recipients")
	ErrBusinessAccountRequired = errors.New("business_account_required")
)
