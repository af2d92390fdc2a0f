// Package transport defines the outbound channel contract. The engine only
// ever sees IsReady and Send; session lifecycle (login, reconnects,
// teardown) belongs entirely to the implementation behind it.
package transport

import (
	"context"
	"errors"
)

// ErrNotReady signals a transient condition: the tenant's channel is not
// usable right now. Jobs stay pending and are retried on a later tick.
var ErrNotReady = errors.New("transport_not_ready")

type Message struct {
	To           string
	Body         string
	Attachments  []string
	ContactCards []string
}

type Transport interface {
	IsReady(ctx context.Context, tenant string) bool
	Send(ctx context.Context, tenant string, msg Message) error
}
