// Package deliver performs one send attempt per claimed job and commits
// the outcome. There is no retry here: a transport rejection is terminal
// for the job, and only a not-ready channel returns the job to pending.
package deliver

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sanskar85/whatsapp-api/internal/core"
	"github.com/sanskar85/whatsapp-api/internal/metrics"
	"github.com/sanskar85/whatsapp-api/internal/transport"
)

// Store is the slice of the campaign store the worker commits outcomes to.
type Store interface {
	MarkSent(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID, reason string) error
	ReleaseJob(ctx context.Context, jobID string) error
}

type Worker struct {
	Store       Store
	Registry    *transport.Registry
	Limiter     *rate.Limiter
	SendTimeout time.Duration
	Log         zerolog.Logger
}

// Deliver renders the job's message, sends it through the tenant's
// transport and commits the outcome. The caller runs it as its own unit of
// work; it never blocks the scheduler tick.
func (w *Worker) Deliver(ctx context.Context, c core.Campaign, j core.Job) {
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	tr, ok := w.Registry.Get(c.OwnerID)
	if !ok {
		w.release(ctx, j, "no transport registered")
		return
	}

	if w.Limiter != nil {
		if err := w.Limiter.Wait(ctx); err != nil {
			w.release(ctx, j, "rate limiter interrupted")
			return
		}
	}

	msg := transport.Message{
		To:           j.Recipient,
		Body:         Render(c.Message, j.Variables),
		Attachments:  c.Attachments,
		ContactCards: c.ContactCards,
	}

	cctx := ctx
	if w.SendTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, w.SendTimeout)
		defer cancel()
	}

	start := time.Now()
	err := tr.Send(cctx, c.OwnerID, msg)
	metrics.SendDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		if err := w.Store.MarkSent(ctx, j.ID); err != nil {
			w.Log.Error().Err(err).Str("job", j.ID).Msg("commit sent outcome")
			return
		}
		metrics.SendTotal.WithLabelValues("sent").Inc()
	case errors.Is(err, transport.ErrNotReady):
		w.release(ctx, j, "transport not ready")
	default:
		// The transport's reason is kept verbatim for the report.
		if err2 := w.Store.MarkFailed(ctx, j.ID, err.Error()); err2 != nil {
			w.Log.Error().Err(err2).Str("job", j.ID).Msg("commit failed outcome")
			return
		}
		metrics.SendTotal.WithLabelValues("failed").Inc()
		w.Log.Warn().Str("job", j.ID).Str("to", j.Recipient).Err(err).Msg("send failed")
	}
}

func (w *Worker) release(ctx context.Context, j core.Job, why string) {
	metrics.SendTotal.WithLabelValues("released").Inc()
	w.Log.Debug().Str("job", j.ID).Str("reason", why).Msg("job released back to pending")
	if err := w.Store.ReleaseJob(ctx, j.ID); err != nil {
		w.Log.Error().Err(err).Str("job", j.ID).Msg("release job")
	}
}
