// Package scheduler drives campaign progress. A fixed-period tick walks
// every schedulable campaign in creation order and claims at most one job
// per campaign per tick, so concurrent tenants interleave instead of one
// campaign monopolizing the loop. Delivery runs as its own goroutine; the
// tick never waits on the network.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sanskar85/whatsapp-api/internal/core"
	"github.com/sanskar85/whatsapp-api/internal/metrics"
	"github.com/sanskar85/whatsapp-api/internal/pacing"
	"github.com/sanskar85/whatsapp-api/internal/transport"
)

// Store is the slice of the campaign store the engine needs each tick.
type Store interface {
	ListSchedulable(ctx context.Context) ([]core.Campaign, error)
	MarkRunning(ctx context.Context, campaignID string) error
	ClaimNextJob(ctx context.Context, campaignID string, next pacing.Cursor) (*core.Job, error)
	InFlightCount(ctx context.Context, campaignID string) (int, error)
	CompleteCampaign(ctx context.Context, campaignID string) error
	RecoverStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Deliverer performs one send attempt and commits the outcome.
type Deliverer interface {
	Deliver(ctx context.Context, c core.Campaign, j core.Job)
}

type Options struct {
	// StaleClaimAge is the dead-attempt threshold for startup recovery.
	StaleClaimAge time.Duration
	// Zone is the wall-clock zone send windows are evaluated in.
	Zone *time.Location
	// Now is injected for tests; defaults to time.Now.
	Now func() time.Time
}

type Engine struct {
	store    Store
	registry *transport.Registry
	worker   Deliverer
	log      zerolog.Logger

	staleAge time.Duration
	zone     *time.Location
	now      func() time.Time

	tickMu sync.Mutex
	wg     sync.WaitGroup
}

func New(store Store, registry *transport.Registry, worker Deliverer, log zerolog.Logger, opt Options) *Engine {
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Zone == nil {
		opt.Zone = time.Local
	}
	if opt.StaleClaimAge <= 0 {
		opt.StaleClaimAge = 5 * time.Minute
	}
	return &Engine{
		store:    store,
		registry: registry,
		worker:   worker,
		log:      log,
		staleAge: opt.StaleClaimAge,
		zone:     opt.Zone,
		now:      opt.Now,
	}
}

// Start recovers claims stranded by a previous crash. Must run before the
// first tick so no job stays in-flight forever.
func (e *Engine) Start(ctx context.Context) error {
	n, err := e.store.RecoverStaleClaims(ctx, e.staleAge)
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.StaleRecovered.Add(float64(n))
		e.log.Info().Int64("jobs", n).Msg("recovered stale in-flight jobs")
	}
	return nil
}

// Tick advances every eligible campaign by at most one job. Errors are
// isolated per campaign: one tenant's broken transport or storage hiccup
// never stalls the others.
func (e *Engine) Tick(ctx context.Context) {
	// A tick that outruns its period must not run concurrently with the
	// next one: both would list the same cursor snapshot and double-claim.
	if !e.tickMu.TryLock() {
		return
	}
	defer e.tickMu.Unlock()

	start := time.Now()
	defer func() {
		metrics.TickTotal.Inc()
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	campaigns, err := e.store.ListSchedulable(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("list schedulable campaigns")
		return
	}

	now := e.now().In(e.zone)
	for _, c := range campaigns {
		select {
		case <-ctx.Done():
			return
		default:
		}
		e.tickCampaign(ctx, now, c)
	}
}

func (e *Engine) tickCampaign(ctx context.Context, now time.Time, c core.Campaign) {
	if c.Status == core.CampaignScheduled {
		if err := e.store.MarkRunning(ctx, c.ID); err != nil {
			e.log.Error().Err(err).Str("campaign", c.ID).Msg("promote to running")
			return
		}
		c.Status = core.CampaignRunning
	}

	if !pacing.WithinWindow(now, c.StartTime, c.EndTime) {
		metrics.ClaimTotal.WithLabelValues("skipped_window").Inc()
		// A campaign drained just before its window closed would otherwise
		// sit in running until the window reopens.
		e.maybeComplete(ctx, c)
		return
	}
	if now.Before(c.NextEligibleAt) {
		metrics.ClaimTotal.WithLabelValues("skipped_delay").Inc()
		return
	}
	if !e.registry.Ready(ctx, c.OwnerID) {
		// Transient: jobs stay pending, retried on a later tick.
		metrics.ClaimTotal.WithLabelValues("not_ready").Inc()
		e.maybeComplete(ctx, c)
		return
	}

	next := pacing.Advance(now, c.PacingParams(), c.Cursor())
	job, err := e.store.ClaimNextJob(ctx, c.ID, next)
	if err != nil {
		metrics.ClaimTotal.WithLabelValues("error").Inc()
		e.log.Error().Err(err).Str("campaign", c.ID).Msg("claim job")
		return
	}
	if job == nil {
		metrics.ClaimTotal.WithLabelValues("empty").Inc()
		e.maybeComplete(ctx, c)
		return
	}

	metrics.ClaimTotal.WithLabelValues("ok").Inc()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.worker.Deliver(ctx, c, *job)
	}()
}

func (e *Engine) maybeComplete(ctx context.Context, c core.Campaign) {
	inflight, err := e.store.InFlightCount(ctx, c.ID)
	if err != nil || inflight > 0 {
		return
	}
	if err := e.store.CompleteCampaign(ctx, c.ID); err != nil {
		e.log.Error().Err(err).Str("campaign", c.ID).Msg("complete campaign")
		return
	}
	metrics.CampaignsCompleted.Inc()
	e.log.Info().Str("campaign", c.ID).Str("name", c.Name).Msg("campaign completed")
}

// Shutdown waits for in-flight deliveries to commit their outcomes.
func (e *Engine) Shutdown() {
	e.wg.Wait()
}
