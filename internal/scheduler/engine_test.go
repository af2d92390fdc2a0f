package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sanskar85/whatsapp-api/internal/core"
	"github.com/sanskar85/whatsapp-api/internal/pacing"
	"github.com/sanskar85/whatsapp-api/internal/scheduler"
	"github.com/sanskar85/whatsapp-api/internal/transport"
)

// memStore is an in-memory campaign store with the same claim semantics as
// the Postgres store, driving the engine without a database.
type memStore struct {
	mu        sync.Mutex
	campaigns []*core.Campaign
	jobs      map[string][]*core.Job
	recovered int64
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string][]*core.Job)}
}

func (m *memStore) add(c core.Campaign, recipients ...string) *core.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	cc := c
	if cc.Status == "" {
		cc.Status = core.CampaignScheduled
	}
	m.campaigns = append(m.campaigns, &cc)
	for i, r := range recipients {
		m.jobs[cc.ID] = append(m.jobs[cc.ID], &core.Job{
			ID: cc.ID + "-j" + string(rune('1'+i)), CampaignID: cc.ID,
			Recipient: r, Status: core.JobPending,
		})
	}
	return &cc
}

func (m *memStore) campaign(id string) *core.Campaign {
	for _, c := range m.campaigns {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (m *memStore) setStatus(id string, st core.CampaignStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaign(id).Status = st
}

func (m *memStore) ListSchedulable(ctx context.Context) ([]core.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Campaign
	for _, c := range m.campaigns {
		if c.Status == core.CampaignScheduled || c.Status == core.CampaignRunning {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) MarkRunning(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.campaign(id); c.Status == core.CampaignScheduled {
		c.Status = core.CampaignRunning
	}
	return nil
}

func (m *memStore) ClaimNextJob(ctx context.Context, id string, next pacing.Cursor) (*core.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaign(id)
	if c == nil || c.Status != core.CampaignRunning {
		return nil, nil
	}
	for _, j := range m.jobs[id] {
		if j.Status != core.JobPending {
			continue
		}
		j.Status = core.JobInFlight
		j.Attempts++
		c.BatchSent = next.BatchSent
		c.NextEligibleAt = next.NextEligible
		cp := *j
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) InFlightCount(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs[id] {
		if j.Status == core.JobInFlight {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CompleteCampaign(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaign(id)
	if c.Status != core.CampaignRunning {
		return nil
	}
	for _, j := range m.jobs[id] {
		if j.Status == core.JobPending || j.Status == core.JobInFlight {
			return nil
		}
	}
	c.Status = core.CampaignCompleted
	return nil
}

func (m *memStore) RecoverStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	return m.recovered, nil
}

func (m *memStore) statusCounts(id string) (pending, sent, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs[id] {
		switch j.Status {
		case core.JobPending, core.JobInFlight:
			pending++
		case core.JobSent:
			sent++
		case core.JobFailed:
			failed++
		}
	}
	return
}

// markSentDeliverer commits every delivery as sent, synchronously.
type markSentDeliverer struct {
	store *memStore
	mu    sync.Mutex
	seen  []string
}

func (d *markSentDeliverer) Deliver(ctx context.Context, c core.Campaign, j core.Job) {
	d.store.mu.Lock()
	for _, jj := range d.store.jobs[c.ID] {
		if jj.ID == j.ID {
			jj.Status = core.JobSent
		}
	}
	d.store.mu.Unlock()
	d.mu.Lock()
	d.seen = append(d.seen, j.ID)
	d.mu.Unlock()
}

func (d *markSentDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func readyRegistry() *transport.Registry {
	reg := transport.NewRegistry()
	reg.SetFallback(transport.NewDummy())
	return reg
}

func baseCampaign(id string) core.Campaign {
	return core.Campaign{
		ID: id, OwnerID: "tenant-1", Name: id,
		MinDelaySec: 1, MaxDelaySec: 1, BatchSize: 2, BatchDelaySec: 10,
		StartTime: "00:00", EndTime: "23:59",
	}
}

func newEngine(st *memStore, d scheduler.Deliverer, clk *clock) *scheduler.Engine {
	return scheduler.New(st, readyRegistry(), d, zerolog.Nop(), scheduler.Options{
		Zone: time.UTC,
		Now:  clk.now,
	})
}

// 3 recipients, batch_size=2, batch_delay=10s, min=max=1s:
// job1 at t0, job2 at t0+1s, job3 at t0+11s.
func TestTickPacesBatches(t *testing.T) {
	st := newMemStore()
	st.add(baseCampaign("c1"), "911111111111", "912222222222", "913333333333")
	d := &markSentDeliverer{store: st}
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	eng := newEngine(st, d, clk)
	ctx := context.Background()

	tick := func() {
		eng.Tick(ctx)
		eng.Shutdown()
	}

	tick()
	require.Equal(t, 1, d.count(), "job1 at t0")

	tick()
	require.Equal(t, 1, d.count(), "inter-message delay not elapsed")

	clk.advance(time.Second)
	tick()
	require.Equal(t, 2, d.count(), "job2 at t0+1s fills the batch")

	for i := 0; i < 9; i++ {
		clk.advance(time.Second)
		tick()
	}
	require.Equal(t, 2, d.count(), "batch delay holds for 10s")

	clk.advance(time.Second)
	tick()
	require.Equal(t, 3, d.count(), "job3 after the batch delay")

	// Drained: once the cursor is eligible again the next tick completes
	// the campaign.
	clk.advance(time.Second)
	tick()
	require.Equal(t, core.CampaignCompleted, st.campaign("c1").Status)

	pending, sent, failed := st.statusCounts("c1")
	require.Equal(t, 0, pending)
	require.Equal(t, 3, sent)
	require.Equal(t, 0, failed)

	// Ticking a drained campaign is a no-op.
	tick()
	require.Equal(t, 3, d.count())
}

func TestTickRespectsSendWindow(t *testing.T) {
	st := newMemStore()
	c := baseCampaign("c1")
	c.StartTime, c.EndTime = "10:00", "18:00"
	st.add(c, "911111111111")
	d := &markSentDeliverer{store: st}
	clk := &clock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	eng := newEngine(st, d, clk)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		eng.Tick(ctx)
		eng.Shutdown()
		clk.advance(time.Second)
	}
	require.Zero(t, d.count(), "no job leaves pending outside the window")
	pending, _, _ := st.statusCounts("c1")
	require.Equal(t, 1, pending)

	// Window opens: progress resumes.
	clk.advance(2 * time.Hour)
	eng.Tick(ctx)
	eng.Shutdown()
	require.Equal(t, 1, d.count())
}

func TestPauseStopsClaims(t *testing.T) {
	st := newMemStore()
	st.add(baseCampaign("c1"), "911111111111", "912222222222", "913333333333")
	d := &markSentDeliverer{store: st}
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	eng := newEngine(st, d, clk)
	ctx := context.Background()

	eng.Tick(ctx)
	eng.Shutdown()
	require.Equal(t, 1, d.count())

	st.setStatus("c1", core.CampaignPaused)
	for i := 0; i < 30; i++ {
		clk.advance(time.Second)
		eng.Tick(ctx)
		eng.Shutdown()
	}
	require.Equal(t, 1, d.count(), "no claims while paused")

	st.setStatus("c1", core.CampaignRunning)
	clk.advance(time.Second)
	eng.Tick(ctx)
	eng.Shutdown()
	require.Equal(t, 2, d.count())
}

func TestFairnessOneClaimPerCampaignPerTick(t *testing.T) {
	st := newMemStore()
	st.add(baseCampaign("c1"), "911111111111", "912222222222")
	st.add(baseCampaign("c2"), "913333333333", "914444444444")
	d := &markSentDeliverer{store: st}
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	eng := newEngine(st, d, clk)

	eng.Tick(context.Background())
	eng.Shutdown()

	// Both campaigns progressed exactly one job in a single tick.
	require.Equal(t, 2, d.count())
	_, sent1, _ := st.statusCounts("c1")
	_, sent2, _ := st.statusCounts("c2")
	require.Equal(t, 1, sent1)
	require.Equal(t, 1, sent2)
}

// gatedStore blocks the first ListSchedulable until released, simulating a
// tick that outruns its period.
type gatedStore struct {
	*memStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) ListSchedulable(ctx context.Context) ([]core.Campaign, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.memStore.ListSchedulable(ctx)
}

func TestOverlappingTicksDoNotDoubleClaim(t *testing.T) {
	st := newMemStore()
	st.add(baseCampaign("c1"), "911111111111", "912222222222")
	gs := &gatedStore{memStore: st, entered: make(chan struct{}), release: make(chan struct{})}
	d := &markSentDeliverer{store: st}
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	eng := scheduler.New(gs, readyRegistry(), d, zerolog.Nop(), scheduler.Options{Zone: time.UTC, Now: clk.now})

	done := make(chan struct{})
	go func() {
		eng.Tick(context.Background())
		close(done)
	}()
	<-gs.entered

	// A second tick while the first is still running is a no-op.
	eng.Tick(context.Background())
	require.Zero(t, d.count())

	close(gs.release)
	<-done
	eng.Shutdown()
	require.Equal(t, 1, d.count(), "exactly one claim despite two ticks")
}

func TestDrainedCampaignCompletesOutsideWindow(t *testing.T) {
	st := newMemStore()
	c := baseCampaign("c1")
	c.StartTime, c.EndTime = "10:00", "18:00"
	st.add(c, "911111111111")
	d := &markSentDeliverer{store: st}
	clk := &clock{t: time.Date(2024, 5, 1, 17, 59, 0, 0, time.UTC)}
	eng := newEngine(st, d, clk)
	ctx := context.Background()

	eng.Tick(ctx)
	eng.Shutdown()
	require.Equal(t, 1, d.count())

	// The window closes before a tick saw the empty backlog; completion
	// must not wait for it to reopen.
	clk.advance(2 * time.Minute)
	eng.Tick(ctx)
	eng.Shutdown()
	require.Equal(t, core.CampaignCompleted, st.campaign("c1").Status)
}

func TestDrainedCampaignCompletesWhenTransportDrops(t *testing.T) {
	st := newMemStore()
	st.add(baseCampaign("c1"), "911111111111")
	d := &markSentDeliverer{store: st}
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	reg := readyRegistry()
	eng := scheduler.New(st, reg, d, zerolog.Nop(), scheduler.Options{Zone: time.UTC, Now: clk.now})
	ctx := context.Background()

	eng.Tick(ctx)
	eng.Shutdown()
	require.Equal(t, 1, d.count())

	reg.SetFallback(nil)
	clk.advance(time.Second)
	eng.Tick(ctx)
	eng.Shutdown()
	require.Equal(t, core.CampaignCompleted, st.campaign("c1").Status)
}

func TestTransportNotReadyLeavesJobsPending(t *testing.T) {
	st := newMemStore()
	st.add(baseCampaign("c1"), "911111111111")
	d := &markSentDeliverer{store: st}
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}

	reg := transport.NewRegistry() // nothing registered, no fallback
	eng := scheduler.New(st, reg, d, zerolog.Nop(), scheduler.Options{Zone: time.UTC, Now: clk.now})

	for i := 0; i < 10; i++ {
		eng.Tick(context.Background())
		eng.Shutdown()
		clk.advance(time.Second)
	}
	require.Zero(t, d.count())
	pending, _, _ := st.statusCounts("c1")
	require.Equal(t, 1, pending)
}
