package metrics

import (
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// API
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Count of HTTP requests."},
		[]string{"handler", "method", "code"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms..~10s
		},
		[]string{"handler", "method"},
	)
	CampaignSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "campaign_submissions_total", Help: "Campaign submission results."},
		[]string{"result"}, // ok | invalid | already_exists | resolution_failed | error
	)

	// Scheduler
	TickTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "scheduler_tick_total", Help: "Scheduler ticks executed."},
	)
	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_tick_duration_seconds",
			Help:    "Wall time of one scheduler tick.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)
	ClaimTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "scheduler_claim_total", Help: "Job claim attempts."},
		[]string{"result"}, // ok | empty | skipped_window | skipped_delay | not_ready | error
	)
	CampaignsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "scheduler_campaigns_completed_total", Help: "Campaigns transitioned to completed."},
	)
	StaleRecovered = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "scheduler_stale_jobs_recovered_total", Help: "In-flight jobs reverted to pending at startup recovery."},
	)

	// Delivery
	InFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "delivery_inflight", Help: "Deliveries running in this process."},
	)
	SendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "delivery_send_total", Help: "Send outcomes."},
		[]string{"outcome"}, // sent | failed | released
	)
	SendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_send_duration_seconds",
			Help:    "Transport send latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms..~40s
		},
	)
)

var registerOnce sync.Once

// MustRegister registers default and engine collectors. Safe to call from
// both the API server and the scheduler wiring in the same process.
func MustRegister() {
	registerOnce.Do(func() {
		// The default registry already holds the Go and process collectors
		// (registered by client_golang's init), so only the app collectors
		// are added here; re-adding the defaults panics as duplicates.
		prometheus.MustRegister(
			HTTPRequests, HTTPDuration, CampaignSubmissions,
			TickTotal, TickDuration, ClaimTotal, CampaignsCompleted, StaleRecovered,
			InFlight, SendTotal, SendDuration,
		)
	})
}

// PGXPoolStats periodically exports pgx pool gauges.
type PGXPoolStats struct {
	pool *pgxpool.Pool

	conns          prometheus.Gauge
	idle           prometheus.Gauge
	acquireCount   prometheus.Counter
	acquireLatency prometheus.Counter
}

func NewPGXPoolStats(pool *pgxpool.Pool) *PGXPoolStats {
	m := &PGXPoolStats{
		pool: pool,
		conns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_conns", Help: "Total connections in pool.",
		}),
		idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_idle_conns", Help: "Idle connections in pool.",
		}),
		acquireCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "db_pool_acquires_total", Help: "Total pool acquires.",
		}),
		acquireLatency: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "db_pool_acquire_seconds_total", Help: "Sum of acquire latencies.",
		}),
	}
	prometheus.MustRegister(m.conns, m.idle, m.acquireCount, m.acquireLatency)
	return m
}

func (m *PGXPoolStats) Start(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	for {
		select {
		case <-stop:
			t.Stop()
			return
		case <-t.C:
			s := m.pool.Stat()
			m.conns.Set(float64(s.TotalConns()))
			m.idle.Set(float64(s.IdleConns()))
			m.acquireCount.Add(float64(s.AcquireCount()))
			m.acquireLatency.Add(s.AcquireDuration().Seconds())
		}
	}
}
