package transport

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Dummy simulates a channel with realistic latency and a small failure
// rate. It is the default wiring until a real client is registered.
type Dummy struct {
	Latency time.Duration
	FailPct int // 0..100
}

func NewDummy() *Dummy {
	return &Dummy{Latency: 50 * time.Millisecond, FailPct: 3}
}

func (d *Dummy) IsReady(ctx context.Context, tenant string) bool { return true }

func (d *Dummy) Send(ctx context.Context, tenant string, msg Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.Latency):
	}
	if d.FailPct > 0 && rand.IntN(100) < d.FailPct {
		return errors.New("recipient not reachable")
	}
	return nil
}
