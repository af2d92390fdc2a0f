package deliver_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sanskar85/whatsapp-api/internal/core"
	"github.com/sanskar85/whatsapp-api/internal/deliver"
	"github.com/sanskar85/whatsapp-api/internal/transport"
)

type outcomeStore struct {
	mu       sync.Mutex
	sent     []string
	failed   map[string]string
	released []string
}

func newOutcomeStore() *outcomeStore {
	return &outcomeStore{failed: make(map[string]string)}
}

func (s *outcomeStore) MarkSent(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, jobID)
	return nil
}

func (s *outcomeStore) MarkFailed(ctx context.Context, jobID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[jobID] = reason
	return nil
}

func (s *outcomeStore) ReleaseJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, jobID)
	return nil
}

type scriptedTransport struct {
	ready bool
	err   error
	last  transport.Message
}

func (t *scriptedTransport) IsReady(ctx context.Context, tenant string) bool { return t.ready }

func (t *scriptedTransport) Send(ctx context.Context, tenant string, msg transport.Message) error {
	t.last = msg
	return t.err
}

func newWorker(s deliver.Store, tr transport.Transport) *deliver.Worker {
	reg := transport.NewRegistry()
	reg.SetFallback(tr)
	return &deliver.Worker{
		Store:       s,
		Registry:    reg,
		SendTimeout: time.Second,
		Log:         zerolog.Nop(),
	}
}

func job(id string) core.Job {
	return core.Job{ID: id, CampaignID: "c1", Recipient: "919900112233",
		Variables: map[string]string{"name": "Asha"}}
}

func campaign() core.Campaign {
	return core.Campaign{ID: "c1", OwnerID: "tenant-1",
		Message:      "hi {{name}}, meet {{other}}",
		Attachments:  []string{"att-1"},
		ContactCards: []string{"card-1"},
	}
}

func TestDeliverSent(t *testing.T) {
	s := newOutcomeStore()
	tr := &scriptedTransport{ready: true}
	w := newWorker(s, tr)

	w.Deliver(context.Background(), campaign(), job("j1"))

	require.Equal(t, []string{"j1"}, s.sent)
	require.Empty(t, s.failed)
	require.Equal(t, "hi Asha, meet ", tr.last.Body, "missing variables render empty")
	require.Equal(t, []string{"att-1"}, tr.last.Attachments)
	require.Equal(t, []string{"card-1"}, tr.last.ContactCards)
}

func TestDeliverFailedKeepsReasonVerbatim(t *testing.T) {
	s := newOutcomeStore()
	w := newWorker(s, &scriptedTransport{ready: true, err: errors.New("recipient not on whatsapp")})

	w.Deliver(context.Background(), campaign(), job("j1"))

	require.Empty(t, s.sent)
	require.Equal(t, "recipient not on whatsapp", s.failed["j1"])
}

func TestDeliverNotReadyReleases(t *testing.T) {
	s := newOutcomeStore()
	w := newWorker(s, &scriptedTransport{err: transport.ErrNotReady})

	w.Deliver(context.Background(), campaign(), job("j1"))

	require.Empty(t, s.sent)
	require.Empty(t, s.failed)
	require.Equal(t, []string{"j1"}, s.released)
}

func TestDeliverNoTransportReleases(t *testing.T) {
	s := newOutcomeStore()
	w := &deliver.Worker{Store: s, Registry: transport.NewRegistry(), Log: zerolog.Nop()}

	w.Deliver(context.Background(), campaign(), job("j1"))

	require.Equal(t, []string{"j1"}, s.released)
}

func TestRender(t *testing.T) {
	vars := map[string]string{"name": "Ravi", "city": "Delhi"}
	require.Equal(t, "Ravi from Delhi", deliver.Render("{{name}} from {{city}}", vars))
	require.Equal(t, "plain", deliver.Render("plain", vars))
	require.Equal(t, "hello ", deliver.Render("hello {{missing}}", vars))
	require.Equal(t, "a  b", deliver.Render("a {{x}} b", nil))
}
