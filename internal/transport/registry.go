package transport

import (
	"context"
	"sync"
)

// Registry maps tenant ids to their transport. A fallback transport, when
// set, serves tenants without an explicit registration.
type Registry struct {
	mu       sync.RWMutex
	byTenant map[string]Transport
	fallback Transport
}

func NewRegistry() *Registry {
	return &Registry{byTenant: make(map[string]Transport)}
}

func (r *Registry) Register(tenant string, t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTenant[tenant] = t
}

func (r *Registry) Deregister(tenant string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byTenant, tenant)
}

func (r *Registry) SetFallback(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = t
}

func (r *Registry) Get(tenant string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.byTenant[tenant]; ok {
		return t, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// Size returns the number of explicitly registered tenants.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTenant)
}

// Ready reports whether the tenant has a transport and it is ready.
func (r *Registry) Ready(ctx context.Context, tenant string) bool {
	t, ok := r.Get(tenant)
	return ok && t.IsReady(ctx, tenant)
}
