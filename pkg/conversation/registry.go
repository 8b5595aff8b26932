package conversation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Registry tracks live orchestrators and sweeps out the idle ones. One entry
// per client connection.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Orchestrator
	count    atomic.Int64
	draining atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Orchestrator)}
}

// Register adds an orchestrator. Returns false while draining.
func (r *Registry) Register(o *Orchestrator) bool {
	if r.draining.Load() {
		return false
	}
	r.mu.Lock()
	r.sessions[o.SessionID()] = o
	r.mu.Unlock()
	r.count.Add(1)
	return true
}

func (r *Registry) Get(sessionID string) (*Orchestrator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.sessions[sessionID]
	return o, ok
}

// Remove drops an orchestrator without stopping it; callers stop first.
// Removing an absent session is a no-op.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	_, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if ok {
		r.count.Add(-1)
	}
}

func (r *Registry) Count() int64 { return r.count.Load() }

// SweepIdle expires every session idle past the timeout and removes it.
// Returns how many were swept.
func (r *Registry) SweepIdle(ctx context.Context, timeout time.Duration) int {
	r.mu.RLock()
	idle := make([]*Orchestrator, 0)
	for _, o := range r.sessions {
		if o.IdleFor(timeout) {
			idle = append(idle, o)
		}
	}
	r.mu.RUnlock()

	for _, o := range idle {
		_ = o.Expire(ctx)
		r.Remove(o.SessionID())
	}
	return len(idle)
}

// RunSweeper sweeps on the interval until the context ends.
func (r *Registry) RunSweeper(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepIdle(ctx, timeout)
		}
	}
}

// Drain refuses new sessions and stops the existing ones.
func (r *Registry) Drain(ctx context.Context) {
	r.draining.Store(true)
	r.mu.Lock()
	all := make([]*Orchestrator, 0, len(r.sessions))
	for _, o := range r.sessions {
		all = append(all, o)
	}
	r.mu.Unlock()

	for _, o := range all {
		_ = o.Stop(ctx)
		r.Remove(o.SessionID())
	}
}
