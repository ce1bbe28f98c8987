package state

import (
	"context"
	"sync"
)

// Registry tracks the in-flight computation for each case so a newer request
// supersedes an older one. It never stores results.
type Registry struct {
	mu sync.Mutex

	inflight map[string]*Ticket
	next     uint64
}

// Ticket is one request's claim on a case
type Ticket struct {
	CaseID     string
	Generation uint64

	registry *Registry
	cancel   context.CancelFunc
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{inflight: make(map[string]*Ticket)}
}

// Begin cancels whatever is running for caseID and returns a context for the
// new computation along with its ticket. Callers must call Done.
func (r *Registry) Begin(parent context.Context, caseID string) (context.Context, *Ticket) {
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.inflight[caseID]; ok {
		prev.cancel()
	}
	r.next++
	t := &Ticket{
		CaseID:     caseID,
		Generation: r.next,
		registry:   r,
		cancel:     cancel,
	}
	r.inflight[caseID] = t
	return ctx, t
}

// Current reports whether t is still the newest request for its case
func (t *Ticket) Current() bool {
	r := t.registry
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight[t.CaseID] == t
}

// Done releases the ticket. Only the newest ticket clears the case entry.
func (t *Ticket) Done() {
	r := t.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	t.cancel()
	if r.inflight[t.CaseID] == t {
		delete(r.inflight, t.CaseID)
	}
}

// InFlight returns the number of cases with a running computation
func (r *Registry) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}
