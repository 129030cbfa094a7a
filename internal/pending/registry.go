// Package pending tracks logical API calls between dispatch and their
// terminal outcome.
package pending

import (
	"sync"
	"time"

	apperrors "cadbridge/internal/errors"
)

// Handle identifies one registration. Handles are never reused.
type Handle uint64

// Call is the bookkeeping record of one logical call. The registry owns it
// from Register until Resolve; Owner holds the continuation state the caller
// attached and is handed back on resolution.
type Call struct {
	ID            string
	Operation     string
	Method        string
	URL           string
	RedirectCount int
	StartedAt     time.Time
	Owner         any
}

// Snapshot is a read-only view of an in-flight call.
type Snapshot struct {
	Handle        Handle    `json:"handle"`
	ID            string    `json:"id"`
	Operation     string    `json:"operation"`
	URL           string    `json:"url"`
	RedirectCount int       `json:"redirect_count"`
	StartedAt     time.Time `json:"started_at"`
}

// Registry keeps every in-flight call reachable until it is resolved. Every
// Register must be matched by exactly one Resolve.
type Registry struct {
	mu    sync.Mutex
	next  Handle
	calls map[Handle]*Call
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{calls: make(map[Handle]*Call)}
}

// Register stores call and returns its handle.
func (r *Registry) Register(call *Call) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.calls[r.next] = call
	return r.next
}

// Resolve removes the call behind h and returns it. Resolving an unknown or
// already resolved handle is a contract violation.
func (r *Registry) Resolve(h Handle) (*Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[h]
	if !ok {
		return nil, apperrors.ContractViolation("resolve of unregistered pending call handle %d", h)
	}
	delete(r.calls, h)
	return call, nil
}

// Len reports the number of in-flight registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Snapshot lists the in-flight calls.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.calls))
	for h, c := range r.calls {
		out = append(out, Snapshot{
			Handle:        h,
			ID:            c.ID,
			Operation:     c.Operation,
			URL:           c.URL,
			RedirectCount: c.RedirectCount,
			StartedAt:     c.StartedAt,
		})
	}
	return out
}
