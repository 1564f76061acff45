// Package chat contains the realtime chat gateway: the event-channel
// contract, the streaming turn state machine, and per-connection
// cancellation.
package chat

import (
	"sync"
	"sync/atomic"
)

// Flag is a per-stream cancellation handle.
//
// The handle is owned by the streaming turn that polls it; the Registry is
// only the lookup table the transport layer uses to hand a cancel request to
// the right handle. A later stream on the same connection gets a fresh
// handle, so cancelling it can never affect an earlier, abandoned turn.
type Flag struct {
	v atomic.Bool
}

// Cancel marks the flag (idempotent).
func (f *Flag) Cancel() {
	if f == nil {
		return
	}
	f.v.Store(true)
}

// Cancelled reports whether Cancel was called. Safe to poll per fragment.
func (f *Flag) Cancelled() bool {
	return f != nil && f.v.Load()
}

// Registry maps connection identity to that connection's in-flight stream
// cancellation handle. Entries live only for the duration of a stream, so
// memory is bounded by the number of live streaming connections.
type Registry struct {
	mu    sync.Mutex
	flags map[string]*Flag
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{flags: make(map[string]*Flag)}
}

// Reset installs and returns a fresh (unset) handle for the connection,
// replacing any previous one. Called once per stream start.
func (r *Registry) Reset(connID string) *Flag {
	f := &Flag{}

	r.mu.Lock()
	r.flags[connID] = f
	r.mu.Unlock()

	return f
}

// Cancel marks the connection's current handle, if any. Idempotent; a cancel
// with no stream in flight is a no-op.
func (r *Registry) Cancel(connID string) {
	r.mu.Lock()
	f := r.flags[connID]
	r.mu.Unlock()

	f.Cancel()
}

// IsCancelled reports the state of the connection's current handle.
func (r *Registry) IsCancelled(connID string) bool {
	r.mu.Lock()
	f := r.flags[connID]
	r.mu.Unlock()

	return f.Cancelled()
}

// Clear removes the connection's entry. Called on stream end (any terminal
// state) and on connection teardown. Clearing an absent entry is a no-op.
func (r *Registry) Clear(connID string) {
	r.mu.Lock()
	delete(r.flags, connID)
	r.mu.Unlock()
}
