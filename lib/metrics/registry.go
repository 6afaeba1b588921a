// Package metrics tracks per-connection statistics for the tarpit and
// renders them as a Prometheus-style text snapshot on demand.
//
// The Registry is both the statistics store and the admission controller:
// its atomic live count is the single authority on how many connections
// exist, and Connect is the only way to join it. Each admitted connection
// gets a slot in a growable table whose indices are reused after
// disconnect, so memory is bounded by the high-water mark of concurrency
// rather than the lifetime connection count.
package metrics

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrInvalidToken is returned when a token names a slot that was never allocated.
	ErrInvalidToken = errors.New("metrics: invalid token")
	// ErrAlreadyDisconnected is returned when a token names a slot that has been cleared.
	ErrAlreadyDisconnected = errors.New("metrics: already disconnected")
)

// RejectedError reports a connection turned away by admission control.
type RejectedError struct {
	// Count is the live count the failed attempt observed, for logging.
	Count int
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("metrics: connection rejected at %d clients", e.Count)
}

// Token is an opaque handle naming one live connection's slot. It is valid
// only between the Connect that issued it and the matching Disconnect;
// afterwards any use fails with ErrAlreadyDisconnected.
type Token struct {
	uid int
}

// client is one live connection's mutable state, owned by its table slot
// and mutated only under the registry's table lock.
type client struct {
	start          time.Time
	sentChunks     uint64
	sentEasterEggs uint64
	sentBanners    uint64
}

// Registry is the process-wide connection accounting state. It is created
// once at startup and shared by the listener and every session; all
// methods are safe for concurrent use.
type Registry struct {
	startup time.Time

	// mu guards clients. nil entries are free slots; the table only grows.
	mu      sync.Mutex
	clients []*client

	// formerMu guards former, the permanent aggregate over disconnected
	// clients. Disconnect is its only writer.
	formerMu sync.Mutex
	former   aggregate

	connectionsCount atomic.Int64
	connectionsTotal atomic.Int64
}

// NewRegistry creates a registry whose uptime is measured from startup.
func NewRegistry(startup time.Time) *Registry {
	return &Registry{
		startup: startup,
		former:  newAggregate(),
	}
}

// Connections returns a lock-free approximation of the live connection
// count, suitable for logging. Authoritative accounting goes through
// Connect and Disconnect.
func (r *Registry) Connections() int {
	return int(r.connectionsCount.Load())
}

// Connect admits a new connection and allocates its slot, reusing the
// first free index before growing the table. maxClients <= 0 means
// unbounded. On success it returns the slot token and the live count
// including this connection.
//
// The total counter counts attempts: it is bumped before the admission
// check, so rejected connections are included. The live counter is bumped
// optimistically and reverted when over the limit; the table lock is
// never taken on the reject path. Two attempts racing near the limit each
// observe their own incremented value, so the cap is a best-effort
// ceiling rather than a serialized guarantee.
func (r *Registry) Connect(maxClients int, now time.Time) (Token, int, error) {
	r.connectionsTotal.Add(1)
	connected := int(r.connectionsCount.Add(1))
	if maxClients > 0 && connected > maxClients {
		r.connectionsCount.Add(-1)
		return Token{}, connected, &RejectedError{Count: connected}
	}

	c := &client{start: now}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, slot := range r.clients {
		if slot == nil {
			r.clients[i] = c
			return Token{uid: i}, connected, nil
		}
	}
	r.clients = append(r.clients, c)
	return Token{uid: len(r.clients) - 1}, connected, nil
}

// Disconnect retires a connection: its duration and per-client counters
// are folded into the former aggregate, its slot is cleared for reuse and
// the live count drops. It returns the new live count and the connection
// duration in whole seconds.
//
// ErrInvalidToken and ErrAlreadyDisconnected indicate a logic fault
// (corrupted handle or double disconnect); neither mutates any state.
func (r *Registry) Disconnect(token Token, now time.Time) (int, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if token.uid < 0 || token.uid >= len(r.clients) {
		return 0, 0, ErrInvalidToken
	}
	c := r.clients[token.uid]
	if c == nil {
		return 0, 0, ErrAlreadyDisconnected
	}

	seconds := elapsedSeconds(c.start, now)

	r.formerMu.Lock()
	r.former.observe(seconds, c.sentChunks, c.sentEasterEggs, c.sentBanners)
	r.formerMu.Unlock()

	r.clients[token.uid] = nil
	connected := int(r.connectionsCount.Add(-1))
	return connected, seconds, nil
}

// inClient runs action on the occupied slot named by token, under the
// table lock.
func (r *Registry) inClient(token Token, action func(*client)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if token.uid < 0 || token.uid >= len(r.clients) {
		return ErrInvalidToken
	}
	c := r.clients[token.uid]
	if c == nil {
		return ErrAlreadyDisconnected
	}
	action(c)
	return nil
}

// SentChunk records one banner chunk written to the connection.
func (r *Registry) SentChunk(token Token) error {
	return r.inClient(token, func(c *client) { c.sentChunks++ })
}

// SentEasterEgg records one easter-egg payload written to the connection.
func (r *Registry) SentEasterEgg(token Token) error {
	return r.inClient(token, func(c *client) { c.sentEasterEggs++ })
}

// SentBanner records one complete banner pass over the connection.
func (r *Registry) SentBanner(token Token) error {
	return r.inClient(token, func(c *client) { c.sentBanners++ })
}

// elapsedSeconds is the whole-second distance from start to now, clamped
// at zero for a clock that went backwards.
func elapsedSeconds(start, now time.Time) uint64 {
	if !now.After(start) {
		return 0
	}
	return uint64(now.Sub(start) / time.Second)
}
