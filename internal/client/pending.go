package client

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// newRequestID generates correlation IDs. Swappable in tests.
var newRequestID = func() string {
	return uuid.NewString()
}

// PendingTable maps in-flight request IDs to the logical request kind needed
// to route the eventual response. Exactly one entry exists per in-flight
// request; the table is cleared wholesale when the connection drops, and
// abandoned requests get no implicit retry.
type PendingTable struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewPendingTable returns an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[string]string)}
}

// Add records an in-flight request under a fresh correlation ID and returns
// the ID. The kind is normalized to lower case for dispatch.
func (t *PendingTable) Add(kind string) string {
	id := newRequestID()
	t.mu.Lock()
	t.entries[id] = strings.ToLower(kind)
	t.mu.Unlock()
	return id
}

// Take removes and returns the kind recorded for the given request ID.
func (t *PendingTable) Take(requestID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kind, ok := t.entries[requestID]
	if ok {
		delete(t.entries, requestID)
	}
	return kind, ok
}

// Remove drops a specific entry, e.g. after a failed transmit.
func (t *PendingTable) Remove(requestID string) {
	t.mu.Lock()
	delete(t.entries, requestID)
	t.mu.Unlock()
}

// Clear abandons all in-flight requests.
func (t *PendingTable) Clear() {
	t.mu.Lock()
	t.entries = make(map[string]string)
	t.mu.Unlock()
}

// Len returns the number of in-flight requests.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
