package assets

import (
	"sync"

	"github.com/vk/assetpipe/internal/assetid"
)

// EventKind discriminates collection events.
type EventKind int

const (
	Created EventKind = iota
	Modified
	Removed
)

// Event records one change to a collection. The engine drains events once
// per frame and reacts (upload, rebuild, despawn).
type Event struct {
	Kind   EventKind
	Handle assetid.LoadHandle
}

// Assets holds the decoded values of one asset type, keyed by load handle.
type Assets[T any] struct {
	mu     sync.Mutex
	items  map[assetid.LoadHandle]T
	events []Event
}

// NewAssets creates an empty collection.
func NewAssets[T any]() *Assets[T] {
	return &Assets[T]{items: make(map[assetid.LoadHandle]T)}
}

// Set stores a value and records a Created or Modified event.
func (a *Assets[T]) Set(h assetid.LoadHandle, value T) {
	a.mu.Lock()
	defer a.mu.Unlock()
	kind := Created
	if _, ok := a.items[h]; ok {
		kind = Modified
	}
	a.items[h] = value
	a.events = append(a.events, Event{Kind: kind, Handle: h})
}

// Get returns the value behind a handle.
func (a *Assets[T]) Get(h Handle[T]) (T, bool) {
	return a.GetByID(h.ID())
}

// GetByID returns the value behind a raw handle id.
func (a *Assets[T]) GetByID(h assetid.LoadHandle) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	value, ok := a.items[h]
	return value, ok
}

// Remove drops a value and records a Removed event. Removing an absent
// handle is a no-op.
func (a *Assets[T]) Remove(h assetid.LoadHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.items[h]; !ok {
		return
	}
	delete(a.items, h)
	a.events = append(a.events, Event{Kind: Removed, Handle: h})
}

// Len returns the number of stored values.
func (a *Assets[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

// DrainEvents returns and clears the pending event log.
func (a *Assets[T]) DrainEvents() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	events := a.events
	a.events = nil
	return events
}
