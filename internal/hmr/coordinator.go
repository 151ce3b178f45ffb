// Package hmr implements the Hot Module Replacement Coordinator: subscribers
// join a long-lived event channel, file changes are
// batched into a PendingUpdate with a monotonic id, broadcast as a summary
// (no payloads), and consumed exactly once when the client POSTs apply.
//
// This generalizes esmdev's SSE broadcast (esmdev/hmr.go's sseEvent,
// broadcast, and the per-client channel map on esmServer) from "one
// process-wide fan-out of raw events" into a coordinator with an explicit
// pending-update ledger and an apply/ack handshake, since updates are
// queued and fetched rather than pushed with their payload.
package hmr

import (
	"sync"
)

// EventType mirrors esmdev's sseEvent.Type values, extended with the
// handshake and error events the design requires.
type EventType string

const (
	EventReady  EventType = "ready"
	EventUpdate EventType = "update"
	EventError  EventType = "error"
)

// Reason classifies why a module appears in a PendingUpdate.
type Reason string

const (
	ReasonChanged   Reason = "changed"
	ReasonDependent Reason = "dependent"
	ReasonDeleted   Reason = "deleted"
)

// ModuleUpdate is one module's entry within a PendingUpdate.
type ModuleUpdate struct {
	AbsPath         string `json:"-"`
	URL             string `json:"url"`
	ContentHash     string `json:"hash,omitempty"`
	Reason          Reason `json:"reason"`
	SupportsRefresh bool   `json:"-"`
}

// ModuleSummary is the no-payload view of a ModuleUpdate broadcast in an
// "update" event — just enough for a client to decide whether to fetch
// apply or begin a full reload immediately (e.g. on a deleted entry).
type ModuleSummary struct {
	URL    string `json:"url"`
	Reason Reason `json:"reason"`
}

// Event is sent to a subscriber's channel.
type Event struct {
	Type    EventType
	ID      uint64
	Modules []ModuleSummary
	Message string
}

// Subscriber is a single connected client's event channel.
type Subscriber struct {
	ch chan Event
}

// Events returns the subscriber's channel. The coordinator closes it on
// Unsubscribe or Close.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// PendingUpdate is a queued HMR batch awaiting exactly-once consumption
// (the PendingUpdate entity).
type PendingUpdate struct {
	ID      uint64
	Modules []ModuleUpdate
}

// Coordinator fans updates out to subscribers and tracks which updates have
// been consumed. All state is guarded by one lock; the critical section
// never performs I/O.
type Coordinator struct {
	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
	pending     map[uint64]PendingUpdate
	nextID      uint64
	closed      bool
}

// New constructs an empty Coordinator.
func New() *Coordinator {
	return &Coordinator{
		subscribers: make(map[*Subscriber]struct{}),
		pending:     make(map[uint64]PendingUpdate),
	}
}

// Subscribe registers a new subscriber and immediately sends it a ready
// event, matching esmdev's connect-then-register SSE handshake.
func (c *Coordinator) Subscribe() *Subscriber {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := &Subscriber{ch: make(chan Event, 64)}
	if c.closed {
		close(sub.ch)
		return sub
	}
	c.subscribers[sub] = struct{}{}

	select {
	case sub.ch <- Event{Type: EventReady}:
	default:
	}
	return sub
}

// Unsubscribe removes and closes a subscriber's channel. Idempotent.
func (c *Coordinator) Unsubscribe(sub *Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subscribers[sub]; !ok {
		return
	}
	delete(c.subscribers, sub)
	close(sub.ch)
}

// QueueUpdate assigns the next monotonic id to a batch of module updates,
// records it as pending, and broadcasts a no-payload summary to every
// current subscriber. Broadcasting to a slow subscriber never blocks the
// caller: a subscriber whose channel is full is dropped and its channel
// closed (its client must reconnect to catch up), matching esmdev's
// non-blocking select-default broadcast. Nothing is buffered per sink
// beyond the channel's fixed capacity.
func (c *Coordinator) QueueUpdate(modules []ModuleUpdate) PendingUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	update := PendingUpdate{ID: c.nextID, Modules: modules}
	c.pending[update.ID] = update

	summaries := make([]ModuleSummary, len(modules))
	for i, m := range modules {
		summaries[i] = ModuleSummary{URL: m.URL, Reason: m.Reason}
	}
	for sub := range c.subscribers {
		select {
		case sub.ch <- Event{Type: EventUpdate, ID: update.ID, Modules: summaries}:
		default:
			c.dropLocked(sub)
		}
	}
	return update
}

// dropLocked closes and forgets a subscriber whose channel is full, forcing
// its client to reconnect and resynchronize rather than letting Ionify
// buffer unboundedly on its behalf. Caller must hold c.mu.
func (c *Coordinator) dropLocked(sub *Subscriber) {
	delete(c.subscribers, sub)
	close(sub.ch)
}

// Consume marks a pending update as applied, removing it so a retried
// consume is a no-op. Returns ok=false if the id is unknown or already
// consumed.
func (c *Coordinator) Consume(id uint64) (PendingUpdate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.pending[id]
	if !ok {
		return PendingUpdate{}, false
	}
	delete(c.pending, id)
	return u, true
}

// BroadcastError sends a transform-failure event to every subscriber, so a
// broken save doesn't silently stall the client's HMR state. id is 0 when
// the failure isn't tied to a specific pending update.
func (c *Coordinator) BroadcastError(id uint64, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sub := range c.subscribers {
		select {
		case sub.ch <- Event{Type: EventError, ID: id, Message: message}:
		default:
			c.dropLocked(sub)
		}
	}
}

// PendingCount returns the number of updates queued but not yet consumed.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close unsubscribes and closes every subscriber's channel, clears pending
// updates, and rejects any further Subscribe calls with an already-closed
// channel.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for sub := range c.subscribers {
		close(sub.ch)
		delete(c.subscribers, sub)
	}
	c.pending = make(map[uint64]PendingUpdate)
}
