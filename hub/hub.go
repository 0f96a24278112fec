// Package hub fans delivered events out to live observers. It keeps the
// active session's full delivery log and gives each observer its own read
// cursor, so a late joiner first replays the backlog in delivery order and
// then continues live, with no gaps and no duplicates.
package hub

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/traceplay/replayd/domain"
)

// ErrDetached is returned by Next after the observer has been detached.
var ErrDetached = errors.New("observer detached")

// Observer is one attached consumer of the delivery log.
type Observer struct {
	ID     string
	hub    *Hub
	cursor int
	closed bool
}

// Hub manages the delivery log and all attached observers.
type Hub struct {
	mu        sync.Mutex
	cond      *sync.Cond
	sessionID string
	events    []domain.DeliveredEvent
	observers map[string]*Observer
}

// New creates a new Hub.
func New() *Hub {
	h := &Hub{observers: make(map[string]*Observer)}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Reset clears the delivery log for a new session. Attached observers stay
// attached; their cursors rewind so they replay the new session from its
// first event.
func (h *Hub) Reset(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessionID = sessionID
	h.events = h.events[:0]
	for _, o := range h.observers {
		o.cursor = 0
	}
	h.cond.Broadcast()
}

// Publish appends one delivered event to the log and wakes waiting
// observers. The log is never trimmed while the session is active: losing an
// event would break the recorded timeline, so the hub buffers without bound
// instead of dropping.
func (h *Hub) Publish(ev domain.DeliveredEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	h.cond.Broadcast()
}

// Attach registers a new observer. Its cursor starts at the head of the log,
// so everything already delivered for the active session is replayed before
// any live event.
func (h *Hub) Attach() *Observer {
	h.mu.Lock()
	defer h.mu.Unlock()
	o := &Observer{ID: uuid.New().String(), hub: h}
	h.observers[o.ID] = o
	log.Printf("Observer attached: %s (backlog: %d)", o.ID, len(h.events))
	return o
}

// Detach removes the observer. Delivery to remaining observers and the
// scheduler's own progress are unaffected.
func (h *Hub) Detach(o *Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	delete(h.observers, o.ID)
	h.cond.Broadcast()
	log.Printf("Observer detached: %s", o.ID)
}

// Next blocks until an event is available at the observer's cursor, the
// observer is detached, or ctx is cancelled. Events come back exactly once,
// in delivery order.
func (o *Observer) Next(ctx context.Context) (domain.DeliveredEvent, error) {
	h := o.hub

	// Wake the cond wait when the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		h.mu.Lock()
		h.cond.Broadcast()
		h.mu.Unlock()
	})
	defer stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		if o.closed {
			return domain.DeliveredEvent{}, ErrDetached
		}
		if err := ctx.Err(); err != nil {
			return domain.DeliveredEvent{}, err
		}
		if o.cursor < len(h.events) {
			ev := h.events[o.cursor]
			o.cursor++
			return ev, nil
		}
		h.cond.Wait()
	}
}

// SessionID returns the session the log belongs to.
func (h *Hub) SessionID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessionID
}

// ObserverCount returns the number of attached observers.
func (h *Hub) ObserverCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// LogLen returns the number of events delivered for the active session.
func (h *Hub) LogLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}
