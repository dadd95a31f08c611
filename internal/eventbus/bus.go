package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"zmcptools/internal/logging"
)

// Fields carries the subset of an event's payload that subscriptions can
// filter on (spec §4.2): repository_path, agent_id, orchestration_id, and
// room_name. Emit callers supply these explicitly rather than the bus
// reflecting over arbitrary payload shapes.
type Fields struct {
	RepositoryPath  string
	AgentID         string
	OrchestrationID string
	RoomName        string
}

// Filter selects which events a subscription receives. An empty field
// matches any value; a non-empty field requires equality.
type Filter struct {
	RepositoryPath  string
	AgentID         string
	OrchestrationID string
	RoomName        string
}

func (f Filter) matches(fields Fields) bool {
	if f.RepositoryPath != "" && f.RepositoryPath != fields.RepositoryPath {
		return false
	}
	if f.AgentID != "" && f.AgentID != fields.AgentID {
		return false
	}
	if f.OrchestrationID != "" && f.OrchestrationID != fields.OrchestrationID {
		return false
	}
	if f.RoomName != "" && f.RoomName != fields.RoomName {
		return false
	}
	return true
}

// Event is a single envelope delivered to a subscriber.
type Event struct {
	Kind      Kind
	Payload   interface{}
	Fields    Fields
	Timestamp time.Time
}

// Handler processes a delivered event. A handler must not block on
// long-running work (spec §9 design notes) - it should post to its own
// task queue and return.
type Handler func(Event)

const (
	defaultSubscriberQueueDepth = 256
	defaultRingSize             = 1024
)

type subscription struct {
	id      uint64
	kind    Kind
	filter  Filter
	handler Handler
	queue   chan Event
	done    chan struct{}
}

// Bus is the process-wide typed publish/subscribe event bus.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	byKind        map[Kind][]uint64
	nextID        uint64
	ring          *ring
	closed        atomic.Bool
	wg            sync.WaitGroup
}

// New constructs a fresh Bus. Tests substitute a fresh bus per case (spec §9);
// the bus is never a package-level singleton.
func New() *Bus {
	return &Bus{
		subscriptions: make(map[uint64]*subscription),
		byKind:        make(map[Kind][]uint64),
		ring:          newRing(defaultRingSize),
	}
}

// Subscribe registers handler for events of the given kind matching filter.
// Returns an opaque subscription id usable with Unsubscribe.
func (b *Bus) Subscribe(kind Kind, handler Handler, filter Filter) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return 0
	}

	b.nextID++
	id := b.nextID
	sub := &subscription{
		id:      id,
		kind:    kind,
		filter:  filter,
		handler: handler,
		queue:   make(chan Event, defaultSubscriberQueueDepth),
		done:    make(chan struct{}),
	}
	b.subscriptions[id] = sub
	b.byKind[kind] = append(b.byKind[kind], id)

	b.wg.Add(1)
	go b.runSubscriber(sub)

	logging.BusDebug("subscribed id=%d kind=%s", id, kind)
	return id
}

func (b *Bus) runSubscriber(sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case ev, ok := <-sub.queue:
			if !ok {
				return
			}
			b.dispatch(sub, ev)
		case <-sub.done:
			// Drain any already-queued events before exiting so Unsubscribe
			// does not silently drop in-flight deliveries.
			for {
				select {
				case ev, ok := <-sub.queue:
					if !ok {
						return
					}
					b.dispatch(sub, ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(sub *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryEventBus).Error(
				"handler panic: subscription=%d kind=%s panic=%v", sub.id, ev.Kind, r)
		}
	}()
	sub.handler(ev)
}

// Unsubscribe removes a subscription. Safe to call more than once.
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	sub, ok := b.subscriptions[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subscriptions, id)
	ids := b.byKind[sub.kind]
	for i, v := range ids {
		if v == id {
			b.byKind[sub.kind] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	close(sub.done)
}

// Emit delivers an event to every matching live subscription. Delivery is
// at-most-once per live subscription, fire-and-forget from the caller's
// perspective, and ordered per event kind for any single subscriber (spec
// §4.2, §5). A full subscriber queue drops the event for that subscriber
// and logs a warning rather than blocking the emitter.
func (b *Bus) Emit(kind Kind, payload interface{}, fields Fields) {
	ev := Event{Kind: kind, Payload: payload, Fields: fields, Timestamp: time.Now()}

	b.ring.push(kind, ev)

	b.mu.RLock()
	ids := append([]uint64(nil), b.byKind[kind]...)
	subs := make([]*subscription, 0, len(ids))
	for _, id := range ids {
		if sub, ok := b.subscriptions[id]; ok {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.filter.matches(fields) {
			continue
		}
		select {
		case sub.queue <- ev:
		default:
			logging.Get(logging.CategoryEventBus).Warn(
				"dropping event for slow subscriber: subscription=%d kind=%s", sub.id, kind)
		}
	}
}

// History returns up to limit of the most recent events of the given kind,
// oldest first. Not part of the delivery contract - for debugging only.
func (b *Bus) History(kind Kind, limit int) []Event {
	return b.ring.recent(kind, limit)
}

// Shutdown stops accepting new subscriptions and waits (bounded by ctx) for
// in-flight handler goroutines to drain, matching spec §5's "drain pending
// handlers for up to 5 seconds before exit" graceful-shutdown requirement.
func (b *Bus) Shutdown(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.subscriptions = make(map[uint64]*subscription)
	b.byKind = make(map[Kind][]uint64)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.queue)
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("eventbus shutdown: %w", ctx.Err())
	}
}
