// ABOUTME: In-memory fan-out of gateway dispatch payloads and shard lifecycle changes.
// ABOUTME: Exposes the ordered, lazy event sequence consumed by the application.

package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Kind distinguishes dispatch payloads from lifecycle notifications.
type Kind int

const (
	KindDispatch Kind = iota
	KindLifecycle
)

// Phase is a shard's lifecycle position as seen by consumers.
type Phase string

const (
	PhaseConnected    Phase = "connected"
	PhaseReconnecting Phase = "reconnecting"
	PhaseDisconnected Phase = "disconnected"
)

// Event is one unit delivered to subscribers: either a decoded dispatch
// payload or a lifecycle notification, always tagged with its shard.
type Event struct {
	Shard int
	Kind  Kind

	// Dispatch fields.
	Type     string
	Sequence int64
	Data     json.RawMessage

	// Lifecycle fields.
	Phase  Phase
	Reason string
}

// subscriber pairs a delivery channel with an optional dispatch-type filter.
type subscriber struct {
	ch     chan *Event
	filter map[string]bool // nil means everything
}

// Broadcaster fans events out to all subscribers. Within one shard, events
// are published (and therefore delivered per subscriber) in receive order.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]*subscriber),
		logger:      logger.With("component", "events"),
	}
}

// Subscribe registers a subscriber. With no types given it receives every
// event; otherwise only lifecycle notifications and dispatches of the named
// types. Returns the delivery channel and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx is
// cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, types ...string) (<-chan *Event, string) {
	subID := uuid.New().String()

	var filter map[string]bool
	if len(types) > 0 {
		filter = make(map[string]bool, len(types))
		for _, t := range types {
			filter[t] = true
		}
	}

	sub := &subscriber{
		ch:     make(chan *Event, subscriberBufferSize),
		filter: filter,
	}

	b.mu.Lock()
	b.subscribers[subID] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID, "types", types)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return sub.ch, subID
}

// Publish delivers an event to every matching subscriber. Non-blocking:
// events are dropped for subscribers whose channels are full, so a slow
// consumer can never stall a session loop.
func (b *Broadcaster) Publish(event *Event) {
	b.mu.RLock()
	targets := make([]chan *Event, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if event.Kind == KindDispatch && sub.filter != nil && !sub.filter[event.Type] {
			continue
		}
		targets = append(targets, sub.ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"shard", event.Shard,
				"type", event.Type,
			)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[subID]
	if !ok {
		return
	}

	delete(b.subscribers, subID)
	close(sub.ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, subID)
	}

	b.logger.Debug("broadcaster closed")
}
