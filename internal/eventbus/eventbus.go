// Package eventbus is the in-memory publish/subscribe broker behind the
// shard router's failover and migration notifications (spec.md §4.9:
// "raise an event" on failover, migration progress reporting).
package eventbus

import (
	"sync"
	"time"
)

// Type identifies the kind of shard event published.
type Type string

const (
	ShardFailed             Type = "shard.failed"
	ShardMigrating          Type = "shard.migrating"
	ShardMigrationProgress  Type = "shard.migration.progress"
	ShardMigrationCompleted Type = "shard.migration.completed"
)

// Event is one notification broadcast to every subscriber.
type Event struct {
	Type      Type
	ShardID   string
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel receiving broadcast events.
type Subscriber chan *Event

// Broker buffers published events and fans them out to subscribers
// without blocking the publisher: a full subscriber queue drops the
// event for that subscriber rather than stalling the others.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	eventCh     chan *Event
	stopCh      chan struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the broker's distribution loop.
func (b *Broker) Start() { go b.run() }

// Stop halts distribution; Publish becomes a no-op and queued events are
// discarded.
func (b *Broker) Stop() { close(b.stopCh) }

// Subscribe registers a new subscriber with its own bounded queue.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes sub.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues event for broadcast, stamping Timestamp if unset.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
