// Package events provides the in-memory fan-out bus behind the SSE and
// WebSocket event streams.
package events

import (
	"log/slog"
	"sync"

	"github.com/healthpulse/pulse-jobs/internal/core"
)

// subscription is a single subscriber channel with its filter.
type subscription struct {
	ch     chan *core.Event
	filter func(*core.Event) bool
}

// Broker implements core.EventPublisher and core.EventSubscriber with
// in-memory fan-out. Slow subscribers lose events rather than block
// publishers.
type Broker struct {
	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	closed bool
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[*subscription]struct{}),
	}
}

// Publish delivers event to every matching subscriber. Full subscriber
// channels drop the event with a warning.
func (b *Broker) Publish(event *core.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}
	for sub := range b.subs {
		if sub.filter == nil || sub.filter(event) {
			select {
			case sub.ch <- event:
			default:
				slog.Warn("dropping event, subscriber channel full",
					"event", event.Type, "job", event.JobName)
			}
		}
	}
	return nil
}

// SubscribeAll subscribes to every event.
func (b *Broker) SubscribeAll() (<-chan *core.Event, func(), error) {
	return b.subscribe(nil)
}

// SubscribeJob subscribes to events for one job.
func (b *Broker) SubscribeJob(jobName string) (<-chan *core.Event, func(), error) {
	return b.subscribe(func(e *core.Event) bool {
		return e.JobName == jobName
	})
}

// SubscribeType subscribes to events of one type.
func (b *Broker) SubscribeType(eventType string) (<-chan *core.Event, func(), error) {
	return b.subscribe(func(e *core.Event) bool {
		return e.Type == eventType
	})
}

func (b *Broker) subscribe(filter func(*core.Event) bool) (<-chan *core.Event, func(), error) {
	ch := make(chan *core.Event, 64)
	sub := &subscription{ch: ch, filter: filter}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			removed := false
			if _, ok := b.subs[sub]; ok {
				delete(b.subs, sub)
				removed = true
			}
			b.mu.Unlock()
			if removed {
				close(ch)
			}
		})
	}

	return ch, unsubscribe, nil
}

// Close removes and closes every subscription. Later publishes are dropped.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = make(map[*subscription]struct{})
	return nil
}
