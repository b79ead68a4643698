// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"log/slog"
	"sync"
)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 100

// Broadcaster distributes events to in-process subscribers by topic.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string][]chan Event
	logger *slog.Logger
}

var _ Sink = (*Broadcaster)(nil)

// NewBroadcaster creates a new broadcaster. A nil logger uses slog.Default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:   make(map[string][]chan Event),
		logger: logger.With("component", "notify"),
	}
}

// Subscribe creates a channel for receiving events on a topic.
func (b *Broadcaster) Subscribe(topic string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// Unsubscribe removes a channel from a topic and closes it.
func (b *Broadcaster) Unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, sub := range subs {
		if sub == ch {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
			close(ch)
			return
		}
	}
}

// Subscribers returns the number of subscribers on topic.
func (b *Broadcaster) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Broadcast sends an event to all subscribers of its topic. A subscriber
// whose buffer is full misses the event.
func (b *Broadcaster) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[event.Topic] {
		select {
		case ch <- event:
		default:
			b.logger.Warn("event dropped: subscriber buffer full",
				"topic", event.Topic,
				"notification_id", event.Notification.ID.String(),
			)
		}
	}
}

// Name implements Sink.
func (b *Broadcaster) Name() string { return "broadcaster" }

// Deliver implements Sink.
func (b *Broadcaster) Deliver(_ context.Context, event Event) error {
	b.Broadcast(event)
	return nil
}
