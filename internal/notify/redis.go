// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// RedisSink publishes events on Redis channels named after their topic, so
// every instance's Bridge sees them.
type RedisSink struct {
	client redis.UniversalClient
}

var _ Sink = (*RedisSink)(nil)

// NewRedisSink creates a RedisSink.
func NewRedisSink(client redis.UniversalClient) *RedisSink {
	return &RedisSink{client: client}
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Deliver publishes event as JSON.
func (s *RedisSink) Deliver(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return oops.Code("NOTIFY_ENCODE_FAILED").With("topic", event.Topic).Wrap(err)
	}
	if err := s.client.Publish(ctx, event.Topic, payload).Err(); err != nil {
		return oops.Code("NOTIFY_PUBLISH_FAILED").With("topic", event.Topic).Wrap(err)
	}
	return nil
}

// Bridge feeds events published on Redis into a local Broadcaster.
type Bridge struct {
	client      redis.UniversalClient
	broadcaster *Broadcaster
	logger      *slog.Logger
}

// NewBridge creates a Bridge.
func NewBridge(client redis.UniversalClient, broadcaster *Broadcaster, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		client:      client,
		broadcaster: broadcaster,
		logger:      logger.With("component", "notify_bridge"),
	}
}

// Run subscribes to every user topic and rebroadcasts until ctx ends.
// ready, when non-nil, is closed once Redis confirms the subscription.
func (b *Bridge) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := b.client.PSubscribe(ctx, TopicPattern)
	defer func() {
		if err := pubsub.Close(); err != nil {
			b.logger.Debug("closing pubsub", "error", err)
		}
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		return oops.Code("NOTIFY_SUBSCRIBE_FAILED").With("pattern", TopicPattern).Wrap(err)
	}
	if ready != nil {
		close(ready)
	}

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			b.handle(msg)
		}
	}
}

func (b *Bridge) handle(msg *redis.Message) {
	if !strings.HasPrefix(msg.Channel, TopicPrefix) {
		return
	}
	var event Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil || event.Notification == nil {
		b.logger.Warn("discarding malformed event", "channel", msg.Channel, "error", err)
		return
	}
	event.Topic = msg.Channel
	b.broadcaster.Broadcast(event)
}
