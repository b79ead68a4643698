// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/accountd/pkg/errutil"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisSink_PublishesOnTopic(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	event := testEvent(t)

	sub := client.Subscribe(ctx, event.Topic)
	defer func() { _ = sub.Close() }()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, NewRedisSink(client).Deliver(ctx, event))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, event.Topic, msg.Channel)
		assert.Contains(t, msg.Payload, event.Notification.ID.String())
	case <-time.After(time.Second):
		t.Fatal("no message published")
	}
}

func TestBridge_RebroadcastsPublishedEvents(t *testing.T) {
	_, client := newRedis(t)
	bc := NewBroadcaster(nil)
	event := testEvent(t)
	ch := bc.Subscribe(event.Topic)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	errc := make(chan error, 1)
	go func() { errc <- NewBridge(client, bc, nil).Run(ctx, ready) }()

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("bridge did not subscribe")
	}

	require.NoError(t, NewRedisSink(client).Deliver(context.Background(), event))

	select {
	case got := <-ch:
		assert.Equal(t, event.Notification.ID, got.Notification.ID)
		assert.Equal(t, event.Notification.Title, got.Notification.Title)
	case <-time.After(time.Second):
		t.Fatal("event not rebroadcast")
	}

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bridge did not stop")
	}
}

func TestBridge_IgnoresMalformedPayload(t *testing.T) {
	_, client := newRedis(t)
	bc := NewBroadcaster(nil)
	ch := bc.Subscribe("user-bad")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	go func() { _ = NewBridge(client, bc, nil).Run(ctx, ready) }()
	<-ready

	require.NoError(t, client.Publish(context.Background(), "user-bad", "{not json").Err())

	select {
	case <-ch:
		t.Fatal("malformed payload was broadcast")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBridge_SubscribeFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = NewBridge(client, NewBroadcaster(nil), nil).Run(ctx, nil)
	errutil.AssertErrorCode(t, err, "NOTIFY_SUBSCRIBE_FAILED")
}
