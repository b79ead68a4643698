// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/auth"
	"github.com/holomush/accountd/pkg/errutil"
)

// Defaults for EmitterConfig.
const (
	DefaultBufferSize      = 256
	DefaultDeliveryTimeout = 5 * time.Second
)

// DropRecorder counts events that never reached the sinks.
type DropRecorder interface {
	NotificationDropped()
}

// EmitterConfig configures an Emitter.
type EmitterConfig struct {
	Repo            auth.NotificationRepository
	Sinks           []Sink
	BufferSize      int
	DeliveryTimeout time.Duration
	Logger          *slog.Logger
	Recorder        DropRecorder
}

// Emitter stores notifications synchronously and delivers them to sinks
// from a single background goroutine. Delivery never blocks or fails the
// caller: a full queue drops the event.
type Emitter struct {
	repo      auth.NotificationRepository
	sinks     []Sink
	timeout   time.Duration
	logger    *slog.Logger
	recorder  DropRecorder
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closeOnce sync.Once

	// mu orders enqueue against Close so no event lands in the queue after
	// the worker has drained it.
	mu     sync.RWMutex
	closed bool
}

var _ auth.Notifier = (*Emitter)(nil)

// NewEmitter creates an Emitter and starts its delivery goroutine. Call
// Close to drain and stop it.
func NewEmitter(cfg EmitterConfig) (*Emitter, error) {
	if cfg.Repo == nil {
		return nil, oops.Code("NOTIFY_INVALID_CONFIG").Errorf("notification repository is required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	e := &Emitter{
		repo:     cfg.Repo,
		sinks:    cfg.Sinks,
		timeout:  cfg.DeliveryTimeout,
		logger:   cfg.Logger.With("component", "notify"),
		recorder: cfg.Recorder,
		ch:       make(chan Event, cfg.BufferSize),
		done:     make(chan struct{}),
	}

	e.wg.Add(1)
	go e.run()

	return e, nil
}

// Notify stores a notification for userID and queues it for delivery.
// A storage error is returned; delivery problems are only logged.
func (e *Emitter) Notify(ctx context.Context, userID ulid.ULID, title, message string) (*auth.Notification, error) {
	n, err := auth.NewNotification(userID, title, message)
	if err != nil {
		return nil, err
	}
	if err := e.repo.Create(ctx, n); err != nil {
		return nil, oops.With("operation", "store notification").Wrap(err)
	}

	e.enqueue(NewEvent(n))
	return n, nil
}

func (e *Emitter) enqueue(event Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.drop(event, "emitter closed")
		return
	}
	select {
	case e.ch <- event:
	default:
		e.drop(event, "queue full")
	}
}

func (e *Emitter) drop(event Event, reason string) {
	e.dropped.Add(1)
	if e.recorder != nil {
		e.recorder.NotificationDropped()
	}
	e.logger.Warn("notification not delivered",
		"reason", reason,
		"topic", event.Topic,
		"notification_id", event.Notification.ID.String())
}

func (e *Emitter) run() {
	defer e.wg.Done()

	for {
		select {
		case event := <-e.ch:
			e.deliver(event)
		case <-e.done:
			for {
				select {
				case event := <-e.ch:
					e.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (e *Emitter) deliver(event Event) {
	for _, sink := range e.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		err := sink.Deliver(ctx, event)
		cancel()
		if err != nil {
			errutil.LogError(e.logger, "notification delivery failed", err,
				"sink", sink.Name(),
				"topic", event.Topic)
		}
	}
}

// Close stops accepting events and waits for queued ones to be delivered,
// or for ctx to end.
func (e *Emitter) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		close(e.done)
		e.mu.Unlock()
	})

	drained := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return oops.Code("NOTIFY_DRAIN_TIMEOUT").
			With("queued", len(e.ch)).
			Wrap(ctx.Err())
	}
}

// Dropped returns how many events were not queued for delivery.
func (e *Emitter) Dropped() uint64 {
	return e.dropped.Load()
}
