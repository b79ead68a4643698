// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/holomush/accountd/internal/notify"
)

// stream sends the caller's notifications as server-sent events until the
// client goes away or the API shuts down.
func (a *API) stream(w http.ResponseWriter, r *http.Request) {
	profile, _ := ProfileFrom(r.Context())
	rc := http.NewResponseController(w)

	topic := notify.Topic(profile.ID)
	events := a.streams.Subscribe(topic)
	defer a.streams.Unsubscribe(topic, events)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		a.logger.WarnContext(r.Context(), "streaming unsupported by response writer",
			"request_id", middleware.GetReqID(r.Context()),
			"error", err)
		return
	}

	heartbeat := time.NewTicker(a.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-a.closing:
			return
		case event, open := <-events:
			if !open {
				return
			}
			if err := writeEvent(w, event); err != nil {
				a.logger.DebugContext(r.Context(), "stream write failed", "topic", topic, "error", err)
				return
			}
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w io.Writer, event notify.Event) error {
	data, err := json.Marshal(event.Notification)
	if err != nil {
		return err //nolint:wrapcheck // logged by the caller
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: notification\ndata: %s\n\n", event.Notification.ID, data)
	return err //nolint:wrapcheck // logged by the caller
}
