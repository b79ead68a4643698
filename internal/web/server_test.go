// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/accountd/internal/notify"
	"github.com/holomush/accountd/pkg/errutil"
)

func newTestServer(t *testing.T, streams Subscriber) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	api, err := NewAPI(Config{
		Accounts: &fakeAccounts{authenticate: validSession},
		Streams:  streams,
		Logger:   logger,
	})
	require.NoError(t, err)
	return NewServer("127.0.0.1:0", api, logger)
}

func stopServer(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestServer_StartServesAPI(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Empty(t, s.Addr())

	errCh, err := s.Start()
	require.NoError(t, err)
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var env Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, MsgHello, env.Message)

	stopServer(t, s)
	_, open := <-errCh
	assert.False(t, open, "error channel closes on clean stop")
}

func TestServer_DoubleStart(t *testing.T) {
	s := newTestServer(t, nil)
	_, err := s.Start()
	require.NoError(t, err)
	t.Cleanup(func() { stopServer(t, s) })

	_, err = s.Start()
	errutil.AssertErrorCode(t, err, "WEB_ALREADY_RUNNING")
}

func TestServer_ListenFailure(t *testing.T) {
	s := newTestServer(t, nil)
	_, err := s.Start()
	require.NoError(t, err)
	t.Cleanup(func() { stopServer(t, s) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clash := NewServer(s.Addr(), s.api, logger)
	_, err = clash.Start()
	errutil.AssertErrorCode(t, err, "WEB_LISTEN_FAILED")
}

func TestServer_StopIsIdempotent(t *testing.T) {
	s := newTestServer(t, nil)
	require.NoError(t, s.Stop(context.Background()))

	_, err := s.Start()
	require.NoError(t, err)
	stopServer(t, s)
	stopServer(t, s)
}

func TestServer_StopEndsOpenStreams(t *testing.T) {
	s := newTestServer(t, notify.NewBroadcaster(nil))
	_, err := s.Start()
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "http://"+s.Addr()+"/api/v1/notifications/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer good")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	start := time.Now()
	stopServer(t, s)
	assert.Less(t, time.Since(start), 2*time.Second)
}
