// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package web serves the account HTTP API.
//
// Every response is a JSON envelope {status, message, data}. Errors are
// mapped from their oops code to a status and a fixed public message; the
// underlying error text never reaches the client.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/auth"
	"github.com/holomush/accountd/internal/notify"
	"github.com/holomush/accountd/internal/telemetry"
)

// Defaults for Config.
const (
	DefaultRequestTimeout  = 30 * time.Second
	DefaultStreamHeartbeat = 25 * time.Second
)

// APIPrefix is where the account routes are mounted.
const APIPrefix = "/api/v1"

// Accounts is the account service behind the API.
type Accounts interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.Profile, error)
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	Authenticate(ctx context.Context, token string) (*auth.Profile, error)
	ForgotPassword(ctx context.Context, email, resetLink string) error
	ResetPassword(ctx context.Context, in auth.ResetPasswordInput) (*auth.Profile, error)
	ListUsers(ctx context.Context, search string) ([]auth.Profile, error)
	ListNotifications(ctx context.Context, userID ulid.ULID) ([]*auth.Notification, error)
}

var _ Accounts = (*auth.Service)(nil)

// Subscriber hands out per-topic notification channels.
type Subscriber interface {
	Subscribe(topic string) chan notify.Event
	Unsubscribe(topic string, ch chan notify.Event)
}

var _ Subscriber = (*notify.Broadcaster)(nil)

// HTTPRecorder records finished requests.
type HTTPRecorder interface {
	RecordHTTPRequest(route, method string, status int, elapsed time.Duration)
}

// Config configures the API handler.
type Config struct {
	Accounts Accounts
	// Streams enables GET /notifications/stream when set.
	Streams Subscriber
	// Limiter enables rate limiting of the credential routes when set.
	Limiter  Limiter
	Recorder HTTPRecorder
	Reporter telemetry.Reporter
	Logger   *slog.Logger

	// PublicURL is the base of reset links; the request's host is used
	// when empty.
	PublicURL string
	// CORSOrigins lists allowed origins, glob patterns included. Empty
	// allows any origin.
	CORSOrigins []string
	// TrustedProxies lists the peers, as CIDR prefixes or addresses, whose
	// forwarding headers name the client. Headers from anyone else are
	// ignored.
	TrustedProxies  []string
	RequestTimeout  time.Duration
	StreamHeartbeat time.Duration
}

// API is the http.Handler for the account service.
type API struct {
	router    chi.Router
	accounts  Accounts
	streams   Subscriber
	limiter   Limiter
	recorder  HTTPRecorder
	reporter  telemetry.Reporter
	logger    *slog.Logger
	publicURL string
	heartbeat time.Duration

	trustedProxies []netip.Prefix

	closing   chan struct{}
	closeOnce sync.Once
}

// NewAPI builds the router.
func NewAPI(cfg Config) (*API, error) {
	if cfg.Accounts == nil {
		return nil, oops.Code("WEB_INVALID_CONFIG").Errorf("accounts service is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = telemetry.Nop{}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.StreamHeartbeat <= 0 {
		cfg.StreamHeartbeat = DefaultStreamHeartbeat
	}
	corsHandler, err := newCORS(cfg.CORSOrigins)
	if err != nil {
		return nil, err
	}
	trusted, err := ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	a := &API{
		accounts:  cfg.Accounts,
		streams:   cfg.Streams,
		limiter:   cfg.Limiter,
		recorder:  cfg.Recorder,
		reporter:  cfg.Reporter,
		logger:    cfg.Logger.With("component", "web"),
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		heartbeat: cfg.StreamHeartbeat,
		closing:   make(chan struct{}),

		trustedProxies: trusted,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.realIP)
	r.Use(a.observe)
	r.Use(a.recoverer)
	r.Use(corsHandler)

	r.NotFound(a.notFound)
	r.MethodNotAllowed(a.notFound)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		ok(w, http.StatusOK, MsgHello, nil)
	})

	r.Route(APIPrefix, func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))

			r.Get("/users", a.listUsers)
			r.Post("/auth/register", a.register)
			r.With(a.rateLimit("login")).Post("/auth/login", a.login)
			r.With(a.requireSession).Get("/auth/authenticate", a.authenticate)
			r.With(a.rateLimit("forget-pass")).Post("/forget-pass", a.forgotPassword)
			r.With(a.rateLimit("reset-pass")).Post("/reset-pass", a.resetPassword)
			r.With(a.requireSession).Get("/notifications", a.listNotifications)
		})

		// Streams are long-lived, so they sit outside the request timeout.
		if a.streams != nil {
			r.With(a.requireSession).Get("/notifications/stream", a.stream)
		}
	})

	a.router = r
	return a, nil
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// CloseStreams ends open notification streams so a graceful shutdown does
// not wait on them.
func (a *API) CloseStreams() {
	a.closeOnce.Do(func() { close(a.closing) })
}

func (a *API) notFound(w http.ResponseWriter, r *http.Request) {
	fail(w, http.StatusNotFound, "are you lost? "+r.Method+" "+r.URL.RequestURI()+" is not registered!")
}

// respondError writes the public form of err. Server-side failures are
// logged and reported.
func (a *API) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classify(err)
	if status >= http.StatusInternalServerError {
		a.logError(r, "request failed", err)
	} else {
		a.logger.DebugContext(r.Context(), "request refused",
			"request_id", middleware.GetReqID(r.Context()),
			"status", status,
			"error", err)
	}
	fail(w, status, message)
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.accounts.ListUsers(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	ok(w, http.StatusOK, MsgSuccess, users)
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	f, err := readForm(w, r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	profile, err := a.accounts.Register(r.Context(), auth.RegisterInput{
		Name:     f.get("name"),
		Email:    f.get("email"),
		Password: f.get("password"),
	})
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	ok(w, http.StatusCreated, MsgRegistered, profile)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	f, err := readForm(w, r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	session, err := a.accounts.Login(r.Context(), f.get("email"), f.get("password"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	ok(w, http.StatusCreated, MsgSuccess, session)
}

func (a *API) authenticate(w http.ResponseWriter, r *http.Request) {
	profile, _ := ProfileFrom(r.Context())
	ok(w, http.StatusOK, MsgAuthenticated, profile)
}

func (a *API) forgotPassword(w http.ResponseWriter, r *http.Request) {
	f, err := readForm(w, r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if err := a.accounts.ForgotPassword(r.Context(), f.get("email"), a.resetLink(r)); err != nil {
		a.respondError(w, r, err)
		return
	}
	ok(w, http.StatusOK, MsgForgotSent, nil)
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	f, err := readForm(w, r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	profile, err := a.accounts.ResetPassword(r.Context(), auth.ResetPasswordInput{
		Token:                r.URL.Query().Get("token"),
		Password:             f.get("password"),
		PasswordConfirmation: f.get("passwordConfirmation"),
	})
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	ok(w, http.StatusOK, MsgPasswordUpdated, profile)
}

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request) {
	profile, _ := ProfileFrom(r.Context())
	list, err := a.accounts.ListNotifications(r.Context(), profile.ID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	ok(w, http.StatusOK, MsgSuccess, list)
}

// resetLink returns the absolute URL of the reset endpoint.
func (a *API) resetLink(r *http.Request) string {
	base := a.publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + APIPrefix + "/reset-pass"
}
