// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/auth"
	"github.com/holomush/accountd/pkg/errutil"
)

type profileKey struct{}

// ProfileFrom returns the profile the bearer gate stored on ctx.
func ProfileFrom(ctx context.Context) (*auth.Profile, bool) {
	p, found := ctx.Value(profileKey{}).(*auth.Profile)
	return p, found
}

// WithProfile returns a copy of ctx carrying p.
func WithProfile(ctx context.Context, p *auth.Profile) context.Context {
	return context.WithValue(ctx, profileKey{}, p)
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireSession admits requests carrying a valid session token.
func (a *API) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			fail(w, http.StatusUnauthorized, MsgUnauthorized)
			return
		}
		profile, err := a.accounts.Authenticate(r.Context(), token)
		if err != nil {
			if errutil.Code(err) == auth.CodeInvalidToken {
				a.logger.DebugContext(r.Context(), "session rejected",
					"request_id", middleware.GetReqID(r.Context()),
					"error", err)
				fail(w, http.StatusUnauthorized, MsgUnauthorized)
				return
			}
			a.respondError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithProfile(r.Context(), profile)))
	})
}

// observe logs each request and records it in the HTTP metrics.
func (a *API) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		if a.recorder != nil {
			a.recorder.RecordHTTPRequest(route, r.Method, status, elapsed)
		}

		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		a.logger.LogAttrs(r.Context(), level, "http request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", elapsed))
	})
}

// routePattern returns the matched chi pattern, or "unmatched" so unknown
// paths do not explode metric cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// recoverer turns a handler panic into a reported 500 envelope.
func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler { //nolint:errorlint // sentinel compared as panic value
				panic(rvr)
			}
			err := oops.Code("HTTP_PANIC").
				With("method", r.Method).
				With("path", r.URL.Path).
				Errorf("panic: %v", rvr)
			a.logError(r, "handler panicked", err)
			fail(w, http.StatusInternalServerError, MsgInternal)
		}()
		next.ServeHTTP(w, r)
	})
}

// logError logs err with request attributes and reports it to telemetry.
func (a *API) logError(r *http.Request, msg string, err error) {
	reqID := middleware.GetReqID(r.Context())
	route := routePattern(r)
	errutil.LogError(a.logger, msg, err, "request_id", reqID, "route", route)
	a.reporter.Report(r.Context(), err, map[string]string{
		"request_id": reqID,
		"route":      route,
	})
}

// newCORS builds the CORS middleware. Origins may be glob patterns such as
// "https://*.example.com"; an empty list allows any origin.
func newCORS(origins []string) (func(http.Handler) http.Handler, error) {
	opts := cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}
	if len(origins) == 0 {
		opts.AllowedOrigins = []string{"*"}
		return cors.Handler(opts), nil
	}

	patterns := make([]glob.Glob, 0, len(origins))
	for _, origin := range origins {
		g, err := glob.Compile(origin)
		if err != nil {
			return nil, oops.Code("CONFIG_INVALID").
				With("origin", origin).
				Wrapf(err, "invalid CORS origin pattern")
		}
		patterns = append(patterns, g)
	}
	opts.AllowOriginFunc = func(_ *http.Request, origin string) bool {
		for _, g := range patterns {
			if g.Match(origin) {
				return true
			}
		}
		return false
	}
	return cors.Handler(opts), nil
}

// rateLimit limits a route per client address. Without a limiter it is a
// no-op; limiter failures let the request through.
func (a *API) rateLimit(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if a.limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := name + ":" + clientAddr(r)
			d, err := a.limiter.Allow(r.Context(), key)
			if err != nil {
				a.logger.WarnContext(r.Context(), "rate limiter unavailable, allowing request",
					"request_id", middleware.GetReqID(r.Context()),
					"route", name,
					"error", err)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", fmt.Sprint(d.Limit))
			h.Set("X-RateLimit-Remaining", fmt.Sprint(d.Remaining))
			if !d.Allowed {
				h.Set("Retry-After", fmt.Sprint(retryAfterSeconds(d.RetryAfter)))
				fail(w, http.StatusTooManyRequests, MsgRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
