package clog

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type chiConfig struct {
	skip func(r *http.Request) bool
}

type ChiOption func(*chiConfig)

// WithChiSkip suppresses the access log line for requests skip returns true
// for. Attributes are still attached to the request context.
func WithChiSkip(skip func(r *http.Request) bool) ChiOption {
	return func(cfg *chiConfig) {
		cfg.skip = skip
	}
}

// SlogChiMiddleware logs one line per request with the matched route
// pattern, so /api/worker/tasks/T1/claim and .../T2/claim group together.
// The task id, if the route has one, is logged separately.
func SlogChiMiddleware(opts ...ChiOption) func(http.Handler) http.Handler {
	cfg := chiConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ctx := ContextWithSlog(r.Context())
			AddAttributes(ctx, map[string]any{
				"method":        r.Method,
				"path":          r.URL.Path,
				"authenticated": strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "),
			})

			next.ServeHTTP(ww, r.WithContext(ctx))

			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					AddAttribute(ctx, "route", pattern)
				}
				if id := rctx.URLParam("id"); id != "" {
					AddAttribute(ctx, "task_id", id)
				}
			}
			if cfg.skip != nil && cfg.skip(r) {
				return
			}
			AddAttributes(ctx, map[string]any{
				"status":        ww.Status(),
				"bytes_written": ww.BytesWritten(),
				"duration":      time.Since(start),
			})
			Log(ctx, HTTPStatusToLevel(ww.Status()), http.StatusText(ww.Status()))
		})
	}
}
