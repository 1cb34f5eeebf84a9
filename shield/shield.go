// Package shield provides reusable HTTP security middleware for the GachaHub
// API. It consolidates security headers, rate limiting, body limits, request
// tracing, and HEAD method handling into a single importable package.
//
// Usage:
//
//	r := chi.NewRouter()
//	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
//	r.Use(shield.MaxJSONBody(64 * 1024))
//	r.Use(shield.TraceID)
//	r.Use(shield.NewRateLimiter(db).Middleware)
//	r.Use(shield.HeadToGet)
//
// Or apply the default stack in one call:
//
//	stack, rl := shield.DefaultAPIStack(db)
//	rl.StartReloader(done)
//	for _, mw := range stack {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
)

type contextKey string

const (
	// LoggerKey is the context key for the per-request structured logger.
	LoggerKey contextKey = "shield_logger"

	// TraceIDKey is the context key for the per-request trace ID.
	TraceIDKey contextKey = "shield_trace_id"
)

// GetTraceID retrieves the trace ID from the request context.
// Returns "" if no trace ID was set.
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// DefaultAPIStack returns the standard middleware stack for the GachaHub API.
// Middleware is ordered: HeadToGet → SecurityHeaders → MaxJSONBody → TraceID → RateLimiter.
// The returned RateLimiter handle allows callers to start the rule reloader.
// Health checks (/healthz) and /metrics bypass rate limiting.
func DefaultAPIStack(db *sql.DB) ([]func(http.Handler) http.Handler, *RateLimiter) {
	rl := NewRateLimiter(db, "/healthz", "/metrics")
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxJSONBody(64 * 1024),
		TraceID,
		rl.Middleware,
	}, rl
}
