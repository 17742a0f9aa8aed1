// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Values are set by middleware and consumed by services. Keeping this package
// free of net/http lets services import only what they need. The caller
// identity accessors replace any notion of an ambient "current user": every
// component that needs to know who is calling reads it from the context it
// was handed.
//
// Usage in services (read values):
//
//	callerID := requestcontext.CallerID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in middleware (set values):
//
//	ctx = requestcontext.WithCallerID(ctx, id)
//	ctx = requestcontext.WithRequestID(ctx, requestID)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"
)

// Context key types (unexported for encapsulation).
type (
	callerIDKey    struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need context.WithValue directly.
var (
	ContextKeyCallerID    = callerIDKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// CallerID retrieves the authenticated caller's subject from the context.
// Returns "" if not set.
func CallerID(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyCallerID).(string); ok {
		return v
	}
	return ""
}

// WithCallerID injects the authenticated caller's subject into the context.
func WithCallerID(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, ContextKeyCallerID, callerID)
}

// RequestID retrieves the request correlation ID from the context.
// Returns "" if not set.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// WithRequestID injects a request correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now returns the request time from the context, falling back to the wall
// clock. Services read time through here so tests can pin it.
func Now(ctx context.Context) time.Time {
	if v, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return v
	}
	return time.Now()
}

// WithTime injects a fixed time into the context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
