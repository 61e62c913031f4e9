// Package ctxkeys carries per-request values through context without
// leaking key types to other packages.
package ctxkeys

import (
	"context"

	"github.com/agentgate/agentgate/types"
)

type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	sessionIDKey  contextKey = "session_id"
	requestCtxKey contextKey = "request_context"
)

// WithRequestID stores the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id, if present.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithSessionID stores the pooled session id serving the request.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionID returns the session id, if present.
func SessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sessionIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRequestContext stores the mutable per-call record.
func WithRequestContext(ctx context.Context, rc *types.RequestContext) context.Context {
	return context.WithValue(ctx, requestCtxKey, rc)
}

// RequestContext returns the per-call record, or nil.
func RequestContext(ctx context.Context) *types.RequestContext {
	rc, _ := ctx.Value(requestCtxKey).(*types.RequestContext)
	return rc
}
