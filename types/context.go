package types

import (
	"sync"
	"time"
)

// DisconnectReason records how a streaming response ended.
type DisconnectReason string

const (
	DisconnectNone   DisconnectReason = ""
	DisconnectClient DisconnectReason = "client_disconnect"
)

// RequestContext carries per-call correlation metadata through the pool,
// the streaming bridge, and batch entry execution. It is created once per
// inbound call, mutated while the call runs, and consumed exactly once by
// the access log sink when the call completes.
//
// Token counters and error fields are updated from the goroutine pumping
// the backend stream while the HTTP handler may still be reading them, so
// all mutable fields are guarded.
type RequestContext struct {
	RequestID string
	Path      string
	Method    string
	StartTime time.Time

	mu        sync.Mutex
	sessionID string
	model     string
	stream    bool
	tokensIn  int
	tokensOut int
	errMsg    string
	reason    DisconnectReason
}

// NewRequestContext creates a context for one inbound call.
func NewRequestContext(requestID, method, path string) *RequestContext {
	return &RequestContext{
		RequestID: requestID,
		Method:    method,
		Path:      path,
		StartTime: time.Now(),
	}
}

// Duration returns elapsed time since the request started.
func (c *RequestContext) Duration() time.Duration {
	return time.Since(c.StartTime)
}

// SetSessionID records the pooled session serving this request.
func (c *RequestContext) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// SessionID returns the session id, if any.
func (c *RequestContext) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SetModel records the model requested.
func (c *RequestContext) SetModel(model string) {
	c.mu.Lock()
	c.model = model
	c.mu.Unlock()
}

// Model returns the model requested.
func (c *RequestContext) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// SetStream marks the request as streaming.
func (c *RequestContext) SetStream(stream bool) {
	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()
}

// Stream reports whether the request is streaming.
func (c *RequestContext) Stream() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

// AddTokens accumulates token usage.
func (c *RequestContext) AddTokens(in, out int) {
	c.mu.Lock()
	c.tokensIn += in
	c.tokensOut += out
	c.mu.Unlock()
}

// SetOutputTokens overwrites the output count with an authoritative value,
// replacing any running estimate.
func (c *RequestContext) SetOutputTokens(out int) {
	c.mu.Lock()
	c.tokensOut = out
	c.mu.Unlock()
}

// Tokens returns the accumulated input and output token counts.
func (c *RequestContext) Tokens() (in, out int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokensIn, c.tokensOut
}

// SetError records the request error.
func (c *RequestContext) SetError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.errMsg = err.Error()
	c.mu.Unlock()
}

// Err returns the recorded error message, empty when the request succeeded.
func (c *RequestContext) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

// SetDisconnectReason records why the client stopped consuming.
func (c *RequestContext) SetDisconnectReason(r DisconnectReason) {
	c.mu.Lock()
	c.reason = r
	c.mu.Unlock()
}

// DisconnectReason returns the recorded disconnect reason.
func (c *RequestContext) Disconnect() DisconnectReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}
