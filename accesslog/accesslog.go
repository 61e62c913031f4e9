package accesslog

import (
	"context"
	"time"

	"github.com/agentgate/agentgate/types"
)

// Entry is one access log row. The schema keeps request correlation,
// token usage, and how the response ended.
type Entry struct {
	ID               uint      `gorm:"primaryKey"`
	RequestID        string    `gorm:"size:64;index"`
	SessionID        string    `gorm:"size:64"`
	Timestamp        time.Time `gorm:"index"`
	Method           string    `gorm:"size:10"`
	Path             string    `gorm:"size:512;index"`
	Model            string    `gorm:"size:128;index"`
	ClientIP         string    `gorm:"size:45"`
	UserAgent        string    `gorm:"size:512"`
	StatusCode       int
	DurationMS       float64
	InputTokens      int
	OutputTokens     int
	Stream           bool
	Error            string `gorm:"size:1024"`
	DisconnectReason string `gorm:"size:64"`
}

// TableName implements gorm's table naming.
func (Entry) TableName() string { return "access_logs" }

// FromRequestContext builds an entry from a completed request. The context
// is consumed exactly once, when the request finishes.
func FromRequestContext(rc *types.RequestContext, statusCode int, clientIP, userAgent string) Entry {
	in, out := rc.Tokens()
	return Entry{
		RequestID:        rc.RequestID,
		SessionID:        rc.SessionID(),
		Timestamp:        rc.StartTime,
		Method:           rc.Method,
		Path:             rc.Path,
		Model:            rc.Model(),
		ClientIP:         clientIP,
		UserAgent:        userAgent,
		StatusCode:       statusCode,
		DurationMS:       float64(rc.Duration()) / float64(time.Millisecond),
		InputTokens:      in,
		OutputTokens:     out,
		Stream:           rc.Stream(),
		Error:            rc.Err(),
		DisconnectReason: string(rc.Disconnect()),
	}
}

// Sink consumes access log entries. Record must not block the request path.
type Sink interface {
	Record(ctx context.Context, e Entry)
	Close(ctx context.Context) error
}

// NopSink discards entries; used when access logging is disabled.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(context.Context, Entry) {}

// Close implements Sink.
func (NopSink) Close(context.Context) error { return nil }
