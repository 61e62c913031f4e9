package backend

import (
	"context"
	"errors"

	"github.com/agentgate/agentgate/types"
)

// ErrStreamDone is returned by EventStream.Next after the terminal result
// event has been delivered.
var ErrStreamDone = errors.New("event stream done")

// EventKind discriminates backend events.
type EventKind string

const (
	EventText       EventKind = "text"
	EventThinking   EventKind = "thinking"
	EventToolUse    EventKind = "tool_use"
	EventToolResult EventKind = "tool_result"
	EventResult     EventKind = "result"
)

// Event is one unit of backend output. Text and Thinking carry incremental
// content; ToolUse/ToolResult carry tool activity markers; Result is the
// terminal event and carries final usage and stop reason.
type Event struct {
	Kind     EventKind
	Text     string
	Thinking string

	// Tool activity (Kind == EventToolUse / EventToolResult)
	ToolID    string
	ToolName  string
	ToolInput map[string]any
	ToolOut   string

	// Terminal result (Kind == EventResult)
	Usage      types.Usage
	StopReason types.StopReason
	IsError    bool
	ErrMessage string
}

// EventStream is a pull-based, finite-until-terminal event sequence. Next
// blocks until an event is available, the stream fails, or ctx is done.
// After the Result event, Next returns ErrStreamDone.
type EventStream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Handle is one stateful conversation capability. A Handle is not safe for
// concurrent use; exclusivity is enforced by the session pool lease.
type Handle interface {
	// Invoke sends a conversation turn and returns the resulting event
	// stream. The stream must be drained or closed before the next Invoke.
	Invoke(ctx context.Context, conv types.Conversation, opts InvokeOptions) (EventStream, error)

	// Clear resets conversational memory. It is idempotent; failures are
	// surfaced to the caller, never swallowed.
	Clear(ctx context.Context) error

	// Close releases underlying resources. Called exactly once, at eviction.
	Close() error
}

// Factory constructs stateful handles.
type Factory interface {
	New(ctx context.Context, opts Options) (Handle, error)
}

// Options configures a new handle (one conversation capability).
type Options struct {
	Model          string
	SystemPrompt   string
	AllowedTools   []string
	MaxTurns       int
	PermissionMode string
	Workdir        string
}

// InvokeOptions tunes a single invocation on an existing handle.
type InvokeOptions struct {
	MaxTokens      int
	Temperature    *float64
	StopSequences  []string
	ThinkingBudget int
}

// CollectResult drains a stream to its terminal event, concatenating text.
// It is the non-streaming execution path; the stream is closed on return.
func CollectResult(ctx context.Context, stream EventStream) (*Result, error) {
	defer stream.Close()

	res := &Result{}
	for {
		ev, err := stream.Next(ctx)
		if errors.Is(err, ErrStreamDone) {
			return res, nil
		}
		if err != nil {
			return nil, err
		}

		switch ev.Kind {
		case EventText:
			res.Text += ev.Text
		case EventThinking:
			res.Thinking += ev.Thinking
		case EventToolUse:
			res.ToolUses = append(res.ToolUses, ToolUse{
				ID:    ev.ToolID,
				Name:  ev.ToolName,
				Input: ev.ToolInput,
			})
		case EventResult:
			res.Usage = ev.Usage
			res.StopReason = ev.StopReason
			if ev.IsError {
				return nil, types.NewError(types.ErrBackendRejected, ev.ErrMessage)
			}
		}
	}
}

// ToolUse records one tool invocation surfaced by the backend.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

// Result is the fully drained outcome of one invocation.
type Result struct {
	Text       string
	Thinking   string
	ToolUses   []ToolUse
	Usage      types.Usage
	StopReason types.StopReason
}
