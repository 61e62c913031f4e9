package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/api"
	"github.com/agentgate/agentgate/backend"
	"github.com/agentgate/agentgate/types"
)

// CompletionCause classifies how a stream ended.
type CompletionCause string

const (
	CauseSuccess            CompletionCause = "success"
	CauseError              CompletionCause = "error"
	CauseClientDisconnected CompletionCause = "client_disconnected"
)

// Completion is the terminal record of one stream. Every Run emits exactly
// one, whatever the outcome.
type Completion struct {
	RequestID    string
	Model        string
	Cause        CompletionCause
	ChunksSent   int
	BytesSent    int64
	OutputTokens int
	Duration     time.Duration
	Err          string
}

// Recorder consumes stream completions.
type Recorder interface {
	RecordStreamCompletion(c Completion)
}

// NopRecorder discards completions.
type NopRecorder struct{}

// RecordStreamCompletion implements Recorder.
func (NopRecorder) RecordStreamCompletion(Completion) {}

// errClientGone marks a failed write to the client.
var errClientGone = errors.New("client write failed")

// Bridge forwards backend events onto an SSE writer in Anthropic's
// streaming schema.
type Bridge struct {
	mode     Mode
	recorder Recorder
	logger   *zap.Logger
}

// NewBridge creates a bridge with the given default message mode.
func NewBridge(mode Mode, recorder Recorder, logger *zap.Logger) *Bridge {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Bridge{mode: mode, recorder: recorder, logger: logger.Named("stream")}
}

type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockThinking
)

// run carries the per-stream emission state.
type run struct {
	w      Writer
	mode   Mode
	reqCtx *types.RequestContext

	chunks int
	bytes  int64

	index   int
	open    blockKind
	hasText bool // text already emitted into the open text block

	estOut   int
	finalOut int
	stop     types.StopReason
}

func (r *run) send(event string, payload any) error {
	n, err := r.w.WriteEvent(event, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", errClientGone, err)
	}
	r.chunks++
	r.bytes += int64(n)
	return nil
}

func (r *run) closeBlock() error {
	if r.open == blockNone {
		return nil
	}
	if err := r.send(EventContentBlockStop, ContentBlockStopEvent{Type: EventContentBlockStop, Index: r.index}); err != nil {
		return err
	}
	r.index++
	r.open = blockNone
	r.hasText = false
	return nil
}

func (r *run) ensureBlock(kind blockKind, start api.ContentBlock) error {
	if r.open == kind {
		return nil
	}
	if err := r.closeBlock(); err != nil {
		return err
	}
	if err := r.send(EventContentBlockStart, ContentBlockStartEvent{
		Type:         EventContentBlockStart,
		Index:        r.index,
		ContentBlock: start,
	}); err != nil {
		return err
	}
	r.open = kind
	return nil
}

func (r *run) textDelta(text string) error {
	if text == "" {
		return nil
	}
	if err := r.ensureBlock(blockText, api.TextBlock("")); err != nil {
		return err
	}
	if err := r.send(EventContentBlockDelta, ContentBlockDeltaEvent{
		Type:  EventContentBlockDelta,
		Index: r.index,
		Delta: Delta{Type: "text_delta", Text: text},
	}); err != nil {
		return err
	}
	r.hasText = true
	r.addEstimate(len(text) / 4)
	return nil
}

// addEstimate grows the running output estimate until the backend reports
// authoritative usage.
func (r *run) addEstimate(n int) {
	if r.finalOut > 0 || n <= 0 {
		return
	}
	r.estOut += n
	r.reqCtx.AddTokens(0, n)
}

func (r *run) outputTokens() int {
	if r.finalOut > 0 {
		return r.finalOut
	}
	return r.estOut
}

// Run pumps events until the terminal result, emitting the SSE sequence
// message_start, content blocks, message_delta, message_stop. The stream is
// closed on return and exactly one completion is recorded.
func (b *Bridge) Run(ctx context.Context, events backend.EventStream, w Writer, msgID, model string, reqCtx *types.RequestContext) error {
	defer events.Close()
	start := time.Now()

	r := &run{w: w, mode: b.mode, reqCtx: reqCtx, stop: types.StopEndTurn}
	err := b.pump(ctx, events, r, msgID, model)

	cause := CauseSuccess
	switch {
	case err == nil:
	case errors.Is(err, errClientGone) || types.IsCanceled(err):
		cause = CauseClientDisconnected
		reqCtx.SetDisconnectReason(types.DisconnectClient)
	default:
		cause = CauseError
		reqCtx.SetError(err)
		// Best effort; the client may already be gone.
		_, respErr := api.ErrorResponseFor(err)
		_ = r.send(EventError, ErrorEvent{Type: EventError, Error: respErr.Error})
	}

	c := Completion{
		RequestID:    reqCtx.RequestID,
		Model:        model,
		Cause:        cause,
		ChunksSent:   r.chunks,
		BytesSent:    r.bytes,
		OutputTokens: r.outputTokens(),
		Duration:     time.Since(start),
	}
	if err != nil {
		c.Err = err.Error()
	}
	b.recorder.RecordStreamCompletion(c)

	fields := []zap.Field{
		zap.String("request_id", c.RequestID),
		zap.String("model", c.Model),
		zap.String("cause", string(c.Cause)),
		zap.Int("chunks_sent", c.ChunksSent),
		zap.Int64("bytes_sent", c.BytesSent),
		zap.Duration("duration", c.Duration),
	}
	switch cause {
	case CauseSuccess:
		b.logger.Info("stream completed", fields...)
	case CauseClientDisconnected:
		b.logger.Warn("stream abandoned by client", fields...)
	default:
		b.logger.Error("stream failed", append(fields, zap.Error(err))...)
	}
	return err
}

func (b *Bridge) pump(ctx context.Context, events backend.EventStream, r *run, msgID, model string) error {
	envelope := api.NewMessagesResponse(model)
	envelope.ID = msgID
	if err := r.send(EventMessageStart, MessageStartEvent{Type: EventMessageStart, Message: envelope}); err != nil {
		return err
	}
	if err := r.send(EventPing, PingEvent{Type: EventPing}); err != nil {
		return err
	}

	for {
		ev, err := events.Next(ctx)
		if errors.Is(err, backend.ErrStreamDone) {
			break
		}
		if err != nil {
			return err
		}

		switch ev.Kind {
		case backend.EventText:
			if err := r.textDelta(ev.Text); err != nil {
				return err
			}

		case backend.EventThinking:
			if ev.Thinking == "" {
				continue
			}
			if err := r.ensureBlock(blockThinking, api.ContentBlock{Type: "thinking"}); err != nil {
				return err
			}
			if err := r.send(EventContentBlockDelta, ContentBlockDeltaEvent{
				Type:  EventContentBlockDelta,
				Index: r.index,
				Delta: Delta{Type: "thinking_delta", Thinking: ev.Thinking},
			}); err != nil {
				return err
			}
			r.addEstimate(len(ev.Thinking) / 4)

		case backend.EventToolUse:
			if err := b.emitToolUse(r, ev); err != nil {
				return err
			}

		case backend.EventToolResult:
			if r.mode != ModeFormatted {
				continue
			}
			if err := r.textDelta(sep(r) + formatToolResultAsXML(ev.ToolOut)); err != nil {
				return err
			}

		case backend.EventResult:
			if ev.Usage.OutputTokens > 0 {
				r.finalOut = ev.Usage.OutputTokens
				r.reqCtx.SetOutputTokens(ev.Usage.OutputTokens)
			}
			if ev.Usage.InputTokens > 0 {
				r.reqCtx.AddTokens(ev.Usage.InputTokens, 0)
			}
			if ev.StopReason != "" {
				r.stop = ev.StopReason
			}
			if ev.IsError {
				return types.NewError(types.ErrBackendRejected, ev.ErrMessage)
			}
		}
	}

	if err := r.closeBlock(); err != nil {
		return err
	}
	if err := r.send(EventMessageDelta, MessageDeltaEvent{
		Type:  EventMessageDelta,
		Delta: MessageDelta{StopReason: r.stop},
		Usage: MessageDeltaUsage{OutputTokens: r.outputTokens()},
	}); err != nil {
		return err
	}
	return r.send(EventMessageStop, MessageStopEvent{Type: EventMessageStop})
}

func (b *Bridge) emitToolUse(r *run, ev backend.Event) error {
	switch r.mode {
	case ModeIgnore:
		return nil

	case ModeFormatted:
		return r.textDelta(sep(r) + formatToolUseAsXML(ev.ToolName, ev.ToolInput))

	default: // ModeForward
		if err := r.closeBlock(); err != nil {
			return err
		}
		if err := r.send(EventContentBlockStart, ContentBlockStartEvent{
			Type:  EventContentBlockStart,
			Index: r.index,
			ContentBlock: api.ContentBlock{
				Type:  "tool_use",
				ID:    ev.ToolID,
				Name:  ev.ToolName,
				Input: ev.ToolInput,
			},
		}); err != nil {
			return err
		}
		if err := r.send(EventContentBlockStop, ContentBlockStopEvent{Type: EventContentBlockStop, Index: r.index}); err != nil {
			return err
		}
		r.index++
		return nil
	}
}

// sep returns the separator to place before formatted tool text when the
// open text block already has content.
func sep(r *run) string {
	if r.open == blockText && r.hasText {
		return "\n\n"
	}
	return ""
}
