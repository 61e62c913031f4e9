package stream

import (
	"github.com/agentgate/agentgate/api"
	"github.com/agentgate/agentgate/types"
)

// SSE event names in emission order.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"
)

// MessageStartEvent opens the stream with an empty message envelope.
type MessageStartEvent struct {
	Type    string                `json:"type"`
	Message *api.MessagesResponse `json:"message"`
}

// ContentBlockStartEvent opens content block Index.
type ContentBlockStartEvent struct {
	Type         string           `json:"type"`
	Index        int              `json:"index"`
	ContentBlock api.ContentBlock `json:"content_block"`
}

// Delta is the inner payload of a content_block_delta event.
type Delta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// ContentBlockDeltaEvent carries incremental content for block Index.
type ContentBlockDeltaEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta Delta  `json:"delta"`
}

// ContentBlockStopEvent closes content block Index.
type ContentBlockStopEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// MessageDeltaEvent carries the stop reason and final output usage.
type MessageDeltaEvent struct {
	Type  string            `json:"type"`
	Delta MessageDelta      `json:"delta"`
	Usage MessageDeltaUsage `json:"usage"`
}

// MessageDelta is the inner delta of a message_delta event.
type MessageDelta struct {
	StopReason   types.StopReason `json:"stop_reason,omitempty"`
	StopSequence *string          `json:"stop_sequence"`
}

// MessageDeltaUsage reports output tokens at stream end.
type MessageDeltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// MessageStopEvent terminates a successful stream.
type MessageStopEvent struct {
	Type string `json:"type"`
}

// PingEvent keeps idle connections alive.
type PingEvent struct {
	Type string `json:"type"`
}

// ErrorEvent delivers a mid-stream failure to the client.
type ErrorEvent struct {
	Type  string          `json:"type"`
	Error api.ErrorDetail `json:"error"`
}
