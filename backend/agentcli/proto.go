package agentcli

import (
	"strings"

	"github.com/agentgate/agentgate/backend"
	"github.com/agentgate/agentgate/types"
)

// Wire message types on the stream-json protocol.
const (
	wireUser            = "user"
	wireControl         = "control"
	wireControlResponse = "control_response"
	wireText            = "text_delta"
	wireThinking        = "thinking_delta"
	wireToolUse         = "tool_use"
	wireToolResult      = "tool_result"
	wireResult          = "result"
)

// wireMessage is the union of all protocol lines, inbound and outbound.
type wireMessage struct {
	Type string `json:"type"`

	// Outbound: user turn
	Prompt         string `json:"prompt,omitempty"`
	MaxTokens      int    `json:"max_tokens,omitempty"`
	ThinkingBudget int    `json:"thinking_budget,omitempty"`

	// Outbound: control / inbound: control_response
	Command   string `json:"command,omitempty"`
	ControlID string `json:"control_id,omitempty"`
	Success   bool   `json:"success,omitempty"`
	Error     string `json:"error,omitempty"`

	// Inbound: content events
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`

	ToolUseID string         `json:"tool_use_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
	Content   string         `json:"content,omitempty"`

	// Inbound: terminal result
	Usage      *wireUsage `json:"usage,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

type wireUsage struct {
	InputTokens              int  `json:"input_tokens"`
	OutputTokens             int  `json:"output_tokens"`
	CacheCreationInputTokens *int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     *int `json:"cache_read_input_tokens,omitempty"`
}

// toEvent converts an inbound protocol line to a backend event. Lines that
// are not stream events (control responses, unknown types) report ok=false.
func (m wireMessage) toEvent() (backend.Event, bool) {
	switch m.Type {
	case wireText:
		return backend.Event{Kind: backend.EventText, Text: m.Text}, true
	case wireThinking:
		return backend.Event{Kind: backend.EventThinking, Thinking: m.Thinking}, true
	case wireToolUse:
		return backend.Event{
			Kind:      backend.EventToolUse,
			ToolID:    m.ToolUseID,
			ToolName:  m.ToolName,
			ToolInput: m.ToolInput,
		}, true
	case wireToolResult:
		return backend.Event{
			Kind:   backend.EventToolResult,
			ToolID: m.ToolUseID,
			ToolOut: m.Content,
		}, true
	case wireResult:
		ev := backend.Event{
			Kind:       backend.EventResult,
			StopReason: types.StopReason(m.StopReason),
			IsError:    m.IsError,
			ErrMessage: m.Error,
		}
		if ev.StopReason == "" {
			ev.StopReason = types.StopEndTurn
		}
		if m.Usage != nil {
			ev.Usage = types.Usage{
				InputTokens:              m.Usage.InputTokens,
				OutputTokens:             m.Usage.OutputTokens,
				CacheCreationInputTokens: m.Usage.CacheCreationInputTokens,
				CacheReadInputTokens:     m.Usage.CacheReadInputTokens,
			}
		}
		return ev, true
	default:
		return backend.Event{}, false
	}
}

// BuildPrompt flattens a conversation into the single prompt string the
// agent CLI consumes, with Human:/Assistant: role prefixes.
func BuildPrompt(conv types.Conversation) string {
	var b strings.Builder
	for i, msg := range conv {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch msg.Role {
		case types.RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("Human: ")
		}
		b.WriteString(msg.Content)
	}
	return b.String()
}
