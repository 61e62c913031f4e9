package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/agentgate/agentgate/types"
)

// ContentBlock is the tagged union used in message content, both inbound and
// outbound. Type selects which fields are meaningful.
type ContentBlock struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "thinking"
	Thinking string `json:"thinking,omitempty"`

	// type == "tool_use"
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// MessageContent accepts both wire encodings Anthropic allows: a plain
// string or an array of content blocks.
type MessageContent struct {
	Blocks []ContentBlock
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Blocks = []ContentBlock{TextBlock(s)}
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content must be a string or an array of blocks: %w", err)
	}
	c.Blocks = blocks
	return nil
}

// MarshalJSON implements json.Marshaler.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Blocks)
}

// Text flattens the textual parts of the content, ignoring non-text blocks.
func (c MessageContent) Text() string {
	var b strings.Builder
	for _, blk := range c.Blocks {
		if blk.Type == "text" {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

// MessageParam is one inbound conversation message.
type MessageParam struct {
	Role    types.Role     `json:"role"`
	Content MessageContent `json:"content"`
}

// SystemPrompt accepts the system field's two encodings: a string or an
// array of text blocks.
type SystemPrompt struct {
	Text string
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.Text = str
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("system must be a string or an array of blocks: %w", err)
	}
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == "text" {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(blk.Text)
		}
	}
	s.Text = b.String()
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Text)
}

// ThinkingConfig enables extended thinking with a token budget.
type ThinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

// MessagesRequest is the body of POST /v1/messages.
type MessagesRequest struct {
	Model         string          `json:"model"`
	Messages      []MessageParam  `json:"messages"`
	MaxTokens     int             `json:"max_tokens"`
	System        *SystemPrompt   `json:"system,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`
}

// Validate checks the request against the schema constraints the gateway
// enforces before touching the pool.
func (r *MessagesRequest) Validate() error {
	if r.Model == "" {
		return types.NewError(types.ErrInvalidRequest, "model is required")
	}
	if len(r.Messages) == 0 {
		return types.NewError(types.ErrInvalidRequest, "messages must not be empty")
	}
	if r.MaxTokens <= 0 {
		return types.NewError(types.ErrInvalidRequest, "max_tokens must be a positive integer")
	}
	for i, m := range r.Messages {
		if m.Role != types.RoleUser && m.Role != types.RoleAssistant {
			return types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("messages[%d].role must be user or assistant", i))
		}
	}
	return nil
}

// Conversation converts the wire messages into the backend form, flattening
// block content into text.
func (r *MessagesRequest) Conversation() types.Conversation {
	conv := make(types.Conversation, 0, len(r.Messages))
	for _, m := range r.Messages {
		conv = append(conv, types.Message{Role: m.Role, Content: m.Content.Text()})
	}
	return conv
}

// CountTokensRequest is the body of POST /v1/messages/count_tokens.
type CountTokensRequest struct {
	Model    string         `json:"model"`
	Messages []MessageParam `json:"messages"`
	System   *SystemPrompt  `json:"system,omitempty"`
}

// CountTokensResponse is the count_tokens reply.
type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

// MessagesResponse is the non-streaming reply of POST /v1/messages, and the
// message envelope inside a streaming message_start event.
type MessagesResponse struct {
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	Role         types.Role       `json:"role"`
	Model        string           `json:"model"`
	Content      []ContentBlock   `json:"content"`
	StopReason   types.StopReason `json:"stop_reason,omitempty"`
	StopSequence *string          `json:"stop_sequence"`
	Usage        types.Usage      `json:"usage"`
}

// NewMessagesResponse builds an empty assistant message envelope with a
// fresh message id.
func NewMessagesResponse(model string) *MessagesResponse {
	return &MessagesResponse{
		ID:      NewMessageID(),
		Type:    "message",
		Role:    types.RoleAssistant,
		Model:   model,
		Content: []ContentBlock{},
	}
}

// NewMessageID returns a message id in the msg_ form.
func NewMessageID() string {
	return "msg_" + shortID()
}

func shortID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])[:24]
}
