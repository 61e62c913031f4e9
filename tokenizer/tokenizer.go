// Package tokenizer counts tokens with tiktoken's cl100k_base encoding,
// which tracks Claude's tokenization closely enough for count_tokens and
// for usage fallbacks when the backend reports none. When the encoding
// cannot be loaded the counter degrades to a characters-over-four
// estimate instead of failing requests.
package tokenizer

import (
	"encoding/json"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/api"
)

const encodingName = "cl100k_base"

// Per-message role marker overhead.
const roleOverhead = 4

// Counter counts tokens for request payloads.
type Counter struct {
	logger *zap.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewCounter creates a counter. The encoding loads lazily on first use
// since tiktoken may fetch its dictionary.
func NewCounter(logger *zap.Logger) *Counter {
	return &Counter{logger: logger.Named("tokenizer")}
}

func (c *Counter) init() {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err != nil {
			c.initErr = err
			c.logger.Warn("tiktoken encoding unavailable, falling back to estimates", zap.Error(err))
			return
		}
		c.enc = enc
	})
}

// CountText counts tokens in a plain string.
func (c *Counter) CountText(text string) int {
	if text == "" {
		return 0
	}
	c.init()
	if c.enc == nil {
		return len(text) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

// CountBlock counts tokens in one content block.
func (c *Counter) CountBlock(block api.ContentBlock) int {
	switch block.Type {
	case "text":
		return c.CountText(block.Text)
	case "thinking":
		return c.CountText(block.Thinking)
	case "tool_use":
		n := c.CountText(block.Name)
		if data, err := json.Marshal(block.Input); err == nil {
			n += c.CountText(string(data))
		}
		return n
	case "tool_result":
		return c.CountText(string(block.Content))
	default:
		return 0
	}
}

// CountMessages counts tokens across a conversation, including per-message
// role overhead.
func (c *Counter) CountMessages(messages []api.MessageParam) int {
	total := 0
	for _, m := range messages {
		total += roleOverhead
		for _, block := range m.Content.Blocks {
			total += c.CountBlock(block)
		}
	}
	return total
}

// CountRequest counts the input tokens of a count_tokens request.
func (c *Counter) CountRequest(req *api.CountTokensRequest) int {
	total := c.CountMessages(req.Messages)
	if req.System != nil {
		total += c.CountText(req.System.Text)
	}
	return total
}
