package stream

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentgate/agentgate/api"
	"github.com/agentgate/agentgate/backend"
)

// Mode controls how backend-internal activity (tool use, tool results)
// surfaces in responses.
type Mode string

const (
	// ModeForward passes tool blocks through as structured content.
	ModeForward Mode = "forward"
	// ModeFormatted renders tool activity as XML-tagged text.
	ModeFormatted Mode = "formatted"
	// ModeIgnore strips tool activity, returning text only.
	ModeIgnore Mode = "ignore"
)

// ParseMode returns the mode named by s, falling back to def when s is
// empty or unknown.
func ParseMode(s string, def Mode) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeForward:
		return ModeForward
	case ModeFormatted:
		return ModeFormatted
	case ModeIgnore:
		return ModeIgnore
	}
	return def
}

func formatToolUseAsXML(name string, input map[string]any) string {
	data, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		data = []byte("{}")
	}
	return fmt.Sprintf("<tool_use name=%q>\n%s\n</tool_use>", name, data)
}

func formatToolResultAsXML(content string) string {
	return "<tool_result>\n" + content + "\n</tool_result>"
}

// BuildContent assembles response content blocks from a drained backend
// result under the given mode. Used by the non-streaming path; the bridge
// applies the same rules incrementally.
func BuildContent(res *backend.Result, mode Mode) []api.ContentBlock {
	var blocks []api.ContentBlock
	if res.Thinking != "" {
		blocks = append(blocks, api.ContentBlock{Type: "thinking", Thinking: res.Thinking})
	}

	switch mode {
	case ModeIgnore:
		if res.Text != "" {
			blocks = append(blocks, api.TextBlock(res.Text))
		}
	case ModeFormatted:
		parts := make([]string, 0, 1+len(res.ToolUses))
		if res.Text != "" {
			parts = append(parts, res.Text)
		}
		for _, tu := range res.ToolUses {
			parts = append(parts, formatToolUseAsXML(tu.Name, tu.Input))
		}
		if len(parts) > 0 {
			blocks = append(blocks, api.TextBlock(strings.Join(parts, "\n\n")))
		}
	default: // ModeForward
		if res.Text != "" {
			blocks = append(blocks, api.TextBlock(res.Text))
		}
		for _, tu := range res.ToolUses {
			blocks = append(blocks, api.ContentBlock{
				Type:  "tool_use",
				ID:    tu.ID,
				Name:  tu.Name,
				Input: tu.Input,
			})
		}
	}

	if blocks == nil {
		blocks = []api.ContentBlock{}
	}
	return blocks
}
