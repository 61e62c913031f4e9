package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgate/agentgate/backend"
)

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeFormatted, ParseMode("formatted", ModeForward))
	assert.Equal(t, ModeIgnore, ParseMode(" IGNORE ", ModeForward))
	assert.Equal(t, ModeForward, ParseMode("", ModeForward))
	assert.Equal(t, ModeIgnore, ParseMode("bogus", ModeIgnore))
}

func TestBuildContent(t *testing.T) {
	res := &backend.Result{
		Text: "the answer",
		ToolUses: []backend.ToolUse{
			{ID: "tu_1", Name: "search", Input: map[string]any{"q": "go"}},
		},
	}

	t.Run("forward", func(t *testing.T) {
		blocks := BuildContent(res, ModeForward)
		require.Len(t, blocks, 2)
		assert.Equal(t, "text", blocks[0].Type)
		assert.Equal(t, "the answer", blocks[0].Text)
		assert.Equal(t, "tool_use", blocks[1].Type)
		assert.Equal(t, "search", blocks[1].Name)
	})

	t.Run("formatted", func(t *testing.T) {
		blocks := BuildContent(res, ModeFormatted)
		require.Len(t, blocks, 1)
		assert.Equal(t, "text", blocks[0].Type)
		assert.Contains(t, blocks[0].Text, "the answer\n\n<tool_use name=\"search\">")
	})

	t.Run("ignore", func(t *testing.T) {
		blocks := BuildContent(res, ModeIgnore)
		require.Len(t, blocks, 1)
		assert.Equal(t, "the answer", blocks[0].Text)
	})

	t.Run("thinking kept ahead of text", func(t *testing.T) {
		blocks := BuildContent(&backend.Result{Text: "x", Thinking: "t"}, ModeIgnore)
		require.Len(t, blocks, 2)
		assert.Equal(t, "thinking", blocks[0].Type)
	})

	t.Run("empty result yields empty array not null", func(t *testing.T) {
		assert.NotNil(t, BuildContent(&backend.Result{}, ModeForward))
	})
}
