package agentcli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgate/agentgate/backend"
	"github.com/agentgate/agentgate/types"
)

func decodeLine(t *testing.T, line string) wireMessage {
	t.Helper()
	var msg wireMessage
	require.NoError(t, json.Unmarshal([]byte(line), &msg))
	return msg
}

func TestWireMessage_ToEvent(t *testing.T) {
	ev, ok := decodeLine(t, `{"type":"text_delta","text":"hello"}`).toEvent()
	require.True(t, ok)
	assert.Equal(t, backend.EventText, ev.Kind)
	assert.Equal(t, "hello", ev.Text)

	ev, ok = decodeLine(t, `{"type":"tool_use","tool_use_id":"tu_1","tool_name":"Bash","tool_input":{"command":"ls"}}`).toEvent()
	require.True(t, ok)
	assert.Equal(t, backend.EventToolUse, ev.Kind)
	assert.Equal(t, "tu_1", ev.ToolID)
	assert.Equal(t, "Bash", ev.ToolName)
	assert.Equal(t, "ls", ev.ToolInput["command"])

	_, ok = decodeLine(t, `{"type":"control_response","control_id":"ctl_1","success":true}`).toEvent()
	assert.False(t, ok, "control responses are not stream events")
}

func TestWireMessage_ResultDefaults(t *testing.T) {
	ev, ok := decodeLine(t, `{"type":"result","usage":{"input_tokens":12,"output_tokens":40}}`).toEvent()
	require.True(t, ok)
	assert.Equal(t, backend.EventResult, ev.Kind)
	assert.Equal(t, types.StopEndTurn, ev.StopReason, "missing stop_reason defaults to end_turn")
	assert.Equal(t, 12, ev.Usage.InputTokens)
	assert.Equal(t, 40, ev.Usage.OutputTokens)
	assert.False(t, ev.IsError)
}

func TestBuildPrompt(t *testing.T) {
	conv := types.Conversation{
		{Role: types.RoleUser, Content: "What is 2+2?"},
		{Role: types.RoleAssistant, Content: "4"},
		{Role: types.RoleUser, Content: "And doubled?"},
	}
	got := BuildPrompt(conv)
	assert.Equal(t, "Human: What is 2+2?\n\nAssistant: 4\n\nHuman: And doubled?", got)

	assert.Equal(t, "", BuildPrompt(nil))
}

func TestResolveModel(t *testing.T) {
	assert.Equal(t, "claude-sonnet-4-5-20250514", backend.ResolveModel("claude-3-5-sonnet-latest"))
	assert.Equal(t, "custom-model", backend.ResolveModel("custom-model"))
}
