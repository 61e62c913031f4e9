package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgate/agentgate/types"
)

func TestMessagesRequest_ContentDecoding(t *testing.T) {
	body := `{
		"model": "claude-sonnet-4-5",
		"max_tokens": 128,
		"system": [{"type": "text", "text": "be terse"}, {"type": "text", "text": "be kind"}],
		"messages": [
			{"role": "user", "content": "hello"},
			{"role": "assistant", "content": [{"type": "text", "text": "hi "}, {"type": "text", "text": "there"}]}
		]
	}`

	var req MessagesRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	require.NoError(t, req.Validate())

	assert.Equal(t, "be terse\n\nbe kind", req.System.Text)

	conv := req.Conversation()
	require.Len(t, conv, 2)
	assert.Equal(t, types.Message{Role: types.RoleUser, Content: "hello"}, conv[0])
	assert.Equal(t, types.Message{Role: types.RoleAssistant, Content: "hi there"}, conv[1])
}

func TestMessagesRequest_Validate(t *testing.T) {
	tests := []struct {
		name string
		req  MessagesRequest
		want string
	}{
		{"missing model", MessagesRequest{MaxTokens: 1, Messages: []MessageParam{{Role: types.RoleUser}}}, "model"},
		{"no messages", MessagesRequest{Model: "m", MaxTokens: 1}, "messages"},
		{"bad max_tokens", MessagesRequest{Model: "m", Messages: []MessageParam{{Role: types.RoleUser}}}, "max_tokens"},
		{"bad role", MessagesRequest{Model: "m", MaxTokens: 1, Messages: []MessageParam{{Role: "system"}}}, "role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			require.Error(t, err)
			assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func validBatchItem(id string) BatchRequestItem {
	return BatchRequestItem{
		CustomID: id,
		Params: MessagesRequest{
			Model:     "m",
			MaxTokens: 16,
			Messages:  []MessageParam{{Role: types.RoleUser, Content: MessageContent{Blocks: []ContentBlock{TextBlock("hi")}}}},
		},
	}
}

func TestCreateBatchRequest_Validate(t *testing.T) {
	ok := CreateBatchRequest{Requests: []BatchRequestItem{validBatchItem("a"), validBatchItem("b")}}
	require.NoError(t, ok.Validate())

	dup := CreateBatchRequest{Requests: []BatchRequestItem{validBatchItem("a"), validBatchItem("a")}}
	err := dup.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	var huge CreateBatchRequest
	for i := 0; i < MaxBatchRequests+1; i++ {
		huge.Requests = append(huge.Requests, validBatchItem(strings.Repeat("x", 2)+string(rune('a'+i%26))+string(rune('a'+i/26))))
	}
	err = huge.Validate()
	require.Error(t, err)
	assert.Equal(t, types.ErrBatchTooLarge, types.GetErrorCode(err))
}

func TestIDs(t *testing.T) {
	msg := NewMessageID()
	assert.True(t, strings.HasPrefix(msg, "msg_"))
	assert.Len(t, msg, len("msg_")+24)

	batch := NewBatchID()
	assert.True(t, strings.HasPrefix(batch, "msgbatch_"))
	assert.Len(t, batch, len("msgbatch_")+24)

	assert.NotEqual(t, NewBatchID(), NewBatchID())
}

func TestErrorResponseFor(t *testing.T) {
	tests := []struct {
		err      error
		status   int
		wantType string
	}{
		{types.NewError(types.ErrInvalidRequest, "bad"), http.StatusBadRequest, ErrTypeInvalidRequest},
		{types.NewError(types.ErrAuthentication, "nope"), http.StatusUnauthorized, ErrTypeAuthentication},
		{types.NewError(types.ErrBatchNotFound, "gone"), http.StatusNotFound, ErrTypeNotFound},
		{types.NewError(types.ErrRateLimited, "slow down"), http.StatusTooManyRequests, ErrTypeRateLimit},
		{types.NewError(types.ErrPoolExhausted, "full").WithHTTPStatus(http.StatusServiceUnavailable), http.StatusServiceUnavailable, ErrTypeOverloaded},
		{types.NewError(types.ErrBackendTimeout, "slow"), http.StatusGatewayTimeout, ErrTypeAPI},
		{assert.AnError, http.StatusInternalServerError, ErrTypeAPI},
	}
	for _, tt := range tests {
		status, resp := ErrorResponseFor(tt.err)
		assert.Equal(t, tt.status, status)
		assert.Equal(t, "error", resp.Type)
		assert.Equal(t, tt.wantType, resp.Error.Type)
	}
}
