package api

import (
	"fmt"
	"time"

	"github.com/agentgate/agentgate/types"
)

// MaxBatchRequests caps how many entries one batch may carry.
const MaxBatchRequests = 100

// BatchRequestItem is one entry of a batch submission. Params is a full
// Messages request; its Stream flag is ignored.
type BatchRequestItem struct {
	CustomID string          `json:"custom_id"`
	Params   MessagesRequest `json:"params"`
}

// CreateBatchRequest is the body of POST /v1/messages/batches.
type CreateBatchRequest struct {
	Requests []BatchRequestItem `json:"requests"`
}

// Validate checks batch-level and per-entry constraints.
func (r *CreateBatchRequest) Validate() error {
	if len(r.Requests) == 0 {
		return types.NewError(types.ErrInvalidRequest, "requests must not be empty")
	}
	if len(r.Requests) > MaxBatchRequests {
		return types.NewError(types.ErrBatchTooLarge,
			fmt.Sprintf("batch holds %d requests, limit is %d", len(r.Requests), MaxBatchRequests))
	}
	seen := make(map[string]struct{}, len(r.Requests))
	for i, item := range r.Requests {
		if item.CustomID == "" || len(item.CustomID) > 64 {
			return types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("requests[%d].custom_id must be 1-64 characters", i))
		}
		if _, dup := seen[item.CustomID]; dup {
			return types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("duplicate custom_id %q", item.CustomID))
		}
		seen[item.CustomID] = struct{}{}
		if err := item.Params.Validate(); err != nil {
			return types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("requests[%d]: %v", i, err))
		}
	}
	return nil
}

// ProcessingStatus is the lifecycle state of a batch.
type ProcessingStatus string

const (
	BatchInProgress ProcessingStatus = "in_progress"
	BatchCanceling  ProcessingStatus = "canceling"
	BatchEnded      ProcessingStatus = "ended"
)

// RequestCounts tallies batch entries by state.
type RequestCounts struct {
	Processing int `json:"processing"`
	Succeeded  int `json:"succeeded"`
	Errored    int `json:"errored"`
	Canceled   int `json:"canceled"`
	Expired    int `json:"expired"`
}

// MessageBatch is the batch object returned by the batches endpoints.
type MessageBatch struct {
	ID                string           `json:"id"`
	Type              string           `json:"type"`
	ProcessingStatus  ProcessingStatus `json:"processing_status"`
	RequestCounts     RequestCounts    `json:"request_counts"`
	CreatedAt         time.Time        `json:"created_at"`
	EndedAt           *time.Time       `json:"ended_at"`
	ExpiresAt         time.Time        `json:"expires_at"`
	CancelInitiatedAt *time.Time       `json:"cancel_initiated_at"`
	ResultsURL        *string          `json:"results_url"`
}

// BatchDeletedResponse acknowledges DELETE /v1/messages/batches/{id}.
type BatchDeletedResponse struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// BatchesListResponse pages through batches in Anthropic's cursor format.
type BatchesListResponse struct {
	Data    []MessageBatch `json:"data"`
	FirstID *string        `json:"first_id"`
	LastID  *string        `json:"last_id"`
	HasMore bool           `json:"has_more"`
}

// BatchResult is the per-entry outcome in the results JSONL. Message is set
// for succeeded entries, Error for errored ones.
type BatchResult struct {
	Type    string            `json:"type"`
	Message *MessagesResponse `json:"message,omitempty"`
	Error   *ErrorResponse    `json:"error,omitempty"`
}

// BatchResultLine is one line of GET .../results output.
type BatchResultLine struct {
	CustomID string      `json:"custom_id"`
	Result   BatchResult `json:"result"`
}

// NewBatchID returns a batch id in the msgbatch_ form.
func NewBatchID() string {
	return "msgbatch_" + shortID()
}
