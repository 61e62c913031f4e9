package batch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agentgate/agentgate/api"
	"github.com/agentgate/agentgate/testutil"
	"github.com/agentgate/agentgate/types"
)

func okResponse(model string) *api.MessagesResponse {
	resp := api.NewMessagesResponse(model)
	resp.Content = []api.ContentBlock{api.TextBlock("ok")}
	resp.StopReason = types.StopEndTurn
	resp.Usage = types.Usage{InputTokens: 1, OutputTokens: 1}
	return resp
}

func instantExecutor() Executor {
	return ExecutorFunc(func(ctx context.Context, rc *types.RequestContext, req *api.MessagesRequest) (*api.MessagesResponse, error) {
		return okResponse(req.Model), nil
	})
}

func newTestEngine(t *testing.T, cfg Config, exec Executor) *Engine {
	t.Helper()
	e := NewEngine(cfg, exec, nil, zaptest.NewLogger(t))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Stop(ctx)
	})
	return e
}

func batchOf(n int) *api.CreateBatchRequest {
	req := &api.CreateBatchRequest{}
	for i := 0; i < n; i++ {
		req.Requests = append(req.Requests, api.BatchRequestItem{
			CustomID: "entry-" + string(rune('a'+i)),
			Params: api.MessagesRequest{
				Model:     "claude-sonnet-4-5",
				MaxTokens: 16,
				Messages:  []api.MessageParam{{Role: types.RoleUser, Content: api.MessageContent{Blocks: []api.ContentBlock{api.TextBlock("hi")}}}},
			},
		})
	}
	return req
}

func waitEnded(t *testing.T, e *Engine, id string) api.MessageBatch {
	t.Helper()
	testutil.AssertEventuallyTrue(t, func() bool {
		b, err := e.Status(id)
		return err == nil && b.ProcessingStatus == api.BatchEnded
	}, 5*time.Second, "batch should end")
	b, err := e.Status(id)
	require.NoError(t, err)
	return b
}

func TestEngine_AllEntriesReachTerminalState(t *testing.T) {
	e := newTestEngine(t, Config{Concurrency: 2}, instantExecutor())

	b, err := e.Submit(batchOf(5))
	require.NoError(t, err)
	assert.Equal(t, api.BatchInProgress, b.ProcessingStatus)
	assert.Equal(t, 5, b.RequestCounts.Processing)

	b = waitEnded(t, e, b.ID)
	assert.Equal(t, api.RequestCounts{Succeeded: 5}, b.RequestCounts)
	require.NotNil(t, b.EndedAt)
	require.NotNil(t, b.ResultsURL)
	assert.Equal(t, "/v1/messages/batches/"+b.ID+"/results", *b.ResultsURL)
}

func TestEngine_ConcurrencyNeverExceedsLimit(t *testing.T) {
	var running, peak atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, rc *types.RequestContext, req *api.MessagesRequest) (*api.MessagesResponse, error) {
		cur := running.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return okResponse(req.Model), nil
	})
	e := newTestEngine(t, Config{Concurrency: 2}, exec)

	b, err := e.Submit(batchOf(5))
	require.NoError(t, err)
	b = waitEnded(t, e, b.ID)

	assert.Equal(t, 5, b.RequestCounts.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int32(2), "no more than two entries run at once")
	assert.Equal(t, int32(2), peak.Load(), "the cap should actually be reached")
}

func TestEngine_EntryFailureIsIsolated(t *testing.T) {
	var calls atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, rc *types.RequestContext, req *api.MessagesRequest) (*api.MessagesResponse, error) {
		if calls.Add(1) == 1 {
			return nil, types.NewError(types.ErrBackendUnavailable, "process died")
		}
		return okResponse(req.Model), nil
	})
	e := newTestEngine(t, Config{Concurrency: 1}, exec)

	b, err := e.Submit(batchOf(3))
	require.NoError(t, err)
	b = waitEnded(t, e, b.ID)

	assert.Equal(t, 2, b.RequestCounts.Succeeded)
	assert.Equal(t, 1, b.RequestCounts.Errored)

	it, err := e.Results(b.ID)
	require.NoError(t, err)
	errored := 0
	for line, ok := it.Next(); ok; line, ok = it.Next() {
		if line.Result.Type == "errored" {
			errored++
			require.NotNil(t, line.Result.Error)
			assert.Equal(t, api.ErrTypeOverloaded, line.Result.Error.Error.Type)
		}
	}
	assert.Equal(t, 1, errored)
}

func TestEngine_CancelAfterFirstEntry(t *testing.T) {
	started := make(chan struct{}, 8)
	proceed := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, rc *types.RequestContext, req *api.MessagesRequest) (*api.MessagesResponse, error) {
		started <- struct{}{}
		<-proceed
		return okResponse(req.Model), nil
	})
	e := newTestEngine(t, Config{Concurrency: 1}, exec)

	b, err := e.Submit(batchOf(5))
	require.NoError(t, err)

	// Entry 1 is mid-flight.
	_, ok := testutil.WaitForChannel(started, 2*time.Second)
	require.True(t, ok)

	cb, err := e.Cancel(b.ID)
	require.NoError(t, err)
	assert.Equal(t, api.BatchCanceling, cb.ProcessingStatus)
	require.NotNil(t, cb.CancelInitiatedAt)

	// Let the in-flight entry finish; the rest must not start.
	close(proceed)
	final := waitEnded(t, e, b.ID)

	assert.Equal(t, 1, final.RequestCounts.Succeeded, "pre-cancellation result is kept")
	assert.Equal(t, 4, final.RequestCounts.Canceled)
	assert.Equal(t, 0, final.RequestCounts.Processing, "no entry remains pending")

	// Canceling an ended batch is a no-op.
	again, err := e.Cancel(b.ID)
	require.NoError(t, err)
	assert.Equal(t, api.BatchEnded, again.ProcessingStatus)
}

func TestEngine_ResultsCompletionOrderOnePass(t *testing.T) {
	// Entry "entry-a" is delayed so it completes last.
	exec := ExecutorFunc(func(ctx context.Context, rc *types.RequestContext, req *api.MessagesRequest) (*api.MessagesResponse, error) {
		if req.Messages[0].Content.Text() == "slow" {
			time.Sleep(50 * time.Millisecond)
		}
		return okResponse(req.Model), nil
	})
	e := newTestEngine(t, Config{Concurrency: 3}, exec)

	req := batchOf(3)
	req.Requests[0].Params.Messages[0].Content = api.MessageContent{Blocks: []api.ContentBlock{api.TextBlock("slow")}}
	b, err := e.Submit(req)
	require.NoError(t, err)
	waitEnded(t, e, b.ID)

	it, err := e.Results(b.ID)
	require.NoError(t, err)
	require.Equal(t, 3, it.Len())

	var order []string
	for line, ok := it.Next(); ok; line, ok = it.Next() {
		order = append(order, line.CustomID)
	}
	assert.Equal(t, "entry-a", order[len(order)-1], "results follow completion order, not submission order")

	// One pass only.
	_, ok := it.Next()
	assert.False(t, ok)
}

func TestEngine_ResultsBeforeEnded(t *testing.T) {
	proceed := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, rc *types.RequestContext, req *api.MessagesRequest) (*api.MessagesResponse, error) {
		<-proceed
		return okResponse(req.Model), nil
	})
	e := newTestEngine(t, Config{Concurrency: 1}, exec)
	defer close(proceed)

	b, err := e.Submit(batchOf(1))
	require.NoError(t, err)

	_, err = e.Results(b.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrBatchEnded, types.GetErrorCode(err))
}

func TestEngine_UnknownBatch(t *testing.T) {
	e := newTestEngine(t, Config{}, instantExecutor())

	_, err := e.Status("msgbatch_missing")
	assert.Equal(t, types.ErrBatchNotFound, types.GetErrorCode(err))
	_, err = e.Cancel("msgbatch_missing")
	assert.Equal(t, types.ErrBatchNotFound, types.GetErrorCode(err))
	_, err = e.Results("msgbatch_missing")
	assert.Equal(t, types.ErrBatchNotFound, types.GetErrorCode(err))
	err = e.Delete("msgbatch_missing")
	assert.Equal(t, types.ErrBatchNotFound, types.GetErrorCode(err))
}

func TestEngine_DeleteOnlyEndedJobs(t *testing.T) {
	proceed := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, rc *types.RequestContext, req *api.MessagesRequest) (*api.MessagesResponse, error) {
		<-proceed
		return okResponse(req.Model), nil
	})
	e := newTestEngine(t, Config{Concurrency: 1}, exec)

	b, err := e.Submit(batchOf(1))
	require.NoError(t, err)

	err = e.Delete(b.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrBatchEnded, types.GetErrorCode(err))

	close(proceed)
	waitEnded(t, e, b.ID)

	require.NoError(t, e.Delete(b.ID))
	_, err = e.Status(b.ID)
	assert.Equal(t, types.ErrBatchNotFound, types.GetErrorCode(err))
}

func TestEngine_ListPagination(t *testing.T) {
	e := newTestEngine(t, Config{Concurrency: 1}, instantExecutor())

	var ids []string
	for i := 0; i < 3; i++ {
		b, err := e.Submit(batchOf(1))
		require.NoError(t, err)
		ids = append(ids, b.ID)
		time.Sleep(5 * time.Millisecond) // distinct created_at ordering
	}

	page := e.List(2, "", "")
	require.Len(t, page.Data, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, ids[2], page.Data[0].ID, "newest first")
	assert.Equal(t, ids[1], page.Data[1].ID)
	require.NotNil(t, page.FirstID)
	assert.Equal(t, ids[2], *page.FirstID)

	rest := e.List(2, *page.LastID, "")
	require.Len(t, rest.Data, 1)
	assert.Equal(t, ids[0], rest.Data[0].ID)
	assert.False(t, rest.HasMore)
}

func TestEngine_SweepPurgesExpiredJobs(t *testing.T) {
	e := newTestEngine(t, Config{Concurrency: 1, Retention: time.Minute}, instantExecutor())

	b, err := e.Submit(batchOf(1))
	require.NoError(t, err)
	waitEnded(t, e, b.ID)

	// Before the horizon the job stays queryable.
	e.sweepExpired(time.Now())
	_, err = e.Status(b.ID)
	require.NoError(t, err)

	e.sweepExpired(time.Now().Add(2 * time.Minute))
	_, err = e.Status(b.ID)
	assert.Equal(t, types.ErrBatchNotFound, types.GetErrorCode(err))
}

func TestEngine_StopCancelsRunningEntries(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, rc *types.RequestContext, req *api.MessagesRequest) (*api.MessagesResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := NewEngine(Config{Concurrency: 2}, exec, nil, zaptest.NewLogger(t))

	b, err := e.Submit(batchOf(3))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(ctx))

	final, err := e.Status(b.ID)
	require.NoError(t, err)
	assert.Equal(t, api.BatchEnded, final.ProcessingStatus)
	assert.Equal(t, 3, final.RequestCounts.Canceled)

	_, err = e.Submit(batchOf(1))
	require.Error(t, err, "submit after shutdown is rejected")
}

func TestEngine_SubmitValidation(t *testing.T) {
	e := newTestEngine(t, Config{}, instantExecutor())

	_, err := e.Submit(&api.CreateBatchRequest{})
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	dup := batchOf(2)
	dup.Requests[1].CustomID = dup.Requests[0].CustomID
	_, err = e.Submit(dup)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}
