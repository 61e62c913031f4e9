package batch

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/agentgate/agentgate/api"
	"github.com/agentgate/agentgate/types"
)

// Executor runs one message request to completion. The batch engine drives
// it once per entry; the implementation owns session acquisition and
// release.
type Executor interface {
	Execute(ctx context.Context, reqCtx *types.RequestContext, req *api.MessagesRequest) (*api.MessagesResponse, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, reqCtx *types.RequestContext, req *api.MessagesRequest) (*api.MessagesResponse, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, reqCtx *types.RequestContext, req *api.MessagesRequest) (*api.MessagesResponse, error) {
	return f(ctx, reqCtx, req)
}

// Observer receives batch lifecycle signals for instrumentation.
type Observer interface {
	BatchSubmitted(entries int)
	BatchEntryDone(outcome string)
}

// NopObserver ignores all signals.
type NopObserver struct{}

// BatchSubmitted implements Observer.
func (NopObserver) BatchSubmitted(int) {}

// BatchEntryDone implements Observer.
func (NopObserver) BatchEntryDone(string) {}

// Config tunes the engine.
type Config struct {
	// Concurrency caps entries running at once within one job.
	Concurrency int `yaml:"concurrency" json:"concurrency"`

	// Retention keeps terminal jobs queryable before the sweeper purges
	// them.
	Retention time.Duration `yaml:"retention" json:"retention"`

	// SweepInterval is how often expired jobs are purged.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// DefaultConfig mirrors the production defaults: five concurrent entries,
// results kept for 29 days.
func DefaultConfig() Config {
	return Config{
		Concurrency:   5,
		Retention:     29 * 24 * time.Hour,
		SweepInterval: time.Hour,
	}
}

// Engine owns all batch jobs for their retention window.
type Engine struct {
	config   Config
	exec     Executor
	observer Observer
	logger   *zap.Logger

	mu     sync.Mutex
	jobs   map[string]*job
	closed bool

	// runCtx parents all entry executions so Stop can cancel them.
	runCtx    context.Context
	runCancel context.CancelFunc

	jobsWG     sync.WaitGroup
	sweepGate  chan struct{}
	sweepDone  chan struct{}
	sweepOnce  sync.Once
	closeOnce  sync.Once
}

// NewEngine creates an engine; Start launches the retention sweeper.
func NewEngine(cfg Config, exec Executor, observer Observer, logger *zap.Logger) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	if observer == nil {
		observer = NopObserver{}
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	return &Engine{
		config:    cfg,
		exec:      exec,
		observer:  observer,
		logger:    logger.Named("batch"),
		jobs:      make(map[string]*job),
		runCtx:    runCtx,
		runCancel: runCancel,
		sweepGate: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
}

// Start launches the background retention sweeper.
func (e *Engine) Start() {
	e.sweepOnce.Do(func() {
		go e.sweepLoop()
	})
}

// Stop cancels running entries and waits for jobs and the sweeper, bounded
// by ctx.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.closeOnce.Do(func() {
		close(e.sweepGate)
	})
	e.runCancel()

	done := make(chan struct{})
	go func() {
		e.jobsWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.sweepOnce.Do(func() { close(e.sweepDone) })
	select {
	case <-e.sweepDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Submit validates the request, stores the job, and starts execution. It
// returns immediately with the job descriptor.
func (e *Engine) Submit(req *api.CreateBatchRequest) (api.MessageBatch, error) {
	if err := req.Validate(); err != nil {
		return api.MessageBatch{}, err
	}

	now := time.Now()
	j := &job{
		id:        api.NewBatchID(),
		requests:  req.Requests,
		createdAt: now,
		expiresAt: now.Add(e.config.Retention),
		status:    api.BatchInProgress,
		done:      make(chan struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return api.MessageBatch{}, types.NewError(types.ErrInternalError, "batch engine is shut down")
	}
	e.jobs[j.id] = j
	e.jobsWG.Add(1)
	e.mu.Unlock()

	e.observer.BatchSubmitted(len(j.requests))
	e.logger.Info("batch submitted",
		zap.String("batch_id", j.id),
		zap.Int("entries", len(j.requests)))

	go e.process(j)
	return j.snapshot(), nil
}

// process runs every entry under the concurrency cap, then marks the job
// ended.
func (e *Engine) process(j *job) {
	defer e.jobsWG.Done()

	sem := semaphore.NewWeighted(int64(e.config.Concurrency))
	var wg sync.WaitGroup
	for _, item := range j.requests {
		item := item
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(e.runCtx, 1); err != nil {
				// Shutdown: the entry never started.
				j.complete(item.CustomID, api.BatchResult{Type: "canceled"})
				e.observer.BatchEntryDone("canceled")
				return
			}
			defer sem.Release(1)
			e.runEntry(j, item)
		}()
	}
	wg.Wait()

	counts := j.end()
	e.logger.Info("batch ended",
		zap.String("batch_id", j.id),
		zap.Int("succeeded", counts.Succeeded),
		zap.Int("errored", counts.Errored),
		zap.Int("canceled", counts.Canceled))
}

var tracer = otel.Tracer("agentgate/batch")

func (e *Engine) runEntry(j *job, item api.BatchRequestItem) {
	// Entries observed after cancellation never start.
	if j.isCanceled() {
		j.complete(item.CustomID, api.BatchResult{Type: "canceled"})
		e.observer.BatchEntryDone("canceled")
		return
	}

	entryCtx, span := tracer.Start(e.runCtx, "batch.entry", trace.WithAttributes(
		attribute.String("batch_id", j.id),
		attribute.String("custom_id", item.CustomID),
	))
	defer span.End()

	reqCtx := types.NewRequestContext(api.NewMessageID(), "POST", "/v1/messages/batches")
	reqCtx.SetModel(item.Params.Model)

	params := item.Params
	params.Stream = false

	resp, err := e.exec.Execute(entryCtx, reqCtx, &params)
	switch {
	case err == nil:
		j.complete(item.CustomID, api.BatchResult{Type: "succeeded", Message: resp})
		e.observer.BatchEntryDone("succeeded")
	case types.IsCanceled(err):
		j.complete(item.CustomID, api.BatchResult{Type: "canceled"})
		e.observer.BatchEntryDone("canceled")
	default:
		// One entry's failure stays on that entry.
		span.RecordError(err)
		_, envelope := api.ErrorResponseFor(err)
		j.complete(item.CustomID, api.BatchResult{Type: "errored", Error: envelope})
		e.observer.BatchEntryDone("errored")
		e.logger.Warn("batch entry failed",
			zap.String("batch_id", j.id),
			zap.String("custom_id", item.CustomID),
			zap.Error(err))
	}
}

// Status returns the job descriptor.
func (e *Engine) Status(id string) (api.MessageBatch, error) {
	j, err := e.get(id)
	if err != nil {
		return api.MessageBatch{}, err
	}
	return j.snapshot(), nil
}

// Cancel moves an in-progress job to canceling. Entries already running
// finish normally; entries not yet started record a canceled result.
// Canceling an ended job is a no-op.
func (e *Engine) Cancel(id string) (api.MessageBatch, error) {
	j, err := e.get(id)
	if err != nil {
		return api.MessageBatch{}, err
	}
	if j.cancel() {
		e.logger.Info("batch cancel requested", zap.String("batch_id", id))
	}
	return j.snapshot(), nil
}

// Delete removes an ended job before its retention horizon.
func (e *Engine) Delete(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[id]
	if !ok {
		return types.NewError(types.ErrBatchNotFound, "batch not found: "+id)
	}
	if j.currentStatus() != api.BatchEnded {
		return types.NewError(types.ErrBatchEnded, "batch is still processing: "+id)
	}
	delete(e.jobs, id)
	return nil
}

// Results returns a one-pass iterator over entry results in completion
// order. The job must have ended.
func (e *Engine) Results(id string) (*ResultsIterator, error) {
	j, err := e.get(id)
	if err != nil {
		return nil, err
	}
	lines, ok := j.results()
	if !ok {
		return nil, types.NewError(types.ErrBatchEnded, "batch has not ended: "+id)
	}
	return &ResultsIterator{lines: lines}, nil
}

// List pages jobs newest-first using Anthropic's cursor parameters.
func (e *Engine) List(limit int, afterID, beforeID string) api.BatchesListResponse {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	e.mu.Lock()
	all := make([]*job, 0, len(e.jobs))
	for _, j := range e.jobs {
		all = append(all, j)
	}
	e.mu.Unlock()

	sortJobsNewestFirst(all)
	all = applyCursors(all, afterID, beforeID)

	hasMore := len(all) > limit
	if hasMore {
		all = all[:limit]
	}

	resp := api.BatchesListResponse{Data: make([]api.MessageBatch, 0, len(all)), HasMore: hasMore}
	for _, j := range all {
		resp.Data = append(resp.Data, j.snapshot())
	}
	if len(resp.Data) > 0 {
		first, last := resp.Data[0].ID, resp.Data[len(resp.Data)-1].ID
		resp.FirstID, resp.LastID = &first, &last
	}
	return resp
}

// Stats summarizes the engine for the health endpoint.
type Stats struct {
	Jobs        int `json:"jobs"`
	InProgress  int `json:"in_progress"`
	Canceling   int `json:"canceling"`
	Ended       int `json:"ended"`
	Concurrency int `json:"concurrency"`
}

// EngineStats returns a point-in-time summary.
func (e *Engine) EngineStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Stats{Jobs: len(e.jobs), Concurrency: e.config.Concurrency}
	for _, j := range e.jobs {
		switch j.currentStatus() {
		case api.BatchInProgress:
			st.InProgress++
		case api.BatchCanceling:
			st.Canceling++
		case api.BatchEnded:
			st.Ended++
		}
	}
	return st
}

func (e *Engine) get(id string) (*job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[id]
	if !ok {
		return nil, types.NewError(types.ErrBatchNotFound, "batch not found: "+id)
	}
	return j, nil
}

func (e *Engine) sweepLoop() {
	defer close(e.sweepDone)
	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.sweepExpired(time.Now())
		case <-e.sweepGate:
			return
		}
	}
}

// sweepExpired purges terminal jobs past their retention horizon.
func (e *Engine) sweepExpired(now time.Time) {
	e.mu.Lock()
	var purged []string
	for id, j := range e.jobs {
		if j.currentStatus() == api.BatchEnded && now.After(j.expiresAt) {
			delete(e.jobs, id)
			purged = append(purged, id)
		}
	}
	e.mu.Unlock()

	if len(purged) > 0 {
		e.logger.Info("purged expired batches", zap.Int("count", len(purged)))
	}
}

// ResultsIterator walks entry results exactly once.
type ResultsIterator struct {
	lines []api.BatchResultLine
	pos   int
}

// Next returns the next result line; ok is false when exhausted.
func (it *ResultsIterator) Next() (line api.BatchResultLine, ok bool) {
	if it.pos >= len(it.lines) {
		return api.BatchResultLine{}, false
	}
	line = it.lines[it.pos]
	it.pos++
	return line, true
}

// Len returns how many lines the iterator started with.
func (it *ResultsIterator) Len() int { return len(it.lines) }
