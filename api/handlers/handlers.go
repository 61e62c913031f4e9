package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/batch"
	"github.com/agentgate/agentgate/session"
	"github.com/agentgate/agentgate/stream"
	"github.com/agentgate/agentgate/tokenizer"
)

// Request headers the gateway honors beyond the Anthropic schema.
const (
	// HeaderSessionID pins a request to a named pooled session. Requests
	// without it run on an ephemeral session.
	HeaderSessionID = "X-Session-ID"

	// HeaderMessageMode overrides the configured tool-activity rendering
	// for one request: forward, formatted, or ignore.
	HeaderMessageMode = "X-Message-Mode"
)

// Metrics receives backend-facing measurements from the handlers.
type Metrics interface {
	RecordBackendInvocation(model, status string, duration time.Duration)
	RecordTokens(model string, in, out int)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

// RecordBackendInvocation implements Metrics.
func (NopMetrics) RecordBackendInvocation(string, string, time.Duration) {}

// RecordTokens implements Metrics.
func (NopMetrics) RecordTokens(string, int, int) {}

// Config tunes handler behavior.
type Config struct {
	// DefaultMode is the tool-activity rendering used when the request
	// carries no override header.
	DefaultMode stream.Mode

	// InvokeTimeout bounds a single backend invocation; zero disables.
	InvokeTimeout time.Duration

	// Version is reported by the health endpoint.
	Version string
}

// Handlers holds the endpoint implementations and their dependencies.
type Handlers struct {
	config   Config
	pool     *session.Pool
	batches  *batch.Engine
	counter  *tokenizer.Counter
	recorder stream.Recorder
	metrics  Metrics
	logger   *zap.Logger
}

// New wires the endpoint set. recorder may be nil to discard stream
// completions; metrics may be nil to discard measurements.
func New(cfg Config, pool *session.Pool, batches *batch.Engine, counter *tokenizer.Counter, recorder stream.Recorder, metrics Metrics, logger *zap.Logger) *Handlers {
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = stream.ModeForward
	}
	if recorder == nil {
		recorder = stream.NopRecorder{}
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Handlers{
		config:   cfg,
		pool:     pool,
		batches:  batches,
		counter:  counter,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger.Named("handlers"),
	}
}

// Routes returns the gateway's route table.
func (h *Handlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", h.Messages)
	mux.HandleFunc("POST /v1/messages/count_tokens", h.CountTokens)
	mux.HandleFunc("POST /v1/messages/batches", h.CreateBatch)
	mux.HandleFunc("GET /v1/messages/batches", h.ListBatches)
	mux.HandleFunc("GET /v1/messages/batches/{id}", h.GetBatch)
	mux.HandleFunc("DELETE /v1/messages/batches/{id}", h.DeleteBatch)
	mux.HandleFunc("POST /v1/messages/batches/{id}/cancel", h.CancelBatch)
	mux.HandleFunc("GET /v1/messages/batches/{id}/results", h.BatchResults)
	mux.HandleFunc("GET /v1/sessions", h.Sessions)
	mux.HandleFunc("DELETE /v1/sessions/{id}", h.CloseSession)
	mux.HandleFunc("GET /health", h.Health)
	return mux
}
