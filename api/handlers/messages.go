package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/api"
	"github.com/agentgate/agentgate/backend"
	"github.com/agentgate/agentgate/internal/ctxkeys"
	"github.com/agentgate/agentgate/stream"
	"github.com/agentgate/agentgate/types"
)

// Messages implements POST /v1/messages, both blocking and streaming.
func (h *Handlers) Messages(w http.ResponseWriter, r *http.Request) {
	var req api.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, h.logger, types.NewError(types.ErrInvalidRequest, "invalid JSON body: "+err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		WriteError(w, h.logger, err)
		return
	}

	rc := h.requestContext(r)
	rc.SetModel(req.Model)
	rc.SetStream(req.Stream)
	if sid := sessionIDFrom(r, &req); sid != "" {
		rc.SetSessionID(sid)
	}
	mode := stream.ParseMode(r.Header.Get(HeaderMessageMode), h.config.DefaultMode)

	if req.Stream {
		h.streamMessages(w, r, rc, &req, mode)
		return
	}

	resp, err := h.execute(r.Context(), rc, &req, mode)
	if err != nil {
		rc.SetError(err)
		WriteError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Execute implements batch.Executor: one blocking message request under the
// default rendering mode, session acquisition included.
func (h *Handlers) Execute(ctx context.Context, rc *types.RequestContext, req *api.MessagesRequest) (*api.MessagesResponse, error) {
	return h.execute(ctx, rc, req, h.config.DefaultMode)
}

var tracer = otel.Tracer("agentgate/handlers")

// execute is the blocking path: acquire a session, invoke, drain, respond.
func (h *Handlers) execute(ctx context.Context, rc *types.RequestContext, req *api.MessagesRequest, mode stream.Mode) (*api.MessagesResponse, error) {
	model := backend.ResolveModel(req.Model)

	ctx, span := tracer.Start(ctx, "backend.invoke", trace.WithAttributes(
		attribute.String("model", model),
		attribute.String("request_id", rc.RequestID),
	))
	defer span.End()

	lease, err := h.pool.Acquire(ctx, rc.SessionID())
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	rc.SetSessionID(lease.ID())

	invokeCtx, cancel := h.invokeContext(ctx)
	defer cancel()

	start := time.Now()
	events, err := lease.Handle().Invoke(invokeCtx, req.Conversation(), invokeOptions(req))
	if err != nil {
		span.RecordError(err)
		h.metrics.RecordBackendInvocation(model, "error", time.Since(start))
		return nil, err
	}
	res, err := backend.CollectResult(invokeCtx, events)
	if err != nil {
		span.RecordError(err)
		h.metrics.RecordBackendInvocation(model, "error", time.Since(start))
		return nil, err
	}
	h.metrics.RecordBackendInvocation(model, "success", time.Since(start))

	usage := res.Usage
	if usage.InputTokens == 0 {
		usage.InputTokens = h.counter.CountMessages(req.Messages)
	}
	if usage.OutputTokens == 0 {
		usage.OutputTokens = h.counter.CountText(res.Thinking + res.Text)
	}
	rc.AddTokens(usage.InputTokens, 0)
	rc.SetOutputTokens(usage.OutputTokens)
	h.metrics.RecordTokens(model, usage.InputTokens, usage.OutputTokens)

	resp := api.NewMessagesResponse(req.Model)
	resp.Content = stream.BuildContent(res, mode)
	resp.StopReason = res.StopReason
	if resp.StopReason == "" {
		resp.StopReason = types.StopEndTurn
	}
	resp.Usage = usage
	return resp, nil
}

// streamMessages runs the SSE path. Errors before the stream opens are
// normal JSON errors; once SSE headers are out, failures surface as an
// error event from the bridge.
func (h *Handlers) streamMessages(w http.ResponseWriter, r *http.Request, rc *types.RequestContext, req *api.MessagesRequest, mode stream.Mode) {
	model := backend.ResolveModel(req.Model)
	ctx, span := tracer.Start(r.Context(), "backend.invoke_stream", trace.WithAttributes(
		attribute.String("model", model),
		attribute.String("request_id", rc.RequestID),
	))
	defer span.End()

	lease, err := h.pool.Acquire(ctx, rc.SessionID())
	if err != nil {
		rc.SetError(err)
		WriteError(w, h.logger, err)
		return
	}
	defer lease.Release()
	rc.SetSessionID(lease.ID())

	invokeCtx, cancel := h.invokeContext(ctx)
	defer cancel()

	start := time.Now()
	events, err := lease.Handle().Invoke(invokeCtx, req.Conversation(), invokeOptions(req))
	if err != nil {
		h.metrics.RecordBackendInvocation(model, "error", time.Since(start))
		rc.SetError(err)
		WriteError(w, h.logger, err)
		return
	}

	sse, err := stream.NewSSEWriter(w)
	if err != nil {
		events.Close()
		h.logger.Error("cannot stream to client", zap.Error(err))
		WriteError(w, h.logger, err)
		return
	}

	bridge := stream.NewBridge(mode, h.recorder, h.logger)
	runErr := bridge.Run(invokeCtx, events, sse, api.NewMessageID(), req.Model, rc)

	status := "success"
	if runErr != nil {
		status = "error"
		span.RecordError(runErr)
	}
	h.metrics.RecordBackendInvocation(model, status, time.Since(start))

	in, out := rc.Tokens()
	if in == 0 {
		in = h.counter.CountMessages(req.Messages)
		rc.AddTokens(in, 0)
	}
	h.metrics.RecordTokens(model, in, out)
}

// CountTokens implements POST /v1/messages/count_tokens.
func (h *Handlers) CountTokens(w http.ResponseWriter, r *http.Request) {
	var req api.CountTokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, h.logger, types.NewError(types.ErrInvalidRequest, "invalid JSON body: "+err.Error()))
		return
	}
	if req.Model == "" {
		WriteError(w, h.logger, types.NewError(types.ErrInvalidRequest, "model is required"))
		return
	}
	if len(req.Messages) == 0 {
		WriteError(w, h.logger, types.NewError(types.ErrInvalidRequest, "messages must not be empty"))
		return
	}
	WriteJSON(w, http.StatusOK, api.CountTokensResponse{InputTokens: h.counter.CountRequest(&req)})
}

func (h *Handlers) invokeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.config.InvokeTimeout > 0 {
		return context.WithTimeout(ctx, h.config.InvokeTimeout)
	}
	return context.WithCancel(ctx)
}

// requestContext returns the middleware-created per-call record, or a fresh
// one when the handler runs without the observe middleware.
func (h *Handlers) requestContext(r *http.Request) *types.RequestContext {
	if rc := ctxkeys.RequestContext(r.Context()); rc != nil {
		return rc
	}
	return types.NewRequestContext(api.NewMessageID(), r.Method, r.URL.Path)
}

// sessionIDFrom resolves the session pin: the header wins, then the
// metadata user_id the Python SDKs commonly send.
func sessionIDFrom(r *http.Request, req *api.MessagesRequest) string {
	if sid := r.Header.Get(HeaderSessionID); sid != "" {
		return sid
	}
	if uid, ok := req.Metadata["user_id"].(string); ok {
		return uid
	}
	return ""
}

func invokeOptions(req *api.MessagesRequest) backend.InvokeOptions {
	opts := backend.InvokeOptions{
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		StopSequences: req.StopSequences,
	}
	if req.Thinking != nil && req.Thinking.Type == "enabled" {
		opts.ThinkingBudget = req.Thinking.BudgetTokens
	}
	return opts
}
