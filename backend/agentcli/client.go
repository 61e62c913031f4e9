// Package agentcli runs the agent CLI as a subprocess and adapts its
// newline-delimited JSON protocol to the backend interfaces. Each handle
// owns one long-lived process; the session pool guarantees a handle is
// never driven by two callers at once.
package agentcli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/backend"
	"github.com/agentgate/agentgate/types"
)

// Config configures the agent CLI adapter.
type Config struct {
	// BinPath is the agent CLI executable.
	BinPath string `yaml:"bin_path"`

	// BaseArgs are prepended to every launch before per-handle flags.
	BaseArgs []string `yaml:"base_args"`

	// Env entries are appended to the subprocess environment.
	Env []string `yaml:"env"`

	// CloseTimeout bounds graceful shutdown before the process is killed.
	CloseTimeout time.Duration `yaml:"close_timeout"`

	// LineBufferSize is the scanner buffer cap for one protocol line.
	LineBufferSize int `yaml:"line_buffer_size"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BinPath:        "agent",
		CloseTimeout:   10 * time.Second,
		LineBufferSize: 4 << 20,
	}
}

// Factory launches agent CLI processes.
type Factory struct {
	config Config
	logger *zap.Logger
}

// NewFactory creates a factory for agent CLI handles.
func NewFactory(config Config, logger *zap.Logger) *Factory {
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = DefaultConfig().CloseTimeout
	}
	if config.LineBufferSize <= 0 {
		config.LineBufferSize = DefaultConfig().LineBufferSize
	}
	return &Factory{
		config: config,
		logger: logger.With(zap.String("component", "agentcli")),
	}
}

// New launches a subprocess and returns a handle bound to it.
func (f *Factory) New(ctx context.Context, opts backend.Options) (backend.Handle, error) {
	args := append([]string{}, f.config.BaseArgs...)
	args = append(args, "--input-format", "stream-json", "--output-format", "stream-json")
	if opts.Model != "" {
		args = append(args, "--model", backend.ResolveModel(opts.Model))
	}
	if opts.SystemPrompt != "" {
		args = append(args, "--system-prompt", opts.SystemPrompt)
	}
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", opts.PermissionMode)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(opts.AllowedTools, ","))
	}

	cmd := exec.Command(f.config.BinPath, args...)
	if opts.Workdir != "" {
		cmd.Dir = opts.Workdir
	}
	if len(f.config.Env) > 0 {
		cmd.Env = append(cmd.Environ(), f.config.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, types.NewError(types.ErrBackendUnavailable, "open stdin pipe").WithCause(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, types.NewError(types.ErrBackendUnavailable, "open stdout pipe").WithCause(err)
	}

	if err := cmd.Start(); err != nil {
		return nil, types.NewError(types.ErrBackendUnavailable, "start agent process").WithCause(err).WithRetryable(true)
	}

	h := &handle{
		cmd:     cmd,
		stdin:   stdin,
		lines:   make(chan wireMessage, 64),
		readErr: make(chan error, 1),
		closeTO: f.config.CloseTimeout,
		logger:  f.logger.With(zap.Int("pid", cmd.Process.Pid)),
	}
	go h.readLoop(stdout, f.config.LineBufferSize)

	f.logger.Debug("agent process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("model", opts.Model),
	)
	return h, nil
}

// handle is one live agent process. Serialized externally by the pool lease.
type handle struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	lines   chan wireMessage
	readErr chan error
	closeTO time.Duration
	logger  *zap.Logger

	writeMu sync.Mutex
	closed  atomic.Bool
	ctrlSeq atomic.Int64
}

func (h *handle) readLoop(stdout io.Reader, bufCap int) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), bufCap)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg wireMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			h.logger.Warn("unparseable protocol line", zap.Error(err))
			continue
		}
		h.lines <- msg
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	h.readErr <- err
	close(h.lines)
}

func (h *handle) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return types.NewError(types.ErrInternalError, "encode protocol line").WithCause(err)
	}
	data = append(data, '\n')

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if h.closed.Load() {
		return types.NewError(types.ErrBackendUnavailable, "handle closed")
	}
	if _, err := h.stdin.Write(data); err != nil {
		return types.NewError(types.ErrBackendUnavailable, "write to agent process").WithCause(err).WithRetryable(true)
	}
	return nil
}

// Invoke sends the conversation as one prompt turn and returns the stream
// of events the process emits up to its terminal result line.
func (h *handle) Invoke(ctx context.Context, conv types.Conversation, opts backend.InvokeOptions) (backend.EventStream, error) {
	if h.closed.Load() {
		return nil, types.NewError(types.ErrBackendUnavailable, "handle closed")
	}

	msg := wireMessage{
		Type:   wireUser,
		Prompt: BuildPrompt(conv),
	}
	if opts.MaxTokens > 0 {
		msg.MaxTokens = opts.MaxTokens
	}
	if opts.ThinkingBudget > 0 {
		msg.ThinkingBudget = opts.ThinkingBudget
	}
	if err := h.writeLine(msg); err != nil {
		return nil, err
	}

	return &eventStream{h: h}, nil
}

// Clear resets the process conversation memory via a control round-trip.
func (h *handle) Clear(ctx context.Context) error {
	if h.closed.Load() {
		return types.NewError(types.ErrBackendUnavailable, "handle closed")
	}

	id := fmt.Sprintf("ctl_%d", h.ctrlSeq.Add(1))
	if err := h.writeLine(wireMessage{Type: wireControl, Command: "clear", ControlID: id}); err != nil {
		return err
	}

	// The lease guarantees no stream is being consumed concurrently, so the
	// next control_response on the wire belongs to this request.
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-h.lines:
			if !ok {
				return h.deadErr()
			}
			if msg.Type != wireControlResponse {
				continue
			}
			if msg.ControlID != "" && msg.ControlID != id {
				continue
			}
			if !msg.Success {
				return types.NewError(types.ErrBackendRejected, "clear rejected: "+msg.Error)
			}
			return nil
		}
	}
}

// Close terminates the process: stdin is closed to request shutdown, then
// the process is killed if it does not exit within the close timeout.
func (h *handle) Close() error {
	if h.closed.Swap(true) {
		return nil
	}

	h.writeMu.Lock()
	_ = h.stdin.Close()
	h.writeMu.Unlock()

	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			h.logger.Debug("agent process exited with error", zap.Error(err))
		}
		return nil
	case <-time.After(h.closeTO):
		h.logger.Warn("agent process did not exit, killing")
		if err := h.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("kill agent process: %w", err)
		}
		<-done
		return nil
	}
}

func (h *handle) deadErr() error {
	select {
	case err := <-h.readErr:
		if err != nil && err != io.EOF {
			return types.NewError(types.ErrBackendUnavailable, "agent process read failed").WithCause(err).WithRetryable(true)
		}
	default:
	}
	return types.NewError(types.ErrBackendUnavailable, "agent process exited").WithRetryable(true)
}

// eventStream pulls protocol lines for one invocation.
type eventStream struct {
	h    *handle
	done bool
}

func (s *eventStream) Next(ctx context.Context) (backend.Event, error) {
	if s.done {
		return backend.Event{}, backend.ErrStreamDone
	}

	for {
		select {
		case <-ctx.Done():
			return backend.Event{}, ctx.Err()
		case msg, ok := <-s.h.lines:
			if !ok {
				s.done = true
				return backend.Event{}, s.h.deadErr()
			}
			ev, ok := msg.toEvent()
			if !ok {
				continue
			}
			if ev.Kind == backend.EventResult {
				s.done = true
			}
			return ev, nil
		}
	}
}

// Close abandons the stream. The handle is left mid-conversation; the pool
// release path clears it before reuse, so no draining is required here.
func (s *eventStream) Close() error {
	s.done = true
	return nil
}
