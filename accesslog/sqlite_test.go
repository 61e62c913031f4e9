package accesslog

import (
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agentgate/agentgate/testutil"
	"github.com/agentgate/agentgate/types"
)

func newTestSink(t *testing.T, cfg Config) *SQLiteSink {
	t.Helper()
	cfg.Path = filepath.Join(t.TempDir(), "access.db")
	s, err := NewSQLiteSink(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close(testutil.TestContext(t))
	})
	return s
}

func TestSQLiteSink_RecordAndQuery(t *testing.T) {
	ctx := testutil.TestContext(t)
	s := newTestSink(t, Config{FlushInterval: 10 * time.Millisecond})

	rc := types.NewRequestContext("req-1", "POST", "/v1/messages")
	rc.SetSessionID("conv-9")
	rc.SetModel("claude-sonnet-4-5")
	rc.SetStream(true)
	rc.AddTokens(12, 34)
	rc.SetDisconnectReason(types.DisconnectClient)

	s.Record(ctx, FromRequestContext(rc, http.StatusOK, "10.0.0.1", "test-agent"))
	s.Record(ctx, Entry{RequestID: "req-2", Path: "/v1/messages", Model: "other", Error: "boom", Timestamp: time.Now()})

	testutil.AssertEventuallyTrue(t, func() bool {
		rows, err := s.Query(ctx, Filter{})
		return err == nil && len(rows) == 2
	}, 2*time.Second, "background writer should flush on interval")

	rows, err := s.Query(ctx, Filter{Model: "claude-sonnet-4-5"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	e := rows[0]
	assert.Equal(t, "req-1", e.RequestID)
	assert.Equal(t, "conv-9", e.SessionID)
	assert.Equal(t, 12, e.InputTokens)
	assert.Equal(t, 34, e.OutputTokens)
	assert.True(t, e.Stream)
	assert.Equal(t, string(types.DisconnectClient), e.DisconnectReason)

	errs, err := s.Query(ctx, Filter{OnlyErrors: true})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "req-2", errs[0].RequestID)
}

func TestSQLiteSink_CloseFlushesBuffered(t *testing.T) {
	ctx := testutil.TestContext(t)
	cfg := Config{Path: filepath.Join(t.TempDir(), "access.db"), FlushInterval: time.Hour}
	s, err := NewSQLiteSink(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		s.Record(ctx, Entry{RequestID: "r", Path: "/health", Timestamp: time.Now()})
	}
	require.NoError(t, s.Close(ctx))

	reopened, err := NewSQLiteSink(Config{Path: cfg.Path}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer reopened.Close(ctx)

	rows, err := reopened.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, rows, 5)

	// Records after close are ignored, not a panic.
	s.Record(ctx, Entry{RequestID: "late"})
	require.NoError(t, s.Close(ctx))
}

func TestNopSink(t *testing.T) {
	ctx := testutil.TestContext(t)
	var s NopSink
	s.Record(ctx, Entry{})
	assert.NoError(t, s.Close(ctx))
}
