package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/accesslog"
	"github.com/agentgate/agentgate/api"
	"github.com/agentgate/agentgate/api/handlers"
	"github.com/agentgate/agentgate/api/middleware"
	"github.com/agentgate/agentgate/backend"
	"github.com/agentgate/agentgate/backend/agentcli"
	"github.com/agentgate/agentgate/batch"
	"github.com/agentgate/agentgate/config"
	"github.com/agentgate/agentgate/internal/metrics"
	"github.com/agentgate/agentgate/internal/server"
	"github.com/agentgate/agentgate/internal/telemetry"
	"github.com/agentgate/agentgate/session"
	"github.com/agentgate/agentgate/stream"
	"github.com/agentgate/agentgate/tokenizer"
	"github.com/agentgate/agentgate/types"
)

const poolStatsInterval = 15 * time.Second

// Server owns the gateway's runtime components and their shutdown order.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	providers *telemetry.Providers

	collector *metrics.Collector
	pool      *session.Pool
	engine    *batch.Engine
	sink      accesslog.Sink

	app        *server.Manager
	metricsSrv *server.Manager

	statsStop chan struct{}
	statsDone chan struct{}
}

// NewServer wires configuration into a runnable gateway.
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers) (*Server, error) {
	collector := metrics.NewCollector("agentgate", nil)

	factory := agentcli.NewFactory(agentcli.Config{
		BinPath:      cfg.Backend.BinPath,
		CloseTimeout: cfg.Backend.CloseTimeout,
	}, logger)

	opts := backend.Options{
		Model:          backend.ResolveModel(cfg.Backend.Model),
		SystemPrompt:   cfg.Backend.SystemPrompt,
		AllowedTools:   cfg.Backend.AllowedTools,
		MaxTurns:       cfg.Backend.MaxTurns,
		PermissionMode: cfg.Backend.PermissionMode,
		Workdir:        cfg.Backend.Workdir,
	}
	pool := session.NewPool(session.Config{
		MaxSessions:     cfg.Session.MaxSessions,
		TTL:             cfg.Session.TTL,
		CleanupInterval: cfg.Session.CleanupInterval,
		ClearTimeout:    cfg.Session.ClearTimeout,
	}, factory, opts, logger)

	var h *handlers.Handlers
	engine := batch.NewEngine(batch.Config{
		Concurrency:   cfg.Batch.Concurrency,
		Retention:     cfg.Batch.Retention,
		SweepInterval: cfg.Batch.SweepInterval,
	}, batch.ExecutorFunc(func(ctx context.Context, rc *types.RequestContext, req *api.MessagesRequest) (*api.MessagesResponse, error) {
		return h.Execute(ctx, rc, req)
	}), collector, logger)

	var sink accesslog.Sink = accesslog.NopSink{}
	if cfg.AccessLog.Enabled {
		sqlSink, err := accesslog.NewSQLiteSink(accesslog.Config{
			Path:          cfg.AccessLog.Path,
			BatchSize:     cfg.AccessLog.BatchSize,
			FlushInterval: cfg.AccessLog.FlushInterval,
			BufferSize:    cfg.AccessLog.BufferSize,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open access log: %w", err)
		}
		sink = sqlSink
	}

	h = handlers.New(handlers.Config{
		DefaultMode:   stream.ParseMode(cfg.Backend.MessageMode, stream.ModeForward),
		InvokeTimeout: cfg.Backend.InvokeTimeout,
		Version:       Version,
	}, pool, engine, tokenizer.NewCounter(logger), collector, collector, logger)

	limiter := middleware.NewIPLimiter(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)
	handler := middleware.Chain(h.Routes(),
		middleware.Observe(sink, collector, logger),
		middleware.CORS(cfg.Security.CORSOrigins),
		middleware.Auth(cfg.Security.AuthKey),
		limiter.Middleware(),
	)

	app := server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     server.DefaultConfig().IdleTimeout,
		MaxHeaderBytes:  server.DefaultConfig().MaxHeaderBytes,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	var metricsSrv *server.Manager
	if cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = server.NewManager(mux, server.Config{
			Addr:            fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		}, logger.Named("metrics"))
	}

	return &Server{
		cfg:        cfg,
		logger:     logger,
		providers:  providers,
		collector:  collector,
		pool:       pool,
		engine:     engine,
		sink:       sink,
		app:        app,
		metricsSrv: metricsSrv,
		statsStop:  make(chan struct{}),
		statsDone:  make(chan struct{}),
	}, nil
}

// Start launches the pool, the batch engine, and the listeners.
func (s *Server) Start() error {
	s.pool.Start()
	s.engine.Start()

	if err := s.app.Start(); err != nil {
		return err
	}
	if s.metricsSrv != nil {
		if err := s.metricsSrv.Start(); err != nil {
			return err
		}
	}
	go s.publishPoolStats()

	s.logger.Info("agentgate listening",
		zap.String("addr", s.app.Addr()),
		zap.String("model", s.cfg.Backend.Model),
		zap.Int("max_sessions", s.cfg.Session.MaxSessions),
	)
	return nil
}

// WaitForShutdown blocks on a signal or listener failure, then stops the
// components in dependency order: listeners first, then batch, then the
// pool, then the sinks.
func (s *Server) WaitForShutdown() {
	s.app.WaitForShutdown()
	s.Shutdown(context.Background())
}

// Shutdown stops everything; safe to call once after the listener exits.
func (s *Server) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()

	close(s.statsStop)
	<-s.statsDone

	if s.metricsSrv != nil {
		if err := s.metricsSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
	if err := s.engine.Stop(shutdownCtx); err != nil {
		s.logger.Warn("batch engine shutdown incomplete", zap.Error(err))
	}
	if err := s.pool.Stop(shutdownCtx); err != nil {
		s.logger.Warn("session pool shutdown incomplete", zap.Error(err))
	}
	if err := s.sink.Close(shutdownCtx); err != nil {
		s.logger.Warn("access log close failed", zap.Error(err))
	}
	if err := s.providers.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
}

func (s *Server) publishPoolStats() {
	defer close(s.statsDone)
	ticker := time.NewTicker(poolStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.collector.SetPoolStats(s.pool.Stats())
		case <-s.statsStop:
			return
		}
	}
}
