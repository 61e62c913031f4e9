package config

import "time"

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			HTTPPort:        8787,
			MetricsPort:     9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0, // streaming responses must not be cut off
			ShutdownTimeout: 15 * time.Second,
		},
		Backend: BackendConfig{
			BinPath:        "claude",
			Model:          "claude-sonnet-4-5-20250514",
			MaxTurns:       10,
			PermissionMode: "acceptEdits",
			MessageMode:    "forward",
			InvokeTimeout:  5 * time.Minute,
			CloseTimeout:   10 * time.Second,
		},
		Session: SessionConfig{
			MaxSessions:     100,
			TTL:             time.Hour,
			CleanupInterval: time.Minute,
			ClearTimeout:    30 * time.Second,
		},
		Batch: BatchConfig{
			Concurrency:   5,
			Retention:     29 * 24 * time.Hour,
			SweepInterval: time.Hour,
		},
		AccessLog: AccessLogConfig{
			Enabled:       false,
			Path:          "data/access_logs.db",
			BatchSize:     100,
			FlushInterval: 5 * time.Second,
			BufferSize:    1024,
		},
		Security: SecurityConfig{
			CORSOrigins:    []string{"*"},
			RateLimitRPS:   0,
			RateLimitBurst: 20,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "agentgate",
			SampleRate:   1.0,
		},
	}
}
