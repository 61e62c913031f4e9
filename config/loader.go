package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Backend   BackendConfig   `yaml:"backend" env:"BACKEND"`
	Session   SessionConfig   `yaml:"session" env:"SESSION"`
	Batch     BatchConfig     `yaml:"batch" env:"BATCH"`
	AccessLog AccessLogConfig `yaml:"access_log" env:"ACCESS_LOG"`
	Security  SecurityConfig  `yaml:"security" env:"SECURITY"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// BackendConfig configures the agent CLI backend.
type BackendConfig struct {
	// BinPath is the agent CLI executable.
	BinPath string `yaml:"bin_path" env:"BIN_PATH"`
	// Model is the default model when a request maps to no alias.
	Model string `yaml:"model" env:"MODEL"`
	// SystemPrompt overrides the backend's preset prompt when set.
	SystemPrompt string `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	// AllowedTools restricts backend tools; empty allows all.
	AllowedTools []string `yaml:"allowed_tools" env:"ALLOWED_TOOLS"`
	// MaxTurns caps agentic turns per invocation.
	MaxTurns int `yaml:"max_turns" env:"MAX_TURNS"`
	// PermissionMode is passed through to the backend.
	PermissionMode string `yaml:"permission_mode" env:"PERMISSION_MODE"`
	// Workdir is the backend's working directory.
	Workdir string `yaml:"workdir" env:"WORKDIR"`
	// MessageMode is the default for tool-activity rendering:
	// forward, formatted, or ignore.
	MessageMode string `yaml:"message_mode" env:"MESSAGE_MODE"`
	// InvokeTimeout bounds a single backend invocation.
	InvokeTimeout time.Duration `yaml:"invoke_timeout" env:"INVOKE_TIMEOUT"`
	// CloseTimeout bounds graceful subprocess shutdown.
	CloseTimeout time.Duration `yaml:"close_timeout" env:"CLOSE_TIMEOUT"`
}

// SessionConfig tunes the session pool.
type SessionConfig struct {
	MaxSessions     int           `yaml:"max_sessions" env:"MAX_SESSIONS"`
	TTL             time.Duration `yaml:"ttl" env:"TTL"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	ClearTimeout    time.Duration `yaml:"clear_timeout" env:"CLEAR_TIMEOUT"`
}

// BatchConfig tunes the batch engine.
type BatchConfig struct {
	Concurrency   int           `yaml:"concurrency" env:"CONCURRENCY"`
	Retention     time.Duration `yaml:"retention" env:"RETENTION"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// AccessLogConfig configures the SQLite audit sink.
type AccessLogConfig struct {
	Enabled       bool          `yaml:"enabled" env:"ENABLED"`
	Path          string        `yaml:"path" env:"PATH"`
	BatchSize     int           `yaml:"batch_size" env:"BATCH_SIZE"`
	FlushInterval time.Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
	BufferSize    int           `yaml:"buffer_size" env:"BUFFER_SIZE"`
}

// SecurityConfig covers auth, CORS, and rate limiting.
type SecurityConfig struct {
	// AuthKey enables static key auth when non-empty.
	AuthKey     string   `yaml:"auth_key" env:"AUTH_KEY"`
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS"`
	// RateLimitRPS caps requests per second per client; 0 disables.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures OTLP tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads configuration with the builder pattern.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the AGENTGATE env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "AGENTGATE"}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends an extra validation step.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration: defaults, then file, then env.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// MustLoad loads configuration or panics; for main() bootstrapping only.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}
	return cfg
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "server.http_port out of range")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "server.metrics_port out of range")
	}
	if c.Session.MaxSessions <= 0 {
		errs = append(errs, "session.max_sessions must be positive")
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, "session.ttl must be positive")
	}
	if c.Batch.Concurrency <= 0 {
		errs = append(errs, "batch.concurrency must be positive")
	}
	switch c.Backend.MessageMode {
	case "forward", "formatted", "ignore":
	default:
		errs = append(errs, "backend.message_mode must be forward, formatted, or ignore")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
