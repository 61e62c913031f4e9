package accesslog

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config tunes the SQLite sink's write batching.
type Config struct {
	Path          string        `yaml:"path" json:"path"`
	BatchSize     int           `yaml:"batch_size" json:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size" json:"buffer_size"`
}

// DefaultConfig returns the batching defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		BufferSize:    1024,
	}
}

// SQLiteSink writes entries to an embedded SQLite database. Record hands
// the entry to a background writer; a full buffer drops the entry rather
// than stalling the request.
type SQLiteSink struct {
	db     *gorm.DB
	config Config
	logger *zap.Logger

	entries chan Entry
	quit    chan struct{}
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Int64
}

// NewSQLiteSink opens (or creates) the database at cfg.Path, migrates the
// schema, and starts the background writer.
func NewSQLiteSink(cfg Config, logger *zap.Logger) (*SQLiteSink, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open access log db: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate access log schema: %w", err)
	}

	s := &SQLiteSink{
		db:      db,
		config:  cfg,
		logger:  logger.Named("accesslog"),
		entries: make(chan Entry, cfg.BufferSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.writeLoop()
	return s, nil
}

// Record implements Sink.
func (s *SQLiteSink) Record(_ context.Context, e Entry) {
	if s.closed.Load() {
		return
	}
	select {
	case s.entries <- e:
	default:
		if n := s.dropped.Add(1); n%100 == 1 {
			s.logger.Warn("access log buffer full, dropping entries", zap.Int64("dropped_total", n))
		}
	}
}

// Dropped returns how many entries were discarded due to backpressure.
func (s *SQLiteSink) Dropped() int64 { return s.dropped.Load() }

// Close stops the writer after flushing buffered entries.
func (s *SQLiteSink) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.quit)
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteSink) writeLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, s.config.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.db.Create(&batch).Error; err != nil {
			s.logger.Error("access log flush failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-s.entries:
			batch = append(batch, e)
			if len(batch) >= s.config.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.quit:
			for {
				select {
				case e := <-s.entries:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Filter narrows audit queries.
type Filter struct {
	Model      string
	Path       string
	OnlyErrors bool
	Limit      int
}

// Query returns recent entries matching the filter, newest first. Used by
// the audit endpoint and tests; the hot path never reads.
func (s *SQLiteSink) Query(ctx context.Context, f Filter) ([]Entry, error) {
	q := s.db.WithContext(ctx).Model(&Entry{}).Order("timestamp DESC")
	if f.Model != "" {
		q = q.Where("model = ?", f.Model)
	}
	if f.Path != "" {
		q = q.Where("path = ?", f.Path)
	}
	if f.OnlyErrors {
		q = q.Where("error <> ''")
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []Entry
	if err := q.Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query access logs: %w", err)
	}
	return out, nil
}
