// Package sqlite implements the unified Store interface using SQLite via
// GORM. Uses modernc.org/sqlite (pure Go, no CGO) through the
// glebarez/sqlite GORM driver.
//
// Key differences from the PostgreSQL backend:
//   - WAL mode enabled by default for concurrent reads
//   - JSONB columns use TEXT type (SQLite stores JSON as text natively)
//   - No connection pooling (single file, WAL handles concurrency)
//
// The sub-stores reuse the PostgreSQL repository implementations: they
// operate on the same GORM models, and GORM's SQLite dialect handles the SQL
// differences transparently.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/feedhive/feedhive/internal/agentrun"
	"github.com/feedhive/feedhive/internal/audit"
	"github.com/feedhive/feedhive/internal/confirm"
	"github.com/feedhive/feedhive/internal/permission"
	"github.com/feedhive/feedhive/internal/storage"
	pgstore "github.com/feedhive/feedhive/internal/storage/postgres"
)

// Config holds SQLite-specific configuration.
type Config struct {
	Path        string // Database file path.
	JournalMode string // WAL mode by default.
}

// Store implements storage.Store backed by SQLite.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	path   string

	mu        sync.Mutex
	overrides permission.OverrideStore
	auditLog  audit.Logger
	pending   confirm.PendingStore
	agentRuns agentrun.RunStore
	bots      storage.BotStore
	profiles  storage.ProfileStore
	reports   storage.ReportStore
	schedules storage.ScheduleStore
	jobRuns   storage.JobRunStore
	memory    storage.MemoryStore
}

var _ storage.Store = (*Store)(nil)

// Open creates a new SQLite-backed Store and runs migrations.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path, journalMode)

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	if err := pgstore.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrating sqlite database: %w", err)
	}

	slogger.Info("sqlite store opened",
		slog.String("path", cfg.Path),
		slog.String("journal_mode", journalMode),
	)
	return &Store{db: db, logger: slogger, path: cfg.Path}, nil
}

func (s *Store) Overrides() permission.OverrideStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overrides == nil {
		s.overrides = pgstore.NewOverrideRepository(s.db)
	}
	return s.overrides
}

func (s *Store) Audit() audit.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditLog == nil {
		s.auditLog = pgstore.NewAuditRepository(s.db)
	}
	return s.auditLog
}

func (s *Store) Pending() confirm.PendingStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.pending = pgstore.NewPendingRepository(s.db)
	}
	return s.pending
}

func (s *Store) AgentRuns() agentrun.RunStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agentRuns == nil {
		s.agentRuns = pgstore.NewAgentRunRepository(s.db)
	}
	return s.agentRuns
}

func (s *Store) Bots() storage.BotStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bots == nil {
		s.bots = pgstore.NewBotRepository(s.db)
	}
	return s.bots
}

func (s *Store) Profiles() storage.ProfileStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profiles == nil {
		s.profiles = pgstore.NewProfileRepository(s.db)
	}
	return s.profiles
}

func (s *Store) Reports() storage.ReportStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reports == nil {
		s.reports = pgstore.NewReportRepository(s.db)
	}
	return s.reports
}

func (s *Store) Schedules() storage.ScheduleStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedules == nil {
		s.schedules = pgstore.NewScheduleRepository(s.db)
	}
	return s.schedules
}

func (s *Store) JobRuns() storage.JobRunStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobRuns == nil {
		s.jobRuns = pgstore.NewJobRunRepository(s.db)
	}
	return s.jobRuns
}

func (s *Store) Memory() storage.MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memory == nil {
		s.memory = pgstore.NewMemoryRepository(s.db)
	}
	return s.memory
}

func (s *Store) Driver() string { return storage.DriverSQLite }

// Ping checks the database file is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}
