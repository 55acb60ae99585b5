package postgres

import (
	"context"
	"log/slog"
	"sync"

	"github.com/feedhive/feedhive/internal/agentrun"
	"github.com/feedhive/feedhive/internal/audit"
	"github.com/feedhive/feedhive/internal/confirm"
	"github.com/feedhive/feedhive/internal/permission"
	"github.com/feedhive/feedhive/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db     *DB
	logger *slog.Logger

	// Sub-store instances, created lazily on first access.
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

// NewStore wraps an open connection as the unified store.
func NewStore(db *DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) Overrides() permission.OverrideStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overrides == nil {
		s.overrides = NewOverrideRepository(s.db.GormDB())
	}
	return s.overrides
}

func (s *Store) Audit() audit.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditLog == nil {
		s.auditLog = NewAuditRepository(s.db.GormDB())
	}
	return s.auditLog
}

func (s *Store) Pending() confirm.PendingStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.pending = NewPendingRepository(s.db.GormDB())
	}
	return s.pending
}

func (s *Store) AgentRuns() agentrun.RunStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agentRuns == nil {
		s.agentRuns = NewAgentRunRepository(s.db.GormDB())
	}
	return s.agentRuns
}

func (s *Store) Bots() storage.BotStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bots == nil {
		s.bots = NewBotRepository(s.db.GormDB())
	}
	return s.bots
}

func (s *Store) Profiles() storage.ProfileStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profiles == nil {
		s.profiles = NewProfileRepository(s.db.GormDB())
	}
	return s.profiles
}

func (s *Store) Reports() storage.ReportStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reports == nil {
		s.reports = NewReportRepository(s.db.GormDB())
	}
	return s.reports
}

func (s *Store) Schedules() storage.ScheduleStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedules == nil {
		s.schedules = NewScheduleRepository(s.db.GormDB())
	}
	return s.schedules
}

func (s *Store) JobRuns() storage.JobRunStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobRuns == nil {
		s.jobRuns = NewJobRunRepository(s.db.GormDB())
	}
	return s.jobRuns
}

func (s *Store) Memory() storage.MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memory == nil {
		s.memory = NewMemoryRepository(s.db.GormDB())
	}
	return s.memory
}

func (s *Store) Driver() string { return storage.DriverPostgres }

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *Store) Close() error { return s.db.Close() }
