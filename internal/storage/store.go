// Package storage defines the unified persistence contract. Two backends
// implement it: PostgreSQL for deployments, SQLite for single-node and
// development use. All GORM usage is confined to the backend packages;
// domain types remain ORM-free.
package storage

import (
	"context"
	"time"

	"github.com/feedhive/feedhive/internal/agentrun"
	"github.com/feedhive/feedhive/internal/audit"
	"github.com/feedhive/feedhive/internal/confirm"
	"github.com/feedhive/feedhive/internal/domain"
	"github.com/feedhive/feedhive/internal/permission"
)

// Supported storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// BotStore resolves bots and manages their sources.
type BotStore interface {
	GetByKey(ctx context.Context, userID, botKey string) (*domain.Bot, error)
	GetByID(ctx context.Context, botID int64) (*domain.Bot, error)
	ResolveBotID(ctx context.Context, userID, botKey string) (*int64, error)
	ListSources(ctx context.Context, botID int64) ([]domain.Source, error)
	AddSource(ctx context.Context, botID int64, feedURL string) error
	RemoveSource(ctx context.Context, botID int64, feedURL string) error
}

// ProfileStore binds bots to report topics, idempotently.
type ProfileStore interface {
	GetOrCreate(ctx context.Context, botID int64, topic string) (*domain.ReportProfile, error)
}

// ReportStore persists published reports.
type ReportStore interface {
	Create(ctx context.Context, report *domain.Report) error
	List(ctx context.Context, botID int64, limit int) ([]domain.Report, error)
}

// ScheduleStore persists recurring bot runs.
type ScheduleStore interface {
	Ensure(ctx context.Context, botID int64, userID, cronExpression string) error
	ListEnabled(ctx context.Context) ([]domain.BotSchedule, error)
	UpdateAfterRun(ctx context.Context, schedule *domain.BotSchedule) error
}

// JobRunStore records scheduled pipeline executions, append-only.
type JobRunStore interface {
	Create(ctx context.Context, run *domain.JobRun) error
	Finish(ctx context.Context, run *domain.JobRun) error
	List(ctx context.Context, botID int64, limit int) ([]domain.JobRun, error)
}

// MemoryStore persists durable bot notes.
type MemoryStore interface {
	Append(ctx context.Context, botID int64, category, content string) error
	List(ctx context.Context, botID int64, limit int) ([]MemoryEntry, error)
}

// MemoryEntry is a stored bot note.
type MemoryEntry struct {
	ID        int64
	BotID     int64
	Category  string
	Content   string
	CreatedAt time.Time
}

// Store is the unified persistence interface.
type Store interface {
	Overrides() permission.OverrideStore
	Audit() audit.Logger
	Pending() confirm.PendingStore
	AgentRuns() agentrun.RunStore
	Bots() BotStore
	Profiles() ProfileStore
	Reports() ReportStore
	Schedules() ScheduleStore
	JobRuns() JobRunStore
	Memory() MemoryStore

	Driver() string
	Ping(ctx context.Context) error
	Close() error
}
