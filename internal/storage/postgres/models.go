package postgres

import "time"

// GORM models. Kept separate from domain types so ORM tags never leak into
// the core packages; converters live in the repositories.

// BotModel persists a user's report bot.
type BotModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	UserID      string `gorm:"size:64;not null;uniqueIndex:idx_bots_user_key,priority:1"`
	BotKey      string `gorm:"size:64;not null;uniqueIndex:idx_bots_user_key,priority:2"`
	Name        string `gorm:"size:128;not null"`
	Topic       string `gorm:"size:256"`
	LLMProvider string `gorm:"size:64"`
	LLMModel    string `gorm:"size:128"`
	Enabled     bool   `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (BotModel) TableName() string { return "bots" }

// SourceModel persists an RSS feed linked to a bot.
type SourceModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	BotID     int64  `gorm:"not null;uniqueIndex:idx_sources_bot_url,priority:1"`
	URL       string `gorm:"size:2048;not null;uniqueIndex:idx_sources_bot_url,priority:2"`
	Title     string `gorm:"size:256"`
	Enabled   bool   `gorm:"not null;default:true"`
	LastFetch *time.Time
	CreatedAt time.Time
}

func (SourceModel) TableName() string { return "sources" }

// ReportProfileModel binds a bot to a report topic. The unique index on
// (bot_id, topic) is what makes lazy profile creation idempotent under
// concurrent first runs.
type ReportProfileModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	BotID     int64  `gorm:"not null;uniqueIndex:idx_profiles_bot_topic,priority:1"`
	Topic     string `gorm:"size:256;not null;uniqueIndex:idx_profiles_bot_topic,priority:2"`
	CreatedAt time.Time
}

func (ReportProfileModel) TableName() string { return "report_profiles" }

// ReportModel persists a published report.
type ReportModel struct {
	ID        string    `gorm:"primaryKey;size:36"`
	ProfileID int64     `gorm:"not null;index"`
	BotID     int64     `gorm:"not null;index"`
	UserID    string    `gorm:"size:64;not null"`
	Title     string    `gorm:"size:512;not null"`
	Body      string    `gorm:"type:text"`
	ItemCount int       `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"index"`
}

func (ReportModel) TableName() string { return "reports" }

// BotScheduleModel persists a bot's recurring run. One schedule per bot.
type BotScheduleModel struct {
	ID             int64      `gorm:"primaryKey;autoIncrement"`
	BotID          int64      `gorm:"not null;uniqueIndex"`
	UserID         string     `gorm:"size:64;not null"`
	CronExpression string     `gorm:"size:64;not null"`
	Enabled        bool       `gorm:"not null;default:true"`
	NextRunAt      *time.Time `gorm:"index"`
	LastRunAt      *time.Time
	LastError      string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (BotScheduleModel) TableName() string { return "bot_schedules" }

// JobRunModel is an append-only record of one scheduled pipeline execution.
type JobRunModel struct {
	ID           string `gorm:"primaryKey;size:36"`
	ScheduleID   int64  `gorm:"not null;index"`
	BotID        int64  `gorm:"not null;index"`
	UserID       string `gorm:"size:64;not null"`
	Status       string `gorm:"size:16;not null"`
	StartedAt    time.Time
	FinishedAt   *time.Time
	DurationMS   int64
	ErrorCode    string `gorm:"size:64"`
	ErrorMessage string `gorm:"type:text"`
}

func (JobRunModel) TableName() string { return "job_runs" }

// PermissionOverrideModel persists one override row. ScopeID is 0 for global
// scope (never NULL) so the composite unique index holds in PostgreSQL.
type PermissionOverrideModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"size:64;not null;uniqueIndex:idx_overrides_ident,priority:1"`
	Scope     string `gorm:"size:16;not null;uniqueIndex:idx_overrides_ident,priority:2"`
	ScopeID   int64  `gorm:"not null;default:0;uniqueIndex:idx_overrides_ident,priority:3"`
	Key       string `gorm:"size:64;not null;uniqueIndex:idx_overrides_ident,priority:4"`
	Patch     []byte `gorm:"type:jsonb"`
	UpdatedAt time.Time
}

func (PermissionOverrideModel) TableName() string { return "permission_overrides" }

// AuditEventModel is one append-only audit row. Never updated.
type AuditEventModel struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	UserID        string    `gorm:"size:64;not null;index"`
	BotID         *int64    `gorm:"index"`
	ThreadID      string    `gorm:"size:64"`
	EventType     string    `gorm:"size:48;not null;index"`
	PermissionKey string    `gorm:"size:64"`
	Payload       []byte    `gorm:"type:jsonb"`
	CreatedAt     time.Time `gorm:"index"`
}

func (AuditEventModel) TableName() string { return "audit_events" }

// PendingConfirmationModel persists a parked command awaiting approve/deny.
type PendingConfirmationModel struct {
	ID          string `gorm:"primaryKey;size:32"`
	UserID      string `gorm:"size:64;not null;index"`
	ThreadID    string `gorm:"size:64"`
	Command     []byte `gorm:"type:jsonb;not null"`
	ConfirmText string `gorm:"type:text"`
	Status      string `gorm:"size:16;not null;index"`
	ResolvedBy  string `gorm:"size:64"`
	CreatedAt   time.Time
	ExpiresAt   time.Time `gorm:"index"`
	ResolvedAt  *time.Time
}

func (PendingConfirmationModel) TableName() string { return "pending_confirmations" }

// AgentRunModel persists a bounded agent run. Finalized exactly once.
type AgentRunModel struct {
	RunID         string `gorm:"primaryKey;size:36"`
	UserID        string `gorm:"size:64;not null;index"`
	BotID         *int64 `gorm:"index"`
	Goal          string `gorm:"type:text;not null"`
	PlanID        string `gorm:"size:32"`
	Status        string `gorm:"size:16;not null"`
	Reason        string `gorm:"size:48"`
	Summary       string `gorm:"type:text"`
	StepCount     int
	ToolCallCount int
	LLMCallCount  int
	RiskUsed      int
	StartedAt     time.Time
	FinishedAt    *time.Time
	DurationMS    int64
}

func (AgentRunModel) TableName() string { return "agent_runs" }

// AgentRunStepModel is one immutable step record of an agent run.
type AgentRunStepModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	RunID      string `gorm:"size:36;not null;index"`
	StepIndex  int    `gorm:"not null"`
	ToolKey    string `gorm:"size:64;not null"`
	Status     string `gorm:"size:16;not null"`
	Detail     string `gorm:"type:text"`
	DurationMS int64
	StartedAt  time.Time
}

func (AgentRunStepModel) TableName() string { return "agent_run_steps" }

// MemoryEntryModel is a durable bot note.
type MemoryEntryModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	BotID     int64  `gorm:"not null;index"`
	Category  string `gorm:"size:64;not null"`
	Content   string `gorm:"type:text;not null"`
	CreatedAt time.Time
}

func (MemoryEntryModel) TableName() string { return "memory_entries" }
