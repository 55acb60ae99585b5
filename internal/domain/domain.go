// Package domain defines cross-cutting entity types used across the system.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Bot is a user-configured report bot. It owns a set of RSS sources and
// periodically collects them, analyzes the content with an LLM, and publishes
// reports. BotKey is the short handle users type in chat ("@news", "crypto").
type Bot struct {
	ID          int64
	UserID      string
	BotKey      string // Unique per user. Chat commands address bots by this key.
	Name        string
	Topic       string // Report topic, e.g. "AI policy news".
	LLMProvider string // Bot-level provider override. Empty = system default.
	LLMModel    string
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Source is an RSS feed linked to a bot.
type Source struct {
	ID        int64
	BotID     int64
	URL       string
	Title     string
	Enabled   bool
	LastFetch *time.Time
	CreatedAt time.Time
}

// ReportProfile binds a bot to a report topic. Created lazily on the first
// pipeline run for a topic that has none; subsequent runs reuse it. The
// storage layer enforces uniqueness on (bot_id, topic) so concurrent first
// runs cannot create duplicates.
type ReportProfile struct {
	ID        int64
	BotID     int64
	Topic     string
	CreatedAt time.Time
}

// Report is a published analysis result.
type Report struct {
	ID        uuid.UUID
	ProfileID int64
	BotID     int64
	UserID    string
	Title     string
	Body      string
	ItemCount int // Source items that fed this report.
	CreatedAt time.Time
}

// BotSchedule is a recurring pipeline run for a bot.
// It runs as the UserID that created it, inheriting that user's permission
// policy and audit trail. No privilege escalation is possible.
type BotSchedule struct {
	ID             int64
	BotID          int64
	UserID         string
	CronExpression string // Standard 5-field cron (minute hour dom month dow).
	Enabled        bool
	NextRunAt      *time.Time
	LastRunAt      *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobRun is an append-only record of a single scheduled pipeline execution.
// Never updated after finalization.
type JobRun struct {
	ID           uuid.UUID
	ScheduleID   int64
	BotID        int64
	UserID       string
	Status       string // "running", "success", "failure".
	StartedAt    time.Time
	FinishedAt   *time.Time
	DurationMS   int64
	ErrorCode    string
	ErrorMessage string
}

// JobRun status values.
const (
	JobRunning = "running"
	JobSuccess = "success"
	JobFailure = "failure"
)

// NewID generates a new random UUID.
func NewID() uuid.UUID {
	return uuid.New()
}
