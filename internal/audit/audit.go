// Package audit implements append-only audit logging for permission
// decisions and command execution. Every decision outcome (allowed, denied,
// approval requested, approval granted) is logged; audit failures must never
// block the user-facing action (wrap loggers with BestEffort).
package audit

import (
	"context"
	"time"
)

// EventType is the closed vocabulary of audited events.
type EventType string

const (
	EventPermissionAllowed EventType = "permission_allowed"
	EventPermissionDenied  EventType = "permission_denied"
	EventApprovalRequested EventType = "approval_requested"
	EventApprovalGranted   EventType = "approval_granted"
	EventApprovalDenied    EventType = "approval_denied"
	EventApprovalExpired   EventType = "approval_expired"
	EventCommandExecuted   EventType = "command_executed"
	EventCommandCancelled  EventType = "command_cancelled"
	EventPipelineStep      EventType = "pipeline_step"
	EventAgentRunStarted   EventType = "agent_run_started"
	EventAgentRunFinished  EventType = "agent_run_finished"
	EventOverrideChanged   EventType = "override_changed"
)

// Event is a single entry in the append-only audit log.
type Event struct {
	UserID        string         `json:"user_id"`
	BotID         *int64         `json:"bot_id,omitempty"`
	ThreadID      string         `json:"thread_id,omitempty"`
	EventType     EventType      `json:"event_type"`
	PermissionKey string         `json:"permission_key,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Logger is the audit logging contract. Implementations append; they never
// mutate or delete existing entries.
type Logger interface {
	Log(ctx context.Context, event Event) error
	Close() error
}
