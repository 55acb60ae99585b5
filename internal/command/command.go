// Package command defines the structured command produced by the external
// chat parser and consumed by the confirmation state machine. The parser
// itself (free text -> Command) is an external collaborator; this package
// only validates its output.
package command

import (
	"context"
	"errors"
	"fmt"
)

// ErrValidation marks a malformed command. Fail fast, no partial effect.
var ErrValidation = errors.New("invalid command")

// Type is the closed set of command types. Unknown types fail validation;
// they never execute silently.
type Type string

const (
	TypeChat         Type = "chat"          // Free conversation, never gated.
	TypeRunReport    Type = "run_report"    // Run the collect/analyze/report pipeline.
	TypeAddSource    Type = "add_source"    // Link an RSS source to a bot.
	TypeRemoveSource Type = "remove_source" // Unlink a source.
	TypeSetSchedule  Type = "set_schedule"  // Create/update a recurring run.
	TypeAgentRun     Type = "agent_run"     // Start a bounded agent run for a goal.
)

var knownTypes = map[Type]bool{
	TypeChat:         true,
	TypeRunReport:    true,
	TypeAddSource:    true,
	TypeRemoveSource: true,
	TypeSetSchedule:  true,
	TypeAgentRun:     true,
}

// Command is the validated, opaque value object the core executes.
type Command struct {
	Type         Type           `json:"type"`
	BotKey       string         `json:"bot_key,omitempty"` // Empty = no bot addressed.
	Args         map[string]any `json:"args,omitempty"`
	Confidence   float64        `json:"confidence"` // Parser confidence in [0,1].
	NeedsConfirm bool           `json:"needs_confirm"`
	ConfirmText  string         `json:"confirm_text,omitempty"` // Human-readable confirmation prompt.
}

// Validate checks structural invariants. It does not re-check parser
// confidence; the caller branches on the parser's clarification flag.
func (c *Command) Validate() error {
	if !knownTypes[c.Type] {
		return fmt.Errorf("%w: unknown type %q", ErrValidation, c.Type)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrValidation, c.Confidence)
	}
	if c.NeedsConfirm && c.ConfirmText == "" {
		return fmt.Errorf("%w: needs_confirm set without confirm_text", ErrValidation)
	}
	return nil
}

// ParseResult is what the external parser returns for a piece of free text.
type ParseResult struct {
	Command             Command
	ClarificationNeeded bool
	ClarificationText   string
}

// Parser turns free text into a structured command. External collaborator.
type Parser interface {
	Parse(ctx context.Context, text string, userID string) (*ParseResult, error)
}
