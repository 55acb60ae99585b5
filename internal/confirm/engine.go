package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/feedhive/feedhive/internal/audit"
	"github.com/feedhive/feedhive/internal/command"
	"github.com/feedhive/feedhive/internal/permission"
)

// OutcomeKind classifies what happened to a submitted command.
type OutcomeKind string

const (
	OutcomeClarification OutcomeKind = "clarification" // Terminal: ask the user to rephrase.
	OutcomeExecuted      OutcomeKind = "executed"
	OutcomePending       OutcomeKind = "pending" // Parked, awaiting approve/deny.
	OutcomeDenied        OutcomeKind = "denied"
	OutcomeCancelled     OutcomeKind = "cancelled"
)

// Outcome is the result of handling or confirming a command.
type Outcome struct {
	Kind      OutcomeKind
	Text      string // User-facing message (clarification prompt, confirm text, denial reason, result).
	PendingID string // Set when Kind is OutcomePending.
	Result    *DispatchResult
}

// DispatchResult is the outcome of actually executing a command.
type DispatchResult struct {
	OK      bool
	Message string
	Data    map[string]any
}

// Dispatcher routes a confirmed (or auto-allowed) command to its executor:
// the pipeline for run_report, the agent runner for agent_run, the direct
// command router for everything else.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID, threadID string, cmd command.Command) (*DispatchResult, error)
}

// BotResolver resolves a bot key to its ID for permission scoping.
// Unknown keys resolve to nil (global scope only).
type BotResolver interface {
	ResolveBotID(ctx context.Context, userID, botKey string) (*int64, error)
}

// Engine drives the confirmation state machine:
//
//	RECEIVED -> PARSED -> CLARIFICATION_NEEDED (terminal)
//	                   -> IMMEDIATE_EXEC -> DONE
//	                   -> PENDING_CONFIRM -> CONFIRMED -> EXEC -> DONE|ERROR
//	                                      -> CANCELLED (terminal)
//	                                      -> EXPIRED (terminal, via sweep)
type Engine struct {
	parser     command.Parser
	perms      *permission.Engine
	grants     *permission.OneTimeGrants
	manager    ConfirmationManager
	dispatcher Dispatcher
	bots       BotResolver
	audit      audit.Logger
	logger     *slog.Logger
}

// NewEngine creates a confirmation engine. The grants store is injected so
// tests get isolated one-time-approval state.
func NewEngine(
	parser command.Parser,
	perms *permission.Engine,
	grants *permission.OneTimeGrants,
	manager ConfirmationManager,
	dispatcher Dispatcher,
	bots BotResolver,
	auditLog audit.Logger,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		parser:     parser,
		perms:      perms,
		grants:     grants,
		manager:    manager,
		dispatcher: dispatcher,
		bots:       bots,
		audit:      auditLog,
		logger:     logger,
	}
}

// keyForType maps each gated command type to the permission key that governs
// it. Chat is absent: it is never gated.
var keyForType = map[command.Type]permission.Key{
	command.TypeRunReport:    permission.KeyWebRSS,
	command.TypeAddSource:    permission.KeySourceWrite,
	command.TypeRemoveSource: permission.KeySourceWrite,
	command.TypeSetSchedule:  permission.KeyScheduleWrite,
	command.TypeAgentRun:     permission.KeyAgentRun,
}

// gateKey returns the permission key governing cmd. A report run that also
// carries an inline schedule is gated on the stricter SCHEDULE_WRITE key, so
// the approval happens here and the pipeline's schedule step runs under it.
func gateKey(cmd command.Command) permission.Key {
	if cmd.Type == command.TypeRunReport {
		if cron, ok := cmd.Args["schedule"].(string); ok && cron != "" {
			return permission.KeyScheduleWrite
		}
	}
	return keyForType[cmd.Type]
}

// Handle processes one piece of user text end to end: parse, validate, gate,
// and either execute, park, or explain.
func (e *Engine) Handle(ctx context.Context, userID, threadID, text string) (*Outcome, error) {
	parsed, err := e.parser.Parse(ctx, text, userID)
	if err != nil {
		return nil, fmt.Errorf("parsing command: %w", err)
	}

	// Low parser confidence: ask for clarification, persist nothing.
	if parsed.ClarificationNeeded {
		return &Outcome{Kind: OutcomeClarification, Text: parsed.ClarificationText}, nil
	}

	cmd := parsed.Command
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	// Chat is never gated or parked.
	if cmd.Type == command.TypeChat {
		return e.execute(ctx, userID, threadID, cmd)
	}

	sub, key := e.subjectFor(ctx, userID, threadID, cmd)
	check := e.perms.CheckPermission(ctx, sub, key)

	switch {
	case check.Allowed:
		// Policy allows, but the parser may still want explicit confirmation.
		if cmd.NeedsConfirm {
			return e.park(ctx, userID, threadID, cmd, cmd.ConfirmText)
		}
		return e.execute(ctx, userID, threadID, cmd)

	case check.RequiresApproval:
		// A one-time grant from a recent approval is consumed on first use.
		if e.grants.Consume(userID, key) {
			e.logAudit(ctx, sub, audit.EventApprovalGranted, key, map[string]any{"via": "one_time_grant"})
			return e.execute(ctx, userID, threadID, cmd)
		}
		confirmText := cmd.ConfirmText
		if confirmText == "" {
			confirmText = check.Reason
		}
		e.logAudit(ctx, sub, audit.EventApprovalRequested, key, map[string]any{"command_type": string(cmd.Type)})
		return e.park(ctx, userID, threadID, cmd, confirmText)

	default:
		e.logAudit(ctx, sub, audit.EventPermissionDenied, key, map[string]any{"reason": check.Reason})
		return &Outcome{Kind: OutcomeDenied, Text: check.Reason}, nil
	}
}

// Confirm resolves a pending confirmation. A second call on the same ID
// fails with ErrNotFound semantics; the command executes at most once.
func (e *Engine) Confirm(ctx context.Context, pendingID string, approve bool, resolverID string) (*Outcome, error) {
	pc, err := e.manager.Consume(ctx, pendingID, approve, resolverID)
	if err != nil {
		if errors.Is(err, ErrAlreadyResolved) || errors.Is(err, ErrExpired) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, err)
		}
		return nil, err
	}

	sub, key := e.subjectFor(ctx, pc.UserID, pc.ThreadID, pc.Command)

	if !approve {
		e.logAudit(ctx, sub, audit.EventCommandCancelled, key, map[string]any{"pending_id": pendingID})
		return &Outcome{Kind: OutcomeCancelled, Text: "Cancelled."}, nil
	}

	e.logAudit(ctx, sub, audit.EventApprovalGranted, key, map[string]any{"pending_id": pendingID, "resolver": resolverID})

	// The human approval doubles as a one-time grant so a downstream per-step
	// check on the same key passes exactly once for this command.
	e.grants.Grant(pc.UserID, key)

	return e.execute(ctx, pc.UserID, pc.ThreadID, pc.Command)
}

func (e *Engine) park(ctx context.Context, userID, threadID string, cmd command.Command, confirmText string) (*Outcome, error) {
	id, err := e.manager.Create(ctx, &CreateRequest{
		UserID:      userID,
		ThreadID:    threadID,
		Command:     cmd,
		ConfirmText: confirmText,
	})
	if err != nil {
		return nil, fmt.Errorf("parking confirmation: %w", err)
	}
	return &Outcome{Kind: OutcomePending, Text: confirmText, PendingID: id}, nil
}

func (e *Engine) execute(ctx context.Context, userID, threadID string, cmd command.Command) (*Outcome, error) {
	result, err := e.dispatcher.Dispatch(ctx, userID, threadID, cmd)
	if err != nil {
		return nil, err
	}

	if cmd.Type != command.TypeChat {
		sub, key := e.subjectFor(ctx, userID, threadID, cmd)
		e.logAudit(ctx, sub, audit.EventCommandExecuted, key, map[string]any{
			"command_type": string(cmd.Type),
			"ok":           result.OK,
		})
	}
	return &Outcome{Kind: OutcomeExecuted, Text: result.Message, Result: result}, nil
}

func (e *Engine) subjectFor(ctx context.Context, userID, threadID string, cmd command.Command) (permission.Subject, permission.Key) {
	sub := permission.Subject{UserID: userID, ThreadID: threadID}
	if cmd.BotKey != "" && e.bots != nil {
		// Resolution failure leaves the subject bot-less; the global layer
		// still applies, never a wider grant.
		if botID, err := e.bots.ResolveBotID(ctx, userID, cmd.BotKey); err == nil {
			sub.BotID = botID
		}
	}
	return sub, gateKey(cmd)
}

func (e *Engine) logAudit(ctx context.Context, sub permission.Subject, eventType audit.EventType, key permission.Key, payload map[string]any) {
	_ = e.audit.Log(ctx, audit.Event{
		UserID:        sub.UserID,
		BotID:         sub.BotID,
		ThreadID:      sub.ThreadID,
		EventType:     eventType,
		PermissionKey: string(key),
		Payload:       payload,
	})
}
