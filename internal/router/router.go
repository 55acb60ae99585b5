// Package router dispatches validated commands to their executors: the
// report pipeline, the agent run loop, or direct store operations.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/robfig/cron/v3"

	"github.com/feedhive/feedhive/internal/agentrun"
	"github.com/feedhive/feedhive/internal/command"
	"github.com/feedhive/feedhive/internal/confirm"
	"github.com/feedhive/feedhive/internal/llm"
	"github.com/feedhive/feedhive/internal/pipeline"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// SourceStore mutates a bot's source list.
type SourceStore interface {
	Add(ctx context.Context, botID int64, feedURL string) error
	Remove(ctx context.Context, botID int64, feedURL string) error
}

// ScheduleWriter persists a recurring run for a bot.
type ScheduleWriter interface {
	Ensure(ctx context.Context, botID int64, userID, cronExpression string) error
}

// Router implements confirm.Dispatcher. run_report goes to the pipeline,
// agent_run to the bounded run loop, chat to the LLM, and the remaining
// command types to direct store operations.
type Router struct {
	pipeline  *pipeline.Executor
	runner    *agentrun.Runner
	sources   SourceStore
	schedules ScheduleWriter
	bots      confirm.BotResolver
	llm       *llm.Resolver
	logger    *slog.Logger

	// OnStep, when set, receives pipeline progress for streaming callers.
	OnStep pipeline.StepFunc
}

var _ confirm.Dispatcher = (*Router)(nil)

// New creates a command router.
func New(
	pipe *pipeline.Executor,
	runner *agentrun.Runner,
	sources SourceStore,
	schedules ScheduleWriter,
	bots confirm.BotResolver,
	resolver *llm.Resolver,
	logger *slog.Logger,
) *Router {
	return &Router{
		pipeline:  pipe,
		runner:    runner,
		sources:   sources,
		schedules: schedules,
		bots:      bots,
		llm:       resolver,
		logger:    logger,
	}
}

// Dispatch executes a command that has already passed validation and the
// permission gate.
func (r *Router) Dispatch(ctx context.Context, userID, threadID string, cmd command.Command) (*confirm.DispatchResult, error) {
	switch cmd.Type {
	case command.TypeChat:
		return r.chat(ctx, cmd)
	case command.TypeRunReport:
		return r.runReport(ctx, userID, cmd)
	case command.TypeAgentRun:
		return r.agentRun(ctx, userID, cmd)
	case command.TypeAddSource:
		return r.sourceWrite(ctx, userID, cmd, true)
	case command.TypeRemoveSource:
		return r.sourceWrite(ctx, userID, cmd, false)
	case command.TypeSetSchedule:
		return r.setSchedule(ctx, userID, cmd)
	default:
		return nil, fmt.Errorf("%w: no executor for command type %q", command.ErrValidation, cmd.Type)
	}
}

func (r *Router) chat(ctx context.Context, cmd command.Command) (*confirm.DispatchResult, error) {
	text, _ := cmd.Args["text"].(string)
	provider, err := r.llm.Resolve("")
	if err != nil {
		return &confirm.DispatchResult{OK: false, Message: "No LLM is configured. Set one up in settings."}, nil
	}
	resp, err := provider.SendMessage(ctx, &llm.Request{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: text}},
		MaxTokens: 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	return &confirm.DispatchResult{OK: true, Message: resp.Content}, nil
}

func (r *Router) runReport(ctx context.Context, userID string, cmd command.Command) (*confirm.DispatchResult, error) {
	result, err := r.pipeline.Run(ctx, userID, cmd, r.OnStep)
	if err != nil {
		return nil, err
	}
	data := map[string]any{"steps": result.Steps}
	if result.ReportID != "" {
		data["report_id"] = result.ReportID
	}
	return &confirm.DispatchResult{OK: result.OK, Message: result.Message, Data: data}, nil
}

func (r *Router) agentRun(ctx context.Context, userID string, cmd command.Command) (*confirm.DispatchResult, error) {
	goal, _ := cmd.Args["goal"].(string)
	if goal == "" {
		return nil, fmt.Errorf("%w: agent_run requires a goal", command.ErrValidation)
	}

	botID := r.resolveBot(ctx, userID, cmd.BotKey)
	result, err := r.runner.Execute(ctx, userID, botID, goal)
	if err != nil {
		return nil, err
	}
	return &confirm.DispatchResult{
		OK:      result.Status == agentrun.StatusSuccess,
		Message: result.Summary,
		Data: map[string]any{
			"run_id":     result.RunID,
			"status":     string(result.Status),
			"reason":     result.Reason,
			"step_count": result.StepCount,
		},
	}, nil
}

func (r *Router) sourceWrite(ctx context.Context, userID string, cmd command.Command, add bool) (*confirm.DispatchResult, error) {
	feedURL, _ := cmd.Args["url"].(string)
	parsed, err := url.Parse(feedURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("%w: invalid feed URL %q", command.ErrValidation, feedURL)
	}

	botID := r.resolveBot(ctx, userID, cmd.BotKey)
	if botID == nil {
		return &confirm.DispatchResult{OK: false, Message: "I can't find that bot. Check the bot key and try again."}, nil
	}

	if add {
		if err := r.sources.Add(ctx, *botID, feedURL); err != nil {
			return nil, fmt.Errorf("adding source: %w", err)
		}
		return &confirm.DispatchResult{OK: true, Message: fmt.Sprintf("Source added: %s", feedURL)}, nil
	}
	if err := r.sources.Remove(ctx, *botID, feedURL); err != nil {
		return nil, fmt.Errorf("removing source: %w", err)
	}
	return &confirm.DispatchResult{OK: true, Message: fmt.Sprintf("Source removed: %s", feedURL)}, nil
}

func (r *Router) setSchedule(ctx context.Context, userID string, cmd command.Command) (*confirm.DispatchResult, error) {
	cronExpr, _ := cmd.Args["cron"].(string)
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return nil, fmt.Errorf("%w: invalid cron expression %q", command.ErrValidation, cronExpr)
	}

	botID := r.resolveBot(ctx, userID, cmd.BotKey)
	if botID == nil {
		return &confirm.DispatchResult{OK: false, Message: "I can't find that bot. Check the bot key and try again."}, nil
	}

	if err := r.schedules.Ensure(ctx, *botID, userID, cronExpr); err != nil {
		return nil, fmt.Errorf("saving schedule: %w", err)
	}
	return &confirm.DispatchResult{OK: true, Message: fmt.Sprintf("Schedule set: %s", cronExpr)}, nil
}

func (r *Router) resolveBot(ctx context.Context, userID, botKey string) *int64 {
	if botKey == "" || r.bots == nil {
		return nil
	}
	botID, err := r.bots.ResolveBotID(ctx, userID, botKey)
	if err != nil {
		r.logger.WarnContext(ctx, "bot resolution failed",
			slog.String("bot_key", botKey),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return botID
}
