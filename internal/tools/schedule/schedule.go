// Package schedule implements the schedule_write tool: persisting a
// recurring run cadence for a bot during an agent run.
package schedule

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/feedhive/feedhive/internal/permission"
	"github.com/feedhive/feedhive/internal/tools"
)

// Writer persists a recurring schedule for a bot.
type Writer interface {
	Ensure(ctx context.Context, botID int64, userID, cronExpression string) error
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// WriteTool sets a bot's schedule. Gated on SCHEDULE_WRITE (medium risk),
// which defaults to approval-required.
type WriteTool struct {
	writer Writer
	logger *slog.Logger
}

// NewWriteTool creates a schedule_write tool.
func NewWriteTool(writer Writer, logger *slog.Logger) *WriteTool {
	return &WriteTool{writer: writer, logger: logger}
}

func (t *WriteTool) Name() string                  { return "schedule_write" }
func (t *WriteTool) Description() string           { return "Set or update the bot's recurring run schedule" }
func (t *WriteTool) PermissionKey() permission.Key { return permission.KeyScheduleWrite }
func (t *WriteTool) RiskTier() permission.RiskTier { return permission.TierMedium }
func (t *WriteTool) IsLLM() bool                   { return false }

func (t *WriteTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	cronExpr, ok := params["cron"].(string)
	if !ok || cronExpr == "" {
		return nil, fmt.Errorf("parameter %q is required", "cron")
	}
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	userID, ok := params["user_id"].(string)
	if !ok || userID == "" {
		return nil, fmt.Errorf("parameter %q is required", "user_id")
	}

	botID, err := int64Param(params, "bot_id")
	if err != nil {
		return nil, err
	}

	if err := t.writer.Ensure(ctx, botID, userID, cronExpr); err != nil {
		return nil, fmt.Errorf("saving schedule: %w", err)
	}

	t.logger.InfoContext(ctx, "schedule saved",
		slog.Int64("bot_id", botID),
		slog.String("cron", cronExpr),
	)

	return &tools.Result{
		Output:   fmt.Sprintf("Schedule set: %s", cronExpr),
		Success:  true,
		Metadata: map[string]any{"cron": cronExpr},
	}, nil
}

func int64Param(params map[string]any, name string) (int64, error) {
	switch v := params[name].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("parameter %q is required", name)
	}
}
