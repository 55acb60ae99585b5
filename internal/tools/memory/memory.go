// Package memory implements the memory_write tool: durable notes a bot
// accumulates across runs (observations, source quality hints, follow-ups).
package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/feedhive/feedhive/internal/permission"
	"github.com/feedhive/feedhive/internal/tools"
)

// Store persists memory entries.
type Store interface {
	Append(ctx context.Context, botID int64, category, content string) error
}

const maxContentBytes = 16 << 10 // 16 KB per entry

// WriteTool appends a note to a bot's memory. Gated on MEMORY_WRITE (low risk).
type WriteTool struct {
	store  Store
	logger *slog.Logger
}

// NewWriteTool creates a memory_write tool.
func NewWriteTool(store Store, logger *slog.Logger) *WriteTool {
	return &WriteTool{store: store, logger: logger}
}

func (t *WriteTool) Name() string                  { return "memory_write" }
func (t *WriteTool) Description() string           { return "Append a durable note to the bot's memory" }
func (t *WriteTool) PermissionKey() permission.Key { return permission.KeyMemoryWrite }
func (t *WriteTool) RiskTier() permission.RiskTier { return permission.TierLow }
func (t *WriteTool) IsLLM() bool                   { return false }

func (t *WriteTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	content, ok := params["content"].(string)
	if !ok || content == "" {
		return nil, fmt.Errorf("parameter %q is required", "content")
	}
	if len(content) > maxContentBytes {
		return nil, fmt.Errorf("content exceeds %d bytes", maxContentBytes)
	}

	botID, err := int64Param(params, "bot_id")
	if err != nil {
		return nil, err
	}

	category, _ := params["category"].(string)
	if category == "" {
		category = "note"
	}

	if err := t.store.Append(ctx, botID, category, content); err != nil {
		return nil, fmt.Errorf("appending memory entry: %w", err)
	}

	t.logger.DebugContext(ctx, "memory entry written",
		slog.Int64("bot_id", botID),
		slog.String("category", category),
	)

	return &tools.Result{
		Output:  "Noted.",
		Success: true,
	}, nil
}

// int64Param extracts an integer parameter that may arrive as float64 after
// JSON decoding.
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
