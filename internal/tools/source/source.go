// Package source implements the source_write tool: adding or removing a
// bot's RSS sources from within an agent run.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/feedhive/feedhive/internal/permission"
	"github.com/feedhive/feedhive/internal/tools"
)

// Store mutates a bot's source list.
type Store interface {
	Add(ctx context.Context, botID int64, feedURL string) error
	Remove(ctx context.Context, botID int64, feedURL string) error
}

// WriteTool adds or removes a source. Gated on SOURCE_WRITE (medium risk).
type WriteTool struct {
	store  Store
	logger *slog.Logger
}

// NewWriteTool creates a source_write tool.
func NewWriteTool(store Store, logger *slog.Logger) *WriteTool {
	return &WriteTool{store: store, logger: logger}
}

func (t *WriteTool) Name() string                  { return "source_write" }
func (t *WriteTool) Description() string           { return "Add or remove an RSS source on the bot" }
func (t *WriteTool) PermissionKey() permission.Key { return permission.KeySourceWrite }
func (t *WriteTool) RiskTier() permission.RiskTier { return permission.TierMedium }
func (t *WriteTool) IsLLM() bool                   { return false }

func (t *WriteTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	action, _ := params["action"].(string)
	if action != "add" && action != "remove" {
		return nil, fmt.Errorf("parameter %q must be \"add\" or \"remove\"", "action")
	}

	feedURL, ok := params["url"].(string)
	if !ok || feedURL == "" {
		return nil, fmt.Errorf("parameter %q is required", "url")
	}
	parsed, err := url.Parse(feedURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("invalid feed URL %q", feedURL)
	}

	botID, err := int64Param(params, "bot_id")
	if err != nil {
		return nil, err
	}

	var past string
	switch action {
	case "add":
		err = t.store.Add(ctx, botID, feedURL)
		past = "added"
	case "remove":
		err = t.store.Remove(ctx, botID, feedURL)
		past = "removed"
	}
	if err != nil {
		return nil, fmt.Errorf("%s source: %w", action, err)
	}

	t.logger.InfoContext(ctx, "source updated",
		slog.Int64("bot_id", botID),
		slog.String("action", action),
		slog.String("url", feedURL),
	)

	return &tools.Result{
		Output:   fmt.Sprintf("Source %s: %s", past, feedURL),
		Success:  true,
		Metadata: map[string]any{"action": action, "url": feedURL},
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
