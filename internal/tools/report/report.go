// Package report implements the report_generate tool: an LLM-backed
// summarization pass that agent runs use to draft a report from already
// collected content.
package report

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/feedhive/feedhive/internal/llm"
	"github.com/feedhive/feedhive/internal/permission"
	"github.com/feedhive/feedhive/internal/tools"
)

const systemPrompt = `You are a report writer. Summarize the provided items
into a concise, well-structured briefing. Use headings and bullet points.
Do not invent facts not present in the input.`

// GenerateTool drafts a report via the LLM. Gated on LLM_USE (medium risk);
// counts against the run's LLM-call budget.
type GenerateTool struct {
	resolver *llm.Resolver
	logger   *slog.Logger
}

// NewGenerateTool creates a report_generate tool.
func NewGenerateTool(resolver *llm.Resolver, logger *slog.Logger) *GenerateTool {
	return &GenerateTool{resolver: resolver, logger: logger}
}

func (t *GenerateTool) Name() string { return "report_generate" }
func (t *GenerateTool) Description() string {
	return "Draft a report summary from collected content using the LLM"
}
func (t *GenerateTool) PermissionKey() permission.Key { return permission.KeyLLMUse }
func (t *GenerateTool) RiskTier() permission.RiskTier { return permission.TierMedium }
func (t *GenerateTool) IsLLM() bool                   { return true }

func (t *GenerateTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	content, ok := params["content"].(string)
	if !ok || content == "" {
		return nil, fmt.Errorf("parameter %q is required", "content")
	}

	providerKey, _ := params["provider"].(string)
	provider, err := t.resolver.Resolve(providerKey)
	if err != nil {
		return nil, fmt.Errorf("resolving LLM provider: %w", err)
	}

	topic, _ := params["topic"].(string)
	userPrompt := content
	if topic != "" {
		userPrompt = fmt.Sprintf("Topic: %s\n\n%s", topic, content)
	}

	resp, err := provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: userPrompt}},
		MaxTokens:    2048,
	})
	if err != nil {
		return nil, fmt.Errorf("generating report: %w", err)
	}

	t.logger.DebugContext(ctx, "report draft generated",
		slog.String("provider", provider.Name()),
		slog.Int("tokens_used", resp.TokensUsed),
	)

	return &tools.Result{
		Output:  tools.TruncateOutput(resp.Content, tools.MaxOutputBytes),
		Success: true,
		Metadata: map[string]any{
			"provider":    provider.Name(),
			"tokens_used": resp.TokensUsed,
		},
	}, nil
}
