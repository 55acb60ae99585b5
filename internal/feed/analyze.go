package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/feedhive/feedhive/internal/domain"
	"github.com/feedhive/feedhive/internal/llm"
	"github.com/feedhive/feedhive/internal/permission"
	"github.com/feedhive/feedhive/internal/pipeline"
)

const analyzeSystemPrompt = `You are a news analyst. Summarize the provided
feed items into a concise briefing on the given topic. Group related items,
highlight what is new, and skip items unrelated to the topic. Do not invent
facts not present in the input.`

// maxDescriptionBytes bounds how much of each item body is sent under
// full-content egress.
const maxDescriptionBytes = 1024

// ItemSource yields the collected items for a bot. Satisfied by *Collector.
type ItemSource interface {
	Items(botID int64) []Item
}

// Analyzer summarizes collected items with the bot's LLM provider. The
// effective egress level decides how much of each item leaves the system:
// metadata_only sends titles and links, full_content adds bodies, and none
// fails the step; nothing may reach the provider.
type Analyzer struct {
	source    ItemSource
	maxTokens int
	logger    *slog.Logger
}

var _ pipeline.Analyzer = (*Analyzer)(nil)

// NewAnalyzer creates an analyzer reading items from the given source.
func NewAnalyzer(source ItemSource, logger *slog.Logger) *Analyzer {
	return &Analyzer{source: source, maxTokens: 2048, logger: logger}
}

// Analyze sends the bot's collected items to the provider and returns the
// summary. maxEgress is the effective egress level name from the permission
// check.
func (a *Analyzer) Analyze(ctx context.Context, bot *domain.Bot, profile *domain.ReportProfile, provider llm.Provider, maxEgress string) (*pipeline.AnalysisOutput, error) {
	level := permission.ParseEgressLevel(maxEgress)
	if level == permission.EgressNone {
		return nil, fmt.Errorf("egress level %q forbids sending content to the provider", maxEgress)
	}

	items := a.source.Items(bot.ID)
	if len(items) == 0 {
		// Nothing collected yet: an honest empty summary, no LLM call.
		return &pipeline.AnalysisOutput{
			Summary:   fmt.Sprintf("No new items were found for %q.", profile.Topic),
			ItemCount: 0,
		}, nil
	}

	prompt := buildPrompt(profile.Topic, items, level)
	resp, err := provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: analyzeSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:    a.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("analyzing %d items: %w", len(items), err)
	}

	a.logger.DebugContext(ctx, "analysis complete",
		slog.Int64("bot_id", bot.ID),
		slog.Int("items", len(items)),
		slog.String("egress", level.String()),
		slog.Int("tokens_used", resp.TokensUsed),
	)

	return &pipeline.AnalysisOutput{
		Summary:   resp.Content,
		ItemCount: len(items),
	}, nil
}

func buildPrompt(topic string, items []Item, level permission.EgressLevel) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\nItems:\n", topic)
	for i, it := range items {
		fmt.Fprintf(&b, "%d. %s", i+1, it.Title)
		if it.Link != "" {
			fmt.Fprintf(&b, " (%s)", it.Link)
		}
		if it.Published != "" {
			fmt.Fprintf(&b, " [%s]", it.Published)
		}
		b.WriteString("\n")
		if level == permission.EgressFullContent && it.Description != "" {
			desc := it.Description
			if len(desc) > maxDescriptionBytes {
				desc = desc[:maxDescriptionBytes]
			}
			fmt.Fprintf(&b, "   %s\n", desc)
		}
	}
	return b.String()
}
