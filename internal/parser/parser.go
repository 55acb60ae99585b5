// Package parser implements the chat parser contract: free text in, a
// structured command out. The rule parser is deterministic so the
// confirmation flow can be tested without an LLM; an LLM-backed parser can
// replace it behind the same command.Parser interface.
package parser

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/feedhive/feedhive/internal/command"
)

// RuleParser matches free text against a fixed rule table. Rules are
// evaluated in declaration order; the first match wins. Text matching no
// rule becomes a chat command with full confidence; chat is the fallback,
// never a guess at a gated operation.
type RuleParser struct {
	logger *slog.Logger
}

// NewRuleParser creates a deterministic rule-based parser.
func NewRuleParser(logger *slog.Logger) *RuleParser {
	return &RuleParser{logger: logger}
}

var _ command.Parser = (*RuleParser)(nil)

var (
	urlPattern     = regexp.MustCompile(`https?://\S+`)
	botKeyPattern  = regexp.MustCompile(`@([a-zA-Z0-9_-]+)`)
	cronPattern    = regexp.MustCompile(`(?:^|\s)((?:[\d*/,-]+\s+){4}[\d*/,a-zA-Z-]+)(?:\s|$)`)
	schedulePhrase = regexp.MustCompile(`(?i)\b(?:every\s+day|daily)\b`)
)

// Parse classifies one piece of user text. It never returns ErrValidation;
// text it cannot classify is chat, and ambiguous gated requests come back
// with ClarificationNeeded instead of a low-confidence command.
func (p *RuleParser) Parse(ctx context.Context, text string, userID string) (*command.ParseResult, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &command.ParseResult{
			ClarificationNeeded: true,
			ClarificationText:   "I did not catch that. What would you like me to do?",
		}, nil
	}

	lowered := strings.ToLower(trimmed)
	botKey := extractBotKey(trimmed)

	switch {
	case matchesAny(lowered, "run report", "run the report", "generate report", "make a report", "build the report"):
		return p.runReport(trimmed, lowered, botKey)

	case matchesAny(lowered, "add source", "add feed", "subscribe to"):
		return p.sourceCommand(command.TypeAddSource, trimmed, botKey,
			"Which feed URL should I add?")

	case matchesAny(lowered, "remove source", "remove feed", "unsubscribe from", "drop source"):
		return p.sourceCommand(command.TypeRemoveSource, trimmed, botKey,
			"Which feed URL should I remove?")

	case matchesAny(lowered, "schedule", "every day", "daily report", "recurring"):
		return p.setSchedule(trimmed, lowered, botKey)

	case matchesAny(lowered, "agent:", "run agent", "agent run", "autonomously"):
		return p.agentRun(trimmed, botKey)
	}

	// Everything else is conversation.
	return &command.ParseResult{
		Command: command.Command{
			Type:       command.TypeChat,
			BotKey:     botKey,
			Args:       map[string]any{"text": trimmed},
			Confidence: 1.0,
		},
	}, nil
}

func (p *RuleParser) runReport(text, lowered, botKey string) (*command.ParseResult, error) {
	if botKey == "" {
		return &command.ParseResult{
			ClarificationNeeded: true,
			ClarificationText:   "Which bot should run the report? Address it with @bot-key.",
		}, nil
	}
	args := map[string]any{}
	if expr := extractCron(text, lowered); expr != "" {
		args["schedule"] = expr
	}
	return &command.ParseResult{
		Command: command.Command{
			Type:       command.TypeRunReport,
			BotKey:     botKey,
			Args:       args,
			Confidence: 0.95,
		},
	}, nil
}

func (p *RuleParser) sourceCommand(typ command.Type, text, botKey, askURL string) (*command.ParseResult, error) {
	feedURL := urlPattern.FindString(text)
	if feedURL == "" {
		return &command.ParseResult{ClarificationNeeded: true, ClarificationText: askURL}, nil
	}
	if botKey == "" {
		return &command.ParseResult{
			ClarificationNeeded: true,
			ClarificationText:   "Which bot is this source for? Address it with @bot-key.",
		}, nil
	}

	cmd := command.Command{
		Type:       typ,
		BotKey:     botKey,
		Args:       map[string]any{"url": strings.TrimRight(feedURL, ".,;)")},
		Confidence: 0.9,
	}
	// Removal is destructive: always offer a confirmation prompt so the
	// engine can park it when the policy requires approval.
	if typ == command.TypeRemoveSource {
		cmd.NeedsConfirm = true
		cmd.ConfirmText = fmt.Sprintf("Remove source %s from @%s?", cmd.Args["url"], botKey)
	}
	return &command.ParseResult{Command: cmd}, nil
}

func (p *RuleParser) setSchedule(text, lowered, botKey string) (*command.ParseResult, error) {
	if botKey == "" {
		return &command.ParseResult{
			ClarificationNeeded: true,
			ClarificationText:   "Which bot should be scheduled? Address it with @bot-key.",
		}, nil
	}
	expr := extractCron(text, lowered)
	if expr == "" {
		return &command.ParseResult{
			ClarificationNeeded: true,
			ClarificationText:   "When should it run? Give a 5-field cron expression or say \"daily\".",
		}, nil
	}
	return &command.ParseResult{
		Command: command.Command{
			Type:         command.TypeSetSchedule,
			BotKey:       botKey,
			Args:         map[string]any{"cron": expr},
			Confidence:   0.9,
			NeedsConfirm: true,
			ConfirmText:  fmt.Sprintf("Schedule @%s to run at %q?", botKey, expr),
		},
	}, nil
}

func (p *RuleParser) agentRun(text, botKey string) (*command.ParseResult, error) {
	goal := strings.TrimSpace(stripDirective(text))
	if goal == "" {
		return &command.ParseResult{
			ClarificationNeeded: true,
			ClarificationText:   "What should the agent do? Describe the goal.",
		}, nil
	}
	return &command.ParseResult{
		Command: command.Command{
			Type:         command.TypeAgentRun,
			BotKey:       botKey,
			Args:         map[string]any{"goal": goal},
			Confidence:   0.9,
			NeedsConfirm: true,
			ConfirmText:  fmt.Sprintf("Start an agent run for: %s?", goal),
		},
	}, nil
}

// extractBotKey pulls the @bot-key mention out of the text, if any.
func extractBotKey(text string) string {
	m := botKeyPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// extractCron returns a 5-field cron expression found in the text, or the
// canonical daily expression when the text says "daily"/"every day".
func extractCron(text, lowered string) string {
	if m := cronPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if schedulePhrase.MatchString(lowered) {
		return "0 8 * * *"
	}
	return ""
}

// stripDirective removes the agent-run trigger phrase, leaving the goal.
func stripDirective(text string) string {
	for _, prefix := range []string{"agent:", "run agent", "agent run"} {
		if idx := strings.Index(strings.ToLower(text), prefix); idx >= 0 {
			return text[idx+len(prefix):]
		}
	}
	return text
}

func matchesAny(lowered string, phrases ...string) bool {
	for _, p := range phrases {
		if strings.Contains(lowered, p) {
			return true
		}
	}
	return false
}
