package agentrun

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/feedhive/feedhive/internal/permission"
)

// PlanGenerator builds a plan from a free-text goal. Implementations must be
// pure: no side effects, and the same goal with the same step cap always
// yields the same plan.
type PlanGenerator interface {
	GeneratePlan(goal string, maxSteps int) *Plan
}

// planRule maps goal keywords to a candidate step. Rules are evaluated in
// declaration order so plans keep a stable step ordering.
type planRule struct {
	keywords []string
	step     PlanStep
}

// keywordRules is the heuristic rule table. Later this planner can be swapped
// for an LLM-backed one behind the same PlanGenerator interface.
var keywordRules = []planRule{
	{
		keywords: []string{"collect", "rss", "feed", "news", "gather"},
		step:     PlanStep{ToolKey: "rss_fetch", PermissionKey: permission.KeyWebRSS, RiskTier: permission.TierLow},
	},
	{
		keywords: []string{"fetch", "page", "article", "website", "url"},
		step:     PlanStep{ToolKey: "web_fetch", PermissionKey: permission.KeyWebFetch, RiskTier: permission.TierMedium},
	},
	{
		keywords: []string{"source", "subscribe", "unsubscribe"},
		step:     PlanStep{ToolKey: "source_write", PermissionKey: permission.KeySourceWrite, RiskTier: permission.TierMedium},
	},
	{
		keywords: []string{"query", "database", "sql", "history", "stats"},
		step:     PlanStep{ToolKey: "db_query", PermissionKey: permission.KeyToolUse, RiskTier: permission.TierMedium},
	},
	{
		keywords: []string{"summar", "report", "analyz", "brief", "digest"},
		step:     PlanStep{ToolKey: "report_generate", PermissionKey: permission.KeyLLMUse, RiskTier: permission.TierMedium},
	},
	{
		keywords: []string{"schedule", "daily", "weekly", "cron", "recurring"},
		step:     PlanStep{ToolKey: "schedule_write", PermissionKey: permission.KeyScheduleWrite, RiskTier: permission.TierMedium},
	},
	{
		keywords: []string{"remember", "note", "memory"},
		step:     PlanStep{ToolKey: "memory_write", PermissionKey: permission.KeyMemoryWrite, RiskTier: permission.TierLow},
	},
}

// defaultSteps is the fallback plan when no keyword matches: collect then
// summarize, the most common thing a bot is asked to do.
var defaultSteps = []PlanStep{
	{ToolKey: "rss_fetch", PermissionKey: permission.KeyWebRSS, RiskTier: permission.TierLow},
	{ToolKey: "report_generate", PermissionKey: permission.KeyLLMUse, RiskTier: permission.TierMedium},
}

// KeywordPlanner builds plans by substring-matching the goal against the
// rule table. Deterministic and side-effect free.
type KeywordPlanner struct{}

var _ PlanGenerator = KeywordPlanner{}

// GeneratePlan scans the goal for keywords, collects the matching steps in
// rule order, deduplicates by tool, and truncates to maxSteps.
func (KeywordPlanner) GeneratePlan(goal string, maxSteps int) *Plan {
	lowered := strings.ToLower(goal)

	var steps []PlanStep
	seen := make(map[string]bool)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lowered, kw) {
				if !seen[rule.step.ToolKey] {
					steps = append(steps, rule.step)
					seen[rule.step.ToolKey] = true
				}
				break
			}
		}
	}
	if len(steps) == 0 {
		steps = append(steps, defaultSteps...)
	}
	if maxSteps > 0 && len(steps) > maxSteps {
		steps = steps[:maxSteps]
	}

	return &Plan{
		PlanID:      planID(goal, maxSteps),
		Goal:        goal,
		Steps:       steps,
		RiskSummary: summarizeRisk(steps),
	}
}

// planID is a stable digest of (goal, cap), so identical inputs produce the
// same plan identifier.
func planID(goal string, maxSteps int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", maxSteps, goal)))
	return hex.EncodeToString(sum[:8])
}
