// Package agentrun implements the bounded agent run loop: given a free-text
// goal it builds a capped plan of tool invocations and executes them under
// hard step, runtime, tool-call, and risk-budget ceilings, recording one of a
// fixed set of termination reasons.
package agentrun

import (
	"fmt"
	"strings"
	"time"

	"github.com/feedhive/feedhive/internal/permission"
)

// Status is the run-level terminal status.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
	StatusBlocked Status = "blocked"
	StatusDenied  Status = "denied"
)

// StepStatus is the per-step outcome.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepError   StepStatus = "error"
	StepBlocked StepStatus = "blocked"
	StepDenied  StepStatus = "denied"
)

// Termination reasons recorded in the run summary. Fixed vocabulary.
const (
	ReasonCompleted        = "completed"
	ReasonStepLimit        = "step_limit_reached"
	ReasonToolLimit        = "tool_limit_reached"
	ReasonTimeout          = "timeout"
	ReasonRiskLimit        = "risk_limit_reached"
	ReasonStepDenied       = "step_denied"
	ReasonApprovalRequired = "approval_required"
	ReasonStepFailed       = "step_failed"
)

// PlanStep is one candidate tool invocation in a plan.
type PlanStep struct {
	ToolKey       string              `json:"tool_key"`
	PermissionKey permission.Key      `json:"permission_key"`
	RiskTier      permission.RiskTier `json:"risk_tier"`
	Params        map[string]any      `json:"params,omitempty"`
}

// Plan is an ordered, capped list of candidate steps for a goal.
type Plan struct {
	PlanID      string     `json:"plan_id"`
	Goal        string     `json:"goal"`
	Steps       []PlanStep `json:"steps"`
	RiskSummary string     `json:"risk_summary"`
}

// StepRecord is the immutable record of one executed (or halted) step.
type StepRecord struct {
	StepIndex  int        `json:"step_index"`
	ToolKey    string     `json:"tool_key"`
	Status     StepStatus `json:"status"`
	Detail     string     `json:"detail,omitempty"`
	DurationMS int64      `json:"duration_ms"`
	StartedAt  time.Time  `json:"started_at"`
}

// Run is the persisted run record. Created with StatusRunning at start and
// finalized exactly once.
type Run struct {
	RunID         string     `json:"run_id"`
	UserID        string     `json:"user_id"`
	BotID         *int64     `json:"bot_id,omitempty"`
	Goal          string     `json:"goal"`
	PlanID        string     `json:"plan_id"`
	Status        Status     `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	Summary       string     `json:"summary,omitempty"`
	StepCount     int        `json:"step_count"`
	ToolCallCount int        `json:"tool_call_count"`
	LLMCallCount  int        `json:"llm_call_count"`
	RiskUsed      int        `json:"risk_used"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	DurationMS    int64      `json:"duration_ms"`
}

// RunResult is the caller-facing outcome of a run.
type RunResult struct {
	RunID     string       `json:"run_id"`
	Status    Status       `json:"status"`
	Reason    string       `json:"reason"`
	Summary   string       `json:"summary"`
	StepCount int          `json:"step_count"`
	Steps     []StepRecord `json:"steps"`
}

// Limits are the hard ceilings enforced before each step.
type Limits struct {
	MaxSteps     int
	MaxToolCalls int
	MaxRuntime   time.Duration
	RiskBudget   int // 0 = resolve from RISK_BUDGET_LIMIT policy.
}

// DefaultLimits are applied for zero-valued fields.
var DefaultLimits = Limits{
	MaxSteps:     8,
	MaxToolCalls: 12,
	MaxRuntime:   2 * time.Minute,
}

func (l Limits) withDefaults() Limits {
	if l.MaxSteps <= 0 {
		l.MaxSteps = DefaultLimits.MaxSteps
	}
	if l.MaxToolCalls <= 0 {
		l.MaxToolCalls = DefaultLimits.MaxToolCalls
	}
	if l.MaxRuntime <= 0 {
		l.MaxRuntime = DefaultLimits.MaxRuntime
	}
	return l
}

// riskScores maps a risk tier to its budget cost.
var riskScores = map[permission.RiskTier]int{
	permission.TierLow:      1,
	permission.TierMedium:   3,
	permission.TierHigh:     7,
	permission.TierCritical: 15,
}

// RiskScore returns the budget cost of executing a step at the given tier.
func RiskScore(tier permission.RiskTier) int {
	if s, ok := riskScores[tier]; ok {
		return s
	}
	return riskScores[permission.TierCritical]
}

// summarizeRisk renders a per-tier step count, e.g. "2 low, 1 medium".
func summarizeRisk(steps []PlanStep) string {
	counts := make(map[permission.RiskTier]int)
	for _, s := range steps {
		counts[s.RiskTier]++
	}
	tiers := []permission.RiskTier{
		permission.TierLow, permission.TierMedium,
		permission.TierHigh, permission.TierCritical,
	}
	var parts []string
	for _, t := range tiers {
		if n := counts[t]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, strings.ToLower(t.String())))
		}
	}
	if len(parts) == 0 {
		return "no steps"
	}
	return strings.Join(parts, ", ")
}
