package agentrun

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/feedhive/feedhive/internal/audit"
	"github.com/feedhive/feedhive/internal/permission"
	"github.com/feedhive/feedhive/internal/tools"
)

// Runner drives the bounded loop. One Execute call runs its steps strictly
// sequentially; step i+1 never begins before step i's record has been
// persisted. Independent runs may interleave freely.
type Runner struct {
	registry *tools.Registry
	perms    *permission.Engine
	grants   *permission.OneTimeGrants
	planner  PlanGenerator
	store    RunStore
	audit    audit.Logger
	metrics  *Metrics
	logger   *slog.Logger
	limits   Limits

	now func() time.Time // injectable clock for timeout tests
}

// NewRunner creates a run loop.
func NewRunner(
	registry *tools.Registry,
	perms *permission.Engine,
	grants *permission.OneTimeGrants,
	planner PlanGenerator,
	store RunStore,
	auditLog audit.Logger,
	metrics *Metrics,
	limits Limits,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		registry: registry,
		perms:    perms,
		grants:   grants,
		planner:  planner,
		store:    store,
		audit:    auditLog,
		metrics:  metrics,
		logger:   logger,
		limits:   limits.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Execute plans and runs a goal for the given subject. The returned error is
// reserved for infrastructure failures (the run store itself is unreachable);
// policy and limit halts are reported through the RunResult.
func (r *Runner) Execute(ctx context.Context, userID string, botID *int64, goal string) (*RunResult, error) {
	plan := r.planner.GeneratePlan(goal, r.limits.MaxSteps)

	run := &Run{
		RunID:     uuid.NewString(),
		UserID:    userID,
		BotID:     botID,
		Goal:      goal,
		PlanID:    plan.PlanID,
		Status:    StatusRunning,
		StartedAt: r.now(),
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating run record: %w", err)
	}

	_ = r.audit.Log(ctx, audit.Event{
		UserID:    userID,
		BotID:     botID,
		EventType: audit.EventAgentRunStarted,
		Payload:   map[string]any{"run_id": run.RunID, "goal": goal, "plan_steps": len(plan.Steps)},
	})

	result := r.loop(ctx, run, plan)

	if err := r.finalize(ctx, run, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Runner) loop(ctx context.Context, run *Run, plan *Plan) *RunResult {
	sub := permission.Subject{UserID: run.UserID, BotID: run.BotID}
	budget := r.riskBudget(ctx, sub)
	result := &RunResult{RunID: run.RunID}

	for i, step := range plan.Steps {
		// Limit checks, in fixed order. The first violated limit wins and
		// halts the loop without executing the step.
		if r.now().Sub(run.StartedAt) >= r.limits.MaxRuntime {
			return r.halt(result, run, StatusTimeout, ReasonTimeout,
				fmt.Sprintf("Stopped early: runtime limit reached after %d steps.", result.StepCount))
		}
		if result.StepCount >= r.limits.MaxSteps {
			return r.halt(result, run, StatusSuccess, ReasonStepLimit,
				fmt.Sprintf("Stopped early: step limit (%d) reached.", r.limits.MaxSteps))
		}
		if run.ToolCallCount >= r.limits.MaxToolCalls {
			return r.halt(result, run, StatusSuccess, ReasonToolLimit,
				fmt.Sprintf("Stopped early: tool-call limit (%d) reached.", r.limits.MaxToolCalls))
		}
		if cost := RiskScore(step.RiskTier); run.RiskUsed+cost > budget {
			return r.halt(result, run, StatusSuccess, ReasonRiskLimit,
				fmt.Sprintf("Stopped early: risk budget (%d) would be exceeded.", budget))
		}

		rec := r.runStep(ctx, sub, run, i, step)
		r.persistStep(ctx, run, result, rec)

		switch rec.Status {
		case StepDenied:
			return r.halt(result, run, StatusError, ReasonStepDenied,
				fmt.Sprintf("Step %d (%s) was denied by policy.", i+1, step.ToolKey))
		case StepBlocked:
			return r.halt(result, run, StatusBlocked, ReasonApprovalRequired,
				fmt.Sprintf("Step %d (%s) needs approval before the run can continue.", i+1, step.ToolKey))
		case StepError:
			return r.halt(result, run, StatusError, ReasonStepFailed,
				fmt.Sprintf("Step %d (%s) failed: %s", i+1, step.ToolKey, rec.Detail))
		}

		run.RiskUsed += RiskScore(step.RiskTier)
	}

	return r.halt(result, run, StatusSuccess, ReasonCompleted,
		fmt.Sprintf("Completed %d of %d planned steps.", result.StepCount, len(plan.Steps)))
}

// runStep checks the step's permission and, if allowed, executes its tool.
func (r *Runner) runStep(ctx context.Context, sub permission.Subject, run *Run, index int, step PlanStep) StepRecord {
	rec := StepRecord{
		StepIndex: index,
		ToolKey:   step.ToolKey,
		StartedAt: r.now(),
	}

	check := r.perms.CheckPermission(ctx, sub, step.PermissionKey)
	if !check.Allowed {
		// An approval-required check may be satisfied by a live one-time
		// grant, consumed on first use.
		if check.RequiresApproval && r.grants != nil && r.grants.Consume(sub.UserID, step.PermissionKey) {
			check.Allowed = true
		} else if check.RequiresApproval {
			rec.Status = StepBlocked
			rec.Detail = check.Reason
			return rec
		} else {
			rec.Status = StepDenied
			rec.Detail = check.Reason
			return rec
		}
	}

	tool := r.registry.Get(step.ToolKey)
	if tool == nil {
		rec.Status = StepError
		rec.Detail = fmt.Sprintf("unknown tool %q", step.ToolKey)
		return rec
	}

	params := step.Params
	if params == nil {
		params = map[string]any{}
	}
	params["user_id"] = sub.UserID
	if sub.BotID != nil {
		params["bot_id"] = *sub.BotID
	}
	params["goal"] = run.Goal

	start := r.now()
	out, err := tool.Execute(ctx, params)
	rec.DurationMS = r.now().Sub(start).Milliseconds()

	run.ToolCallCount++
	if tool.IsLLM() {
		run.LLMCallCount++
	}

	switch {
	case err != nil:
		rec.Status = StepError
		rec.Detail = err.Error()
	case out != nil && !out.Success:
		rec.Status = StepError
		rec.Detail = "tool reported failure"
	default:
		rec.Status = StepSuccess
	}
	return rec
}

// persistStep records the step immutably before the loop proceeds. A storage
// failure is logged but does not abort the run; the in-memory result still
// carries the step.
func (r *Runner) persistStep(ctx context.Context, run *Run, result *RunResult, rec StepRecord) {
	result.Steps = append(result.Steps, rec)
	result.StepCount = len(result.Steps)
	run.StepCount = result.StepCount

	if err := r.store.AppendStep(ctx, run.RunID, rec); err != nil {
		r.logger.WarnContext(ctx, "persisting step record failed",
			slog.String("run_id", run.RunID),
			slog.Int("step_index", rec.StepIndex),
			slog.String("error", err.Error()),
		)
	}
	if r.metrics != nil {
		r.metrics.Steps.WithLabelValues(string(rec.Status)).Inc()
	}
}

// halt stamps the terminal status and reason onto the result. Finalization of
// the run record happens once, in finalize.
func (r *Runner) halt(result *RunResult, run *Run, status Status, reason, summary string) *RunResult {
	result.Status = status
	result.Reason = reason
	result.Summary = summary
	run.Status = status
	run.Reason = reason
	run.Summary = summary
	return result
}

func (r *Runner) finalize(ctx context.Context, run *Run, result *RunResult) error {
	finished := r.now()
	run.FinishedAt = &finished
	run.DurationMS = finished.Sub(run.StartedAt).Milliseconds()

	if err := r.store.FinalizeRun(ctx, run); err != nil {
		return fmt.Errorf("finalizing run %s: %w", run.RunID, err)
	}

	_ = r.audit.Log(ctx, audit.Event{
		UserID:    run.UserID,
		BotID:     run.BotID,
		EventType: audit.EventAgentRunFinished,
		Payload: map[string]any{
			"run_id":      run.RunID,
			"status":      string(run.Status),
			"reason":      run.Reason,
			"step_count":  run.StepCount,
			"tool_calls":  run.ToolCallCount,
			"llm_calls":   run.LLMCallCount,
			"duration_ms": run.DurationMS,
		},
	})

	if r.metrics != nil {
		r.metrics.Runs.WithLabelValues(string(run.Status)).Inc()
		r.metrics.RunDuration.Observe(float64(run.DurationMS) / 1000)
	}

	r.logger.InfoContext(ctx, "agent run finished",
		slog.String("run_id", run.RunID),
		slog.String("status", string(run.Status)),
		slog.String("reason", run.Reason),
		slog.Int("steps", run.StepCount),
	)
	return nil
}

// riskBudget resolves the run's risk budget from the RISK_BUDGET_LIMIT
// policy's resource scope, falling back to the static default.
func (r *Runner) riskBudget(ctx context.Context, sub permission.Subject) int {
	const fallback = 20

	if r.limits.RiskBudget > 0 {
		return r.limits.RiskBudget
	}
	check := r.perms.CheckPermission(ctx, sub, permission.KeyRiskBudgetLimit)
	if check.Policy.Value.ResourceScope == nil {
		return fallback
	}
	switch v := check.Policy.Value.ResourceScope["budget"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
