package agentrun

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/feedhive/feedhive/internal/audit"
	"github.com/feedhive/feedhive/internal/permission"
	"github.com/feedhive/feedhive/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopAudit struct{}

func (nopAudit) Log(context.Context, audit.Event) error { return nil }
func (nopAudit) Close() error                           { return nil }

// emptyOverrides is a permission.OverrideStore with no stored overrides.
type emptyOverrides struct {
	overrides []permission.Override
}

func (s *emptyOverrides) List(_ context.Context, _ string, scope permission.Scope, _ *int64) ([]permission.Override, error) {
	var out []permission.Override
	for _, ov := range s.overrides {
		if ov.Scope == scope {
			out = append(out, ov)
		}
	}
	return out, nil
}

func (s *emptyOverrides) Upsert(_ context.Context, ov permission.Override) error {
	s.overrides = append(s.overrides, ov)
	return nil
}

func (s *emptyOverrides) Delete(_ context.Context, _ string, _ permission.Scope, _ *int64, _ permission.Key) error {
	return nil
}

// fakeTool is a scriptable tool.
type fakeTool struct {
	name  string
	key   permission.Key
	tier  permission.RiskTier
	llm   bool
	err   error
	fail  bool
	calls int
}

func (t *fakeTool) Name() string                  { return t.name }
func (t *fakeTool) Description() string           { return "fake" }
func (t *fakeTool) PermissionKey() permission.Key { return t.key }
func (t *fakeTool) RiskTier() permission.RiskTier { return t.tier }
func (t *fakeTool) IsLLM() bool                   { return t.llm }

func (t *fakeTool) Execute(_ context.Context, _ map[string]any) (*tools.Result, error) {
	t.calls++
	if t.err != nil {
		return nil, t.err
	}
	if t.fail {
		return &tools.Result{Success: false}, nil
	}
	return &tools.Result{Output: "ok", Success: true}, nil
}

// scriptedPlanner returns a fixed plan, ignoring the step cap. It exercises
// the loop's own ceilings rather than the planner's truncation.
type scriptedPlanner struct {
	steps []PlanStep
}

func (p scriptedPlanner) GeneratePlan(goal string, _ int) *Plan {
	return &Plan{PlanID: "plan-1", Goal: goal, Steps: p.steps}
}

func lowStep(tool string) PlanStep {
	return PlanStep{ToolKey: tool, PermissionKey: permission.KeyWebRSS, RiskTier: permission.TierLow}
}

func newTestRunner(t *testing.T, planner PlanGenerator, limits Limits, reg *tools.Registry, store *emptyOverrides) (*Runner, *MemoryStore) {
	t.Helper()
	logger := testLogger()
	runs := NewMemoryStore()
	r := NewRunner(
		reg,
		permission.NewEngine(store, logger),
		permission.NewOneTimeGrants(time.Minute, logger),
		planner,
		runs,
		nopAudit{},
		nil,
		limits,
		logger,
	)
	return r, runs
}

func TestExecute_CompletesPlan(t *testing.T) {
	fetch := &fakeTool{name: "rss_fetch", key: permission.KeyWebRSS, tier: permission.TierLow}
	report := &fakeTool{name: "report_generate", key: permission.KeyLLMUse, tier: permission.TierMedium, llm: true}
	reg := tools.NewRegistry()
	reg.Register(fetch)
	reg.Register(report)

	planner := scriptedPlanner{steps: []PlanStep{
		{ToolKey: "rss_fetch", PermissionKey: permission.KeyWebRSS, RiskTier: permission.TierLow},
		{ToolKey: "report_generate", PermissionKey: permission.KeyLLMUse, RiskTier: permission.TierMedium},
	}}
	r, runs := newTestRunner(t, planner, Limits{}, reg, &emptyOverrides{})

	result, err := r.Execute(context.Background(), "u1", nil, "collect and summarize")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != StatusSuccess || result.Reason != ReasonCompleted {
		t.Fatalf("status=%s reason=%s", result.Status, result.Reason)
	}
	if result.StepCount != 2 {
		t.Errorf("step count = %d, want 2", result.StepCount)
	}
	if fetch.calls != 1 || report.calls != 1 {
		t.Errorf("tool calls: fetch=%d report=%d", fetch.calls, report.calls)
	}

	run, steps, err := runs.GetRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.FinishedAt == nil {
		t.Error("run must be finalized")
	}
	if run.ToolCallCount != 2 || run.LLMCallCount != 1 {
		t.Errorf("counters: tool=%d llm=%d", run.ToolCallCount, run.LLMCallCount)
	}
	if len(steps) != 2 {
		t.Errorf("persisted steps = %d", len(steps))
	}
}

func TestExecute_StepLimitHalts(t *testing.T) {
	tool := &fakeTool{name: "rss_fetch", key: permission.KeyWebRSS, tier: permission.TierLow}
	reg := tools.NewRegistry()
	reg.Register(tool)

	planner := scriptedPlanner{steps: []PlanStep{lowStep("rss_fetch"), lowStep("rss_fetch"), lowStep("rss_fetch")}}
	r, _ := newTestRunner(t, planner, Limits{MaxSteps: 1}, reg, &emptyOverrides{})

	result, err := r.Execute(context.Background(), "u1", nil, "collect")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != StatusSuccess || result.Reason != ReasonStepLimit {
		t.Fatalf("status=%s reason=%s", result.Status, result.Reason)
	}
	if tool.calls != 1 {
		t.Errorf("tool calls = %d, want 1 before the limit", tool.calls)
	}
}

func TestExecute_ToolCallLimitHalts(t *testing.T) {
	tool := &fakeTool{name: "rss_fetch", key: permission.KeyWebRSS, tier: permission.TierLow}
	reg := tools.NewRegistry()
	reg.Register(tool)

	planner := scriptedPlanner{steps: []PlanStep{lowStep("rss_fetch"), lowStep("rss_fetch"), lowStep("rss_fetch")}}
	r, _ := newTestRunner(t, planner, Limits{MaxSteps: 5, MaxToolCalls: 1}, reg, &emptyOverrides{})

	result, err := r.Execute(context.Background(), "u1", nil, "collect")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != StatusSuccess || result.Reason != ReasonToolLimit {
		t.Fatalf("status=%s reason=%s", result.Status, result.Reason)
	}
	if tool.calls != 1 {
		t.Errorf("tool calls = %d, want 1", tool.calls)
	}
}

func TestExecute_TimeoutHalts(t *testing.T) {
	tool := &fakeTool{name: "rss_fetch", key: permission.KeyWebRSS, tier: permission.TierLow}
	reg := tools.NewRegistry()
	reg.Register(tool)

	planner := scriptedPlanner{steps: []PlanStep{lowStep("rss_fetch"), lowStep("rss_fetch")}}
	r, _ := newTestRunner(t, planner, Limits{MaxRuntime: 2 * time.Minute}, reg, &emptyOverrides{})

	// Every clock read advances 90s: the first step starts inside the limit,
	// the second loop iteration is past it.
	current := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time {
		current = current.Add(90 * time.Second)
		return current
	}

	result, err := r.Execute(context.Background(), "u1", nil, "collect")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != StatusTimeout || result.Reason != ReasonTimeout {
		t.Fatalf("status=%s reason=%s", result.Status, result.Reason)
	}
	if tool.calls != 1 {
		t.Errorf("tool calls = %d, want 1 before the timeout", tool.calls)
	}
}

func TestExecute_RiskBudgetHalts(t *testing.T) {
	fetch := &fakeTool{name: "rss_fetch", key: permission.KeyWebRSS, tier: permission.TierLow}
	report := &fakeTool{name: "report_generate", key: permission.KeyLLMUse, tier: permission.TierMedium, llm: true}
	reg := tools.NewRegistry()
	reg.Register(fetch)
	reg.Register(report)

	planner := scriptedPlanner{steps: []PlanStep{
		{ToolKey: "rss_fetch", PermissionKey: permission.KeyWebRSS, RiskTier: permission.TierLow},
		{ToolKey: "report_generate", PermissionKey: permission.KeyLLMUse, RiskTier: permission.TierMedium},
	}}
	// Budget 3: the low step (cost 1) fits, the medium step (cost 3) would
	// push usage to 4.
	r, _ := newTestRunner(t, planner, Limits{RiskBudget: 3}, reg, &emptyOverrides{})

	result, err := r.Execute(context.Background(), "u1", nil, "collect and summarize")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != StatusSuccess || result.Reason != ReasonRiskLimit {
		t.Fatalf("status=%s reason=%s", result.Status, result.Reason)
	}
	if fetch.calls != 1 || report.calls != 0 {
		t.Errorf("tool calls: fetch=%d report=%d", fetch.calls, report.calls)
	}
}

func TestExecute_RiskBudgetFromPolicy(t *testing.T) {
	report := &fakeTool{name: "report_generate", key: permission.KeyLLMUse, tier: permission.TierMedium, llm: true}
	reg := tools.NewRegistry()
	reg.Register(report)

	store := &emptyOverrides{overrides: []permission.Override{{
		UserID: "u1", Scope: permission.ScopeGlobal, Key: permission.KeyRiskBudgetLimit,
		Patch: permission.Patch{ResourceScope: map[string]any{"budget": 1}},
	}}}

	planner := scriptedPlanner{steps: []PlanStep{
		{ToolKey: "report_generate", PermissionKey: permission.KeyLLMUse, RiskTier: permission.TierMedium},
	}}
	r, _ := newTestRunner(t, planner, Limits{}, reg, store)

	result, err := r.Execute(context.Background(), "u1", nil, "summarize")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Reason != ReasonRiskLimit {
		t.Fatalf("reason = %s, want risk limit from policy budget", result.Reason)
	}
	if report.calls != 0 {
		t.Error("step over the policy budget must not execute")
	}
}

func TestExecute_DeniedStepHalts(t *testing.T) {
	del := &fakeTool{name: "fs_delete", key: permission.KeyFSDelete, tier: permission.TierCritical}
	reg := tools.NewRegistry()
	reg.Register(del)

	planner := scriptedPlanner{steps: []PlanStep{
		{ToolKey: "fs_delete", PermissionKey: permission.KeyFSDelete, RiskTier: permission.TierCritical},
	}}
	r, _ := newTestRunner(t, planner, Limits{RiskBudget: 100}, reg, &emptyOverrides{})

	result, err := r.Execute(context.Background(), "u1", nil, "delete everything")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != StatusError || result.Reason != ReasonStepDenied {
		t.Fatalf("status=%s reason=%s", result.Status, result.Reason)
	}
	if del.calls != 0 {
		t.Error("denied tool must never execute")
	}
	if len(result.Steps) != 1 || result.Steps[0].Status != StepDenied {
		t.Errorf("steps = %+v", result.Steps)
	}
}

func TestExecute_ApprovalRequiredBlocks(t *testing.T) {
	fetch := &fakeTool{name: "web_fetch", key: permission.KeyWebFetch, tier: permission.TierMedium}
	reg := tools.NewRegistry()
	reg.Register(fetch)

	planner := scriptedPlanner{steps: []PlanStep{
		{ToolKey: "web_fetch", PermissionKey: permission.KeyWebFetch, RiskTier: permission.TierMedium},
	}}
	r, _ := newTestRunner(t, planner, Limits{}, reg, &emptyOverrides{})

	result, err := r.Execute(context.Background(), "u1", nil, "fetch the article")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != StatusBlocked || result.Reason != ReasonApprovalRequired {
		t.Fatalf("status=%s reason=%s", result.Status, result.Reason)
	}
	if fetch.calls != 0 {
		t.Error("blocked tool must not execute")
	}
}

func TestExecute_OneTimeGrantUnblocksStep(t *testing.T) {
	fetch := &fakeTool{name: "web_fetch", key: permission.KeyWebFetch, tier: permission.TierMedium}
	reg := tools.NewRegistry()
	reg.Register(fetch)

	planner := scriptedPlanner{steps: []PlanStep{
		{ToolKey: "web_fetch", PermissionKey: permission.KeyWebFetch, RiskTier: permission.TierMedium},
	}}
	r, _ := newTestRunner(t, planner, Limits{}, reg, &emptyOverrides{})
	r.grants.Grant("u1", permission.KeyWebFetch)

	result, err := r.Execute(context.Background(), "u1", nil, "fetch the article")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != StatusSuccess || result.Reason != ReasonCompleted {
		t.Fatalf("status=%s reason=%s", result.Status, result.Reason)
	}
	if fetch.calls != 1 {
		t.Errorf("tool calls = %d, want 1", fetch.calls)
	}
}

func TestExecute_StepFailureHalts(t *testing.T) {
	tool := &fakeTool{name: "rss_fetch", key: permission.KeyWebRSS, tier: permission.TierLow, err: errors.New("upstream 503")}
	reg := tools.NewRegistry()
	reg.Register(tool)

	planner := scriptedPlanner{steps: []PlanStep{lowStep("rss_fetch"), lowStep("rss_fetch")}}
	r, _ := newTestRunner(t, planner, Limits{}, reg, &emptyOverrides{})

	result, err := r.Execute(context.Background(), "u1", nil, "collect")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != StatusError || result.Reason != ReasonStepFailed {
		t.Fatalf("status=%s reason=%s", result.Status, result.Reason)
	}
	if tool.calls != 1 {
		t.Errorf("tool calls = %d, want 1 (halt on first failure)", tool.calls)
	}
}

func TestExecute_UnknownToolIsStepError(t *testing.T) {
	planner := scriptedPlanner{steps: []PlanStep{lowStep("no_such_tool")}}
	r, _ := newTestRunner(t, planner, Limits{}, tools.NewRegistry(), &emptyOverrides{})

	result, err := r.Execute(context.Background(), "u1", nil, "collect")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != StatusError || result.Reason != ReasonStepFailed {
		t.Fatalf("status=%s reason=%s", result.Status, result.Reason)
	}
}

// --- MemoryStore ---

func TestMemoryStore_FinalizeOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	run := &Run{RunID: "r1", UserID: "u1", Status: StatusRunning, StartedAt: time.Now()}

	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	finished := time.Now()
	run.Status = StatusSuccess
	run.FinishedAt = &finished

	if err := s.FinalizeRun(ctx, run); err != nil {
		t.Fatalf("FinalizeRun: %v", err)
	}
	if err := s.FinalizeRun(ctx, run); !errors.Is(err, ErrRunFinalized) {
		t.Errorf("second finalize = %v, want ErrRunFinalized", err)
	}
}

func TestMemoryStore_AppendStepUnknownRun(t *testing.T) {
	s := NewMemoryStore()
	if err := s.AppendStep(context.Background(), "absent", StepRecord{}); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("error = %v, want ErrRunNotFound", err)
	}
}

func TestMemoryStore_ListRunsNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"r1", "r2", "r3"} {
		if err := s.CreateRun(ctx, &Run{RunID: id, UserID: "u1"}); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}
	_ = s.CreateRun(ctx, &Run{RunID: "other", UserID: "u2"})

	runs, err := s.ListRuns(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "r3" || runs[1].RunID != "r2" {
		t.Errorf("runs = %+v", runs)
	}
}

// --- KeywordPlanner ---

func TestKeywordPlanner_Deterministic(t *testing.T) {
	p := KeywordPlanner{}
	a := p.GeneratePlan("collect the news and summarize it", 8)
	b := p.GeneratePlan("collect the news and summarize it", 8)

	if a.PlanID != b.PlanID {
		t.Errorf("plan IDs differ: %s vs %s", a.PlanID, b.PlanID)
	}
	if len(a.Steps) != len(b.Steps) {
		t.Fatalf("step counts differ")
	}
	for i := range a.Steps {
		if a.Steps[i].ToolKey != b.Steps[i].ToolKey {
			t.Errorf("step %d differs: %s vs %s", i, a.Steps[i].ToolKey, b.Steps[i].ToolKey)
		}
	}
}

func TestKeywordPlanner_DedupsByTool(t *testing.T) {
	plan := KeywordPlanner{}.GeneratePlan("collect rss news feeds", 8)
	count := 0
	for _, s := range plan.Steps {
		if s.ToolKey == "rss_fetch" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("rss_fetch steps = %d, want 1", count)
	}
}

func TestKeywordPlanner_TruncatesToCap(t *testing.T) {
	plan := KeywordPlanner{}.GeneratePlan("collect news, fetch articles, query history, summarize, schedule daily, remember it", 2)
	if len(plan.Steps) != 2 {
		t.Errorf("steps = %d, want 2", len(plan.Steps))
	}
}

func TestKeywordPlanner_DefaultPlan(t *testing.T) {
	plan := KeywordPlanner{}.GeneratePlan("do something useful", 8)
	if len(plan.Steps) != 2 {
		t.Fatalf("steps = %d, want the default collect+summarize plan", len(plan.Steps))
	}
	if plan.Steps[0].ToolKey != "rss_fetch" || plan.Steps[1].ToolKey != "report_generate" {
		t.Errorf("steps = %+v", plan.Steps)
	}
}

func TestRiskScore_UnknownTierCostsCritical(t *testing.T) {
	if RiskScore(permission.RiskTier(99)) != RiskScore(permission.TierCritical) {
		t.Error("unknown tier must cost as much as critical")
	}
}
