// Package pipeline implements the report pipeline executor: an ordered
// collect -> analyze -> report -> (schedule) run with per-step failure
// isolation and synchronous progress streaming to a caller-supplied sink.
//
// Failure policy: the pipeline halts at the first failed step and never rolls
// back; a failed analyze step leaves already-collected items persisted. The
// optional schedule step is the one exception: its failure does not
// invalidate a successfully generated report.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/feedhive/feedhive/internal/audit"
	"github.com/feedhive/feedhive/internal/command"
	"github.com/feedhive/feedhive/internal/domain"
	"github.com/feedhive/feedhive/internal/llm"
	"github.com/feedhive/feedhive/internal/permission"
)

// Step identifies a pipeline stage.
type Step string

const (
	StepCollect  Step = "collect"
	StepAnalyze  Step = "analyze"
	StepReport   Step = "report"
	StepSchedule Step = "schedule"
)

// StepResult is the outcome of one pipeline stage.
type StepResult struct {
	Step    Step           `json:"step"`
	OK      bool           `json:"ok"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// StepFunc is the progress sink. It is invoked synchronously after each step
// completes and before the next step starts; this is how callers stream
// intermediate status (e.g. into a chat transcript) while the pipeline runs.
// The sink must not panic; errors inside it are the caller's responsibility.
type StepFunc func(StepResult)

// Result is the overall pipeline outcome.
type Result struct {
	OK       bool         `json:"ok"`
	Message  string       `json:"message"`
	Steps    []StepResult `json:"steps"`
	ReportID string       `json:"report_id,omitempty"`
}

// User-facing precondition and remediation messages.
const (
	msgBotNotFound   = "I can't find that bot. Check the bot key and try again."
	msgNoSources     = "This bot has no sources yet. Add at least one RSS feed before running a report."
	msgNoLLM         = "No LLM is configured for this bot or the system. Set one up in settings."
	msgCollectFailed = "Collection failed. Check your source URLs."
	msgAnalyzeFailed = "Analysis failed. The LLM could not process the collected items."
	msgReportFailed  = "Report generation failed. The analysis completed but could not be published."
)

// Executor runs the report pipeline. One Run call executes its steps strictly
// sequentially; step i+1 never begins before step i has fully completed,
// including its persistence and progress-callback invocation. Independent
// runs for different users may interleave freely.
type Executor struct {
	bots      BotStore
	profiles  ProfileStore
	collector Collector
	analyzer  Analyzer
	reporter  Reporter
	schedules ScheduleWriter
	llm       *llm.Resolver
	perms     *permission.Engine
	audit     audit.Logger
	metrics   *Metrics
	logger    *slog.Logger
}

// NewExecutor creates a pipeline executor.
func NewExecutor(
	bots BotStore,
	profiles ProfileStore,
	collector Collector,
	analyzer Analyzer,
	reporter Reporter,
	schedules ScheduleWriter,
	resolver *llm.Resolver,
	perms *permission.Engine,
	auditLog audit.Logger,
	metrics *Metrics,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		bots:      bots,
		profiles:  profiles,
		collector: collector,
		analyzer:  analyzer,
		reporter:  reporter,
		schedules: schedules,
		llm:       resolver,
		perms:     perms,
		audit:     auditLog,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run executes the pipeline for a run_report command. Precondition failures
// return a Result with OK=false, a localized message, and zero steps executed;
// they are not errors. Only infrastructure failures (the store itself is
// unreachable) return a non-nil error.
func (e *Executor) Run(ctx context.Context, userID string, cmd command.Command, onStep StepFunc) (*Result, error) {
	start := time.Now()
	result, err := e.run(ctx, userID, cmd, onStep)
	if e.metrics != nil && result != nil {
		status := "success"
		if !result.OK {
			status = "failure"
		}
		e.metrics.Runs.WithLabelValues(status).Inc()
		e.metrics.RunDuration.Observe(time.Since(start).Seconds())
	}
	return result, err
}

func (e *Executor) run(ctx context.Context, userID string, cmd command.Command, onStep StepFunc) (*Result, error) {
	// Preconditions: all checked before any step runs. A failing precondition
	// aborts with a user-facing explanation and zero steps executed.
	bot, err := e.bots.GetByKey(ctx, userID, cmd.BotKey)
	if err != nil || bot == nil {
		return &Result{OK: false, Message: msgBotNotFound}, nil
	}

	sources, err := e.bots.ListSources(ctx, bot.ID)
	if err != nil {
		return nil, fmt.Errorf("listing sources for bot %d: %w", bot.ID, err)
	}
	enabled := enabledSources(sources)
	if len(enabled) == 0 {
		return &Result{OK: false, Message: msgNoSources}, nil
	}

	provider, err := e.llm.Resolve(bot.LLMProvider)
	if err != nil {
		return &Result{OK: false, Message: msgNoLLM}, nil
	}

	// Lazy profile binding, idempotent under concurrent first runs.
	profile, err := e.profiles.GetOrCreate(ctx, bot.ID, bot.Topic)
	if err != nil {
		return nil, fmt.Errorf("resolving report profile: %w", err)
	}

	sub := permission.Subject{UserID: userID, BotID: &bot.ID}
	result := &Result{}

	// collect
	collectRes := e.collect(ctx, sub, bot, enabled)
	e.emit(ctx, sub, result, collectRes, onStep)
	if !collectRes.OK {
		return e.fail(result, collectRes), nil
	}

	// analyze
	analysis, analyzeRes := e.analyze(ctx, sub, bot, profile, provider)
	e.emit(ctx, sub, result, analyzeRes, onStep)
	if !analyzeRes.OK {
		return e.fail(result, analyzeRes), nil
	}

	// report
	report, reportRes := e.report(ctx, sub, bot, profile, analysis)
	e.emit(ctx, sub, result, reportRes, onStep)
	if !reportRes.OK {
		return e.fail(result, reportRes), nil
	}
	result.ReportID = report.ID.String()

	// schedule: optional and best-effort. Past the point of no return: a
	// schedule persistence failure does not invalidate the report.
	if cronExpr, ok := cmd.Args["schedule"].(string); ok && cronExpr != "" {
		scheduleRes := e.schedule(ctx, sub, bot, userID, cronExpr)
		e.emit(ctx, sub, result, scheduleRes, onStep)
	}

	result.OK = true
	result.Message = fmt.Sprintf("Report %q is ready (%d items analyzed).", report.Title, analysis.ItemCount)
	return result, nil
}

func (e *Executor) collect(ctx context.Context, sub permission.Subject, bot *domain.Bot, sources []domain.Source) StepResult {
	if check := e.perms.CheckPermission(ctx, sub, permission.KeyWebRSS); !check.Allowed {
		return StepResult{Step: StepCollect, OK: false, Message: check.Reason}
	}
	out, err := e.collector.Collect(ctx, bot, sources)
	if err != nil {
		e.countFailure(StepCollect)
		e.logger.WarnContext(ctx, "collect step failed",
			slog.Int64("bot_id", bot.ID),
			slog.String("error", err.Error()),
		)
		return StepResult{Step: StepCollect, OK: false, Message: msgCollectFailed}
	}
	return StepResult{
		Step:    StepCollect,
		OK:      true,
		Message: fmt.Sprintf("Collected %d new items from %d sources.", out.NewItems, out.SourcesTried),
		Data:    map[string]any{"new_items": out.NewItems},
	}
}

func (e *Executor) analyze(ctx context.Context, sub permission.Subject, bot *domain.Bot, profile *domain.ReportProfile, provider llm.Provider) (*AnalysisOutput, StepResult) {
	if check := e.perms.CheckPermission(ctx, sub, permission.KeyLLMUse); !check.Allowed {
		return nil, StepResult{Step: StepAnalyze, OK: false, Message: check.Reason}
	}
	egress := e.perms.CheckEgress(ctx, sub, permission.EgressMetadataOnly)
	if !egress.Allowed {
		return nil, StepResult{Step: StepAnalyze, OK: false, Message: egress.Reason}
	}

	analysis, err := e.analyzer.Analyze(ctx, bot, profile, provider, egress.EffectiveLevel.String())
	if err != nil {
		e.countFailure(StepAnalyze)
		e.logger.WarnContext(ctx, "analyze step failed",
			slog.Int64("bot_id", bot.ID),
			slog.String("error", err.Error()),
		)
		return nil, StepResult{Step: StepAnalyze, OK: false, Message: msgAnalyzeFailed}
	}
	return analysis, StepResult{
		Step:    StepAnalyze,
		OK:      true,
		Message: fmt.Sprintf("Analyzed %d items.", analysis.ItemCount),
	}
}

func (e *Executor) report(ctx context.Context, sub permission.Subject, bot *domain.Bot, profile *domain.ReportProfile, analysis *AnalysisOutput) (*domain.Report, StepResult) {
	if check := e.perms.CheckPermission(ctx, sub, permission.KeyMemoryWrite); !check.Allowed {
		return nil, StepResult{Step: StepReport, OK: false, Message: check.Reason}
	}
	report, err := e.reporter.Generate(ctx, bot, profile, analysis)
	if err != nil {
		e.countFailure(StepReport)
		e.logger.WarnContext(ctx, "report step failed",
			slog.Int64("bot_id", bot.ID),
			slog.String("error", err.Error()),
		)
		return nil, StepResult{Step: StepReport, OK: false, Message: msgReportFailed}
	}
	return report, StepResult{
		Step:    StepReport,
		OK:      true,
		Message: fmt.Sprintf("Report %q published.", report.Title),
		Data:    map[string]any{"report_id": report.ID.String()},
	}
}

func (e *Executor) schedule(ctx context.Context, sub permission.Subject, bot *domain.Bot, userID, cronExpr string) StepResult {
	// SCHEDULE_WRITE approval is resolved at confirm time: a run command with
	// an inline schedule is gated on this key before it ever dispatches. Only
	// a hard deny (key disabled or auto-denied) blocks the step here.
	if check := e.perms.CheckPermission(ctx, sub, permission.KeyScheduleWrite); !check.Allowed && !check.RequiresApproval {
		return StepResult{Step: StepSchedule, OK: false, Message: check.Reason}
	}
	if err := e.schedules.Ensure(ctx, bot, userID, cronExpr); err != nil {
		e.countFailure(StepSchedule)
		e.logger.WarnContext(ctx, "schedule step failed (report still published)",
			slog.Int64("bot_id", bot.ID),
			slog.String("error", err.Error()),
		)
		return StepResult{Step: StepSchedule, OK: false, Message: "The report is ready, but the schedule could not be saved."}
	}
	return StepResult{Step: StepSchedule, OK: true, Message: fmt.Sprintf("Scheduled: %s.", cronExpr)}
}

// emit appends the step result, audits it, and invokes the progress sink
// synchronously before the pipeline continues.
func (e *Executor) emit(ctx context.Context, sub permission.Subject, result *Result, sr StepResult, onStep StepFunc) {
	result.Steps = append(result.Steps, sr)
	_ = e.audit.Log(ctx, audit.Event{
		UserID:    sub.UserID,
		BotID:     sub.BotID,
		ThreadID:  sub.ThreadID,
		EventType: audit.EventPipelineStep,
		Payload:   map[string]any{"step": string(sr.Step), "ok": sr.OK},
	})
	if onStep != nil {
		onStep(sr)
	}
}

func (e *Executor) fail(result *Result, sr StepResult) *Result {
	result.OK = false
	result.Message = sr.Message
	return result
}

func (e *Executor) countFailure(step Step) {
	if e.metrics != nil {
		e.metrics.StepFailures.WithLabelValues(string(step)).Inc()
	}
}

func enabledSources(sources []domain.Source) []domain.Source {
	var out []domain.Source
	for _, s := range sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}
