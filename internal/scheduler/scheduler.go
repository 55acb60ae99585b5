// Package scheduler runs bot schedules: it polls for due schedules and
// drives the report pipeline for each, recording a job-run row per
// execution.
//
// Core invariant: scheduled execution is NOT privileged execution. Every
// scheduled pipeline runs as the UserID that created the schedule, so the
// same permission policy and audit trail apply as for an interactive run.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/feedhive/feedhive/internal/command"
	"github.com/feedhive/feedhive/internal/domain"
	"github.com/feedhive/feedhive/internal/pipeline"
	"github.com/feedhive/feedhive/internal/storage"
)

// PipelineRunner is the slice of the pipeline executor the scheduler needs.
type PipelineRunner interface {
	Run(ctx context.Context, userID string, cmd command.Command, onStep pipeline.StepFunc) (*pipeline.Result, error)
}

// Config tunes the scheduler loop.
type Config struct {
	PollInterval    time.Duration // Default: 30s
	MaxConcurrent   int           // Default: 4
	MissedJobWindow time.Duration // Default: 1h. Older due schedules are skipped, not fired.
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 30 * time.Second
}

func (c Config) maxConcurrent() int {
	if c.MaxConcurrent > 0 {
		return c.MaxConcurrent
	}
	return 4
}

func (c Config) missedWindow() time.Duration {
	if c.MissedJobWindow > 0 {
		return c.MissedJobWindow
	}
	return time.Hour
}

// Scheduler polls for due bot schedules and fires the report pipeline.
// It runs as a background goroutine in serve mode.
type Scheduler struct {
	schedules storage.ScheduleStore
	bots      storage.BotStore
	jobRuns   storage.JobRunStore
	runner    PipelineRunner
	metrics   *Metrics
	logger    *slog.Logger
	config    Config
	parser    cron.Parser
}

// New creates a Scheduler.
func New(
	schedules storage.ScheduleStore,
	bots storage.BotStore,
	jobRuns storage.JobRunStore,
	runner PipelineRunner,
	metrics *Metrics,
	cfg Config,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		schedules: schedules,
		bots:      bots,
		jobRuns:   jobRuns,
		runner:    runner,
		metrics:   metrics,
		logger:    logger,
		config:    cfg,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Start begins the scheduler loop. Returns a cancel function.
func (s *Scheduler) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		s.logger.InfoContext(ctx, "schedule loop started",
			slog.String("poll_interval", s.config.pollInterval().String()),
			slog.Int("max_concurrent", s.config.maxConcurrent()),
		)

		ticker := time.NewTicker(s.config.pollInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("schedule loop stopped")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()

	return cancel
}

// tick runs a single poll cycle: find due schedules and fire them.
func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	now := start.UTC()

	schedules, err := s.schedules.ListEnabled(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "listing schedules failed", slog.String("error", err.Error()))
		return
	}

	var due []domain.BotSchedule
	for _, sched := range schedules {
		if sched.NextRunAt == nil || !sched.NextRunAt.After(now) {
			due = append(due, sched)
		}
	}
	if len(due) == 0 {
		return
	}

	s.logger.InfoContext(ctx, "schedules due", slog.Int("count", len(due)))

	sem := make(chan struct{}, s.config.maxConcurrent())
	var wg sync.WaitGroup
	for i := range due {
		sched := due[i]
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.fire(ctx, sched, now)
		}()
	}
	wg.Wait()

	if s.metrics != nil {
		s.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
}

// fire runs the pipeline for one due schedule and records a job run.
func (s *Scheduler) fire(ctx context.Context, sched domain.BotSchedule, now time.Time) {
	nextRun := s.computeNextRun(sched.CronExpression)

	// A schedule overdue by more than the missed window (e.g. after downtime)
	// is advanced without firing. Prevents a catch-up storm.
	if sched.NextRunAt != nil && now.Sub(*sched.NextRunAt) > s.config.missedWindow() {
		sched.NextRunAt = &nextRun
		sched.LastError = "skipped: outside missed job window"
		if s.metrics != nil {
			s.metrics.JobsMissed.Inc()
		}
		s.updateSchedule(ctx, &sched)
		return
	}

	sched.NextRunAt = &nextRun
	sched.LastRunAt = &now
	sched.LastError = ""

	bot, err := s.bots.GetByID(ctx, sched.BotID)
	if err != nil || bot == nil {
		sched.LastError = "bot not found"
		s.updateSchedule(ctx, &sched)
		return
	}

	jobRun := &domain.JobRun{
		ID:         domain.NewID(),
		ScheduleID: sched.ID,
		BotID:      sched.BotID,
		UserID:     sched.UserID,
		Status:     domain.JobRunning,
		StartedAt:  now,
	}
	if err := s.jobRuns.Create(ctx, jobRun); err != nil {
		s.logger.ErrorContext(ctx, "creating job run failed",
			slog.Int64("schedule_id", sched.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if s.metrics != nil {
		s.metrics.JobsFired.Inc()
	}
	s.logger.InfoContext(ctx, "firing schedule",
		slog.Int64("schedule_id", sched.ID),
		slog.String("bot_key", bot.BotKey),
		slog.String("user_id", sched.UserID),
	)

	cmd := command.Command{Type: command.TypeRunReport, BotKey: bot.BotKey}
	result, err := s.runner.Run(ctx, sched.UserID, cmd, nil)

	finished := time.Now().UTC()
	jobRun.FinishedAt = &finished
	jobRun.DurationMS = finished.Sub(now).Milliseconds()

	switch {
	case err != nil:
		jobRun.Status = domain.JobFailure
		jobRun.ErrorCode = "infrastructure"
		jobRun.ErrorMessage = err.Error()
		sched.LastError = err.Error()
		if s.metrics != nil {
			s.metrics.JobsFailed.Inc()
		}
	case !result.OK:
		jobRun.Status = domain.JobFailure
		jobRun.ErrorCode = "pipeline"
		jobRun.ErrorMessage = result.Message
		sched.LastError = result.Message
		if s.metrics != nil {
			s.metrics.JobsFailed.Inc()
		}
	default:
		jobRun.Status = domain.JobSuccess
		if s.metrics != nil {
			s.metrics.JobsSucceeded.Inc()
		}
	}

	if err := s.jobRuns.Finish(ctx, jobRun); err != nil {
		s.logger.ErrorContext(ctx, "finishing job run failed",
			slog.String("job_run_id", jobRun.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	s.updateSchedule(ctx, &sched)
}

func (s *Scheduler) updateSchedule(ctx context.Context, sched *domain.BotSchedule) {
	if err := s.schedules.UpdateAfterRun(ctx, sched); err != nil {
		s.logger.ErrorContext(ctx, "updating schedule failed",
			slog.Int64("schedule_id", sched.ID),
			slog.String("error", err.Error()),
		)
	}
}

// computeNextRun parses the cron expression and returns the next run time.
func (s *Scheduler) computeNextRun(expr string) time.Time {
	sched, err := s.parser.Parse(expr)
	if err != nil {
		s.logger.Error("invalid cron expression",
			slog.String("expr", expr),
			slog.String("error", err.Error()),
		)
		return time.Now().UTC().Add(24 * time.Hour)
	}
	return sched.Next(time.Now().UTC())
}

// ComputeNextRunFrom computes the next run time from a given reference time.
// Exported for the HTTP API when creating/updating schedules.
func ComputeNextRunFrom(expr string, from time.Time) (time.Time, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}
