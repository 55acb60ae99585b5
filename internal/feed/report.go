package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/feedhive/feedhive/internal/domain"
	"github.com/feedhive/feedhive/internal/pipeline"
)

// ReportStore persists published reports.
type ReportStore interface {
	Create(ctx context.Context, report *domain.Report) error
}

// Reporter renders an analysis into a report and persists it.
type Reporter struct {
	reports ReportStore
	logger  *slog.Logger
	now     func() time.Time
}

var _ pipeline.Reporter = (*Reporter)(nil)

// NewReporter creates a reporter writing to the given store.
func NewReporter(reports ReportStore, logger *slog.Logger) *Reporter {
	return &Reporter{
		reports: reports,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Generate persists the analysis as a report and returns it.
func (r *Reporter) Generate(ctx context.Context, bot *domain.Bot, profile *domain.ReportProfile, analysis *pipeline.AnalysisOutput) (*domain.Report, error) {
	now := r.now()
	report := &domain.Report{
		ID:        uuid.New(),
		ProfileID: profile.ID,
		BotID:     bot.ID,
		UserID:    bot.UserID,
		Title:     fmt.Sprintf("%s - %s", profile.Topic, now.Format("2006-01-02")),
		Body:      analysis.Summary,
		ItemCount: analysis.ItemCount,
		CreatedAt: now,
	}

	if err := r.reports.Create(ctx, report); err != nil {
		return nil, fmt.Errorf("persisting report: %w", err)
	}

	r.logger.InfoContext(ctx, "report published",
		slog.String("report_id", report.ID.String()),
		slog.Int64("bot_id", bot.ID),
		slog.Int("items", report.ItemCount),
	)
	return report, nil
}
