package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/feedhive/feedhive/internal/domain"
)

// JobRunRepository records scheduled pipeline executions. Rows are created
// as "running" and finished once; they are never deleted.
type JobRunRepository struct {
	db *gorm.DB
}

// NewJobRunRepository creates a job-run repository.
func NewJobRunRepository(db *gorm.DB) *JobRunRepository {
	return &JobRunRepository{db: db}
}

func (r *JobRunRepository) Create(ctx context.Context, run *domain.JobRun) error {
	model := JobRunModel{
		ID:         run.ID.String(),
		ScheduleID: run.ScheduleID,
		BotID:      run.BotID,
		UserID:     run.UserID,
		Status:     run.Status,
		StartedAt:  run.StartedAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *JobRunRepository) Finish(ctx context.Context, run *domain.JobRun) error {
	return r.db.WithContext(ctx).Model(&JobRunModel{}).
		Where("id = ? AND status = ?", run.ID.String(), domain.JobRunning).
		Updates(map[string]any{
			"status":        run.Status,
			"finished_at":   run.FinishedAt,
			"duration_ms":   run.DurationMS,
			"error_code":    run.ErrorCode,
			"error_message": run.ErrorMessage,
		}).Error
}

func (r *JobRunRepository) List(ctx context.Context, botID int64, limit int) ([]domain.JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []JobRunModel
	err := r.db.WithContext(ctx).
		Where("bot_id = ?", botID).
		Order("started_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing job runs: %w", err)
	}

	out := make([]domain.JobRun, 0, len(models))
	for _, m := range models {
		id, err := uuid.Parse(m.ID)
		if err != nil {
			return nil, fmt.Errorf("parsing job run ID %q: %w", m.ID, err)
		}
		out = append(out, domain.JobRun{
			ID:           id,
			ScheduleID:   m.ScheduleID,
			BotID:        m.BotID,
			UserID:       m.UserID,
			Status:       m.Status,
			StartedAt:    m.StartedAt,
			FinishedAt:   m.FinishedAt,
			DurationMS:   m.DurationMS,
			ErrorCode:    m.ErrorCode,
			ErrorMessage: m.ErrorMessage,
		})
	}
	return out, nil
}
