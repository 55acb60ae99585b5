package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/feedhive/feedhive/internal/domain"
)

// ScheduleRepository persists recurring bot runs. One schedule per bot,
// enforced by the unique index on bot_id.
type ScheduleRepository struct {
	db *gorm.DB
}

// NewScheduleRepository creates a schedule repository.
func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Ensure upserts the schedule for a bot: a second call replaces the cron
// expression and re-enables the schedule.
func (r *ScheduleRepository) Ensure(ctx context.Context, botID int64, userID, cronExpression string) error {
	model := BotScheduleModel{
		BotID:          botID,
		UserID:         userID,
		CronExpression: cronExpression,
		Enabled:        true,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bot_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "cron_expression", "enabled", "updated_at"}),
		}).
		Create(&model).Error
}

func (r *ScheduleRepository) ListEnabled(ctx context.Context) ([]domain.BotSchedule, error) {
	var models []BotScheduleModel
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}

	out := make([]domain.BotSchedule, 0, len(models))
	for _, m := range models {
		out = append(out, scheduleFromModel(m))
	}
	return out, nil
}

// UpdateAfterRun records the outcome of a scheduled run: next/last run times
// and the last error, if any.
func (r *ScheduleRepository) UpdateAfterRun(ctx context.Context, schedule *domain.BotSchedule) error {
	return r.db.WithContext(ctx).Model(&BotScheduleModel{}).
		Where("id = ?", schedule.ID).
		Updates(map[string]any{
			"next_run_at": schedule.NextRunAt,
			"last_run_at": schedule.LastRunAt,
			"last_error":  schedule.LastError,
		}).Error
}

func scheduleFromModel(m BotScheduleModel) domain.BotSchedule {
	return domain.BotSchedule{
		ID:             m.ID,
		BotID:          m.BotID,
		UserID:         m.UserID,
		CronExpression: m.CronExpression,
		Enabled:        m.Enabled,
		NextRunAt:      m.NextRunAt,
		LastRunAt:      m.LastRunAt,
		LastError:      m.LastError,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
