package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/feedhive/feedhive/internal/domain"
)

// ProfileRepository binds bots to report topics.
type ProfileRepository struct {
	db *gorm.DB
}

// NewProfileRepository creates a report-profile repository.
func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetOrCreate returns the profile for (botID, topic), creating it on first
// use. The insert ignores conflicts on the (bot_id, topic) unique index, so
// two racing first runs both resolve to the same row.
func (r *ProfileRepository) GetOrCreate(ctx context.Context, botID int64, topic string) (*domain.ReportProfile, error) {
	model := ReportProfileModel{BotID: botID, Topic: topic}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bot_id"}, {Name: "topic"}},
			DoNothing: true,
		}).
		Create(&model).Error
	if err != nil {
		return nil, fmt.Errorf("creating report profile: %w", err)
	}

	// Re-read: on conflict the insert returns no row.
	if err := r.db.WithContext(ctx).
		First(&model, "bot_id = ? AND topic = ?", botID, topic).Error; err != nil {
		return nil, fmt.Errorf("loading report profile: %w", err)
	}
	return &domain.ReportProfile{
		ID:        model.ID,
		BotID:     model.BotID,
		Topic:     model.Topic,
		CreatedAt: model.CreatedAt,
	}, nil
}

// ReportRepository persists published reports.
type ReportRepository struct {
	db *gorm.DB
}

// NewReportRepository creates a report repository.
func NewReportRepository(db *gorm.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

func (r *ReportRepository) Create(ctx context.Context, report *domain.Report) error {
	model := ReportModel{
		ID:        report.ID.String(),
		ProfileID: report.ProfileID,
		BotID:     report.BotID,
		UserID:    report.UserID,
		Title:     report.Title,
		Body:      report.Body,
		ItemCount: report.ItemCount,
		CreatedAt: report.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *ReportRepository) List(ctx context.Context, botID int64, limit int) ([]domain.Report, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []ReportModel
	err := r.db.WithContext(ctx).
		Where("bot_id = ?", botID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}

	out := make([]domain.Report, 0, len(models))
	for _, m := range models {
		report, err := reportFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, report)
	}
	return out, nil
}

func reportFromModel(m ReportModel) (domain.Report, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return domain.Report{}, fmt.Errorf("parsing report ID %q: %w", m.ID, err)
	}
	return domain.Report{
		ID:        id,
		ProfileID: m.ProfileID,
		BotID:     m.BotID,
		UserID:    m.UserID,
		Title:     m.Title,
		Body:      m.Body,
		ItemCount: m.ItemCount,
		CreatedAt: m.CreatedAt,
	}, nil
}
