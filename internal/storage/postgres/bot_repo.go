package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/feedhive/feedhive/internal/domain"
)

// BotRepository resolves bots and manages their sources.
type BotRepository struct {
	db *gorm.DB
}

// NewBotRepository creates a bot repository.
func NewBotRepository(db *gorm.DB) *BotRepository {
	return &BotRepository{db: db}
}

func (r *BotRepository) GetByKey(ctx context.Context, userID, botKey string) (*domain.Bot, error) {
	var model BotModel
	err := r.db.WithContext(ctx).
		First(&model, "user_id = ? AND bot_key = ?", userID, botKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading bot %q: %w", botKey, err)
	}
	bot := botFromModel(model)
	return &bot, nil
}

func (r *BotRepository) GetByID(ctx context.Context, botID int64) (*domain.Bot, error) {
	var model BotModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", botID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading bot %d: %w", botID, err)
	}
	bot := botFromModel(model)
	return &bot, nil
}

// ResolveBotID maps a bot key to its ID. Unknown keys resolve to nil, not an
// error; permission checks then apply the global layer only.
func (r *BotRepository) ResolveBotID(ctx context.Context, userID, botKey string) (*int64, error) {
	bot, err := r.GetByKey(ctx, userID, botKey)
	if err != nil {
		return nil, err
	}
	if bot == nil {
		return nil, nil
	}
	return &bot.ID, nil
}

func (r *BotRepository) ListSources(ctx context.Context, botID int64) ([]domain.Source, error) {
	var models []SourceModel
	err := r.db.WithContext(ctx).
		Where("bot_id = ?", botID).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}

	out := make([]domain.Source, 0, len(models))
	for _, m := range models {
		out = append(out, domain.Source{
			ID:        m.ID,
			BotID:     m.BotID,
			URL:       m.URL,
			Title:     m.Title,
			Enabled:   m.Enabled,
			LastFetch: m.LastFetch,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

// AddSource links a feed to a bot. Re-adding an existing URL is a no-op.
func (r *BotRepository) AddSource(ctx context.Context, botID int64, feedURL string) error {
	model := SourceModel{BotID: botID, URL: feedURL, Enabled: true}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bot_id"}, {Name: "url"}},
			DoNothing: true,
		}).
		Create(&model).Error
}

func (r *BotRepository) RemoveSource(ctx context.Context, botID int64, feedURL string) error {
	return r.db.WithContext(ctx).
		Where("bot_id = ? AND url = ?", botID, feedURL).
		Delete(&SourceModel{}).Error
}

func botFromModel(m BotModel) domain.Bot {
	return domain.Bot{
		ID:          m.ID,
		UserID:      m.UserID,
		BotKey:      m.BotKey,
		Name:        m.Name,
		Topic:       m.Topic,
		LLMProvider: m.LLMProvider,
		LLMModel:    m.LLMModel,
		Enabled:     m.Enabled,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
