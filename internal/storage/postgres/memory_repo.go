package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/feedhive/feedhive/internal/storage"
)

// MemoryRepository persists durable bot notes.
type MemoryRepository struct {
	db *gorm.DB
}

// NewMemoryRepository creates a memory repository.
func NewMemoryRepository(db *gorm.DB) *MemoryRepository {
	return &MemoryRepository{db: db}
}

func (r *MemoryRepository) Append(ctx context.Context, botID int64, category, content string) error {
	model := MemoryEntryModel{
		BotID:     botID,
		Category:  category,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *MemoryRepository) List(ctx context.Context, botID int64, limit int) ([]storage.MemoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []MemoryEntryModel
	err := r.db.WithContext(ctx).
		Where("bot_id = ?", botID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing memory entries: %w", err)
	}

	out := make([]storage.MemoryEntry, 0, len(models))
	for _, m := range models {
		out = append(out, storage.MemoryEntry{
			ID:        m.ID,
			BotID:     m.BotID,
			Category:  m.Category,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}
