package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/feedhive/feedhive/internal/audit"
)

// AuditRepository implements audit.Logger against the append-only
// audit_events table. Rows are never updated or deleted by the application.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an audit repository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

var _ audit.Logger = (*AuditRepository)(nil)

func (r *AuditRepository) Log(ctx context.Context, event audit.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encoding audit payload: %w", err)
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	model := AuditEventModel{
		UserID:        event.UserID,
		BotID:         event.BotID,
		ThreadID:      event.ThreadID,
		EventType:     string(event.EventType),
		PermissionKey: event.PermissionKey,
		Payload:       payload,
		CreatedAt:     createdAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *AuditRepository) Close() error { return nil }

// List returns the newest audit events for a user, for the API's audit view.
func (r *AuditRepository) List(ctx context.Context, userID string, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []AuditEventModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}

	out := make([]audit.Event, 0, len(models))
	for _, m := range models {
		var payload map[string]any
		if len(m.Payload) > 0 {
			if err := json.Unmarshal(m.Payload, &payload); err != nil {
				return nil, fmt.Errorf("decoding audit payload: %w", err)
			}
		}
		out = append(out, audit.Event{
			UserID:        m.UserID,
			BotID:         m.BotID,
			ThreadID:      m.ThreadID,
			EventType:     audit.EventType(m.EventType),
			PermissionKey: m.PermissionKey,
			Payload:       payload,
			CreatedAt:     m.CreatedAt,
		})
	}
	return out, nil
}
