package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/feedhive/feedhive/internal/command"
	"github.com/feedhive/feedhive/internal/confirm"
)

// PendingRepository implements confirm.PendingStore. Consumption is a single
// conditional UPDATE, so a confirm call and the expiry sweep can never both
// win on the same row.
type PendingRepository struct {
	db *gorm.DB
}

// NewPendingRepository creates a pending-confirmation repository.
func NewPendingRepository(db *gorm.DB) *PendingRepository {
	return &PendingRepository{db: db}
}

var _ confirm.PendingStore = (*PendingRepository)(nil)

func (r *PendingRepository) Create(ctx context.Context, req *confirm.CreateRequest, ttl time.Duration) (string, error) {
	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", fmt.Errorf("generating confirmation ID: %w", err)
	}
	id := hex.EncodeToString(idBytes)

	cmdJSON, err := json.Marshal(req.Command)
	if err != nil {
		return "", fmt.Errorf("encoding parked command: %w", err)
	}

	now := time.Now().UTC()
	model := PendingConfirmationModel{
		ID:          id,
		UserID:      req.UserID,
		ThreadID:    req.ThreadID,
		Command:     cmdJSON,
		ConfirmText: req.ConfirmText,
		Status:      confirm.StatusPending.String(),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return "", fmt.Errorf("creating pending confirmation: %w", err)
	}
	return id, nil
}

func (r *PendingRepository) Get(ctx context.Context, id string) (*confirm.PendingConfirmation, error) {
	var model PendingConfirmationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, confirm.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading pending confirmation: %w", err)
	}
	return pendingFromModel(model)
}

func (r *PendingRepository) Consume(ctx context.Context, id string, approved bool, resolverID string) (*confirm.PendingConfirmation, error) {
	now := time.Now().UTC()
	status := confirm.StatusConfirmed
	if !approved {
		status = confirm.StatusCancelled
	}

	// Conditional update: only a live pending row transitions. RowsAffected=0
	// means someone else (a second confirm, or the sweep) won.
	res := r.db.WithContext(ctx).Model(&PendingConfirmationModel{}).
		Where("id = ? AND status = ? AND expires_at > ?", id, confirm.StatusPending.String(), now).
		Updates(map[string]any{
			"status":      status.String(),
			"resolved_by": resolverID,
			"resolved_at": now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("consuming pending confirmation: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		// Classify the loss: missing, already resolved, or expired.
		var model PendingConfirmationModel
		err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, confirm.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("loading pending confirmation: %w", err)
		}
		if model.Status != confirm.StatusPending.String() {
			return nil, confirm.ErrAlreadyResolved
		}
		return nil, confirm.ErrExpired
	}

	var model PendingConfirmationModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("loading consumed confirmation: %w", err)
	}
	return pendingFromModel(model)
}

func (r *PendingRepository) ExpireOld(ctx context.Context) error {
	return r.db.WithContext(ctx).Model(&PendingConfirmationModel{}).
		Where("status = ? AND expires_at <= ?", confirm.StatusPending.String(), time.Now().UTC()).
		Update("status", confirm.StatusExpired.String()).Error
}

func (r *PendingRepository) DeleteResolved(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().UTC().Add(-olderThan)
	return r.db.WithContext(ctx).
		Where("status <> ? AND expires_at <= ?", confirm.StatusPending.String(), cutoff).
		Delete(&PendingConfirmationModel{}).Error
}

func pendingFromModel(m PendingConfirmationModel) (*confirm.PendingConfirmation, error) {
	var cmd command.Command
	if err := json.Unmarshal(m.Command, &cmd); err != nil {
		return nil, fmt.Errorf("decoding parked command: %w", err)
	}

	pc := &confirm.PendingConfirmation{
		ID:          m.ID,
		UserID:      m.UserID,
		ThreadID:    m.ThreadID,
		Command:     cmd,
		ConfirmText: m.ConfirmText,
		Status:      statusFromString(m.Status),
		ResolvedBy:  m.ResolvedBy,
		CreatedAt:   m.CreatedAt,
		ExpiresAt:   m.ExpiresAt,
	}
	if m.ResolvedAt != nil {
		pc.ResolvedAt = *m.ResolvedAt
	}
	return pc, nil
}

func statusFromString(s string) confirm.Status {
	switch s {
	case confirm.StatusConfirmed.String():
		return confirm.StatusConfirmed
	case confirm.StatusCancelled.String():
		return confirm.StatusCancelled
	case confirm.StatusExpired.String():
		return confirm.StatusExpired
	default:
		return confirm.StatusPending
	}
}
