package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/feedhive/feedhive/internal/permission"
)

// OverrideRepository implements permission.OverrideStore. The composite
// unique index on (user_id, scope, scope_id, key) gives last-write-wins
// upsert semantics; global scope stores scope_id=0, never NULL.
type OverrideRepository struct {
	db *gorm.DB
}

// NewOverrideRepository creates an override repository.
func NewOverrideRepository(db *gorm.DB) *OverrideRepository {
	return &OverrideRepository{db: db}
}

var _ permission.OverrideStore = (*OverrideRepository)(nil)

func (r *OverrideRepository) List(ctx context.Context, userID string, scope permission.Scope, scopeID *int64) ([]permission.Override, error) {
	var models []PermissionOverrideModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND scope = ? AND scope_id = ?", userID, string(scope), scopeIDValue(scopeID)).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing overrides: %w", err)
	}

	out := make([]permission.Override, 0, len(models))
	for _, m := range models {
		ov, err := overrideFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, ov)
	}
	return out, nil
}

func (r *OverrideRepository) Upsert(ctx context.Context, ov permission.Override) error {
	patch, err := json.Marshal(ov.Patch)
	if err != nil {
		return fmt.Errorf("encoding override patch: %w", err)
	}

	model := PermissionOverrideModel{
		UserID:    ov.UserID,
		Scope:     string(ov.Scope),
		ScopeID:   scopeIDValue(ov.ScopeID),
		Key:       string(ov.Key),
		Patch:     patch,
		UpdatedAt: ov.UpdatedAt,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"}, {Name: "scope"}, {Name: "scope_id"}, {Name: "key"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"patch", "updated_at"}),
		}).
		Create(&model).Error
}

func (r *OverrideRepository) Delete(ctx context.Context, userID string, scope permission.Scope, scopeID *int64, key permission.Key) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND scope = ? AND scope_id = ? AND key = ?",
			userID, string(scope), scopeIDValue(scopeID), string(key)).
		Delete(&PermissionOverrideModel{}).Error
}

func overrideFromModel(m PermissionOverrideModel) (permission.Override, error) {
	var patch permission.Patch
	if len(m.Patch) > 0 {
		if err := json.Unmarshal(m.Patch, &patch); err != nil {
			return permission.Override{}, fmt.Errorf("decoding override patch for key %s: %w", m.Key, err)
		}
	}
	var scopeID *int64
	if m.ScopeID != 0 {
		id := m.ScopeID
		scopeID = &id
	}
	return permission.Override{
		UserID:    m.UserID,
		Scope:     permission.Scope(m.Scope),
		ScopeID:   scopeID,
		Key:       permission.Key(m.Key),
		Patch:     patch,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

func scopeIDValue(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
