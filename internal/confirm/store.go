package confirm

import (
	"context"
	"log/slog"
	"time"
)

// PendingStore is the persistence contract for durable pending confirmations.
// Implementations must enforce the state machine:
//
//	Pending -> Confirmed
//	Pending -> Cancelled
//	Pending -> Expired
//
// Once resolved, status is immutable. Consume must be atomic per ID.
type PendingStore interface {
	Create(ctx context.Context, req *CreateRequest, ttl time.Duration) (id string, err error)
	Get(ctx context.Context, id string) (*PendingConfirmation, error)
	// Consume transitions a pending record to Confirmed or Cancelled and
	// returns it. Must map missing rows to ErrNotFound, resolved rows to
	// ErrAlreadyResolved, and expired rows to ErrExpired.
	Consume(ctx context.Context, id string, approved bool, resolverID string) (*PendingConfirmation, error)
	// ExpireOld bulk-updates status to expired for all pending rows past expires_at.
	ExpireOld(ctx context.Context) error
	// DeleteResolved removes resolved/expired rows older than the given age.
	DeleteResolved(ctx context.Context, olderThan time.Duration) error
}

// DBManager is the store-backed ConfirmationManager. Pending confirmations
// survive a process restart.
type DBManager struct {
	store  PendingStore
	ttl    time.Duration
	logger *slog.Logger
}

// NewDBManager creates a store-backed confirmation manager.
func NewDBManager(store PendingStore, ttl time.Duration, logger *slog.Logger) *DBManager {
	return &DBManager{store: store, ttl: ttl, logger: logger}
}

func (m *DBManager) Create(ctx context.Context, req *CreateRequest) (string, error) {
	id, err := m.store.Create(ctx, req, m.ttl)
	if err != nil {
		return "", err
	}
	m.logger.Info("confirmation parked (db)",
		slog.String("pending_id", id),
		slog.String("user_id", req.UserID),
		slog.String("command_type", string(req.Command.Type)),
	)
	return id, nil
}

func (m *DBManager) Get(ctx context.Context, id string) (*PendingConfirmation, error) {
	return m.store.Get(ctx, id)
}

func (m *DBManager) Consume(ctx context.Context, id string, approved bool, resolverID string) (*PendingConfirmation, error) {
	pc, err := m.store.Consume(ctx, id, approved, resolverID)
	if err == nil {
		m.logger.Info("confirmation resolved (db)",
			slog.String("pending_id", id),
			slog.String("resolver", resolverID),
			slog.String("status", pc.Status.String()),
		)
	}
	return pc, err
}

// StartSweep starts a background goroutine that expires old records and
// deletes resolved entries periodically.
func (m *DBManager) StartSweep(ctx context.Context, interval time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.store.ExpireOld(ctx); err != nil {
					m.logger.Error("expiring confirmations", slog.String("error", err.Error()))
				}
				if err := m.store.DeleteResolved(ctx, 2*m.ttl); err != nil {
					m.logger.Error("deleting resolved confirmations", slog.String("error", err.Error()))
				}
			}
		}
	}()
	return cancel
}

var _ ConfirmationManager = (*DBManager)(nil)
