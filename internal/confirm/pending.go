// Package confirm implements the confirmation state machine: a parsed
// command either executes immediately, asks for clarification, or is parked
// as a pending confirmation awaiting human approve/deny within a TTL.
package confirm

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/feedhive/feedhive/internal/command"
)

var (
	ErrNotFound        = errors.New("pending confirmation not found")
	ErrExpired         = errors.New("pending confirmation expired")
	ErrAlreadyResolved = errors.New("pending confirmation already resolved")
)

// Status represents the state of a pending confirmation.
type Status int

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusCancelled
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusCancelled:
		return "cancelled"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// PendingConfirmation is a parked command awaiting human approve/deny.
// Exactly one resolution happens per ID: a second confirm attempt on a
// consumed ID fails with ErrAlreadyResolved, never re-executes.
type PendingConfirmation struct {
	ID          string
	UserID      string
	ThreadID    string
	Command     command.Command
	ConfirmText string
	Status      Status
	ResolvedBy  string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ResolvedAt  time.Time
}

// CreateRequest contains the fields needed to park a command.
type CreateRequest struct {
	UserID      string
	ThreadID    string
	Command     command.Command
	ConfirmText string
}

// ConfirmationManager is the public contract for the pending-confirmation
// store. Both the in-memory *Manager and the store-backed *DBManager satisfy
// it. Consume must be linearizable per ID: a confirm call and the expiry
// sweep never both win on the same record.
type ConfirmationManager interface {
	Create(ctx context.Context, req *CreateRequest) (string, error)
	Get(ctx context.Context, id string) (*PendingConfirmation, error)
	Consume(ctx context.Context, id string, approved bool, resolverID string) (*PendingConfirmation, error)
	StartSweep(ctx context.Context, interval time.Duration) func()
}

// Manager stores pending confirmations in memory. Thread-safe. Records expire
// after a configurable TTL. Pending state does not survive a process restart;
// in-flight confirmations are lost and the user is asked again. Use DBManager
// when cross-restart survival matters.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*PendingConfirmation
	ttl     time.Duration
	logger  *slog.Logger
}

// NewManager creates a confirmation manager with the given default TTL.
func NewManager(ttl time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		pending: make(map[string]*PendingConfirmation),
		ttl:     ttl,
		logger:  logger,
	}
}

// Create parks a command and returns the pending ID.
func (m *Manager) Create(_ context.Context, req *CreateRequest) (string, error) {
	id, err := generateID()
	if err != nil {
		return "", fmt.Errorf("generating confirmation ID: %w", err)
	}

	now := time.Now().UTC()
	pc := &PendingConfirmation{
		ID:          id,
		UserID:      req.UserID,
		ThreadID:    req.ThreadID,
		Command:     req.Command,
		ConfirmText: req.ConfirmText,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.ttl),
	}

	m.mu.Lock()
	m.pending[id] = pc
	m.mu.Unlock()

	m.logger.Info("confirmation parked",
		slog.String("pending_id", id),
		slog.String("user_id", req.UserID),
		slog.String("command_type", string(req.Command.Type)),
	)
	return id, nil
}

// Get retrieves a pending confirmation by ID.
func (m *Manager) Get(_ context.Context, id string) (*PendingConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, ok := m.pending[id]
	if !ok {
		return nil, ErrNotFound
	}
	// Mark as expired on access if past TTL.
	if pc.Status == StatusPending && time.Now().UTC().After(pc.ExpiresAt) {
		pc.Status = StatusExpired
	}
	snapshot := *pc
	return &snapshot, nil
}

// Consume resolves a pending confirmation exactly once and returns the
// parked record. Absent IDs return ErrNotFound, consumed IDs
// ErrAlreadyResolved, expired IDs ErrExpired. The status transition and the
// read happen under one lock, so Consume and the sweep are linearizable per
// ID.
func (m *Manager) Consume(_ context.Context, id string, approved bool, resolverID string) (*PendingConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, ok := m.pending[id]
	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().UTC().After(pc.ExpiresAt) && pc.Status == StatusPending {
		pc.Status = StatusExpired
		return nil, ErrExpired
	}
	if pc.Status != StatusPending {
		return nil, ErrAlreadyResolved
	}

	if approved {
		pc.Status = StatusConfirmed
	} else {
		pc.Status = StatusCancelled
	}
	pc.ResolvedBy = resolverID
	pc.ResolvedAt = time.Now().UTC()

	m.logger.Info("confirmation resolved",
		slog.String("pending_id", id),
		slog.String("resolver", resolverID),
		slog.String("status", pc.Status.String()),
	)

	snapshot := *pc
	return &snapshot, nil
}

// Sweep marks expired records and evicts anything resolved or expired more
// than 2x TTL ago. Runs under the same lock as Consume (resolve-then-delete
// ordering, single consumer per ID).
func (m *Manager) Sweep(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for id, pc := range m.pending {
		if pc.Status == StatusPending && now.After(pc.ExpiresAt) {
			pc.Status = StatusExpired
		}
		if pc.Status != StatusPending && now.After(pc.ExpiresAt.Add(m.ttl)) {
			delete(m.pending, id)
		}
	}
}

// StartSweep starts a background goroutine that calls Sweep periodically.
// Returns a cancel function to stop the goroutine.
func (m *Manager) StartSweep(ctx context.Context, interval time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(ctx)
			}
		}
	}()
	return cancel
}

func generateID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var _ ConfirmationManager = (*Manager)(nil)
