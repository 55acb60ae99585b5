package audit

import (
	"context"
	"log/slog"
)

// BestEffort wraps a Logger so that logging failures are swallowed with a
// local warning instead of propagating. Audit logging must never block the
// user-facing action it records.
type BestEffort struct {
	inner  Logger
	logger *slog.Logger
}

// NewBestEffort wraps the given logger. A nil inner logger yields a no-op.
func NewBestEffort(inner Logger, logger *slog.Logger) *BestEffort {
	return &BestEffort{inner: inner, logger: logger}
}

func (b *BestEffort) Log(ctx context.Context, event Event) error {
	if b.inner == nil {
		return nil
	}
	if err := b.inner.Log(ctx, event); err != nil {
		b.logger.WarnContext(ctx, "audit log write failed",
			slog.String("event_type", string(event.EventType)),
			slog.String("user_id", event.UserID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (b *BestEffort) Close() error {
	if b.inner == nil {
		return nil
	}
	return b.inner.Close()
}

var _ Logger = (*BestEffort)(nil)
