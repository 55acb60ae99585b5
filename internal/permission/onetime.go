package permission

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// OneTimeGrants stores short-lived single-use approval grants. When a
// permission check returns RequiresApproval and a human approves, a grant is
// issued for (user, key); the next enforcement check for that pair consumes
// it. A grant is consumed exactly once; a second check never sees it.
//
// State is in-memory and injected into its consumers (not a package-level
// singleton), so tests get isolated grant state. Grants do not survive a
// process restart; at 60s TTL that loss window is accepted.
type OneTimeGrants struct {
	mu     sync.Mutex
	grants map[grantID]time.Time // value = expiry
	ttl    time.Duration
	logger *slog.Logger
}

type grantID struct {
	userID string
	key    Key
}

// DefaultGrantTTL is how long a one-time approval remains usable.
const DefaultGrantTTL = 60 * time.Second

// NewOneTimeGrants creates a grant store with the given TTL.
// A non-positive ttl falls back to DefaultGrantTTL.
func NewOneTimeGrants(ttl time.Duration, logger *slog.Logger) *OneTimeGrants {
	if ttl <= 0 {
		ttl = DefaultGrantTTL
	}
	return &OneTimeGrants{
		grants: make(map[grantID]time.Time),
		ttl:    ttl,
		logger: logger,
	}
}

// Grant issues (or refreshes) a one-time approval for the user and key.
func (g *OneTimeGrants) Grant(userID string, key Key) {
	g.mu.Lock()
	g.grants[grantID{userID, key}] = time.Now().UTC().Add(g.ttl)
	g.mu.Unlock()

	g.logger.Info("one-time approval granted",
		slog.String("user_id", userID),
		slog.String("key", string(key)),
		slog.Duration("ttl", g.ttl),
	)
}

// Consume reports whether a live grant exists for the user and key, and
// removes it. Expired grants are never returned.
func (g *OneTimeGrants) Consume(userID string, key Key) bool {
	id := grantID{userID, key}

	g.mu.Lock()
	defer g.mu.Unlock()

	expiry, ok := g.grants[id]
	if !ok {
		return false
	}
	delete(g.grants, id)
	if time.Now().UTC().After(expiry) {
		return false
	}
	return true
}

// Sweep evicts expired grants.
func (g *OneTimeGrants) Sweep() {
	now := time.Now().UTC()
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, expiry := range g.grants {
		if now.After(expiry) {
			delete(g.grants, id)
		}
	}
}

// StartSweep starts a background goroutine that evicts expired grants
// periodically. Returns a cancel function to stop the goroutine.
func (g *OneTimeGrants) StartSweep(ctx context.Context, interval time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.Sweep()
			}
		}
	}()
	return cancel
}
