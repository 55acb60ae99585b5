package permission

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Override is one stored override row. At most one row exists per
// (UserID, Scope, ScopeID, Key); the store enforces upsert semantics.
type Override struct {
	UserID    string
	Scope     Scope  // ScopeGlobal or ScopeBot. ScopeDefault is never stored.
	ScopeID   *int64 // Bot ID for ScopeBot, nil for ScopeGlobal.
	Key       Key
	Patch     Patch
	UpdatedAt time.Time
}

// OverrideStore is the persistence contract for permission overrides.
// Implementations must support safe concurrent reads and last-write-wins
// upserts.
type OverrideStore interface {
	List(ctx context.Context, userID string, scope Scope, scopeID *int64) ([]Override, error)
	Upsert(ctx context.Context, ov Override) error
	Delete(ctx context.Context, userID string, scope Scope, scopeID *int64, key Key) error
}

// Subject identifies who is asking for what scope of permissions.
type Subject struct {
	UserID   string
	BotID    *int64 // nil = no bot scope, global + default only.
	ThreadID string // Chat thread, for audit correlation. Optional.
}

// Check is the outcome of a single permission check.
type Check struct {
	Allowed          bool
	RequiresApproval bool
	Reason           string
	Policy           EffectivePolicy
}

// EgressCheck is the outcome of an egress-level check.
type EgressCheck struct {
	Allowed        bool
	Reason         string
	EffectiveLevel EgressLevel
}

// Engine resolves effective permissions by merging stored overrides over the
// static key defaults. It performs no side effects: callers own audit logging
// of the decisions it returns.
//
// Failure policy: any store failure resolves to deny. The engine never fails
// open.
type Engine struct {
	store  OverrideStore
	logger *slog.Logger
}

// NewEngine creates a permission resolution engine.
func NewEngine(store OverrideStore, logger *slog.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// EffectivePermissions computes the effective policy for every key in the
// closed enumeration. When botID is nil only the global layer applies.
func (e *Engine) EffectivePermissions(ctx context.Context, userID string, botID *int64) (map[Key]EffectivePolicy, error) {
	layers, err := e.loadLayers(ctx, userID, botID)
	if err != nil {
		return nil, err
	}

	result := make(map[Key]EffectivePolicy, len(definitions))
	for _, k := range Keys() {
		def := definitions[k]
		result[k] = Merge(def, layers[k])
	}
	return result, nil
}

// CheckPermission resolves the effective policy for one key and evaluates it:
//
//	enabled=false            => denied, no approval offered
//	mode=AUTO_DENIED         => denied
//	mode=APPROVAL_REQUIRED   => not allowed, RequiresApproval=true
//	mode=AUTO_ALLOWED        => allowed
//
// Unknown keys and store failures are denied (fail closed).
func (e *Engine) CheckPermission(ctx context.Context, sub Subject, key Key) Check {
	def, ok := definitions[key]
	if !ok {
		return Check{
			Allowed: false,
			Reason:  fmt.Sprintf("unknown permission key %q", key),
		}
	}

	layers, err := e.loadLayers(ctx, sub.UserID, sub.BotID)
	if err != nil {
		e.logger.WarnContext(ctx, "permission lookup failed, denying",
			slog.String("user_id", sub.UserID),
			slog.String("key", string(key)),
			slog.String("error", err.Error()),
		)
		return Check{
			Allowed: false,
			Reason:  "permission store unavailable",
		}
	}

	policy := Merge(def, layers[key])
	return evaluate(policy)
}

// CheckEgress compares the required egress level against the effective
// LLM_EGRESS_LEVEL. If LLM_USE is disabled, egress is always denied
// regardless of the configured level.
func (e *Engine) CheckEgress(ctx context.Context, sub Subject, required EgressLevel) EgressCheck {
	layers, err := e.loadLayers(ctx, sub.UserID, sub.BotID)
	if err != nil {
		e.logger.WarnContext(ctx, "egress lookup failed, denying",
			slog.String("user_id", sub.UserID),
			slog.String("error", err.Error()),
		)
		return EgressCheck{Allowed: false, Reason: "permission store unavailable"}
	}

	llmUse := Merge(definitions[KeyLLMUse], layers[KeyLLMUse])
	if !llmUse.Value.Enabled {
		return EgressCheck{
			Allowed: false,
			Reason:  "LLM use is disabled",
		}
	}

	egress := Merge(definitions[KeyLLMEgressLevel], layers[KeyLLMEgressLevel])
	effective := egress.Value.EgressLevel
	if !egress.Value.Enabled {
		effective = EgressNone
	}

	if required > effective {
		return EgressCheck{
			Allowed:        false,
			Reason:         fmt.Sprintf("requires egress level %s, effective level is %s", required, effective),
			EffectiveLevel: effective,
		}
	}
	return EgressCheck{Allowed: true, EffectiveLevel: effective}
}

// SetOverride upserts an override after validating the key and scope.
func (e *Engine) SetOverride(ctx context.Context, ov Override) error {
	if _, ok := definitions[ov.Key]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, ov.Key)
	}
	switch ov.Scope {
	case ScopeGlobal:
		ov.ScopeID = nil
	case ScopeBot:
		if ov.ScopeID == nil {
			return fmt.Errorf("bot-scoped override requires a bot ID")
		}
	default:
		return fmt.Errorf("invalid override scope %q", ov.Scope)
	}
	ov.UpdatedAt = time.Now().UTC()
	return e.store.Upsert(ctx, ov)
}

// ClearOverride removes an override, revealing the next-lower layer.
func (e *Engine) ClearOverride(ctx context.Context, userID string, scope Scope, scopeID *int64, key Key) error {
	if _, ok := definitions[key]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return e.store.Delete(ctx, userID, scope, scopeID, key)
}

// loadLayers fetches the global and (optionally) bot override layers and
// indexes them per key, in merge order.
func (e *Engine) loadLayers(ctx context.Context, userID string, botID *int64) (map[Key][]Layer, error) {
	global, err := e.store.List(ctx, userID, ScopeGlobal, nil)
	if err != nil {
		return nil, fmt.Errorf("listing global overrides: %w", err)
	}

	var bot []Override
	if botID != nil {
		bot, err = e.store.List(ctx, userID, ScopeBot, botID)
		if err != nil {
			return nil, fmt.Errorf("listing bot overrides: %w", err)
		}
	}

	layers := make(map[Key][]Layer, len(definitions))
	globalByKey := indexByKey(global)
	botByKey := indexByKey(bot)
	for k := range definitions {
		layers[k] = []Layer{
			{Scope: ScopeGlobal, Patch: globalByKey[k]},
			{Scope: ScopeBot, Patch: botByKey[k]},
		}
	}
	return layers, nil
}

func indexByKey(overrides []Override) map[Key]*Patch {
	m := make(map[Key]*Patch, len(overrides))
	for i := range overrides {
		p := overrides[i].Patch
		m[overrides[i].Key] = &p
	}
	return m
}

func evaluate(policy EffectivePolicy) Check {
	if !policy.Value.Enabled {
		return Check{
			Allowed: false,
			Reason:  fmt.Sprintf("%s is disabled", policy.Key),
			Policy:  policy,
		}
	}
	switch policy.Value.ApprovalMode {
	case AutoDenied:
		return Check{
			Allowed: false,
			Reason:  fmt.Sprintf("%s is set to auto-deny", policy.Key),
			Policy:  policy,
		}
	case ApprovalRequired:
		return Check{
			Allowed:          false,
			RequiresApproval: true,
			Reason:           fmt.Sprintf("%s requires approval", policy.Key),
			Policy:           policy,
		}
	case AutoAllowed:
		return Check{Allowed: true, Policy: policy}
	default:
		// Malformed stored mode: fail closed.
		return Check{
			Allowed: false,
			Reason:  fmt.Sprintf("%s has invalid approval mode %q", policy.Key, policy.Value.ApprovalMode),
			Policy:  policy,
		}
	}
}
