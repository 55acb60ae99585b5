// Package permission implements default-deny permission resolution for
// Feedhive. Every sensitive action a bot or chat command wants to perform is
// gated on a closed set of permission keys. Effective policy is computed by
// layering per-user overrides over static defaults:
//
//	default < global override < bot override
//
// Missing fields in an override inherit from the next-lower layer, not from
// the static default. Resolution is read-only; callers own audit logging.
package permission

import (
	"errors"
)

// Sentinel errors for permission enforcement.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrApprovalRequired = errors.New("approval required")
	ErrUnknownKey       = errors.New("unknown permission key")
)

// RiskTier classifies the danger of an action gated by a permission key.
type RiskTier int

const (
	TierLow      RiskTier = iota // Read-only, no side effects.
	TierMedium                   // Writes to scoped resources.
	TierHigh                     // System changes, approval by default.
	TierCritical                 // Destructive operations, always gated.
)

func (r RiskTier) String() string {
	switch r {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	case TierCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseRiskTier converts a string to a RiskTier.
// Unrecognized values default to TierCritical (default-deny principle).
func ParseRiskTier(s string) RiskTier {
	switch s {
	case "low":
		return TierLow
	case "medium":
		return TierMedium
	case "high":
		return TierHigh
	case "critical":
		return TierCritical
	default:
		return TierCritical
	}
}

// ApprovalMode is the policy disposition for a permission key.
type ApprovalMode string

const (
	AutoAllowed      ApprovalMode = "AUTO_ALLOWED"
	ApprovalRequired ApprovalMode = "APPROVAL_REQUIRED"
	AutoDenied       ApprovalMode = "AUTO_DENIED"
)

// EgressLevel bounds how much content may leave the system toward an external
// LLM provider. Totally ordered: NO_EGRESS < METADATA_ONLY < FULL_CONTENT_ALLOWED.
type EgressLevel int

const (
	EgressNone EgressLevel = iota
	EgressMetadataOnly
	EgressFullContent
)

func (l EgressLevel) String() string {
	switch l {
	case EgressNone:
		return "NO_EGRESS"
	case EgressMetadataOnly:
		return "METADATA_ONLY"
	case EgressFullContent:
		return "FULL_CONTENT_ALLOWED"
	default:
		return "unknown"
	}
}

// ParseEgressLevel converts a string to an EgressLevel.
// Unrecognized values default to EgressNone (default-deny principle).
func ParseEgressLevel(s string) EgressLevel {
	switch s {
	case "METADATA_ONLY":
		return EgressMetadataOnly
	case "FULL_CONTENT_ALLOWED":
		return EgressFullContent
	default:
		return EgressNone
	}
}

// Scope is the level at which a permission override applies.
type Scope string

const (
	ScopeDefault Scope = "default" // Static key default. Never stored.
	ScopeGlobal  Scope = "global"  // Per user, all bots.
	ScopeBot     Scope = "bot"     // Per user + bot.
)

// Value is a fully resolved permission value.
type Value struct {
	Enabled       bool           `json:"enabled"`
	ApprovalMode  ApprovalMode   `json:"approval_mode"`
	EgressLevel   EgressLevel    `json:"egress_level,omitempty"` // Meaningful only for KeyLLMEgressLevel.
	ResourceScope map[string]any `json:"resource_scope,omitempty"`
}

// Patch is a partial override of a Value. Nil fields inherit from the
// next-lower layer when merged.
type Patch struct {
	Enabled       *bool          `json:"enabled,omitempty"`
	ApprovalMode  *ApprovalMode  `json:"approval_mode,omitempty"`
	EgressLevel   *EgressLevel   `json:"egress_level,omitempty"`
	ResourceScope map[string]any `json:"resource_scope,omitempty"`
}

// IsZero reports whether the patch overrides nothing.
func (p Patch) IsZero() bool {
	return p.Enabled == nil && p.ApprovalMode == nil && p.EgressLevel == nil && p.ResourceScope == nil
}

// EffectivePolicy is the computed policy for one key. Source records which
// layer produced the value, for UI transparency and audit.
type EffectivePolicy struct {
	Key    Key      `json:"key"`
	Value  Value    `json:"value"`
	Source Scope    `json:"source"`
	Risk   RiskTier `json:"risk"`
}
