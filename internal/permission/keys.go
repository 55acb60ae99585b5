package permission

import "sort"

// Key identifies a gated capability. The set is closed: checks against keys
// outside this enumeration fail closed.
type Key string

const (
	KeyWebRSS            Key = "WEB_RSS"
	KeyWebFetch          Key = "WEB_FETCH"
	KeySourceWrite       Key = "SOURCE_WRITE"
	KeyLLMUse            Key = "LLM_USE"
	KeyLLMEgressLevel    Key = "LLM_EGRESS_LEVEL"
	KeyFSRead            Key = "FS_READ"
	KeyFSWrite           Key = "FS_WRITE"
	KeyFSDelete          Key = "FS_DELETE"
	KeyCalRead           Key = "CAL_READ"
	KeyCalWrite          Key = "CAL_WRITE"
	KeyScheduleWrite     Key = "SCHEDULE_WRITE"
	KeyMemoryWrite       Key = "MEMORY_WRITE"
	KeyAutonomyLevel     Key = "AUTONOMY_LEVEL"
	KeyAgentRun          Key = "AGENT_RUN"
	KeyToolUse           Key = "TOOL_USE"
	KeyTelegramConnect   Key = "TELEGRAM_CONNECT"
	KeyTelegramSend      Key = "TELEGRAM_SEND"
	KeyRiskBudgetLimit   Key = "RISK_BUDGET_LIMIT"
	KeyCriticalAutoAllow Key = "CRITICAL_AUTO_ALLOW"
)

// Definition is the static description of a permission key: its risk tier and
// the default value applied when no override exists at any scope.
type Definition struct {
	Key     Key
	Risk    RiskTier
	Default Value
}

// definitions is the closed key enumeration with static defaults.
// Read-only, safe for concurrent use.
var definitions = map[Key]Definition{
	KeyWebRSS: {
		Key: KeyWebRSS, Risk: TierLow,
		Default: Value{Enabled: true, ApprovalMode: AutoAllowed},
	},
	KeyWebFetch: {
		Key: KeyWebFetch, Risk: TierMedium,
		Default: Value{Enabled: true, ApprovalMode: ApprovalRequired},
	},
	KeySourceWrite: {
		Key: KeySourceWrite, Risk: TierMedium,
		Default: Value{Enabled: true, ApprovalMode: AutoAllowed},
	},
	KeyLLMUse: {
		Key: KeyLLMUse, Risk: TierMedium,
		Default: Value{Enabled: true, ApprovalMode: AutoAllowed},
	},
	KeyLLMEgressLevel: {
		Key: KeyLLMEgressLevel, Risk: TierMedium,
		Default: Value{Enabled: true, ApprovalMode: AutoAllowed, EgressLevel: EgressMetadataOnly},
	},
	KeyFSRead: {
		Key: KeyFSRead, Risk: TierLow,
		Default: Value{Enabled: true, ApprovalMode: AutoAllowed},
	},
	KeyFSWrite: {
		Key: KeyFSWrite, Risk: TierHigh,
		Default: Value{Enabled: true, ApprovalMode: ApprovalRequired},
	},
	KeyFSDelete: {
		Key: KeyFSDelete, Risk: TierCritical,
		Default: Value{Enabled: false, ApprovalMode: AutoDenied},
	},
	KeyCalRead: {
		Key: KeyCalRead, Risk: TierLow,
		Default: Value{Enabled: true, ApprovalMode: AutoAllowed},
	},
	KeyCalWrite: {
		Key: KeyCalWrite, Risk: TierMedium,
		Default: Value{Enabled: true, ApprovalMode: ApprovalRequired},
	},
	KeyScheduleWrite: {
		Key: KeyScheduleWrite, Risk: TierMedium,
		Default: Value{Enabled: true, ApprovalMode: ApprovalRequired},
	},
	KeyMemoryWrite: {
		Key: KeyMemoryWrite, Risk: TierLow,
		Default: Value{Enabled: true, ApprovalMode: AutoAllowed},
	},
	KeyAutonomyLevel: {
		Key: KeyAutonomyLevel, Risk: TierHigh,
		Default: Value{Enabled: true, ApprovalMode: AutoAllowed, ResourceScope: map[string]any{"level": "supervised"}},
	},
	KeyAgentRun: {
		Key: KeyAgentRun, Risk: TierHigh,
		Default: Value{Enabled: true, ApprovalMode: ApprovalRequired},
	},
	KeyToolUse: {
		Key: KeyToolUse, Risk: TierMedium,
		Default: Value{Enabled: true, ApprovalMode: AutoAllowed},
	},
	KeyTelegramConnect: {
		Key: KeyTelegramConnect, Risk: TierHigh,
		Default: Value{Enabled: true, ApprovalMode: ApprovalRequired},
	},
	KeyTelegramSend: {
		Key: KeyTelegramSend, Risk: TierMedium,
		Default: Value{Enabled: true, ApprovalMode: ApprovalRequired},
	},
	KeyRiskBudgetLimit: {
		Key: KeyRiskBudgetLimit, Risk: TierHigh,
		Default: Value{Enabled: true, ApprovalMode: AutoAllowed, ResourceScope: map[string]any{"budget": 20}},
	},
	KeyCriticalAutoAllow: {
		Key: KeyCriticalAutoAllow, Risk: TierCritical,
		Default: Value{Enabled: false, ApprovalMode: AutoDenied},
	},
}

// Lookup returns the static definition for a key.
// ok is false for keys outside the closed enumeration.
func Lookup(k Key) (Definition, bool) {
	def, ok := definitions[k]
	return def, ok
}

// Keys returns all known permission keys in stable (sorted) order.
func Keys() []Key {
	keys := make([]Key, 0, len(definitions))
	for k := range definitions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
