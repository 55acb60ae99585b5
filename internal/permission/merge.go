package permission

// Layer is one override layer in precedence order (lowest first).
// A nil Patch means no override exists at that scope.
type Layer struct {
	Scope Scope
	Patch *Patch
}

// Merge computes the effective policy for a key from its static default and
// an ordered list of override layers, lowest precedence first. Each non-nil
// patch field replaces the already-merged value; nil fields inherit from the
// layer below. This is the single merge implementation; every call site that
// needs effective permissions goes through it, so layering semantics cannot
// diverge.
//
// Source is the scope of the highest layer that overrides anything, or
// ScopeDefault when no layer does.
func Merge(def Definition, layers []Layer) EffectivePolicy {
	value := def.Default
	source := ScopeDefault

	for _, layer := range layers {
		if layer.Patch == nil || layer.Patch.IsZero() {
			continue
		}
		value = applyPatch(value, *layer.Patch)
		source = layer.Scope
	}

	return EffectivePolicy{
		Key:    def.Key,
		Value:  value,
		Source: source,
		Risk:   def.Risk,
	}
}

// applyPatch overlays the patch's set fields onto v.
// ResourceScope replaces wholesale; partial map merges are not supported.
func applyPatch(v Value, p Patch) Value {
	if p.Enabled != nil {
		v.Enabled = *p.Enabled
	}
	if p.ApprovalMode != nil {
		v.ApprovalMode = *p.ApprovalMode
	}
	if p.EgressLevel != nil {
		v.EgressLevel = *p.EgressLevel
	}
	if p.ResourceScope != nil {
		v.ResourceScope = p.ResourceScope
	}
	return v
}
