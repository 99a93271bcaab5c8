package rbac

// DecisionSource records which input produced a decision
type DecisionSource string

const (
	SourceOverrideGrant DecisionSource = "override-grant"
	SourceOverrideDeny  DecisionSource = "override-deny"
	SourceRole          DecisionSource = "role"
	SourceNone          DecisionSource = "none"
)

// DecisionState is everything a decision depends on for one
// (user, permission) pair
type DecisionState struct {
	// Override is the stored exception, if any
	Override Override
	// RoleHolds is true when the user's role owns the permission. It is
	// false for a user without a role.
	RoleHolds bool
	// RoleName is the user's stored role, empty when unassigned
	RoleName string
}

// Decide applies the resolution rule. An override dominates the role in
// both directions; without one the role's permission set decides.
func Decide(override Override, roleHolds bool) bool {
	allowed, _ := DecideWithSource(override, roleHolds)
	return allowed
}

// DecideWithSource is Decide plus the input that determined the result
func DecideWithSource(override Override, roleHolds bool) (bool, DecisionSource) {
	switch override {
	case OverrideGrant:
		return true, SourceOverrideGrant
	case OverrideDeny:
		return false, SourceOverrideDeny
	}
	if roleHolds {
		return true, SourceRole
	}
	return false, SourceNone
}

// Decide resolves the state
func (s DecisionState) Decide() (bool, DecisionSource) {
	return DecideWithSource(s.Override, s.RoleHolds)
}
