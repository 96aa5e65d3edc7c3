package rbac

// CheckRequest asks whether a user may perform an action on a resource.
// ContextID is optional and narrows scope matching when present.
type CheckRequest struct {
	UserID       string `json:"user_id"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Action       string `json:"action"`
	ContextID    string `json:"context_id,omitempty"`
}

// Denial and grant reasons reported in CheckResult.
const (
	ReasonInvalidRequest   = "INVALID_REQUEST"
	ReasonNoRolesAssigned  = "NO_ROLES_ASSIGNED"
	ReasonExplicitDeny     = "EXPLICITLY_DENIED"
	ReasonDenied           = "PERMISSION_DENIED"
	ReasonDirectGrant      = "DIRECT_PERMISSION_GRANTED"
	ReasonInheritedGrant   = "INHERITED_PERMISSION_GRANTED"
	ReasonConditionsFailed = "CONDITIONS_NOT_MET"
)

// CheckResult is the outcome of a single permission check. Absence of a
// matching, unexpired, in-scope allow permission means Granted is false.
type CheckResult struct {
	Granted             bool     `json:"granted"`
	Reason              string   `json:"reason"`
	MatchingPermissions []string `json:"matching_permissions"`
	RoleChain           []string `json:"role_chain"`
	ConditionsMet       bool     `json:"conditions_met"`
	CheckTimeMS         float64  `json:"check_time_ms"`
	CacheHit            bool     `json:"cache_hit"`
}

// BatchOptions tunes BatchCheckPermissions.
type BatchOptions struct {
	// FailFast stops processing after the first denial. Completed checks are
	// returned; remaining ones are skipped.
	FailFast bool
}

// BatchSummary totals a batch check run.
type BatchSummary struct {
	Total     int `json:"total"`
	Permitted int `json:"permitted"`
	Denied    int `json:"denied"`
	Errors    int `json:"errors"`
}

// BatchResult pairs per-check results with their summary.
type BatchResult struct {
	Results []CheckResult `json:"results"`
	Summary BatchSummary  `json:"summary"`
}
