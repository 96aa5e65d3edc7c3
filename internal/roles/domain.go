package roles

import (
	"errors"
	"regexp"
	"time"
)

// RoleStatus is the lifecycle state of a role.
type RoleStatus string

const (
	StatusActive   RoleStatus = "active"
	StatusInactive RoleStatus = "inactive"
	StatusArchived RoleStatus = "archived"
)

// RoleType categorises a role.
type RoleType string

const (
	TypeSystem       RoleType = "system"
	TypeOrganisation RoleType = "organizational"
	TypeFunctional   RoleType = "functional"
	TypeTemporary    RoleType = "temporary"
)

// GrantType is the nature of a permission assignment.
type GrantType string

const (
	GrantAllow GrantType = "allow"
	GrantDeny  GrantType = "deny"
)

// ScopeLevel bounds where a role's permissions apply.
type ScopeLevel string

const (
	ScopeGlobal   ScopeLevel = "global"
	ScopeContext  ScopeLevel = "context"
	ScopePlan     ScopeLevel = "plan"
	ScopeResource ScopeLevel = "resource"
)

// NamePattern constrains role names.
var NamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ResourceConstraint narrows a scope to specific resource IDs of one type.
// An ID of "*" admits every resource of that type.
type ResourceConstraint struct {
	ResourceType string   `json:"resource_type"`
	ResourceIDs  []string `json:"resource_ids"`
}

// Scope is the boundary within which a role's permissions apply.
type Scope struct {
	Level               ScopeLevel           `json:"level"`
	ContextIDs          []string             `json:"context_ids,omitempty"`
	PlanIDs             []string             `json:"plan_ids,omitempty"`
	ResourceConstraints []ResourceConstraint `json:"resource_constraints,omitempty"`
}

// Permission is an atomic capability granted (or denied) on a resource.
type Permission struct {
	PermissionID string     `json:"permission_id"`
	ResourceType string     `json:"resource_type"`
	ResourceID   string     `json:"resource_id"`
	Actions      []string   `json:"actions"`
	GrantType    GrantType  `json:"grant_type"`
	Conditions   []string   `json:"conditions,omitempty"`
	Expiry       *time.Time `json:"expiry,omitempty"`
}

// Expired reports whether the permission has lapsed at the given instant.
func (p Permission) Expired(now time.Time) bool {
	return p.Expiry != nil && !p.Expiry.After(now)
}

// Inheritance contributes permissions from parent roles transitively.
type Inheritance struct {
	ParentRoles []string `json:"parent_roles"`
}

// AuditSettings controls audit emission for a role.
type AuditSettings struct {
	AuditEnabled bool     `json:"audit_enabled"`
	AuditEvents  []string `json:"audit_events,omitempty"`
}

// Role groups permissions under a named, scoped grant target.
type Role struct {
	RoleID        string         `json:"role_id"`
	ContextID     string         `json:"context_id"`
	Name          string         `json:"name"`
	DisplayName   string         `json:"display_name,omitempty"`
	RoleType      RoleType       `json:"role_type"`
	Status        RoleStatus     `json:"status"`
	Scope         Scope          `json:"scope"`
	Permissions   []Permission   `json:"permissions"`
	Inheritance   *Inheritance   `json:"inheritance,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty"`
	AuditSettings *AuditSettings `json:"audit_settings,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Active reports whether the role currently grants anything.
func (r Role) Active() bool { return r.Status == StatusActive }

// UserRoleAssignment links a user to a role.
type UserRoleAssignment struct {
	UserID     string    `json:"user_id"`
	RoleID     string    `json:"role_id"`
	AssignedBy string    `json:"assigned_by"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Filter selects roles in FindRoles queries. Zero-value fields match all.
type Filter struct {
	ContextID string
	RoleType  RoleType
	Status    RoleStatus
	NameLike  string
}

// Matches reports whether the role satisfies the filter.
func (f Filter) Matches(r Role) bool {
	if f.ContextID != "" && r.ContextID != f.ContextID {
		return false
	}
	if f.RoleType != "" && r.RoleType != f.RoleType {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.NameLike != "" && !containsFold(r.Name, f.NameLike) {
		return false
	}
	return true
}

var (
	// ErrNotFound indicates the role does not exist.
	ErrNotFound = errors.New("roles: not found")
	// ErrNameTaken indicates a role with the same name already exists.
	ErrNameTaken = errors.New("roles: name already exists")
	// ErrInvalidRole indicates the role failed validation.
	ErrInvalidRole = errors.New("roles: invalid role data")
	// ErrInheritanceCycle indicates the inheritance graph contains a cycle.
	ErrInheritanceCycle = errors.New("roles: inheritance cycle")
)
