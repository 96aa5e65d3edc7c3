package roles

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CreateRoleInput carries the caller-supplied fields for a new role.
type CreateRoleInput struct {
	ContextID     string         `validate:"required"`
	Name          string         `validate:"required"`
	DisplayName   string
	RoleType      RoleType       `validate:"required"`
	Scope         *Scope
	Permissions   []PermissionInput `validate:"required,min=1,dive"`
	Inheritance   *Inheritance
	Attributes    map[string]any
	AuditSettings *AuditSettings
}

// PermissionInput carries the caller-supplied fields for one permission.
// Permission IDs are assigned by the factory when absent.
type PermissionInput struct {
	PermissionID string
	ResourceType string     `validate:"required"`
	ResourceID   string     `validate:"required"`
	Actions      []string   `validate:"required,min=1"`
	GrantType    GrantType  `validate:"required"`
	Conditions   []string
	Expiry       *time.Time
}

var titleCaser = cases.Title(language.English)

// Factory builds validated Role values. It holds no state; the caller owns
// the instance's lifetime.
type Factory struct{}

// NewFactory constructs a Factory.
func NewFactory() *Factory { return &Factory{} }

// Build validates the input and assembles a Role in active status with
// identifiers assigned and defaults applied.
func (f *Factory) Build(input CreateRoleInput) (Role, error) {
	if input.ContextID == "" {
		return Role{}, fmt.Errorf("%w: context_id is required", ErrInvalidRole)
	}
	if !NamePattern.MatchString(input.Name) {
		return Role{}, fmt.Errorf("%w: name must match %s", ErrInvalidRole, NamePattern.String())
	}
	switch input.RoleType {
	case TypeSystem, TypeOrganisation, TypeFunctional, TypeTemporary:
	default:
		return Role{}, fmt.Errorf("%w: unknown role_type %q", ErrInvalidRole, input.RoleType)
	}
	if len(input.Permissions) == 0 {
		return Role{}, fmt.Errorf("%w: at least one permission is required", ErrInvalidRole)
	}

	permissions := make([]Permission, 0, len(input.Permissions))
	for i, p := range input.Permissions {
		built, err := buildPermission(p)
		if err != nil {
			return Role{}, fmt.Errorf("%w: permission %d: %v", ErrInvalidRole, i, err)
		}
		permissions = append(permissions, built)
	}

	scope := Scope{Level: ScopeContext, ContextIDs: []string{input.ContextID}}
	if input.Scope != nil {
		switch input.Scope.Level {
		case ScopeGlobal, ScopeContext, ScopePlan, ScopeResource:
		default:
			return Role{}, fmt.Errorf("%w: unknown scope level %q", ErrInvalidRole, input.Scope.Level)
		}
		scope = *input.Scope
	}

	if input.Inheritance != nil && len(input.Inheritance.ParentRoles) == 0 {
		return Role{}, fmt.Errorf("%w: inheritance declared without parent roles", ErrInvalidRole)
	}

	display := input.DisplayName
	if display == "" {
		display = titleCaser.String(strings.ReplaceAll(strings.ReplaceAll(input.Name, "_", " "), "-", " "))
	}

	now := time.Now().UTC()
	return Role{
		RoleID:        uuid.NewString(),
		ContextID:     input.ContextID,
		Name:          input.Name,
		DisplayName:   display,
		RoleType:      input.RoleType,
		Status:        StatusActive,
		Scope:         scope,
		Permissions:   permissions,
		Inheritance:   input.Inheritance,
		Attributes:    input.Attributes,
		AuditSettings: input.AuditSettings,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func buildPermission(p PermissionInput) (Permission, error) {
	if p.ResourceType == "" || p.ResourceID == "" {
		return Permission{}, fmt.Errorf("resource_type and resource_id are required")
	}
	if len(p.Actions) == 0 {
		return Permission{}, fmt.Errorf("at least one action is required")
	}
	for _, a := range p.Actions {
		if a == "" {
			return Permission{}, fmt.Errorf("empty action")
		}
	}
	switch p.GrantType {
	case GrantAllow, GrantDeny:
	default:
		return Permission{}, fmt.Errorf("unknown grant_type %q", p.GrantType)
	}
	id := p.PermissionID
	if id == "" {
		id = uuid.NewString()
	}
	return Permission{
		PermissionID: id,
		ResourceType: p.ResourceType,
		ResourceID:   p.ResourceID,
		Actions:      append([]string(nil), p.Actions...),
		GrantType:    p.GrantType,
		Conditions:   append([]string(nil), p.Conditions...),
		Expiry:       p.Expiry,
	}, nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
