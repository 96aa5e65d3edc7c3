package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/meridian-agents/meridian/internal/shared"
)

// Service handles role management business logic and emits audit events for
// every mutation.
type Service struct {
	repo     RepositoryPort
	factory  *Factory
	audit    shared.AuditPort
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, audit shared.AuditPort, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		factory:  NewFactory(),
		audit:    audit,
		logger:   logger,
		validate: validator.New(),
	}
}

// CreateRole validates, persists and audits a new role. A duplicate name
// yields ROLE_ALREADY_EXISTS.
func (s *Service) CreateRole(ctx context.Context, input CreateRoleInput) (Role, error) {
	if err := s.validate.Struct(input); err != nil {
		return Role{}, &shared.Error{Code: shared.CodeValidation, Message: err.Error()}
	}
	unique, err := s.repo.IsNameUnique(ctx, input.Name, "")
	if err != nil {
		return Role{}, fmt.Errorf("roles: uniqueness check: %w", err)
	}
	if !unique {
		return Role{}, &shared.Error{
			Code:       shared.CodeRoleAlreadyExists,
			Message:    fmt.Sprintf("role name %q already exists", input.Name),
			Field:      "name",
			Suggestion: "choose a different role name",
		}
	}
	role, err := s.factory.Build(input)
	if err != nil {
		return Role{}, invalidRole(err)
	}
	if err := s.checkInheritance(ctx, role); err != nil {
		return Role{}, err
	}
	if err := s.repo.Save(ctx, role); err != nil {
		if errors.Is(err, ErrNameTaken) {
			return Role{}, &shared.Error{Code: shared.CodeRoleAlreadyExists, Message: err.Error(), Field: "name"}
		}
		return Role{}, fmt.Errorf("roles: save: %w", err)
	}
	s.recordAudit(ctx, "role_created", role, shared.SeverityMedium)
	s.logger.Info("role created",
		slog.String("role_id", role.RoleID),
		slog.String("name", role.Name),
		slog.String("context_id", role.ContextID))
	return role, nil
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, roleID string) (Role, error) {
	role, err := s.repo.FindByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Role{}, roleNotFound(roleID)
		}
		return Role{}, fmt.Errorf("roles: find: %w", err)
	}
	return role, nil
}

// UpdateRoleInput carries mutable role fields. Nil fields are left unchanged.
type UpdateRoleInput struct {
	Name          *string
	DisplayName   *string
	Status        *RoleStatus
	Scope         *Scope
	Permissions   []PermissionInput
	Inheritance   *Inheritance
	Attributes    map[string]any
	AuditSettings *AuditSettings
}

// UpdateRole applies the input to an existing role and re-validates it. Name
// uniqueness is only re-checked when the name actually changes.
func (s *Service) UpdateRole(ctx context.Context, roleID string, input UpdateRoleInput) (Role, error) {
	role, err := s.repo.FindByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Role{}, roleNotFound(roleID)
		}
		return Role{}, fmt.Errorf("roles: find: %w", err)
	}

	if input.Name != nil && *input.Name != role.Name {
		if !NamePattern.MatchString(*input.Name) {
			return Role{}, invalidRole(fmt.Errorf("%w: name must match %s", ErrInvalidRole, NamePattern.String()))
		}
		unique, err := s.repo.IsNameUnique(ctx, *input.Name, roleID)
		if err != nil {
			return Role{}, fmt.Errorf("roles: uniqueness check: %w", err)
		}
		if !unique {
			return Role{}, &shared.Error{Code: shared.CodeRoleAlreadyExists, Message: fmt.Sprintf("role name %q already exists", *input.Name), Field: "name"}
		}
		role.Name = *input.Name
	}
	if input.DisplayName != nil {
		role.DisplayName = *input.DisplayName
	}
	if input.Status != nil {
		switch *input.Status {
		case StatusActive, StatusInactive, StatusArchived:
		default:
			return Role{}, invalidRole(fmt.Errorf("%w: unknown status %q", ErrInvalidRole, *input.Status))
		}
		role.Status = *input.Status
	}
	if input.Scope != nil {
		switch input.Scope.Level {
		case ScopeGlobal, ScopeContext, ScopePlan, ScopeResource:
		default:
			return Role{}, invalidRole(fmt.Errorf("%w: unknown scope level %q", ErrInvalidRole, input.Scope.Level))
		}
		role.Scope = *input.Scope
	}
	if input.Permissions != nil {
		if len(input.Permissions) == 0 {
			return Role{}, invalidRole(fmt.Errorf("%w: at least one permission is required", ErrInvalidRole))
		}
		perms := make([]Permission, 0, len(input.Permissions))
		for i, p := range input.Permissions {
			built, err := buildPermission(p)
			if err != nil {
				return Role{}, invalidRole(fmt.Errorf("%w: permission %d: %v", ErrInvalidRole, i, err))
			}
			perms = append(perms, built)
		}
		role.Permissions = perms
	}
	if input.Inheritance != nil {
		role.Inheritance = input.Inheritance
	}
	if input.Attributes != nil {
		role.Attributes = input.Attributes
	}
	if input.AuditSettings != nil {
		role.AuditSettings = input.AuditSettings
	}
	role.UpdatedAt = time.Now().UTC()

	if err := s.checkInheritance(ctx, role); err != nil {
		return Role{}, err
	}
	if err := s.repo.Update(ctx, role); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return Role{}, roleNotFound(roleID)
		case errors.Is(err, ErrNameTaken):
			return Role{}, &shared.Error{Code: shared.CodeRoleAlreadyExists, Message: err.Error(), Field: "name"}
		}
		return Role{}, fmt.Errorf("roles: update: %w", err)
	}
	s.recordAudit(ctx, "role_updated", role, shared.SeverityMedium)
	return role, nil
}

// DeleteRole removes the role and cascades removal of every user assignment.
func (s *Service) DeleteRole(ctx context.Context, roleID string) error {
	role, err := s.repo.FindByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return roleNotFound(roleID)
		}
		return fmt.Errorf("roles: find: %w", err)
	}
	if err := s.repo.Delete(ctx, roleID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return roleNotFound(roleID)
		}
		return fmt.Errorf("roles: delete: %w", err)
	}
	s.recordAudit(ctx, "role_deleted", role, shared.SeverityHigh)
	s.logger.Info("role deleted", slog.String("role_id", roleID), slog.String("name", role.Name))
	return nil
}

// FindRoles returns roles matching the filter.
func (s *Service) FindRoles(ctx context.Context, filter Filter) ([]Role, error) {
	return s.repo.FindByFilter(ctx, filter)
}

// AssignRoleToUser links a role to a user.
func (s *Service) AssignRoleToUser(ctx context.Context, userID, roleID, assignedBy string) error {
	if userID == "" || roleID == "" {
		return &shared.Error{Code: shared.CodeValidation, Message: "user_id and role_id are required"}
	}
	role, err := s.repo.FindByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return roleNotFound(roleID)
		}
		return fmt.Errorf("roles: find: %w", err)
	}
	err = s.repo.AssignRoleToUser(ctx, UserRoleAssignment{
		UserID:     userID,
		RoleID:     roleID,
		AssignedBy: assignedBy,
		AssignedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("roles: assign: %w", err)
	}
	s.recordAudit(ctx, "role_assigned", role, shared.SeverityMedium)
	return nil
}

// RevokeRoleFromUser removes a user's role assignment.
func (s *Service) RevokeRoleFromUser(ctx context.Context, userID, roleID string) error {
	if err := s.repo.RevokeRoleFromUser(ctx, userID, roleID); err != nil {
		return fmt.Errorf("roles: revoke: %w", err)
	}
	return nil
}

// Health reports the service probe, checking repository reachability.
func (s *Service) Health(ctx context.Context) shared.Health {
	checks := map[string]string{"repository": "pass"}
	if _, err := s.repo.Count(ctx); err != nil {
		checks["repository"] = "fail"
	}
	return shared.NewHealth(checks)
}

// checkInheritance walks the parent graph and rejects cycles. The walk is
// capped so a corrupt graph cannot loop forever.
func (s *Service) checkInheritance(ctx context.Context, role Role) error {
	if role.Inheritance == nil {
		return nil
	}
	const maxDepth = 32
	visited := map[string]bool{role.RoleID: true}
	frontier := append([]string(nil), role.Inheritance.ParentRoles...)
	for depth := 0; len(frontier) > 0; depth++ {
		if depth > maxDepth {
			return invalidRole(fmt.Errorf("%w: inheritance deeper than %d", ErrInheritanceCycle, maxDepth))
		}
		var next []string
		for _, parentID := range frontier {
			if parentID == role.RoleID {
				return invalidRole(fmt.Errorf("%w: role %s reachable from itself", ErrInheritanceCycle, role.RoleID))
			}
			if visited[parentID] {
				continue
			}
			visited[parentID] = true
			parent, err := s.repo.FindByID(ctx, parentID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return invalidRole(fmt.Errorf("%w: parent role %s does not exist", ErrInvalidRole, parentID))
				}
				return fmt.Errorf("roles: inheritance walk: %w", err)
			}
			if parent.Inheritance != nil {
				next = append(next, parent.Inheritance.ParentRoles...)
			}
		}
		frontier = next
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, action string, role Role, severity shared.AuditSeverity) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorFrom(ctx),
		Action:   action,
		Entity:   "role",
		EntityID: role.RoleID,
		Severity: severity,
		Meta:     map[string]any{"name": role.Name, "context_id": role.ContextID},
		At:       time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

type actorKey struct{}

// WithActor stamps the acting user onto the context for audit records.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

func actorFrom(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return "system"
}

func roleNotFound(roleID string) *shared.Error {
	return &shared.Error{
		Code:    shared.CodeRoleNotFound,
		Message: fmt.Sprintf("role %s not found", roleID),
	}
}

func invalidRole(err error) *shared.Error {
	return &shared.Error{Code: shared.CodeInvalidRoleData, Message: err.Error()}
}
