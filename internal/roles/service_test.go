package roles

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-agents/meridian/internal/shared"
)

type recordingAudit struct {
	logs []shared.AuditLog
}

func (r *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	r.logs = append(r.logs, log)
	return nil
}

func newTestService() (*Service, *MemoryRepository, *recordingAudit) {
	repo := NewMemoryRepository()
	audit := &recordingAudit{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, audit, logger), repo, audit
}

func validInput(name string) CreateRoleInput {
	return CreateRoleInput{
		ContextID: "ctx-1",
		Name:      name,
		RoleType:  TypeFunctional,
		Permissions: []PermissionInput{{
			ResourceType: "plan",
			ResourceID:   "*",
			Actions:      []string{"read", "approve"},
			GrantType:    GrantAllow,
		}},
	}
}

func TestCreateRole(t *testing.T) {
	svc, _, audit := newTestService()
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, validInput("plan_approver"))
	require.NoError(t, err)
	require.NotEmpty(t, role.RoleID)
	require.Equal(t, StatusActive, role.Status)
	require.Equal(t, "Plan Approver", role.DisplayName)
	require.Equal(t, ScopeContext, role.Scope.Level)
	require.Equal(t, []string{"ctx-1"}, role.Scope.ContextIDs)
	require.NotEmpty(t, role.Permissions[0].PermissionID)

	require.Len(t, audit.logs, 1)
	require.Equal(t, "role_created", audit.logs[0].Action)
}

func TestCreateRoleDuplicateName(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.CreateRole(ctx, validInput("reviewer"))
	require.NoError(t, err)

	_, err = svc.CreateRole(ctx, validInput("reviewer"))
	require.Error(t, err)
	require.Equal(t, shared.CodeRoleAlreadyExists, shared.CodeOf(err))

	var shErr *shared.Error
	require.ErrorAs(t, err, &shErr)
	require.Equal(t, "name", shErr.Field)
	require.NotEmpty(t, shErr.Suggestion)
}

func TestCreateRoleInvalidData(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	bad := validInput("spaced name!")
	_, err := svc.CreateRole(ctx, bad)
	require.Error(t, err)
	require.Equal(t, shared.CodeInvalidRoleData, shared.CodeOf(err))

	noPerms := validInput("empty_perms")
	noPerms.Permissions = nil
	_, err = svc.CreateRole(ctx, noPerms)
	require.Error(t, err)
	require.Equal(t, shared.CodeValidation, shared.CodeOf(err))

	badGrant := validInput("bad_grant")
	badGrant.Permissions[0].GrantType = "maybe"
	_, err = svc.CreateRole(ctx, badGrant)
	require.Error(t, err)
	require.Equal(t, shared.CodeInvalidRoleData, shared.CodeOf(err))
}

func TestCreateRolePermissionExpiry(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour)
	input := validInput("temp_role")
	input.RoleType = TypeTemporary
	input.Permissions[0].Expiry = &expiry

	role, err := svc.CreateRole(ctx, input)
	require.NoError(t, err)
	require.False(t, role.Permissions[0].Expired(time.Now()))
	require.True(t, role.Permissions[0].Expired(expiry.Add(time.Minute)))
}

func TestUpdateRole(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, validInput("editor"))
	require.NoError(t, err)

	newName := "senior_editor"
	inactive := StatusInactive
	updated, err := svc.UpdateRole(ctx, role.RoleID, UpdateRoleInput{
		Name:   &newName,
		Status: &inactive,
	})
	require.NoError(t, err)
	require.Equal(t, "senior_editor", updated.Name)
	require.Equal(t, StatusInactive, updated.Status)
	require.False(t, updated.Active())

	_, err = svc.UpdateRole(ctx, "nope", UpdateRoleInput{})
	require.Equal(t, shared.CodeRoleNotFound, shared.CodeOf(err))
}

func TestUpdateRoleNameConflict(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.CreateRole(ctx, validInput("alpha"))
	require.NoError(t, err)
	beta, err := svc.CreateRole(ctx, validInput("beta"))
	require.NoError(t, err)

	taken := "alpha"
	_, err = svc.UpdateRole(ctx, beta.RoleID, UpdateRoleInput{Name: &taken})
	require.Equal(t, shared.CodeRoleAlreadyExists, shared.CodeOf(err))

	// Keeping the current name is not a conflict.
	same := "beta"
	_, err = svc.UpdateRole(ctx, beta.RoleID, UpdateRoleInput{Name: &same})
	require.NoError(t, err)
}

func TestDeleteRoleCascadesAssignments(t *testing.T) {
	svc, repo, audit := newTestService()
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, validInput("assignee"))
	require.NoError(t, err)
	require.NoError(t, svc.AssignRoleToUser(ctx, "user-1", role.RoleID, "admin"))

	assigned, err := repo.FindRolesByUserID(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, assigned, 1)

	require.NoError(t, svc.DeleteRole(ctx, role.RoleID))

	assigned, err = repo.FindRolesByUserID(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, assigned)

	last := audit.logs[len(audit.logs)-1]
	require.Equal(t, "role_deleted", last.Action)
	require.Equal(t, shared.SeverityHigh, last.Severity)
}

func TestInheritanceCycleRejected(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	parent, err := svc.CreateRole(ctx, validInput("parent"))
	require.NoError(t, err)

	childInput := validInput("child")
	childInput.Inheritance = &Inheritance{ParentRoles: []string{parent.RoleID}}
	child, err := svc.CreateRole(ctx, childInput)
	require.NoError(t, err)

	// Closing the loop parent -> child must be rejected.
	_, err = svc.UpdateRole(ctx, parent.RoleID, UpdateRoleInput{
		Inheritance: &Inheritance{ParentRoles: []string{child.RoleID}},
	})
	require.Equal(t, shared.CodeInvalidRoleData, shared.CodeOf(err))

	// The stored parent is unchanged.
	stored, err := repo.FindByID(ctx, parent.RoleID)
	require.NoError(t, err)
	require.Nil(t, stored.Inheritance)
}

func TestInheritanceMissingParentRejected(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	input := validInput("orphan")
	input.Inheritance = &Inheritance{ParentRoles: []string{"ghost"}}
	_, err := svc.CreateRole(ctx, input)
	require.Equal(t, shared.CodeInvalidRoleData, shared.CodeOf(err))
}

func TestFindRoles(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.CreateRole(ctx, validInput("ops_lead"))
	require.NoError(t, err)
	other := validInput("viewer")
	other.ContextID = "ctx-2"
	_, err = svc.CreateRole(ctx, other)
	require.NoError(t, err)

	found, err := svc.FindRoles(ctx, Filter{ContextID: "ctx-1"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "ops_lead", found[0].Name)

	found, err = svc.FindRoles(ctx, Filter{NameLike: "VIEW"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "viewer", found[0].Name)
}

func TestAssignAndRevoke(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, validInput("operator"))
	require.NoError(t, err)

	require.Error(t, svc.AssignRoleToUser(ctx, "", role.RoleID, "admin"))
	require.Equal(t, shared.CodeRoleNotFound, shared.CodeOf(svc.AssignRoleToUser(ctx, "user-1", "missing", "admin")))

	require.NoError(t, svc.AssignRoleToUser(ctx, "user-1", role.RoleID, "admin"))
	require.NoError(t, svc.RevokeRoleFromUser(ctx, "user-1", role.RoleID))

	assigned, err := repo.FindRolesByUserID(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, assigned)
}

func TestHealth(t *testing.T) {
	svc, _, _ := newTestService()
	h := svc.Health(context.Background())
	require.Equal(t, shared.StatusHealthy, h.Status)
	require.Equal(t, "pass", h.Checks["repository"])
}
