package roles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-agents/meridian/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence. The role document
// (scope, permissions, inheritance, attributes) is stored as JSONB next to
// the indexed columns used for filtering.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const uniqueViolation = "23505"

type roleDoc struct {
	DisplayName   string         `json:"display_name,omitempty"`
	Scope         Scope          `json:"scope"`
	Permissions   []Permission   `json:"permissions"`
	Inheritance   *Inheritance   `json:"inheritance,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty"`
	AuditSettings *AuditSettings `json:"audit_settings,omitempty"`
}

// Save inserts a new role. A duplicate name maps to ErrNameTaken.
func (r *Repository) Save(ctx context.Context, role Role) error {
	doc, err := json.Marshal(roleDoc{
		DisplayName:   role.DisplayName,
		Scope:         role.Scope,
		Permissions:   role.Permissions,
		Inheritance:   role.Inheritance,
		Attributes:    role.Attributes,
		AuditSettings: role.AuditSettings,
	})
	if err != nil {
		return fmt.Errorf("roles: marshal document: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO roles (role_id, context_id, name, role_type, status, document, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		role.RoleID, role.ContextID, role.Name, string(role.RoleType), string(role.Status), doc, role.CreatedAt, role.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrNameTaken
		}
		return err
	}
	return nil
}

// FindByID returns a role by ID.
func (r *Repository) FindByID(ctx context.Context, roleID string) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT role_id, context_id, name, role_type, status, document, created_at, updated_at
FROM roles WHERE role_id=$1`, roleID)
	return scanRole(row)
}

// FindByFilter returns roles matching the filter, ordered by name.
func (r *Repository) FindByFilter(ctx context.Context, filter Filter) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT role_id, context_id, name, role_type, status, document, created_at, updated_at
FROM roles
WHERE ($1 = '' OR context_id = $1)
  AND ($2 = '' OR role_type = $2)
  AND ($3 = '' OR status = $3)
  AND ($4 = '' OR name ILIKE '%' || $4 || '%')
ORDER BY name`, filter.ContextID, string(filter.RoleType), string(filter.Status), filter.NameLike)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// Update replaces an existing role.
func (r *Repository) Update(ctx context.Context, role Role) error {
	doc, err := json.Marshal(roleDoc{
		DisplayName:   role.DisplayName,
		Scope:         role.Scope,
		Permissions:   role.Permissions,
		Inheritance:   role.Inheritance,
		Attributes:    role.Attributes,
		AuditSettings: role.AuditSettings,
	})
	if err != nil {
		return fmt.Errorf("roles: marshal document: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE roles SET name=$2, role_type=$3, status=$4, document=$5, updated_at=$6
WHERE role_id=$1`,
		role.RoleID, role.Name, string(role.RoleType), string(role.Status), doc, role.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrNameTaken
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a role and its user assignments in one transaction.
func (r *Repository) Delete(ctx context.Context, roleID string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE role_id=$1`, roleID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE role_id=$1`, roleID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Exists reports whether a role ID is present.
func (r *Repository) Exists(ctx context.Context, roleID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE role_id=$1)`, roleID).Scan(&exists)
	return exists, err
}

// Count returns the number of stored roles.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM roles`).Scan(&n)
	return n, err
}

// IsNameUnique reports whether no other role uses the name.
func (r *Repository) IsNameUnique(ctx context.Context, name, excludeRoleID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE name=$1 AND role_id <> $2)`,
		name, excludeRoleID).Scan(&exists)
	return !exists, err
}

// AssignRoleToUser links a user to a role.
func (r *Repository) AssignRoleToUser(ctx context.Context, assignment UserRoleAssignment) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role_id, assigned_by, assigned_at)
VALUES ($1, $2, $3, COALESCE($4, NOW()))
ON CONFLICT (user_id, role_id) DO NOTHING`,
		assignment.UserID, assignment.RoleID, assignment.AssignedBy, assignment.AssignedAt)
	return err
}

// RevokeRoleFromUser removes the link.
func (r *Repository) RevokeRoleFromUser(ctx context.Context, userID, roleID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id=$1 AND role_id=$2`, userID, roleID)
	return err
}

// FindRolesByUserID returns all roles assigned to the user.
func (r *Repository) FindRolesByUserID(ctx context.Context, userID string) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT r.role_id, r.context_id, r.name, r.role_type, r.status, r.document, r.created_at, r.updated_at
FROM roles r JOIN user_roles ur ON ur.role_id = r.role_id
WHERE ur.user_id=$1 ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// FindUsersByRoleID returns the IDs of users holding the role.
func (r *Repository) FindUsersByRoleID(ctx context.Context, roleID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM user_roles WHERE role_id=$1 ORDER BY user_id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		out = append(out, userID)
	}
	return out, rows.Err()
}

func scanRole(row pgx.Row) (Role, error) {
	var (
		role     Role
		roleType string
		status   string
		doc      []byte
	)
	if err := row.Scan(&role.RoleID, &role.ContextID, &role.Name, &roleType, &status, &doc, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	role.RoleType = RoleType(roleType)
	role.Status = RoleStatus(status)
	var d roleDoc
	if err := json.Unmarshal(doc, &d); err != nil {
		return Role{}, fmt.Errorf("roles: unmarshal document: %w", err)
	}
	role.DisplayName = d.DisplayName
	role.Scope = d.Scope
	role.Permissions = d.Permissions
	role.Inheritance = d.Inheritance
	role.Attributes = d.Attributes
	role.AuditSettings = d.AuditSettings
	return role, nil
}
