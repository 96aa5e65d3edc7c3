package roles

import (
	"context"
	"sort"
	"sync"
	"time"
)

// RepositoryPort defines data access methods for roles and user assignments.
type RepositoryPort interface {
	Save(ctx context.Context, role Role) error
	FindByID(ctx context.Context, roleID string) (Role, error)
	FindByFilter(ctx context.Context, filter Filter) ([]Role, error)
	Update(ctx context.Context, role Role) error
	Delete(ctx context.Context, roleID string) error
	Exists(ctx context.Context, roleID string) (bool, error)
	Count(ctx context.Context) (int, error)
	IsNameUnique(ctx context.Context, name, excludeRoleID string) (bool, error)

	AssignRoleToUser(ctx context.Context, assignment UserRoleAssignment) error
	RevokeRoleFromUser(ctx context.Context, userID, roleID string) error
	FindRolesByUserID(ctx context.Context, userID string) ([]Role, error)
	FindUsersByRoleID(ctx context.Context, roleID string) ([]string, error)
}

// MemoryRepository is the in-memory reference adapter: a primary map plus
// bidirectional user/role indexes kept consistent under a single writer lock.
// Production deployments swap in the PostgreSQL adapter behind the same port.
type MemoryRepository struct {
	mu          sync.RWMutex
	roles       map[string]Role
	userToRoles map[string]map[string]struct{}
	roleToUsers map[string]map[string]struct{}
	assignments map[string]UserRoleAssignment
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		roles:       make(map[string]Role),
		userToRoles: make(map[string]map[string]struct{}),
		roleToUsers: make(map[string]map[string]struct{}),
		assignments: make(map[string]UserRoleAssignment),
	}
}

// Save stores a new role.
func (m *MemoryRepository) Save(ctx context.Context, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.Name == role.Name {
			return ErrNameTaken
		}
	}
	m.roles[role.RoleID] = role
	return nil
}

// FindByID returns a role by ID.
func (m *MemoryRepository) FindByID(ctx context.Context, roleID string) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.roles[roleID]
	if !ok {
		return Role{}, ErrNotFound
	}
	return role, nil
}

// FindByFilter returns roles matching the filter, ordered by name.
func (m *MemoryRepository) FindByFilter(ctx context.Context, filter Filter) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Role
	for _, role := range m.roles {
		if filter.Matches(role) {
			out = append(out, role)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Update replaces an existing role.
func (m *MemoryRepository) Update(ctx context.Context, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[role.RoleID]; !ok {
		return ErrNotFound
	}
	for id, existing := range m.roles {
		if id != role.RoleID && existing.Name == role.Name {
			return ErrNameTaken
		}
	}
	m.roles[role.RoleID] = role
	return nil
}

// Delete removes a role and cascades removal of every user assignment, so
// the two indexes never disagree.
func (m *MemoryRepository) Delete(ctx context.Context, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	delete(m.roles, roleID)
	for userID := range m.roleToUsers[roleID] {
		delete(m.userToRoles[userID], roleID)
		if len(m.userToRoles[userID]) == 0 {
			delete(m.userToRoles, userID)
		}
		delete(m.assignments, assignmentKey(userID, roleID))
	}
	delete(m.roleToUsers, roleID)
	return nil
}

// Exists reports whether a role ID is present.
func (m *MemoryRepository) Exists(ctx context.Context, roleID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.roles[roleID]
	return ok, nil
}

// Count returns the number of stored roles.
func (m *MemoryRepository) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.roles), nil
}

// IsNameUnique reports whether no other role uses the name.
func (m *MemoryRepository) IsNameUnique(ctx context.Context, name, excludeRoleID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, role := range m.roles {
		if role.Name == name && id != excludeRoleID {
			return false, nil
		}
	}
	return true, nil
}

// AssignRoleToUser links a user to a role in both indexes.
func (m *MemoryRepository) AssignRoleToUser(ctx context.Context, assignment UserRoleAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[assignment.RoleID]; !ok {
		return ErrNotFound
	}
	if assignment.AssignedAt.IsZero() {
		assignment.AssignedAt = time.Now().UTC()
	}
	if m.userToRoles[assignment.UserID] == nil {
		m.userToRoles[assignment.UserID] = make(map[string]struct{})
	}
	if m.roleToUsers[assignment.RoleID] == nil {
		m.roleToUsers[assignment.RoleID] = make(map[string]struct{})
	}
	m.userToRoles[assignment.UserID][assignment.RoleID] = struct{}{}
	m.roleToUsers[assignment.RoleID][assignment.UserID] = struct{}{}
	m.assignments[assignmentKey(assignment.UserID, assignment.RoleID)] = assignment
	return nil
}

// RevokeRoleFromUser removes the link from both indexes.
func (m *MemoryRepository) RevokeRoleFromUser(ctx context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.userToRoles[userID], roleID)
	if len(m.userToRoles[userID]) == 0 {
		delete(m.userToRoles, userID)
	}
	delete(m.roleToUsers[roleID], userID)
	if len(m.roleToUsers[roleID]) == 0 {
		delete(m.roleToUsers, roleID)
	}
	delete(m.assignments, assignmentKey(userID, roleID))
	return nil
}

// FindRolesByUserID returns all roles assigned to the user.
func (m *MemoryRepository) FindRolesByUserID(ctx context.Context, userID string) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Role
	for roleID := range m.userToRoles[userID] {
		if role, ok := m.roles[roleID]; ok {
			out = append(out, role)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FindUsersByRoleID returns the IDs of users holding the role.
func (m *MemoryRepository) FindUsersByRoleID(ctx context.Context, roleID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for userID := range m.roleToUsers[roleID] {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out, nil
}

func assignmentKey(userID, roleID string) string {
	return userID + "\x00" + roleID
}
