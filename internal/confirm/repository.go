package confirm

import (
	"context"
	"sort"
	"sync"
)

// RepositoryPort defines data access methods for confirmations.
type RepositoryPort interface {
	Create(ctx context.Context, p ConfirmProtocol) error
	FindByID(ctx context.Context, confirmID string) (ConfirmProtocol, error)
	Update(ctx context.Context, p ConfirmProtocol) error
	Delete(ctx context.Context, confirmID string) error
	Exists(ctx context.Context, confirmID string) (bool, error)
	FindByFilter(ctx context.Context, filter Filter) ([]ConfirmProtocol, error)
	Statistics(ctx context.Context) (Statistics, error)
}

// MemoryRepository is the in-memory reference adapter, also used by tests.
// Production deployments use the PostgreSQL adapter behind the same port.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]ConfirmProtocol
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]ConfirmProtocol)}
}

// Create stores a new confirmation.
func (m *MemoryRepository) Create(ctx context.Context, p ConfirmProtocol) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[p.ConfirmID] = p
	return nil
}

// FindByID returns a confirmation by ID.
func (m *MemoryRepository) FindByID(ctx context.Context, confirmID string) (ConfirmProtocol, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.items[confirmID]
	if !ok {
		return ConfirmProtocol{}, ErrNotFound
	}
	return p, nil
}

// Update replaces an existing confirmation.
func (m *MemoryRepository) Update(ctx context.Context, p ConfirmProtocol) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[p.ConfirmID]; !ok {
		return ErrNotFound
	}
	m.items[p.ConfirmID] = p
	return nil
}

// Delete removes a confirmation.
func (m *MemoryRepository) Delete(ctx context.Context, confirmID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[confirmID]; !ok {
		return ErrNotFound
	}
	delete(m.items, confirmID)
	return nil
}

// Exists reports whether a confirmation ID is present.
func (m *MemoryRepository) Exists(ctx context.Context, confirmID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.items[confirmID]
	return ok, nil
}

// FindByFilter returns confirmations matching the filter, newest first.
func (m *MemoryRepository) FindByFilter(ctx context.Context, filter Filter) ([]ConfirmProtocol, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ConfirmProtocol
	for _, p := range m.items {
		if filter.Matches(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Statistics aggregates stored confirmations.
func (m *MemoryRepository) Statistics(ctx context.Context) (Statistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := Statistics{
		ByStatus:   make(map[string]int),
		ByType:     make(map[string]int),
		ByPriority: make(map[string]int),
	}
	for _, p := range m.items {
		stats.Total++
		stats.ByStatus[string(p.Status)]++
		stats.ByType[string(p.ConfirmationType)]++
		stats.ByPriority[string(p.Priority)]++
	}
	return stats, nil
}
