package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence. The protocol document
// is stored as JSONB next to the indexed columns used by filters.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create stores a new confirmation.
func (r *Repository) Create(ctx context.Context, p ConfirmProtocol) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("confirm: marshal document: %w", err)
	}
	requester := ""
	if p.Requester != nil {
		requester = p.Requester.UserID
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO confirmations
(confirm_id, context_id, plan_id, confirmation_type, status, priority, requester_user_id, document, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ConfirmID, p.ContextID, p.PlanID, string(p.ConfirmationType), string(p.Status), string(p.Priority),
		requester, doc, p.CreatedAt, p.UpdatedAt)
	return err
}

// FindByID returns a confirmation by ID.
func (r *Repository) FindByID(ctx context.Context, confirmID string) (ConfirmProtocol, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT document FROM confirmations WHERE confirm_id=$1`, confirmID).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConfirmProtocol{}, ErrNotFound
		}
		return ConfirmProtocol{}, err
	}
	var p ConfirmProtocol
	if err := json.Unmarshal(doc, &p); err != nil {
		return ConfirmProtocol{}, fmt.Errorf("confirm: unmarshal document: %w", err)
	}
	return p, nil
}

// Update replaces an existing confirmation.
func (r *Repository) Update(ctx context.Context, p ConfirmProtocol) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("confirm: marshal document: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE confirmations
SET status=$2, priority=$3, document=$4, updated_at=$5 WHERE confirm_id=$1`,
		p.ConfirmID, string(p.Status), string(p.Priority), doc, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a confirmation.
func (r *Repository) Delete(ctx context.Context, confirmID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM confirmations WHERE confirm_id=$1`, confirmID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Exists reports whether a confirmation ID is present.
func (r *Repository) Exists(ctx context.Context, confirmID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM confirmations WHERE confirm_id=$1)`, confirmID).Scan(&exists)
	return exists, err
}

// FindByFilter returns confirmations matching the filter, newest first. The
// indexed columns narrow the scan; list predicates are applied on the
// documents afterwards.
func (r *Repository) FindByFilter(ctx context.Context, filter Filter) ([]ConfirmProtocol, error) {
	rows, err := r.pool.Query(ctx, `SELECT document FROM confirmations
WHERE ($1::timestamptz IS NULL OR created_at >= $1)
  AND ($2::timestamptz IS NULL OR created_at <= $2)
ORDER BY created_at DESC`, filter.CreatedAfter, filter.CreatedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ConfirmProtocol
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var p ConfirmProtocol
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, fmt.Errorf("confirm: unmarshal document: %w", err)
		}
		if filter.Matches(p) {
			out = append(out, p)
		}
	}
	return out, rows.Err()
}

// Statistics aggregates stored confirmations.
func (r *Repository) Statistics(ctx context.Context) (Statistics, error) {
	stats := Statistics{
		ByStatus:   make(map[string]int),
		ByType:     make(map[string]int),
		ByPriority: make(map[string]int),
	}
	rows, err := r.pool.Query(ctx, `SELECT status, confirmation_type, priority, COUNT(*)
FROM confirmations GROUP BY status, confirmation_type, priority`)
	if err != nil {
		return Statistics{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var status, ctype, priority string
		var n int
		if err := rows.Scan(&status, &ctype, &priority, &n); err != nil {
			return Statistics{}, err
		}
		stats.Total += n
		stats.ByStatus[status] += n
		stats.ByType[ctype] += n
		stats.ByPriority[priority] += n
	}
	return stats, rows.Err()
}
