package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads audit_logs from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const baseFilter = `
	($1 = 0 OR actor_id = $1)
	AND ($2 = '' OR entity = $2)
	AND ($3 = '' OR entity_id = $3)
	AND ($4 = '' OR action = $4)
	AND ($5::timestamptz IS NULL OR occurred_at >= $5)
	AND ($6::timestamptz IS NULL OR occurred_at <= $6)`

func (r *Repository) Timeline(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, int, error) {
	var from, to any
	if !filters.From.IsZero() {
		from = filters.From
	}
	if !filters.To.IsZero() {
		to = filters.To
	}
	args := []any{filters.ActorID, filters.Entity, filters.EntityID, filters.Action, from, to}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs WHERE `+baseFilter, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("audit: count timeline: %w", err)
	}

	query := `SELECT id, actor_id, actor_role, action, entity, entity_id, meta, occurred_at
		FROM audit_logs WHERE ` + baseFilter + `
		ORDER BY occurred_at DESC, id DESC LIMIT $7 OFFSET $8`
	rows, err := r.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("audit: query timeline: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *Repository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, actor_id, actor_role, action, entity, entity_id, meta, occurred_at
		 FROM audit_logs ORDER BY occurred_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

type pgRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEntries(rows pgRows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorRole, &e.Action, &e.Entity, &e.EntityID, &meta, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, fmt.Errorf("audit: decode meta: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
