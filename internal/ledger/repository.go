package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quartermaster-erp/quartermaster/internal/platform/db"
	"github.com/quartermaster-erp/quartermaster/internal/shared"
)

// Repository persists the batch ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn against a BatchTx bound to one RepeatableRead
// transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, BatchTx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewBatchTx(tx))
	})
}

// CurrentStock sums non-exhausted batch quantities.
func (r *Repository) CurrentStock(ctx context.Context, itemID, locationID int64) (int64, error) {
	const query = `SELECT COALESCE(SUM(quantity), 0) FROM stock_batches
		WHERE item_id = $1 AND quantity > 0 AND ($2 = 0 OR location_id = $2)`
	var total int64
	if err := r.pool.QueryRow(ctx, query, itemID, locationID).Scan(&total); err != nil {
		return 0, fmt.Errorf("ledger: current stock: %w", err)
	}
	return total, nil
}

// ListItemBatches returns every batch of the item in FIFO order, exhausted
// batches included.
func (r *Repository) ListItemBatches(ctx context.Context, itemID int64) ([]Batch, error) {
	const query = `SELECT id, item_id, location_id, batch_number, quantity, unit_cost, expiry_date, received_at, created_at
		FROM stock_batches
		WHERE item_id = $1
		ORDER BY expiry_date ASC NULLS LAST, received_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list batches: %w", err)
	}
	defer rows.Close()
	return scanBatches(rows)
}

// GetBatch fetches one batch by id.
func (r *Repository) GetBatch(ctx context.Context, batchID int64) (Batch, error) {
	const query = `SELECT id, item_id, location_id, batch_number, quantity, unit_cost, expiry_date, received_at, created_at
		FROM stock_batches WHERE id = $1`
	batch, err := scanBatch(r.pool.QueryRow(ctx, query, batchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, fmt.Errorf("%w: batch %d", shared.ErrNotFound, batchID)
		}
		return Batch{}, fmt.Errorf("ledger: get batch: %w", err)
	}
	return batch, nil
}

// batchTx implements BatchTx over one pgx transaction. Goods receipt and
// issuance repositories reuse it via NewBatchTx so their workflow records
// and ledger effects share a transaction.
type batchTx struct {
	tx pgx.Tx
}

// NewBatchTx binds ledger mutations to the caller's transaction.
func NewBatchTx(tx pgx.Tx) BatchTx {
	return &batchTx{tx: tx}
}

func (t *batchTx) ListItemBatchesForUpdate(ctx context.Context, itemID, locationID int64) ([]Batch, error) {
	const query = `SELECT id, item_id, location_id, batch_number, quantity, unit_cost, expiry_date, received_at, created_at
		FROM stock_batches
		WHERE item_id = $1 AND ($2 = 0 OR location_id = $2)
		ORDER BY expiry_date ASC NULLS LAST, received_at ASC, id ASC
		FOR UPDATE`
	rows, err := t.tx.Query(ctx, query, itemID, locationID)
	if err != nil {
		return nil, fmt.Errorf("ledger: lock batches: %w", err)
	}
	defer rows.Close()
	return scanBatches(rows)
}

func (t *batchTx) GetBatchForUpdate(ctx context.Context, batchID int64) (Batch, error) {
	const query = `SELECT id, item_id, location_id, batch_number, quantity, unit_cost, expiry_date, received_at, created_at
		FROM stock_batches WHERE id = $1 FOR UPDATE`
	batch, err := scanBatch(t.tx.QueryRow(ctx, query, batchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, fmt.Errorf("%w: batch %d", shared.ErrNotFound, batchID)
		}
		return Batch{}, fmt.Errorf("ledger: lock batch: %w", err)
	}
	return batch, nil
}

func (t *batchTx) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	const query = `INSERT INTO stock_batches (item_id, location_id, batch_number, quantity, unit_cost, expiry_date, received_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, query,
		batch.ItemID, batch.LocationID, batch.BatchNumber, batch.Quantity,
		batch.UnitCost, batch.ExpiryDate, batch.ReceivedAt, batch.CreatedAt,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("%w: item %d batch %q", shared.ErrDuplicateBatch, batch.ItemID, batch.BatchNumber)
		}
		return 0, fmt.Errorf("ledger: insert batch: %w", err)
	}
	return id, nil
}

func (t *batchTx) SetBatchQuantity(ctx context.Context, batchID, quantity int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE stock_batches SET quantity = $2 WHERE id = $1`, batchID, quantity)
	if err != nil {
		return fmt.Errorf("ledger: set batch quantity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: batch %d", shared.ErrNotFound, batchID)
	}
	return nil
}

func (t *batchTx) InsertAdjustment(ctx context.Context, adj StockAdjustment) (int64, error) {
	const query = `INSERT INTO stock_adjustments (batch_id, item_id, location_id, delta, reason, note, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, query,
		adj.BatchID, adj.ItemID, adj.LocationID, adj.Delta, adj.Reason, adj.Note, adj.ActorID, adj.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ledger: insert adjustment: %w", err)
	}
	return id, nil
}

func (t *batchTx) AppendAudit(ctx context.Context, entry shared.AuditEntry) error {
	return shared.AppendAuditTx(ctx, t.tx, entry)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.ItemID, &b.LocationID, &b.BatchNumber, &b.Quantity,
		&b.UnitCost, &b.ExpiryDate, &b.ReceivedAt, &b.CreatedAt)
	return b, err
}

func scanBatches(rows pgx.Rows) ([]Batch, error) {
	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate batches: %w", err)
	}
	return batches, nil
}
