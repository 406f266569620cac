package issuance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quartermaster-erp/quartermaster/internal/ledger"
	"github.com/quartermaster-erp/quartermaster/internal/platform/db"
	"github.com/quartermaster-erp/quartermaster/internal/shared"
)

// Repository persists issuance data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, ledger: ledger.NewBatchTx(tx)})
	})
}

const issueSelect = `SELECT id, number, department_id, location_id, status, requested_by, note, issued_by, issued_at, cancelled_at, created_at
	FROM issue_requests`

func scanIssue(row interface{ Scan(dest ...any) error }) (IssueRequest, error) {
	var req IssueRequest
	err := row.Scan(&req.ID, &req.Number, &req.DepartmentID, &req.LocationID, &req.Status, &req.RequestedBy,
		&req.Note, &req.IssuedBy, &req.IssuedAt, &req.CancelledAt, &req.CreatedAt)
	return req, err
}

func (r *Repository) GetIssue(ctx context.Context, id int64) (IssueRequest, []IssueLine, []Drawdown, error) {
	req, err := scanIssue(r.pool.QueryRow(ctx, issueSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IssueRequest{}, nil, nil, fmt.Errorf("%w: issue %d", shared.ErrNotFound, id)
		}
		return IssueRequest{}, nil, nil, fmt.Errorf("issuance: get issue: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT id, issue_id, item_id, quantity FROM issue_lines WHERE issue_id = $1 ORDER BY id`, id)
	if err != nil {
		return IssueRequest{}, nil, nil, fmt.Errorf("issuance: issue lines: %w", err)
	}
	defer rows.Close()
	var lines []IssueLine
	for rows.Next() {
		var line IssueLine
		if err := rows.Scan(&line.ID, &line.IssueID, &line.ItemID, &line.Quantity); err != nil {
			return IssueRequest{}, nil, nil, fmt.Errorf("issuance: scan issue line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return IssueRequest{}, nil, nil, err
	}

	ddRows, err := r.pool.Query(ctx,
		`SELECT d.id, d.issue_line_id, d.batch_id, d.quantity, d.unit_cost
		 FROM issue_drawdowns d JOIN issue_lines l ON l.id = d.issue_line_id
		 WHERE l.issue_id = $1 ORDER BY d.id`, id)
	if err != nil {
		return IssueRequest{}, nil, nil, fmt.Errorf("issuance: drawdowns: %w", err)
	}
	defer ddRows.Close()
	var drawdowns []Drawdown
	for ddRows.Next() {
		var dd Drawdown
		if err := ddRows.Scan(&dd.ID, &dd.IssueLineID, &dd.BatchID, &dd.Quantity, &dd.UnitCost); err != nil {
			return IssueRequest{}, nil, nil, fmt.Errorf("issuance: scan drawdown: %w", err)
		}
		drawdowns = append(drawdowns, dd)
	}
	return req, lines, drawdowns, ddRows.Err()
}

func (r *Repository) ListIssues(ctx context.Context, filter ListFilter) ([]IssueRequest, int, error) {
	page := shared.NewPagination(filter.Page, filter.Limit, 0)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM issue_requests WHERE ($1 = '' OR status = $1)`, filter.Status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("issuance: count issues: %w", err)
	}
	rows, err := r.pool.Query(ctx, issueSelect+` WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		filter.Status, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("issuance: list issues: %w", err)
	}
	defer rows.Close()
	var reqs []IssueRequest
	for rows.Next() {
		req, err := scanIssue(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("issuance: scan issue: %w", err)
		}
		reqs = append(reqs, req)
	}
	return reqs, total, rows.Err()
}

func (r *Repository) ListConsumption(ctx context.Context, itemID int64, filter ListFilter) ([]ConsumptionRecord, int, error) {
	page := shared.NewPagination(filter.Page, filter.Limit, 0)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM consumption_records WHERE ($1 = 0 OR item_id = $1)`, itemID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("issuance: count consumption: %w", err)
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, department_id, item_id, theoretical_qty, actual_qty, variance, note, recorded_by, recorded_at
		 FROM consumption_records WHERE ($1 = 0 OR item_id = $1) ORDER BY recorded_at DESC LIMIT $2 OFFSET $3`,
		itemID, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("issuance: list consumption: %w", err)
	}
	defer rows.Close()
	var recs []ConsumptionRecord
	for rows.Next() {
		var rec ConsumptionRecord
		if err := rows.Scan(&rec.ID, &rec.DepartmentID, &rec.ItemID, &rec.TheoreticalQty, &rec.ActualQty,
			&rec.Variance, &rec.Note, &rec.RecordedBy, &rec.RecordedAt); err != nil {
			return nil, 0, fmt.Errorf("issuance: scan consumption: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, total, rows.Err()
}

type txRepo struct {
	tx     pgx.Tx
	ledger ledger.BatchTx
}

func (t *txRepo) CreateIssue(ctx context.Context, req IssueRequest) (int64, error) {
	const query = `INSERT INTO issue_requests (number, department_id, location_id, status, requested_by, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, query, req.Number, req.DepartmentID, req.LocationID, req.Status, req.RequestedBy, req.Note, req.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("issuance: insert issue: %w", err)
	}
	return id, nil
}

func (t *txRepo) InsertIssueLine(ctx context.Context, line IssueLine) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO issue_lines (issue_id, item_id, quantity) VALUES ($1, $2, $3) RETURNING id`,
		line.IssueID, line.ItemID, line.Quantity).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("issuance: insert issue line: %w", err)
	}
	return id, nil
}

func (t *txRepo) GetIssueForUpdate(ctx context.Context, id int64) (IssueRequest, []IssueLine, error) {
	req, err := scanIssue(t.tx.QueryRow(ctx, issueSelect+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IssueRequest{}, nil, fmt.Errorf("%w: issue %d", shared.ErrNotFound, id)
		}
		return IssueRequest{}, nil, fmt.Errorf("issuance: lock issue: %w", err)
	}
	rows, err := t.tx.Query(ctx, `SELECT id, issue_id, item_id, quantity FROM issue_lines WHERE issue_id = $1 ORDER BY id`, id)
	if err != nil {
		return IssueRequest{}, nil, fmt.Errorf("issuance: issue lines: %w", err)
	}
	defer rows.Close()
	var lines []IssueLine
	for rows.Next() {
		var line IssueLine
		if err := rows.Scan(&line.ID, &line.IssueID, &line.ItemID, &line.Quantity); err != nil {
			return IssueRequest{}, nil, fmt.Errorf("issuance: scan issue line: %w", err)
		}
		lines = append(lines, line)
	}
	return req, lines, rows.Err()
}

func (t *txRepo) SetIssueStatus(ctx context.Context, id int64, status IssueStatus, at time.Time, actorID int64) error {
	var err error
	switch status {
	case IssueStatusIssued:
		_, err = t.tx.Exec(ctx, `UPDATE issue_requests SET status = $2, issued_by = $3, issued_at = $4 WHERE id = $1`,
			id, status, actorID, at)
	case IssueStatusCancelled:
		_, err = t.tx.Exec(ctx, `UPDATE issue_requests SET status = $2, cancelled_at = $3 WHERE id = $1`, id, status, at)
	default:
		_, err = t.tx.Exec(ctx, `UPDATE issue_requests SET status = $2 WHERE id = $1`, id, status)
	}
	if err != nil {
		return fmt.Errorf("issuance: set issue status: %w", err)
	}
	return nil
}

func (t *txRepo) InsertDrawdown(ctx context.Context, dd Drawdown) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO issue_drawdowns (issue_line_id, batch_id, quantity, unit_cost) VALUES ($1, $2, $3, $4)`,
		dd.IssueLineID, dd.BatchID, dd.Quantity, dd.UnitCost)
	if err != nil {
		return fmt.Errorf("issuance: insert drawdown: %w", err)
	}
	return nil
}

func (t *txRepo) InsertConsumption(ctx context.Context, rec ConsumptionRecord) (int64, error) {
	const query = `INSERT INTO consumption_records (department_id, item_id, theoretical_qty, actual_qty, variance, note, recorded_by, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, query, rec.DepartmentID, rec.ItemID, rec.TheoreticalQty, rec.ActualQty,
		rec.Variance, rec.Note, rec.RecordedBy, rec.RecordedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("issuance: insert consumption: %w", err)
	}
	return id, nil
}

func (t *txRepo) Ledger() ledger.BatchTx {
	return t.ledger
}

func (t *txRepo) AppendAudit(ctx context.Context, entry shared.AuditEntry) error {
	return shared.AppendAuditTx(ctx, t.tx, entry)
}
