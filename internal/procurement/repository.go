package procurement

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

// Repository persists procurement data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn inside one RepeatableRead transaction. The TxRepository
// it passes shares the transaction with a ledger BatchTx, so goods receipt
// writes its workflow rows and batches atomically.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, ledger: ledger.NewBatchTx(tx)})
	})
}

func (r *Repository) GetPR(ctx context.Context, id int64) (PurchaseRequisition, []PRLine, error) {
	pr, err := scanPR(r.pool.QueryRow(ctx, prSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRequisition{}, nil, fmt.Errorf("%w: PR %d", shared.ErrNotFound, id)
		}
		return PurchaseRequisition{}, nil, fmt.Errorf("procurement: get PR: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT id, pr_id, item_id, quantity FROM pr_lines WHERE pr_id = $1 ORDER BY id`, id)
	if err != nil {
		return PurchaseRequisition{}, nil, fmt.Errorf("procurement: PR lines: %w", err)
	}
	defer rows.Close()
	var lines []PRLine
	for rows.Next() {
		var line PRLine
		if err := rows.Scan(&line.ID, &line.PRID, &line.ItemID, &line.Quantity); err != nil {
			return PurchaseRequisition{}, nil, fmt.Errorf("procurement: scan PR line: %w", err)
		}
		lines = append(lines, line)
	}
	return pr, lines, rows.Err()
}

func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	po, err := scanPO(r.pool.QueryRow(ctx, poSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, fmt.Errorf("%w: PO %d", shared.ErrNotFound, id)
		}
		return PurchaseOrder{}, nil, fmt.Errorf("procurement: get PO: %w", err)
	}
	lines, err := queryPOLines(ctx, r.pool, id, "")
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, lines, nil
}

func (r *Repository) GetGRN(ctx context.Context, id int64) (GoodsReceipt, []GRNLine, error) {
	var grn GoodsReceipt
	err := r.pool.QueryRow(ctx, `SELECT id, number, po_id, received_by, received_at, note FROM goods_receipts WHERE id = $1`, id).
		Scan(&grn.ID, &grn.Number, &grn.POID, &grn.ReceivedBy, &grn.ReceivedAt, &grn.Note)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GoodsReceipt{}, nil, fmt.Errorf("%w: GRN %d", shared.ErrNotFound, id)
		}
		return GoodsReceipt{}, nil, fmt.Errorf("procurement: get GRN: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT id, grn_id, item_id, batch_id, quantity, unit_price FROM grn_lines WHERE grn_id = $1 ORDER BY id`, id)
	if err != nil {
		return GoodsReceipt{}, nil, fmt.Errorf("procurement: GRN lines: %w", err)
	}
	defer rows.Close()
	var lines []GRNLine
	for rows.Next() {
		var line GRNLine
		if err := rows.Scan(&line.ID, &line.GRNID, &line.ItemID, &line.BatchID, &line.Quantity, &line.UnitPrice); err != nil {
			return GoodsReceipt{}, nil, fmt.Errorf("procurement: scan GRN line: %w", err)
		}
		lines = append(lines, line)
	}
	return grn, lines, rows.Err()
}

func (r *Repository) ListPRs(ctx context.Context, filter ListFilter) ([]PurchaseRequisition, int, error) {
	page := shared.NewPagination(filter.Page, filter.Limit, 0)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_requisitions WHERE ($1 = '' OR status = $1)`, filter.Status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("procurement: count PRs: %w", err)
	}
	rows, err := r.pool.Query(ctx, prSelect+` WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		filter.Status, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("procurement: list PRs: %w", err)
	}
	defer rows.Close()
	var prs []PurchaseRequisition
	for rows.Next() {
		pr, err := scanPR(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("procurement: scan PR: %w", err)
		}
		prs = append(prs, pr)
	}
	return prs, total, rows.Err()
}

func (r *Repository) ListPOs(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, error) {
	page := shared.NewPagination(filter.Page, filter.Limit, 0)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders WHERE ($1 = '' OR status = $1)`, filter.Status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("procurement: count POs: %w", err)
	}
	rows, err := r.pool.Query(ctx, poSelect+` WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		filter.Status, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("procurement: list POs: %w", err)
	}
	defer rows.Close()
	var pos []PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("procurement: scan PO: %w", err)
		}
		pos = append(pos, po)
	}
	return pos, total, rows.Err()
}

type txRepo struct {
	tx     pgx.Tx
	ledger ledger.BatchTx
}

func (t *txRepo) CreatePR(ctx context.Context, pr PurchaseRequisition) (int64, error) {
	const query = `INSERT INTO purchase_requisitions (number, department_id, status, requested_by, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, query, pr.Number, pr.DepartmentID, pr.Status, pr.RequestedBy, pr.Note, pr.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("procurement: insert PR: %w", err)
	}
	return id, nil
}

func (t *txRepo) InsertPRLine(ctx context.Context, line PRLine) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO pr_lines (pr_id, item_id, quantity) VALUES ($1, $2, $3)`,
		line.PRID, line.ItemID, line.Quantity)
	if err != nil {
		return fmt.Errorf("procurement: insert PR line: %w", err)
	}
	return nil
}

func (t *txRepo) GetPRForUpdate(ctx context.Context, id int64) (PurchaseRequisition, error) {
	pr, err := scanPR(t.tx.QueryRow(ctx, prSelect+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRequisition{}, fmt.Errorf("%w: PR %d", shared.ErrNotFound, id)
		}
		return PurchaseRequisition{}, fmt.Errorf("procurement: lock PR: %w", err)
	}
	return pr, nil
}

func (t *txRepo) SetPRDecision(ctx context.Context, id int64, status PRStatus, decidedBy int64, decidedAt time.Time, reason string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE purchase_requisitions SET status = $2, decided_by = $3, decided_at = $4, reject_reason = $5 WHERE id = $1`,
		id, status, decidedBy, decidedAt, reason)
	if err != nil {
		return fmt.Errorf("procurement: set PR decision: %w", err)
	}
	return nil
}

func (t *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	const query = `INSERT INTO purchase_orders (number, supplier_id, pr_id, status, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, query, po.Number, po.SupplierID, po.PRID, po.Status, po.Note, po.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("procurement: insert PO: %w", err)
	}
	return id, nil
}

func (t *txRepo) InsertPOLine(ctx context.Context, line POLine) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO po_lines (po_id, item_id, quantity, unit_price, received_qty) VALUES ($1, $2, $3, $4, 0)`,
		line.POID, line.ItemID, line.Quantity, line.UnitPrice)
	if err != nil {
		return fmt.Errorf("procurement: insert PO line: %w", err)
	}
	return nil
}

func (t *txRepo) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	po, err := scanPO(t.tx.QueryRow(ctx, poSelect+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, fmt.Errorf("%w: PO %d", shared.ErrNotFound, id)
		}
		return PurchaseOrder{}, nil, fmt.Errorf("procurement: lock PO: %w", err)
	}
	lines, err := queryPOLines(ctx, t.tx, id, " FOR UPDATE")
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, lines, nil
}

func (t *txRepo) SetPOStatus(ctx context.Context, id int64, status POStatus, at time.Time, actorID int64) error {
	var query string
	switch status {
	case POStatusApproved:
		query = `UPDATE purchase_orders SET status = $2, approved_at = $3, approved_by = $4 WHERE id = $1`
	case POStatusSent:
		query = `UPDATE purchase_orders SET status = $2, sent_at = $3 WHERE id = $1`
	case POStatusClosed:
		query = `UPDATE purchase_orders SET status = $2, closed_at = $3 WHERE id = $1`
	default:
		query = `UPDATE purchase_orders SET status = $2 WHERE id = $1`
	}
	var err error
	if status == POStatusApproved {
		_, err = t.tx.Exec(ctx, query, id, status, at, actorID)
	} else {
		_, err = t.tx.Exec(ctx, query, id, status, at)
	}
	if err != nil {
		return fmt.Errorf("procurement: set PO status: %w", err)
	}
	return nil
}

func (t *txRepo) AddPOLineReceived(ctx context.Context, poLineID, quantity int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE po_lines SET received_qty = received_qty + $2 WHERE id = $1`, poLineID, quantity)
	if err != nil {
		return fmt.Errorf("procurement: add received qty: %w", err)
	}
	return nil
}

func (t *txRepo) CreateGRN(ctx context.Context, grn GoodsReceipt) (int64, error) {
	const query = `INSERT INTO goods_receipts (number, po_id, received_by, received_at, note)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, query, grn.Number, grn.POID, grn.ReceivedBy, grn.ReceivedAt, grn.Note).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("procurement: insert GRN: %w", err)
	}
	return id, nil
}

func (t *txRepo) InsertGRNLine(ctx context.Context, line GRNLine) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO grn_lines (grn_id, item_id, batch_id, quantity, unit_price) VALUES ($1, $2, $3, $4, $5)`,
		line.GRNID, line.ItemID, line.BatchID, line.Quantity, line.UnitPrice)
	if err != nil {
		return fmt.Errorf("procurement: insert GRN line: %w", err)
	}
	return nil
}

func (t *txRepo) Ledger() ledger.BatchTx {
	return t.ledger
}

func (t *txRepo) AppendAudit(ctx context.Context, entry shared.AuditEntry) error {
	return shared.AppendAuditTx(ctx, t.tx, entry)
}

const prSelect = `SELECT id, number, department_id, status, requested_by, note, reject_reason, decided_by, decided_at, created_at
	FROM purchase_requisitions`

const poSelect = `SELECT id, number, supplier_id, pr_id, status, note, approved_by, approved_at, sent_at, closed_at, created_at
	FROM purchase_orders`

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanPR(row rowScanner) (PurchaseRequisition, error) {
	var pr PurchaseRequisition
	err := row.Scan(&pr.ID, &pr.Number, &pr.DepartmentID, &pr.Status, &pr.RequestedBy, &pr.Note,
		&pr.RejectReason, &pr.DecidedBy, &pr.DecidedAt, &pr.CreatedAt)
	return pr, err
}

func scanPO(row rowScanner) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.Number, &po.SupplierID, &po.PRID, &po.Status, &po.Note,
		&po.ApprovedBy, &po.ApprovedAt, &po.SentAt, &po.ClosedAt, &po.CreatedAt)
	return po, err
}

func queryPOLines(ctx context.Context, q querier, poID int64, suffix string) ([]POLine, error) {
	rows, err := q.Query(ctx, `SELECT id, po_id, item_id, quantity, unit_price, received_qty FROM po_lines WHERE po_id = $1 ORDER BY id`+suffix, poID)
	if err != nil {
		return nil, fmt.Errorf("procurement: PO lines: %w", err)
	}
	defer rows.Close()
	var lines []POLine
	for rows.Next() {
		var line POLine
		if err := rows.Scan(&line.ID, &line.POID, &line.ItemID, &line.Quantity, &line.UnitPrice, &line.ReceivedQty); err != nil {
			return nil, fmt.Errorf("procurement: scan PO line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
