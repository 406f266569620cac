package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository runs monitoring's read queries against PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) ItemStocks(ctx context.Context) ([]ItemStock, error) {
	const query = `
		SELECT i.id, i.code, i.name, COALESCE(SUM(b.quantity), 0), i.min_stock, i.reorder_level
		FROM items i
		LEFT JOIN stock_batches b ON b.item_id = i.id AND b.quantity > 0
		GROUP BY i.id, i.code, i.name, i.min_stock, i.reorder_level
		ORDER BY i.id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("monitoring: item stocks: %w", err)
	}
	defer rows.Close()
	var stocks []ItemStock
	for rows.Next() {
		var st ItemStock
		if err := rows.Scan(&st.ItemID, &st.Code, &st.Name, &st.CurrentStock, &st.MinStock, &st.ReorderLevel); err != nil {
			return nil, fmt.Errorf("monitoring: scan item stock: %w", err)
		}
		stocks = append(stocks, st)
	}
	return stocks, rows.Err()
}

func (r *Repository) LiveBatches(ctx context.Context) ([]BatchSnapshot, error) {
	// ordered by consumption priority: earliest expiry first, undated last
	const query = `
		SELECT b.id, b.item_id, i.code, i.name, b.batch_number, b.quantity, b.unit_cost, b.expiry_date
		FROM stock_batches b
		JOIN items i ON i.id = b.item_id
		WHERE b.quantity > 0
		ORDER BY b.expiry_date ASC NULLS LAST, b.received_at ASC, b.id ASC`
	return r.queryBatches(ctx, query)
}

func (r *Repository) ExpiringBatches(ctx context.Context, before time.Time) ([]BatchSnapshot, error) {
	const query = `
		SELECT b.id, b.item_id, i.code, i.name, b.batch_number, b.quantity, b.unit_cost, b.expiry_date
		FROM stock_batches b
		JOIN items i ON i.id = b.item_id
		WHERE b.quantity > 0 AND b.expiry_date IS NOT NULL AND b.expiry_date <= $1
		ORDER BY b.expiry_date ASC, b.id ASC`
	return r.queryBatches(ctx, query, before)
}

func (r *Repository) queryBatches(ctx context.Context, query string, args ...any) ([]BatchSnapshot, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitoring: batches: %w", err)
	}
	defer rows.Close()
	var batches []BatchSnapshot
	for rows.Next() {
		var b BatchSnapshot
		if err := rows.Scan(&b.BatchID, &b.ItemID, &b.ItemCode, &b.ItemName, &b.BatchNumber, &b.Quantity, &b.UnitCost, &b.ExpiryDate); err != nil {
			return nil, fmt.Errorf("monitoring: scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (r *Repository) WastageFor(ctx context.Context, year int, month time.Month) ([]WastageLine, error) {
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	const query = `
		SELECT i.id, i.code, i.name, SUM(-a.delta), SUM(b.unit_cost * -a.delta)
		FROM stock_adjustments a
		JOIN stock_batches b ON b.id = a.batch_id
		JOIN items i ON i.id = a.item_id
		WHERE a.reason = 'WASTAGE' AND a.delta < 0 AND a.created_at >= $1 AND a.created_at < $2
		GROUP BY i.id, i.code, i.name
		ORDER BY i.id`
	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("monitoring: wastage: %w", err)
	}
	defer rows.Close()
	var lines []WastageLine
	for rows.Next() {
		var line WastageLine
		if err := rows.Scan(&line.ItemID, &line.Code, &line.Name, &line.Quantity, &line.Value); err != nil {
			return nil, fmt.Errorf("monitoring: scan wastage: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *Repository) SupplierPerformance(ctx context.Context) ([]SupplierPerformance, error) {
	// lead time measured from dispatch to the first goods receipt
	const query = `
		SELECT s.id, s.name,
			COUNT(po.id),
			COUNT(po.id) FILTER (WHERE po.status = 'closed'),
			COALESCE(AVG(EXTRACT(EPOCH FROM (first_grn.received_at - po.sent_at)) / 86400.0)
				FILTER (WHERE po.sent_at IS NOT NULL AND first_grn.received_at IS NOT NULL), 0)
		FROM suppliers s
		JOIN purchase_orders po ON po.supplier_id = s.id
		LEFT JOIN LATERAL (
			SELECT MIN(g.received_at) AS received_at
			FROM goods_receipts g
			WHERE g.po_id = po.id
		) first_grn ON true
		GROUP BY s.id, s.name
		ORDER BY s.id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("monitoring: supplier performance: %w", err)
	}
	defer rows.Close()
	var perf []SupplierPerformance
	for rows.Next() {
		var p SupplierPerformance
		if err := rows.Scan(&p.SupplierID, &p.Name, &p.POCount, &p.ClosedCount, &p.AvgLeadTimeDays); err != nil {
			return nil, fmt.Errorf("monitoring: scan supplier performance: %w", err)
		}
		if p.POCount > 0 {
			p.ReceivedRatio = float64(p.ClosedCount) / float64(p.POCount)
		}
		perf = append(perf, p)
	}
	return perf, rows.Err()
}
