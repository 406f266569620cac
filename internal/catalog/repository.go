package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quartermaster-erp/quartermaster/internal/platform/db"
	"github.com/quartermaster-erp/quartermaster/internal/shared"
)

// Repository persists master data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) CreateItem(ctx context.Context, item Item, audit shared.AuditEntry) (Item, error) {
	now := time.Now().UTC()
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `INSERT INTO items (code, name, category, unit, min_stock, reorder_level, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id`
		if err := tx.QueryRow(ctx, query, item.Code, item.Name, item.Category, item.Unit, item.MinStock, item.ReorderLevel, now).Scan(&item.ID); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("%w: item code %q already exists", shared.ErrValidation, item.Code)
			}
			return fmt.Errorf("catalog: insert item: %w", err)
		}
		return shared.AppendAuditTx(ctx, tx, audit)
	})
	if err != nil {
		return Item{}, err
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	return item, nil
}

func (r *Repository) UpdateItem(ctx context.Context, item Item, audit shared.AuditEntry) (Item, error) {
	now := time.Now().UTC()
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `UPDATE items SET name = $2, category = $3, unit = $4, min_stock = $5, reorder_level = $6, updated_at = $7
			WHERE id = $1`
		tag, err := tx.Exec(ctx, query, item.ID, item.Name, item.Category, item.Unit, item.MinStock, item.ReorderLevel, now)
		if err != nil {
			return fmt.Errorf("catalog: update item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: item %d", shared.ErrNotFound, item.ID)
		}
		return shared.AppendAuditTx(ctx, tx, audit)
	})
	if err != nil {
		return Item{}, err
	}
	item.UpdatedAt = now
	return item, nil
}

func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	const query = `SELECT id, code, name, category, unit, min_stock, reorder_level, created_at, updated_at
		FROM items WHERE id = $1`
	var item Item
	err := r.pool.QueryRow(ctx, query, id).Scan(&item.ID, &item.Code, &item.Name, &item.Category, &item.Unit,
		&item.MinStock, &item.ReorderLevel, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, fmt.Errorf("%w: item %d", shared.ErrNotFound, id)
		}
		return Item{}, fmt.Errorf("catalog: get item: %w", err)
	}
	return item, nil
}

func (r *Repository) GetItemByCode(ctx context.Context, code string) (Item, error) {
	const query = `SELECT id, code, name, category, unit, min_stock, reorder_level, created_at, updated_at
		FROM items WHERE code = $1`
	var item Item
	err := r.pool.QueryRow(ctx, query, code).Scan(&item.ID, &item.Code, &item.Name, &item.Category, &item.Unit,
		&item.MinStock, &item.ReorderLevel, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, fmt.Errorf("%w: item code %q", shared.ErrNotFound, code)
		}
		return Item{}, fmt.Errorf("catalog: get item by code: %w", err)
	}
	return item, nil
}

func (r *Repository) ListItems(ctx context.Context, filter ListFilter) ([]Item, int, error) {
	page := shared.NewPagination(filter.Page, filter.Limit, 0)
	const countQuery = `SELECT COUNT(*) FROM items
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR code ILIKE '%' || $1 || '%')
		  AND ($2 = '' OR category = $2)`
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, filter.Search, filter.Category).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("catalog: count items: %w", err)
	}
	const query = `SELECT id, code, name, category, unit, min_stock, reorder_level, created_at, updated_at
		FROM items
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR code ILIKE '%' || $1 || '%')
		  AND ($2 = '' OR category = $2)
		ORDER BY code
		LIMIT $3 OFFSET $4`
	rows, err := r.pool.Query(ctx, query, filter.Search, filter.Category, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: list items: %w", err)
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.Code, &item.Name, &item.Category, &item.Unit,
			&item.MinStock, &item.ReorderLevel, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("catalog: scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

func (r *Repository) ItemExists(ctx context.Context, id int64) (bool, error) {
	return r.exists(ctx, "items", id)
}

func (r *Repository) CreateSupplier(ctx context.Context, supplier Supplier, audit shared.AuditEntry) (Supplier, error) {
	now := time.Now().UTC()
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `INSERT INTO suppliers (name, contact, phone, email, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`
		if err := tx.QueryRow(ctx, query, supplier.Name, supplier.Contact, supplier.Phone, supplier.Email, now).Scan(&supplier.ID); err != nil {
			return fmt.Errorf("catalog: insert supplier: %w", err)
		}
		return shared.AppendAuditTx(ctx, tx, audit)
	})
	if err != nil {
		return Supplier{}, err
	}
	supplier.CreatedAt = now
	return supplier, nil
}

func (r *Repository) ListSuppliers(ctx context.Context, filter ListFilter) ([]Supplier, int, error) {
	page := shared.NewPagination(filter.Page, filter.Limit, 0)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM suppliers WHERE ($1 = '' OR name ILIKE '%' || $1 || '%')`, filter.Search).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("catalog: count suppliers: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name, contact, phone, email, created_at FROM suppliers
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%') ORDER BY name LIMIT $2 OFFSET $3`,
		filter.Search, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: list suppliers: %w", err)
	}
	defer rows.Close()
	var suppliers []Supplier
	for rows.Next() {
		var s Supplier
		if err := rows.Scan(&s.ID, &s.Name, &s.Contact, &s.Phone, &s.Email, &s.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("catalog: scan supplier: %w", err)
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, total, rows.Err()
}

func (r *Repository) SupplierExists(ctx context.Context, id int64) (bool, error) {
	return r.exists(ctx, "suppliers", id)
}

func (r *Repository) CreateLocation(ctx context.Context, location Location, audit shared.AuditEntry) (Location, error) {
	now := time.Now().UTC()
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `INSERT INTO locations (name, note, created_at) VALUES ($1, $2, $3) RETURNING id`,
			location.Name, location.Note, now).Scan(&location.ID); err != nil {
			return fmt.Errorf("catalog: insert location: %w", err)
		}
		return shared.AppendAuditTx(ctx, tx, audit)
	})
	if err != nil {
		return Location{}, err
	}
	location.CreatedAt = now
	return location, nil
}

func (r *Repository) ListLocations(ctx context.Context, filter ListFilter) ([]Location, int, error) {
	page := shared.NewPagination(filter.Page, filter.Limit, 0)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM locations`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("catalog: count locations: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name, note, created_at FROM locations ORDER BY name LIMIT $1 OFFSET $2`,
		page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: list locations: %w", err)
	}
	defer rows.Close()
	var locations []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.Name, &l.Note, &l.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("catalog: scan location: %w", err)
		}
		locations = append(locations, l)
	}
	return locations, total, rows.Err()
}

func (r *Repository) LocationExists(ctx context.Context, id int64) (bool, error) {
	return r.exists(ctx, "locations", id)
}

func (r *Repository) CreateDepartment(ctx context.Context, department Department, audit shared.AuditEntry) (Department, error) {
	now := time.Now().UTC()
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `INSERT INTO departments (name, created_at) VALUES ($1, $2) RETURNING id`,
			department.Name, now).Scan(&department.ID); err != nil {
			return fmt.Errorf("catalog: insert department: %w", err)
		}
		return shared.AppendAuditTx(ctx, tx, audit)
	})
	if err != nil {
		return Department{}, err
	}
	department.CreatedAt = now
	return department, nil
}

func (r *Repository) ListDepartments(ctx context.Context, filter ListFilter) ([]Department, int, error) {
	page := shared.NewPagination(filter.Page, filter.Limit, 0)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM departments`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("catalog: count departments: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name, created_at FROM departments ORDER BY name LIMIT $1 OFFSET $2`,
		page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: list departments: %w", err)
	}
	defer rows.Close()
	var departments []Department
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.ID, &d.Name, &d.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("catalog: scan department: %w", err)
		}
		departments = append(departments, d)
	}
	return departments, total, rows.Err()
}

func (r *Repository) DepartmentExists(ctx context.Context, id int64) (bool, error) {
	return r.exists(ctx, "departments", id)
}

func (r *Repository) exists(ctx context.Context, table string, id int64) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table)
	var found bool
	if err := r.pool.QueryRow(ctx, query, id).Scan(&found); err != nil {
		return false, fmt.Errorf("catalog: exists %s: %w", table, err)
	}
	return found, nil
}
