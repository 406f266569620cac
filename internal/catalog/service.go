package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/quartermaster-erp/quartermaster/internal/shared"
)

// RepositoryPort abstracts catalog persistence. Create and update methods
// persist the record and the given audit entry in one transaction.
type RepositoryPort interface {
	CreateItem(ctx context.Context, item Item, audit shared.AuditEntry) (Item, error)
	UpdateItem(ctx context.Context, item Item, audit shared.AuditEntry) (Item, error)
	GetItem(ctx context.Context, id int64) (Item, error)
	GetItemByCode(ctx context.Context, code string) (Item, error)
	ListItems(ctx context.Context, filter ListFilter) ([]Item, int, error)
	ItemExists(ctx context.Context, id int64) (bool, error)

	CreateSupplier(ctx context.Context, supplier Supplier, audit shared.AuditEntry) (Supplier, error)
	ListSuppliers(ctx context.Context, filter ListFilter) ([]Supplier, int, error)
	SupplierExists(ctx context.Context, id int64) (bool, error)

	CreateLocation(ctx context.Context, location Location, audit shared.AuditEntry) (Location, error)
	ListLocations(ctx context.Context, filter ListFilter) ([]Location, int, error)
	LocationExists(ctx context.Context, id int64) (bool, error)

	CreateDepartment(ctx context.Context, department Department, audit shared.AuditEntry) (Department, error)
	ListDepartments(ctx context.Context, filter ListFilter) ([]Department, int, error)
	DepartmentExists(ctx context.Context, id int64) (bool, error)
}

// Service coordinates catalog operations.
type Service struct {
	repo RepositoryPort
}

// NewService builds a catalog Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// CreateItemInput describes a new item.
type CreateItemInput struct {
	Code         string
	Name         string
	Category     string
	Unit         string
	MinStock     int64
	ReorderLevel int64
	Actor        shared.Actor
}

// UpdateItemInput updates mutable item fields. Code cannot change.
type UpdateItemInput struct {
	ID           int64
	Name         string
	Category     string
	Unit         string
	MinStock     int64
	ReorderLevel int64
	Actor        shared.Actor
}

// CreateItem validates and persists a new item.
func (s *Service) CreateItem(ctx context.Context, input CreateItemInput) (Item, error) {
	code := strings.TrimSpace(input.Code)
	if code == "" || strings.TrimSpace(input.Name) == "" {
		return Item{}, fmt.Errorf("%w: item code and name required", shared.ErrValidation)
	}
	if input.ReorderLevel < 0 || input.MinStock < 0 {
		return Item{}, fmt.Errorf("%w: reorder level and min stock must not be negative", shared.ErrValidation)
	}
	item := Item{
		Code:         code,
		Name:         strings.TrimSpace(input.Name),
		Category:     input.Category,
		Unit:         input.Unit,
		MinStock:     input.MinStock,
		ReorderLevel: input.ReorderLevel,
	}
	return s.repo.CreateItem(ctx, item, auditFor(input.Actor, "ITEM_CREATE", "item", code, map[string]any{
		"name": item.Name, "reorder_level": item.ReorderLevel,
	}))
}

// UpdateItem persists changes to an existing item. The item code is
// immutable and never touched.
func (s *Service) UpdateItem(ctx context.Context, input UpdateItemInput) (Item, error) {
	if input.ReorderLevel < 0 || input.MinStock < 0 {
		return Item{}, fmt.Errorf("%w: reorder level and min stock must not be negative", shared.ErrValidation)
	}
	if strings.TrimSpace(input.Name) == "" {
		return Item{}, fmt.Errorf("%w: item name required", shared.ErrValidation)
	}
	existing, err := s.repo.GetItem(ctx, input.ID)
	if err != nil {
		return Item{}, err
	}
	updated := existing
	updated.Name = strings.TrimSpace(input.Name)
	updated.Category = input.Category
	updated.Unit = input.Unit
	updated.MinStock = input.MinStock
	updated.ReorderLevel = input.ReorderLevel
	return s.repo.UpdateItem(ctx, updated, auditFor(input.Actor, "ITEM_UPDATE", "item", strconv.FormatInt(input.ID, 10), map[string]any{
		"before": map[string]any{"name": existing.Name, "reorder_level": existing.ReorderLevel, "min_stock": existing.MinStock},
		"after":  map[string]any{"name": updated.Name, "reorder_level": updated.ReorderLevel, "min_stock": updated.MinStock},
	}))
}

// GetItem fetches one item by id.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	return s.repo.GetItem(ctx, id)
}

// ItemExists reports whether the item id is known.
func (s *Service) ItemExists(ctx context.Context, id int64) (bool, error) {
	return s.repo.ItemExists(ctx, id)
}

// ListItems returns a page of items plus the total row count.
func (s *Service) ListItems(ctx context.Context, filter ListFilter) ([]Item, int, error) {
	return s.repo.ListItems(ctx, filter)
}

// CreateSupplier persists a new supplier.
func (s *Service) CreateSupplier(ctx context.Context, supplier Supplier, actor shared.Actor) (Supplier, error) {
	if strings.TrimSpace(supplier.Name) == "" {
		return Supplier{}, fmt.Errorf("%w: supplier name required", shared.ErrValidation)
	}
	return s.repo.CreateSupplier(ctx, supplier, auditFor(actor, "SUPPLIER_CREATE", "supplier", supplier.Name, nil))
}

// ListSuppliers returns a page of suppliers.
func (s *Service) ListSuppliers(ctx context.Context, filter ListFilter) ([]Supplier, int, error) {
	return s.repo.ListSuppliers(ctx, filter)
}

// SupplierExists reports whether the supplier id is known.
func (s *Service) SupplierExists(ctx context.Context, id int64) (bool, error) {
	return s.repo.SupplierExists(ctx, id)
}

// CreateLocation persists a new location.
func (s *Service) CreateLocation(ctx context.Context, location Location, actor shared.Actor) (Location, error) {
	if strings.TrimSpace(location.Name) == "" {
		return Location{}, fmt.Errorf("%w: location name required", shared.ErrValidation)
	}
	return s.repo.CreateLocation(ctx, location, auditFor(actor, "LOCATION_CREATE", "location", location.Name, nil))
}

// ListLocations returns a page of locations.
func (s *Service) ListLocations(ctx context.Context, filter ListFilter) ([]Location, int, error) {
	return s.repo.ListLocations(ctx, filter)
}

// LocationExists reports whether the location id is known.
func (s *Service) LocationExists(ctx context.Context, id int64) (bool, error) {
	return s.repo.LocationExists(ctx, id)
}

// CreateDepartment persists a new department.
func (s *Service) CreateDepartment(ctx context.Context, department Department, actor shared.Actor) (Department, error) {
	if strings.TrimSpace(department.Name) == "" {
		return Department{}, fmt.Errorf("%w: department name required", shared.ErrValidation)
	}
	return s.repo.CreateDepartment(ctx, department, auditFor(actor, "DEPARTMENT_CREATE", "department", department.Name, nil))
}

// ListDepartments returns a page of departments.
func (s *Service) ListDepartments(ctx context.Context, filter ListFilter) ([]Department, int, error) {
	return s.repo.ListDepartments(ctx, filter)
}

// DepartmentExists reports whether the department id is known.
func (s *Service) DepartmentExists(ctx context.Context, id int64) (bool, error) {
	return s.repo.DepartmentExists(ctx, id)
}

func auditFor(actor shared.Actor, action, entity, entityID string, meta map[string]any) shared.AuditEntry {
	return shared.AuditEntry{
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		Meta:      meta,
	}
}
