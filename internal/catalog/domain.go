// Package catalog holds master data: items, suppliers, locations and
// departments. Other modules consult it for existence checks only.
package catalog

import "time"

// Item is a stock-keeping unit. Code is unique and immutable after
// creation; stock levels live in the ledger, never here.
type Item struct {
	ID           int64     `json:"id"`
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	Unit         string    `json:"unit"`
	MinStock     int64     `json:"minStock"`
	ReorderLevel int64     `json:"reorderLevel"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Supplier represents a vendor purchase orders are placed against.
type Supplier struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Contact   string    `json:"contact"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Location is a physical store or sub-store batches live in.
type Location struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"createdAt"`
}

// Department raises requisitions and issue requests.
type Department struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListFilter represents the shared paginated list contract.
type ListFilter struct {
	Search   string
	Category string
	Page     int
	Limit    int
}
