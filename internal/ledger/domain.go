// Package ledger is the source of truth for stock: per-item, per-location
// batches with quantity, unit cost and expiry. Batches are created only by
// goods receipt or manual adjustment and mutated only by deduction,
// consumption or adjustment operations.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Batch is a discrete lot of stock for one item at one location.
// A batch with Quantity == 0 is logically exhausted but retained for audit
// and valuation history.
type Batch struct {
	ID          int64
	ItemID      int64
	LocationID  int64
	BatchNumber string
	Quantity    int64
	UnitCost    decimal.Decimal
	ExpiryDate  *time.Time
	ReceivedAt  time.Time
	CreatedAt   time.Time
}

// Exhausted reports whether the batch has no remaining stock.
func (b Batch) Exhausted() bool {
	return b.Quantity <= 0
}

// ExpiresWithin reports whether the batch expires inside the window.
// Batches without an expiry date never expire.
func (b Batch) ExpiresWithin(now time.Time, window time.Duration) bool {
	if b.ExpiryDate == nil {
		return false
	}
	return !b.ExpiryDate.After(now.Add(window))
}

// BatchDraw records a quantity taken from one batch during a deduction.
type BatchDraw struct {
	BatchID  int64
	Quantity int64
	UnitCost decimal.Decimal
}

// Adjustment reason codes. Free-form reasons are rejected so the wastage
// report can rely on the code.
const (
	ReasonWastage    = "WASTAGE"
	ReasonDamage     = "DAMAGE"
	ReasonCorrection = "CORRECTION"
	ReasonStockTake  = "STOCK_TAKE"
)

// StockAdjustment is a signed quantity delta applied to one batch,
// append-only once recorded.
type StockAdjustment struct {
	ID         int64
	BatchID    int64
	ItemID     int64
	LocationID int64
	Delta      int64
	Reason     string
	Note       string
	ActorID    int64
	CreatedAt  time.Time
}

// CreateBatchInput describes a new batch, typically one GRN line.
type CreateBatchInput struct {
	ItemID      int64
	LocationID  int64
	BatchNumber string
	Quantity    int64
	UnitCost    decimal.Decimal
	ExpiryDate  *time.Time
	ActorID     int64
	ActorRole   string
	RefModule   string
	RefID       string
}

// DeductInput describes a FIFO-by-expiry stock deduction.
// LocationID zero means the item may be drawn from any location.
type DeductInput struct {
	ItemID     int64
	LocationID int64
	Quantity   int64
	ActorID    int64
	ActorRole  string
	RefModule  string
	RefID      string
}

// AdjustInput describes a signed delta against one batch.
type AdjustInput struct {
	BatchID   int64
	Delta     int64
	Reason    string
	Note      string
	ActorID   int64
	ActorRole string
}

func validReason(reason string) bool {
	switch reason {
	case ReasonWastage, ReasonDamage, ReasonCorrection, ReasonStockTake:
		return true
	}
	return false
}
