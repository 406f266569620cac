// Package procurement drives the purchase workflow: requisitions raised by
// departments, purchase orders against suppliers, and goods receipts that
// turn dispatched orders into ledger batches.
package procurement

import (
	"time"

	"github.com/shopspring/decimal"
)

// PRStatus enumerates purchase requisition states. Approved and rejected
// are terminal.
type PRStatus string

const (
	PRStatusPending  PRStatus = "pending"
	PRStatusApproved PRStatus = "approved"
	PRStatusRejected PRStatus = "rejected"
)

// POStatus enumerates purchase order states. A PO must be approved before
// it can be sent, and sent before goods may be received against it.
type POStatus string

const (
	POStatusDraft    POStatus = "draft"
	POStatusApproved POStatus = "approved"
	POStatusSent     POStatus = "sent"
	POStatusClosed   POStatus = "closed"
)

// PurchaseRequisition is an internal request to buy items.
type PurchaseRequisition struct {
	ID           int64
	Number       string
	DepartmentID int64
	Status       PRStatus
	RequestedBy  int64
	Note         string
	RejectReason string
	DecidedBy    *int64
	DecidedAt    *time.Time
	CreatedAt    time.Time
}

// PRLine is one requested item.
type PRLine struct {
	ID       int64
	PRID     int64
	ItemID   int64
	Quantity int64
}

// PurchaseOrder is a supplier-facing order. Lines are immutable once the
// order is approved.
type PurchaseOrder struct {
	ID         int64
	Number     string
	SupplierID int64
	PRID       *int64
	Status     POStatus
	Note       string
	ApprovedBy *int64
	ApprovedAt *time.Time
	SentAt     *time.Time
	ClosedAt   *time.Time
	CreatedAt  time.Time
}

// POLine is one ordered item. ReceivedQty accumulates across goods
// receipts; the order closes when every line is fully received.
type POLine struct {
	ID          int64
	POID        int64
	ItemID      int64
	Quantity    int64
	UnitPrice   decimal.Decimal
	ReceivedQty int64
}

// FullyReceived reports whether the line has no outstanding quantity.
func (l POLine) FullyReceived() bool {
	return l.ReceivedQty >= l.Quantity
}

// GoodsReceipt records items physically received against one PO.
// Immutable once created; corrections go through stock adjustments.
type GoodsReceipt struct {
	ID         int64
	Number     string
	POID       int64
	ReceivedBy int64
	ReceivedAt time.Time
	Note       string
}

// GRNLine is one received line together with the ledger batch it created.
type GRNLine struct {
	ID        int64
	GRNID     int64
	ItemID    int64
	BatchID   int64
	Quantity  int64
	UnitPrice decimal.Decimal
}

// ListFilter filters paginated PR/PO listings.
type ListFilter struct {
	Status string
	Page   int
	Limit  int
}
