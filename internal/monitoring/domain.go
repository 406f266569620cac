// Package monitoring watches the ledger: reorder and expiry scanning,
// stock valuation, and the operational reports derived from stock
// movements. Everything here is a pure read over a consistent snapshot;
// monitoring never mutates stock.
package monitoring

import (
	"time"

	"github.com/shopspring/decimal"
)

// Valuation methods.
const (
	MethodWeightedAverage = "weighted-average"
	MethodFIFOCost        = "FIFO-cost"
)

// Stock health bands.
const (
	HealthOK      = "ok"
	HealthReorder = "reorder"
	HealthLow     = "low"
	HealthOut     = "out"
)

// ReorderAlert flags an item whose stock has fallen to its reorder level.
type ReorderAlert struct {
	ItemID       int64  `json:"itemId"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	CurrentStock int64  `json:"currentStock"`
	ReorderLevel int64  `json:"reorderLevel"`
	MinStock     int64  `json:"minStock"`
}

// ExpiryAlert flags a non-exhausted batch expiring within the scan window.
type ExpiryAlert struct {
	BatchID     int64     `json:"batchId"`
	ItemID      int64     `json:"itemId"`
	ItemName    string    `json:"itemName"`
	BatchNumber string    `json:"batchNumber"`
	Quantity    int64     `json:"quantity"`
	ExpiryDate  time.Time `json:"expiryDate"`
	DaysLeft    int       `json:"daysLeft"`
}

// ValuationLine values one item's stock under the chosen method.
type ValuationLine struct {
	ItemID   int64           `json:"itemId"`
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Quantity int64           `json:"quantity"`
	UnitCost decimal.Decimal `json:"unitCost"`
	Value    decimal.Decimal `json:"value"`
}

// ValuationReport is a point-in-time valuation of all stock on hand.
type ValuationReport struct {
	Method     string          `json:"method"`
	AsOf       time.Time       `json:"asOf"`
	Lines      []ValuationLine `json:"lines"`
	TotalValue decimal.Decimal `json:"totalValue"`
}

// StockHealthLine bands one item's stock against its thresholds.
type StockHealthLine struct {
	ItemID       int64  `json:"itemId"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	CurrentStock int64  `json:"currentStock"`
	MinStock     int64  `json:"minStock"`
	ReorderLevel int64  `json:"reorderLevel"`
	Status       string `json:"status"`
}

// WastageLine aggregates the stock written off for one item in a month.
type WastageLine struct {
	ItemID   int64           `json:"itemId"`
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Quantity int64           `json:"quantity"`
	Value    decimal.Decimal `json:"value"`
}

// WastageReport sums WASTAGE adjustments for one calendar month.
type WastageReport struct {
	Month string        `json:"month"`
	Lines []WastageLine `json:"lines"`
}

// SupplierPerformance summarises delivery behaviour per supplier.
type SupplierPerformance struct {
	SupplierID      int64   `json:"supplierId"`
	Name            string  `json:"name"`
	POCount         int64   `json:"poCount"`
	ClosedCount     int64   `json:"closedCount"`
	ReceivedRatio   float64 `json:"receivedRatio"`
	AvgLeadTimeDays float64 `json:"avgLeadTimeDays"`
}

// BatchSnapshot is the repository's view of one live batch, joined with
// its item, used by expiry scanning and valuation.
type BatchSnapshot struct {
	BatchID     int64
	ItemID      int64
	ItemCode    string
	ItemName    string
	BatchNumber string
	Quantity    int64
	UnitCost    decimal.Decimal
	ExpiryDate  *time.Time
}

// ItemStock is the repository's view of one item's aggregate stock.
type ItemStock struct {
	ItemID       int64
	Code         string
	Name         string
	CurrentStock int64
	MinStock     int64
	ReorderLevel int64
}

// HealthStatus bands current stock against the item's thresholds.
func HealthStatus(current, minStock, reorderLevel int64) string {
	switch {
	case current <= 0:
		return HealthOut
	case current < minStock:
		return HealthLow
	case current <= reorderLevel:
		return HealthReorder
	default:
		return HealthOK
	}
}
