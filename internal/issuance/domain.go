// Package issuance hands stock out of the ledger: departments raise issue
// requests, issuing deducts batches FIFO-by-expiry, and consumption records
// track what was actually used against what was issued.
package issuance

import (
	"time"

	"github.com/shopspring/decimal"
)

// IssueStatus enumerates issue request states. Issued and cancelled are
// terminal.
type IssueStatus string

const (
	IssueStatusPending   IssueStatus = "pending"
	IssueStatusIssued    IssueStatus = "issued"
	IssueStatusCancelled IssueStatus = "cancelled"
)

// IssueRequest asks for stock on behalf of a department. LocationID scopes
// which store the stock is drawn from; zero draws from any location.
type IssueRequest struct {
	ID           int64
	Number       string
	DepartmentID int64
	LocationID   int64
	Status       IssueStatus
	RequestedBy  int64
	Note         string
	IssuedBy     *int64
	IssuedAt     *time.Time
	CancelledAt  *time.Time
	CreatedAt    time.Time
}

// IssueLine is one requested item.
type IssueLine struct {
	ID       int64
	IssueID  int64
	ItemID   int64
	Quantity int64
}

// Drawdown records which batch satisfied how much of an issue line, at
// which unit cost. Written when the request is issued; never updated.
type Drawdown struct {
	ID          int64
	IssueLineID int64
	BatchID     int64
	Quantity    int64
	UnitCost    decimal.Decimal
}

// ConsumptionRecord compares what a department reports using against what
// was theoretically available. Variance = theoretical - actual. Recording
// consumption never touches the batch ledger.
type ConsumptionRecord struct {
	ID             int64
	DepartmentID   int64
	ItemID         int64
	TheoreticalQty int64
	ActualQty      int64
	Variance       int64
	Note           string
	RecordedBy     int64
	RecordedAt     time.Time
}

// ListFilter filters paginated issue listings.
type ListFilter struct {
	Status string
	Page   int
	Limit  int
}
