package ledger

import (
	"fmt"
	"sort"

	"github.com/quartermaster-erp/quartermaster/internal/shared"
)

// PlanDeduction selects batch draw-downs for a requested quantity under the
// FIFO-by-expiry policy: ascending expiry date, batches without an expiry
// last, ties broken by ascending receipt time then id. The input slice is
// not modified. When the eligible batches cannot cover the request the plan
// fails with ErrInsufficientStock and no draw is returned.
func PlanDeduction(batches []Batch, quantity int64) ([]BatchDraw, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: deduction quantity must be positive", shared.ErrValidation)
	}

	eligible := make([]Batch, 0, len(batches))
	var available int64
	for _, b := range batches {
		if b.Exhausted() {
			continue
		}
		eligible = append(eligible, b)
		available += b.Quantity
	}
	if available < quantity {
		return nil, fmt.Errorf("%w: requested %d, available %d", shared.ErrInsufficientStock, quantity, available)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return fifoBefore(eligible[i], eligible[j])
	})

	remaining := quantity
	draws := make([]BatchDraw, 0, len(eligible))
	for _, b := range eligible {
		if remaining == 0 {
			break
		}
		take := b.Quantity
		if take > remaining {
			take = remaining
		}
		draws = append(draws, BatchDraw{BatchID: b.ID, Quantity: take, UnitCost: b.UnitCost})
		remaining -= take
	}
	return draws, nil
}

// fifoBefore orders batches for deduction: soonest expiry first, no-expiry
// batches sort last, ties by receipt time then id so the ordering is total.
func fifoBefore(a, b Batch) bool {
	switch {
	case a.ExpiryDate == nil && b.ExpiryDate != nil:
		return false
	case a.ExpiryDate != nil && b.ExpiryDate == nil:
		return true
	case a.ExpiryDate != nil && b.ExpiryDate != nil:
		if !a.ExpiryDate.Equal(*b.ExpiryDate) {
			return a.ExpiryDate.Before(*b.ExpiryDate)
		}
	}
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		return a.ReceivedAt.Before(b.ReceivedAt)
	}
	return a.ID < b.ID
}
