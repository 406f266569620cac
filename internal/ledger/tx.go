package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/quartermaster-erp/quartermaster/internal/shared"
)

// BatchTx exposes the batch mutations available inside one unit of work.
// Other modules (goods receipt, issuance) obtain a BatchTx bound to their
// own transaction so that ledger effects commit or roll back together with
// the workflow records that caused them.
type BatchTx interface {
	// ListItemBatchesForUpdate locks and returns every batch of the item,
	// scoped to a location when locationID is non-zero. Locking the item's
	// rows serialises concurrent deductions against the same stock.
	ListItemBatchesForUpdate(ctx context.Context, itemID, locationID int64) ([]Batch, error)
	GetBatchForUpdate(ctx context.Context, batchID int64) (Batch, error)
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
	SetBatchQuantity(ctx context.Context, batchID, quantity int64) error
	InsertAdjustment(ctx context.Context, adj StockAdjustment) (int64, error)
	shared.AuditAppender
}

// CreateBatchTx validates and inserts one batch, appending its audit entry
// in the same unit of work.
func CreateBatchTx(ctx context.Context, tx BatchTx, input CreateBatchInput) (Batch, error) {
	if input.ItemID == 0 || input.LocationID == 0 {
		return Batch{}, fmt.Errorf("%w: item and location required", shared.ErrValidation)
	}
	if strings.TrimSpace(input.BatchNumber) == "" {
		return Batch{}, fmt.Errorf("%w: batch number required", shared.ErrValidation)
	}
	if input.Quantity <= 0 {
		return Batch{}, fmt.Errorf("%w: batch quantity must be positive", shared.ErrValidation)
	}
	if input.UnitCost.IsNegative() {
		return Batch{}, fmt.Errorf("%w: unit cost must not be negative", shared.ErrValidation)
	}

	now := time.Now().UTC()
	batch := Batch{
		ItemID:      input.ItemID,
		LocationID:  input.LocationID,
		BatchNumber: strings.TrimSpace(input.BatchNumber),
		Quantity:    input.Quantity,
		UnitCost:    input.UnitCost,
		ExpiryDate:  input.ExpiryDate,
		ReceivedAt:  now,
		CreatedAt:   now,
	}
	id, err := tx.InsertBatch(ctx, batch)
	if err != nil {
		return Batch{}, err
	}
	batch.ID = id

	entry := shared.AuditEntry{
		ActorID:   input.ActorID,
		ActorRole: input.ActorRole,
		Action:    "BATCH_CREATE",
		Entity:    "stock_batch",
		EntityID:  strconv.FormatInt(id, 10),
		Meta: map[string]any{
			"item_id":      batch.ItemID,
			"location_id":  batch.LocationID,
			"batch_number": batch.BatchNumber,
			"quantity":     batch.Quantity,
			"unit_cost":    batch.UnitCost.String(),
			"ref_module":   input.RefModule,
			"ref_id":       input.RefID,
		},
	}
	if err := tx.AppendAudit(ctx, entry); err != nil {
		return Batch{}, fmt.Errorf("ledger: audit batch create: %w", err)
	}
	return batch, nil
}

// DeductTx draws the requested quantity from the item's batches under the
// FIFO-by-expiry policy. The draw is all-or-nothing: on insufficient stock
// no batch is touched.
func DeductTx(ctx context.Context, tx BatchTx, input DeductInput) ([]BatchDraw, error) {
	if input.ItemID == 0 {
		return nil, fmt.Errorf("%w: item required", shared.ErrValidation)
	}

	batches, err := tx.ListItemBatchesForUpdate(ctx, input.ItemID, input.LocationID)
	if err != nil {
		return nil, err
	}
	draws, err := PlanDeduction(batches, input.Quantity)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]Batch, len(batches))
	for _, b := range batches {
		byID[b.ID] = b
	}
	for _, draw := range draws {
		remaining := byID[draw.BatchID].Quantity - draw.Quantity
		if err := tx.SetBatchQuantity(ctx, draw.BatchID, remaining); err != nil {
			return nil, err
		}
	}

	entry := shared.AuditEntry{
		ActorID:   input.ActorID,
		ActorRole: input.ActorRole,
		Action:    "STOCK_DEDUCT",
		Entity:    "stock_item",
		EntityID:  strconv.FormatInt(input.ItemID, 10),
		Meta: map[string]any{
			"location_id": input.LocationID,
			"quantity":    input.Quantity,
			"draws":       drawMeta(draws),
			"ref_module":  input.RefModule,
			"ref_id":      input.RefID,
		},
	}
	if err := tx.AppendAudit(ctx, entry); err != nil {
		return nil, fmt.Errorf("ledger: audit deduct: %w", err)
	}
	return draws, nil
}

// AdjustTx applies a signed delta to one batch and records the adjustment
// row. The delta may not take the batch quantity below zero.
func AdjustTx(ctx context.Context, tx BatchTx, input AdjustInput) (Batch, error) {
	if input.BatchID == 0 {
		return Batch{}, fmt.Errorf("%w: batch required", shared.ErrValidation)
	}
	if input.Delta == 0 {
		return Batch{}, fmt.Errorf("%w: delta must be non-zero", shared.ErrValidation)
	}
	if !validReason(input.Reason) {
		return Batch{}, fmt.Errorf("%w: unknown adjustment reason %q", shared.ErrValidation, input.Reason)
	}

	batch, err := tx.GetBatchForUpdate(ctx, input.BatchID)
	if err != nil {
		return Batch{}, err
	}
	newQty := batch.Quantity + input.Delta
	if newQty < 0 {
		return Batch{}, fmt.Errorf("%w: batch %d holds %d, delta %d", shared.ErrNegativeResult, batch.ID, batch.Quantity, input.Delta)
	}
	if err := tx.SetBatchQuantity(ctx, batch.ID, newQty); err != nil {
		return Batch{}, err
	}
	adj := StockAdjustment{
		BatchID:    batch.ID,
		ItemID:     batch.ItemID,
		LocationID: batch.LocationID,
		Delta:      input.Delta,
		Reason:     input.Reason,
		Note:       input.Note,
		ActorID:    input.ActorID,
		CreatedAt:  time.Now().UTC(),
	}
	adjID, err := tx.InsertAdjustment(ctx, adj)
	if err != nil {
		return Batch{}, err
	}
	adj.ID = adjID

	entry := shared.AuditEntry{
		ActorID:   input.ActorID,
		ActorRole: input.ActorRole,
		Action:    "STOCK_ADJUST",
		Entity:    "stock_batch",
		EntityID:  strconv.FormatInt(batch.ID, 10),
		Meta: map[string]any{
			"item_id":       batch.ItemID,
			"delta":         input.Delta,
			"reason":        input.Reason,
			"qty_before":    batch.Quantity,
			"qty_after":     newQty,
			"adjustment_id": adjID,
		},
	}
	if err := tx.AppendAudit(ctx, entry); err != nil {
		return Batch{}, fmt.Errorf("ledger: audit adjust: %w", err)
	}
	batch.Quantity = newQty
	return batch, nil
}

func drawMeta(draws []BatchDraw) []map[string]any {
	meta := make([]map[string]any, 0, len(draws))
	for _, d := range draws {
		meta = append(meta, map[string]any{
			"batch_id": d.BatchID,
			"quantity": d.Quantity,
		})
	}
	return meta
}
