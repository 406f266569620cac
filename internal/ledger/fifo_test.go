package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quartermaster-erp/quartermaster/internal/shared"
)

func datePtr(t *testing.T, value string) *time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", value)
	require.NoError(t, err)
	return &d
}

func TestPlanDeductionOrdersByExpiry(t *testing.T) {
	received := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	batches := []Batch{
		{ID: 1, Quantity: 10, ExpiryDate: datePtr(t, "2026-09-01"), ReceivedAt: received},
		{ID: 2, Quantity: 10, ExpiryDate: datePtr(t, "2026-06-01"), ReceivedAt: received},
		{ID: 3, Quantity: 10, ExpiryDate: nil, ReceivedAt: received},
	}

	draws, err := PlanDeduction(batches, 15)
	require.NoError(t, err)
	require.Len(t, draws, 2)
	require.Equal(t, int64(2), draws[0].BatchID)
	require.Equal(t, int64(10), draws[0].Quantity)
	require.Equal(t, int64(1), draws[1].BatchID)
	require.Equal(t, int64(5), draws[1].Quantity)
}

func TestPlanDeductionNilExpiryLast(t *testing.T) {
	received := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	batches := []Batch{
		{ID: 1, Quantity: 5, ExpiryDate: nil, ReceivedAt: received},
		{ID: 2, Quantity: 5, ExpiryDate: datePtr(t, "2030-01-01"), ReceivedAt: received.Add(time.Hour)},
	}

	draws, err := PlanDeduction(batches, 7)
	require.NoError(t, err)
	require.Equal(t, int64(2), draws[0].BatchID)
	require.Equal(t, int64(1), draws[1].BatchID)
	require.Equal(t, int64(2), draws[1].Quantity)
}

func TestPlanDeductionTieBreaks(t *testing.T) {
	expiry := datePtr(t, "2026-06-01")
	early := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	batches := []Batch{
		{ID: 9, Quantity: 3, ExpiryDate: expiry, ReceivedAt: late},
		{ID: 4, Quantity: 3, ExpiryDate: expiry, ReceivedAt: early},
		{ID: 2, Quantity: 3, ExpiryDate: expiry, ReceivedAt: early},
	}

	draws, err := PlanDeduction(batches, 9)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 4, 9}, []int64{draws[0].BatchID, draws[1].BatchID, draws[2].BatchID})
}

func TestPlanDeductionSkipsExhausted(t *testing.T) {
	batches := []Batch{
		{ID: 1, Quantity: 0, ExpiryDate: datePtr(t, "2026-04-01")},
		{ID: 2, Quantity: 8, ExpiryDate: datePtr(t, "2026-08-01")},
	}

	draws, err := PlanDeduction(batches, 5)
	require.NoError(t, err)
	require.Len(t, draws, 1)
	require.Equal(t, int64(2), draws[0].BatchID)
}

func TestPlanDeductionInsufficientStock(t *testing.T) {
	batches := []Batch{
		{ID: 1, Quantity: 4},
		{ID: 2, Quantity: 3},
	}

	_, err := PlanDeduction(batches, 8)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
}

func TestPlanDeductionRejectsNonPositiveQuantity(t *testing.T) {
	_, err := PlanDeduction([]Batch{{ID: 1, Quantity: 10}}, 0)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = PlanDeduction([]Batch{{ID: 1, Quantity: 10}}, -3)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func BenchmarkPlanDeduction(b *testing.B) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	batches := make([]Batch, 0, 500)
	for i := 0; i < 500; i++ {
		expiry := base.AddDate(0, 0, i%120)
		batches = append(batches, Batch{
			ID:         int64(i + 1),
			Quantity:   10,
			ExpiryDate: &expiry,
			ReceivedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := PlanDeduction(batches, 2500); err != nil {
			b.Fatal(err)
		}
	}
}

func TestPlanDeductionCarriesUnitCost(t *testing.T) {
	batches := []Batch{
		{ID: 1, Quantity: 5, UnitCost: decimal.RequireFromString("2.5000"), ExpiryDate: datePtr(t, "2026-05-01")},
	}

	draws, err := PlanDeduction(batches, 5)
	require.NoError(t, err)
	require.True(t, draws[0].UnitCost.Equal(decimal.RequireFromString("2.5")))
}
