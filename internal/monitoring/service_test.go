package monitoring

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quartermaster-erp/quartermaster/internal/shared"
)

type fakeRepo struct {
	stocks   []ItemStock
	batches  []BatchSnapshot
	wastage  []WastageLine
	perf     []SupplierPerformance
	itemHits int
}

func (f *fakeRepo) ItemStocks(ctx context.Context) ([]ItemStock, error) {
	f.itemHits++
	return f.stocks, nil
}

func (f *fakeRepo) LiveBatches(ctx context.Context) ([]BatchSnapshot, error) {
	return f.batches, nil
}

func (f *fakeRepo) ExpiringBatches(ctx context.Context, before time.Time) ([]BatchSnapshot, error) {
	var out []BatchSnapshot
	for _, b := range f.batches {
		if b.Quantity > 0 && b.ExpiryDate != nil && !b.ExpiryDate.After(before) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeRepo) WastageFor(ctx context.Context, year int, month time.Month) ([]WastageLine, error) {
	return f.wastage, nil
}

func (f *fakeRepo) SupplierPerformance(ctx context.Context) ([]SupplierPerformance, error) {
	return f.perf, nil
}

func datePtr(t time.Time) *time.Time { return &t }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestCheckReorder(t *testing.T) {
	repo := &fakeRepo{stocks: []ItemStock{
		{ItemID: 1, Code: "RICE", Name: "Rice", CurrentStock: 5, MinStock: 3, ReorderLevel: 10},
		{ItemID: 2, Code: "OIL", Name: "Oil", CurrentStock: 50, MinStock: 5, ReorderLevel: 10},
		{ItemID: 3, Code: "SALT", Name: "Salt", CurrentStock: 10, MinStock: 2, ReorderLevel: 10},
	}}
	svc := NewService(testLogger(), repo, nil)

	alerts, err := svc.CheckReorder(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	require.Equal(t, int64(1), alerts[0].ItemID)
	// boundary: currentStock == reorderLevel still alerts
	require.Equal(t, int64(3), alerts[1].ItemID)
}

func TestCheckExpiryWindowAndOrder(t *testing.T) {
	now := time.Now().UTC()
	repo := &fakeRepo{batches: []BatchSnapshot{
		{BatchID: 1, ItemID: 1, BatchNumber: "B1", Quantity: 5, ExpiryDate: datePtr(now.AddDate(0, 0, 20))},
		{BatchID: 2, ItemID: 1, BatchNumber: "B2", Quantity: 5, ExpiryDate: datePtr(now.AddDate(0, 0, 3))},
		{BatchID: 3, ItemID: 2, BatchNumber: "B3", Quantity: 5, ExpiryDate: datePtr(now.AddDate(0, 0, 90))},
		{BatchID: 4, ItemID: 2, BatchNumber: "B4", Quantity: 5},
		{BatchID: 5, ItemID: 2, BatchNumber: "B5", Quantity: 0, ExpiryDate: datePtr(now.AddDate(0, 0, 1))},
	}}
	svc := NewService(testLogger(), repo, nil)

	alerts, err := svc.CheckExpiry(context.Background(), 30)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	// ascending expiry
	require.Equal(t, int64(2), alerts[0].BatchID)
	require.Equal(t, int64(1), alerts[1].BatchID)
	require.LessOrEqual(t, alerts[0].DaysLeft, 3)
}

func valuationFixture() *fakeRepo {
	return &fakeRepo{batches: []BatchSnapshot{
		// ordered by consumption priority, as the repository returns them
		{BatchID: 1, ItemID: 1, ItemCode: "RICE", ItemName: "Rice", Quantity: 10, UnitCost: decimal.RequireFromString("2.00")},
		{BatchID: 2, ItemID: 1, ItemCode: "RICE", ItemName: "Rice", Quantity: 30, UnitCost: decimal.RequireFromString("3.00")},
		{BatchID: 3, ItemID: 2, ItemCode: "OIL", ItemName: "Oil", Quantity: 4, UnitCost: decimal.RequireFromString("12.50")},
	}}
}

func TestValuationWeightedAverage(t *testing.T) {
	svc := NewService(testLogger(), valuationFixture(), nil)

	report, err := svc.Valuation(context.Background(), MethodWeightedAverage)
	require.NoError(t, err)
	require.Len(t, report.Lines, 2)

	rice := report.Lines[0]
	require.Equal(t, int64(40), rice.Quantity)
	// (10*2 + 30*3) / 40 = 2.75
	require.True(t, rice.UnitCost.Equal(decimal.RequireFromString("2.75")), rice.UnitCost.String())
	require.True(t, rice.Value.Equal(decimal.RequireFromString("110.00")), rice.Value.String())
	require.True(t, report.TotalValue.Equal(decimal.RequireFromString("160.00")), report.TotalValue.String())
}

func TestValuationFIFOCost(t *testing.T) {
	svc := NewService(testLogger(), valuationFixture(), nil)

	report, err := svc.Valuation(context.Background(), MethodFIFOCost)
	require.NoError(t, err)
	// the next batch to be drawn prices the line
	require.True(t, report.Lines[0].UnitCost.Equal(decimal.RequireFromString("2.00")))
	require.True(t, report.TotalValue.Equal(decimal.RequireFromString("160.00")))
}

func TestValuationIdempotent(t *testing.T) {
	svc := NewService(testLogger(), valuationFixture(), nil)
	ctx := context.Background()

	first, err := svc.Valuation(ctx, MethodWeightedAverage)
	require.NoError(t, err)
	second, err := svc.Valuation(ctx, MethodWeightedAverage)
	require.NoError(t, err)
	require.Equal(t, len(first.Lines), len(second.Lines))
	require.True(t, first.TotalValue.Equal(second.TotalValue))
}

func TestValuationUnknownMethod(t *testing.T) {
	svc := NewService(testLogger(), valuationFixture(), nil)
	_, err := svc.Valuation(context.Background(), "LIFO")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestHealthStatusBands(t *testing.T) {
	require.Equal(t, HealthOut, HealthStatus(0, 5, 10))
	require.Equal(t, HealthLow, HealthStatus(3, 5, 10))
	require.Equal(t, HealthReorder, HealthStatus(7, 5, 10))
	require.Equal(t, HealthReorder, HealthStatus(10, 5, 10))
	require.Equal(t, HealthOK, HealthStatus(11, 5, 10))
}

func TestWastageMonthValidation(t *testing.T) {
	svc := NewService(testLogger(), &fakeRepo{}, nil)
	_, err := svc.Wastage(context.Background(), "August 2026")
	require.ErrorIs(t, err, shared.ErrValidation)

	report, err := svc.Wastage(context.Background(), "2026-08")
	require.NoError(t, err)
	require.Equal(t, "2026-08", report.Month)
}

func TestCachedScanServesSnapshotUntilBump(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCache(client, time.Minute)

	repo := &fakeRepo{stocks: []ItemStock{
		{ItemID: 1, Code: "RICE", Name: "Rice", CurrentStock: 2, MinStock: 1, ReorderLevel: 10},
	}}
	svc := NewService(testLogger(), repo, cache)
	ctx := context.Background()

	alerts, err := svc.CheckReorder(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, 1, repo.itemHits)

	// second call is served from the snapshot
	_, err = svc.CheckReorder(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, repo.itemHits)

	require.NoError(t, cache.Bump(ctx))
	_, err = svc.CheckReorder(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, repo.itemHits)
}

func TestRefreshScansStoresSnapshots(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCache(client, time.Minute)

	repo := &fakeRepo{stocks: []ItemStock{
		{ItemID: 1, Code: "RICE", Name: "Rice", CurrentStock: 0, MinStock: 1, ReorderLevel: 5},
	}}
	svc := NewService(testLogger(), repo, cache)
	ctx := context.Background()

	require.NoError(t, svc.RefreshScans(ctx))
	hits := repo.itemHits

	// handlers now read the stored snapshot without rescanning
	alerts, err := svc.CheckReorder(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, hits, repo.itemHits)
}
