package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/quartermaster-erp/quartermaster/internal/shared"
)

// DefaultExpiryWindowDays is the scan window used when the caller does not
// supply one.
const DefaultExpiryWindowDays = 30

// RepositoryPort describes the read queries monitoring runs. Every method
// reads a single consistent snapshot; none mutates.
type RepositoryPort interface {
	ItemStocks(ctx context.Context) ([]ItemStock, error)
	LiveBatches(ctx context.Context) ([]BatchSnapshot, error)
	ExpiringBatches(ctx context.Context, before time.Time) ([]BatchSnapshot, error)
	WastageFor(ctx context.Context, year int, month time.Month) ([]WastageLine, error)
	SupplierPerformance(ctx context.Context) ([]SupplierPerformance, error)
}

// Service runs reorder/expiry scans, valuation and the derived reports,
// serving cached snapshots when they are fresh.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
	cache  *Cache
}

// NewService constructs a monitoring service. cache may be nil.
func NewService(logger *slog.Logger, repo RepositoryPort, cache *Cache) *Service {
	return &Service{logger: logger, repo: repo, cache: cache}
}

// CheckReorder returns every item whose current stock is at or below its
// reorder level.
func (s *Service) CheckReorder(ctx context.Context) ([]ReorderAlert, error) {
	key, err := s.cache.BuildKey(ctx, "monitoring", "reorder")
	if err != nil {
		return nil, err
	}
	var alerts []ReorderAlert
	err = s.cache.FetchJSON(ctx, key, &alerts, func(ctx context.Context) (any, error) {
		return s.scanReorder(ctx)
	})
	return alerts, err
}

func (s *Service) scanReorder(ctx context.Context) ([]ReorderAlert, error) {
	stocks, err := s.repo.ItemStocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("monitoring: reorder scan: %w", err)
	}
	alerts := make([]ReorderAlert, 0)
	for _, st := range stocks {
		if st.CurrentStock <= st.ReorderLevel {
			alerts = append(alerts, ReorderAlert{
				ItemID:       st.ItemID,
				Code:         st.Code,
				Name:         st.Name,
				CurrentStock: st.CurrentStock,
				ReorderLevel: st.ReorderLevel,
				MinStock:     st.MinStock,
			})
		}
	}
	return alerts, nil
}

// CheckExpiry returns non-exhausted batches expiring within the window,
// earliest first. withinDays <= 0 falls back to the default window.
func (s *Service) CheckExpiry(ctx context.Context, withinDays int) ([]ExpiryAlert, error) {
	if withinDays <= 0 {
		withinDays = DefaultExpiryWindowDays
	}
	key, err := s.cache.BuildKey(ctx, "monitoring", "expiry", strconv.Itoa(withinDays))
	if err != nil {
		return nil, err
	}
	var alerts []ExpiryAlert
	err = s.cache.FetchJSON(ctx, key, &alerts, func(ctx context.Context) (any, error) {
		return s.scanExpiry(ctx, withinDays)
	})
	return alerts, err
}

func (s *Service) scanExpiry(ctx context.Context, withinDays int) ([]ExpiryAlert, error) {
	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, withinDays)
	batches, err := s.repo.ExpiringBatches(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("monitoring: expiry scan: %w", err)
	}
	alerts := make([]ExpiryAlert, 0, len(batches))
	for _, b := range batches {
		if b.ExpiryDate == nil {
			continue
		}
		alerts = append(alerts, ExpiryAlert{
			BatchID:     b.BatchID,
			ItemID:      b.ItemID,
			ItemName:    b.ItemName,
			BatchNumber: b.BatchNumber,
			Quantity:    b.Quantity,
			ExpiryDate:  *b.ExpiryDate,
			DaysLeft:    int(b.ExpiryDate.Sub(now).Hours() / 24),
		})
	}
	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].ExpiryDate.Before(alerts[j].ExpiryDate) })
	return alerts, nil
}

// Valuation values all stock on hand. Weighted-average prices each item at
// the quantity-weighted mean cost of its batches; FIFO-cost prices it at
// the cost of the batch next in line for consumption. Both methods value
// the same snapshot, so repeating the call yields the same report.
func (s *Service) Valuation(ctx context.Context, method string) (ValuationReport, error) {
	if method == "" {
		method = MethodWeightedAverage
	}
	if method != MethodWeightedAverage && method != MethodFIFOCost {
		return ValuationReport{}, fmt.Errorf("%w: unknown valuation method %q", shared.ErrValidation, method)
	}
	key, err := s.cache.BuildKey(ctx, "monitoring", "valuation", method)
	if err != nil {
		return ValuationReport{}, err
	}
	var report ValuationReport
	err = s.cache.FetchJSON(ctx, key, &report, func(ctx context.Context) (any, error) {
		return s.computeValuation(ctx, method)
	})
	return report, err
}

func (s *Service) computeValuation(ctx context.Context, method string) (ValuationReport, error) {
	batches, err := s.repo.LiveBatches(ctx)
	if err != nil {
		return ValuationReport{}, fmt.Errorf("monitoring: valuation: %w", err)
	}

	type bucket struct {
		line  ValuationLine
		first BatchSnapshot
	}
	buckets := make(map[int64]*bucket)
	var order []int64
	for _, b := range batches {
		bk, ok := buckets[b.ItemID]
		if !ok {
			bk = &bucket{line: ValuationLine{ItemID: b.ItemID, Code: b.ItemCode, Name: b.ItemName}, first: b}
			buckets[b.ItemID] = bk
			order = append(order, b.ItemID)
		}
		bk.line.Quantity += b.Quantity
		bk.line.Value = bk.line.Value.Add(b.UnitCost.Mul(decimal.NewFromInt(b.Quantity)))
	}

	report := ValuationReport{Method: method, AsOf: time.Now().UTC()}
	for _, itemID := range order {
		bk := buckets[itemID]
		switch method {
		case MethodWeightedAverage:
			if bk.line.Quantity > 0 {
				bk.line.UnitCost = bk.line.Value.Div(decimal.NewFromInt(bk.line.Quantity)).Round(4)
			}
		case MethodFIFOCost:
			// LiveBatches is ordered by consumption priority, so the
			// first batch seen per item is the next one drawn.
			bk.line.UnitCost = bk.first.UnitCost
		}
		report.Lines = append(report.Lines, bk.line)
		report.TotalValue = report.TotalValue.Add(bk.line.Value)
	}
	sort.SliceStable(report.Lines, func(i, j int) bool { return report.Lines[i].ItemID < report.Lines[j].ItemID })
	return report, nil
}

// StockHealth bands every item's stock against its thresholds.
func (s *Service) StockHealth(ctx context.Context) ([]StockHealthLine, error) {
	key, err := s.cache.BuildKey(ctx, "monitoring", "stock-health")
	if err != nil {
		return nil, err
	}
	var lines []StockHealthLine
	err = s.cache.FetchJSON(ctx, key, &lines, func(ctx context.Context) (any, error) {
		stocks, err := s.repo.ItemStocks(ctx)
		if err != nil {
			return nil, fmt.Errorf("monitoring: stock health: %w", err)
		}
		out := make([]StockHealthLine, 0, len(stocks))
		for _, st := range stocks {
			out = append(out, StockHealthLine{
				ItemID:       st.ItemID,
				Code:         st.Code,
				Name:         st.Name,
				CurrentStock: st.CurrentStock,
				MinStock:     st.MinStock,
				ReorderLevel: st.ReorderLevel,
				Status:       HealthStatus(st.CurrentStock, st.MinStock, st.ReorderLevel),
			})
		}
		return out, nil
	})
	return lines, err
}

// Wastage sums WASTAGE write-offs for one calendar month ("2006-01").
// An empty month means the current one.
func (s *Service) Wastage(ctx context.Context, month string) (WastageReport, error) {
	var year int
	var m time.Month
	if month == "" {
		now := time.Now().UTC()
		year, m = now.Year(), now.Month()
		month = now.Format("2006-01")
	} else {
		parsed, err := time.Parse("2006-01", month)
		if err != nil {
			return WastageReport{}, fmt.Errorf("%w: month must be YYYY-MM", shared.ErrValidation)
		}
		year, m = parsed.Year(), parsed.Month()
	}
	key, err := s.cache.BuildKey(ctx, "monitoring", "wastage", month)
	if err != nil {
		return WastageReport{}, err
	}
	var report WastageReport
	err = s.cache.FetchJSON(ctx, key, &report, func(ctx context.Context) (any, error) {
		lines, err := s.repo.WastageFor(ctx, year, m)
		if err != nil {
			return nil, fmt.Errorf("monitoring: wastage report: %w", err)
		}
		return WastageReport{Month: month, Lines: lines}, nil
	})
	return report, err
}

// SupplierReport summarises PO fulfilment per supplier.
func (s *Service) SupplierReport(ctx context.Context) ([]SupplierPerformance, error) {
	key, err := s.cache.BuildKey(ctx, "monitoring", "supplier-performance")
	if err != nil {
		return nil, err
	}
	var perf []SupplierPerformance
	err = s.cache.FetchJSON(ctx, key, &perf, func(ctx context.Context) (any, error) {
		out, err := s.repo.SupplierPerformance(ctx)
		if err != nil {
			return nil, fmt.Errorf("monitoring: supplier performance: %w", err)
		}
		return out, nil
	})
	return perf, err
}

// RefreshScans recomputes the reorder and default-window expiry snapshots
// and stores them under the keys the handlers read. Called from the
// background worker on a schedule.
func (s *Service) RefreshScans(ctx context.Context) error {
	var reorder []ReorderAlert
	var expiry []ExpiryAlert

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		alerts, err := s.scanReorder(gctx)
		if err != nil {
			return err
		}
		key, err := s.cache.BuildKey(gctx, "monitoring", "reorder")
		if err != nil {
			return err
		}
		reorder = alerts
		return s.cache.Store(gctx, key, alerts)
	})
	g.Go(func() error {
		alerts, err := s.scanExpiry(gctx, DefaultExpiryWindowDays)
		if err != nil {
			return err
		}
		key, err := s.cache.BuildKey(gctx, "monitoring", "expiry", strconv.Itoa(DefaultExpiryWindowDays))
		if err != nil {
			return err
		}
		expiry = alerts
		return s.cache.Store(gctx, key, alerts)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Info("monitoring snapshots refreshed",
		slog.Int("reorder_alerts", len(reorder)),
		slog.Int("expiry_alerts", len(expiry)))
	return nil
}
