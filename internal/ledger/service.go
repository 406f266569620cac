package ledger

import (
	"context"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, BatchTx) error) error
	CurrentStock(ctx context.Context, itemID, locationID int64) (int64, error)
	ListItemBatches(ctx context.Context, itemID int64) ([]Batch, error)
	GetBatch(ctx context.Context, batchID int64) (Batch, error)
}

// MetricsPort counts ledger mutation outcomes.
type MetricsPort interface {
	ObserveLedgerOp(op string, err error)
}

// Service coordinates ledger operations. All mutations run inside a single
// repository transaction together with their audit entries.
type Service struct {
	repo    RepositoryPort
	metrics MetricsPort
}

// NewService builds a Service. metrics may be nil.
func NewService(repo RepositoryPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, metrics: metrics}
}

// CreateBatch inserts a single batch.
func (s *Service) CreateBatch(ctx context.Context, input CreateBatchInput) (Batch, error) {
	var batch Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx BatchTx) error {
		var err error
		batch, err = CreateBatchTx(ctx, tx, input)
		return err
	})
	s.observe("create_batch", err)
	if err != nil {
		return Batch{}, err
	}
	return batch, nil
}

// CreateBatchSet inserts several batches in one transaction. Any failing
// line aborts the whole set.
func (s *Service) CreateBatchSet(ctx context.Context, inputs []CreateBatchInput) ([]Batch, error) {
	var batches []Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx BatchTx) error {
		batches = batches[:0]
		for _, input := range inputs {
			batch, err := CreateBatchTx(ctx, tx, input)
			if err != nil {
				return err
			}
			batches = append(batches, batch)
		}
		return nil
	})
	s.observe("create_batch_set", err)
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// Deduct draws stock from the item's batches FIFO-by-expiry and returns the
// per-batch draw-down. On insufficient stock nothing is mutated.
func (s *Service) Deduct(ctx context.Context, input DeductInput) ([]BatchDraw, error) {
	var draws []BatchDraw
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx BatchTx) error {
		var err error
		draws, err = DeductTx(ctx, tx, input)
		return err
	})
	s.observe("deduct", err)
	if err != nil {
		return nil, err
	}
	return draws, nil
}

// Adjust applies a signed quantity delta to one batch.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (Batch, error) {
	var batch Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx BatchTx) error {
		var err error
		batch, err = AdjustTx(ctx, tx, input)
		return err
	})
	s.observe("adjust", err)
	if err != nil {
		return Batch{}, err
	}
	return batch, nil
}

// CurrentStock sums non-exhausted batch quantities for the item, scoped to
// a location when locationID is non-zero.
func (s *Service) CurrentStock(ctx context.Context, itemID, locationID int64) (int64, error) {
	return s.repo.CurrentStock(ctx, itemID, locationID)
}

// ItemBatches lists every batch of the item, exhausted ones included.
func (s *Service) ItemBatches(ctx context.Context, itemID int64) ([]Batch, error) {
	return s.repo.ListItemBatches(ctx, itemID)
}

// GetBatch fetches one batch by id.
func (s *Service) GetBatch(ctx context.Context, batchID int64) (Batch, error) {
	return s.repo.GetBatch(ctx, batchID)
}

func (s *Service) observe(op string, err error) {
	if s.metrics != nil {
		s.metrics.ObserveLedgerOp(op, err)
	}
}
