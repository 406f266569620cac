package issuance

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quartermaster-erp/quartermaster/internal/ledger"
	"github.com/quartermaster-erp/quartermaster/internal/shared"
)

type memoryState struct {
	nextID      int64
	issues      map[int64]IssueRequest
	lines       []IssueLine
	drawdowns   []Drawdown
	consumption []ConsumptionRecord
	batches     map[int64]ledger.Batch
	audits      []shared.AuditEntry
}

func newMemoryState() *memoryState {
	return &memoryState{
		issues:  make(map[int64]IssueRequest),
		batches: make(map[int64]ledger.Batch),
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	c.nextID = s.nextID
	for id, req := range s.issues {
		c.issues[id] = req
	}
	for id, b := range s.batches {
		c.batches[id] = b
	}
	c.lines = append(c.lines, s.lines...)
	c.drawdowns = append(c.drawdowns, s.drawdowns...)
	c.consumption = append(c.consumption, s.consumption...)
	c.audits = append(c.audits, s.audits...)
	return c
}

func (s *memoryState) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memoryState) linesOf(issueID int64) []IssueLine {
	var lines []IssueLine
	for _, line := range s.lines {
		if line.IssueID == issueID {
			lines = append(lines, line)
		}
	}
	return lines
}

type memoryRepo struct {
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: newMemoryState()}
}

// WithTx runs fn against a cloned state and commits it only on success,
// mirroring transactional rollback.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	work := r.state.clone()
	if err := fn(ctx, &memoryTx{state: work}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *memoryRepo) GetIssue(ctx context.Context, id int64) (IssueRequest, []IssueLine, []Drawdown, error) {
	req, ok := r.state.issues[id]
	if !ok {
		return IssueRequest{}, nil, nil, shared.ErrNotFound
	}
	lines := r.state.linesOf(id)
	lineIDs := make(map[int64]bool, len(lines))
	for _, line := range lines {
		lineIDs[line.ID] = true
	}
	var dds []Drawdown
	for _, dd := range r.state.drawdowns {
		if lineIDs[dd.IssueLineID] {
			dds = append(dds, dd)
		}
	}
	return req, lines, dds, nil
}

func (r *memoryRepo) ListIssues(ctx context.Context, filter ListFilter) ([]IssueRequest, int, error) {
	var reqs []IssueRequest
	for _, req := range r.state.issues {
		if filter.Status == "" || string(req.Status) == filter.Status {
			reqs = append(reqs, req)
		}
	}
	return reqs, len(reqs), nil
}

func (r *memoryRepo) ListConsumption(ctx context.Context, itemID int64, filter ListFilter) ([]ConsumptionRecord, int, error) {
	var recs []ConsumptionRecord
	for _, rec := range r.state.consumption {
		if itemID == 0 || rec.ItemID == itemID {
			recs = append(recs, rec)
		}
	}
	return recs, len(recs), nil
}

type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) CreateIssue(ctx context.Context, req IssueRequest) (int64, error) {
	req.ID = t.state.id()
	t.state.issues[req.ID] = req
	return req.ID, nil
}

func (t *memoryTx) InsertIssueLine(ctx context.Context, line IssueLine) (int64, error) {
	line.ID = t.state.id()
	t.state.lines = append(t.state.lines, line)
	return line.ID, nil
}

func (t *memoryTx) GetIssueForUpdate(ctx context.Context, id int64) (IssueRequest, []IssueLine, error) {
	req, ok := t.state.issues[id]
	if !ok {
		return IssueRequest{}, nil, shared.ErrNotFound
	}
	return req, t.state.linesOf(id), nil
}

func (t *memoryTx) SetIssueStatus(ctx context.Context, id int64, status IssueStatus, at time.Time, actorID int64) error {
	req := t.state.issues[id]
	req.Status = status
	switch status {
	case IssueStatusIssued:
		req.IssuedBy = &actorID
		req.IssuedAt = &at
	case IssueStatusCancelled:
		req.CancelledAt = &at
	}
	t.state.issues[id] = req
	return nil
}

func (t *memoryTx) InsertDrawdown(ctx context.Context, dd Drawdown) error {
	dd.ID = t.state.id()
	t.state.drawdowns = append(t.state.drawdowns, dd)
	return nil
}

func (t *memoryTx) InsertConsumption(ctx context.Context, rec ConsumptionRecord) (int64, error) {
	rec.ID = t.state.id()
	t.state.consumption = append(t.state.consumption, rec)
	return rec.ID, nil
}

func (t *memoryTx) Ledger() ledger.BatchTx {
	return &memoryBatchTx{state: t.state}
}

func (t *memoryTx) AppendAudit(ctx context.Context, entry shared.AuditEntry) error {
	t.state.audits = append(t.state.audits, entry)
	return nil
}

type memoryBatchTx struct {
	state *memoryState
}

func (t *memoryBatchTx) ListItemBatchesForUpdate(ctx context.Context, itemID, locationID int64) ([]ledger.Batch, error) {
	var batches []ledger.Batch
	for _, b := range t.state.batches {
		if b.ItemID == itemID && (locationID == 0 || b.LocationID == locationID) {
			batches = append(batches, b)
		}
	}
	return batches, nil
}

func (t *memoryBatchTx) GetBatchForUpdate(ctx context.Context, batchID int64) (ledger.Batch, error) {
	b, ok := t.state.batches[batchID]
	if !ok {
		return ledger.Batch{}, shared.ErrNotFound
	}
	return b, nil
}

func (t *memoryBatchTx) InsertBatch(ctx context.Context, batch ledger.Batch) (int64, error) {
	batch.ID = t.state.id()
	t.state.batches[batch.ID] = batch
	return batch.ID, nil
}

func (t *memoryBatchTx) SetBatchQuantity(ctx context.Context, batchID, quantity int64) error {
	b, ok := t.state.batches[batchID]
	if !ok {
		return shared.ErrNotFound
	}
	b.Quantity = quantity
	t.state.batches[batchID] = b
	return nil
}

func (t *memoryBatchTx) InsertAdjustment(ctx context.Context, adj ledger.StockAdjustment) (int64, error) {
	return t.state.id(), nil
}

func (t *memoryBatchTx) AppendAudit(ctx context.Context, entry shared.AuditEntry) error {
	t.state.audits = append(t.state.audits, entry)
	return nil
}

type fakeCatalog struct{}

func (fakeCatalog) ItemExists(ctx context.Context, id int64) (bool, error)       { return id < 900, nil }
func (fakeCatalog) DepartmentExists(ctx context.Context, id int64) (bool, error) { return id < 900, nil }

var testActor = shared.Actor{ID: 5, Role: "storekeeper"}

func seedBatch(repo *memoryRepo, itemID int64, qty int64, expiry *time.Time, receivedAt time.Time) int64 {
	id := repo.state.id()
	repo.state.batches[id] = ledger.Batch{
		ID:          id,
		ItemID:      itemID,
		LocationID:  1,
		BatchNumber: "SEED-" + time.Now().Format("150405.000000000"),
		Quantity:    qty,
		UnitCost:    decimal.NewFromInt(10),
		ExpiryDate:  expiry,
		ReceivedAt:  receivedAt,
	}
	return id
}

func datePtr(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func pendingIssue(t *testing.T, svc *Service, lines []IssueLineInput) IssueRequest {
	t.Helper()
	req, err := svc.CreateIssue(context.Background(), CreateIssueInput{
		DepartmentID: 2,
		Lines:        lines,
		Actor:        testActor,
	})
	require.NoError(t, err)
	require.Equal(t, IssueStatusPending, req.Status)
	return req
}

func TestIssueDrawsEarliestExpiryFirst(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, fakeCatalog{})
	ctx := context.Background()

	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	late := seedBatch(repo, 1, 50, datePtr("2026-06-01"), base)
	early := seedBatch(repo, 1, 30, datePtr("2026-03-01"), base.Add(time.Hour))

	req := pendingIssue(t, svc, []IssueLineInput{{ItemID: 1, Quantity: 40}})
	drawdowns, err := svc.Issue(ctx, req.ID, testActor)
	require.NoError(t, err)
	require.Len(t, drawdowns, 2)

	// earliest expiry drains first, the rest comes from the later batch
	require.Equal(t, early, drawdowns[0].BatchID)
	require.Equal(t, int64(30), drawdowns[0].Quantity)
	require.Equal(t, late, drawdowns[1].BatchID)
	require.Equal(t, int64(10), drawdowns[1].Quantity)

	require.Equal(t, int64(0), repo.state.batches[early].Quantity)
	require.Equal(t, int64(40), repo.state.batches[late].Quantity)

	got, _, dds, err := svc.GetIssue(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, IssueStatusIssued, got.Status)
	require.NotNil(t, got.IssuedAt)
	require.Len(t, dds, 2)
}

func TestIssueAllOrNothing(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, fakeCatalog{})
	ctx := context.Background()

	now := time.Now().UTC()
	b1 := seedBatch(repo, 1, 100, nil, now)
	seedBatch(repo, 2, 5, nil, now)

	req := pendingIssue(t, svc, []IssueLineInput{
		{ItemID: 1, Quantity: 60},
		{ItemID: 2, Quantity: 6}, // more than available
	})

	_, err := svc.Issue(ctx, req.ID, testActor)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	// the first line's deduction must not stick
	require.Equal(t, int64(100), repo.state.batches[b1].Quantity)
	got, _, dds, err := svc.GetIssue(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, IssueStatusPending, got.Status)
	require.Empty(t, dds)

	// retry succeeds once stock suffices
	seedBatch(repo, 2, 10, nil, now)
	_, err = svc.Issue(ctx, req.ID, testActor)
	require.NoError(t, err)
}

func TestIssueOnlyFromPending(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, fakeCatalog{})
	ctx := context.Background()

	seedBatch(repo, 1, 100, nil, time.Now().UTC())
	req := pendingIssue(t, svc, []IssueLineInput{{ItemID: 1, Quantity: 10}})

	_, err := svc.Issue(ctx, req.ID, testActor)
	require.NoError(t, err)

	_, err = svc.Issue(ctx, req.ID, testActor)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.ErrorIs(t, svc.Cancel(ctx, req.ID, testActor), shared.ErrInvalidTransition)
}

func TestCancelPendingIssue(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, fakeCatalog{})
	ctx := context.Background()

	req := pendingIssue(t, svc, []IssueLineInput{{ItemID: 1, Quantity: 10}})
	require.NoError(t, svc.Cancel(ctx, req.ID, testActor))

	got, _, _, err := svc.GetIssue(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, IssueStatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)

	// a cancelled request can no longer be issued
	_, err = svc.Issue(ctx, req.ID, testActor)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestRecordConsumptionVariance(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, fakeCatalog{})
	ctx := context.Background()

	rec, err := svc.RecordConsumption(ctx, ConsumptionInput{
		DepartmentID:   2,
		ItemID:         1,
		TheoreticalQty: 50,
		ActualQty:      47,
		Note:           "evening count",
		Actor:          testActor,
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), rec.Variance)

	// consumption never touches the ledger
	require.Empty(t, repo.state.batches)

	recs, total, err := svc.ListConsumption(ctx, 1, ListFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, recs, 1)

	_, err = svc.RecordConsumption(ctx, ConsumptionInput{
		DepartmentID: 2, ItemID: 1, TheoreticalQty: -1, Actor: testActor,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}
