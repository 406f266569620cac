package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quartermaster-erp/quartermaster/internal/shared"
)

type fakeRepo struct {
	entries []Entry
}

func (f *fakeRepo) match(e Entry, filters TimelineFilters) bool {
	if filters.ActorID != 0 && e.ActorID != filters.ActorID {
		return false
	}
	if filters.Entity != "" && e.Entity != filters.Entity {
		return false
	}
	if filters.EntityID != "" && e.EntityID != filters.EntityID {
		return false
	}
	if filters.Action != "" && e.Action != filters.Action {
		return false
	}
	if !filters.From.IsZero() && e.OccurredAt.Before(filters.From) {
		return false
	}
	if !filters.To.IsZero() && e.OccurredAt.After(filters.To) {
		return false
	}
	return true
}

func (f *fakeRepo) Timeline(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, int, error) {
	var all []Entry
	for _, e := range f.entries {
		if f.match(e, filters) {
			all = append(all, e)
		}
	}
	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (f *fakeRepo) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if len(f.entries) > limit {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func fixtureEntries() []Entry {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return []Entry{
		{ID: 3, ActorID: 7, Action: "GRN_RECEIVE", Entity: "goods_receipt", EntityID: "31", OccurredAt: base.Add(2 * time.Hour)},
		{ID: 2, ActorID: 7, Action: "PO_APPROVE", Entity: "purchase_order", EntityID: "12", OccurredAt: base.Add(time.Hour)},
		{ID: 1, ActorID: 4, Action: "PR_CREATE", Entity: "purchase_requisition", EntityID: "5", OccurredAt: base},
	}
}

func TestTimelineFilters(t *testing.T) {
	svc := NewService(&fakeRepo{entries: fixtureEntries()})
	ctx := context.Background()

	result, err := svc.Timeline(ctx, TimelineFilters{ActorID: 7})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.Equal(t, 2, result.Paging.Total)

	result, err = svc.Timeline(ctx, TimelineFilters{Entity: "purchase_order"})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.Equal(t, "PO_APPROVE", result.Rows[0].Action)

	result, err = svc.Timeline(ctx, TimelineFilters{
		From: time.Date(2026, 8, 1, 13, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.Equal(t, int64(3), result.Rows[0].ID)
}

func TestTimelinePaging(t *testing.T) {
	svc := NewService(&fakeRepo{entries: fixtureEntries()})

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.Equal(t, 3, result.Paging.Total)
	require.Equal(t, 2, result.Paging.TotalPages)
}

func TestTimelineInvertedRange(t *testing.T) {
	svc := NewService(&fakeRepo{entries: fixtureEntries()})
	_, err := svc.Timeline(context.Background(), TimelineFilters{
		From: time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRecentCapsLimit(t *testing.T) {
	entries := fixtureEntries()
	svc := NewService(&fakeRepo{entries: entries})

	rows, err := svc.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rows, err = svc.Recent(context.Background(), -1)
	require.NoError(t, err)
	require.Len(t, rows, len(entries))
}
