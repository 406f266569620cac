// Package audit is the query side of the audit trail. Entries are written
// by the other modules inside their own transactions; this package only
// reads the append-only log back as a filtered timeline.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/quartermaster-erp/quartermaster/internal/shared"
)

// TimelineFilters narrows the audit timeline. Zero values mean no filter.
type TimelineFilters struct {
	ActorID  int64
	Entity   string
	EntityID string
	Action   string
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// Entry is one audit log row as read back from storage.
type Entry struct {
	ID         int64          `json:"id"`
	ActorID    int64          `json:"actorId"`
	ActorRole  string         `json:"actorRole"`
	Action     string         `json:"action"`
	Entity     string         `json:"entity"`
	EntityID   string         `json:"entityId"`
	Meta       map[string]any `json:"meta,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Result wraps a timeline page with its paging info.
type Result struct {
	Rows   []Entry
	Paging shared.Pagination
}

// RepositoryPort describes the timeline queries.
type RepositoryPort interface {
	Timeline(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, int, error)
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// Service coordinates audit timeline reads.
type Service struct {
	repo RepositoryPort
}

// NewService constructs an audit query service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of the filtered audit timeline, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if !filters.From.IsZero() && !filters.To.IsZero() && filters.To.Before(filters.From) {
		return Result{}, fmt.Errorf("%w: date range is inverted", shared.ErrValidation)
	}
	page := shared.NewPagination(filters.Page, filters.PageSize, 0)
	rows, total, err := s.repo.Timeline(ctx, filters, page.PerPage, page.Offset())
	if err != nil {
		return Result{}, fmt.Errorf("audit: timeline: %w", err)
	}
	return Result{Rows: rows, Paging: shared.NewPagination(filters.Page, filters.PageSize, total)}, nil
}

// Recent returns the latest entries for the activity feed.
func (s *Service) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	rows, err := s.repo.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: recent activity: %w", err)
	}
	return rows, nil
}
