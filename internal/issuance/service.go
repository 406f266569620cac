package issuance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/quartermaster-erp/quartermaster/internal/ledger"
	"github.com/quartermaster-erp/quartermaster/internal/shared"
)

// RepositoryPort describes repository operations used by the Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetIssue(ctx context.Context, id int64) (IssueRequest, []IssueLine, []Drawdown, error)
	ListIssues(ctx context.Context, filter ListFilter) ([]IssueRequest, int, error)
	ListConsumption(ctx context.Context, itemID int64, filter ListFilter) ([]ConsumptionRecord, int, error)
}

// TxRepository exposes transactional operations. Ledger returns batch
// mutations bound to the same transaction, so issuing deducts stock
// atomically with the status transition and drawdown rows.
type TxRepository interface {
	CreateIssue(ctx context.Context, req IssueRequest) (int64, error)
	InsertIssueLine(ctx context.Context, line IssueLine) (int64, error)
	GetIssueForUpdate(ctx context.Context, id int64) (IssueRequest, []IssueLine, error)
	SetIssueStatus(ctx context.Context, id int64, status IssueStatus, at time.Time, actorID int64) error
	InsertDrawdown(ctx context.Context, dd Drawdown) error
	InsertConsumption(ctx context.Context, rec ConsumptionRecord) (int64, error)

	Ledger() ledger.BatchTx
	shared.AuditAppender
}

// CatalogPort provides existence checks for master data references.
type CatalogPort interface {
	ItemExists(ctx context.Context, id int64) (bool, error)
	DepartmentExists(ctx context.Context, id int64) (bool, error)
}

// Service orchestrates stock issuance and consumption tracking.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
}

// NewService constructs an issuance service.
func NewService(repo RepositoryPort, catalog CatalogPort) *Service {
	return &Service{repo: repo, catalog: catalog}
}

// IssueLineInput describes one requested item.
type IssueLineInput struct {
	ItemID   int64
	Quantity int64
}

// CreateIssueInput describes a new issue request.
type CreateIssueInput struct {
	DepartmentID int64
	LocationID   int64
	Note         string
	Lines        []IssueLineInput
	Actor        shared.Actor
}

// CreateIssue persists a request in state pending. Stock is not touched
// until Issue is called.
func (s *Service) CreateIssue(ctx context.Context, input CreateIssueInput) (IssueRequest, error) {
	if len(input.Lines) == 0 {
		return IssueRequest{}, fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	if ok, err := s.catalog.DepartmentExists(ctx, input.DepartmentID); err != nil {
		return IssueRequest{}, err
	} else if !ok {
		return IssueRequest{}, fmt.Errorf("%w: department %d", shared.ErrNotFound, input.DepartmentID)
	}
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return IssueRequest{}, fmt.Errorf("%w: line quantity must be positive", shared.ErrValidation)
		}
		if ok, err := s.catalog.ItemExists(ctx, line.ItemID); err != nil {
			return IssueRequest{}, err
		} else if !ok {
			return IssueRequest{}, fmt.Errorf("%w: item %d", shared.ErrNotFound, line.ItemID)
		}
	}

	req := IssueRequest{
		Number:       shared.GenerateNumber("ISS"),
		DepartmentID: input.DepartmentID,
		LocationID:   input.LocationID,
		Status:       IssueStatusPending,
		RequestedBy:  input.Actor.ID,
		Note:         input.Note,
		CreatedAt:    time.Now().UTC(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateIssue(ctx, req)
		if err != nil {
			return err
		}
		req.ID = id
		for _, line := range input.Lines {
			if _, err := tx.InsertIssueLine(ctx, IssueLine{IssueID: id, ItemID: line.ItemID, Quantity: line.Quantity}); err != nil {
				return err
			}
		}
		return tx.AppendAudit(ctx, audit(input.Actor, "ISSUE_CREATE", id, map[string]any{
			"number": req.Number, "department_id": req.DepartmentID, "lines": len(input.Lines),
		}))
	})
	if err != nil {
		return IssueRequest{}, err
	}
	return req, nil
}

// Issue deducts every line of a pending request from the ledger under the
// FIFO-by-expiry policy. Deductions, drawdown rows, the status transition
// and audit entries commit in one transaction: if any line lacks stock the
// whole operation rolls back and the request stays pending.
func (s *Service) Issue(ctx context.Context, issueID int64, actor shared.Actor) ([]Drawdown, error) {
	var drawdowns []Drawdown
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		drawdowns = drawdowns[:0]
		req, lines, err := tx.GetIssueForUpdate(ctx, issueID)
		if err != nil {
			return err
		}
		if req.Status != IssueStatusPending {
			return fmt.Errorf("%w: issue %s is %s", shared.ErrInvalidTransition, req.Number, req.Status)
		}

		for _, line := range lines {
			draws, err := ledger.DeductTx(ctx, tx.Ledger(), ledger.DeductInput{
				ItemID:     line.ItemID,
				LocationID: req.LocationID,
				Quantity:   line.Quantity,
				ActorID:    actor.ID,
				ActorRole:  actor.Role,
				RefModule:  "ISSUANCE",
				RefID:      req.Number,
			})
			if err != nil {
				return fmt.Errorf("issue line item %d: %w", line.ItemID, err)
			}
			for _, draw := range draws {
				dd := Drawdown{IssueLineID: line.ID, BatchID: draw.BatchID, Quantity: draw.Quantity, UnitCost: draw.UnitCost}
				if err := tx.InsertDrawdown(ctx, dd); err != nil {
					return err
				}
				drawdowns = append(drawdowns, dd)
			}
		}

		if err := tx.SetIssueStatus(ctx, issueID, IssueStatusIssued, time.Now().UTC(), actor.ID); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit(actor, "ISSUE_COMPLETE", issueID, map[string]any{
			"number": req.Number, "drawdowns": len(drawdowns),
		}))
	})
	if err != nil {
		return nil, err
	}
	return drawdowns, nil
}

// Cancel transitions a pending request to cancelled.
func (s *Service) Cancel(ctx context.Context, issueID int64, actor shared.Actor) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, _, err := tx.GetIssueForUpdate(ctx, issueID)
		if err != nil {
			return err
		}
		if req.Status != IssueStatusPending {
			return fmt.Errorf("%w: issue %s is %s", shared.ErrInvalidTransition, req.Number, req.Status)
		}
		if err := tx.SetIssueStatus(ctx, issueID, IssueStatusCancelled, time.Now().UTC(), actor.ID); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit(actor, "ISSUE_CANCEL", issueID, map[string]any{"number": req.Number}))
	})
}

// ConsumptionInput describes a reported usage figure.
type ConsumptionInput struct {
	DepartmentID   int64
	ItemID         int64
	TheoreticalQty int64
	ActualQty      int64
	Note           string
	Actor          shared.Actor
}

// RecordConsumption appends a consumption record with the computed
// variance. It never mutates the batch ledger.
func (s *Service) RecordConsumption(ctx context.Context, input ConsumptionInput) (ConsumptionRecord, error) {
	if input.TheoreticalQty < 0 || input.ActualQty < 0 {
		return ConsumptionRecord{}, fmt.Errorf("%w: quantities must not be negative", shared.ErrValidation)
	}
	if ok, err := s.catalog.ItemExists(ctx, input.ItemID); err != nil {
		return ConsumptionRecord{}, err
	} else if !ok {
		return ConsumptionRecord{}, fmt.Errorf("%w: item %d", shared.ErrNotFound, input.ItemID)
	}
	if ok, err := s.catalog.DepartmentExists(ctx, input.DepartmentID); err != nil {
		return ConsumptionRecord{}, err
	} else if !ok {
		return ConsumptionRecord{}, fmt.Errorf("%w: department %d", shared.ErrNotFound, input.DepartmentID)
	}

	rec := ConsumptionRecord{
		DepartmentID:   input.DepartmentID,
		ItemID:         input.ItemID,
		TheoreticalQty: input.TheoreticalQty,
		ActualQty:      input.ActualQty,
		Variance:       input.TheoreticalQty - input.ActualQty,
		Note:           input.Note,
		RecordedBy:     input.Actor.ID,
		RecordedAt:     time.Now().UTC(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertConsumption(ctx, rec)
		if err != nil {
			return err
		}
		rec.ID = id
		return tx.AppendAudit(ctx, shared.AuditEntry{
			ActorID:   input.Actor.ID,
			ActorRole: input.Actor.Role,
			Action:    "CONSUMPTION_RECORD",
			Entity:    "consumption_record",
			EntityID:  strconv.FormatInt(id, 10),
			Meta: map[string]any{
				"item_id": rec.ItemID, "department_id": rec.DepartmentID,
				"theoretical": rec.TheoreticalQty, "actual": rec.ActualQty, "variance": rec.Variance,
			},
		})
	})
	if err != nil {
		return ConsumptionRecord{}, err
	}
	return rec, nil
}

// GetIssue returns one request with its lines and drawdowns.
func (s *Service) GetIssue(ctx context.Context, id int64) (IssueRequest, []IssueLine, []Drawdown, error) {
	return s.repo.GetIssue(ctx, id)
}

// ListIssues returns a page of issue requests.
func (s *Service) ListIssues(ctx context.Context, filter ListFilter) ([]IssueRequest, int, error) {
	return s.repo.ListIssues(ctx, filter)
}

// ListConsumption returns a page of consumption records, optionally for
// one item.
func (s *Service) ListConsumption(ctx context.Context, itemID int64, filter ListFilter) ([]ConsumptionRecord, int, error) {
	return s.repo.ListConsumption(ctx, itemID, filter)
}

func audit(actor shared.Actor, action string, issueID int64, meta map[string]any) shared.AuditEntry {
	return shared.AuditEntry{
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    action,
		Entity:    "issue_request",
		EntityID:  strconv.FormatInt(issueID, 10),
		Meta:      meta,
	}
}
