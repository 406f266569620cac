package procurement

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quartermaster-erp/quartermaster/internal/ledger"
	"github.com/quartermaster-erp/quartermaster/internal/shared"
)

// RepositoryPort describes repository operations used by the Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPR(ctx context.Context, id int64) (PurchaseRequisition, []PRLine, error)
	GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error)
	GetGRN(ctx context.Context, id int64) (GoodsReceipt, []GRNLine, error)
	ListPRs(ctx context.Context, filter ListFilter) ([]PurchaseRequisition, int, error)
	ListPOs(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, error)
}

// TxRepository exposes transactional operations. Ledger returns batch
// mutations bound to the same transaction, so goods receipt creates its
// batches atomically with the GRN and PO records.
type TxRepository interface {
	CreatePR(ctx context.Context, pr PurchaseRequisition) (int64, error)
	InsertPRLine(ctx context.Context, line PRLine) error
	GetPRForUpdate(ctx context.Context, id int64) (PurchaseRequisition, error)
	SetPRDecision(ctx context.Context, id int64, status PRStatus, decidedBy int64, decidedAt time.Time, reason string) error

	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertPOLine(ctx context.Context, line POLine) error
	GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, []POLine, error)
	SetPOStatus(ctx context.Context, id int64, status POStatus, at time.Time, actorID int64) error
	AddPOLineReceived(ctx context.Context, poLineID, quantity int64) error

	CreateGRN(ctx context.Context, grn GoodsReceipt) (int64, error)
	InsertGRNLine(ctx context.Context, line GRNLine) error

	Ledger() ledger.BatchTx
	shared.AuditAppender
}

// CatalogPort provides existence checks for master data references.
type CatalogPort interface {
	ItemExists(ctx context.Context, id int64) (bool, error)
	SupplierExists(ctx context.Context, id int64) (bool, error)
	DepartmentExists(ctx context.Context, id int64) (bool, error)
	LocationExists(ctx context.Context, id int64) (bool, error)
}

// ServiceConfig groups policy settings.
type ServiceConfig struct {
	// AllowReceiptWithoutDispatch permits goods receipt against an
	// approved PO that was never marked sent.
	AllowReceiptWithoutDispatch bool
}

// Service orchestrates the procurement workflow. It enforces state-machine
// legality only; who may call each transition is the API layer's concern.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	cfg     ServiceConfig
}

// NewService constructs a procurement service.
func NewService(repo RepositoryPort, catalog CatalogPort, cfg ServiceConfig) *Service {
	return &Service{repo: repo, catalog: catalog, cfg: cfg}
}

// PRLineInput describes one requested item.
type PRLineInput struct {
	ItemID   int64
	Quantity int64
}

// CreatePRInput describes a new purchase requisition.
type CreatePRInput struct {
	DepartmentID int64
	Note         string
	Lines        []PRLineInput
	Actor        shared.Actor
}

// CreatePR persists a requisition in state pending.
func (s *Service) CreatePR(ctx context.Context, input CreatePRInput) (PurchaseRequisition, error) {
	if len(input.Lines) == 0 {
		return PurchaseRequisition{}, fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	if err := s.requireDepartment(ctx, input.DepartmentID); err != nil {
		return PurchaseRequisition{}, err
	}
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return PurchaseRequisition{}, fmt.Errorf("%w: line quantity must be positive", shared.ErrValidation)
		}
		if err := s.requireItem(ctx, line.ItemID); err != nil {
			return PurchaseRequisition{}, err
		}
	}

	pr := PurchaseRequisition{
		Number:       generateNumber("PR"),
		DepartmentID: input.DepartmentID,
		Status:       PRStatusPending,
		RequestedBy:  input.Actor.ID,
		Note:         input.Note,
		CreatedAt:    time.Now().UTC(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreatePR(ctx, pr)
		if err != nil {
			return err
		}
		pr.ID = id
		for _, line := range input.Lines {
			if err := tx.InsertPRLine(ctx, PRLine{PRID: id, ItemID: line.ItemID, Quantity: line.Quantity}); err != nil {
				return err
			}
		}
		return tx.AppendAudit(ctx, s.audit(input.Actor, "PR_CREATE", "purchase_requisition", id, map[string]any{
			"number": pr.Number, "department_id": pr.DepartmentID, "lines": len(input.Lines),
		}))
	})
	if err != nil {
		return PurchaseRequisition{}, err
	}
	return pr, nil
}

// ApprovePR transitions a pending requisition to approved.
func (s *Service) ApprovePR(ctx context.Context, prID int64, actor shared.Actor) error {
	return s.decidePR(ctx, prID, PRStatusApproved, "", actor)
}

// RejectPR transitions a pending requisition to rejected.
func (s *Service) RejectPR(ctx context.Context, prID int64, reason string, actor shared.Actor) error {
	return s.decidePR(ctx, prID, PRStatusRejected, reason, actor)
}

func (s *Service) decidePR(ctx context.Context, prID int64, status PRStatus, reason string, actor shared.Actor) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.GetPRForUpdate(ctx, prID)
		if err != nil {
			return err
		}
		if pr.Status != PRStatusPending {
			return fmt.Errorf("%w: PR %s is %s", shared.ErrInvalidTransition, pr.Number, pr.Status)
		}
		now := time.Now().UTC()
		if err := tx.SetPRDecision(ctx, prID, status, actor.ID, now, reason); err != nil {
			return err
		}
		action := "PR_APPROVE"
		meta := map[string]any{"number": pr.Number}
		if status == PRStatusRejected {
			action = "PR_REJECT"
			meta["reason"] = reason
		}
		return tx.AppendAudit(ctx, s.audit(actor, action, "purchase_requisition", prID, meta))
	})
}

// POLineInput describes one ordered item.
type POLineInput struct {
	ItemID    int64
	Quantity  int64
	UnitPrice decimal.Decimal
}

// CreatePOInput describes a new purchase order. PRID is optional; when set
// the referenced requisition must be approved.
type CreatePOInput struct {
	SupplierID int64
	PRID       *int64
	Note       string
	Lines      []POLineInput
	Actor      shared.Actor
}

// CreatePO persists a draft purchase order against one supplier.
func (s *Service) CreatePO(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	if ok, err := s.catalog.SupplierExists(ctx, input.SupplierID); err != nil {
		return PurchaseOrder{}, err
	} else if !ok {
		return PurchaseOrder{}, fmt.Errorf("%w: supplier %d", shared.ErrNotFound, input.SupplierID)
	}
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return PurchaseOrder{}, fmt.Errorf("%w: line quantity must be positive", shared.ErrValidation)
		}
		if line.UnitPrice.IsNegative() {
			return PurchaseOrder{}, fmt.Errorf("%w: unit price must not be negative", shared.ErrValidation)
		}
		if err := s.requireItem(ctx, line.ItemID); err != nil {
			return PurchaseOrder{}, err
		}
	}
	if input.PRID != nil {
		pr, _, err := s.repo.GetPR(ctx, *input.PRID)
		if err != nil {
			return PurchaseOrder{}, err
		}
		if pr.Status != PRStatusApproved {
			return PurchaseOrder{}, fmt.Errorf("%w: PR %s is %s, want approved", shared.ErrInvalidTransition, pr.Number, pr.Status)
		}
	}

	po := PurchaseOrder{
		Number:     generateNumber("PO"),
		SupplierID: input.SupplierID,
		PRID:       input.PRID,
		Status:     POStatusDraft,
		Note:       input.Note,
		CreatedAt:  time.Now().UTC(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreatePO(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		for _, line := range input.Lines {
			if err := tx.InsertPOLine(ctx, POLine{POID: id, ItemID: line.ItemID, Quantity: line.Quantity, UnitPrice: line.UnitPrice}); err != nil {
				return err
			}
		}
		meta := map[string]any{"number": po.Number, "supplier_id": po.SupplierID}
		if input.PRID != nil {
			meta["from_pr"] = *input.PRID
		}
		return tx.AppendAudit(ctx, s.audit(input.Actor, "PO_CREATE", "purchase_order", id, meta))
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// ApprovePO transitions a draft order to approved. Lines are immutable
// from this point on.
func (s *Service) ApprovePO(ctx context.Context, poID int64, actor shared.Actor) error {
	return s.transitionPO(ctx, poID, POStatusDraft, POStatusApproved, "PO_APPROVE", actor)
}

// SendPO marks an approved order as dispatched to the supplier.
func (s *Service) SendPO(ctx context.Context, poID int64, actor shared.Actor) error {
	return s.transitionPO(ctx, poID, POStatusApproved, POStatusSent, "PO_SEND", actor)
}

func (s *Service) transitionPO(ctx context.Context, poID int64, from, to POStatus, action string, actor shared.Actor) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, _, err := tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != from {
			return fmt.Errorf("%w: PO %s is %s, want %s", shared.ErrInvalidTransition, po.Number, po.Status, from)
		}
		now := time.Now().UTC()
		if err := tx.SetPOStatus(ctx, poID, to, now, actor.ID); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, s.audit(actor, action, "purchase_order", poID, map[string]any{"number": po.Number}))
	})
}

// ReceiveLineInput is one received GRN line.
type ReceiveLineInput struct {
	ItemID      int64
	BatchNumber string
	Quantity    int64
	UnitPrice   decimal.Decimal
	ExpiryDate  *time.Time
	LocationID  int64
}

// ReceiveInput describes a goods receipt against one PO.
type ReceiveInput struct {
	POID  int64
	Note  string
	Lines []ReceiveLineInput
	Actor shared.Actor
}

// Receive posts a goods receipt: it validates every line against the PO,
// creates one ledger batch per line, accumulates received quantities and
// closes the PO once fully received. The receipt, its batches, the PO
// update and all audit entries commit in one transaction; any line failure
// rolls the whole receipt back.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (GoodsReceipt, []GRNLine, error) {
	if len(input.Lines) == 0 {
		return GoodsReceipt{}, nil, fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return GoodsReceipt{}, nil, fmt.Errorf("%w: line quantity must be positive", shared.ErrValidation)
		}
		if ok, err := s.catalog.LocationExists(ctx, line.LocationID); err != nil {
			return GoodsReceipt{}, nil, err
		} else if !ok {
			return GoodsReceipt{}, nil, fmt.Errorf("%w: location %d", shared.ErrNotFound, line.LocationID)
		}
	}

	grn := GoodsReceipt{
		Number:     generateNumber("GRN"),
		POID:       input.POID,
		ReceivedBy: input.Actor.ID,
		ReceivedAt: time.Now().UTC(),
		Note:       input.Note,
	}
	var grnLines []GRNLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		grnLines = grnLines[:0]
		po, poLines, err := tx.GetPOForUpdate(ctx, input.POID)
		if err != nil {
			return err
		}
		if !s.receivable(po.Status) {
			return fmt.Errorf("%w: PO %s is %s, want sent", shared.ErrInvalidTransition, po.Number, po.Status)
		}

		lineByItem := make(map[int64]*POLine, len(poLines))
		for i := range poLines {
			lineByItem[poLines[i].ItemID] = &poLines[i]
		}

		grnID, err := tx.CreateGRN(ctx, grn)
		if err != nil {
			return err
		}
		grn.ID = grnID

		for _, line := range input.Lines {
			poLine, ok := lineByItem[line.ItemID]
			if !ok {
				return fmt.Errorf("%w: item %d is not on PO %s", shared.ErrValidation, line.ItemID, po.Number)
			}
			if poLine.ReceivedQty+line.Quantity > poLine.Quantity {
				return fmt.Errorf("%w: item %d ordered %d, already received %d, receiving %d",
					shared.ErrOverReceipt, line.ItemID, poLine.Quantity, poLine.ReceivedQty, line.Quantity)
			}
			unitCost := line.UnitPrice
			if unitCost.IsZero() {
				unitCost = poLine.UnitPrice
			}
			batch, err := ledger.CreateBatchTx(ctx, tx.Ledger(), ledger.CreateBatchInput{
				ItemID:      line.ItemID,
				LocationID:  line.LocationID,
				BatchNumber: line.BatchNumber,
				Quantity:    line.Quantity,
				UnitCost:    unitCost,
				ExpiryDate:  line.ExpiryDate,
				ActorID:     input.Actor.ID,
				ActorRole:   input.Actor.Role,
				RefModule:   "PROCUREMENT",
				RefID:       grn.Number,
			})
			if err != nil {
				return err
			}
			grnLine := GRNLine{GRNID: grnID, ItemID: line.ItemID, BatchID: batch.ID, Quantity: line.Quantity, UnitPrice: unitCost}
			if err := tx.InsertGRNLine(ctx, grnLine); err != nil {
				return err
			}
			grnLines = append(grnLines, grnLine)
			if err := tx.AddPOLineReceived(ctx, poLine.ID, line.Quantity); err != nil {
				return err
			}
			poLine.ReceivedQty += line.Quantity
		}

		allReceived := true
		for i := range poLines {
			if !poLines[i].FullyReceived() {
				allReceived = false
				break
			}
		}
		if allReceived {
			if err := tx.SetPOStatus(ctx, po.ID, POStatusClosed, time.Now().UTC(), input.Actor.ID); err != nil {
				return err
			}
		}

		return tx.AppendAudit(ctx, s.audit(input.Actor, "GRN_RECEIVE", "goods_receipt", grnID, map[string]any{
			"number": grn.Number, "po_number": po.Number, "lines": len(input.Lines), "po_closed": allReceived,
		}))
	})
	if err != nil {
		return GoodsReceipt{}, nil, err
	}
	return grn, grnLines, nil
}

func (s *Service) receivable(status POStatus) bool {
	if status == POStatusSent {
		return true
	}
	return status == POStatusApproved && s.cfg.AllowReceiptWithoutDispatch
}

// GetPR returns one requisition with its lines.
func (s *Service) GetPR(ctx context.Context, id int64) (PurchaseRequisition, []PRLine, error) {
	return s.repo.GetPR(ctx, id)
}

// GetPO returns one order with its lines.
func (s *Service) GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	return s.repo.GetPO(ctx, id)
}

// GetGRN returns one goods receipt with its lines.
func (s *Service) GetGRN(ctx context.Context, id int64) (GoodsReceipt, []GRNLine, error) {
	return s.repo.GetGRN(ctx, id)
}

// ListPRs returns a page of requisitions.
func (s *Service) ListPRs(ctx context.Context, filter ListFilter) ([]PurchaseRequisition, int, error) {
	return s.repo.ListPRs(ctx, filter)
}

// ListPOs returns a page of orders.
func (s *Service) ListPOs(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, error) {
	return s.repo.ListPOs(ctx, filter)
}

func (s *Service) requireItem(ctx context.Context, id int64) error {
	ok, err := s.catalog.ItemExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: item %d", shared.ErrNotFound, id)
	}
	return nil
}

func (s *Service) requireDepartment(ctx context.Context, id int64) error {
	ok, err := s.catalog.DepartmentExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: department %d", shared.ErrNotFound, id)
	}
	return nil
}

func (s *Service) audit(actor shared.Actor, action, entity string, entityID int64, meta map[string]any) shared.AuditEntry {
	return shared.AuditEntry{
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    action,
		Entity:    entity,
		EntityID:  strconv.FormatInt(entityID, 10),
		Meta:      meta,
	}
}

func generateNumber(prefix string) string {
	return shared.GenerateNumber(prefix)
}
