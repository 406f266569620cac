package procurement

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/quartermaster-erp/quartermaster/internal/platform/httpx"
	"github.com/quartermaster-erp/quartermaster/internal/shared"
)

// Handler wires JSON endpoints for the procurement workflow.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/requisitions", h.handleListPRs)
	r.Post("/requisitions", h.handleCreatePR)
	r.Get("/requisitions/{id}", h.handleGetPR)
	r.Post("/requisitions/{id}/approve", h.handleApprovePR)
	r.Post("/requisitions/{id}/reject", h.handleRejectPR)

	r.Get("/purchase-orders", h.handleListPOs)
	r.Post("/purchase-orders", h.handleCreatePO)
	r.Get("/purchase-orders/{id}", h.handleGetPO)
	r.Post("/purchase-orders/{id}/approve", h.handleApprovePO)
	r.Post("/purchase-orders/{id}/send", h.handleSendPO)
	r.Post("/purchase-orders/{id}/receipts", h.handleReceive)

	r.Get("/receipts/{id}", h.handleGetGRN)
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func listFilterFrom(r *http.Request) ListFilter {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return ListFilter{Status: q.Get("status"), Page: page, Limit: limit}
}

func listResponse[T any](items []T, filter ListFilter, total int) map[string]any {
	page := shared.NewPagination(filter.Page, filter.Limit, total)
	if items == nil {
		items = []T{}
	}
	return map[string]any{
		"data":       items,
		"total":      page.Total,
		"page":       page.Page,
		"totalPages": page.TotalPages,
	}
}

type prResponse struct {
	ID           int64            `json:"id"`
	Number       string           `json:"number"`
	DepartmentID int64            `json:"departmentId"`
	Status       PRStatus         `json:"status"`
	RequestedBy  int64            `json:"requestedBy"`
	Note         string           `json:"note,omitempty"`
	RejectReason string           `json:"rejectReason,omitempty"`
	DecidedBy    *int64           `json:"decidedBy,omitempty"`
	DecidedAt    *time.Time       `json:"decidedAt,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	Lines        []prLineResponse `json:"lines,omitempty"`
}

type prLineResponse struct {
	ID       int64 `json:"id"`
	ItemID   int64 `json:"itemId"`
	Quantity int64 `json:"quantity"`
}

func toPRResponse(pr PurchaseRequisition, lines []PRLine) prResponse {
	resp := prResponse{
		ID:           pr.ID,
		Number:       pr.Number,
		DepartmentID: pr.DepartmentID,
		Status:       pr.Status,
		RequestedBy:  pr.RequestedBy,
		Note:         pr.Note,
		RejectReason: pr.RejectReason,
		DecidedBy:    pr.DecidedBy,
		DecidedAt:    pr.DecidedAt,
		CreatedAt:    pr.CreatedAt,
	}
	for _, line := range lines {
		resp.Lines = append(resp.Lines, prLineResponse{ID: line.ID, ItemID: line.ItemID, Quantity: line.Quantity})
	}
	return resp
}

type poResponse struct {
	ID         int64            `json:"id"`
	Number     string           `json:"number"`
	SupplierID int64            `json:"supplierId"`
	PRID       *int64           `json:"prId,omitempty"`
	Status     POStatus         `json:"status"`
	Note       string           `json:"note,omitempty"`
	ApprovedBy *int64           `json:"approvedBy,omitempty"`
	ApprovedAt *time.Time       `json:"approvedAt,omitempty"`
	SentAt     *time.Time       `json:"sentAt,omitempty"`
	ClosedAt   *time.Time       `json:"closedAt,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	Lines      []poLineResponse `json:"lines,omitempty"`
}

type poLineResponse struct {
	ID          int64  `json:"id"`
	ItemID      int64  `json:"itemId"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	ReceivedQty int64  `json:"receivedQty"`
}

func toPOResponse(po PurchaseOrder, lines []POLine) poResponse {
	resp := poResponse{
		ID:         po.ID,
		Number:     po.Number,
		SupplierID: po.SupplierID,
		PRID:       po.PRID,
		Status:     po.Status,
		Note:       po.Note,
		ApprovedBy: po.ApprovedBy,
		ApprovedAt: po.ApprovedAt,
		SentAt:     po.SentAt,
		ClosedAt:   po.ClosedAt,
		CreatedAt:  po.CreatedAt,
	}
	for _, line := range lines {
		resp.Lines = append(resp.Lines, poLineResponse{
			ID:          line.ID,
			ItemID:      line.ItemID,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice.StringFixed(4),
			ReceivedQty: line.ReceivedQty,
		})
	}
	return resp
}

type grnResponse struct {
	ID         int64             `json:"id"`
	Number     string            `json:"number"`
	POID       int64             `json:"poId"`
	ReceivedBy int64             `json:"receivedBy"`
	ReceivedAt time.Time         `json:"receivedAt"`
	Note       string            `json:"note,omitempty"`
	Lines      []grnLineResponse `json:"lines,omitempty"`
}

type grnLineResponse struct {
	ID        int64  `json:"id"`
	ItemID    int64  `json:"itemId"`
	BatchID   int64  `json:"batchId"`
	Quantity  int64  `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

func toGRNResponse(grn GoodsReceipt, lines []GRNLine) grnResponse {
	resp := grnResponse{
		ID:         grn.ID,
		Number:     grn.Number,
		POID:       grn.POID,
		ReceivedBy: grn.ReceivedBy,
		ReceivedAt: grn.ReceivedAt,
		Note:       grn.Note,
	}
	for _, line := range lines {
		resp.Lines = append(resp.Lines, grnLineResponse{
			ID:        line.ID,
			ItemID:    line.ItemID,
			BatchID:   line.BatchID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice.StringFixed(4),
		})
	}
	return resp
}

type prLineRequest struct {
	ItemID   int64 `json:"itemId" validate:"required,gt=0"`
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

type createPRRequest struct {
	DepartmentID int64           `json:"departmentId" validate:"required,gt=0"`
	Note         string          `json:"note"`
	Lines        []prLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreatePR(w http.ResponseWriter, r *http.Request) {
	var req createPRRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreatePRInput{
		DepartmentID: req.DepartmentID,
		Note:         req.Note,
		Actor:        shared.ActorFromContext(r.Context()),
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, PRLineInput{ItemID: line.ItemID, Quantity: line.Quantity})
	}
	pr, err := h.service.CreatePR(r.Context(), input)
	if err != nil {
		h.logger.Error("create requisition", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"data": toPRResponse(pr, nil)})
}

func (h *Handler) handleListPRs(w http.ResponseWriter, r *http.Request) {
	filter := listFilterFrom(r)
	prs, total, err := h.service.ListPRs(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := make([]prResponse, 0, len(prs))
	for _, pr := range prs {
		resp = append(resp, toPRResponse(pr, nil))
	}
	httpx.JSON(w, http.StatusOK, listResponse(resp, filter, total))
}

func (h *Handler) handleGetPR(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid requisition id")
		return
	}
	pr, lines, err := h.service.GetPR(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": toPRResponse(pr, lines)})
}

func (h *Handler) handleApprovePR(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid requisition id")
		return
	}
	if err := h.service.ApprovePR(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.logger.Error("approve requisition", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	pr, lines, err := h.service.GetPR(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": toPRResponse(pr, lines)})
}

func (h *Handler) handleRejectPR(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid requisition id")
		return
	}
	var req struct {
		Reason string `json:"reason" validate:"required"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.RejectPR(r.Context(), id, req.Reason, shared.ActorFromContext(r.Context())); err != nil {
		h.logger.Error("reject requisition", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	pr, lines, err := h.service.GetPR(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": toPRResponse(pr, lines)})
}

type poLineRequest struct {
	ItemID    int64  `json:"itemId" validate:"required,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	UnitPrice string `json:"unitPrice" validate:"required"`
}

type createPORequest struct {
	SupplierID int64           `json:"supplierId" validate:"required,gt=0"`
	PRID       *int64          `json:"prId"`
	Note       string          `json:"note"`
	Lines      []poLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreatePO(w http.ResponseWriter, r *http.Request) {
	var req createPORequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreatePOInput{
		SupplierID: req.SupplierID,
		PRID:       req.PRID,
		Note:       req.Note,
		Actor:      shared.ActorFromContext(r.Context()),
	}
	for _, line := range req.Lines {
		price, err := decimal.NewFromString(line.UnitPrice)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unitPrice")
			return
		}
		input.Lines = append(input.Lines, POLineInput{ItemID: line.ItemID, Quantity: line.Quantity, UnitPrice: price})
	}
	po, err := h.service.CreatePO(r.Context(), input)
	if err != nil {
		h.logger.Error("create purchase order", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"data": toPOResponse(po, nil)})
}

func (h *Handler) handleListPOs(w http.ResponseWriter, r *http.Request) {
	filter := listFilterFrom(r)
	pos, total, err := h.service.ListPOs(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := make([]poResponse, 0, len(pos))
	for _, po := range pos {
		resp = append(resp, toPOResponse(po, nil))
	}
	httpx.JSON(w, http.StatusOK, listResponse(resp, filter, total))
}

func (h *Handler) handleGetPO(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid purchase order id")
		return
	}
	po, lines, err := h.service.GetPO(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": toPOResponse(po, lines)})
}

func (h *Handler) handleApprovePO(w http.ResponseWriter, r *http.Request) {
	h.transitionPO(w, r, h.service.ApprovePO, "approve purchase order")
}

func (h *Handler) handleSendPO(w http.ResponseWriter, r *http.Request) {
	h.transitionPO(w, r, h.service.SendPO, "send purchase order")
}

func (h *Handler) transitionPO(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id int64, actor shared.Actor) error, what string) {
	id, ok := idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid purchase order id")
		return
	}
	if err := op(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.logger.Error(what, slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	po, lines, err := h.service.GetPO(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": toPOResponse(po, lines)})
}

type receiveLineRequest struct {
	ItemID      int64  `json:"itemId" validate:"required,gt=0"`
	BatchNumber string `json:"batchNumber" validate:"required"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	UnitPrice   string `json:"unitPrice"`
	ExpiryDate  string `json:"expiryDate"`
	LocationID  int64  `json:"locationId" validate:"required,gt=0"`
}

type receiveRequest struct {
	Note  string               `json:"note"`
	Lines []receiveLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	poID, ok := idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid purchase order id")
		return
	}
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := ReceiveInput{POID: poID, Note: req.Note, Actor: shared.ActorFromContext(r.Context())}
	for _, line := range req.Lines {
		recv := ReceiveLineInput{
			ItemID:      line.ItemID,
			BatchNumber: line.BatchNumber,
			Quantity:    line.Quantity,
			LocationID:  line.LocationID,
		}
		if line.UnitPrice != "" {
			price, err := decimal.NewFromString(line.UnitPrice)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unitPrice")
				return
			}
			recv.UnitPrice = price
		}
		if line.ExpiryDate != "" {
			expiry, err := time.Parse("2006-01-02", line.ExpiryDate)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expiryDate must be YYYY-MM-DD")
				return
			}
			recv.ExpiryDate = &expiry
		}
		input.Lines = append(input.Lines, recv)
	}
	grn, lines, err := h.service.Receive(r.Context(), input)
	if err != nil {
		h.logger.Error("goods receipt", slog.Int64("po_id", poID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"data": toGRNResponse(grn, lines)})
}

func (h *Handler) handleGetGRN(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid receipt id")
		return
	}
	grn, lines, err := h.service.GetGRN(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": toGRNResponse(grn, lines)})
}
