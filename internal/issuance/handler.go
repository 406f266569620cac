package issuance

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/quartermaster-erp/quartermaster/internal/platform/httpx"
	"github.com/quartermaster-erp/quartermaster/internal/shared"
)

// Handler wires JSON endpoints for issuance and consumption.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs an issuance handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers issuance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/issues", h.handleList)
	r.Post("/issues", h.handleCreate)
	r.Get("/issues/{id}", h.handleGet)
	r.Post("/issues/{id}/issue", h.handleIssue)
	r.Post("/issues/{id}/cancel", h.handleCancel)

	r.Get("/consumption", h.handleListConsumption)
	r.Post("/consumption", h.handleRecordConsumption)
}

type issueResponse struct {
	ID           int64               `json:"id"`
	Number       string              `json:"number"`
	DepartmentID int64               `json:"departmentId"`
	LocationID   int64               `json:"locationId,omitempty"`
	Status       IssueStatus         `json:"status"`
	RequestedBy  int64               `json:"requestedBy"`
	Note         string              `json:"note,omitempty"`
	IssuedBy     *int64              `json:"issuedBy,omitempty"`
	IssuedAt     *time.Time          `json:"issuedAt,omitempty"`
	CancelledAt  *time.Time          `json:"cancelledAt,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
	Lines        []issueLineResponse `json:"lines,omitempty"`
	Drawdowns    []drawdownResponse  `json:"drawdowns,omitempty"`
}

type issueLineResponse struct {
	ID       int64 `json:"id"`
	ItemID   int64 `json:"itemId"`
	Quantity int64 `json:"quantity"`
}

type drawdownResponse struct {
	IssueLineID int64  `json:"issueLineId"`
	BatchID     int64  `json:"batchId"`
	Quantity    int64  `json:"quantity"`
	UnitCost    string `json:"unitCost"`
}

func toIssueResponse(req IssueRequest, lines []IssueLine, drawdowns []Drawdown) issueResponse {
	resp := issueResponse{
		ID:           req.ID,
		Number:       req.Number,
		DepartmentID: req.DepartmentID,
		LocationID:   req.LocationID,
		Status:       req.Status,
		RequestedBy:  req.RequestedBy,
		Note:         req.Note,
		IssuedBy:     req.IssuedBy,
		IssuedAt:     req.IssuedAt,
		CancelledAt:  req.CancelledAt,
		CreatedAt:    req.CreatedAt,
	}
	for _, line := range lines {
		resp.Lines = append(resp.Lines, issueLineResponse{ID: line.ID, ItemID: line.ItemID, Quantity: line.Quantity})
	}
	for _, dd := range drawdowns {
		resp.Drawdowns = append(resp.Drawdowns, drawdownResponse{
			IssueLineID: dd.IssueLineID,
			BatchID:     dd.BatchID,
			Quantity:    dd.Quantity,
			UnitCost:    dd.UnitCost.StringFixed(4),
		})
	}
	return resp
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

type issueLineRequest struct {
	ItemID   int64 `json:"itemId" validate:"required,gt=0"`
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

type createIssueRequest struct {
	DepartmentID int64              `json:"departmentId" validate:"required,gt=0"`
	LocationID   int64              `json:"locationId" validate:"gte=0"`
	Note         string             `json:"note"`
	Lines        []issueLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createIssueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateIssueInput{
		DepartmentID: req.DepartmentID,
		LocationID:   req.LocationID,
		Note:         req.Note,
		Actor:        shared.ActorFromContext(r.Context()),
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, IssueLineInput{ItemID: line.ItemID, Quantity: line.Quantity})
	}
	issue, err := h.service.CreateIssue(r.Context(), input)
	if err != nil {
		h.logger.Error("create issue", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"data": toIssueResponse(issue, nil, nil)})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	filter := ListFilter{Status: q.Get("status"), Page: page, Limit: limit}
	issues, total, err := h.service.ListIssues(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := make([]issueResponse, 0, len(issues))
	for _, issue := range issues {
		resp = append(resp, toIssueResponse(issue, nil, nil))
	}
	pg := shared.NewPagination(filter.Page, filter.Limit, total)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data": resp, "total": pg.Total, "page": pg.Page, "totalPages": pg.TotalPages,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid issue id")
		return
	}
	issue, lines, drawdowns, err := h.service.GetIssue(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": toIssueResponse(issue, lines, drawdowns)})
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid issue id")
		return
	}
	if _, err := h.service.Issue(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.logger.Error("issue stock", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	issue, lines, drawdowns, err := h.service.GetIssue(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": toIssueResponse(issue, lines, drawdowns)})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid issue id")
		return
	}
	if err := h.service.Cancel(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.logger.Error("cancel issue", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	issue, lines, _, err := h.service.GetIssue(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": toIssueResponse(issue, lines, nil)})
}

type consumptionRequest struct {
	DepartmentID   int64  `json:"departmentId" validate:"required,gt=0"`
	ItemID         int64  `json:"itemId" validate:"required,gt=0"`
	TheoreticalQty int64  `json:"theoreticalQty" validate:"gte=0"`
	ActualQty      int64  `json:"actualQty" validate:"gte=0"`
	Note           string `json:"note"`
}

type consumptionResponse struct {
	ID             int64     `json:"id"`
	DepartmentID   int64     `json:"departmentId"`
	ItemID         int64     `json:"itemId"`
	TheoreticalQty int64     `json:"theoreticalQty"`
	ActualQty      int64     `json:"actualQty"`
	Variance       int64     `json:"variance"`
	Note           string    `json:"note,omitempty"`
	RecordedBy     int64     `json:"recordedBy"`
	RecordedAt     time.Time `json:"recordedAt"`
}

func toConsumptionResponse(rec ConsumptionRecord) consumptionResponse {
	return consumptionResponse{
		ID:             rec.ID,
		DepartmentID:   rec.DepartmentID,
		ItemID:         rec.ItemID,
		TheoreticalQty: rec.TheoreticalQty,
		ActualQty:      rec.ActualQty,
		Variance:       rec.Variance,
		Note:           rec.Note,
		RecordedBy:     rec.RecordedBy,
		RecordedAt:     rec.RecordedAt,
	}
}

func (h *Handler) handleRecordConsumption(w http.ResponseWriter, r *http.Request) {
	var req consumptionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, err := h.service.RecordConsumption(r.Context(), ConsumptionInput{
		DepartmentID:   req.DepartmentID,
		ItemID:         req.ItemID,
		TheoreticalQty: req.TheoreticalQty,
		ActualQty:      req.ActualQty,
		Note:           req.Note,
		Actor:          shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Error("record consumption", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"data": toConsumptionResponse(rec)})
}

func (h *Handler) handleListConsumption(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	itemID, _ := strconv.ParseInt(q.Get("item_id"), 10, 64)
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	filter := ListFilter{Page: page, Limit: limit}
	recs, total, err := h.service.ListConsumption(r.Context(), itemID, filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := make([]consumptionResponse, 0, len(recs))
	for _, rec := range recs {
		resp = append(resp, toConsumptionResponse(rec))
	}
	pg := shared.NewPagination(filter.Page, filter.Limit, total)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data": resp, "total": pg.Total, "page": pg.Page, "totalPages": pg.TotalPages,
	})
}
