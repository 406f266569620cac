package ledger

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

// Handler wires JSON endpoints for the batch ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items/{id}/batches", h.handleItemBatches)
	r.Get("/stock/current", h.handleCurrentStock)
	r.Post("/stock/adjust", h.handleAdjust)
}

type batchResponse struct {
	ID          int64   `json:"id"`
	ItemID      int64   `json:"itemId"`
	LocationID  int64   `json:"locationId"`
	BatchNumber string  `json:"batchNumber"`
	Quantity    int64   `json:"quantity"`
	UnitCost    string  `json:"unitCost"`
	ExpiryDate  *string `json:"expiryDate,omitempty"`
	ReceivedAt  string  `json:"receivedAt"`
}

func toBatchResponse(b Batch) batchResponse {
	resp := batchResponse{
		ID:          b.ID,
		ItemID:      b.ItemID,
		LocationID:  b.LocationID,
		BatchNumber: b.BatchNumber,
		Quantity:    b.Quantity,
		UnitCost:    b.UnitCost.StringFixed(4),
		ReceivedAt:  b.ReceivedAt.Format(time.RFC3339),
	}
	if b.ExpiryDate != nil {
		formatted := b.ExpiryDate.Format("2006-01-02")
		resp.ExpiryDate = &formatted
	}
	return resp
}

func (h *Handler) handleItemBatches(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	batches, err := h.service.ItemBatches(r.Context(), itemID)
	if err != nil {
		h.logger.Error("list item batches", slog.Int64("item_id", itemID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		resp = append(resp, toBatchResponse(b))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": resp})
}

func (h *Handler) handleCurrentStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	itemID, err := strconv.ParseInt(q.Get("item_id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "item_id is required")
		return
	}
	var locationID int64
	if raw := q.Get("location_id"); raw != "" {
		locationID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid location_id")
			return
		}
	}
	stock, err := h.service.CurrentStock(r.Context(), itemID, locationID)
	if err != nil {
		h.logger.Error("current stock", slog.Int64("item_id", itemID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": map[string]int64{"itemId": itemID, "currentStock": stock}})
}

type adjustRequest struct {
	BatchID int64  `json:"batchId" validate:"required"`
	Delta   int64  `json:"delta" validate:"required"`
	Reason  string `json:"reason" validate:"required"`
	Note    string `json:"note"`
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	batch, err := h.service.Adjust(r.Context(), AdjustInput{
		BatchID:   req.BatchID,
		Delta:     req.Delta,
		Reason:    req.Reason,
		Note:      req.Note,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
	})
	if err != nil {
		h.logger.Error("stock adjust failed", slog.Int64("batch_id", req.BatchID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": toBatchResponse(batch)})
}
