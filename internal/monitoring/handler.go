package monitoring

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quartermaster-erp/quartermaster/internal/platform/httpx"
)

// Handler wires JSON endpoints for scans and reports.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a monitoring handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers monitoring routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/system/check-reorder", h.handleCheckReorder)
	r.Get("/system/check-expiry", h.handleCheckExpiry)
	r.Get("/reports/valuation", h.handleValuation)
	r.Get("/reports/stock-health", h.handleStockHealth)
	r.Get("/reports/wastage", h.handleWastage)
	r.Get("/reports/supplier-performance", h.handleSupplierReport)
}

func (h *Handler) handleCheckReorder(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.service.CheckReorder(r.Context())
	if err != nil {
		h.logger.Error("reorder scan", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": alerts, "count": len(alerts)})
}

func (h *Handler) handleCheckExpiry(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	alerts, err := h.service.CheckExpiry(r.Context(), days)
	if err != nil {
		h.logger.Error("expiry scan", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": alerts, "count": len(alerts)})
}

func (h *Handler) handleValuation(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Valuation(r.Context(), r.URL.Query().Get("method"))
	if err != nil {
		h.logger.Error("valuation", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": report})
}

func (h *Handler) handleStockHealth(w http.ResponseWriter, r *http.Request) {
	lines, err := h.service.StockHealth(r.Context())
	if err != nil {
		h.logger.Error("stock health", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": lines})
}

func (h *Handler) handleWastage(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Wastage(r.Context(), r.URL.Query().Get("month"))
	if err != nil {
		h.logger.Error("wastage report", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": report})
}

func (h *Handler) handleSupplierReport(w http.ResponseWriter, r *http.Request) {
	perf, err := h.service.SupplierReport(r.Context())
	if err != nil {
		h.logger.Error("supplier performance", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": perf})
}
