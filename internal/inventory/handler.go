package inventory

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/example/order-saga/internal/domain"
)

// Handler exposes the minimal query/admin surface of the inventory service.
// Reservation itself is event-driven; there is no reserve endpoint.
type Handler struct {
	repo   *InventoryRepository
	logger *slog.Logger
}

func NewHandler(repo *InventoryRepository, logger *slog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.repo.ListRecords(r.Context())
	if err != nil {
		h.logger.Error("failed to list inventory", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, records)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	record, err := h.repo.GetRecord(r.Context(), productID)
	if err != nil {
		h.logger.Error("failed to get inventory", "error", err, "product_id", productID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if record == nil {
		h.writeError(w, http.StatusNotFound, "inventory not found")
		return
	}

	h.writeJSON(w, http.StatusOK, record)
}

type createRecordRequest struct {
	ProductID string `json:"product_id"`
	Available int    `json:"quantity_available"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ProductID == "" || req.Available < 0 {
		h.writeError(w, http.StatusBadRequest, "product_id required and quantity_available must be non-negative")
		return
	}

	record := &domain.InventoryRecord{
		ProductID: req.ProductID,
		Available: req.Available,
	}

	if err := h.repo.CreateRecord(r.Context(), record); err != nil {
		h.logger.Error("failed to create inventory record", "error", err, "product_id", req.ProductID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("inventory record created", "product_id", req.ProductID, "quantity_available", req.Available)
	h.writeJSON(w, http.StatusCreated, record)
}

type updateQuantityRequest struct {
	Available int `json:"quantity_available"`
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	var req updateQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Available < 0 {
		h.writeError(w, http.StatusBadRequest, "quantity_available must be non-negative")
		return
	}

	record, err := h.repo.SetAvailable(r.Context(), productID, req.Available)
	if err != nil {
		h.logger.Error("failed to update inventory", "error", err, "product_id", productID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if record == nil {
		h.writeError(w, http.StatusNotFound, "inventory not found")
		return
	}

	h.logger.Info("inventory updated", "product_id", productID, "quantity_available", req.Available)
	h.writeJSON(w, http.StatusOK, record)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
