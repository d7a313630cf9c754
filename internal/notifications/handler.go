package notifications

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type Handler struct {
	log        *Log
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewHandler(log *Log, dispatcher *Dispatcher, logger *slog.Logger) *Handler {
	return &Handler{
		log:        log,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	if orderID := r.URL.Query().Get("order_id"); orderID != "" {
		h.writeJSON(w, http.StatusOK, h.log.ListByOrder(orderID))
		return
	}

	h.writeJSON(w, http.StatusOK, h.log.List())
}

type sendRequest struct {
	OrderID string `json:"order_id"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Subject == "" || req.Message == "" {
		h.writeError(w, http.StatusBadRequest, "subject and message are required")
		return
	}

	n := h.dispatcher.Send(req.OrderID, req.Subject, req.Message)
	h.writeJSON(w, http.StatusCreated, n)
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
