package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rl1809/stock-reserve/internal/core/domain"
	"github.com/rl1809/stock-reserve/internal/core/service"
	"github.com/rl1809/stock-reserve/internal/port"
)

type HTTPHandler struct {
	coordinator *service.PurchaseCoordinator
	txns        port.TxnSource
}

func NewHTTPHandler(coordinator *service.PurchaseCoordinator, txns port.TxnSource) *HTTPHandler {
	return &HTTPHandler{coordinator: coordinator, txns: txns}
}

type PurchaseHTTPRequest struct {
	UserID      string `json:"user_id"`
	ProductID   string `json:"product_id"`
	VariantID   string `json:"variant_id,omitempty"`
	WarehouseID string `json:"warehouse_id,omitempty"`
	SessionID   string `json:"session_id"`
	Quantity    int    `json:"quantity"`
}

type PurchaseHTTPResponse struct {
	Success        bool   `json:"success"`
	PurchaseID     string `json:"purchase_id,omitempty"`
	Message        string `json:"message"`
	RemainingStock *int   `json:"remaining_stock,omitempty"`
	ErrorCode      string `json:"error_code,omitempty"`
}

func (h *HTTPHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req PurchaseHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, PurchaseHTTPResponse{
			Message: "invalid request body",
		})
		return
	}
	if req.UserID == "" || req.ProductID == "" || req.Quantity <= 0 {
		writeJSON(w, http.StatusBadRequest, PurchaseHTTPResponse{
			Message: "missing required fields",
		})
		return
	}

	txn, err := h.txns.Begin(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, PurchaseHTTPResponse{
			Message: "internal error",
		})
		return
	}

	result := h.coordinator.AttemptPurchase(r.Context(), domain.PurchaseAttempt{
		UserID:      req.UserID,
		ProductID:   req.ProductID,
		VariantID:   req.VariantID,
		WarehouseID: req.WarehouseID,
		SessionID:   req.SessionID,
		Quantity:    req.Quantity,
		Timestamp:   time.Now(),
	}, txn)

	if !result.Success {
		_ = txn.Rollback()
		writeJSON(w, statusFor(result.ErrorCode), responseFrom(result))
		return
	}

	if err := txn.Commit(); err != nil {
		writeJSON(w, http.StatusInternalServerError, PurchaseHTTPResponse{
			Message: "internal error",
		})
		return
	}
	writeJSON(w, http.StatusOK, responseFrom(result))
}

func (h *HTTPHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.coordinator.ActivePurchaseStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"active_count": stats.ActiveCount,
		"by_product":   stats.ByProduct,
	})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeInsufficientStock:
		return http.StatusGone
	case domain.CodeDuplicateAttempt:
		return http.StatusConflict
	case domain.CodeLockTimeout, domain.CodeConcurrentModification:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func responseFrom(result domain.PurchaseResult) PurchaseHTTPResponse {
	resp := PurchaseHTTPResponse{
		Success:    result.Success,
		PurchaseID: result.PurchaseID,
		Message:    result.Message,
		ErrorCode:  string(result.ErrorCode),
	}
	if result.Success || result.ErrorCode == domain.CodeInsufficientStock {
		remaining := result.RemainingStock
		resp.RemainingStock = &remaining
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
