package analytics_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"ms-commerce/internal/analytics"
	"ms-commerce/internal/auth"
	"ms-commerce/internal/logger"
)

// Handler handles analytics HTTP endpoints
type Handler struct {
	Service *analytics.Service
	Logger  *logger.Logger
}

// NewHandler creates a new analytics handler
func NewHandler(service *analytics.Service, logger *logger.Logger) *Handler {
	return &Handler{
		Service: service,
		Logger:  logger,
	}
}

// RegisterRoutes registers the analytics routes on a chi router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/analytics", func(r chi.Router) {
		r.Get("/payments", h.GetPaymentAnalytics)
		r.Get("/orders", h.GetOrderSummaries)
		r.Post("/orders/batch", h.GetOrderBatchAnalytics)
	})
}

// sendJSONResponse is a helper function to send JSON responses
func sendJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// The status line is already on the wire, nothing left to do
		_ = err
	}
}

// GetPaymentAnalytics handles the service-wide payment metrics request
func (h *Handler) GetPaymentAnalytics(w http.ResponseWriter, r *http.Request) {
	// Extract user ID from context (injected by auth middleware)
	userID := auth.UserID(r.Context())
	if userID == "" {
		h.Logger.Error("ANALYTICS", "User ID not found in context")
		sendJSONResponse(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized access"})
		return
	}

	currency := strings.ToLower(r.URL.Query().Get("currency"))

	metrics, err := h.Service.GetPaymentAnalytics(r.Context(), currency)
	if err != nil {
		h.Logger.Error("ANALYTICS", "Error getting payment analytics: "+err.Error())
		sendJSONResponse(w, http.StatusInternalServerError, map[string]string{"error": "Failed to get analytics"})
		return
	}

	sendJSONResponse(w, http.StatusOK, metrics)
}

// GetOrderSummaries handles the per-user order summary request with
// optional filters and sorting
func (h *Handler) GetOrderSummaries(w http.ResponseWriter, r *http.Request) {
	// Extract user ID from context (injected by auth middleware)
	userID := auth.UserID(r.Context())
	if userID == "" {
		h.Logger.Error("ANALYTICS", "User ID not found in context")
		sendJSONResponse(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized access"})
		return
	}

	// Parse query parameters
	options := analytics.OrderSummaryOptions{
		Status:   r.URL.Query().Get("status"),
		SortBy:   r.URL.Query().Get("sort"),
		SortDesc: r.URL.Query().Get("order") == "desc",
	}

	// Parse pagination parameters
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var limit int
		_, err := fmt.Sscanf(limitStr, "%d", &limit)
		if err == nil && limit > 0 {
			options.Limit = limit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		var offset int
		_, err := fmt.Sscanf(offsetStr, "%d", &offset)
		if err == nil && offset >= 0 {
			options.Offset = offset
		}
	}

	summaries, err := h.Service.GetUserOrderSummaries(r.Context(), userID, options)
	if err != nil {
		h.Logger.Error("ANALYTICS", "Error getting order summaries: "+err.Error())
		sendJSONResponse(w, http.StatusInternalServerError, map[string]string{"error": "Failed to get order summaries"})
		return
	}

	sendJSONResponse(w, http.StatusOK, summaries)
}

// GetOrderBatchAnalytics handles analytics requests for multiple orders
func (h *Handler) GetOrderBatchAnalytics(w http.ResponseWriter, r *http.Request) {
	// Parse request body to get order IDs
	var request struct {
		OrderIDs []string `json:"order_ids"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.Logger.Error("ANALYTICS", "Failed to parse request body: "+err.Error())
		sendJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
		return
	}

	if len(request.OrderIDs) == 0 {
		h.Logger.Error("ANALYTICS", "No order IDs provided")
		sendJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "No order IDs provided"})
		return
	}

	// Extract user ID from context (injected by auth middleware)
	userID := auth.UserID(r.Context())
	if userID == "" {
		h.Logger.Error("ANALYTICS", "User ID not found in context")
		sendJSONResponse(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized access"})
		return
	}

	// Narrow the batch to orders the caller actually owns
	ownedOrders, err := h.Service.FilterOwnedOrders(r.Context(), request.OrderIDs, userID)
	if err != nil {
		h.Logger.Error("ANALYTICS", "Error verifying order ownership: "+err.Error())
		sendJSONResponse(w, http.StatusInternalServerError, map[string]string{"error": "Failed to verify order ownership"})
		return
	}

	if len(ownedOrders) == 0 {
		h.Logger.Warn("ANALYTICS", fmt.Sprintf("User %s requested batch analytics without ownership of any orders", userID))
		sendJSONResponse(w, http.StatusForbidden, map[string]string{"error": "You do not have permission to access analytics for any of the requested orders"})
		return
	}

	metrics, err := h.Service.GetOrderBatchAnalytics(r.Context(), ownedOrders)
	if err != nil {
		h.Logger.Error("ANALYTICS", "Error getting batch analytics: "+err.Error())
		sendJSONResponse(w, http.StatusInternalServerError, map[string]string{"error": "Failed to get analytics"})
		return
	}

	h.Logger.Info("ANALYTICS", fmt.Sprintf("Returning aggregated payment analytics for %d orders", len(metrics.OrderIDs)))
	sendJSONResponse(w, http.StatusOK, metrics)
}
