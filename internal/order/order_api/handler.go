package order_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-commerce/internal/auth"
	"ms-commerce/internal/logger"
	"ms-commerce/internal/models"
	"ms-commerce/internal/order"
)

type Handler struct {
	OrderService *order.OrderService
	Logger       *logger.Logger
}

func NewHandler(orderService *order.OrderService, log *logger.Logger) *Handler {
	return &Handler{
		OrderService: orderService,
		Logger:       log,
	}
}

// PlaceOrder creates an order for the authenticated user.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	h.Logger.Info("API", "PlaceOrder: received request")

	userID := auth.UserID(r.Context())
	if userID == "" {
		h.Logger.Error("API", "PlaceOrder: no authenticated user in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var orderReq models.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&orderReq); err != nil {
		h.Logger.Error("API", fmt.Sprintf("PlaceOrder: failed to decode request body: %v", err))
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	created, err := h.OrderService.PlaceOrder(r.Context(), userID, orderReq)
	if err != nil {
		if errors.Is(err, order.ErrInvalidAmount) {
			h.Logger.Error("API", fmt.Sprintf("PlaceOrder: rejected: %v", err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("PlaceOrder: could not place order: %v", err))
		http.Error(w, "Could not place order: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(created); err != nil {
		h.Logger.Error("API", fmt.Sprintf("PlaceOrder: failed to encode response: %v", err))
		return
	}
	h.Logger.Info("API", fmt.Sprintf("PlaceOrder: order %s created successfully", created.OrderID))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.Logger.Info("API", fmt.Sprintf("GetOrder: orderId=%s", orderID))

	orderData, err := h.OrderService.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			h.Logger.Error("API", fmt.Sprintf("GetOrder: order not found: %v", err))
			http.Error(w, "Order not found", http.StatusNotFound)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("GetOrder: failed to load order: %v", err))
		http.Error(w, "Could not load order", http.StatusInternalServerError)
		return
	}
	h.Logger.Debug("API", fmt.Sprintf("GetOrder: found order: %+v", orderData))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(orderData); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetOrder: failed to encode response: %v", err))
		return
	}
	h.Logger.Info("API", "GetOrder: response sent successfully")
}

func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.Logger.Info("API", fmt.Sprintf("UpdateOrder: orderId=%s", orderID))

	var orderReq models.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&orderReq); err != nil {
		h.Logger.Error("API", fmt.Sprintf("UpdateOrder: failed to decode request body: %v", err))
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	updated, err := h.OrderService.UpdateOrder(r.Context(), orderID, orderReq)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("UpdateOrder: failed to update order: %v", err))
		switch {
		case errors.Is(err, order.ErrNotFound):
			http.Error(w, "Order not found", http.StatusNotFound)
		case errors.Is(err, order.ErrInvalidState):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, order.ErrInvalidAmount):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, "Could not update order: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(updated); err != nil {
		h.Logger.Error("API", fmt.Sprintf("UpdateOrder: failed to encode response: %v", err))
		return
	}
	h.Logger.Info("API", "UpdateOrder: order updated successfully")
}

// DeleteOrder cancels an order. Orders are never hard-deleted because
// payment transactions keep referencing them.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.Logger.Info("API", fmt.Sprintf("DeleteOrder: orderId=%s", orderID))

	if err := h.OrderService.CancelOrder(r.Context(), orderID); err != nil {
		h.Logger.Error("API", fmt.Sprintf("DeleteOrder: failed to cancel order: %v", err))
		switch {
		case errors.Is(err, order.ErrNotFound):
			http.Error(w, "Order not found", http.StatusNotFound)
		case errors.Is(err, order.ErrInvalidState):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, "Could not cancel order: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}
	h.Logger.Info("API", "DeleteOrder: order cancelled successfully")

	w.WriteHeader(http.StatusNoContent)
}

// ListMyOrders returns the authenticated user's orders.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("ListMyOrders: userId=%s", userID))

	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	orders, err := h.OrderService.ListOrdersForUser(r.Context(), userID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListMyOrders: failed to list orders: %v", err))
		http.Error(w, "Failed to retrieve orders: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(orders); err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListMyOrders: failed to encode response: %v", err))
		return
	}
	h.Logger.Info("API", fmt.Sprintf("ListMyOrders: %d orders sent for user %s", len(orders), userID))
}

// GetOrdersWithPaymentsByUserID returns a user's orders together with
// every payment attempt against them.
func (h *Handler) GetOrdersWithPaymentsByUserID(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	h.Logger.Info("API", fmt.Sprintf("GetOrdersWithPaymentsByUserID: userId=%s", userID))

	if userID == "" {
		h.Logger.Error("API", "GetOrdersWithPaymentsByUserID: user ID is required")
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	ordersWithPayments, err := h.OrderService.ListOrdersWithPayments(r.Context(), userID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetOrdersWithPaymentsByUserID: failed to get orders with payments: %v", err))
		http.Error(w, "Failed to retrieve orders: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.Logger.Debug("API", fmt.Sprintf("GetOrdersWithPaymentsByUserID: found %d orders for user %s", len(ordersWithPayments), userID))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ordersWithPayments); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetOrdersWithPaymentsByUserID: failed to encode response: %v", err))
		return
	}
	h.Logger.Info("API", fmt.Sprintf("GetOrdersWithPaymentsByUserID: response sent successfully for user %s", userID))
}
