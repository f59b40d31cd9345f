package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-commerce/internal/auth"
	"ms-commerce/internal/logger"
	"ms-commerce/internal/sse"
)

// SSEHandler manages Server-Sent Events endpoints for live payment status
// updates.
type SSEHandler struct {
	Logger       *logger.Logger
	EventEmitter *sse.PaymentEventEmitter
	Orders       OrderService
}

// NewSSEHandler creates a new SSE handler on top of the shared emitter.
func NewSSEHandler(emitter *sse.PaymentEventEmitter, orders OrderService, log *logger.Logger) *SSEHandler {
	return &SSEHandler{
		Logger:       log,
		EventEmitter: emitter,
		Orders:       orders,
	}
}

// HandleOrderPayments streams payment events for a specific order
func (h *SSEHandler) HandleOrderPayments(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		http.Error(w, "Order ID is required", http.StatusBadRequest)
		return
	}

	// Verify the caller owns the order before opening a stream
	if err := h.verifyOrderAccess(r, orderID); err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("Order access verification failed: %v", err))
		http.Error(w, "Unauthorized access", http.StatusUnauthorized)
		return
	}

	h.setupSSEHeaders(w)

	// Context cancels when the client disconnects
	ctx := r.Context()

	eventChan := h.EventEmitter.SubscribeToOrder(ctx, orderID)

	// Initial handshake so clients know the stream is live
	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"orderID\":\"%s\"}\n\n", orderID)
	w.(http.Flusher).Flush()

	h.Logger.Info("SSE", fmt.Sprintf("Client connected to payment events for order: %s", orderID))

	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				h.Logger.Debug("SSE", fmt.Sprintf("Channel closed for order: %s", orderID))
				return
			}

			jsonData, err := json.Marshal(event)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize payment event: %v", err))
				continue
			}

			fmt.Fprintf(w, "event: payment\ndata: %s\n\n", jsonData)
			w.(http.Flusher).Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from payment events for order: %s", orderID))
			return
		}
	}
}

// HandleUserPayments streams payment events across all of a user's orders
func (h *SSEHandler) HandleUserPayments(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	// Users may only stream their own payment activity
	if err := h.verifyUserAccess(r, userID); err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("User access verification failed: %v", err))
		http.Error(w, "Unauthorized access", http.StatusUnauthorized)
		return
	}

	h.setupSSEHeaders(w)

	ctx := r.Context()

	eventChan := h.EventEmitter.SubscribeToUser(ctx, userID)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"userID\":\"%s\"}\n\n", userID)
	w.(http.Flusher).Flush()

	h.Logger.Info("SSE", fmt.Sprintf("Client connected to payment events for user: %s", userID))

	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				h.Logger.Debug("SSE", fmt.Sprintf("Channel closed for user: %s", userID))
				return
			}

			jsonData, err := json.Marshal(event)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize payment event: %v", err))
				continue
			}

			fmt.Fprintf(w, "event: payment\ndata: %s\n\n", jsonData)
			w.(http.Flusher).Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from payment events for user: %s", userID))
			return
		}
	}
}

// Helper function to set up SSE headers
func (h *SSEHandler) setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-XSS-Protection", "0")
	w.Header().Set("Referrer-Policy", "no-referrer")
}

// requestUserID resolves the caller's identity. The middleware normally
// placed it in the context; streams mounted outside the auth group fall
// back to parsing the token themselves (EventSource clients pass it as a
// query parameter).
func (h *SSEHandler) requestUserID(r *http.Request) (string, error) {
	if userID := auth.UserID(r.Context()); userID != "" {
		return userID, nil
	}

	token, err := auth.ExtractTokenFromRequest(r)
	if err != nil {
		return "", fmt.Errorf("failed to extract token: %w", err)
	}

	userID, err := auth.ExtractUserIDFromJWT(token)
	if err != nil {
		return "", fmt.Errorf("failed to extract user ID: %w", err)
	}

	return userID, nil
}

// Helper function to verify order access
func (h *SSEHandler) verifyOrderAccess(r *http.Request, orderID string) error {
	userID, err := h.requestUserID(r)
	if err != nil {
		return err
	}

	ord, err := h.Orders.GetOrder(r.Context(), orderID)
	if err != nil {
		return fmt.Errorf("failed to load order: %w", err)
	}

	if ord.UserID != userID {
		return fmt.Errorf("user %s does not own order %s", userID, orderID)
	}

	return nil
}

// Helper function to verify user stream access
func (h *SSEHandler) verifyUserAccess(r *http.Request, userID string) error {
	requester, err := h.requestUserID(r)
	if err != nil {
		return err
	}

	if requester != userID {
		return fmt.Errorf("user %s cannot stream payments of user %s", requester, userID)
	}

	return nil
}
