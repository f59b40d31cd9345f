package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ms-commerce/internal/auth"
	"ms-commerce/internal/config"
	"ms-commerce/internal/logger"
	"ms-commerce/internal/models"
	"ms-commerce/internal/order"
	"ms-commerce/internal/payment"
	"ms-commerce/internal/payment/receipt"
	redislock "ms-commerce/internal/payment/redis"
	"ms-commerce/internal/utils"
)

// PaymentService is the slice of the payment processor the handlers use.
type PaymentService interface {
	ProcessPayment(ctx context.Context, in payment.ProcessPaymentInput) (*models.PaymentTransaction, error)
	RefundPayment(ctx context.Context, transactionID, reason string) (*models.PaymentTransaction, error)
	RefundBatch(ctx context.Context, transactionIDs []string, reason string, workers int) []payment.RefundResult
	GetPaymentHistory(ctx context.Context, orderID string) ([]models.PaymentTransaction, error)
	GetTransaction(ctx context.Context, transactionID string) (*models.PaymentTransaction, error)
	ConfirmSettlement(ctx context.Context, transactionID string, succeeded bool, reason string) (*models.PaymentTransaction, error)
}

// OrderService resolves orders for incoming payment requests.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
}

type PaymentHandler struct {
	payments PaymentService
	orders   OrderService
	locks    *redislock.Locks
	receipts *receipt.Generator
	cfg      config.PaymentConfig
	logger   *logger.Logger
}

func NewPaymentHandler(payments PaymentService, orders OrderService, locks *redislock.Locks, receipts *receipt.Generator, cfg config.PaymentConfig, log *logger.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		orders:   orders,
		locks:    locks,
		receipts: receipts,
		cfg:      cfg,
		logger:   log,
	}
}

// processPayment runs the full submission flow and returns the HTTP status
// plus response envelope, so the chi and gin front doors cannot drift apart.
func (h *PaymentHandler) processPayment(ctx context.Context, userID string, req models.PaymentRequest) (int, utils.APIResponse) {
	if req.OrderID == "" {
		return http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", "order_id is required")
	}
	if req.Method == "" {
		return http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", "method is required")
	}
	if req.Amount < 0 {
		return http.StatusBadRequest, utils.ErrorResponse("Invalid request payload",
			fmt.Sprintf("amount cannot be negative, got %d", req.Amount))
	}

	ord, err := h.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return http.StatusNotFound, utils.ErrorResponse("Order not found",
				fmt.Sprintf("no order found for order_id %s", req.OrderID))
		}
		return http.StatusInternalServerError, utils.ErrorResponse("Order lookup failed", err.Error())
	}

	switch ord.Status {
	case models.OrderStatusCancelled:
		return http.StatusConflict, utils.ErrorResponse("Order not payable", "order has been cancelled")
	case models.OrderStatusPaid:
		return http.StatusConflict, utils.ErrorResponse("Order not payable", "order is already paid")
	}

	// The order total is authoritative. The request may omit the amount; a
	// mismatching amount is rejected rather than silently overridden.
	amount := req.Amount
	if amount == 0 {
		amount = ord.TotalAmount
		h.logger.Info("PAYMENT", fmt.Sprintf("Using order total %d for order %s", amount, req.OrderID))
	} else if amount != ord.TotalAmount {
		return http.StatusUnprocessableEntity, utils.ErrorResponse("Amount mismatch",
			fmt.Sprintf("request amount %d does not match order total %d", amount, ord.TotalAmount))
	}

	currency := req.Currency
	if currency == "" {
		currency = ord.Currency
	}
	if currency == "" {
		currency = h.cfg.DefaultCurrency
	}

	// One in-flight payment per order. The lock TTL backstops a crashed
	// handler; a disconnected client simply lets the lock expire.
	holder := uuid.NewString()
	acquired, err := h.locks.AcquireOrderLock(ctx, req.OrderID, holder)
	if err != nil {
		return http.StatusInternalServerError, utils.ErrorResponse("Lock acquisition failed", err.Error())
	}
	if !acquired {
		return http.StatusConflict, utils.ErrorResponse("Payment already in progress",
			"another payment for this order is being processed")
	}
	defer func() {
		if err := h.locks.ReleaseOrderLock(ctx, req.OrderID, holder); err != nil {
			h.logger.Warn("PAYMENT", fmt.Sprintf("Failed to release order lock for %s: %v", req.OrderID, err))
		}
	}()

	tx, err := h.payments.ProcessPayment(ctx, payment.ProcessPaymentInput{
		OrderID:    req.OrderID,
		UserID:     userID,
		Amount:     amount,
		Currency:   currency,
		Method:     models.PaymentMethod(req.Method),
		Credential: req.Credential,
	})
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrUnsupportedMethod):
			return http.StatusBadRequest, utils.ErrorResponse("Unsupported payment method", err.Error())
		case errors.Is(err, payment.ErrMissingCredential):
			return http.StatusBadRequest, utils.ErrorResponse("Missing payment credential", err.Error())
		case errors.Is(err, payment.ErrStrategyFailure):
			// The failed attempt is durable; hand the record back with the error
			resp := utils.ErrorResponse("Payment declined", err.Error())
			resp.Data = tx
			return http.StatusPaymentRequired, resp
		default:
			return http.StatusInternalServerError, utils.ErrorResponse("Payment processing failed", err.Error())
		}
	}

	if tx.Status == models.StatusProcessing {
		return http.StatusAccepted, utils.SuccessResponse("Payment accepted, settlement pending", tx)
	}
	return http.StatusCreated, utils.SuccessResponse("Payment processed", tx)
}

func (h *PaymentHandler) refundPayment(ctx context.Context, transactionID, reason string) (int, utils.APIResponse) {
	if transactionID == "" {
		return http.StatusBadRequest, utils.ErrorResponse("Invalid request", "transaction id is required")
	}

	tx, err := h.payments.RefundPayment(ctx, transactionID, reason)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrNotFound):
			return http.StatusNotFound, utils.ErrorResponse("Transaction not found", err.Error())
		case errors.Is(err, payment.ErrInvalidStateTransition):
			return http.StatusConflict, utils.ErrorResponse("Refund rejected", err.Error())
		default:
			return http.StatusInternalServerError, utils.ErrorResponse("Refund failed", err.Error())
		}
	}
	return http.StatusOK, utils.SuccessResponse("Payment refunded", tx)
}

// ProcessPaymentChi handles payment submission on the chi router.
func (h *PaymentHandler) ProcessPaymentChi(w http.ResponseWriter, r *http.Request) {
	var req models.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	status, resp := h.processPayment(r.Context(), auth.UserID(r.Context()), req)
	utils.WriteJSON(w, status, resp)
}

// RefundPaymentChi refunds a single completed transaction. The body is
// optional; an empty body refunds without a recorded reason.
func (h *PaymentHandler) RefundPaymentChi(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionId")

	var req models.RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	status, resp := h.refundPayment(r.Context(), transactionID, req.Reason)
	utils.WriteJSON(w, status, resp)
}

// BatchRefundChi refunds a set of transactions with bounded concurrency and
// reports a per-transaction outcome list.
func (h *PaymentHandler) BatchRefundChi(w http.ResponseWriter, r *http.Request) {
	var req models.BatchRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request payload", err)
		return
	}
	if len(req.TransactionIDs) == 0 {
		utils.WriteJSON(w, http.StatusBadRequest,
			utils.ErrorResponse("Invalid request payload", "transaction_ids is required"))
		return
	}

	workers := req.Concurrency
	if workers <= 0 {
		workers = h.cfg.BatchRefundWorkers
	}

	results := h.payments.RefundBatch(r.Context(), req.TransactionIDs, req.Reason, workers)
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Batch refund finished", results))
}

// GetTransactionChi returns a single payment transaction.
func (h *PaymentHandler) GetTransactionChi(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionId")

	tx, err := h.payments.GetTransaction(r.Context(), transactionID)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			utils.WriteError(w, http.StatusNotFound, "Transaction not found", err)
			return
		}
		utils.WriteError(w, http.StatusInternalServerError, "Failed to load transaction", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Transaction", tx))
}

// GetPaymentHistoryChi lists every payment attempt against an order, newest
// first. An order with no attempts yields an empty list, not a 404.
func (h *PaymentHandler) GetPaymentHistoryChi(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	history, err := h.payments.GetPaymentHistory(r.Context(), orderID)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Failed to load payment history", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Payment history", history))
}

// GetReceiptChi issues the receipt for a settled transaction, including the
// encrypted token a third party can later verify.
func (h *PaymentHandler) GetReceiptChi(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionId")

	tx, err := h.payments.GetTransaction(r.Context(), transactionID)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			utils.WriteError(w, http.StatusNotFound, "Transaction not found", err)
			return
		}
		utils.WriteError(w, http.StatusInternalServerError, "Failed to load transaction", err)
		return
	}

	rcpt, err := receipt.For(tx, time.Now())
	if err != nil {
		if errors.Is(err, receipt.ErrNotSettled) {
			utils.WriteError(w, http.StatusConflict, "Receipt unavailable", err)
			return
		}
		utils.WriteError(w, http.StatusInternalServerError, "Receipt generation failed", err)
		return
	}

	token, err := h.receipts.EncodeToken(rcpt)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Receipt generation failed", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Receipt issued", map[string]interface{}{
		"receipt": rcpt,
		"token":   token,
	}))
}

// GetReceiptQRChi renders the encrypted receipt token as a QR code PNG.
func (h *PaymentHandler) GetReceiptQRChi(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionId")

	tx, err := h.payments.GetTransaction(r.Context(), transactionID)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			utils.WriteError(w, http.StatusNotFound, "Transaction not found", err)
			return
		}
		utils.WriteError(w, http.StatusInternalServerError, "Failed to load transaction", err)
		return
	}

	png, err := h.receipts.GenerateEncryptedQR(tx, time.Now())
	if err != nil {
		if errors.Is(err, receipt.ErrNotSettled) {
			utils.WriteError(w, http.StatusConflict, "Receipt unavailable", err)
			return
		}
		utils.WriteError(w, http.StatusInternalServerError, "Receipt generation failed", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.logger.Error("API", fmt.Sprintf("GetReceiptQR: failed to write PNG: %v", err))
	}
}

// VerifyReceiptChi decrypts a receipt token and returns its contents.
func (h *PaymentHandler) VerifyReceiptChi(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request payload", err)
		return
	}
	if req.Token == "" {
		utils.WriteJSON(w, http.StatusBadRequest,
			utils.ErrorResponse("Invalid request payload", "token is required"))
		return
	}

	rcpt, err := h.receipts.DecodeToken(req.Token)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid receipt token", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Receipt verified", rcpt))
}
