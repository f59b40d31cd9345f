package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"ms-commerce/internal/models"
	"ms-commerce/internal/payment"
	"ms-commerce/internal/utils"
)

// Gin front door used by the standalone payment service. Semantics are
// identical to the chi handlers; only binding and parameter access differ.
// The standalone service runs behind the main API, so it trusts the
// X-User-ID header instead of carrying its own OIDC verifier.

// ProcessPayment processes a payment submission.
func (h *PaymentHandler) ProcessPayment(c *gin.Context) {
	var req models.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	status, resp := h.processPayment(c.Request.Context(), c.GetHeader("X-User-ID"), req)
	c.JSON(status, resp)
}

// RefundPayment refunds a single completed transaction.
func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	transactionID := c.Param("transactionId")

	var req models.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	status, resp := h.refundPayment(c.Request.Context(), transactionID, req.Reason)
	c.JSON(status, resp)
}

// GetTransaction returns a single payment transaction.
func (h *PaymentHandler) GetTransaction(c *gin.Context) {
	transactionID := c.Param("transactionId")

	tx, err := h.payments.GetTransaction(c.Request.Context(), transactionID)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			c.JSON(http.StatusNotFound, utils.ErrorResponse("Transaction not found", err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, utils.ErrorResponse("Failed to load transaction", err.Error()))
		return
	}

	c.JSON(http.StatusOK, utils.SuccessResponse("Transaction", tx))
}

// GetPaymentHistory lists every payment attempt against an order, newest
// first.
func (h *PaymentHandler) GetPaymentHistory(c *gin.Context) {
	orderID := c.Param("orderId")

	history, err := h.payments.GetPaymentHistory(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.ErrorResponse("Failed to load payment history", err.Error()))
		return
	}

	c.JSON(http.StatusOK, utils.SuccessResponse("Payment history", history))
}

// SettlementWebhook receives settlement notifications on the standalone
// service.
func (h *PaymentHandler) SettlementWebhook(c *gin.Context) {
	tx, err := h.handleSettlement(c.Request)
	if err != nil {
		var webhookErr *WebhookError
		if errors.As(err, &webhookErr) {
			c.JSON(webhookErr.StatusCode, utils.ErrorResponse("Settlement not applied", webhookErr.PublicError))
			return
		}
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Webhook processing error", err.Error()))
		return
	}

	c.JSON(http.StatusOK, utils.SuccessResponse("Settlement applied", tx))
}
