package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"ms-commerce/internal/models"
	"ms-commerce/internal/payment"
	"ms-commerce/internal/utils"
)

// WebhookError carries enough context to log a settlement failure fully
// while answering the settlement party with only what it should see.
type WebhookError struct {
	Category      string
	StatusCode    int
	PublicError   string
	InternalError string
	OriginalErr   error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

func (e *WebhookError) Unwrap() error {
	return e.OriginalErr
}

func newWebhookError(category string, statusCode int, publicErr, internalErr string, err error) *WebhookError {
	return &WebhookError{
		Category:      category,
		StatusCode:    statusCode,
		PublicError:   publicErr,
		InternalError: internalErr,
		OriginalErr:   err,
	}
}

// Settlement providers retry aggressively; serialize notifications per
// transaction so retries queue up instead of racing.
var (
	settlementLocks   = make(map[string]*sync.Mutex)
	settlementLocksMu sync.Mutex
)

func lockForSettlement(transactionID string) *sync.Mutex {
	settlementLocksMu.Lock()
	defer settlementLocksMu.Unlock()

	m, ok := settlementLocks[transactionID]
	if !ok {
		m = &sync.Mutex{}
		settlementLocks[transactionID] = m
	}
	return m
}

// SettlementWebhookChi receives the external settlement notification that
// resolves a deferred bank transfer.
func (h *PaymentHandler) SettlementWebhookChi(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("WEBHOOK", "Received settlement notification")

	tx, err := h.handleSettlement(r)
	if err != nil {
		var webhookErr *WebhookError
		if errors.As(err, &webhookErr) {
			h.logger.Error("WEBHOOK", fmt.Sprintf("Settlement rejected: category=%s, status=%d: %s",
				webhookErr.Category, webhookErr.StatusCode, webhookErr.InternalError))
			utils.WriteJSON(w, webhookErr.StatusCode,
				utils.ErrorResponse("Settlement not applied", webhookErr.PublicError))
			return
		}

		h.logger.Error("WEBHOOK", fmt.Sprintf("Settlement processing error: %v", err))
		utils.WriteError(w, http.StatusBadRequest, "Webhook processing error", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Settlement applied", tx))
}

func (h *PaymentHandler) handleSettlement(r *http.Request) (*models.PaymentTransaction, error) {
	if h.cfg.WebhookSecret != "" {
		provided := r.Header.Get("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(h.cfg.WebhookSecret)) != 1 {
			return nil, newWebhookError("auth", http.StatusUnauthorized,
				"invalid webhook secret", "webhook secret mismatch", nil)
		}
	}

	var note models.SettlementNotification
	if err := json.NewDecoder(r.Body).Decode(&note); err != nil {
		return nil, newWebhookError("payload", http.StatusBadRequest,
			"malformed settlement payload", fmt.Sprintf("decode settlement payload: %v", err), err)
	}
	if note.TransactionID == "" {
		return nil, newWebhookError("payload", http.StatusBadRequest,
			"transaction_id is required", "settlement notification without transaction_id", nil)
	}

	mu := lockForSettlement(note.TransactionID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := h.payments.ConfirmSettlement(r.Context(), note.TransactionID, note.Succeeded, note.Reason)
	if err == nil {
		return tx, nil
	}

	if errors.Is(err, payment.ErrNotFound) {
		return nil, newWebhookError("lookup", http.StatusNotFound,
			"unknown transaction", fmt.Sprintf("settlement for unknown transaction %s", note.TransactionID), err)
	}

	if errors.Is(err, payment.ErrInvalidStateTransition) {
		// A repeated notification for an already-settled transaction is
		// acknowledged so the provider stops retrying.
		current, lookupErr := h.payments.GetTransaction(r.Context(), note.TransactionID)
		if lookupErr == nil && settlementAlreadyApplied(current, note) {
			h.logger.Info("WEBHOOK", fmt.Sprintf("Duplicate settlement notification for %s acknowledged", note.TransactionID))
			return current, nil
		}
		return nil, newWebhookError("state", http.StatusConflict,
			"transaction is not awaiting settlement", err.Error(), err)
	}

	return nil, newWebhookError("internal", http.StatusInternalServerError,
		"settlement processing failed", err.Error(), err)
}

func settlementAlreadyApplied(tx *models.PaymentTransaction, note models.SettlementNotification) bool {
	if tx == nil {
		return false
	}
	if note.Succeeded {
		return tx.Status == models.StatusCompleted
	}
	return tx.Status == models.StatusFailed
}
