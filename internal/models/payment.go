package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusProcessing PaymentStatus = "processing"
	StatusCompleted  PaymentStatus = "completed"
	StatusFailed     PaymentStatus = "failed"
	StatusRefunded   PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	MethodCardCredit   PaymentMethod = "card-credit"
	MethodCardDebit    PaymentMethod = "card-debit"
	MethodPayPal       PaymentMethod = "paypal-style"
	MethodBankTransfer PaymentMethod = "bank-transfer"
)

// CanTransition reports whether a payment transaction may move between the
// two statuses. This table is the single authority for the lifecycle:
// pending may start processing or finalize, processing may only finalize,
// and completed payments may only be refunded. failed and refunded are
// terminal.
func CanTransition(from, to PaymentStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusCompleted || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted:
		return to == StatusRefunded
	default:
		return false
	}
}

// PaymentTransaction is the durable record of a single payment attempt.
// Retries never reuse a transaction; they create a new one.
type PaymentTransaction struct {
	bun.BaseModel `bun:"table:payment_transactions"`

	TransactionID string        `json:"transaction_id" bun:"transaction_id,pk"`
	OrderID       string        `json:"order_id" bun:"order_id"`
	UserID        string        `json:"user_id,omitempty" bun:"user_id,nullzero"`
	Amount        int64         `json:"amount" bun:"amount"`
	Currency      string        `json:"currency" bun:"currency"`
	Method        PaymentMethod `json:"method" bun:"method"`
	Status        PaymentStatus `json:"status" bun:"status"`
	GatewayRef    string        `json:"gateway_ref,omitempty" bun:"gateway_ref,nullzero"`
	ErrorMessage  string        `json:"error_message,omitempty" bun:"error_message,nullzero"`
	RefundReason  string        `json:"refund_reason,omitempty" bun:"refund_reason,nullzero"`
	CreatedAt     time.Time     `json:"created_at" bun:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" bun:"updated_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty" bun:"completed_at,nullzero"`
}

type PaymentRequest struct {
	OrderID    string `json:"order_id" binding:"required"`
	Amount     int64  `json:"amount,omitempty"` // defaults to the order total when omitted
	Currency   string `json:"currency,omitempty"`
	Method     string `json:"method" binding:"required"`
	Credential string `json:"credential,omitempty"` // card token for card methods
}

type RefundRequest struct {
	Reason string `json:"reason,omitempty"`
}

type BatchRefundRequest struct {
	TransactionIDs []string `json:"transaction_ids" binding:"required"`
	Reason         string   `json:"reason,omitempty"`
	Concurrency    int      `json:"concurrency,omitempty"`
}

// SettlementNotification is the webhook payload an external settlement
// party posts once a deferred bank transfer resolves.
type SettlementNotification struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	Succeeded     bool   `json:"succeeded"`
	Reason        string `json:"reason,omitempty"`
}

// Payment event types published to Kafka and fanned out over SSE.
const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"
	EventPaymentPending   = "payment.pending_settlement"
)

type PaymentEvent struct {
	Type          string        `json:"type"`
	TransactionID string        `json:"transaction_id"`
	OrderID       string        `json:"order_id"`
	UserID        string        `json:"user_id,omitempty"`
	Status        PaymentStatus `json:"status"`
	Method        PaymentMethod `json:"method"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	Reason        string        `json:"reason,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}
