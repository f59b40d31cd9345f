package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Order statuses. Payment outcomes are synchronized onto orders by the
// payment-events consumer, never by the payment core itself.
const (
	OrderStatusCreated       = "created"
	OrderStatusPaid          = "paid"
	OrderStatusPaymentFailed = "payment_failed"
	OrderStatusRefunded      = "refunded"
	OrderStatusCancelled     = "cancelled"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	OrderID     string    `json:"order_id" bun:"order_id,pk"`
	UserID      string    `json:"user_id" bun:"user_id"`
	Description string    `json:"description,omitempty" bun:"description,nullzero"`
	TotalAmount int64     `json:"total_amount" bun:"total_amount"`
	Currency    string    `json:"currency" bun:"currency"`
	Status      string    `json:"status" bun:"status"`
	CreatedAt   time.Time `json:"created_at" bun:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" bun:"updated_at"`
}

type OrderRequest struct {
	Description string `json:"description,omitempty"`
	TotalAmount int64  `json:"total_amount" binding:"required"`
	Currency    string `json:"currency,omitempty"`
}

type OrderResponse struct {
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	TotalAmount int64  `json:"total_amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
}

// OrderWithPayments pairs an order with its payment attempts for account
// views.
type OrderWithPayments struct {
	Order    Order                `json:"order"`
	Payments []PaymentTransaction `json:"payments"`
}
