package storage

import (
	"context"
	"errors"
	"time"

	"ms-commerce/internal/models"
)

var (
	// ErrNotFound is returned when no transaction exists for the identifier.
	ErrNotFound = errors.New("payment transaction not found")
	// ErrStaleStatus is returned by TransitionStatus when the row's status
	// no longer matches the expected one, i.e. another writer got there
	// first.
	ErrStaleStatus = errors.New("payment transaction status changed concurrently")
)

// StatusPatch carries the fields written alongside a status transition.
// Zero-valued fields are left untouched so a later transition never clears
// what an earlier one recorded.
type StatusPatch struct {
	GatewayRef   string
	ErrorMessage string
	RefundReason string
	CompletedAt  *time.Time
	UpdatedAt    time.Time
}

// Store persists payment transactions. TransitionStatus is conditional on
// the current status, which makes the database the final arbiter of the
// state machine under concurrent writers.
type Store interface {
	SaveTransaction(ctx context.Context, tx *models.PaymentTransaction) error
	GetTransaction(ctx context.Context, transactionID string) (*models.PaymentTransaction, error)
	ListTransactionsByOrder(ctx context.Context, orderID string) ([]models.PaymentTransaction, error)
	TransitionStatus(ctx context.Context, transactionID string, from, to models.PaymentStatus, patch StatusPatch) (*models.PaymentTransaction, error)
	HealthCheck(ctx context.Context) error
	Close() error
}
