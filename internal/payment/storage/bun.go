package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ms-commerce/internal/logger"
	"ms-commerce/internal/models"

	"github.com/uptrace/bun"
)

// BunStore is the bun-backed Store. Binaries hand it a postgres-backed
// *bun.DB; tests use the sqlite shim.
type BunStore struct {
	db  *bun.DB
	log *logger.Logger
}

func NewBunStore(db *bun.DB, log *logger.Logger) *BunStore {
	return &BunStore{db: db, log: log}
}

func (s *BunStore) SaveTransaction(ctx context.Context, tx *models.PaymentTransaction) error {
	_, err := s.db.NewInsert().Model(tx).Exec(ctx)
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("insert payment transaction %s failed: %v", tx.TransactionID, err))
		return fmt.Errorf("insert payment transaction: %w", err)
	}
	s.log.LogDatabase("INSERT", "payment_transactions", tx.TransactionID)
	return nil
}

func (s *BunStore) GetTransaction(ctx context.Context, transactionID string) (*models.PaymentTransaction, error) {
	tx := new(models.PaymentTransaction)
	err := s.db.NewSelect().
		Model(tx).
		Where("transaction_id = ?", transactionID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, transactionID)
		}
		s.log.Error("DATABASE", fmt.Sprintf("select payment transaction %s failed: %v", transactionID, err))
		return nil, fmt.Errorf("select payment transaction: %w", err)
	}
	return tx, nil
}

func (s *BunStore) ListTransactionsByOrder(ctx context.Context, orderID string) ([]models.PaymentTransaction, error) {
	txs := make([]models.PaymentTransaction, 0)
	err := s.db.NewSelect().
		Model(&txs).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Order("transaction_id DESC").
		Scan(ctx)
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("list payment transactions for order %s failed: %v", orderID, err))
		return nil, fmt.Errorf("list payment transactions: %w", err)
	}
	s.log.LogDatabase("SELECT", "payment_transactions", fmt.Sprintf("order %s: %d row(s)", orderID, len(txs)))
	return txs, nil
}

// TransitionStatus applies the patch in a single conditional UPDATE. When
// the row was finalized by another writer in the meantime, the update
// matches nothing and the caller gets ErrStaleStatus together with the
// status actually on the row.
func (s *BunStore) TransitionStatus(ctx context.Context, transactionID string, from, to models.PaymentStatus, patch StatusPatch) (*models.PaymentTransaction, error) {
	q := s.db.NewUpdate().
		Model((*models.PaymentTransaction)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", patch.UpdatedAt).
		Where("transaction_id = ?", transactionID).
		Where("status = ?", from)

	if patch.GatewayRef != "" {
		q = q.Set("gateway_ref = ?", patch.GatewayRef)
	}
	if patch.ErrorMessage != "" {
		q = q.Set("error_message = ?", patch.ErrorMessage)
	}
	if patch.RefundReason != "" {
		q = q.Set("refund_reason = ?", patch.RefundReason)
	}
	if patch.CompletedAt != nil {
		q = q.Set("completed_at = ?", *patch.CompletedAt)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("transition %s %s->%s failed: %v", transactionID, from, to, err))
		return nil, fmt.Errorf("update payment transaction: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update payment transaction: %w", err)
	}
	if rows == 0 {
		current, getErr := s.GetTransaction(ctx, transactionID)
		if getErr != nil {
			return nil, getErr
		}
		s.log.Warn("DATABASE", fmt.Sprintf("stale transition %s %s->%s, row is %s", transactionID, from, to, current.Status))
		return nil, fmt.Errorf("%w: expected %s, found %s", ErrStaleStatus, from, current.Status)
	}

	s.log.LogDatabase("UPDATE", "payment_transactions", fmt.Sprintf("%s %s -> %s", transactionID, from, to))
	return s.GetTransaction(ctx, transactionID)
}

func (s *BunStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *BunStore) Close() error {
	return s.db.Close()
}
