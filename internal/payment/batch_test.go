package payment_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"ms-commerce/internal/logger"
	"ms-commerce/internal/models"
	"ms-commerce/internal/payment"
	"ms-commerce/internal/payment/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func seedCompleted(t *testing.T, store *fakeStore, id, orderID string) {
	t.Helper()
	now := time.Now()
	completedAt := now
	require.NoError(t, store.SaveTransaction(context.Background(), &models.PaymentTransaction{
		TransactionID: id,
		OrderID:       orderID,
		Amount:        100,
		Currency:      "USD",
		Method:        models.MethodCardCredit,
		Status:        models.StatusCompleted,
		GatewayRef:    "txn_ref_" + id,
		CreatedAt:     now,
		UpdatedAt:     now,
		CompletedAt:   &completedAt,
	}))
}

// Tests start here

func TestRefundBatchMixedResults(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()
	f.events.On("PublishPaymentEvent", mock.Anything).Return(nil)

	seedCompleted(t, f.store, "pay_b1", "o-batch")
	seedCompleted(t, f.store, "pay_b2", "o-batch")
	now := time.Now()
	require.NoError(t, f.store.SaveTransaction(ctx, &models.PaymentTransaction{
		TransactionID: "pay_b3",
		OrderID:       "o-batch",
		Amount:        100,
		Currency:      "USD",
		Method:        models.MethodPayPal,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))

	ids := []string{"pay_b1", "pay_b3", "pay_missing", "pay_b2"}
	results := f.proc.RefundBatch(ctx, ids, "recall", 2)

	require.Len(t, results, 4)
	for i, id := range ids {
		assert.Equal(t, id, results[i].TransactionID, "results keep input order")
	}

	require.NotNil(t, results[0].Transaction)
	assert.Equal(t, models.StatusRefunded, results[0].Transaction.Status)
	assert.Equal(t, "recall", results[0].Transaction.RefundReason)
	assert.Empty(t, results[0].Error)

	assert.Nil(t, results[1].Transaction)
	assert.Contains(t, results[1].Error, "invalid payment state transition")

	assert.Nil(t, results[2].Transaction)
	assert.Contains(t, results[2].Error, "not found")

	require.NotNil(t, results[3].Transaction)
	assert.Equal(t, models.StatusRefunded, results[3].Transaction.Status)

	// The failed entries never mutated their rows.
	pending, err := f.store.GetTransaction(ctx, "pay_b3")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, pending.Status)
}

func TestRefundBatchEmptyInput(t *testing.T) {
	f := newProcessorFixture()

	results := f.proc.RefundBatch(context.Background(), nil, "", 0)
	assert.Empty(t, results)
}

// countingStore tracks how many TransitionStatus calls run at once.
type countingStore struct {
	*fakeStore
	mu      sync.Mutex
	current int
	peak    int
}

func (s *countingStore) TransitionStatus(ctx context.Context, transactionID string, from, to models.PaymentStatus, patch storage.StatusPatch) (*models.PaymentTransaction, error) {
	s.mu.Lock()
	s.current++
	if s.current > s.peak {
		s.peak = s.current
	}
	s.mu.Unlock()

	time.Sleep(10 * time.Millisecond)
	tx, err := s.fakeStore.TransitionStatus(ctx, transactionID, from, to, patch)

	s.mu.Lock()
	s.current--
	s.mu.Unlock()
	return tx, err
}

func TestRefundBatchBoundsConcurrency(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()
	f.events.On("PublishPaymentEvent", mock.Anything).Return(nil)

	ids := make([]string, 6)
	for i := range ids {
		ids[i] = fmt.Sprintf("pay_cc_%d", i)
		seedCompleted(t, f.store, ids[i], "o-bound")
	}

	counting := &countingStore{fakeStore: f.store}
	gateways := payment.Gateways{Cards: f.cards, Wallet: f.wallet, Bank: f.bank}
	proc := payment.NewProcessor(counting, gateways, f.events, f.stream, logger.NewLogger())

	results := proc.RefundBatch(ctx, ids, "bulk", 2)

	require.Len(t, results, 6)
	for _, r := range results {
		assert.Empty(t, r.Error)
		require.NotNil(t, r.Transaction)
		assert.Equal(t, models.StatusRefunded, r.Transaction.Status)
	}
	assert.LessOrEqual(t, counting.peak, 2, "no more refunds in flight than workers")
	assert.Greater(t, counting.peak, 0)
}
