package payment_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"ms-commerce/internal/logger"
	"ms-commerce/internal/models"
	"ms-commerce/internal/payment"
	"ms-commerce/internal/payment/gateway"
	"ms-commerce/internal/payment/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store with the same conditional-update
// semantics as the bun implementation.
type fakeStore struct {
	mu      sync.Mutex
	txs     map[string]*models.PaymentTransaction
	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{txs: make(map[string]*models.PaymentTransaction)}
}

func (s *fakeStore) SaveTransaction(ctx context.Context, tx *models.PaymentTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	clone := *tx
	s.txs[tx.TransactionID] = &clone
	return nil
}

func (s *fakeStore) GetTransaction(ctx context.Context, transactionID string) (*models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[transactionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, transactionID)
	}
	clone := *tx
	return &clone, nil
}

func (s *fakeStore) ListTransactionsByOrder(ctx context.Context, orderID string) ([]models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]models.PaymentTransaction, 0)
	for _, tx := range s.txs {
		if tx.OrderID == orderID {
			result = append(result, *tx)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].TransactionID > result[j].TransactionID
	})
	return result, nil
}

func (s *fakeStore) TransitionStatus(ctx context.Context, transactionID string, from, to models.PaymentStatus, patch storage.StatusPatch) (*models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[transactionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, transactionID)
	}
	if tx.Status != from {
		return nil, fmt.Errorf("%w: expected %s, found %s", storage.ErrStaleStatus, from, tx.Status)
	}
	tx.Status = to
	tx.UpdatedAt = patch.UpdatedAt
	if patch.GatewayRef != "" {
		tx.GatewayRef = patch.GatewayRef
	}
	if patch.ErrorMessage != "" {
		tx.ErrorMessage = patch.ErrorMessage
	}
	if patch.RefundReason != "" {
		tx.RefundReason = patch.RefundReason
	}
	if patch.CompletedAt != nil {
		completedAt := *patch.CompletedAt
		tx.CompletedAt = &completedAt
	}
	clone := *tx
	return &clone, nil
}

func (s *fakeStore) HealthCheck(ctx context.Context) error { return nil }
func (s *fakeStore) Close() error                          { return nil }

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txs)
}

// Mock gateways and collaborators
type MockCardGateway struct {
	mock.Mock
}

func (m *MockCardGateway) ChargeCard(ctx context.Context, charge gateway.CardCharge) (string, error) {
	args := m.Called(ctx, charge)
	return args.String(0), args.Error(1)
}

type MockWalletGateway struct {
	mock.Mock
}

func (m *MockWalletGateway) ExecuteWalletPayment(ctx context.Context, charge gateway.WalletCharge) (string, error) {
	args := m.Called(ctx, charge)
	return args.String(0), args.Error(1)
}

type MockBankGateway struct {
	mock.Mock
}

func (m *MockBankGateway) ExecuteTransfer(ctx context.Context, transfer gateway.BankTransfer) (string, error) {
	args := m.Called(ctx, transfer)
	return args.String(0), args.Error(1)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishPaymentEvent(event models.PaymentEvent) error {
	args := m.Called(event)
	return args.Error(0)
}

// streamCollector records emitted events for assertions.
type streamCollector struct {
	mu     sync.Mutex
	events []models.PaymentEvent
}

func (c *streamCollector) Emit(event models.PaymentEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *streamCollector) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]string, 0, len(c.events))
	for _, e := range c.events {
		types = append(types, e.Type)
	}
	return types
}

type processorFixture struct {
	store  *fakeStore
	cards  *MockCardGateway
	wallet *MockWalletGateway
	bank   *MockBankGateway
	events *MockEventPublisher
	stream *streamCollector
	proc   *payment.Processor
}

func newProcessorFixture() *processorFixture {
	f := &processorFixture{
		store:  newFakeStore(),
		cards:  new(MockCardGateway),
		wallet: new(MockWalletGateway),
		bank:   new(MockBankGateway),
		events: new(MockEventPublisher),
		stream: &streamCollector{},
	}
	gateways := payment.Gateways{Cards: f.cards, Wallet: f.wallet, Bank: f.bank}
	f.proc = payment.NewProcessor(f.store, gateways, f.events, f.stream, logger.NewLogger())
	return f
}

// Tests start here

func TestProcessPaymentCardSuccess(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()

	f.cards.On("ChargeCard", mock.Anything, mock.MatchedBy(func(c gateway.CardCharge) bool {
		return c.Token == "tok_1" && c.Amount == 100 && !c.Debit
	})).Return("txn_ref_1", nil)
	f.events.On("PublishPaymentEvent", mock.MatchedBy(func(e models.PaymentEvent) bool {
		return e.Type == models.EventPaymentCompleted
	})).Return(nil)

	tx, err := f.proc.ProcessPayment(ctx, payment.ProcessPaymentInput{
		OrderID:    "o1",
		UserID:     "user-1",
		Amount:     100,
		Currency:   "USD",
		Method:     models.MethodCardCredit,
		Credential: "tok_1",
	})

	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, models.StatusCompleted, tx.Status)
	assert.NotNil(t, tx.CompletedAt)
	assert.Empty(t, tx.ErrorMessage)
	assert.Equal(t, "txn_ref_1", tx.GatewayRef)
	assert.Equal(t, "o1", tx.OrderID)

	persisted, err := f.store.GetTransaction(ctx, tx.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, persisted.Status)

	f.cards.AssertExpectations(t)
	f.events.AssertExpectations(t)
	assert.Equal(t, []string{models.EventPaymentCompleted}, f.stream.types())
}

func TestProcessPaymentCardDebitDispatch(t *testing.T) {
	f := newProcessorFixture()

	f.cards.On("ChargeCard", mock.Anything, mock.MatchedBy(func(c gateway.CardCharge) bool {
		return c.Debit
	})).Return("txn_ref_debit", nil)
	f.events.On("PublishPaymentEvent", mock.Anything).Return(nil)

	tx, err := f.proc.ProcessPayment(context.Background(), payment.ProcessPaymentInput{
		OrderID:    "o-debit",
		Amount:     250,
		Currency:   "USD",
		Method:     models.MethodCardDebit,
		Credential: "tok_debit",
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, tx.Status)
	f.cards.AssertExpectations(t)
}

func TestProcessPaymentWalletNoCredentialNeeded(t *testing.T) {
	f := newProcessorFixture()

	f.wallet.On("ExecuteWalletPayment", mock.Anything, mock.MatchedBy(func(c gateway.WalletCharge) bool {
		return c.Amount == 75 && c.OrderID == "o-wallet"
	})).Return("txn_ref_wallet", nil)
	f.events.On("PublishPaymentEvent", mock.Anything).Return(nil)

	tx, err := f.proc.ProcessPayment(context.Background(), payment.ProcessPaymentInput{
		OrderID:  "o-wallet",
		Amount:   75,
		Currency: "USD",
		Method:   models.MethodPayPal,
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, tx.Status)
	assert.Equal(t, "txn_ref_wallet", tx.GatewayRef)
}

func TestProcessPaymentBankTransferSynchronous(t *testing.T) {
	f := newProcessorFixture()

	f.bank.On("ExecuteTransfer", mock.Anything, mock.Anything).Return("txn_ref_bank", nil)
	f.events.On("PublishPaymentEvent", mock.Anything).Return(nil)

	tx, err := f.proc.ProcessPayment(context.Background(), payment.ProcessPaymentInput{
		OrderID:  "o-bank",
		Amount:   9000,
		Currency: "EUR",
		Method:   models.MethodBankTransfer,
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, tx.Status)
	assert.NotNil(t, tx.CompletedAt)
}

func TestProcessPaymentUnsupportedMethod(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()

	tx, err := f.proc.ProcessPayment(ctx, payment.ProcessPaymentInput{
		OrderID:  "o3",
		Amount:   75,
		Currency: "USD",
		Method:   models.PaymentMethod("bitcoin"),
	})

	assert.ErrorIs(t, err, payment.ErrUnsupportedMethod)
	assert.Nil(t, tx)
	// Rejected before persistence: no record, no events.
	assert.Equal(t, 0, f.store.count())
	assert.Empty(t, f.stream.types())

	history, err := f.proc.GetPaymentHistory(ctx, "o3")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestProcessPaymentMissingCredential(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()

	for _, method := range []models.PaymentMethod{models.MethodCardCredit, models.MethodCardDebit} {
		tx, err := f.proc.ProcessPayment(ctx, payment.ProcessPaymentInput{
			OrderID:  "o2",
			Amount:   50,
			Currency: "USD",
			Method:   method,
		})
		assert.ErrorIs(t, err, payment.ErrMissingCredential)
		assert.Nil(t, tx)
	}

	assert.Equal(t, 0, f.store.count())

	history, err := f.proc.GetPaymentHistory(ctx, "o2")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestProcessPaymentStrategyFailureIsRecorded(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()

	f.cards.On("ChargeCard", mock.Anything, mock.Anything).
		Return("", fmt.Errorf("%w: token tok_declined", gateway.ErrCardDeclined))
	f.events.On("PublishPaymentEvent", mock.MatchedBy(func(e models.PaymentEvent) bool {
		return e.Type == models.EventPaymentFailed && e.Reason != ""
	})).Return(nil)

	tx, err := f.proc.ProcessPayment(ctx, payment.ProcessPaymentInput{
		OrderID:    "o-fail",
		Amount:     120,
		Currency:   "USD",
		Method:     models.MethodCardCredit,
		Credential: "tok_declined",
	})

	// The caller sees the failure and the record survives as failed.
	assert.ErrorIs(t, err, payment.ErrStrategyFailure)
	require.NotNil(t, tx)
	assert.Equal(t, models.StatusFailed, tx.Status)
	assert.NotEmpty(t, tx.ErrorMessage)
	assert.Nil(t, tx.CompletedAt)

	history, histErr := f.proc.GetPaymentHistory(ctx, "o-fail")
	require.NoError(t, histErr)
	require.Len(t, history, 1)
	assert.Equal(t, models.StatusFailed, history[0].Status)
	assert.Contains(t, history[0].ErrorMessage, "card declined")

	f.events.AssertExpectations(t)
}

func TestRefundLifecycle(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()

	f.cards.On("ChargeCard", mock.Anything, mock.Anything).Return("txn_ref_1", nil)
	f.events.On("PublishPaymentEvent", mock.Anything).Return(nil)

	tx, err := f.proc.ProcessPayment(ctx, payment.ProcessPaymentInput{
		OrderID:    "o1",
		Amount:     100,
		Currency:   "USD",
		Method:     models.MethodCardCredit,
		Credential: "tok_1",
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, tx.Status)

	refunded, err := f.proc.RefundPayment(ctx, tx.TransactionID, "customer request")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefunded, refunded.Status)
	assert.Equal(t, "customer request", refunded.RefundReason)
	// The completion timestamp stays on the record as an audit fact.
	assert.NotNil(t, refunded.CompletedAt)

	// A second refund is an invalid transition and must not mutate anything.
	again, err := f.proc.RefundPayment(ctx, tx.TransactionID, "again")
	assert.ErrorIs(t, err, payment.ErrInvalidStateTransition)
	assert.Nil(t, again)

	persisted, err := f.store.GetTransaction(ctx, tx.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefunded, persisted.Status)
	assert.Equal(t, "customer request", persisted.RefundReason)
}

func TestRefundRejectsNonCompletedStates(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()
	now := time.Now()

	for _, status := range []models.PaymentStatus{models.StatusPending, models.StatusProcessing, models.StatusFailed} {
		id := fmt.Sprintf("pay_test_%s", status)
		require.NoError(t, f.store.SaveTransaction(ctx, &models.PaymentTransaction{
			TransactionID: id,
			OrderID:       "o-states",
			Amount:        10,
			Currency:      "USD",
			Method:        models.MethodPayPal,
			Status:        status,
			CreatedAt:     now,
			UpdatedAt:     now,
		}))

		tx, err := f.proc.RefundPayment(ctx, id, "nope")
		assert.ErrorIs(t, err, payment.ErrInvalidStateTransition, "status %s", status)
		assert.Nil(t, tx)

		persisted, getErr := f.store.GetTransaction(ctx, id)
		require.NoError(t, getErr)
		assert.Equal(t, status, persisted.Status, "record must stay untouched")
	}
}

func TestRefundNotFound(t *testing.T) {
	f := newProcessorFixture()

	tx, err := f.proc.RefundPayment(context.Background(), "pay_does_not_exist", "")
	assert.ErrorIs(t, err, payment.ErrNotFound)
	assert.Nil(t, tx)
	assert.Equal(t, 0, f.store.count())
}

func TestConcurrentRefundLosesConditionalUpdate(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, f.store.SaveTransaction(ctx, &models.PaymentTransaction{
		TransactionID: "pay_race",
		OrderID:       "o-race",
		Amount:        40,
		Currency:      "USD",
		Method:        models.MethodCardCredit,
		Status:        models.StatusCompleted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))

	// Another writer finalizes the row between the processor's read and its
	// conditional update.
	stale := &staleAfterReadStore{fakeStore: f.store}
	gateways := payment.Gateways{Cards: f.cards, Wallet: f.wallet, Bank: f.bank}
	proc := payment.NewProcessor(stale, gateways, f.events, f.stream, logger.NewLogger())

	tx, err := proc.RefundPayment(ctx, "pay_race", "late refund")
	assert.ErrorIs(t, err, payment.ErrInvalidStateTransition)
	assert.Nil(t, tx)
}

// staleAfterReadStore simulates a concurrent writer by flipping the row to
// refunded right after every read.
type staleAfterReadStore struct {
	*fakeStore
}

func (s *staleAfterReadStore) GetTransaction(ctx context.Context, transactionID string) (*models.PaymentTransaction, error) {
	tx, err := s.fakeStore.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	s.fakeStore.mu.Lock()
	s.fakeStore.txs[transactionID].Status = models.StatusRefunded
	s.fakeStore.mu.Unlock()
	return tx, nil
}

func TestPaymentHistoryOrderingAndIdempotence(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.SaveTransaction(ctx, &models.PaymentTransaction{
			TransactionID: fmt.Sprintf("pay_hist_%d", i),
			OrderID:       "o-hist",
			Amount:        int64(10 * (i + 1)),
			Currency:      "USD",
			Method:        models.MethodPayPal,
			Status:        models.StatusCompleted,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}

	first, err := f.proc.GetPaymentHistory(ctx, "o-hist")
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, "pay_hist_2", first[0].TransactionID, "most recent first")
	assert.Equal(t, "pay_hist_0", first[2].TransactionID)

	second, err := f.proc.GetPaymentHistory(ctx, "o-hist")
	require.NoError(t, err)
	assert.Equal(t, first, second, "no intervening writes, identical sequences")
}

func TestPublishFailureNeverFailsPayment(t *testing.T) {
	f := newProcessorFixture()

	f.cards.On("ChargeCard", mock.Anything, mock.Anything).Return("txn_ref_1", nil)
	f.events.On("PublishPaymentEvent", mock.Anything).Return(errors.New("broker down"))

	tx, err := f.proc.ProcessPayment(context.Background(), payment.ProcessPaymentInput{
		OrderID:    "o-kafka",
		Amount:     60,
		Currency:   "USD",
		Method:     models.MethodCardCredit,
		Credential: "tok_1",
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, tx.Status)
}

func TestDeferredBankSettlementLifecycle(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()

	f.bank.On("ExecuteTransfer", mock.Anything, mock.Anything).
		Return("txn_ref_deferred", fmt.Errorf("%w: ref txn_ref_deferred", gateway.ErrSettlementPending))
	f.events.On("PublishPaymentEvent", mock.Anything).Return(nil)

	tx, err := f.proc.ProcessPayment(ctx, payment.ProcessPaymentInput{
		OrderID:  "o-deferred",
		Amount:   700,
		Currency: "EUR",
		Method:   models.MethodBankTransfer,
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, tx.Status)
	assert.Equal(t, "txn_ref_deferred", tx.GatewayRef)
	assert.Nil(t, tx.CompletedAt)

	// Refund of a processing transaction stays illegal.
	_, err = f.proc.RefundPayment(ctx, tx.TransactionID, "")
	assert.ErrorIs(t, err, payment.ErrInvalidStateTransition)

	// Settlement confirmation finishes the lifecycle.
	confirmed, err := f.proc.ConfirmSettlement(ctx, tx.TransactionID, true, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, confirmed.Status)
	assert.NotNil(t, confirmed.CompletedAt)
	assert.Equal(t, "txn_ref_deferred", confirmed.GatewayRef)

	// A second confirmation has nothing to confirm.
	_, err = f.proc.ConfirmSettlement(ctx, tx.TransactionID, true, "")
	assert.ErrorIs(t, err, payment.ErrInvalidStateTransition)
}

func TestSettlementConfirmationFailure(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, f.store.SaveTransaction(ctx, &models.PaymentTransaction{
		TransactionID: "pay_deferred_fail",
		OrderID:       "o-deferred-fail",
		Amount:        300,
		Currency:      "EUR",
		Method:        models.MethodBankTransfer,
		Status:        models.StatusProcessing,
		GatewayRef:    "txn_ref_x",
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
	f.events.On("PublishPaymentEvent", mock.MatchedBy(func(e models.PaymentEvent) bool {
		return e.Type == models.EventPaymentFailed
	})).Return(nil)

	tx, err := f.proc.ConfirmSettlement(ctx, "pay_deferred_fail", false, "account closed")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, tx.Status)
	assert.Equal(t, "account closed", tx.ErrorMessage)
	assert.Nil(t, tx.CompletedAt)

	f.events.AssertExpectations(t)
}

func TestSettlementConfirmationNotFound(t *testing.T) {
	f := newProcessorFixture()

	_, err := f.proc.ConfirmSettlement(context.Background(), "pay_missing", true, "")
	assert.ErrorIs(t, err, payment.ErrNotFound)
}
