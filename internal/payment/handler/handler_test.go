package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-commerce/internal/config"
	"ms-commerce/internal/logger"
	"ms-commerce/internal/models"
	"ms-commerce/internal/order"
	"ms-commerce/internal/payment"
	handlers "ms-commerce/internal/payment/handler"
	"ms-commerce/internal/payment/receipt"
	redislock "ms-commerce/internal/payment/redis"
)

const testReceiptSecret = "test-receipt-secret"

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) ProcessPayment(ctx context.Context, in payment.ProcessPaymentInput) (*models.PaymentTransaction, error) {
	args := m.Called(ctx, in)
	var tx *models.PaymentTransaction
	if args.Get(0) != nil {
		tx = args.Get(0).(*models.PaymentTransaction)
	}
	return tx, args.Error(1)
}

func (m *MockPaymentService) RefundPayment(ctx context.Context, transactionID, reason string) (*models.PaymentTransaction, error) {
	args := m.Called(ctx, transactionID, reason)
	var tx *models.PaymentTransaction
	if args.Get(0) != nil {
		tx = args.Get(0).(*models.PaymentTransaction)
	}
	return tx, args.Error(1)
}

func (m *MockPaymentService) RefundBatch(ctx context.Context, transactionIDs []string, reason string, workers int) []payment.RefundResult {
	args := m.Called(ctx, transactionIDs, reason, workers)
	return args.Get(0).([]payment.RefundResult)
}

func (m *MockPaymentService) GetPaymentHistory(ctx context.Context, orderID string) ([]models.PaymentTransaction, error) {
	args := m.Called(ctx, orderID)
	var history []models.PaymentTransaction
	if args.Get(0) != nil {
		history = args.Get(0).([]models.PaymentTransaction)
	}
	return history, args.Error(1)
}

func (m *MockPaymentService) GetTransaction(ctx context.Context, transactionID string) (*models.PaymentTransaction, error) {
	args := m.Called(ctx, transactionID)
	var tx *models.PaymentTransaction
	if args.Get(0) != nil {
		tx = args.Get(0).(*models.PaymentTransaction)
	}
	return tx, args.Error(1)
}

func (m *MockPaymentService) ConfirmSettlement(ctx context.Context, transactionID string, succeeded bool, reason string) (*models.PaymentTransaction, error) {
	args := m.Called(ctx, transactionID, succeeded, reason)
	var tx *models.PaymentTransaction
	if args.Get(0) != nil {
		tx = args.Get(0).(*models.PaymentTransaction)
	}
	return tx, args.Error(1)
}

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	args := m.Called(ctx, orderID)
	var ord *models.Order
	if args.Get(0) != nil {
		ord = args.Get(0).(*models.Order)
	}
	return ord, args.Error(1)
}

type handlerFixture struct {
	payments *MockPaymentService
	orders   *MockOrderService
	handler  *handlers.PaymentHandler
	client   *redis.Client
	mr       *miniredis.Miniredis
	log      *logger.Logger
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := logger.NewLogger()
	t.Cleanup(func() { log.Close() })

	payments := new(MockPaymentService)
	orders := new(MockOrderService)

	h := handlers.NewPaymentHandler(
		payments,
		orders,
		redislock.NewLocks(client, time.Minute, log),
		receipt.NewGenerator(testReceiptSecret),
		config.PaymentConfig{
			DefaultCurrency:    "usd",
			BatchRefundWorkers: 2,
			WebhookSecret:      "hook-secret",
		},
		log,
	)

	return &handlerFixture{
		payments: payments,
		orders:   orders,
		handler:  h,
		client:   client,
		mr:       mr,
		log:      log,
	}
}

func (f *handlerFixture) router() *chi.Mux {
	r := chi.NewRouter()
	r.Post("/api/payments", f.handler.ProcessPaymentChi)
	r.Post("/api/payments/refunds", f.handler.BatchRefundChi)
	r.Post("/api/payments/receipts/verify", f.handler.VerifyReceiptChi)
	r.Post("/api/payments/{transactionId}/refund", f.handler.RefundPaymentChi)
	r.Get("/api/payments/{transactionId}", f.handler.GetTransactionChi)
	r.Get("/api/payments/{transactionId}/receipt", f.handler.GetReceiptChi)
	r.Get("/api/payments/{transactionId}/receipt/qr", f.handler.GetReceiptQRChi)
	r.Get("/api/payments/order/{orderId}", f.handler.GetPaymentHistoryChi)
	r.Post("/webhooks/settlement", f.handler.SettlementWebhookChi)
	return r
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, router http.Handler, method, target string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func payableOrder() *models.Order {
	return &models.Order{
		OrderID:     "ord_1",
		UserID:      "user_1",
		TotalAmount: 2500,
		Currency:    "usd",
		Status:      models.OrderStatusCreated,
	}
}

func completedTransaction(id string) *models.PaymentTransaction {
	now := time.Now()
	return &models.PaymentTransaction{
		TransactionID: id,
		OrderID:       "ord_1",
		UserID:        "user_1",
		Amount:        2500,
		Currency:      "usd",
		Method:        models.MethodCardCredit,
		Status:        models.StatusCompleted,
		GatewayRef:    "txn_ref_1",
		CreatedAt:     now,
		UpdatedAt:     now,
		CompletedAt:   &now,
	}
}

// Tests start here

func TestProcessPaymentCreated(t *testing.T) {
	f := newHandlerFixture(t)
	f.orders.On("GetOrder", mock.Anything, "ord_1").Return(payableOrder(), nil)
	f.payments.On("ProcessPayment", mock.Anything, mock.MatchedBy(func(in payment.ProcessPaymentInput) bool {
		return in.OrderID == "ord_1" && in.Amount == 2500 && in.Currency == "usd" &&
			in.Method == models.MethodCardCredit && in.Credential == "tok_visa"
	})).Return(completedTransaction("pay_1"), nil)

	rec, env := doJSON(t, f.router(), http.MethodPost, "/api/payments", models.PaymentRequest{
		OrderID:    "ord_1",
		Method:     "card-credit",
		Credential: "tok_visa",
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, env.Success)

	var tx models.PaymentTransaction
	require.NoError(t, json.Unmarshal(env.Data, &tx))
	assert.Equal(t, "pay_1", tx.TransactionID)
	assert.Equal(t, models.StatusCompleted, tx.Status)

	// The order lock must be released once the request finishes
	assert.False(t, f.mr.Exists("payment_lock:ord_1"))
	f.payments.AssertExpectations(t)
}

func TestProcessPaymentDeferredSettlement(t *testing.T) {
	f := newHandlerFixture(t)
	tx := completedTransaction("pay_2")
	tx.Status = models.StatusProcessing
	tx.CompletedAt = nil

	f.orders.On("GetOrder", mock.Anything, "ord_1").Return(payableOrder(), nil)
	f.payments.On("ProcessPayment", mock.Anything, mock.Anything).Return(tx, nil)

	rec, env := doJSON(t, f.router(), http.MethodPost, "/api/payments", models.PaymentRequest{
		OrderID: "ord_1",
		Method:  "bank-transfer",
	})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, env.Success)
	assert.Contains(t, env.Message, "settlement pending")
}

func TestProcessPaymentUnknownOrder(t *testing.T) {
	f := newHandlerFixture(t)
	f.orders.On("GetOrder", mock.Anything, "ord_missing").Return(nil, order.ErrNotFound)

	rec, env := doJSON(t, f.router(), http.MethodPost, "/api/payments", models.PaymentRequest{
		OrderID: "ord_missing",
		Method:  "card-credit",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
	f.payments.AssertNotCalled(t, "ProcessPayment", mock.Anything, mock.Anything)
}

func TestProcessPaymentAmountMismatch(t *testing.T) {
	f := newHandlerFixture(t)
	f.orders.On("GetOrder", mock.Anything, "ord_1").Return(payableOrder(), nil)

	rec, env := doJSON(t, f.router(), http.MethodPost, "/api/payments", models.PaymentRequest{
		OrderID: "ord_1",
		Amount:  999,
		Method:  "card-credit",
	})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, env.Error, "does not match order total")
	f.payments.AssertNotCalled(t, "ProcessPayment", mock.Anything, mock.Anything)
}

func TestProcessPaymentOrderNotPayable(t *testing.T) {
	for _, status := range []string{models.OrderStatusPaid, models.OrderStatusCancelled} {
		t.Run(status, func(t *testing.T) {
			f := newHandlerFixture(t)
			ord := payableOrder()
			ord.Status = status
			f.orders.On("GetOrder", mock.Anything, "ord_1").Return(ord, nil)

			rec, env := doJSON(t, f.router(), http.MethodPost, "/api/payments", models.PaymentRequest{
				OrderID: "ord_1",
				Method:  "card-credit",
			})

			assert.Equal(t, http.StatusConflict, rec.Code)
			assert.False(t, env.Success)
			f.payments.AssertNotCalled(t, "ProcessPayment", mock.Anything, mock.Anything)
		})
	}
}

func TestProcessPaymentValidationErrors(t *testing.T) {
	f := newHandlerFixture(t)
	f.orders.On("GetOrder", mock.Anything, "ord_1").Return(payableOrder(), nil)
	f.payments.On("ProcessPayment", mock.Anything, mock.MatchedBy(func(in payment.ProcessPaymentInput) bool {
		return in.Method == models.PaymentMethod("bitcoin")
	})).Return(nil, payment.ErrUnsupportedMethod)
	f.payments.On("ProcessPayment", mock.Anything, mock.MatchedBy(func(in payment.ProcessPaymentInput) bool {
		return in.Method == models.MethodCardDebit && in.Credential == ""
	})).Return(nil, payment.ErrMissingCredential)

	rec, env := doJSON(t, f.router(), http.MethodPost, "/api/payments", models.PaymentRequest{
		OrderID: "ord_1",
		Method:  "bitcoin",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unsupported payment method", env.Message)

	rec, env = doJSON(t, f.router(), http.MethodPost, "/api/payments", models.PaymentRequest{
		OrderID: "ord_1",
		Method:  "card-debit",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing payment credential", env.Message)
}

func TestProcessPaymentDeclinedReturnsRecord(t *testing.T) {
	f := newHandlerFixture(t)
	failed := completedTransaction("pay_3")
	failed.Status = models.StatusFailed
	failed.GatewayRef = ""
	failed.ErrorMessage = "card declined"
	failed.CompletedAt = nil

	f.orders.On("GetOrder", mock.Anything, "ord_1").Return(payableOrder(), nil)
	f.payments.On("ProcessPayment", mock.Anything, mock.Anything).
		Return(failed, fmt.Errorf("%w: card declined", payment.ErrStrategyFailure))

	rec, env := doJSON(t, f.router(), http.MethodPost, "/api/payments", models.PaymentRequest{
		OrderID:    "ord_1",
		Method:     "card-credit",
		Credential: "tok_chargeDeclined",
	})

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.False(t, env.Success)

	// The durable failed record rides along with the error
	var tx models.PaymentTransaction
	require.NoError(t, json.Unmarshal(env.Data, &tx))
	assert.Equal(t, models.StatusFailed, tx.Status)
	assert.Equal(t, "card declined", tx.ErrorMessage)
}

func TestProcessPaymentWhileOrderLocked(t *testing.T) {
	f := newHandlerFixture(t)
	f.orders.On("GetOrder", mock.Anything, "ord_1").Return(payableOrder(), nil)

	other := redislock.NewLocks(f.client, time.Minute, f.log)
	acquired, err := other.AcquireOrderLock(context.Background(), "ord_1", "other-holder")
	require.NoError(t, err)
	require.True(t, acquired)

	rec, env := doJSON(t, f.router(), http.MethodPost, "/api/payments", models.PaymentRequest{
		OrderID: "ord_1",
		Method:  "card-credit",
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Payment already in progress", env.Message)
	f.payments.AssertNotCalled(t, "ProcessPayment", mock.Anything, mock.Anything)

	// The foreign lock must survive the rejected request
	assert.True(t, f.mr.Exists("payment_lock:ord_1"))
}

func TestRefundPayment(t *testing.T) {
	f := newHandlerFixture(t)
	refunded := completedTransaction("pay_1")
	refunded.Status = models.StatusRefunded
	refunded.RefundReason = "customer request"

	f.payments.On("RefundPayment", mock.Anything, "pay_1", "customer request").Return(refunded, nil)

	rec, env := doJSON(t, f.router(), http.MethodPost, "/api/payments/pay_1/refund", models.RefundRequest{
		Reason: "customer request",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	var tx models.PaymentTransaction
	require.NoError(t, json.Unmarshal(env.Data, &tx))
	assert.Equal(t, models.StatusRefunded, tx.Status)
	assert.Equal(t, "customer request", tx.RefundReason)
}

func TestRefundPaymentEmptyBodyAllowed(t *testing.T) {
	f := newHandlerFixture(t)
	refunded := completedTransaction("pay_1")
	refunded.Status = models.StatusRefunded

	f.payments.On("RefundPayment", mock.Anything, "pay_1", "").Return(refunded, nil)

	rec, _ := doJSON(t, f.router(), http.MethodPost, "/api/payments/pay_1/refund", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	f.payments.AssertExpectations(t)
}

func TestRefundPaymentErrors(t *testing.T) {
	f := newHandlerFixture(t)
	f.payments.On("RefundPayment", mock.Anything, "pay_missing", "").Return(nil, payment.ErrNotFound)
	f.payments.On("RefundPayment", mock.Anything, "pay_pending", "").Return(nil, payment.ErrInvalidStateTransition)

	rec, _ := doJSON(t, f.router(), http.MethodPost, "/api/payments/pay_missing/refund", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, f.router(), http.MethodPost, "/api/payments/pay_pending/refund", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBatchRefund(t *testing.T) {
	f := newHandlerFixture(t)
	results := []payment.RefundResult{
		{TransactionID: "pay_1", Transaction: completedTransaction("pay_1")},
		{TransactionID: "pay_missing", Error: "payment transaction not found: pay_missing"},
	}
	// Concurrency omitted in the request: the configured default applies
	f.payments.On("RefundBatch", mock.Anything, []string{"pay_1", "pay_missing"}, "duplicate charge", 2).
		Return(results)

	rec, env := doJSON(t, f.router(), http.MethodPost, "/api/payments/refunds", models.BatchRefundRequest{
		TransactionIDs: []string{"pay_1", "pay_missing"},
		Reason:         "duplicate charge",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	var decoded []payment.RefundResult
	require.NoError(t, json.Unmarshal(env.Data, &decoded))
	require.Len(t, decoded, 2)
	assert.Empty(t, decoded[0].Error)
	assert.Contains(t, decoded[1].Error, "not found")
	f.payments.AssertExpectations(t)
}

func TestBatchRefundRequiresIDs(t *testing.T) {
	f := newHandlerFixture(t)

	rec, _ := doJSON(t, f.router(), http.MethodPost, "/api/payments/refunds", models.BatchRefundRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.payments.AssertNotCalled(t, "RefundBatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetTransaction(t *testing.T) {
	f := newHandlerFixture(t)
	f.payments.On("GetTransaction", mock.Anything, "pay_1").Return(completedTransaction("pay_1"), nil)
	f.payments.On("GetTransaction", mock.Anything, "pay_missing").Return(nil, payment.ErrNotFound)

	rec, env := doJSON(t, f.router(), http.MethodGet, "/api/payments/pay_1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var tx models.PaymentTransaction
	require.NoError(t, json.Unmarshal(env.Data, &tx))
	assert.Equal(t, "pay_1", tx.TransactionID)

	rec, _ = doJSON(t, f.router(), http.MethodGet, "/api/payments/pay_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaymentHistoryNeverNotFound(t *testing.T) {
	f := newHandlerFixture(t)
	f.payments.On("GetPaymentHistory", mock.Anything, "ord_unknown").Return([]models.PaymentTransaction{}, nil)

	rec, env := doJSON(t, f.router(), http.MethodGet, "/api/payments/order/ord_unknown", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var history []models.PaymentTransaction
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Empty(t, history)
}

func TestReceiptIssuedForSettledTransaction(t *testing.T) {
	f := newHandlerFixture(t)
	f.payments.On("GetTransaction", mock.Anything, "pay_1").Return(completedTransaction("pay_1"), nil)

	rec, env := doJSON(t, f.router(), http.MethodGet, "/api/payments/pay_1/receipt", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		Receipt receipt.Receipt `json:"receipt"`
		Token   string          `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "pay_1", data.Receipt.TransactionID)
	require.NotEmpty(t, data.Token)

	// The token must decode with the same secret
	decoded, err := receipt.NewGenerator(testReceiptSecret).DecodeToken(data.Token)
	require.NoError(t, err)
	assert.Equal(t, "pay_1", decoded.TransactionID)
}

func TestReceiptUnavailableBeforeSettlement(t *testing.T) {
	f := newHandlerFixture(t)
	pending := completedTransaction("pay_1")
	pending.Status = models.StatusPending
	pending.CompletedAt = nil
	f.payments.On("GetTransaction", mock.Anything, "pay_1").Return(pending, nil)

	rec, _ := doJSON(t, f.router(), http.MethodGet, "/api/payments/pay_1/receipt", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = doJSON(t, f.router(), http.MethodGet, "/api/payments/pay_1/receipt/qr", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReceiptQRIsPNG(t *testing.T) {
	f := newHandlerFixture(t)
	f.payments.On("GetTransaction", mock.Anything, "pay_1").Return(completedTransaction("pay_1"), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/payments/pay_1/receipt/qr", nil)
	rec := httptest.NewRecorder()
	f.router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	body := rec.Body.Bytes()
	require.Greater(t, len(body), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, body[:4])
}

func TestVerifyReceiptToken(t *testing.T) {
	f := newHandlerFixture(t)

	rcpt, err := receipt.For(completedTransaction("pay_1"), time.Now())
	require.NoError(t, err)
	token, err := receipt.NewGenerator(testReceiptSecret).EncodeToken(rcpt)
	require.NoError(t, err)

	rec, env := doJSON(t, f.router(), http.MethodPost, "/api/payments/receipts/verify",
		map[string]string{"token": token})
	assert.Equal(t, http.StatusOK, rec.Code)

	var decoded receipt.Receipt
	require.NoError(t, json.Unmarshal(env.Data, &decoded))
	assert.Equal(t, "pay_1", decoded.TransactionID)

	rec, _ = doJSON(t, f.router(), http.MethodPost, "/api/payments/receipts/verify",
		map[string]string{"token": "garbage"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
