// Package payment implements the payment transaction lifecycle: one durable
// record per attempt, a closed dispatch over payment methods, and a state
// machine whose transitions are committed in exactly one place.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-commerce/internal/logger"
	"ms-commerce/internal/models"
	"ms-commerce/internal/payment/gateway"
	"ms-commerce/internal/payment/storage"
	"ms-commerce/internal/utils"
)

// EventPublisher pushes payment events to the message broker. Publishing is
// fire-and-forget from the processor's point of view.
type EventPublisher interface {
	PublishPaymentEvent(event models.PaymentEvent) error
}

// StatusStream fans payment events out to connected live subscribers.
type StatusStream interface {
	Emit(event models.PaymentEvent)
}

type ProcessPaymentInput struct {
	OrderID    string
	UserID     string
	Amount     int64
	Currency   string
	Method     models.PaymentMethod
	Credential string
}

// Processor owns payment transactions: it is the only writer of their
// status, and it holds no locks — serialization of in-flight operations per
// order is the orchestration layer's job, while the store's conditional
// update backstops concurrent finalization.
type Processor struct {
	store    storage.Store
	gateways Gateways
	events   EventPublisher
	stream   StatusStream
	log      *logger.Logger
	now      func() time.Time
}

func NewProcessor(store storage.Store, gateways Gateways, events EventPublisher, stream StatusStream, log *logger.Logger) *Processor {
	return &Processor{
		store:    store,
		gateways: gateways,
		events:   events,
		stream:   stream,
		log:      log,
		now:      time.Now,
	}
}

// ProcessPayment creates a pending transaction for the request, executes
// the method's strategy, and finalizes the record. Validation failures
// (unsupported method, missing credential) abort before anything is
// persisted. A gateway rejection is recorded durably as failed and then
// surfaced: the returned record accompanies the error so callers can show
// what was recorded.
func (p *Processor) ProcessPayment(ctx context.Context, in ProcessPaymentInput) (*models.PaymentTransaction, error) {
	strat, err := p.strategyFor(in.Method)
	if err != nil {
		p.log.Warn("PAYMENT", fmt.Sprintf("rejected payment for order %s: %v", in.OrderID, err))
		return nil, err
	}
	if err := strat.validate(in); err != nil {
		p.log.Warn("PAYMENT", fmt.Sprintf("rejected %s payment for order %s: %v", in.Method, in.OrderID, err))
		return nil, err
	}

	now := p.now()
	tx := &models.PaymentTransaction{
		TransactionID: utils.GeneratePaymentID(),
		OrderID:       in.OrderID,
		UserID:        in.UserID,
		Amount:        in.Amount,
		Currency:      in.Currency,
		Method:        in.Method,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.store.SaveTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("create payment transaction: %w", err)
	}
	p.log.LogPayment("CREATE", tx.TransactionID,
		fmt.Sprintf("pending %s payment of %d %s for order %s", tx.Method, tx.Amount, tx.Currency, tx.OrderID))

	ref, execErr := strat.execute(ctx, tx, in.Credential)
	if execErr != nil {
		if errors.Is(execErr, gateway.ErrSettlementPending) {
			return p.deferSettlement(ctx, tx, ref)
		}
		return p.failTransaction(ctx, tx, execErr)
	}
	return p.completeTransaction(ctx, tx, ref)
}

// RefundPayment transitions a completed transaction to refunded. The actual
// settlement-party refund is a stub; the state transition and audit trail
// are authoritative regardless.
func (p *Processor) RefundPayment(ctx context.Context, transactionID, reason string) (*models.PaymentTransaction, error) {
	tx, err := p.loadTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != models.StatusCompleted {
		p.log.Warn("PAYMENT", fmt.Sprintf("refund of %s rejected: transaction is %s", transactionID, tx.Status))
		return nil, fmt.Errorf("%w: cannot refund a %s transaction", ErrInvalidStateTransition, tx.Status)
	}

	updated, err := p.transition(ctx, transactionID, models.StatusCompleted, models.StatusRefunded, storage.StatusPatch{
		RefundReason: reason,
		UpdatedAt:    p.now(),
	})
	if err != nil {
		return nil, err
	}

	p.log.LogPayment("REFUND", transactionID, fmt.Sprintf("refunded %d %s for order %s", updated.Amount, updated.Currency, updated.OrderID))
	p.publish(models.EventPaymentRefunded, updated, reason)
	return updated, nil
}

// GetPaymentHistory returns every transaction for the order, most recent
// first. An order without attempts yields an empty slice, not an error.
func (p *Processor) GetPaymentHistory(ctx context.Context, orderID string) ([]models.PaymentTransaction, error) {
	txs, err := p.store.ListTransactionsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("payment history for order %s: %w", orderID, err)
	}
	p.log.Debug("PAYMENT", fmt.Sprintf("history for order %s: %d transaction(s)", orderID, len(txs)))
	return txs, nil
}

// GetTransaction fetches a single transaction by identifier.
func (p *Processor) GetTransaction(ctx context.Context, transactionID string) (*models.PaymentTransaction, error) {
	return p.loadTransaction(ctx, transactionID)
}

// ConfirmSettlement resolves a deferred bank transfer once the settlement
// party reports the outcome. Only transactions parked in processing accept
// a confirmation; everything else is an invalid transition and stays
// untouched.
func (p *Processor) ConfirmSettlement(ctx context.Context, transactionID string, succeeded bool, reason string) (*models.PaymentTransaction, error) {
	tx, err := p.loadTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != models.StatusProcessing {
		p.log.Warn("PAYMENT", fmt.Sprintf("settlement confirmation for %s rejected: transaction is %s", transactionID, tx.Status))
		return nil, fmt.Errorf("%w: settlement confirmation for a %s transaction", ErrInvalidStateTransition, tx.Status)
	}

	if succeeded {
		return p.completeTransaction(ctx, tx, "")
	}

	if reason == "" {
		reason = "settlement rejected by bank"
	}
	updated, err := p.transition(ctx, transactionID, models.StatusProcessing, models.StatusFailed, storage.StatusPatch{
		ErrorMessage: reason,
		UpdatedAt:    p.now(),
	})
	if err != nil {
		return nil, err
	}
	p.log.LogPayment("FAIL", transactionID, reason)
	p.publish(models.EventPaymentFailed, updated, reason)
	return updated, nil
}

func (p *Processor) completeTransaction(ctx context.Context, tx *models.PaymentTransaction, ref string) (*models.PaymentTransaction, error) {
	completedAt := p.now()
	updated, err := p.transition(ctx, tx.TransactionID, tx.Status, models.StatusCompleted, storage.StatusPatch{
		GatewayRef:  ref,
		CompletedAt: &completedAt,
		UpdatedAt:   completedAt,
	})
	if err != nil {
		return nil, err
	}

	p.log.LogPayment("COMPLETE", tx.TransactionID,
		fmt.Sprintf("%s payment of %d %s for order %s settled (ref %s)", updated.Method, updated.Amount, updated.Currency, updated.OrderID, updated.GatewayRef))
	p.publish(models.EventPaymentCompleted, updated, "")
	return updated, nil
}

func (p *Processor) failTransaction(ctx context.Context, tx *models.PaymentTransaction, cause error) (*models.PaymentTransaction, error) {
	updated, err := p.transition(ctx, tx.TransactionID, tx.Status, models.StatusFailed, storage.StatusPatch{
		ErrorMessage: cause.Error(),
		UpdatedAt:    p.now(),
	})
	if err != nil {
		p.log.Error("PAYMENT", fmt.Sprintf("charge for %s failed and the failure could not be recorded: %v", tx.TransactionID, err))
		return nil, fmt.Errorf("%w: %v (recording the failure also failed: %v)", ErrStrategyFailure, cause, err)
	}

	p.log.LogPayment("FAIL", tx.TransactionID, cause.Error())
	p.publish(models.EventPaymentFailed, updated, cause.Error())
	return updated, fmt.Errorf("%w: %v", ErrStrategyFailure, cause)
}

func (p *Processor) deferSettlement(ctx context.Context, tx *models.PaymentTransaction, ref string) (*models.PaymentTransaction, error) {
	updated, err := p.transition(ctx, tx.TransactionID, models.StatusPending, models.StatusProcessing, storage.StatusPatch{
		GatewayRef: ref,
		UpdatedAt:  p.now(),
	})
	if err != nil {
		return nil, err
	}

	p.log.LogPayment("DEFER", tx.TransactionID, "bank settlement pending, awaiting confirmation")
	p.publish(models.EventPaymentPending, updated, "")
	return updated, nil
}

// transition commits one state change through the store's conditional
// update. The transition table is consulted first so an illegal move never
// reaches the database; a stale conditional update means another writer
// finalized the row and is reported as an invalid transition.
func (p *Processor) transition(ctx context.Context, id string, from, to models.PaymentStatus, patch storage.StatusPatch) (*models.PaymentTransaction, error) {
	if !models.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
	}

	updated, err := p.store.TransitionStatus(ctx, id, from, to, patch)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrStaleStatus):
			return nil, fmt.Errorf("%w: %s -> %s (%v)", ErrInvalidStateTransition, from, to, err)
		case errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		default:
			return nil, fmt.Errorf("commit %s -> %s: %w", from, to, err)
		}
	}
	return updated, nil
}

func (p *Processor) loadTransaction(ctx context.Context, transactionID string) (*models.PaymentTransaction, error) {
	tx, err := p.store.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, transactionID)
		}
		return nil, fmt.Errorf("load payment transaction: %w", err)
	}
	return tx, nil
}

// publish emits the event to the broker and the live stream. Neither can
// fail a payment.
func (p *Processor) publish(eventType string, tx *models.PaymentTransaction, reason string) {
	event := models.PaymentEvent{
		Type:          eventType,
		TransactionID: tx.TransactionID,
		OrderID:       tx.OrderID,
		UserID:        tx.UserID,
		Status:        tx.Status,
		Method:        tx.Method,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Reason:        reason,
		Timestamp:     p.now(),
	}

	if p.events != nil {
		if err := p.events.PublishPaymentEvent(event); err != nil {
			p.log.Error("KAFKA", fmt.Sprintf("publish %s for %s failed: %v", eventType, tx.TransactionID, err))
		}
	}
	if p.stream != nil {
		p.stream.Emit(event)
	}
}
