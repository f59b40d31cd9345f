package payment

import (
	"context"
	"fmt"

	"ms-commerce/internal/models"
	"ms-commerce/internal/payment/gateway"
)

// Gateways groups the settlement collaborators one per method family.
// Binaries fill every field; tests substitute mocks per field.
type Gateways struct {
	Cards  gateway.CardGateway
	Wallet gateway.WalletGateway
	Bank   gateway.BankGateway
}

// strategy is the per-method execution unit. validate runs before any
// record is persisted; execute performs the charge and returns the
// settlement reference. Strategies never mutate transaction status — every
// transition is committed by the Processor.
type strategy interface {
	validate(in ProcessPaymentInput) error
	execute(ctx context.Context, tx *models.PaymentTransaction, credential string) (string, error)
}

// strategyFor is the single exhaustive dispatch over the payment method
// enumeration. Adding a method means adding a constant and an arm here; an
// unknown method is a caller defect and fails before anything is persisted.
func (p *Processor) strategyFor(method models.PaymentMethod) (strategy, error) {
	switch method {
	case models.MethodCardCredit:
		return &cardStrategy{gw: p.gateways.Cards, debit: false}, nil
	case models.MethodCardDebit:
		return &cardStrategy{gw: p.gateways.Cards, debit: true}, nil
	case models.MethodPayPal:
		return &walletStrategy{gw: p.gateways.Wallet}, nil
	case models.MethodBankTransfer:
		return &bankStrategy{gw: p.gateways.Bank}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
}

type cardStrategy struct {
	gw    gateway.CardGateway
	debit bool
}

func (s *cardStrategy) validate(in ProcessPaymentInput) error {
	if in.Credential == "" {
		return fmt.Errorf("%w: card methods require a card token", ErrMissingCredential)
	}
	return nil
}

func (s *cardStrategy) execute(ctx context.Context, tx *models.PaymentTransaction, credential string) (string, error) {
	return s.gw.ChargeCard(ctx, gateway.CardCharge{
		TransactionID: tx.TransactionID,
		OrderID:       tx.OrderID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Token:         credential,
		Debit:         s.debit,
	})
}

type walletStrategy struct {
	gw gateway.WalletGateway
}

func (s *walletStrategy) validate(ProcessPaymentInput) error { return nil }

func (s *walletStrategy) execute(ctx context.Context, tx *models.PaymentTransaction, _ string) (string, error) {
	return s.gw.ExecuteWalletPayment(ctx, gateway.WalletCharge{
		TransactionID: tx.TransactionID,
		OrderID:       tx.OrderID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
	})
}

type bankStrategy struct {
	gw gateway.BankGateway
}

func (s *bankStrategy) validate(ProcessPaymentInput) error { return nil }

func (s *bankStrategy) execute(ctx context.Context, tx *models.PaymentTransaction, _ string) (string, error) {
	return s.gw.ExecuteTransfer(ctx, gateway.BankTransfer{
		TransactionID: tx.TransactionID,
		OrderID:       tx.OrderID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
	})
}
