// Package gateway holds the settlement-side collaborators of the payment
// core. A gateway either accepts a charge and returns a settlement
// reference, or rejects it with an error; it never touches transaction
// state.
package gateway

import (
	"context"
	"errors"
)

var (
	ErrCardDeclined      = errors.New("card declined")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrExpiredCard       = errors.New("card expired")
	ErrWalletRejected    = errors.New("wallet payment rejected")
	ErrTransferRejected  = errors.New("bank transfer rejected")

	// ErrSettlementPending signals that the transfer was accepted but will
	// settle out-of-band. Only bank gateways running in deferred mode
	// return it, and unlike every other error it accompanies a valid
	// settlement reference.
	ErrSettlementPending = errors.New("bank settlement pending")
)

type CardCharge struct {
	TransactionID string
	OrderID       string
	Amount        int64
	Currency      string
	Token         string
	Debit         bool
}

type WalletCharge struct {
	TransactionID string
	OrderID       string
	Amount        int64
	Currency      string
}

type BankTransfer struct {
	TransactionID string
	OrderID       string
	Amount        int64
	Currency      string
}

type CardGateway interface {
	ChargeCard(ctx context.Context, charge CardCharge) (string, error)
}

type WalletGateway interface {
	ExecuteWalletPayment(ctx context.Context, charge WalletCharge) (string, error)
}

type BankGateway interface {
	ExecuteTransfer(ctx context.Context, transfer BankTransfer) (string, error)
}
