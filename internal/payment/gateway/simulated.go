package gateway

import (
	"context"
	"fmt"
	"strings"

	"ms-commerce/internal/logger"
	"ms-commerce/internal/utils"
)

// Card token suffixes that trigger deterministic outcomes, in the manner of
// a processor's test tokens.
const (
	tokenSuffixDeclined     = "_declined"
	tokenSuffixInsufficient = "_insufficient"
	tokenSuffixExpired      = "_expired"
)

// Wallet authorizations above this amount (minor units) are rejected by the
// simulated provider.
const walletAuthorizationLimit int64 = 500000

// Simulated settles every method in-process. Outcomes are deterministic so
// both demos and tests can drive failure paths without a real processor:
// card tokens ending in _declined/_insufficient/_expired are rejected,
// wallet charges above the authorization limit are rejected, and bank
// transfers settle synchronously unless deferred mode is on.
type Simulated struct {
	log       *logger.Logger
	deferBank bool
}

func NewSimulated(log *logger.Logger, deferBank bool) *Simulated {
	return &Simulated{log: log, deferBank: deferBank}
}

func (g *Simulated) ChargeCard(ctx context.Context, charge CardCharge) (string, error) {
	kind := "credit"
	if charge.Debit {
		kind = "debit"
	}

	switch {
	case strings.HasSuffix(charge.Token, tokenSuffixDeclined):
		g.log.LogGateway("card", fmt.Sprintf("declined %s card charge for %s", kind, charge.TransactionID))
		return "", fmt.Errorf("%w: token %s", ErrCardDeclined, charge.Token)
	case strings.HasSuffix(charge.Token, tokenSuffixInsufficient):
		g.log.LogGateway("card", fmt.Sprintf("insufficient funds on %s card for %s", kind, charge.TransactionID))
		return "", fmt.Errorf("%w: token %s", ErrInsufficientFunds, charge.Token)
	case strings.HasSuffix(charge.Token, tokenSuffixExpired):
		g.log.LogGateway("card", fmt.Sprintf("expired %s card for %s", kind, charge.TransactionID))
		return "", fmt.Errorf("%w: token %s", ErrExpiredCard, charge.Token)
	}

	ref := utils.GenerateTransactionRef()
	g.log.LogGateway("card", fmt.Sprintf("charged %d %s on %s card for %s (ref %s)",
		charge.Amount, charge.Currency, kind, charge.TransactionID, ref))
	return ref, nil
}

func (g *Simulated) ExecuteWalletPayment(ctx context.Context, charge WalletCharge) (string, error) {
	if charge.Amount > walletAuthorizationLimit {
		g.log.LogGateway("wallet", fmt.Sprintf("rejected %s: %d exceeds authorization limit", charge.TransactionID, charge.Amount))
		return "", fmt.Errorf("%w: amount %d exceeds authorization limit %d", ErrWalletRejected, charge.Amount, walletAuthorizationLimit)
	}

	// Redirect and approval collapse into an immediate approval here.
	ref := utils.GenerateTransactionRef()
	g.log.LogGateway("wallet", fmt.Sprintf("approved %d %s for %s (ref %s)",
		charge.Amount, charge.Currency, charge.TransactionID, ref))
	return ref, nil
}

func (g *Simulated) ExecuteTransfer(ctx context.Context, transfer BankTransfer) (string, error) {
	ref := utils.GenerateTransactionRef()

	if g.deferBank {
		g.log.LogGateway("bank", fmt.Sprintf("transfer %s accepted, settlement deferred (ref %s)", transfer.TransactionID, ref))
		return ref, fmt.Errorf("%w: ref %s", ErrSettlementPending, ref)
	}

	g.log.LogGateway("bank", fmt.Sprintf("settled %d %s for %s (ref %s)",
		transfer.Amount, transfer.Currency, transfer.TransactionID, ref))
	return ref, nil
}
