package payment

import "errors"

// Error taxonomy of the payment core. UnsupportedMethod and
// MissingCredential are caller defects raised before anything is persisted.
// StrategyFailure wraps a gateway rejection that has already been recorded
// on the transaction. NotFound and InvalidStateTransition never mutate any
// record.
var (
	ErrUnsupportedMethod      = errors.New("unsupported payment method")
	ErrMissingCredential      = errors.New("missing payment credential")
	ErrStrategyFailure        = errors.New("payment strategy failure")
	ErrNotFound               = errors.New("payment transaction not found")
	ErrInvalidStateTransition = errors.New("invalid payment state transition")
)
