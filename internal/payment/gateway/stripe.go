package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-commerce/internal/logger"
	"ms-commerce/internal/utils"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

var (
	ErrStripeAPIError   = errors.New("stripe API error")
	ErrStripeInitFailed = errors.New("failed to initialize Stripe client")
)

// StripeGateway charges cards through Stripe payment intents. It covers the
// card methods only; wallet and bank settlement stay on the simulated
// gateway.
type StripeGateway struct {
	client *client.API
	log    *logger.Logger
}

func NewStripeGateway(secretKey string, log *logger.Logger) (*StripeGateway, error) {
	if secretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY not set")
		return nil, ErrStripeInitFailed
	}

	sc := client.New(secretKey, nil)
	log.Info("STRIPE", "Stripe client initialized")
	return &StripeGateway{client: sc, log: log}, nil
}

func (g *StripeGateway) ChargeCard(ctx context.Context, charge CardCharge) (string, error) {
	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context: ctx,
			Metadata: map[string]string{
				"transaction_id": charge.TransactionID,
				"order_id":       charge.OrderID,
			},
		},
		Amount:             stripe.Int64(charge.Amount),
		Currency:           stripe.String(charge.Currency),
		PaymentMethod:      stripe.String(charge.Token),
		ConfirmationMethod: stripe.String("manual"),
		Confirm:            stripe.Bool(true),
		PaymentMethodTypes: []*string{stripe.String("card")},
	}

	pi, err := g.client.PaymentIntents.New(params)
	if err != nil {
		g.log.Error("STRIPE", fmt.Sprintf("payment intent for %s failed: %v", charge.TransactionID, err))
		return "", fmt.Errorf("%w: %v", ErrStripeAPIError, err)
	}

	g.log.Info("STRIPE", fmt.Sprintf("payment intent %s created at %s for %s",
		pi.ID, utils.UnixTimeToTime(pi.Created).Format(time.RFC3339), charge.TransactionID))

	// The core expects a terminal answer. Anything Stripe leaves
	// non-terminal (requires_action, processing) counts as a decline for
	// this confirmation mode.
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		g.log.Error("STRIPE", fmt.Sprintf("payment intent %s ended in status %s", pi.ID, pi.Status))
		return "", fmt.Errorf("%w: payment intent %s in status %s", ErrCardDeclined, pi.ID, pi.Status)
	}

	return pi.ID, nil
}
