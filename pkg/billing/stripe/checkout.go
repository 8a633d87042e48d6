package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/betledger/pkg/billing"
	"github.com/mihaimyh/betledger/pkg/entitlement"
)

// CheckoutURL creates a subscription-mode Stripe Checkout Session for the
// paid tier and returns its URL. The customer email is pinned on the session
// so the resulting webhook events can be keyed back to the same entitlement
// record even before a Stripe customer ID exists.
func (p *Provider) CheckoutURL(ctx context.Context, email, priceID, successURL, cancelURL string) (string, error) {
	startTime := time.Now()

	key := entitlement.NormalizeEmail(email)
	if key == "" {
		return "", entitlement.ErrInvalidEmail
	}
	if priceID == "" {
		return "", fmt.Errorf("%w: price ID required", billing.ErrProviderNotConfigured)
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:    stripe.String(successURL),
		CancelURL:     stripe.String(cancelURL),
		CustomerEmail: stripe.String(key),
	}

	session, err := p.stripeClient.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "error")
		p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))
		return "", fmt.Errorf("create checkout session: %w", err)
	}

	p.metrics.RecordAPICall(providerName, "/checkout/sessions", "success")
	p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))

	return session.URL, nil
}
