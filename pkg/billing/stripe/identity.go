package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/mihaimyh/betledger/pkg/billing"
	"github.com/mihaimyh/betledger/pkg/entitlement"
)

// resolveEmail produces the best-available contact identifier for the
// account the event concerns. Emails embedded in the payload win, in the
// order Stripe has historically populated them; a live customer lookup is
// the fallback. Subscriptions never carry an email directly, so they always
// go through the lookup.
//
// The second return is false when no identifier could be produced. A failed
// lookup folds into that same false: an event about an account we cannot
// identify is acknowledged and skipped, because retrying would not make the
// identity appear and failing would redeliver the event forever.
func resolveEmail(ctx context.Context, ev *webhookEvent, lookup customerLookup) (string, bool) {
	var candidates []string
	switch ev.kind {
	case kindCheckoutCompleted:
		candidates = []string{
			ev.checkout.CustomerDetails.Email,
			ev.checkout.CustomerEmail,
			ev.checkout.Customer.Email,
		}
	case kindInvoicePaid, kindInvoiceFailed:
		candidates = []string{
			ev.invoice.CustomerEmail,
			ev.invoice.Customer.Email,
		}
	case kindSubscriptionUpdated, kindSubscriptionDeleted:
		candidates = []string{ev.subscription.Customer.Email}
	default:
		return "", false
	}

	for _, c := range candidates {
		if email := entitlement.NormalizeEmail(c); email != "" {
			return email, true
		}
	}

	customerID := ev.customerID()
	if customerID == "" || lookup == nil {
		return "", false
	}
	raw, err := lookup(ctx, customerID)
	if err != nil {
		return "", false
	}
	if email := entitlement.NormalizeEmail(raw); email != "" {
		return email, true
	}
	return "", false
}

// lookupCustomerEmail fetches the customer record from Stripe and returns
// its email. This is the only network call on the identity path.
func (p *Provider) lookupCustomerEmail(ctx context.Context, customerID string) (string, error) {
	startTime := time.Now()
	cust, err := p.stripeClient.V1Customers.Retrieve(ctx, customerID, nil)
	p.metrics.RecordAPICallDuration(providerName, "/customers/{id}", time.Since(startTime))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/customers/{id}", "error")
		return "", fmt.Errorf("%w: customer %s: %v", billing.ErrCustomerLookupFailed, customerID, err)
	}
	p.metrics.RecordAPICall(providerName, "/customers/{id}", "success")
	return cust.Email, nil
}
