package stripe

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/betledger/pkg/billing"
)

// eventKind is the closed set of event classes the reconciler handles.
// Stripe sends many more event types than these; everything else classifies
// as kindIgnored and is acknowledged without touching the store.
type eventKind int

const (
	kindIgnored eventKind = iota
	kindCheckoutCompleted
	kindInvoicePaid
	kindInvoiceFailed
	kindSubscriptionUpdated
	kindSubscriptionDeleted
)

// classify maps a Stripe event type tag to an eventKind. Stripe has used
// both invoice.paid and invoice.payment_succeeded over time; they carry the
// same meaning here. Created and updated subscriptions reconcile the same
// way, so they share a kind.
func classify(t stripe.EventType) eventKind {
	switch t {
	case "checkout.session.completed":
		return kindCheckoutCompleted
	case "invoice.paid", "invoice.payment_succeeded":
		return kindInvoicePaid
	case "invoice.payment_failed":
		return kindInvoiceFailed
	case "customer.subscription.created", "customer.subscription.updated":
		return kindSubscriptionUpdated
	case "customer.subscription.deleted":
		return kindSubscriptionDeleted
	default:
		return kindIgnored
	}
}

// ref is a reference to another Stripe object inside a webhook payload.
// Unexpanded payloads carry a bare ID string; expanded payloads carry the
// full object. Both shapes appear in the wild, so ref accepts either and
// keeps the embedded email when one is present.
type ref struct {
	ID    string
	Email string
}

func (r *ref) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	var obj struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.ID = obj.ID
	r.Email = obj.Email
	return nil
}

// checkoutPayload carries the checkout.session.completed fields the
// reconciler needs. Stripe has historically surfaced the payer email in two
// places, so both are decoded.
type checkoutPayload struct {
	ID              string `json:"id"`
	Customer        ref    `json:"customer"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	PaymentStatus string `json:"payment_status"`
	Subscription  ref    `json:"subscription"`
}

type invoicePayload struct {
	ID            string `json:"id"`
	Customer      ref    `json:"customer"`
	CustomerEmail string `json:"customer_email"`
	Subscription  ref    `json:"subscription"`
}

type subscriptionPayload struct {
	ID                string `json:"id"`
	Customer          ref    `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
}

// webhookEvent is the decoded, type-tagged union. Exactly one payload
// pointer matching the kind is non-nil (none for kindIgnored). Payloads are
// decoded once here at the classification boundary; downstream code never
// touches raw JSON.
type webhookEvent struct {
	kind         eventKind
	checkout     *checkoutPayload
	invoice      *invoicePayload
	subscription *subscriptionPayload
}

func decodeEvent(e *stripe.Event) (*webhookEvent, error) {
	ev := &webhookEvent{kind: classify(e.Type)}

	switch ev.kind {
	case kindIgnored:
		return ev, nil
	case kindCheckoutCompleted:
		ev.checkout = &checkoutPayload{}
		if err := json.Unmarshal(e.Data.Raw, ev.checkout); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %v", billing.ErrInvalidWebhookPayload, err)
		}
	case kindInvoicePaid, kindInvoiceFailed:
		ev.invoice = &invoicePayload{}
		if err := json.Unmarshal(e.Data.Raw, ev.invoice); err != nil {
			return nil, fmt.Errorf("%w: invoice: %v", billing.ErrInvalidWebhookPayload, err)
		}
	case kindSubscriptionUpdated, kindSubscriptionDeleted:
		ev.subscription = &subscriptionPayload{}
		if err := json.Unmarshal(e.Data.Raw, ev.subscription); err != nil {
			return nil, fmt.Errorf("%w: subscription: %v", billing.ErrInvalidWebhookPayload, err)
		}
	}
	return ev, nil
}

// customerID returns the processor customer reference the event carries,
// or "" when none is present.
func (ev *webhookEvent) customerID() string {
	switch ev.kind {
	case kindCheckoutCompleted:
		return ev.checkout.Customer.ID
	case kindInvoicePaid, kindInvoiceFailed:
		return ev.invoice.Customer.ID
	case kindSubscriptionUpdated, kindSubscriptionDeleted:
		return ev.subscription.Customer.ID
	}
	return ""
}
