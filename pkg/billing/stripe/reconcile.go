package stripe

import (
	"time"

	"github.com/mihaimyh/betledger/pkg/entitlement"
)

// reconcile computes the entitlement snapshot implied by a single event.
// It is a pure function of (event, event time) and never consults stored
// state: each kind declares the full set of fields it knows and nothing
// else, which is what lets the store merge events in any arrival order.
// Fields absent from the event payload stay nil in the snapshot so the
// merge leaves the stored value untouched.
func reconcile(ev *webhookEvent, eventTime time.Time) *entitlement.Snapshot {
	switch ev.kind {
	case kindCheckoutCompleted:
		return reconcileCheckout(ev.checkout, eventTime)
	case kindInvoicePaid:
		return reconcileInvoice(ev.invoice, true, eventTime)
	case kindInvoiceFailed:
		return reconcileInvoice(ev.invoice, false, eventTime)
	case kindSubscriptionUpdated:
		return reconcileSubscription(ev.subscription, false, eventTime)
	case kindSubscriptionDeleted:
		return reconcileSubscription(ev.subscription, true, eventTime)
	}
	return nil
}

func reconcileCheckout(c *checkoutPayload, eventTime time.Time) *entitlement.Snapshot {
	snap := &entitlement.Snapshot{
		LastCheckoutSessionID: entitlement.String(c.ID),
		PaymentStatus:         entitlement.String(c.PaymentStatus),
	}
	if c.Customer.ID != "" {
		snap.ExternalCustomerID = entitlement.String(c.Customer.ID)
	}
	if c.Subscription.ID != "" {
		snap.SubscriptionID = entitlement.String(c.Subscription.ID)
	}
	setPaid(snap, c.PaymentStatus == checkoutStatusPaid, eventTime)
	return snap
}

func reconcileInvoice(i *invoicePayload, paid bool, eventTime time.Time) *entitlement.Snapshot {
	status := paymentStatusPaid
	if !paid {
		status = paymentStatusFailed
	}
	snap := &entitlement.Snapshot{
		PaymentStatus: entitlement.String(status),
		LastInvoiceID: entitlement.String(i.ID),
	}
	if i.Customer.ID != "" {
		snap.ExternalCustomerID = entitlement.String(i.Customer.ID)
	}
	if i.Subscription.ID != "" {
		snap.SubscriptionID = entitlement.String(i.Subscription.ID)
	}
	setPaid(snap, paid, eventTime)
	return snap
}

// reconcileSubscription handles created, updated and deleted subscriptions.
// A deletion always revokes entitlement regardless of the payload's own
// status token; it must never need prior state to force that.
func reconcileSubscription(s *subscriptionPayload, deleted bool, eventTime time.Time) *entitlement.Snapshot {
	snap := &entitlement.Snapshot{
		SubscriptionID:     entitlement.String(s.ID),
		SubscriptionStatus: entitlement.String(s.Status),
		PaymentStatus:      entitlement.String(s.Status),
		CancelAtPeriodEnd:  entitlement.Bool(s.CancelAtPeriodEnd),
	}
	if s.Customer.ID != "" {
		snap.ExternalCustomerID = entitlement.String(s.Customer.ID)
	}
	if s.CurrentPeriodEnd > 0 {
		snap.CurrentPeriodEnd = entitlement.Time(time.Unix(s.CurrentPeriodEnd, 0).UTC())
	}

	paid := s.Status == subscriptionStatusActive || s.Status == subscriptionStatusTrialing
	if deleted {
		paid = false
	}
	setPaid(snap, paid, eventTime)
	return snap
}

// setPaid declares the entitlement outcome, keeping the paid-at invariant:
// paid snapshots carry the event timestamp, unpaid snapshots null the field.
func setPaid(snap *entitlement.Snapshot, paid bool, eventTime time.Time) {
	snap.IsPaid = entitlement.Bool(paid)
	if paid {
		snap.PaidAt = entitlement.Time(eventTime.UTC())
	}
}
