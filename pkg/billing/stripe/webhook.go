package stripe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/betledger/pkg/billing"
	"github.com/mihaimyh/betledger/pkg/billing/internal"
	"github.com/mihaimyh/betledger/pkg/entitlement"
)

// Webhook processing outcomes, recorded per event type.
const (
	outcomeSuccess = "success"
	outcomeIgnored = "ignored"
	outcomeSkipped = "skipped"
)

// handleWebhook processes incoming Stripe webhook events.
//
// The 400-vs-500 split is load-bearing: Stripe treats 4xx as "malformed, do
// not retry" and 5xx as "retry later". Signature problems are 400 because a
// resend would be byte-identical and fail again; everything that can heal
// (missing configuration, store outage) is 500 so the event is redelivered.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if len(p.webhookSecret) == 0 {
		writeError(w, http.StatusInternalServerError, "webhook not configured")
		p.metrics.RecordWebhookError(providerName, "not_configured")
		return
	}

	// Exact wire bytes; the signature covers them as sent.
	body, err := internal.ReadBodyStrict(w, r, maxWebhookBody)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}
	if sig == "" {
		writeError(w, http.StatusBadRequest, "missing signature")
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, sig, string(p.webhookSecret), webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "signature verification failed")
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	outcome, err := p.processEvent(r.Context(), &event)
	if err != nil {
		p.logger.Error("webhook processing failed",
			entitlement.Field{Key: "event_id", Value: event.ID},
			entitlement.Field{Key: "event_type", Value: eventType},
			entitlement.Field{Key: "error", Value: err.Error()},
		)
		writeError(w, http.StatusInternalServerError, "failed to process webhook")
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "processing_error")
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
		return
	}

	_ = internal.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})

	p.metrics.RecordWebhookEvent(providerName, eventType, outcome)
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

// processEvent runs classify → resolve → reconcile → merge for one verified
// event. The store merge is the single side effect; any error from it
// propagates so the endpoint answers 500 and Stripe redelivers the whole
// event later. Unknown event types and unresolvable identities are not
// errors: they are events the system correctly chooses not to act on.
func (p *Provider) processEvent(ctx context.Context, event *stripe.Event) (string, error) {
	ev, err := decodeEvent(event)
	if err != nil {
		return "", err
	}
	if ev.kind == kindIgnored {
		return outcomeIgnored, nil
	}

	email, ok := resolveEmail(ctx, ev, p.lookupEmail)
	if !ok {
		p.logger.Warn("webhook event has no resolvable contact, skipping",
			entitlement.Field{Key: "event_id", Value: event.ID},
			entitlement.Field{Key: "event_type", Value: string(event.Type)},
		)
		return outcomeSkipped, nil
	}

	eventTime := p.now().UTC()
	if event.Created > 0 {
		eventTime = time.Unix(event.Created, 0).UTC()
	}

	snap := reconcile(ev, eventTime)
	if err := p.manager.Apply(ctx, email, snap); err != nil {
		return "", fmt.Errorf("merge entitlement: %w", err)
	}

	if snap.IsPaid != nil {
		action := "revoked"
		if *snap.IsPaid {
			action = "granted"
		}
		p.metrics.RecordEntitlementChange(providerName, action)
	}

	if p.callback != nil {
		cbEvent := billingEvent(email, event, snap.IsPaid)
		if err := p.callback(ctx, cbEvent); err != nil {
			// Callback consumers must not be able to trigger redelivery.
			p.logger.Warn("webhook callback failed",
				entitlement.Field{Key: "event_id", Value: event.ID},
				entitlement.Field{Key: "error", Value: err.Error()},
			)
		}
	}

	return outcomeSuccess, nil
}

func billingEvent(email string, event *stripe.Event, isPaid *bool) billing.WebhookEvent {
	return billing.WebhookEvent{
		Email:          email,
		Provider:       providerName,
		EventType:      string(event.Type),
		EventTimestamp: time.Unix(event.Created, 0).UTC(),
		IsPaid:         isPaid,
	}
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}

func writeError(w http.ResponseWriter, code int, msg string) {
	_ = internal.WriteJSON(w, code, map[string]string{"error": msg})
}
