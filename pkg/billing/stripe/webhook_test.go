package stripe

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mihaimyh/betledger/pkg/billing"
	"github.com/mihaimyh/betledger/pkg/entitlement"
	"github.com/mihaimyh/betledger/storage/memory"
)

const (
	testAPIKey        = "sk_test_123"
	testWebhookSecret = "whsec_test_secret"
	testEmail         = "a@x.com"
)

func newTestProvider(t *testing.T, store entitlement.Store, cfg *billing.Config) *Provider {
	t.Helper()

	base := billing.Config{}
	if cfg != nil {
		base = *cfg
	}
	if base.Manager == nil {
		manager, err := entitlement.NewManager(store, nil)
		if err != nil {
			t.Fatalf("NewManager: %v", err)
		}
		base.Manager = manager
	}

	provider, err := NewProvider(Config{
		Config:              base,
		StripeAPIKey:        testAPIKey,
		StripeWebhookSecret: testWebhookSecret,
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	// No live Stripe in tests; lookups are stubbed per test.
	provider.lookupEmail = func(_ context.Context, _ string) (string, error) {
		return "", errors.New("lookup not stubbed")
	}
	return provider
}

// signPayload produces a valid Stripe-Signature header for body.
func signPayload(body []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// eventBody builds a raw webhook envelope the way Stripe sends it.
func eventBody(t *testing.T, eventType string, object map[string]interface{}) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"id":      "evt_" + eventType,
		"object":  "event",
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]interface{}{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func deliver(t *testing.T, p *Provider, body []byte, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	if sig != "" {
		req.Header.Set("Stripe-Signature", sig)
	}
	rec := httptest.NewRecorder()
	p.WebhookHandler().ServeHTTP(rec, req)
	return rec
}

func deliverSigned(t *testing.T, p *Provider, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	return deliver(t, p, body, signPayload(body, testWebhookSecret))
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	p := newTestProvider(t, memory.New(), nil)
	req := httptest.NewRequest(http.MethodGet, "/webhooks/stripe", nil)
	rec := httptest.NewRecorder()
	p.WebhookHandler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestWebhook_MissingSignatureHeader(t *testing.T) {
	store := memory.New()
	p := newTestProvider(t, store, nil)

	body := eventBody(t, "invoice.paid", map[string]interface{}{"id": "in_1"})
	rec := deliver(t, p, body, "")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if store.Len() != 0 {
		t.Error("rejected request must not touch the store")
	}
}

func TestWebhook_TamperedBodyRejected(t *testing.T) {
	store := memory.New()
	p := newTestProvider(t, store, nil)

	body := eventBody(t, "invoice.paid", map[string]interface{}{
		"id":             "in_1",
		"customer_email": testEmail,
	})
	sig := signPayload(body, testWebhookSecret)

	// Flip a byte after signing: signature no longer matches the body.
	tampered := bytes.Replace(body, []byte("in_1"), []byte("in_2"), 1)
	rec := deliver(t, p, tampered, sig)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp["error"] == "" {
		t.Errorf("expected error body, got %q", rec.Body.String())
	}
	if store.Len() != 0 {
		t.Error("tampered event must not create or mutate any record")
	}
}

func TestWebhook_SecretNotConfiguredIs500(t *testing.T) {
	store := memory.New()
	manager, _ := entitlement.NewManager(store, nil)
	p, err := NewProvider(Config{
		Config:       billing.Config{Manager: manager},
		StripeAPIKey: testAPIKey,
		// no webhook secret
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	body := eventBody(t, "invoice.paid", map[string]interface{}{"id": "in_1"})
	rec := deliver(t, p, body, signPayload(body, testWebhookSecret))

	// Missing configuration must be 5xx so Stripe retries after the
	// operator fixes it; 4xx would silently drop a real payment event.
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestWebhook_IgnoredEventTypeAcknowledged(t *testing.T) {
	store := memory.New()
	p := newTestProvider(t, store, nil)

	body := eventBody(t, "payment_intent.succeeded", map[string]interface{}{"id": "pi_1"})
	rec := deliverSigned(t, p, body)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	var resp map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || !resp["received"] {
		t.Errorf("expected {\"received\":true}, got %q", rec.Body.String())
	}
	if store.Len() != 0 {
		t.Error("ignored event must not touch the store")
	}
}

func TestWebhook_UnresolvableIdentityIsSafeNoOp(t *testing.T) {
	store := memory.New()
	p := newTestProvider(t, store, nil)
	p.lookupEmail = func(_ context.Context, _ string) (string, error) {
		return "", errors.New("stripe: customer lookup failed")
	}

	body := eventBody(t, "customer.subscription.updated", map[string]interface{}{
		"id":       "sub_1",
		"customer": "cus_1",
		"status":   "active",
	})
	rec := deliverSigned(t, p, body)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (never retried)", rec.Code)
	}
	if store.Len() != 0 {
		t.Error("unresolvable event must produce zero store writes")
	}
}

func TestWebhook_CheckoutCompletedCreatesPaidRecord(t *testing.T) {
	store := memory.New()
	p := newTestProvider(t, store, nil)

	body := eventBody(t, "checkout.session.completed", map[string]interface{}{
		"id":               "cs_1",
		"customer":         "cus_1",
		"customer_details": map[string]interface{}{"email": "  A@X.Com "},
		"payment_status":   "paid",
		"subscription":     "sub_1",
	})
	rec := deliverSigned(t, p, body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	record, err := store.GetByEmail(context.Background(), testEmail)
	if err != nil {
		t.Fatalf("record not created under normalized email: %v", err)
	}
	if !record.IsPaid || record.PaidAt == nil {
		t.Error("paid checkout must grant entitlement")
	}
	if record.LastCheckoutSessionID != "cs_1" || record.ExternalCustomerID != "cus_1" || record.SubscriptionID != "sub_1" {
		t.Errorf("record = %+v", record)
	}
}

func TestWebhook_ReplayIsIdempotent(t *testing.T) {
	store := memory.New()
	p := newTestProvider(t, store, nil)

	body := eventBody(t, "invoice.paid", map[string]interface{}{
		"id":             "in_1",
		"customer":       "cus_1",
		"customer_email": testEmail,
		"subscription":   "sub_1",
	})
	sig := signPayload(body, testWebhookSecret)

	if rec := deliver(t, p, body, sig); rec.Code != http.StatusOK {
		t.Fatalf("first delivery: %d", rec.Code)
	}
	first, err := store.GetByEmail(context.Background(), testEmail)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	// Stripe redelivers the identical event (at-least-once delivery).
	if rec := deliver(t, p, body, sig); rec.Code != http.StatusOK {
		t.Fatalf("redelivery: %d", rec.Code)
	}
	second, err := store.GetByEmail(context.Background(), testEmail)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if first.IsPaid != second.IsPaid ||
		first.PaymentStatus != second.PaymentStatus ||
		first.LastInvoiceID != second.LastInvoiceID ||
		first.SubscriptionID != second.SubscriptionID {
		t.Errorf("replay diverged:\nfirst:  %+v\nsecond: %+v", first, second)
	}
	if first.PaidAt == nil || second.PaidAt == nil || !first.PaidAt.Equal(*second.PaidAt) {
		t.Errorf("paidAt diverged on replay: %v vs %v", first.PaidAt, second.PaidAt)
	}
	if store.Len() != 1 {
		t.Error("replay must not duplicate the record")
	}
}

func TestWebhook_OrderIndependence(t *testing.T) {
	invoiceBody := func(t *testing.T) []byte {
		return eventBody(t, "invoice.paid", map[string]interface{}{
			"id":             "in_1",
			"customer":       "cus_1",
			"customer_email": testEmail,
		})
	}
	subBody := func(t *testing.T) []byte {
		return eventBody(t, "customer.subscription.updated", map[string]interface{}{
			"id":                   "sub_1",
			"customer":             map[string]interface{}{"id": "cus_1", "email": testEmail},
			"status":               "active",
			"cancel_at_period_end": false,
			"current_period_end":   1900000000,
		})
	}

	run := func(t *testing.T, bodies ...[]byte) *entitlement.Record {
		store := memory.New()
		p := newTestProvider(t, store, nil)
		for _, b := range bodies {
			if rec := deliverSigned(t, p, b); rec.Code != http.StatusOK {
				t.Fatalf("delivery failed: %d", rec.Code)
			}
		}
		record, err := store.GetByEmail(context.Background(), testEmail)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		return record
	}

	ab := run(t, invoiceBody(t), subBody(t))
	ba := run(t, subBody(t), invoiceBody(t))

	// The two orders converge on everything except which event's status
	// token and paid_at happened to land last — fields both events declare.
	if ab.IsPaid != ba.IsPaid || ab.IsPaid != true {
		t.Errorf("isPaid diverged: %v vs %v", ab.IsPaid, ba.IsPaid)
	}
	if ab.LastInvoiceID != ba.LastInvoiceID || ab.SubscriptionID != ba.SubscriptionID {
		t.Errorf("per-kind fields diverged: %+v vs %+v", ab, ba)
	}
	if ab.ExternalCustomerID != ba.ExternalCustomerID {
		t.Errorf("customer ID diverged: %q vs %q", ab.ExternalCustomerID, ba.ExternalCustomerID)
	}
	if ab.SubscriptionStatus != ba.SubscriptionStatus {
		t.Errorf("subscription status diverged: %q vs %q", ab.SubscriptionStatus, ba.SubscriptionStatus)
	}
}

func TestWebhook_CheckoutThenInvoiceFailure(t *testing.T) {
	store := memory.New()
	p := newTestProvider(t, store, nil)
	ctx := context.Background()

	checkout := eventBody(t, "checkout.session.completed", map[string]interface{}{
		"id":               "cs_1",
		"customer":         "cus_1",
		"customer_details": map[string]interface{}{"email": testEmail},
		"payment_status":   "paid",
	})
	if rec := deliverSigned(t, p, checkout); rec.Code != http.StatusOK {
		t.Fatalf("checkout delivery: %d", rec.Code)
	}

	record, _ := store.GetByEmail(ctx, testEmail)
	if !record.IsPaid {
		t.Fatal("expected paid after checkout")
	}

	failed := eventBody(t, "invoice.payment_failed", map[string]interface{}{
		"id":             "in_1",
		"customer":       "cus_1",
		"customer_email": testEmail,
	})
	if rec := deliverSigned(t, p, failed); rec.Code != http.StatusOK {
		t.Fatalf("invoice delivery: %d", rec.Code)
	}

	record, _ = store.GetByEmail(ctx, testEmail)
	if record.IsPaid {
		t.Error("failed invoice must revoke entitlement")
	}
	if record.PaymentStatus != "payment_failed" {
		t.Errorf("paymentStatus = %q", record.PaymentStatus)
	}
	if record.PaidAt != nil {
		t.Error("revocation must null paid_at")
	}
	if record.LastCheckoutSessionID != "cs_1" {
		t.Error("fields the invoice does not declare must survive the merge")
	}
	if record.LastInvoiceID != "in_1" {
		t.Errorf("lastInvoiceID = %q", record.LastInvoiceID)
	}
}

func TestWebhook_SubscriptionLifecycle(t *testing.T) {
	store := memory.New()
	p := newTestProvider(t, store, nil)
	ctx := context.Background()
	p.lookupEmail = func(_ context.Context, id string) (string, error) {
		if id != "cus_1" {
			return "", fmt.Errorf("unknown customer %s", id)
		}
		return testEmail, nil
	}

	subEvent := func(eventType, status string) []byte {
		return eventBody(t, eventType, map[string]interface{}{
			"id":                 "sub_1",
			"customer":           "cus_1",
			"status":             status,
			"current_period_end": 1900000000,
		})
	}

	if rec := deliverSigned(t, p, subEvent("customer.subscription.created", "trialing")); rec.Code != http.StatusOK {
		t.Fatalf("created: %d", rec.Code)
	}
	record, _ := store.GetByEmail(ctx, testEmail)
	if !record.IsPaid || record.SubscriptionStatus != "trialing" {
		t.Errorf("after trialing: %+v", record)
	}

	if rec := deliverSigned(t, p, subEvent("customer.subscription.updated", "active")); rec.Code != http.StatusOK {
		t.Fatalf("updated: %d", rec.Code)
	}
	record, _ = store.GetByEmail(ctx, testEmail)
	if !record.IsPaid || record.SubscriptionStatus != "active" {
		t.Errorf("after active: %+v", record)
	}

	// The deleted event still says "active" in its own status field;
	// deletion must revoke anyway.
	if rec := deliverSigned(t, p, subEvent("customer.subscription.deleted", "active")); rec.Code != http.StatusOK {
		t.Fatalf("deleted: %d", rec.Code)
	}
	record, _ = store.GetByEmail(ctx, testEmail)
	if record.IsPaid {
		t.Error("deletion must revoke entitlement regardless of its status token")
	}
	if record.PaidAt != nil {
		t.Error("deletion must null paid_at")
	}
}

// failingStore refuses every merge, simulating a store outage.
type failingStore struct{}

func (failingStore) GetByEmail(context.Context, string) (*entitlement.Record, error) {
	return nil, entitlement.ErrStoreUnavailable
}
func (failingStore) Merge(context.Context, string, *entitlement.Snapshot) error {
	return entitlement.ErrStoreUnavailable
}
func (failingStore) Ping(context.Context) error { return entitlement.ErrStoreUnavailable }

func TestWebhook_StoreFailureIs500(t *testing.T) {
	p := newTestProvider(t, failingStore{}, nil)

	body := eventBody(t, "invoice.paid", map[string]interface{}{
		"id":             "in_1",
		"customer_email": testEmail,
	})
	rec := deliverSigned(t, p, body)

	// 500 makes Stripe redeliver; the merge is the single side effect, so
	// nothing was partially applied.
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestWebhook_CallbackInvokedAfterMerge(t *testing.T) {
	store := memory.New()
	manager, _ := entitlement.NewManager(store, nil)

	var captured billing.WebhookEvent
	var invoked bool
	cfg := &billing.Config{
		Manager: manager,
		WebhookCallback: func(_ context.Context, event billing.WebhookEvent) error {
			invoked = true
			captured = event
			return nil
		},
	}
	p := newTestProvider(t, store, cfg)

	body := eventBody(t, "invoice.paid", map[string]interface{}{
		"id":             "in_1",
		"customer_email": testEmail,
	})
	if rec := deliverSigned(t, p, body); rec.Code != http.StatusOK {
		t.Fatalf("delivery: %d", rec.Code)
	}

	if !invoked {
		t.Fatal("callback not invoked")
	}
	if captured.Email != testEmail || captured.Provider != "stripe" || captured.EventType != "invoice.paid" {
		t.Errorf("captured = %+v", captured)
	}
	if captured.IsPaid == nil || !*captured.IsPaid {
		t.Error("callback must carry the entitlement outcome")
	}
}

func TestWebhook_CallbackErrorDoesNotFailResponse(t *testing.T) {
	store := memory.New()
	manager, _ := entitlement.NewManager(store, nil)
	cfg := &billing.Config{
		Manager: manager,
		WebhookCallback: func(context.Context, billing.WebhookEvent) error {
			return errors.New("analytics sink down")
		},
	}
	p := newTestProvider(t, store, cfg)

	body := eventBody(t, "invoice.paid", map[string]interface{}{
		"id":             "in_1",
		"customer_email": testEmail,
	})
	if rec := deliverSigned(t, p, body); rec.Code != http.StatusOK {
		t.Errorf("callback failure must not turn into a retry, got %d", rec.Code)
	}
}
