// Package firestore provides a Firestore implementation of the
// entitlement.Store interface. Merge relies on firestore.MergeAll writing
// only the keys present in the data map, which gives the same
// declared-fields-only semantics as the SQL upsert.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/betledger/pkg/entitlement"
)

// Storage implements entitlement.Store using Google Cloud Firestore.
type Storage struct {
	client     *firestore.Client
	collection string
}

// Config holds Firestore storage configuration.
type Config struct {
	// Collection is the Firestore collection for entitlement records.
	// Default: "billing_entitlements"
	Collection string
}

// New creates a new Firestore storage adapter.
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.Collection == "" {
		config.Collection = "billing_entitlements"
	}

	return &Storage{
		client:     client,
		collection: config.Collection,
	}, nil
}

// GetByEmail implements entitlement.Store. The normalized email is the
// document ID, so lookups are single-document reads.
func (s *Storage) GetByEmail(ctx context.Context, email string) (*entitlement.Record, error) {
	doc := s.client.Collection(s.collection).Doc(email)
	snap, err := doc.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, entitlement.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get entitlement: %w", err)
	}

	if !snap.Exists() {
		return nil, entitlement.ErrRecordNotFound
	}

	data := snap.Data()
	rec := &entitlement.Record{
		Email:                 email,
		ExternalCustomerID:    getString(data, "externalCustomerId"),
		LastCheckoutSessionID: getString(data, "lastCheckoutSessionId"),
		PaymentStatus:         getString(data, "paymentStatus"),
		IsPaid:                getBool(data, "isPaid"),
		SubscriptionID:        getString(data, "subscriptionId"),
		SubscriptionStatus:    getString(data, "subscriptionStatus"),
		LastInvoiceID:         getString(data, "lastInvoiceId"),
		UpdatedAt:             getTime(data, "updatedAt"),
	}

	if paidAt, ok := data["paidAt"].(time.Time); ok && !paidAt.IsZero() {
		rec.PaidAt = &paidAt
	}
	if periodEnd, ok := data["currentPeriodEnd"].(time.Time); ok && !periodEnd.IsZero() {
		rec.CurrentPeriodEnd = &periodEnd
	}
	if cancel, ok := data["cancelAtPeriodEnd"].(bool); ok {
		rec.CancelAtPeriodEnd = &cancel
	}

	return rec, nil
}

// Merge implements entitlement.Store.
func (s *Storage) Merge(ctx context.Context, email string, snap *entitlement.Snapshot) error {
	if email == "" {
		return entitlement.ErrInvalidEmail
	}
	if snap == nil || snap.IsZero() {
		return entitlement.ErrInvalidSnapshot
	}

	data := map[string]interface{}{
		"updatedAt": time.Now().UTC(),
	}

	if snap.ExternalCustomerID != nil {
		data["externalCustomerId"] = *snap.ExternalCustomerID
	}
	if snap.LastCheckoutSessionID != nil {
		data["lastCheckoutSessionId"] = *snap.LastCheckoutSessionID
	}
	if snap.PaymentStatus != nil {
		data["paymentStatus"] = *snap.PaymentStatus
	}
	if snap.IsPaid != nil {
		data["isPaid"] = *snap.IsPaid
		if snap.PaidAt != nil {
			data["paidAt"] = snap.PaidAt.UTC()
		} else {
			data["paidAt"] = nil
		}
	}
	if snap.SubscriptionID != nil {
		data["subscriptionId"] = *snap.SubscriptionID
	}
	if snap.SubscriptionStatus != nil {
		data["subscriptionStatus"] = *snap.SubscriptionStatus
	}
	if snap.CurrentPeriodEnd != nil {
		data["currentPeriodEnd"] = snap.CurrentPeriodEnd.UTC()
	}
	if snap.CancelAtPeriodEnd != nil {
		data["cancelAtPeriodEnd"] = *snap.CancelAtPeriodEnd
	}
	if snap.LastInvoiceID != nil {
		data["lastInvoiceId"] = *snap.LastInvoiceID
	}

	doc := s.client.Collection(s.collection).Doc(email)
	if _, err := doc.Set(ctx, data, firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to merge entitlement: %w", err)
	}

	return nil
}

// Ping verifies the Firestore connection with a cheap single-document read.
func (s *Storage) Ping(ctx context.Context) error {
	_, err := s.client.Collection(s.collection).Doc("_ping").Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to ping firestore: %w", err)
	}
	return nil
}

// Helper functions for safe type extraction from Firestore data

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}
