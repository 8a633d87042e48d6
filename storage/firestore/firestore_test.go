package firestore

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/mihaimyh/betledger/pkg/entitlement"
)

const (
	testProjectID = "test-project"
	emulatorHost  = "localhost:8080"
)

func setupStorage(t *testing.T) *Storage {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		conn, err := net.DialTimeout("tcp", emulatorHost, 500*time.Millisecond)
		if err != nil {
			t.Skipf("Skipping test: Firestore emulator not running on %s", emulatorHost)
		}
		conn.Close()
		os.Setenv("FIRESTORE_EMULATOR_HOST", emulatorHost)
	}

	ctx := context.Background()
	client, err := firestore.NewClient(ctx, testProjectID)
	if err != nil {
		t.Fatalf("Failed to create Firestore client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	// Unique collection per test run keeps runs independent.
	storage, err := New(client, Config{
		Collection: fmt.Sprintf("test_entitlements_%d", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return storage
}

func TestStorage_MergeAndGet(t *testing.T) {
	storage := setupStorage(t)
	ctx := context.Background()

	_, err := storage.GetByEmail(ctx, "a@x.com")
	if err != entitlement.ErrRecordNotFound {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}

	paidAt := time.Now().UTC().Truncate(time.Second)
	err = storage.Merge(ctx, "a@x.com", &entitlement.Snapshot{
		ExternalCustomerID: entitlement.String("cus_1"),
		PaymentStatus:      entitlement.String("paid"),
		IsPaid:             entitlement.Bool(true),
		PaidAt:             entitlement.Time(paidAt),
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	rec, err := storage.GetByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if rec.ExternalCustomerID != "cus_1" || rec.PaymentStatus != "paid" || !rec.IsPaid {
		t.Errorf("record = %+v", rec)
	}
	if rec.PaidAt == nil || !rec.PaidAt.Equal(paidAt) {
		t.Errorf("paidAt = %v, want %v", rec.PaidAt, paidAt)
	}
}

func TestStorage_MergeKeepsUndeclaredFields(t *testing.T) {
	storage := setupStorage(t)
	ctx := context.Background()

	err := storage.Merge(ctx, "a@x.com", &entitlement.Snapshot{
		LastCheckoutSessionID: entitlement.String("cs_1"),
		IsPaid:                entitlement.Bool(true),
		PaidAt:                entitlement.Time(time.Now().UTC()),
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	err = storage.Merge(ctx, "a@x.com", &entitlement.Snapshot{
		IsPaid:        entitlement.Bool(false),
		PaymentStatus: entitlement.String("payment_failed"),
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	rec, err := storage.GetByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if rec.LastCheckoutSessionID != "cs_1" {
		t.Error("undeclared field must survive the merge")
	}
	if rec.IsPaid {
		t.Error("expected revoked")
	}
	if rec.PaidAt != nil {
		t.Error("revocation must null paidAt")
	}
}

func TestStorage_MergeRejectsEmptySnapshot(t *testing.T) {
	storage := setupStorage(t)

	if err := storage.Merge(context.Background(), "a@x.com", &entitlement.Snapshot{}); err != entitlement.ErrInvalidSnapshot {
		t.Errorf("err = %v, want ErrInvalidSnapshot", err)
	}
	if err := storage.Merge(context.Background(), "", &entitlement.Snapshot{IsPaid: entitlement.Bool(true)}); err != entitlement.ErrInvalidEmail {
		t.Errorf("err = %v, want ErrInvalidEmail", err)
	}
}
