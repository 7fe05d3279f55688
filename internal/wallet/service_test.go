package wallet

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/carshare-pay/escrow_ledger/internal/ledger"
)

func TestServiceCreateAndBalance(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store, "")

	ctx := context.Background()
	w, err := svc.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	ledger.SeedBalance(store, w.ID, 2_500, 700)

	balance, err := svc.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Available != 2_500 || balance.Pending != 700 {
		t.Fatalf("unexpected balance %+v", balance)
	}

	if _, err := svc.GetBalance(ctx, "nobody"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestServiceOrderIDFormat(t *testing.T) {
	svc := NewService(ledger.NewInMemory(), "INV")
	pattern := regexp.MustCompile(`^INV[0-9a-f]{16}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := svc.NewOrderID()
		if !pattern.MatchString(id) {
			t.Fatalf("unexpected order id %q", id)
		}
		if seen[id] {
			t.Fatalf("order id %q generated twice", id)
		}
		seen[id] = true
	}
}

func TestServiceDepositIntent(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store, "")
	ctx := context.Background()
	w, _ := svc.Create(ctx, "user-1")

	intent, err := svc.CreateDepositIntent(ctx, "user-1", 50_000)
	if err != nil {
		t.Fatalf("deposit intent: %v", err)
	}
	if intent.Transaction.Status != ledger.StatusPending || intent.Transaction.Type != ledger.TypeDeposit {
		t.Fatalf("unexpected intent %+v", intent.Transaction)
	}
	if intent.Transaction.WalletID != w.ID || intent.Content != intent.OrderID {
		t.Fatalf("intent not tied to wallet %+v", intent)
	}

	if _, err := svc.CreateDepositIntent(ctx, "user-1", 0); err == nil {
		t.Fatalf("expected zero amount to be rejected")
	}

	got, _ := store.Wallet(ctx, w.ID)
	if got.AvailableBalance != 0 {
		t.Fatalf("intent must not credit balance, got %d", got.AvailableBalance)
	}
}

func TestServicePayinForBookingTargetsOwner(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store, "")
	ctx := context.Background()
	svc.Create(ctx, "renter")
	owner, _ := svc.Create(ctx, "owner")
	booking, _ := store.CreateBooking(ctx, ledger.Booking{RenterID: "renter", OwnerID: "owner", TotalPrice: 300_000})

	intent, err := svc.CreatePayin(ctx, PayinInput{UserID: "renter", BookingID: booking.ID})
	if err != nil {
		t.Fatalf("payin: %v", err)
	}
	if intent.Transaction.WalletID != owner.ID || intent.Transaction.Amount != 300_000 {
		t.Fatalf("unexpected payin %+v", intent.Transaction)
	}

	again, err := svc.CreatePayin(ctx, PayinInput{UserID: "renter", BookingID: booking.ID, OrderID: intent.OrderID})
	if !errors.Is(err, ledger.ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if again.Transaction.ID != intent.Transaction.ID {
		t.Fatalf("expected existing intent back")
	}
}

func TestServicePayinNormalizesClientOrderID(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store, "INV")
	ctx := context.Background()
	svc.Create(ctx, "renter")

	intent, err := svc.CreatePayin(ctx, PayinInput{UserID: "renter", OrderID: "invABCDEF0123456789", Amount: 50_000})
	if err != nil {
		t.Fatalf("payin: %v", err)
	}
	if intent.OrderID != "INVabcdef0123456789" {
		t.Fatalf("expected normalized order id, got %s", intent.OrderID)
	}
	found, err := store.FindPendingByOrderID(ctx, "INVabcdef0123456789")
	if err != nil || found.ID != intent.Transaction.ID {
		t.Fatalf("expected lookup by normalized id to find the intent, got %+v %v", found, err)
	}

	again, err := svc.CreatePayin(ctx, PayinInput{UserID: "renter", OrderID: "INVABCDEF0123456789", Amount: 50_000})
	if !errors.Is(err, ledger.ErrDuplicateTransaction) || again.Transaction.ID != intent.Transaction.ID {
		t.Fatalf("expected the same intent back as a duplicate, got %v", err)
	}

	for _, bad := range []string{"ORDER-42", "INV123", "INVabcdef0123456789ff", "XYZabcdef0123456789"} {
		if _, err := svc.CreatePayin(ctx, PayinInput{UserID: "renter", OrderID: bad, Amount: 50_000}); !errors.Is(err, ErrInvalidOrderID) {
			t.Fatalf("expected %q to be rejected, got %v", bad, err)
		}
	}
}
