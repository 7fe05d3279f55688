package escrow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/carshare-pay/escrow_ledger/internal/ledger"
	"github.com/carshare-pay/escrow_ledger/internal/logging"
	"github.com/carshare-pay/escrow_ledger/internal/settlement"
)

type fixture struct {
	store   ledger.Store
	service *Service
	engine  *settlement.Engine
	owner   ledger.Wallet
	booking ledger.Booking
}

func newFixture(t *testing.T, total int64) fixture {
	t.Helper()
	ctx := context.Background()
	store := ledger.NewInMemory()
	commission, err := settlement.NewCommission(settlement.DefaultCommissionRate)
	if err != nil {
		t.Fatalf("commission: %v", err)
	}
	owner, err := store.CreateWallet(ctx, "owner")
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	booking, err := store.CreateBooking(ctx, ledger.Booking{RenterID: "renter", OwnerID: "owner", TotalPrice: total})
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	return fixture{
		store:   store,
		service: NewService(store, commission, nil, logging.Discard()),
		engine:  settlement.NewEngine(store, commission, nil, logging.Discard()),
		owner:   owner,
		booking: booking,
	}
}

func TestService_PayThenConfirm(t *testing.T) {
	f := newFixture(t, 1_000_000)
	ctx := context.Background()

	c, err := f.service.Create(ctx, CreateInput{BookingID: f.booking.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Status != ledger.ContractPending || c.TotalAmount != 1_000_000 {
		t.Fatalf("unexpected contract %+v", c)
	}

	paid, err := f.service.Pay(ctx, c.ID)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if paid.Status != ledger.ContractPaid || paid.PaidAt == nil {
		t.Fatalf("expected PAID with paid_at, got %+v", paid)
	}
	w, _ := f.store.Wallet(ctx, f.owner.ID)
	if w.PendingBalance != 900_000 || w.AvailableBalance != 0 {
		t.Fatalf("unexpected balances after pay %+v", w)
	}
	if b, _ := f.store.Booking(ctx, f.booking.ID); b.Status != ledger.BookingPendingConfirmation {
		t.Fatalf("expected booking PENDING_CONFIRMATION, got %s", b.Status)
	}

	if _, err := f.service.Pay(ctx, c.ID); !errors.Is(err, ledger.ErrInvalidState) {
		t.Fatalf("expected paying twice to fail, got %v", err)
	}

	confirmed, err := f.service.Confirm(ctx, c.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != ledger.ContractConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", confirmed.Status)
	}
	w, _ = f.store.Wallet(ctx, f.owner.ID)
	if w.PendingBalance != 0 || w.AvailableBalance != 900_000 {
		t.Fatalf("unexpected balances after confirm %+v", w)
	}

	// the booking is already ACTIVE, so a delivery confirmation cannot release again
	if _, err := f.engine.ConfirmDelivery(ctx, f.booking.ID, "owner"); !errors.Is(err, ledger.ErrInvalidState) {
		t.Fatalf("expected delivery after confirm to fail, got %v", err)
	}
}

func TestService_ConfirmFromPendingLeavesBalances(t *testing.T) {
	f := newFixture(t, 200_000)
	ctx := context.Background()

	c, _ := f.service.Create(ctx, CreateInput{BookingID: f.booking.ID})
	ledger.SeedBalance(f.store, f.owner.ID, 10, 500_000)

	if _, err := f.service.Confirm(ctx, c.ID); !errors.Is(err, ledger.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	w, _ := f.store.Wallet(ctx, f.owner.ID)
	if w.AvailableBalance != 10 || w.PendingBalance != 500_000 {
		t.Fatalf("expected balances unchanged, got %+v", w)
	}
	got, _ := f.store.Contract(ctx, c.ID)
	if got.Status != ledger.ContractPending {
		t.Fatalf("expected PENDING, got %s", got.Status)
	}
}

func TestService_CancelOnlyFromPending(t *testing.T) {
	f := newFixture(t, 300_000)
	ctx := context.Background()

	c, _ := f.service.Create(ctx, CreateInput{BookingID: f.booking.ID})
	cancelled, err := f.service.Cancel(ctx, c.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != ledger.ContractCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("unexpected contract %+v", cancelled)
	}
	if b, _ := f.store.Booking(ctx, f.booking.ID); b.Status != ledger.BookingCancelled {
		t.Fatalf("expected booking CANCELLED, got %s", b.Status)
	}
	if _, err := f.service.Pay(ctx, c.ID); !errors.Is(err, ledger.ErrInvalidState) {
		t.Fatalf("expected pay after cancel to fail, got %v", err)
	}
	if _, err := f.service.Cancel(ctx, c.ID); !errors.Is(err, ledger.ErrInvalidState) {
		t.Fatalf("expected second cancel to fail, got %v", err)
	}
}

func TestService_DeliveryClosesPaidContract(t *testing.T) {
	f := newFixture(t, 1_000_000)
	ctx := context.Background()

	c, _ := f.service.Create(ctx, CreateInput{BookingID: f.booking.ID})
	if _, err := f.service.Pay(ctx, c.ID); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if _, err := f.engine.ConfirmDelivery(ctx, f.booking.ID, "owner"); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got, _ := f.store.Contract(ctx, c.ID); got.Status != ledger.ContractConfirmed {
		t.Fatalf("expected contract CONFIRMED after delivery, got %s", got.Status)
	}
	if _, err := f.service.Confirm(ctx, c.ID); !errors.Is(err, ledger.ErrInvalidState) {
		t.Fatalf("expected confirm after delivery to fail, got %v", err)
	}
	w, _ := f.store.Wallet(ctx, f.owner.ID)
	if w.AvailableBalance != 900_000 || w.PendingBalance != 0 {
		t.Fatalf("unexpected balances %+v", w)
	}
}

func TestService_CreateRejectsMismatchedParties(t *testing.T) {
	f := newFixture(t, 1_000)
	if _, err := f.service.Create(context.Background(), CreateInput{BookingID: f.booking.ID, OwnerID: "someone-else"}); err == nil {
		t.Fatalf("expected mismatched owner to be rejected")
	}
	if _, err := f.service.Create(context.Background(), CreateInput{BookingID: "missing"}); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestHandler_DeliveryRequiresOwner(t *testing.T) {
	f := newFixture(t, 1_000)
	h := NewHandler(f.service, f.engine, f.store)
	app := fiber.New()
	app.Post("/bookings/:id/deliver", h.ConfirmDelivery)

	req := httptest.NewRequest(http.MethodPost, "/bookings/"+f.booking.ID+"/deliver", nil)
	req.Header.Set(CallerHeader, "renter")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodPost, "/bookings/"+f.booking.ID+"/deliver", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without caller, got %d", resp.StatusCode)
	}
}

func TestService_NoSecondHoldAfterConfirmedPayin(t *testing.T) {
	f := newFixture(t, 1_000_000)
	ctx := context.Background()

	tx, err := f.store.CreateIntent(ctx, ledger.Intent{WalletID: f.owner.ID, BookingID: f.booking.ID, ExternalOrderID: "INV00000000000000f1", Amount: 1_000_000, Type: ledger.TypeRentalEscrowHold})
	if err != nil {
		t.Fatalf("intent: %v", err)
	}
	if _, err := f.engine.ConfirmPayment(ctx, tx.ID); err != nil {
		t.Fatalf("confirm payin: %v", err)
	}

	if _, err := f.service.Create(ctx, CreateInput{BookingID: f.booking.ID}); !errors.Is(err, ledger.ErrInvalidState) {
		t.Fatalf("expected create after payin to fail, got %v", err)
	}

	if _, err := f.engine.ConfirmDelivery(ctx, f.booking.ID, "owner"); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	w, _ := f.store.Wallet(ctx, f.owner.ID)
	if w.AvailableBalance != 900_000 || w.PendingBalance != 0 {
		t.Fatalf("unexpected balances %+v", w)
	}
}

func TestService_PayRequiresBookingAwaitingPayment(t *testing.T) {
	f := newFixture(t, 1_000_000)
	ctx := context.Background()

	c, err := f.service.Create(ctx, CreateInput{BookingID: f.booking.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.store.WithTx(ctx, func(tx ledger.Tx) error {
		_, err := tx.AdvanceBooking(ctx, f.booking.ID, ledger.BookingPendingPayment, ledger.BookingPendingConfirmation)
		return err
	}); err != nil {
		t.Fatalf("advance booking: %v", err)
	}

	if _, err := f.service.Pay(ctx, c.ID); !errors.Is(err, ledger.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	got, _ := f.store.Contract(ctx, c.ID)
	if got.Status != ledger.ContractPending {
		t.Fatalf("expected contract rolled back to PENDING, got %s", got.Status)
	}
	w, _ := f.store.Wallet(ctx, f.owner.ID)
	if w.PendingBalance != 0 || w.AvailableBalance != 0 {
		t.Fatalf("expected no hold, got %+v", w)
	}
	if txs, _ := f.store.ListTransactions(ctx, f.owner.ID); len(txs) != 0 {
		t.Fatalf("expected no transactions, got %d", len(txs))
	}
}
