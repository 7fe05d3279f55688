package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newWallet(t *testing.T, l Store, userID string) Wallet {
	t.Helper()
	w, err := l.CreateWallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("create wallet %s: %v", userID, err)
	}
	return w
}

func TestInMemoryLedger_CreateWalletIsIdempotent(t *testing.T) {
	l := NewInMemory()
	first := newWallet(t, l, "user-a")
	second := newWallet(t, l, "user-a")
	if first.ID != second.ID {
		t.Fatalf("expected the same wallet, got %s and %s", first.ID, second.ID)
	}
	if first.AvailableBalance != 0 || first.PendingBalance != 0 {
		t.Fatalf("expected zero balances, got %+v", first)
	}
}

func TestInMemoryLedger_TryConfirmOnlyOnce(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newWallet(t, l, "user-a")

	tx, err := l.CreateIntent(ctx, Intent{WalletID: w.ID, ExternalOrderID: "INV0123456789abcdef", Amount: 100_000, Type: TypeDeposit})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	const workers = 10
	var confirmed int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithTx(ctx, func(x Tx) error {
				ok, err := x.TryConfirm(ctx, tx.ID, time.Now())
				if err != nil {
					return err
				}
				if !ok {
					return ErrAlreadyProcessed
				}
				_, err = x.AdjustBalance(ctx, w.ID, Delta{Available: tx.Amount})
				return err
			})
			if err == nil {
				atomic.AddInt32(&confirmed, 1)
			} else if !errors.Is(err, ErrAlreadyProcessed) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if confirmed != 1 {
		t.Fatalf("expected exactly one confirm, got %d", confirmed)
	}
	got, _ := l.Wallet(ctx, w.ID)
	if got.AvailableBalance != 100_000 {
		t.Fatalf("expected balance 100000, got %d", got.AvailableBalance)
	}
	rec, _ := l.Transaction(ctx, tx.ID)
	if rec.Status != StatusSuccess || rec.ConfirmedAt == nil {
		t.Fatalf("expected SUCCESS with confirmed_at, got %+v", rec)
	}
}

func TestInMemoryLedger_AdjustBalanceRejectsNegative(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newWallet(t, l, "user-a")
	SeedBalance(l, w.ID, 500, 200)

	err := l.WithTx(ctx, func(x Tx) error {
		_, err := x.AdjustBalance(ctx, w.ID, Delta{Available: -600})
		return err
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	err = l.WithTx(ctx, func(x Tx) error {
		_, err := x.AdjustBalance(ctx, w.ID, Delta{Available: 200, Pending: -200})
		return err
	})
	if err != nil {
		t.Fatalf("move pending to available: %v", err)
	}
	got, _ := l.Wallet(ctx, w.ID)
	if got.AvailableBalance != 700 || got.PendingBalance != 0 {
		t.Fatalf("unexpected balances %+v", got)
	}
}

func TestInMemoryLedger_WithTxRollsBack(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newWallet(t, l, "user-a")

	boom := errors.New("boom")
	err := l.WithTx(ctx, func(x Tx) error {
		if _, err := x.AdjustBalance(ctx, w.ID, Delta{Pending: 9_000}); err != nil {
			return err
		}
		if _, err := x.AppendTransaction(ctx, Transaction{WalletID: w.ID, Amount: 9_000, Type: TypeRentalEscrowHold, Status: StatusSuccess}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, _ := l.Wallet(ctx, w.ID)
	if got.PendingBalance != 0 {
		t.Fatalf("expected rollback of pending balance, got %d", got.PendingBalance)
	}
	txs, _ := l.ListTransactions(ctx, w.ID)
	if len(txs) != 0 {
		t.Fatalf("expected no transactions after rollback, got %d", len(txs))
	}
}

func TestInMemoryLedger_DuplicateOrderID(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newWallet(t, l, "user-a")

	first, err := l.CreateIntent(ctx, Intent{WalletID: w.ID, ExternalOrderID: "INVaaaaaaaaaaaaaaaa", Amount: 1_000, Type: TypeDeposit})
	if err != nil {
		t.Fatalf("first intent: %v", err)
	}
	again, err := l.CreateIntent(ctx, Intent{WalletID: w.ID, ExternalOrderID: "INVaaaaaaaaaaaaaaaa", Amount: 1_000, Type: TypeDeposit})
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected existing transaction to be returned")
	}
}

func TestInMemoryLedger_PurgeExpiredPending(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newWallet(t, l, "user-a")

	old, _ := l.CreateIntent(ctx, Intent{WalletID: w.ID, ExternalOrderID: "INV1111111111111111", Amount: 1_000, Type: TypeDeposit})
	fresh, _ := l.CreateIntent(ctx, Intent{WalletID: w.ID, ExternalOrderID: "INV2222222222222222", Amount: 1_000, Type: TypeDeposit})
	Backdate(l, old.ID, 20*time.Minute)
	Backdate(l, fresh.ID, 5*time.Minute)

	purged, err := l.PurgeExpiredPending(ctx, 15*time.Minute)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged, got %d", purged)
	}

	if rec, _ := l.Transaction(ctx, old.ID); rec.Status != StatusFailed {
		t.Fatalf("expected old intent FAILED, got %s", rec.Status)
	}
	if rec, _ := l.Transaction(ctx, fresh.ID); rec.Status != StatusPending {
		t.Fatalf("expected fresh intent PENDING, got %s", rec.Status)
	}

	pending, _ := l.ListPending(ctx, 10, TypeDeposit, TypeRentalEscrowHold)
	if len(pending) != 1 || pending[0].ID != fresh.ID {
		t.Fatalf("expected only the fresh intent pending, got %+v", pending)
	}
}

func TestInMemoryLedger_FindPendingByOrderIDFiltersType(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newWallet(t, l, "user-a")
	tx, _ := l.CreateIntent(ctx, Intent{WalletID: w.ID, ExternalOrderID: "INV3333333333333333", Amount: 1_000, Type: TypeDeposit})

	if _, err := l.FindPendingByOrderID(ctx, tx.ExternalOrderID, TypeRentalEscrowHold); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for other type, got %v", err)
	}
	got, err := l.FindPendingByOrderID(ctx, tx.ExternalOrderID, TypeDeposit, TypeRentalEscrowHold)
	if err != nil {
		t.Fatalf("find pending: %v", err)
	}
	if got.ID != tx.ID {
		t.Fatalf("expected %s, got %s", tx.ID, got.ID)
	}
}

func TestInMemoryLedger_ContractAdvanceIsConditional(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	b, _ := l.CreateBooking(ctx, Booking{RenterID: "renter", OwnerID: "owner", TotalPrice: 1_000})
	c, err := l.CreateContract(ctx, Contract{BookingID: b.ID, RenterID: "renter", OwnerID: "owner", TotalAmount: 1_000})
	if err != nil {
		t.Fatalf("create contract: %v", err)
	}
	if _, err := l.CreateContract(ctx, Contract{BookingID: b.ID, RenterID: "renter", OwnerID: "owner", TotalAmount: 1_000}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected second open contract to be rejected, got %v", err)
	}

	var advanced []bool
	for i := 0; i < 2; i++ {
		_ = l.WithTx(ctx, func(x Tx) error {
			ok, err := x.AdvanceContract(ctx, c.ID, ContractPending, ContractPaid, time.Now())
			advanced = append(advanced, ok)
			return err
		})
	}
	if !advanced[0] || advanced[1] {
		t.Fatalf("expected only the first advance to apply, got %v", advanced)
	}
	got, _ := l.Contract(ctx, c.ID)
	if got.Status != ContractPaid || got.PaidAt == nil {
		t.Fatalf("expected PAID with paid_at, got %+v", got)
	}
}
