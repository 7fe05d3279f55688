package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/carshare-pay/escrow_ledger/internal/ledger"
	"github.com/carshare-pay/escrow_ledger/internal/notification"
)

// Engine applies confirmed payments and delivery releases to wallets. The webhook handler and the
// reconciliation scheduler share ConfirmPayment.
type Engine struct {
	store      ledger.Store
	commission Commission
	notifier   notification.Notifier
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine constructs a settlement engine.
func NewEngine(store ledger.Store, commission Commission, notifier notification.Notifier, logger *slog.Logger) *Engine {
	return &Engine{
		store:      store,
		commission: commission,
		notifier:   notifier,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Commission exposes the engine's commission policy.
func (e *Engine) Commission() Commission {
	return e.commission
}

// Outcome reports the effect of a ConfirmPayment call.
type Outcome struct {
	Confirmed   bool
	Transaction ledger.Transaction
	Wallet      ledger.Wallet
	Credited    int64
}

// ConfirmPayment flips a PENDING transaction to SUCCESS and credits its wallet in one unit of work.
// A caller that loses the race gets Confirmed=false and a nil error.
func (e *Engine) ConfirmPayment(ctx context.Context, txID string) (Outcome, error) {
	var out Outcome
	err := e.store.WithTx(ctx, func(tx ledger.Tx) error {
		at := e.now()
		ok, err := tx.TryConfirm(ctx, txID, at)
		if err != nil {
			return err
		}
		if !ok {
			return ledger.ErrAlreadyProcessed
		}

		rec, err := tx.Transaction(ctx, txID)
		if err != nil {
			return err
		}

		var delta ledger.Delta
		switch rec.Type {
		case ledger.TypeRentalEscrowHold:
			out.Credited = e.commission.Net(rec.Amount)
			delta.Pending = out.Credited
		case ledger.TypeDeposit:
			out.Credited = rec.Amount
			delta.Available = out.Credited
		default:
			return fmt.Errorf("confirm %s transaction %s: %w", rec.Type, rec.ID, ledger.ErrInvalidState)
		}

		wallet, err := tx.AdjustBalance(ctx, rec.WalletID, delta)
		if err != nil {
			return err
		}

		if rec.BookingID != "" {
			if err := markBookingPaid(ctx, tx, rec.BookingID, at); err != nil {
				return err
			}
		}

		out.Confirmed = true
		out.Transaction = rec
		out.Wallet = wallet
		return nil
	})
	if errors.Is(err, ledger.ErrAlreadyProcessed) {
		confirmations.WithLabelValues("unknown", "already_processed").Inc()
		return Outcome{}, nil
	}
	if err != nil {
		confirmations.WithLabelValues("unknown", "error").Inc()
		return Outcome{}, err
	}

	confirmations.WithLabelValues(string(out.Transaction.Type), "confirmed").Inc()
	e.logger.Info("payment confirmed",
		"transaction_id", out.Transaction.ID,
		"type", out.Transaction.Type,
		"wallet_id", out.Wallet.ID,
		"credited", out.Credited,
	)
	kind := notification.KindDepositCredited
	if out.Transaction.Type == ledger.TypeRentalEscrowHold {
		kind = notification.KindEscrowHeld
	}
	e.notify(ctx, kind, out.Wallet.UserID, fmt.Sprintf("%d credited for order %s", out.Credited, out.Transaction.ExternalOrderID))
	return out, nil
}

// markBookingPaid advances a booking out of PENDING_PAYMENT and marks its pending contract PAID.
// Both steps are conditional, so a booking already moved on by another path is left alone.
func markBookingPaid(ctx context.Context, tx ledger.Tx, bookingID string, at time.Time) error {
	if _, err := tx.AdvanceBooking(ctx, bookingID, ledger.BookingPendingPayment, ledger.BookingPendingConfirmation); err != nil {
		return err
	}
	contract, err := tx.OpenContractForBooking(ctx, bookingID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = tx.AdvanceContract(ctx, contract.ID, ledger.ContractPending, ledger.ContractPaid, at)
	return err
}

// Release is the result of moving held funds to an owner's available balance.
type Release struct {
	Wallet      ledger.Wallet
	Transaction ledger.Transaction
	Amount      int64
}

// ReleaseHeld moves amount from the owner's pending balance to available and records a
// RENTAL_RELEASE transaction. It must run inside a unit of work.
func ReleaseHeld(ctx context.Context, tx ledger.Tx, ownerID string, amount int64, bookingID, contractID string, at time.Time) (Release, error) {
	wallet, err := tx.WalletByUser(ctx, ownerID)
	if err != nil {
		return Release{}, err
	}
	wallet, err = tx.AdjustBalance(ctx, wallet.ID, ledger.Delta{Available: amount, Pending: -amount})
	if err != nil {
		return Release{}, err
	}
	rec, err := tx.AppendTransaction(ctx, ledger.Transaction{
		WalletID:    wallet.ID,
		BookingID:   bookingID,
		ContractID:  contractID,
		Amount:      amount,
		Type:        ledger.TypeRentalRelease,
		Status:      ledger.StatusSuccess,
		ConfirmedAt: &at,
	})
	if err != nil {
		return Release{}, err
	}
	return Release{Wallet: wallet, Transaction: rec, Amount: amount}, nil
}

// ConfirmDelivery settles a booking once its owner marks the car delivered: the booking becomes
// ACTIVE, the owner's net share moves from pending to available, and a PAID contract is closed.
func (e *Engine) ConfirmDelivery(ctx context.Context, bookingID, callerID string) (Release, error) {
	var out Release
	err := e.store.WithTx(ctx, func(tx ledger.Tx) error {
		booking, err := tx.Booking(ctx, bookingID)
		if err != nil {
			return err
		}
		if booking.OwnerID != callerID {
			return fmt.Errorf("confirm delivery of booking %s: %w", bookingID, ledger.ErrForbidden)
		}

		advanced, err := tx.AdvanceBooking(ctx, bookingID, ledger.BookingPendingConfirmation, ledger.BookingActive)
		if err != nil {
			return err
		}
		if !advanced {
			return fmt.Errorf("booking %s is %s: %w", bookingID, booking.Status, ledger.ErrInvalidState)
		}

		at := e.now()
		var contractID string
		contract, err := tx.OpenContractForBooking(ctx, bookingID)
		switch {
		case err == nil:
			if _, err := tx.AdvanceContract(ctx, contract.ID, ledger.ContractPaid, ledger.ContractConfirmed, at); err != nil {
				return err
			}
			contractID = contract.ID
		case !errors.Is(err, ledger.ErrNotFound):
			return err
		}

		out, err = ReleaseHeld(ctx, tx, booking.OwnerID, e.commission.Net(booking.TotalPrice), bookingID, contractID, at)
		return err
	})
	if err != nil {
		return Release{}, err
	}

	releases.Inc()
	e.logger.Info("delivery confirmed", "booking_id", bookingID, "owner_id", callerID, "released", out.Amount)
	e.notify(ctx, notification.KindFundsReleased, callerID, fmt.Sprintf("%d released for booking %s", out.Amount, bookingID))
	return out, nil
}

// RecordRelease counts a release performed outside ConfirmDelivery.
func RecordRelease() {
	releases.Inc()
}

func (e *Engine) notify(ctx context.Context, kind, destination, body string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(ctx, notification.Message{Kind: kind, Destination: destination, Body: body}); err != nil {
		e.logger.Warn("notification failed", "kind", kind, "error", err)
	}
}
