package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/carshare-pay/escrow_ledger/internal/ledger"
	"github.com/carshare-pay/escrow_ledger/internal/notification"
	"github.com/carshare-pay/escrow_ledger/internal/settlement"
)

// Service drives the escrow contract state machine:
// PENDING -> PAID -> CONFIRMED, or PENDING -> CANCELLED.
type Service struct {
	store      ledger.Store
	commission settlement.Commission
	notifier   notification.Notifier
	logger     *slog.Logger
	now        func() time.Time
}

// NewService constructs an escrow contract service.
func NewService(store ledger.Store, commission settlement.Commission, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		commission: commission,
		notifier:   notifier,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput captures the data needed to open a contract for a booking.
type CreateInput struct {
	BookingID string
	RenterID  string
	OwnerID   string
	Amount    int64
}

// Create opens a PENDING contract for a booking that is still awaiting payment. Parties and amount
// default to the booking's.
func (s *Service) Create(ctx context.Context, input CreateInput) (ledger.Contract, error) {
	if input.BookingID == "" {
		return ledger.Contract{}, fmt.Errorf("booking id is required")
	}
	booking, err := s.store.Booking(ctx, input.BookingID)
	if err != nil {
		return ledger.Contract{}, err
	}
	if input.RenterID == "" {
		input.RenterID = booking.RenterID
	}
	if input.OwnerID == "" {
		input.OwnerID = booking.OwnerID
	}
	if input.Amount == 0 {
		input.Amount = booking.TotalPrice
	}
	if input.Amount <= 0 {
		return ledger.Contract{}, fmt.Errorf("amount must be positive")
	}
	if input.RenterID != booking.RenterID || input.OwnerID != booking.OwnerID {
		return ledger.Contract{}, fmt.Errorf("contract parties do not match booking %s", booking.ID)
	}
	if booking.Status != ledger.BookingPendingPayment {
		return ledger.Contract{}, fmt.Errorf("booking %s is %s, want %s: %w", booking.ID, booking.Status, ledger.BookingPendingPayment, ledger.ErrInvalidState)
	}

	return s.store.CreateContract(ctx, ledger.Contract{
		BookingID:   booking.ID,
		RenterID:    input.RenterID,
		OwnerID:     input.OwnerID,
		TotalAmount: input.Amount,
	})
}

// Get returns a contract by id.
func (s *Service) Get(ctx context.Context, id string) (ledger.Contract, error) {
	return s.store.Contract(ctx, id)
}

// ListByUser returns contracts where the user is either party.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]ledger.Contract, error) {
	return s.store.ListContractsByUser(ctx, userID)
}

// Pay marks a PENDING contract PAID and holds the owner's net share in their pending balance.
func (s *Service) Pay(ctx context.Context, id string) (ledger.Contract, error) {
	var (
		contract ledger.Contract
		held     int64
	)
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		c, err := tx.Contract(ctx, id)
		if err != nil {
			return err
		}
		at := s.now()
		if err := advance(ctx, tx, c, ledger.ContractPending, ledger.ContractPaid, at); err != nil {
			return err
		}
		// a booking already past PENDING_PAYMENT has its funds held by a confirmed payin
		ok, err := tx.AdvanceBooking(ctx, c.BookingID, ledger.BookingPendingPayment, ledger.BookingPendingConfirmation)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("booking %s is not awaiting payment: %w", c.BookingID, ledger.ErrInvalidState)
		}

		owner, err := tx.WalletByUser(ctx, c.OwnerID)
		if err != nil {
			return err
		}
		held = s.commission.Net(c.TotalAmount)
		if _, err := tx.AdjustBalance(ctx, owner.ID, ledger.Delta{Pending: held}); err != nil {
			return err
		}
		if _, err := tx.AppendTransaction(ctx, ledger.Transaction{
			WalletID:    owner.ID,
			BookingID:   c.BookingID,
			ContractID:  c.ID,
			Amount:      held,
			Type:        ledger.TypeRentalEscrowHold,
			Status:      ledger.StatusSuccess,
			ConfirmedAt: &at,
		}); err != nil {
			return err
		}

		contract, err = tx.Contract(ctx, id)
		return err
	})
	if err != nil {
		return ledger.Contract{}, err
	}

	s.logger.Info("contract paid", "contract_id", id, "owner_id", contract.OwnerID, "held", held)
	s.notify(ctx, notification.KindEscrowHeld, contract.OwnerID, fmt.Sprintf("%d held for booking %s", held, contract.BookingID))
	return contract, nil
}

// Confirm settles a PAID contract, moving the held share to the owner's available balance.
func (s *Service) Confirm(ctx context.Context, id string) (ledger.Contract, error) {
	var (
		contract ledger.Contract
		release  settlement.Release
	)
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		c, err := tx.Contract(ctx, id)
		if err != nil {
			return err
		}
		at := s.now()
		if err := advance(ctx, tx, c, ledger.ContractPaid, ledger.ContractConfirmed, at); err != nil {
			return err
		}

		release, err = settlement.ReleaseHeld(ctx, tx, c.OwnerID, s.commission.Net(c.TotalAmount), c.BookingID, c.ID, at)
		if err != nil {
			return err
		}
		if _, err := tx.AdvanceBooking(ctx, c.BookingID, ledger.BookingPendingConfirmation, ledger.BookingActive); err != nil {
			return err
		}

		contract, err = tx.Contract(ctx, id)
		return err
	})
	if err != nil {
		return ledger.Contract{}, err
	}

	settlement.RecordRelease()
	s.logger.Info("contract confirmed", "contract_id", id, "owner_id", contract.OwnerID, "released", release.Amount)
	s.notify(ctx, notification.KindFundsReleased, contract.OwnerID, fmt.Sprintf("%d released for booking %s", release.Amount, contract.BookingID))
	return contract, nil
}

// Cancel abandons a PENDING contract and its booking.
func (s *Service) Cancel(ctx context.Context, id string) (ledger.Contract, error) {
	var contract ledger.Contract
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		c, err := tx.Contract(ctx, id)
		if err != nil {
			return err
		}
		if err := advance(ctx, tx, c, ledger.ContractPending, ledger.ContractCancelled, s.now()); err != nil {
			return err
		}
		if _, err := tx.AdvanceBooking(ctx, c.BookingID, ledger.BookingPendingPayment, ledger.BookingCancelled); err != nil {
			return err
		}
		contract, err = tx.Contract(ctx, id)
		return err
	})
	if err != nil {
		return ledger.Contract{}, err
	}
	s.logger.Info("contract cancelled", "contract_id", id)
	return contract, nil
}

func advance(ctx context.Context, tx ledger.Tx, c ledger.Contract, from, to ledger.ContractStatus, at time.Time) error {
	ok, err := tx.AdvanceContract(ctx, c.ID, from, to, at)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("contract %s is %s, want %s: %w", c.ID, c.Status, from, ledger.ErrInvalidState)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, kind, destination, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, notification.Message{Kind: kind, Destination: destination, Body: body}); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("notification failed", "kind", kind, "error", err)
	}
}
