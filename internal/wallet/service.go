package wallet

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carshare-pay/escrow_ledger/internal/ledger"
)

// DefaultOrderPrefix starts every generated correlation token.
const DefaultOrderPrefix = "INV"

// ErrInvalidOrderID is returned for client-supplied order ids the webhook could never match.
var ErrInvalidOrderID = errors.New("invalid order id")

// Service exposes wallet operations backed by the ledger store.
type Service struct {
	store        ledger.Store
	orderPrefix  string
	orderPattern *regexp.Regexp
}

// NewService builds a wallet service instance.
func NewService(store ledger.Store, orderPrefix string) *Service {
	if orderPrefix == "" {
		orderPrefix = DefaultOrderPrefix
	}
	return &Service{
		store:        store,
		orderPrefix:  orderPrefix,
		orderPattern: regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(orderPrefix) + `([0-9a-f]{16})$`),
	}
}

// OrderPrefix returns the prefix used for correlation tokens.
func (s *Service) OrderPrefix() string {
	return s.orderPrefix
}

// NewOrderID returns a fresh correlation token: the prefix followed by 16 lowercase hex digits.
func (s *Service) NewOrderID() string {
	return s.orderPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// NormalizeOrderID checks that id is a correlation token and returns it in the form the webhook
// extracts from transfer content: the configured prefix followed by lowercase hex.
func (s *Service) NormalizeOrderID(id string) (string, error) {
	match := s.orderPattern.FindStringSubmatch(strings.TrimSpace(id))
	if match == nil {
		return "", fmt.Errorf("%w: %q must be %s followed by 16 hex digits", ErrInvalidOrderID, id, s.orderPrefix)
	}
	return s.orderPrefix + strings.ToLower(match[1]), nil
}

// Create provisions the wallet for a user. Calling it again returns the existing wallet.
func (s *Service) Create(ctx context.Context, userID string) (ledger.Wallet, error) {
	return s.store.CreateWallet(ctx, userID)
}

// GetBalance returns the available and pending balances of a user's wallet.
func (s *Service) GetBalance(ctx context.Context, userID string) (Balance, error) {
	w, err := s.store.WalletByUser(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		WalletID:  w.ID,
		UserID:    w.UserID,
		Available: w.AvailableBalance,
		Pending:   w.PendingBalance,
		AsOf:      time.Now().UTC(),
	}, nil
}

// ListTransactions returns the user's wallet history, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID string) ([]ledger.Transaction, error) {
	w, err := s.store.WalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, w.ID)
}

// CreateDepositIntent records a PENDING top-up awaiting a bank transfer.
func (s *Service) CreateDepositIntent(ctx context.Context, userID string, amount int64) (PaymentIntent, error) {
	if amount <= 0 {
		return PaymentIntent{}, fmt.Errorf("amount must be positive")
	}
	w, err := s.store.WalletByUser(ctx, userID)
	if err != nil {
		return PaymentIntent{}, err
	}
	return s.intent(ctx, ledger.Intent{
		WalletID:        w.ID,
		ExternalOrderID: s.NewOrderID(),
		Amount:          amount,
		Type:            ledger.TypeDeposit,
	})
}

// PayinInput captures an escrow-hold payment request.
type PayinInput struct {
	UserID    string
	BookingID string
	OrderID   string
	Amount    int64
}

// CreatePayin records a PENDING escrow hold. With a booking the hold is credited to the booking
// owner's wallet and the amount defaults to the booking price; otherwise it is credited to the
// user's own wallet.
func (s *Service) CreatePayin(ctx context.Context, input PayinInput) (PaymentIntent, error) {
	walletUser := input.UserID
	if input.BookingID != "" {
		booking, err := s.store.Booking(ctx, input.BookingID)
		if err != nil {
			return PaymentIntent{}, err
		}
		if booking.Status != ledger.BookingPendingPayment {
			return PaymentIntent{}, fmt.Errorf("booking %s is %s: %w", booking.ID, booking.Status, ledger.ErrInvalidState)
		}
		if input.Amount == 0 {
			input.Amount = booking.TotalPrice
		}
		walletUser = booking.OwnerID
	}
	if input.Amount <= 0 {
		return PaymentIntent{}, fmt.Errorf("amount must be positive")
	}
	if input.OrderID == "" {
		input.OrderID = s.NewOrderID()
	} else {
		id, err := s.NormalizeOrderID(input.OrderID)
		if err != nil {
			return PaymentIntent{}, err
		}
		input.OrderID = id
	}

	w, err := s.store.WalletByUser(ctx, walletUser)
	if err != nil {
		return PaymentIntent{}, err
	}
	return s.intent(ctx, ledger.Intent{
		WalletID:        w.ID,
		BookingID:       input.BookingID,
		ExternalOrderID: input.OrderID,
		Amount:          input.Amount,
		Type:            ledger.TypeRentalEscrowHold,
	})
}

func (s *Service) intent(ctx context.Context, intent ledger.Intent) (PaymentIntent, error) {
	tx, err := s.store.CreateIntent(ctx, intent)
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return PaymentIntent{}, err
	}
	return PaymentIntent{Transaction: tx, OrderID: tx.ExternalOrderID, Content: tx.ExternalOrderID}, err
}
