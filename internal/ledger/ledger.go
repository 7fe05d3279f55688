package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a wallet, transaction, contract or booking does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState occurs when a state transition is attempted from the wrong state.
	ErrInvalidState = errors.New("invalid state")

	// ErrInsufficientFunds occurs when a balance adjustment would drive a balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAlreadyProcessed signals that a compare-and-swap confirm lost the race. Callers treat
	// it as a successful no-op.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrDuplicateTransaction indicates the external order id is already in use and therefore
	// the intent should be treated as idempotent.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrForbidden is returned when the caller is not allowed to act on a booking or contract.
	ErrForbidden = errors.New("forbidden")
)

// TxType enumerates wallet transaction kinds.
type TxType string

const (
	TypeDeposit          TxType = "DEPOSIT"
	TypeRentalEscrowHold TxType = "RENTAL_ESCROW_HOLD"
	TypeRentalRelease    TxType = "RENTAL_RELEASE"
	TypeWithdraw         TxType = "WITHDRAW"
)

// TxStatus enumerates wallet transaction states.
type TxStatus string

const (
	StatusPending TxStatus = "PENDING"
	StatusSuccess TxStatus = "SUCCESS"
	StatusFailed  TxStatus = "FAILED"
)

// ContractStatus enumerates escrow contract states.
type ContractStatus string

const (
	ContractPending   ContractStatus = "PENDING"
	ContractPaid      ContractStatus = "PAID"
	ContractConfirmed ContractStatus = "CONFIRMED"
	ContractCancelled ContractStatus = "CANCELLED"
)

// BookingStatus enumerates the booking states the settlement engine moves between.
type BookingStatus string

const (
	BookingPendingPayment      BookingStatus = "PENDING_PAYMENT"
	BookingPendingConfirmation BookingStatus = "PENDING_CONFIRMATION"
	BookingActive              BookingStatus = "ACTIVE"
	BookingCompleted           BookingStatus = "COMPLETED"
	BookingCancelled           BookingStatus = "CANCELLED"
)

// Wallet is the per-user balance record.
type Wallet struct {
	ID               string
	UserID           string
	AvailableBalance int64
	PendingBalance   int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Delta is a signed change applied to a wallet's balances.
type Delta struct {
	Available int64
	Pending   int64
}

// Transaction is a money-movement event recorded against a wallet.
type Transaction struct {
	ID              string
	WalletID        string
	BookingID       string
	ContractID      string
	ExternalOrderID string
	Amount          int64
	Type            TxType
	Status          TxStatus
	CreatedAt       time.Time
	ConfirmedAt     *time.Time
}

// Contract is the escrow invoice linking a renter and an owner for one booking.
type Contract struct {
	ID          string
	BookingID   string
	RenterID    string
	OwnerID     string
	TotalAmount int64
	Status      ContractStatus
	CreatedAt   time.Time
	PaidAt      *time.Time
	ConfirmedAt *time.Time
	CancelledAt *time.Time
}

// Booking is the simplified view of a booking the ledger needs.
type Booking struct {
	ID         string
	RenterID   string
	OwnerID    string
	TotalPrice int64
	Status     BookingStatus
	CreatedAt  time.Time
}

// Intent describes a PENDING transaction awaiting external confirmation.
type Intent struct {
	WalletID        string
	BookingID       string
	ExternalOrderID string
	Amount          int64
	Type            TxType
}

// Tx is a single all-or-nothing unit of work. Every balance mutation happens through a Tx.
type Tx interface {
	// TryConfirm flips a transaction from PENDING to SUCCESS with a single conditional write and
	// reports whether this caller performed the flip.
	TryConfirm(ctx context.Context, txID string, at time.Time) (bool, error)
	// AdjustBalance is the only wallet mutator. It fails with ErrInsufficientFunds when either
	// balance would become negative.
	AdjustBalance(ctx context.Context, walletID string, delta Delta) (Wallet, error)
	AppendTransaction(ctx context.Context, t Transaction) (Transaction, error)

	Transaction(ctx context.Context, id string) (Transaction, error)
	WalletByUser(ctx context.Context, userID string) (Wallet, error)

	Booking(ctx context.Context, id string) (Booking, error)
	AdvanceBooking(ctx context.Context, id string, from, to BookingStatus) (bool, error)

	Contract(ctx context.Context, id string) (Contract, error)
	OpenContractForBooking(ctx context.Context, bookingID string) (Contract, error)
	AdvanceContract(ctx context.Context, id string, from, to ContractStatus, at time.Time) (bool, error)
}

// Store defines the contract implemented by ledger backends (Postgres, in-memory).
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	CreateWallet(ctx context.Context, userID string) (Wallet, error)
	Wallet(ctx context.Context, id string) (Wallet, error)
	WalletByUser(ctx context.Context, userID string) (Wallet, error)

	CreateIntent(ctx context.Context, intent Intent) (Transaction, error)
	Transaction(ctx context.Context, id string) (Transaction, error)
	FindPendingByOrderID(ctx context.Context, orderID string, types ...TxType) (Transaction, error)
	ListPending(ctx context.Context, limit int, types ...TxType) ([]Transaction, error)
	ListTransactions(ctx context.Context, walletID string) ([]Transaction, error)
	PurgeExpiredPending(ctx context.Context, maxAge time.Duration) (int64, error)

	CreateContract(ctx context.Context, c Contract) (Contract, error)
	Contract(ctx context.Context, id string) (Contract, error)
	ListContractsByUser(ctx context.Context, userID string) ([]Contract, error)

	CreateBooking(ctx context.Context, b Booking) (Booking, error)
	Booking(ctx context.Context, id string) (Booking, error)
}
