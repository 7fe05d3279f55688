package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresLedger persists wallets, transactions, contracts and booking statuses in PostgreSQL.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

const (
	walletColumns      = `id, user_id, available_balance, pending_balance, created_at, updated_at`
	transactionColumns = `id, wallet_id, booking_id, contract_id, external_order_id, amount, type, status, created_at, confirmed_at`
	contractColumns    = `id, booking_id, renter_id, owner_id, total_amount, status, created_at, paid_at, confirmed_at, cancelled_at`
	bookingColumns     = `id, renter_id, owner_id, total_price, status, created_at`
)

// WithTx runs fn inside a single database transaction. Any error rolls every statement back.
func (l *PostgresLedger) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateWallet inserts the wallet for a user, returning the existing one when already present.
func (l *PostgresLedger) CreateWallet(ctx context.Context, userID string) (Wallet, error) {
	if userID == "" {
		return Wallet{}, fmt.Errorf("user id is required")
	}
	_, err := l.db.Exec(ctx, `INSERT INTO wallets (id, user_id) VALUES ($1, $2)
        ON CONFLICT (user_id) DO NOTHING`, uuid.NewString(), userID)
	if err != nil {
		return Wallet{}, err
	}
	return walletByUser(ctx, l.db, userID, false)
}

// Wallet fetches a wallet by identifier.
func (l *PostgresLedger) Wallet(ctx context.Context, id string) (Wallet, error) {
	row := l.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id)
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, fmt.Errorf("wallet %s: %w", id, ErrNotFound)
	}
	return w, err
}

// WalletByUser fetches the wallet owned by userID.
func (l *PostgresLedger) WalletByUser(ctx context.Context, userID string) (Wallet, error) {
	return walletByUser(ctx, l.db, userID, false)
}

// CreateIntent records a PENDING transaction keyed by its external order id.
func (l *PostgresLedger) CreateIntent(ctx context.Context, intent Intent) (Transaction, error) {
	if intent.Amount <= 0 {
		return Transaction{}, fmt.Errorf("amount must be positive")
	}
	if intent.ExternalOrderID == "" {
		return Transaction{}, fmt.Errorf("external order id is required")
	}

	t, err := insertTransaction(ctx, l.db, Transaction{
		WalletID:        intent.WalletID,
		BookingID:       intent.BookingID,
		ExternalOrderID: intent.ExternalOrderID,
		Amount:          intent.Amount,
		Type:            intent.Type,
		Status:          StatusPending,
	})
	if errors.Is(err, ErrDuplicateTransaction) {
		existing, lookupErr := l.transactionByOrderID(ctx, intent.ExternalOrderID)
		if lookupErr != nil {
			return Transaction{}, lookupErr
		}
		return existing, ErrDuplicateTransaction
	}
	return t, err
}

// Transaction fetches a transaction by identifier.
func (l *PostgresLedger) Transaction(ctx context.Context, id string) (Transaction, error) {
	return transactionByID(ctx, l.db, id)
}

func (l *PostgresLedger) transactionByOrderID(ctx context.Context, orderID string) (Transaction, error) {
	row := l.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM wallet_transactions WHERE external_order_id = $1`, orderID)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return t, err
}

// FindPendingByOrderID returns the PENDING transaction carrying orderID, restricted to types.
func (l *PostgresLedger) FindPendingByOrderID(ctx context.Context, orderID string, types ...TxType) (Transaction, error) {
	row := l.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM wallet_transactions
        WHERE external_order_id = $1 AND status = 'PENDING'
          AND (cardinality($2::text[]) = 0 OR type = ANY($2::text[]))`, orderID, typeNames(types))
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, fmt.Errorf("pending order %s: %w", orderID, ErrNotFound)
	}
	return t, err
}

// ListPending returns the oldest PENDING transactions that carry a correlation token.
func (l *PostgresLedger) ListPending(ctx context.Context, limit int, types ...TxType) ([]Transaction, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := l.db.Query(ctx, `SELECT `+transactionColumns+` FROM wallet_transactions
        WHERE status = 'PENDING' AND external_order_id IS NOT NULL
          AND (cardinality($1::text[]) = 0 OR type = ANY($1::text[]))
        ORDER BY created_at ASC
        LIMIT $2`, typeNames(types), limit)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// ListTransactions returns a wallet's transactions, newest first.
func (l *PostgresLedger) ListTransactions(ctx context.Context, walletID string) ([]Transaction, error) {
	rows, err := l.db.Query(ctx, `SELECT `+transactionColumns+` FROM wallet_transactions
        WHERE wallet_id = $1 ORDER BY created_at DESC`, walletID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// PurgeExpiredPending marks PENDING transactions older than maxAge as FAILED.
func (l *PostgresLedger) PurgeExpiredPending(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	tag, err := l.db.Exec(ctx, `UPDATE wallet_transactions SET status = 'FAILED'
        WHERE status = 'PENDING' AND created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CreateContract inserts a PENDING escrow contract for a booking.
func (l *PostgresLedger) CreateContract(ctx context.Context, c Contract) (Contract, error) {
	if c.TotalAmount <= 0 {
		return Contract{}, fmt.Errorf("amount must be positive")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	row := l.db.QueryRow(ctx, `INSERT INTO escrow_contracts (id, booking_id, renter_id, owner_id, total_amount, status)
        VALUES ($1, $2, $3, $4, $5, 'PENDING')
        RETURNING `+contractColumns, c.ID, c.BookingID, c.RenterID, c.OwnerID, c.TotalAmount)
	created, err := scanContract(row)
	if err != nil {
		switch pgErrorCode(err) {
		case uniqueViolation:
			return Contract{}, fmt.Errorf("booking %s already has an open contract: %w", c.BookingID, ErrInvalidState)
		case foreignKeyViolation:
			return Contract{}, fmt.Errorf("booking %s: %w", c.BookingID, ErrNotFound)
		}
		return Contract{}, err
	}
	return created, nil
}

// Contract fetches a contract by identifier.
func (l *PostgresLedger) Contract(ctx context.Context, id string) (Contract, error) {
	return contractByID(ctx, l.db, id, false)
}

// ListContractsByUser returns contracts where the user is renter or owner, newest first.
func (l *PostgresLedger) ListContractsByUser(ctx context.Context, userID string) ([]Contract, error) {
	rows, err := l.db.Query(ctx, `SELECT `+contractColumns+` FROM escrow_contracts
        WHERE renter_id = $1 OR owner_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateBooking inserts the simplified booking row the settlement engine advances.
func (l *PostgresLedger) CreateBooking(ctx context.Context, b Booking) (Booking, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = BookingPendingPayment
	}
	row := l.db.QueryRow(ctx, `INSERT INTO bookings (id, renter_id, owner_id, total_price, status)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING `+bookingColumns, b.ID, b.RenterID, b.OwnerID, b.TotalPrice, string(b.Status))
	return scanBooking(row)
}

// Booking fetches a booking by identifier.
func (l *PostgresLedger) Booking(ctx context.Context, id string) (Booking, error) {
	return bookingByID(ctx, l.db, id, false)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) TryConfirm(ctx context.Context, txID string, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE wallet_transactions SET status = 'SUCCESS', confirmed_at = $2
        WHERE id = $1 AND status = 'PENDING'`, txID, at.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) AdjustBalance(ctx context.Context, walletID string, delta Delta) (Wallet, error) {
	row := t.tx.QueryRow(ctx, `UPDATE wallets
        SET available_balance = available_balance + $2,
            pending_balance = pending_balance + $3,
            updated_at = NOW()
        WHERE id = $1 AND available_balance + $2 >= 0 AND pending_balance + $3 >= 0
        RETURNING `+walletColumns, walletID, delta.Available, delta.Pending)
	w, err := scanWallet(row)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, err
	}

	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM wallets WHERE id = $1)`, walletID).Scan(&exists); err != nil {
		return Wallet{}, err
	}
	if !exists {
		return Wallet{}, fmt.Errorf("wallet %s: %w", walletID, ErrNotFound)
	}
	return Wallet{}, ErrInsufficientFunds
}

func (t *pgTx) AppendTransaction(ctx context.Context, rec Transaction) (Transaction, error) {
	if rec.Amount <= 0 {
		return Transaction{}, fmt.Errorf("amount must be positive")
	}
	return insertTransaction(ctx, t.tx, rec)
}

func (t *pgTx) Transaction(ctx context.Context, id string) (Transaction, error) {
	return transactionByID(ctx, t.tx, id)
}

func (t *pgTx) WalletByUser(ctx context.Context, userID string) (Wallet, error) {
	return walletByUser(ctx, t.tx, userID, true)
}

func (t *pgTx) Booking(ctx context.Context, id string) (Booking, error) {
	return bookingByID(ctx, t.tx, id, true)
}

func (t *pgTx) AdvanceBooking(ctx context.Context, id string, from, to BookingStatus) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE bookings SET status = $3 WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) Contract(ctx context.Context, id string) (Contract, error) {
	return contractByID(ctx, t.tx, id, true)
}

func (t *pgTx) OpenContractForBooking(ctx context.Context, bookingID string) (Contract, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+contractColumns+` FROM escrow_contracts
        WHERE booking_id = $1 AND status <> 'CANCELLED' FOR UPDATE`, bookingID)
	c, err := scanContract(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contract{}, fmt.Errorf("open contract for booking %s: %w", bookingID, ErrNotFound)
	}
	return c, err
}

func (t *pgTx) AdvanceContract(ctx context.Context, id string, from, to ContractStatus, at time.Time) (bool, error) {
	var column string
	switch to {
	case ContractPaid:
		column = "paid_at"
	case ContractConfirmed:
		column = "confirmed_at"
	case ContractCancelled:
		column = "cancelled_at"
	default:
		return false, fmt.Errorf("unsupported contract status %s", to)
	}
	tag, err := t.tx.Exec(ctx, `UPDATE escrow_contracts SET status = $3, `+column+` = $4
        WHERE id = $1 AND status = $2`, id, string(from), string(to), at.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func insertTransaction(ctx context.Context, q querier, rec Transaction) (Transaction, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	row := q.QueryRow(ctx, `INSERT INTO wallet_transactions
        (id, wallet_id, booking_id, contract_id, external_order_id, amount, type, status, created_at, confirmed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING `+transactionColumns,
		rec.ID, rec.WalletID, nullable(rec.BookingID), nullable(rec.ContractID), nullable(rec.ExternalOrderID),
		rec.Amount, string(rec.Type), string(rec.Status), rec.CreatedAt, rec.ConfirmedAt)
	t, err := scanTransaction(row)
	if err != nil {
		switch pgErrorCode(err) {
		case uniqueViolation:
			return Transaction{}, ErrDuplicateTransaction
		case foreignKeyViolation:
			return Transaction{}, fmt.Errorf("wallet %s: %w", rec.WalletID, ErrNotFound)
		}
		return Transaction{}, err
	}
	return t, nil
}

func transactionByID(ctx context.Context, q querier, id string) (Transaction, error) {
	row := q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM wallet_transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return t, err
}

func walletByUser(ctx context.Context, q querier, userID string, lock bool) (Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	w, err := scanWallet(q.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, fmt.Errorf("wallet for user %s: %w", userID, ErrNotFound)
	}
	return w, err
}

func contractByID(ctx context.Context, q querier, id string, lock bool) (Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM escrow_contracts WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	c, err := scanContract(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Contract{}, fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	return c, err
}

func bookingByID(ctx context.Context, q querier, id string, lock bool) (Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	b, err := scanBooking(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Booking{}, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	return b, err
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	if err := row.Scan(&w.ID, &w.UserID, &w.AvailableBalance, &w.PendingBalance, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Wallet{}, err
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t                              Transaction
		bookingID, contractID, orderID *string
		txType, status                 string
	)
	if err := row.Scan(&t.ID, &t.WalletID, &bookingID, &contractID, &orderID, &t.Amount, &txType, &status, &t.CreatedAt, &t.ConfirmedAt); err != nil {
		return Transaction{}, err
	}
	t.BookingID = deref(bookingID)
	t.ContractID = deref(contractID)
	t.ExternalOrderID = deref(orderID)
	t.Type = TxType(txType)
	t.Status = TxStatus(status)
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanContract(row pgx.Row) (Contract, error) {
	var (
		c      Contract
		status string
	)
	if err := row.Scan(&c.ID, &c.BookingID, &c.RenterID, &c.OwnerID, &c.TotalAmount, &status, &c.CreatedAt, &c.PaidAt, &c.ConfirmedAt, &c.CancelledAt); err != nil {
		return Contract{}, err
	}
	c.Status = ContractStatus(status)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func scanBooking(row pgx.Row) (Booking, error) {
	var (
		b      Booking
		status string
	)
	if err := row.Scan(&b.ID, &b.RenterID, &b.OwnerID, &b.TotalPrice, &status, &b.CreatedAt); err != nil {
		return Booking{}, err
	}
	b.Status = BookingStatus(status)
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func typeNames(types []TxType) []string {
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}
	return names
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
