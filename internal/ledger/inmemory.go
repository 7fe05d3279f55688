package ledger

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type inMemoryLedger struct {
	mu        sync.Mutex
	wallets   map[string]Wallet
	byUser    map[string]string
	txs       map[string]Transaction
	txOrder   []string
	orderIDs  map[string]string
	contracts map[string]Contract
	bookings  map[string]Booking
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests and local
// development. Units of work are serialized by a single mutex and rolled back by restoring a
// snapshot.
func NewInMemory() Store {
	return &inMemoryLedger{
		wallets:   make(map[string]Wallet),
		byUser:    make(map[string]string),
		txs:       make(map[string]Transaction),
		orderIDs:  make(map[string]string),
		contracts: make(map[string]Contract),
		bookings:  make(map[string]Booking),
	}
}

type snapshot struct {
	wallets   map[string]Wallet
	byUser    map[string]string
	txs       map[string]Transaction
	txOrder   []string
	orderIDs  map[string]string
	contracts map[string]Contract
	bookings  map[string]Booking
}

func (l *inMemoryLedger) snapshot() snapshot {
	return snapshot{
		wallets:   maps.Clone(l.wallets),
		byUser:    maps.Clone(l.byUser),
		txs:       maps.Clone(l.txs),
		txOrder:   slices.Clone(l.txOrder),
		orderIDs:  maps.Clone(l.orderIDs),
		contracts: maps.Clone(l.contracts),
		bookings:  maps.Clone(l.bookings),
	}
}

func (l *inMemoryLedger) restore(s snapshot) {
	l.wallets = s.wallets
	l.byUser = s.byUser
	l.txs = s.txs
	l.txOrder = s.txOrder
	l.orderIDs = s.orderIDs
	l.contracts = s.contracts
	l.bookings = s.bookings
}

func (l *inMemoryLedger) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := l.snapshot()
	if err := fn(&memTx{l: l}); err != nil {
		l.restore(snap)
		return err
	}
	if err := ctx.Err(); err != nil {
		l.restore(snap)
		return err
	}
	return nil
}

func (l *inMemoryLedger) CreateWallet(_ context.Context, userID string) (Wallet, error) {
	if userID == "" {
		return Wallet{}, fmt.Errorf("user id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if id, exists := l.byUser[userID]; exists {
		return l.wallets[id], nil
	}
	now := time.Now().UTC()
	w := Wallet{ID: uuid.NewString(), UserID: userID, CreatedAt: now, UpdatedAt: now}
	l.wallets[w.ID] = w
	l.byUser[userID] = w.ID
	return w, nil
}

func (l *inMemoryLedger) Wallet(_ context.Context, id string) (Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wallets[id]
	if !ok {
		return Wallet{}, fmt.Errorf("wallet %s: %w", id, ErrNotFound)
	}
	return w, nil
}

func (l *inMemoryLedger) WalletByUser(_ context.Context, userID string) (Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.walletByUser(userID)
}

func (l *inMemoryLedger) walletByUser(userID string) (Wallet, error) {
	id, ok := l.byUser[userID]
	if !ok {
		return Wallet{}, fmt.Errorf("wallet for user %s: %w", userID, ErrNotFound)
	}
	return l.wallets[id], nil
}

func (l *inMemoryLedger) CreateIntent(_ context.Context, intent Intent) (Transaction, error) {
	if intent.Amount <= 0 {
		return Transaction{}, fmt.Errorf("amount must be positive")
	}
	if intent.ExternalOrderID == "" {
		return Transaction{}, fmt.Errorf("external order id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.wallets[intent.WalletID]; !ok {
		return Transaction{}, fmt.Errorf("wallet %s: %w", intent.WalletID, ErrNotFound)
	}
	if existing, ok := l.orderIDs[intent.ExternalOrderID]; ok {
		return l.txs[existing], ErrDuplicateTransaction
	}

	return l.insertTx(Transaction{
		WalletID:        intent.WalletID,
		BookingID:       intent.BookingID,
		ExternalOrderID: intent.ExternalOrderID,
		Amount:          intent.Amount,
		Type:            intent.Type,
		Status:          StatusPending,
	})
}

func (l *inMemoryLedger) insertTx(t Transaction) (Transaction, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.ExternalOrderID != "" {
		if _, ok := l.orderIDs[t.ExternalOrderID]; ok {
			return Transaction{}, ErrDuplicateTransaction
		}
		l.orderIDs[t.ExternalOrderID] = t.ID
	}
	l.txs[t.ID] = t
	l.txOrder = append(l.txOrder, t.ID)
	return t, nil
}

func (l *inMemoryLedger) Transaction(_ context.Context, id string) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transaction(id)
}

func (l *inMemoryLedger) transaction(id string) (Transaction, error) {
	t, ok := l.txs[id]
	if !ok {
		return Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return t, nil
}

func (l *inMemoryLedger) FindPendingByOrderID(_ context.Context, orderID string, types ...TxType) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, ok := l.orderIDs[orderID]
	if !ok {
		return Transaction{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	t := l.txs[id]
	if t.Status != StatusPending || !matchesType(t.Type, types) {
		return Transaction{}, fmt.Errorf("pending order %s: %w", orderID, ErrNotFound)
	}
	return t, nil
}

func (l *inMemoryLedger) ListPending(_ context.Context, limit int, types ...TxType) ([]Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Transaction
	for _, id := range l.txOrder {
		t := l.txs[id]
		if t.Status != StatusPending || t.ExternalOrderID == "" || !matchesType(t.Type, types) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *inMemoryLedger) ListTransactions(_ context.Context, walletID string) ([]Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Transaction
	for i := len(l.txOrder) - 1; i >= 0; i-- {
		if t := l.txs[l.txOrder[i]]; t.WalletID == walletID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (l *inMemoryLedger) PurgeExpiredPending(_ context.Context, maxAge time.Duration) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	var purged int64
	for id, t := range l.txs {
		if t.Status == StatusPending && t.CreatedAt.Before(cutoff) {
			t.Status = StatusFailed
			l.txs[id] = t
			purged++
		}
	}
	return purged, nil
}

func (l *inMemoryLedger) CreateContract(_ context.Context, c Contract) (Contract, error) {
	if c.TotalAmount <= 0 {
		return Contract{}, fmt.Errorf("amount must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.bookings[c.BookingID]; !ok {
		return Contract{}, fmt.Errorf("booking %s: %w", c.BookingID, ErrNotFound)
	}
	if _, err := l.openContractForBooking(c.BookingID); err == nil {
		return Contract{}, fmt.Errorf("booking %s already has an open contract: %w", c.BookingID, ErrInvalidState)
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.Status = ContractPending
	l.contracts[c.ID] = c
	return c, nil
}

func (l *inMemoryLedger) Contract(_ context.Context, id string) (Contract, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.contract(id)
}

func (l *inMemoryLedger) contract(id string) (Contract, error) {
	c, ok := l.contracts[id]
	if !ok {
		return Contract{}, fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (l *inMemoryLedger) openContractForBooking(bookingID string) (Contract, error) {
	for _, c := range l.contracts {
		if c.BookingID == bookingID && c.Status != ContractCancelled {
			return c, nil
		}
	}
	return Contract{}, fmt.Errorf("open contract for booking %s: %w", bookingID, ErrNotFound)
}

func (l *inMemoryLedger) ListContractsByUser(_ context.Context, userID string) ([]Contract, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Contract
	for _, c := range l.contracts {
		if c.RenterID == userID || c.OwnerID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (l *inMemoryLedger) CreateBooking(_ context.Context, b Booking) (Booking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if _, exists := l.bookings[b.ID]; exists {
		return Booking{}, fmt.Errorf("booking %s exists", b.ID)
	}
	if b.Status == "" {
		b.Status = BookingPendingPayment
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	l.bookings[b.ID] = b
	return b, nil
}

func (l *inMemoryLedger) Booking(_ context.Context, id string) (Booking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.booking(id)
}

func (l *inMemoryLedger) booking(id string) (Booking, error) {
	b, ok := l.bookings[id]
	if !ok {
		return Booking{}, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	return b, nil
}

// memTx operates on the ledger while WithTx holds the mutex.
type memTx struct {
	l *inMemoryLedger
}

func (t *memTx) TryConfirm(_ context.Context, txID string, at time.Time) (bool, error) {
	rec, ok := t.l.txs[txID]
	if !ok || rec.Status != StatusPending {
		return false, nil
	}
	confirmedAt := at.UTC()
	rec.Status = StatusSuccess
	rec.ConfirmedAt = &confirmedAt
	t.l.txs[txID] = rec
	return true, nil
}

func (t *memTx) AdjustBalance(_ context.Context, walletID string, delta Delta) (Wallet, error) {
	w, ok := t.l.wallets[walletID]
	if !ok {
		return Wallet{}, fmt.Errorf("wallet %s: %w", walletID, ErrNotFound)
	}
	if w.AvailableBalance+delta.Available < 0 || w.PendingBalance+delta.Pending < 0 {
		return Wallet{}, ErrInsufficientFunds
	}
	w.AvailableBalance += delta.Available
	w.PendingBalance += delta.Pending
	w.UpdatedAt = time.Now().UTC()
	t.l.wallets[walletID] = w
	return w, nil
}

func (t *memTx) AppendTransaction(_ context.Context, rec Transaction) (Transaction, error) {
	if rec.Amount <= 0 {
		return Transaction{}, fmt.Errorf("amount must be positive")
	}
	if _, ok := t.l.wallets[rec.WalletID]; !ok {
		return Transaction{}, fmt.Errorf("wallet %s: %w", rec.WalletID, ErrNotFound)
	}
	return t.l.insertTx(rec)
}

func (t *memTx) Transaction(_ context.Context, id string) (Transaction, error) {
	return t.l.transaction(id)
}

func (t *memTx) WalletByUser(_ context.Context, userID string) (Wallet, error) {
	return t.l.walletByUser(userID)
}

func (t *memTx) Booking(_ context.Context, id string) (Booking, error) {
	return t.l.booking(id)
}

func (t *memTx) AdvanceBooking(_ context.Context, id string, from, to BookingStatus) (bool, error) {
	b, ok := t.l.bookings[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	t.l.bookings[id] = b
	return true, nil
}

func (t *memTx) Contract(_ context.Context, id string) (Contract, error) {
	return t.l.contract(id)
}

func (t *memTx) OpenContractForBooking(_ context.Context, bookingID string) (Contract, error) {
	return t.l.openContractForBooking(bookingID)
}

func (t *memTx) AdvanceContract(_ context.Context, id string, from, to ContractStatus, at time.Time) (bool, error) {
	c, ok := t.l.contracts[id]
	if !ok || c.Status != from {
		return false, nil
	}
	stamp := at.UTC()
	c.Status = to
	switch to {
	case ContractPaid:
		c.PaidAt = &stamp
	case ContractConfirmed:
		c.ConfirmedAt = &stamp
	case ContractCancelled:
		c.CancelledAt = &stamp
	}
	t.l.contracts[id] = c
	return true, nil
}

func matchesType(t TxType, types []TxType) bool {
	return len(types) == 0 || slices.Contains(types, t)
}
