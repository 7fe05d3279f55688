package ledger

import "time"

// SeedBalance is a test helper that sets wallet balances directly when using the in-memory ledger.
func SeedBalance(s Store, walletID string, available, pending int64) {
	if mem, ok := s.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		w := mem.wallets[walletID]
		w.AvailableBalance = available
		w.PendingBalance = pending
		mem.wallets[walletID] = w
	}
}

// Backdate is a test helper that moves a transaction's creation time into the past on the
// in-memory ledger.
func Backdate(s Store, txID string, age time.Duration) {
	if mem, ok := s.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		t := mem.txs[txID]
		t.CreatedAt = time.Now().UTC().Add(-age)
		mem.txs[txID] = t
	}
}
