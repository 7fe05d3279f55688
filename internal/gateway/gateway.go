package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrGatewayUnavailable wraps every failure to reach or understand the gateway.
var ErrGatewayUnavailable = errors.New("gateway unavailable")

// Entry is one inbound transfer reported by the gateway.
type Entry struct {
	ID       string
	Content  string
	AmountIn decimal.Decimal
	Date     time.Time
}

// Matches reports whether the entry carries token and exactly amount.
func (e Entry) Matches(token string, amount int64) bool {
	if token == "" || !strings.Contains(strings.ToLower(e.Content), strings.ToLower(token)) {
		return false
	}
	return e.AmountIn.Equal(decimal.NewFromInt(amount))
}

// Source lists recent inbound transfers.
type Source interface {
	ListTransactions(ctx context.Context, since time.Time) ([]Entry, error)
}

// StaticSource serves a fixed set of entries. It backs local development when no gateway
// credentials are configured.
type StaticSource struct {
	mu      sync.Mutex
	entries []Entry
}

// Add records an entry.
func (s *StaticSource) Add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

// ListTransactions returns entries dated at or after since. Entries without a date are always
// returned.
func (s *StaticSource) ListTransactions(_ context.Context, since time.Time) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Date.IsZero() || !e.Date.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}
