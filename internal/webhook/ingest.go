package webhook

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/carshare-pay/escrow_ledger/internal/ledger"
	"github.com/carshare-pay/escrow_ledger/internal/settlement"
)

// Result classifies how a callback was handled.
type Result string

const (
	ResultConfirmed    Result = "confirmed"
	ResultDuplicate    Result = "duplicate"
	ResultReplay       Result = "replay"
	ResultUnrecognized Result = "unrecognized"
	ResultUnmatched    Result = "unmatched"
	ResultMismatch     Result = "amount_mismatch"
	ResultError        Result = "error"
)

// Confirmer applies a confirmed payment. settlement.Engine satisfies it.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, txID string) (settlement.Outcome, error)
}

// Ingestor turns gateway callbacks into payment confirmations.
type Ingestor struct {
	store     ledger.Store
	confirmer Confirmer
	matcher   TokenMatcher
	replay    *ReplayCache
	logger    *slog.Logger
}

// NewIngestor constructs an ingestor. replay may be nil.
func NewIngestor(store ledger.Store, confirmer Confirmer, matcher TokenMatcher, replay *ReplayCache, logger *slog.Logger) *Ingestor {
	return &Ingestor{store: store, confirmer: confirmer, matcher: matcher, replay: replay, logger: logger}
}

// Ingest processes one callback body. Only transient store failures return an error; every
// other outcome, including malformed payloads, is a successful acknowledgement.
func (i *Ingestor) Ingest(ctx context.Context, body []byte) (Result, error) {
	result, err := i.ingest(ctx, body)
	events.WithLabelValues(string(result)).Inc()
	return result, err
}

func (i *Ingestor) ingest(ctx context.Context, body []byte) (Result, error) {
	n := Decode(body, i.matcher)
	if n.Kind != KindPayment {
		i.logger.Info("webhook ignored", "reason", n.Reason)
		return ResultUnrecognized, nil
	}

	if !i.replay.Admit(ctx, n.Source, n.GatewayID) {
		i.logger.Info("webhook replay skipped", "source", n.Source, "gateway_id", n.GatewayID)
		return ResultReplay, nil
	}

	tx, err := i.store.FindPendingByOrderID(ctx, n.Token, ledger.TypeDeposit, ledger.TypeRentalEscrowHold)
	if errors.Is(err, ledger.ErrNotFound) {
		i.logger.Info("webhook unmatched", "token", n.Token, "source", n.Source)
		return ResultUnmatched, nil
	}
	if err != nil {
		i.replay.Forget(ctx, n.Source, n.GatewayID)
		i.logger.Error("webhook lookup failed", "token", n.Token, "error", err)
		return ResultError, err
	}

	if !n.Amount.Equal(decimal.NewFromInt(tx.Amount)) {
		i.logger.Warn("webhook amount mismatch",
			"token", n.Token,
			"transaction_id", tx.ID,
			"expected", tx.Amount,
			"received", n.Amount.String(),
		)
		return ResultMismatch, nil
	}

	out, err := i.confirmer.ConfirmPayment(ctx, tx.ID)
	if err != nil {
		i.replay.Forget(ctx, n.Source, n.GatewayID)
		i.logger.Error("webhook confirm failed", "transaction_id", tx.ID, "error", err)
		return ResultError, err
	}
	if !out.Confirmed {
		return ResultDuplicate, nil
	}
	return ResultConfirmed, nil
}
