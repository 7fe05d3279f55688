package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/carshare-pay/escrow_ledger/internal/gateway"
	"github.com/carshare-pay/escrow_ledger/internal/ledger"
	"github.com/carshare-pay/escrow_ledger/internal/logging"
	"github.com/carshare-pay/escrow_ledger/internal/settlement"
)

const (
	jobReconcile = "reconcile"
	jobPurge     = "purge"
)

// Confirmer applies a confirmed payment. settlement.Engine satisfies it.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, txID string) (settlement.Outcome, error)
}

// Config controls job schedules and limits.
type Config struct {
	// ReconcileSpec and PurgeSpec are cron specs; seconds fields and @every are accepted.
	ReconcileSpec string
	PurgeSpec     string
	// PendingTTL is how long an unconfirmed intent may stay PENDING.
	PendingTTL time.Duration
	// TickTimeout bounds a single job run.
	TickTimeout time.Duration
	// Lookback widens the gateway query window to absorb clock skew.
	Lookback  time.Duration
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.ReconcileSpec == "" {
		c.ReconcileSpec = "@every 30s"
	}
	if c.PurgeSpec == "" {
		c.PurgeSpec = "@every 1m"
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = 15 * time.Minute
	}
	if c.TickTimeout <= 0 {
		c.TickTimeout = 25 * time.Second
	}
	if c.Lookback <= 0 {
		c.Lookback = 5 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	return c
}

// Scheduler runs the reconciliation and purge jobs.
type Scheduler struct {
	cfg       Config
	cron      *cron.Cron
	store     ledger.Store
	source    gateway.Source
	confirmer Confirmer
	lease     *Lease
	logger    *slog.Logger
}

// New registers both jobs. lease may be nil.
func New(cfg Config, store ledger.Store, source gateway.Source, confirmer Confirmer, lease *Lease, logger *slog.Logger) (*Scheduler, error) {
	cfg = cfg.withDefaults()
	cronLogger := logging.NewCronLogger(logger)
	s := &Scheduler{
		cfg:       cfg,
		store:     store,
		source:    source,
		confirmer: confirmer,
		lease:     lease,
		logger:    logger,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}

	if _, err := s.cron.AddFunc(cfg.ReconcileSpec, s.job(jobReconcile, func(ctx context.Context) error {
		_, err := s.Reconcile(ctx)
		return err
	})); err != nil {
		return nil, fmt.Errorf("schedule reconcile %q: %w", cfg.ReconcileSpec, err)
	}
	if _, err := s.cron.AddFunc(cfg.PurgeSpec, s.job(jobPurge, func(ctx context.Context) error {
		_, err := s.Purge(ctx)
		return err
	})); err != nil {
		return nil, fmt.Errorf("schedule purge %q: %w", cfg.PurgeSpec, err)
	}
	return s, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "reconcile", s.cfg.ReconcileSpec, "purge", s.cfg.PurgeSpec)
}

// Stop prevents new runs and waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) job(name string, run func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TickTimeout)
		defer cancel()

		ok, err := s.lease.Acquire(ctx, name, s.cfg.TickTimeout)
		if err != nil {
			s.logger.Warn("scheduler lease unavailable", "job", name, "error", err)
			return
		}
		if !ok {
			return
		}
		defer func() {
			if err := s.lease.Release(context.Background(), name); err != nil {
				s.logger.Warn("scheduler lease release failed", "job", name, "error", err)
			}
		}()

		start := time.Now()
		err = run(ctx)
		runDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			s.logger.Error("scheduled job failed", "job", name, "error", err)
		}
	}
}

// ReconcileReport summarizes one reconciliation run.
type ReconcileReport struct {
	Pending   int
	Entries   int
	Confirmed int
}

// Reconcile confirms pending intents that the gateway reports as paid. The gateway is queried
// once per run, outside any unit of work.
func (s *Scheduler) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	pending, err := s.store.ListPending(ctx, s.cfg.BatchSize, ledger.TypeDeposit, ledger.TypeRentalEscrowHold)
	if err != nil {
		return report, fmt.Errorf("list pending: %w", err)
	}
	report.Pending = len(pending)
	if len(pending) == 0 {
		return report, nil
	}

	since := pending[0].CreatedAt.Add(-s.cfg.Lookback)
	entries, err := s.source.ListTransactions(ctx, since)
	if err != nil {
		gatewayFailures.Inc()
		s.logger.Warn("gateway fetch failed, retrying next tick", "pending", len(pending), "error", err)
		return report, err
	}
	report.Entries = len(entries)

	var errs []error
	for _, tx := range pending {
		if !matched(entries, tx) {
			continue
		}
		out, err := s.confirmer.ConfirmPayment(ctx, tx.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("confirm %s: %w", tx.ID, err))
			continue
		}
		if out.Confirmed {
			report.Confirmed++
			reconcileMatches.Inc()
		}
	}

	if report.Confirmed > 0 {
		s.logger.Info("reconciliation confirmed payments", "confirmed", report.Confirmed, "pending", report.Pending)
	}
	return report, errors.Join(errs...)
}

func matched(entries []gateway.Entry, tx ledger.Transaction) bool {
	for _, e := range entries {
		if e.Matches(tx.ExternalOrderID, tx.Amount) {
			return true
		}
	}
	return false
}

// Purge marks intents older than the pending TTL as failed.
func (s *Scheduler) Purge(ctx context.Context) (int64, error) {
	n, err := s.store.PurgeExpiredPending(ctx, s.cfg.PendingTTL)
	if err != nil {
		return 0, fmt.Errorf("purge expired pending: %w", err)
	}
	if n > 0 {
		purged.Add(float64(n))
		s.logger.Info("expired pending transactions purged", "count", n, "ttl", s.cfg.PendingTTL)
	}
	return n, nil
}
