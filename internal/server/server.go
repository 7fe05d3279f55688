package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/carshare-pay/escrow_ledger/internal/config"
	"github.com/carshare-pay/escrow_ledger/internal/escrow"
	"github.com/carshare-pay/escrow_ledger/internal/gateway"
	"github.com/carshare-pay/escrow_ledger/internal/ledger"
	"github.com/carshare-pay/escrow_ledger/internal/notification"
	"github.com/carshare-pay/escrow_ledger/internal/routes"
	"github.com/carshare-pay/escrow_ledger/internal/scheduler"
	"github.com/carshare-pay/escrow_ledger/internal/settlement"
	"github.com/carshare-pay/escrow_ledger/internal/wallet"
	"github.com/carshare-pay/escrow_ledger/internal/webhook"
)

// Server wraps the Fiber application, the background scheduler and shared dependencies.
type Server struct {
	app       *fiber.App
	cfg       config.Config
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
}

// New wires services and delegates route wiring to routes.Setup. db and cache may be nil in
// development, in which case in-memory backends are used.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	if !cfg.IsDevelopment() {
		if db == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", cfg.AppEnv)
		}
		if cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", cfg.AppEnv)
		}
	}

	commission, err := settlement.ParseCommission(cfg.CommissionRate)
	if err != nil {
		return nil, err
	}

	var store ledger.Store
	if db != nil {
		store = ledger.NewPostgresLedger(db)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory ledger")
		store = ledger.NewInMemory()
	}

	var source gateway.Source
	if cfg.SePayAPIToken != "" {
		source = gateway.NewClient(gateway.Config{
			BaseURL:           cfg.SePayBaseURL,
			APIToken:          cfg.SePayAPIToken,
			AccountNumber:     cfg.SePayAccountNumber,
			RequestsPerSecond: cfg.SePayRateLimit,
		})
	} else {
		logger.Warn("SEPAY_API_TOKEN not set, reconciliation uses an empty static source")
		source = &gateway.StaticSource{}
	}

	notifier := notification.NewLoggerNotifier(logger)
	engine := settlement.NewEngine(store, commission, notifier, logger)
	walletSvc := wallet.NewService(store, cfg.OrderPrefix)
	escrowSvc := escrow.NewService(store, commission, notifier, logger)
	ingestor := webhook.NewIngestor(store, engine, webhook.NewTokenMatcher(walletSvc.OrderPrefix()),
		webhook.NewReplayCache(cache, webhook.DefaultReplayTTL), logger)

	sched, err := scheduler.New(scheduler.Config{
		ReconcileSpec: cfg.ReconcileSchedule,
		PurgeSpec:     cfg.PurgeSchedule,
		PendingTTL:    cfg.PendingTTL,
	}, store, source, engine, scheduler.NewLease(cache), logger)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: errorHandler,
	})

	routes.Setup(app, routes.Deps{
		Cfg:     cfg,
		DB:      db,
		Cache:   cache,
		Logger:  logger,
		Wallet:  wallet.NewHandler(walletSvc),
		Escrow:  escrow.NewHandler(escrowSvc, engine, store),
		Webhook: webhook.NewHandler(ingestor),
	})

	return &Server{app: app, cfg: cfg, scheduler: sched, logger: logger}, nil
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the scheduler and the HTTP server. It blocks until the server stops.
func (s *Server) Listen() error {
	s.scheduler.Start()
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops accepting requests, then waits for running jobs.
func (s *Server) Shutdown(ctx context.Context) error {
	httpErr := s.app.ShutdownWithContext(ctx)
	schedErr := s.scheduler.Stop(ctx)
	return errors.Join(httpErr, schedErr)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
