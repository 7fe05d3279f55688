package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/carshare-pay/escrow_ledger/internal/config"
	"github.com/carshare-pay/escrow_ledger/internal/escrow"
	"github.com/carshare-pay/escrow_ledger/internal/middleware"
	"github.com/carshare-pay/escrow_ledger/internal/wallet"
	"github.com/carshare-pay/escrow_ledger/internal/webhook"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger

	Wallet  *wallet.Handler
	Escrow  *escrow.Handler
	Webhook *webhook.Handler
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Gateway callbacks are registered before the idempotency middleware is attached.
	RegisterWebhookRoutes(api, d.Webhook, d.Cfg.SePayWebhookKey)

	commands := api.Group("")
	if d.Cache != nil {
		commands.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterWalletRoutes(commands, d.Wallet)
	RegisterEscrowRoutes(commands, d.Escrow)
}
