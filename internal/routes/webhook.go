package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/carshare-pay/escrow_ledger/internal/middleware"
	"github.com/carshare-pay/escrow_ledger/internal/webhook"
)

// RegisterWebhookRoutes wires gateway callbacks. They bypass the idempotency middleware; the
// ledger deduplicates them.
func RegisterWebhookRoutes(r fiber.Router, h *webhook.Handler, apiKey string) {
	r.Post("/webhooks/sepay", middleware.WebhookAPIKey(apiKey), h.SePay)
}
