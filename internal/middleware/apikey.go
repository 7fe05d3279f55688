package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// WebhookAPIKey checks the "Authorization: Apikey <key>" header gateways send on callbacks.
// An empty key disables the check.
func WebhookAPIKey(key string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if key == "" {
			return c.Next()
		}
		scheme, value, ok := strings.Cut(strings.TrimSpace(c.Get(fiber.HeaderAuthorization)), " ")
		if !ok || !strings.EqualFold(scheme, "Apikey") ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(value)), []byte(key)) != 1 {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid webhook api key")
		}
		return c.Next()
	}
}
