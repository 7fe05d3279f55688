package webhook

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes the gateway callback endpoint.
type Handler struct {
	ingestor *Ingestor
}

// NewHandler builds a webhook HTTP handler.
func NewHandler(ingestor *Ingestor) *Handler {
	return &Handler{ingestor: ingestor}
}

// SePay acknowledges every callback with {"success": true}. A transient store failure answers
// 500 so the gateway redelivers the event.
func (h *Handler) SePay(c *fiber.Ctx) error {
	result, err := h.ingestor.Ingest(c.UserContext(), c.Body())
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"success": false})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"success": true, "result": result})
}
