package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/carshare-pay/escrow_ledger/internal/escrow"
)

// RegisterEscrowRoutes wires contract and booking settlement endpoints.
func RegisterEscrowRoutes(r fiber.Router, h *escrow.Handler) {
	r.Post("/contracts", h.CreateContract)
	r.Get("/contracts", h.ListContracts)
	r.Get("/contracts/:id", h.GetContract)
	r.Post("/contracts/:id/pay", h.Pay)
	r.Post("/contracts/:id/confirm", h.Confirm)
	r.Post("/contracts/:id/cancel", h.Cancel)

	r.Post("/bookings", h.CreateBooking)
	r.Post("/bookings/:id/deliver", h.ConfirmDelivery)
}
