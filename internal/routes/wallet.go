package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/carshare-pay/escrow_ledger/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/wallets", h.Create)
	r.Get("/wallets/balance", h.Balance)
	r.Get("/wallets/:userId/transactions", h.Transactions)
	r.Post("/wallets/deposits", h.Deposit)
	r.Post("/wallets/payins", h.Payin)
}
