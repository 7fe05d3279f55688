package wallet

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/carshare-pay/escrow_ledger/internal/ledger"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	UserID string `json:"user_id"`
}

type walletResponse struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	AvailableBalance int64     `json:"available_balance"`
	PendingBalance   int64     `json:"pending_balance"`
	CreatedAt        time.Time `json:"created_at"`
}

type intentRequest struct {
	UserID    string `json:"user_id"`
	BookingID string `json:"booking_id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
}

type intentResponse struct {
	TransactionID string `json:"transaction_id"`
	WalletID      string `json:"wallet_id"`
	BookingID     string `json:"booking_id,omitempty"`
	OrderID       string `json:"order_id"`
	Content       string `json:"transfer_content"`
	Amount        int64  `json:"amount"`
	Type          string `json:"type"`
	Status        string `json:"status"`
}

type transactionResponse struct {
	ID              string     `json:"id"`
	BookingID       string     `json:"booking_id,omitempty"`
	ContractID      string     `json:"contract_id,omitempty"`
	ExternalOrderID string     `json:"external_order_id,omitempty"`
	Amount          int64      `json:"amount"`
	Type            string     `json:"type"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
}

// Create provisions a wallet for a user.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.Create(c.UserContext(), req.UserID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(walletResponse{
		ID:               w.ID,
		UserID:           w.UserID,
		AvailableBalance: w.AvailableBalance,
		PendingBalance:   w.PendingBalance,
		CreatedAt:        w.CreatedAt,
	})
}

// Balance returns the wallet balances of the user given by the user_id query parameter.
func (h *Handler) Balance(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return fiber.NewError(http.StatusBadRequest, "user_id is required")
	}
	balance, err := h.service.GetBalance(c.UserContext(), userID)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id":         balance.WalletID,
		"user_id":           balance.UserID,
		"available_balance": balance.Available,
		"pending_balance":   balance.Pending,
		"timestamp":         balance.AsOf,
	})
}

// Transactions lists a user's wallet history.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	txs, err := h.service.ListTransactions(c.UserContext(), c.Params("userId"))
	if err != nil {
		return httpError(err)
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, transactionResponse{
			ID:              t.ID,
			BookingID:       t.BookingID,
			ContractID:      t.ContractID,
			ExternalOrderID: t.ExternalOrderID,
			Amount:          t.Amount,
			Type:            string(t.Type),
			Status:          string(t.Status),
			CreatedAt:       t.CreatedAt,
			ConfirmedAt:     t.ConfirmedAt,
		})
	}
	return c.JSON(fiber.Map{"transactions": out})
}

// Deposit creates a pending top-up intent.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req intentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	intent, err := h.service.CreateDepositIntent(c.UserContext(), req.UserID, req.Amount)
	return h.intentResult(c, intent, err)
}

// Payin creates a pending escrow-hold intent.
func (h *Handler) Payin(c *fiber.Ctx) error {
	var req intentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	intent, err := h.service.CreatePayin(c.UserContext(), PayinInput{
		UserID:    req.UserID,
		BookingID: req.BookingID,
		OrderID:   req.OrderID,
		Amount:    req.Amount,
	})
	return h.intentResult(c, intent, err)
}

func (h *Handler) intentResult(c *fiber.Ctx, intent PaymentIntent, err error) error {
	status := http.StatusCreated
	if err != nil {
		if !errors.Is(err, ledger.ErrDuplicateTransaction) {
			return httpError(err)
		}
		status = http.StatusOK
	}
	t := intent.Transaction
	return c.Status(status).JSON(intentResponse{
		TransactionID: t.ID,
		WalletID:      t.WalletID,
		BookingID:     t.BookingID,
		OrderID:       intent.OrderID,
		Content:       intent.Content,
		Amount:        t.Amount,
		Type:          string(t.Type),
		Status:        string(t.Status),
	})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInvalidState):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
}
