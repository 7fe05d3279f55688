package escrow

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/carshare-pay/escrow_ledger/internal/ledger"
	"github.com/carshare-pay/escrow_ledger/internal/settlement"
)

// CallerHeader carries the acting user id. Authentication happens upstream.
const CallerHeader = "X-User-ID"

// Handler exposes contract and booking settlement endpoints.
type Handler struct {
	service *Service
	engine  *settlement.Engine
	store   ledger.Store
}

// NewHandler builds an escrow HTTP handler.
func NewHandler(service *Service, engine *settlement.Engine, store ledger.Store) *Handler {
	return &Handler{service: service, engine: engine, store: store}
}

type createContractRequest struct {
	BookingID string `json:"booking_id"`
	RenterID  string `json:"renter_id"`
	OwnerID   string `json:"owner_id"`
	Amount    int64  `json:"amount"`
}

type contractResponse struct {
	ID          string     `json:"id"`
	BookingID   string     `json:"booking_id"`
	RenterID    string     `json:"renter_id"`
	OwnerID     string     `json:"owner_id"`
	TotalAmount int64      `json:"total_amount"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

func toContractResponse(c ledger.Contract) contractResponse {
	return contractResponse{
		ID:          c.ID,
		BookingID:   c.BookingID,
		RenterID:    c.RenterID,
		OwnerID:     c.OwnerID,
		TotalAmount: c.TotalAmount,
		Status:      string(c.Status),
		CreatedAt:   c.CreatedAt,
		PaidAt:      c.PaidAt,
		ConfirmedAt: c.ConfirmedAt,
		CancelledAt: c.CancelledAt,
	}
}

// CreateContract opens a contract for a booking.
func (h *Handler) CreateContract(c *fiber.Ctx) error {
	var req createContractRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	contract, err := h.service.Create(c.UserContext(), CreateInput{
		BookingID: req.BookingID,
		RenterID:  req.RenterID,
		OwnerID:   req.OwnerID,
		Amount:    req.Amount,
	})
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(toContractResponse(contract))
}

// GetContract returns a contract by id.
func (h *Handler) GetContract(c *fiber.Ctx) error {
	contract, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(toContractResponse(contract))
}

// ListContracts returns the contracts of the user given by the user_id query parameter.
func (h *Handler) ListContracts(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return fiber.NewError(http.StatusBadRequest, "user_id is required")
	}
	contracts, err := h.service.ListByUser(c.UserContext(), userID)
	if err != nil {
		return httpError(err)
	}
	out := make([]contractResponse, 0, len(contracts))
	for _, contract := range contracts {
		out = append(out, toContractResponse(contract))
	}
	return c.JSON(fiber.Map{"contracts": out})
}

// Pay moves a contract to PAID.
func (h *Handler) Pay(c *fiber.Ctx) error {
	contract, err := h.service.Pay(c.UserContext(), c.Params("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(toContractResponse(contract))
}

// Confirm moves a contract to CONFIRMED.
func (h *Handler) Confirm(c *fiber.Ctx) error {
	contract, err := h.service.Confirm(c.UserContext(), c.Params("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(toContractResponse(contract))
}

// Cancel moves a contract to CANCELLED.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	contract, err := h.service.Cancel(c.UserContext(), c.Params("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(toContractResponse(contract))
}

type createBookingRequest struct {
	ID         string `json:"id"`
	RenterID   string `json:"renter_id"`
	OwnerID    string `json:"owner_id"`
	TotalPrice int64  `json:"total_price"`
}

// CreateBooking registers a booking mirrored from the booking service.
func (h *Handler) CreateBooking(c *fiber.Ctx) error {
	var req createBookingRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.RenterID == "" || req.OwnerID == "" || req.TotalPrice <= 0 {
		return fiber.NewError(http.StatusBadRequest, "renter_id, owner_id and a positive total_price are required")
	}
	booking, err := h.store.CreateBooking(c.UserContext(), ledger.Booking{
		ID:         req.ID,
		RenterID:   req.RenterID,
		OwnerID:    req.OwnerID,
		TotalPrice: req.TotalPrice,
	})
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"id":          booking.ID,
		"renter_id":   booking.RenterID,
		"owner_id":    booking.OwnerID,
		"total_price": booking.TotalPrice,
		"status":      booking.Status,
	})
}

// ConfirmDelivery releases the owner's held funds once the car is handed over.
func (h *Handler) ConfirmDelivery(c *fiber.Ctx) error {
	callerID := c.Get(CallerHeader)
	if callerID == "" {
		return fiber.NewError(http.StatusUnauthorized, CallerHeader+" header is required")
	}
	release, err := h.engine.ConfirmDelivery(c.UserContext(), c.Params("id"), callerID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"booking_id":        c.Params("id"),
		"released":          release.Amount,
		"transaction_id":    release.Transaction.ID,
		"available_balance": release.Wallet.AvailableBalance,
		"pending_balance":   release.Wallet.PendingBalance,
	})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInvalidState):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrForbidden):
		return fiber.NewError(http.StatusForbidden, err.Error())
	default:
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
}
