package identity

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Username string `json:"username"`
	PIN      string `json:"pin"`
}

type userResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Balance  *int64 `json:"balance,omitempty"`
}

// Register handles owner onboarding.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.service.Register(c.UserContext(), Credentials{Username: req.Username, PIN: req.PIN})
	if err != nil {
		switch {
		case errors.Is(err, ErrValidation):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrUserExists):
			return fiber.NewError(http.StatusConflict, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
	return c.Status(http.StatusCreated).JSON(userResponse{UserID: user.ID, Username: user.Username})
}

// Me returns the authenticated owner with their balance.
func (h *Handler) Me(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	owner, err := h.service.ResolveOwner(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(userResponse{UserID: owner.ID, Username: owner.Username, Balance: &owner.Balance})
}

type depositRequest struct {
	AmountSats int64  `json:"amount_sats"`
	Reference  string `json:"reference"`
}

// Deposit credits the authenticated owner. Only mounted in development.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req depositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	userID, _ := c.Locals("user_id").(string)
	balance, err := h.service.Deposit(c.UserContext(), userID, req.Reference, req.AmountSats)
	if err != nil {
		switch {
		case errors.Is(err, ErrValidation):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrUserNotFound):
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(fiber.Map{"balance": balance})
}
