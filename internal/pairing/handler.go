package pairing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/boltcard/internal/card"
)

// OwnedCards resolves a card on behalf of its owner.
type OwnedCards interface {
	GetOwned(ctx context.Context, id, userID string) (card.Card, error)
}

// Handler serves the public token fetch and the owner programming view.
type Handler struct {
	issuer *Issuer
	cards  OwnedCards
	logger *slog.Logger
}

// NewHandler constructs the pairing HTTP handler.
func NewHandler(issuer *Issuer, cards OwnedCards, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{issuer: issuer, cards: cards, logger: logger}
}

// Public answers GET /card/pair/:token with the programming document.
func (h *Handler) Public(c *fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return fiber.NewError(http.StatusBadRequest, "token is required")
	}
	p, err := h.issuer.Resolve(c.UserContext(), token)
	if err != nil {
		return card.LogInternal(h.logger, c, err, mapError(err))
	}
	return c.JSON(p)
}

// Owner answers GET /boltcards/:id/programming for the authenticated owner.
func (h *Handler) Owner(c *fiber.Ctx) error {
	owner, _ := c.Locals("user_id").(string)
	cd, err := h.cards.GetOwned(c.UserContext(), c.Params("id"), owner)
	if err != nil {
		return card.LogInternal(h.logger, c, err, mapError(err))
	}
	p, err := h.issuer.Programming(c.UserContext(), cd)
	if err != nil {
		return card.LogInternal(h.logger, c, err, mapError(err))
	}
	offer, err := h.issuer.Offer(cd)
	if err != nil {
		return card.LogInternal(h.logger, c, err, mapError(err))
	}
	return c.JSON(fiber.Map{"success": true, "card": card.ToResponse(cd), "programmingData": p, "programmingUrl": offer.URL})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrMissingCardID):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, card.ErrAlreadyPaired):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return card.MapError(err)
	}
}
