package withdraw

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/boltcard/internal/tap"
)

// TapVerifier authenticates the p and c query parameters of a tap URL.
type TapVerifier interface {
	AuthenticateHex(ctx context.Context, payloadHex, tagHex string) (tap.Tap, error)
}

// Handler serves the LNURL-withdraw endpoints and the public balance check.
type Handler struct {
	taps    TapVerifier
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs the withdraw HTTP handler.
func NewHandler(taps TapVerifier, service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{taps: taps, service: service, logger: logger}
}

// Withdraw authenticates a tap and answers with a withdraw offer.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	p, mac := c.Query("p"), c.Query("c")
	if p == "" || mac == "" {
		return h.fail(c, ErrValidation, "Missing parameters")
	}
	t, err := h.taps.AuthenticateHex(c.UserContext(), p, mac)
	if err != nil {
		return h.fail(c, err, "")
	}
	offer, err := h.service.Open(c.UserContext(), t)
	if err != nil {
		return h.fail(c, err, "")
	}
	return c.JSON(offer)
}

// Callback settles the invoice against the session named by k1.
func (h *Handler) Callback(c *fiber.Ctx) error {
	k1, pr := c.Query("k1"), c.Query("pr")
	if k1 == "" || pr == "" {
		return h.fail(c, ErrValidation, "Missing parameters")
	}
	if _, err := h.service.Consume(c.UserContext(), k1, pr); err != nil {
		return h.fail(c, err, "")
	}
	return c.JSON(fiber.Map{"status": "OK"})
}

// Balance reports the card's owner balance, limits and today's spend.
func (h *Handler) Balance(c *fiber.Ctx) error {
	view, err := h.service.Balance(c.UserContext(), c.Params("id"))
	if errors.Is(err, ErrCardNotFound) {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"status": "ERROR", "code": CodeCardNotFound, "reason": err.Error()})
	}
	if err != nil {
		return h.fail(c, err, "")
	}
	return c.JSON(view)
}

// Payments lists the authenticated owner's recent payments for a card.
func (h *Handler) Payments(c *fiber.Ctx) error {
	owner, _ := c.Locals("user_id").(string)
	cd, err := h.service.cards.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusNotFound, ErrCardNotFound.Error())
	}
	if cd.UserID != owner {
		return fiber.NewError(http.StatusForbidden, "card belongs to another user")
	}
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	payments, err := h.service.Payments(c.UserContext(), cd.ID, limit)
	if err != nil {
		h.logger.Error("list card payments failed", slog.String("card_id", cd.ID), slog.Any("error", err))
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
	if payments == nil {
		payments = []PaymentRecord{}
	}
	return c.JSON(fiber.Map{"payments": payments})
}

func (h *Handler) fail(c *fiber.Ctx, err error, reason string) error {
	status, code, mapped := classify(err)
	if reason == "" {
		reason = mapped
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("withdraw request failed",
			slog.String("path", c.Path()),
			slog.Any("error", err),
		)
	}
	return c.Status(status).JSON(fiber.Map{"status": "ERROR", "code": code, "reason": reason})
}

// classify maps failures to an HTTP status, a stable code and a human
// readable reason. Only the reason carries amounts or executor detail.
func classify(err error) (int, string, string) {
	var payErr *PaymentError
	switch {
	case errors.Is(err, tap.ErrMalformedPayload):
		return http.StatusBadRequest, CodeMalformedPayload, rootReason(err)
	case errors.Is(err, tap.ErrUnknownCard):
		return http.StatusBadRequest, CodeUnknownCard, rootReason(err)
	case errors.Is(err, tap.ErrReplayDetected):
		return http.StatusBadRequest, CodeReplayDetected, rootReason(err)
	case errors.Is(err, tap.ErrTagMismatch):
		return http.StatusBadRequest, CodeTagMismatch, rootReason(err)
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, CodeValidation, err.Error()
	case errors.Is(err, ErrCardNotFound):
		return http.StatusBadRequest, CodeCardNotFound, err.Error()
	case errors.Is(err, ErrInvalidOrExpired):
		return http.StatusBadRequest, CodeInvalidOrExpired, err.Error()
	case errors.Is(err, ErrCardDisabled):
		return http.StatusBadRequest, CodeCardDisabled, err.Error()
	case errors.Is(err, ErrInvalidPaymentRequest):
		return http.StatusBadRequest, CodeInvalidPaymentRequest, err.Error()
	case errors.Is(err, ErrExceedsTxLimit):
		return http.StatusBadRequest, CodeExceedsTxLimit, err.Error()
	case errors.Is(err, ErrExceedsDayLimit):
		return http.StatusBadRequest, CodeExceedsDayLimit, err.Error()
	case errors.As(err, &payErr):
		return http.StatusBadGateway, CodePaymentFailed, payErr.Error()
	default:
		return http.StatusInternalServerError, CodeInternal, "internal error"
	}
}

// rootReason strips parse detail from authentication failures.
func rootReason(err error) string {
	for _, sentinel := range []error{tap.ErrMalformedPayload, tap.ErrUnknownCard, tap.ErrReplayDetected, tap.ErrTagMismatch} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
