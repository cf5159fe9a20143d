package card

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Provisioner builds the remote provisioning link for an unpaired card.
type Provisioner interface {
	ProgrammingURL(c Card) (string, error)
}

// Handler exposes the owner-authenticated card management endpoints.
type Handler struct {
	service     *Service
	provisioner Provisioner
	logger      *slog.Logger
}

// NewHandler constructs a card management handler.
func NewHandler(service *Service, provisioner Provisioner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, provisioner: provisioner, logger: logger}
}

type createRequest struct {
	Name         string `json:"name"`
	TxLimitSats  int64  `json:"txLimitSats"`
	DayLimitSats int64  `json:"dayLimitSats"`
}

type updateRequest struct {
	Name         *string `json:"name"`
	TxLimitSats  *int64  `json:"txLimitSats"`
	DayLimitSats *int64  `json:"dayLimitSats"`
	Status       *string `json:"status"`
}

type pairRequest struct {
	UID string `json:"uid"`
}

// Response is the owner view of a card. Keys are only ever sent to the owner.
type Response struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Name         string    `json:"name"`
	K0           string    `json:"k0"`
	K2           string    `json:"k2"`
	K3           string    `json:"k3"`
	K4           string    `json:"k4"`
	UID          string    `json:"uid"`
	LastCounter  uint32    `json:"lastCounter"`
	TxLimitSats  int64     `json:"txLimitSats"`
	DayLimitSats int64     `json:"dayLimitSats"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ToResponse renders the owner view of c.
func ToResponse(c Card) Response {
	return Response{
		ID:           c.ID,
		UserID:       c.UserID,
		Name:         c.Name,
		K0:           c.K0,
		K2:           c.K2,
		K3:           c.K3,
		K4:           c.K4,
		UID:          c.UID,
		LastCounter:  c.LastCounter,
		TxLimitSats:  c.TxLimitSats,
		DayLimitSats: c.DayLimitSats,
		Status:       c.Status,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// Create provisions a new card for the authenticated owner.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := decodeStrict(c.Body(), &req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	created, err := h.service.Create(c.UserContext(), CreateInput{
		UserID:       ownerID(c),
		Name:         req.Name,
		TxLimitSats:  req.TxLimitSats,
		DayLimitSats: req.DayLimitSats,
	})
	if err != nil {
		return h.fail(c, err)
	}
	url, err := h.programmingURL(created)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"card": ToResponse(created), "programmingUrl": url})
}

// List returns the owner's cards.
func (h *Handler) List(c *fiber.Ctx) error {
	cards, err := h.service.ListByUser(c.UserContext(), ownerID(c))
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]Response, 0, len(cards))
	for _, cd := range cards {
		out = append(out, ToResponse(cd))
	}
	return c.JSON(fiber.Map{"cards": out})
}

// Get returns one card and, while unpaired, its provisioning URL.
func (h *Handler) Get(c *fiber.Ctx) error {
	cd, err := h.service.GetOwned(c.UserContext(), c.Params("id"), ownerID(c))
	if err != nil {
		return h.fail(c, err)
	}
	url, err := h.programmingURL(cd)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"card": ToResponse(cd), "programmingUrl": url})
}

// Update edits name, limits or status. Unknown fields are rejected.
func (h *Handler) Update(c *fiber.Ctx) error {
	var req updateRequest
	if err := decodeStrict(c.Body(), &req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	input := UpdateInput{Name: req.Name, TxLimitSats: req.TxLimitSats, DayLimitSats: req.DayLimitSats}
	if req.Status != nil {
		st, err := ParseStatus(*req.Status)
		if err != nil {
			return h.fail(c, err)
		}
		input.Status = &st
	}
	updated, err := h.service.Update(c.UserContext(), c.Params("id"), ownerID(c), input)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"card": ToResponse(updated)})
}

// Delete removes the card and cancels its open sessions.
func (h *Handler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), c.Params("id"), ownerID(c)); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// Pair binds the physical UID reported by the programming app.
func (h *Handler) Pair(c *fiber.Ctx) error {
	var req pairRequest
	if err := decodeStrict(c.Body(), &req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.UID == "" {
		return fiber.NewError(http.StatusBadRequest, "uid is required")
	}
	paired, err := h.service.Pair(c.UserContext(), c.Params("id"), ownerID(c), req.UID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "card": ToResponse(paired)})
}

func (h *Handler) programmingURL(c Card) (*string, error) {
	if c.Paired() || h.provisioner == nil {
		return nil, nil
	}
	url, err := h.provisioner.ProgrammingURL(c)
	if err != nil {
		return nil, err
	}
	return &url, nil
}

func ownerID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}

func decodeStrict(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	return LogInternal(h.logger, c, err, MapError(err))
}

// LogInternal logs the cause of a request that mapped to a 500 and returns
// the mapped error unchanged.
func LogInternal(logger *slog.Logger, c *fiber.Ctx, cause, mapped error) error {
	var fe *fiber.Error
	if errors.As(mapped, &fe) && fe.Code == http.StatusInternalServerError {
		logger.Error("request failed",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Any("error", cause),
		)
	}
	return mapped
}

// MapError translates registry errors into HTTP errors.
func MapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotOwner):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrAlreadyPaired), errors.Is(err, ErrUIDInUse):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidUID), errors.Is(err, ErrValidation):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}
