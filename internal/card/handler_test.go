package card

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/congo-pay/boltcard/internal/logging"
)

type staticProvisioner struct{}

func (staticProvisioner) ProgrammingURL(c Card) (string, error) {
	return "https://cards.test/card/pair/" + c.ID, nil
}

func setupHandlerApp(t *testing.T, owner string) (*fiber.App, *Service) {
	t.Helper()
	svc, _ := newTestService(t, nil)
	h := NewHandler(svc, staticProvisioner{}, logging.Discard())
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", owner)
		return c.Next()
	})
	app.Post("/boltcards", h.Create)
	app.Get("/boltcards/:id", h.Get)
	app.Patch("/boltcards/:id", h.Update)
	app.Post("/boltcards/:id/pair", h.Pair)
	return app, svc
}

func TestHandlerCreateReturnsProgrammingURL(t *testing.T) {
	owner := uuid.NewString()
	app, _ := setupHandlerApp(t, owner)

	req := httptest.NewRequest(fiber.MethodPost, "/boltcards", strings.NewReader(`{"name":"Travel","txLimitSats":1000}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	var decoded struct {
		Card           Response `json:"card"`
		ProgrammingURL *string  `json:"programmingUrl"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Card.UserID != owner || decoded.Card.TxLimitSats != 1000 {
		t.Fatalf("unexpected card: %+v", decoded.Card)
	}
	if decoded.ProgrammingURL == nil || !strings.HasSuffix(*decoded.ProgrammingURL, decoded.Card.ID) {
		t.Fatalf("expected programming url, got %v", decoded.ProgrammingURL)
	}
}

func TestHandlerUpdateRejectsUnknownFields(t *testing.T) {
	owner := uuid.NewString()
	app, svc := setupHandlerApp(t, owner)
	c, err := svc.Create(context.Background(), CreateInput{UserID: owner, Name: "card"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	req := httptest.NewRequest(fiber.MethodPatch, "/boltcards/"+c.ID, strings.NewReader(`{"lastCounter":0}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandlerPairTwiceConflicts(t *testing.T) {
	owner := uuid.NewString()
	app, svc := setupHandlerApp(t, owner)
	c, err := svc.Create(context.Background(), CreateInput{UserID: owner, Name: "card"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	statuses := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(fiber.MethodPost, "/boltcards/"+c.ID+"/pair", strings.NewReader(`{"uid":"04a1b2c3d4e5f6"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		statuses = append(statuses, resp.StatusCode)
	}
	if statuses[0] != fiber.StatusOK || statuses[1] != fiber.StatusConflict {
		t.Fatalf("expected 200 then 409, got %v", statuses)
	}
}

func TestHandlerGetForeignCardForbidden(t *testing.T) {
	app, svc := setupHandlerApp(t, uuid.NewString())
	c, err := svc.Create(context.Background(), CreateInput{UserID: uuid.NewString(), Name: "theirs"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/boltcards/"+c.ID, nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

type brokenRepository struct {
	Repository
}

func (brokenRepository) Get(context.Context, string) (Card, error) {
	return Card{}, errors.New("connection reset by peer")
}

func TestHandlerLogsInternalFaults(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	svc := NewService(brokenRepository{NewMemoryRepository()}, Limits{TxLimitSats: 1, DayLimitSats: 1}, nil, logging.Discard())
	h := NewHandler(svc, staticProvisioner{}, logger)
	app := fiber.New()
	app.Get("/boltcards/:id", h.Get)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/boltcards/"+uuid.NewString(), nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(body), "connection reset") {
		t.Fatalf("cause leaked to client: %s", body)
	}
	if !strings.Contains(logs.String(), "connection reset by peer") {
		t.Fatalf("expected cause in logs, got %q", logs.String())
	}
}
