package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/boltcard/internal/auth"
	"github.com/congo-pay/boltcard/internal/card"
	"github.com/congo-pay/boltcard/internal/config"
	"github.com/congo-pay/boltcard/internal/identity"
	"github.com/congo-pay/boltcard/internal/janitor"
	"github.com/congo-pay/boltcard/internal/ledger"
	"github.com/congo-pay/boltcard/internal/lightning"
	"github.com/congo-pay/boltcard/internal/middleware"
	"github.com/congo-pay/boltcard/internal/notification"
	"github.com/congo-pay/boltcard/internal/pairing"
	"github.com/congo-pay/boltcard/internal/spending"
	"github.com/congo-pay/boltcard/internal/tap"
	"github.com/congo-pay/boltcard/internal/withdraw"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes. The returned
// janitor sweeps the process-local stores and is started by the caller.
func Setup(app *fiber.App, d Deps) (*janitor.Janitor, error) {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	// Backends: Postgres and Redis when configured, process-local otherwise.
	var (
		ledgerBackend ledger.Ledger
		identityRepo  identity.Repository
		cardRepo      card.Repository
		payments      withdraw.PaymentStore
		sessions      withdraw.Store
		spend         spending.Ledger
		notifier      notification.Notifier
	)
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgresLedger(d.DB)
		identityRepo = identity.NewPostgresRepository(d.DB)
		cardRepo = card.NewPostgresRepository(d.DB)
		payments = withdraw.NewPostgresPaymentStore(d.DB)
	} else {
		ledgerBackend = ledger.NewInMemory()
		identityRepo = identity.NewMemoryRepository()
		cardRepo = card.NewMemoryRepository()
		payments = withdraw.NewMemoryPaymentStore()
	}
	calendar := spending.NewCalendar(d.Cfg.SpendingTimezone, d.Cfg.SpendingRetention)
	if d.Cache != nil {
		sessions = withdraw.NewRedisStore(d.Cache)
		spend = spending.NewRedisLedger(d.Cache, calendar)
		notifier = notification.NewRedisNotifier(d.Cache, "")
	} else {
		sessions = withdraw.NewMemoryStore()
		spend = spending.NewMemoryLedger(calendar)
		notifier = notification.NewLoggerNotifier(d.Logger)
	}

	decoder, tagFunc, err := tapStrategies(d.Cfg)
	if err != nil {
		return nil, err
	}

	// Services
	identitySvc := identity.NewService(identityRepo, ledgerBackend, d.Logger)
	authSvc := auth.NewService(d.Cfg, identityRepo)
	cardSvc := card.NewService(cardRepo, card.Limits{
		TxLimitSats:  d.Cfg.DefaultTxLimitSats,
		DayLimitSats: d.Cfg.DefaultDayLimitSats,
	}, sessions, d.Logger)
	issuer := pairing.NewIssuer(cardSvc, identitySvc, d.Cfg.PublicBaseURL, d.Cfg.PayloadKey, d.Logger)
	authenticator := tap.NewAuthenticator(cardRepo, decoder, tagFunc, d.Logger)
	executor := lightning.NewLedgerExecutor(ledgerBackend, d.Logger)
	withdrawSvc := withdraw.NewService(cardSvc, sessions, spend, executor, identitySvc, payments, notifier, withdraw.Config{
		PublicBaseURL:       d.Cfg.PublicBaseURL,
		SessionTTL:          d.Cfg.SessionTTL,
		MinWithdrawableMsat: d.Cfg.MinWithdrawableMsat,
	}, d.Logger)

	// Handlers
	identityHandler := identity.NewHandler(identitySvc)
	authHandler := auth.NewHandler(identitySvc, authSvc)
	cardHandler := card.NewHandler(cardSvc, issuer, d.Logger)
	pairingHandler := pairing.NewHandler(issuer, cardSvc, d.Logger)
	withdrawHandler := withdraw.NewHandler(authenticator, withdrawSvc, d.Logger)

	// Public LNURL and provisioning surface
	RegisterWithdrawRoutes(app, withdrawHandler, pairingHandler,
		middleware.RateLimit(d.Cache, "tap", d.Cfg.TapRateLimitPerMin))

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes are registered before the protected group so its
	// middleware does not run for them.
	RegisterIdentityRoutes(api, identityHandler)
	RegisterAuthRoutes(api, authHandler, middleware.RateLimit(d.Cache, "login", 5))

	// Protected routes
	protected := api.Group("", middleware.JWTAuth(authSvc), middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	RegisterProfileRoutes(protected, identityHandler, authHandler, d.Cfg.IsDev())
	RegisterCardRoutes(protected, cardHandler, pairingHandler, withdrawHandler)

	return janitor.New(sessions, spend, d.Logger), nil
}

// ErrorHandler renders errors returned by handlers as {"error": message}.
// Unexpected errors are reported without detail.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}

func tapStrategies(cfg config.Config) (tap.PayloadDecoder, tap.TagFunc, error) {
	tagFunc, err := tap.TagFuncFor(cfg.TagAlgorithm)
	if err != nil {
		return nil, nil, err
	}
	if cfg.PayloadKey == "" {
		return tap.PlainDecoder{}, tagFunc, nil
	}
	decoder, err := tap.NewAESDecoder(cfg.PayloadKey)
	if err != nil {
		return nil, nil, fmt.Errorf("PAYLOAD_KEY: %w", err)
	}
	return decoder, tagFunc, nil
}
