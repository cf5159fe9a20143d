package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/boltcard/internal/card"
	"github.com/congo-pay/boltcard/internal/pairing"
	"github.com/congo-pay/boltcard/internal/withdraw"
)

// RegisterCardRoutes wires the owner card management surface.
func RegisterCardRoutes(r fiber.Router, cards *card.Handler, programming *pairing.Handler, payments *withdraw.Handler) {
	group := r.Group("/boltcards")
	group.Post("/", cards.Create)
	group.Get("/", cards.List)
	group.Get("/:id", cards.Get)
	group.Patch("/:id", cards.Update)
	group.Delete("/:id", cards.Delete)
	group.Post("/:id/pair", cards.Pair)
	group.Get("/:id/programming", programming.Owner)
	group.Get("/:id/payments", payments.Payments)
}

// RegisterWithdrawRoutes wires the public endpoints reached by cards, wallets
// and programming apps.
func RegisterWithdrawRoutes(app *fiber.App, h *withdraw.Handler, programming *pairing.Handler, tapLimiter fiber.Handler) {
	app.Get("/withdraw", tapLimiter, h.Withdraw)
	app.Get("/withdraw/callback", h.Callback)
	app.Get("/card/balance/:id", h.Balance)
	app.Get("/card/pair/:token", programming.Public)
}
