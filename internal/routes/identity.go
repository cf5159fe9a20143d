package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/boltcard/internal/auth"
	"github.com/congo-pay/boltcard/internal/identity"
)

// RegisterIdentityRoutes wires owner registration.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/identity/register", h.Register)
}

// RegisterProfileRoutes wires the authenticated owner endpoints. The deposit
// shortcut only exists in development.
func RegisterProfileRoutes(r fiber.Router, ids *identity.Handler, sessions *auth.Handler, dev bool) {
	r.Get("/me", ids.Me)
	r.Post("/auth/logout", sessions.Logout)
	if dev {
		r.Post("/dev/deposit", ids.Deposit)
	}
}
