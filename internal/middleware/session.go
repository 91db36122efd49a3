package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/pesabridge/pesabridge/internal/auth"
	"github.com/pesabridge/pesabridge/internal/identity"
)

// SessionAuth validates bearer session tokens and resolves the verified user
// behind them. The token subject is the hashed phone identity, never the raw
// phone number.
func SessionAuth(tokens *auth.Service, repo identity.Repository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])

		subject, err := tokens.Verify(tokenStr)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		user, err := repo.FindByHashedPhone(c.UserContext(), subject)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "unknown session subject")
		}
		if user.Status != identity.StatusVerified {
			return fiber.NewError(http.StatusUnauthorized, "account not verified")
		}

		c.Locals("user_id", user.ID)
		c.Locals("phone", user.Phone)
		c.Locals("hashed_phone", user.HashedPhone)
		return c.Next()
	}
}
