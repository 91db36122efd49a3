package routes

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/pesabridge/pesabridge/internal/auth"
	"github.com/pesabridge/pesabridge/internal/identity"
	"github.com/pesabridge/pesabridge/internal/mpesa"
)

// RegisterAuthRoutes wires phone registration and login. Registration
// triggers a nominal verification charge; the account stays pending until
// the provider confirms it.
func RegisterAuthRoutes(r fiber.Router, ids *identity.Service, tokens *auth.Service, rateLimiter fiber.Handler) {
	group := r.Group("/auth")

	group.Post("/register", rateLimiter, func(c *fiber.Ctx) error {
		var req struct {
			Phone string `json:"phone"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}

		user, err := ids.Register(c.UserContext(), req.Phone)
		if err != nil {
			switch {
			case errors.Is(err, identity.ErrInvalidPhone):
				return fiber.NewError(http.StatusBadRequest, "phone number must match 2547XXXXXXXX")
			case errors.Is(err, identity.ErrAlreadyRegistered):
				return fiber.NewError(http.StatusConflict, "phone already registered")
			case errors.Is(err, mpesa.ErrProviderAuth), errors.Is(err, mpesa.ErrProviderRequest):
				return fiber.NewError(http.StatusBadGateway, "verification request could not be submitted")
			default:
				return fiber.NewError(http.StatusInternalServerError, "registration failed")
			}
		}

		return c.Status(http.StatusCreated).JSON(fiber.Map{
			"user_id": user.ID,
			"status":  user.Status,
			"message": "confirm the verification charge on your phone to activate the account",
		})
	})

	group.Post("/login", rateLimiter, func(c *fiber.Ctx) error {
		var req struct {
			Phone string `json:"phone"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}

		user, err := ids.Login(c.UserContext(), req.Phone)
		if err != nil {
			switch {
			case errors.Is(err, identity.ErrNotVerified):
				return fiber.NewError(http.StatusForbidden, "account not verified")
			case errors.Is(err, identity.ErrNotFound):
				return fiber.NewError(http.StatusUnauthorized, "unknown phone number")
			default:
				return fiber.NewError(http.StatusInternalServerError, "login failed")
			}
		}

		token, err := tokens.Issue(user.HashedPhone)
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, "session issuance failed")
		}

		return c.JSON(fiber.Map{
			"token":   token,
			"user_id": user.ID,
			"status":  user.Status,
		})
	})
}
