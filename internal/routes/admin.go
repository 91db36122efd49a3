package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/pesabridge/pesabridge/internal/bridge"
	"github.com/pesabridge/pesabridge/internal/identity"
	"github.com/pesabridge/pesabridge/internal/wallet"
)

const adminSecretHeader = "X-Admin-Secret"

// RegisterAdminRoutes exposes operational counters behind a shared secret.
func RegisterAdminRoutes(app *fiber.App, secret string, users identity.Repository, wallets wallet.Repository, txs bridge.Repository) {
	app.Get("/admin/status", func(c *fiber.Ctx) error {
		if secret == "" || c.Get(adminSecretHeader) != secret {
			return fiber.NewError(http.StatusUnauthorized, "invalid admin credentials")
		}
		ctx := c.UserContext()

		userCount, err := users.Count(ctx)
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, "status collection failed")
		}
		verifiedCount, err := users.CountByStatus(ctx, identity.StatusVerified)
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, "status collection failed")
		}
		pendingCount, err := users.CountByStatus(ctx, identity.StatusPending)
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, "status collection failed")
		}
		walletCount, err := wallets.Count(ctx)
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, "status collection failed")
		}
		txCount, err := txs.Count(ctx)
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, "status collection failed")
		}
		statuses := fiber.Map{}
		for _, status := range []bridge.Status{bridge.StatusPending, bridge.StatusProcessing, bridge.StatusConfirmed, bridge.StatusFailed} {
			count, err := txs.CountByStatus(ctx, status)
			if err != nil {
				return fiber.NewError(http.StatusInternalServerError, "status collection failed")
			}
			statuses[string(status)] = count
		}

		return c.JSON(fiber.Map{
			"users":          userCount,
			"verified_users": verifiedCount,
			"pending_users":  pendingCount,
			"wallets":        walletCount,
			"transactions":   txCount,
			"by_status":      statuses,
		})
	})
}
