package routes

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/pesabridge/pesabridge/internal/bridge"
	"github.com/pesabridge/pesabridge/internal/mpesa"
)

// RegisterTransactionRoutes wires the authenticated money-movement API. The
// caller identity comes from the session middleware locals.
func RegisterTransactionRoutes(r fiber.Router, svc *bridge.Service) {
	group := r.Group("/transactions")

	group.Post("/deposit", func(c *fiber.Ctx) error {
		var req struct {
			Amount int64 `json:"amount"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
		userID, _ := c.Locals("user_id").(string)
		phone, _ := c.Locals("phone").(string)

		tx, err := svc.Deposit(c.UserContext(), userID, phone, req.Amount)
		if err != nil {
			return bridgeError(err)
		}
		return c.Status(http.StatusAccepted).JSON(fiber.Map{
			"transaction": tx,
			"message":     "confirm the payment request on your phone",
		})
	})

	group.Post("/withdraw", func(c *fiber.Ctx) error {
		var req struct {
			Amount int64  `json:"amount"`
			Phone  string `json:"phone"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
		userID, _ := c.Locals("user_id").(string)
		if req.Phone == "" {
			req.Phone, _ = c.Locals("phone").(string)
		}

		tx, err := svc.Withdraw(c.UserContext(), userID, req.Amount, req.Phone)
		if err != nil {
			return bridgeError(err)
		}
		return c.Status(http.StatusAccepted).JSON(fiber.Map{"transaction": tx})
	})

	group.Post("/transfer", func(c *fiber.Ctx) error {
		var req struct {
			ToAddress string `json:"to_address"`
			Amount    int64  `json:"amount"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
		userID, _ := c.Locals("user_id").(string)

		tx, err := svc.Transfer(c.UserContext(), userID, req.ToAddress, req.Amount)
		if err != nil {
			return bridgeError(err)
		}
		// Confirmed means the node accepted the broadcast, not that the
		// transfer reached chain finality.
		return c.Status(http.StatusCreated).JSON(fiber.Map{"transaction": tx})
	})

	group.Get("/balance", func(c *fiber.Ctx) error {
		userID, _ := c.Locals("user_id").(string)
		balance, err := svc.Balance(c.UserContext(), userID)
		if err != nil {
			return bridgeError(err)
		}
		return c.JSON(balance)
	})

	group.Get("/history", func(c *fiber.Ctx) error {
		userID, _ := c.Locals("user_id").(string)
		history, err := svc.History(c.UserContext(), userID, c.QueryInt("limit", 50))
		if err != nil {
			return bridgeError(err)
		}
		return c.JSON(fiber.Map{"transactions": history})
	})
}

// bridgeError maps engine errors to normalized HTTP responses. Provider and
// internal detail stays in the logs.
func bridgeError(err error) error {
	switch {
	case errors.Is(err, bridge.ErrValidation):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, bridge.ErrWalletNotFound):
		return fiber.NewError(http.StatusNotFound, "wallet not found")
	case errors.Is(err, bridge.ErrInsufficientBalance):
		return fiber.NewError(http.StatusUnprocessableEntity, "insufficient balance")
	case errors.Is(err, mpesa.ErrProviderAuth), errors.Is(err, mpesa.ErrProviderRequest):
		return fiber.NewError(http.StatusBadGateway, "payment provider request failed")
	default:
		return fiber.NewError(http.StatusInternalServerError, "operation failed")
	}
}
