package routes

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/pesabridge/pesabridge/internal/bridge"
	"github.com/pesabridge/pesabridge/internal/identity"
	"github.com/pesabridge/pesabridge/internal/mpesa"
)

// RegisterCallbackRoutes wires the provider webhook listeners. Forged or
// malformed payloads are rejected before any business effect; processing
// errors are logged and the callback acknowledged, since redelivery of an
// already-settled callback is a no-op anyway.
func RegisterCallbackRoutes(r fiber.Router, client *mpesa.Client, ids *identity.Service, svc *bridge.Service, logger *slog.Logger) {
	group := r.Group("/mpesa")

	// Collection callbacks settle either a verification charge or a deposit;
	// both are matched by the provider request id.
	group.Post("/callback", func(c *fiber.Ctx) error {
		body := c.Body()
		if err := client.ValidateCallback(body, c.Get(mpesa.SignatureHeader)); err != nil {
			logger.Warn("collection callback rejected", slog.Any("error", err))
			return fiber.NewError(http.StatusUnauthorized, "signature verification failed")
		}

		cb, err := mpesa.ParseCallback(body)
		if err != nil {
			logger.Warn("malformed collection callback", slog.Any("error", err))
			return fiber.NewError(http.StatusBadRequest, "malformed callback")
		}

		handled, err := ids.ConfirmVerification(c.UserContext(), cb)
		if err != nil {
			logger.Error("verification reconciliation failed", slog.Any("error", err))
		}
		if !handled && err == nil {
			handled, err = svc.ConfirmDeposit(c.UserContext(), cb)
			if err != nil {
				logger.Error("deposit reconciliation failed", slog.Any("error", err))
			}
		}
		if !handled && err == nil {
			logger.Info("collection callback matched no record",
				slog.String("provider_request_id", cb.ProviderRequestID))
		}
		return ackCallback(c)
	})

	group.Post("/b2c-result", func(c *fiber.Ctx) error {
		body := c.Body()
		if err := client.ValidateCallback(body, c.Get(mpesa.SignatureHeader)); err != nil {
			logger.Warn("disbursement callback rejected", slog.Any("error", err))
			return fiber.NewError(http.StatusUnauthorized, "signature verification failed")
		}

		cb, err := mpesa.ParseResultCallback(body)
		if err != nil {
			logger.Warn("malformed disbursement callback", slog.Any("error", err))
			return fiber.NewError(http.StatusBadRequest, "malformed callback")
		}

		handled, err := svc.ConfirmWithdrawal(c.UserContext(), cb)
		if err != nil {
			logger.Error("withdrawal reconciliation failed", slog.Any("error", err))
		}
		if !handled && err == nil {
			logger.Info("disbursement callback matched no record",
				slog.String("provider_request_id", cb.ProviderRequestID))
		}
		return ackCallback(c)
	})

	// The provider posts here when a disbursement request expired in its
	// queue; the withdrawal fails without a payout.
	group.Post("/b2c-timeout", func(c *fiber.Ctx) error {
		body := c.Body()
		if err := client.ValidateCallback(body, c.Get(mpesa.SignatureHeader)); err != nil {
			logger.Warn("timeout callback rejected", slog.Any("error", err))
			return fiber.NewError(http.StatusUnauthorized, "signature verification failed")
		}

		cb, err := mpesa.ParseResultCallback(body)
		if err != nil {
			logger.Warn("malformed timeout callback", slog.Any("error", err))
			return fiber.NewError(http.StatusBadRequest, "malformed callback")
		}
		cb.Succeeded = false
		if cb.FailureReason == "" {
			cb.FailureReason = "disbursement request timed out"
		}

		if _, err := svc.ConfirmWithdrawal(c.UserContext(), cb); err != nil {
			logger.Error("withdrawal timeout reconciliation failed", slog.Any("error", err))
		}
		return ackCallback(c)
	})
}

func ackCallback(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ResultCode": 0, "ResultDesc": "Accepted"})
}
