package routes

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/pesabridge/pesabridge/internal/auth"
	"github.com/pesabridge/pesabridge/internal/bridge"
	"github.com/pesabridge/pesabridge/internal/config"
	"github.com/pesabridge/pesabridge/internal/custody"
	"github.com/pesabridge/pesabridge/internal/identity"
	"github.com/pesabridge/pesabridge/internal/ledgerrpc"
	"github.com/pesabridge/pesabridge/internal/middleware"
	"github.com/pesabridge/pesabridge/internal/mpesa"
	"github.com/pesabridge/pesabridge/internal/notification"
	"github.com/pesabridge/pesabridge/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes. Without a
// database or ledger endpoint the in-memory backends are used, which keeps
// local development self-contained.
func Setup(app *fiber.App, d Deps) error {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	var (
		userRepo   identity.Repository
		walletRepo wallet.Repository
		txRepo     bridge.Repository
	)
	if d.DB != nil {
		userRepo = identity.NewPostgresRepository(d.DB)
		walletRepo = wallet.NewPostgresRepository(d.DB)
		txRepo = bridge.NewPostgresRepository(d.DB)
	} else {
		userRepo = identity.NewMemoryRepository()
		walletRepo = wallet.NewMemoryRepository()
		txRepo = bridge.NewMemoryRepository(walletRepo)
	}

	var ledger ledgerrpc.Ledger
	if d.Cfg.LedgerRPCURL != "" {
		ledger = ledgerrpc.NewClient(d.Cfg.LedgerRPCURL, d.Cfg.LedgerTimeout)
	} else {
		ledger = ledgerrpc.NewInMemory()
	}

	provider := mpesa.NewClient(mpesa.Config{
		BaseURL:         d.Cfg.ProviderBaseURL,
		ConsumerKey:     d.Cfg.ProviderConsumerKey,
		ConsumerSecret:  d.Cfg.ProviderConsumerSecret,
		ShortCode:       d.Cfg.ProviderShortCode,
		Passkey:         d.Cfg.ProviderPasskey,
		InitiatorName:   d.Cfg.ProviderInitiatorName,
		InitiatorSecret: d.Cfg.ProviderInitiatorSecret,
		CertPath:        d.Cfg.ProviderCertPath,
		ValidationKey:   []byte(d.Cfg.ProviderValidationKey),
		CallbackBaseURL: d.Cfg.CallbackBaseURL,
		Hardened:        d.Cfg.Hardened(),
		Timeout:         d.Cfg.ProviderTimeout,
	}, d.Logger)

	custodian := custody.NewService(d.Cfg.SealKey, d.Cfg.AssetSymbol)
	notifier := notification.NewLoggerNotifier(d.Logger)

	identitySvc := identity.NewService(userRepo, walletRepo, custodian, provider, []byte(d.Cfg.PhoneHashKey), d.Logger)
	authSvc := auth.NewService(d.Cfg.SessionSecret, d.Cfg.SessionTTL)
	bridgeSvc := bridge.NewService(txRepo, walletRepo, custodian, provider, ledger, notifier,
		bridge.Limits{MinDeposit: d.Cfg.MinDeposit, MinWithdrawal: d.Cfg.MinWithdrawal}, d.Logger)

	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")

	rateLimiter := middleware.PhoneRateLimit(d.Cache, 5)
	RegisterAuthRoutes(api, identitySvc, authSvc, rateLimiter)
	RegisterCallbackRoutes(api, provider, identitySvc, bridgeSvc, d.Logger)

	protected := api.Group("", middleware.SessionAuth(authSvc, userRepo))
	if d.Cache != nil {
		protected = protected.Group("", middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterTransactionRoutes(protected, bridgeSvc)

	protected.Get("/auth/profile", func(c *fiber.Ctx) error {
		hashed, _ := c.Locals("hashed_phone").(string)
		user, err := userRepo.FindByHashedPhone(c.UserContext(), hashed)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "user not found")
		}
		w, err := walletRepo.GetByUser(c.UserContext(), user.ID)
		if err != nil {
			return fiber.NewError(http.StatusNotFound, "wallet not found")
		}
		return c.JSON(fiber.Map{
			"phone":       user.Phone,
			"status":      user.Status,
			"verified_at": user.VerifiedAt,
			"address":     w.Address,
			"asset":       w.Asset,
		})
	})

	RegisterAdminRoutes(app, d.Cfg.AdminSecret, userRepo, walletRepo, txRepo)

	return nil
}
