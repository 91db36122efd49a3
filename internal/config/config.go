package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName        = "PesaBridge"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultProviderURL    = "https://sandbox.safaricom.co.ke"
	defaultShortCode      = "174379"
	defaultAsset          = "ETH"
	defaultSessionTTL     = 24 * time.Hour
	defaultMinDeposit     = 10
	defaultMinWithdrawal  = 50
	defaultCallTimeout    = 15 * time.Second
)

// Mode selects how inbound provider callbacks are authenticated.
type Mode string

const (
	// ModeHardened verifies callback signatures against the validation key.
	ModeHardened Mode = "hardened"
	// ModeRelaxed skips callback signature verification. Non-production only;
	// it must be chosen explicitly, never fallen into.
	ModeRelaxed Mode = "relaxed"
)

// Config captures application runtime configuration loaded from environment
// variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// Payment provider surface.
	ProviderBaseURL         string
	ProviderConsumerKey     string
	ProviderConsumerSecret  string
	ProviderShortCode       string
	ProviderPasskey         string
	ProviderInitiatorName   string
	ProviderInitiatorSecret string
	ProviderCertPath        string
	ProviderValidationKey   string
	ProviderTimeout         time.Duration
	CallbackBaseURL         string
	CallbackMode            Mode

	// Ledger surface.
	LedgerRPCURL  string
	LedgerTimeout time.Duration
	AssetSymbol   string

	// Bridge thresholds, amounts in KES.
	MinDeposit    int64
	MinWithdrawal int64

	// Three independent secrets. SessionSecret signs session credentials,
	// SealKey (32 bytes, hex in the environment) seals wallet seeds,
	// PhoneHashKey keys the phone-number hash. They must never share a value.
	SessionSecret string
	SessionTTL    time.Duration
	SealKey       []byte
	PhoneHashKey  string

	AdminSecret string
}

// Load reads configuration values from the environment and populates a
// Config instance. A .env file is honored when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,

		ProviderBaseURL:         getEnv("MPESA_BASE_URL", defaultProviderURL),
		ProviderConsumerKey:     os.Getenv("MPESA_CONSUMER_KEY"),
		ProviderConsumerSecret:  os.Getenv("MPESA_CONSUMER_SECRET"),
		ProviderShortCode:       getEnv("MPESA_BUSINESS_SHORTCODE", defaultShortCode),
		ProviderPasskey:         os.Getenv("MPESA_PASSKEY"),
		ProviderInitiatorName:   os.Getenv("MPESA_INITIATOR_NAME"),
		ProviderInitiatorSecret: os.Getenv("MPESA_INITIATOR_SECRET"),
		ProviderCertPath:        os.Getenv("MPESA_CERT_PATH"),
		ProviderValidationKey:   os.Getenv("MPESA_VALIDATION_KEY"),
		ProviderTimeout:         defaultCallTimeout,
		CallbackBaseURL:         os.Getenv("CALLBACK_BASE_URL"),

		LedgerRPCURL:  os.Getenv("LEDGER_RPC_URL"),
		LedgerTimeout: defaultCallTimeout,
		AssetSymbol:   getEnv("ASSET_SYMBOL", defaultAsset),

		MinDeposit:    defaultMinDeposit,
		MinWithdrawal: defaultMinWithdrawal,

		SessionSecret: os.Getenv("SESSION_SECRET"),
		SessionTTL:    defaultSessionTTL,
		PhoneHashKey:  os.Getenv("PHONE_HASH_KEY"),

		AdminSecret: os.Getenv("ADMIN_SECRET"),
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = durationEnv("SESSION_TTL", cfg.SessionTTL); err != nil {
		return Config{}, err
	}
	if cfg.ProviderTimeout, err = durationEnv("MPESA_TIMEOUT", cfg.ProviderTimeout); err != nil {
		return Config{}, err
	}
	if cfg.LedgerTimeout, err = durationEnv("LEDGER_TIMEOUT", cfg.LedgerTimeout); err != nil {
		return Config{}, err
	}
	if cfg.MinDeposit, err = int64Env("MIN_DEPOSIT", cfg.MinDeposit); err != nil {
		return Config{}, err
	}
	if cfg.MinWithdrawal, err = int64Env("MIN_WITHDRAWAL", cfg.MinWithdrawal); err != nil {
		return Config{}, err
	}

	mode := Mode(strings.ToLower(getEnv("CALLBACK_MODE", string(ModeHardened))))
	if mode != ModeHardened && mode != ModeRelaxed {
		return Config{}, fmt.Errorf("CALLBACK_MODE must be %q or %q", ModeHardened, ModeRelaxed)
	}
	cfg.CallbackMode = mode

	sealHex := os.Getenv("SEAL_KEY")
	if sealHex == "" {
		return Config{}, fmt.Errorf("SEAL_KEY must be set")
	}
	cfg.SealKey, err = hex.DecodeString(sealHex)
	if err != nil {
		return Config{}, fmt.Errorf("SEAL_KEY must be hex encoded: %w", err)
	}
	if len(cfg.SealKey) != 32 {
		return Config{}, fmt.Errorf("SEAL_KEY must decode to 32 bytes, got %d", len(cfg.SealKey))
	}

	if err := cfg.validate(sealHex); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate(sealHex string) error {
	required := map[string]string{
		"DATABASE_URL":          c.DatabaseURL,
		"REDIS_URL":             c.RedisURL,
		"MPESA_CONSUMER_KEY":    c.ProviderConsumerKey,
		"MPESA_CONSUMER_SECRET": c.ProviderConsumerSecret,
		"MPESA_PASSKEY":         c.ProviderPasskey,
		"CALLBACK_BASE_URL":     c.CallbackBaseURL,
		"LEDGER_RPC_URL":        c.LedgerRPCURL,
		"SESSION_SECRET":        c.SessionSecret,
		"PHONE_HASH_KEY":        c.PhoneHashKey,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s must be set", name)
		}
	}

	if c.CallbackMode == ModeHardened && c.ProviderValidationKey == "" {
		return fmt.Errorf("MPESA_VALIDATION_KEY must be set in hardened mode")
	}

	// Reusing one value for several secrets collapses the key separation the
	// seal, session and phone-hash paths rely on.
	if c.SessionSecret == sealHex || c.SessionSecret == c.PhoneHashKey || sealHex == c.PhoneHashKey {
		return fmt.Errorf("SESSION_SECRET, SEAL_KEY and PHONE_HASH_KEY must be distinct values")
	}

	return nil
}

// Hardened reports whether callback signature verification is enabled.
func (c Config) Hardened() bool {
	return c.CallbackMode == ModeHardened
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func int64Env(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
