package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/pesabridge/pesabridge/internal/custody"
	"github.com/pesabridge/pesabridge/internal/mpesa"
	"github.com/pesabridge/pesabridge/internal/vault"
	"github.com/pesabridge/pesabridge/internal/wallet"
)

// verificationAmount is the nominal collection pushed to prove phone
// ownership. Verification pushes are not refunded automatically; the
// receipt is kept on the user so a refund job can be built from the audit
// trail later.
const verificationAmount = 1

var phonePattern = regexp.MustCompile(`^2547\d{8}$`)

var (
	// ErrInvalidPhone rejects phone numbers outside the supported country
	// pattern before any provider call is made.
	ErrInvalidPhone = errors.New("invalid phone number format")

	// ErrAlreadyRegistered indicates a user exists for the phone number.
	ErrAlreadyRegistered = errors.New("user already registered")

	// ErrNotVerified indicates the user has not completed phone verification.
	ErrNotVerified = errors.New("user not verified")
)

// Collector is the slice of the payment provider needed for verification.
type Collector interface {
	InitiateCollection(ctx context.Context, phone string, amount int64, reference string) (string, error)
}

// Service manages identity verification and custodial wallet provisioning.
type Service struct {
	repo      Repository
	wallets   wallet.Repository
	custodian *custody.Service
	collector Collector
	hashKey   []byte
	logger    *slog.Logger
}

// NewService creates a new identity service.
func NewService(repo Repository, wallets wallet.Repository, custodian *custody.Service, collector Collector, hashKey []byte, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		wallets:   wallets,
		custodian: custodian,
		collector: collector,
		hashKey:   hashKey,
		logger:    logger,
	}
}

// HashIdentity derives the unique lookup key for a phone number. Used
// everywhere a raw phone would otherwise be exposed.
func (s *Service) HashIdentity(phone string) string {
	return vault.Hash([]byte(phone), s.hashKey)
}

// Register validates the phone, pushes a nominal verification collection to
// it and records the user in pending state. The wallet is provisioned only
// once verification succeeds.
func (s *Service) Register(ctx context.Context, phone string) (User, error) {
	if !phonePattern.MatchString(phone) {
		return User{}, ErrInvalidPhone
	}

	hashed := s.HashIdentity(phone)
	if _, err := s.repo.FindByHashedPhone(ctx, hashed); err == nil {
		return User{}, ErrAlreadyRegistered
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	reference := "VERIFY-" + uuid.NewString()
	providerReqID, err := s.collector.InitiateCollection(ctx, phone, verificationAmount, reference)
	if err != nil {
		return User{}, fmt.Errorf("verification push: %w", err)
	}

	user := User{
		ID:                    uuid.NewString(),
		Phone:                 phone,
		HashedPhone:           hashed,
		Status:                StatusPending,
		VerificationReference: reference,
		ProviderRequestID:     providerReqID,
		CreatedAt:             time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}

	s.logger.Info("verification requested",
		slog.String("user_id", user.ID),
		slog.String("reference", reference),
	)
	return user, nil
}

// ConfirmVerification applies a provider callback to the matching pending
// user. It reports whether the callback matched a verification request;
// unknown or already-finalized requests are a no-op, which keeps replayed
// callbacks harmless. On the first successful confirmation exactly one
// custodial wallet is provisioned.
func (s *Service) ConfirmVerification(ctx context.Context, cb mpesa.CallbackResult) (bool, error) {
	user, err := s.repo.FindByProviderRequestID(ctx, cb.ProviderRequestID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if !cb.Succeeded {
		transitioned, err := s.repo.MarkFailed(ctx, user.ID)
		if err != nil {
			return true, err
		}
		if transitioned {
			s.logger.Info("verification failed",
				slog.String("user_id", user.ID),
				slog.Int("result_code", cb.ResultCode),
			)
		}
		return true, nil
	}

	if user.Status == StatusFailed {
		// Terminal; a late success replay must not resurrect the user or
		// leave a wallet behind.
		return true, nil
	}

	// The wallet is provisioned and stored before the status flip. A
	// failure here leaves the user pending, so the provider's callback
	// retry runs the whole step again instead of stranding a verified
	// user without a wallet.
	address, err := s.ensureWallet(ctx, user.ID)
	if err != nil {
		return true, err
	}

	transitioned, err := s.repo.MarkVerified(ctx, user.ID, cb.Receipt, time.Now().UTC())
	if err != nil {
		return true, err
	}
	if !transitioned {
		// Duplicate delivery after the user reached a terminal state.
		return true, nil
	}

	s.logger.Info("user verified",
		slog.String("user_id", user.ID),
		slog.String("address", address),
	)
	return true, nil
}

// ensureWallet provisions and stores the user's custodial wallet if it does
// not exist yet, returning its address either way.
func (s *Service) ensureWallet(ctx context.Context, userID string) (string, error) {
	existing, err := s.wallets.GetByUser(ctx, userID)
	if err == nil {
		return existing.Address, nil
	}
	if !errors.Is(err, wallet.ErrNotFound) {
		return "", err
	}

	provisioned, err := s.custodian.ProvisionWallet()
	if err != nil {
		return "", fmt.Errorf("provision wallet: %w", err)
	}
	w := wallet.Wallet{
		ID:         uuid.NewString(),
		UserID:     userID,
		Address:    provisioned.Address,
		SealedSeed: provisioned.SealedSeed,
		Asset:      provisioned.Asset,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.wallets.Create(ctx, w); err != nil && !errors.Is(err, wallet.ErrExists) {
		return "", fmt.Errorf("store wallet: %w", err)
	}
	return provisioned.Address, nil
}

// Login resolves a verified user by phone number.
func (s *Service) Login(ctx context.Context, phone string) (User, error) {
	user, err := s.repo.FindByHashedPhone(ctx, s.HashIdentity(phone))
	if err != nil {
		return User{}, err
	}
	if user.Status != StatusVerified {
		return User{}, ErrNotVerified
	}
	return user, nil
}

// Get resolves a user by hashed phone, verified or not.
func (s *Service) Get(ctx context.Context, hashedPhone string) (User, error) {
	return s.repo.FindByHashedPhone(ctx, hashedPhone)
}
