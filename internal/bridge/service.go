package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesabridge/pesabridge/internal/custody"
	"github.com/pesabridge/pesabridge/internal/ledgerrpc"
	"github.com/pesabridge/pesabridge/internal/mpesa"
	"github.com/pesabridge/pesabridge/internal/notification"
	"github.com/pesabridge/pesabridge/internal/vault"
	"github.com/pesabridge/pesabridge/internal/wallet"
)

var (
	// ErrWalletNotFound indicates the user has no provisioned wallet.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrInsufficientBalance indicates the ledger balance cannot cover the
	// requested amount plus any in-flight withdrawals.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrValidation indicates malformed input, rejected before any external call.
	ErrValidation = errors.New("validation failed")
	// ErrOperationFailed wraps unexpected lower-level failures.
	ErrOperationFailed = errors.New("operation failed")
)

var destinationPhonePattern = regexp.MustCompile(`^2547\d{8}$`)

// Provider abstracts the payment provider operations the engine drives.
type Provider interface {
	InitiateCollection(ctx context.Context, phone string, amount int64, reference string) (string, error)
	InitiateDisbursement(ctx context.Context, phone string, amount int64, reference string) (string, error)
}

// Limits holds the minimum accepted amounts per operation.
type Limits struct {
	MinDeposit    int64
	MinWithdrawal int64
}

// Service orchestrates deposits, withdrawals, and peer transfers across the
// payment provider and the ledger. Withdrawal and transfer initiation is
// serialized per wallet address.
type Service struct {
	repo      Repository
	wallets   wallet.Repository
	custodian *custody.Service
	provider  Provider
	ledger    ledgerrpc.Ledger
	notifier  notification.Notifier
	limits    Limits
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService wires the transaction engine.
func NewService(repo Repository, wallets wallet.Repository, custodian *custody.Service, provider Provider, ledger ledgerrpc.Ledger, notifier notification.Notifier, limits Limits, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		wallets:   wallets,
		custodian: custodian,
		provider:  provider,
		ledger:    ledger,
		notifier:  notifier,
		limits:    limits,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Deposit requests a customer-initiated collection and records a pending
// transaction. The wallet is credited only when the confirmation callback
// arrives.
func (s *Service) Deposit(ctx context.Context, userID, phone string, amount int64) (Transaction, error) {
	if amount < s.limits.MinDeposit {
		return Transaction{}, fmt.Errorf("%w: deposit amount must be at least %d", ErrValidation, s.limits.MinDeposit)
	}

	w, err := s.wallets.GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			return Transaction{}, ErrWalletNotFound
		}
		return Transaction{}, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}

	reference := "DEP-" + uuid.NewString()
	requestID, err := s.provider.InitiateCollection(ctx, phone, amount, reference)
	if err != nil {
		return Transaction{}, providerError(err)
	}

	tx := Transaction{
		ID:                uuid.NewString(),
		UserID:            userID,
		Kind:              KindDeposit,
		Status:            StatusPending,
		Amount:            amount,
		Asset:             w.Asset,
		Reference:         reference,
		ProviderRequestID: requestID,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, tx); err != nil {
		return Transaction{}, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}

	s.logger.Info("deposit initiated", "transaction_id", tx.ID, "user_id", userID, "amount", amount)
	return tx, nil
}

// ConfirmDeposit reconciles a collection callback against its pending
// transaction. Unknown references and already-finalized transactions are
// no-ops, so duplicate deliveries apply at most one credit. The returned
// bool reports whether the callback matched a deposit.
func (s *Service) ConfirmDeposit(ctx context.Context, cb mpesa.CallbackResult) (bool, error) {
	tx, err := s.repo.FindByProviderRequestID(ctx, cb.ProviderRequestID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if tx.Kind != KindDeposit {
		return false, nil
	}
	if tx.Status.Terminal() {
		s.logger.Info("duplicate deposit callback ignored", "transaction_id", tx.ID, "status", tx.Status)
		return true, nil
	}

	if !cb.Succeeded {
		applied, err := s.repo.Fail(ctx, tx.ID, cb.FailureReason)
		if err != nil {
			return true, err
		}
		if applied {
			s.logger.Info("deposit failed", "transaction_id", tx.ID, "result_code", cb.ResultCode, "reason", cb.FailureReason)
		}
		return true, nil
	}

	applied, err := s.repo.ConfirmDeposit(ctx, tx.ID, cb.Receipt)
	if err != nil {
		return true, err
	}
	if applied {
		s.logger.Info("deposit confirmed", "transaction_id", tx.ID, "amount", tx.Amount, "receipt", cb.Receipt)
		s.notify(ctx, notification.KindDepositConfirmed, tx.UserID,
			fmt.Sprintf("Deposit of %d %s confirmed, receipt %s", tx.Amount, tx.Asset, cb.Receipt))
	}
	return true, nil
}

// Withdraw requests a payout to the given phone number. The ledger-reported
// balance is checked under the wallet lock with in-flight withdrawals
// reserved, so two concurrent requests cannot both spend the same funds. The
// transaction starts at processing; the provider result callback finalizes
// it.
func (s *Service) Withdraw(ctx context.Context, userID string, amount int64, phone string) (Transaction, error) {
	if amount < s.limits.MinWithdrawal {
		return Transaction{}, fmt.Errorf("%w: withdrawal amount must be at least %d", ErrValidation, s.limits.MinWithdrawal)
	}
	if !destinationPhonePattern.MatchString(phone) {
		return Transaction{}, fmt.Errorf("%w: invalid destination phone number", ErrValidation)
	}

	w, err := s.wallets.GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			return Transaction{}, ErrWalletNotFound
		}
		return Transaction{}, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}

	unlock := s.lockWallet(w.Address)
	defer unlock()

	available, err := s.availableBalance(ctx, w)
	if err != nil {
		return Transaction{}, err
	}
	if available < amount {
		return Transaction{}, ErrInsufficientBalance
	}

	reference := "WDR-" + uuid.NewString()
	requestID, err := s.provider.InitiateDisbursement(ctx, phone, amount, reference)
	if err != nil {
		return Transaction{}, providerError(err)
	}

	tx := Transaction{
		ID:                uuid.NewString(),
		UserID:            userID,
		Kind:              KindWithdrawal,
		Status:            StatusProcessing,
		Amount:            amount,
		Asset:             w.Asset,
		Reference:         reference,
		ProviderRequestID: requestID,
		Destination:       phone,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, tx); err != nil {
		return Transaction{}, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}

	s.logger.Info("withdrawal initiated", "transaction_id", tx.ID, "user_id", userID, "amount", amount)
	return tx, nil
}

// ConfirmWithdrawal reconciles a disbursement result callback. The same
// idempotency rules as ConfirmDeposit apply; failed payouts never mutate the
// wallet since the advisory balance is reconciled from deposits only.
func (s *Service) ConfirmWithdrawal(ctx context.Context, cb mpesa.CallbackResult) (bool, error) {
	tx, err := s.repo.FindByProviderRequestID(ctx, cb.ProviderRequestID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if tx.Kind != KindWithdrawal {
		return false, nil
	}
	if tx.Status.Terminal() {
		s.logger.Info("duplicate withdrawal callback ignored", "transaction_id", tx.ID, "status", tx.Status)
		return true, nil
	}

	if !cb.Succeeded {
		applied, err := s.repo.Fail(ctx, tx.ID, cb.FailureReason)
		if err != nil {
			return true, err
		}
		if applied {
			s.logger.Warn("withdrawal failed", "transaction_id", tx.ID, "result_code", cb.ResultCode, "reason", cb.FailureReason)
			s.notify(ctx, notification.KindWithdrawalFailed, tx.UserID,
				fmt.Sprintf("Withdrawal of %d %s to %s failed", tx.Amount, tx.Asset, tx.Destination))
		}
		return true, nil
	}

	applied, err := s.repo.FinalizeWithdrawal(ctx, tx.ID, cb.Receipt)
	if err != nil {
		return true, err
	}
	if applied {
		s.logger.Info("withdrawal confirmed", "transaction_id", tx.ID, "amount", tx.Amount, "receipt", cb.Receipt)
		s.notify(ctx, notification.KindWithdrawalConfirmed, tx.UserID,
			fmt.Sprintf("Withdrawal of %d %s to %s confirmed", tx.Amount, tx.Asset, tx.Destination))
	}
	return true, nil
}

// Transfer moves ledger value to another address. The signing seed is
// decrypted only for the duration of this call and zeroed before return.
// Confirmation here means broadcast acceptance by the ledger node, not chain
// finality.
func (s *Service) Transfer(ctx context.Context, userID, toAddress string, amount int64) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, fmt.Errorf("%w: transfer amount must be positive", ErrValidation)
	}
	if !custody.ValidAddress(toAddress) {
		return Transaction{}, fmt.Errorf("%w: invalid destination address", ErrValidation)
	}

	w, err := s.wallets.GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			return Transaction{}, ErrWalletNotFound
		}
		return Transaction{}, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	if toAddress == w.Address {
		return Transaction{}, fmt.Errorf("%w: cannot transfer to own wallet", ErrValidation)
	}

	unlock := s.lockWallet(w.Address)
	defer unlock()

	available, err := s.availableBalance(ctx, w)
	if err != nil {
		return Transaction{}, err
	}
	if available < amount {
		return Transaction{}, ErrInsufficientBalance
	}

	signed, err := s.signTransfer(w, toAddress, amount)
	if err != nil {
		return Transaction{}, err
	}

	tx := Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        KindTransfer,
		Amount:      amount,
		Asset:       w.Asset,
		Reference:   "TRF-" + uuid.NewString(),
		Destination: toAddress,
		CreatedAt:   time.Now().UTC(),
	}

	hash, err := s.ledger.SubmitTransaction(ctx, signed)
	if err != nil {
		tx.Status = StatusFailed
		tx.FailureReason = "ledger broadcast rejected"
		if createErr := s.repo.Create(ctx, tx); createErr != nil {
			s.logger.Error("record failed transfer", "transaction_id", tx.ID, "error", createErr)
		}
		s.logger.Warn("transfer broadcast failed", "transaction_id", tx.ID, "error", err)
		return Transaction{}, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}

	tx.Status = StatusConfirmed
	tx.TxHash = hash
	if err := s.repo.Create(ctx, tx); err != nil {
		return Transaction{}, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}

	s.logger.Info("transfer broadcast", "transaction_id", tx.ID, "tx_hash", hash, "amount", amount)
	s.notify(ctx, notification.KindTransferSent, userID,
		fmt.Sprintf("Transfer of %d %s to %s broadcast, hash %s", amount, w.Asset, toAddress, hash))
	return tx, nil
}

// Balance reports the authoritative ledger balance alongside the advisory
// balance cached on the wallet row.
type Balance struct {
	Address  string `json:"address"`
	Asset    string `json:"asset"`
	Ledger   int64  `json:"ledger_balance"`
	Advisory int64  `json:"advisory_balance"`
}

func (s *Service) Balance(ctx context.Context, userID string) (Balance, error) {
	w, err := s.wallets.GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			return Balance{}, ErrWalletNotFound
		}
		return Balance{}, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	ledgerBalance, err := s.ledger.Balance(ctx, w.Address)
	if err != nil {
		return Balance{}, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	return Balance{Address: w.Address, Asset: w.Asset, Ledger: ledgerBalance, Advisory: w.Balance}, nil
}

// History returns the user's most recent transactions, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListByUser(ctx, userID, limit)
}

func (s *Service) signTransfer(w wallet.Wallet, toAddress string, amount int64) ([]byte, error) {
	seed, err := s.custodian.OpenSeed(w.SealedSeed)
	if err != nil {
		return nil, err
	}
	defer vault.Zero(seed)

	key := custody.KeyFromSeed(seed)
	signed, err := ledgerrpc.SignTransfer(key, ledgerrpc.Transfer{
		From:   w.Address,
		To:     toAddress,
		Amount: amount,
		Nonce:  uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	return signed, nil
}

// availableBalance subtracts in-flight withdrawal amounts from the
// ledger-reported balance, reserving funds already committed to a payout.
func (s *Service) availableBalance(ctx context.Context, w wallet.Wallet) (int64, error) {
	balance, err := s.ledger.Balance(ctx, w.Address)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	reserved, err := s.repo.ProcessingWithdrawalTotal(ctx, w.UserID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	return balance - reserved, nil
}

func (s *Service) lockWallet(address string) func() {
	s.mu.Lock()
	l, ok := s.locks[address]
	if !ok {
		l = &sync.Mutex{}
		s.locks[address] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Service) notify(ctx context.Context, kind, destination, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, notification.Message{Kind: kind, Destination: destination, Body: body}); err != nil {
		s.logger.Warn("notification delivery failed", "kind", kind, "error", err)
	}
}

// providerError keeps the provider sentinel classification visible to callers
// without exposing raw provider payloads.
func providerError(err error) error {
	if errors.Is(err, mpesa.ErrProviderAuth) || errors.Is(err, mpesa.ErrProviderRequest) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrOperationFailed, err)
}
