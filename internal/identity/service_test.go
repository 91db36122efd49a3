package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"testing"

	"github.com/pesabridge/pesabridge/internal/custody"
	"github.com/pesabridge/pesabridge/internal/logging"
	"github.com/pesabridge/pesabridge/internal/mpesa"
	"github.com/pesabridge/pesabridge/internal/wallet"
)

type stubCollector struct {
	calls      int
	lastPhone  string
	lastAmount int64
	lastRef    string
	err        error
}

func (c *stubCollector) InitiateCollection(_ context.Context, phone string, amount int64, reference string) (string, error) {
	c.calls++
	c.lastPhone = phone
	c.lastAmount = amount
	c.lastRef = reference
	if c.err != nil {
		return "", c.err
	}
	return "ws_CO_stub_1", nil
}

func newTestService(t *testing.T, collector *stubCollector) (*Service, wallet.Repository) {
	t.Helper()
	sealKey := make([]byte, 32)
	if _, err := rand.Read(sealKey); err != nil {
		t.Fatalf("generate seal key: %v", err)
	}
	wallets := wallet.NewMemoryRepository()
	svc := NewService(
		NewMemoryRepository(),
		wallets,
		custody.NewService(sealKey, "ETH"),
		collector,
		[]byte("phone-hash-key"),
		logging.Discard(),
	)
	return svc, wallets
}

func TestRegister(t *testing.T) {
	collector := &stubCollector{}
	svc, _ := newTestService(t, collector)

	user, err := svc.Register(context.Background(), "254712345678")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Status != StatusPending {
		t.Fatalf("expected pending, got %s", user.Status)
	}
	if user.HashedPhone == "" || user.HashedPhone == user.Phone {
		t.Fatal("hashed phone missing or equal to raw phone")
	}
	if collector.calls != 1 || collector.lastAmount != 1 {
		t.Fatalf("expected one nominal verification push, got calls=%d amount=%d", collector.calls, collector.lastAmount)
	}
	if !strings.HasPrefix(collector.lastRef, "VERIFY-") {
		t.Fatalf("unexpected reference %q", collector.lastRef)
	}
}

func TestRegisterInvalidPhone(t *testing.T) {
	collector := &stubCollector{}
	svc, _ := newTestService(t, collector)

	for _, phone := range []string{"0712345678", "25471234567", "2547123456789", "254812345678", "not-a-phone", ""} {
		if _, err := svc.Register(context.Background(), phone); !errors.Is(err, ErrInvalidPhone) {
			t.Errorf("phone %q: expected ErrInvalidPhone, got %v", phone, err)
		}
	}
	if collector.calls != 0 {
		t.Fatalf("provider called %d times for invalid input", collector.calls)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	svc, _ := newTestService(t, &stubCollector{})

	if _, err := svc.Register(context.Background(), "254712345678"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(context.Background(), "254712345678"); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestConfirmVerification(t *testing.T) {
	svc, wallets := newTestService(t, &stubCollector{})
	ctx := context.Background()

	user, err := svc.Register(ctx, "254712345678")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	cb := mpesa.CallbackResult{
		Succeeded:         true,
		Amount:            1,
		Receipt:           "NLJ7RT61SV",
		ProviderRequestID: user.ProviderRequestID,
	}
	handled, err := svc.ConfirmVerification(ctx, cb)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !handled {
		t.Fatal("expected callback to match the verification request")
	}

	verified, err := svc.Get(ctx, user.HashedPhone)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if verified.Status != StatusVerified {
		t.Fatalf("expected verified, got %s", verified.Status)
	}
	if verified.VerificationReceipt != "NLJ7RT61SV" {
		t.Fatalf("receipt not recorded, got %q", verified.VerificationReceipt)
	}

	w, err := wallets.GetByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("wallet not provisioned: %v", err)
	}
	if w.Balance != 0 {
		t.Fatalf("fresh wallet balance must be 0, got %d", w.Balance)
	}
	if len(w.SealedSeed) == 0 {
		t.Fatal("wallet missing sealed seed")
	}

	// Duplicate delivery leaves exactly one wallet and the same state.
	if _, err := svc.ConfirmVerification(ctx, cb); err != nil {
		t.Fatalf("duplicate confirm: %v", err)
	}
	count, _ := wallets.Count(ctx)
	if count != 1 {
		t.Fatalf("expected one wallet after duplicate callback, got %d", count)
	}
}

// flakyWalletRepository fails the first Create calls, then behaves normally.
type flakyWalletRepository struct {
	wallet.Repository
	failures int
}

func (r *flakyWalletRepository) Create(ctx context.Context, w wallet.Wallet) error {
	if r.failures > 0 {
		r.failures--
		return errors.New("storage unavailable")
	}
	return r.Repository.Create(ctx, w)
}

func TestConfirmVerificationRetriesAfterWalletFailure(t *testing.T) {
	collector := &stubCollector{}
	svc, _ := newTestService(t, collector)
	wallets := &flakyWalletRepository{Repository: wallet.NewMemoryRepository(), failures: 1}
	svc.wallets = wallets
	ctx := context.Background()

	user, err := svc.Register(ctx, "254712345678")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	cb := mpesa.CallbackResult{
		Succeeded:         true,
		Receipt:           "NLJ7RT61SV",
		ProviderRequestID: user.ProviderRequestID,
	}
	handled, err := svc.ConfirmVerification(ctx, cb)
	if !handled || err == nil {
		t.Fatalf("expected wallet storage error, got handled=%v err=%v", handled, err)
	}

	// The user must not be verified while walletless; the provider retry
	// has to be able to complete the step.
	pending, _ := svc.Get(ctx, user.HashedPhone)
	if pending.Status != StatusPending {
		t.Fatalf("expected pending after wallet failure, got %s", pending.Status)
	}
	if count, _ := wallets.Count(ctx); count != 0 {
		t.Fatalf("expected no wallet after failure, got %d", count)
	}

	if handled, err := svc.ConfirmVerification(ctx, cb); !handled || err != nil {
		t.Fatalf("retry: handled=%v err=%v", handled, err)
	}
	verified, _ := svc.Get(ctx, user.HashedPhone)
	if verified.Status != StatusVerified {
		t.Fatalf("expected verified after retry, got %s", verified.Status)
	}
	if count, _ := wallets.Count(ctx); count != 1 {
		t.Fatalf("expected exactly one wallet after retry, got %d", count)
	}
}

func TestConfirmVerificationFailure(t *testing.T) {
	svc, wallets := newTestService(t, &stubCollector{})
	ctx := context.Background()

	user, err := svc.Register(ctx, "254712345678")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	handled, err := svc.ConfirmVerification(ctx, mpesa.CallbackResult{
		Succeeded:         false,
		ResultCode:        1032,
		FailureReason:     "Request cancelled by user.",
		ProviderRequestID: user.ProviderRequestID,
	})
	if err != nil || !handled {
		t.Fatalf("confirm: handled=%v err=%v", handled, err)
	}

	failed, _ := svc.Get(ctx, user.HashedPhone)
	if failed.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", failed.Status)
	}
	if count, _ := wallets.Count(ctx); count != 0 {
		t.Fatalf("no wallet may exist for a failed verification, got %d", count)
	}

	// A late success replay for the same request must not resurrect the
	// user or provision a wallet.
	handled, err = svc.ConfirmVerification(ctx, mpesa.CallbackResult{
		Succeeded:         true,
		Receipt:           "NLJ7RT61SV",
		ProviderRequestID: user.ProviderRequestID,
	})
	if err != nil || !handled {
		t.Fatalf("replay: handled=%v err=%v", handled, err)
	}
	if still, _ := svc.Get(ctx, user.HashedPhone); still.Status != StatusFailed {
		t.Fatalf("expected failed after success replay, got %s", still.Status)
	}
	if count, _ := wallets.Count(ctx); count != 0 {
		t.Fatalf("no wallet may exist after success replay, got %d", count)
	}
}

func TestConfirmVerificationUnknownReference(t *testing.T) {
	svc, _ := newTestService(t, &stubCollector{})

	handled, err := svc.ConfirmVerification(context.Background(), mpesa.CallbackResult{
		Succeeded:         true,
		ProviderRequestID: "ws_CO_unknown",
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if handled {
		t.Fatal("unknown callback must be a no-op")
	}
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService(t, &stubCollector{})
	ctx := context.Background()

	user, err := svc.Register(ctx, "254712345678")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Login(ctx, "254712345678"); !errors.Is(err, ErrNotVerified) {
		t.Fatalf("expected ErrNotVerified before confirmation, got %v", err)
	}

	if _, err := svc.ConfirmVerification(ctx, mpesa.CallbackResult{
		Succeeded: true, ProviderRequestID: user.ProviderRequestID,
	}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	logged, err := svc.Login(ctx, "254712345678")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if logged.ID != user.ID {
		t.Fatal("login resolved the wrong user")
	}
}
