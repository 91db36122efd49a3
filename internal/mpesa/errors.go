package mpesa

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderAuth indicates the OAuth credential exchange with the
	// provider failed.
	ErrProviderAuth = errors.New("provider authentication failed")

	// ErrProviderRequest indicates a collection or disbursement request was
	// rejected by the provider or did not complete. Timed-out calls are
	// reported through this error as well, never as silent success.
	ErrProviderRequest = errors.New("provider request failed")

	// ErrCallbackForgery indicates a hardened-mode callback signature did not
	// verify. The callback's business effect must not be processed.
	ErrCallbackForgery = errors.New("callback signature mismatch")
)

// ProviderError carries the provider's raw error payload for logging. Its
// Error string stays generic; callers surface only normalized messages and
// log the payload separately.
type ProviderError struct {
	Op      string
	Status  int
	Payload string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: provider returned status %d", e.Op, e.Status)
}

func (e *ProviderError) Unwrap() error {
	if e.Op == "token exchange" {
		return ErrProviderAuth
	}
	return ErrProviderRequest
}
