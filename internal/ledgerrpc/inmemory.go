package ledgerrpc

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
)

type inMemoryLedger struct {
	mu       sync.RWMutex
	balances map[string]int64
	applied  map[string]string
}

// NewInMemory creates a concurrency-safe in-memory ledger node useful for
// unit tests. It verifies transfer signatures and moves balances the way the
// real node would.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		balances: make(map[string]int64),
		applied:  make(map[string]string),
	}
}

func (l *inMemoryLedger) Balance(_ context.Context, address string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[address], nil
}

func (l *inMemoryLedger) SubmitTransaction(_ context.Context, signedTx []byte) (string, error) {
	var envelope signedEnvelope
	if err := json.Unmarshal(signedTx, &envelope); err != nil {
		return "", fmt.Errorf("decode transaction: %w", ErrBroadcastRejected)
	}

	payload, err := json.Marshal(envelope.Transfer)
	if err != nil {
		return "", fmt.Errorf("encode transfer: %w", ErrBroadcastRejected)
	}
	if len(envelope.PublicKey) != ed25519.PublicKeySize ||
		!ed25519.Verify(ed25519.PublicKey(envelope.PublicKey), payload, envelope.Signature) {
		return "", fmt.Errorf("invalid signature: %w", ErrBroadcastRejected)
	}
	if envelope.Transfer.Amount <= 0 {
		return "", fmt.Errorf("non-positive amount: %w", ErrBroadcastRejected)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if hash, exists := l.applied[envelope.Transfer.Nonce]; exists {
		return hash, nil
	}
	if l.balances[envelope.Transfer.From] < envelope.Transfer.Amount {
		return "", fmt.Errorf("insufficient ledger balance: %w", ErrBroadcastRejected)
	}

	l.balances[envelope.Transfer.From] -= envelope.Transfer.Amount
	l.balances[envelope.Transfer.To] += envelope.Transfer.Amount

	sum := sha256.Sum256(signedTx)
	hash := "0x" + hex.EncodeToString(sum[:])
	l.applied[envelope.Transfer.Nonce] = hash
	return hash, nil
}
