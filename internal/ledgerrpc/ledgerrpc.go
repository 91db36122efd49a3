package ledgerrpc

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrLedgerUnavailable indicates the ledger node could not be reached or
// returned a transport-level failure.
var ErrLedgerUnavailable = errors.New("ledger unavailable")

// ErrBroadcastRejected indicates the node refused a submitted transaction.
var ErrBroadcastRejected = errors.New("broadcast rejected")

// Ledger is the contract for the external ledger node. Balances reported
// here are authoritative; wallet records only cache them advisorily.
// SubmitTransaction acceptance means the node took the transaction for
// broadcast, not that it reached chain finality.
type Ledger interface {
	Balance(ctx context.Context, address string) (int64, error)
	SubmitTransaction(ctx context.Context, signedTx []byte) (string, error)
}

// Transfer is the value movement payload signed by the custodial key.
type Transfer struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
	Nonce  string `json:"nonce"`
}

type signedEnvelope struct {
	Transfer  Transfer `json:"transfer"`
	PublicKey []byte   `json:"public_key"`
	Signature []byte   `json:"signature"`
}

// SignTransfer serializes and signs a transfer with the custodial private
// key, producing the raw bytes SubmitTransaction expects.
func SignTransfer(priv ed25519.PrivateKey, transfer Transfer) ([]byte, error) {
	payload, err := json.Marshal(transfer)
	if err != nil {
		return nil, fmt.Errorf("encode transfer: %w", err)
	}
	envelope := signedEnvelope{
		Transfer:  transfer,
		PublicKey: priv.Public().(ed25519.PublicKey),
		Signature: ed25519.Sign(priv, payload),
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode signed transfer: %w", err)
	}
	return raw, nil
}
