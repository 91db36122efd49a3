package ledgerrpc

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Method != "ledger_getBalance" {
			t.Errorf("unexpected method %q", req.Method)
		}
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": "2500"})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	balance, err := client.Balance(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 2500 {
		t.Fatalf("expected 2500, got %d", balance)
	}
}

func TestClientSubmitRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": 1,
			"error": map[string]any{"code": -32000, "message": "nonce too low"},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	if _, err := client.SubmitTransaction(context.Background(), []byte("tx")); !errors.Is(err, ErrBroadcastRejected) {
		t.Fatalf("expected ErrBroadcastRejected, got %v", err)
	}
}

func TestClientUnreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	if _, err := client.Balance(context.Background(), "0xabc"); !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
}

func TestInMemoryTransfer(t *testing.T) {
	ledger := NewInMemory()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	SeedBalance(ledger, "0xfrom", 1_000)

	signed, err := SignTransfer(priv, Transfer{From: "0xfrom", To: "0xto", Amount: 400, Nonce: "n1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	hash, err := ledger.SubmitTransaction(context.Background(), signed)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if hash == "" {
		t.Fatal("expected transaction hash")
	}

	from, _ := ledger.Balance(context.Background(), "0xfrom")
	to, _ := ledger.Balance(context.Background(), "0xto")
	if from != 600 || to != 400 {
		t.Fatalf("unexpected balances from=%d to=%d", from, to)
	}

	// Same nonce replays return the original hash without moving value.
	replay, err := ledger.SubmitTransaction(context.Background(), signed)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay != hash {
		t.Fatal("replay produced a different hash")
	}
	from, _ = ledger.Balance(context.Background(), "0xfrom")
	if from != 600 {
		t.Fatalf("replay moved value, from=%d", from)
	}
}

func TestInMemoryRejectsBadSignature(t *testing.T) {
	ledger := NewInMemory()
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	SeedBalance(ledger, "0xfrom", 1_000)

	signed, err := SignTransfer(priv, Transfer{From: "0xfrom", To: "0xto", Amount: 400, Nonce: "n1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	var envelope signedEnvelope
	if err := json.Unmarshal(signed, &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	envelope.Transfer.Amount = 999
	tampered, _ := json.Marshal(envelope)

	if _, err := ledger.SubmitTransaction(context.Background(), tampered); !errors.Is(err, ErrBroadcastRejected) {
		t.Fatalf("expected ErrBroadcastRejected, got %v", err)
	}
}
