package custody

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return NewService(key, "ETH")
}

func TestProvisionWallet(t *testing.T) {
	svc := newTestService(t)

	provisioned, err := svc.ProvisionWallet()
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if !ValidAddress(provisioned.Address) {
		t.Fatalf("derived address %q is not valid", provisioned.Address)
	}
	if provisioned.Asset != "ETH" {
		t.Fatalf("unexpected asset %q", provisioned.Asset)
	}

	seed, err := svc.OpenSeed(provisioned.SealedSeed)
	if err != nil {
		t.Fatalf("open seed: %v", err)
	}
	if AddressFromSeed(seed) != provisioned.Address {
		t.Fatal("address is not deterministic from the sealed seed")
	}
}

func TestProvisionWalletUniqueness(t *testing.T) {
	svc := newTestService(t)

	first, err := svc.ProvisionWallet()
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	second, err := svc.ProvisionWallet()
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if first.Address == second.Address {
		t.Fatal("two provisioned wallets share an address")
	}
	if bytes.Equal(first.SealedSeed, second.SealedSeed) {
		t.Fatal("two provisioned wallets share sealed material")
	}
}

func TestValidAddress(t *testing.T) {
	cases := map[string]bool{
		"0x1234567890abcdef1234567890abcdef12345678": true,
		"0X1234567890abcdef1234567890abcdef12345678": false,
		"1234567890abcdef1234567890abcdef12345678":   false,
		"0xzzzz567890abcdef1234567890abcdef12345678": false,
		"0x1234": false,
		"":       false,
	}
	for input, want := range cases {
		if got := ValidAddress(input); got != want {
			t.Errorf("ValidAddress(%q) = %v, want %v", input, got, want)
		}
	}
}
