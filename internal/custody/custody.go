package custody

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"

	"golang.org/x/crypto/sha3"

	"github.com/pesabridge/pesabridge/internal/vault"
)

const seedSize = 32

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Provisioned carries the public outputs of wallet provisioning. The seed
// leaves this package only inside the sealed blob.
type Provisioned struct {
	Address    string
	SealedSeed []byte
	Asset      string
}

// Service generates custodial signing material and guards the single
// controlled decrypt path for it.
type Service struct {
	sealKey []byte
	asset   string
}

// NewService builds a custody service sealing seeds under the system key.
func NewService(sealKey []byte, asset string) *Service {
	return &Service{sealKey: sealKey, asset: asset}
}

// ProvisionWallet draws fresh seed material, derives the ledger address and
// returns the seed sealed under the system key. The raw seed is zeroed
// before returning and is never logged.
func (s *Service) ProvisionWallet() (Provisioned, error) {
	seed := make([]byte, seedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return Provisioned{}, fmt.Errorf("draw seed: %w", err)
	}
	defer vault.Zero(seed)

	address := AddressFromSeed(seed)
	sealed, err := vault.Seal(seed, s.sealKey)
	if err != nil {
		return Provisioned{}, fmt.Errorf("seal seed: %w", err)
	}

	return Provisioned{Address: address, SealedSeed: sealed, Asset: s.asset}, nil
}

// OpenSeed decrypts a sealed seed for transient use inside a transfer. The
// caller must zero the returned slice as soon as signing is done.
func (s *Service) OpenSeed(sealed []byte) ([]byte, error) {
	return vault.Open(sealed, s.sealKey)
}

// KeyFromSeed derives the deterministic signing key for a seed.
func KeyFromSeed(seed []byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(seed)
}

// AddressFromSeed derives the ledger address: the last 20 bytes of the
// Keccak-256 digest of the public key, hex encoded with an 0x prefix.
func AddressFromSeed(seed []byte) string {
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	digest := sha3.NewLegacyKeccak256()
	digest.Write(pub)
	sum := digest.Sum(nil)
	return "0x" + hex.EncodeToString(sum[len(sum)-20:])
}

// ValidAddress reports whether s is a syntactically valid ledger address.
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}
