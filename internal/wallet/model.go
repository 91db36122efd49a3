package wallet

import "time"

// Wallet is a custodial ledger identity. The sealed seed is opaque to
// storage; plaintext signing material never touches this package. Balance
// is advisory only, reconciled from deposit confirmations; the ledger node
// is authoritative.
type Wallet struct {
	ID         string
	UserID     string
	Address    string
	SealedSeed []byte
	Asset      string
	Balance    int64
	CreatedAt  time.Time
}
