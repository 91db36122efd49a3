package ledgerrpc

// SeedBalance credits an address on the in-memory ledger. Intended for
// tests only; the HTTP-backed ledger is credited by real deposits.
func SeedBalance(l Ledger, address string, amount int64) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.balances[address] += amount
	}
}
