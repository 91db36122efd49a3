package wallet

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu     sync.RWMutex
	byUser map[string]Wallet
	byAddr map[string]string
}

// NewMemoryRepository builds an in-memory wallet store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		byUser: make(map[string]Wallet),
		byAddr: make(map[string]string),
	}
}

func (r *memoryRepository) Create(_ context.Context, w Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byUser[w.UserID]; exists {
		return ErrExists
	}
	r.byUser[w.UserID] = w
	r.byAddr[w.Address] = w.UserID
	return nil
}

func (r *memoryRepository) GetByUser(_ context.Context, userID string) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.byUser[userID]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return w, nil
}

func (r *memoryRepository) GetByAddress(_ context.Context, address string) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.byAddr[address]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return r.byUser[userID], nil
}

func (r *memoryRepository) Credit(_ context.Context, userID string, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.byUser[userID]
	if !ok {
		return ErrNotFound
	}
	w.Balance += amount
	r.byUser[userID] = w
	return nil
}

func (r *memoryRepository) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.byUser)), nil
}
