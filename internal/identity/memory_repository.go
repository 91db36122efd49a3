package identity

import (
	"context"
	"sync"
	"time"
)

type memoryRepository struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryRepository builds an in-memory user store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{users: make(map[string]User)}
}

func (r *memoryRepository) Create(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.HashedPhone == user.HashedPhone {
			return ErrDuplicatePhone
		}
	}
	r.users[user.ID] = user
	return nil
}

func (r *memoryRepository) FindByHashedPhone(_ context.Context, hashedPhone string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.HashedPhone == hashedPhone {
			return user, nil
		}
	}
	return User{}, ErrNotFound
}

func (r *memoryRepository) FindByProviderRequestID(_ context.Context, providerRequestID string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.ProviderRequestID == providerRequestID {
			return user, nil
		}
	}
	return User{}, ErrNotFound
}

func (r *memoryRepository) MarkVerified(_ context.Context, id, receipt string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok || user.Status != StatusPending {
		return false, nil
	}
	user.Status = StatusVerified
	user.VerificationReceipt = receipt
	user.VerifiedAt = at
	r.users[id] = user
	return true, nil
}

func (r *memoryRepository) MarkFailed(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok || user.Status != StatusPending {
		return false, nil
	}
	user.Status = StatusFailed
	r.users[id] = user
	return true, nil
}

func (r *memoryRepository) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.users)), nil
}

func (r *memoryRepository) CountByStatus(_ context.Context, status Status) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var count int64
	for _, user := range r.users {
		if user.Status == status {
			count++
		}
	}
	return count, nil
}
