package bridge

import (
	"context"
	"sort"
	"sync"

	"github.com/pesabridge/pesabridge/internal/wallet"
)

type memoryRepository struct {
	mu      sync.RWMutex
	txs     map[string]Transaction
	wallets wallet.Repository
}

// NewMemoryRepository returns an in-memory transaction repository backed by
// the given wallet repository for deposit credits. Intended for tests.
func NewMemoryRepository(wallets wallet.Repository) Repository {
	return &memoryRepository{txs: make(map[string]Transaction), wallets: wallets}
}

func (r *memoryRepository) Create(_ context.Context, tx Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs[tx.ID] = tx
	return nil
}

func (r *memoryRepository) FindByProviderRequestID(_ context.Context, providerRequestID string) (Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tx := range r.txs {
		if tx.ProviderRequestID == providerRequestID {
			return tx, nil
		}
	}
	return Transaction{}, ErrNotFound
}

func (r *memoryRepository) ConfirmDeposit(ctx context.Context, id, receipt string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok || tx.Status != StatusPending {
		return false, nil
	}
	if err := r.wallets.Credit(ctx, tx.UserID, tx.Amount); err != nil {
		return false, err
	}
	tx.Status = StatusConfirmed
	tx.Receipt = receipt
	r.txs[id] = tx
	return true, nil
}

func (r *memoryRepository) FinalizeWithdrawal(_ context.Context, id, receipt string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok || tx.Status != StatusProcessing {
		return false, nil
	}
	tx.Status = StatusConfirmed
	tx.Receipt = receipt
	r.txs[id] = tx
	return true, nil
}

func (r *memoryRepository) Fail(_ context.Context, id, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok || tx.Status.Terminal() {
		return false, nil
	}
	tx.Status = StatusFailed
	tx.FailureReason = reason
	r.txs[id] = tx
	return true, nil
}

func (r *memoryRepository) ListByUser(_ context.Context, userID string, limit int) ([]Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var list []Transaction
	for _, tx := range r.txs {
		if tx.UserID == userID {
			list = append(list, tx)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (r *memoryRepository) ProcessingWithdrawalTotal(_ context.Context, userID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total int64
	for _, tx := range r.txs {
		if tx.UserID == userID && tx.Kind == KindWithdrawal && tx.Status == StatusProcessing {
			total += tx.Amount
		}
	}
	return total, nil
}

func (r *memoryRepository) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.txs)), nil
}

func (r *memoryRepository) CountByStatus(_ context.Context, status Status) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var count int64
	for _, tx := range r.txs {
		if tx.Status == status {
			count++
		}
	}
	return count, nil
}
