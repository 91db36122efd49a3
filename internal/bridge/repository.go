package bridge

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals that no transaction matches the lookup.
var ErrNotFound = errors.New("transaction not found")

// Repository persists transactions. Status transitions are conditional
// updates keyed on the expected prior status, so duplicate or concurrent
// finalization attempts resolve to exactly one applied mutation.
type Repository interface {
	Create(ctx context.Context, tx Transaction) error
	FindByProviderRequestID(ctx context.Context, providerRequestID string) (Transaction, error)
	// ConfirmDeposit moves a pending deposit to confirmed and credits the
	// owning wallet's advisory balance as one atomic unit. Returns false
	// when the transaction was not pending anymore.
	ConfirmDeposit(ctx context.Context, id, receipt string) (bool, error)
	// FinalizeWithdrawal moves a processing withdrawal to confirmed.
	FinalizeWithdrawal(ctx context.Context, id, receipt string) (bool, error)
	// Fail moves a non-terminal transaction to failed.
	Fail(ctx context.Context, id, reason string) (bool, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Transaction, error)
	// ProcessingWithdrawalTotal sums the amounts of a user's in-flight
	// withdrawals, used to reserve ledger balance during initiation.
	ProcessingWithdrawalTotal(ctx context.Context, userID string) (int64, error)
	Count(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context, status Status) (int64, error)
}

const selectTransaction = `
    SELECT id, user_id, kind, status, amount, asset, reference,
           COALESCE(provider_request_id, ''), COALESCE(receipt, ''),
           COALESCE(tx_hash, ''), COALESCE(destination, ''),
           COALESCE(failure_reason, ''), created_at
    FROM transactions`

// PostgresRepository stores transactions in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository constructs a Postgres-backed transaction repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, tx Transaction) error {
	const query = `
        INSERT INTO transactions
            (id, user_id, kind, status, amount, asset, reference,
             provider_request_id, receipt, tx_hash, destination,
             failure_reason, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.db.Exec(ctx, query,
		tx.ID, tx.UserID, tx.Kind, tx.Status, tx.Amount, tx.Asset, tx.Reference,
		tx.ProviderRequestID, tx.Receipt, tx.TxHash, tx.Destination,
		tx.FailureReason, tx.CreatedAt)
	return err
}

func (r *PostgresRepository) FindByProviderRequestID(ctx context.Context, providerRequestID string) (Transaction, error) {
	row := r.db.QueryRow(ctx, selectTransaction+` WHERE provider_request_id = $1`, providerRequestID)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	return tx, err
}

func (r *PostgresRepository) ConfirmDeposit(ctx context.Context, id, receipt string) (bool, error) {
	dbTx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer dbTx.Rollback(ctx) // nolint:errcheck

	const confirm = `
        UPDATE transactions SET status = 'confirmed', receipt = $2
        WHERE id = $1 AND status = 'pending'
        RETURNING user_id, amount`
	var userID string
	var amount int64
	if err := dbTx.QueryRow(ctx, confirm, id, receipt).Scan(&userID, &amount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	if _, err := dbTx.Exec(ctx, `UPDATE wallets SET balance = balance + $1 WHERE user_id = $2`, amount, userID); err != nil {
		return false, err
	}

	return true, dbTx.Commit(ctx)
}

func (r *PostgresRepository) FinalizeWithdrawal(ctx context.Context, id, receipt string) (bool, error) {
	const query = `
        UPDATE transactions SET status = 'confirmed', receipt = $2
        WHERE id = $1 AND status = 'processing'`
	tag, err := r.db.Exec(ctx, query, id, receipt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) Fail(ctx context.Context, id, reason string) (bool, error) {
	const query = `
        UPDATE transactions SET status = 'failed', failure_reason = $2
        WHERE id = $1 AND status IN ('pending', 'processing')`
	tag, err := r.db.Exec(ctx, query, id, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	rows, err := r.db.Query(ctx, selectTransaction+` WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, tx)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) ProcessingWithdrawalTotal(ctx context.Context, userID string) (int64, error) {
	const query = `
        SELECT COALESCE(SUM(amount), 0) FROM transactions
        WHERE user_id = $1 AND kind = 'withdrawal' AND status = 'processing'`
	var total int64
	err := r.db.QueryRow(ctx, query, userID).Scan(&total)
	return total, err
}

func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&count)
	return count, err
}

func (r *PostgresRepository) CountByStatus(ctx context.Context, status Status) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE status = $1`, status).Scan(&count)
	return count, err
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var tx Transaction
	err := row.Scan(&tx.ID, &tx.UserID, &tx.Kind, &tx.Status, &tx.Amount,
		&tx.Asset, &tx.Reference, &tx.ProviderRequestID, &tx.Receipt,
		&tx.TxHash, &tx.Destination, &tx.FailureReason, &tx.CreatedAt)
	return tx, err
}
