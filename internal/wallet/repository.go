package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound indicates no wallet exists for the lookup key.
	ErrNotFound = errors.New("wallet not found")

	// ErrExists indicates the user already holds a wallet for the asset.
	// Wallets are created exactly once per user per asset.
	ErrExists = errors.New("wallet already exists")
)

// Repository persists custodial wallets.
type Repository interface {
	Create(ctx context.Context, w Wallet) error
	GetByUser(ctx context.Context, userID string) (Wallet, error)
	GetByAddress(ctx context.Context, address string) (Wallet, error)
	Credit(ctx context.Context, userID string, amount int64) error
	Count(ctx context.Context) (int64, error)
}

// PostgresRepository stores wallets in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a wallet record. The user_id+asset unique index enforces
// one wallet per user per asset.
func (r *PostgresRepository) Create(ctx context.Context, w Wallet) error {
	walletID, err := uuid.Parse(w.ID)
	if err != nil {
		return err
	}
	userID, err := uuid.Parse(w.UserID)
	if err != nil {
		return err
	}
	cmd, err := r.db.Exec(ctx, `INSERT INTO wallets (id, user_id, address, sealed_seed, asset, balance, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (user_id, asset) DO NOTHING`,
		walletID, userID, w.Address, w.SealedSeed, w.Asset, w.Balance, w.CreatedAt.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrExists
	}
	return nil
}

// GetByUser fetches the wallet owned by userID.
func (r *PostgresRepository) GetByUser(ctx context.Context, userID string) (Wallet, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, user_id, address, sealed_seed, asset, balance, created_at
        FROM wallets WHERE user_id = $1`, id)
	return scanWallet(row)
}

// GetByAddress fetches a wallet by its ledger address.
func (r *PostgresRepository) GetByAddress(ctx context.Context, address string) (Wallet, error) {
	row := r.db.QueryRow(ctx, `SELECT id, user_id, address, sealed_seed, asset, balance, created_at
        FROM wallets WHERE address = $1`, address)
	return scanWallet(row)
}

// Credit atomically increments the advisory balance.
func (r *PostgresRepository) Credit(ctx context.Context, userID string, amount int64) error {
	id, err := uuid.Parse(userID)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE wallets SET balance = balance + $1 WHERE user_id = $2`, amount, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Count reports the number of provisioned wallets.
func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM wallets`).Scan(&count)
	return count, err
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w         Wallet
		id        uuid.UUID
		userID    uuid.UUID
		createdAt time.Time
	)
	if err := row.Scan(&id, &userID, &w.Address, &w.SealedSeed, &w.Asset, &w.Balance, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	w.ID = id.String()
	w.UserID = userID.String()
	w.CreatedAt = createdAt.UTC()
	return w, nil
}
