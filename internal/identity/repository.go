package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates no user exists for the lookup key.
var ErrNotFound = errors.New("user not found")

// ErrDuplicatePhone indicates the hashed phone is already registered.
var ErrDuplicatePhone = errors.New("phone already registered")

// Repository persists users. Status transitions are conditional updates so
// replayed callbacks can never move a user out of a terminal state.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByHashedPhone(ctx context.Context, hashedPhone string) (User, error)
	FindByProviderRequestID(ctx context.Context, providerRequestID string) (User, error)
	MarkVerified(ctx context.Context, id, receipt string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context, status Status) (int64, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new user. The hashed_phone unique index enforces one
// user per phone number.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	cmd, err := r.db.Exec(ctx, `INSERT INTO users
        (id, phone, hashed_phone, status, verification_reference, provider_request_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (hashed_phone) DO NOTHING`,
		userID, user.Phone, user.HashedPhone, string(user.Status),
		user.VerificationReference, user.ProviderRequestID, user.CreatedAt.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrDuplicatePhone
	}
	return nil
}

// FindByHashedPhone fetches a user by the hashed phone lookup key.
func (r *PostgresRepository) FindByHashedPhone(ctx context.Context, hashedPhone string) (User, error) {
	row := r.db.QueryRow(ctx, selectUser+` WHERE hashed_phone = $1`, hashedPhone)
	return scanUser(row)
}

// FindByProviderRequestID fetches the user whose verification push carries
// the provider correlation id.
func (r *PostgresRepository) FindByProviderRequestID(ctx context.Context, providerRequestID string) (User, error) {
	row := r.db.QueryRow(ctx, selectUser+` WHERE provider_request_id = $1`, providerRequestID)
	return scanUser(row)
}

// MarkVerified transitions pending -> verified. Returns false when the user
// was not pending, which makes duplicate callback deliveries no-ops.
func (r *PostgresRepository) MarkVerified(ctx context.Context, id, receipt string, at time.Time) (bool, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return false, err
	}
	cmd, err := r.db.Exec(ctx, `UPDATE users
        SET status = $1, verification_receipt = $2, verified_at = $3
        WHERE id = $4 AND status = $5`,
		string(StatusVerified), receipt, at.UTC(), userID, string(StatusPending))
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// MarkFailed transitions pending -> failed under the same guard.
func (r *PostgresRepository) MarkFailed(ctx context.Context, id string) (bool, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return false, err
	}
	cmd, err := r.db.Exec(ctx, `UPDATE users SET status = $1 WHERE id = $2 AND status = $3`,
		string(StatusFailed), userID, string(StatusPending))
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// Count reports the number of registered users.
func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// CountByStatus reports the number of users in a verification state.
func (r *PostgresRepository) CountByStatus(ctx context.Context, status Status) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE status = $1`, string(status)).Scan(&count)
	return count, err
}

const selectUser = `SELECT id, phone, hashed_phone, status, verification_reference,
    provider_request_id, COALESCE(verification_receipt, ''), COALESCE(verified_at, 'epoch'::timestamptz), created_at
    FROM users`

func scanUser(row pgx.Row) (User, error) {
	var (
		user       User
		id         uuid.UUID
		status     string
		verifiedAt time.Time
		createdAt  time.Time
	)
	if err := row.Scan(&id, &user.Phone, &user.HashedPhone, &status,
		&user.VerificationReference, &user.ProviderRequestID,
		&user.VerificationReceipt, &verifiedAt, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	user.ID = id.String()
	user.Status = Status(status)
	user.VerifiedAt = verifiedAt.UTC()
	user.CreatedAt = createdAt.UTC()
	return user, nil
}
