package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "quizportal/backend/internal/domain/auth"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const userColumns = `id, name, email, role, permissions, is_active, is_email_verified, password_hash,
refresh_token_hash, refresh_token_expire, login_attempts, lock_until,
reset_password_token_hash, reset_password_expire,
email_verification_token_hash, email_verification_expire,
created_at, updated_at`

// UserRepository persists users in PostgreSQL. Every credential-state change is a
// single UPDATE statement so concurrent requests cannot lose updates.
type UserRepository struct {
	db DBTX
}

var _ domain.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a repository.
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user record.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
INSERT INTO users (id, name, email, role, permissions, is_active, is_email_verified, password_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`
	_, err := r.db.Exec(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		string(user.Role),
		permissionsOrEmpty(user.Permissions),
		user.IsActive,
		user.IsEmailVerified,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrEmailExists
		}
		return err
	}
	return nil
}

// GetByEmail fetches a user by email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.queryUser(ctx, query, email)
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.queryUser(ctx, query, id)
}

// List returns users matching the provided filter, newest first.
func (r *UserRepository) List(ctx context.Context, filter domain.UserFilter) ([]*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	args := []any{}
	if filter.Role != "" {
		query += ` WHERE role = $1`
		args = append(args, string(filter.Role))
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []*domain.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// UpdateProfile writes name and email. The verified flag is cleared in the same
// statement when the stored email differs, so concurrent writers of other
// columns are never overwritten.
func (r *UserRepository) UpdateProfile(ctx context.Context, id, name, email string, now time.Time) error {
	const query = `
UPDATE users
SET name = $2,
    email = $3,
    is_email_verified = CASE WHEN email = $3 THEN is_email_verified ELSE FALSE END,
    updated_at = $4
WHERE id = $1
`
	tag, err := r.db.Exec(ctx, query, id, name, email, now)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrEmailExists
		}
		return err
	}
	return rowsAffected(tag)
}

// SetRole writes the role column.
func (r *UserRepository) SetRole(ctx context.Context, id string, role domain.UserRole, now time.Time) error {
	const query = `UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, string(role), now)
	if err != nil {
		return err
	}
	return rowsAffected(tag)
}

// SetPermissions replaces the permissions array.
func (r *UserRepository) SetPermissions(ctx context.Context, id string, permissions []string, now time.Time) error {
	const query = `UPDATE users SET permissions = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, permissionsOrEmpty(permissions), now)
	if err != nil {
		return err
	}
	return rowsAffected(tag)
}

// SetActive writes the active flag and empties the refresh slot on deactivation.
func (r *UserRepository) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	const query = `
UPDATE users
SET is_active = $2::boolean,
    refresh_token_hash = CASE WHEN $2::boolean THEN refresh_token_hash ELSE NULL END,
    refresh_token_expire = CASE WHEN $2::boolean THEN refresh_token_expire ELSE NULL END,
    updated_at = $3
WHERE id = $1
`
	tag, err := r.db.Exec(ctx, query, id, active, now)
	if err != nil {
		return err
	}
	return rowsAffected(tag)
}

// Delete removes a user.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM users WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	return rowsAffected(tag)
}

// UpdatePassword replaces the password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, passwordHash, updatedAt)
	if err != nil {
		return err
	}
	return rowsAffected(tag)
}

// RecordLoginFailure increments the counter and sets the lock in one statement.
// The row lock taken by the CTE lets the statement compare against the lock that
// was in force before it ran.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (domain.LockoutOutcome, error) {
	const query = `
WITH prev AS (
    SELECT id, lock_until FROM users WHERE id = $1 FOR UPDATE
)
UPDATE users AS u
SET login_attempts = u.login_attempts + 1,
    lock_until = CASE
        WHEN u.login_attempts + 1 >= $2::int AND (u.lock_until IS NULL OR u.lock_until <= $4::timestamptz)
        THEN $3::timestamptz
        ELSE u.lock_until
    END,
    updated_at = $4
FROM prev
WHERE u.id = prev.id
RETURNING u.login_attempts, u.lock_until, (u.lock_until IS DISTINCT FROM prev.lock_until) AS locked
`
	var out domain.LockoutOutcome
	err := r.db.QueryRow(ctx, query, id, threshold, lockUntil, now).Scan(&out.Attempts, &out.LockUntil, &out.Locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LockoutOutcome{}, domain.ErrUserNotFound
		}
		return domain.LockoutOutcome{}, err
	}
	return out, nil
}

// ResetLoginFailures zeroes the counter and clears the lock.
func (r *UserRepository) ResetLoginFailures(ctx context.Context, id string, now time.Time) error {
	const query = `UPDATE users SET login_attempts = 0, lock_until = NULL, updated_at = $2 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		return err
	}
	return rowsAffected(tag)
}

// SetRefreshToken overwrites the refresh slot.
func (r *UserRepository) SetRefreshToken(ctx context.Context, id, hash string, expiresAt, now time.Time) error {
	const query = `
UPDATE users SET refresh_token_hash = $2, refresh_token_expire = $3, updated_at = $4 WHERE id = $1
`
	tag, err := r.db.Exec(ctx, query, id, hash, expiresAt, now)
	if err != nil {
		return err
	}
	return rowsAffected(tag)
}

// SwapRefreshToken rotates the refresh hash only when oldHash is still current.
func (r *UserRepository) SwapRefreshToken(ctx context.Context, oldHash, newHash string, expiresAt, now time.Time) (*domain.User, error) {
	query := `
UPDATE users SET refresh_token_hash = $2, refresh_token_expire = $3, updated_at = $4
WHERE refresh_token_hash = $1 AND refresh_token_expire > $4 AND is_active
RETURNING ` + userColumns
	return r.queryUser(ctx, query, oldHash, newHash, expiresAt, now)
}

// ClearRefreshToken empties the refresh slot.
func (r *UserRepository) ClearRefreshToken(ctx context.Context, id string, now time.Time) error {
	const query = `
UPDATE users SET refresh_token_hash = NULL, refresh_token_expire = NULL, updated_at = $2 WHERE id = $1
`
	tag, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		return err
	}
	return rowsAffected(tag)
}

// SetOneTimeToken writes the hash and expiry for kind.
func (r *UserRepository) SetOneTimeToken(ctx context.Context, id string, kind domain.TokenKind, hash string, expiresAt, now time.Time) error {
	cols, err := tokenColumnsFor(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE users SET %s = $2, %s = $3, updated_at = $4 WHERE id = $1`, cols.hash, cols.expire)
	tag, err := r.db.Exec(ctx, query, id, hash, expiresAt, now)
	if err != nil {
		return err
	}
	return rowsAffected(tag)
}

// ConsumeOneTimeToken applies effect and clears the token in the statement that
// matches it, so a token is redeemed at most once.
func (r *UserRepository) ConsumeOneTimeToken(ctx context.Context, kind domain.TokenKind, hash string, effect domain.TokenEffect, now time.Time) (*domain.User, error) {
	cols, err := tokenColumnsFor(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
UPDATE users
SET password_hash = COALESCE($3::text, password_hash),
    login_attempts = CASE WHEN $3::text IS NULL THEN login_attempts ELSE 0 END,
    lock_until = CASE WHEN $3::text IS NULL THEN lock_until ELSE NULL END,
    is_email_verified = is_email_verified OR $4::boolean,
    %[1]s = NULL,
    %[2]s = NULL,
    updated_at = $2
WHERE %[1]s = $1 AND %[2]s > $2
RETURNING `+userColumns, cols.hash, cols.expire)

	var newHash *string
	if effect.NewPasswordHash != "" {
		newHash = &effect.NewPasswordHash
	}
	return r.queryUser(ctx, query, hash, now, newHash, effect.VerifyEmail)
}

type tokenColumns struct {
	hash   string
	expire string
}

func tokenColumnsFor(kind domain.TokenKind) (tokenColumns, error) {
	switch kind {
	case domain.TokenKindPasswordReset:
		return tokenColumns{hash: "reset_password_token_hash", expire: "reset_password_expire"}, nil
	case domain.TokenKindEmailVerification:
		return tokenColumns{hash: "email_verification_token_hash", expire: "email_verification_expire"}, nil
	default:
		return tokenColumns{}, fmt.Errorf("unknown token kind %d", kind)
	}
}

func (r *UserRepository) queryUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		user domain.User
		role string
	)
	if err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&role,
		&user.Permissions,
		&user.IsActive,
		&user.IsEmailVerified,
		&user.PasswordHash,
		&user.RefreshTokenHash,
		&user.RefreshTokenExpire,
		&user.LoginAttempts,
		&user.LockUntil,
		&user.ResetPasswordTokenHash,
		&user.ResetPasswordExpire,
		&user.EmailVerificationTokenHash,
		&user.EmailVerificationExpire,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	user.Role = domain.UserRole(role)
	if user.Permissions == nil {
		user.Permissions = []string{}
	}
	return &user, nil
}

func permissionsOrEmpty(perms []string) []string {
	if perms == nil {
		return []string{}
	}
	return perms
}

func rowsAffected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
