package auth

import (
	"context"
	"time"
)

// UserRepository is the credential store contract. Lookups report a missing record
// as ErrUserNotFound; any other error is a store fault.
//
// The credential-state mutations below are atomic at the store: none of them may be
// implemented as a read-modify-write in the caller.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	List(ctx context.Context, filter UserFilter) ([]*User, error)
	// UpdateProfile writes name and email. A changed email clears the verified
	// flag in the same write; no other column is touched.
	UpdateProfile(ctx context.Context, id, name, email string, now time.Time) error
	// SetRole writes only the role.
	SetRole(ctx context.Context, id string, role UserRole, now time.Time) error
	// SetPermissions replaces only the permission set.
	SetPermissions(ctx context.Context, id string, permissions []string, now time.Time) error
	// SetActive writes only the active flag. Deactivating also empties the
	// refresh slot in the same write.
	SetActive(ctx context.Context, id string, active bool, now time.Time) error
	Delete(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error

	// RecordLoginFailure increments the failed-login counter and, once the new
	// value reaches threshold while no lock is in force, sets the lock to lockUntil.
	RecordLoginFailure(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (LockoutOutcome, error)
	// ResetLoginFailures zeroes the counter and clears any lock.
	ResetLoginFailures(ctx context.Context, id string, now time.Time) error

	// SetRefreshToken overwrites the single refresh slot.
	SetRefreshToken(ctx context.Context, id, hash string, expiresAt, now time.Time) error
	// SwapRefreshToken replaces oldHash with newHash only if oldHash is still the
	// stored, unexpired value for an active user. It returns ErrUserNotFound when
	// nothing matched.
	SwapRefreshToken(ctx context.Context, oldHash, newHash string, expiresAt, now time.Time) (*User, error)
	// ClearRefreshToken empties the refresh slot.
	ClearRefreshToken(ctx context.Context, id string, now time.Time) error

	// SetOneTimeToken writes the hash and expiry pair for kind, replacing any previous pair.
	SetOneTimeToken(ctx context.Context, id string, kind TokenKind, hash string, expiresAt, now time.Time) error
	// ConsumeOneTimeToken matches a non-expired hash for kind, applies effect and
	// clears the pair in one step. It returns ErrUserNotFound when nothing matched.
	ConsumeOneTimeToken(ctx context.Context, kind TokenKind, hash string, effect TokenEffect, now time.Time) (*User, error)
}

// UserFilter allows narrowing user queries.
type UserFilter struct {
	Role UserRole
}
