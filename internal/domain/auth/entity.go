package auth

import (
	"slices"
	"time"
)

// UserRole identifies the privileges assigned to a user.
type UserRole string

const (
	// RoleStudent is assigned to every newly registered account.
	RoleStudent UserRole = "student"
	// RoleTeacher can author and review question banks.
	RoleTeacher UserRole = "teacher"
	// RoleAdmin represents an administrative user.
	RoleAdmin UserRole = "admin"
)

// Valid reports whether the role belongs to the closed role set.
func (r UserRole) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

const (
	// PermissionRead is granted at registration.
	PermissionRead = "read"
	// PermissionAdmin overrides every permission check.
	PermissionAdmin = "admin"
)

// DefaultPermissions returns the capability set given to new accounts.
func DefaultPermissions() []string {
	return []string{PermissionRead}
}

// User models the credential record persisted by the credential store.
type User struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Role            UserRole  `json:"role"`
	Permissions     []string  `json:"permissions"`
	IsActive        bool      `json:"isActive"`
	IsEmailVerified bool      `json:"isEmailVerified"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`

	PasswordHash               string     `json:"-"`
	RefreshTokenHash           *string    `json:"-"`
	RefreshTokenExpire         *time.Time `json:"-"`
	LoginAttempts              int        `json:"-"`
	LockUntil                  *time.Time `json:"-"`
	ResetPasswordTokenHash     *string    `json:"-"`
	ResetPasswordExpire        *time.Time `json:"-"`
	EmailVerificationTokenHash *string    `json:"-"`
	EmailVerificationExpire    *time.Time `json:"-"`
}

// IsLocked reports whether a lock is in force at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockUntil != nil && u.LockUntil.After(now)
}

// HasRole reports whether the user's role is one of roles.
func (u *User) HasRole(roles ...UserRole) bool {
	return slices.Contains(roles, u.Role)
}

// HasAnyPermission reports whether the user holds at least one of perms, or the
// admin override permission.
func (u *User) HasAnyPermission(perms ...string) bool {
	if slices.Contains(u.Permissions, PermissionAdmin) {
		return true
	}
	for _, p := range perms {
		if slices.Contains(u.Permissions, p) {
			return true
		}
	}
	return false
}

// Sanitized returns a copy stripped of every secret-bearing field.
func (u *User) Sanitized() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.Permissions = slices.Clone(u.Permissions)
	out.PasswordHash = ""
	out.RefreshTokenHash = nil
	out.RefreshTokenExpire = nil
	out.ResetPasswordTokenHash = nil
	out.ResetPasswordExpire = nil
	out.EmailVerificationTokenHash = nil
	out.EmailVerificationExpire = nil
	return &out
}

// Credentials captures raw credential input for login.
type Credentials struct {
	Email    string
	Password string
}

// TokenKind selects one of the independent one-time token slots on a user.
type TokenKind int

const (
	TokenKindPasswordReset TokenKind = iota + 1
	TokenKindEmailVerification
)

func (k TokenKind) String() string {
	switch k {
	case TokenKindPasswordReset:
		return "password_reset"
	case TokenKindEmailVerification:
		return "email_verification"
	default:
		return "unknown"
	}
}

// TokenEffect is applied by the store in the same atomic step that consumes a
// one-time token.
type TokenEffect struct {
	// NewPasswordHash replaces the password hash and clears lockout state.
	NewPasswordHash string
	// VerifyEmail marks the address as verified.
	VerifyEmail bool
}

// LockoutOutcome reports the counter state after a failed login was recorded.
type LockoutOutcome struct {
	Attempts  int
	LockUntil *time.Time
	// Locked is true only for the failure that put the lock in place.
	Locked bool
}
