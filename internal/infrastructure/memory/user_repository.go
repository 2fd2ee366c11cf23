// Package memory is an in-process credential store for development and tests.
// Every mutation holds one mutex, which makes each repository method atomic.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	domain "quizportal/backend/internal/domain/auth"
)

// UserRepository stores users in maps keyed by id and email.
type UserRepository struct {
	mu      sync.Mutex
	byID    map[string]*domain.User
	byEmail map[string]string
}

var _ domain.UserRepository = (*UserRepository)(nil)

// NewUserRepository returns an empty store.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[string]*domain.User),
		byEmail: make(map[string]string),
	}
}

func (r *UserRepository) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[user.Email]; taken {
		return domain.ErrEmailExists
	}
	r.byID[user.ID] = clone(user)
	r.byEmail[user.Email] = user.ID
	return nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return clone(r.byID[id]), nil
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return clone(u), nil
}

func (r *UserRepository) List(_ context.Context, filter domain.UserFilter) ([]*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]*domain.User, 0, len(r.byID))
	for _, u := range r.byID {
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		users = append(users, clone(u))
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return users, nil
}

func (r *UserRepository) UpdateProfile(_ context.Context, id, name, email string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	if email != u.Email {
		if _, taken := r.byEmail[email]; taken {
			return domain.ErrEmailExists
		}
		delete(r.byEmail, u.Email)
		r.byEmail[email] = id
		u.Email = email
		u.IsEmailVerified = false
	}
	u.Name = name
	u.UpdatedAt = now
	return nil
}

func (r *UserRepository) SetRole(_ context.Context, id string, role domain.UserRole, now time.Time) error {
	return r.mutate(id, func(u *domain.User) {
		u.Role = role
		u.UpdatedAt = now
	})
}

func (r *UserRepository) SetPermissions(_ context.Context, id string, permissions []string, now time.Time) error {
	return r.mutate(id, func(u *domain.User) {
		u.Permissions = slices.Clone(permissions)
		u.UpdatedAt = now
	})
}

func (r *UserRepository) SetActive(_ context.Context, id string, active bool, now time.Time) error {
	return r.mutate(id, func(u *domain.User) {
		u.IsActive = active
		if !active {
			u.RefreshTokenHash = nil
			u.RefreshTokenExpire = nil
		}
		u.UpdatedAt = now
	})
}

func (r *UserRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	delete(r.byEmail, u.Email)
	delete(r.byID, id)
	return nil
}

func (r *UserRepository) UpdatePassword(_ context.Context, id, passwordHash string, updatedAt time.Time) error {
	return r.mutate(id, func(u *domain.User) {
		u.PasswordHash = passwordHash
		u.UpdatedAt = updatedAt
	})
}

func (r *UserRepository) RecordLoginFailure(_ context.Context, id string, threshold int, lockUntil, now time.Time) (domain.LockoutOutcome, error) {
	var out domain.LockoutOutcome
	err := r.mutate(id, func(u *domain.User) {
		u.LoginAttempts++
		out.Attempts = u.LoginAttempts
		if u.LoginAttempts >= threshold && !u.IsLocked(now) {
			u.LockUntil = timePtr(lockUntil)
			out.Locked = true
		}
		out.LockUntil = copyTime(u.LockUntil)
		u.UpdatedAt = now
	})
	return out, err
}

func (r *UserRepository) ResetLoginFailures(_ context.Context, id string, now time.Time) error {
	return r.mutate(id, func(u *domain.User) {
		if u.LoginAttempts == 0 && u.LockUntil == nil {
			return
		}
		u.LoginAttempts = 0
		u.LockUntil = nil
		u.UpdatedAt = now
	})
}

func (r *UserRepository) SetRefreshToken(_ context.Context, id, hash string, expiresAt, now time.Time) error {
	return r.mutate(id, func(u *domain.User) {
		u.RefreshTokenHash = &hash
		u.RefreshTokenExpire = timePtr(expiresAt)
		u.UpdatedAt = now
	})
}

func (r *UserRepository) SwapRefreshToken(_ context.Context, oldHash, newHash string, expiresAt, now time.Time) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.byID {
		if u.RefreshTokenHash == nil || *u.RefreshTokenHash != oldHash {
			continue
		}
		if !u.IsActive || u.RefreshTokenExpire == nil || !u.RefreshTokenExpire.After(now) {
			return nil, domain.ErrUserNotFound
		}
		u.RefreshTokenHash = &newHash
		u.RefreshTokenExpire = timePtr(expiresAt)
		u.UpdatedAt = now
		return clone(u), nil
	}
	return nil, domain.ErrUserNotFound
}

func (r *UserRepository) ClearRefreshToken(_ context.Context, id string, now time.Time) error {
	return r.mutate(id, func(u *domain.User) {
		u.RefreshTokenHash = nil
		u.RefreshTokenExpire = nil
		u.UpdatedAt = now
	})
}

func (r *UserRepository) SetOneTimeToken(_ context.Context, id string, kind domain.TokenKind, hash string, expiresAt, now time.Time) error {
	return r.mutate(id, func(u *domain.User) {
		h, exp := slot(u, kind)
		*h = &hash
		*exp = timePtr(expiresAt)
		u.UpdatedAt = now
	})
}

func (r *UserRepository) ConsumeOneTimeToken(_ context.Context, kind domain.TokenKind, hash string, effect domain.TokenEffect, now time.Time) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.byID {
		h, exp := slot(u, kind)
		if *h == nil || **h != hash {
			continue
		}
		if *exp == nil || !(*exp).After(now) {
			return nil, domain.ErrUserNotFound
		}

		if effect.NewPasswordHash != "" {
			u.PasswordHash = effect.NewPasswordHash
			u.LoginAttempts = 0
			u.LockUntil = nil
		}
		if effect.VerifyEmail {
			u.IsEmailVerified = true
		}
		*h = nil
		*exp = nil
		u.UpdatedAt = now
		return clone(u), nil
	}
	return nil, domain.ErrUserNotFound
}

func (r *UserRepository) mutate(id string, fn func(u *domain.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	fn(u)
	return nil
}

func slot(u *domain.User, kind domain.TokenKind) (**string, **time.Time) {
	if kind == domain.TokenKindPasswordReset {
		return &u.ResetPasswordTokenHash, &u.ResetPasswordExpire
	}
	return &u.EmailVerificationTokenHash, &u.EmailVerificationExpire
}

func clone(u *domain.User) *domain.User {
	out := *u
	out.Permissions = slices.Clone(u.Permissions)
	out.RefreshTokenHash = copyString(u.RefreshTokenHash)
	out.RefreshTokenExpire = copyTime(u.RefreshTokenExpire)
	out.LockUntil = copyTime(u.LockUntil)
	out.ResetPasswordTokenHash = copyString(u.ResetPasswordTokenHash)
	out.ResetPasswordExpire = copyTime(u.ResetPasswordExpire)
	out.EmailVerificationTokenHash = copyString(u.EmailVerificationTokenHash)
	out.EmailVerificationExpire = copyTime(u.EmailVerificationExpire)
	return &out
}

func timePtr(t time.Time) *time.Time { return &t }

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
