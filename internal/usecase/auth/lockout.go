package auth

import (
	"context"
	"time"

	domain "quizportal/backend/internal/domain/auth"
)

// LockoutConfig sets how many consecutive failures lock an account and for how long.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

// LockoutGuard tracks failed logins through atomic store updates.
type LockoutGuard struct {
	users   domain.UserRepository
	config  LockoutConfig
	nowFunc func() time.Time
}

// NewLockoutGuard constructs a guard.
func NewLockoutGuard(users domain.UserRepository, cfg LockoutConfig, opts ...Option) *LockoutGuard {
	o := buildOptions(opts)
	return &LockoutGuard{users: users, config: cfg, nowFunc: o.now}
}

// IsLocked reports whether user is locked right now.
func (g *LockoutGuard) IsLocked(user *domain.User) bool {
	return user.IsLocked(g.nowFunc())
}

// RecordFailure counts one failed login and locks the account once the threshold
// is reached.
func (g *LockoutGuard) RecordFailure(ctx context.Context, user *domain.User) (domain.LockoutOutcome, error) {
	now := g.nowFunc().UTC()
	return g.users.RecordLoginFailure(ctx, user.ID, g.config.Threshold, now.Add(g.config.Duration), now)
}

// RecordSuccess zeroes the counter and clears the lock.
func (g *LockoutGuard) RecordSuccess(ctx context.Context, user *domain.User) error {
	return g.users.ResetLoginFailures(ctx, user.ID, g.nowFunc().UTC())
}
