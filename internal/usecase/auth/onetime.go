package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "quizportal/backend/internal/domain/auth"
)

// OneTimeConfig holds per-kind token lifetimes.
type OneTimeConfig struct {
	ResetTTL        time.Duration
	VerificationTTL time.Duration
}

// OneTimeTokens issues and consumes password-reset and email-verification tokens.
// Only the hash and expiry of a token are ever stored.
type OneTimeTokens struct {
	users   domain.UserRepository
	config  OneTimeConfig
	nowFunc func() time.Time
}

// NewOneTimeTokens constructs the manager.
func NewOneTimeTokens(users domain.UserRepository, cfg OneTimeConfig, opts ...Option) *OneTimeTokens {
	o := buildOptions(opts)
	return &OneTimeTokens{users: users, config: cfg, nowFunc: o.now}
}

func (m *OneTimeTokens) ttl(kind domain.TokenKind) (time.Duration, error) {
	switch kind {
	case domain.TokenKindPasswordReset:
		return m.config.ResetTTL, nil
	case domain.TokenKindEmailVerification:
		return m.config.VerificationTTL, nil
	default:
		return 0, fmt.Errorf("unknown token kind %d", kind)
	}
}

// humanDuration renders d in the largest whole unit, e.g. "1 hour" or "30 minutes".
func humanDuration(d time.Duration) string {
	units := []struct {
		size time.Duration
		name string
	}{
		{24 * time.Hour, "day"},
		{time.Hour, "hour"},
		{time.Minute, "minute"},
	}
	for _, u := range units {
		if d >= u.size && d%u.size == 0 {
			n := int64(d / u.size)
			if n == 1 {
				return "1 " + u.name
			}
			return fmt.Sprintf("%d %ss", n, u.name)
		}
	}
	return d.String()
}

// Issue replaces any outstanding token of kind for user and returns the plaintext.
func (m *OneTimeTokens) Issue(ctx context.Context, user *domain.User, kind domain.TokenKind) (string, error) {
	ttl, err := m.ttl(kind)
	if err != nil {
		return "", err
	}
	plaintext, hash, err := newOpaqueToken()
	if err != nil {
		return "", err
	}
	now := m.nowFunc().UTC()
	if err := m.users.SetOneTimeToken(ctx, user.ID, kind, hash, now.Add(ttl), now); err != nil {
		return "", err
	}
	return plaintext, nil
}

// Consume redeems a token of kind, applying effect. Wrong, expired, replayed and
// unknown tokens all fail with domain.ErrInvalidOrExpiredToken.
func (m *OneTimeTokens) Consume(ctx context.Context, plaintext string, kind domain.TokenKind, effect domain.TokenEffect) (*domain.User, error) {
	if plaintext == "" {
		return nil, domain.ErrInvalidOrExpiredToken
	}
	if _, err := m.ttl(kind); err != nil {
		return nil, err
	}

	user, err := m.users.ConsumeOneTimeToken(ctx, kind, HashToken(plaintext), effect, m.nowFunc().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidOrExpiredToken
		}
		return nil, err
	}
	return user, nil
}
