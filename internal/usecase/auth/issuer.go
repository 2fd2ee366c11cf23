package auth

import (
	"context"
	"errors"
	"time"

	domain "quizportal/backend/internal/domain/auth"
)

// IssuerConfig holds the refresh-token lifetime. The access-token lifetime belongs
// to the TokenManager.
type IssuerConfig struct {
	RefreshTTL time.Duration
}

// TokenIssuer mints access tokens and manages the single refresh-token slot of
// each user.
type TokenIssuer struct {
	users      domain.UserRepository
	tokens     TokenManager
	refreshTTL time.Duration
	nowFunc    func() time.Time
}

// NewTokenIssuer constructs an issuer.
func NewTokenIssuer(users domain.UserRepository, tokens TokenManager, cfg IssuerConfig, opts ...Option) *TokenIssuer {
	o := buildOptions(opts)
	return &TokenIssuer{
		users:      users,
		tokens:     tokens,
		refreshTTL: cfg.RefreshTTL,
		nowFunc:    o.now,
	}
}

// IssueAccessToken signs a short-lived bearer token for user.
func (i *TokenIssuer) IssueAccessToken(user *domain.User) (string, error) {
	return i.tokens.Generate(user)
}

// IssueRefreshToken stores the hash of a fresh refresh token, overwriting any
// previous one, and returns the plaintext.
func (i *TokenIssuer) IssueRefreshToken(ctx context.Context, user *domain.User) (string, error) {
	plaintext, hash, err := newOpaqueToken()
	if err != nil {
		return "", err
	}
	now := i.nowFunc().UTC()
	if err := i.users.SetRefreshToken(ctx, user.ID, hash, now.Add(i.refreshTTL), now); err != nil {
		return "", err
	}
	return plaintext, nil
}

// IssuePair issues a refresh token and an access token for user.
func (i *TokenIssuer) IssuePair(ctx context.Context, user *domain.User) (TokenPair, error) {
	refresh, err := i.IssueRefreshToken(ctx, user)
	if err != nil {
		return TokenPair{}, err
	}
	access, err := i.IssueAccessToken(user)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccessToken checks signature and expiry.
func (i *TokenIssuer) VerifyAccessToken(token string) (AccessClaims, error) {
	return i.tokens.Validate(token)
}

// RotateOnRefresh exchanges a refresh token for a new pair. The presented token is
// invalidated even though it was valid; a second use fails.
func (i *TokenIssuer) RotateOnRefresh(ctx context.Context, presented string) (TokenPair, *domain.User, error) {
	if presented == "" {
		return TokenPair{}, nil, domain.ErrInvalidRefreshToken
	}

	plaintext, newHash, err := newOpaqueToken()
	if err != nil {
		return TokenPair{}, nil, err
	}

	now := i.nowFunc().UTC()
	user, err := i.users.SwapRefreshToken(ctx, HashToken(presented), newHash, now.Add(i.refreshTTL), now)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return TokenPair{}, nil, domain.ErrInvalidRefreshToken
		}
		return TokenPair{}, nil, err
	}

	access, err := i.IssueAccessToken(user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return TokenPair{AccessToken: access, RefreshToken: plaintext}, user, nil
}

// Revoke empties the refresh slot of user.
func (i *TokenIssuer) Revoke(ctx context.Context, userID string) error {
	return i.users.ClearRefreshToken(ctx, userID, i.nowFunc().UTC())
}
