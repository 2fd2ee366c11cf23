package auth

import (
	"time"

	domain "quizportal/backend/internal/domain/auth"
)

// TokenManager abstracts signed access-token issuance and verification.
type TokenManager interface {
	Generate(user *domain.User) (string, error)
	// Validate returns domain.ErrTokenExpired for expired tokens and
	// domain.ErrTokenInvalid for anything else that fails verification.
	Validate(token string) (AccessClaims, error)
}

// AccessClaims is the identity carried by a verified access token.
type AccessClaims struct {
	UserID    string
	Role      domain.UserRole
	ExpiresAt time.Time
}

// TokenPair is handed to the client after login, registration, refresh and reset.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
