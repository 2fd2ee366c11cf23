package token

import (
	"strings"
	"testing"
	"time"

	domain "quizportal/backend/internal/domain/auth"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var issuedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func testUser() *domain.User {
	return &domain.User{ID: "user-1", Role: domain.RoleTeacher}
}

func TestJWTManager_RoundTrip(t *testing.T) {
	now := issuedAt
	m := NewJWTManager("secret", 15*time.Minute, "quizportal", WithClock(fixedClock(&now)))

	token, err := m.Generate(testUser())
	require.NoError(t, err)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, domain.RoleTeacher, claims.Role)
	assert.True(t, claims.ExpiresAt.Equal(issuedAt.Add(15*time.Minute)))
}

func TestJWTManager_ClaimNames(t *testing.T) {
	now := issuedAt
	m := NewJWTManager("secret", time.Minute, "quizportal", WithClock(fixedClock(&now)))
	token, err := m.Generate(testUser())
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "user-1", claims["id"])
	assert.Equal(t, "teacher", claims["role"])
	assert.Equal(t, "quizportal", claims["iss"])
	assert.Equal(t, "HS256", parsed.Header["alg"])
}

func TestJWTManager_Expired(t *testing.T) {
	now := issuedAt
	m := NewJWTManager("secret", 15*time.Minute, "quizportal", WithClock(fixedClock(&now)))
	token, err := m.Generate(testUser())
	require.NoError(t, err)

	now = issuedAt.Add(15*time.Minute + time.Second)
	_, err = m.Validate(token)
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
	assert.NotErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestJWTManager_Invalid(t *testing.T) {
	now := issuedAt
	m := NewJWTManager("secret", time.Minute, "quizportal", WithClock(fixedClock(&now)))
	token, err := m.Generate(testUser())
	require.NoError(t, err)

	otherSecret := NewJWTManager("other", time.Minute, "quizportal", WithClock(fixedClock(&now)))
	otherIssuer := NewJWTManager("secret", time.Minute, "someone-else", WithClock(fixedClock(&now)))
	foreign, err := otherSecret.Generate(testUser())
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + ".AAAA" + parts[2][4:]

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"id": "user-1", "exp": now.Add(time.Hour).Unix(), "iss": "quizportal"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]struct {
		manager *JWTManager
		token   string
	}{
		"malformed":    {m, "not-a-jwt"},
		"empty":        {m, ""},
		"wrong secret": {m, foreign},
		"tampered":     {m, tampered},
		"wrong issuer": {otherIssuer, token},
		"alg none":     {m, unsigned},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := tt.manager.Validate(tt.token)
			assert.ErrorIs(t, err, domain.ErrTokenInvalid)
		})
	}
}
