package auth

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUser_IsLocked(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Minute)
	past := now.Add(-time.Second)

	assert.False(t, (&User{}).IsLocked(now))
	assert.True(t, (&User{LockUntil: &future}).IsLocked(now))
	assert.False(t, (&User{LockUntil: &past}).IsLocked(now))
	assert.False(t, (&User{LockUntil: &now}).IsLocked(now), "lock ends exactly at LockUntil")
}

func TestUser_HasRole(t *testing.T) {
	u := &User{Role: RoleStudent}
	assert.True(t, u.HasRole(RoleStudent, RoleTeacher))
	assert.False(t, u.HasRole(RoleAdmin))
	assert.False(t, u.HasRole())
}

func TestUser_HasAnyPermission(t *testing.T) {
	tests := []struct {
		name  string
		held  []string
		want  []string
		allow bool
	}{
		{"holds one", []string{"read"}, []string{"write", "read"}, true},
		{"holds none", []string{"read"}, []string{"write"}, false},
		{"admin override", []string{"admin"}, []string{"users:delete"}, true},
		{"empty set", nil, []string{"read"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			u := &User{Permissions: tc.held}
			assert.Equal(t, tc.allow, u.HasAnyPermission(tc.want...))
		})
	}
}

func TestUser_SanitizedDropsSecrets(t *testing.T) {
	hash := "abc"
	exp := time.Now()
	u := &User{
		ID:                     "u1",
		PasswordHash:           "$2a$10$...",
		RefreshTokenHash:       &hash,
		RefreshTokenExpire:     &exp,
		ResetPasswordTokenHash: &hash,
		Permissions:            []string{"read"},
	}
	s := u.Sanitized()
	assert.Equal(t, "u1", s.ID)
	assert.Empty(t, s.PasswordHash)
	assert.Nil(t, s.RefreshTokenHash)
	assert.Nil(t, s.ResetPasswordTokenHash)

	s.Permissions[0] = "changed"
	assert.Equal(t, "read", u.Permissions[0], "sanitized copy must not alias the record")
}

func TestValidationError_MatchesSentinel(t *testing.T) {
	err := fmt.Errorf("register: %w", NewValidationError("password", "too short"))
	assert.True(t, errors.Is(err, ErrValidation))

	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Equal(t, "password: too short", verr.Error())
}

func TestUserRole_Valid(t *testing.T) {
	assert.True(t, RoleTeacher.Valid())
	assert.False(t, UserRole("owner").Valid())
}
