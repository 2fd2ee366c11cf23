// Package storetest holds the behaviour every domain.UserRepository must show.
// Store packages run it from their own tests.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	domain "quizportal/backend/internal/domain/auth"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty repository for one subtest.
type Factory func(t *testing.T) domain.UserRepository

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// NewUser builds an active student with a unique id.
func NewUser(email string) *domain.User {
	return &domain.User{
		ID:           uuid.NewString(),
		Name:         "Test User",
		Email:        email,
		Role:         domain.RoleStudent,
		Permissions:  domain.DefaultPermissions(),
		IsActive:     true,
		PasswordHash: "hash",
		CreatedAt:    base,
		UpdatedAt:    base,
	}
}

// Run exercises the repository contract.
func Run(t *testing.T, newRepo Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newRepo(t)) })
	t.Run("DuplicateEmail", func(t *testing.T) { testDuplicateEmail(t, newRepo(t)) })
	t.Run("TargetedWritesAndList", func(t *testing.T) { testTargetedWritesAndList(t, newRepo(t)) })
	t.Run("ProfileLeavesAuthorization", func(t *testing.T) { testProfileLeavesAuthorization(t, newRepo(t)) })
	t.Run("SetActive", func(t *testing.T) { testSetActive(t, newRepo(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newRepo(t)) })
	t.Run("LockoutCounter", func(t *testing.T) { testLockoutCounter(t, newRepo(t)) })
	t.Run("ConcurrentFailures", func(t *testing.T) { testConcurrentFailures(t, newRepo(t)) })
	t.Run("RefreshSwap", func(t *testing.T) { testRefreshSwap(t, newRepo(t)) })
	t.Run("ConcurrentRefreshSwap", func(t *testing.T) { testConcurrentRefreshSwap(t, newRepo(t)) })
	t.Run("OneTimeTokens", func(t *testing.T) { testOneTimeTokens(t, newRepo(t)) })
	t.Run("ConcurrentConsume", func(t *testing.T) { testConcurrentConsume(t, newRepo(t)) })
}

func mustCreate(t *testing.T, repo domain.UserRepository, email string) *domain.User {
	t.Helper()
	u := NewUser(email)
	require.NoError(t, repo.Create(context.Background(), u))
	return u
}

func testCreateAndGet(t *testing.T, repo domain.UserRepository) {
	ctx := context.Background()
	u := mustCreate(t, repo, "a@example.com")

	byEmail, err := repo.GetByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)
	assert.Equal(t, []string{domain.PermissionRead}, byEmail.Permissions)
	assert.True(t, byEmail.IsActive)

	byID, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", byID.Email)
	assert.Equal(t, "hash", byID.PasswordHash)

	_, err = repo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	_, err = repo.GetByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func testDuplicateEmail(t *testing.T, repo domain.UserRepository) {
	mustCreate(t, repo, "dup@example.com")
	err := repo.Create(context.Background(), NewUser("dup@example.com"))
	assert.ErrorIs(t, err, domain.ErrEmailExists)
}

func markVerified(t *testing.T, repo domain.UserRepository, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.SetOneTimeToken(ctx, id, domain.TokenKindEmailVerification, "verify-"+id, base.Add(time.Hour), base))
	_, err := repo.ConsumeOneTimeToken(ctx, domain.TokenKindEmailVerification, "verify-"+id, domain.TokenEffect{VerifyEmail: true}, base)
	require.NoError(t, err)
}

func testTargetedWritesAndList(t *testing.T, repo domain.UserRepository) {
	ctx := context.Background()
	u := mustCreate(t, repo, "t@example.com")
	other := mustCreate(t, repo, "s@example.com")
	at := base.Add(time.Minute)

	require.NoError(t, repo.SetRole(ctx, u.ID, domain.RoleTeacher, at))
	require.NoError(t, repo.SetPermissions(ctx, u.ID, []string{domain.PermissionRead, "users:read"}, at))

	teachers, err := repo.List(ctx, domain.UserFilter{Role: domain.RoleTeacher})
	require.NoError(t, err)
	require.Len(t, teachers, 1)
	assert.Equal(t, u.ID, teachers[0].ID)
	assert.ElementsMatch(t, []string{domain.PermissionRead, "users:read"}, teachers[0].Permissions)
	assert.True(t, teachers[0].UpdatedAt.Equal(at))

	all, err := repo.List(ctx, domain.UserFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.ErrorIs(t, repo.UpdateProfile(ctx, other.ID, "S", "t@example.com", at), domain.ErrEmailExists)
	stored, err := repo.GetByID(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, "s@example.com", stored.Email)

	missing := uuid.NewString()
	assert.ErrorIs(t, repo.UpdateProfile(ctx, missing, "G", "ghost@example.com", at), domain.ErrUserNotFound)
	assert.ErrorIs(t, repo.SetRole(ctx, missing, domain.RoleAdmin, at), domain.ErrUserNotFound)
	assert.ErrorIs(t, repo.SetPermissions(ctx, missing, nil, at), domain.ErrUserNotFound)
	assert.ErrorIs(t, repo.SetActive(ctx, missing, false, at), domain.ErrUserNotFound)
}

func testProfileLeavesAuthorization(t *testing.T, repo domain.UserRepository) {
	ctx := context.Background()
	u := mustCreate(t, repo, "p@example.com")
	markVerified(t, repo, u.ID)
	require.NoError(t, repo.SetActive(ctx, u.ID, false, base))
	require.NoError(t, repo.SetRole(ctx, u.ID, domain.RoleAdmin, base))

	require.NoError(t, repo.UpdateProfile(ctx, u.ID, "Renamed", "p@example.com", base.Add(time.Minute)))
	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.True(t, got.IsEmailVerified)
	assert.False(t, got.IsActive)
	assert.Equal(t, domain.RoleAdmin, got.Role)

	require.NoError(t, repo.UpdateProfile(ctx, u.ID, "Renamed", "q@example.com", base.Add(2*time.Minute)))
	got, err = repo.GetByEmail(ctx, "q@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.False(t, got.IsEmailVerified)
	assert.False(t, got.IsActive)
	assert.Equal(t, domain.RoleAdmin, got.Role)

	_, err = repo.GetByEmail(ctx, "p@example.com")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func testSetActive(t *testing.T, repo domain.UserRepository) {
	ctx := context.Background()
	u := mustCreate(t, repo, "a@example.com")
	require.NoError(t, repo.SetRefreshToken(ctx, u.ID, "refresh", base.Add(time.Hour), base))

	require.NoError(t, repo.SetActive(ctx, u.ID, false, base))
	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Nil(t, got.RefreshTokenHash)
	assert.Nil(t, got.RefreshTokenExpire)

	require.NoError(t, repo.SetActive(ctx, u.ID, true, base))
	got, err = repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

func testDelete(t *testing.T, repo domain.UserRepository) {
	ctx := context.Background()
	u := mustCreate(t, repo, "d@example.com")

	require.NoError(t, repo.Delete(ctx, u.ID))
	_, err := repo.GetByID(ctx, u.ID)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, u.ID), domain.ErrUserNotFound)

	// the address is free again
	mustCreate(t, repo, "d@example.com")
}

func testLockoutCounter(t *testing.T, repo domain.UserRepository) {
	ctx := context.Background()
	u := mustCreate(t, repo, "l@example.com")
	lockUntil := base.Add(time.Hour)

	for i := 1; i <= 2; i++ {
		out, err := repo.RecordLoginFailure(ctx, u.ID, 3, lockUntil, base)
		require.NoError(t, err)
		assert.Equal(t, i, out.Attempts)
		assert.False(t, out.Locked)
		assert.Nil(t, out.LockUntil)
	}

	out, err := repo.RecordLoginFailure(ctx, u.ID, 3, lockUntil, base)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Attempts)
	assert.True(t, out.Locked)
	require.NotNil(t, out.LockUntil)
	assert.True(t, out.LockUntil.Equal(lockUntil))

	// while locked the lock is not extended
	out, err = repo.RecordLoginFailure(ctx, u.ID, 3, lockUntil.Add(time.Hour), base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 4, out.Attempts)
	assert.False(t, out.Locked)
	assert.True(t, out.LockUntil.Equal(lockUntil))

	stored, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsLocked(base))

	require.NoError(t, repo.ResetLoginFailures(ctx, u.ID, base))
	stored, err = repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.LoginAttempts)
	assert.Nil(t, stored.LockUntil)

	_, err = repo.RecordLoginFailure(ctx, uuid.NewString(), 3, lockUntil, base)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func testConcurrentFailures(t *testing.T, repo domain.UserRepository) {
	ctx := context.Background()
	u := mustCreate(t, repo, "c@example.com")
	const n = 12
	lockUntil := base.Add(time.Hour)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		locked int
		errs   []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := repo.RecordLoginFailure(ctx, u.ID, 5, lockUntil, base)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if out.Locked {
				locked++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, locked)

	stored, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, n, stored.LoginAttempts)
	require.NotNil(t, stored.LockUntil)
	assert.True(t, stored.LockUntil.Equal(lockUntil))
}

func testRefreshSwap(t *testing.T, repo domain.UserRepository) {
	ctx := context.Background()
	u := mustCreate(t, repo, "r@example.com")
	exp := base.Add(24 * time.Hour)

	require.NoError(t, repo.SetRefreshToken(ctx, u.ID, "old", exp, base))

	got, err := repo.SwapRefreshToken(ctx, "old", "new", exp, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = repo.SwapRefreshToken(ctx, "old", "newer", exp, base.Add(time.Minute))
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	// expired
	_, err = repo.SwapRefreshToken(ctx, "new", "newer", exp, exp.Add(time.Second))
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	require.NoError(t, repo.ClearRefreshToken(ctx, u.ID, base))
	_, err = repo.SwapRefreshToken(ctx, "new", "newer", exp, base)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	// inactive users cannot refresh
	require.NoError(t, repo.SetActive(ctx, u.ID, false, base))
	require.NoError(t, repo.SetRefreshToken(ctx, u.ID, "again", exp, base))
	_, err = repo.SwapRefreshToken(ctx, "again", "newer", exp, base)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func testConcurrentRefreshSwap(t *testing.T, repo domain.UserRepository) {
	ctx := context.Background()
	u := mustCreate(t, repo, "cr@example.com")
	exp := base.Add(24 * time.Hour)
	require.NoError(t, repo.SetRefreshToken(ctx, u.ID, "shared", exp, base))

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.SwapRefreshToken(ctx, "shared", uuid.NewString(), exp, base)
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func testOneTimeTokens(t *testing.T, repo domain.UserRepository) {
	ctx := context.Background()
	u := mustCreate(t, repo, "o@example.com")
	exp := base.Add(time.Hour)

	_, err := repo.RecordLoginFailure(ctx, u.ID, 1, exp, base)
	require.NoError(t, err)

	require.NoError(t, repo.SetOneTimeToken(ctx, u.ID, domain.TokenKindPasswordReset, "r1", exp, base))
	require.NoError(t, repo.SetOneTimeToken(ctx, u.ID, domain.TokenKindEmailVerification, "v1", exp, base))

	// a reset hash is not accepted as a verification token
	_, err = repo.ConsumeOneTimeToken(ctx, domain.TokenKindEmailVerification, "r1", domain.TokenEffect{VerifyEmail: true}, base)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	// reissue replaces the previous reset token
	require.NoError(t, repo.SetOneTimeToken(ctx, u.ID, domain.TokenKindPasswordReset, "r2", exp, base))
	_, err = repo.ConsumeOneTimeToken(ctx, domain.TokenKindPasswordReset, "r1", domain.TokenEffect{NewPasswordHash: "x"}, base)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	// expired
	_, err = repo.ConsumeOneTimeToken(ctx, domain.TokenKindPasswordReset, "r2", domain.TokenEffect{NewPasswordHash: "x"}, exp)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	got, err := repo.ConsumeOneTimeToken(ctx, domain.TokenKindPasswordReset, "r2", domain.TokenEffect{NewPasswordHash: "new-hash"}, base)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)
	assert.Zero(t, got.LoginAttempts)
	assert.Nil(t, got.LockUntil)
	assert.Nil(t, got.ResetPasswordTokenHash)

	_, err = repo.ConsumeOneTimeToken(ctx, domain.TokenKindPasswordReset, "r2", domain.TokenEffect{NewPasswordHash: "again"}, base)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	verified, err := repo.ConsumeOneTimeToken(ctx, domain.TokenKindEmailVerification, "v1", domain.TokenEffect{VerifyEmail: true}, base)
	require.NoError(t, err)
	assert.True(t, verified.IsEmailVerified)
	assert.Equal(t, "new-hash", verified.PasswordHash)

	stored, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.EmailVerificationTokenHash)
	assert.Nil(t, stored.EmailVerificationExpire)
}

func testConcurrentConsume(t *testing.T, repo domain.UserRepository) {
	ctx := context.Background()
	u := mustCreate(t, repo, "cc@example.com")
	require.NoError(t, repo.SetOneTimeToken(ctx, u.ID, domain.TokenKindPasswordReset, "once", base.Add(time.Hour), base))

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ConsumeOneTimeToken(ctx, domain.TokenKindPasswordReset, "once", domain.TokenEffect{NewPasswordHash: "h"}, base)
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}
