package sqlite

import (
	"slices"
	"time"

	domain "quizportal/backend/internal/domain/auth"
)

type userRecord struct {
	ID              string   `gorm:"primaryKey;size:36"`
	Name            string   `gorm:"not null"`
	Email           string   `gorm:"uniqueIndex;not null"`
	Role            string   `gorm:"index;not null;default:student"`
	Permissions     []string `gorm:"serializer:json"`
	IsActive        bool     `gorm:"not null;default:true"`
	IsEmailVerified bool     `gorm:"not null;default:false"`
	PasswordHash    string   `gorm:"not null"`

	RefreshTokenHash           *string `gorm:"index"`
	RefreshTokenExpire         *time.Time
	LoginAttempts              int `gorm:"not null;default:0"`
	LockUntil                  *time.Time
	ResetPasswordTokenHash     *string `gorm:"index"`
	ResetPasswordExpire        *time.Time
	EmailVerificationTokenHash *string `gorm:"index"`
	EmailVerificationExpire    *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

func (userRecord) TableName() string { return "users" }

func toRecord(u *domain.User) *userRecord {
	return &userRecord{
		ID:                         u.ID,
		Name:                       u.Name,
		Email:                      u.Email,
		Role:                       string(u.Role),
		Permissions:                slices.Clone(u.Permissions),
		IsActive:                   u.IsActive,
		IsEmailVerified:            u.IsEmailVerified,
		PasswordHash:               u.PasswordHash,
		RefreshTokenHash:           u.RefreshTokenHash,
		RefreshTokenExpire:         u.RefreshTokenExpire,
		LoginAttempts:              u.LoginAttempts,
		LockUntil:                  u.LockUntil,
		ResetPasswordTokenHash:     u.ResetPasswordTokenHash,
		ResetPasswordExpire:        u.ResetPasswordExpire,
		EmailVerificationTokenHash: u.EmailVerificationTokenHash,
		EmailVerificationExpire:    u.EmailVerificationExpire,
		CreatedAt:                  u.CreatedAt.UTC(),
		UpdatedAt:                  u.UpdatedAt.UTC(),
	}
}

func (r *userRecord) toDomain() *domain.User {
	perms := r.Permissions
	if perms == nil {
		perms = []string{}
	}
	return &domain.User{
		ID:                         r.ID,
		Name:                       r.Name,
		Email:                      r.Email,
		Role:                       domain.UserRole(r.Role),
		Permissions:                perms,
		IsActive:                   r.IsActive,
		IsEmailVerified:            r.IsEmailVerified,
		PasswordHash:               r.PasswordHash,
		RefreshTokenHash:           r.RefreshTokenHash,
		RefreshTokenExpire:         utc(r.RefreshTokenExpire),
		LoginAttempts:              r.LoginAttempts,
		LockUntil:                  utc(r.LockUntil),
		ResetPasswordTokenHash:     r.ResetPasswordTokenHash,
		ResetPasswordExpire:        utc(r.ResetPasswordExpire),
		EmailVerificationTokenHash: r.EmailVerificationTokenHash,
		EmailVerificationExpire:    utc(r.EmailVerificationExpire),
		CreatedAt:                  r.CreatedAt.UTC(),
		UpdatedAt:                  r.UpdatedAt.UTC(),
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
