package sqlite

import (
	"context"
	"errors"
	"time"

	domain "quizportal/backend/internal/domain/auth"

	"gorm.io/gorm"
)

// maxCASRetries bounds the compare-and-swap loop of RecordLoginFailure.
const maxCASRetries = 8

var errCASConflict = errors.New("concurrent update")

// UserRepository implements domain.UserRepository on GORM. Credential-state
// changes are compare-and-swap updates guarded by the value that was read.
type UserRepository struct {
	db *gorm.DB
}

var _ domain.UserRepository = (*UserRepository)(nil)

// NewUserRepository creates the repository.
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	err := r.db.WithContext(ctx).Create(toRecord(user)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrEmailExists
	}
	return err
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var rec userRecord
	if err := r.db.WithContext(ctx).First(&rec, "email = ?", email).Error; err != nil {
		return nil, notFound(err)
	}
	return rec.toDomain(), nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var rec userRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return rec.toDomain(), nil
}

func (r *UserRepository) List(ctx context.Context, filter domain.UserFilter) ([]*domain.User, error) {
	q := r.db.WithContext(ctx).Model(&userRecord{})
	if filter.Role != "" {
		q = q.Where("role = ?", string(filter.Role))
	}
	var recs []userRecord
	if err := q.Order("created_at DESC").Order("id").Find(&recs).Error; err != nil {
		return nil, err
	}
	users := make([]*domain.User, 0, len(recs))
	for i := range recs {
		users = append(users, recs[i].toDomain())
	}
	return users, nil
}

// UpdateProfile writes name and email; the verified flag is cleared in the same
// statement when the stored email differs.
func (r *UserRepository) UpdateProfile(ctx context.Context, id, name, email string, now time.Time) error {
	err := r.updateByID(ctx, id, map[string]any{
		"name":              name,
		"email":             email,
		"is_email_verified": gorm.Expr("CASE WHEN email = ? THEN is_email_verified ELSE ? END", email, false),
		"updated_at":        now.UTC(),
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrEmailExists
	}
	return err
}

func (r *UserRepository) SetRole(ctx context.Context, id string, role domain.UserRole, now time.Time) error {
	return r.updateByID(ctx, id, map[string]any{
		"role":       string(role),
		"updated_at": now.UTC(),
	})
}

// SetPermissions goes through the struct path so the json serializer applies.
func (r *UserRepository) SetPermissions(ctx context.Context, id string, permissions []string, now time.Time) error {
	if permissions == nil {
		permissions = []string{}
	}
	res := r.db.WithContext(ctx).
		Model(&userRecord{ID: id}).
		Select("permissions", "updated_at").
		Updates(&userRecord{Permissions: permissions, UpdatedAt: now.UTC()})
	if res.Error != nil {
		return res.Error
	}
	return affected(res)
}

func (r *UserRepository) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	values := map[string]any{
		"is_active":  active,
		"updated_at": now.UTC(),
	}
	if !active {
		values["refresh_token_hash"] = nil
		values["refresh_token_expire"] = nil
	}
	return r.updateByID(ctx, id, values)
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&userRecord{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	return affected(res)
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	return r.updateByID(ctx, id, map[string]any{
		"password_hash": passwordHash,
		"updated_at":    updatedAt.UTC(),
	})
}

func (r *UserRepository) RecordLoginFailure(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (domain.LockoutOutcome, error) {
	var out domain.LockoutOutcome
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var rec userRecord
			if err := tx.Select("id", "login_attempts", "lock_until").First(&rec, "id = ?", id).Error; err != nil {
				return notFound(err)
			}

			attempts := rec.LoginAttempts + 1
			lock := rec.LockUntil
			locked := false
			if attempts >= threshold && (lock == nil || !lock.After(now)) {
				lu := lockUntil.UTC()
				lock = &lu
				locked = true
			}

			res := tx.Model(&userRecord{}).
				Where("id = ? AND login_attempts = ?", id, rec.LoginAttempts).
				Updates(map[string]any{
					"login_attempts": attempts,
					"lock_until":     lock,
					"updated_at":     now.UTC(),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errCASConflict
			}
			out = domain.LockoutOutcome{Attempts: attempts, LockUntil: utc(lock), Locked: locked}
			return nil
		})
		if !errors.Is(err, errCASConflict) {
			return out, err
		}
	}
	return domain.LockoutOutcome{}, errCASConflict
}

func (r *UserRepository) ResetLoginFailures(ctx context.Context, id string, now time.Time) error {
	return r.updateByID(ctx, id, map[string]any{
		"login_attempts": 0,
		"lock_until":     nil,
		"updated_at":     now.UTC(),
	})
}

func (r *UserRepository) SetRefreshToken(ctx context.Context, id, hash string, expiresAt, now time.Time) error {
	return r.updateByID(ctx, id, map[string]any{
		"refresh_token_hash":   hash,
		"refresh_token_expire": expiresAt.UTC(),
		"updated_at":           now.UTC(),
	})
}

func (r *UserRepository) SwapRefreshToken(ctx context.Context, oldHash, newHash string, expiresAt, now time.Time) (*domain.User, error) {
	var user *domain.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec userRecord
		if err := tx.First(&rec, "refresh_token_hash = ?", oldHash).Error; err != nil {
			return notFound(err)
		}
		if !rec.IsActive || rec.RefreshTokenExpire == nil || !rec.RefreshTokenExpire.After(now) {
			return domain.ErrUserNotFound
		}

		exp := expiresAt.UTC()
		res := tx.Model(&userRecord{}).
			Where("id = ? AND refresh_token_hash = ?", rec.ID, oldHash).
			Updates(map[string]any{
				"refresh_token_hash":   newHash,
				"refresh_token_expire": exp,
				"updated_at":           now.UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrUserNotFound
		}

		rec.RefreshTokenHash = &newHash
		rec.RefreshTokenExpire = &exp
		rec.UpdatedAt = now.UTC()
		user = rec.toDomain()
		return nil
	})
	return user, err
}

func (r *UserRepository) ClearRefreshToken(ctx context.Context, id string, now time.Time) error {
	return r.updateByID(ctx, id, map[string]any{
		"refresh_token_hash":   nil,
		"refresh_token_expire": nil,
		"updated_at":           now.UTC(),
	})
}

func (r *UserRepository) SetOneTimeToken(ctx context.Context, id string, kind domain.TokenKind, hash string, expiresAt, now time.Time) error {
	hashCol, expCol := tokenColumns(kind)
	return r.updateByID(ctx, id, map[string]any{
		hashCol:      hash,
		expCol:       expiresAt.UTC(),
		"updated_at": now.UTC(),
	})
}

func (r *UserRepository) ConsumeOneTimeToken(ctx context.Context, kind domain.TokenKind, hash string, effect domain.TokenEffect, now time.Time) (*domain.User, error) {
	hashCol, expCol := tokenColumns(kind)

	var user *domain.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec userRecord
		if err := tx.First(&rec, hashCol+" = ?", hash).Error; err != nil {
			return notFound(err)
		}
		expire := rec.ResetPasswordExpire
		if kind == domain.TokenKindEmailVerification {
			expire = rec.EmailVerificationExpire
		}
		if expire == nil || !expire.After(now) {
			return domain.ErrUserNotFound
		}

		updates := map[string]any{
			hashCol:      nil,
			expCol:       nil,
			"updated_at": now.UTC(),
		}
		if effect.NewPasswordHash != "" {
			updates["password_hash"] = effect.NewPasswordHash
			updates["login_attempts"] = 0
			updates["lock_until"] = nil
			rec.PasswordHash = effect.NewPasswordHash
			rec.LoginAttempts = 0
			rec.LockUntil = nil
		}
		if effect.VerifyEmail {
			updates["is_email_verified"] = true
			rec.IsEmailVerified = true
		}

		res := tx.Model(&userRecord{}).Where("id = ? AND "+hashCol+" = ?", rec.ID, hash).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrUserNotFound
		}

		if kind == domain.TokenKindPasswordReset {
			rec.ResetPasswordTokenHash, rec.ResetPasswordExpire = nil, nil
		} else {
			rec.EmailVerificationTokenHash, rec.EmailVerificationExpire = nil, nil
		}
		rec.UpdatedAt = now.UTC()
		user = rec.toDomain()
		return nil
	})
	return user, err
}

func (r *UserRepository) updateByID(ctx context.Context, id string, values map[string]any) error {
	res := r.db.WithContext(ctx).Model(&userRecord{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	return affected(res)
}

func tokenColumns(kind domain.TokenKind) (hashCol, expCol string) {
	if kind == domain.TokenKindPasswordReset {
		return "reset_password_token_hash", "reset_password_expire"
	}
	return "email_verification_token_hash", "email_verification_expire"
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrUserNotFound
	}
	return err
}

func affected(res *gorm.DB) error {
	if res.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
