package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "quizportal/backend/internal/domain/auth"
	"quizportal/backend/internal/logging"

	"github.com/google/uuid"
)

// timingPassword is hashed once and verified against when a login names an
// unknown email, so both paths spend a hash comparison.
const timingPassword = "timing-equalisation-Pa55!"

// Deps groups the collaborators of Service.
type Deps struct {
	Users   domain.UserRepository
	Hasher  PasswordHasher
	Issuer  *TokenIssuer
	Lockout *LockoutGuard
	OneTime *OneTimeTokens
	Mailer  Mailer
	// Limiter is optional; without it issuance is never throttled.
	Limiter IssueLimiter
	Logger  logging.Logger
	// PublicURL prefixes the links sent by email.
	PublicURL string
}

// Service coordinates authentication workflows between domain and infrastructure.
type Service struct {
	users     domain.UserRepository
	hasher    PasswordHasher
	issuer    *TokenIssuer
	lockout   *LockoutGuard
	oneTime   *OneTimeTokens
	mailer    Mailer
	limiter   IssueLimiter
	log       logging.Logger
	publicURL string
	nowFunc   func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewService constructs an auth service.
func NewService(deps Deps, opts ...Option) *Service {
	o := buildOptions(opts)
	log := deps.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Service{
		users:     deps.Users,
		hasher:    deps.Hasher,
		issuer:    deps.Issuer,
		lockout:   deps.Lockout,
		oneTime:   deps.OneTime,
		mailer:    deps.Mailer,
		limiter:   deps.Limiter,
		log:       log.With("component", "auth"),
		publicURL: strings.TrimRight(deps.PublicURL, "/"),
		nowFunc:   o.now,
	}
}

// RegisterInput is the self-registration payload.
type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
}

// UpdateDetailsInput carries optional profile changes.
type UpdateDetailsInput struct {
	Name  *string `json:"name" validate:"omitempty,max=100"`
	Email *string `json:"email" validate:"omitempty,email,max=254"`
}

// UpdatePasswordInput carries a password change for an authenticated user.
type UpdatePasswordInput struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required"`
}

// Session is the result of every flow that logs a user in.
type Session struct {
	Tokens TokenPair
	User   *domain.User
}

// Register creates a student account, emails a verification link and logs the
// user in.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*Session, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = normalizeEmail(input.Email)
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if err := ValidatePassword(input.Password); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, input.Email); err == nil {
		return nil, domain.ErrEmailExists
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	hashed, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	now := s.nowFunc().UTC()
	user := &domain.User{
		ID:           uuid.NewString(),
		Name:         input.Name,
		Email:        input.Email,
		Role:         domain.RoleStudent,
		Permissions:  domain.DefaultPermissions(),
		IsActive:     true,
		PasswordHash: hashed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	s.log.Info(ctx, "user registered", "user_id", user.ID)

	s.sendVerification(ctx, user)

	return s.startSession(ctx, user)
}

// Login checks credentials. The order of checks is fixed: inactive, then locked,
// then password. Unknown emails and wrong passwords are indistinguishable.
func (s *Service) Login(ctx context.Context, creds domain.Credentials) (*Session, error) {
	email := normalizeEmail(creds.Email)
	if email == "" || creds.Password == "" {
		return nil, domain.NewValidationError("", "please provide an email and password")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.equaliseTiming(creds.Password)
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, domain.ErrAccountInactive
	}
	if s.lockout.IsLocked(user) {
		s.log.Info(ctx, "login refused, account locked", "user_id", user.ID)
		return nil, domain.ErrAccountLocked
	}

	ok, err := s.hasher.Verify(creds.Password, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		outcome, err := s.lockout.RecordFailure(ctx, user)
		if err != nil {
			return nil, err
		}
		if outcome.Locked {
			s.log.Warn(ctx, "account locked", "user_id", user.ID, "attempts", outcome.Attempts, "lock_until", outcome.LockUntil)
		} else {
			s.log.Info(ctx, "login failed", "user_id", user.ID, "attempts", outcome.Attempts)
		}
		return nil, domain.ErrInvalidCredentials
	}

	if err := s.lockout.RecordSuccess(ctx, user); err != nil {
		return nil, err
	}
	user.LoginAttempts = 0
	user.LockUntil = nil

	return s.startSession(ctx, user)
}

// Refresh rotates the presented refresh token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	pair, user, err := s.issuer.RotateOnRefresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRefreshToken) {
			s.log.Info(ctx, "refresh rejected")
		}
		return nil, err
	}
	return &Session{Tokens: pair, User: user.Sanitized()}, nil
}

// Logout revokes the refresh token of userID.
func (s *Service) Logout(ctx context.Context, userID string) error {
	return s.issuer.Revoke(ctx, userID)
}

// ForgotPassword emails a reset link when email belongs to an active account.
// It reports success for unknown addresses too; only store faults are returned.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return domain.NewValidationError("email", "is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.log.Debug(ctx, "password reset requested for unknown email")
			return nil
		}
		return err
	}
	if !user.IsActive {
		return nil
	}
	if !s.allowIssue(ctx, "reset:"+user.ID) {
		s.log.Info(ctx, "password reset throttled", "user_id", user.ID)
		return nil
	}

	token, err := s.oneTime.Issue(ctx, user, domain.TokenKindPasswordReset)
	if err != nil {
		return err
	}
	link := s.publicURL + "/resetpassword/" + token
	body := fmt.Sprintf("You requested a password reset. Use the link below within %s:\n\n%s",
		humanDuration(s.oneTime.config.ResetTTL), link)
	s.deliver(ctx, Message{
		To:      user.Email,
		Subject: "Password reset",
		Body:    body,
		Link:    link,
	})
	return nil
}

// ResetPassword redeems a reset token, replaces the password, clears any lockout
// and logs the user in.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (*Session, error) {
	if token == "" {
		return nil, domain.ErrInvalidOrExpiredToken
	}
	if err := ValidatePassword(newPassword); err != nil {
		return nil, err
	}
	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		return nil, err
	}

	user, err := s.oneTime.Consume(ctx, token, domain.TokenKindPasswordReset, domain.TokenEffect{NewPasswordHash: hashed})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "password reset", "user_id", user.ID)

	return s.startSession(ctx, user)
}

// VerifyEmail redeems a verification token.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*domain.User, error) {
	user, err := s.oneTime.Consume(ctx, token, domain.TokenKindEmailVerification, domain.TokenEffect{VerifyEmail: true})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "email verified", "user_id", user.ID)
	return user.Sanitized(), nil
}

// ResendVerification issues a fresh verification token for an unverified user.
func (s *Service) ResendVerification(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.IsEmailVerified {
		return domain.ErrAlreadyVerified
	}
	if !s.allowIssue(ctx, "verify:"+user.ID) {
		return domain.ErrTooManyRequests
	}
	s.sendVerification(ctx, user)
	return nil
}

// Authenticate resolves an access token to an active, unlocked user.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, domain.ErrUnauthorized
	}
	claims, err := s.issuer.VerifyAccessToken(token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, domain.ErrAccountInactive
	}
	if s.lockout.IsLocked(user) {
		return nil, domain.ErrAccountLocked
	}
	return user.Sanitized(), nil
}

// Me returns the current user.
func (s *Service) Me(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.Sanitized(), nil
}

// UpdateDetails changes name and email. A new email is unverified until the
// freshly mailed verification link is used. Only the profile columns are
// written, so a concurrent deactivation or verification is never undone.
func (s *Service) UpdateDetails(ctx context.Context, userID string, input UpdateDetailsInput) (*domain.User, error) {
	if input.Email != nil {
		email := normalizeEmail(*input.Email)
		input.Email = &email
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}

	current, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	name := current.Name
	if input.Name != nil {
		name = strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, domain.NewValidationError("name", "is required")
		}
	}
	email := current.Email
	if input.Email != nil && *input.Email != "" {
		email = *input.Email
	}

	if err := s.users.UpdateProfile(ctx, current.ID, name, email, s.nowFunc().UTC()); err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	if user.Email != current.Email {
		s.sendVerification(ctx, user)
	}
	return user.Sanitized(), nil
}

// UpdatePassword changes the password of an authenticated user and issues a fresh
// token pair, which also revokes the previous refresh token.
func (s *Service) UpdatePassword(ctx context.Context, userID string, input UpdatePasswordInput) (*Session, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	ok, err := s.hasher.Verify(input.CurrentPassword, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrPasswordMismatch
	}
	if input.CurrentPassword == input.NewPassword {
		return nil, domain.ErrPasswordUnchanged
	}
	if err := ValidatePassword(input.NewPassword); err != nil {
		return nil, err
	}

	hashed, err := s.hasher.Hash(input.NewPassword)
	if err != nil {
		return nil, err
	}
	now := s.nowFunc().UTC()
	if err := s.users.UpdatePassword(ctx, user.ID, hashed, now); err != nil {
		return nil, err
	}
	user.PasswordHash = hashed
	user.UpdatedAt = now
	s.log.Info(ctx, "password updated", "user_id", user.ID)

	return s.startSession(ctx, user)
}

func (s *Service) startSession(ctx context.Context, user *domain.User) (*Session, error) {
	pair, err := s.issuer.IssuePair(ctx, user)
	if err != nil {
		return nil, err
	}
	return &Session{Tokens: pair, User: user.Sanitized()}, nil
}

func (s *Service) sendVerification(ctx context.Context, user *domain.User) {
	token, err := s.oneTime.Issue(ctx, user, domain.TokenKindEmailVerification)
	if err != nil {
		s.log.Error(ctx, "issue verification token", "user_id", user.ID, "error", err)
		return
	}
	link := s.publicURL + "/verifyemail/" + token
	body := fmt.Sprintf("Confirm your email address by opening the link below within %s:\n\n%s",
		humanDuration(s.oneTime.config.VerificationTTL), link)
	s.deliver(ctx, Message{
		To:      user.Email,
		Subject: "Verify your email address",
		Body:    body,
		Link:    link,
	})
}

// deliver sends msg in the background. A failed send is logged and never
// surfaces to the caller.
func (s *Service) deliver(ctx context.Context, msg Message) {
	if s.mailer == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := s.mailer.Send(ctx, msg); err != nil {
			s.log.Error(ctx, "send email", "subject", msg.Subject, "error", err)
		}
	}()
}

// allowIssue fails open when the limiter is unavailable.
func (s *Service) allowIssue(ctx context.Context, key string) bool {
	if s.limiter == nil {
		return true
	}
	ok, err := s.limiter.Allow(ctx, key)
	if err != nil {
		s.log.Warn(ctx, "issue limiter unavailable", "error", err)
		return true
	}
	return ok
}

func (s *Service) equaliseTiming(password string) {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(timingPassword)
		if err == nil {
			s.dummyHash = hash
		}
	})
	if s.dummyHash != "" {
		_, _ = s.hasher.Verify(password, s.dummyHash)
	}
}
