package user

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	domain "quizportal/backend/internal/domain/auth"
	"quizportal/backend/internal/logging"
)

// Service provides user management use cases for administrative workflows.
type Service struct {
	repo    domain.UserRepository
	log     logging.Logger
	nowFunc func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.nowFunc = now }
}

// NewService constructs a user service around the provided repository.
func NewService(repo domain.UserRepository, log logging.Logger, opts ...Option) *Service {
	if log == nil {
		log = logging.Nop()
	}
	s := &Service{
		repo:    repo,
		log:     log.With("component", "users"),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Filter captures supported filters for listing users.
type Filter struct {
	Role string
}

// List returns users matching the supplied filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]*domain.User, error) {
	domainFilter := domain.UserFilter{}
	if trimmed := strings.TrimSpace(filter.Role); trimmed != "" {
		role, err := ensureRole(trimmed)
		if err != nil {
			return nil, err
		}
		domainFilter.Role = role
	}

	users, err := s.repo.List(ctx, domainFilter)
	if err != nil {
		return nil, err
	}
	return sanitizeUsers(users), nil
}

// Get retrieves a single user by its identifier.
func (s *Service) Get(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return user.Sanitized(), nil
}

// UpdateRole assigns one of the closed set of roles.
func (s *Service) UpdateRole(ctx context.Context, id, rawRole string) (*domain.User, error) {
	role, err := ensureRole(rawRole)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, id, func(id string, now time.Time) error {
		return s.repo.SetRole(ctx, id, role, now)
	})
}

// SetPermissions replaces the capability list. Blank and duplicate entries are dropped.
func (s *Service) SetPermissions(ctx context.Context, id string, permissions []string) (*domain.User, error) {
	cleaned := make([]string, 0, len(permissions))
	for _, p := range permissions {
		p = strings.TrimSpace(p)
		if p == "" || slices.Contains(cleaned, p) {
			continue
		}
		cleaned = append(cleaned, p)
	}
	return s.write(ctx, id, func(id string, now time.Time) error {
		return s.repo.SetPermissions(ctx, id, cleaned, now)
	})
}

// SetActive activates or deactivates an account. Deactivation also revokes the
// refresh token so the user cannot mint new access tokens.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (*domain.User, error) {
	user, err := s.write(ctx, id, func(id string, now time.Time) error {
		return s.repo.SetActive(ctx, id, active, now)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "account status changed", "user_id", user.ID, "active", active)
	return user, nil
}

// Unlock clears a lockout before it expires.
func (s *Service) Unlock(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.write(ctx, id, func(id string, now time.Time) error {
		return s.repo.ResetLoginFailures(ctx, id, now)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "account unlocked", "user_id", user.ID)
	return user, nil
}

// Delete removes the target user.
func (s *Service) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.NewValidationError("id", "is required")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info(ctx, "user deleted", "user_id", id)
	return nil
}

func (s *Service) load(ctx context.Context, id string) (*domain.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.NewValidationError("id", "is required")
	}
	return s.repo.GetByID(ctx, id)
}

// write runs a single targeted store write and returns the record as stored.
func (s *Service) write(ctx context.Context, id string, apply func(id string, now time.Time) error) (*domain.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.NewValidationError("id", "is required")
	}
	if err := apply(id, s.nowFunc().UTC()); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func ensureRole(raw string) (domain.UserRole, error) {
	role := domain.UserRole(strings.TrimSpace(strings.ToLower(raw)))
	if !role.Valid() {
		return "", domain.ErrInvalidRole
	}
	return role, nil
}

func sanitizeUsers(items []*domain.User) []*domain.User {
	out := make([]*domain.User, 0, len(items))
	for _, item := range items {
		out = append(out, item.Sanitized())
	}
	return out
}

// IsNotFound reports whether err means the user does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrUserNotFound)
}
