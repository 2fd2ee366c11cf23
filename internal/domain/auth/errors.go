package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials indicates a login failure. It never says which half was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout is in force.
	ErrAccountLocked = errors.New("account temporarily locked due to too many failed login attempts")
	// ErrAccountInactive is returned for deactivated accounts.
	ErrAccountInactive = errors.New("account is deactivated")
	// ErrEmailExists signals a duplicate email registration.
	ErrEmailExists = errors.New("email already registered")
	// ErrTokenExpired means an access token was well formed but is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid means a supplied access token cannot be validated.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrInvalidRefreshToken is terminal: the client has to log in again.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrInvalidOrExpiredToken covers every reset/verification token failure.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrUnauthorized means no usable identity is attached to the request.
	ErrUnauthorized = errors.New("not authorized to access this route")
	// ErrForbidden means the identity lacks the required role or permission.
	ErrForbidden = errors.New("insufficient privileges")
	// ErrTooManyRequests is returned when token issuance is throttled.
	ErrTooManyRequests = errors.New("too many requests, try again later")
	// ErrUserNotFound indicates missing user.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidRole indicates the provided role is not supported.
	ErrInvalidRole = errors.New("invalid role")
	// ErrPasswordMismatch indicates the current password is incorrect.
	ErrPasswordMismatch = errors.New("current password does not match")
	// ErrPasswordUnchanged indicates the new password matches the current one.
	ErrPasswordUnchanged = errors.New("new password must be different from current password")
	// ErrAlreadyVerified is returned when verification is requested twice.
	ErrAlreadyVerified = errors.New("email already verified")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
)

// ValidationError reports malformed or policy-violating input.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrValidation) match any validation failure.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
