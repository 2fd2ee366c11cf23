package httpserver

import (
	"errors"
	"io"
	"net/http"

	domain "quizportal/backend/internal/domain/auth"

	"github.com/goccy/go-json"
)

const maxBodyBytes = 1 << 20

// Error codes carried in the "code" field of error bodies.
const (
	codeValidation            = "VALIDATION_ERROR"
	codeEmailExists           = "EMAIL_EXISTS"
	codeInvalidCredentials    = "INVALID_CREDENTIALS"
	codeAccountLocked         = "ACCOUNT_LOCKED"
	codeAccountInactive       = "ACCOUNT_INACTIVE"
	codeTokenExpired          = "TOKEN_EXPIRED"
	codeTokenInvalid          = "TOKEN_INVALID"
	codeInvalidRefreshToken   = "INVALID_REFRESH_TOKEN"
	codeInvalidOrExpiredToken = "INVALID_OR_EXPIRED_TOKEN"
	codeUnauthorized          = "UNAUTHORIZED"
	codeForbidden             = "FORBIDDEN"
	codeTooManyRequests       = "TOO_MANY_REQUESTS"
	codeNotFound              = "NOT_FOUND"
	codeInvalidRole           = "INVALID_ROLE"
	codePasswordMismatch      = "PASSWORD_MISMATCH"
	codePasswordUnchanged     = "PASSWORD_UNCHANGED"
	codeAlreadyVerified       = "ALREADY_VERIFIED"
	codeInternal              = "INTERNAL_ERROR"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// apiError is a classified failure ready to be written.
type apiError struct {
	status  int
	code    string
	message string
}

var errorTable = []struct {
	target error
	status int
	code   string
}{
	{domain.ErrValidation, http.StatusBadRequest, codeValidation},
	{domain.ErrEmailExists, http.StatusBadRequest, codeEmailExists},
	{domain.ErrInvalidCredentials, http.StatusUnauthorized, codeInvalidCredentials},
	{domain.ErrAccountLocked, http.StatusLocked, codeAccountLocked},
	{domain.ErrAccountInactive, http.StatusForbidden, codeAccountInactive},
	{domain.ErrTokenExpired, http.StatusUnauthorized, codeTokenExpired},
	{domain.ErrTokenInvalid, http.StatusUnauthorized, codeTokenInvalid},
	{domain.ErrInvalidRefreshToken, http.StatusUnauthorized, codeInvalidRefreshToken},
	{domain.ErrInvalidOrExpiredToken, http.StatusBadRequest, codeInvalidOrExpiredToken},
	{domain.ErrUnauthorized, http.StatusUnauthorized, codeUnauthorized},
	{domain.ErrForbidden, http.StatusForbidden, codeForbidden},
	{domain.ErrTooManyRequests, http.StatusTooManyRequests, codeTooManyRequests},
	{domain.ErrUserNotFound, http.StatusNotFound, codeNotFound},
	{domain.ErrInvalidRole, http.StatusBadRequest, codeInvalidRole},
	{domain.ErrPasswordMismatch, http.StatusUnauthorized, codePasswordMismatch},
	{domain.ErrPasswordUnchanged, http.StatusBadRequest, codePasswordUnchanged},
	{domain.ErrAlreadyVerified, http.StatusBadRequest, codeAlreadyVerified},
}

// classify maps err onto the error taxonomy. Unknown errors become 500 with a
// generic message; the caller logs them.
func classify(err error) apiError {
	for _, e := range errorTable {
		if !errors.Is(err, e.target) {
			continue
		}
		message := e.target.Error()
		if e.target == domain.ErrValidation {
			message = err.Error()
		}
		return apiError{status: e.status, code: e.code, message: message}
	}
	return apiError{status: http.StatusInternalServerError, code: codeInternal, message: "internal server error"}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, e apiError) {
	writeJSON(w, e.status, errorResponse{Success: false, Error: e.message, Code: e.code})
}

// writeServiceError classifies err, logs faults and writes the response.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	if e.status == http.StatusInternalServerError {
		s.log.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, e)
}

// decodeJSON reads a required JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return domain.NewValidationError("", "request body is required")
	default:
		return domain.NewValidationError("", "invalid JSON payload")
	}
}

// decodeOptionalJSON is decodeJSON for endpoints that accept an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return domain.NewValidationError("", "invalid JSON payload")
}
