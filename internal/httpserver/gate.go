package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	domain "quizportal/backend/internal/domain/auth"
)

type ctxKeyUser struct{}

// tokenSource records where a presented access token came from.
type tokenSource int

const (
	sourceNone tokenSource = iota
	sourceHeader
	sourceCookie
)

func (s tokenSource) String() string {
	switch s {
	case sourceHeader:
		return "header"
	case sourceCookie:
		return "cookie"
	default:
		return "none"
	}
}

// presentedToken is the access token extracted from a request.
type presentedToken struct {
	value  string
	source tokenSource
}

// gateResult is the outcome of evaluating a request's credentials. Exactly one
// of user and rejection is set.
type gateResult struct {
	token     presentedToken
	user      *domain.User
	rejection *apiError
	fault     error
}

// extractToken prefers the Authorization bearer header and falls back to the
// access-token cookie.
func extractToken(r *http.Request) presentedToken {
	if token := extractBearerToken(r.Header.Get("Authorization")); token != "" {
		return presentedToken{value: token, source: sourceHeader}
	}
	if c, err := r.Cookie(accessCookieName); err == nil && c.Value != "" {
		return presentedToken{value: c.Value, source: sourceCookie}
	}
	return presentedToken{source: sourceNone}
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// evaluate runs the credential checks shared by protect and optionalAuth.
func (s *Server) evaluate(r *http.Request) gateResult {
	token := extractToken(r)
	if token.source == sourceNone {
		return gateResult{token: token, rejection: &apiError{
			status:  http.StatusUnauthorized,
			code:    codeUnauthorized,
			message: domain.ErrUnauthorized.Error(),
		}}
	}

	user, err := s.authService.Authenticate(r.Context(), token.value)
	if err != nil {
		rejection := gateRejection(err)
		result := gateResult{token: token, rejection: &rejection}
		if rejection.status == http.StatusInternalServerError {
			result.fault = err
		}
		return result
	}
	return gateResult{token: token, user: user}
}

// gateRejection classifies an authentication failure. A lock seen by the gate
// is an authentication failure, so it is reported as 401 rather than 423.
func gateRejection(err error) apiError {
	if errors.Is(err, domain.ErrAccountLocked) {
		return apiError{status: http.StatusUnauthorized, code: codeAccountLocked, message: domain.ErrAccountLocked.Error()}
	}
	return classify(err)
}

// protect rejects requests without a valid access token for an active,
// unlocked user and attaches that user to the request context.
func (s *Server) protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := s.evaluate(r)
		if result.rejection != nil {
			if result.fault != nil {
				s.log.Error(r.Context(), "authentication failed", "path", r.URL.Path, "error", result.fault)
			} else {
				s.log.Debug(r.Context(), "request rejected", "path", r.URL.Path, "code", result.rejection.code, "source", result.token.source.String())
			}
			writeError(w, *result.rejection)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), result.user)))
	})
}

// optionalAuth attaches the user when valid credentials are present and lets
// every request through.
func (s *Server) optionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := s.evaluate(r)
		if result.fault != nil {
			s.log.Warn(r.Context(), "optional authentication failed", "path", r.URL.Path, "error", result.fault)
		}
		if result.user != nil {
			r = r.WithContext(withUser(r.Context(), result.user))
		}
		next.ServeHTTP(w, r)
	})
}

// authorize admits only users whose role is one of roles. It must run after protect.
func authorize(roles ...domain.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := currentUserFromContext(r.Context())
			if !ok {
				writeError(w, apiError{status: http.StatusUnauthorized, code: codeUnauthorized, message: domain.ErrUnauthorized.Error()})
				return
			}
			if !user.HasRole(roles...) {
				writeError(w, apiError{
					status:  http.StatusForbidden,
					code:    codeForbidden,
					message: fmt.Sprintf("user role %s is not authorized to access this route", user.Role),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// checkPermission admits users holding any of perms. The admin permission
// satisfies every check.
func checkPermission(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := currentUserFromContext(r.Context())
			if !ok {
				writeError(w, apiError{status: http.StatusUnauthorized, code: codeUnauthorized, message: domain.ErrUnauthorized.Error()})
				return
			}
			if !user.HasAnyPermission(perms...) {
				writeError(w, apiError{status: http.StatusForbidden, code: codeForbidden, message: domain.ErrForbidden.Error()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// chain wraps h so that the first middleware runs outermost.
func chain(h http.Handler, middleware ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

func withUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, ctxKeyUser{}, user)
}

func currentUserFromContext(ctx context.Context) (*domain.User, bool) {
	user, ok := ctx.Value(ctxKeyUser{}).(*domain.User)
	return user, ok && user != nil
}
