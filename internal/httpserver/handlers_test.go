package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "quizportal/backend/internal/domain/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	env := newTestEnv(t)

	body := env.register(t, "Ada@Example.com")
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.AccessToken)
	assert.NotEmpty(t, body.RefreshToken)
	require.NotNil(t, body.User)
	assert.Equal(t, "ada@example.com", body.User.Email)
	assert.Equal(t, domain.RoleStudent, body.User.Role)
	assert.False(t, body.User.IsEmailVerified)

	rec := env.do(t, http.MethodPost, "/register", map[string]string{"name": "Ada", "email": "ada@example.com", "password": goodPassword})
	requireError(t, rec, http.StatusBadRequest, codeEmailExists)

	rec = env.do(t, http.MethodPost, "/register", map[string]string{"name": "Bob", "email": "bob@example.com", "password": "weak"})
	requireError(t, rec, http.StatusBadRequest, codeValidation)

	rec = env.do(t, http.MethodPost, "/register", `{"name":`)
	requireError(t, rec, http.StatusBadRequest, codeValidation)
}

func TestRegister_PasswordTooLong(t *testing.T) {
	env := newTestEnv(t)
	long := "Aa1!" + strings.Repeat("x", 76)

	rec := env.do(t, http.MethodPost, "/register", map[string]string{"name": "Ada", "email": "ada@example.com", "password": long})
	requireError(t, rec, http.StatusBadRequest, codeValidation)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "72 bytes")

	env.register(t, "ada@example.com")
	rec = env.do(t, http.MethodPost, "/login", map[string]string{"email": "ada@example.com", "password": long})
	requireError(t, rec, http.StatusUnauthorized, codeInvalidCredentials)
}

func TestRegister_ResponseOmitsSecrets(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/register", map[string]string{"name": "Ada", "email": "ada@example.com", "password": goodPassword})
	require.Equal(t, http.StatusCreated, rec.Code)

	raw := rec.Body.String()
	for _, field := range []string{"password", "Hash", "loginAttempts", "lockUntil"} {
		assert.NotContains(t, raw, field)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com")

	rec := env.do(t, http.MethodPost, "/login", map[string]string{"email": "ada@example.com", "password": goodPassword})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[sessionBody](t, rec)
	assert.NotEmpty(t, body.AccessToken)

	rec = env.do(t, http.MethodPost, "/login", map[string]string{"email": "ada@example.com", "password": "Wr0ng!Pass"})
	requireError(t, rec, http.StatusUnauthorized, codeInvalidCredentials)
	wrongPassword := decode[errorResponse](t, rec)

	rec = env.do(t, http.MethodPost, "/login", map[string]string{"email": "nobody@example.com", "password": goodPassword})
	requireError(t, rec, http.StatusUnauthorized, codeInvalidCredentials)
	assert.Equal(t, wrongPassword, decode[errorResponse](t, rec))

	rec = env.do(t, http.MethodPost, "/login", map[string]string{"email": "ada@example.com"})
	requireError(t, rec, http.StatusBadRequest, codeValidation)
}

func TestLogin_LocksAfterThreshold(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com")

	for i := 0; i < 5; i++ {
		rec := env.do(t, http.MethodPost, "/login", map[string]string{"email": "ada@example.com", "password": "Wr0ng!Pass"})
		requireError(t, rec, http.StatusUnauthorized, codeInvalidCredentials)
	}

	rec := env.do(t, http.MethodPost, "/login", map[string]string{"email": "ada@example.com", "password": goodPassword})
	requireError(t, rec, http.StatusLocked, codeAccountLocked)

	env.clock.Advance(time.Hour + time.Second)
	rec = env.do(t, http.MethodPost, "/login", map[string]string{"email": "ada@example.com", "password": goodPassword})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin_Inactive(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "ada@example.com")
	require.NoError(t, env.repo.SetActive(context.Background(), session.User.ID, false, env.clock.Now()))

	rec := env.do(t, http.MethodPost, "/login", map[string]string{"email": "ada@example.com", "password": goodPassword})
	requireError(t, rec, http.StatusForbidden, codeAccountInactive)
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "ada@example.com")

	rec := env.do(t, http.MethodPost, "/refresh", map[string]string{"refreshToken": session.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rotated := decode[sessionBody](t, rec)
	assert.NotEqual(t, session.RefreshToken, rotated.RefreshToken)

	rec = env.do(t, http.MethodPost, "/refresh", map[string]string{"refreshToken": session.RefreshToken})
	requireError(t, rec, http.StatusUnauthorized, codeInvalidRefreshToken)

	rec = env.do(t, http.MethodPost, "/refresh", nil)
	requireError(t, rec, http.StatusUnauthorized, codeInvalidRefreshToken)

	rec = env.do(t, http.MethodPost, "/refresh", nil, withCookie(&http.Cookie{Name: refreshCookieName, Value: rotated.RefreshToken}))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestForgotAndResetPassword(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "ada@example.com")

	unknown := env.do(t, http.MethodPost, "/forgotpassword", map[string]string{"email": "nobody@example.com"})
	require.Equal(t, http.StatusOK, unknown.Code)
	known := env.do(t, http.MethodPost, "/forgotpassword", map[string]string{"email": "ada@example.com"})
	require.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, unknown.Body.String(), known.Body.String())

	resetToken := env.outbox.waitToken(t, "ada@example.com", "resetpassword")

	rec := env.do(t, http.MethodPut, "/resetpassword/"+resetToken, map[string]string{"password": "short"})
	requireError(t, rec, http.StatusBadRequest, codeValidation)

	rec = env.do(t, http.MethodPut, "/resetpassword/"+resetToken, map[string]string{"password": "N3w!Password"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode[sessionBody](t, rec).AccessToken)

	rec = env.do(t, http.MethodPut, "/resetpassword/"+resetToken, map[string]string{"password": "An0ther!Pass"})
	requireError(t, rec, http.StatusBadRequest, codeInvalidOrExpiredToken)

	rec = env.do(t, http.MethodPost, "/login", map[string]string{"email": "ada@example.com", "password": goodPassword})
	requireError(t, rec, http.StatusUnauthorized, codeInvalidCredentials)

	rec = env.do(t, http.MethodPost, "/refresh", map[string]string{"refreshToken": session.RefreshToken})
	requireError(t, rec, http.StatusUnauthorized, codeInvalidRefreshToken)
}

func TestResetPassword_Expired(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com")
	env.do(t, http.MethodPost, "/forgotpassword", map[string]string{"email": "ada@example.com"})
	resetToken := env.outbox.waitToken(t, "ada@example.com", "resetpassword")

	env.clock.Advance(time.Hour + time.Second)
	rec := env.do(t, http.MethodPut, "/resetpassword/"+resetToken, map[string]string{"password": "N3w!Password"})
	requireError(t, rec, http.StatusBadRequest, codeInvalidOrExpiredToken)
}

func TestVerifyEmailAndResend(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "ada@example.com")
	verifyToken := env.outbox.waitToken(t, "ada@example.com", "verifyemail")

	rec := env.do(t, http.MethodGet, "/verifyemail/not-a-token", nil)
	requireError(t, rec, http.StatusBadRequest, codeInvalidOrExpiredToken)

	rec = env.do(t, http.MethodGet, "/verifyemail/"+verifyToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	verified := decode[userResponse](t, rec)
	assert.True(t, verified.User.IsEmailVerified)

	rec = env.do(t, http.MethodGet, "/verifyemail/"+verifyToken, nil)
	requireError(t, rec, http.StatusBadRequest, codeInvalidOrExpiredToken)

	rec = env.do(t, http.MethodPost, "/resendverification", nil, bearer(session.AccessToken))
	requireError(t, rec, http.StatusBadRequest, codeAlreadyVerified)
}

func TestResendVerification(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "ada@example.com")
	first := env.outbox.waitToken(t, "ada@example.com", "verifyemail")

	rec := env.do(t, http.MethodPost, "/resendverification", nil, bearer(session.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		return len(env.outbox.tokens("ada@example.com", "verifyemail")) == 2
	}, time.Second, 5*time.Millisecond)
	second := env.outbox.tokens("ada@example.com", "verifyemail")[1]
	require.NotEqual(t, first, second)

	rec = env.do(t, http.MethodGet, "/verifyemail/"+first, nil)
	requireError(t, rec, http.StatusBadRequest, codeInvalidOrExpiredToken)
	rec = env.do(t, http.MethodGet, "/verifyemail/"+second, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMeAndUpdateDetails(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "ada@example.com")
	env.register(t, "bob@example.com")

	rec := env.do(t, http.MethodGet, "/me", nil, bearer(session.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ada@example.com", decode[userResponse](t, rec).User.Email)

	rec = env.do(t, http.MethodPut, "/updatedetails", map[string]string{"name": "Ada Lovelace"}, bearer(session.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Ada Lovelace", decode[userResponse](t, rec).User.Name)

	rec = env.do(t, http.MethodPut, "/updatedetails", map[string]string{"email": "bob@example.com"}, bearer(session.AccessToken))
	requireError(t, rec, http.StatusBadRequest, codeEmailExists)

	rec = env.do(t, http.MethodPut, "/updatedetails", map[string]string{"email": "not-an-email"}, bearer(session.AccessToken))
	requireError(t, rec, http.StatusBadRequest, codeValidation)
}

func TestUpdatePassword(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "ada@example.com")

	rec := env.do(t, http.MethodPut, "/updatepassword", map[string]string{"currentPassword": "Wr0ng!Pass", "newPassword": "N3w!Password"}, bearer(session.AccessToken))
	requireError(t, rec, http.StatusUnauthorized, codePasswordMismatch)

	rec = env.do(t, http.MethodPut, "/updatepassword", map[string]string{"currentPassword": goodPassword, "newPassword": goodPassword}, bearer(session.AccessToken))
	requireError(t, rec, http.StatusBadRequest, codePasswordUnchanged)

	rec = env.do(t, http.MethodPut, "/updatepassword", map[string]string{"currentPassword": goodPassword, "newPassword": "N3w!Password"}, bearer(session.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[sessionBody](t, rec)
	assert.NotEqual(t, session.RefreshToken, updated.RefreshToken)

	rec = env.do(t, http.MethodPost, "/refresh", map[string]string{"refreshToken": session.RefreshToken})
	requireError(t, rec, http.StatusUnauthorized, codeInvalidRefreshToken)

	rec = env.do(t, http.MethodPost, "/login", map[string]string{"email": "ada@example.com", "password": "N3w!Password"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "ada@example.com")

	rec := env.do(t, http.MethodPost, "/logout", nil, bearer(session.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/refresh", map[string]string{"refreshToken": session.RefreshToken})
	requireError(t, rec, http.StatusUnauthorized, codeInvalidRefreshToken)

	rec = env.do(t, http.MethodPost, "/logout", nil)
	requireError(t, rec, http.StatusUnauthorized, codeUnauthorized)
}

func TestCookies(t *testing.T) {
	env := newTestEnv(t, withCookies)

	rec := env.do(t, http.MethodPost, "/register", map[string]string{"name": "Ada", "email": "ada@example.com", "password": goodPassword})
	require.Equal(t, http.StatusCreated, rec.Code)

	cookies := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		cookies[c.Name] = c
	}
	require.Contains(t, cookies, accessCookieName)
	require.Contains(t, cookies, refreshCookieName)
	for _, c := range cookies {
		assert.True(t, c.HttpOnly)
		assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
		assert.Equal(t, 3600, c.MaxAge)
		assert.False(t, c.Secure)
	}

	rec = env.do(t, http.MethodGet, "/me", nil, withCookie(cookies[accessCookieName]))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/refresh", nil, withCookie(cookies[refreshCookieName]))
	require.Equal(t, http.StatusOK, rec.Code)
	rotated := decode[sessionBody](t, rec)

	rec = env.do(t, http.MethodPost, "/logout", nil, bearer(rotated.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	for _, c := range rec.Result().Cookies() {
		assert.Empty(t, c.Value)
		assert.Negative(t, c.MaxAge)
	}
}

func TestCookies_DisabledByDefault(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/register", map[string]string{"name": "Ada", "email": "ada@example.com", "password": goodPassword})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestSession(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "ada@example.com")

	type sessionState struct {
		Authenticated bool         `json:"authenticated"`
		User          *domain.User `json:"user"`
	}

	rec := env.do(t, http.MethodGet, "/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	anon := decode[sessionState](t, rec)
	assert.False(t, anon.Authenticated)
	assert.Nil(t, anon.User)

	rec = env.do(t, http.MethodGet, "/session", nil, bearer("garbage"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[sessionState](t, rec).Authenticated)

	rec = env.do(t, http.MethodGet, "/session", nil, bearer(session.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[sessionState](t, rec)
	assert.True(t, state.Authenticated)
	assert.Equal(t, session.User.ID, state.User.ID)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.health = assert.AnError
	rec = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/login", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodOptions, "/login", nil, func(r *http.Request) { r.Header.Set("Origin", "http://app.test") })
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://app.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = env.do(t, http.MethodOptions, "/login", nil, func(r *http.Request) { r.Header.Set("Origin", "http://evil.test") })
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_WildcardWithoutCredentials(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	preflight := func(h http.Handler, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/login", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	h := withCORS(ok, []string{"*", "http://app.test"})
	rec := preflight(h, "http://evil.test")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = preflight(h, "http://app.test")
	assert.Equal(t, "http://app.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = preflight(withCORS(ok, nil), "http://app.test")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRecovery(t *testing.T) {
	env := newTestEnv(t)
	h := env.server.withRecovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	env.handler = h

	rec := env.do(t, http.MethodGet, "/anything", nil)
	requireError(t, rec, http.StatusInternalServerError, codeInternal)
	assert.False(t, strings.Contains(rec.Body.String(), "boom"))
}
