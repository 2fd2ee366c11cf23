package httpserver

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"quizportal/backend/internal/config"
	domain "quizportal/backend/internal/domain/auth"
	"quizportal/backend/internal/infrastructure/memory"
	"quizportal/backend/internal/infrastructure/password"
	"quizportal/backend/internal/infrastructure/token"
	authusecase "quizportal/backend/internal/usecase/auth"
	userusecase "quizportal/backend/internal/usecase/user"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const goodPassword = "Str0ng!Pass"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type outbox struct {
	mu   sync.Mutex
	sent []authusecase.Message
}

func (o *outbox) Send(_ context.Context, msg authusecase.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

// tokens lists the tokens of every link sent to to containing path, oldest first.
func (o *outbox) tokens(to, path string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, msg := range o.sent {
		if msg.To == to && strings.Contains(msg.Link, "/"+path+"/") {
			out = append(out, msg.Link[strings.LastIndex(msg.Link, "/")+1:])
		}
	}
	return out
}

// waitToken returns the token from the latest link sent to to containing path.
func (o *outbox) waitToken(t *testing.T, to, path string) string {
	t.Helper()
	var link string
	require.Eventually(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i := len(o.sent) - 1; i >= 0; i-- {
			if o.sent[i].To == to && strings.Contains(o.sent[i].Link, "/"+path+"/") {
				link = o.sent[i].Link
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	return link[strings.LastIndex(link, "/")+1:]
}

type testEnv struct {
	server  *Server
	handler http.Handler
	repo    *memory.UserRepository
	clock   *testClock
	outbox  *outbox
	health  error
}

type envOption func(*config.Config)

func withCookies(cfg *config.Config) { cfg.UseCookies = true }

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	cfg := config.Config{
		Env:            "test",
		HTTPPort:       "0",
		AllowedOrigins: []string{"http://app.test"},
		CookieTTL:      time.Hour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	env := &testEnv{
		repo:   memory.NewUserRepository(),
		clock:  &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		outbox: &outbox{},
	}
	hasher, err := password.New(password.AlgorithmBcrypt, bcrypt.MinCost)
	require.NoError(t, err)

	withClock := authusecase.WithClock(env.clock.Now)
	jwt := token.NewJWTManager("test-secret", 15*time.Minute, "quizportal", token.WithClock(env.clock.Now))
	authService := authusecase.NewService(authusecase.Deps{
		Users:     env.repo,
		Hasher:    hasher,
		Issuer:    authusecase.NewTokenIssuer(env.repo, jwt, authusecase.IssuerConfig{RefreshTTL: 7 * 24 * time.Hour}, withClock),
		Lockout:   authusecase.NewLockoutGuard(env.repo, authusecase.LockoutConfig{Threshold: 5, Duration: time.Hour}, withClock),
		OneTime:   authusecase.NewOneTimeTokens(env.repo, authusecase.OneTimeConfig{ResetTTL: time.Hour, VerificationTTL: 24 * time.Hour}, withClock),
		Mailer:    env.outbox,
		PublicURL: "http://app.test",
	}, withClock)
	userService := userusecase.NewService(env.repo, nil, userusecase.WithClock(env.clock.Now))

	env.server = NewServer(cfg, nil, authService, userService, func(context.Context) error { return env.health })
	env.handler = env.server.Handler()
	return env
}

type requestOption func(*http.Request)

func bearer(tok string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func withCookie(c *http.Cookie) requestOption {
	return func(r *http.Request) { r.AddCookie(c) }
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

type sessionBody struct {
	Success      bool         `json:"success"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	User         *domain.User `json:"user"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decode[errorResponse](t, rec)
	require.False(t, body.Success)
	require.Equal(t, code, body.Code)
	require.NotEmpty(t, body.Error)
}

func (e *testEnv) register(t *testing.T, email string) sessionBody {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/register", map[string]string{
		"name":     "Ada",
		"email":    email,
		"password": goodPassword,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[sessionBody](t, rec)
}

// promote gives the user a role and permissions directly in the store.
func (e *testEnv) promote(t *testing.T, id string, role domain.UserRole, perms ...string) {
	t.Helper()
	u, err := e.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, e.repo.SetRole(context.Background(), id, role, e.clock.Now()))
	require.NoError(t, e.repo.SetPermissions(context.Background(), id, append(u.Permissions, perms...), e.clock.Now()))
}
