package auth_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	domain "quizportal/backend/internal/domain/auth"
	"quizportal/backend/internal/infrastructure/memory"
	"quizportal/backend/internal/infrastructure/password"
	"quizportal/backend/internal/infrastructure/token"
	usecase "quizportal/backend/internal/usecase/auth"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret   = "test-secret"
	goodPassword = "Str0ng!Pass"
	accessTTL    = 15 * time.Minute
	refreshTTL   = 7 * 24 * time.Hour
	lockDuration = time.Hour
	resetTTL     = time.Hour
	verifyTTL    = 24 * time.Hour
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
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

type captureMailer struct {
	mu   sync.Mutex
	sent []usecase.Message
}

func (m *captureMailer) Send(_ context.Context, msg usecase.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// waitToken waits for the n-th message (1-based) sent to to whose link contains
// path, and returns it with the token at the end of the link.
func (m *captureMailer) waitToken(t *testing.T, to, path string, n int) (usecase.Message, string) {
	t.Helper()
	var found usecase.Message
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		seen := 0
		for _, msg := range m.sent {
			if msg.To == to && strings.Contains(msg.Link, "/"+path+"/") {
				seen++
				if seen == n {
					found = msg
					return true
				}
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	return found, found.Link[strings.LastIndex(found.Link, "/")+1:]
}

type stubLimiter struct {
	mu      sync.Mutex
	allowed map[string]int
	limit   int
}

func (l *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowed == nil {
		l.allowed = map[string]int{}
	}
	l.allowed[key]++
	return l.allowed[key] <= l.limit, nil
}

type fixture struct {
	svc     *usecase.Service
	repo    *memory.UserRepository
	clock   *testClock
	mailer  *captureMailer
	issuer  *usecase.TokenIssuer
	lockout *usecase.LockoutGuard
	oneTime *usecase.OneTimeTokens
	deps    usecase.Deps
}

func newFixture(t *testing.T, limiter usecase.IssueLimiter) *fixture {
	t.Helper()

	clock := newTestClock()
	repo := memory.NewUserRepository()
	hasher, err := password.New(password.AlgorithmBcrypt, bcrypt.MinCost)
	require.NoError(t, err)

	withClock := usecase.WithClock(clock.Now)
	jwt := token.NewJWTManager(testSecret, accessTTL, "quizportal", token.WithClock(clock.Now))
	issuer := usecase.NewTokenIssuer(repo, jwt, usecase.IssuerConfig{RefreshTTL: refreshTTL}, withClock)
	lockout := usecase.NewLockoutGuard(repo, usecase.LockoutConfig{Threshold: 5, Duration: lockDuration}, withClock)
	oneTime := usecase.NewOneTimeTokens(repo, usecase.OneTimeConfig{ResetTTL: resetTTL, VerificationTTL: verifyTTL}, withClock)
	mailer := &captureMailer{}

	deps := usecase.Deps{
		Users:     repo,
		Hasher:    hasher,
		Issuer:    issuer,
		Lockout:   lockout,
		OneTime:   oneTime,
		Mailer:    mailer,
		Limiter:   limiter,
		PublicURL: "http://localhost:8080/",
	}
	svc := usecase.NewService(deps, withClock)

	return &fixture{svc: svc, repo: repo, clock: clock, mailer: mailer, issuer: issuer, lockout: lockout, oneTime: oneTime, deps: deps}
}

// serviceOver builds a Service that reads and writes users through repo while
// sharing every other collaborator with the fixture.
func (f *fixture) serviceOver(repo domain.UserRepository) *usecase.Service {
	deps := f.deps
	deps.Users = repo
	return usecase.NewService(deps, usecase.WithClock(f.clock.Now))
}

// interleavedRepo runs afterGet once, right after the first GetByID returns.
type interleavedRepo struct {
	*memory.UserRepository
	once     sync.Once
	afterGet func(ctx context.Context, id string)
}

func (r *interleavedRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	u, err := r.UserRepository.GetByID(ctx, id)
	if err == nil {
		r.once.Do(func() { r.afterGet(ctx, id) })
	}
	return u, err
}

func (f *fixture) register(t *testing.T, email string) *usecase.Session {
	t.Helper()
	session, err := f.svc.Register(context.Background(), usecase.RegisterInput{
		Name:     "Ada",
		Email:    email,
		Password: goodPassword,
	})
	require.NoError(t, err)
	return session
}

func (f *fixture) stored(t *testing.T, id string) *domain.User {
	t.Helper()
	u, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func creds(email, password string) domain.Credentials {
	return domain.Credentials{Email: email, Password: password}
}
