package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	neturl "net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Password hashers accepted by PASSWORD_HASHER.
const (
	HasherBcrypt   = "bcrypt"
	HasherArgon2id = "argon2id"
)

// Config centralises runtime configuration. It is built once at startup and handed
// to constructors explicitly.
type Config struct {
	Env             string
	HTTPPort        string
	AllowedOrigins  []string
	ReadTimeoutSec  int
	WriteTimeoutSec int
	IdleTimeoutSec  int
	PublicURL       string

	StoreDriver string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	JWTSecret      string
	JWTIssuer      string
	AccessTokenTTL time.Duration

	RefreshTokenTTL      time.Duration
	LockoutThreshold     int
	LockoutDuration      time.Duration
	ResetTokenTTL        time.Duration
	VerificationTokenTTL time.Duration
	IssueLimit           int
	IssueWindow          time.Duration

	PasswordHasher string
	BcryptCost     int

	UseCookies bool
	CookieTTL  time.Duration

	LogLevel  string
	LogFormat string
}

// IsProduction reports whether APP_ENV is production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// IsDevelopment reports whether APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Env, "development")
}

// Load reads configuration from environment variables providing sane defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	httpPort := getEnv("HTTP_PORT", "")
	if httpPort == "" {
		httpPort = getEnv("PORT", "8080")
	}

	cfg := Config{
		Env:             getEnv("APP_ENV", "development"),
		HTTPPort:        httpPort,
		AllowedOrigins:  splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),
		ReadTimeoutSec:  getIntEnv("HTTP_READ_TIMEOUT", 15),
		WriteTimeoutSec: getIntEnv("HTTP_WRITE_TIMEOUT", 15),
		IdleTimeoutSec:  getIntEnv("HTTP_IDLE_TIMEOUT", 60),
		PublicURL:       strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:8080"), "/"),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StorePostgres)),
		DatabaseURL: resolveDatabaseURL(),
		SQLitePath:  getEnv("SQLITE_PATH", "data/auth.db"),
		RedisURL:    getEnv("REDIS_URL", ""),

		JWTSecret:      getEnv("JWT_SECRET", ""),
		JWTIssuer:      getEnv("JWT_ISSUER", "quizportal"),
		AccessTokenTTL: getDurationEnv("ACCESS_TOKEN_TTL", 15*time.Minute),

		RefreshTokenTTL:      getDurationEnv("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		LockoutThreshold:     getIntEnv("LOCKOUT_THRESHOLD", 5),
		LockoutDuration:      getDurationEnv("LOCKOUT_DURATION", time.Hour),
		ResetTokenTTL:        getDurationEnv("RESET_TOKEN_TTL", time.Hour),
		VerificationTokenTTL: getDurationEnv("VERIFICATION_TOKEN_TTL", 24*time.Hour),
		IssueLimit:           getIntEnv("ISSUE_LIMIT", 3),
		IssueWindow:          getDurationEnv("ISSUE_WINDOW", 15*time.Minute),

		PasswordHasher: strings.ToLower(getEnv("PASSWORD_HASHER", HasherBcrypt)),
		BcryptCost:     getIntEnv("BCRYPT_COST", 12),

		UseCookies: getBoolEnv("USE_COOKIES", true),
		CookieTTL:  getDurationEnv("COOKIE_TTL", 7*24*time.Hour),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database configuration missing: provide DATABASE_URL or PG* env vars")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if c.LockoutThreshold < 1 || c.LockoutDuration <= 0 {
		return fmt.Errorf("lockout threshold and duration must be positive")
	}
	if c.ResetTokenTTL <= 0 || c.VerificationTokenTTL <= 0 {
		return fmt.Errorf("one-time token lifetimes must be positive")
	}
	switch c.PasswordHasher {
	case HasherBcrypt, HasherArgon2id:
	default:
		return fmt.Errorf("unsupported PASSWORD_HASHER %q", c.PasswordHasher)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if d, err := parseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

// parseDuration accepts time.ParseDuration syntax plus a whole-day suffix ("7d").
func parseDuration(val string) (time.Duration, error) {
	val = strings.TrimSpace(val)
	if days, ok := strings.CutSuffix(val, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(val)
}

func getIntEnv(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func splitCSV(value string) []string {
	parts := []string{}
	for _, part := range strings.Split(value, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

func resolveDatabaseURL() string {
	for _, key := range []string{"DATABASE_URL", "POSTGRES_URL", "PGURL"} {
		if url := os.Getenv(key); url != "" {
			if coerced := coerceDatabaseURL(url); coerced != "" {
				return coerced
			}
		}
	}

	if urlFromFile := readEnvFile("DATABASE_URL_FILE"); urlFromFile != "" {
		if coerced := coerceDatabaseURL(urlFromFile); coerced != "" {
			return coerced
		}
	}

	host := firstNonEmpty(os.Getenv("PGHOST"), os.Getenv("POSTGRES_HOST"))
	user := firstNonEmpty(os.Getenv("PGUSER"), os.Getenv("POSTGRES_USER"))
	password := firstNonEmpty(os.Getenv("PGPASSWORD"), os.Getenv("POSTGRES_PASSWORD"))
	database := firstNonEmpty(os.Getenv("PGDATABASE"), os.Getenv("POSTGRES_DB"), user, "postgres")
	port := firstNonEmpty(os.Getenv("PGPORT"), os.Getenv("POSTGRES_PORT"), "5432")
	sslMode := firstNonEmpty(os.Getenv("PGSSLMODE"), "require")

	if host == "" || user == "" {
		return ""
	}

	dsn := &neturl.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + database,
		User:   neturl.User(user),
	}
	if password != "" {
		dsn.User = neturl.UserPassword(user, password)
	}

	query := dsn.Query()
	query.Set("sslmode", sslMode)
	dsn.RawQuery = query.Encode()

	return dsn.String()
}

func normalisePostgresScheme(url string) string {
	if strings.HasPrefix(url, "postgresql://") {
		return "postgres://" + strings.TrimPrefix(url, "postgresql://")
	}
	return url
}

func coerceDatabaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "postgres://") || strings.HasPrefix(raw, "postgresql://") {
		return normalisePostgresScheme(raw)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func readEnvFile(key string) string {
	path := os.Getenv(key)
	if path == "" {
		return ""
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
