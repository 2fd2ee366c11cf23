package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quizportal/backend/internal/config"
	domain "quizportal/backend/internal/domain/auth"
	"quizportal/backend/internal/httpserver"
	"quizportal/backend/internal/infrastructure/mail"
	"quizportal/backend/internal/infrastructure/memory"
	"quizportal/backend/internal/infrastructure/password"
	"quizportal/backend/internal/infrastructure/postgres"
	"quizportal/backend/internal/infrastructure/sqlite"
	"quizportal/backend/internal/infrastructure/throttle"
	"quizportal/backend/internal/infrastructure/token"
	"quizportal/backend/internal/logging"
	authusecase "quizportal/backend/internal/usecase/auth"
	userusecase "quizportal/backend/internal/usecase/user"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.Error(context.Background(), "server exited", "error", err)
		os.Exit(1)
	}
}

// store bundles the selected user repository with its health check and cleanup.
type store struct {
	users  domain.UserRepository
	health httpserver.HealthCheck
	close  func()
}

func openStore(ctx context.Context, cfg config.Config) (store, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return store{}, fmt.Errorf("connect to database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return store{}, fmt.Errorf("run database migrations: %w", err)
		}
		return store{users: postgres.NewUserRepository(db.Pool), health: db.Ping, close: db.Close}, nil
	case config.StoreSQLite:
		db, err := sqlite.Open(cfg.SQLitePath, !cfg.IsProduction() && cfg.LogLevel == "debug")
		if err != nil {
			return store{}, fmt.Errorf("open sqlite: %w", err)
		}
		return store{
			users:  sqlite.NewUserRepository(db),
			health: func(ctx context.Context) error { return sqlite.Ping(ctx, db) },
			close:  func() { _ = sqlite.Close(db) },
		}, nil
	case config.StoreMemory:
		return store{users: memory.NewUserRepository(), close: func() {}}, nil
	default:
		return store{}, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func run(cfg config.Config, logger *logging.SlogLogger) error {
	rootCtx := context.Background()

	st, err := openStore(rootCtx, cfg)
	if err != nil {
		return err
	}
	defer st.close()
	logger.Info(rootCtx, "credential store ready", "driver", cfg.StoreDriver)

	hasher, err := password.New(cfg.PasswordHasher, cfg.BcryptCost)
	if err != nil {
		return err
	}

	var limiter authusecase.IssueLimiter
	if cfg.RedisURL != "" {
		client, err := throttle.Connect(rootCtx, cfg.RedisURL)
		if err != nil {
			logger.Warn(rootCtx, "redis unavailable, issuance throttling disabled", "error", err)
		} else {
			defer client.Close()
			limiter = throttle.NewRedisLimiter(client, throttle.Config{Limit: cfg.IssueLimit, Window: cfg.IssueWindow})
		}
	}

	tokenManager := token.NewJWTManager(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.JWTIssuer)
	authService := authusecase.NewService(authusecase.Deps{
		Users:  st.users,
		Hasher: hasher,
		Issuer: authusecase.NewTokenIssuer(st.users, tokenManager, authusecase.IssuerConfig{RefreshTTL: cfg.RefreshTokenTTL}),
		Lockout: authusecase.NewLockoutGuard(st.users, authusecase.LockoutConfig{
			Threshold: cfg.LockoutThreshold,
			Duration:  cfg.LockoutDuration,
		}),
		OneTime: authusecase.NewOneTimeTokens(st.users, authusecase.OneTimeConfig{
			ResetTTL:        cfg.ResetTokenTTL,
			VerificationTTL: cfg.VerificationTokenTTL,
		}),
		Mailer:    mail.NewLogMailer(logger, cfg.IsDevelopment()),
		Limiter:   limiter,
		Logger:    logger,
		PublicURL: cfg.PublicURL,
	})
	userService := userusecase.NewService(st.users, logger)

	server := httpserver.NewServer(cfg, logger, authService, userService, st.health)
	logger.Info(rootCtx, "HTTP server listening", "addr", server.Addr())

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-shutdownCtx.Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info(rootCtx, "graceful shutdown completed")
	return nil
}
