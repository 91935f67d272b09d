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

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"posledger/internal/cache"
	"posledger/internal/config"
	"posledger/internal/httpapi"
	"posledger/internal/ledger"
	"posledger/internal/lock"
	"posledger/internal/service"
	"posledger/internal/store"
	"posledger/internal/store/memory"
	pgstore "posledger/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("invalid configuration: %v", err)
	}
	logger := config.NewLogger(cfg.LogLevel)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalf("invalid security configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)

	repo, err := newRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
	}
	closers = append(closers, repo.Close)

	var accounts cache.AccountCache = cache.NoopAccountCache{}
	var locker lock.Locker = lock.NoopLocker{}
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unavailable, using noop cache and locks")
			_ = client.Close()
		} else {
			accounts, locker = newRedisBackends(client, cfg.AccountCacheTTL)
			closers = append(closers, client.Close)
			logger.WithField("addr", cfg.RedisAddr).Info("cache and locks: redis")
		}
	} else {
		logger.Info("cache and locks: noop")
	}

	exec := ledger.NewExecutor(repo, locker, ledger.ExecutorOptions{
		Tx:      store.TxOptions{MaxWait: cfg.TxMaxWait, Timeout: cfg.TxTimeout},
		LockTTL: cfg.LockTTL,
	}, logger)
	svc := service.New(repo, exec, accounts, service.Options{
		SaleAttempts:   cfg.SaleMaxAttempts,
		DebtAttempts:   cfg.DebtMaxAttempts,
		DebtStatusRule: service.DebtStatusRule(cfg.DebtEditStatusRule),
	}, logger)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	// WriteTimeout leaves room for a sale that uses its whole retry budget.
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.TxTimeout*time.Duration(cfg.SaleMaxAttempts) + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.Address()).Info("posledger listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Error("close error")
		}
	}

	logger.Info("server stopped")
}

// newRepository opens PostgreSQL when DATABASE_URL is set and the seeded
// memory store otherwise.
func newRepository(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (store.Repository, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("repository: in-memory")
		return memory.NewSeeded(), nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.DBMigrate {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	logger.Info("repository: postgres")
	return pg, nil
}

func newRedisBackends(client redis.UniversalClient, ttl time.Duration) (cache.AccountCache, lock.Locker) {
	return cache.NewRedisAccountCache(client, ttl), lock.NewRedisLocker(client)
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
