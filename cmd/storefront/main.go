package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"commercetools-storefront/internal/commercetools"
	"commercetools-storefront/internal/config"
	"commercetools-storefront/internal/db"
	"commercetools-storefront/internal/httpserver"
	"commercetools-storefront/internal/migrate"
	"commercetools-storefront/internal/repository/kv"
	cartsvc "commercetools-storefront/internal/service/cart"
	"commercetools-storefront/internal/storefront"
	"github.com/redis/go-redis/v9"
)

// redisTTL bounds how long an abandoned browser's keys survive.
const redisTTL = 30 * 24 * time.Hour

func main() {
	logger := log.New(os.Stdout, "[storefront] ", log.LstdFlags|log.LUTC|log.Lshortfile)
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("open %s store: %v", cfg.StoreBackend, err)
	}
	defer closeStore()

	factory := commercetools.NewFactory(commercetools.Config{
		AuthURL:      cfg.Commercetools.AuthURL,
		APIURL:       cfg.Commercetools.APIURL,
		ProjectKey:   cfg.Commercetools.ProjectKey,
		ClientID:     cfg.Commercetools.ClientID,
		ClientSecret: cfg.Commercetools.ClientSecret,
		Scopes:       cfg.Commercetools.Scopes,
		RetryMax:     cfg.RetryMax,
		RetryDelay:   cfg.RetryDelay,
	}, logger)

	registry := storefront.NewRegistry(store, factory, cartsvc.Options{
		Currency: cfg.CartCurrency,
		Country:  cfg.CartCountry,
	}, logger)

	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			logger.Fatalf("generate session secret: %v", err)
		}
		logger.Printf("SESSION_SECRET not set, sessions will not survive a restart")
	}
	codec, err := httpserver.NewSessionCodec(secret)
	if err != nil {
		logger.Fatalf("init sessions: %v", err)
	}

	srv, err := httpserver.New(cfg.HTTPAddr, logger, httpserver.Deps{
		Registry:    registry,
		Sessions:    codec,
		Store:       store,
		CORSOrigins: cfg.CORSOrigins,
	})
	if err != nil {
		logger.Fatalf("init server: %v", err)
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sweep(sweepCtx, registry, cfg.SessionIdle)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stopCh:
		logger.Printf("received signal %s, shutting down", sig)
	case err := <-serverErr:
		logger.Printf("server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	} else {
		logger.Printf("server stopped")
	}
}

// openStore builds the configured key-value backend and its cleanup func.
func openStore(ctx context.Context, cfg config.Config, logger *log.Logger) (kv.Repository, func(), error) {
	switch cfg.StoreBackend {
	case "file":
		store, err := kv.NewFile(cfg.StoreFile)
		return store, func() {}, err
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store := kv.NewRedis(client, redisTTL)
		if err := store.Ping(ctx); err != nil {
			client.Close()
			return nil, nil, err
		}
		return store, func() { client.Close() }, nil
	case "postgres":
		pool, err := db.Connect(ctx, cfg.DBConnString)
		if err != nil {
			return nil, nil, err
		}
		if err := migrate.Apply(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Printf("postgres store ready")
		return kv.NewPostgres(pool), pool.Close, nil
	default:
		return kv.NewMemory(), func() {}, nil
	}
}

func sweep(ctx context.Context, registry *storefront.Registry, maxIdle time.Duration) {
	interval := maxIdle / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.Sweep(maxIdle)
		}
	}
}
