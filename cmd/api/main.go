package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"beacon.org/internal/auth"
	"beacon.org/internal/config"
	"beacon.org/internal/crypto"
	"beacon.org/internal/grpcapi"
	"beacon.org/internal/httpapi"
	"beacon.org/internal/obs"
	"beacon.org/internal/ratelimit"
	"beacon.org/internal/secrets"
	"beacon.org/internal/store/sqlstore"
	"beacon.org/internal/token"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		obs.Error("beacon-api exited", err, nil)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownTracing, err := obs.SetupTracing(ctx, cfg.OTelEndpoint, "beacon-api")
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	if cfg.DBDSN == "" {
		return errors.New("BEACON_DB_DSN is required")
	}
	store, err := sqlstore.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()
	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	if cfg.SeedsDir != "" {
		seeded, err := store.SeedIfEmpty(ctx, os.DirFS(cfg.SeedsDir))
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		if seeded {
			obs.Info("seeded empty database", map[string]any{"dir": cfg.SeedsDir})
		}
	}

	signer, err := token.NewJWTSigner(cfg.JWTSecret,
		token.WithIssuer(cfg.JWTIssuer),
		token.WithAccessTTL(cfg.AccessTTL),
		token.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		return fmt.Errorf("token signer: %w", err)
	}

	counter, closeCounter, err := attemptCounter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCounter()
	limiter, err := ratelimit.New(counter, cfg.LoginMaxAttempts, cfg.LoginWindow, ratelimit.WithKeyPrefix("login:"))
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	hasher, err := auth.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(store, signer, auth.WithLimiter(limiter), auth.WithHasher(hasher))
	if err != nil {
		return fmt.Errorf("auth service: %w", err)
	}

	keys, err := crypto.LoadKey(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("encryption key: %w", err)
	}
	enc, err := crypto.NewService(keys)
	if err != nil {
		return fmt.Errorf("encryption service: %w", err)
	}
	vault := secrets.NewVault(store, enc)

	ready := httpapi.ReadyProbe{DB: store.DB()}
	api := httpapi.New(svc, vault, ready, httpapi.Options{
		Version:    version,
		CORSOrigin: cfg.CORSOrigin,
		TrustProxy: cfg.TrustProxy,
		RatePerSec: cfg.HTTPRatePerSec,
		RateBurst:  cfg.HTTPRateBurst,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		obs.Info("http listening", map[string]any{"addr": srv.Addr, "version": version})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var grpcSrv *grpcapi.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpcapi.New(svc, ready)
		go grpcSrv.WatchHealth(ctx, 10*time.Second)
		go func() {
			obs.Info("grpc listening", map[string]any{"addr": cfg.GRPCAddr})
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		obs.Info("shutting down", nil)
	case err := <-errCh:
		return err
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	obs.Info("stopped", nil)
	return nil
}

// attemptCounter returns the shared Redis counter when configured, else an
// in-process one.
func attemptCounter(ctx context.Context, cfg config.Config) (ratelimit.AttemptCounter, func(), error) {
	if cfg.RedisAddr == "" {
		mem := ratelimit.NewMemoryCounter(nil)
		cctx, cancel := context.WithCancel(ctx)
		go mem.Run(cctx, time.Minute)
		return mem, cancel, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return ratelimit.NewRedisCounter(client, ""), func() { _ = client.Close() }, nil
}
