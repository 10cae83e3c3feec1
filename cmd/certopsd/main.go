package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	v1 "certops/api/v1"
	"certops/internal/acme"
	"certops/internal/auth"
	"certops/internal/cache"
	"certops/internal/config"
	"certops/internal/db"
	"certops/internal/deploy"
	"certops/internal/dnschallenge"
	"certops/internal/dnschallenge/providers/cloudflare"
	"certops/internal/lock"
	"certops/internal/pipeline"
	"certops/internal/secrets"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	log := logrus.NewEntry(logger)

	// Step 1: Load configuration (INI file when given, env otherwise)
	var cfg *config.Config
	var err error
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		cfg, err = config.LoadFromINI(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Step 2: Initialize MySQL
	if err := db.InitMySQL(cfg.MySQL.DSN); err != nil {
		log.Fatalf("failed to initialize MySQL: %v", err)
	}
	defer db.Close()

	if cfg.Migrate {
		if err := db.Migrate(db.Get()); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
	}

	// Step 3: Initialize Redis
	if err := cache.InitRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
		log.Fatalf("failed to initialize Redis: %v", err)
	}
	defer cache.Close()

	auth.InitJWT(cfg.JWT.Secret)

	// Step 4: Build the pipeline
	runner, err := buildRunner(cfg, log)
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}

	store := pipeline.NewStore(db.Get())
	worker := pipeline.NewWorker(store, runner, cfg.Worker, log)
	worker.Start()

	// Step 5: Start the API server
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()
	v1.SetupRouter(r, db.Get(), cfg)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		log.Infof("server starting on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Step 6: Wait for shutdown signal, then drain
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	worker.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("server shutdown: %v", err)
	}
	log.Info("stopped")
}

// buildRunner wires the pipeline from configuration. The DNS provider's host
// and credentials come from the secret store, fetched fresh by each run's
// secrets stage, never from config or env.
func buildRunner(cfg *config.Config, log *logrus.Entry) (*pipeline.Runner, error) {
	provider := buildSecretProvider(cfg)

	dnsProvider := cloudflare.NewProvider()
	resolver := dnschallenge.NewNetResolver(cfg.DNS.Resolvers)
	controller := dnschallenge.NewController(dnsProvider, resolver, cfg.DNS.ZoneID, dnschallenge.PollConfig{
		Interval:    time.Duration(cfg.DNS.PollIntervalSec) * time.Second,
		MaxAttempts: cfg.DNS.PollMaxAttempts,
	}, log)

	locker := lock.NewRedisLocker(cache.Client)
	accounts := acme.NewAccountManager(db.Get(), log)
	issuer := acme.NewIssuer(controller, locker,
		time.Duration(cfg.ACME.LeaseTTLSec)*time.Second,
		acme.PollConfig{
			Interval:    time.Duration(cfg.ACME.PollIntervalSec) * time.Second,
			MaxAttempts: cfg.ACME.PollMaxAttempts,
		}, log)

	target, err := deploy.NewClient(cfg.Target.BaseURL, cfg.Target)
	if err != nil {
		return nil, err
	}
	binder := deploy.NewBinder(target, locker, 2*time.Minute, log)
	probe := deploy.NewProbe(target, log)

	journal := pipeline.NewDBJournal(db.Get(), log)
	return pipeline.NewRunner(provider, accounts, issuer, binder, probe, dnsProvider, journal, cfg.ACME, log), nil
}

func buildSecretProvider(cfg *config.Config) secrets.Provider {
	if cfg.SecretStore.Kind == "env" {
		return secrets.NewEnvProvider()
	}
	return secrets.NewVaultProvider(cfg.SecretStore.Addr, cfg.SecretStore.Mount, cfg.SecretStore.Path, cfg.SecretStore.Token)
}
