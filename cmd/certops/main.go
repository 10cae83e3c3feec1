// certops runs one issuance pipeline end to end and exits 0 on success,
// 1 on failure. It needs no database or Redis; leases are in-process and the
// audit trail goes to the log.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"certops/internal/acme"
	"certops/internal/config"
	"certops/internal/deploy"
	"certops/internal/dnschallenge"
	"certops/internal/dnschallenge/providers/cloudflare"
	"certops/internal/lock"
	"certops/internal/model"
	"certops/internal/pipeline"
	"certops/internal/secrets"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func main() {
	domain := flag.String("domain", "", "domain to issue a certificate for (required)")
	target := flag.String("target", "", "target admin API base URL (overrides TARGET_BASE_URL)")
	site := flag.String("site", "", "site name on the target (required)")
	port := flag.Int("port", 443, "binding port on the target")
	environment := flag.String("env", "production", "ACME environment: production or staging")
	secretStore := flag.String("secret-store", "", "secret store path (overrides SECRET_STORE_PATH)")
	directoryURL := flag.String("directory-url", "", "ACME directory URL (overrides the environment's default)")
	timeout := flag.Duration("timeout", 15*time.Minute, "overall run timeout")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	log := logrus.NewEntry(logger)

	if *domain == "" || *site == "" {
		fmt.Fprintln(os.Stderr, "usage: certops -domain <domain> -site <site> [-target <url>] [-port <port>] [-env production|staging]")
		os.Exit(1)
	}
	if *environment != "production" && *environment != "staging" {
		fmt.Fprintln(os.Stderr, "env must be production or staging")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *target != "" {
		cfg.Target.BaseURL = *target
	}
	if *secretStore != "" {
		cfg.SecretStore.Path = *secretStore
	}
	if *directoryURL != "" {
		if *environment == "staging" {
			cfg.ACME.StagingDirectory = *directoryURL
		} else {
			cfg.ACME.ProductionDirectory = *directoryURL
		}
	}
	if cfg.Target.BaseURL == "" {
		fmt.Fprintln(os.Stderr, "target admin API base URL is required (-target or TARGET_BASE_URL)")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	runner, err := buildRunner(cfg, log)
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}

	result := runner.Run(ctx, pipeline.Request{
		RunID:       uuid.NewString(),
		Domain:      *domain,
		Site:        *site,
		Port:        *port,
		Environment: *environment,
	})

	for _, stage := range result.Stages {
		log.WithFields(logrus.Fields{
			"stage":  stage.Stage,
			"status": stage.Status,
		}).Info(stage.Detail)
	}

	if result.Status != model.IssuanceRequestStatusSuccess {
		log.Errorf("run failed: %v", result.Err)
		os.Exit(1)
	}
	log.WithField("fingerprint", result.Fingerprint).Info("certificate issued and deployed")
}

// buildRunner wires a single-run pipeline: in-process leases, no journal
// database. The DNS provider credentials arrive through the run's secrets
// stage.
func buildRunner(cfg *config.Config, log *logrus.Entry) (*pipeline.Runner, error) {
	provider := buildSecretProvider(cfg)

	dnsProvider := cloudflare.NewProvider()
	resolver := dnschallenge.NewNetResolver(cfg.DNS.Resolvers)
	controller := dnschallenge.NewController(dnsProvider, resolver, cfg.DNS.ZoneID, dnschallenge.PollConfig{
		Interval:    time.Duration(cfg.DNS.PollIntervalSec) * time.Second,
		MaxAttempts: cfg.DNS.PollMaxAttempts,
	}, log)

	locker := lock.NewMemoryLocker()
	accounts := acme.NewAccountManager(nil, log)
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

	return pipeline.NewRunner(provider, accounts, issuer, binder, probe, dnsProvider, pipeline.NopJournal{}, cfg.ACME, log), nil
}

func buildSecretProvider(cfg *config.Config) secrets.Provider {
	if cfg.SecretStore.Kind == "env" {
		return secrets.NewEnvProvider()
	}
	return secrets.NewVaultProvider(cfg.SecretStore.Addr, cfg.SecretStore.Mount, cfg.SecretStore.Path, cfg.SecretStore.Token)
}
