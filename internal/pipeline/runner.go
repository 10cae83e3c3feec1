// Package pipeline sequences one certificate run end to end: fetch secret
// material, resolve the ACME account, issue via dns-01, deploy to the target
// and verify the binding. Every stage transition lands in the activity
// journal, and a failed run still reports the outcome of every stage that
// ran before the failure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"certops/internal/acme"
	"certops/internal/config"
	"certops/internal/deploy"
	"certops/internal/model"
	"certops/internal/secrets"
)

// Stage names, in execution order
const (
	StageSecrets = "secrets"
	StageAccount = "account"
	StageIssue   = "issue"
	StageDeploy  = "deploy"
	StageVerify  = "verify"
)

// Stage outcome statuses
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// StageOutcome is the recorded result of one pipeline stage
type StageOutcome struct {
	Stage      string `json:"stage"`
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// Request describes one pipeline run
type Request struct {
	RunID       string
	Domain      string
	Site        string
	Port        int
	Environment string // production or staging, selects the ACME directory
}

// RunResult is the complete outcome of one run. Stages always holds an entry
// for every stage; stages after the first failure are marked skipped.
type RunResult struct {
	RunID       string
	Domain      string
	Status      string // success or failed
	Fingerprint string
	Artifact    *acme.Artifact
	Stages      []StageOutcome
	Err         error
}

// Narrow views of the pipeline's collaborators, so runs are testable with
// fakes.
type accountResolver interface {
	EnsureAccount(ctx context.Context, directoryURL, accountKeyPEM, contact string) (*acme.AccountIdentity, error)
}

type certificateIssuer interface {
	Issue(ctx context.Context, account *acme.AccountIdentity, domain string) (*acme.Artifact, error)
}

type targetDeployer interface {
	Deploy(ctx context.Context, artifact *acme.Artifact, site string, port int) (*deploy.Deployment, error)
}

type targetVerifier interface {
	Verify(ctx context.Context, site string, port int, fingerprint string) (bool, string, error)
}

// DNSCredentialSink receives the DNS provider host and credentials fetched
// fresh for each run. The production implementation is the managed DNS
// provider client.
type DNSCredentialSink interface {
	UpdateCredentials(host, credentials string)
}

// Runner executes pipeline runs
type Runner struct {
	secrets  secrets.Provider
	accounts accountResolver
	issuer   certificateIssuer
	deployer targetDeployer
	verifier targetVerifier
	dnsSink  DNSCredentialSink
	journal  Journal
	acmeCfg  config.ACMEConfig
	logger   *logrus.Entry
}

// NewRunner wires a runner from its collaborators
func NewRunner(provider secrets.Provider, accounts *acme.AccountManager, issuer *acme.Issuer, binder *deploy.Binder, probe *deploy.Probe, dnsSink DNSCredentialSink, journal Journal, acmeCfg config.ACMEConfig, logger *logrus.Entry) *Runner {
	return newRunner(provider, accounts, issuer, binder, probe, dnsSink, journal, acmeCfg, logger)
}

func newRunner(provider secrets.Provider, accounts accountResolver, issuer certificateIssuer, deployer targetDeployer, verifier targetVerifier, dnsSink DNSCredentialSink, journal Journal, acmeCfg config.ACMEConfig, logger *logrus.Entry) *Runner {
	if journal == nil {
		journal = NopJournal{}
	}
	return &Runner{
		secrets:  provider,
		accounts: accounts,
		issuer:   issuer,
		deployer: deployer,
		verifier: verifier,
		dnsSink:  dnsSink,
		journal:  journal,
		acmeCfg:  acmeCfg,
		logger:   logger.WithField("component", "pipeline"),
	}
}

// Run executes all stages for one request. It never returns an error; the
// result carries the outcome, including the first failing stage's error.
func (r *Runner) Run(ctx context.Context, req Request) *RunResult {
	log := r.logger.WithFields(logrus.Fields{"run_id": req.RunID, "domain": req.Domain})
	log.Info("pipeline run started")

	result := &RunResult{RunID: req.RunID, Domain: req.Domain}

	var (
		accountKeyPEM string
		account       *acme.AccountIdentity
	)

	stages := []struct {
		name string
		fn   func(ctx context.Context) (string, error)
	}{
		{StageSecrets, func(ctx context.Context) (string, error) {
			// The full bundle is fetched fresh per run; DNS provider
			// credentials are never held across runs.
			material, err := r.secrets.Fetch(ctx, secrets.NameAccountKey, secrets.NameDNSHost, secrets.NameDNSCredentials)
			if err != nil {
				return "", err
			}
			accountKeyPEM = material[secrets.NameAccountKey]
			if r.dnsSink != nil {
				r.dnsSink.UpdateCredentials(material[secrets.NameDNSHost], material[secrets.NameDNSCredentials])
			}
			return "secret material fetched", nil
		}},
		{StageAccount, func(ctx context.Context) (string, error) {
			var err error
			account, err = r.accounts.EnsureAccount(ctx, r.acmeCfg.DirectoryURL(req.Environment), accountKeyPEM, r.acmeCfg.Contact)
			if err != nil {
				return "", err
			}
			return "account " + account.URI, nil
		}},
		{StageIssue, func(ctx context.Context) (string, error) {
			artifact, err := r.issuer.Issue(ctx, account, req.Domain)
			if err != nil {
				return "", err
			}
			result.Artifact = artifact
			result.Fingerprint = artifact.Fingerprint
			return "issued " + artifact.Fingerprint, nil
		}},
		{StageDeploy, func(ctx context.Context) (string, error) {
			deployment, err := r.deployer.Deploy(ctx, result.Artifact, req.Site, req.Port)
			if err != nil {
				return "", err
			}
			switch {
			case deployment.Imported && deployment.Updated:
				return "certificate imported, binding updated", nil
			case deployment.Updated:
				return "binding updated to existing certificate", nil
			default:
				return "deployment already current", nil
			}
		}},
		{StageVerify, func(ctx context.Context) (string, error) {
			ok, reason, err := r.verifier.Verify(ctx, req.Site, req.Port, result.Fingerprint)
			if err != nil {
				return "", err
			}
			if !ok {
				return "", errors.New(reason)
			}
			return "binding verified", nil
		}},
	}

	failed := false
	for _, stage := range stages {
		if failed {
			result.Stages = append(result.Stages, StageOutcome{Stage: stage.name, Status: OutcomeSkipped})
			continue
		}

		start := time.Now()
		detail, err := stage.fn(ctx)
		outcome := StageOutcome{
			Stage:      stage.name,
			DurationMs: time.Since(start).Milliseconds(),
		}

		if err != nil {
			outcome.Status = OutcomeFailed
			outcome.Detail = err.Error()
			result.Err = fmt.Errorf("%s: %w", stage.name, err)
			r.journal.Record(req.RunID, req.Domain, stage.name, model.ActivityLevelError, err.Error())
			log.WithField("stage", stage.name).Errorf("stage failed: %v", err)
			failed = true
		} else {
			outcome.Status = OutcomeSuccess
			outcome.Detail = detail
			r.journal.Record(req.RunID, req.Domain, stage.name, model.ActivityLevelInfo, detail)
			log.WithField("stage", stage.name).Info(detail)
		}
		result.Stages = append(result.Stages, outcome)
	}

	if failed {
		result.Status = model.IssuanceRequestStatusFailed
		log.Warn("pipeline run failed")
	} else {
		result.Status = model.IssuanceRequestStatusSuccess
		log.WithField("fingerprint", result.Fingerprint).Info("pipeline run completed")
	}
	return result
}
