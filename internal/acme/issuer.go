// Package acme drives certificate issuance against an ACME directory using
// the dns-01 challenge. Account resolution is find-or-create keyed by the
// account key material; the order state machine provisions the challenge
// record, waits for propagation, triggers validation, finalizes with a fresh
// CSR and downloads the issued chain. The challenge record is cleaned up on
// every exit path.
package acme

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"certops/internal/dnschallenge"
	"certops/internal/lock"
)

// challengeController is the challenge lifecycle surface the issuer drives;
// the production implementation is dnschallenge.Controller.
type challengeController interface {
	Provision(ctx context.Context, domain, keyAuth string) (*dnschallenge.Record, error)
	AwaitPropagation(ctx context.Context, record *dnschallenge.Record) (dnschallenge.PropagationStatus, error)
	Cleanup(record *dnschallenge.Record) error
}

// PollConfig bounds the order status polling loop
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

// Issuer runs the ACME order state machine for single-domain dns-01 issuance.
// At most one issuance per domain runs at a time; concurrent attempts fail
// fast with ErrChallengeInProgress.
type Issuer struct {
	challenges challengeController
	locker     lock.Locker
	leaseTTL   time.Duration
	poll       PollConfig
	logger     *logrus.Entry

	// seam for tests; defaults to the lego-backed client
	newOrderClient func(account *AccountIdentity) (orderClient, error)
}

// NewIssuer creates an issuer. leaseTTL bounds how long a crashed run can
// block the next attempt for the same domain.
func NewIssuer(challenges *dnschallenge.Controller, locker lock.Locker, leaseTTL time.Duration, poll PollConfig, logger *logrus.Entry) *Issuer {
	return newIssuer(challenges, locker, leaseTTL, poll, logger)
}

func newIssuer(challenges challengeController, locker lock.Locker, leaseTTL time.Duration, poll PollConfig, logger *logrus.Entry) *Issuer {
	if leaseTTL <= 0 {
		leaseTTL = 10 * time.Minute
	}
	if poll.Interval <= 0 {
		poll.Interval = 5 * time.Second
	}
	if poll.MaxAttempts <= 0 {
		poll.MaxAttempts = 24
	}
	return &Issuer{
		challenges:     challenges,
		locker:         locker,
		leaseTTL:       leaseTTL,
		poll:           poll,
		logger:         logger.WithField("component", "acme-issuer"),
		newOrderClient: newLegoOrderClient,
	}
}

// Issue obtains a certificate for the domain. It either returns a complete
// artifact or an error; no partial artifact is ever produced.
func (i *Issuer) Issue(ctx context.Context, account *AccountIdentity, domain string) (*Artifact, error) {
	release, err := i.locker.Acquire(ctx, "acme-challenge:"+domain, i.leaseTTL)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return nil, fmt.Errorf("%w: %s", ErrChallengeInProgress, domain)
		}
		return nil, fmt.Errorf("%w: failed to acquire challenge lease: %v", ErrIssuanceFailed, err)
	}
	defer release()

	client, err := i.newOrderClient(account)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuanceFailed, err)
	}

	return i.runOrder(ctx, client, domain)
}

func (i *Issuer) runOrder(ctx context.Context, client orderClient, domain string) (*Artifact, error) {
	log := i.logger.WithField("domain", domain)

	// Step 1: open the order
	order, err := client.NewOrder(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create order: %v", ErrIssuanceFailed, err)
	}
	log.WithField("order", order.URL).Info("order created")

	// Step 2: solve the dns-01 challenge unless the authorization is
	// already valid from a previous order
	if order.Status == statusPending {
		if len(order.AuthzURLs) == 0 {
			return nil, fmt.Errorf("%w: pending order has no authorizations", ErrIssuanceFailed)
		}

		// The record must stay live until the server finishes validating,
		// so cleanup is deferred to the end of the run, success or not.
		record, err := i.solveChallenge(ctx, client, domain, order.AuthzURLs[0])
		if record != nil {
			defer func() {
				if err := i.challenges.Cleanup(record); err != nil {
					log.Errorf("challenge cleanup failed: %v", err)
				}
			}()
		}
		if err != nil {
			return nil, err
		}

		// Step 3: wait for the server to validate and mark the order ready
		order, err = i.awaitOrderStatus(ctx, client, order.URL, statusReady)
		if err != nil {
			return nil, err
		}
	}

	// Step 4: finalize with a fresh key and CSR
	certKey, err := generateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate certificate key: %v", ErrIssuanceFailed, err)
	}
	keyPEM, err := encodePrivateKey(certKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuanceFailed, err)
	}

	csr, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: domain},
		DNSNames: []string{domain},
	}, certKey)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create CSR: %v", ErrIssuanceFailed, err)
	}

	finalized, err := client.Finalize(ctx, order.FinalizeURL, csr)
	if err != nil {
		return nil, fmt.Errorf("%w: finalize failed: %v", ErrIssuanceFailed, err)
	}

	// Step 5: wait out the processing window if the server did not issue
	// synchronously
	if finalized.Status != statusValid || finalized.CertificateURL == "" {
		finalized, err = i.awaitOrderStatus(ctx, client, order.URL, statusValid)
		if err != nil {
			return nil, err
		}
	}
	if finalized.CertificateURL == "" {
		return nil, fmt.Errorf("%w: valid order has no certificate URL", ErrIssuanceFailed)
	}

	// Step 6: download the chain and package the artifact
	certPEM, issuerPEM, err := client.FetchCertificate(ctx, finalized.CertificateURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to download certificate: %v", ErrIssuanceFailed, err)
	}

	artifact, err := newArtifact(domain, string(certPEM), keyPEM, string(issuerPEM))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuanceFailed, err)
	}

	log.WithFields(logrus.Fields{
		"fingerprint": artifact.Fingerprint,
		"not_after":   artifact.NotAfter.Format(time.RFC3339),
	}).Info("certificate issued")
	return artifact, nil
}

// solveChallenge provisions the challenge TXT record, confirms propagation
// and tells the server to validate. Whenever a record was provisioned it is
// returned, error or not, so the caller can guarantee cleanup.
func (i *Issuer) solveChallenge(ctx context.Context, client orderClient, domain, authzURL string) (*dnschallenge.Record, error) {
	authz, err := client.GetAuthorization(ctx, authzURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch authorization: %v", ErrIssuanceFailed, err)
	}
	if authz.Status == statusValid {
		return nil, nil
	}

	keyAuth, err := client.KeyAuthorization(authz.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuanceFailed, err)
	}

	record, err := i.challenges.Provision(ctx, domain, keyAuth)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuanceFailed, err)
	}

	status, err := i.challenges.AwaitPropagation(ctx, record)
	if err != nil {
		// The wait surfaces ctx.Err() on cancellation; that must stay
		// distinguishable from an issuance failure.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return record, err
		}
		return record, fmt.Errorf("%w: %v", ErrIssuanceFailed, err)
	}
	if status != dnschallenge.PropagationReady {
		return record, fmt.Errorf("%w: %s not visible on authoritative DNS", ErrPropagationTimeout, record.FQDN)
	}

	if err := client.AcceptChallenge(ctx, authz.ChallengeURL); err != nil {
		return record, fmt.Errorf("%w: failed to trigger validation: %v", ErrIssuanceFailed, err)
	}
	return record, nil
}

// awaitOrderStatus polls the order until it reaches the wanted status, the
// server rejects it, or the polling budget runs out.
func (i *Issuer) awaitOrderStatus(ctx context.Context, client orderClient, orderURL, want string) (*orderInfo, error) {
	for attempt := 1; attempt <= i.poll.MaxAttempts; attempt++ {
		order, err := client.GetOrder(ctx, orderURL)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to poll order: %v", ErrIssuanceFailed, err)
		}

		switch order.Status {
		case statusInvalid:
			return nil, fmt.Errorf("%w: order %s", ErrValidationInvalid, orderURL)
		case want:
			return order, nil
		case statusValid:
			// valid satisfies a wait for ready; the order skipped ahead
			return order, nil
		}

		if attempt == i.poll.MaxAttempts {
			break
		}
		select {
		case <-time.After(i.poll.Interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: order %s never reached %s", ErrValidationTimeout, orderURL, want)
}
