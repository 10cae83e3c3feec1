package acme

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"testing"
	"time"

	"software.sslmate.com/src/go-pkcs12"

	"certops/internal/dnschallenge"
	"certops/internal/lock"
)

type fakeChallenges struct {
	provisionErr     error
	propagation      dnschallenge.PropagationStatus
	propagationErr   error
	cleanupErr       error
	cancelDuringWait context.CancelFunc

	provisionCalls int
	cleanupCalls   int
	lastRecord     *dnschallenge.Record
}

func (f *fakeChallenges) Provision(_ context.Context, domain, keyAuth string) (*dnschallenge.Record, error) {
	f.provisionCalls++
	if f.provisionErr != nil {
		return nil, f.provisionErr
	}
	f.lastRecord = &dnschallenge.Record{
		Domain:           domain,
		FQDN:             "_acme-challenge." + domain + ".",
		Value:            keyAuth,
		ProviderRecordID: "rec-1",
		State:            dnschallenge.StateCreated,
	}
	return f.lastRecord, nil
}

func (f *fakeChallenges) AwaitPropagation(ctx context.Context, _ *dnschallenge.Record) (dnschallenge.PropagationStatus, error) {
	if f.cancelDuringWait != nil {
		f.cancelDuringWait()
		return "", ctx.Err()
	}
	if f.propagationErr != nil {
		return "", f.propagationErr
	}
	if f.propagation == "" {
		return dnschallenge.PropagationReady, nil
	}
	return f.propagation, nil
}

func (f *fakeChallenges) Cleanup(record *dnschallenge.Record) error {
	f.cleanupCalls++
	if f.cleanupErr != nil {
		return f.cleanupErr
	}
	if record != nil {
		record.State = dnschallenge.StateCleaned
	}
	return nil
}

type fakeOrderClient struct {
	newOrderErr  error
	authzStatus  string
	authzErr     error
	acceptErr    error
	pollStatuses []string
	finalizeErr  error
	certPEM      []byte

	acceptCalls int
	pollCalls   int
	fetchCalls  int
}

func (c *fakeOrderClient) NewOrder(_ context.Context, domain string) (*orderInfo, error) {
	if c.newOrderErr != nil {
		return nil, c.newOrderErr
	}
	return &orderInfo{
		URL:         "https://ca.example.com/order/1",
		Status:      statusPending,
		AuthzURLs:   []string{"https://ca.example.com/authz/1"},
		FinalizeURL: "https://ca.example.com/finalize/1",
	}, nil
}

func (c *fakeOrderClient) GetOrder(_ context.Context, orderURL string) (*orderInfo, error) {
	idx := c.pollCalls
	if idx >= len(c.pollStatuses) {
		idx = len(c.pollStatuses) - 1
	}
	c.pollCalls++

	order := &orderInfo{
		URL:         orderURL,
		Status:      c.pollStatuses[idx],
		FinalizeURL: "https://ca.example.com/finalize/1",
	}
	if order.Status == statusValid {
		order.CertificateURL = "https://ca.example.com/cert/1"
	}
	return order, nil
}

func (c *fakeOrderClient) GetAuthorization(_ context.Context, _ string) (*authzInfo, error) {
	if c.authzErr != nil {
		return nil, c.authzErr
	}
	status := c.authzStatus
	if status == "" {
		status = statusPending
	}
	return &authzInfo{
		Domain:       "app.example.com",
		Status:       status,
		ChallengeURL: "https://ca.example.com/chall/1",
		Token:        "tok-1",
	}, nil
}

func (c *fakeOrderClient) AcceptChallenge(_ context.Context, _ string) error {
	c.acceptCalls++
	return c.acceptErr
}

func (c *fakeOrderClient) KeyAuthorization(token string) (string, error) {
	return token + ".thumbprint", nil
}

func (c *fakeOrderClient) Finalize(_ context.Context, _ string, _ []byte) (*orderInfo, error) {
	if c.finalizeErr != nil {
		return nil, c.finalizeErr
	}
	return &orderInfo{
		URL:         "https://ca.example.com/order/1",
		Status:      statusProcessing,
		FinalizeURL: "https://ca.example.com/finalize/1",
	}, nil
}

func (c *fakeOrderClient) FetchCertificate(_ context.Context, _ string) ([]byte, []byte, error) {
	c.fetchCalls++
	return c.certPEM, nil, nil
}

func testCertPEM(t *testing.T, domain string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate cert key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: domain},
		DNSNames:     []string{domain},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(90 * 24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func newTestIssuer(challenges *fakeChallenges, client *fakeOrderClient) *Issuer {
	issuer := newIssuer(challenges, lock.NewMemoryLocker(), time.Minute,
		PollConfig{Interval: time.Millisecond, MaxAttempts: 3}, testLogger())
	issuer.newOrderClient = func(_ *AccountIdentity) (orderClient, error) {
		return client, nil
	}
	return issuer
}

func TestIssueSuccess(t *testing.T) {
	const domain = "app.example.com"
	challenges := &fakeChallenges{}
	client := &fakeOrderClient{
		// validation takes one extra poll, issuance one more
		pollStatuses: []string{statusPending, statusReady, statusProcessing, statusValid},
		certPEM:      testCertPEM(t, domain),
	}
	issuer := newTestIssuer(challenges, client)

	artifact, err := issuer.Issue(context.Background(), &AccountIdentity{}, domain)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if artifact.Domain != domain {
		t.Errorf("artifact domain = %q, want %q", artifact.Domain, domain)
	}
	if artifact.Fingerprint == "" {
		t.Error("artifact has no fingerprint")
	}
	if artifact.KeyPEM == "" {
		t.Error("artifact has no private key")
	}
	if client.acceptCalls != 1 {
		t.Errorf("challenge accepted %d times, want 1", client.acceptCalls)
	}
	if challenges.cleanupCalls != 1 {
		t.Errorf("cleanup called %d times, want 1", challenges.cleanupCalls)
	}

	// The bundle must round-trip under its passphrase and carry the leaf
	key, leaf, _, err := pkcs12.DecodeChain(artifact.Bundle, artifact.BundlePassphrase)
	if err != nil {
		t.Fatalf("failed to decode bundle: %v", err)
	}
	if key == nil {
		t.Error("bundle carries no private key")
	}
	if CertFingerprint(leaf) != artifact.Fingerprint {
		t.Error("bundle leaf does not match artifact fingerprint")
	}
}

func TestIssueSkipsChallengeForValidAuthorization(t *testing.T) {
	challenges := &fakeChallenges{}
	client := &fakeOrderClient{
		authzStatus:  statusValid,
		pollStatuses: []string{statusReady, statusValid},
		certPEM:      testCertPEM(t, "app.example.com"),
	}
	issuer := newTestIssuer(challenges, client)

	if _, err := issuer.Issue(context.Background(), &AccountIdentity{}, "app.example.com"); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if challenges.provisionCalls != 0 {
		t.Errorf("challenge provisioned %d times for a valid authorization", challenges.provisionCalls)
	}
	if client.acceptCalls != 0 {
		t.Errorf("challenge accepted %d times for a valid authorization", client.acceptCalls)
	}
}

func TestIssuePropagationTimeout(t *testing.T) {
	challenges := &fakeChallenges{propagation: dnschallenge.PropagationTimedOut}
	client := &fakeOrderClient{pollStatuses: []string{statusPending}}
	issuer := newTestIssuer(challenges, client)

	_, err := issuer.Issue(context.Background(), &AccountIdentity{}, "app.example.com")
	if !errors.Is(err, ErrPropagationTimeout) {
		t.Fatalf("Issue() error = %v, want ErrPropagationTimeout", err)
	}
	if client.acceptCalls != 0 {
		t.Error("validation triggered despite propagation timeout")
	}
	if challenges.cleanupCalls != 1 {
		t.Errorf("cleanup called %d times, want 1", challenges.cleanupCalls)
	}
}

func TestIssueValidationInvalid(t *testing.T) {
	challenges := &fakeChallenges{}
	client := &fakeOrderClient{pollStatuses: []string{statusPending, statusInvalid}}
	issuer := newTestIssuer(challenges, client)

	_, err := issuer.Issue(context.Background(), &AccountIdentity{}, "app.example.com")
	if !errors.Is(err, ErrValidationInvalid) {
		t.Fatalf("Issue() error = %v, want ErrValidationInvalid", err)
	}
	if challenges.cleanupCalls != 1 {
		t.Errorf("cleanup called %d times, want 1", challenges.cleanupCalls)
	}
}

func TestIssueValidationTimeout(t *testing.T) {
	challenges := &fakeChallenges{}
	client := &fakeOrderClient{pollStatuses: []string{statusPending}}
	issuer := newTestIssuer(challenges, client)

	_, err := issuer.Issue(context.Background(), &AccountIdentity{}, "app.example.com")
	if !errors.Is(err, ErrValidationTimeout) {
		t.Fatalf("Issue() error = %v, want ErrValidationTimeout", err)
	}
	if client.pollCalls != 3 {
		t.Errorf("order polled %d times, want exactly the attempt budget of 3", client.pollCalls)
	}
	if challenges.cleanupCalls != 1 {
		t.Errorf("cleanup called %d times, want 1", challenges.cleanupCalls)
	}
}

func TestIssueCleanupRunsOnTriggerFailure(t *testing.T) {
	challenges := &fakeChallenges{}
	client := &fakeOrderClient{
		acceptErr:    errors.New("server fault"),
		pollStatuses: []string{statusPending},
	}
	issuer := newTestIssuer(challenges, client)

	_, err := issuer.Issue(context.Background(), &AccountIdentity{}, "app.example.com")
	if !errors.Is(err, ErrIssuanceFailed) {
		t.Fatalf("Issue() error = %v, want ErrIssuanceFailed", err)
	}
	if challenges.cleanupCalls != 1 {
		t.Errorf("cleanup called %d times, want 1", challenges.cleanupCalls)
	}
}

func TestIssueConcurrentSameDomain(t *testing.T) {
	challenges := &fakeChallenges{}
	client := &fakeOrderClient{pollStatuses: []string{statusPending}}
	issuer := newTestIssuer(challenges, client)

	// another run already holds the domain lease
	release, err := issuer.locker.Acquire(context.Background(), "acme-challenge:app.example.com", time.Minute)
	if err != nil {
		t.Fatalf("failed to take lease: %v", err)
	}
	defer release()

	_, err = issuer.Issue(context.Background(), &AccountIdentity{}, "app.example.com")
	if !errors.Is(err, ErrChallengeInProgress) {
		t.Fatalf("Issue() error = %v, want ErrChallengeInProgress", err)
	}
	if challenges.provisionCalls != 0 {
		t.Error("challenge provisioned despite held lease")
	}
}

func TestIssueContextCanceledDuringPropagationWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	challenges := &fakeChallenges{cancelDuringWait: cancel}
	client := &fakeOrderClient{pollStatuses: []string{statusPending}}
	issuer := newTestIssuer(challenges, client)

	_, err := issuer.Issue(ctx, &AccountIdentity{}, "app.example.com")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Issue() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrIssuanceFailed) {
		t.Error("cancellation reported as a generic issuance failure")
	}
	if client.acceptCalls != 0 {
		t.Error("validation triggered after cancellation")
	}
	if challenges.cleanupCalls != 1 {
		t.Errorf("cleanup called %d times, want 1", challenges.cleanupCalls)
	}
}

func TestIssueContextCanceledDuringPolling(t *testing.T) {
	challenges := &fakeChallenges{}
	client := &fakeOrderClient{pollStatuses: []string{statusPending}}
	issuer := newTestIssuer(challenges, client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := issuer.Issue(ctx, &AccountIdentity{}, "app.example.com")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Issue() error = %v, want context.Canceled", err)
	}
	if challenges.cleanupCalls != 1 {
		t.Errorf("cleanup called %d times, want 1", challenges.cleanupCalls)
	}
}
