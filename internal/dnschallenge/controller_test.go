package dnschallenge

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// fakeProvider records provider calls and can inject failures
type fakeProvider struct {
	createErr   error
	deleteErr   error
	createCalls int
	deleteCalls int
	lastFQDN    string
	lastValue   string
}

func (f *fakeProvider) CreateTXT(_ context.Context, _, fqdn, value string, _ int) (string, error) {
	f.createCalls++
	f.lastFQDN = fqdn
	f.lastValue = value
	if f.createErr != nil {
		return "", f.createErr
	}
	return "rec-1", nil
}

func (f *fakeProvider) DeleteTXT(_ context.Context, _, _ string) error {
	f.deleteCalls++
	return f.deleteErr
}

// fakeResolver returns scripted TXT answers per poll
type fakeResolver struct {
	answers [][]string // one slice of values per lookup call
	calls   int
}

func (f *fakeResolver) LookupTXT(_ context.Context, _ string) ([]string, error) {
	f.calls++
	if f.calls <= len(f.answers) {
		return f.answers[f.calls-1], nil
	}
	return nil, nil
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

func newTestController(p Provider, r Resolver, maxAttempts int) *Controller {
	return NewController(p, r, "zone-1", PollConfig{
		Interval:    time.Millisecond,
		MaxAttempts: maxAttempts,
	}, testLogger())
}

func TestProvisionCreatesChallengeRecord(t *testing.T) {
	provider := &fakeProvider{}
	c := newTestController(provider, &fakeResolver{}, 3)

	record, err := c.Provision(context.Background(), "app.example.com", "token.thumbprint")
	if err != nil {
		t.Fatalf("Provision() failed: %v", err)
	}

	if record.FQDN != "_acme-challenge.app.example.com." {
		t.Errorf("Unexpected challenge FQDN: %s", record.FQDN)
	}
	if record.Value == "" {
		t.Error("Expected non-empty TXT value")
	}
	if record.State != StateCreated {
		t.Errorf("Expected state %s, got %s", StateCreated, record.State)
	}
	if provider.lastValue != record.Value {
		t.Error("Provider received a different value than the record holds")
	}
}

func TestProvisionMapsErrors(t *testing.T) {
	tests := []struct {
		name      string
		createErr error
		wantErr   error
	}{
		{
			name:      "auth failure passes through",
			createErr: fmt.Errorf("%w: status 403", ErrProviderAuth),
			wantErr:   ErrProviderAuth,
		},
		{
			name:      "other failures map to record create",
			createErr: errors.New("boom"),
			wantErr:   ErrRecordCreate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(&fakeProvider{createErr: tt.createErr}, &fakeResolver{}, 3)
			_, err := c.Provision(context.Background(), "app.example.com", "ka")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAwaitPropagationReadyOnSecondPoll(t *testing.T) {
	provider := &fakeProvider{}
	c := newTestController(provider, &fakeResolver{}, 3)

	record, err := c.Provision(context.Background(), "app.example.com", "ka")
	if err != nil {
		t.Fatalf("Provision() failed: %v", err)
	}

	resolver := &fakeResolver{answers: [][]string{
		{"something-else"},
		{"something-else", record.Value},
	}}
	c.resolver = resolver

	status, err := c.AwaitPropagation(context.Background(), record)
	if err != nil {
		t.Fatalf("AwaitPropagation() failed: %v", err)
	}
	if status != PropagationReady {
		t.Errorf("Expected ready, got %s", status)
	}
	if resolver.calls != 2 {
		t.Errorf("Expected confirmation on poll 2, got %d polls", resolver.calls)
	}
	if record.State != StatePropagationConfirmed {
		t.Errorf("Expected state %s, got %s", StatePropagationConfirmed, record.State)
	}
}

func TestAwaitPropagationTimedOutAfterExactAttempts(t *testing.T) {
	resolver := &fakeResolver{} // never returns the expected value
	c := newTestController(&fakeProvider{}, resolver, 3)

	record := &Record{FQDN: "_acme-challenge.app.example.com.", Value: "v", State: StateCreated}
	status, err := c.AwaitPropagation(context.Background(), record)
	if err != nil {
		t.Fatalf("AwaitPropagation() failed: %v", err)
	}
	if status != PropagationTimedOut {
		t.Errorf("Expected timed_out, got %s", status)
	}
	if resolver.calls != 3 {
		t.Errorf("Expected exactly 3 polls, got %d", resolver.calls)
	}
}

func TestAwaitPropagationCancelled(t *testing.T) {
	c := newTestController(&fakeProvider{}, &fakeResolver{}, 1000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	record := &Record{FQDN: "f", Value: "v", State: StateCreated}
	_, err := c.AwaitPropagation(ctx, record)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestCleanupExactlyOnce(t *testing.T) {
	provider := &fakeProvider{}
	c := newTestController(provider, &fakeResolver{}, 3)

	record, err := c.Provision(context.Background(), "app.example.com", "ka")
	if err != nil {
		t.Fatalf("Provision() failed: %v", err)
	}

	if err := c.Cleanup(record); err != nil {
		t.Fatalf("Cleanup() failed: %v", err)
	}
	if record.State != StateCleaned {
		t.Errorf("Expected state %s, got %s", StateCleaned, record.State)
	}

	// Second cleanup must not hit the provider again
	if err := c.Cleanup(record); err != nil {
		t.Fatalf("Second Cleanup() failed: %v", err)
	}
	if provider.deleteCalls != 1 {
		t.Errorf("Expected exactly one provider delete, got %d", provider.deleteCalls)
	}
}

func TestCleanupRecordAlreadyGone(t *testing.T) {
	provider := &fakeProvider{deleteErr: ErrRecordNotFound}
	c := newTestController(provider, &fakeResolver{}, 3)

	record := &Record{FQDN: "f", Value: "v", ProviderRecordID: "rec-1", State: StateCreated}
	if err := c.Cleanup(record); err != nil {
		t.Errorf("Cleanup() of already-deleted record must succeed, got %v", err)
	}
	if record.State != StateCleaned {
		t.Errorf("Expected state %s, got %s", StateCleaned, record.State)
	}
}

func TestCleanupNilAndUnprovisioned(t *testing.T) {
	provider := &fakeProvider{}
	c := newTestController(provider, &fakeResolver{}, 3)

	if err := c.Cleanup(nil); err != nil {
		t.Errorf("Cleanup(nil) must be a no-op, got %v", err)
	}
	// Provisioning failed before the provider assigned an ID
	if err := c.Cleanup(&Record{State: StatePending}); err != nil {
		t.Errorf("Cleanup() of unprovisioned record must be a no-op, got %v", err)
	}
	if provider.deleteCalls != 0 {
		t.Errorf("Expected no provider deletes, got %d", provider.deleteCalls)
	}
}
