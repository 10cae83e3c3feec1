// Package dnschallenge provisions the _acme-challenge TXT record for DNS-01
// validation, confirms its propagation against authoritative resolvers, and
// guarantees the record is removed again on every exit path.
package dnschallenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	legodns "github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/sirupsen/logrus"
)

// Record states
const (
	StatePending              = "pending"
	StateCreated              = "created"
	StatePropagationConfirmed = "propagation_confirmed"
	StateCleaned              = "cleaned"
)

// PropagationStatus is the outcome of AwaitPropagation. A timeout is an
// expected result the caller decides how to handle, not an error.
type PropagationStatus string

const (
	PropagationReady    PropagationStatus = "ready"
	PropagationTimedOut PropagationStatus = "timed_out"
)

var (
	// ErrProviderAuth is returned when the DNS provider rejects our credentials
	ErrProviderAuth = errors.New("dns provider auth failed")
	// ErrRecordCreate is returned when the TXT record cannot be created
	ErrRecordCreate = errors.New("dns record create failed")
	// ErrRecordNotFound is returned by providers when a record is absent
	ErrRecordNotFound = errors.New("dns record not found")
)

// Record is the handle for one live challenge TXT record
type Record struct {
	Domain           string
	FQDN             string // _acme-challenge.<domain>
	Value            string // key-authorization digest
	ProviderRecordID string
	State            string
}

// PollConfig bounds the propagation polling loop
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

// Controller drives the challenge record lifecycle against one DNS zone
type Controller struct {
	provider Provider
	resolver Resolver
	zoneID   string
	poll     PollConfig
	logger   *logrus.Entry
}

// NewController creates a challenge controller for one zone
func NewController(provider Provider, resolver Resolver, zoneID string, poll PollConfig, logger *logrus.Entry) *Controller {
	if poll.Interval <= 0 {
		poll.Interval = 5 * time.Second
	}
	if poll.MaxAttempts <= 0 {
		poll.MaxAttempts = 24
	}
	return &Controller{
		provider: provider,
		resolver: resolver,
		zoneID:   zoneID,
		poll:     poll,
		logger:   logger.WithField("component", "dns-challenge"),
	}
}

// Provision computes the _acme-challenge TXT name and value from the
// key authorization and creates the record at the DNS provider.
func (c *Controller) Provision(ctx context.Context, domain, keyAuth string) (*Record, error) {
	fqdn, value := legodns.GetRecord(domain, keyAuth)

	record := &Record{
		Domain: domain,
		FQDN:   fqdn,
		Value:  value,
		State:  StatePending,
	}

	recordID, err := c.provider.CreateTXT(ctx, c.zoneID, fqdn, value, 60)
	if err != nil {
		if errors.Is(err, ErrProviderAuth) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRecordCreate, err)
	}

	record.ProviderRecordID = recordID
	record.State = StateCreated
	c.logger.WithFields(logrus.Fields{"domain": domain, "fqdn": fqdn}).Info("challenge record created")
	return record, nil
}

// AwaitPropagation polls authoritative DNS until the published TXT value
// matches or the attempt budget is exhausted. Lookup failures count as a
// failed poll and are retried on the next tick; they never abort the wait.
func (c *Controller) AwaitPropagation(ctx context.Context, record *Record) (PropagationStatus, error) {
	var lastErr error
	for attempt := 1; attempt <= c.poll.MaxAttempts; attempt++ {
		values, err := c.resolver.LookupTXT(ctx, record.FQDN)
		if err != nil {
			lastErr = err
			c.logger.WithField("fqdn", record.FQDN).Warnf("propagation lookup failed (attempt %d/%d): %v", attempt, c.poll.MaxAttempts, err)
		} else {
			for _, v := range values {
				if v == record.Value {
					record.State = StatePropagationConfirmed
					c.logger.WithField("fqdn", record.FQDN).Infof("propagation confirmed after %d polls", attempt)
					return PropagationReady, nil
				}
			}
		}

		if attempt == c.poll.MaxAttempts {
			break
		}
		select {
		case <-time.After(c.poll.Interval):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if lastErr != nil {
		c.logger.WithField("fqdn", record.FQDN).Warnf("propagation timed out, last lookup error: %v", lastErr)
	}
	return PropagationTimedOut, nil
}

// Cleanup deletes the challenge TXT record. It must be called on every exit
// path; calling it again after success is a no-op, and a record that was
// already gone at the provider counts as cleaned.
//
// A fresh bounded context is used because cleanup commonly runs after the
// run's context has been canceled.
func (c *Controller) Cleanup(record *Record) error {
	if record == nil || record.State == StateCleaned || record.ProviderRecordID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.provider.DeleteTXT(ctx, c.zoneID, record.ProviderRecordID); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			record.State = StateCleaned
			return nil
		}
		return fmt.Errorf("failed to delete challenge record %s: %w", record.FQDN, err)
	}

	record.State = StateCleaned
	c.logger.WithField("fqdn", record.FQDN).Info("challenge record cleaned up")
	return nil
}
