// Package secrets fetches named secrets from an external vault. Values are
// held in memory for the duration of one pipeline run and never persisted.
package secrets

import (
	"context"
	"errors"
)

// Logical secret names used by the pipeline
const (
	NameAccountKey     = "acme-account-key"
	NameDNSHost        = "dns-provider-host"
	NameDNSCredentials = "dns-provider-credentials"
)

var (
	// ErrNotFound is returned when a requested secret name is absent
	ErrNotFound = errors.New("secret not found")
	// ErrUnavailable is returned on transport or auth failure to the store
	ErrUnavailable = errors.New("secret store unavailable")
)

// Provider fetches named secrets. Fetch fails if any requested name is
// absent; implementations are read-only and must not cache plaintext
// values beyond the call.
type Provider interface {
	Fetch(ctx context.Context, names ...string) (map[string]string, error)
}
