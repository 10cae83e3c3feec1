package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvProvider resolves secrets from environment variables. A logical name
// like "acme-account-key" maps to CERTOPS_SECRET_ACME_ACCOUNT_KEY.
// Intended for development and tests; production uses VaultProvider.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment-backed secret provider
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{prefix: "CERTOPS_SECRET_"}
}

// Fetch resolves every requested name from the environment
func (p *EnvProvider) Fetch(_ context.Context, names ...string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		key := p.prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		value := os.Getenv(key)
		if value == "" {
			return nil, fmt.Errorf("%w: %s (env %s)", ErrNotFound, name, key)
		}
		out[name] = value
	}
	return out, nil
}
