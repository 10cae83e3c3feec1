package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	requestTimeout    = 10 * time.Second
	transientAttempts = 3
	transientBackoff  = time.Second
)

// VaultProvider reads secrets from a Vault KV v2 mount over HTTP.
type VaultProvider struct {
	addr   string // e.g. https://vault.internal:8200
	mount  string // KV v2 mount, e.g. "secret"
	path   string // secret path under the mount, e.g. "certops"
	token  string
	client *http.Client
}

// NewVaultProvider creates a Vault KV v2 secret provider
func NewVaultProvider(addr, mount, path, token string) *VaultProvider {
	return &VaultProvider{
		addr:  addr,
		mount: mount,
		path:  path,
		token: token,
		client: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// kvResponse represents a Vault KV v2 read response
type kvResponse struct {
	Data struct {
		Data map[string]string `json:"data"`
	} `json:"data"`
	Errors []string `json:"errors"`
}

// Fetch reads the secret document once and resolves every requested name
// from it. A missing name fails the whole call with ErrNotFound.
func (p *VaultProvider) Fetch(ctx context.Context, names ...string) (map[string]string, error) {
	doc, err := p.read(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(names))
	for _, name := range names {
		value, ok := doc[name]
		if !ok || value == "" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		out[name] = value
	}
	return out, nil
}

// read performs the KV v2 GET with bounded retry on 5xx responses.
// Auth failures and missing paths are semantic errors and are not retried.
func (p *VaultProvider) read(ctx context.Context) (map[string]string, error) {
	url := fmt.Sprintf("%s/v1/%s/data/%s", p.addr, p.mount, p.path)

	var lastErr error
	for attempt := 0; attempt < transientAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(transientBackoff << (attempt - 1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		doc, retryable, err := p.readOnce(ctx, url)
		if err == nil {
			return doc, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (p *VaultProvider) readOnce(ctx context.Context, url string) (map[string]string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("%w: path %s/%s", ErrNotFound, p.mount, p.path)
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return nil, false, fmt.Errorf("%w: auth rejected (status %d)", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("%w: unexpected status %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var kv kvResponse
	if err := json.Unmarshal(body, &kv); err != nil {
		return nil, false, fmt.Errorf("%w: failed to parse response: %v", ErrUnavailable, err)
	}
	return kv.Data.Data, false, nil
}
