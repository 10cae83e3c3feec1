// Package cloudflare implements the dnschallenge.Provider interface against
// the Cloudflare DNS API.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"certops/internal/dnschallenge"
)

const requestTimeout = 10 * time.Second

// Cloudflare error codes for a missing DNS record
const (
	codeRecordNotFound   = 81044
	codeRecordIDNotFound = 81043
)

// Provider talks to the Cloudflare v4 API with an API token. The API base
// URL and token come from the secret store and are refreshed per run through
// UpdateCredentials.
type Provider struct {
	mu       sync.RWMutex
	baseURL  string // e.g. https://api.cloudflare.com/client/v4
	apiToken string
	client   *http.Client
}

// NewProvider creates a Cloudflare DNS provider. UpdateCredentials must be
// called before the first record operation.
func NewProvider() *Provider {
	return &Provider{
		client: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// UpdateCredentials replaces the API base URL (the dns-provider-host secret)
// and token (dns-provider-credentials). Safe to call concurrently with
// in-flight requests.
func (p *Provider) UpdateCredentials(host, credential string) {
	p.mu.Lock()
	p.baseURL = host
	p.apiToken = credential
	p.mu.Unlock()
}

func (p *Provider) credentials() (string, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.baseURL, p.apiToken
}

// apiRecord represents a Cloudflare DNS record (API response)
type apiRecord struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
}

// apiResponse represents a Cloudflare API response envelope
type apiResponse struct {
	Success bool            `json:"success"`
	Errors  []apiError      `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

// apiError represents a Cloudflare API error
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CreateTXT creates a TXT record and returns its provider ID
func (p *Provider) CreateTXT(ctx context.Context, zoneID, fqdn, value string, ttl int) (string, error) {
	path := fmt.Sprintf("/zones/%s/dns_records", zoneID)

	payload := map[string]interface{}{
		"type":    "TXT",
		"name":    fqdn,
		"content": value,
		"ttl":     ttl,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := p.do(ctx, "POST", path, body)
	if err != nil {
		return "", err
	}

	var created apiRecord
	if err := json.Unmarshal(resp.Result, &created); err != nil {
		return "", fmt.Errorf("failed to parse result: %w", err)
	}
	return created.ID, nil
}

// DeleteTXT deletes a TXT record by its provider ID. A record that is
// already gone maps to dnschallenge.ErrRecordNotFound.
func (p *Provider) DeleteTXT(ctx context.Context, zoneID, recordID string) error {
	path := fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, recordID)

	_, err := p.do(ctx, "DELETE", path, nil)
	return err
}

// do sends one API request and maps the Cloudflare response envelope to
// the dnschallenge error taxonomy.
func (p *Provider) do(ctx context.Context, method, path string, body []byte) (*apiResponse, error) {
	baseURL, apiToken := p.credentials()
	if baseURL == "" {
		return nil, fmt.Errorf("%w: provider credentials not configured", dnschallenge.ErrProviderAuth)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", dnschallenge.ErrProviderAuth, resp.StatusCode)
	case http.StatusNotFound:
		return nil, dnschallenge.ErrRecordNotFound
	}

	var cfResp apiResponse
	if err := json.Unmarshal(respBody, &cfResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !cfResp.Success {
		for _, e := range cfResp.Errors {
			if e.Code == codeRecordNotFound || e.Code == codeRecordIDNotFound {
				return nil, dnschallenge.ErrRecordNotFound
			}
		}
		return nil, fmt.Errorf("cloudflare API error: %s", formatErrors(cfResp.Errors))
	}

	return &cfResp, nil
}

// formatErrors formats Cloudflare API errors for logging
func formatErrors(errs []apiError) string {
	if len(errs) == 0 {
		return "unknown error"
	}
	msg := ""
	for i, e := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("[%d] %s", e.Code, e.Message)
	}
	return msg
}
