// Package deploy installs issued certificates on the deployment target
// through its admin API and verifies the resulting binding. Import is
// deduplicated by certificate fingerprint, and the binding for a (site, port)
// pair is updated in place rather than duplicated.
package deploy

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"certops/internal/config"
)

var (
	// ErrTargetAuth is returned when the target admin API rejects our
	// credentials or client certificate
	ErrTargetAuth = errors.New("target admin auth failed")
	// ErrImportFailed is returned when the certificate store rejects the bundle
	ErrImportFailed = errors.New("certificate import failed")
	// ErrCertNotFound is returned when no certificate with the fingerprint
	// exists in the target store
	ErrCertNotFound = errors.New("certificate not found on target")
	// ErrSiteNotFound is returned when the target knows no such site
	ErrSiteNotFound = errors.New("site not found on target")
	// ErrBindingUpdate is returned when the binding change is rejected
	ErrBindingUpdate = errors.New("binding update failed")
)

// TargetAPI is the admin surface of the deployment target. The production
// implementation is Client; tests use fakes.
type TargetAPI interface {
	ImportCertificate(ctx context.Context, bundle []byte, passphrase string) (fingerprint string, err error)
	HasCertificate(ctx context.Context, fingerprint string) (bool, error)
	GetBinding(ctx context.Context, site string) (*Binding, error)
	PutBinding(ctx context.Context, site string, port int, fingerprint string) error
}

// Client talks to the target admin API, optionally over mTLS
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a target admin client. When cfg.MTLS.Enabled the client
// presents its certificate and verifies the target against the configured CA.
func NewClient(baseURL string, cfg config.TargetConfig) (*Client, error) {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}

	if cfg.MTLS.Enabled {
		cert, err := tls.LoadX509KeyPair(cfg.MTLS.ClientCert, cfg.MTLS.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}

		caCert, err := os.ReadFile(cfg.MTLS.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA certificate")
		}

		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				RootCAs:      caCertPool,
				MinVersion:   tls.VersionTLS12,
			},
			TLSHandshakeTimeout: 15 * time.Second,
		}
	}

	return &Client{baseURL: baseURL, httpClient: httpClient}, nil
}

// ImportCertificate uploads the PKCS#12 bundle to the target's certificate
// store and returns the fingerprint the store assigned.
func (c *Client) ImportCertificate(ctx context.Context, bundle []byte, passphrase string) (string, error) {
	req := importRequest{
		Bundle:     base64.StdEncoding.EncodeToString(bundle),
		Passphrase: passphrase,
	}

	var resp importResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/certificates/import", req, &resp); err != nil {
		if errors.Is(err, ErrTargetAuth) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrImportFailed, err)
	}
	if resp.Data.Fingerprint == "" {
		return "", fmt.Errorf("%w: store returned no fingerprint", ErrImportFailed)
	}
	return resp.Data.Fingerprint, nil
}

// HasCertificate reports whether the store already holds the fingerprint
func (c *Client) HasCertificate(ctx context.Context, fingerprint string) (bool, error) {
	var resp certificateResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/certificates/"+url.PathEscape(fingerprint), nil, &resp)
	if err != nil {
		if errors.Is(err, ErrCertNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetBinding fetches the site's current TLS binding. A site with no binding
// yet returns a Binding with an empty fingerprint.
func (c *Client) GetBinding(ctx context.Context, site string) (*Binding, error) {
	var resp bindingResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/sites/"+url.PathEscape(site)+"/binding", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// PutBinding points the site's binding on the port at the fingerprint
func (c *Client) PutBinding(ctx context.Context, site string, port int, fingerprint string) error {
	req := bindingRequest{Port: port, Fingerprint: fingerprint}

	var resp bindingResponse
	if err := c.do(ctx, http.MethodPut, "/api/v1/sites/"+url.PathEscape(site)+"/binding", req, &resp); err != nil {
		if errors.Is(err, ErrTargetAuth) || errors.Is(err, ErrSiteNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrBindingUpdate, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, out interface{}) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to reach target: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch httpResp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrTargetAuth, httpResp.StatusCode)
	case http.StatusNotFound:
		return c.notFound(path)
	}
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("target returned status %d: %s", httpResp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	var envelope struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(respBody, &envelope); err == nil && envelope.Code != 0 {
		return fmt.Errorf("target returned error code %d: %s", envelope.Code, envelope.Message)
	}
	return nil
}

// notFound maps a 404 to the sentinel for the resource kind addressed by path
func (c *Client) notFound(path string) error {
	if strings.HasPrefix(path, "/api/v1/sites/") {
		return ErrSiteNotFound
	}
	return ErrCertNotFound
}
