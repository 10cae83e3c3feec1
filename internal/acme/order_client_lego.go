package acme

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-acme/lego/v4/acme"
	acmeapi "github.com/go-acme/lego/v4/acme/api"
)

const userAgent = "certops"

// legoOrderClient adapts lego's low-level directory API to the orderClient
// interface. One client is bound to one account identity.
type legoOrderClient struct {
	core *acmeapi.Core
}

// newLegoOrderClient builds the low-level client signing as the account
func newLegoOrderClient(account *AccountIdentity) (orderClient, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	core, err := acmeapi.New(httpClient, userAgent, account.DirectoryURL, account.URI, account.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create ACME client: %w", err)
	}
	return &legoOrderClient{core: core}, nil
}

func (c *legoOrderClient) NewOrder(_ context.Context, domain string) (*orderInfo, error) {
	ext, err := c.core.Orders.New([]string{domain})
	if err != nil {
		return nil, err
	}
	return mapOrder(ext.Order, ext.Location), nil
}

func (c *legoOrderClient) GetOrder(_ context.Context, orderURL string) (*orderInfo, error) {
	ext, err := c.core.Orders.Get(orderURL)
	if err != nil {
		return nil, err
	}
	return mapOrder(ext.Order, orderURL), nil
}

func (c *legoOrderClient) GetAuthorization(_ context.Context, authzURL string) (*authzInfo, error) {
	authz, err := c.core.Authorizations.Get(authzURL)
	if err != nil {
		return nil, err
	}

	info := &authzInfo{
		Domain: authz.Identifier.Value,
		Status: string(authz.Status),
	}
	for _, ch := range authz.Challenges {
		if ch.Type == "dns-01" {
			info.ChallengeURL = ch.URL
			info.Token = ch.Token
			return info, nil
		}
	}
	return nil, errors.New("server offered no dns-01 challenge")
}

func (c *legoOrderClient) AcceptChallenge(_ context.Context, challengeURL string) error {
	_, err := c.core.Challenges.New(challengeURL)
	return err
}

func (c *legoOrderClient) KeyAuthorization(token string) (string, error) {
	return c.core.GetKeyAuthorization(token)
}

func (c *legoOrderClient) Finalize(_ context.Context, finalizeURL string, csr []byte) (*orderInfo, error) {
	ext, err := c.core.Orders.UpdateForCSR(finalizeURL, csr)
	if err != nil {
		return nil, err
	}
	return mapOrder(ext.Order, ""), nil
}

func (c *legoOrderClient) FetchCertificate(_ context.Context, certURL string) ([]byte, []byte, error) {
	return c.core.Certificates.Get(certURL, true)
}

func mapOrder(o acme.Order, location string) *orderInfo {
	return &orderInfo{
		URL:            location,
		Status:         string(o.Status),
		AuthzURLs:      o.Authorizations,
		FinalizeURL:    o.Finalize,
		CertificateURL: o.Certificate,
	}
}
