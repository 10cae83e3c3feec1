package acme

import "context"

// Order state machine states, as reported by the ACME server
const (
	statusPending    = "pending"
	statusReady      = "ready"
	statusProcessing = "processing"
	statusValid      = "valid"
	statusInvalid    = "invalid"
)

// orderInfo is the issuer's view of one ACME order
type orderInfo struct {
	URL            string
	Status         string
	AuthzURLs      []string
	FinalizeURL    string
	CertificateURL string
}

// authzInfo is the issuer's view of one authorization and its dns-01
// challenge
type authzInfo struct {
	Domain       string
	Status       string
	ChallengeURL string
	Token        string
}

// orderClient is the ACME directory surface the issuer state machine drives.
// The production implementation wraps lego's low-level API; tests use fakes.
type orderClient interface {
	// NewOrder opens an order for the domain
	NewOrder(ctx context.Context, domain string) (*orderInfo, error)
	// GetOrder refreshes order state
	GetOrder(ctx context.Context, orderURL string) (*orderInfo, error)
	// GetAuthorization fetches an authorization and its dns-01 challenge
	GetAuthorization(ctx context.Context, authzURL string) (*authzInfo, error)
	// AcceptChallenge tells the server the challenge is ready to validate
	AcceptChallenge(ctx context.Context, challengeURL string) error
	// KeyAuthorization computes the key authorization for a challenge token
	KeyAuthorization(token string) (string, error)
	// Finalize submits the CSR for a validated order
	Finalize(ctx context.Context, finalizeURL string, csr []byte) (*orderInfo, error)
	// FetchCertificate downloads the issued chain
	FetchCertificate(ctx context.Context, certURL string) (certPEM, issuerPEM []byte, err error)
}
