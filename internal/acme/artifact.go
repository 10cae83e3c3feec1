package acme

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

// Artifact is one issued certificate, packaged for deployment. The PKCS#12
// passphrase is generated per issuance and never reused; ownership of the
// private key transfers to the deployment target's certificate store.
type Artifact struct {
	Domain           string
	CertPEM          string
	KeyPEM           string
	ChainPEM         string
	Bundle           []byte // PKCS#12 container (leaf + chain + key)
	BundlePassphrase string
	Fingerprint      string // SHA256 of the leaf certificate DER, hex
	Issuer           string
	NotAfter         time.Time
}

// newArtifact parses the issued chain and packages it into a PKCS#12
// container under a fresh single-use passphrase.
func newArtifact(domain, certPEM, keyPEM, chainPEM string) (*Artifact, error) {
	leaf, rest, err := parseCertChain([]byte(certPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse issued certificate: %w", err)
	}

	chain := rest
	if chainPEM != "" {
		issuers, err := parseAllCerts([]byte(chainPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to parse issuer chain: %w", err)
		}
		chain = append(chain, issuers...)
	}

	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate key: %w", err)
	}

	passphrase, err := randomPassphrase()
	if err != nil {
		return nil, err
	}

	bundle, err := pkcs12.Modern.Encode(key, leaf, chain, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to encode PKCS#12 bundle: %w", err)
	}

	return &Artifact{
		Domain:           domain,
		CertPEM:          certPEM,
		KeyPEM:           keyPEM,
		ChainPEM:         chainPEM,
		Bundle:           bundle,
		BundlePassphrase: passphrase,
		Fingerprint:      CertFingerprint(leaf),
		Issuer:           leaf.Issuer.CommonName,
		NotAfter:         leaf.NotAfter,
	}, nil
}

// CertFingerprint returns the SHA256 fingerprint of a certificate, hex
// encoded. This is the identity used for store dedup and binding updates.
func CertFingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// parseCertChain decodes a PEM bundle into the leaf and any trailing chain
func parseCertChain(pemBytes []byte) (*x509.Certificate, []*x509.Certificate, error) {
	certs, err := parseAllCerts(pemBytes)
	if err != nil {
		return nil, nil, err
	}
	if len(certs) == 0 {
		return nil, nil, errors.New("no certificate found in PEM data")
	}
	return certs[0], certs[1:], nil
}

// parseAllCerts decodes every CERTIFICATE block in the PEM data
func parseAllCerts(pemBytes []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := pemBytes
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// randomPassphrase generates a single-use container passphrase
func randomPassphrase() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
