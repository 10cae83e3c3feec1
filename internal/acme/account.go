package acme

import (
	"context"
	"crypto"
	"fmt"

	"certops/internal/model"

	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AccountIdentity is the resolved ACME account for one run. It is threaded
// explicitly through the pipeline; nothing holds it as ambient state.
type AccountIdentity struct {
	DirectoryURL string
	URI          string // assigned by the ACME server
	Contact      string
	Status       string

	key crypto.PrivateKey
}

// Key returns the account's private key for request signing
func (a *AccountIdentity) Key() crypto.PrivateKey {
	return a.key
}

// legoUser implements registration.User for lego
type legoUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *legoUser) GetEmail() string {
	return u.email
}

func (u *legoUser) GetRegistration() *registration.Resource {
	return u.registration
}

func (u *legoUser) GetPrivateKey() crypto.PrivateKey {
	return u.key
}

// registrar is the ACME account surface the manager needs; the default
// implementation is lego's registration API.
type registrar interface {
	// ResolveByKey returns the URI of the existing account bound to the key,
	// or an error if the server knows no such account.
	ResolveByKey() (string, error)
	// Register creates a new account with terms of service accepted.
	Register() (string, error)
}

type legoRegistrar struct {
	client *lego.Client
}

func (r *legoRegistrar) ResolveByKey() (string, error) {
	res, err := r.client.Registration.ResolveAccountByKey()
	if err != nil {
		return "", err
	}
	return res.URI, nil
}

func (r *legoRegistrar) Register() (string, error) {
	res, err := r.client.Registration.Register(registration.RegisterOptions{
		TermsOfServiceAgreed: true,
	})
	if err != nil {
		return "", err
	}
	return res.URI, nil
}

// AccountManager resolves the ACME account for a directory URL and key with
// find-or-create semantics, keyed strictly by the account key material.
// Repeated calls with the same key return the same account URI; no duplicate
// account is ever registered.
type AccountManager struct {
	db     *gorm.DB // optional registration cache; may be nil
	logger *logrus.Entry

	// seam for tests; defaults to a lego-backed registrar
	newRegistrar func(directoryURL, contact string, key crypto.PrivateKey) (registrar, error)
}

// NewAccountManager creates an account manager. db may be nil, in which case
// every call resolves the account against the ACME server.
func NewAccountManager(db *gorm.DB, logger *logrus.Entry) *AccountManager {
	return &AccountManager{
		db:           db,
		logger:       logger.WithField("component", "acme-account"),
		newRegistrar: newLegoRegistrar,
	}
}

func newLegoRegistrar(directoryURL, contact string, key crypto.PrivateKey) (registrar, error) {
	cfg := lego.NewConfig(&legoUser{email: contact, key: key})
	cfg.CADirURL = directoryURL

	client, err := lego.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create lego client: %w", err)
	}
	return &legoRegistrar{client: client}, nil
}

// EnsureAccount returns the account bound to the given key material,
// registering one with the provided contact if the server knows none.
func (m *AccountManager) EnsureAccount(ctx context.Context, directoryURL, accountKeyPEM, contact string) (*AccountIdentity, error) {
	key, err := parsePrivateKey(accountKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccountKeyInvalid, err)
	}

	fingerprint, err := keyFingerprint(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccountKeyInvalid, err)
	}

	// Fast path: cached registration for this directory and key
	if cached := m.lookupCached(directoryURL, fingerprint); cached != nil {
		return &AccountIdentity{
			DirectoryURL: directoryURL,
			URI:          cached.AccountURI,
			Contact:      cached.Contact,
			Status:       model.AcmeAccountStatusValid,
			key:          key,
		}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reg, err := m.newRegistrar(directoryURL, contact, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}

	uri, err := reg.ResolveByKey()
	if err != nil {
		m.logger.WithField("directory", directoryURL).Info("no existing account for key, registering")
		uri, err = reg.Register()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
		}
	}

	m.saveCached(directoryURL, fingerprint, contact, uri)

	return &AccountIdentity{
		DirectoryURL: directoryURL,
		URI:          uri,
		Contact:      contact,
		Status:       model.AcmeAccountStatusValid,
		key:          key,
	}, nil
}

func (m *AccountManager) lookupCached(directoryURL, fingerprint string) *model.AcmeAccount {
	if m.db == nil {
		return nil
	}
	var account model.AcmeAccount
	err := m.db.
		Where("directory_url = ? AND key_fingerprint = ? AND status = ?",
			directoryURL, fingerprint, model.AcmeAccountStatusValid).
		First(&account).Error
	if err != nil || account.AccountURI == "" {
		return nil
	}
	return &account
}

func (m *AccountManager) saveCached(directoryURL, fingerprint, contact, uri string) {
	if m.db == nil {
		return
	}
	account := &model.AcmeAccount{
		DirectoryURL:   directoryURL,
		KeyFingerprint: fingerprint,
		Contact:        contact,
		AccountURI:     uri,
		Status:         model.AcmeAccountStatusValid,
	}
	if err := m.db.Create(account).Error; err != nil {
		// The cache is an optimization; losing it only costs a lookup
		m.logger.Warnf("failed to cache account registration: %v", err)
	}
}
