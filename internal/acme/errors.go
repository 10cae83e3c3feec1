package acme

import "errors"

var (
	// ErrAccountKeyInvalid is returned when the stored account key material
	// cannot be parsed or used
	ErrAccountKeyInvalid = errors.New("account key invalid")
	// ErrRegistrationFailed is returned when the ACME server rejects
	// account creation
	ErrRegistrationFailed = errors.New("account registration failed")
	// ErrChallengeInProgress is returned when another run already holds the
	// challenge lease for the domain
	ErrChallengeInProgress = errors.New("challenge already in progress for domain")
	// ErrPropagationTimeout is returned when the challenge TXT record never
	// became visible on authoritative DNS within the attempt budget
	ErrPropagationTimeout = errors.New("dns propagation timed out")
	// ErrValidationInvalid is returned when the ACME server explicitly
	// rejected the challenge
	ErrValidationInvalid = errors.New("acme validation invalid")
	// ErrValidationTimeout is returned when the order never reached a
	// terminal state within the polling budget. Distinct from an explicit
	// rejection.
	ErrValidationTimeout = errors.New("acme validation timed out")
	// ErrIssuanceFailed is returned for any other failure of the order
	// state machine; no partial artifact is ever produced
	ErrIssuanceFailed = errors.New("certificate issuance failed")
)
