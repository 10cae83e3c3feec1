package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"certops/internal/acme"
	"certops/internal/lock"
)

// Deployment records what installing one artifact actually changed
type Deployment struct {
	Site        string
	Port        int
	Fingerprint string
	Imported    bool // false when the store already held the certificate
	Updated     bool // false when the binding already pointed at it
}

// Binder installs an artifact on the target: import into the certificate
// store, deduplicated by fingerprint, then an in-place binding update for the
// (site, port) pair. Binding updates for the same pair are serialized.
type Binder struct {
	target   TargetAPI
	locker   lock.Locker
	leaseTTL time.Duration
	logger   *logrus.Entry
}

// NewBinder creates a binder against one target
func NewBinder(target TargetAPI, locker lock.Locker, leaseTTL time.Duration, logger *logrus.Entry) *Binder {
	if leaseTTL <= 0 {
		leaseTTL = 2 * time.Minute
	}
	return &Binder{
		target:   target,
		locker:   locker,
		leaseTTL: leaseTTL,
		logger:   logger.WithField("component", "deploy-binder"),
	}
}

// Deploy installs the artifact and points the site's binding at it. Running
// it again with the same artifact is a no-op on both the store and the
// binding.
func (b *Binder) Deploy(ctx context.Context, artifact *acme.Artifact, site string, port int) (*Deployment, error) {
	log := b.logger.WithFields(logrus.Fields{"site": site, "port": port, "fingerprint": artifact.Fingerprint})

	release, err := b.locker.Acquire(ctx, fmt.Sprintf("binding:%s:%d", site, port), b.leaseTTL)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return nil, fmt.Errorf("%w: binding for %s:%d is being updated", ErrBindingUpdate, site, port)
		}
		return nil, fmt.Errorf("%w: failed to acquire binding lease: %v", ErrBindingUpdate, err)
	}
	defer release()

	result := &Deployment{
		Site:        site,
		Port:        port,
		Fingerprint: artifact.Fingerprint,
	}

	// Step 1: import unless the store already holds this certificate
	exists, err := b.target.HasCertificate(ctx, artifact.Fingerprint)
	if err != nil {
		return nil, err
	}
	if exists {
		log.Info("certificate already in store, skipping import")
	} else {
		imported, err := b.target.ImportCertificate(ctx, artifact.Bundle, artifact.BundlePassphrase)
		if err != nil {
			return nil, err
		}
		if imported != artifact.Fingerprint {
			return nil, fmt.Errorf("%w: store reported fingerprint %s, expected %s", ErrImportFailed, imported, artifact.Fingerprint)
		}
		result.Imported = true
		log.Info("certificate imported")
	}

	// Step 2: update the binding in place
	binding, err := b.target.GetBinding(ctx, site)
	if err != nil {
		return nil, err
	}
	if binding.Fingerprint == artifact.Fingerprint && binding.Port == port {
		log.Info("binding already points at certificate")
		return result, nil
	}

	if err := b.target.PutBinding(ctx, site, port, artifact.Fingerprint); err != nil {
		return nil, err
	}
	result.Updated = true
	log.Info("binding updated")
	return result, nil
}
