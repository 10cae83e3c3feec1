package deploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Probe verifies a deployment through read-only target API calls. A failed
// verification is an outcome, not an error; errors mean the probe itself
// could not run.
type Probe struct {
	target TargetAPI
	logger *logrus.Entry
}

// NewProbe creates a verification probe against one target
func NewProbe(target TargetAPI, logger *logrus.Entry) *Probe {
	return &Probe{
		target: target,
		logger: logger.WithField("component", "deploy-probe"),
	}
}

// Verify checks that the store holds the fingerprint and the site's binding
// on the port points at it. The reason names the first check that failed.
func (p *Probe) Verify(ctx context.Context, site string, port int, fingerprint string) (bool, string, error) {
	exists, err := p.target.HasCertificate(ctx, fingerprint)
	if err != nil {
		return false, "", err
	}
	if !exists {
		return false, fmt.Sprintf("certificate %s not present in target store", fingerprint), nil
	}

	binding, err := p.target.GetBinding(ctx, site)
	if err != nil {
		if errors.Is(err, ErrSiteNotFound) {
			return false, fmt.Sprintf("site %s not found on target", site), nil
		}
		return false, "", err
	}

	if binding.Fingerprint != fingerprint {
		return false, fmt.Sprintf("binding points at %s, expected %s", binding.Fingerprint, fingerprint), nil
	}
	if binding.Port != port {
		return false, fmt.Sprintf("binding is on port %d, expected %d", binding.Port, port), nil
	}

	p.logger.WithFields(logrus.Fields{"site": site, "port": port}).Info("deployment verified")
	return true, "", nil
}
