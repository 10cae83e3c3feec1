package dnschallenge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Resolver performs TXT lookups against authoritative/recursive resolvers,
// bypassing the local stub resolver and its cache.
type Resolver interface {
	LookupTXT(ctx context.Context, fqdn string) ([]string, error)
}

// NetResolver queries the configured nameservers directly with miekg/dns.
type NetResolver struct {
	servers []string // host:port
	client  *dns.Client
}

// NewNetResolver creates a resolver querying the given nameservers in order
func NewNetResolver(servers []string) *NetResolver {
	if len(servers) == 0 {
		servers = []string{"8.8.8.8:53", "1.1.1.1:53"}
	}
	return &NetResolver{
		servers: servers,
		client:  &dns.Client{Timeout: 5 * time.Second},
	}
}

// LookupTXT returns the TXT values currently visible for fqdn. Servers are
// tried in order; the first answering server wins. NXDOMAIN is an empty
// result, not an error.
func (r *NetResolver) LookupTXT(ctx context.Context, fqdn string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(fqdn), dns.TypeTXT)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		in, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		if in.Rcode == dns.RcodeNameError {
			return nil, nil
		}
		if in.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("resolver %s returned rcode %s", server, dns.RcodeToString[in.Rcode])
			continue
		}

		var values []string
		for _, rr := range in.Answer {
			if txt, ok := rr.(*dns.TXT); ok {
				values = append(values, strings.Join(txt.Txt, ""))
			}
		}
		return values, nil
	}

	return nil, fmt.Errorf("all resolvers failed for %s: %w", fqdn, lastErr)
}
