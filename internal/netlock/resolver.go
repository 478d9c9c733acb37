package netlock

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// Resolver turns allowlisted domain names into the IP sets the allow
// rules are written with. When Server is set, queries go straight to
// that resolver over UDP; otherwise the system resolver is used. The
// direct path matters while allowlist mode is active: the blanket
// outbound block can leave the system resolver unreachable, but the
// allow rule for the configured resolver keeps the direct path open.
type Resolver struct {
	Server  string // "host:port", empty for the system resolver
	Timeout time.Duration
}

const defaultResolveTimeout = 5 * time.Second

func (r *Resolver) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return defaultResolveTimeout
}

// Lookup resolves domain to its A and AAAA addresses. The two record
// types are queried independently; one failing does not discard the
// other's answers. An empty result with no transport error means the
// name simply has no published addresses.
func (r *Resolver) Lookup(domain string) ([]string, error) {
	if r.Server == "" {
		return r.lookupSystem(domain)
	}

	c := &dns.Client{Timeout: r.timeout()}
	fqdn := dns.Fqdn(domain)
	var addrs []string
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(fqdn, qtype)
		in, _, err := c.Exchange(m, r.Server)
		if err != nil {
			lastErr = err
			continue
		}
		for _, rr := range in.Answer {
			switch a := rr.(type) {
			case *dns.A:
				addrs = append(addrs, a.A.String())
			case *dns.AAAA:
				addrs = append(addrs, a.AAAA.String())
			}
		}
	}
	if len(addrs) == 0 && lastErr != nil {
		return nil, fmt.Errorf("resolve %s via %s: %w", domain, r.Server, lastErr)
	}
	return addrs, nil
}

func (r *Resolver) lookupSystem(domain string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout())
	defer cancel()
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", domain)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", domain, err)
	}
	addrs := make([]string, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, ip.String())
	}
	return addrs, nil
}
