// Package security restricts outbound HTTP traffic to operator-supplied
// destinations such as alert webhook URLs. A misconfigured or hostile
// destination must not let the service reach internal infrastructure:
// cloud metadata endpoints, loopback, or private network ranges.
//
// GuardedTransport validates every resolved IP during connection
// establishment, so DNS rebinding cannot smuggle a private address past a
// one-time URL check.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// dnsTimeout bounds DNS resolution during dial and redirect checks.
const dnsTimeout = 500 * time.Millisecond

// ErrBlockedDestination is returned when a request targets a blocked IP range.
var ErrBlockedDestination = errors.New("security: destination in blocked IP range")

// ErrDNSTimeout is returned when DNS resolution exceeds dnsTimeout.
var ErrDNSTimeout = errors.New("security: DNS resolution timeout")

// ErrDNSFailed is returned when DNS resolution fails entirely.
var ErrDNSFailed = errors.New("security: DNS resolution failed")

// ErrTooManyRedirects is returned when the redirect limit is exceeded.
var ErrTooManyRedirects = errors.New("security: too many redirects")

// blockedCIDRs covers loopback, link-local (including cloud metadata at
// 169.254.169.254), RFC 1918 private ranges, carrier-grade NAT, and their
// IPv6 equivalents.
var blockedCIDRs = []string{
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var blockedNets = parseBlockedNets()

func parseBlockedNets() []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(blockedCIDRs))
	for _, cidr := range blockedCIDRs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("security: bad CIDR literal %q: %v", cidr, err))
		}
		nets = append(nets, ipNet)
	}
	return nets
}

func isBlockedIP(ip net.IP) bool {
	for _, ipNet := range blockedNets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver abstracts DNS resolution for testability.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type netResolver struct {
	r *net.Resolver
}

func (nr *netResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return nr.r.LookupIPAddr(ctx, host)
}

// GuardedTransport wraps http.Transport and rejects connections to blocked
// IP ranges. All addresses a hostname resolves to must be safe before any
// of them is dialed.
type GuardedTransport struct {
	base *http.Transport

	// resolver is used for DNS lookups. Nil means net.DefaultResolver.
	// Exposed for tests via NewGuardedTransport.
	resolver Resolver
}

// NewGuardedTransport wraps base with dial-time IP validation. A nil base
// gets a fresh http.Transport. A nil resolver means net.DefaultResolver.
func NewGuardedTransport(base *http.Transport, resolver Resolver) *GuardedTransport {
	if base == nil {
		base = &http.Transport{}
	}
	gt := &GuardedTransport{base: base, resolver: resolver}
	base.DialContext = gt.dialContext
	return gt
}

// RoundTrip implements http.RoundTripper.
func (gt *GuardedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return gt.base.RoundTrip(req)
}

func (gt *GuardedTransport) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("security: invalid address %q: %w", addr, err)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return nil, fmt.Errorf("%w: %s", ErrBlockedDestination, ip)
		}
		dialer := &net.Dialer{}
		return dialer.DialContext(ctx, network, addr)
	}

	ips, err := gt.lookup(ctx, host)
	if err != nil {
		return nil, err
	}

	// Every resolved address must be safe before any is dialed. Checking
	// only the address we connect to would leave rebinding open.
	for _, ipAddr := range ips {
		if isBlockedIP(ipAddr.IP) {
			return nil, fmt.Errorf("%w: %s (resolved from %s)", ErrBlockedDestination, ipAddr.IP, host)
		}
	}

	dialer := &net.Dialer{}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
}

func (gt *GuardedTransport) lookup(ctx context.Context, host string) ([]net.IPAddr, error) {
	resolver := gt.resolver
	if resolver == nil {
		resolver = &netResolver{r: net.DefaultResolver}
	}

	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	ips, err := resolver.LookupIPAddr(dnsCtx, host)
	if err != nil {
		if dnsCtx.Err() != nil {
			return nil, fmt.Errorf("%w: host %q", ErrDNSTimeout, host)
		}
		return nil, fmt.Errorf("%w: host %q: %v", ErrDNSFailed, host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: host %q resolved to no addresses", ErrDNSFailed, host)
	}
	return ips, nil
}

// CheckRedirect returns an http.Client redirect policy that enforces a
// redirect limit and validates every redirect target against the blocked
// ranges. A nil resolver means net.DefaultResolver.
func CheckRedirect(maxRedirects int, resolver Resolver) func(req *http.Request, via []*http.Request) error {
	if resolver == nil {
		resolver = &netResolver{r: net.DefaultResolver}
	}

	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: limit is %d", ErrTooManyRedirects, maxRedirects)
		}

		host := req.URL.Hostname()
		if host == "" {
			return fmt.Errorf("%w: redirect URL has no host", ErrBlockedDestination)
		}

		if ip := net.ParseIP(host); ip != nil {
			if isBlockedIP(ip) {
				return fmt.Errorf("%w: redirect to %s", ErrBlockedDestination, ip)
			}
			return nil
		}

		dnsCtx, cancel := context.WithTimeout(req.Context(), dnsTimeout)
		defer cancel()

		ips, err := resolver.LookupIPAddr(dnsCtx, host)
		if err != nil {
			if dnsCtx.Err() != nil {
				return fmt.Errorf("%w: redirect host %q", ErrDNSTimeout, host)
			}
			return fmt.Errorf("%w: redirect host %q: %v", ErrDNSFailed, host, err)
		}
		for _, ipAddr := range ips {
			if isBlockedIP(ipAddr.IP) {
				return fmt.Errorf("%w: redirect to %s (resolved from %s)", ErrBlockedDestination, ipAddr.IP, host)
			}
		}
		return nil
	}
}

// NewGuardedHTTPClient builds an http.Client that applies dial-time IP
// validation and redirect checking. This is the client handed to anything
// posting to operator-supplied URLs.
func NewGuardedHTTPClient(timeout time.Duration, maxRedirects int) *http.Client {
	return &http.Client{
		Transport:     NewGuardedTransport(nil, nil),
		Timeout:       timeout,
		CheckRedirect: CheckRedirect(maxRedirects, nil),
	}
}
