package verification

import (
	"context"
	"net"

	"blitiri.com.ar/go/spf"

	"github.com/dmitrymomot/provisioner/pkg/dnsverify"
)

// SPFChecker evaluates a domain's SPF policy for a sending IP.
type SPFChecker interface {
	CheckSPF(ctx context.Context, ip net.IP, domain string) (spf.Result, error)
}

type spfChecker struct {
	resolver dnsverify.Resolver
}

// NewSPFChecker evaluates policies with blitiri.com.ar/go/spf using r for
// every lookup the policy needs (include, a, mx, ptr).
func NewSPFChecker(r dnsverify.Resolver) SPFChecker {
	return spfChecker{resolver: fqdnResolver{r}}
}

func (c spfChecker) CheckSPF(ctx context.Context, ip net.IP, domain string) (spf.Result, error) {
	return spf.CheckHostWithSender(ip, domain, "postmaster@"+domain,
		spf.WithContext(ctx),
		spf.WithResolver(c.resolver),
	)
}

// fqdnResolver adds the trailing dot so names resolve identically through
// every Resolver implementation.
type fqdnResolver struct {
	next dnsverify.Resolver
}

func (f fqdnResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	return f.next.LookupTXT(ctx, dnsverify.FQDN(name))
}

func (f fqdnResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	return f.next.LookupMX(ctx, dnsverify.FQDN(name))
}

func (f fqdnResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return f.next.LookupIPAddr(ctx, dnsverify.FQDN(host))
}

func (f fqdnResolver) LookupAddr(ctx context.Context, addr string) ([]string, error) {
	return f.next.LookupAddr(ctx, addr)
}
