package dnsverify

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Resolver is the lookup surface used by this package.
// The method set matches *net.Resolver.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// System returns the operating system resolver.
func System() Resolver {
	return &net.Resolver{}
}

// NameserverResolver sends queries straight to one nameserver.
type NameserverResolver struct {
	addr string
	udp  *dns.Client
	tcp  *dns.Client
}

// NewNameserverResolver creates a resolver that queries addr ("host:port").
// A missing port defaults to 53.
func NewNameserverResolver(addr string, timeout time.Duration) *NameserverResolver {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "53")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NameserverResolver{
		addr: addr,
		udp:  &dns.Client{Net: "udp", Timeout: timeout},
		tcp:  &dns.Client{Net: "tcp", Timeout: timeout},
	}
}

func (r *NameserverResolver) exchange(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	fqdn := dns.Fqdn(strings.ToLower(name))

	m := new(dns.Msg)
	m.SetQuestion(fqdn, qtype)
	m.RecursionDesired = true

	in, _, err := r.udp.ExchangeContext(ctx, m, r.addr)
	if err == nil && in.Truncated {
		in, _, err = r.tcp.ExchangeContext(ctx, m, r.addr)
	}
	if err != nil {
		return nil, &net.DNSError{
			Err:       err.Error(),
			Name:      fqdn,
			Server:    r.addr,
			IsTimeout: isTimeout(ctx, err),
		}
	}

	switch in.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, &net.DNSError{Err: "no such host", Name: fqdn, Server: r.addr, IsNotFound: true}
	default:
		return nil, &net.DNSError{Err: dns.RcodeToString[in.Rcode], Name: fqdn, Server: r.addr, IsTemporary: true}
	}

	var answers []dns.RR
	for _, rr := range in.Answer {
		if rr.Header().Rrtype == qtype {
			answers = append(answers, rr)
		}
	}
	if len(answers) == 0 {
		return nil, &net.DNSError{Err: "no such host", Name: fqdn, Server: r.addr, IsNotFound: true}
	}
	return answers, nil
}

// LookupTXT returns the TXT values published at name.
func (r *NameserverResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	rrs, err := r.exchange(ctx, name, dns.TypeTXT)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rrs))
	for _, rr := range rrs {
		if t, ok := rr.(*dns.TXT); ok {
			out = append(out, strings.Join(t.Txt, ""))
		}
	}
	return out, nil
}

// LookupMX returns the mail exchangers of name.
func (r *NameserverResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	rrs, err := r.exchange(ctx, name, dns.TypeMX)
	if err != nil {
		return nil, err
	}
	out := make([]*net.MX, 0, len(rrs))
	for _, rr := range rrs {
		if mx, ok := rr.(*dns.MX); ok {
			out = append(out, &net.MX{Host: mx.Mx, Pref: mx.Preference})
		}
	}
	return out, nil
}

// LookupIPAddr returns both A and AAAA addresses of host.
func (r *NameserverResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	var out []net.IPAddr
	var firstErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		rrs, err := r.exchange(ctx, host, qtype)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, rr := range rrs {
			switch v := rr.(type) {
			case *dns.A:
				out = append(out, net.IPAddr{IP: v.A})
			case *dns.AAAA:
				out = append(out, net.IPAddr{IP: v.AAAA})
			}
		}
	}
	if len(out) == 0 {
		return nil, firstErr
	}
	return out, nil
}

// LookupAddr performs a reverse lookup for addr.
func (r *NameserverResolver) LookupAddr(ctx context.Context, addr string) ([]string, error) {
	arpa, err := dns.ReverseAddr(addr)
	if err != nil {
		return nil, &net.DNSError{Err: err.Error(), Name: addr, Server: r.addr}
	}
	rrs, err := r.exchange(ctx, arpa, dns.TypePTR)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rrs))
	for _, rr := range rrs {
		if p, ok := rr.(*dns.PTR); ok {
			out = append(out, p.Ptr)
		}
	}
	return out, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
