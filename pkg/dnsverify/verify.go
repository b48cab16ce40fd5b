package dnsverify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
)

var (
	ErrDNSLookupFailed   = errors.New("dnsverify: dns lookup failed")
	ErrDomainNotVerified = errors.New("dnsverify: expected value not published")
	ErrTXTRecordNotFound = errors.New("dnsverify: txt record not found")
	ErrMXRecordNotFound  = errors.New("dnsverify: mx record not found")
	ErrSPFRecordNotFound = errors.New("dnsverify: spf record not found")
	ErrInvalidInput      = errors.New("dnsverify: invalid name or value")
)

// Normalize lower-cases name and strips surrounding spaces and the trailing dot.
func Normalize(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

// FQDN returns the normalized name with a trailing dot.
func FQDN(name string) string {
	n := Normalize(name)
	if n == "" {
		return "."
	}
	return n + "."
}

// LookupTXT returns the TXT values at name.
// A missing name or empty answer yields ErrTXTRecordNotFound; any other
// resolver failure (including timeouts) yields ErrDNSLookupFailed.
func LookupTXT(ctx context.Context, r Resolver, name string) ([]string, error) {
	if Normalize(name) == "" {
		return nil, ErrInvalidInput
	}
	records, err := r.LookupTXT(ctx, FQDN(name))
	if err != nil {
		return nil, classify(err, ErrTXTRecordNotFound)
	}
	if len(records) == 0 {
		return nil, ErrTXTRecordNotFound
	}
	return records, nil
}

// HasTXT reports whether value is one of the TXT values published at name.
// Returns nil on success, otherwise one of the package errors.
func HasTXT(ctx context.Context, r Resolver, name, value string) error {
	if value == "" {
		return ErrInvalidInput
	}
	records, err := LookupTXT(ctx, r, name)
	if err != nil {
		return err
	}
	if slices.Contains(records, value) {
		return nil
	}
	return ErrDomainNotVerified
}

// LookupMX returns the normalized exchanger host names of domain.
func LookupMX(ctx context.Context, r Resolver, domain string) ([]string, error) {
	if Normalize(domain) == "" {
		return nil, ErrInvalidInput
	}
	mxs, err := r.LookupMX(ctx, FQDN(domain))
	if err != nil {
		return nil, classify(err, ErrMXRecordNotFound)
	}
	hosts := make([]string, 0, len(mxs))
	for _, mx := range mxs {
		hosts = append(hosts, Normalize(mx.Host))
	}
	if len(hosts) == 0 {
		return nil, ErrMXRecordNotFound
	}
	return hosts, nil
}

// HasMX reports whether host is among the mail exchangers of domain.
func HasMX(ctx context.Context, r Resolver, domain, host string) error {
	hosts, err := LookupMX(ctx, r, domain)
	if err != nil {
		return err
	}
	if slices.Contains(hosts, Normalize(host)) {
		return nil
	}
	return ErrDomainNotVerified
}

// SPF is a parsed "v=spf1" policy.
type SPF struct {
	Raw        string
	Mechanisms []string
}

// Includes reports whether the policy has an include mechanism for domain.
// Qualified forms (+include, ~include) are accepted too.
func (s SPF) Includes(domain string) bool {
	want := Normalize(domain)
	for _, m := range s.Mechanisms {
		m = strings.TrimLeft(m, "+~?")
		if v, ok := strings.CutPrefix(strings.ToLower(m), "include:"); ok && Normalize(v) == want {
			return true
		}
	}
	return false
}

// ParseSPF parses a TXT value as an SPF policy.
func ParseSPF(txt string) (SPF, bool) {
	fields := strings.Fields(txt)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "v=spf1") {
		return SPF{}, false
	}
	return SPF{Raw: txt, Mechanisms: fields[1:]}, true
}

// LookupSPF returns the single SPF policy published at domain.
// Multiple policies are a permanent error per RFC 7208 and reported as not found.
func LookupSPF(ctx context.Context, r Resolver, domain string) (SPF, error) {
	records, err := LookupTXT(ctx, r, domain)
	if err != nil {
		if errors.Is(err, ErrTXTRecordNotFound) {
			return SPF{}, ErrSPFRecordNotFound
		}
		return SPF{}, err
	}
	var found []SPF
	for _, rec := range records {
		if p, ok := ParseSPF(rec); ok {
			found = append(found, p)
		}
	}
	if len(found) != 1 {
		return SPF{}, ErrSPFRecordNotFound
	}
	return found[0], nil
}

func classify(err, notFound error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return notFound
	}
	return fmt.Errorf("%w: %w", ErrDNSLookupFailed, err)
}
