// Package hostrouter maps the Host header of a short-link request to the
// (prefix, domain) pairs a link may be stored under.
package hostrouter

import (
	"net"
	"net/http"
	"strings"
)

// Host returns the request host lower-cased, without port or trailing dot.
// IPv6 literals keep their brackets.
func Host(r *http.Request) string {
	return Normalize(r.Host)
}

// Normalize strips the port and trailing dot from host and lower-cases it.
func Normalize(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		if strings.Contains(h, ":") {
			h = "[" + h + "]"
		}
		host = h
	}
	return strings.TrimSuffix(strings.ToLower(host), ".")
}

// Subdomain returns the labels of host in front of base, or "" when host is
// base itself or outside it.
func Subdomain(host, base string) string {
	host, base = Normalize(host), Normalize(base)
	if host == base {
		return ""
	}
	sub, ok := strings.CutSuffix(host, "."+base)
	if !ok {
		return ""
	}
	return sub
}

// Within reports whether host equals base or is below it.
func Within(host, base string) bool {
	host, base = Normalize(host), Normalize(base)
	return host == base || strings.HasSuffix(host, "."+base)
}

// Key is a candidate location of a short link.
type Key struct {
	Prefix string
	Domain string
}

// Candidates lists the keys a request for host may resolve to, most specific first.
//
// Hosts inside a system zone split into prefix and zone ("go.s.example" ->
// {go, s.example}). Other hosts are custom domains: first the whole host,
// then the first label as prefix of the remainder.
func Candidates(host string, systemZones ...string) []Key {
	host = Normalize(host)
	if host == "" {
		return nil
	}
	for _, zone := range systemZones {
		if Within(host, zone) {
			return []Key{{Prefix: Subdomain(host, zone), Domain: Normalize(zone)}}
		}
	}
	keys := []Key{{Domain: host}}
	if label, rest, ok := strings.Cut(host, "."); ok && strings.Contains(rest, ".") {
		keys = append(keys, Key{Prefix: label, Domain: rest})
	}
	return keys
}
