// Package dnsverify looks up the DNS evidence a domain owner publishes to
// prove control of a domain: verification TXT tokens, MX hosts and SPF
// policies.
//
// Lookups go through a Resolver. *net.Resolver satisfies it, as does
// NameserverResolver which queries a single nameserver directly and so is
// not affected by the local resolver cache. Tests can plug in any fake with
// the same method set.
//
// # Basic Usage
//
//	r := dnsverify.NewNameserverResolver("1.1.1.1:53", 5*time.Second)
//	err := dnsverify.HasTXT(ctx, r, "_verify.example.com", token)
//	switch {
//	case err == nil:
//		// verified
//	case errors.Is(err, dnsverify.ErrDNSLookupFailed):
//		// transient, the caller may retry later
//	default:
//		// token not published (yet)
//	}
//
// # Matching rules
//
// Names are compared case-insensitively and always queried as FQDNs. TXT
// values are compared exactly and case-sensitively; unrelated TXT values on
// the same name are ignored. A record split into several character strings
// is joined before comparison.
package dnsverify
