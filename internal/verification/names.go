package verification

import (
	"strings"

	"golang.org/x/net/idna"

	"github.com/dmitrymomot/provisioner/pkg/dnsverify"
)

var hostProfile = idna.New(
	idna.MapForLookup(),
	idna.VerifyDNSLength(true),
	idna.BidiRule(),
	idna.CheckHyphens(true),
)

// NormalizeDomain converts name to its lower-case ASCII form and checks it
// is a registrable host name: at least two labels, letters digits and
// hyphens only, non-numeric TLD.
func NormalizeDomain(name string) (string, string) {
	n := dnsverify.Normalize(name)
	if n == "" {
		return "", "domain name is required"
	}
	ascii, err := hostProfile.ToASCII(n)
	if err != nil {
		return "", "domain name is not a valid host name"
	}
	labels := strings.Split(ascii, ".")
	if len(labels) < 2 {
		return "", "domain name must have at least two labels"
	}
	tld := labels[len(labels)-1]
	if strings.Trim(tld, "0123456789") == "" {
		return "", "top-level domain cannot be numeric"
	}
	if strings.Contains(ascii, "_") {
		return "", "domain name cannot contain underscores"
	}
	return ascii, ""
}

// within reports whether name equals zone or is below it.
func within(name, zone string) bool {
	zone = dnsverify.Normalize(zone)
	return zone != "" && (name == zone || strings.HasSuffix(name, "."+zone))
}
