package allocator

import (
	"net"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/secure/precis"

	"github.com/dmitrymomot/provisioner/pkg/dnsverify"
)

var (
	slugPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	labelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
)

// reservedSlugs collide with service routes on short-link hosts.
var reservedSlugs = map[string]bool{
	"api":     true,
	"health":  true,
	"metrics": true,
}

func validSlug(s string) bool {
	return slugPattern.MatchString(s) && !reservedSlugs[strings.ToLower(s)]
}

func validLabel(s string) bool {
	return labelPattern.MatchString(s)
}

// validTarget accepts absolute http and https URLs only.
func validTarget(raw string) bool {
	if len(raw) > 2048 {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

const localPartSpecials = "!#$%&'*+-/=?^_`{|}~."

// normalizeLocalPart applies the PRECIS username profile (case folded,
// width mapped, NFC) and the dot-atom rules of RFC 5322.
func normalizeLocalPart(s string) (string, bool) {
	out, err := precis.UsernameCaseMapped.String(strings.TrimSpace(s))
	if err != nil || out == "" || len(out) > 64 {
		return "", false
	}
	if strings.HasPrefix(out, ".") || strings.HasSuffix(out, ".") || strings.Contains(out, "..") {
		return "", false
	}
	for _, r := range out {
		if r >= utf8.RuneSelf {
			continue
		}
		if !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || strings.ContainsRune(localPartSpecials, r)) {
			return "", false
		}
	}
	return out, true
}

// validDestination accepts a bare mailbox address.
func validDestination(s string) (string, bool) {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Name != "" || !strings.Contains(addr.Address, "@") {
		return "", false
	}
	return addr.Address, true
}

// recordTypes are the types users may manage in the service zone.
var recordTypes = map[string]bool{"A": true, "AAAA": true, "CNAME": true, "TXT": true, "MX": true}

// validContent checks content against the record type.
func validContent(typ, content string) string {
	switch typ {
	case "A":
		if ip := net.ParseIP(content); ip == nil || ip.To4() == nil {
			return "must be an IPv4 address"
		}
	case "AAAA":
		if ip := net.ParseIP(content); ip == nil || ip.To4() != nil {
			return "must be an IPv6 address"
		}
	case "CNAME", "MX":
		name := dnsverify.Normalize(content)
		if name == "" || !strings.Contains(name, ".") {
			return "must be a host name"
		}
		for l := range strings.SplitSeq(name, ".") {
			if !validLabel(l) && l != "*" {
				return "must be a host name"
			}
		}
	case "TXT":
		if content == "" || len(content) > 2048 {
			return "must be 1 to 2048 characters"
		}
	}
	return ""
}

// validTTL accepts 1 (automatic) or 60 seconds to one day.
func validTTL(ttl int) bool {
	return ttl == 0 || ttl == 1 || (ttl >= 60 && ttl <= 86400)
}
