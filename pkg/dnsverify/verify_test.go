package dnsverify_test

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"testing"
	"time"

	"github.com/foxcpp/go-mockdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/provisioner/pkg/dnsverify"
)

func zones() map[string]mockdns.Zone {
	return map[string]mockdns.Zone{
		"_verify.example.com.": {
			TXT: []string{"unrelated=1", "abc123"},
		},
		"_verify.empty.com.": {
			TXT: []string{"something-else"},
		},
		"_verify.broken.com.": {
			Err: &net.DNSError{Err: "i/o timeout", Name: "_verify.broken.com.", IsTimeout: true},
		},
		"example.com.": {
			MX:  []net.MX{{Host: "MX.Mail.Example.NET.", Pref: 10}},
			TXT: []string{"v=spf1 include:_spf.mail.example.net ~all", "google-site-verification=x"},
		},
		"double-spf.com.": {
			TXT: []string{"v=spf1 -all", "v=spf1 include:x.net -all"},
		},
	}
}

func TestHasTXT(t *testing.T) {
	t.Parallel()

	r := &mockdns.Resolver{Zones: zones()}
	ctx := context.Background()

	tests := []struct {
		name    string
		host    string
		value   string
		wantErr error
	}{
		{"exact value among others", "_verify.example.com", "abc123", nil},
		{"case-insensitive name", "_VERIFY.Example.COM.", "abc123", nil},
		{"case-sensitive value", "_verify.example.com", "ABC123", dnsverify.ErrDomainNotVerified},
		{"substring does not match", "_verify.example.com", "abc", dnsverify.ErrDomainNotVerified},
		{"value missing", "_verify.empty.com", "abc123", dnsverify.ErrDomainNotVerified},
		{"name missing", "_verify.nowhere.com", "abc123", dnsverify.ErrTXTRecordNotFound},
		{"resolver failure", "_verify.broken.com", "abc123", dnsverify.ErrDNSLookupFailed},
		{"empty value", "_verify.example.com", "", dnsverify.ErrInvalidInput},
		{"empty name", " ", "abc123", dnsverify.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := dnsverify.HasTXT(ctx, r, tt.host, tt.value)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHasMX(t *testing.T) {
	t.Parallel()

	r := &mockdns.Resolver{Zones: zones()}
	ctx := context.Background()

	require.NoError(t, dnsverify.HasMX(ctx, r, "example.com", "mx.mail.example.net"))
	require.ErrorIs(t, dnsverify.HasMX(ctx, r, "example.com", "mx.other.net"), dnsverify.ErrDomainNotVerified)
	require.ErrorIs(t, dnsverify.HasMX(ctx, r, "missing.com", "mx.mail.example.net"), dnsverify.ErrMXRecordNotFound)
}

func TestLookupSPF(t *testing.T) {
	t.Parallel()

	r := &mockdns.Resolver{Zones: zones()}
	ctx := context.Background()

	t.Run("single policy", func(t *testing.T) {
		t.Parallel()

		spf, err := dnsverify.LookupSPF(ctx, r, "example.com")
		require.NoError(t, err)
		assert.True(t, spf.Includes("_spf.mail.example.net"))
		assert.False(t, spf.Includes("other.net"))
	})

	t.Run("multiple policies", func(t *testing.T) {
		t.Parallel()

		_, err := dnsverify.LookupSPF(ctx, r, "double-spf.com")
		require.ErrorIs(t, err, dnsverify.ErrSPFRecordNotFound)
	})

	t.Run("no txt", func(t *testing.T) {
		t.Parallel()

		_, err := dnsverify.LookupSPF(ctx, r, "missing.com")
		require.ErrorIs(t, err, dnsverify.ErrSPFRecordNotFound)
	})
}

func TestParseSPF(t *testing.T) {
	t.Parallel()

	spf, ok := dnsverify.ParseSPF("V=SPF1 ~include:a.net ip4:1.2.3.4 -all")
	require.True(t, ok)
	assert.True(t, spf.Includes("A.NET."))

	_, ok = dnsverify.ParseSPF("v=spf10 include:a.net")
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "example.com", dnsverify.Normalize(" Example.COM. "))
	assert.Equal(t, "example.com.", dnsverify.FQDN("EXAMPLE.com"))
}

func TestNameserverResolver(t *testing.T) {
	t.Parallel()

	srv, err := mockdns.NewServerWithLogger(zones(), log.New(io.Discard, "", 0), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	r := dnsverify.NewNameserverResolver(srv.LocalAddr().String(), 2*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("txt", func(t *testing.T) {
		require.NoError(t, dnsverify.HasTXT(ctx, r, "_verify.example.com", "abc123"))
	})

	t.Run("mx", func(t *testing.T) {
		require.NoError(t, dnsverify.HasMX(ctx, r, "example.com", "mx.mail.example.net"))
	})

	t.Run("nxdomain", func(t *testing.T) {
		_, err := r.LookupTXT(ctx, "nothing.example.org")
		var dnsErr *net.DNSError
		require.True(t, errors.As(err, &dnsErr))
		assert.True(t, dnsErr.IsNotFound)
	})

	t.Run("servfail", func(t *testing.T) {
		err := dnsverify.HasTXT(ctx, r, "_verify.broken.com", "abc123")
		require.ErrorIs(t, err, dnsverify.ErrDNSLookupFailed)
	})
}
