package hostrouter_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/provisioner/pkg/hostrouter"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Example.COM":      "example.com",
		"example.com:8080": "example.com",
		"example.com.":     "example.com",
		"[::1]:8080":       "[::1]",
		"  go.s.test ":     "go.s.test",
	}
	for in, want := range tests {
		assert.Equal(t, want, hostrouter.Normalize(in), in)
	}

	req := httptest.NewRequest("GET", "/abc", nil)
	req.Host = "Links.Example.com:443"
	assert.Equal(t, "links.example.com", hostrouter.Host(req))
}

func TestSubdomain(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "go", hostrouter.Subdomain("go.s.test", "s.test"))
	assert.Equal(t, "a.b", hostrouter.Subdomain("a.b.s.test", "s.test"))
	assert.Empty(t, hostrouter.Subdomain("s.test", "s.test"))
	assert.Empty(t, hostrouter.Subdomain("xs.test", "s.test"))
	assert.True(t, hostrouter.Within("go.s.test", "S.TEST."))
	assert.False(t, hostrouter.Within("evil-s.test", "s.test"))
}

func TestCandidates(t *testing.T) {
	t.Parallel()

	t.Run("system zone apex", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []hostrouter.Key{{Domain: "s.test"}}, hostrouter.Candidates("s.test", "s.test"))
	})

	t.Run("system zone prefix", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []hostrouter.Key{{Prefix: "promo", Domain: "s.test"}}, hostrouter.Candidates("promo.s.test:80", "s.test"))
	})

	t.Run("custom domain", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []hostrouter.Key{
			{Domain: "go.acme.com"},
			{Prefix: "go", Domain: "acme.com"},
		}, hostrouter.Candidates("go.acme.com", "s.test"))
		assert.Equal(t, []hostrouter.Key{{Domain: "acme.com"}}, hostrouter.Candidates("acme.com", "s.test"))
	})

	t.Run("empty host", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, hostrouter.Candidates(""))
	})
}
