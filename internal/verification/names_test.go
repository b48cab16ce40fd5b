package verification_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/provisioner/internal/verification"
)

func TestNormalizeDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Example.COM.", "example.com", true},
		{"  shop.example.co.uk ", "shop.example.co.uk", true},
		{"bücher.de", "xn--bcher-kva.de", true},
		{"", "", false},
		{"localhost", "", false},
		{"-bad.com", "", false},
		{"bad-.com", "", false},
		{"under_score.com", "", false},
		{"1.2.3.4", "", false},
		{"a..com", "", false},
	}
	for _, tt := range tests {
		got, msg := verification.NormalizeDomain(tt.in)
		if tt.ok {
			assert.Empty(t, msg, tt.in)
			assert.Equal(t, tt.want, got, tt.in)
		} else {
			assert.NotEmpty(t, msg, tt.in)
		}
	}
}
