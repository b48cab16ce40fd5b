package id

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// ErrEntropy is returned when the system random source fails.
// Secrets are never generated from a degraded source.
var ErrEntropy = errors.New("id: failed to read random bytes")

const slugAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewToken returns a lower-case Crockford Base32 string encoding n random bytes.
// Used for domain verification keys that end up in public TXT records.
func NewToken(n int) (string, error) {
	if n <= 0 {
		n = 20
	}
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.Join(ErrEntropy, err)
	}
	out := make([]byte, (n*8+4)/5)
	encodeBits(out, raw)
	return strings.ToLower(string(out)), nil
}

// NewSlug returns a random base62 slug of the given length.
func NewSlug(length int) (string, error) {
	if length <= 0 {
		length = 7
	}
	max := big.NewInt(int64(len(slugAlphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Join(ErrEntropy, err)
		}
		b[i] = slugAlphabet[n.Int64()]
	}
	return string(b), nil
}
