// Package id generates identifiers and secrets used by the provisioning engine:
// sortable row identifiers, verification tokens and short-link slugs.
package id

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// Crockford's Base32 alphabet (excludes I, L, O, U to avoid confusion).
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewULID generates a ULID (Universally Unique Lexicographically Sortable Identifier).
// Returns a 26-character string: 10 chars timestamp (48-bit ms) + 16 chars random (80-bit).
// Used as the primary key of every persisted entity.
func NewULID() string {
	return newULIDAt(time.Now())
}

func newULIDAt(now time.Time) string {
	ms := uint64(now.UnixMilli())

	var entropy [10]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		// Row identifiers are not secrets; degrade to clock entropy.
		binary.BigEndian.PutUint64(entropy[:8], uint64(now.UnixNano()))
	}

	var out [26]byte
	for i := range 10 {
		out[i] = crockfordBase32[(ms>>(45-5*uint(i)))&0x1F]
	}
	encodeBits(out[10:], entropy[:])

	return string(out[:])
}

// encodeBits writes src into dst as consecutive 5-bit groups (MSB first).
// len(dst)*5 must not exceed len(src)*8 by more than 4 bits.
func encodeBits(dst, src []byte) {
	var acc uint32
	var bits uint
	j := 0
	for _, b := range src {
		acc = acc<<8 | uint32(b)
		bits += 8
		for bits >= 5 && j < len(dst) {
			bits -= 5
			dst[j] = crockfordBase32[(acc>>bits)&0x1F]
			j++
		}
	}
	if bits > 0 && j < len(dst) {
		dst[j] = crockfordBase32[(acc<<(5-bits))&0x1F]
	}
}
