// Package token implements the server access token: an 8-byte shared
// secret generated at startup and distributed to clients out-of-band.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Length is the size of a raw token in bytes.
const Length = 8

// ErrInvalidFormat is returned when a candidate string is the wrong length
// or contains non-ASCII bytes.
var ErrInvalidFormat = errors.New("invalid token format")

// ErrInvalidDigit is returned when a candidate string is the right length
// but contains a non-hex character.
var ErrInvalidDigit = errors.New("invalid token digit")

// Token is a fixed-length random secret required to authenticate to the
// server. Its zero value is not a valid token; construct one with Generate
// or Parse.
type Token [Length]byte

// Generate returns a new token sourced from a cryptographically secure
// random generator.
func Generate() (Token, error) {
	var t Token
	if _, err := rand.Read(t[:]); err != nil {
		return Token{}, fmt.Errorf("generate token: %w", err)
	}
	return t, nil
}

// Parse decodes the canonical 16-character uppercase hex form of a token.
// Lowercase hex digits are accepted for leniency even though String only
// ever emits uppercase.
func Parse(s string) (Token, error) {
	if !isASCII(s) || len(s) != 2*Length {
		return Token{}, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidDigit, err)
	}
	var t Token
	copy(t[:], raw)
	return t, nil
}

// String renders the canonical 16-character uppercase hex form.
func (t Token) String() string {
	return strings.ToUpper(hex.EncodeToString(t[:]))
}

// Equal reports whether t and other hold the same secret, using a
// constant-time comparison to resist timing side channels.
func (t Token) Equal(other Token) bool {
	return subtle.ConstantTimeCompare(t[:], other[:]) == 1
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return false
		}
	}
	return true
}
