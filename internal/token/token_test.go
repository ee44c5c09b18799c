package token

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateRoundTrip(t *testing.T) {
	for i := 0; i < 50; i++ {
		tok, err := Generate()
		require.NoError(t, err)

		parsed, err := Parse(tok.String())
		require.NoError(t, err)
		require.True(t, tok.Equal(parsed))
	}
}

func TestStringIsCanonicalHex(t *testing.T) {
	tok, err := Generate()
	require.NoError(t, err)
	s := tok.String()
	require.Len(t, s, 16)
	for _, c := range s {
		require.True(t, (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F'))
	}
}

func TestParseRejectsWrongLength(t *testing.T) {
	_, err := Parse("00")
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestParseRejectsNonASCII(t *testing.T) {
	_, err := Parse("0000000000000é0")
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestParseRejectsNonHexDigit(t *testing.T) {
	_, err := Parse("ZZZZZZZZZZZZZZZZ")
	require.ErrorIs(t, err, ErrInvalidDigit)
}

func TestEqualIsConstantTimeSafeAndCorrect(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	require.True(t, a.Equal(a))
	if a != b {
		require.False(t, a.Equal(b))
	}
}

func TestErrorsAreDistinguishable(t *testing.T) {
	_, err1 := Parse("xx")
	_, err2 := Parse("zzzzzzzzzzzzzzzz")
	require.False(t, errors.Is(err1, ErrInvalidDigit))
	require.True(t, errors.Is(err2, ErrInvalidDigit))
}
