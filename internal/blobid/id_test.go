package blobid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewProducesParseableIDs(t *testing.T) {
	id := New()
	encoded := id.String()
	require.Len(t, encoded, EncodedLen)

	parsed, err := Parse(encoded)
	require.NoError(t, err)
	require.Equal(t, id, parsed)
}

func TestNewIsUniqueWithinProcess(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		encoded := New().String()
		_, dup := seen[encoded]
		require.False(t, dup, "duplicate id %s", encoded)
		seen[encoded] = struct{}{}
	}
}

func TestParseRejectsMalformedInput(t *testing.T) {
	cases := []string{
		"",
		"not-a-valid-id",
		"abc123",
		"zzzzzzzzzzzzzzzzzzzzzzzz",                 // right length, not hex
		"0123456789abcdef0123456789abcdef01234567", // too long
	}
	for _, input := range cases {
		_, err := Parse(input)
		require.ErrorIs(t, err, ErrInvalid, "input %q", input)
	}
}

func TestParseAcceptsWellFormedUnknownID(t *testing.T) {
	// A well-formed id that was never issued must parse; existence is the
	// store's concern, not the parser's.
	_, err := Parse("cafebabe0123456789abcdef")
	require.NoError(t, err)
}
