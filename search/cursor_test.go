package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	keys := []string{"created_at", "id"}
	values := []any{"2020-01-01T00:00:00Z", "abc123"}

	cursor, err := EncodeCursor(keys, values)
	require.NoError(t, err)

	decoded, err := DecodeCursor(cursor)
	require.NoError(t, err)
	assert.Equal(t, keys, decoded.Keys)
	assert.Equal(t, values, decoded.Values)
	assert.True(t, decoded.MatchesKeys(keys))
	assert.False(t, decoded.MatchesKeys([]string{"id", "created_at"}))
}

func TestCursorRoundTripPreservesValueKinds(t *testing.T) {
	cursor, err := EncodeCursor([]string{"count", "flag", "note", "missing"}, []any{float64(42), true, "x", nil})
	require.NoError(t, err)

	decoded, err := DecodeCursor(cursor)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(42), true, "x", nil}, decoded.Values)
}

func TestEncodeCursorRejectsMismatchedLengths(t *testing.T) {
	_, err := EncodeCursor([]string{"a"}, []any{1, 2})
	assert.Error(t, err)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, input := range []Cursor{"not base64!!", "aGVsbG8", ""} {
		_, err := DecodeCursor(input)
		require.Error(t, err, "input %q", input)
		var invalid *InvalidCursorError
		assert.ErrorAs(t, err, &invalid)
	}
}

func TestSingletonCursorIsOpaqueAndUndecodable(t *testing.T) {
	assert.NotEmpty(t, SingletonCursor)
	_, err := DecodeCursor(SingletonCursor)
	assert.Error(t, err)
}
