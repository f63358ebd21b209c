package search

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Cursor is the opaque pagination token handed to clients: a URL-safe
// base64 encoding of a JSON array of [key, value] pairs carrying the
// sort (or grouping) values of the boundary item. Keys travel with the
// values so a cursor can be validated against the sorts or groupings of
// the query it comes back to.
type Cursor string

// SingletonCursor is the reserved cursor denoting "the only element of a
// one-element list". It is never decoded; paginating relative to it
// yields an empty page without contacting the datastore.
var SingletonCursor = Cursor(base64.RawURLEncoding.EncodeToString([]byte(`{"__singleton":true}`)))

// DecodedCursor is a cursor's ordered keys and values.
type DecodedCursor struct {
	Keys   []string
	Values []any
}

// EncodeCursor builds the opaque cursor for the given ordered pairs.
func EncodeCursor(keys []string, values []any) (Cursor, error) {
	if len(keys) != len(values) {
		return "", fmt.Errorf("cursor key/value length mismatch: %d vs %d", len(keys), len(values))
	}
	pairs := make([][2]any, len(keys))
	for i := range keys {
		pairs[i] = [2]any{keys[i], values[i]}
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return "", fmt.Errorf("failed to encode cursor: %w", err)
	}
	return Cursor(base64.RawURLEncoding.EncodeToString(data)), nil
}

// InvalidCursorError reports a cursor that could not be decoded or does
// not belong to the current query. User-facing.
type InvalidCursorError struct {
	Message string
}

func (e *InvalidCursorError) Error() string { return e.Message }

// DecodeCursor parses an opaque cursor. The SingletonCursor is rejected
// here; callers must special-case it before decoding.
func DecodeCursor(c Cursor) (*DecodedCursor, error) {
	if c == SingletonCursor {
		return nil, &InvalidCursorError{Message: "the singleton cursor cannot be decoded"}
	}
	data, err := base64.RawURLEncoding.DecodeString(string(c))
	if err != nil {
		return nil, &InvalidCursorError{Message: fmt.Sprintf("`%s` is not a valid cursor", c)}
	}
	var pairs [][2]any
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, &InvalidCursorError{Message: fmt.Sprintf("`%s` is not a valid cursor", c)}
	}
	decoded := &DecodedCursor{
		Keys:   make([]string, len(pairs)),
		Values: make([]any, len(pairs)),
	}
	for i, pair := range pairs {
		key, ok := pair[0].(string)
		if !ok {
			return nil, &InvalidCursorError{Message: fmt.Sprintf("`%s` is not a valid cursor", c)}
		}
		decoded.Keys[i] = key
		decoded.Values[i] = pair[1]
	}
	return decoded, nil
}

// MatchesKeys validates that the cursor was produced under the same
// ordered keys.
func (d *DecodedCursor) MatchesKeys(keys []string) bool {
	if len(d.Keys) != len(keys) {
		return false
	}
	for i, k := range keys {
		if d.Keys[i] != k {
			return false
		}
	}
	return true
}
