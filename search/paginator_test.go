package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func mustCursor(t *testing.T, keys []string, values []any) *Cursor {
	t.Helper()
	c, err := EncodeCursor(keys, values)
	require.NoError(t, err)
	return &c
}

func TestPaginatorPageSizes(t *testing.T) {
	sortKeys := []string{"id"}

	p, err := NewPaginator(nil, nil, nil, nil, sortKeys, 50, 500)
	require.NoError(t, err)
	assert.Equal(t, 50, p.DesiredPageSize())
	assert.Equal(t, 51, p.RequestedSize())
	assert.False(t, p.SearchesInReverse())

	p, err = NewPaginator(intPtr(10), nil, nil, nil, sortKeys, 50, 500)
	require.NoError(t, err)
	assert.Equal(t, 10, p.DesiredPageSize())

	p, err = NewPaginator(intPtr(9999), nil, nil, nil, sortKeys, 50, 500)
	require.NoError(t, err)
	assert.Equal(t, 500, p.DesiredPageSize(), "clamped to max")

	p, err = NewPaginator(intPtr(0), nil, nil, nil, sortKeys, 50, 500)
	require.NoError(t, err)
	assert.Equal(t, 0, p.DesiredPageSize())
	assert.Equal(t, 0, p.RequestedSize(), "no over-fetch for an empty page")

	p, err = NewPaginator(intPtr(-3), nil, nil, nil, sortKeys, 50, 500)
	require.NoError(t, err)
	assert.Equal(t, 0, p.DesiredPageSize())
}

func TestPaginatorBackwardPagination(t *testing.T) {
	sortKeys := []string{"id"}
	before := mustCursor(t, sortKeys, []any{"m"})

	p, err := NewPaginator(nil, nil, intPtr(5), before, sortKeys, 50, 500)
	require.NoError(t, err)
	assert.True(t, p.SearchesInReverse())
	assert.Equal(t, []any{"m"}, p.SearchAfterValues())
}

func TestPaginatorCursorValidation(t *testing.T) {
	sortKeys := []string{"created_at", "id"}

	good := mustCursor(t, sortKeys, []any{"2020", "a"})
	_, err := NewPaginator(nil, good, nil, nil, sortKeys, 50, 500)
	assert.NoError(t, err)

	stale := mustCursor(t, []string{"cost", "id"}, []any{5, "a"})
	_, err = NewPaginator(nil, stale, nil, nil, sortKeys, 50, 500)
	require.Error(t, err)
	var invalid *InvalidCursorError
	assert.ErrorAs(t, err, &invalid)
}

func TestPaginatorSingletonShortCircuits(t *testing.T) {
	sortKeys := []string{"id"}
	singleton := SingletonCursor

	p, err := NewPaginator(nil, &singleton, nil, nil, sortKeys, 50, 500)
	require.NoError(t, err)
	assert.True(t, p.ShortCircuitsToEmpty())

	p, err = NewPaginator(nil, nil, nil, &singleton, sortKeys, 50, 500)
	require.NoError(t, err)
	assert.True(t, p.ShortCircuitsToEmpty())

	p, err = NewPaginator(nil, nil, nil, nil, sortKeys, 50, 500)
	require.NoError(t, err)
	assert.False(t, p.ShortCircuitsToEmpty())
}
