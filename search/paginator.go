package search

// Paginator captures relay-style pagination arguments and resolves them
// into datastore paging parameters.
type Paginator struct {
	First  *int
	After  *Cursor
	Last   *int
	Before *Cursor

	DefaultPageSize int
	MaxPageSize     int

	decodedAfter  *DecodedCursor
	decodedBefore *DecodedCursor
}

// NewPaginator validates the pagination arguments against the query's
// sort keys and decodes the boundary cursors.
func NewPaginator(first *int, after *Cursor, last *int, before *Cursor, sortKeys []string, defaultSize, maxSize int) (*Paginator, error) {
	p := &Paginator{
		First: first, After: after, Last: last, Before: before,
		DefaultPageSize: defaultSize, MaxPageSize: maxSize,
	}
	var err error
	if p.decodedAfter, err = decodeBoundary(after, sortKeys); err != nil {
		return nil, err
	}
	if p.decodedBefore, err = decodeBoundary(before, sortKeys); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeBoundary(c *Cursor, sortKeys []string) (*DecodedCursor, error) {
	if c == nil || *c == SingletonCursor {
		return nil, nil
	}
	decoded, err := DecodeCursor(*c)
	if err != nil {
		return nil, err
	}
	if !decoded.MatchesKeys(sortKeys) {
		return nil, &InvalidCursorError{Message: "cursor does not match the current sort fields"}
	}
	return decoded, nil
}

// DesiredPageSize is the number of items the caller wants back, clamped
// to [0, MaxPageSize].
func (p *Paginator) DesiredPageSize() int {
	size := p.DefaultPageSize
	if p.First != nil {
		size = *p.First
	} else if p.Last != nil {
		size = *p.Last
	}
	if size < 0 {
		size = 0
	}
	if p.MaxPageSize > 0 && size > p.MaxPageSize {
		size = p.MaxPageSize
	}
	return size
}

// RequestedSize over-fetches by one so has_next_page/has_previous_page
// can be answered without a second query.
func (p *Paginator) RequestedSize() int {
	size := p.DesiredPageSize()
	if size == 0 {
		return 0
	}
	return size + 1
}

// SearchesInReverse reports whether the datastore search runs against
// the inverted sort (backward pagination); the page is re-reversed
// client-side.
func (p *Paginator) SearchesInReverse() bool {
	return p.Last != nil && p.First == nil
}

// SearchAfterValues returns the search_after boundary for the datastore
// request, honoring search direction.
func (p *Paginator) SearchAfterValues() []any {
	if p.SearchesInReverse() {
		if p.decodedBefore != nil {
			return p.decodedBefore.Values
		}
		return nil
	}
	if p.decodedAfter != nil {
		return p.decodedAfter.Values
	}
	return nil
}

// BeforeValues returns the decoded exclusive upper boundary, when the
// search runs forward but a before cursor must truncate the page.
func (p *Paginator) BeforeValues() *DecodedCursor { return p.decodedBefore }

// ShortCircuitsToEmpty reports pagination that provably returns nothing:
// positioning after or before the singleton (one-and-only) element.
func (p *Paginator) ShortCircuitsToEmpty() bool {
	if p.After != nil && *p.After == SingletonCursor {
		return true
	}
	if p.Before != nil && *p.Before == SingletonCursor {
		return true
	}
	return false
}
