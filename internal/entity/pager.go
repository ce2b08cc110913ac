// ABOUTME: Page size normalization for entity searches
// ABOUTME: Rejects negative windows and maps pageSize 0 to the default and oversized pages to the maximum

package entity

const (
	// DefaultPageSize is used when a request asks for pageSize 0
	DefaultPageSize = 50
	// MaxPageSize caps the number of items in a single page
	MaxPageSize = 1000
)

// Pager normalizes requested search windows
type Pager struct {
	DefaultPageSize int
	MaxPageSize     int
}

// NewPager returns a Pager, substituting package defaults for non-positive sizes.
// A default larger than the maximum is lowered to the maximum.
func NewPager(defaultSize, maxSize int) Pager {
	if maxSize <= 0 {
		maxSize = MaxPageSize
	}
	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}
	if defaultSize > maxSize {
		defaultSize = maxSize
	}
	return Pager{DefaultPageSize: defaultSize, MaxPageSize: maxSize}
}

// Normalize validates offset and pageSize and returns the effective page size.
// pageSize 0 means "use the default", not "return nothing".
func (p Pager) Normalize(offset, pageSize int) (int, error) {
	if offset < 0 {
		return 0, NewValidationError("offset", "must not be negative, got %d", offset)
	}
	if pageSize < 0 {
		return 0, NewValidationError("pageSize", "must not be negative, got %d", pageSize)
	}
	if pageSize == 0 {
		return p.DefaultPageSize, nil
	}
	if pageSize > p.MaxPageSize {
		return p.MaxPageSize, nil
	}
	return pageSize, nil
}
