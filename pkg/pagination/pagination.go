// Package pagination bounds list sizes for history and flag listings.
package pagination

const (
	// DefaultLimit is used when the caller does not ask for a page size.
	DefaultLimit = 50
	// MaxLimit caps any single listing.
	MaxLimit = 500
)

// NormalizeLimit applies the default and the cap.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
