package cache

import "time"

// Category is a logical data category. Routes choose a category through
// their key builder; TTLs are configured per category, never per route.
type Category string

const (
	// CategoryDefault is used by the generic full-URL builder.
	CategoryDefault Category = "default"

	// CategoryListing covers paginated collection views.
	CategoryListing Category = "listing"

	// CategorySearch covers search results.
	CategorySearch Category = "search"

	// CategoryDetail covers single-record detail views.
	CategoryDetail Category = "detail"

	// CategoryDaily covers data regenerated once per calendar day.
	CategoryDaily Category = "daily"

	// CategoryStatic covers near-static reference data.
	CategoryStatic Category = "static"
)

// TTLTable maps data categories to entry lifetimes.
type TTLTable map[Category]time.Duration

// DefaultTTLs returns the stock TTL table.
func DefaultTTLs() TTLTable {
	return TTLTable{
		CategoryDefault: 5 * time.Minute,
		CategoryListing: 5 * time.Minute,
		CategorySearch:  2 * time.Minute,
		CategoryDetail:  time.Hour,
		CategoryDaily:   24 * time.Hour,
		CategoryStatic:  time.Hour,
	}
}

// For returns the TTL of c, falling back to the default category and then
// to DefaultTTL.
func (t TTLTable) For(c Category) time.Duration {
	if ttl, ok := t[c]; ok && ttl > 0 {
		return ttl
	}
	if ttl, ok := t[CategoryDefault]; ok && ttl > 0 {
		return ttl
	}
	return DefaultTTL
}

// DefaultTTL is the fallback when a table has no usable entry.
const DefaultTTL = 5 * time.Minute
