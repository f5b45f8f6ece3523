package cache

import (
	"time"

	"github.com/Sternrassler/marketgate/pkg/intercept"
)

// CacheEntry represents a cached successful response.
type CacheEntry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// ContentType is the Content-Type header of the cached response
	ContentType string `json:"content_type,omitempty"`

	// Category is the data category the TTL was chosen from
	Category Category `json:"category,omitempty"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`

	// Expires is when the entry becomes stale
	Expires time.Time `json:"expires"`
}

// NewEntry builds an entry from a handler outcome, valid for ttl from now.
func NewEntry(o intercept.Outcome, category Category, ttl time.Duration, now time.Time) *CacheEntry {
	return &CacheEntry{
		Data:        o.Body,
		StatusCode:  o.Status,
		ContentType: o.ContentType,
		Category:    category,
		CachedAt:    now,
		Expires:     now.Add(ttl),
	}
}

// IsExpired returns true if the cache entry has expired.
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *CacheEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
