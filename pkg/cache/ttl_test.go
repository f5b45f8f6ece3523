package cache

import (
	"testing"
	"time"
)

func TestTTLTable_For(t *testing.T) {
	tests := []struct {
		name     string
		table    TTLTable
		category Category
		want     time.Duration
	}{
		{"search", DefaultTTLs(), CategorySearch, 2 * time.Minute},
		{"daily", DefaultTTLs(), CategoryDaily, 24 * time.Hour},
		{"detail", DefaultTTLs(), CategoryDetail, time.Hour},
		{"unknown category uses default", DefaultTTLs(), Category("reviews"), 5 * time.Minute},
		{"override", TTLTable{CategoryListing: 30 * time.Second}, CategoryListing, 30 * time.Second},
		{"zero falls back to default category", TTLTable{CategoryDefault: time.Minute, CategoryListing: 0}, CategoryListing, time.Minute},
		{"empty table", TTLTable{}, CategoryStatic, DefaultTTL},
		{"nil table", nil, CategoryStatic, DefaultTTL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.table.For(tt.category); got != tt.want {
				t.Errorf("For(%q) = %v, want %v", tt.category, got, tt.want)
			}
		})
	}
}
