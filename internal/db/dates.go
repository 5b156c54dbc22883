package db

import (
	"strings"
	"time"
)

// dateLayouts covers the formats the portal has been seen emitting, most
// specific first.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-01-2006 15:04",
	"02-01-2006",
}

// parseDate parses a portal date string, returning nil when it does not
// match any known layout. The raw text is preserved separately, so an
// unparseable date loses ordering but never data.
func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
