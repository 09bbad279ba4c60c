// Package timeutil parses and formats the ISO 8601 timestamp variants
// seen in SigV4-signed requests.
package timeutil

import (
	"time"

	"github.com/palantir/stacktrace"
)

const (
	// ISO8601CompactFormat is the "long date" format carried in the
	// X-Amz-Date header: YYYYMMDDTHHMMSSZ.
	ISO8601CompactFormat = "20060102T150405Z"

	// ISO8601DateFormat is the "short date" format used in credential
	// scopes: YYYYMMDD.
	ISO8601DateFormat = "20060102"
)

// Clients are not consistent about separators: dates arrive both dashed
// and compact, times both coloned and compact, with or without
// fractional seconds and numeric zones. Try the permutations in order.
var iso8601Layouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T150405Z0700",
	"20060102T15:04:05Z0700",
	"20060102T150405Z0700",
	"2006-01-02",
	"20060102",
}

// ParseISO8601Timestamp parses an ISO 8601 timestamp in any of the
// accepted variants. Date-only values are taken as midnight UTC.
// Fractional seconds are accepted and preserved.
func ParseISO8601Timestamp(value string) (time.Time, error) {
	for _, layout := range iso8601Layouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}

	return time.Time{}, stacktrace.NewError(
		"Not a valid ISO 8601 timestamp: %#v", value)
}
