package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewID returns a textually-represented 128-bit random identifier for
// a review, message, or reviewer row.
func NewID() string {
	return uuid.NewString()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// formatAuditTimestamp renders the millisecond-precision ISO-8601 form
// required for audit_events.created_at.
func formatAuditTimestamp(ts time.Time) string {
	if ts.IsZero() {
		ts = nowUTC()
	}
	return ts.UTC().Format("2006-01-02T15:04:05.000Z")
}

// formatReviewTimestamp renders the legacy space-separated form (in
// UTC) kept for review rows; ParseTimestamp reads it back and callers
// render ISO-8601 only on output.
func formatReviewTimestamp(ts time.Time) string {
	if ts.IsZero() {
		ts = nowUTC()
	}
	return ts.UTC().Format("2006-01-02 15:04:05")
}

// ParseTimestamp accepts either the legacy "YYYY-MM-DD HH:MM:SS" review
// form or the millisecond ISO-8601 audit-event form and normalizes both
// to UTC.
func ParseTimestamp(v string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02T15:04:05.000Z",
		time.RFC3339,
		"2006-01-02 15:04:05",
	} {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format %q", v)
}
