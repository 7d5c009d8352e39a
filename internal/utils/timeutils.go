package utils

import (
	"fmt"
	"strings"
	"time"
)

// alertTimeLayouts covers RFC3339 with and without fractional seconds, plus the
// zone-less ISO-8601 form some exporters emit.
var alertTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseAlertTime parses an ISO-8601 timestamp as sent by Alertmanager. Values
// without a zone are taken as UTC. Fractional seconds are optional.
func ParseAlertTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	for _, layout := range alertTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q: unsupported layout", value)
}

// FormatAlertTime renders t in the RFC3339 form accepted by ParseAlertTime.
func FormatAlertTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
