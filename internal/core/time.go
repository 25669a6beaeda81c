package core

import "time"

// TimeFormat is the wire format for timestamps: RFC 3339 with fixed
// millisecond precision, always UTC.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in the wire format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// NowFormatted returns the current time in the wire format.
func NowFormatted() string {
	return FormatTime(time.Now())
}
