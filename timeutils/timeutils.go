// Package timeutils provides the microsecond clock and the ISO-8601
// rendering used for the TimeStamp and Expires fields of stored rows.
package timeutils

import (
	"time"
)

// ISOFormat is the canonical rendering of a row TimeStamp.
const ISOFormat = "2006-01-02T15:04:05.000000"

// NowMicros returns the current time as microseconds since the epoch.
func NowMicros() int64 {
	return time.Now().UnixMicro()
}

// MicrosToISO renders microseconds since the epoch as an ISO-8601
// date-time with microsecond precision, in UTC.
func MicrosToISO(micros int64) string {
	return time.UnixMicro(micros).UTC().Format(ISOFormat)
}

// acceptedLayouts lists the date-time renderings accepted from clients.
// The canonical format comes first; the rest cover clients that send
// RFC 3339 timestamps with or without fractional seconds.
var acceptedLayouts = []string{
	ISOFormat,
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z",
}

// ParseISO parses an ISO-8601 date-time into microseconds since the
// epoch. The second return value reports whether parsing succeeded.
func ParseISO(value string) (int64, bool) {
	for _, layout := range acceptedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UnixMicro(), true
		}
	}
	return 0, false
}
