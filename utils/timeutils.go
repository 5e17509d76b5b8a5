package utils

import (
	"time"
)

// Iso8601Now returns the current time in ISO8601 format
func Iso8601Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Iso8601FromTime formats t in UTC ISO8601
func Iso8601FromTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
