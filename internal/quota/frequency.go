// Package quota meters estimated spend against per-user limits over
// rolling calendar windows.
package quota

import (
	"fmt"
	"strings"
	"time"
)

// Frequency names the quota window cadence. Weekly is the only cadence
// in service; anything else in a config row is a deployment mistake.
type Frequency string

const FrequencyWeekly Frequency = "weekly"

// ParseFrequency validates a stored frequency value.
func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(strings.ToLower(strings.TrimSpace(s))) {
	case FrequencyWeekly:
		return FrequencyWeekly, nil
	default:
		return "", fmt.Errorf("unknown quota frequency %q", s)
	}
}

// WindowKey returns the canonical key for the window containing now.
// Weekly windows are keyed by the ISO date of their Monday, in UTC.
func (f Frequency) WindowKey(now time.Time) string {
	now = now.UTC()
	daysSinceMonday := (int(now.Weekday()) + 6) % 7
	monday := now.AddDate(0, 0, -daysSinceMonday)
	return monday.Format("2006-01-02")
}
