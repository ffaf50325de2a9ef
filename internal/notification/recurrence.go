package notification

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

var namedIntervals = map[string]time.Duration{
	"daily":   day,
	"weekly":  7 * day,
	"monthly": 30 * day,
}

var unitDurations = map[byte]time.Duration{
	'd': day,
	'h': time.Hour,
	'm': time.Minute,
	's': time.Second,
}

// ParseInterval converts a recurrence interval ("2d", "12h", "30m", "45s",
// "daily", "weekly", "monthly") to a duration. Monthly is a fixed 30 days.
func ParseInterval(interval string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(interval))
	if s == "" {
		return 0, fmt.Errorf("empty recurrence interval")
	}
	if d, ok := namedIntervals[s]; ok {
		return d, nil
	}

	unit, ok := unitDurations[s[len(s)-1]]
	if !ok || len(s) < 2 {
		return 0, fmt.Errorf("invalid recurrence interval %q", interval)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid recurrence interval %q", interval)
	}
	return time.Duration(n) * unit, nil
}
