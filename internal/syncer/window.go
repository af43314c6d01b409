package syncer

import (
	"fmt"
	"time"
)

// NaturalBoundary returns the most recent calendar boundary of the given
// unit at or before now, in UTC. Weeks start on Monday.
func NaturalBoundary(now time.Time, unit string) (time.Time, error) {
	now = now.UTC()
	y, m, d := now.Date()
	switch unit {
	case "day":
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	case "week":
		offset := (int(now.Weekday()) + 6) % 7
		return time.Date(y, m, d-offset, 0, 0, 0, 0, time.UTC), nil
	case "month":
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC), nil
	case "quarter":
		first := time.Month((int(m)-1)/3*3 + 1)
		return time.Date(y, first, 1, 0, 0, 0, 0, time.UTC), nil
	case "year":
		return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, fmt.Errorf("unknown boundary unit %q", unit)
	}
}
