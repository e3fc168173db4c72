package app

import (
	"fmt"
	"time"
)

// RelativeDate labels a timestamp for the document list by whole days
// elapsed: Today, Yesterday, "N days ago" inside a week, else the date.
func RelativeDate(t, now time.Time) string {
	days := int(now.Sub(t) / (24 * time.Hour))
	switch {
	case days <= 0:
		return "Today"
	case days == 1:
		return "Yesterday"
	case days < 7:
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.In(now.Location()).Format("Jan 2, 2006")
	}
}
