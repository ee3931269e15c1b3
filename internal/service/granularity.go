package service

import (
	"fmt"
	"strings"
	"time"
)

// Granularity is the bucket width of Aggregate.
type Granularity string

const (
	Hourly  Granularity = "hourly"
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
	Yearly  Granularity = "yearly"
)

// ParseGranularity accepts the names above, case-insensitively.  The empty
// string means Daily.
func ParseGranularity(raw string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(raw))); g {
	case "":
		return Daily, nil
	case Hourly, Daily, Weekly, Monthly, Yearly:
		return g, nil
	}
	return "", invalid("frequency", fmt.Sprintf("unknown granularity %q", raw))
}

// Label truncates t to the calendar bucket it falls in.  Labels of one
// granularity sort lexically in chronological order.
//
//	hourly  2026-03-01 14:00:00
//	daily   2026-03-01
//	weekly  2026-08   (week of year, Monday first; days before the first Monday are week 00)
//	monthly 2026-03
//	yearly  2026
func (g Granularity) Label(t time.Time) string {
	switch g {
	case Hourly:
		return t.Format("2006-01-02 15:00:00")
	case Weekly:
		return fmt.Sprintf("%04d-%02d", t.Year(), mondayWeek(t))
	case Monthly:
		return t.Format("2006-01")
	case Yearly:
		return t.Format("2006")
	default:
		return t.Format("2006-01-02")
	}
}

// mondayWeek numbers weeks the way strftime's %W does.
func mondayWeek(t time.Time) int {
	yday := t.YearDay() - 1
	wday := (int(t.Weekday()) + 6) % 7 // Monday = 0
	return (yday + 7 - wday) / 7
}
