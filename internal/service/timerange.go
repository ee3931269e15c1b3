package service

import (
	"fmt"
	"strings"
	"time"
)

// Named time range presets.
const (
	PresetLast24Hours = "last_24_hours"
	PresetLast7Days   = "last_7_days"
	PresetLastMonth   = "last_month"
	PresetLast6Months = "last_6_months"
	PresetLastYear    = "last_year"
	PresetAllTime     = "all_time"
)

// AllTimeStart is the lower bound of the all_time preset.
var AllTimeStart = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

var presetSpans = map[string]time.Duration{
	PresetLast24Hours: 24 * time.Hour,
	PresetLast7Days:   7 * 24 * time.Hour,
	PresetLastMonth:   30 * 24 * time.Hour,
	PresetLast6Months: 180 * 24 * time.Hour,
	PresetLastYear:    365 * 24 * time.Hour,
}

// TimeRange selects a [Start, End) window.  Preset picks the window
// relative to now; a non-zero Start or End replaces that side of it.
type TimeRange struct {
	Preset string
	Start  time.Time
	End    time.Time
}

// Resolve returns the concrete window.  An empty preset means all_time.
func (tr TimeRange) Resolve(now time.Time) (time.Time, time.Time, error) {
	end := now
	if !tr.End.IsZero() {
		end = tr.End
	}

	var start time.Time
	switch p := strings.ToLower(strings.TrimSpace(tr.Preset)); p {
	case "", PresetAllTime:
		start = AllTimeStart
	default:
		span, ok := presetSpans[p]
		if !ok {
			return time.Time{}, time.Time{}, invalid("time_range", fmt.Sprintf("unknown preset %q", tr.Preset))
		}
		start = end.Add(-span)
	}
	if !tr.Start.IsZero() {
		start = tr.Start
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, invalid("time_range", "start must be before end")
	}
	return start.UTC(), end.UTC(), nil
}

// ParseBound reads an RFC 3339 timestamp or a plain date.  Dates are
// midnight in loc.  The empty string yields the zero time.
func ParseBound(field, raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		return t, nil
	}
	return time.Time{}, invalid(field, "must be RFC 3339 or YYYY-MM-DD")
}
