package activity

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Calendar is a sparse UTC day → submission count map. A missing day means zero.
type Calendar map[Day]int

// ParseCalendar decodes the remote calendar format: a JSON object keyed by
// epoch seconds, e.g. {"1700006400": 3}. Keys that are not exact UTC
// midnights are floored to their day, and counts landing on the same day
// are summed. Negative counts are rejected.
func ParseCalendar(raw string) (Calendar, error) {
	raw = strings.TrimSpace(raw)
	cal := Calendar{}
	if raw == "" || raw == "null" {
		return cal, nil
	}
	var byEpoch map[string]int
	if err := json.Unmarshal([]byte(raw), &byEpoch); err != nil {
		return nil, fmt.Errorf("activity: decoding calendar: %w", err)
	}
	for key, count := range byEpoch {
		sec, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("activity: calendar key %q is not epoch seconds: %w", key, err)
		}
		if count < 0 {
			return nil, fmt.Errorf("activity: calendar count for %q is negative", key)
		}
		if count == 0 {
			continue
		}
		cal[FromEpochSeconds(sec)] += count
	}
	return cal, nil
}

// Count returns the submissions on d.
func (c Calendar) Count(d Day) int {
	return c[d]
}

// Active reports whether d has at least one submission.
func (c Calendar) Active(d Day) bool {
	return c[d] > 0
}

// ActiveDays returns the days with count > 0, most recent first.
func (c Calendar) ActiveDays() []Day {
	days := make([]Day, 0, len(c))
	for d, n := range c {
		if n > 0 {
			days = append(days, d)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i] > days[j] })
	return days
}

// Total sums every count in the calendar.
func (c Calendar) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Clone returns an independent copy.
func (c Calendar) Clone() Calendar {
	out := make(Calendar, len(c))
	for d, n := range c {
		out[d] = n
	}
	return out
}

// PruneBefore returns a copy of c without the days strictly before cutoff,
// and the number of days dropped.
func (c Calendar) PruneBefore(cutoff Day) (Calendar, int) {
	out := make(Calendar, len(c))
	dropped := 0
	for d, n := range c {
		if d < cutoff {
			dropped++
			continue
		}
		out[d] = n
	}
	return out, dropped
}
