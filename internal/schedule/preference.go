// Package schedule decides when the next sync runs.
//
// The day is split into an active window and quiet hours. The active window
// is the half-open hour range [start, end) and wraps past midnight when
// start > end, so 19→4 is active from 19:00 to 03:59. start == end means the
// window is empty and every hour is quiet.
//
// The next delay is the current mode's interval, shortened to the next
// window boundary when that comes sooner, so a change of cadence takes
// effect on time instead of one stale interval later.
package schedule

import (
	"fmt"
	"time"

	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/model"
)

const (
	// FallbackDelay is used whenever the preference cannot be trusted.
	FallbackDelay = 30 * time.Minute
	MinDelay      = time.Minute

	minutesPerDay = 24 * 60
)

func DefaultPreference() model.SchedulePreference {
	return model.SchedulePreference{
		ActiveIntervalMinutes: 15,
		QuietIntervalMinutes:  60,
		ActiveStartHour:       18,
		ActiveEndHour:         2,
	}
}

func Validate(p model.SchedulePreference) error {
	switch {
	case p.ActiveIntervalMinutes < 1:
		return apperror.ValidationFailed("activeIntervalMinutes", "active interval must be at least one minute")
	case p.QuietIntervalMinutes < 1:
		return apperror.ValidationFailed("quietIntervalMinutes", "quiet interval must be at least one minute")
	case p.ActiveStartHour < 0 || p.ActiveStartHour > 23:
		return apperror.ValidationFailed("activeStartHour", fmt.Sprintf("hour %d is outside 0-23", p.ActiveStartHour))
	case p.ActiveEndHour < 0 || p.ActiveEndHour > 23:
		return apperror.ValidationFailed("activeEndHour", fmt.Sprintf("hour %d is outside 0-23", p.ActiveEndHour))
	}
	return nil
}

// IsActiveAt reports whether t's wall-clock hour falls in the active window.
func IsActiveAt(p model.SchedulePreference, t time.Time) bool {
	hour := t.Hour()
	start, end := p.ActiveStartHour, p.ActiveEndHour
	switch {
	case start == end:
		return false
	case start > end:
		return hour >= start || hour < end
	default:
		return hour >= start && hour < end
	}
}

func CurrentInterval(p model.SchedulePreference, t time.Time) time.Duration {
	if IsActiveAt(p, t) {
		return time.Duration(p.ActiveIntervalMinutes) * time.Minute
	}
	return time.Duration(p.QuietIntervalMinutes) * time.Minute
}

// MinutesUntilTransition is the number of minutes from t to the next window
// boundary, start or end, whichever comes first.
func MinutesUntilTransition(p model.SchedulePreference, t time.Time) int {
	return min(minutesUntilHour(t, p.ActiveStartHour), minutesUntilHour(t, p.ActiveEndHour))
}

func minutesUntilHour(t time.Time, hour int) int {
	d := hour*60 - (t.Hour()*60 + t.Minute())
	if d <= 0 {
		d += minutesPerDay
	}
	return d
}

// NextDelay is how long to wait before the next sync. An invalid preference
// yields FallbackDelay.
func NextDelay(p model.SchedulePreference, t time.Time) time.Duration {
	if Validate(p) != nil {
		return FallbackDelay
	}
	d := min(CurrentInterval(p, t), time.Duration(MinutesUntilTransition(p, t))*time.Minute)
	return max(d, MinDelay)
}
