// Package activity holds the pure streak and activity rules. Nothing in this
// package performs I/O or reads the wall clock; callers pass "today" in.
//
// UTC DAYS:
// Every date is a Day: the number of whole UTC days since the Unix epoch.
// Converting through a local timezone is a correctness bug, so the only ways to
// build a Day are from a time.Time (normalised to UTC), from epoch seconds, or
// from a "YYYY-MM-DD" string.
package activity

import (
	"fmt"
	"time"
)

const secondsPerDay = 24 * 60 * 60

const dayLayout = "2006-01-02"

// Day is an integer UTC day index. Day(0) is 1970-01-01.
type Day int64

// DayOf returns the UTC day containing t.
func DayOf(t time.Time) Day {
	return FromEpochSeconds(t.Unix())
}

// FromEpochSeconds floors sec to its UTC day. Negative timestamps floor
// toward the past, not toward zero.
func FromEpochSeconds(sec int64) Day {
	d := sec / secondsPerDay
	if sec%secondsPerDay < 0 {
		d--
	}
	return Day(d)
}

// ParseDay parses a "YYYY-MM-DD" date as a UTC day.
func ParseDay(s string) (Day, error) {
	t, err := time.ParseInLocation(dayLayout, s, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("activity: parsing day %q: %w", s, err)
	}
	return DayOf(t), nil
}

// EpochSeconds returns the UTC midnight starting d.
func (d Day) EpochSeconds() int64 {
	return int64(d) * secondsPerDay
}

// Time returns UTC midnight of d.
func (d Day) Time() time.Time {
	return time.Unix(d.EpochSeconds(), 0).UTC()
}

func (d Day) String() string {
	return d.Time().Format(dayLayout)
}

// MarshalText encodes d as "YYYY-MM-DD"; it is also used when Day is a JSON map key.
func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Day) UnmarshalText(text []byte) error {
	parsed, err := ParseDay(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
