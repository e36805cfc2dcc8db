package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// today is fixed so every test is deterministic: 2024-03-15 UTC.
var today = DayOf(time.Date(2024, 3, 15, 13, 0, 0, 0, time.UTC))

// calendarOf builds a calendar from day offsets relative to today (0 = today, 1 = yesterday).
func calendarOf(counts map[int]int) Calendar {
	cal := Calendar{}
	for offset, n := range counts {
		cal[today-Day(offset)] = n
	}
	return cal
}

func TestStreak(t *testing.T) {
	tests := []struct {
		name string
		cal  Calendar
		want int
	}{
		{"empty calendar", Calendar{}, 0},
		{"only today", calendarOf(map[int]int{0: 1}), 1},
		{"only yesterday", calendarOf(map[int]int{1: 2}), 1},
		{"today and yesterday", calendarOf(map[int]int{0: 1, 1: 1}), 2},
		{"five consecutive days ending today", calendarOf(map[int]int{0: 1, 1: 1, 2: 1, 3: 1, 4: 1}), 5},
		{"anchored at yesterday", calendarOf(map[int]int{1: 1, 2: 1, 3: 1}), 3},
		{"gap at two days ago breaks the chain", calendarOf(map[int]int{0: 3, 1: 5, 2: 0, 3: 4}), 2},
		{"last activity two days ago is broken", calendarOf(map[int]int{2: 1, 3: 1, 4: 1}), 0},
		{"zero counts are inactive", calendarOf(map[int]int{0: 0, 1: 0}), 0},
		{"future days are ignored", calendarOf(map[int]int{-1: 4, 0: 1}), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Streak(tt.cal, today))
		})
	}
}

func TestStreak_ConsecutiveRunsMatchLength(t *testing.T) {
	for length := 2; length <= 40; length++ {
		counts := map[int]int{}
		for i := 0; i < length; i++ {
			counts[i] = i%3 + 1
		}
		// a gap followed by older activity must not extend the run
		counts[length+1] = 9
		assert.Equal(t, length, Streak(calendarOf(counts), today), "length %d", length)
	}
}

func TestStreak_UsesUTCDayBoundaries(t *testing.T) {
	// 23:30 UTC on the 14th and 00:30 UTC on the 15th are different days even
	// though they are an hour apart.
	cal, err := ParseCalendar(`{"1710459000": 1, "1710462600": 1}`)
	require.NoError(t, err)

	assert.Equal(t, 2, Streak(cal, today))
	assert.Len(t, cal, 2)
}

func TestMutualStreak(t *testing.T) {
	a := calendarOf(map[int]int{0: 1, 1: 1, 2: 1, 3: 1})
	b := calendarOf(map[int]int{0: 1, 1: 1, 3: 1})

	tests := []struct {
		name  string
		a, b  Calendar
		start Day
		want  int
	}{
		{"intersection stops at b's gap", a, b, 0, 2},
		{"start date trims the run", a, a, today - 1, 2},
		{"start after latest mutual day", a, b, today + 1, 0},
		{"empty a", Calendar{}, b, 0, 0},
		{"empty b", a, Calendar{}, 0, 0},
		{"no overlap", calendarOf(map[int]int{0: 1}), calendarOf(map[int]int{1: 1}), 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MutualStreak(tt.a, tt.b, tt.start, today))
		})
	}
}

func TestMutualStreak_NeverExceedsIndividualStreaks(t *testing.T) {
	cals := []Calendar{
		calendarOf(map[int]int{0: 1, 1: 1, 2: 1, 5: 1}),
		calendarOf(map[int]int{1: 1, 2: 1, 3: 1, 4: 1}),
		calendarOf(map[int]int{0: 2, 2: 1}),
		calendarOf(map[int]int{3: 1}),
		{},
	}
	for i, a := range cals {
		for j, b := range cals {
			mutual := MutualStreak(a, b, 0, today)
			limit := min(Streak(a, today), Streak(b, today))
			assert.LessOrEqual(t, mutual, limit, "calendars %d and %d", i, j)
		}
	}
}

func TestDetectMilestone(t *testing.T) {
	for _, streak := range []int{7, 30, 100} {
		assert.True(t, DetectMilestone(streak), "streak %d", streak)
	}
	for _, streak := range []int{0, 1, 6, 8, 29, 31, 99, 101} {
		assert.False(t, DetectMilestone(streak), "streak %d", streak)
	}
}

func TestCrossedMilestone(t *testing.T) {
	tests := []struct {
		prev, cur int
		want      int
		ok        bool
	}{
		{6, 7, 7, true},
		{7, 8, 0, false},
		{7, 7, 0, false},
		{5, 31, 30, true},
		{0, 100, 100, true},
		{30, 29, 0, false},
	}
	for _, tt := range tests {
		got, ok := CrossedMilestone(tt.prev, tt.cur)
		assert.Equal(t, tt.ok, ok, "CrossedMilestone(%d, %d)", tt.prev, tt.cur)
		assert.Equal(t, tt.want, got, "CrossedMilestone(%d, %d)", tt.prev, tt.cur)
	}
}

func TestIsAtRisk(t *testing.T) {
	tests := []struct {
		name   string
		cal    Calendar
		streak int
		want   bool
	}{
		{"no streak", Calendar{}, 0, false},
		{"active today", calendarOf(map[int]int{0: 1, 1: 1}), 2, false},
		{"active yesterday only", calendarOf(map[int]int{1: 1}), 1, false},
		{"recorded streak with no activity today or yesterday", calendarOf(map[int]int{2: 1, 3: 1}), 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAtRisk(tt.cal, tt.streak, today))
		})
	}
}

func TestValidateResubmission(t *testing.T) {
	prev := Metrics{RuntimeMs: 50, MemoryMB: 20}

	tests := []struct {
		name   string
		solved int
		next   Metrics
		want   bool
	}{
		{"over threshold, worse on both", 501, Metrics{RuntimeMs: 60, MemoryMB: 21}, false},
		{"over threshold, better runtime", 501, Metrics{RuntimeMs: 40, MemoryMB: 21}, true},
		{"over threshold, better memory", 900, Metrics{RuntimeMs: 60, MemoryMB: 19}, true},
		{"over threshold, identical", 900, prev, true},
		{"at threshold, worse on both", 500, Metrics{RuntimeMs: 60, MemoryMB: 21}, true},
		{"under threshold, worse on both", 10, Metrics{RuntimeMs: 99, MemoryMB: 99}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateResubmission(tt.solved, prev, tt.next))
		})
	}
}
