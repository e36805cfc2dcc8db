package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/streakwatch/internal/model"
)

func at(hour, minute int) time.Time {
	return time.Date(2024, 3, 15, hour, minute, 0, 0, time.UTC)
}

var evening = model.SchedulePreference{ActiveIntervalMinutes: 15, QuietIntervalMinutes: 60, ActiveStartHour: 19, ActiveEndHour: 4}

func TestIsActiveAt(t *testing.T) {
	daytime := model.SchedulePreference{ActiveIntervalMinutes: 5, QuietIntervalMinutes: 30, ActiveStartHour: 9, ActiveEndHour: 17}
	never := model.SchedulePreference{ActiveIntervalMinutes: 5, QuietIntervalMinutes: 30, ActiveStartHour: 8, ActiveEndHour: 8}

	tests := []struct {
		name string
		pref model.SchedulePreference
		at   time.Time
		want bool
	}{
		{"wrapping window, late evening", evening, at(23, 0), true},
		{"wrapping window, early morning", evening, at(2, 0), true},
		{"wrapping window, midday", evening, at(12, 0), false},
		{"wrapping window, start hour", evening, at(19, 0), true},
		{"wrapping window, end hour is exclusive", evening, at(4, 0), false},
		{"plain window, inside", daytime, at(9, 30), true},
		{"plain window, end is exclusive", daytime, at(17, 0), false},
		{"plain window, before", daytime, at(8, 59), false},
		{"empty window", never, at(8, 30), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsActiveAt(tt.pref, tt.at))
		})
	}
}

func TestCurrentInterval(t *testing.T) {
	assert.Equal(t, 15*time.Minute, CurrentInterval(evening, at(23, 0)))
	assert.Equal(t, 60*time.Minute, CurrentInterval(evening, at(12, 0)))
}

func TestMinutesUntilTransition(t *testing.T) {
	tests := []struct {
		at   time.Time
		want int
	}{
		{at(18, 50), 10},        // to 19:00
		{at(23, 0), 5 * 60},     // to 04:00 next day
		{at(3, 59), 1},          // to 04:00
		{at(4, 0), 15 * 60},     // just crossed 04:00, next is 19:00
		{at(12, 30), 6*60 + 30}, // to 19:00
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MinutesUntilTransition(evening, tt.at), "at %s", tt.at.Format("15:04"))
	}
}

func TestNextDelay(t *testing.T) {
	tests := []struct {
		name string
		pref model.SchedulePreference
		at   time.Time
		want time.Duration
	}{
		{"quiet, transition far away", evening, at(12, 0), 60 * time.Minute},
		{"quiet, transition imminent", evening, at(18, 50), 10 * time.Minute},
		{"active, full interval", evening, at(23, 0), 15 * time.Minute},
		{"active, ends soon", evening, at(3, 55), 5 * time.Minute},
		{"floor of one minute", evening, at(18, 59), time.Minute},
		{"invalid interval", model.SchedulePreference{ActiveIntervalMinutes: 0, QuietIntervalMinutes: 60}, at(12, 0), FallbackDelay},
		{"invalid hour", model.SchedulePreference{ActiveIntervalMinutes: 5, QuietIntervalMinutes: 60, ActiveStartHour: 24}, at(12, 0), FallbackDelay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextDelay(tt.pref, tt.at))
		})
	}
}

func TestNextDelay_NeverExceedsInterval(t *testing.T) {
	for h := 0; h < 24; h++ {
		for _, m := range []int{0, 17, 59} {
			now := at(h, m)
			d := NextDelay(evening, now)
			assert.LessOrEqual(t, d, CurrentInterval(evening, now))
			assert.GreaterOrEqual(t, d, MinDelay)
		}
	}
}

// ===== Scheduler =====

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

type stubPrefs struct {
	pref *model.SchedulePreference
	err  error
}

func (s stubPrefs) SchedulePreference(context.Context) (*model.SchedulePreference, error) {
	return s.pref, s.err
}

func newTestScheduler(prefs PreferenceSource, now time.Time) (*Scheduler, *fakeClock) {
	clock := &fakeClock{now: now}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(prefs, DefaultPreference(), logger, WithClock(clock), WithLocation(time.UTC)), clock
}

func TestScheduler_ArmReplacesTimer(t *testing.T) {
	s, clock := newTestScheduler(stubPrefs{pref: &evening}, at(12, 0))

	assert.Equal(t, time.Hour, s.Arm(context.Background()))
	first := clock.last()
	s.Arm(context.Background())

	assert.True(t, first.stopped)
	assert.Equal(t, 2, clock.count())
	assert.False(t, clock.last().stopped)
}

func TestScheduler_Fallbacks(t *testing.T) {
	s, _ := newTestScheduler(stubPrefs{err: errors.New("corrupt")}, at(12, 0))
	assert.Equal(t, FallbackDelay, s.Delay(context.Background()))

	s, _ = newTestScheduler(stubPrefs{pref: &model.SchedulePreference{}}, at(12, 0))
	assert.Equal(t, FallbackDelay, s.Delay(context.Background()))

	// nothing saved: defaults apply (quiet at noon)
	s, _ = newTestScheduler(stubPrefs{}, at(12, 0))
	assert.Equal(t, 60*time.Minute, s.Delay(context.Background()))
}

func TestScheduler_RunFiresAndRearms(t *testing.T) {
	s, clock := newTestScheduler(stubPrefs{pref: &evening}, at(12, 0))
	ctx, cancel := context.WithCancel(context.Background())

	calls := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context) { calls <- struct{}{} })
	}()

	require.Eventually(t, func() bool { return clock.count() == 1 }, time.Second, time.Millisecond)
	clock.last().fn()
	<-calls
	require.Eventually(t, func() bool { return clock.count() == 2 }, time.Second, time.Millisecond)
	clock.last().fn()
	<-calls

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.True(t, clock.last().stopped)
}
