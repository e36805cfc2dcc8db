package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/streakwatch/internal/model"
)

// Timer is an armed one-shot callback.
type Timer interface {
	Stop() bool
}

// Clock is the platform timer facility.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// PreferenceSource loads the user's preference; nil means none saved.
type PreferenceSource interface {
	SchedulePreference(ctx context.Context) (*model.SchedulePreference, error)
}

// Scheduler owns the single sync timer.
type Scheduler struct {
	prefs    PreferenceSource
	defaults model.SchedulePreference
	clock    Clock
	loc      *time.Location
	logger   *slog.Logger

	mu    sync.Mutex
	timer Timer
	fired chan struct{}
}

type Option func(*Scheduler)

func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLocation sets the zone whose wall clock defines the active window.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.loc = loc }
}

func New(prefs PreferenceSource, defaults model.SchedulePreference, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		prefs:    prefs,
		defaults: defaults,
		clock:    realClock{},
		loc:      time.Local,
		logger:   logger,
		fired:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Delay reloads the preference and computes the next delay from now.
func (s *Scheduler) Delay(ctx context.Context) time.Duration {
	pref := s.defaults
	stored, err := s.prefs.SchedulePreference(ctx)
	switch {
	case err != nil:
		s.logger.Warn("schedule preference unreadable, using fallback",
			slog.String("error", err.Error()),
			slog.Duration("delay", FallbackDelay),
		)
		return FallbackDelay
	case stored != nil:
		pref = *stored
	}
	if err := Validate(pref); err != nil {
		s.logger.Warn("schedule preference invalid, using fallback",
			slog.String("error", err.Error()),
			slog.Duration("delay", FallbackDelay),
		)
		return FallbackDelay
	}
	return NextDelay(pref, s.clock.Now().In(s.loc))
}

// Arm clears any pending timer and sets a new one.
func (s *Scheduler) Arm(ctx context.Context) time.Duration {
	delay := s.Delay(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clock.AfterFunc(delay, s.onFire)
	s.logger.Debug("sync timer armed", slog.Duration("delay", delay))
	return delay
}

func (s *Scheduler) onFire() {
	select {
	case s.fired <- struct{}{}:
	default:
	}
}

// Run calls cycle every time the timer fires, re-arming after each call,
// until ctx is cancelled. cycle runs on Run's goroutine, so cycles never overlap.
func (s *Scheduler) Run(ctx context.Context, cycle func(ctx context.Context)) error {
	s.Arm(ctx)
	defer s.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.fired:
			cycle(ctx)
			s.Arm(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
