package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/streakwatch/internal/activity"
	"github.com/sakif/streakwatch/internal/model"
	"github.com/sakif/streakwatch/internal/repository"
)

type Engine struct {
	repo   repository.NotificationRepository
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(repo repository.NotificationRepository, sink Sink, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{repo: repo, sink: sink, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Muted reports whether notifications are suppressed today.
func (e *Engine) Muted(ctx context.Context) (bool, error) {
	state, err := e.repo.NotificationState(ctx)
	if err != nil {
		return false, err
	}
	return state.Muted(activity.DayOf(e.now())), nil
}

// Filter drops detections while muted and for entities already notified
// today, then collapses the rest to one per entity.
func (e *Engine) Filter(ctx context.Context, detections []Detection) ([]Detection, error) {
	if len(detections) == 0 {
		return nil, nil
	}
	state, err := e.repo.NotificationState(ctx)
	if err != nil {
		return nil, err
	}
	today := activity.DayOf(e.now())
	if state.Muted(today) {
		return nil, nil
	}
	kept := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if !state.NotifiedOn(d.EntityID, today) {
			kept = append(kept, d)
		}
	}
	return collapse(kept), nil
}

// Deliver persists, shows and marks one cycle's detections. It returns the
// events that were delivered; failures are logged and swallowed.
func (e *Engine) Deliver(ctx context.Context, detections []Detection) []model.NotificationEvent {
	detections, err := e.Filter(ctx, detections)
	if err != nil {
		e.logger.Error("reading notification state", slog.String("error", err.Error()))
		return nil
	}
	if len(detections) == 0 {
		return nil
	}

	now := e.now()
	events := make([]model.NotificationEvent, 0, len(detections))
	for _, d := range detections {
		events = append(events, model.NotificationEvent{
			ID:        xid.New().String(),
			EntityID:  d.EntityID,
			Kind:      d.Kind,
			Message:   d.Message,
			Priority:  d.Priority,
			CreatedAt: now,
		})
	}

	if err := e.repo.AppendEvents(ctx, events); err != nil {
		e.logger.Error("persisting notification events", slog.String("error", err.Error()))
	}

	batch := Batch{Events: events}
	if len(events) > 1 {
		batch.Summary = fmt.Sprintf("%d new updates", len(events))
	}
	if err := e.sink.Notify(ctx, batch); err != nil {
		e.logger.Error("delivering notifications", slog.String("error", err.Error()))
	}

	today := activity.DayOf(now)
	err = e.repo.UpdateNotificationState(ctx, func(state *model.NotificationState) error {
		for _, ev := range events {
			state.LastNotified[ev.EntityID] = today
		}
		return nil
	})
	if err != nil {
		e.logger.Error("marking notified entities", slog.String("error", err.Error()))
	}
	return events
}

// Mute suppresses every notification up to and including until.
func (e *Engine) Mute(ctx context.Context, until activity.Day) error {
	return e.repo.UpdateNotificationState(ctx, func(state *model.NotificationState) error {
		state.MutedUntil = &until
		return nil
	})
}

func (e *Engine) Unmute(ctx context.Context) error {
	return e.repo.UpdateNotificationState(ctx, func(state *model.NotificationState) error {
		state.MutedUntil = nil
		return nil
	})
}

// Recent returns the retained events, newest first.
func (e *Engine) Recent(ctx context.Context) ([]model.NotificationEvent, error) {
	return e.repo.RecentEvents(ctx)
}

func (e *Engine) State(ctx context.Context) (*model.NotificationState, error) {
	return e.repo.NotificationState(ctx)
}
