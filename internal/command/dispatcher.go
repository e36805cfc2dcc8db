package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/streakwatch/internal/activity"
	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/mirror"
	"github.com/sakif/streakwatch/internal/model"
	"github.com/sakif/streakwatch/internal/notify"
	"github.com/sakif/streakwatch/internal/repository"
	"github.com/sakif/streakwatch/internal/schedule"
	"github.com/sakif/streakwatch/internal/syncer"
)

type Syncer interface {
	ForceRefresh(ctx context.Context) (syncer.Report, error)
	Entities(ctx context.Context) ([]*model.TrackedEntity, error)
	AddEntity(ctx context.Context, id string) (*model.TrackedEntity, error)
	RemoveEntity(ctx context.Context, id string) error
	SetSelf(ctx context.Context, id string) error
}

type Notifications interface {
	Mute(ctx context.Context, until activity.Day) error
	Unmute(ctx context.Context) error
	Recent(ctx context.Context) ([]model.NotificationEvent, error)
}

type FailedQueue interface {
	RetryFailed(ctx context.Context) (mirror.ReplayReport, error)
}

// Rearmer reschedules the next cycle after the preference changed.
type Rearmer interface {
	Arm(ctx context.Context) time.Duration
}

var (
	_ Syncer        = (*syncer.Orchestrator)(nil)
	_ Notifications = (*notify.Engine)(nil)
	_ FailedQueue   = (*mirror.Engine)(nil)
	_ Rearmer       = (*schedule.Scheduler)(nil)
)

// ScheduleView is the answer to GetSchedule.
type ScheduleView struct {
	Preference model.SchedulePreference `json:"preference"`
	Saved      bool                     `json:"saved"`
}

type Dispatcher struct {
	sync     Syncer
	notify   Notifications
	schedule repository.ScheduleRepository
	logger   *slog.Logger

	mirror  FailedQueue
	rearmer Rearmer
}

type Option func(*Dispatcher)

// WithMirror enables RetryFailedMirror. Without it the command is rejected.
func WithMirror(m FailedQueue) Option {
	return func(d *Dispatcher) { d.mirror = m }
}

// WithRearmer lets SetSchedule take effect before the current timer fires.
func WithRearmer(r Rearmer) Option {
	return func(d *Dispatcher) { d.rearmer = r }
}

func NewDispatcher(sync Syncer, notifications Notifications, sched repository.ScheduleRepository, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{sync: sync, notify: notifications, schedule: sched, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs cmd and returns its result:
//
//	SyncNow             syncer.Report
//	ListEntities        []*model.TrackedEntity
//	AddEntity           *model.TrackedEntity
//	RecentNotifications []model.NotificationEvent
//	RetryFailedMirror   mirror.ReplayReport
//	GetSchedule         ScheduleView
//	anything else       nil
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (any, error) {
	d.logger.Debug("dispatching command", slog.String("command", fmt.Sprintf("%T", cmd)))

	switch c := cmd.(type) {
	case SyncNow:
		return d.sync.ForceRefresh(ctx)
	case ListEntities:
		return d.sync.Entities(ctx)
	case AddEntity:
		return d.sync.AddEntity(ctx, c.ID)
	case RemoveEntity:
		return nil, d.sync.RemoveEntity(ctx, c.ID)
	case SetSelf:
		return nil, d.sync.SetSelf(ctx, c.ID)
	case Mute:
		return nil, d.notify.Mute(ctx, c.Until)
	case Unmute:
		return nil, d.notify.Unmute(ctx)
	case RecentNotifications:
		return d.notify.Recent(ctx)
	case RetryFailedMirror:
		if d.mirror == nil {
			return nil, apperror.ValidationFailed("mirror", "mirroring is not configured")
		}
		return d.mirror.RetryFailed(ctx)
	case GetSchedule:
		return d.getSchedule(ctx)
	case SetSchedule:
		return nil, d.setSchedule(ctx, c.Preference)
	default:
		return nil, fmt.Errorf("command: unhandled command %T", cmd)
	}
}

func (d *Dispatcher) getSchedule(ctx context.Context) (ScheduleView, error) {
	pref, err := d.schedule.SchedulePreference(ctx)
	if err != nil {
		return ScheduleView{}, err
	}
	if pref == nil {
		return ScheduleView{Preference: schedule.DefaultPreference()}, nil
	}
	return ScheduleView{Preference: *pref, Saved: true}, nil
}

func (d *Dispatcher) setSchedule(ctx context.Context, pref model.SchedulePreference) error {
	if err := schedule.Validate(pref); err != nil {
		return err
	}
	if err := d.schedule.SaveSchedulePreference(ctx, pref); err != nil {
		return err
	}
	if d.rearmer != nil {
		next := d.rearmer.Arm(ctx)
		d.logger.Info("schedule updated", slog.Duration("next_sync_in", next))
	}
	return nil
}
