package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/sakif/streakwatch/internal/activity"
	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/kv"
	"github.com/sakif/streakwatch/internal/model"
	"github.com/sakif/streakwatch/internal/writequeue"
)

const (
	keyEntityPrefix       = "entity:"
	keyEntities           = "entities"
	keySelfID             = "self_id"
	keyNotificationState  = "notification_state"
	keyNotificationEvents = "notification_events"
	keySchedule           = "schedule_preference"
	keyMirrorRecordPrefix = "mirror_record:"
	keyFailedQueue        = "mirror_failed_queue"

	// MaxEvents is how many notification events are kept for display.
	MaxEvents = 20
	// EventRetention is how long an event stays visible.
	EventRetention = 24 * time.Hour
	// CalendarRetentionDays is how much history the quota cleanup keeps.
	CalendarRetentionDays = 365
	// cleanupThreshold is the share of the quota that triggers a cleanup, in percent.
	cleanupThreshold = 90
)

var (
	_ EntityRepository       = (*Store)(nil)
	_ NotificationRepository = (*Store)(nil)
	_ ScheduleRepository     = (*Store)(nil)
	_ MirrorRepository       = (*Store)(nil)
	_ SecretRepository       = (*Store)(nil)
)

// Store implements every repository interface over one key-value store.
type Store struct {
	kv     kv.Store
	queue  *writequeue.Queue
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(store kv.Store, queue *writequeue.Queue, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{kv: store, queue: queue, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func entityKey(id string) string {
	return keyEntityPrefix + id
}

// =========================================================================
// ENTITIES
// =========================================================================

func (s *Store) ListEntityIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if _, err := s.getJSON(ctx, keyEntities, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) GetEntity(ctx context.Context, id string) (*model.TrackedEntity, error) {
	var e model.TrackedEntity
	ok, err := s.getJSON(ctx, entityKey(id), &e)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.NotFound("entity", id)
	}
	return &e, nil
}

// ListEntities returns entities in tracking order. Ids whose record is
// missing are skipped.
func (s *Store) ListEntities(ctx context.Context) ([]*model.TrackedEntity, error) {
	ids, err := s.ListEntityIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.TrackedEntity, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetEntity(ctx, id)
		if errors.Is(err, apperror.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// SaveEntity upserts the record and appends its id to the tracking list the
// first time it is seen.
func (s *Store) SaveEntity(ctx context.Context, entity *model.TrackedEntity) error {
	if entity == nil || entity.ID == "" {
		return apperror.ValidationFailed("id", "entity id is required")
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("repository: encoding entity %s: %w", entity.ID, err)
	}
	return s.queue.Submit(ctx, func(ctx context.Context) error {
		var ids []string
		if _, err := s.getJSON(ctx, keyEntities, &ids); err != nil {
			return err
		}
		values := map[string][]byte{entityKey(entity.ID): data}
		if !slices.Contains(ids, entity.ID) {
			encoded, err := json.Marshal(append(ids, entity.ID))
			if err != nil {
				return fmt.Errorf("repository: encoding entity list: %w", err)
			}
			values[keyEntities] = encoded
		}
		return s.put(ctx, values)
	})
}

// RemoveEntity drops the record, its place in the tracking list and its
// notification history. Removing the self entity also clears the self id.
func (s *Store) RemoveEntity(ctx context.Context, id string) error {
	return s.queue.Submit(ctx, func(ctx context.Context) error {
		var ids []string
		if _, err := s.getJSON(ctx, keyEntities, &ids); err != nil {
			return err
		}
		if !slices.Contains(ids, id) {
			return apperror.NotFound("entity", id)
		}
		ids = slices.DeleteFunc(ids, func(v string) bool { return v == id })
		encoded, err := json.Marshal(ids)
		if err != nil {
			return fmt.Errorf("repository: encoding entity list: %w", err)
		}
		values := map[string][]byte{keyEntities: encoded}

		var state model.NotificationState
		if ok, err := s.getJSON(ctx, keyNotificationState, &state); err != nil {
			return err
		} else if ok {
			if _, tracked := state.LastNotified[id]; tracked {
				delete(state.LastNotified, id)
				if values[keyNotificationState], err = json.Marshal(state); err != nil {
					return fmt.Errorf("repository: encoding notification state: %w", err)
				}
			}
		}
		if err := s.put(ctx, values); err != nil {
			return err
		}

		remove := []string{entityKey(id)}
		var self string
		if ok, err := s.getJSON(ctx, keySelfID, &self); err != nil {
			return err
		} else if ok && self == id {
			remove = append(remove, keySelfID)
		}
		return s.kv.Remove(ctx, remove...)
	})
}

// SelfID returns the handle of the local user, or "" when none is set.
func (s *Store) SelfID(ctx context.Context) (string, error) {
	var id string
	if _, err := s.getJSON(ctx, keySelfID, &id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) SetSelfID(ctx context.Context, id string) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return s.queue.Submit(ctx, func(ctx context.Context) error {
		return s.put(ctx, map[string][]byte{keySelfID: data})
	})
}

// =========================================================================
// NOTIFICATIONS
// =========================================================================

func (s *Store) NotificationState(ctx context.Context) (*model.NotificationState, error) {
	state := &model.NotificationState{}
	if _, err := s.getJSON(ctx, keyNotificationState, state); err != nil {
		return nil, err
	}
	if state.LastNotified == nil {
		state.LastNotified = map[string]activity.Day{}
	}
	return state, nil
}

// UpdateNotificationState applies fn to the current state inside the write
// queue and persists the result. If fn fails nothing is written.
func (s *Store) UpdateNotificationState(ctx context.Context, fn func(*model.NotificationState) error) error {
	return s.queue.Submit(ctx, func(ctx context.Context) error {
		state, err := s.NotificationState(ctx)
		if err != nil {
			return err
		}
		if err := fn(state); err != nil {
			return err
		}
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("repository: encoding notification state: %w", err)
		}
		return s.put(ctx, map[string][]byte{keyNotificationState: data})
	})
}

// AppendEvents adds events to the display list, then drops anything older
// than a day and keeps only the newest MaxEvents.
func (s *Store) AppendEvents(ctx context.Context, events []model.NotificationEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.queue.Submit(ctx, func(ctx context.Context) error {
		var stored []model.NotificationEvent
		if _, err := s.getJSON(ctx, keyNotificationEvents, &stored); err != nil {
			return err
		}
		stored = trimEvents(append(stored, events...), s.now())
		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("repository: encoding events: %w", err)
		}
		return s.put(ctx, map[string][]byte{keyNotificationEvents: data})
	})
}

// RecentEvents returns the retained events, newest first.
func (s *Store) RecentEvents(ctx context.Context) ([]model.NotificationEvent, error) {
	var stored []model.NotificationEvent
	if _, err := s.getJSON(ctx, keyNotificationEvents, &stored); err != nil {
		return nil, err
	}
	stored = trimEvents(stored, s.now())
	slices.Reverse(stored)
	return stored, nil
}

// trimEvents keeps events from the last EventRetention, oldest first, at most MaxEvents.
func trimEvents(events []model.NotificationEvent, now time.Time) []model.NotificationEvent {
	cutoff := now.Add(-EventRetention)
	kept := make([]model.NotificationEvent, 0, len(events))
	for _, e := range events {
		if e.CreatedAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].CreatedAt.Before(kept[j].CreatedAt) })
	if len(kept) > MaxEvents {
		kept = kept[len(kept)-MaxEvents:]
	}
	return kept
}

// =========================================================================
// SCHEDULE
// =========================================================================

// SchedulePreference returns nil when no preference was ever saved.
func (s *Store) SchedulePreference(ctx context.Context) (*model.SchedulePreference, error) {
	var pref model.SchedulePreference
	ok, err := s.getJSON(ctx, keySchedule, &pref)
	if err != nil || !ok {
		return nil, err
	}
	return &pref, nil
}

func (s *Store) SaveSchedulePreference(ctx context.Context, pref model.SchedulePreference) error {
	data, err := json.Marshal(pref)
	if err != nil {
		return err
	}
	return s.queue.Submit(ctx, func(ctx context.Context) error {
		return s.put(ctx, map[string][]byte{keySchedule: data})
	})
}

// =========================================================================
// MIRROR
// =========================================================================

// MirrorRecord returns nil when nothing was mirrored to remotePath yet.
func (s *Store) MirrorRecord(ctx context.Context, remotePath string) (*model.MirrorRecord, error) {
	var rec model.MirrorRecord
	ok, err := s.getJSON(ctx, keyMirrorRecordPrefix+remotePath, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) SaveMirrorRecord(ctx context.Context, record model.MirrorRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.queue.Submit(ctx, func(ctx context.Context) error {
		return s.put(ctx, map[string][]byte{keyMirrorRecordPrefix + record.RemotePath: data})
	})
}

func (s *Store) FailedOps(ctx context.Context) ([]model.FailedMirrorOp, error) {
	var ops []model.FailedMirrorOp
	if _, err := s.getJSON(ctx, keyFailedQueue, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

func (s *Store) AppendFailedOp(ctx context.Context, op model.FailedMirrorOp) error {
	return s.UpdateFailedOps(ctx, func(ops []model.FailedMirrorOp) []model.FailedMirrorOp {
		return append(ops, op)
	})
}

// UpdateFailedOps rewrites the failed queue with whatever fn returns.
func (s *Store) UpdateFailedOps(ctx context.Context, fn func([]model.FailedMirrorOp) []model.FailedMirrorOp) error {
	return s.queue.Submit(ctx, func(ctx context.Context) error {
		ops, err := s.FailedOps(ctx)
		if err != nil {
			return err
		}
		ops = fn(ops)
		if len(ops) == 0 {
			return s.kv.Remove(ctx, keyFailedQueue)
		}
		data, err := json.Marshal(ops)
		if err != nil {
			return fmt.Errorf("repository: encoding failed queue: %w", err)
		}
		return s.put(ctx, map[string][]byte{keyFailedQueue: data})
	})
}

// =========================================================================
// RAW
// =========================================================================

func (s *Store) GetRaw(ctx context.Context, key string) ([]byte, bool, error) {
	values, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("repository: reading %s: %w", key, err)
	}
	v, ok := values[key]
	return v, ok, nil
}

func (s *Store) PutRaw(ctx context.Context, values map[string][]byte) error {
	return s.queue.Submit(ctx, func(ctx context.Context) error {
		return s.put(ctx, values)
	})
}

func (s *Store) RemoveRaw(ctx context.Context, keys ...string) error {
	return s.queue.Submit(ctx, func(ctx context.Context) error {
		return s.kv.Remove(ctx, keys...)
	})
}

// =========================================================================
// HELPERS
// =========================================================================

// getJSON decodes key into out and reports whether the key existed.
func (s *Store) getJSON(ctx context.Context, key string, out any) (bool, error) {
	values, err := s.kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("repository: reading %s: %w", key, err)
	}
	raw, ok := values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("repository: decoding %s: %w", key, err)
	}
	return true, nil
}
