package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/streakwatch/internal/activity"
	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/kv"
	"github.com/sakif/streakwatch/internal/model"
)

// put writes values after checking the store's byte quota. Near the quota a
// cleanup pass runs first; if the write still does not fit it fails with
// QuotaExceeded and nothing is written. Must run inside the write queue.
func (s *Store) put(ctx context.Context, values map[string][]byte) error {
	quota := s.kv.Quota()
	if quota <= 0 {
		return s.set(ctx, values)
	}

	projected, err := s.projectedUsage(ctx, values)
	if err != nil {
		return err
	}
	if projected*100 >= quota*cleanupThreshold {
		if err := s.cleanup(ctx); err != nil {
			return err
		}
		if projected, err = s.projectedUsage(ctx, values); err != nil {
			return err
		}
	}
	if projected > quota {
		s.logger.Warn("write rejected by storage quota",
			slog.Int64("projected", projected),
			slog.Int64("quota", quota),
		)
		return apperror.QuotaExceeded(projected, quota)
	}
	return s.set(ctx, values)
}

func (s *Store) set(ctx context.Context, values map[string][]byte) error {
	if err := s.kv.Set(ctx, values); err != nil {
		return fmt.Errorf("repository: writing: %w", err)
	}
	return nil
}

// projectedUsage is the store size after values replace whatever the same keys hold now.
func (s *Store) projectedUsage(ctx context.Context, values map[string][]byte) (int64, error) {
	used, err := s.kv.BytesInUse(ctx)
	if err != nil {
		return 0, fmt.Errorf("repository: measuring usage: %w", err)
	}
	keys := make([]string, 0, len(values))
	for key, value := range values {
		keys = append(keys, key)
		used += kv.EntrySize(key, value)
	}
	existing, err := s.kv.Get(ctx, keys...)
	if err != nil {
		return 0, fmt.Errorf("repository: reading existing values: %w", err)
	}
	for key, value := range existing {
		used -= kv.EntrySize(key, value)
	}
	return used, nil
}

// cleanup prunes every stored calendar to the last year and drops expired
// notification events.
func (s *Store) cleanup(ctx context.Context) error {
	now := s.now()
	cutoff := activity.DayOf(now) - CalendarRetentionDays

	// every stored record, including ones that fell off the tracking list
	keys, err := s.kv.Keys(ctx, keyEntityPrefix)
	if err != nil {
		return fmt.Errorf("repository: listing entity keys: %w", err)
	}
	values := map[string][]byte{}
	pruned := 0
	for _, key := range keys {
		id := strings.TrimPrefix(key, keyEntityPrefix)
		var e model.TrackedEntity
		ok, err := s.getJSON(ctx, key, &e)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		cal, dropped := e.Calendar.PruneBefore(cutoff)
		if dropped == 0 {
			continue
		}
		e.Calendar = cal
		data, err := json.Marshal(&e)
		if err != nil {
			return fmt.Errorf("repository: encoding entity %s: %w", id, err)
		}
		values[key] = data
		pruned += dropped
	}

	var events []model.NotificationEvent
	if ok, err := s.getJSON(ctx, keyNotificationEvents, &events); err != nil {
		return err
	} else if ok {
		if kept := trimEvents(events, now); len(kept) < len(events) {
			data, err := json.Marshal(kept)
			if err != nil {
				return fmt.Errorf("repository: encoding events: %w", err)
			}
			values[keyNotificationEvents] = data
		}
	}

	if len(values) == 0 {
		return nil
	}
	s.logger.Info("storage cleanup", slog.Int("calendar_days_pruned", pruned), slog.Int("keys_rewritten", len(values)))
	return s.set(ctx, values)
}
