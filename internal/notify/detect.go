// Package notify turns entity changes into notifications.
//
// A sync cycle runs Detect → Dedup → Batch → Deliver:
//   - Detect compares the stored entity with the freshly fetched one.
//   - Dedup drops everything while muted, and anything for an entity that
//     was already notified today.
//   - Batch persists the cycle's events and shows one summary for all of them.
//   - Deliver marks each notified entity for today.
//
// Delivery is best-effort: failures are logged and never fail the cycle.
package notify

import (
	"fmt"

	"github.com/sakif/streakwatch/internal/activity"
	"github.com/sakif/streakwatch/internal/model"
)

// Detection is a change worth telling the user about, before it gets an id and a timestamp.
type Detection struct {
	EntityID string
	Kind     model.NotificationKind
	Message  string
	Priority model.Priority
}

// Detect compares prev (the stored entity, nil on first fetch) with next.
// A first fetch never notifies: there is nothing to compare against.
func Detect(prev, next *model.TrackedEntity, today activity.Day) []Detection {
	if prev == nil || next == nil {
		return nil
	}
	name := displayName(next)
	var out []Detection

	if solved := next.Stats.Total - prev.Stats.Total; solved > 0 {
		msg := fmt.Sprintf("%s solved %d problems", name, solved)
		if solved == 1 {
			msg = fmt.Sprintf("%s solved 1 problem", name)
		}
		if title, ok := next.MostRecentProblem(); ok {
			msg += fmt.Sprintf(": %s", title)
		}
		out = append(out, Detection{EntityID: next.ID, Kind: model.KindSolvedToday, Message: msg, Priority: model.PriorityNormal})
	}

	if m, ok := activity.CrossedMilestone(prev.Streak, next.Streak); ok {
		out = append(out, Detection{
			EntityID: next.ID,
			Kind:     model.KindMilestone,
			Message:  fmt.Sprintf("%s reached a %d-day streak", name, m),
			Priority: model.PriorityHigh,
		})
	}

	// The fresh streak is already 0 once today and yesterday are empty, so
	// risk is judged against the streak that was last recorded. A record
	// older than yesterday describes a streak that has already lapsed.
	recorded := activity.DayOf(prev.LastUpdatedAt)
	if next.IsSelf && recorded >= today-1 && activity.IsAtRisk(next.Calendar, prev.Streak, today) {
		out = append(out, Detection{
			EntityID: next.ID,
			Kind:     model.KindStreakAtRisk,
			Message:  fmt.Sprintf("Your %d-day streak is at risk, solve a problem today", prev.Streak),
			Priority: model.PriorityHigh,
		})
	}
	return out
}

func displayName(e *model.TrackedEntity) string {
	if e.Profile.DisplayName != "" {
		return e.Profile.DisplayName
	}
	return e.ID
}

// collapse keeps one detection per entity: the highest priority kind, with
// the other messages appended.
func collapse(detections []Detection) []Detection {
	index := map[string]int{}
	var out []Detection
	for _, d := range detections {
		i, seen := index[d.EntityID]
		if !seen {
			index[d.EntityID] = len(out)
			out = append(out, d)
			continue
		}
		cur := out[i]
		if d.Priority > cur.Priority {
			d.Message = d.Message + "; " + cur.Message
			out[i] = d
		} else {
			cur.Message = cur.Message + "; " + d.Message
			out[i] = cur
		}
	}
	return out
}
