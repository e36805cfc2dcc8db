package model

import (
	"time"

	"github.com/sakif/streakwatch/internal/activity"
)

type NotificationKind string

const (
	KindSolvedToday  NotificationKind = "solved_today"
	KindMilestone    NotificationKind = "milestone"
	KindStreakAtRisk NotificationKind = "streak_at_risk"
)

type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// NotificationEvent is one detected change, kept for at most a day for display.
type NotificationEvent struct {
	ID        string           `json:"id"`
	EntityID  string           `json:"entityId"`
	Kind      NotificationKind `json:"kind"`
	Message   string           `json:"message"`
	Priority  Priority         `json:"priority"`
	CreatedAt time.Time        `json:"createdAt"`
}

// NotificationState holds the global mute floor and the last UTC day each
// entity was notified. An entity is notified at most once per day.
type NotificationState struct {
	MutedUntil   *activity.Day           `json:"mutedUntil,omitempty"`
	LastNotified map[string]activity.Day `json:"lastNotified"`
}

// Muted reports whether delivery is suppressed on today.
func (s *NotificationState) Muted(today activity.Day) bool {
	return s.MutedUntil != nil && *s.MutedUntil >= today
}

// NotifiedOn reports whether entityID already received a notification on day.
func (s *NotificationState) NotifiedOn(entityID string, day activity.Day) bool {
	last, ok := s.LastNotified[entityID]
	return ok && last == day
}
