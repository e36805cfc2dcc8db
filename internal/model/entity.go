// Package model defines the records the daemon persists and passes between layers.
// Every record round-trips through JSON, so the struct tags are the storage format.
package model

import (
	"time"

	"github.com/sakif/streakwatch/internal/activity"
)

// Profile is the public identity of a tracked user.
type Profile struct {
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
	GlobalRank  int    `json:"globalRank"`
}

// Stats counts accepted problems by difficulty.
type Stats struct {
	Easy   int `json:"easy"`
	Medium int `json:"medium"`
	Hard   int `json:"hard"`
	Total  int `json:"total"`
}

// Contest is the user's contest standing. Zero when they never competed.
type Contest struct {
	Rating   float64 `json:"rating"`
	Attended int     `json:"attended"`
	Rank     int     `json:"rank"`
}

type Badge struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Icon        string `json:"icon"`
}

// Submission is one entry of a user's recent submission list.
type Submission struct {
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title"`
	TitleSlug string    `json:"titleSlug"`
	Status    string    `json:"status,omitempty"`
	Language  string    `json:"language,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TrackedEntity is everything the daemon knows about one polled user, the
// local user included. It is created on the first successful fetch and
// removed only on explicit user action.
type TrackedEntity struct {
	ID                  string            `json:"id"`
	IsSelf              bool              `json:"isSelf"`
	Profile             Profile           `json:"profile"`
	Stats               Stats             `json:"stats"`
	Streak              int               `json:"streak"`
	MutualStreak        int               `json:"mutualStreak"`
	Calendar            activity.Calendar `json:"calendar"`
	Contest             Contest           `json:"contest"`
	Badges              []Badge           `json:"badges,omitempty"`
	RecentSubmissions   []Submission      `json:"recentSubmissions,omitempty"`
	LastUpdatedAt       time.Time         `json:"lastUpdatedAt"`
	FriendshipStartDate activity.Day      `json:"friendshipStartDate"`
	// MirroredThrough is the newest accepted submission time the mirror has
	// settled. Only set on the self user.
	MirroredThrough     time.Time         `json:"mirroredThrough,omitzero"`
}

// MostRecentProblem returns the title of the newest recent submission, if any.
func (e *TrackedEntity) MostRecentProblem() (string, bool) {
	var (
		title  string
		newest time.Time
	)
	for _, s := range e.RecentSubmissions {
		if s.Title != "" && s.Timestamp.After(newest) {
			title, newest = s.Title, s.Timestamp
		}
	}
	return title, title != ""
}
