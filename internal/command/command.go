// Package command is the single entry point for user actions. The control
// API and the CLI build a Command value and hand it to a Dispatcher; every
// variant has exactly one handler, chosen by a type switch over a closed set.
package command

import (
	"github.com/sakif/streakwatch/internal/activity"
	"github.com/sakif/streakwatch/internal/model"
)

// Command is implemented only by the types in this package.
type Command interface {
	command()
}

type (
	// SyncNow runs a full cycle and waits for it.
	SyncNow struct{}

	ListEntities struct{}

	AddEntity struct {
		ID string `json:"id"`
	}

	RemoveEntity struct {
		ID string `json:"id"`
	}

	SetSelf struct {
		ID string `json:"id"`
	}

	// Mute silences notifications up to and including Until.
	Mute struct {
		Until activity.Day `json:"until"`
	}

	Unmute struct{}

	RecentNotifications struct{}

	RetryFailedMirror struct{}

	GetSchedule struct{}

	SetSchedule struct {
		Preference model.SchedulePreference `json:"preference"`
	}
)

func (SyncNow) command()             {}
func (ListEntities) command()        {}
func (AddEntity) command()           {}
func (RemoveEntity) command()        {}
func (SetSelf) command()             {}
func (Mute) command()                {}
func (Unmute) command()              {}
func (RecentNotifications) command() {}
func (RetryFailedMirror) command()   {}
func (GetSchedule) command()         {}
func (SetSchedule) command()         {}
