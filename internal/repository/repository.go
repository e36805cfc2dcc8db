// Package repository is the typed persistence layer. Reads go straight to the
// key-value store; every write, and every read-modify-write, is submitted to
// the write queue so no two mutations ever interleave.
package repository

import (
	"context"

	"github.com/sakif/streakwatch/internal/model"
)

type EntityRepository interface {
	ListEntityIDs(ctx context.Context) ([]string, error)
	GetEntity(ctx context.Context, id string) (*model.TrackedEntity, error)
	ListEntities(ctx context.Context) ([]*model.TrackedEntity, error)
	SaveEntity(ctx context.Context, entity *model.TrackedEntity) error
	RemoveEntity(ctx context.Context, id string) error
	SelfID(ctx context.Context) (string, error)
	SetSelfID(ctx context.Context, id string) error
}

type NotificationRepository interface {
	NotificationState(ctx context.Context) (*model.NotificationState, error)
	UpdateNotificationState(ctx context.Context, fn func(*model.NotificationState) error) error
	AppendEvents(ctx context.Context, events []model.NotificationEvent) error
	RecentEvents(ctx context.Context) ([]model.NotificationEvent, error)
}

type ScheduleRepository interface {
	SchedulePreference(ctx context.Context) (*model.SchedulePreference, error)
	SaveSchedulePreference(ctx context.Context, pref model.SchedulePreference) error
}

type MirrorRepository interface {
	MirrorRecord(ctx context.Context, remotePath string) (*model.MirrorRecord, error)
	SaveMirrorRecord(ctx context.Context, record model.MirrorRecord) error
	FailedOps(ctx context.Context) ([]model.FailedMirrorOp, error)
	AppendFailedOp(ctx context.Context, op model.FailedMirrorOp) error
	UpdateFailedOps(ctx context.Context, fn func([]model.FailedMirrorOp) []model.FailedMirrorOp) error
}

// SecretRepository stores opaque bytes for the credential vault.
type SecretRepository interface {
	GetRaw(ctx context.Context, key string) ([]byte, bool, error)
	PutRaw(ctx context.Context, values map[string][]byte) error
	RemoveRaw(ctx context.Context, keys ...string) error
}
