// Package syncer runs the sync cycle: fetch every tracked user, recompute
// streaks, persist, detect changes and deliver one batch of notifications.
//
// CYCLE:
//
//	list ids → for each (self first, one at a time):
//	    fetch profile           required, a failure skips only this entity
//	    fetch badges, recent    best-effort, stale values are kept
//	    recompute streaks       mutual streak against the self calendar
//	    save                    through the write queue
//	    detect                  unless muted
//	    pause                   inter-request delay
//	→ deliver the batch
//	→ mirror the self user's new accepted submissions
//
// Only one cycle runs at a time. A manual refresh that arrives during a
// scheduled cycle waits for it instead of cancelling it.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"time"

	"github.com/sakif/streakwatch/internal/activity"
	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/leetcode"
	"github.com/sakif/streakwatch/internal/mirror"
	"github.com/sakif/streakwatch/internal/model"
	"github.com/sakif/streakwatch/internal/notify"
	"github.com/sakif/streakwatch/internal/repository"
	"github.com/sakif/streakwatch/internal/retry"
)

const (
	// DefaultDelay is the pause between two entities.
	DefaultDelay = 500 * time.Millisecond

	recentLimit   = 10
	acceptedLimit = 20
)

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,40}$`)

// ValidateHandle rejects anything that cannot be a LeetCode username before any I/O.
func ValidateHandle(id string) error {
	if !handlePattern.MatchString(id) {
		return apperror.ValidationFailed("id", fmt.Sprintf("%q is not a valid LeetCode username", id))
	}
	return nil
}

// Remote is the activity API. *leetcode.Client implements it.
type Remote interface {
	FetchProfile(ctx context.Context, username string) (*leetcode.ProfileData, error)
	FetchBadges(ctx context.Context, username string) ([]model.Badge, error)
	FetchRecentSubmissions(ctx context.Context, username string, limit int) ([]model.Submission, error)
	FetchAcceptedSubmissions(ctx context.Context, username string, limit int) ([]model.Submission, error)
	FetchSubmissionDetail(ctx context.Context, submissionID string) (*model.MirrorArtifact, error)
}

// Notifier is the notification engine as the cycle uses it.
type Notifier interface {
	Muted(ctx context.Context) (bool, error)
	Deliver(ctx context.Context, detections []notify.Detection) []model.NotificationEvent
}

// Mirror writes one artifact with its full retry budget.
type Mirror interface {
	Mirror(ctx context.Context, a model.MirrorArtifact, totalSolved int) (mirror.Outcome, error)
}

var (
	_ Remote   = (*leetcode.Client)(nil)
	_ Notifier = (*notify.Engine)(nil)
	_ Mirror   = (*mirror.Engine)(nil)
)

// Failure is one entity the cycle could not refresh.
type Failure struct {
	EntityID string `json:"entityId"`
	Error    string `json:"error"`
}

// Report summarizes one cycle.
type Report struct {
	StartedAt  time.Time                 `json:"startedAt"`
	FinishedAt time.Time                 `json:"finishedAt"`
	Synced     int                       `json:"synced"`
	Failures   []Failure                 `json:"failures,omitempty"`
	Events     []model.NotificationEvent `json:"events,omitempty"`
	Mirrored   int                       `json:"mirrored"`
}

type Orchestrator struct {
	remote   Remote
	repo     repository.EntityRepository
	notifier Notifier
	mirror   Mirror
	logger   *slog.Logger
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time

	// cycle is a one-slot semaphore so waiting callers can give up on ctx.
	cycle chan struct{}
}

type Option func(*Orchestrator)

// WithMirror enables mirroring of the self user's accepted submissions.
func WithMirror(m Mirror) Option {
	return func(o *Orchestrator) { o.mirror = m }
}

func WithDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.delay = d }
}

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(remote Remote, repo repository.EntityRepository, notifier Notifier, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		remote:   remote,
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		delay:    DefaultDelay,
		sleep:    retry.Sleep,
		now:      time.Now,
		cycle:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) lock(ctx context.Context) error {
	select {
	case o.cycle <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) unlock() {
	<-o.cycle
}

// SyncAll runs one cycle. Per-entity failures land in the report; the error
// is only for failures that prevent the cycle from running at all.
func (o *Orchestrator) SyncAll(ctx context.Context) (Report, error) {
	if err := o.lock(ctx); err != nil {
		return Report{}, err
	}
	defer o.unlock()
	return o.run(ctx)
}

// ForceRefresh is a user-triggered cycle. Once it starts it runs to the end
// even if the caller goes away, and it fails when no entity could be refreshed.
func (o *Orchestrator) ForceRefresh(ctx context.Context) (Report, error) {
	if err := o.lock(ctx); err != nil {
		return Report{}, err
	}
	defer o.unlock()

	report, err := o.run(context.WithoutCancel(ctx))
	if err != nil {
		return report, err
	}
	if report.Synced == 0 && len(report.Failures) > 0 {
		errs := make([]error, 0, len(report.Failures))
		for _, f := range report.Failures {
			errs = append(errs, fmt.Errorf("%s: %s", f.EntityID, f.Error))
		}
		return report, fmt.Errorf("syncer: all %d entities failed to refresh: %w", len(report.Failures), errors.Join(errs...))
	}
	return report, nil
}

func (o *Orchestrator) run(ctx context.Context) (Report, error) {
	report := Report{StartedAt: o.now().UTC()}

	ids, err := o.repo.ListEntityIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("syncer: listing entities: %w", err)
	}
	selfID, err := o.repo.SelfID(ctx)
	if err != nil {
		return report, fmt.Errorf("syncer: reading self id: %w", err)
	}
	muted, err := o.notifier.Muted(ctx)
	if err != nil {
		o.logger.Warn("reading mute state", slog.String("error", err.Error()))
	}

	// self goes first so friends compare against a fresh calendar
	if i := slices.Index(ids, selfID); i > 0 {
		ids = append([]string{selfID}, slices.Delete(slices.Clone(ids), i, i+1)...)
	}
	if selfID != "" && (len(ids) == 0 || ids[0] != selfID) {
		selfID = ""
	}

	// the stored self calendar stands in if the self fetch fails
	var selfCal activity.Calendar
	if selfID != "" {
		if stored, err := o.repo.GetEntity(ctx, selfID); err == nil {
			selfCal = stored.Calendar
		}
	}

	today := activity.DayOf(o.now())
	var (
		detections []notify.Detection
		selfNext   *model.TrackedEntity
	)
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		prev, next, err := o.syncEntity(ctx, id, id == selfID, selfCal, today)
		if err != nil {
			report.Failures = append(report.Failures, Failure{EntityID: id, Error: err.Error()})
			o.logger.Warn("entity sync failed", slog.String("entity", id), slog.String("error", err.Error()))
		} else {
			report.Synced++
			if id == selfID {
				selfCal, selfNext = next.Calendar, next
			}
			if !muted {
				detections = append(detections, notify.Detect(prev, next, today)...)
			}
		}

		if i < len(ids)-1 {
			if err := o.sleep(ctx, o.delay); err != nil {
				return report, err
			}
		}
	}

	report.Events = o.notifier.Deliver(ctx, detections)
	if o.mirror != nil && selfNext != nil {
		report.Mirrored = o.mirrorAccepted(ctx, selfNext)
	}

	report.FinishedAt = o.now().UTC()
	o.logger.Info("sync cycle finished",
		slog.Int("synced", report.Synced),
		slog.Int("failed", len(report.Failures)),
		slog.Int("events", len(report.Events)),
		slog.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// syncEntity refreshes one entity and returns the stored record from before
// (nil on first fetch) along with the saved one.
func (o *Orchestrator) syncEntity(ctx context.Context, id string, isSelf bool, selfCal activity.Calendar, today activity.Day) (*model.TrackedEntity, *model.TrackedEntity, error) {
	prev, err := o.repo.GetEntity(ctx, id)
	if errors.Is(err, apperror.ErrNotFound) {
		prev = nil
	} else if err != nil {
		return nil, nil, err
	}

	next, err := o.fetch(ctx, id, prev, isSelf, selfCal, today)
	if err != nil {
		return nil, nil, err
	}
	if err := o.repo.SaveEntity(ctx, next); err != nil {
		return nil, nil, fmt.Errorf("saving %s: %w", id, err)
	}
	return prev, next, nil
}

// fetch builds a fresh entity from the remote. Only the profile query is
// required; badges and recent submissions fall back to what prev had.
func (o *Orchestrator) fetch(ctx context.Context, id string, prev *model.TrackedEntity, isSelf bool, selfCal activity.Calendar, today activity.Day) (*model.TrackedEntity, error) {
	data, err := o.remote.FetchProfile(ctx, id)
	if err != nil {
		return nil, err
	}

	next := &model.TrackedEntity{
		ID:                  id,
		IsSelf:              isSelf,
		Profile:             data.Profile,
		Stats:               data.Stats,
		Calendar:            data.Calendar,
		Contest:             data.Contest,
		Streak:              activity.Streak(data.Calendar, today),
		LastUpdatedAt:       o.now().UTC(),
		FriendshipStartDate: today,
	}
	if prev != nil {
		next.FriendshipStartDate = prev.FriendshipStartDate
		next.Badges = prev.Badges
		next.RecentSubmissions = prev.RecentSubmissions
	}
	if isSelf {
		next.MirroredThrough = mirrorMark(prev, next.LastUpdatedAt)
	}
	if !isSelf && selfCal != nil {
		next.MutualStreak = activity.MutualStreak(next.Calendar, selfCal, next.FriendshipStartDate, today)
	}

	if badges, err := o.remote.FetchBadges(ctx, id); err != nil {
		o.logger.Debug("badges unavailable", slog.String("entity", id), slog.String("error", err.Error()))
	} else {
		next.Badges = badges
	}
	if recent, err := o.remote.FetchRecentSubmissions(ctx, id, recentLimit); err != nil {
		o.logger.Debug("recent submissions unavailable", slog.String("entity", id), slog.String("error", err.Error()))
	} else {
		next.RecentSubmissions = recent
	}
	return next, nil
}

// mirrorAccepted hands the self user's submissions accepted after the
// mirror mark to the mirror, oldest first. The mark only moves past a
// submission once it is mirrored, queued by the mirror or rejected as
// invalid, so a missing detail is picked up again on the next cycle.
// Nothing here fails the cycle.
func (o *Orchestrator) mirrorAccepted(ctx context.Context, self *model.TrackedEntity) int {
	accepted, err := o.remote.FetchAcceptedSubmissions(ctx, self.ID, acceptedLimit)
	if err != nil {
		o.logger.Warn("accepted submissions unavailable", slog.String("error", err.Error()))
		return 0
	}

	fresh := make([]model.Submission, 0, len(accepted))
	for _, s := range accepted {
		if s.Timestamp.After(self.MirroredThrough) {
			fresh = append(fresh, s)
		}
	}
	slices.SortFunc(fresh, func(a, b model.Submission) int { return a.Timestamp.Compare(b.Timestamp) })

	mark := self.MirroredThrough
	mirrored := 0
	for _, s := range fresh {
		artifact, err := o.remote.FetchSubmissionDetail(ctx, s.ID)
		if err != nil {
			o.logger.Warn("submission detail unavailable, retrying next cycle",
				slog.String("submission_id", s.ID),
				slog.String("error", err.Error()),
			)
			break
		}
		if _, err := o.mirror.Mirror(ctx, *artifact, self.Stats.Total); err != nil {
			if ctx.Err() != nil || errors.Is(err, mirror.ErrNotQueued) {
				break
			}
		} else {
			mirrored++
		}
		mark = s.Timestamp
	}

	if mark.Equal(self.MirroredThrough) {
		return mirrored
	}
	self.MirroredThrough = mark
	if err := o.repo.SaveEntity(ctx, self); err != nil {
		o.logger.Warn("saving mirror mark", slog.String("error", err.Error()))
	}
	return mirrored
}

// mirrorMark is where mirroring resumes for the self user. A user seen for
// the first time starts at now so history is not back-filled.
func mirrorMark(prev *model.TrackedEntity, now time.Time) time.Time {
	switch {
	case prev == nil:
		return now
	case !prev.MirroredThrough.IsZero():
		return prev.MirroredThrough
	default:
		return prev.LastUpdatedAt
	}
}

// =========================================================================
// USER ACTIONS
// =========================================================================

// Entities lists tracked entities in tracking order.
func (o *Orchestrator) Entities(ctx context.Context) ([]*model.TrackedEntity, error) {
	return o.repo.ListEntities(ctx)
}

// AddEntity starts tracking id. The handle is validated before any I/O and
// fetch errors are returned as they are.
func (o *Orchestrator) AddEntity(ctx context.Context, id string) (*model.TrackedEntity, error) {
	if err := ValidateHandle(id); err != nil {
		return nil, err
	}
	if err := o.lock(ctx); err != nil {
		return nil, err
	}
	defer o.unlock()
	return o.add(ctx, id, false)
}

func (o *Orchestrator) add(ctx context.Context, id string, isSelf bool) (*model.TrackedEntity, error) {
	ids, err := o.repo.ListEntityIDs(ctx)
	if err != nil {
		return nil, err
	}
	if slices.Contains(ids, id) {
		return nil, apperror.Conflict("entity", id)
	}

	var selfCal activity.Calendar
	if !isSelf {
		if selfID, err := o.repo.SelfID(ctx); err == nil && selfID != "" {
			if self, err := o.repo.GetEntity(ctx, selfID); err == nil {
				selfCal = self.Calendar
			}
		}
	}

	entity, err := o.fetch(ctx, id, nil, isSelf, selfCal, activity.DayOf(o.now()))
	if err != nil {
		return nil, err
	}
	if err := o.repo.SaveEntity(ctx, entity); err != nil {
		return nil, err
	}
	o.logger.Info("entity added", slog.String("entity", id))
	return entity, nil
}

func (o *Orchestrator) RemoveEntity(ctx context.Context, id string) error {
	if err := ValidateHandle(id); err != nil {
		return err
	}
	if err := o.lock(ctx); err != nil {
		return err
	}
	defer o.unlock()

	if err := o.repo.RemoveEntity(ctx, id); err != nil {
		return err
	}
	o.logger.Info("entity removed", slog.String("entity", id))
	return nil
}

// SetSelf marks id as the local user, tracking it first if needed. The
// previous self entity stays tracked as a friend.
func (o *Orchestrator) SetSelf(ctx context.Context, id string) error {
	if err := ValidateHandle(id); err != nil {
		return err
	}
	if err := o.lock(ctx); err != nil {
		return err
	}
	defer o.unlock()

	current, err := o.repo.SelfID(ctx)
	if err != nil {
		return err
	}
	if current == id {
		return nil
	}

	entity, err := o.repo.GetEntity(ctx, id)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		if entity, err = o.add(ctx, id, true); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		entity.IsSelf = true
		entity.MutualStreak = 0
		entity.MirroredThrough = o.now().UTC()
		if err := o.repo.SaveEntity(ctx, entity); err != nil {
			return err
		}
	}

	if current != "" {
		if old, err := o.repo.GetEntity(ctx, current); err == nil {
			old.IsSelf = false
			old.MirroredThrough = time.Time{}
			old.MutualStreak = activity.MutualStreak(old.Calendar, entity.Calendar, old.FriendshipStartDate, activity.DayOf(o.now()))
			if err := o.repo.SaveEntity(ctx, old); err != nil {
				return err
			}
		}
	}
	if err := o.repo.SetSelfID(ctx, id); err != nil {
		return err
	}
	o.logger.Info("self user set", slog.String("entity", id))
	return nil
}
