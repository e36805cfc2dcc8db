// Package mirror copies accepted solutions into a GitHub repository.
//
// UPSERT:
// Every artifact lands at a path derived from its problem (see PathFor).
// The current file is read first to learn its sha:
//
//	absent            → PUT without sha (create)
//	identical content → nothing, no empty commit
//	different content → PUT with the sha (optimistic concurrency)
//
// A stale sha comes back as a Conflict, which the retry ladder treats like
// any transient failure. Writes that still fail are kept in the persisted
// failed queue and replayed by RetryFailed.
//
// RESUBMISSIONS:
// When a solution of the same problem was mirrored before, the recorded
// runtime and memory decide whether the new one may replace it (see
// activity.ValidateResubmission).
package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/streakwatch/internal/activity"
	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/model"
	"github.com/sakif/streakwatch/internal/repository"
	"github.com/sakif/streakwatch/internal/retry"
)

const (
	// RateLimitCooldown is the pause after a rate-limit answer before the one extra attempt.
	RateLimitCooldown = 60 * time.Second
	// upsertAttempts is the first try plus three retries on the 1s/3s/9s ladder.
	upsertAttempts = 4
	// replayAttempts is the budget per queued op during RetryFailed.
	replayAttempts = 2
)

// ErrNotQueued marks a Mirror failure that could not be put on the failed
// queue either, so the artifact is still unsaved.
var ErrNotQueued = errors.New("mirror: write was not queued")

// Outcome says what an upsert did.
type Outcome int

const (
	Created Outcome = iota
	Updated
	Unchanged
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Content is the remote file API. *ContentClient implements it.
type Content interface {
	GetContent(ctx context.Context, path string) (*RemoteFile, error)
	PutContent(ctx context.Context, path string, content []byte, sha, message string) (string, error)
}

type Engine struct {
	content Content
	repo    repository.MirrorRepository
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

type Option func(*Engine)

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(content Content, repo repository.MirrorRepository, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		content: content,
		repo:    repo,
		logger:  logger,
		sleep:   retry.Sleep,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Upsert makes one attempt at writing a. totalSolved feeds the resubmission rule.
func (e *Engine) Upsert(ctx context.Context, a model.MirrorArtifact, totalSolved int) (Outcome, error) {
	path, err := PathFor(a)
	if err != nil {
		return 0, err
	}
	if a.Code == "" {
		return 0, apperror.ValidationFailed("code", "artifact has no source code")
	}

	prev, err := e.repo.MirrorRecord(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("mirror: loading record for %s: %w", path, err)
	}
	if prev != nil && prev.SubmissionID != a.SubmissionID &&
		!activity.ValidateResubmission(totalSolved, prev.Metrics, a.Metrics) {
		e.logger.Info("resubmission kept out of mirror",
			slog.String("path", path),
			slog.String("submission_id", a.SubmissionID),
		)
		return Rejected, nil
	}

	content := []byte(a.Code)
	var sha string
	remote, err := e.content.GetContent(ctx, path)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
	case err != nil:
		return 0, err
	default:
		if bytes.Equal(remote.Content, content) {
			return Unchanged, e.record(ctx, a, path, remote.SHA)
		}
		sha = remote.SHA
	}

	verb, outcome := "Add", Created
	if sha != "" {
		verb, outcome = "Update", Updated
	}
	newSHA, err := e.content.PutContent(ctx, path, content, sha,
		fmt.Sprintf("%s %s (%s)", verb, a.Title, a.Language))
	if err != nil {
		return 0, err
	}
	return outcome, e.record(ctx, a, path, newSHA)
}

func (e *Engine) record(ctx context.Context, a model.MirrorArtifact, path, sha string) error {
	return e.repo.SaveMirrorRecord(ctx, model.MirrorRecord{
		SubmissionID: a.SubmissionID,
		RemotePath:   path,
		RemoteSHA:    sha,
		Metrics:      a.Metrics,
		LastSyncedAt: e.now().UTC(),
	})
}

// Mirror upserts a with the full retry budget. If every attempt fails the
// artifact is appended to the failed queue and the last error returned.
func (e *Engine) Mirror(ctx context.Context, a model.MirrorArtifact, totalSolved int) (Outcome, error) {
	outcome, err := e.upsertWithRetry(ctx, a, totalSolved, retry.Policy{
		Attempts:  upsertAttempts,
		Backoff:   retry.Ladder(time.Second, 3*time.Second, 9*time.Second),
		Retryable: apperror.IsRetryable,
		Sleep:     e.sleep,
	})
	if err == nil {
		e.logger.Info("solution mirrored",
			slog.String("submission_id", a.SubmissionID),
			slog.String("outcome", outcome.String()),
		)
		return outcome, nil
	}
	if !queueable(ctx, err) {
		return 0, err
	}

	op := model.FailedMirrorOp{
		ID:          xid.New().String(),
		Payload:     a,
		TotalSolved: totalSolved,
		Error:       err.Error(),
		FailedAt:    e.now().UTC(),
	}
	if qerr := e.repo.AppendFailedOp(ctx, op); qerr != nil {
		return 0, errors.Join(err, fmt.Errorf("%w: %w", ErrNotQueued, qerr))
	}
	e.logger.Warn("mirror write queued for retry",
		slog.String("submission_id", a.SubmissionID),
		slog.String("op_id", op.ID),
		slog.String("error", err.Error()),
	)
	return 0, err
}

// upsertWithRetry runs the policy and, when it ends on a rate limit, waits
// out the cooldown for exactly one more attempt.
func (e *Engine) upsertWithRetry(ctx context.Context, a model.MirrorArtifact, totalSolved int, p retry.Policy) (Outcome, error) {
	upsert := func(ctx context.Context, _ int) (Outcome, error) {
		return e.Upsert(ctx, a, totalSolved)
	}
	outcome, err := retry.DoValue(ctx, p, upsert)
	if !errors.Is(err, apperror.ErrRateLimited) {
		return outcome, err
	}

	wait := RateLimitCooldown
	if d, ok := apperror.RetryAfterOf(err); ok && d > wait {
		wait = d
	}
	e.logger.Warn("mirror rate limited, cooling down", slog.Duration("wait", wait))
	if err := e.sleep(ctx, wait); err != nil {
		return 0, err
	}
	return upsert(ctx, 0)
}

// queueable reports whether a failure is worth replaying later. Bad input
// never gets better and a cancelled caller did not fail.
func queueable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, apperror.ErrValidation)
}

// ReplayReport summarizes one RetryFailed pass.
type ReplayReport struct {
	Succeeded int
	Failed    int
}

// RetryFailed replays every queued op with a short budget. Successes leave
// the queue; failures stay with RetryCount incremented.
func (e *Engine) RetryFailed(ctx context.Context) (ReplayReport, error) {
	ops, err := e.repo.FailedOps(ctx)
	if err != nil {
		return ReplayReport{}, fmt.Errorf("mirror: loading failed queue: %w", err)
	}
	if len(ops) == 0 {
		return ReplayReport{}, nil
	}

	var report ReplayReport
	done := map[string]bool{}
	failed := map[string]string{}
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			break
		}
		_, err := e.upsertWithRetry(ctx, op.Payload, op.TotalSolved, retry.Policy{
			Attempts:  replayAttempts,
			Backoff:   retry.Ladder(time.Second),
			Retryable: apperror.IsRetryable,
			Sleep:     e.sleep,
		})
		if err != nil {
			report.Failed++
			failed[op.ID] = err.Error()
			e.logger.Warn("failed mirror op still failing",
				slog.String("op_id", op.ID),
				slog.Int("retry_count", op.RetryCount+1),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Succeeded++
		done[op.ID] = true
	}

	// ops queued while the replay ran are left untouched
	now := e.now().UTC()
	err = e.repo.UpdateFailedOps(ctx, func(current []model.FailedMirrorOp) []model.FailedMirrorOp {
		kept := current[:0]
		for _, op := range current {
			if done[op.ID] {
				continue
			}
			if msg, ok := failed[op.ID]; ok {
				op.RetryCount++
				op.Error = msg
				op.FailedAt = now
			}
			kept = append(kept, op)
		}
		return kept
	})
	if err != nil {
		return report, fmt.Errorf("mirror: updating failed queue: %w", err)
	}
	e.logger.Info("failed mirror queue replayed",
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}
