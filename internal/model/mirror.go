package model

import (
	"time"

	"github.com/sakif/streakwatch/internal/activity"
)

// MirrorArtifact is one accepted solution ready to be written to the mirror repository.
type MirrorArtifact struct {
	SubmissionID string           `json:"submissionId"`
	QuestionID   string           `json:"questionId"`
	Title        string           `json:"title"`
	Slug         string           `json:"slug"`
	Category     string           `json:"category"`
	Difficulty   string           `json:"difficulty"`
	Language     string           `json:"language"`
	Code         string           `json:"code"`
	Metrics      activity.Metrics `json:"metrics"`
	SolvedAt     time.Time        `json:"solvedAt"`
}

// MirrorRecord remembers what was last written at a remote path.
type MirrorRecord struct {
	SubmissionID string           `json:"submissionId"`
	RemotePath   string           `json:"remotePath"`
	RemoteSHA    string           `json:"remoteSha"`
	Metrics      activity.Metrics `json:"metrics"`
	LastSyncedAt time.Time        `json:"lastSyncedAt"`
}

// FailedMirrorOp is a mirror write that exhausted its retries and waits for RetryFailed.
type FailedMirrorOp struct {
	ID          string         `json:"id"`
	Payload     MirrorArtifact `json:"payload"`
	TotalSolved int            `json:"totalSolved"`
	Error       string         `json:"error"`
	RetryCount  int            `json:"retryCount"`
	FailedAt    time.Time      `json:"failedAt"`
}
