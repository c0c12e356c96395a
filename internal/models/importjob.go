package models

import (
	"fmt"
	"time"
)

// JobStatus is the explicit state of an import job.
//
// Allowed transitions: pending → processing → completed | failed, and
// pending → failed for precondition failures. Completed and failed are
// terminal.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobCompleted, JobFailed:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether the state machine permits s → to.
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobPending:
		return to == JobProcessing || to == JobFailed
	case JobProcessing:
		return to == JobCompleted || to == JobFailed
	}
	return false
}

// ImportJob tracks the lifecycle of one bulk history import.
//
// The raw event batch rides along in the payload field between submission
// and asynchronous pickup, and is cleared when the job completes to bound
// storage. Jobs are retained after completion for status queries.
type ImportJob struct {
	base
	userID          string
	status          JobStatus
	fileName        string
	totalTracks     int
	processedTracks int
	payload         []byte
	errorMessage    string
	startedAt       *time.Time
	completedAt     *time.Time
}

// NewImportJob creates a pending job for the given user and raw batch payload.
func NewImportJob(sequence int, userID, fileName string, totalTracks int, payload []byte) *ImportJob {
	return &ImportJob{
		base:        newBase(sequence),
		userID:      userID,
		status:      JobPending,
		fileName:    fileName,
		totalTracks: totalTracks,
		payload:     payload,
	}
}

func (j *ImportJob) UserID() string          { return j.userID }
func (j *ImportJob) Status() JobStatus       { return j.status }
func (j *ImportJob) FileName() string        { return j.fileName }
func (j *ImportJob) TotalTracks() int        { return j.totalTracks }
func (j *ImportJob) ProcessedTracks() int    { return j.processedTracks }
func (j *ImportJob) Payload() []byte         { return j.payload }
func (j *ImportJob) ErrorMessage() string    { return j.errorMessage }
func (j *ImportJob) StartedAt() *time.Time   { return j.startedAt }
func (j *ImportJob) CompletedAt() *time.Time { return j.completedAt }

func (j *ImportJob) SetStatus(s JobStatus)          { j.status = s }
func (j *ImportJob) SetProcessedTracks(n int)       { j.processedTracks = n }
func (j *ImportJob) SetPayload(p []byte)            { j.payload = p }
func (j *ImportJob) SetErrorMessage(msg string)     { j.errorMessage = msg }
func (j *ImportJob) SetStartedAt(t *time.Time)      { j.startedAt = t }
func (j *ImportJob) SetCompletedAt(t *time.Time)    { j.completedAt = t }

// PercentComplete returns processed/total as a fraction in [0, 1], 0 when the job is empty.
func (j *ImportJob) PercentComplete() float64 {
	if j.totalTracks == 0 {
		return 0
	}
	return float64(j.processedTracks) / float64(j.totalTracks)
}

// EstimatedRemaining derives a time-to-completion estimate from progress so far.
//
// Returns nil until at least one track has been processed.
func (j *ImportJob) EstimatedRemaining(now time.Time) *time.Duration {
	if j.processedTracks == 0 || j.startedAt == nil {
		return nil
	}
	elapsed := now.Sub(*j.startedAt)
	perTrack := elapsed / time.Duration(j.processedTracks)
	remaining := perTrack * time.Duration(j.totalTracks-j.processedTracks)
	return &remaining
}

// Validate checks invariants: required fields, a known status, and a
// processed count that never exceeds the total.
func (j *ImportJob) Validate() error {
	if j.userID == "" {
		return fmt.Errorf("user id is required")
	}
	if !j.status.Valid() {
		return fmt.Errorf("unknown job status %q", j.status)
	}
	if j.totalTracks < 0 || j.processedTracks < 0 {
		return fmt.Errorf("track counts must not be negative")
	}
	if j.processedTracks > j.totalTracks {
		return fmt.Errorf("processed tracks (%d) must not exceed total (%d)", j.processedTracks, j.totalTracks)
	}
	return nil
}
