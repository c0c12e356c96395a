package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/desertthunder/playlog/internal/ingest"
	"github.com/desertthunder/playlog/internal/models"
	"github.com/desertthunder/playlog/internal/repositories"
	"github.com/desertthunder/playlog/internal/shared"
)

// JobStatusReport is the externally visible state of an import job.
type JobStatusReport struct {
	JobID           string         `json:"job_id"`
	Status          string         `json:"status"`
	TotalTracks     int            `json:"total_tracks"`
	ProcessedTracks int            `json:"processed_tracks"`
	PercentComplete float64        `json:"percent_complete"`
	EstimatedLeft   *time.Duration `json:"estimated_left,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
}

// ImportResult contains the outcome of one Process invocation.
type ImportResult struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	Inserted   int    `json:"inserted"`   // New plays stored
	Duplicates int    `json:"duplicates"` // Events already present
	Skipped    int    `json:"skipped"`    // Malformed events
}

// Importer drives the import-job state machine: a submitted raw batch moves
// pending -> processing -> completed/failed, with durable per-event progress.
// Process is safe under at-least-once task delivery.
type Importer struct {
	jobs      *repositories.ImportJobRepository
	plays     *repositories.PlayRepository
	users     *repositories.UserRepository
	staleness time.Duration
}

// NewImporter creates an Importer. Staleness bounds how long a processing
// job may sit without progress before a redelivery may re-claim it.
func NewImporter(jobs *repositories.ImportJobRepository, plays *repositories.PlayRepository, users *repositories.UserRepository, staleness time.Duration) *Importer {
	return &Importer{
		jobs:      jobs,
		plays:     plays,
		users:     users,
		staleness: staleness,
	}
}

// Submit validates a raw batch and stores it on a new pending job for
// asynchronous pickup. Returns the job id.
func (i *Importer) Submit(ctx context.Context, userID, fileName string, rawBatch []byte) (string, error) {
	if _, err := i.users.Get(userID); err != nil {
		return "", err
	}

	var events []json.RawMessage
	if err := json.Unmarshal(rawBatch, &events); err != nil {
		return "", fmt.Errorf("%w: batch is not a JSON array: %v", shared.ErrInvalidPayload, err)
	}
	if len(events) == 0 {
		return "", fmt.Errorf("%w: batch is empty", shared.ErrInvalidPayload)
	}

	job := models.NewImportJob(0, userID, fileName, len(events), rawBatch)
	if err := i.jobs.Create(job); err != nil {
		return "", err
	}

	return job.ID(), nil
}

// Process claims a pending job and works through its batch: each event is
// normalized, stored through the deduplication index, and counted durably.
// A non-pending, non-stale job returns its current status without side
// effects, which is what makes redelivery safe. A processing job whose claim
// is older than the staleness window is treated as abandoned and re-claimed.
func (i *Importer) Process(ctx context.Context, jobID string, progress chan<- ProgressUpdate) (*ImportResult, error) {
	job, err := i.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sendProgress(progress, claimJobUpdate(jobID))

	claimed, err := i.jobs.ClaimPending(jobID, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		reclaimed, err := i.reclaim(job, now)
		if err != nil {
			return nil, err
		}
		if !reclaimed {
			// Already terminal or actively processing elsewhere
			return &ImportResult{JobID: jobID, Status: string(job.Status())}, nil
		}
	}

	var events []json.RawMessage
	if err := json.Unmarshal(job.Payload(), &events); err != nil {
		msg := fmt.Sprintf("batch payload unreadable: %v", err)
		if failErr := i.jobs.Fail(jobID, msg, time.Now().UTC()); failErr != nil {
			return nil, failErr
		}
		return &ImportResult{JobID: jobID, Status: string(models.JobFailed)},
			fmt.Errorf("%w: %s", shared.ErrInvalidPayload, msg)
	}

	result := &ImportResult{JobID: jobID}
	total := len(events)

	for n, raw := range events {
		if err := ctx.Err(); err != nil {
			msg := fmt.Sprintf("processing interrupted: %v", err)
			if failErr := i.jobs.Fail(jobID, msg, time.Now().UTC()); failErr != nil {
				return nil, failErr
			}
			result.Status = string(models.JobFailed)
			return result, fmt.Errorf("%w: %s", shared.ErrTimeout, msg)
		}

		var record ingest.ExportRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			result.Skipped++
			sendProgress(progress, processBatchUpdate(n+1, total, ""))
			continue
		}

		play, err := ingest.Normalize(job.UserID(), record)
		if err != nil {
			// Single bad record never fails the batch
			result.Skipped++
			sendProgress(progress, processBatchUpdate(n+1, total, ""))
			continue
		}

		inserted, err := i.plays.Insert(play)
		if err != nil {
			msg := fmt.Sprintf("storing play failed: %v", err)
			if failErr := i.jobs.Fail(jobID, msg, time.Now().UTC()); failErr != nil {
				return nil, failErr
			}
			result.Status = string(models.JobFailed)
			return result, fmt.Errorf("%w: %s", shared.ErrStorageFailure, msg)
		}
		if inserted {
			result.Inserted++
		} else {
			result.Duplicates++
		}

		if err := i.jobs.IncrementProcessed(jobID); err != nil {
			return nil, err
		}
		sendProgress(progress, processBatchUpdate(n+1, total, play.TrackName()))
	}

	if err := i.jobs.Complete(jobID, time.Now().UTC()); err != nil {
		return nil, err
	}
	result.Status = string(models.JobCompleted)
	sendProgress(progress, completeJobUpdate(jobID, result.Inserted))

	i.markInitialImport(job.UserID())

	return result, nil
}

// Status reports a job's progress: counts, percentage, and a linear time
// estimate once at least one event has been processed.
func (i *Importer) Status(ctx context.Context, jobID string) (*JobStatusReport, error) {
	job, err := i.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}

	return &JobStatusReport{
		JobID:           job.ID(),
		Status:          string(job.Status()),
		TotalTracks:     job.TotalTracks(),
		ProcessedTracks: job.ProcessedTracks(),
		PercentComplete: job.PercentComplete() * 100,
		EstimatedLeft:   job.EstimatedRemaining(time.Now().UTC()),
		ErrorMessage:    job.ErrorMessage(),
	}, nil
}

// Fail transitions a non-terminal job to failed with the given message.
func (i *Importer) Fail(ctx context.Context, jobID, message string) error {
	if _, err := i.jobs.Get(jobID); err != nil {
		return err
	}
	return i.jobs.Fail(jobID, message, time.Now().UTC())
}

// reclaim re-claims a processing job whose claim predates the staleness
// window, so a crashed worker does not strand the job forever.
func (i *Importer) reclaim(job *models.ImportJob, now time.Time) (bool, error) {
	if job.Status() != models.JobProcessing || i.staleness <= 0 {
		return false, nil
	}

	cutoff := now.Add(-i.staleness)
	return i.jobs.ReclaimStale(job.ID(), cutoff, now)
}

// markInitialImport flips the user's initial-import flag on the first
// completed import. Best effort: a lost flag update does not undo the import.
func (i *Importer) markInitialImport(userID string) {
	user, err := i.users.Get(userID)
	if err != nil {
		return
	}
	if user.MarkInitialImport() {
		_ = i.users.Update(user)
	}
}
