package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/playlog/internal/models"
	"github.com/desertthunder/playlog/internal/shared"
)

// ImportJobRepository handles persistence for [models.ImportJob].
//
// State transitions are written as conditional updates that check the
// current status in the same statement, so concurrent deliveries of the
// same job race on a single row update instead of a read-then-write.
type ImportJobRepository struct {
	db *sql.DB
}

// NewImportJobRepository creates a new [ImportJobRepository] with the given database connection
func NewImportJobRepository(db *sql.DB) *ImportJobRepository {
	return &ImportJobRepository{db: db}
}

// Create inserts a new import job with generated ID and sequence
func (r *ImportJobRepository) Create(job *models.ImportJob) error {
	sequence, err := NextSequence(r.db, "import_jobs")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()
	job.SetID(id)
	job.SetSequence(sequence)

	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO import_jobs (
			id, sequence, user_id, status, file_name, total_tracks,
			processed_tracks, payload, error_message, started_at, completed_at,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var payload any
	if len(job.Payload()) > 0 {
		payload = string(job.Payload())
	}

	var errorMessage any
	if job.ErrorMessage() != "" {
		errorMessage = job.ErrorMessage()
	}

	_, err = r.db.Exec(query,
		id,
		sequence,
		job.UserID(),
		string(job.Status()),
		job.FileName(),
		job.TotalTracks(),
		job.ProcessedTracks(),
		payload,
		errorMessage,
		job.StartedAt(),
		job.CompletedAt(),
		job.CreatedAt(),
		job.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to insert job: %v", shared.ErrStorageFailure, err)
	}

	return nil
}

// Get retrieves an import job by ID
func (r *ImportJobRepository) Get(id string) (*models.ImportJob, error) {
	return r.scanOne(r.db.QueryRow(selectJob+" WHERE id = ?", id))
}

// ClaimPending atomically transitions a pending job to processing.
//
// Returns true when this caller won the claim. A false return with no error
// means another delivery already claimed the job, or it is terminal.
func (r *ImportJobRepository) ClaimPending(id string, startedAt time.Time) (bool, error) {
	query := `
		UPDATE import_jobs
		SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.Exec(query,
		string(models.JobProcessing), startedAt, time.Now().UTC(),
		id, string(models.JobPending),
	)
	if err != nil {
		return false, fmt.Errorf("%w: failed to claim job: %v", shared.ErrStorageFailure, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows > 0, nil
}

// ReclaimStale atomically re-claims a processing job whose started-at is
// older than the staleness cutoff.
//
// A crash between claim and completion leaves a job stuck in processing;
// re-delivery goes through this conditional update so only one caller can
// pick the job back up. The processed count resets to zero because the new
// claimant restarts the batch, with inserts deduplicated by the play index.
func (r *ImportJobRepository) ReclaimStale(id string, cutoff, startedAt time.Time) (bool, error) {
	query := `
		UPDATE import_jobs
		SET started_at = ?, processed_tracks = 0, updated_at = ?
		WHERE id = ? AND status = ? AND started_at < ?
	`

	result, err := r.db.Exec(query,
		startedAt, time.Now().UTC(),
		id, string(models.JobProcessing), cutoff,
	)
	if err != nil {
		return false, fmt.Errorf("%w: failed to reclaim job: %v", shared.ErrStorageFailure, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows > 0, nil
}

// IncrementProcessed durably records one more processed track.
//
// Written per event rather than at batch end so a crash mid-batch leaves an
// accurate partial count for status polling. The processed count is capped
// at the total in the statement itself.
func (r *ImportJobRepository) IncrementProcessed(id string) error {
	query := `
		UPDATE import_jobs
		SET processed_tracks = processed_tracks + 1, updated_at = ?
		WHERE id = ? AND status = ? AND processed_tracks < total_tracks
	`

	result, err := r.db.Exec(query, time.Now().UTC(), id, string(models.JobProcessing))
	if err != nil {
		return fmt.Errorf("%w: failed to increment progress: %v", shared.ErrStorageFailure, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: job %s is not processing or already at total", shared.ErrInvalidArgument, id)
	}

	return nil
}

// Complete transitions a processing job to completed and clears the
// transient raw-batch payload to bound storage.
func (r *ImportJobRepository) Complete(id string, completedAt time.Time) error {
	query := `
		UPDATE import_jobs
		SET status = ?, completed_at = ?, payload = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.Exec(query,
		string(models.JobCompleted), completedAt, time.Now().UTC(),
		id, string(models.JobProcessing),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to complete job: %v", shared.ErrStorageFailure, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: job %s is not processing", shared.ErrInvalidArgument, id)
	}

	return nil
}

// Fail transitions a non-terminal job to failed with a captured message.
func (r *ImportJobRepository) Fail(id, message string, failedAt time.Time) error {
	query := `
		UPDATE import_jobs
		SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`

	result, err := r.db.Exec(query,
		string(models.JobFailed), message, failedAt, time.Now().UTC(),
		id, string(models.JobPending), string(models.JobProcessing),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to mark job failed: %v", shared.ErrStorageFailure, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: job %s is already terminal", shared.ErrInvalidArgument, id)
	}

	return nil
}

// List retrieves import jobs matching the given criteria, newest first
func (r *ImportJobRepository) List(criteria map[string]any) ([]*models.ImportJob, error) {
	query := selectJob + " WHERE 1 = 1"
	args := []any{}

	if userID, ok := criteria["user_id"].(string); ok && userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}

	if status, ok := criteria["status"].(string); ok && status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}

	query += " ORDER BY sequence DESC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query jobs: %v", shared.ErrStorageFailure, err)
	}
	defer rows.Close()

	var jobs []*models.ImportJob
	for rows.Next() {
		job, err := r.scanRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return jobs, nil
}

const selectJob = `
	SELECT id, sequence, user_id, status, file_name, total_tracks,
		processed_tracks, payload, error_message, started_at, completed_at,
		created_at, updated_at
	FROM import_jobs
`

// scanOne scans a single [sql.Row] into a [models.ImportJob]
func (r *ImportJobRepository) scanOne(row *sql.Row) (*models.ImportJob, error) {
	job, err := r.scanRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, shared.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	return job, nil
}

// scanRow scans job columns through the given scan function
func (r *ImportJobRepository) scanRow(scan func(...any) error) (*models.ImportJob, error) {
	var (
		id              string
		sequence        int
		userID          string
		status          string
		fileName        string
		totalTracks     int
		processedTracks int
		payload         sql.NullString
		errorMessage    sql.NullString
		startedAt       sql.NullTime
		completedAt     sql.NullTime
		createdAt       time.Time
		updatedAt       time.Time
	)

	err := scan(&id, &sequence, &userID, &status, &fileName, &totalTracks,
		&processedTracks, &payload, &errorMessage, &startedAt, &completedAt,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	var raw []byte
	if payload.Valid {
		raw = []byte(payload.String)
	}

	job := models.NewImportJob(sequence, userID, fileName, totalTracks, raw)
	job.SetID(id)
	job.SetCreatedAt(createdAt)
	job.SetUpdatedAt(updatedAt)
	job.SetStatus(models.JobStatus(status))
	job.SetProcessedTracks(processedTracks)

	if errorMessage.Valid {
		job.SetErrorMessage(errorMessage.String)
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.SetStartedAt(&t)
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.SetCompletedAt(&t)
	}

	return job, nil
}
