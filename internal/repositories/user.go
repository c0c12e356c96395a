package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/playlog/internal/models"
	"github.com/desertthunder/playlog/internal/shared"
)

// UserRepository handles persistence for [models.User].
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new [UserRepository] with the given database connection
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user into the database with generated ID and sequence
func (r *UserRepository) Create(user *models.User) error {
	sequence, err := NextSequence(r.db, "users")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()
	user.SetID(id)
	user.SetSequence(sequence)

	if err := user.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO users (
			id, sequence, spotify_id, display_name, access_token, refresh_token,
			token_expiry, last_checkpoint, background_tracking,
			has_initial_import, has_full_import, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var expiry any
	if !user.TokenExpiry().IsZero() {
		expiry = user.TokenExpiry()
	}

	_, err = r.db.Exec(query,
		id,
		sequence,
		user.SpotifyID(),
		user.DisplayName(),
		user.AccessToken(),
		user.RefreshToken(),
		expiry,
		checkpointValue(user.LastCheckpoint()),
		user.BackgroundTracking(),
		user.HasInitialImport(),
		user.HasFullImport(),
		user.CreatedAt(),
		user.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to insert user: %v", shared.ErrStorageFailure, err)
	}

	return nil
}

// Get retrieves a user by internal ID
func (r *UserRepository) Get(id string) (*models.User, error) {
	return r.scanOne(r.db.QueryRow(selectUser+" WHERE id = ?", id))
}

// GetBySpotifyID retrieves a user by their stable external identity
func (r *UserRepository) GetBySpotifyID(spotifyID string) (*models.User, error) {
	return r.scanOne(r.db.QueryRow(selectUser+" WHERE spotify_id = ?", spotifyID))
}

// Update persists the user's mutable fields
func (r *UserRepository) Update(user *models.User) error {
	if err := user.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	user.SetUpdatedAt(now)

	query := `
		UPDATE users
		SET display_name = ?, access_token = ?, refresh_token = ?, token_expiry = ?,
			last_checkpoint = ?, background_tracking = ?, has_initial_import = ?,
			has_full_import = ?, updated_at = ?
		WHERE id = ?
	`

	var expiry any
	if !user.TokenExpiry().IsZero() {
		expiry = user.TokenExpiry()
	}

	result, err := r.db.Exec(query,
		user.DisplayName(),
		user.AccessToken(),
		user.RefreshToken(),
		expiry,
		checkpointValue(user.LastCheckpoint()),
		user.BackgroundTracking(),
		user.HasInitialImport(),
		user.HasFullImport(),
		now,
		user.ID(),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to update user: %v", shared.ErrStorageFailure, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrUserNotFound, user.ID())
	}

	return nil
}

// UpdateTokens persists refreshed token material for a user
func (r *UserRepository) UpdateTokens(user *models.User) error {
	now := time.Now().UTC()
	user.SetUpdatedAt(now)

	query := `
		UPDATE users
		SET access_token = ?, refresh_token = ?, token_expiry = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.Exec(query, user.AccessToken(), user.RefreshToken(), user.TokenExpiry(), now, user.ID())
	if err != nil {
		return fmt.Errorf("%w: failed to update tokens: %v", shared.ErrStorageFailure, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrUserNotFound, user.ID())
	}

	return nil
}

// UpdateCheckpoint persists the user's poll checkpoint
func (r *UserRepository) UpdateCheckpoint(user *models.User) error {
	now := time.Now().UTC()
	user.SetUpdatedAt(now)

	query := `UPDATE users SET last_checkpoint = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.Exec(query, checkpointValue(user.LastCheckpoint()), now, user.ID())
	if err != nil {
		return fmt.Errorf("%w: failed to update checkpoint: %v", shared.ErrStorageFailure, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrUserNotFound, user.ID())
	}

	return nil
}

// UpdateBackgroundTracking toggles the background polling opt-in flag
func (r *UserRepository) UpdateBackgroundTracking(id string, enabled bool) error {
	query := `UPDATE users SET background_tracking = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.Exec(query, enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: failed to update tracking flag: %v", shared.ErrStorageFailure, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrUserNotFound, id)
	}

	return nil
}

// ListBackgroundTracking retrieves up to limit users eligible for background polling.
//
// Eligible means the opt-in flag is set and a refresh token is present.
// Ordered by sequence so a bounded page drains the fleet deterministically.
func (r *UserRepository) ListBackgroundTracking(limit int) ([]*models.User, error) {
	if limit <= 0 {
		limit = 50
	}

	query := selectUser + `
		WHERE background_tracking = 1 AND refresh_token != ''
		ORDER BY sequence ASC
		LIMIT ?
	`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query users: %v", shared.ErrStorageFailure, err)
	}
	defer rows.Close()

	return r.collect(rows)
}

// List retrieves all users matching the given criteria
func (r *UserRepository) List(criteria map[string]any) ([]*models.User, error) {
	query := selectUser + " WHERE 1 = 1"
	args := []any{}

	if spotifyID, ok := criteria["spotify_id"].(string); ok && spotifyID != "" {
		query += " AND spotify_id = ?"
		args = append(args, spotifyID)
	}

	if tracking, ok := criteria["background_tracking"].(bool); ok {
		query += " AND background_tracking = ?"
		args = append(args, tracking)
	}

	query += " ORDER BY sequence ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query users: %v", shared.ErrStorageFailure, err)
	}
	defer rows.Close()

	return r.collect(rows)
}

const selectUser = `
	SELECT id, sequence, spotify_id, display_name, access_token, refresh_token,
		token_expiry, last_checkpoint, background_tracking,
		has_initial_import, has_full_import, created_at, updated_at
	FROM users
`

type userRow struct {
	id                 string
	sequence           int
	spotifyID          string
	displayName        string
	accessToken        string
	refreshToken       string
	tokenExpiry        sql.NullTime
	lastCheckpoint     int64
	backgroundTracking bool
	hasInitialImport   bool
	hasFullImport      bool
	createdAt          time.Time
	updatedAt          time.Time
}

func (row *userRow) fields() []any {
	return []any{
		&row.id, &row.sequence, &row.spotifyID, &row.displayName,
		&row.accessToken, &row.refreshToken, &row.tokenExpiry,
		&row.lastCheckpoint, &row.backgroundTracking,
		&row.hasInitialImport, &row.hasFullImport,
		&row.createdAt, &row.updatedAt,
	}
}

func (row *userRow) toModel() *models.User {
	user := models.NewUser(row.sequence, row.spotifyID, row.displayName)
	user.SetID(row.id)
	user.SetCreatedAt(row.createdAt)
	user.SetUpdatedAt(row.updatedAt)

	var expiry time.Time
	if row.tokenExpiry.Valid {
		expiry = row.tokenExpiry.Time
	}
	user.RestoreTokens(row.accessToken, row.refreshToken, expiry)

	if row.lastCheckpoint > 0 {
		user.SetCheckpoint(time.Unix(row.lastCheckpoint, 0).UTC())
	}
	user.SetImportFlags(row.hasInitialImport, row.hasFullImport)
	user.SetBackgroundTracking(row.backgroundTracking)

	return user
}

// scanOne scans a single [sql.Row] into a [models.User]
func (r *UserRepository) scanOne(row *sql.Row) (*models.User, error) {
	var ur userRow
	err := row.Scan(ur.fields()...)
	if err == sql.ErrNoRows {
		return nil, shared.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return ur.toModel(), nil
}

// collect scans all rows into users
func (r *UserRepository) collect(rows *sql.Rows) ([]*models.User, error) {
	var users []*models.User
	for rows.Next() {
		var ur userRow
		if err := rows.Scan(ur.fields()...); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, ur.toModel())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return users, nil
}

// checkpointValue converts a checkpoint time to its stored unix-seconds form.
func checkpointValue(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
