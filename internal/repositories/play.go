package repositories

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/desertthunder/playlog/internal/models"
	"github.com/desertthunder/playlog/internal/shared"
)

// PlayRepository handles persistence for [models.Play] and serves as the
// deduplication index for the ingestion pipeline.
//
// Inserts are idempotent: the plays table carries a uniqueness constraint on
// (user_id, track_id, played_at) and Insert uses INSERT OR IGNORE, so
// re-inserting an existing key is a no-op rather than an error.
type PlayRepository struct {
	db *sql.DB
}

// NewPlayRepository creates a new [PlayRepository] with the given database connection
func NewPlayRepository(db *sql.DB) *PlayRepository {
	return &PlayRepository{db: db}
}

// ArtistSelector identifies an artist for stats queries.
//
// ID is preferred; Name is a fallback for historical rows ingested before
// artist ids were available.
type ArtistSelector struct {
	ID   string
	Name string
}

// Insert stores a play if its dedup key is not already present.
//
// Returns true when a new row was written, false when the key already existed.
func (r *PlayRepository) Insert(play *models.Play) (bool, error) {
	if err := play.Validate(); err != nil {
		return false, fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, "plays")
	if err != nil {
		return false, fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()
	play.SetID(id)
	play.SetSequence(sequence)

	others, err := json.Marshal(play.OtherArtists())
	if err != nil {
		return false, fmt.Errorf("failed to encode artist list: %w", err)
	}

	query := `
		INSERT OR IGNORE INTO plays (
			id, sequence, user_id, track_id, track_name, artist_id, artist_name,
			other_artists, album_id, played_at, source, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Exec(query,
		id,
		sequence,
		play.UserID(),
		play.TrackID(),
		play.TrackName(),
		play.ArtistID(),
		play.ArtistName(),
		string(others),
		play.AlbumID(),
		play.PlayedAt().Unix(),
		string(play.Source()),
		play.CreatedAt(),
	)
	if err != nil {
		return false, fmt.Errorf("%w: failed to insert play: %v", shared.ErrStorageFailure, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows > 0, nil
}

// Exists reports whether a play with the given dedup key is already stored
func (r *PlayRepository) Exists(userID, trackID string, playedAt time.Time) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM plays WHERE user_id = ? AND track_id = ? AND played_at = ?
		)
	`

	var exists bool
	err := r.db.QueryRow(query, userID, trackID, playedAt.Unix()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: failed to check play: %v", shared.ErrStorageFailure, err)
	}

	return exists, nil
}

// CountArtistPlays counts a user's plays for one artist within a time range.
//
// The selector's id is matched first; rows without an artist id fall back to
// a name match so history imported before id resolution still counts.
func (r *PlayRepository) CountArtistPlays(userID string, artist ArtistSelector, rng shared.TimeRange, now time.Time) (int, error) {
	if artist.ID == "" && artist.Name == "" {
		return 0, fmt.Errorf("%w: artist selector is empty", shared.ErrInvalidArgument)
	}

	query := `SELECT COUNT(*) FROM plays WHERE user_id = ?`
	args := []any{userID}

	switch {
	case artist.ID != "" && artist.Name != "":
		query += ` AND (artist_id = ? OR (artist_id = '' AND artist_name = ?))`
		args = append(args, artist.ID, artist.Name)
	case artist.ID != "":
		query += ` AND artist_id = ?`
		args = append(args, artist.ID)
	default:
		query += ` AND artist_name = ?`
		args = append(args, artist.Name)
	}

	start, end := rng.Bounds(now)
	if !start.IsZero() {
		query += ` AND played_at >= ?`
		args = append(args, start.Unix())
	}
	query += ` AND played_at <= ?`
	args = append(args, end.Unix())

	var count int
	if err := r.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: failed to count plays: %v", shared.ErrStorageFailure, err)
	}

	return count, nil
}

// HasArtistHistory reports whether the user has any stored play for the artist.
//
// Short-circuits on the first match; used to gate UI behavior, not a
// correctness-critical path.
func (r *PlayRepository) HasArtistHistory(userID, artistID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM plays WHERE user_id = ? AND artist_id = ? LIMIT 1
		)
	`

	var exists bool
	if err := r.db.QueryRow(query, userID, artistID).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: failed to check artist history: %v", shared.ErrStorageFailure, err)
	}

	return exists, nil
}

// MaxPlayedAt returns the latest played-at instant stored for the user.
//
// Returns the zero time when the user has no plays. The poller uses it to
// recover the checkpoint for a user whose stored checkpoint is zero.
func (r *PlayRepository) MaxPlayedAt(userID string) (time.Time, error) {
	var v sql.NullInt64
	err := r.db.QueryRow(`SELECT MAX(played_at) FROM plays WHERE user_id = ?`, userID).Scan(&v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: failed to query max played-at: %v", shared.ErrStorageFailure, err)
	}
	if !v.Valid {
		return time.Time{}, nil
	}
	return time.Unix(v.Int64, 0).UTC(), nil
}

// ArtistCount pairs an artist with a play count for top-artist queries.
type ArtistCount struct {
	ArtistID   string `json:"artist_id,omitempty"`
	ArtistName string `json:"artist_name"`
	Plays      int    `json:"plays"`
}

// TopArtists returns the user's most-played artists within a time range.
func (r *PlayRepository) TopArtists(userID string, rng shared.TimeRange, now time.Time, limit int) ([]ArtistCount, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT artist_id, artist_name, COUNT(*) AS plays
		FROM plays
		WHERE user_id = ?
	`
	args := []any{userID}

	start, end := rng.Bounds(now)
	if !start.IsZero() {
		query += ` AND played_at >= ?`
		args = append(args, start.Unix())
	}
	query += ` AND played_at <= ?`
	args = append(args, end.Unix())

	query += `
		GROUP BY artist_id, artist_name
		ORDER BY plays DESC, artist_name ASC
		LIMIT ?
	`
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query top artists: %v", shared.ErrStorageFailure, err)
	}
	defer rows.Close()

	var counts []ArtistCount
	for rows.Next() {
		var ac ArtistCount
		if err := rows.Scan(&ac.ArtistID, &ac.ArtistName, &ac.Plays); err != nil {
			return nil, fmt.Errorf("failed to scan artist count: %w", err)
		}
		counts = append(counts, ac)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return counts, nil
}

// CountPlays counts all plays stored for the user
func (r *PlayRepository) CountPlays(userID string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM plays WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count plays: %v", shared.ErrStorageFailure, err)
	}
	return count, nil
}

// List retrieves plays matching the given criteria, newest first
func (r *PlayRepository) List(criteria map[string]any) ([]*models.Play, error) {
	query := `
		SELECT id, sequence, user_id, track_id, track_name, artist_id, artist_name,
			other_artists, album_id, played_at, source, created_at
		FROM plays
		WHERE 1 = 1
	`
	args := []any{}

	if userID, ok := criteria["user_id"].(string); ok && userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}

	if trackID, ok := criteria["track_id"].(string); ok && trackID != "" {
		query += " AND track_id = ?"
		args = append(args, trackID)
	}

	if source, ok := criteria["source"].(string); ok && source != "" {
		query += " AND source = ?"
		args = append(args, source)
	}

	query += " ORDER BY played_at DESC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query plays: %v", shared.ErrStorageFailure, err)
	}
	defer rows.Close()

	var plays []*models.Play
	for rows.Next() {
		play, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		plays = append(plays, play)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return plays, nil
}

// scanRow scans a row from [sql.Rows] into a [models.Play]
func (r *PlayRepository) scanRow(rows *sql.Rows) (*models.Play, error) {
	var (
		id           string
		sequence     int
		userID       string
		trackID      string
		trackName    string
		artistID     string
		artistName   string
		otherArtists string
		albumID      string
		playedAt     int64
		source       string
		createdAt    time.Time
	)

	err := rows.Scan(&id, &sequence, &userID, &trackID, &trackName, &artistID,
		&artistName, &otherArtists, &albumID, &playedAt, &source, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan play: %w", err)
	}

	play := models.NewPlay(sequence, userID, trackID, trackName, artistName,
		time.Unix(playedAt, 0).UTC(), models.PlaySource(source))
	play.SetID(id)
	play.SetCreatedAt(createdAt)
	play.SetArtistID(artistID)
	play.SetAlbumID(albumID)

	var others []models.Artist
	if otherArtists != "" {
		if err := json.Unmarshal([]byte(otherArtists), &others); err != nil {
			return nil, fmt.Errorf("failed to decode artist list: %w", err)
		}
	}
	play.SetOtherArtists(others)

	return play, nil
}
