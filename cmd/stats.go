package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/playlog/internal/formatter"
	"github.com/desertthunder/playlog/internal/ingest"
	"github.com/desertthunder/playlog/internal/repositories"
	"github.com/desertthunder/playlog/internal/services"
	"github.com/desertthunder/playlog/internal/shared"
	"github.com/urfave/cli/v3"
)

// enrichedArtist pairs an aggregated artist row with upstream display metadata.
type enrichedArtist struct {
	repositories.ArtistCount
	Genres []string `json:"genres,omitempty"`
}

// StatsTopArtists shows the most played artists within a time range.
func (r *Runner) StatsTopArtists(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")
	limit := cmd.Int("limit")

	rng, err := shared.ParseTimeRange(cmd.String("range"))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidFlag, err)
	}

	s, err := r.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.users.Get(userID); err != nil {
		return err
	}

	artists, err := s.plays.TopArtists(userID, rng, time.Now().UTC(), limit)
	if err != nil {
		return fmt.Errorf("failed to query top artists: %w", err)
	}

	if !cmd.Bool("enrich") {
		if cmd.Bool("json") {
			return r.writeJSON(artists, true)
		}
		return r.writePlain("%s", formatter.TopArtistsText(artists, string(rng)))
	}

	enriched, err := r.enrichArtists(ctx, s, userID, artists)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(enriched, true)
	}

	r.writePlain("Top artists (%s)\n\n", string(rng))
	for i, artist := range enriched {
		r.writePlain("%d. %s (%d plays)\n", i+1, artist.ArtistName, artist.Plays)
		if len(artist.Genres) > 0 {
			r.writePlain("   Genres: %v\n", artist.Genres)
		}
	}
	return nil
}

// enrichArtists looks up genres for each aggregated artist using the stored
// access token. Lookup failures leave the entry unenriched.
func (r *Runner) enrichArtists(ctx context.Context, s *store, userID string, artists []repositories.ArtistCount) ([]enrichedArtist, error) {
	if r.service == nil {
		return nil, fmt.Errorf("%w: Spotify client_id and client_secret must be set in config.toml", shared.ErrMissingCredentials)
	}

	user, err := s.users.Get(userID)
	if err != nil {
		return nil, err
	}
	if user.AccessToken() == "" {
		return nil, fmt.Errorf("%w: run 'playlog login' first", shared.ErrMissingCredentials)
	}

	var enricher ingest.Enricher = services.NewArtistEnricher(r.service, user.AccessToken())

	enriched := make([]enrichedArtist, 0, len(artists))
	for _, artist := range artists {
		entry := enrichedArtist{ArtistCount: artist}
		if artist.ArtistID != "" {
			if info, err := enricher.ArtistInfo(ctx, artist.ArtistID); err == nil {
				entry.Genres = info.Genres
			} else {
				r.logger.Debug("artist lookup failed", "artist_id", artist.ArtistID, "error", err)
			}
		}
		enriched = append(enriched, entry)
	}

	return enriched, nil
}

// StatsArtist counts one artist's plays within a time range.
func (r *Runner) StatsArtist(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")
	selector := repositories.ArtistSelector{
		ID:   cmd.String("id"),
		Name: cmd.String("name"),
	}

	if selector.ID == "" && selector.Name == "" {
		return fmt.Errorf("%w: either --id or --name is required", shared.ErrMissingArgument)
	}

	rng, err := shared.ParseTimeRange(cmd.String("range"))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidFlag, err)
	}

	s, err := r.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.users.Get(userID); err != nil {
		return err
	}

	count, err := s.plays.CountArtistPlays(userID, selector, rng, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to count plays: %w", err)
	}

	label := selector.Name
	if label == "" {
		label = selector.ID
	}
	return r.writePlain("%s: %d plays (%s)\n", label, count, string(rng))
}

// StatsHistory reports whether a user has ever played an artist.
func (r *Runner) StatsHistory(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")
	artistID := cmd.String("id")

	s, err := r.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.users.Get(userID); err != nil {
		return err
	}

	has, err := s.plays.HasArtistHistory(userID, artistID)
	if err != nil {
		return fmt.Errorf("failed to check artist history: %w", err)
	}

	if has {
		return r.writePlain("%s has listened to %s\n", userID, artistID)
	}
	return r.writePlain("%s has no recorded plays for %s\n", userID, artistID)
}

// StatsExport writes a user's full play history to a CSV file.
func (r *Runner) StatsExport(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")

	s, err := r.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.users.Get(userID); err != nil {
		return err
	}

	plays, err := s.plays.List(map[string]any{"user_id": userID})
	if err != nil {
		return fmt.Errorf("failed to list plays: %w", err)
	}

	path, err := formatter.WritePlaysCSV(userID, plays, cmd.String("output"))
	if err != nil {
		return err
	}

	r.logger.Info("play history exported", "file", path, "plays", len(plays))
	return r.writePlain("Exported %d plays to %s\n", len(plays), path)
}

// TrackingEnable opts a user into background polling.
func (r *Runner) TrackingEnable(ctx context.Context, cmd *cli.Command) error {
	return r.setTracking(cmd.String("user"), true)
}

// TrackingDisable opts a user out of background polling.
func (r *Runner) TrackingDisable(ctx context.Context, cmd *cli.Command) error {
	return r.setTracking(cmd.String("user"), false)
}

func (r *Runner) setTracking(userID string, enabled bool) error {
	s, err := r.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.users.UpdateBackgroundTracking(userID, enabled); err != nil {
		return err
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return r.writePlain("Background tracking %s for %s\n", state, userID)
}
