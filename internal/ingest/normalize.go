package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/playlog/internal/models"
	"github.com/desertthunder/playlog/internal/shared"
)

// trackURIPrefix is the scheme prefix on track URIs in extended export files
const trackURIPrefix = "spotify:track:"

// syntheticKeySeparator joins track and artist names into a matching key for
// events that carry no real track id. The unit separator cannot appear in
// either name.
const syntheticKeySeparator = "\x1f"

// exportTimeLayout is the minute-precision timestamp format of simple
// account-data exports ("endTime" fields).
const exportTimeLayout = "2006-01-02 15:04"

// RawEvent is a source-specific listening event awaiting normalization.
// Exactly two shapes exist: ExportRecord and RecentlyPlayedItem.
type RawEvent interface {
	rawEvent()
}

// ExportRecord is one row of a bulk history export file. Simple exports
// carry endTime/artistName/trackName; extended exports carry ts, a track
// URI, and master_metadata fields. A single record uses one set or the
// other.
type ExportRecord struct {
	EndTime    string `json:"endTime,omitempty"`
	ArtistName string `json:"artistName,omitempty"`
	TrackName  string `json:"trackName,omitempty"`

	Timestamp        string `json:"ts,omitempty"`
	TrackURI         string `json:"spotify_track_uri,omitempty"`
	MasterTrackName  string `json:"master_metadata_track_name,omitempty"`
	MasterArtistName string `json:"master_metadata_album_artist_name,omitempty"`
	MasterAlbumName  string `json:"master_metadata_album_album_name,omitempty"`
}

func (ExportRecord) rawEvent() {}

// RecentlyPlayedItem is one entry of the player API's recently-played feed.
type RecentlyPlayedItem struct {
	PlayedAt string       `json:"played_at"`
	Track    SpotifyTrack `json:"track"`
}

func (RecentlyPlayedItem) rawEvent() {}

// SpotifyTrack is the track object embedded in a recently-played item.
type SpotifyTrack struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	URI     string          `json:"uri"`
	Artists []SpotifyArtist `json:"artists"`
	Album   SpotifyAlbum    `json:"album"`
}

// SpotifyArtist is a minimal artist reference on a track object.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SpotifyAlbum is a minimal album reference on a track object.
type SpotifyAlbum struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Normalize converts one raw event into a canonical play for the given user.
// The play's source tag follows the event shape: export records become
// import plays, recently-played items become poll plays. Events with a
// missing or unparsable timestamp, or without enough identity to name the
// track and artist, are rejected with ErrMalformedEvent.
func Normalize(userID string, ev RawEvent) (*models.Play, error) {
	switch e := ev.(type) {
	case ExportRecord:
		return normalizeExport(userID, e)
	case *ExportRecord:
		return normalizeExport(userID, *e)
	case RecentlyPlayedItem:
		return normalizeRecent(userID, e)
	case *RecentlyPlayedItem:
		return normalizeRecent(userID, *e)
	default:
		return nil, fmt.Errorf("%w: unknown event shape %T", shared.ErrMalformedEvent, ev)
	}
}

func normalizeExport(userID string, rec ExportRecord) (*models.Play, error) {
	playedAt, err := parseExportTime(rec)
	if err != nil {
		return nil, err
	}

	trackName := rec.TrackName
	if trackName == "" {
		trackName = rec.MasterTrackName
	}
	artistName := rec.ArtistName
	if artistName == "" {
		artistName = rec.MasterArtistName
	}
	if trackName == "" || artistName == "" {
		return nil, fmt.Errorf("%w: export record missing track or artist name", shared.ErrMalformedEvent)
	}

	trackID := ""
	if strings.HasPrefix(rec.TrackURI, trackURIPrefix) {
		trackID = strings.TrimPrefix(rec.TrackURI, trackURIPrefix)
	}
	if trackID == "" {
		trackID = syntheticTrackID(trackName, artistName)
	}

	play := models.NewPlay(0, userID, trackID, trackName, artistName, playedAt, models.SourceImport)
	return play, nil
}

func normalizeRecent(userID string, item RecentlyPlayedItem) (*models.Play, error) {
	if item.PlayedAt == "" {
		return nil, fmt.Errorf("%w: recently-played item missing played_at", shared.ErrMalformedEvent)
	}
	playedAt, err := time.Parse(time.RFC3339, item.PlayedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: unparsable played_at %q", shared.ErrMalformedEvent, item.PlayedAt)
	}

	track := item.Track
	if track.Name == "" || len(track.Artists) == 0 || track.Artists[0].Name == "" {
		return nil, fmt.Errorf("%w: recently-played item missing track or artist name", shared.ErrMalformedEvent)
	}

	primary := track.Artists[0]
	trackID := track.ID
	if trackID == "" && strings.HasPrefix(track.URI, trackURIPrefix) {
		trackID = strings.TrimPrefix(track.URI, trackURIPrefix)
	}
	if trackID == "" {
		trackID = syntheticTrackID(track.Name, primary.Name)
	}

	play := models.NewPlay(0, userID, trackID, track.Name, primary.Name, playedAt, models.SourcePoll)
	play.SetArtistID(primary.ID)
	play.SetAlbumID(track.Album.ID)

	if len(track.Artists) > 1 {
		others := make([]models.Artist, 0, len(track.Artists)-1)
		for _, a := range track.Artists[1:] {
			others = append(others, models.Artist{ID: a.ID, Name: a.Name})
		}
		play.SetOtherArtists(others)
	}

	return play, nil
}

// parseExportTime resolves the timestamp of an export record. Extended
// exports carry an RFC 3339 "ts"; simple exports carry a minute-precision
// UTC "endTime".
func parseExportTime(rec ExportRecord) (time.Time, error) {
	if rec.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, rec.Timestamp)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: unparsable ts %q", shared.ErrMalformedEvent, rec.Timestamp)
		}
		return t, nil
	}

	if rec.EndTime != "" {
		t, err := time.ParseInLocation(exportTimeLayout, rec.EndTime, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: unparsable endTime %q", shared.ErrMalformedEvent, rec.EndTime)
		}
		return t, nil
	}

	return time.Time{}, fmt.Errorf("%w: export record missing timestamp", shared.ErrMalformedEvent)
}

// syntheticTrackID builds the composite matching key for events without a
// real track id. The prefix keeps it distinguishable from upstream ids.
func syntheticTrackID(trackName, artistName string) string {
	return models.SyntheticIDPrefix + trackName + syntheticKeySeparator + artistName
}

// ArtistInfo is optional display metadata resolved outside normalization.
type ArtistInfo struct {
	Genres   []string `json:"genres"`
	ImageURL string   `json:"image_url,omitempty"`
}

// Enricher looks up display metadata for an artist. Implementations talk to
// the upstream API; failures are expected and never block ingestion.
type Enricher interface {
	ArtistInfo(ctx context.Context, artistID string) (ArtistInfo, error)
}

// Enrich fetches display metadata for a play's primary artist, if the play
// carries a real artist id and an enricher is available. Lookup failures
// return a zero value.
func Enrich(ctx context.Context, enricher Enricher, play *models.Play) ArtistInfo {
	if enricher == nil || play.ArtistID() == "" {
		return ArtistInfo{}
	}

	info, err := enricher.ArtistInfo(ctx, play.ArtistID())
	if err != nil {
		return ArtistInfo{}
	}
	return info
}
