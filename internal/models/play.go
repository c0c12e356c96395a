package models

import (
	"fmt"
	"strings"
	"time"
)

// PlaySource identifies which ingestion path produced a play.
type PlaySource string

const (
	SourceImport PlaySource = "import" // Bulk history import
	SourcePoll   PlaySource = "poll"   // Background recently-played poll
)

// SyntheticIDPrefix marks track ids derived from a name-based composite key
// rather than resolved from the external service. Synthetic ids participate
// in deduplication but must never be presented as real Spotify ids.
const SyntheticIDPrefix = "local:"

// Artist is a secondary artist credited on a play.
type Artist struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Play is one immutable listening event.
//
// Identity for deduplication is (user id, track id, played-at), with
// played-at held at whole second precision. Plays are created once by the
// normalizer and never updated or deleted.
type Play struct {
	base
	userID       string
	trackID      string
	trackName    string
	artistID     string
	artistName   string
	otherArtists []Artist
	albumID      string
	playedAt     time.Time
	source       PlaySource
}

// NewPlay creates a Play owned by the given user.
//
// playedAt is normalized to UTC and truncated to whole seconds, fixing the
// deduplication tolerance window at one second.
func NewPlay(sequence int, userID, trackID, trackName, artistName string, playedAt time.Time, source PlaySource) *Play {
	return &Play{
		base:       newBase(sequence),
		userID:     userID,
		trackID:    trackID,
		trackName:  trackName,
		artistName: artistName,
		playedAt:   playedAt.UTC().Truncate(time.Second),
		source:     source,
	}
}

func (p *Play) UserID() string         { return p.userID }
func (p *Play) TrackID() string        { return p.trackID }
func (p *Play) TrackName() string      { return p.trackName }
func (p *Play) ArtistID() string       { return p.artistID }
func (p *Play) ArtistName() string     { return p.artistName }
func (p *Play) OtherArtists() []Artist { return p.otherArtists }
func (p *Play) AlbumID() string        { return p.albumID }
func (p *Play) PlayedAt() time.Time    { return p.playedAt }
func (p *Play) Source() PlaySource     { return p.source }

func (p *Play) SetArtistID(id string)            { p.artistID = id }
func (p *Play) SetOtherArtists(artists []Artist) { p.otherArtists = artists }
func (p *Play) SetAlbumID(id string)             { p.albumID = id }

// Synthetic reports whether the track id is a composite fallback key rather
// than a resolved service id.
func (p *Play) Synthetic() bool {
	return strings.HasPrefix(p.trackID, SyntheticIDPrefix)
}

// Validate checks that required fields are present and played-at is set.
func (p *Play) Validate() error {
	if p.userID == "" {
		return fmt.Errorf("user id is required")
	}
	if p.trackID == "" {
		return fmt.Errorf("track id is required")
	}
	if p.trackName == "" {
		return fmt.Errorf("track name is required")
	}
	if p.artistName == "" {
		return fmt.Errorf("artist name is required")
	}
	if p.playedAt.IsZero() {
		return fmt.Errorf("played-at is required")
	}
	if p.source != SourceImport && p.source != SourcePoll {
		return fmt.Errorf("unknown play source %q", p.source)
	}
	return nil
}
