package models

import (
	"fmt"
	"time"
)

// User represents a Spotify account tracked by the service.
//
// The spotify id is the stable external key. Token material and the poll
// checkpoint are mutated by the token refresher and the poller; users are
// never deleted by the ingestion core.
type User struct {
	base
	spotifyID          string
	displayName        string
	accessToken        string
	refreshToken       string
	tokenExpiry        time.Time
	lastCheckpoint     time.Time
	backgroundTracking bool
	hasInitialImport   bool
	hasFullImport      bool
}

// NewUser creates a User for the given Spotify identity.
func NewUser(sequence int, spotifyID, displayName string) *User {
	return &User{
		base:        newBase(sequence),
		spotifyID:   spotifyID,
		displayName: displayName,
	}
}

func (u *User) SpotifyID() string         { return u.spotifyID }
func (u *User) DisplayName() string       { return u.displayName }
func (u *User) AccessToken() string       { return u.accessToken }
func (u *User) RefreshToken() string      { return u.refreshToken }
func (u *User) TokenExpiry() time.Time    { return u.tokenExpiry }
func (u *User) LastCheckpoint() time.Time { return u.lastCheckpoint }
func (u *User) BackgroundTracking() bool  { return u.backgroundTracking }
func (u *User) HasInitialImport() bool    { return u.hasInitialImport }
func (u *User) HasFullImport() bool       { return u.hasFullImport }

func (u *User) SetDisplayName(name string)    { u.displayName = name }
func (u *User) SetBackgroundTracking(on bool) { u.backgroundTracking = on }
func (u *User) SetHasFullImport(done bool)    { u.hasFullImport = done }

// SetTokens installs refreshed token material.
//
// Once an expiry is recorded, the new expiry must strictly increase; a
// refresh that does not extend the token's lifetime is rejected. A rotated
// refresh token replaces the stored one; an empty rotation keeps it.
func (u *User) SetTokens(accessToken, refreshToken string, expiry time.Time) error {
	if accessToken == "" {
		return fmt.Errorf("access token must not be empty")
	}
	if !u.tokenExpiry.IsZero() && !expiry.After(u.tokenExpiry) {
		return fmt.Errorf("token expiry must strictly increase: have %s, got %s",
			u.tokenExpiry.Format(time.RFC3339), expiry.Format(time.RFC3339))
	}

	u.accessToken = accessToken
	if refreshToken != "" {
		u.refreshToken = refreshToken
	}
	u.tokenExpiry = expiry.UTC()
	return nil
}

// RestoreTokens sets token fields from persistence, bypassing the
// strictly-increasing expiry check.
func (u *User) RestoreTokens(accessToken, refreshToken string, expiry time.Time) {
	u.accessToken = accessToken
	u.refreshToken = refreshToken
	u.tokenExpiry = expiry
}

// TokenExpired reports whether the access token is expired or expires within leeway.
func (u *User) TokenExpired(now time.Time, leeway time.Duration) bool {
	if u.accessToken == "" {
		return true
	}
	return !u.tokenExpiry.After(now.Add(leeway))
}

// AdvanceCheckpoint moves the checkpoint forward to playedAt.
//
// The checkpoint is monotonic: an instant at or before the current
// checkpoint is ignored. Returns true if the checkpoint moved.
func (u *User) AdvanceCheckpoint(playedAt time.Time) bool {
	if !playedAt.After(u.lastCheckpoint) {
		return false
	}
	u.lastCheckpoint = playedAt.UTC()
	return true
}

// SetCheckpoint sets the checkpoint directly, used when restoring from persistence.
func (u *User) SetCheckpoint(t time.Time) {
	u.lastCheckpoint = t
}

// MarkInitialImport flips the initial-import flag.
//
// The transition happens exactly once; later calls are no-ops. Returns true
// on the first transition.
func (u *User) MarkInitialImport() bool {
	if u.hasInitialImport {
		return false
	}
	u.hasInitialImport = true
	return true
}

// SetImportFlags restores both import flags from persistence.
func (u *User) SetImportFlags(initialImport, fullImport bool) {
	u.hasInitialImport = initialImport
	u.hasFullImport = fullImport
}

// Validate checks that required fields are present.
func (u *User) Validate() error {
	if u.spotifyID == "" {
		return fmt.Errorf("spotify id is required")
	}
	return nil
}
