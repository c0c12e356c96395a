package services

import (
	"context"
	"time"

	"github.com/desertthunder/playlog/internal/ingest"
)

// Service is a streaming provider the ingestion pipeline can pull listening
// history from. Token material is passed per call; implementations hold no
// per-user state.
type Service interface {
	// AuthURL returns the OAuth authorization URL for user login.
	AuthURL(state string) string

	// Exchange trades an authorization code for a token set.
	Exchange(ctx context.Context, code string) (*TokenSet, error)

	// Refresh trades a refresh token for a fresh token set. A rejected
	// refresh token surfaces as ErrTokenRefreshFailed.
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)

	// Profile retrieves the profile of the token's owner.
	Profile(ctx context.Context, accessToken string) (*SpotifyUser, error)

	// RecentlyPlayed fetches plays strictly after the given instant,
	// oldest first. A zero after fetches the most recent page.
	RecentlyPlayed(ctx context.Context, accessToken string, after time.Time, limit int) ([]ingest.RecentlyPlayedItem, error)

	// Artist retrieves display metadata for one artist.
	Artist(ctx context.Context, accessToken, artistID string) (*SpotifyArtist, error)

	// Name returns the name of the provider (e.g., "Spotify")
	Name() string
}

// TokenSet is the credential material returned by token endpoints. A
// provider may omit RefreshToken on rotation, meaning the old one stays
// valid.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}
