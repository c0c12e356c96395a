// Spotify API implementation of [Service]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/desertthunder/playlog/internal/ingest"
	"github.com/desertthunder/playlog/internal/shared"
	"golang.org/x/oauth2"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"
)

const maxRecentlyPlayedLimit = 50

type followers struct {
	Total int `json:"total"`
}

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Email       string         `json:"email"`
	Country     string         `json:"country"`
	Followers   followers      `json:"followers"`
	Images      []SpotifyImage `json:"images"`
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyArtist represents a full Spotify artist object.
type SpotifyArtist struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Genres []string       `json:"genres"`
	Images []SpotifyImage `json:"images"`
	URI    string         `json:"uri"`
}

type recentlyPlayedCursors struct {
	After  string `json:"after"`
	Before string `json:"before"`
}

// recentlyPlayedPage is the paginated response of GET /me/player/recently-played.
type recentlyPlayedPage struct {
	Items   []ingest.RecentlyPlayedItem `json:"items"`
	Next    *string                     `json:"next"`
	Cursors recentlyPlayedCursors       `json:"cursors"`
	Limit   int                         `json:"limit"`
}

// SpotifyService implements the Service interface for Spotify API interactions.
// Uses [oauth2] for token exchange and refresh.
type SpotifyService struct {
	config     *oauth2.Config
	httpClient *http.Client
	baseURL    string
}

// NewSpotifyService creates a new Spotify service with the given OAuth2
// credentials. The request timeout bounds every upstream call.
func NewSpotifyService(clientID, clientSecret, redirectURI string, requestTimeout time.Duration) (*SpotifyService, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client id and secret are required", shared.ErrMissingCredentials)
	}

	if redirectURI == "" {
		redirectURI = "http://localhost:8080/callback"
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes: []string{
			"user-read-private",
			"user-read-email",
			"user-read-recently-played",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}

	return &SpotifyService{
		config:     config,
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    spotifyBaseURL,
	}, nil
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// AuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) AuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token set.
func (s *SpotifyService) Exchange(ctx context.Context, code string) (*TokenSet, error) {
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange auth code: %w", err)
	}

	return tokenSet(token), nil
}

// Refresh trades a refresh token for a fresh access token. The upstream
// rejection code and description are preserved so callers can tell a revoked
// grant from a transient failure.
func (s *SpotifyService) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, shared.ErrNoRefreshToken
	}

	source := s.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			detail := retrieveErr.ErrorCode
			if retrieveErr.ErrorDescription != "" {
				detail += ": " + retrieveErr.ErrorDescription
			}
			if detail == "" {
				detail = retrieveErr.Error()
			}
			return nil, fmt.Errorf("%w: %s", shared.ErrTokenRefreshFailed, detail)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: token refresh: %v", shared.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: token refresh: %v", shared.ErrUpstream, err)
	}

	set := tokenSet(token)
	if set.RefreshToken == "" {
		set.RefreshToken = refreshToken
	}
	return set, nil
}

// Profile retrieves the profile of the token's owner.
func (s *SpotifyService) Profile(ctx context.Context, accessToken string) (*SpotifyUser, error) {
	var user SpotifyUser
	if err := s.doRequest(ctx, accessToken, "/me", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// RecentlyPlayed fetches plays strictly after the given instant, oldest
// first. The upstream pages newest first; items are reversed before return.
func (s *SpotifyService) RecentlyPlayed(ctx context.Context, accessToken string, after time.Time, limit int) ([]ingest.RecentlyPlayedItem, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > maxRecentlyPlayedLimit {
		limit = maxRecentlyPlayedLimit
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if !after.IsZero() {
		params.Set("after", strconv.FormatInt(after.UnixMilli(), 10))
	}

	var page recentlyPlayedPage
	endpoint := "/me/player/recently-played?" + params.Encode()
	if err := s.doRequest(ctx, accessToken, endpoint, &page); err != nil {
		return nil, err
	}

	items := page.Items
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// Artist retrieves display metadata for one artist.
func (s *SpotifyService) Artist(ctx context.Context, accessToken, artistID string) (*SpotifyArtist, error) {
	if artistID == "" {
		return nil, fmt.Errorf("%w: artist id is required", shared.ErrInvalidArgument)
	}

	var artist SpotifyArtist
	endpoint := fmt.Sprintf("/artists/%s", url.PathEscape(artistID))
	if err := s.doRequest(ctx, accessToken, endpoint, &artist); err != nil {
		return nil, err
	}
	return &artist, nil
}

// doRequest performs an authenticated GET against the Spotify API and maps
// upstream failures onto the shared error taxonomy.
func (s *SpotifyService) doRequest(ctx context.Context, accessToken, endpoint string, result any) error {
	if accessToken == "" {
		return fmt.Errorf("%w: missing access token", shared.ErrMissingCredentials)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", shared.ErrTimeout, endpoint)
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return fmt.Errorf("%w: %s", shared.ErrTimeout, endpoint)
		}
		return fmt.Errorf("%w: %v", shared.ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: spotify rejected the access token", shared.ErrTokenExpired)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: rate limited on %s", shared.ErrUpstream, endpoint)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: spotify API error: status %d", shared.ErrUpstream, resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func tokenSet(token *oauth2.Token) *TokenSet {
	return &TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry.UTC(),
	}
}

// ArtistEnricher adapts a Service and one user's access token to the
// normalizer's enrichment interface.
type ArtistEnricher struct {
	service     Service
	accessToken string
}

func NewArtistEnricher(service Service, accessToken string) *ArtistEnricher {
	return &ArtistEnricher{service: service, accessToken: accessToken}
}

// ArtistInfo looks up an artist's genres and primary image.
func (e *ArtistEnricher) ArtistInfo(ctx context.Context, artistID string) (ingest.ArtistInfo, error) {
	artist, err := e.service.Artist(ctx, e.accessToken, artistID)
	if err != nil {
		return ingest.ArtistInfo{}, err
	}

	info := ingest.ArtistInfo{Genres: artist.Genres}
	if len(artist.Images) > 0 {
		info.ImageURL = artist.Images[0].URL
	}
	return info, nil
}
