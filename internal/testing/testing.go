// package testing contains shared testing utilities
package testing

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/desertthunder/playlog/internal/ingest"
	"github.com/desertthunder/playlog/internal/services"
	"github.com/desertthunder/playlog/internal/shared"
)

// MockService is a test double for [services.Service]. Each method delegates
// to the matching function field when set and returns a zero value otherwise.
type MockService struct {
	AuthURLFunc        func(state string) string
	ExchangeFunc       func(ctx context.Context, code string) (*services.TokenSet, error)
	RefreshFunc        func(ctx context.Context, refreshToken string) (*services.TokenSet, error)
	ProfileFunc        func(ctx context.Context, accessToken string) (*services.SpotifyUser, error)
	RecentlyPlayedFunc func(ctx context.Context, accessToken string, after time.Time, limit int) ([]ingest.RecentlyPlayedItem, error)
	ArtistFunc         func(ctx context.Context, accessToken, artistID string) (*services.SpotifyArtist, error)

	RefreshCalls int
	FetchCalls   int
}

func (m *MockService) AuthURL(state string) string {
	if m.AuthURLFunc != nil {
		return m.AuthURLFunc(state)
	}
	return "https://accounts.example.com/authorize?state=" + state
}

func (m *MockService) Exchange(ctx context.Context, code string) (*services.TokenSet, error) {
	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, code)
	}
	return &services.TokenSet{AccessToken: "mock-access", RefreshToken: "mock-refresh", Expiry: time.Now().Add(time.Hour)}, nil
}

func (m *MockService) Refresh(ctx context.Context, refreshToken string) (*services.TokenSet, error) {
	m.RefreshCalls++
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return &services.TokenSet{AccessToken: "mock-access", RefreshToken: refreshToken, Expiry: time.Now().Add(time.Hour)}, nil
}

func (m *MockService) Profile(ctx context.Context, accessToken string) (*services.SpotifyUser, error) {
	if m.ProfileFunc != nil {
		return m.ProfileFunc(ctx, accessToken)
	}
	return &services.SpotifyUser{ID: "mock-user", DisplayName: "Mock User"}, nil
}

func (m *MockService) RecentlyPlayed(ctx context.Context, accessToken string, after time.Time, limit int) ([]ingest.RecentlyPlayedItem, error) {
	m.FetchCalls++
	if m.RecentlyPlayedFunc != nil {
		return m.RecentlyPlayedFunc(ctx, accessToken, after, limit)
	}
	return nil, nil
}

func (m *MockService) Artist(ctx context.Context, accessToken, artistID string) (*services.SpotifyArtist, error) {
	if m.ArtistFunc != nil {
		return m.ArtistFunc(ctx, accessToken, artistID)
	}
	return &services.SpotifyArtist{ID: artistID, Name: "Mock Artist"}, nil
}

func (m *MockService) Name() string { return "mock" }

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FWriter is an io.Writer that fails every write.
type FWriter struct{}

func (f *FWriter) Write(p []byte) (int, error) {
	return 0, fmt.Errorf("write failed")
}

// SetupDB creates an in-memory SQLite database with migrations applied.
func SetupDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}
