package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/desertthunder/playlog/internal/ingest"
	"github.com/desertthunder/playlog/internal/models"
	"github.com/desertthunder/playlog/internal/repositories"
	"github.com/desertthunder/playlog/internal/services"
	"github.com/desertthunder/playlog/internal/shared"
	tu "github.com/desertthunder/playlog/internal/testing"
)

type pollFixture struct {
	db      *sql.DB
	users   *repositories.UserRepository
	plays   *repositories.PlayRepository
	service *tu.MockService
	poller  *Poller
}

func newPollFixture(t *testing.T) *pollFixture {
	t.Helper()

	db := tu.SetupDB(t)
	users := repositories.NewUserRepository(db)
	plays := repositories.NewPlayRepository(db)
	service := &tu.MockService{}

	return &pollFixture{
		db:      db,
		users:   users,
		plays:   plays,
		service: service,
		poller:  NewPoller(users, plays, service, 5*time.Minute, 50),
	}
}

func (f *pollFixture) createUser(t *testing.T, spotifyID string, tokenExpiry time.Time) *models.User {
	t.Helper()

	user := models.NewUser(0, spotifyID, "Poll User")
	if err := user.SetTokens("access-"+spotifyID, "refresh-"+spotifyID, tokenExpiry); err != nil {
		t.Fatalf("failed to set tokens: %v", err)
	}
	if err := f.users.Create(user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

func recentItem(playedAt, trackID string) ingest.RecentlyPlayedItem {
	return ingest.RecentlyPlayedItem{
		PlayedAt: playedAt,
		Track: ingest.SpotifyTrack{
			ID:      trackID,
			Name:    "Track " + trackID,
			Artists: []ingest.SpotifyArtist{{ID: "artist-1", Name: "The Band"}},
		},
	}
}

func TestPollerPoll(t *testing.T) {
	t.Run("stores new plays and advances checkpoint", func(t *testing.T) {
		f := newPollFixture(t)
		user := f.createUser(t, "poll-1", time.Now().Add(time.Hour))

		f.service.RecentlyPlayedFunc = func(ctx context.Context, accessToken string, after time.Time, limit int) ([]ingest.RecentlyPlayedItem, error) {
			return []ingest.RecentlyPlayedItem{
				recentItem("2024-03-15T21:00:00Z", "t1"),
				recentItem("2024-03-15T22:00:00Z", "t2"),
			}, nil
		}

		result, err := f.poller.Poll(context.Background(), user.ID(), nil)
		if err != nil {
			t.Fatalf("failed to poll: %v", err)
		}
		if result.NewPlays != 2 || result.Fetched != 2 {
			t.Errorf("expected 2 new plays, got %+v", result)
		}

		want := time.Date(2024, 3, 15, 22, 0, 0, 0, time.UTC)
		if !result.Checkpoint.Equal(want) {
			t.Errorf("expected checkpoint %v, got %v", want, result.Checkpoint)
		}

		stored, err := f.users.Get(user.ID())
		if err != nil {
			t.Fatalf("failed to get user: %v", err)
		}
		if !stored.LastCheckpoint().Equal(want) {
			t.Errorf("expected persisted checkpoint %v, got %v", want, stored.LastCheckpoint())
		}
		if f.service.RefreshCalls != 0 {
			t.Errorf("expected no refresh with a live token, got %d", f.service.RefreshCalls)
		}
	})

	t.Run("second poll with no new events is a zero no-op", func(t *testing.T) {
		f := newPollFixture(t)
		user := f.createUser(t, "poll-2", time.Now().Add(time.Hour))

		items := []ingest.RecentlyPlayedItem{recentItem("2024-03-15T21:00:00Z", "t1")}
		f.service.RecentlyPlayedFunc = func(ctx context.Context, accessToken string, after time.Time, limit int) ([]ingest.RecentlyPlayedItem, error) {
			return items, nil
		}

		first, err := f.poller.Poll(context.Background(), user.ID(), nil)
		if err != nil {
			t.Fatalf("first poll failed: %v", err)
		}

		second, err := f.poller.Poll(context.Background(), user.ID(), nil)
		if err != nil {
			t.Fatalf("second poll failed: %v", err)
		}
		if second.NewPlays != 0 {
			t.Errorf("expected 0 new plays on second poll, got %d", second.NewPlays)
		}
		if !second.Checkpoint.Equal(first.Checkpoint) {
			t.Errorf("expected unchanged checkpoint %v, got %v", first.Checkpoint, second.Checkpoint)
		}
	})

	t.Run("fetch uses the stored checkpoint as cursor", func(t *testing.T) {
		f := newPollFixture(t)
		user := f.createUser(t, "poll-3", time.Now().Add(time.Hour))

		checkpoint := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
		user.AdvanceCheckpoint(checkpoint)
		if err := f.users.UpdateCheckpoint(user); err != nil {
			t.Fatalf("failed to persist checkpoint: %v", err)
		}

		var gotAfter time.Time
		f.service.RecentlyPlayedFunc = func(ctx context.Context, accessToken string, after time.Time, limit int) ([]ingest.RecentlyPlayedItem, error) {
			gotAfter = after
			return nil, nil
		}

		if _, err := f.poller.Poll(context.Background(), user.ID(), nil); err != nil {
			t.Fatalf("failed to poll: %v", err)
		}
		if !gotAfter.Equal(checkpoint) {
			t.Errorf("expected fetch after %v, got %v", checkpoint, gotAfter)
		}
	})

	t.Run("zero checkpoint recovers from the newest stored play", func(t *testing.T) {
		f := newPollFixture(t)
		user := f.createUser(t, "poll-8", time.Now().Add(time.Hour))

		newest := time.Date(2024, 3, 12, 18, 30, 0, 0, time.UTC)
		for i, playedAt := range []time.Time{newest.Add(-time.Hour), newest} {
			play := models.NewPlay(0, user.ID(), fmt.Sprintf("t%d", i), "Track", "The Band", playedAt, models.SourceImport)
			if _, err := f.plays.Insert(play); err != nil {
				t.Fatalf("failed to seed play: %v", err)
			}
		}

		var gotAfter time.Time
		f.service.RecentlyPlayedFunc = func(ctx context.Context, accessToken string, after time.Time, limit int) ([]ingest.RecentlyPlayedItem, error) {
			gotAfter = after
			return nil, nil
		}

		if _, err := f.poller.Poll(context.Background(), user.ID(), nil); err != nil {
			t.Fatalf("failed to poll: %v", err)
		}
		if !gotAfter.Equal(newest) {
			t.Errorf("expected fetch after %v, got %v", newest, gotAfter)
		}
	})

	t.Run("first successful poll marks initial import", func(t *testing.T) {
		f := newPollFixture(t)
		user := f.createUser(t, "poll-9", time.Now().Add(time.Hour))

		f.service.RecentlyPlayedFunc = func(ctx context.Context, accessToken string, after time.Time, limit int) ([]ingest.RecentlyPlayedItem, error) {
			return []ingest.RecentlyPlayedItem{recentItem("2024-03-15T21:00:00Z", "t1")}, nil
		}

		if _, err := f.poller.Poll(context.Background(), user.ID(), nil); err != nil {
			t.Fatalf("failed to poll: %v", err)
		}

		loaded, err := f.users.Get(user.ID())
		if err != nil {
			t.Fatalf("failed to load user: %v", err)
		}
		if !loaded.HasInitialImport() {
			t.Error("expected initial-import flag after first poll")
		}
	})

	t.Run("failed poll leaves initial import unset", func(t *testing.T) {
		f := newPollFixture(t)
		user := f.createUser(t, "poll-10", time.Now().Add(time.Hour))

		f.service.RecentlyPlayedFunc = func(ctx context.Context, accessToken string, after time.Time, limit int) ([]ingest.RecentlyPlayedItem, error) {
			return nil, fmt.Errorf("%w: rate limited", shared.ErrUpstream)
		}

		if _, err := f.poller.Poll(context.Background(), user.ID(), nil); err == nil {
			t.Fatal("expected poll to fail")
		}

		loaded, err := f.users.Get(user.ID())
		if err != nil {
			t.Fatalf("failed to load user: %v", err)
		}
		if loaded.HasInitialImport() {
			t.Error("failed poll must not flip the initial-import flag")
		}
	})

	t.Run("refreshes an expired token before fetching", func(t *testing.T) {
		f := newPollFixture(t)
		user := f.createUser(t, "poll-4", time.Now().Add(-time.Minute))

		newExpiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		f.service.RefreshFunc = func(ctx context.Context, refreshToken string) (*services.TokenSet, error) {
			return &services.TokenSet{AccessToken: "fresh", RefreshToken: "rotated", Expiry: newExpiry}, nil
		}

		var fetchToken string
		f.service.RecentlyPlayedFunc = func(ctx context.Context, accessToken string, after time.Time, limit int) ([]ingest.RecentlyPlayedItem, error) {
			fetchToken = accessToken
			return nil, nil
		}

		if _, err := f.poller.Poll(context.Background(), user.ID(), nil); err != nil {
			t.Fatalf("failed to poll: %v", err)
		}
		if fetchToken != "fresh" {
			t.Errorf("expected fetch with refreshed token, got %q", fetchToken)
		}

		stored, err := f.users.Get(user.ID())
		if err != nil {
			t.Fatalf("failed to get user: %v", err)
		}
		if stored.AccessToken() != "fresh" || stored.RefreshToken() != "rotated" {
			t.Error("expected rotated token material persisted")
		}
		if !stored.TokenExpiry().Equal(newExpiry) {
			t.Errorf("expected expiry %v, got %v", newExpiry, stored.TokenExpiry())
		}
	})

	t.Run("refresh failure aborts the poll", func(t *testing.T) {
		f := newPollFixture(t)
		user := f.createUser(t, "poll-5", time.Now().Add(-time.Minute))

		f.service.RefreshFunc = func(ctx context.Context, refreshToken string) (*services.TokenSet, error) {
			return nil, fmt.Errorf("%w: invalid_grant", shared.ErrTokenRefreshFailed)
		}

		_, err := f.poller.Poll(context.Background(), user.ID(), nil)
		if !errors.Is(err, shared.ErrTokenRefreshFailed) {
			t.Errorf("expected ErrTokenRefreshFailed, got %v", err)
		}
		if f.service.FetchCalls != 0 {
			t.Error("expected no fetch after failed refresh")
		}
	})

	t.Run("malformed items are skipped and counted", func(t *testing.T) {
		f := newPollFixture(t)
		user := f.createUser(t, "poll-6", time.Now().Add(time.Hour))

		f.service.RecentlyPlayedFunc = func(ctx context.Context, accessToken string, after time.Time, limit int) ([]ingest.RecentlyPlayedItem, error) {
			return []ingest.RecentlyPlayedItem{
				recentItem("2024-03-15T21:00:00Z", "t1"),
				{PlayedAt: "", Track: ingest.SpotifyTrack{ID: "t2", Name: "Broken"}},
			}, nil
		}

		result, err := f.poller.Poll(context.Background(), user.ID(), nil)
		if err != nil {
			t.Fatalf("failed to poll: %v", err)
		}
		if result.NewPlays != 1 || result.Skipped != 1 {
			t.Errorf("expected 1 stored and 1 skipped, got %+v", result)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newPollFixture(t)

		if _, err := f.poller.Poll(context.Background(), "missing", nil); !errors.Is(err, shared.ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound, got %v", err)
		}
	})

	t.Run("upstream fetch failure surfaces", func(t *testing.T) {
		f := newPollFixture(t)
		user := f.createUser(t, "poll-7", time.Now().Add(time.Hour))

		f.service.RecentlyPlayedFunc = func(ctx context.Context, accessToken string, after time.Time, limit int) ([]ingest.RecentlyPlayedItem, error) {
			return nil, fmt.Errorf("%w: status 502", shared.ErrUpstream)
		}

		if _, err := f.poller.Poll(context.Background(), user.ID(), nil); !errors.Is(err, shared.ErrUpstream) {
			t.Errorf("expected ErrUpstream, got %v", err)
		}
	})
}
