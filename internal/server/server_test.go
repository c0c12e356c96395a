package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/playlog/internal/ingest"
	"github.com/desertthunder/playlog/internal/models"
	"github.com/desertthunder/playlog/internal/repositories"
	"github.com/desertthunder/playlog/internal/services"
	"github.com/desertthunder/playlog/internal/tasks"
	tu "github.com/desertthunder/playlog/internal/testing"
	"golang.org/x/time/rate"
)

const testSecret = "test-task-secret"

type serverFixture struct {
	db      *sql.DB
	router  *BasicRouter
	users   *repositories.UserRepository
	plays   *repositories.PlayRepository
	jobs    *repositories.ImportJobRepository
	service *tu.MockService
	userID  string
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	db := tu.SetupDB(t)
	users := repositories.NewUserRepository(db)
	plays := repositories.NewPlayRepository(db)
	jobs := repositories.NewImportJobRepository(db)

	user := models.NewUser(0, "server-user", "Server User")
	if err := users.Create(user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	logger := log.New(io.Discard)
	importer := tasks.NewImporter(jobs, plays, users, 30*time.Minute)
	service := &tu.MockService{}
	poller := tasks.NewPoller(users, plays, service, 5*time.Minute, 50)
	fleet := tasks.NewFleet(users, poller, rate.NewLimiter(rate.Inf, 1), 50)

	router := NewBasicRouter()
	router.Use(RecoveryMiddleware(logger))
	router.Handler(NewImportHandler(importer, logger))
	router.Handler(NewTaskHandler(importer, testSecret, logger))
	router.Handler(NewPollHandler(poller, fleet, logger))
	router.Handler(NewStatsHandler(plays))
	router.Handler(NewTrackingHandler(users, logger))

	return &serverFixture{
		db:      db,
		router:  router,
		users:   users,
		plays:   plays,
		jobs:    jobs,
		service: service,
		userID:  user.ID(),
	}
}

func (f *serverFixture) do(t *testing.T, method, target string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func submitBody(t *testing.T, userID string) []byte {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"user_id":   userID,
		"file_name": "history.json",
		"events": []map[string]string{
			{"endTime": "2024-03-01 10:00", "artistName": "Alpha", "trackName": "One"},
			{"endTime": "2024-03-01 11:00", "artistName": "Alpha", "trackName": "Two"},
		},
	})
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	return body
}

func TestImportEndpoints(t *testing.T) {
	t.Run("submit then poll status", func(t *testing.T) {
		f := newServerFixture(t)

		rec := f.do(t, http.MethodPost, "/imports", submitBody(t, f.userID), nil)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
		}

		created := decodeBody[map[string]string](t, rec)
		jobID := created["job_id"]
		if jobID == "" {
			t.Fatal("expected a job id")
		}

		rec = f.do(t, http.MethodGet, "/imports/status?id="+jobID, nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		status := decodeBody[map[string]any](t, rec)
		if status["status"] != string(models.JobPending) {
			t.Errorf("expected pending, got %v", status["status"])
		}
		if status["total_tracks"].(float64) != 2 {
			t.Errorf("expected 2 total tracks, got %v", status["total_tracks"])
		}
	})

	t.Run("submit validation", func(t *testing.T) {
		f := newServerFixture(t)

		rec := f.do(t, http.MethodPost, "/imports", []byte(`{"user_id": ""}`), nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for missing user, got %d", rec.Code)
		}

		body, _ := json.Marshal(map[string]any{"user_id": f.userID, "events": []any{}})
		rec = f.do(t, http.MethodPost, "/imports", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for empty batch, got %d", rec.Code)
		}

		rec = f.do(t, http.MethodPost, "/imports", submitBody(t, "missing"), nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404 for unknown user, got %d", rec.Code)
		}
	})

	t.Run("status of unknown job", func(t *testing.T) {
		f := newServerFixture(t)

		rec := f.do(t, http.MethodGet, "/imports/status?id=missing", nil, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}

		rec = f.do(t, http.MethodGet, "/imports/status", nil, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 without id, got %d", rec.Code)
		}
	})

	t.Run("method filtering", func(t *testing.T) {
		f := newServerFixture(t)

		rec := f.do(t, http.MethodDelete, "/imports", nil, nil)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})
}

func TestTaskDelivery(t *testing.T) {
	submitJob := func(t *testing.T, f *serverFixture) string {
		rec := f.do(t, http.MethodPost, "/imports", submitBody(t, f.userID), nil)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rec.Code)
		}
		return decodeBody[map[string]string](t, rec)["job_id"]
	}

	signedHeader := func(body []byte) http.Header {
		header := http.Header{}
		header.Set(TaskSignatureHeader, SignPayload(testSecret, body))
		return header
	}

	t.Run("signed delivery processes the job", func(t *testing.T) {
		f := newServerFixture(t)
		jobID := submitJob(t, f)

		body, _ := json.Marshal(map[string]string{"job_id": jobID})
		rec := f.do(t, http.MethodPost, "/tasks/process-import", body, signedHeader(body))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		result := decodeBody[map[string]any](t, rec)
		if result["status"] != string(models.JobCompleted) {
			t.Errorf("expected completed, got %v", result["status"])
		}
		if result["inserted"].(float64) != 2 {
			t.Errorf("expected 2 inserted, got %v", result["inserted"])
		}
	})

	t.Run("redelivery is acknowledged without side effects", func(t *testing.T) {
		f := newServerFixture(t)
		jobID := submitJob(t, f)

		body, _ := json.Marshal(map[string]string{"job_id": jobID})
		for n := 0; n < 2; n++ {
			rec := f.do(t, http.MethodPost, "/tasks/process-import", body, signedHeader(body))
			if rec.Code != http.StatusOK {
				t.Fatalf("delivery %d: expected 200, got %d", n, rec.Code)
			}
		}

		count, err := f.plays.CountPlays(f.userID)
		if err != nil {
			t.Fatalf("failed to count plays: %v", err)
		}
		if count != 2 {
			t.Errorf("expected 2 plays after redelivery, got %d", count)
		}
	})

	t.Run("missing or forged signature is rejected", func(t *testing.T) {
		f := newServerFixture(t)
		jobID := submitJob(t, f)

		body, _ := json.Marshal(map[string]string{"job_id": jobID})

		rec := f.do(t, http.MethodPost, "/tasks/process-import", body, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401 without signature, got %d", rec.Code)
		}

		header := http.Header{}
		header.Set(TaskSignatureHeader, SignPayload("wrong-secret", body))
		rec = f.do(t, http.MethodPost, "/tasks/process-import", body, header)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401 for forged signature, got %d", rec.Code)
		}

		// Signature over a different body no longer verifies
		tampered := append([]byte{}, body...)
		tampered[len(tampered)-2] = 'X'
		rec = f.do(t, http.MethodPost, "/tasks/process-import", tampered, signedHeader(body))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401 for tampered body, got %d", rec.Code)
		}
	})

	t.Run("unknown job in signed payload", func(t *testing.T) {
		f := newServerFixture(t)

		body, _ := json.Marshal(map[string]string{"job_id": "missing"})
		rec := f.do(t, http.MethodPost, "/tasks/process-import", body, signedHeader(body))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

func TestPollEndpoints(t *testing.T) {
	recentItems := func(played ...string) func(context.Context, string, time.Time, int) ([]ingest.RecentlyPlayedItem, error) {
		return func(ctx context.Context, accessToken string, after time.Time, limit int) ([]ingest.RecentlyPlayedItem, error) {
			var items []ingest.RecentlyPlayedItem
			for n, at := range played {
				items = append(items, ingest.RecentlyPlayedItem{
					PlayedAt: at,
					Track: ingest.SpotifyTrack{
						ID:      fmt.Sprintf("t%d", n),
						Name:    "Song",
						Artists: []ingest.SpotifyArtist{{ID: "artist-1", Name: "The Band"}},
					},
				})
			}
			return items, nil
		}
	}

	t.Run("poll single user", func(t *testing.T) {
		f := newServerFixture(t)
		f.service.RecentlyPlayedFunc = recentItems("2024-03-15T21:00:00Z", "2024-03-15T22:00:00Z")

		rec := f.do(t, http.MethodPost, "/poll/user?id="+f.userID, nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if got := decodeBody[map[string]any](t, rec)["new_plays"].(float64); got != 2 {
			t.Errorf("expected 2 new plays, got %v", got)
		}

		rec = f.do(t, http.MethodPost, "/poll/user?id=missing", nil, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404 for unknown user, got %d", rec.Code)
		}

		rec = f.do(t, http.MethodPost, "/poll/user", nil, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 without id, got %d", rec.Code)
		}
	})

	t.Run("fleet run", func(t *testing.T) {
		f := newServerFixture(t)
		f.service.RecentlyPlayedFunc = recentItems("2024-03-15T21:00:00Z")

		if err := f.users.UpdateBackgroundTracking(f.userID, true); err != nil {
			t.Fatalf("failed to enable tracking: %v", err)
		}
		user, err := f.users.Get(f.userID)
		if err != nil {
			t.Fatalf("failed to get user: %v", err)
		}
		user.RestoreTokens("access", "refresh", time.Now().Add(time.Hour))
		if err := f.users.UpdateTokens(user); err != nil {
			t.Fatalf("failed to set tokens: %v", err)
		}

		rec := f.do(t, http.MethodPost, "/poll/run", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		report := decodeBody[map[string]any](t, rec)
		if got := report["total_new_plays"].(float64); got != 1 {
			t.Errorf("expected 1 new play, got %v", got)
		}
	})
}

func TestStatsEndpoints(t *testing.T) {
	seedPlay := func(t *testing.T, f *serverFixture, trackID string, playedAt time.Time) {
		t.Helper()
		play := models.NewPlay(0, f.userID, trackID, "Song", "The Band", playedAt, models.SourcePoll)
		play.SetArtistID("artist-1")
		if _, err := f.plays.Insert(play); err != nil {
			t.Fatalf("failed to insert play: %v", err)
		}
	}

	t.Run("artist history", func(t *testing.T) {
		f := newServerFixture(t)
		seedPlay(t, f, "t1", time.Now().UTC().Add(-time.Hour))

		rec := f.do(t, http.MethodGet, fmt.Sprintf("/stats/artist-history?user=%s&artist=artist-1", f.userID), nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !decodeBody[map[string]bool](t, rec)["has_history"] {
			t.Error("expected history for artist-1")
		}

		rec = f.do(t, http.MethodGet, fmt.Sprintf("/stats/artist-history?user=%s&artist=artist-2", f.userID), nil, nil)
		if decodeBody[map[string]bool](t, rec)["has_history"] {
			t.Error("expected no history for artist-2")
		}
	})

	t.Run("artist plays with range", func(t *testing.T) {
		f := newServerFixture(t)
		seedPlay(t, f, "t1", time.Now().UTC().Add(-time.Hour))
		seedPlay(t, f, "t2", time.Now().UTC().Add(-100*24*time.Hour))

		rec := f.do(t, http.MethodGet, fmt.Sprintf("/stats/artist-plays?user=%s&artist=artist-1&range=short_term", f.userID), nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if got := decodeBody[map[string]any](t, rec)["plays"].(float64); got != 1 {
			t.Errorf("expected 1 short-term play, got %v", got)
		}

		rec = f.do(t, http.MethodGet, fmt.Sprintf("/stats/artist-plays?user=%s&artist=artist-1", f.userID), nil, nil)
		if got := decodeBody[map[string]any](t, rec)["plays"].(float64); got != 2 {
			t.Errorf("expected 2 all-time plays, got %v", got)
		}

		rec = f.do(t, http.MethodGet, fmt.Sprintf("/stats/artist-plays?user=%s&artist=artist-1&range=bogus", f.userID), nil, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for unknown range, got %d", rec.Code)
		}
	})

	t.Run("top artists", func(t *testing.T) {
		f := newServerFixture(t)
		seedPlay(t, f, "t1", time.Now().UTC().Add(-time.Hour))
		seedPlay(t, f, "t2", time.Now().UTC().Add(-2*time.Hour))

		rec := f.do(t, http.MethodGet, "/stats/top-artists?user="+f.userID, nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		body := decodeBody[map[string]any](t, rec)
		artists := body["artists"].([]any)
		if len(artists) != 1 {
			t.Fatalf("expected 1 artist, got %d", len(artists))
		}
	})
}

func TestTrackingEndpoint(t *testing.T) {
	f := newServerFixture(t)

	body, _ := json.Marshal(map[string]any{"user_id": f.userID, "enabled": true})
	rec := f.do(t, http.MethodPost, "/users/tracking", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	user, err := f.users.Get(f.userID)
	if err != nil {
		t.Fatalf("failed to get user: %v", err)
	}
	if !user.BackgroundTracking() {
		t.Error("expected tracking enabled")
	}

	body, _ = json.Marshal(map[string]any{"user_id": "missing", "enabled": true})
	rec = f.do(t, http.MethodPost, "/users/tracking", body, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	router := NewBasicRouter()
	router.Use(RecoveryMiddleware(log.New(io.Discard)))
	router.Handle(http.MethodGet, "/boom", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 from recovered panic, got %d", rec.Code)
	}
}

func TestOAuthHandler(t *testing.T) {
	t.Run("valid callback delivers tokens once", func(t *testing.T) {
		service := &tu.MockService{}
		handler := NewOAuthHandler(service, "state-1")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?state=state-1&code=auth-code", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		result := <-handler.Result()
		if result.Error() != nil {
			t.Fatalf("expected success, got %v", result.Error())
		}
		if result.Tokens == nil || result.Tokens.AccessToken == "" {
			t.Error("expected token material in result")
		}

		// Replay is rejected
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?state=state-1&code=auth-code", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 on replay, got %d", rec.Code)
		}
	})

	t.Run("state mismatch", func(t *testing.T) {
		handler := NewOAuthHandler(&tu.MockService{}, "state-1")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?state=evil&code=auth-code", nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}

		result := <-handler.Result()
		if result.Error() == nil {
			t.Error("expected error result for bad state")
		}
	})

	t.Run("exchange failure", func(t *testing.T) {
		service := &tu.MockService{
			ExchangeFunc: func(ctx context.Context, code string) (*services.TokenSet, error) {
				return nil, fmt.Errorf("upstream rejected code")
			},
		}
		handler := NewOAuthHandler(service, "state-1")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?state=state-1&code=bad", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}

		result := <-handler.Result()
		if result.Error() == nil {
			t.Error("expected error result for failed exchange")
		}
	})
}
