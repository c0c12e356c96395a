package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/playlog/internal/repositories"
	"github.com/desertthunder/playlog/internal/shared"
	"github.com/desertthunder/playlog/internal/tasks"
)

// maxImportBody bounds how large a submitted raw batch may be (16 MiB).
const maxImportBody = 16 << 20

// timeNow is swapped in tests that pin range boundaries
var timeNow = func() time.Time { return time.Now().UTC() }

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps the shared error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrInvalidPayload), errors.Is(err, shared.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrUserNotFound), errors.Is(err, shared.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrTokenRefreshFailed):
		return http.StatusConflict
	case errors.Is(err, shared.ErrUpstream), errors.Is(err, shared.ErrTimeout):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ImportHandler serves import submission and status queries.
type ImportHandler struct {
	importer *tasks.Importer
	logger   *log.Logger
}

func NewImportHandler(importer *tasks.Importer, logger *log.Logger) *ImportHandler {
	return &ImportHandler{importer: importer, logger: logger}
}

func (h *ImportHandler) Routes() []string {
	return []string{"POST /imports", "GET /imports/status"}
}

func (h *ImportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		h.status(w, r)
		return
	}
	h.submit(w, r)
}

type submitRequest struct {
	UserID   string          `json:"user_id"`
	FileName string          `json:"file_name"`
	Events   json.RawMessage `json:"events"`
}

func (h *ImportHandler) submit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req submitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	jobID, err := h.importer.Submit(r.Context(), req.UserID, req.FileName, req.Events)
	if err != nil {
		h.logger.Warn("import submission rejected", "user", req.UserID, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	h.logger.Info("import submitted", "user", req.UserID, "job", jobID)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (h *ImportHandler) status(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	report, err := h.importer.Status(r.Context(), jobID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// TaskHandler receives at-least-once task deliveries that trigger import
// processing. The raw body is authenticated against the shared secret before
// the payload is trusted.
type TaskHandler struct {
	importer *tasks.Importer
	secret   string
	logger   *log.Logger
}

func NewTaskHandler(importer *tasks.Importer, secret string, logger *log.Logger) *TaskHandler {
	return &TaskHandler{importer: importer, secret: secret, logger: logger}
}

func (h *TaskHandler) Routes() []string {
	return []string{"POST /tasks/process-import"}
}

type taskPayload struct {
	JobID string `json:"job_id"`
}

func (h *TaskHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if !VerifySignature(h.secret, body, r.Header.Get(TaskSignatureHeader)) {
		h.logger.Warn("task delivery with bad signature")
		writeError(w, http.StatusUnauthorized, "invalid task signature")
		return
	}

	var payload taskPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.JobID == "" {
		writeError(w, http.StatusBadRequest, "payload must carry a job_id")
		return
	}

	result, err := h.importer.Process(r.Context(), payload.JobID, nil)
	if err != nil {
		if result == nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		// The job already moved to failed: redelivery would be a no-op, so
		// acknowledge with the terminal result instead of provoking a retry.
		h.logger.Error("import processing failed", "job", payload.JobID, "error", err)
	}

	writeJSON(w, http.StatusOK, result)
}

// PollHandler serves single-user and fleet poll triggers.
type PollHandler struct {
	poller *tasks.Poller
	fleet  *tasks.Fleet
	logger *log.Logger
}

func NewPollHandler(poller *tasks.Poller, fleet *tasks.Fleet, logger *log.Logger) *PollHandler {
	return &PollHandler{poller: poller, fleet: fleet, logger: logger}
}

func (h *PollHandler) Routes() []string {
	return []string{"POST /poll/run", "POST /poll/user"}
}

func (h *PollHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/poll/run" {
		h.runFleet(w, r)
		return
	}
	h.pollUser(w, r)
}

func (h *PollHandler) runFleet(w http.ResponseWriter, r *http.Request) {
	report, err := h.fleet.Run(r.Context(), nil)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	h.logger.Info("fleet run finished",
		"successes", len(report.Successes),
		"failures", len(report.Failures),
		"new_plays", report.TotalNewPlays,
	)
	writeJSON(w, http.StatusOK, report)
}

func (h *PollHandler) pollUser(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	result, err := h.poller.Poll(r.Context(), userID, nil)
	if err != nil {
		h.logger.Warn("poll failed", "user", userID, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// StatsHandler serves listening-history questions over stored plays.
type StatsHandler struct {
	plays *repositories.PlayRepository
}

func NewStatsHandler(plays *repositories.PlayRepository) *StatsHandler {
	return &StatsHandler{plays: plays}
}

func (h *StatsHandler) Routes() []string {
	return []string{
		"GET /stats/artist-history",
		"GET /stats/artist-plays",
		"GET /stats/top-artists",
	}
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/stats/artist-history":
		h.artistHistory(w, r)
	case "/stats/artist-plays":
		h.artistPlays(w, r)
	default:
		h.topArtists(w, r)
	}
}

func (h *StatsHandler) artistHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	artistID := r.URL.Query().Get("artist")
	if userID == "" || artistID == "" {
		writeError(w, http.StatusBadRequest, "user and artist are required")
		return
	}

	has, err := h.plays.HasArtistHistory(userID, artistID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"has_history": has})
}

func (h *StatsHandler) artistPlays(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	selector := repositories.ArtistSelector{
		ID:   r.URL.Query().Get("artist"),
		Name: r.URL.Query().Get("artist_name"),
	}
	if userID == "" || (selector.ID == "" && selector.Name == "") {
		writeError(w, http.StatusBadRequest, "user and an artist selector are required")
		return
	}

	rng, err := shared.ParseTimeRange(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	count, err := h.plays.CountArtistPlays(userID, selector, rng, timeNow())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"plays": count, "range": string(rng)})
}

func (h *StatsHandler) topArtists(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	rng, err := shared.ParseTimeRange(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	top, err := h.plays.TopArtists(userID, rng, timeNow(), 0)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"artists": top, "range": string(rng)})
}

// TrackingHandler toggles a user's background-tracking flag.
type TrackingHandler struct {
	users  *repositories.UserRepository
	logger *log.Logger
}

func NewTrackingHandler(users *repositories.UserRepository, logger *log.Logger) *TrackingHandler {
	return &TrackingHandler{users: users, logger: logger}
}

func (h *TrackingHandler) Routes() []string {
	return []string{"POST /users/tracking"}
}

type trackingRequest struct {
	UserID  string `json:"user_id"`
	Enabled bool   `json:"enabled"`
}

func (h *TrackingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req trackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := h.users.UpdateBackgroundTracking(req.UserID, req.Enabled); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	h.logger.Info("background tracking updated", "user", req.UserID, "enabled", req.Enabled)
	writeJSON(w, http.StatusOK, map[string]any{"user_id": req.UserID, "enabled": req.Enabled})
}
