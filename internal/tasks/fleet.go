package tasks

import (
	"context"

	"github.com/desertthunder/playlog/internal/repositories"
	"golang.org/x/time/rate"
)

// PollSuccess records one user's successful poll within a fleet run.
type PollSuccess struct {
	UserID   string `json:"user_id"`
	NewPlays int    `json:"new_plays"`
}

// PollFailure records one user's failed poll within a fleet run.
type PollFailure struct {
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

// RunReport summarizes one fleet run across all polled users.
type RunReport struct {
	Successes     []PollSuccess `json:"successes"`
	Failures      []PollFailure `json:"failures"`
	TotalNewPlays int           `json:"total_new_plays"`
}

// Fleet runs the poller across every user opted into background tracking.
// Users are polled sequentially behind a rate limiter; the pacing is the
// throttle that keeps the whole fleet inside the upstream per-application
// rate limit, so it must not be parallelized away.
type Fleet struct {
	users    *repositories.UserRepository
	poller   *Poller
	limiter  *rate.Limiter
	pageSize int
}

// NewFleet creates a Fleet that polls at most pageSize users per run, waiting
// on the limiter between users.
func NewFleet(users *repositories.UserRepository, poller *Poller, limiter *rate.Limiter, pageSize int) *Fleet {
	return &Fleet{
		users:    users,
		poller:   poller,
		limiter:  limiter,
		pageSize: pageSize,
	}
}

// Run polls one page of eligible users. A per-user failure lands in the
// report's failure list and the run continues; only a storage error listing
// the page, or context cancellation, aborts the run itself.
func (f *Fleet) Run(ctx context.Context, progress chan<- ProgressUpdate) (*RunReport, error) {
	eligible, err := f.users.ListBackgroundTracking(f.pageSize)
	if err != nil {
		return nil, err
	}

	report := &RunReport{}
	total := len(eligible)

	for n, user := range eligible {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return report, err
			}
		}

		sendProgress(progress, fleetUserUpdate(n+1, total, user.ID()))

		result, err := f.poller.Poll(ctx, user.ID(), progress)
		if err != nil {
			report.Failures = append(report.Failures, PollFailure{
				UserID: user.ID(),
				Error:  err.Error(),
			})
			continue
		}

		report.Successes = append(report.Successes, PollSuccess{
			UserID:   user.ID(),
			NewPlays: result.NewPlays,
		})
		report.TotalNewPlays += result.NewPlays
	}

	sendProgress(progress, fleetDoneUpdate(report))

	return report, nil
}
