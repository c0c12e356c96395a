package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/playlog/internal/ingest"
	"github.com/desertthunder/playlog/internal/repositories"
	"github.com/desertthunder/playlog/internal/services"
	"github.com/desertthunder/playlog/internal/shared"
)

// PollResult contains the outcome of polling one user.
type PollResult struct {
	UserID     string    `json:"user_id"`
	Fetched    int       `json:"fetched"`
	NewPlays   int       `json:"new_plays"`
	Skipped    int       `json:"skipped"`
	Checkpoint time.Time `json:"checkpoint"`
}

// Poller brings one user's stored plays up to date with the upstream
// recently-played feed: refresh credentials when needed, fetch past the
// checkpoint, store through the deduplication index, advance the checkpoint.
type Poller struct {
	users        *repositories.UserRepository
	plays        *repositories.PlayRepository
	service      services.Service
	expiryLeeway time.Duration
	fetchLimit   int
}

// NewPoller creates a Poller. The leeway treats tokens expiring soon as
// already expired so a fetch never starts with a token about to die.
func NewPoller(users *repositories.UserRepository, plays *repositories.PlayRepository, service services.Service, expiryLeeway time.Duration, fetchLimit int) *Poller {
	return &Poller{
		users:        users,
		plays:        plays,
		service:      service,
		expiryLeeway: expiryLeeway,
		fetchLimit:   fetchLimit,
	}
}

// Poll ingests new plays for one user. Returns the count of newly stored
// plays; the checkpoint only ever moves forward.
func (p *Poller) Poll(ctx context.Context, userID string, progress chan<- ProgressUpdate) (*PollResult, error) {
	user, err := p.users.Get(userID)
	if err != nil {
		return nil, err
	}

	// A zero checkpoint recovers from the newest stored play, so a user
	// whose checkpoint was lost does not refetch their whole history.
	if user.LastCheckpoint().IsZero() {
		recovered, err := p.plays.MaxPlayedAt(userID)
		if err != nil {
			return nil, err
		}
		if !recovered.IsZero() {
			user.SetCheckpoint(recovered)
		}
	}

	now := time.Now().UTC()
	if user.TokenExpired(now, p.expiryLeeway) {
		sendProgress(progress, refreshTokenUpdate(userID))

		set, err := p.service.Refresh(ctx, user.RefreshToken())
		if err != nil {
			return nil, err
		}
		if err := user.SetTokens(set.AccessToken, set.RefreshToken, set.Expiry); err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrTokenRefreshFailed, err)
		}
		if err := p.users.UpdateTokens(user); err != nil {
			return nil, err
		}
	}

	sendProgress(progress, fetchRecentUpdate(userID))

	items, err := p.service.RecentlyPlayed(ctx, user.AccessToken(), user.LastCheckpoint(), p.fetchLimit)
	if err != nil {
		return nil, err
	}

	result := &PollResult{UserID: userID, Fetched: len(items)}
	newest := user.LastCheckpoint()

	for _, item := range items {
		play, err := ingest.Normalize(userID, item)
		if err != nil {
			if errors.Is(err, shared.ErrMalformedEvent) {
				result.Skipped++
				continue
			}
			return nil, err
		}

		inserted, err := p.plays.Insert(play)
		if err != nil {
			return nil, err
		}
		if inserted {
			result.NewPlays++
		}
		if play.PlayedAt().After(newest) {
			newest = play.PlayedAt()
		}
	}

	if user.AdvanceCheckpoint(newest) {
		if err := p.users.UpdateCheckpoint(user); err != nil {
			return nil, err
		}
	}
	result.Checkpoint = user.LastCheckpoint()

	// A completed fetch is a recent-played import, so the first one flips
	// the user's initial-import flag. Best effort, like the bulk path.
	if user.MarkInitialImport() {
		_ = p.users.Update(user)
	}

	sendProgress(progress, storePlaysUpdate(userID, result.NewPlays, result.Fetched))

	return result, nil
}
