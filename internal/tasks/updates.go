package tasks

import "fmt"

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or server layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	ClaimJob Phase = iota
	ProcessBatch
	CompleteJob
	RefreshToken
	FetchRecent
	StorePlays
	PollFleet
)

func (p Phase) String() string {
	switch p {
	case ClaimJob:
		return "claim_job"
	case ProcessBatch:
		return "process_batch"
	case CompleteJob:
		return "complete_job"
	case RefreshToken:
		return "refresh_token"
	case FetchRecent:
		return "fetch_recent"
	case StorePlays:
		return "store_plays"
	case PollFleet:
		return "poll_fleet"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
		// Sent successfully
	default:
		// Channel full or closed, skip this update
	}
}

func claimJobUpdate(jobID string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ClaimJob,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Claiming import job %s...", jobID),
	}
}

func processBatchUpdate(step, total int, trackName string) ProgressUpdate {
	if trackName == "" {
		return ProgressUpdate{
			Phase:   ProcessBatch,
			Step:    step,
			Total:   total,
			Message: fmt.Sprintf("[%d/%d] skipped malformed event", step, total),
		}
	}
	return ProgressUpdate{
		Phase:   ProcessBatch,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s", step, total, trackName),
	}
}

func completeJobUpdate(jobID string, inserted int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   CompleteJob,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Import %s completed (%d new plays)", jobID, inserted),
	}
}

func refreshTokenUpdate(userID string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RefreshToken,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Refreshing access token for %s...", userID),
	}
}

func fetchRecentUpdate(userID string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchRecent,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Fetching recently played for %s...", userID),
	}
}

func storePlaysUpdate(userID string, newPlays, fetched int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   StorePlays,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Stored %d of %d fetched plays for %s", newPlays, fetched, userID),
	}
}

func fleetUserUpdate(step, total int, userID string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PollFleet,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] polling %s", step, total, userID),
	}
}

func fleetDoneUpdate(report *RunReport) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PollFleet,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Fleet run: %d ok, %d failed, %d new plays", len(report.Successes), len(report.Failures), report.TotalNewPlays),
		Data:    report,
	}
}
