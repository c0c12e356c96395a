package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/playlog/internal/formatter"
	"github.com/desertthunder/playlog/internal/shared"
	"github.com/urfave/cli/v3"
)

// PollUser fetches recently played tracks for one user past their checkpoint.
func (r *Runner) PollUser(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")

	if r.service == nil {
		return fmt.Errorf("%w: Spotify client_id and client_secret must be set in config.toml", shared.ErrMissingCredentials)
	}

	s, err := r.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	progress, wait := r.progressSink()
	result, err := r.poller(s).Poll(ctx, userID, progress)
	wait()

	if err != nil {
		return fmt.Errorf("poll failed: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(result, true)
	}
	return r.writePlain("%s", formatter.PollResultText(result))
}

// PollFleet polls every user opted into background tracking, sequentially
// behind the configured pacing.
func (r *Runner) PollFleet(ctx context.Context, cmd *cli.Command) error {
	if r.service == nil {
		return fmt.Errorf("%w: Spotify client_id and client_secret must be set in config.toml", shared.ErrMissingCredentials)
	}

	s, err := r.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	progress, wait := r.progressSink()
	report, err := r.fleet(s).Run(ctx, progress)
	wait()

	if err != nil {
		return fmt.Errorf("fleet run failed: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(report, true)
	}
	return r.writePlain("%s", formatter.RunReportText(report))
}
