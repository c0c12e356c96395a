package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/playlog/internal/formatter"
	"github.com/desertthunder/playlog/internal/shared"
	"github.com/desertthunder/playlog/internal/tasks"
	"github.com/urfave/cli/v3"
)

// ImportSubmit reads an export file and records it as a pending import job.
func (r *Runner) ImportSubmit(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	userID := cmd.String("user")

	if path == "" {
		return fmt.Errorf("%w: path to an export file is required", shared.ErrMissingArgument)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read export file: %w", err)
	}

	s, err := r.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	importer := r.importer(s)

	jobID, err := importer.Submit(ctx, userID, path, data)
	if err != nil {
		return fmt.Errorf("failed to submit import: %w", err)
	}

	r.logger.Info("import job submitted", "job_id", jobID, "file", path)
	r.writePlain("Job submitted: %s\n", jobID)

	if !cmd.Bool("process") {
		r.writePlain("Run 'playlog import process --id %s' to start it.\n", jobID)
		return nil
	}

	return r.processJob(ctx, importer, jobID, false)
}

// ImportProcess claims and processes an import job to completion.
func (r *Runner) ImportProcess(ctx context.Context, cmd *cli.Command) error {
	jobID := cmd.String("id")

	s, err := r.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	return r.processJob(ctx, r.importer(s), jobID, cmd.Bool("json"))
}

func (r *Runner) processJob(ctx context.Context, importer *tasks.Importer, jobID string, useJSON bool) error {
	progress, wait := r.progressSink()
	result, err := importer.Process(ctx, jobID, progress)
	wait()

	if err != nil {
		if result != nil {
			r.logger.Error("import failed", "job_id", jobID, "status", result.Status)
		}
		return fmt.Errorf("failed to process import: %w", err)
	}

	if useJSON {
		return r.writeJSON(result, true)
	}
	return r.writePlain("%s", formatter.ImportResultText(result))
}

// ImportStatus reports progress for an import job.
func (r *Runner) ImportStatus(ctx context.Context, cmd *cli.Command) error {
	jobID := cmd.String("id")

	s, err := r.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := r.importer(s).Status(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to fetch job status: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(report, true)
	}
	return r.writePlain("%s", formatter.JobStatusText(report))
}
