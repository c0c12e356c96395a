// package formatter renders listening history and task reports to various formats (CSV, plain text, JSON)
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/desertthunder/playlog/internal/models"
	"github.com/desertthunder/playlog/internal/repositories"
	"github.com/desertthunder/playlog/internal/tasks"
)

// ToJSON marshals any report type to indented JSON for terminal output.
func ToJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// PlaysToCSV converts stored plays to CSV format with columns: TrackID, Track, Artist, AlbumID, PlayedAt, Source
func PlaysToCSV(plays []*models.Play) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"TrackID", "Track", "Artist", "AlbumID", "PlayedAt", "Source"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, play := range plays {
		record := []string{
			play.TrackID(),
			play.TrackName(),
			play.ArtistName(),
			play.AlbumID(),
			play.PlayedAt().UTC().Format(time.RFC3339),
			string(play.Source()),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// WritePlaysCSV writes a user's play history to {base}_plays.csv.
//
// Defaults to the user ID as the base filename.
func WritePlaysCSV(userID string, plays []*models.Play, baseFilepath string) (string, error) {
	if baseFilepath == "" {
		baseFilepath = userID
	}

	csvData, err := PlaysToCSV(plays)
	if err != nil {
		return "", fmt.Errorf("failed to generate CSV: %w", err)
	}

	playsFile := baseFilepath + "_plays.csv"
	if err := os.WriteFile(playsFile, csvData, 0644); err != nil {
		return "", fmt.Errorf("failed to write CSV file: %w", err)
	}

	return playsFile, nil
}

// PlaysToText converts stored plays to plain text, newest last.
func PlaysToText(plays []*models.Play) []byte {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Plays: %d\n\n", len(plays)))
	for i, play := range plays {
		buf.WriteString(fmt.Sprintf("%d. %s - %s [%s]\n",
			i+1, play.ArtistName(), play.TrackName(),
			play.PlayedAt().UTC().Format("2006-01-02 15:04:05")))
	}

	return buf.Bytes()
}

// ImportResultText renders the outcome of one import-job processing run.
func ImportResultText(result *tasks.ImportResult) []byte {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Job: %s\n", result.JobID))
	buf.WriteString(fmt.Sprintf("Status: %s\n", result.Status))
	buf.WriteString(fmt.Sprintf("Inserted: %d\n", result.Inserted))
	buf.WriteString(fmt.Sprintf("Duplicates: %d\n", result.Duplicates))
	buf.WriteString(fmt.Sprintf("Skipped: %d\n", result.Skipped))

	return buf.Bytes()
}

// JobStatusText renders an import job's progress for terminal display.
func JobStatusText(report *tasks.JobStatusReport) []byte {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Job: %s\n", report.JobID))
	buf.WriteString(fmt.Sprintf("Status: %s\n", report.Status))
	buf.WriteString(fmt.Sprintf("Progress: %d/%d (%.1f%%)\n",
		report.ProcessedTracks, report.TotalTracks, report.PercentComplete))
	if report.EstimatedLeft != nil {
		buf.WriteString(fmt.Sprintf("Estimated remaining: %s\n", report.EstimatedLeft.Round(time.Second)))
	}
	if report.ErrorMessage != "" {
		buf.WriteString(fmt.Sprintf("Error: %s\n", report.ErrorMessage))
	}

	return buf.Bytes()
}

// PollResultText renders a single user's poll outcome.
func PollResultText(result *tasks.PollResult) []byte {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("User: %s\n", result.UserID))
	buf.WriteString(fmt.Sprintf("Fetched: %d\n", result.Fetched))
	buf.WriteString(fmt.Sprintf("New plays: %d\n", result.NewPlays))
	if result.Skipped > 0 {
		buf.WriteString(fmt.Sprintf("Skipped: %d\n", result.Skipped))
	}
	if !result.Checkpoint.IsZero() {
		buf.WriteString(fmt.Sprintf("Checkpoint: %s\n", result.Checkpoint.UTC().Format(time.RFC3339)))
	}

	return buf.Bytes()
}

// RunReportText renders a fleet run summary, listing failures per user.
func RunReportText(report *tasks.RunReport) []byte {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Polled: %d succeeded, %d failed\n",
		len(report.Successes), len(report.Failures)))
	buf.WriteString(fmt.Sprintf("New plays: %d\n", report.TotalNewPlays))

	if len(report.Failures) > 0 {
		buf.WriteString("\nFailures:\n")
		for _, failure := range report.Failures {
			buf.WriteString(fmt.Sprintf("  %s: %s\n", failure.UserID, failure.Error))
		}
	}

	return buf.Bytes()
}

// TopArtistsText renders a ranked artist listing for a time range.
func TopArtistsText(artists []repositories.ArtistCount, rangeLabel string) []byte {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Top artists (%s)\n\n", rangeLabel))
	if len(artists) == 0 {
		buf.WriteString("No plays recorded in this range.\n")
		return buf.Bytes()
	}

	for i, artist := range artists {
		buf.WriteString(fmt.Sprintf("%d. %s (%d plays)\n", i+1, artist.ArtistName, artist.Plays))
	}

	return buf.Bytes()
}
