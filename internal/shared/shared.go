// package shared holds helpers used across the ingestion pipeline
package shared

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// NewLogger creates a [log.Logger] with timestamps and caller reporting
// enabled, shared by the CLI commands and the background poller.
//
// The writer defaults to [os.Stderr] so command output on stdout stays clean.
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := log.Options{ReportTimestamp: true, ReportCaller: true}
	return log.NewWithOptions(w, opts)
}

// WithLogger creates a child [log.Logger] with the specified key-value pairs
// added to all entries, typically a user or job id.
func WithLogger(l *log.Logger, kv ...any) *log.Logger {
	return l.With(kv...)
}

// SetLogLevel sets the [log.Level] for the given [log.Logger].
func SetLogLevel(l *log.Logger, ll log.Level) {
	l.SetLevel(ll)
}

// GenerateID generates a v4 [uuid.UUID] string, used for user, play, and
// import job primary keys.
func GenerateID() string {
	return uuid.New().String()
}
