package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/playlog/internal/repositories"
	"github.com/desertthunder/playlog/internal/services"
	"github.com/desertthunder/playlog/internal/shared"
	"github.com/desertthunder/playlog/internal/tasks"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config  *shared.Config
	service services.Service
	logger  *log.Logger
	output  io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config  *shared.Config
	Service services.Service
	Logger  *log.Logger
	Output  io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:  opts.Config,
		service: opts.Service,
		logger:  opts.Logger,
		output:  opts.Output,
	}
}

// store bundles an open database handle with the repositories built on it.
// Commands open a store for the duration of one action and close it on return.
type store struct {
	db    *sql.DB
	users *repositories.UserRepository
	plays *repositories.PlayRepository
	jobs  *repositories.ImportJobRepository
}

func (s *store) Close() error { return s.db.Close() }

func (r *Runner) openStore() (*store, error) {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	return &store{
		db:    db,
		users: repositories.NewUserRepository(db),
		plays: repositories.NewPlayRepository(db),
		jobs:  repositories.NewImportJobRepository(db),
	}, nil
}

func (r *Runner) importer(s *store) *tasks.Importer {
	staleness := time.Duration(r.config.Tasks.StalenessMinutes) * time.Minute
	return tasks.NewImporter(s.jobs, s.plays, s.users, staleness)
}

func (r *Runner) poller(s *store) *tasks.Poller {
	leeway := time.Duration(r.config.Poller.ExpiryLeeway) * time.Second
	return tasks.NewPoller(s.users, s.plays, r.service, leeway, r.config.Poller.FetchLimit)
}

func (r *Runner) fleet(s *store) *tasks.Fleet {
	limit := rate.Inf
	if r.config.Poller.PacingSeconds > 0 {
		limit = rate.Every(time.Duration(r.config.Poller.PacingSeconds * float64(time.Second)))
	}
	return tasks.NewFleet(s.users, r.poller(s), rate.NewLimiter(limit, 1), r.config.Poller.PageSize)
}

// progressSink returns a channel task methods can report into and a wait
// function the caller invokes after the task returns. Updates are logged at
// debug level so long imports stay quiet by default.
func (r *Runner) progressSink() (chan tasks.ProgressUpdate, func()) {
	updates := make(chan tasks.ProgressUpdate, 64)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for update := range updates {
			if update.Total > 0 {
				r.logger.Debug(update.Message, "phase", update.Phase.String(), "step", update.Step, "total", update.Total)
			} else {
				r.logger.Debug(update.Message, "phase", update.Phase.String())
			}
		}
	}()

	return updates, func() {
		close(updates)
		<-done
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, loginCommand, importCommand, pollCommand, statsCommand, trackingCommand, serveCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
