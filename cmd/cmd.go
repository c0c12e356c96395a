// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// setupCommand handles setup operations for database and configuration.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:  "database",
				Usage: "Initialize database and run migrations",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to configuration file",
						Value:   "config.toml",
					},
				},
				Action: r.SetupDatabase,
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the most recent database migration",
				Action: r.SetupRollback,
			},
		},
	}
}

// loginCommand handles Spotify OAuth authentication.
func loginCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Authenticate with Spotify and register the account locally",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "track",
				Usage: "Enable background tracking for the account",
			},
		},
		Action: r.Login,
	}
}

// importCommand handles listening-history import jobs.
func importCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import listening history from an export file",
		Commands: []*cli.Command{
			{
				Name:  "submit",
				Usage: "Submit an export file as a pending import job",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "user",
						Usage:    "User ID to import into",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "process",
						Usage: "Process the job immediately after submission",
					},
				},
				Action: r.ImportSubmit,
			},
			{
				Name:  "process",
				Usage: "Process a pending or stale import job",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Import job ID",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.ImportProcess,
			},
			{
				Name:  "status",
				Usage: "Show progress for an import job",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Import job ID",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.ImportStatus,
			},
		},
	}
}

// pollCommand handles recently-played polling.
func pollCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "poll",
		Usage: "Poll Spotify for recently played tracks",
		Commands: []*cli.Command{
			{
				Name:  "user",
				Usage: "Poll a single user past their checkpoint",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "user",
						Usage:    "User ID to poll",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.PollUser,
			},
			{
				Name:  "fleet",
				Usage: "Poll every user opted into background tracking",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.PollFleet,
			},
		},
	}
}

// statsCommand handles listening statistics queries.
func statsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Listening statistics",
		Commands: []*cli.Command{
			{
				Name:  "top-artists",
				Usage: "Show the most played artists in a time range",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "user",
						Usage:    "User ID",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "range",
						Usage: "Time range (short_term, medium_term, long_term, all_time)",
						Value: "short_term",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of artists to show",
						Value: 10,
					},
					&cli.BoolFlag{
						Name:  "enrich",
						Usage: "Fetch genres for each artist from Spotify",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.StatsTopArtists,
			},
			{
				Name:  "artist",
				Usage: "Count plays for one artist in a time range",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "user",
						Usage:    "User ID",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "id",
						Usage: "Artist ID",
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "Artist name, matches plays without an artist ID",
					},
					&cli.StringFlag{
						Name:  "range",
						Usage: "Time range (short_term, medium_term, long_term, all_time)",
						Value: "short_term",
					},
				},
				Action: r.StatsArtist,
			},
			{
				Name:  "history",
				Usage: "Check whether a user has any plays for an artist",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "user",
						Usage:    "User ID",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Artist ID",
						Required: true,
					},
				},
				Action: r.StatsHistory,
			},
			{
				Name:  "export",
				Usage: "Export a user's play history to CSV",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "user",
						Usage:    "User ID",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Base path for the output file",
					},
				},
				Action: r.StatsExport,
			},
		},
	}
}

// trackingCommand toggles background polling for a user.
func trackingCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tracking",
		Usage: "Manage background tracking",
		Commands: []*cli.Command{
			{
				Name:  "enable",
				Usage: "Opt a user into background polling",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "user",
						Usage:    "User ID",
						Required: true,
					},
				},
				Action: r.TrackingEnable,
			},
			{
				Name:  "disable",
				Usage: "Opt a user out of background polling",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "user",
						Usage:    "User ID",
						Required: true,
					},
				},
				Action: r.TrackingDisable,
			},
		},
	}
}

// serveCommand starts the HTTP API server.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to bind, overrides config",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to bind, overrides config",
			},
		},
		Action: r.Serve,
	}
}
