// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// setupCommand handles setup operations for configuration and the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "Write a config.toml from the built-in template",
				Description: "Secrets can be kept out of the file. These environment variables (or a .env file) " +
					"override it: COLLECTX_BASE_URL, COLLECTX_ACCESS_TOKEN, COLLECTX_REFRESH_TOKEN, COLLECTX_LOG_LEVEL, " +
					"COLLECTX_DB_PATH, BITABLE_BASE_URL, BITABLE_APP_TOKEN, BITABLE_TABLE_ID, BITABLE_ACCESS_TOKEN.",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing file",
					},
				},
				Action: r.SetupConfig,
			},
			{
				Name:  "database",
				Usage: "Initialize database and run migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Roll back the latest migration instead",
					},
				},
				Action: r.SetupDatabase,
			},
		},
	}
}

// authCommand handles backend credentials.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage backend credentials",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Store an access/refresh token pair",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "access-token",
						Usage: "Access token issued by the backend",
					},
					&cli.StringFlag{
						Name:  "refresh-token",
						Usage: "Refresh token issued by the backend",
					},
					&cli.DurationFlag{
						Name:  "expires-in",
						Usage: "Lifetime of the access token (0 when unknown)",
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:  "status",
				Usage: "Show the stored credentials",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.AuthStatus,
			},
			{
				Name:   "refresh",
				Usage:  "Exchange the refresh token for a new pair",
				Action: r.AuthRefresh,
			},
			{
				Name:   "logout",
				Usage:  "Remove the stored credentials",
				Action: r.AuthLogout,
			},
		},
	}
}

func collectFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:     "url",
			Aliases:  []string{"u"},
			Usage:    "Share or profile URL (repeatable)",
			Required: true,
		},
		&cli.StringSliceFlag{
			Name:  "field",
			Usage: "Payload field to collect and write (repeatable, default all)",
		},
		&cli.BoolFlag{
			Name:  "with-transcription",
			Usage: "Transcribe each collected video",
		},
		&cli.BoolFlag{
			Name:  "each",
			Usage: "Submit one job per URL and run them concurrently",
		},
		&cli.BoolFlag{
			Name:  "tui",
			Usage: "Show progress in an interactive view",
		},
		&cli.BoolFlag{
			Name:  "write",
			Usage: "Write the results to the configured table",
		},
		&cli.BoolFlag{
			Name:  "skip-existing",
			Usage: "With --write, leave out videos whose id is already in the table",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output the results as JSON",
		},
	}
}

// collectCommand submits collection jobs.
func collectCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "collect",
		Usage: "Collect video metadata",
		Commands: []*cli.Command{
			{
				Name:   "video",
				Usage:  "Collect individual videos",
				Flags:  collectFlags(),
				Action: r.CollectVideo,
			},
			{
				Name:  "author",
				Usage: "Collect an author's videos",
				Flags: append(collectFlags(), &cli.IntFlag{
					Name:  "max-videos",
					Usage: "Maximum videos per author",
				}),
				Action: r.CollectAuthor,
			},
			{
				Name:   "transcribe",
				Usage:  "Collect videos and transcribe them",
				Flags:  collectFlags(),
				Action: r.CollectTranscribe,
			},
		},
	}
}

// transcribeCommand transcribes videos into existing table records.
func transcribeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "transcribe",
		Usage: "Transcribe videos and update their table records",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "video-id",
				Usage:    "Video id or URL to transcribe (repeatable)",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "record-id",
				Usage: "Table record id paired with each --video-id, in order",
			},
			&cli.StringFlag{
				Name:  "strategy",
				Usage: "Backend transcription strategy",
			},
			&cli.BoolFlag{
				Name:  "tui",
				Usage: "Show progress in an interactive view",
			},
			&cli.BoolFlag{
				Name:  "write",
				Usage: "Update the paired table records with the transcriptions",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output the results as JSON",
			},
		},
		Action: r.Transcribe,
	}
}

// writeCommand replays stored results into the table.
func writeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "write",
		Usage: "Write a finished job's stored results to the table",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "job",
				Usage:    "Job id, sequence number or backend task id",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "field",
				Usage: "Payload field to write (repeatable, default all)",
			},
			&cli.BoolFlag{
				Name:  "skip-existing",
				Usage: "Leave out videos whose id is already in the table",
			},
		},
		Action: r.WriteJob,
	}
}

// jobsCommand inspects job history.
func jobsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "Inspect job history",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recent jobs",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "kind",
						Usage: "Only jobs of this kind (collect or transcribe)",
					},
					&cli.StringFlag{
						Name:  "outcome",
						Usage: "Only jobs with this outcome",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of jobs to show",
						Value: 20,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.JobsList,
			},
			{
				Name:  "show",
				Usage: "Show one job and its results",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "id",
					},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.JobsShow,
			},
			{
				Name:  "export",
				Usage: "Export a job's stored results to CSV, Markdown or text",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "id",
					},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "csv, md or txt",
						Value:   "csv",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
					},
					&cli.StringSliceFlag{
						Name:  "field",
						Usage: "Payload field to export (repeatable, default all)",
					},
				},
				Action: r.JobsExport,
			},
			{
				Name:  "resume",
				Usage: "Continue polling a job that timed out or was cancelled",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "id",
					},
				},
				Action: r.JobsResume,
			},
		},
	}
}

// apiCommand handles raw authorized backend calls
func apiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Direct authorized calls to the task backend",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Direct GET, prints raw JSON",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "path",
					},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output compact JSON",
					},
				},
				Action: r.APIGet,
			},
			{
				Name:  "post",
				Usage: "Direct POST with JSON body",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "path",
					},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "JSON body to send",
						Required: true,
					},
				},
				Action: r.APIPost,
			},
		},
	}
}
