package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/collectx/internal/auth"
	"github.com/desertthunder/collectx/internal/models"
	"github.com/desertthunder/collectx/internal/repositories"
	"github.com/desertthunder/collectx/internal/services"
	"github.com/desertthunder/collectx/internal/shared"
	"github.com/desertthunder/collectx/internal/tasks"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database, credential gate and engine are built on first use so that commands like
// `setup config` work before any of them exist.
type Runner struct {
	config     *shared.Config
	configPath string
	api        *services.APIService
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer

	db      *sql.DB
	gate    *auth.Gate
	history *repositories.JobHistory
	engine  *tasks.Engine
	sleep   func(ctx context.Context, d time.Duration) error
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	API        *services.APIService
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	DB         *sql.DB
	// Sleep replaces the poll and batch pacing waits; tests pass a no-op.
	Sleep func(ctx context.Context, d time.Duration) error
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
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Config.Backend.Timeout}
	}
	if opts.API == nil {
		opts.API = services.NewAPIService(opts.Config.Backend.BaseURL, opts.HTTPClient)
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		api:        opts.API,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		db:         opts.DB,
		sleep:      opts.Sleep,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, collectCommand, transcribeCommand, writeCommand, jobsCommand, apiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the logger used by the runner and anything it builds afterwards.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

// Close releases the database connection, if one was opened.
func (r *Runner) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

func (r *Runner) database() (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}
	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	r.db = db
	return db, nil
}

// credentials returns the gate for the configured scope. Tokens from the environment seed an empty store.
func (r *Runner) credentials(ctx context.Context) (*auth.Gate, error) {
	if r.gate != nil {
		return r.gate, nil
	}
	db, err := r.database()
	if err != nil {
		return nil, err
	}

	store := repositories.NewCredentialRepository(db, r.config.Auth.Scope)
	gate := auth.NewGate(auth.GateOpts{
		Store:     store,
		Refresher: auth.NewHTTPRefresher(r.api, r.config.Auth.RefreshPath),
		Margin:    r.config.Auth.RefreshMargin,
		Logger:    shared.WithLogger(r.logger, "scope", store.Scope()),
	})

	if access, refresh := shared.EnvTokens(); access != "" || refresh != "" {
		stored, err := store.Load(ctx)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			r.logger.Debug("seeding credentials from environment")
			if err := gate.Seed(ctx, &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"}); err != nil {
				return nil, err
			}
		}
	}

	r.gate = gate
	return gate, nil
}

func (r *Runner) jobHistory() (*repositories.JobHistory, error) {
	if r.history != nil {
		return r.history, nil
	}
	db, err := r.database()
	if err != nil {
		return nil, err
	}
	r.history = repositories.NewJobHistory(db)
	return r.history, nil
}

// tableAuthorizer authorizes table calls with the configured app access token, or with the backend
// credentials when none is set.
func (r *Runner) tableAuthorizer(gate *auth.Gate) services.Authorizer {
	if r.config.Bitable.AccessToken != "" {
		return services.StaticToken(r.config.Bitable.AccessToken)
	}
	return gate
}

func (r *Runner) target() (models.Target, error) {
	if !r.config.HasTable() {
		return models.Target{}, fmt.Errorf("%w: bitable.app_token and bitable.table_id are required to write results", shared.ErrMissingConfig)
	}
	return models.Target{AppToken: r.config.Bitable.AppToken, TableID: r.config.Bitable.TableID}, nil
}

// tasksEngine wires the backend clients, the table store and job history into a [tasks.Engine].
func (r *Runner) tasksEngine(ctx context.Context) (*tasks.Engine, error) {
	if r.engine != nil {
		return r.engine, nil
	}
	gate, err := r.credentials(ctx)
	if err != nil {
		return nil, err
	}
	history, err := r.jobHistory()
	if err != nil {
		return nil, err
	}

	clientOpts := services.ClientOpts{Logger: r.logger}
	clients := []tasks.TaskClient{
		services.NewCollectorService(r.api, gate, clientOpts),
		services.NewTranscriptionService(r.api, gate, clientOpts),
	}

	var store tasks.TableStore
	if r.config.HasTable() {
		tableAPI := services.NewAPIService(r.config.Bitable.BaseURL, r.httpClient)
		store = services.NewBitableService(tableAPI, r.tableAuthorizer(gate), clientOpts)
	}

	r.engine = tasks.NewEngine(clients, store, tasks.EngineOpts{
		Interval:          r.config.Polling.Interval,
		CollectTimeout:    r.config.Polling.CollectTimeout,
		TranscribeTimeout: r.config.Polling.TranscribeTimeout,
		MaxConcurrentJobs: r.config.Polling.MaxConcurrentJobs,
		Recorder:          history,
		Sleep:             r.sleep,
		Logger:            r.logger,
		Write: tasks.WriteOpts{
			BatchSize:  r.config.Bitable.BatchSize,
			BatchDelay: r.config.Bitable.BatchDelay,
		},
	})
	return r.engine, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
	if err != nil {
		return err
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

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
