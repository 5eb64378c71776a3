package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/collectx/internal/models"
	"github.com/desertthunder/collectx/internal/shared"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrentJobs bounds [Engine.RunAll] when no limit is configured.
const DefaultMaxConcurrentJobs = 3

// JobRecorder persists job progress. Errors are logged and never stop polling.
//
// repositories.JobHistory is the sqlite implementation.
type JobRecorder interface {
	RecordSubmitted(ctx context.Context, job models.Job) error
	RecordItems(ctx context.Context, job models.Job, items []models.ResultItem) error
	RecordFinished(ctx context.Context, job models.Job, outcome models.JobOutcome, completed, total int, errMsg string) error
}

// EngineOpts configures an [Engine].
type EngineOpts struct {
	Interval          time.Duration
	CollectTimeout    time.Duration
	TranscribeTimeout time.Duration
	MaxConcurrentJobs int
	Recorder          JobRecorder
	Write             WriteOpts
	Now               func() time.Time
	Sleep             func(ctx context.Context, d time.Duration) error
	Logger            *log.Logger
}

// Engine submits jobs, polls them to completion and writes their results back to a table.
type Engine struct {
	clients map[models.JobKind]TaskClient
	writer  *WriteBackEngine
	opts    EngineOpts
}

// NewEngine creates an engine with one client per job kind. store may be nil when nothing is written back.
func NewEngine(clients []TaskClient, store TableStore, opts EngineOpts) *Engine {
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = DefaultMaxConcurrentJobs
	}
	if opts.Write.Logger == nil {
		opts.Write.Logger = opts.Logger
	}
	if opts.Write.Now == nil {
		opts.Write.Now = opts.Now
	}

	e := &Engine{clients: make(map[models.JobKind]TaskClient, len(clients)), opts: opts}
	for _, c := range clients {
		e.clients[c.Kind()] = c
	}
	if store != nil {
		e.writer = NewWriteBackEngine(store, opts.Write)
	}
	return e
}

// Writer returns the write-back engine, or nil when the engine has no table store.
func (e *Engine) Writer() *WriteBackEngine { return e.writer }

func (e *Engine) loop(kind models.JobKind) (*PollLoop, error) {
	client, ok := e.clients[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no client for %q jobs", shared.ErrServiceUnavailable, kind)
	}
	timeout := e.opts.CollectTimeout
	if kind == models.KindTranscribe {
		timeout = e.opts.TranscribeTimeout
	}
	return NewPollLoop(client, PollOpts{
		Interval: e.opts.Interval,
		Timeout:  timeout,
		Now:      e.opts.Now,
		Sleep:    e.opts.Sleep,
		Logger:   e.opts.Logger,
	}), nil
}

// SubmitAndPoll submits spec with the client for its kind and polls it to a terminal state.
//
// Results and errors follow [PollLoop.Poll]. When a recorder is configured the job, each accepted batch and
// the final outcome are persisted.
func (e *Engine) SubmitAndPoll(ctx context.Context, spec models.JobSpec, obs Observer) (*PollResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	loop, err := e.loop(spec.Kind)
	if err != nil {
		return nil, err
	}

	job, err := loop.Submit(ctx, spec)
	if err != nil {
		if ctx.Err() != nil {
			return &PollResult{Outcome: models.JobCancelled}, nil
		}
		return nil, err
	}
	return e.poll(ctx, loop, job, obs)
}

// Resume polls a job that was submitted earlier.
func (e *Engine) Resume(ctx context.Context, job models.Job, obs Observer) (*PollResult, error) {
	loop, err := e.loop(job.Kind)
	if err != nil {
		return nil, err
	}
	return e.poll(ctx, loop, job, obs)
}

func (e *Engine) poll(ctx context.Context, loop *PollLoop, job models.Job, obs Observer) (*PollResult, error) {
	rec := e.opts.Recorder
	if rec == nil {
		return loop.Poll(ctx, job, obs)
	}

	logger := shared.WithLogger(e.opts.Logger, "job", job.ID)
	store := context.WithoutCancel(ctx)
	if err := rec.RecordSubmitted(store, job); err != nil {
		logger.Error("failed to record submitted job", "error", err)
	}

	recording := ObserverFunc(func(u ProgressUpdate) {
		if len(u.NewlyAccepted) == 0 {
			return
		}
		if err := rec.RecordItems(store, job, u.NewlyAccepted); err != nil {
			logger.Error("failed to record results", "error", err)
		}
	})

	res, err := loop.Poll(ctx, job, multiObserver{recording, obs})
	if res != nil {
		if recErr := rec.RecordFinished(store, job, res.Outcome, res.Completed, res.Total, res.TerminalError); recErr != nil {
			logger.Error("failed to record job outcome", "error", recErr)
		}
	}
	return res, err
}

// WriteResults ensures labels exist on target and inserts one record per item.
func (e *Engine) WriteResults(ctx context.Context, target models.Target, items []models.ResultItem, labels map[string]string) (*models.WriteReport, error) {
	if e.writer == nil {
		return nil, fmt.Errorf("%w: no table store configured", shared.ErrServiceUnavailable)
	}
	fieldMap, err := e.writer.EnsureSchema(ctx, target, labels)
	if err != nil {
		return nil, err
	}
	return e.writer.Write(ctx, target, items, fieldMap)
}

// SkipExisting drops items whose key value is already in target, matched against the default label for key.
func (e *Engine) SkipExisting(ctx context.Context, target models.Target, items []models.ResultItem, key string) ([]models.ResultItem, int, error) {
	if e.writer == nil {
		return nil, 0, fmt.Errorf("%w: no table store configured", shared.ErrServiceUnavailable)
	}
	return e.writer.SkipExisting(ctx, target, items, key, Labels(key)[key])
}

// UpdateResults ensures labels exist on target and writes each item into the record named by its RecordID.
func (e *Engine) UpdateResults(ctx context.Context, target models.Target, updates []models.ResultItem, labels map[string]string) (*models.WriteReport, error) {
	if e.writer == nil {
		return nil, fmt.Errorf("%w: no table store configured", shared.ErrServiceUnavailable)
	}
	fieldMap, err := e.writer.EnsureSchema(ctx, target, labels)
	if err != nil {
		return nil, err
	}
	return e.writer.Update(ctx, target, updates, fieldMap)
}

// JobRun is the outcome of one job in [Engine.RunAll].
type JobRun struct {
	Spec   models.JobSpec
	Result *PollResult
	Err    error
}

// RunAll runs independent jobs concurrently, at most MaxConcurrentJobs at a time.
//
// One job's failure does not stop the others. The returned error is the first job error, if any; every
// job's own result and error are in the returned runs, in spec order. observerFor may be nil.
func (e *Engine) RunAll(ctx context.Context, specs []models.JobSpec, observerFor func(i int, spec models.JobSpec) Observer) ([]JobRun, error) {
	runs := make([]JobRun, len(specs))

	var g errgroup.Group
	g.SetLimit(e.opts.MaxConcurrentJobs)
	for i, spec := range specs {
		runs[i].Spec = spec
		g.Go(func() error {
			var obs Observer
			if observerFor != nil {
				obs = observerFor(i, spec)
			}
			res, err := e.SubmitAndPoll(ctx, spec, obs)
			runs[i].Result, runs[i].Err = res, err
			return err
		})
	}
	return runs, g.Wait()
}
