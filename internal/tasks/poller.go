package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/collectx/internal/models"
	"github.com/desertthunder/collectx/internal/shared"
)

const (
	DefaultPollInterval      = 3 * time.Second
	DefaultCollectTimeout    = 5 * time.Minute
	DefaultTranscribeTimeout = 10 * time.Minute
)

// TaskClient submits jobs of one kind and reports their status.
type TaskClient interface {
	Kind() models.JobKind
	Submit(ctx context.Context, spec models.JobSpec) (models.Job, error)
	FetchStatus(ctx context.Context, job models.Job) (*models.StatusSnapshot, error)
}

// ResultFetcher is implemented by clients that can list a finished job's full results.
type ResultFetcher interface {
	FetchResults(ctx context.Context, job models.Job) ([]models.ResultItem, error)
}

// DefaultTimeout returns the polling limit for kind.
func DefaultTimeout(kind models.JobKind) time.Duration {
	if kind == models.KindTranscribe {
		return DefaultTranscribeTimeout
	}
	return DefaultCollectTimeout
}

// PollOpts configures a [PollLoop]. Now and Sleep are swapped out in tests.
type PollOpts struct {
	Interval time.Duration
	Timeout  time.Duration
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
	Logger   *log.Logger
}

// PollResult is the terminal state of one job.
type PollResult struct {
	Job     models.Job
	Items   []models.ResultItem
	Outcome models.JobOutcome
	// TerminalError is the backend's reason for a failed job or a quota stop.
	TerminalError string
	Completed     int
	Total         int
	Cycles        int
	Dropped       int
	Elapsed       time.Duration
}

// PollLoop drives one job from submission to a terminal state.
type PollLoop struct {
	client     TaskClient
	reconciler *Reconciler
	opts       PollOpts
	state      atomic.Int32
}

// NewPollLoop creates a loop for client. A zero Timeout uses the default for the client's kind.
func NewPollLoop(client TaskClient, opts PollOpts) *PollLoop {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout(client.Kind())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}
	return &PollLoop{client: client, reconciler: NewReconciler(opts.Logger), opts: opts}
}

// State returns the loop's current state.
func (p *PollLoop) State() LoopState { return LoopState(p.state.Load()) }

func (p *PollLoop) setState(s LoopState) { p.state.Store(int32(s)) }

// Run submits spec and polls the resulting job. See [PollLoop.Poll] for the returned values.
//
// A submission error is returned with a nil result, except cancellation which yields a cancelled result.
func (p *PollLoop) Run(ctx context.Context, spec models.JobSpec, obs Observer) (*PollResult, error) {
	job, err := p.Submit(ctx, spec)
	if err != nil {
		if ctx.Err() != nil {
			p.setState(Terminal)
			return &PollResult{Outcome: models.JobCancelled}, nil
		}
		return nil, err
	}
	return p.Poll(ctx, job, obs)
}

// Submit starts the job once.
func (p *PollLoop) Submit(ctx context.Context, spec models.JobSpec) (models.Job, error) {
	p.setState(Submitting)
	job, err := p.client.Submit(ctx, spec)
	if err != nil {
		return models.Job{}, err
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = p.opts.Now()
	}
	return job, nil
}

// Poll fetches job status until it is terminal, the timeout passes or ctx is cancelled.
//
// The timeout runs from job.SubmittedAt, so a resumed job only gets what is left of its window, but the
// status is always fetched at least once. Completed and quota-stopped jobs return a nil error. A failed job returns its result together with
// [shared.ErrJobFailed]; a timeout returns the partial result with [shared.ErrPollTimeout]. Cancellation
// is not an error: the result carries [models.JobCancelled] and whatever was accepted so far. Transient
// fetch errors are retried at the poll interval; other fetch errors end the loop as failed.
func (p *PollLoop) Poll(ctx context.Context, job models.Job, obs Observer) (*PollResult, error) {
	logger := shared.WithLogger(p.opts.Logger, "job", job.ID, "kind", job.Kind)
	start := p.opts.Now()
	if !job.SubmittedAt.IsZero() && job.SubmittedAt.Before(start) {
		start = job.SubmittedAt
	}
	set := NewReconciledSet()
	res := &PollResult{Job: job}

	finish := func(outcome models.JobOutcome) *PollResult {
		p.setState(Terminal)
		res.Outcome = outcome
		res.Items = set.Items()
		res.Dropped = set.Dropped()
		res.Elapsed = p.opts.Now().Sub(start)
		logger.Info("job finished", "outcome", outcome, "items", len(res.Items), "cycles", res.Cycles)
		return res
	}

	p.setState(Polling)
	for cycle := 1; ; cycle++ {
		if ctx.Err() != nil {
			return finish(models.JobCancelled), nil
		}
		if elapsed := p.opts.Now().Sub(start); cycle > 1 && elapsed > p.opts.Timeout {
			return finish(models.JobTimedOut), fmt.Errorf("%w: job %s after %s", shared.ErrPollTimeout, job.ID, elapsed.Round(time.Second))
		}

		res.Cycles = cycle
		snap, err := p.client.FetchStatus(ctx, job)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return finish(models.JobCancelled), nil
		case errors.Is(err, shared.ErrTransient):
			logger.Warn("status fetch failed, retrying", "cycle", cycle, "error", err)
			if err := p.opts.Sleep(ctx, p.opts.Interval); err != nil {
				return finish(models.JobCancelled), nil
			}
			continue
		default:
			res.TerminalError = err.Error()
			return finish(models.JobFailed), err
		}

		p.setState(Reconciling)
		newly := p.reconcile(ctx, job, cycle, snap, set, logger)
		res.Completed, res.Total = snap.CompletedCount, snap.TotalCount

		if obs != nil {
			obs.Observe(reconcileUpdate(job, cycle, snap, set, newly, p.opts.Now().Sub(start)))
		}

		if p.reconciler.IsTerminal(snap) {
			switch snap.Phase {
			case models.PhaseCompleted:
				return finish(models.JobCompleted), nil
			case models.PhaseInsufficientQuota:
				res.TerminalError = snap.TerminalError
				logger.Warn("job stopped on insufficient quota", "accepted", set.Len(), "total", snap.TotalCount)
				return finish(models.JobQuotaExhausted), nil
			default:
				res.TerminalError = snap.TerminalError
				if res.TerminalError == "" {
					res.TerminalError = "job failed"
				}
				return finish(models.JobFailed), fmt.Errorf("%w: %s", shared.ErrJobFailed, res.TerminalError)
			}
		}

		p.setState(Polling)
		if err := p.opts.Sleep(ctx, p.opts.Interval); err != nil {
			return finish(models.JobCancelled), nil
		}
	}
}

// reconcile merges snap into set, stamping batch numbers and backfilling a completed job that is short
// of its total from the client's final results.
func (p *PollLoop) reconcile(ctx context.Context, job models.Job, cycle int, snap *models.StatusSnapshot, set *ReconciledSet, logger *log.Logger) []models.ResultItem {
	for i := range snap.PartialResults {
		if snap.PartialResults[i].BatchSeq == 0 {
			snap.PartialResults[i].BatchSeq = cycle
		}
	}
	_, newly := p.reconciler.Merge(set, snap)

	if snap.Phase != models.PhaseCompleted || snap.TotalCount <= 0 || set.Len() >= snap.TotalCount {
		return newly
	}
	fetcher, ok := p.client.(ResultFetcher)
	if !ok {
		return newly
	}

	logger.Info("completed with missing results, fetching final list", "accepted", set.Len(), "total", snap.TotalCount)
	items, err := fetcher.FetchResults(ctx, job)
	if err != nil {
		logger.Warn("failed to fetch final results, keeping partial set", "error", err)
		return newly
	}
	for i := range items {
		if items[i].BatchSeq == 0 {
			items[i].BatchSeq = cycle
		}
	}
	return append(newly, p.reconciler.MergeItems(set, items, snap.TotalCount, job.ID)...)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
