package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/desertthunder/collectx/internal/formatter"
	"github.com/desertthunder/collectx/internal/models"
	"github.com/desertthunder/collectx/internal/repositories"
	"github.com/desertthunder/collectx/internal/shared"
	"github.com/desertthunder/collectx/internal/tasks"
	"github.com/desertthunder/collectx/internal/ui"
	"github.com/urfave/cli/v3"
)

type jobView struct {
	ID          string              `json:"id"`
	Sequence    int                 `json:"sequence"`
	RemoteID    string              `json:"remote_id"`
	Kind        models.JobKind      `json:"kind"`
	Outcome     models.JobOutcome   `json:"outcome"`
	Completed   int                 `json:"completed"`
	Total       int                 `json:"total"`
	Error       string              `json:"error,omitempty"`
	SubmittedAt time.Time           `json:"submitted_at"`
	FinishedAt  *time.Time          `json:"finished_at,omitempty"`
	Results     []models.ResultItem `json:"results,omitempty"`
}

func newJobView(rec *models.JobRecord) jobView {
	return jobView{
		ID:          rec.ID(),
		Sequence:    rec.Sequence(),
		RemoteID:    rec.RemoteID(),
		Kind:        rec.Kind(),
		Outcome:     rec.Outcome(),
		Completed:   rec.CompletedCount(),
		Total:       rec.TotalCount(),
		Error:       rec.ErrorMessage(),
		SubmittedAt: rec.SubmittedAt(),
		FinishedAt:  rec.FinishedAt(),
	}
}

// findJob resolves ref as a local id, a sequence number or a backend task id, in that order.
func (r *Runner) findJob(ref string) (*models.JobRecord, *repositories.JobHistory, error) {
	if ref == "" {
		return nil, nil, fmt.Errorf("%w: job id is required", shared.ErrMissingArgument)
	}
	history, err := r.jobHistory()
	if err != nil {
		return nil, nil, err
	}

	rec, err := history.Jobs.Get(ref)
	if errors.Is(err, repositories.ErrJobRecordNotFound) {
		if seq, convErr := strconv.Atoi(ref); convErr == nil {
			rec, err = history.Jobs.GetBySequence(seq)
		}
	}
	if errors.Is(err, repositories.ErrJobRecordNotFound) {
		rec, err = history.Jobs.GetByRemoteID(ref)
	}
	if err != nil {
		return nil, nil, err
	}
	return rec, history, nil
}

// JobsList lists recorded jobs, newest first.
func (r *Runner) JobsList(ctx context.Context, cmd *cli.Command) error {
	history, err := r.jobHistory()
	if err != nil {
		return err
	}

	criteria := map[string]any{"limit": cmd.Int("limit")}
	if kind := cmd.String("kind"); kind != "" {
		if !models.JobKind(kind).Valid() {
			return fmt.Errorf("%w: unknown job kind %q", shared.ErrInvalidArgument, kind)
		}
		criteria["kind"] = kind
	}
	if outcome := cmd.String("outcome"); outcome != "" {
		criteria["outcome"] = outcome
	}

	recs, err := history.Jobs.List(criteria)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		views := make([]jobView, len(recs))
		for i, rec := range recs {
			views[i] = newJobView(rec)
		}
		return r.writeJSON(views, true)
	}

	if len(recs) == 0 {
		return r.writePlain("No jobs recorded\n")
	}
	r.writePlainHeader(fmt.Sprintf("Jobs (%d)", len(recs)))
	for _, rec := range recs {
		r.writePlain("#%-4d %-10s %-24s %-16s %d/%d  %s\n",
			rec.Sequence(), rec.Kind(), rec.RemoteID(), ui.Outcome(rec.Outcome()),
			rec.CompletedCount(), rec.TotalCount(), rec.SubmittedAt().Local().Format(time.DateTime))
	}
	return nil
}

// JobsShow prints one job with its stored results.
func (r *Runner) JobsShow(ctx context.Context, cmd *cli.Command) error {
	rec, history, err := r.findJob(cmd.StringArg("id"))
	if err != nil {
		return err
	}
	items, err := history.Results.ListByJob(ctx, rec.ID())
	if err != nil {
		return err
	}

	view := newJobView(rec)
	if cmd.Bool("json") {
		view.Results = items
		return r.writeJSON(view, true)
	}

	r.writePlainHeader(fmt.Sprintf("Job #%d %s", view.Sequence, view.RemoteID))
	r.writePlain("Kind:      %s\n", view.Kind)
	r.writePlain("Outcome:   %s\n", ui.Outcome(view.Outcome))
	r.writePlain("Progress:  %d/%d\n", view.Completed, view.Total)
	r.writePlain("Submitted: %s\n", view.SubmittedAt.Local().Format(time.DateTime))
	if view.FinishedAt != nil {
		r.writePlain("Finished:  %s\n", view.FinishedAt.Local().Format(time.DateTime))
	}
	if view.Error != "" {
		r.writePlain("Reason:    %s\n", ui.Warning(view.Error))
	}
	r.writePlainln("Results: %d", len(items))
	for _, it := range items {
		line := it.RecordID
		if title := formatter.Value(it.Payload["title"]); title != "" {
			line += "  " + title
		}
		r.writePlain("  %s\n", line)
	}
	return nil
}

// JobsExport writes a job's stored results to a file.
func (r *Runner) JobsExport(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	rec, history, err := r.findJob(cmd.StringArg("id"))
	if err != nil {
		return err
	}
	items, err := history.Results.ListByJob(ctx, rec.ID())
	if err != nil {
		return err
	}

	fields := cmd.StringSlice("field")
	path, err := formatter.WriteExport(format, rec.RemoteID(), cmd.String("output"), items, fields, tasks.Labels(fields...))
	if err != nil {
		return err
	}
	r.logger.Info("results exported", "job", rec.RemoteID(), "path", path, "results", len(items))
	return r.writePlain("✓ Exported %d results to %s\n", len(items), path)
}

// JobsResume continues polling a job that stopped before reaching a terminal state.
func (r *Runner) JobsResume(ctx context.Context, cmd *cli.Command) error {
	rec, _, err := r.findJob(cmd.StringArg("id"))
	if err != nil {
		return err
	}
	switch rec.Outcome() {
	case models.JobCompleted, models.JobFailed:
		return fmt.Errorf("%w: job %s already %s", shared.ErrInvalidArgument, rec.RemoteID(), rec.Outcome())
	}

	engine, err := r.tasksEngine(ctx)
	if err != nil {
		return err
	}

	r.logger.Info("resuming job", "job", rec.RemoteID(), "outcome", rec.Outcome())
	res, err := engine.Resume(ctx, rec.Job(), r.progressLogger())
	if res != nil {
		r.printResult(res)
	}
	return err
}

// WriteJob replays a recorded job's stored results into the table.
//
// Transcription jobs update their records; collection jobs insert new ones.
func (r *Runner) WriteJob(ctx context.Context, cmd *cli.Command) error {
	target, err := r.target()
	if err != nil {
		return err
	}
	rec, history, err := r.findJob(cmd.String("job"))
	if err != nil {
		return err
	}
	items, err := history.Results.ListByJob(ctx, rec.ID())
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return r.writePlain("Job %s has no stored results\n", rec.RemoteID())
	}

	engine, err := r.tasksEngine(ctx)
	if err != nil {
		return err
	}

	if rec.Kind() == models.KindTranscribe {
		r.logger.Info("replaying transcription updates", "job", rec.RemoteID(), "records", len(items))
		report, err := engine.UpdateResults(ctx, target, items, tasks.TranscriptionLabels)
		if report != nil {
			r.printReport(report)
		}
		return err
	}

	return r.writeResults(ctx, engine, target, items, tasks.Labels(cmd.StringSlice("field")...), cmd.Bool("skip-existing"))
}
