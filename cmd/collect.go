package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/collectx/internal/formatter"
	"github.com/desertthunder/collectx/internal/models"
	"github.com/desertthunder/collectx/internal/shared"
	"github.com/desertthunder/collectx/internal/tasks"
	"github.com/desertthunder/collectx/internal/ui"
	"github.com/urfave/cli/v3"
)

// CollectVideo collects the videos behind each --url.
func (r *Runner) CollectVideo(ctx context.Context, cmd *cli.Command) error {
	return r.collect(ctx, cmd, models.ModeVideo)
}

// CollectAuthor collects the videos of each author --url.
func (r *Runner) CollectAuthor(ctx context.Context, cmd *cli.Command) error {
	return r.collect(ctx, cmd, models.ModeAuthor)
}

// CollectTranscribe collects videos and transcribes them in the same job.
func (r *Runner) CollectTranscribe(ctx context.Context, cmd *cli.Command) error {
	return r.collect(ctx, cmd, models.ModeTranscribe)
}

func (r *Runner) collect(ctx context.Context, cmd *cli.Command, mode models.CollectMode) error {
	spec := models.JobSpec{
		Kind:               models.KindCollect,
		Mode:               mode,
		URLs:               cmd.StringSlice("url"),
		Fields:             cmd.StringSlice("field"),
		WithTranscription:  cmd.Bool("with-transcription"),
		MaxVideosPerAuthor: r.config.Collect.MaxVideosPerAuthor,
	}
	if mode == models.ModeAuthor && cmd.Int("max-videos") > 0 {
		spec.MaxVideosPerAuthor = cmd.Int("max-videos")
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	write := cmd.Bool("write")
	var target models.Target
	if write {
		var err error
		if target, err = r.target(); err != nil {
			return err
		}
	}

	if cmd.Bool("tui") {
		restore, err := r.logToFile()
		if err != nil {
			return err
		}
		defer restore()
	}

	engine, err := r.tasksEngine(ctx)
	if err != nil {
		return err
	}

	var results []*tasks.PollResult
	var pollErr error
	switch {
	case cmd.Bool("each") && len(spec.URLs) > 1:
		results, pollErr = r.collectEach(ctx, engine, spec)
	case cmd.Bool("tui"):
		var res *tasks.PollResult
		res, pollErr = r.runTUI(ctx, fmt.Sprintf("Collecting %d %s url(s)", len(spec.URLs), mode),
			func(ctx context.Context, obs tasks.Observer) (*tasks.PollResult, error) {
				return engine.SubmitAndPoll(ctx, spec, obs)
			})
		results = append(results, res)
	default:
		var res *tasks.PollResult
		res, pollErr = engine.SubmitAndPoll(ctx, spec, r.progressLogger())
		results = append(results, res)
	}

	var items []models.ResultItem
	for _, res := range results {
		if res == nil {
			continue
		}
		if !cmd.Bool("json") {
			r.printResult(res)
		}
		items = append(items, res.Items...)
	}
	if cmd.Bool("json") {
		if err := r.writeJSON(items, true); err != nil {
			return err
		}
	}

	if write && len(items) > 0 {
		if ctx.Err() != nil {
			r.logger.Warn("cancelled before writing; replay with `collectx write --job <task id>`")
			return pollErr
		}
		if err := r.writeResults(ctx, engine, target, items, collectLabels(spec), cmd.Bool("skip-existing")); err != nil {
			return errors.Join(pollErr, err)
		}
	}
	return pollErr
}

// collectEach submits one job per url and runs them concurrently.
func (r *Runner) collectEach(ctx context.Context, engine *tasks.Engine, spec models.JobSpec) ([]*tasks.PollResult, error) {
	specs := make([]models.JobSpec, len(spec.URLs))
	for i, u := range spec.URLs {
		specs[i] = spec
		specs[i].URLs = []string{u}
	}

	runs, err := engine.RunAll(ctx, specs, func(i int, s models.JobSpec) tasks.Observer {
		return r.progressLogger("url", s.URLs[0])
	})

	results := make([]*tasks.PollResult, 0, len(runs))
	for _, run := range runs {
		if run.Err != nil {
			r.logger.Error("job failed", "url", run.Spec.URLs[0], "error", run.Err)
		}
		results = append(results, run.Result)
	}
	return results, err
}

// collectLabels maps the requested fields to column labels. Transcription output adds its column.
func collectLabels(spec models.JobSpec) map[string]string {
	labels := tasks.Labels(spec.Fields...)
	if spec.WithTranscription || spec.Mode == models.ModeTranscribe {
		labels["transcription"] = tasks.DefaultLabels["transcription"]
	}
	return labels
}

// progressLogger logs each reconciling step at info level.
func (r *Runner) progressLogger(kv ...any) tasks.Observer {
	logger := shared.WithLogger(r.logger, kv...)
	return tasks.ObserverFunc(func(u tasks.ProgressUpdate) {
		logger.Info("progress",
			"job", u.Job.ID,
			"phase", u.Phase,
			"completed", u.Completed,
			"total", u.Total,
			"accepted", u.Accepted,
			"new", len(u.NewlyAccepted),
		)
	})
}

// videoKey identifies a collected video in the table when --skip-existing is set.
const videoKey = "aweme_id"

func (r *Runner) writeResults(ctx context.Context, engine *tasks.Engine, target models.Target, items []models.ResultItem, labels map[string]string, skipExisting bool) error {
	skipped := 0
	if skipExisting {
		kept, n, err := engine.SkipExisting(ctx, target, items, videoKey)
		if err != nil {
			return err
		}
		items, skipped = kept, n
	}

	r.logger.Info("writing results", "records", len(items), "skipped", skipped, "table", target.TableID)
	report, err := engine.WriteResults(ctx, target, items, labels)
	if report != nil {
		report.SkippedCount += skipped
		r.printReport(report)
	}
	return err
}

func (r *Runner) printResult(res *tasks.PollResult) {
	title := fmt.Sprintf("Job %s: %s", res.Job.ID, res.Outcome)
	if res.Job.ID == "" {
		title = fmt.Sprintf("Job: %s", res.Outcome)
	}
	r.writePlainHeader(title)

	r.writePlain("Results: %d (reported %d/%d)\n", len(res.Items), res.Completed, res.Total)
	r.writePlain("Polls:   %d in %s\n", res.Cycles, res.Elapsed.Round(time.Second))
	if res.Dropped > 0 {
		r.writePlain("Dropped: %d beyond the reported total\n", res.Dropped)
	}
	if res.TerminalError != "" {
		r.writePlain("Reason:  %s\n", ui.Warning(res.TerminalError))
	}

	for _, it := range res.Items {
		line := it.RecordID
		if title := formatter.Value(it.Payload["title"]); title != "" {
			line += "  " + title
		}
		if it.Outcome != models.OutcomeOK {
			line += "  " + ui.Warning(string(it.Outcome))
		}
		r.writePlain("  %s\n", line)
	}
}

func (r *Runner) printReport(report *models.WriteReport) {
	summary := fmt.Sprintf("Written %d, failed %d, skipped %d", report.SuccessCount, report.FailedCount, report.SkippedCount)
	if report.FailedCount > 0 {
		r.writePlainln("%s", ui.Failure(summary))
	} else {
		r.writePlainln("%s", ui.Success(summary))
	}
	for _, f := range report.Failures {
		r.writePlain("  %s: %s\n", f.RecordID, strings.TrimSpace(f.Error))
	}
}
