package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/collectx/internal/models"
	"github.com/desertthunder/collectx/internal/shared"
	"github.com/desertthunder/collectx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// videoRecords pairs each video with the record it transcribes into. Without record ids the video id
// keys the result.
func videoRecords(videos, records []string) ([]models.VideoRecord, error) {
	if len(records) > 0 && len(records) != len(videos) {
		return nil, fmt.Errorf("%w: got %d --record-id for %d --video-id", shared.ErrInvalidArgument, len(records), len(videos))
	}

	out := make([]models.VideoRecord, len(videos))
	for i, v := range videos {
		vr := models.VideoRecord{RecordID: v}
		if strings.Contains(v, "://") {
			vr.VideoURL = v
		} else {
			vr.VideoID = v
		}
		if len(records) > 0 {
			vr.RecordID = records[i]
		}
		out[i] = vr
	}
	return out, nil
}

// Transcribe submits a transcription job and optionally writes the text into the paired table records.
func (r *Runner) Transcribe(ctx context.Context, cmd *cli.Command) error {
	records := cmd.StringSlice("record-id")
	write := cmd.Bool("write")
	if write && len(records) == 0 {
		return fmt.Errorf("%w: --write needs a --record-id for each video", shared.ErrMissingArgument)
	}

	vrs, err := videoRecords(cmd.StringSlice("video-id"), records)
	if err != nil {
		return err
	}

	spec := models.JobSpec{
		Kind:          models.KindTranscribe,
		VideoRecords:  vrs,
		Strategy:      r.config.Transcription.Strategy,
		MaxConcurrent: r.config.Transcription.MaxConcurrent,
	}
	if s := cmd.String("strategy"); s != "" {
		spec.Strategy = s
	}

	var target models.Target
	if write {
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

	var res *tasks.PollResult
	var pollErr error
	if cmd.Bool("tui") {
		res, pollErr = r.runTUI(ctx, fmt.Sprintf("Transcribing %d video(s)", len(vrs)),
			func(ctx context.Context, obs tasks.Observer) (*tasks.PollResult, error) {
				return engine.SubmitAndPoll(ctx, spec, obs)
			})
	} else {
		res, pollErr = engine.SubmitAndPoll(ctx, spec, r.progressLogger())
	}
	if res == nil {
		return pollErr
	}

	if cmd.Bool("json") {
		if err := r.writeJSON(res.Items, true); err != nil {
			return err
		}
	} else {
		r.printResult(res)
	}

	if !write || len(res.Items) == 0 {
		return pollErr
	}
	if ctx.Err() != nil {
		r.logger.Warn("cancelled before writing; replay with `collectx write --job <task id>`")
		return pollErr
	}

	r.logger.Info("updating records", "records", len(res.Items), "table", target.TableID)
	report, err := engine.UpdateResults(ctx, target, res.Items, tasks.TranscriptionLabels)
	if report != nil {
		r.printReport(report)
	}
	if err != nil {
		return errors.Join(pollErr, err)
	}
	return pollErr
}
