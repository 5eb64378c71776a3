package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/desertthunder/collectx/internal/models"
	"github.com/desertthunder/collectx/internal/shared"
)

const (
	DefaultTranscriptionStrategy      = "batch"
	DefaultTranscriptionMaxConcurrent = 10
)

// TranscriptionService submits and polls transcription jobs for existing table records.
type TranscriptionService struct {
	api  *APIService
	auth Authorizer
	opts ClientOpts
}

func NewTranscriptionService(api *APIService, auth Authorizer, opts ClientOpts) *TranscriptionService {
	return &TranscriptionService{api: api, auth: auth, opts: opts.withDefaults()}
}

func (s *TranscriptionService) Kind() models.JobKind { return models.KindTranscribe }

type videoRecordBody struct {
	RecordID string `json:"record_id"`
	AwemeID  string `json:"aweme_id,omitempty"`
	VideoURL string `json:"video_url,omitempty"`
}

type transcriptionRequest struct {
	VideoRecords  []videoRecordBody `json:"video_records"`
	Strategy      string            `json:"strategy"`
	MaxConcurrent int               `json:"max_concurrent"`
}

// Submit starts a transcription job.
func (s *TranscriptionService) Submit(ctx context.Context, spec models.JobSpec) (models.Job, error) {
	if err := spec.Validate(); err != nil {
		return models.Job{}, err
	}
	if spec.Kind != models.KindTranscribe {
		return models.Job{}, fmt.Errorf("%w: transcription cannot submit %q jobs", shared.ErrInvalidInput, spec.Kind)
	}

	body := transcriptionRequest{
		VideoRecords:  make([]videoRecordBody, 0, len(spec.VideoRecords)),
		Strategy:      spec.Strategy,
		MaxConcurrent: spec.MaxConcurrent,
	}
	if body.Strategy == "" {
		body.Strategy = DefaultTranscriptionStrategy
	}
	if body.MaxConcurrent <= 0 {
		body.MaxConcurrent = DefaultTranscriptionMaxConcurrent
	}
	for _, r := range spec.VideoRecords {
		body.VideoRecords = append(body.VideoRecords, videoRecordBody{RecordID: r.RecordID, AwemeID: r.VideoID, VideoURL: r.VideoURL})
	}

	var data submitData
	err := s.auth.Do(ctx, func(ctx context.Context, token string) error {
		resp, err := s.api.Do(ctx, Request{
			Method: http.MethodPost,
			Path:   "/api/transcription/start-by-video-ids",
			Token:  token,
			Body:   body,
		})
		if err != nil {
			return transportError(err)
		}
		env, err := decodeEnvelope(resp, shared.ErrSubmissionRejected, shared.ErrSubmissionRejected)
		if err != nil {
			return err
		}
		return decodeData(env, &data)
	})
	if err != nil {
		return models.Job{}, err
	}
	if data.id() == "" {
		return models.Job{}, fmt.Errorf("%w: submit response has no task id", shared.ErrProtocol)
	}

	job := models.Job{ID: data.id(), Kind: models.KindTranscribe, SubmittedAt: s.opts.Now()}
	s.opts.Logger.Info("transcription job submitted", "job", job.ID, "records", len(body.VideoRecords), "strategy", body.Strategy)
	return job, nil
}

type batchInfo struct {
	CurrentBatch int `json:"current_batch"`
	TotalBatches int `json:"total_batches"`
}

type realtimeResult struct {
	Type   string         `json:"type"`
	Result map[string]any `json:"result"`
}

type transcriptionStatus struct {
	Status          string           `json:"status"`
	Progress        *float64         `json:"progress"`
	CompletedCount  int              `json:"completed_count"`
	TotalCount      int              `json:"total_count"`
	FailedCount     int              `json:"failed_count"`
	FallbackCount   int              `json:"fallback_count"`
	Results         []map[string]any `json:"results"`
	RealtimeResults []realtimeResult `json:"realtime_results"`
	BatchInfo       *batchInfo       `json:"batch_info"`
	Message         string           `json:"message"`
	Error           string           `json:"error"`
}

// FetchStatus polls a transcription job.
func (s *TranscriptionService) FetchStatus(ctx context.Context, job models.Job) (*models.StatusSnapshot, error) {
	var raw json.RawMessage
	err := s.auth.Do(ctx, func(ctx context.Context, token string) error {
		return s.get(ctx, token, "/api/transcription/status/"+url.PathEscape(job.ID), &raw)
	})
	if err != nil {
		return nil, err
	}
	return parseTranscriptionStatus(job.ID, raw)
}

// FetchResults returns the final result list of a finished job.
func (s *TranscriptionService) FetchResults(ctx context.Context, job models.Job) ([]models.ResultItem, error) {
	var data struct {
		Results []map[string]any `json:"results"`
	}
	err := s.auth.Do(ctx, func(ctx context.Context, token string) error {
		return s.get(ctx, token, "/api/transcription/result/"+url.PathEscape(job.ID), &data)
	})
	if err != nil {
		return nil, err
	}

	items := make([]models.ResultItem, 0, len(data.Results))
	for _, row := range data.Results {
		items = append(items, transcriptionItem(row, 0))
	}
	return items, nil
}

func (s *TranscriptionService) get(ctx context.Context, token, path string, v any) error {
	resp, err := s.api.Do(ctx, Request{Method: http.MethodGet, Path: path, Token: token})
	if err != nil {
		return transportError(err)
	}
	env, err := decodeEnvelope(resp, shared.ErrJobNotFound, shared.ErrTransient)
	if err != nil {
		return err
	}
	return decodeData(env, v)
}

func parseTranscriptionStatus(jobID string, raw json.RawMessage) (*models.StatusSnapshot, error) {
	var st transcriptionStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("%w: malformed status: %v", shared.ErrProtocol, err)
	}
	if st.Status == "" {
		return nil, fmt.Errorf("%w: status response has no status", shared.ErrProtocol)
	}
	phase, ok := models.ParsePhase(st.Status)
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", shared.ErrProtocol, st.Status)
	}

	seq := 0
	if st.BatchInfo != nil {
		seq = st.BatchInfo.CurrentBatch
	}

	items := make([]models.ResultItem, 0, len(st.Results)+len(st.RealtimeResults))
	for _, row := range st.Results {
		items = append(items, transcriptionItem(row, seq))
	}
	for _, rt := range st.RealtimeResults {
		if rt.Type == "transcription_item_complete" && rt.Result != nil {
			items = append(items, transcriptionItem(rt.Result, seq))
		}
	}

	snap := &models.StatusSnapshot{
		JobID:           jobID,
		Phase:           phase,
		CompletedCount:  st.CompletedCount,
		TotalCount:      st.TotalCount,
		ProgressPercent: percent(st.Progress, st.CompletedCount, st.TotalCount),
		PartialResults:  items,
		Message:         st.Message,
	}
	switch phase {
	case models.PhaseFailed:
		snap.TerminalError = st.Error
		if snap.TerminalError == "" {
			snap.TerminalError = st.Message
		}
	case models.PhaseInsufficientQuota:
		snap.TerminalError = st.Message
	}
	return snap, nil
}

// transcriptionItem keys a transcription result by its table record id. The text is exposed as the
// "transcription" payload key.
func transcriptionItem(row map[string]any, seq int) models.ResultItem {
	item := models.ResultItem{
		RecordID: firstString(row, "record_id", "recordId"),
		Payload:  row,
		Outcome:  models.OutcomeOK,
		BatchSeq: seq,
	}
	text, _ := row["transcription_text"].(string)
	if _, exists := row["transcription"]; !exists && text != "" {
		row["transcription"] = text
	}

	status := firstString(row, "status")
	switch {
	case status != "" && status != "completed", row["success"] == false, firstString(row, "error") != "":
		item.Outcome = models.OutcomeFailed
	case strings.TrimSpace(text) == "" && firstString(row, "transcription") == "":
		item.Outcome = models.OutcomeFailed
	case row["is_fallback"] == true:
		item.Outcome = models.OutcomeFallback
	}
	return item
}
