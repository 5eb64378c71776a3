package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/desertthunder/collectx/internal/models"
	"github.com/desertthunder/collectx/internal/shared"
)

// DefaultMaxVideosPerAuthor caps author-mode collection when the job spec leaves it unset.
const DefaultMaxVideosPerAuthor = 50

// CollectorService submits and polls video collection jobs.
type CollectorService struct {
	api  *APIService
	auth Authorizer
	opts ClientOpts
}

// NewCollectorService creates a collection client that authorizes through auth.
func NewCollectorService(api *APIService, auth Authorizer, opts ClientOpts) *CollectorService {
	return &CollectorService{api: api, auth: auth, opts: opts.withDefaults()}
}

// Kind reports the job kind this client handles.
func (s *CollectorService) Kind() models.JobKind { return models.KindCollect }

type collectRequest struct {
	URLs               []string `json:"urls"`
	Fields             []string `json:"fields"`
	WithTranscription  bool     `json:"withTranscription"`
	MaxVideosPerAuthor int      `json:"maxVideosPerAuthor,omitempty"`
}

type submitData struct {
	TaskID    string `json:"taskId"`
	TaskIDAlt string `json:"task_id"`
}

func (d submitData) id() string {
	if d.TaskID != "" {
		return d.TaskID
	}
	return d.TaskIDAlt
}

// collectEndpoint picks the route for spec. Transcription-enabled collection always uses the transcribe route.
func collectEndpoint(spec models.JobSpec) string {
	if spec.WithTranscription || spec.Mode == models.ModeTranscribe {
		return "/collect/transcribe"
	}
	if spec.Mode == models.ModeVideo {
		return "/collect/video"
	}
	return "/collect/author"
}

// Submit starts a collection job.
func (s *CollectorService) Submit(ctx context.Context, spec models.JobSpec) (models.Job, error) {
	if err := spec.Validate(); err != nil {
		return models.Job{}, err
	}
	if spec.Kind != models.KindCollect {
		return models.Job{}, fmt.Errorf("%w: collector cannot submit %q jobs", shared.ErrInvalidInput, spec.Kind)
	}

	body := collectRequest{
		URLs:              spec.URLs,
		Fields:            spec.Fields,
		WithTranscription: spec.WithTranscription,
	}
	if body.Fields == nil {
		body.Fields = []string{}
	}
	if spec.Mode == models.ModeAuthor {
		body.MaxVideosPerAuthor = spec.MaxVideosPerAuthor
		if body.MaxVideosPerAuthor <= 0 {
			body.MaxVideosPerAuthor = DefaultMaxVideosPerAuthor
		}
	}

	path := collectEndpoint(spec)
	var data submitData
	err := s.auth.Do(ctx, func(ctx context.Context, token string) error {
		resp, err := s.api.Do(ctx, Request{Method: http.MethodPost, Path: path, Token: token, Body: body})
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

	job := models.Job{ID: data.id(), Kind: models.KindCollect, SubmittedAt: s.opts.Now()}
	s.opts.Logger.Info("collection job submitted", "job", job.ID, "endpoint", path, "urls", len(spec.URLs))
	return job, nil
}

type collectStatus struct {
	Status         string           `json:"status"`
	Progress       *float64         `json:"progress"`
	Completed      int              `json:"completed"`
	CompletedCount int              `json:"completed_count"`
	Total          int              `json:"total"`
	TotalCount     int              `json:"total_count"`
	Results        []map[string]any `json:"results"`
	Videos         []map[string]any `json:"videos"`
	Error          string           `json:"error"`
	Message        string           `json:"message"`
}

// FetchStatus polls a collection job.
func (s *CollectorService) FetchStatus(ctx context.Context, job models.Job) (*models.StatusSnapshot, error) {
	path := "/task/" + url.PathEscape(job.ID)

	var raw json.RawMessage
	err := s.auth.Do(ctx, func(ctx context.Context, token string) error {
		resp, err := s.api.Do(ctx, Request{Method: http.MethodGet, Path: path, Token: token})
		if err != nil {
			return transportError(err)
		}
		env, err := decodeEnvelope(resp, shared.ErrJobNotFound, shared.ErrTransient)
		if err != nil {
			return err
		}
		return decodeData(env, &raw)
	})
	if err != nil {
		return nil, err
	}
	return parseCollectStatus(job.ID, raw)
}

func parseCollectStatus(jobID string, raw json.RawMessage) (*models.StatusSnapshot, error) {
	var st collectStatus
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

	completed := max(st.Completed, st.CompletedCount)
	total := max(st.Total, st.TotalCount)

	rows := st.Results
	if len(rows) == 0 {
		rows = st.Videos
	}
	items := make([]models.ResultItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, collectItem(row))
	}
	if completed == 0 && phase != models.PhasePending {
		completed = len(items)
	}

	snap := &models.StatusSnapshot{
		JobID:           jobID,
		Phase:           phase,
		CompletedCount:  completed,
		TotalCount:      total,
		ProgressPercent: percent(st.Progress, completed, total),
		PartialResults:  items,
		Message:         st.Message,
	}
	if phase == models.PhaseFailed {
		snap.TerminalError = st.Error
		if snap.TerminalError == "" {
			snap.TerminalError = st.Message
		}
	}
	return snap, nil
}

// collectItem keys a collected video by its video id.
func collectItem(row map[string]any) models.ResultItem {
	item := models.ResultItem{
		RecordID: firstString(row, "videoId", "aweme_id", "video_id", "record_id", "id"),
		Payload:  row,
		Outcome:  models.OutcomeOK,
	}
	switch {
	case row["success"] == false, firstString(row, "error") != "":
		item.Outcome = models.OutcomeFailed
	case row["is_fallback"] == true:
		item.Outcome = models.OutcomeFallback
	}
	return item
}
