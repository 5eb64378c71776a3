package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/desertthunder/collectx/internal/models"
	"github.com/desertthunder/collectx/internal/shared"
	tu "github.com/desertthunder/collectx/internal/testing"
)

func newCollector(url string) *CollectorService {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return NewCollectorService(NewAPIService(url, nil), StaticToken("tok"), ClientOpts{Now: func() time.Time { return now }})
}

func TestCollectorSubmit(t *testing.T) {
	t.Run("author mode", func(t *testing.T) {
		rec := tu.NewRecorder()
		server := httptest.NewServer(rec.Wrap(tu.EnvelopeHandler(map[string]string{"taskId": "task-1"})))
		defer server.Close()

		job, err := newCollector(server.URL).Submit(context.Background(), models.JobSpec{
			Kind: models.KindCollect,
			Mode: models.ModeAuthor,
			URLs: []string{"https://www.douyin.com/user/abc"},
		})

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if job.ID != "task-1" || job.Kind != models.KindCollect || job.SubmittedAt.IsZero() {
			t.Errorf("unexpected job %+v", job)
		}
		if rec.Count("POST /collect/author") != 1 {
			t.Error("expected one POST to /collect/author")
		}

		body := rec.Bodies()[0]
		if body["maxVideosPerAuthor"] != float64(DefaultMaxVideosPerAuthor) {
			t.Errorf("expected default author cap, got %v", body["maxVideosPerAuthor"])
		}
		if body["withTranscription"] != false {
			t.Errorf("expected withTranscription false, got %v", body["withTranscription"])
		}
	})

	t.Run("Endpoints", func(t *testing.T) {
		tests := []struct {
			spec models.JobSpec
			want string
		}{
			{models.JobSpec{Mode: models.ModeVideo}, "/collect/video"},
			{models.JobSpec{Mode: models.ModeAuthor}, "/collect/author"},
			{models.JobSpec{Mode: models.ModeTranscribe}, "/collect/transcribe"},
			{models.JobSpec{Mode: models.ModeVideo, WithTranscription: true}, "/collect/transcribe"},
		}
		for _, tt := range tests {
			if got := collectEndpoint(tt.spec); got != tt.want {
				t.Errorf("collectEndpoint(%+v) = %s, want %s", tt.spec, got, tt.want)
			}
		}
	})

	t.Run("video mode omits author cap", func(t *testing.T) {
		rec := tu.NewRecorder()
		server := httptest.NewServer(rec.Wrap(tu.EnvelopeHandler(map[string]string{"task_id": "task-2"})))
		defer server.Close()

		job, err := newCollector(server.URL).Submit(context.Background(), models.JobSpec{
			Kind:   models.KindCollect,
			Mode:   models.ModeVideo,
			URLs:   []string{"https://v.douyin.com/x"},
			Fields: []string{"title"},
		})

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if job.ID != "task-2" {
			t.Errorf("expected task_id fallback, got %s", job.ID)
		}
		if _, ok := rec.Bodies()[0]["maxVideosPerAuthor"]; ok {
			t.Error("expected no maxVideosPerAuthor in video mode")
		}
	})

	t.Run("Rejected", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tu.WriteEnvelope(w, 1002, "insufficient membership", nil)
		}))
		defer server.Close()

		_, err := newCollector(server.URL).Submit(context.Background(), models.JobSpec{
			Kind: models.KindCollect, Mode: models.ModeVideo, URLs: []string{"u"},
		})

		if !errors.Is(err, shared.ErrSubmissionRejected) {
			t.Fatalf("expected ErrSubmissionRejected, got %v", err)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Message != "insufficient membership" {
			t.Errorf("expected backend message to be carried, got %v", err)
		}
	})

	t.Run("missing task ID", func(t *testing.T) {
		server := httptest.NewServer(tu.EnvelopeHandler(map[string]string{}))
		defer server.Close()

		_, err := newCollector(server.URL).Submit(context.Background(), models.JobSpec{
			Kind: models.KindCollect, Mode: models.ModeVideo, URLs: []string{"u"},
		})
		if !errors.Is(err, shared.ErrProtocol) {
			t.Errorf("expected ErrProtocol, got %v", err)
		}
	})

	t.Run("invalid spec", func(t *testing.T) {
		_, err := newCollector("http://unused").Submit(context.Background(), models.JobSpec{Kind: models.KindCollect, Mode: models.ModeVideo})
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestCollectorFetchStatus(t *testing.T) {
	job := models.Job{ID: "task-1", Kind: models.KindCollect}

	t.Run("partial results", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/task/task-1" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			w.Write([]byte(`{"code":0,"data":{
				"status":"processing","progress":40,"completed":2,"total":5,
				"results":[
					{"videoId":"v1","title":"one"},
					{"aweme_id":7301,"title":"two"},
					{"video_id":"v3","success":false,"error":"blocked"},
					{"title":"no id"}
				]}}`))
		}))
		defer server.Close()

		snap, err := newCollector(server.URL).FetchStatus(context.Background(), job)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if snap.Phase != models.PhaseProcessing || snap.CompletedCount != 2 || snap.TotalCount != 5 {
			t.Errorf("unexpected snapshot %+v", snap)
		}
		if snap.ProgressPercent != 40 {
			t.Errorf("expected 40%%, got %v", snap.ProgressPercent)
		}
		if len(snap.PartialResults) != 4 {
			t.Fatalf("expected 4 items, got %d", len(snap.PartialResults))
		}

		ids := []string{"v1", "7301", "v3", ""}
		for i, want := range ids {
			if got := snap.PartialResults[i].RecordID; got != want {
				t.Errorf("item %d: expected record id %q, got %q", i, want, got)
			}
		}
		if snap.PartialResults[2].Outcome != models.OutcomeFailed {
			t.Errorf("expected failed outcome, got %s", snap.PartialResults[2].Outcome)
		}
	})

	t.Run("videos key and derived percent", func(t *testing.T) {
		server := httptest.NewServer(tu.EnvelopeHandler(map[string]any{
			"status": "completed",
			"total":  4,
			"videos": []map[string]any{{"videoId": "a"}, {"videoId": "b"}},
		}))
		defer server.Close()

		snap, err := newCollector(server.URL).FetchStatus(context.Background(), job)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if snap.CompletedCount != 2 || snap.ProgressPercent != 50 {
			t.Errorf("expected completed 2 at 50%%, got %d at %v", snap.CompletedCount, snap.ProgressPercent)
		}
	})

	t.Run("failed carries error", func(t *testing.T) {
		server := httptest.NewServer(tu.EnvelopeHandler(map[string]any{"status": "failed", "error": "crawler banned"}))
		defer server.Close()

		snap, err := newCollector(server.URL).FetchStatus(context.Background(), job)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if snap.Phase != models.PhaseFailed || snap.TerminalError != "crawler banned" {
			t.Errorf("unexpected snapshot %+v", snap)
		}
	})

	errorCases := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{"Not Found", tu.StatusHandler(http.StatusNotFound, `{"code":404,"message":"task not found"}`), shared.ErrJobNotFound},
		{"Server Error", tu.StatusHandler(http.StatusServiceUnavailable, ``), shared.ErrTransient},
		{"Business Error", tu.StatusHandler(http.StatusOK, `{"code":500,"message":"busy"}`), shared.ErrTransient},
		{"Missing Status", tu.EnvelopeHandler(map[string]any{"progress": 10}), shared.ErrProtocol},
		{"Unknown Status", tu.EnvelopeHandler(map[string]any{"status": "paused"}), shared.ErrProtocol},
		{"Not JSON", tu.StatusHandler(http.StatusOK, `<html>`), shared.ErrProtocol},
		{"Unauthorized", tu.StatusHandler(http.StatusUnauthorized, ``), shared.ErrUnauthorized},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := newCollector(server.URL).FetchStatus(context.Background(), job)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	t.Run("network failure is transient", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		_, err := newCollector(url).FetchStatus(context.Background(), job)
		if !errors.Is(err, shared.ErrTransient) {
			t.Errorf("expected ErrTransient, got %v", err)
		}
	})
}
