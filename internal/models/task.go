package models

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/desertthunder/collectx/internal/shared"
)

// JobKind identifies which backend pipeline a job runs on.
type JobKind string

const (
	KindCollect    JobKind = "collect"
	KindTranscribe JobKind = "transcribe"
)

func (k JobKind) Valid() bool {
	return k == KindCollect || k == KindTranscribe
}

// CollectMode selects the collection endpoint.
type CollectMode string

const (
	ModeVideo      CollectMode = "video"
	ModeAuthor     CollectMode = "author"
	ModeTranscribe CollectMode = "transcribe"
)

// Phase is the backend-reported state of a job.
type Phase string

const (
	PhasePending           Phase = "pending"
	PhaseProcessing        Phase = "processing"
	PhaseCompleted         Phase = "completed"
	PhaseFailed            Phase = "failed"
	PhaseInsufficientQuota Phase = "insufficient_quota"
)

// ParsePhase maps the status strings used by the collection and transcription backends onto a [Phase].
func ParsePhase(s string) (Phase, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "queued", "waiting", "created":
		return PhasePending, true
	case "processing", "running", "in_progress", "started":
		return PhaseProcessing, true
	case "completed", "complete", "success", "succeeded", "done", "finished":
		return PhaseCompleted, true
	case "failed", "failure", "error":
		return PhaseFailed, true
	case "insufficient_quota", "insufficient_points":
		return PhaseInsufficientQuota, true
	default:
		return "", false
	}
}

// Terminal reports whether no further progress is expected for the phase.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseInsufficientQuota
}

// Outcome tags how the backend produced a single result.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeFallback Outcome = "fallback"
	OutcomeFailed   Outcome = "failed"
)

// ResultItem is one result keyed by RecordID. Accepted items are never mutated.
type ResultItem struct {
	RecordID string         `json:"record_id"`
	Payload  map[string]any `json:"payload"`
	Outcome  Outcome        `json:"outcome"`
	BatchSeq int            `json:"batch_seq"`
}

// Clone returns a copy whose payload map can be handed to another goroutine.
func (r ResultItem) Clone() ResultItem {
	c := r
	if r.Payload != nil {
		c.Payload = maps.Clone(r.Payload)
	}
	return c
}

// CloneItems copies a slice of items with [ResultItem.Clone].
func CloneItems(items []ResultItem) []ResultItem {
	if items == nil {
		return nil
	}
	out := make([]ResultItem, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// StatusSnapshot is one polled status response. It is not retained past a single reconciliation step.
type StatusSnapshot struct {
	JobID           string
	Phase           Phase
	CompletedCount  int
	TotalCount      int
	ProgressPercent float64
	PartialResults  []ResultItem
	TerminalError   string
	Message         string
}

// Job is a submitted backend job.
type Job struct {
	ID          string    `json:"id"`
	Kind        JobKind   `json:"kind"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// VideoRecord pairs a table record with the video to transcribe into it.
type VideoRecord struct {
	RecordID string `json:"record_id"`
	VideoID  string `json:"video_id"`
	VideoURL string `json:"video_url,omitempty"`
}

// JobSpec describes a job to submit.
//
// Collect jobs use Mode, URLs, Fields, WithTranscription and MaxVideosPerAuthor.
// Transcribe jobs use VideoRecords, Strategy and MaxConcurrent.
type JobSpec struct {
	Kind               JobKind
	Mode               CollectMode
	URLs               []string
	Fields             []string
	WithTranscription  bool
	MaxVideosPerAuthor int
	VideoRecords       []VideoRecord
	Strategy           string
	MaxConcurrent      int
}

// Validate checks that the spec carries the inputs its kind needs.
func (s JobSpec) Validate() error {
	switch s.Kind {
	case KindCollect:
		switch s.Mode {
		case ModeVideo, ModeAuthor, ModeTranscribe:
		default:
			return fmt.Errorf("%w: unknown collect mode %q", shared.ErrInvalidInput, s.Mode)
		}
		if len(s.URLs) == 0 {
			return fmt.Errorf("%w: at least one url is required", shared.ErrInvalidInput)
		}
	case KindTranscribe:
		if len(s.VideoRecords) == 0 {
			return fmt.Errorf("%w: at least one video record is required", shared.ErrInvalidInput)
		}
		for _, r := range s.VideoRecords {
			if r.VideoID == "" && r.VideoURL == "" {
				return fmt.Errorf("%w: record %q has neither video id nor url", shared.ErrInvalidInput, r.RecordID)
			}
		}
	default:
		return fmt.Errorf("%w: unknown job kind %q", shared.ErrInvalidInput, s.Kind)
	}
	return nil
}
