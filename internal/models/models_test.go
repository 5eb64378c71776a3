package models

import (
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/collectx/internal/shared"
)

func TestParsePhase(t *testing.T) {
	tc := []struct {
		in       string
		want     Phase
		ok       bool
		terminal bool
	}{
		{"pending", PhasePending, true, false},
		{"Processing", PhaseProcessing, true, false},
		{"running", PhaseProcessing, true, false},
		{"completed", PhaseCompleted, true, true},
		{"success", PhaseCompleted, true, true},
		{"failed", PhaseFailed, true, true},
		{"insufficient_points", PhaseInsufficientQuota, true, true},
		{"", "", false, false},
		{"paused", "", false, false},
	}

	for _, tt := range tc {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParsePhase(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("ParsePhase(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
			if got.Terminal() != tt.terminal {
				t.Errorf("Terminal() = %v, want %v", got.Terminal(), tt.terminal)
			}
		})
	}
}

func TestResultItemClone(t *testing.T) {
	orig := ResultItem{RecordID: "a", Payload: map[string]any{"title": "x"}, Outcome: OutcomeOK}
	c := orig.Clone()
	c.Payload["title"] = "changed"

	if orig.Payload["title"] != "x" {
		t.Error("clone should not share the payload map")
	}

	if CloneItems(nil) != nil {
		t.Error("CloneItems(nil) should be nil")
	}
}

func TestJobSpecValidate(t *testing.T) {
	tc := []struct {
		name    string
		spec    JobSpec
		wantErr bool
	}{
		{"collect video", JobSpec{Kind: KindCollect, Mode: ModeVideo, URLs: []string{"https://v.douyin.com/x"}}, false},
		{"collect without urls", JobSpec{Kind: KindCollect, Mode: ModeAuthor}, true},
		{"collect unknown mode", JobSpec{Kind: KindCollect, Mode: "playlist", URLs: []string{"u"}}, true},
		{"transcribe", JobSpec{Kind: KindTranscribe, VideoRecords: []VideoRecord{{RecordID: "rec1", VideoID: "v1"}}}, false},
		{"transcribe empty", JobSpec{Kind: KindTranscribe}, true},
		{"transcribe without video", JobSpec{Kind: KindTranscribe, VideoRecords: []VideoRecord{{RecordID: "rec1"}}}, true},
		{"unknown kind", JobSpec{Kind: "export"}, true},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				if !errors.Is(err, shared.ErrInvalidInput) {
					t.Errorf("expected ErrInvalidInput, got %v", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestFieldTypeCodes(t *testing.T) {
	for _, ft := range []FieldType{FieldText, FieldLongText, FieldNumber, FieldURL, FieldDate, FieldBoolean} {
		if got := FieldTypeFromCode(ft.Code()); got != ft {
			t.Errorf("round trip of %s gave %s", ft, got)
		}
	}
	if FieldTypeFromCode(99) != FieldText {
		t.Error("unknown codes should read as text")
	}
}

func TestWriteReport(t *testing.T) {
	r := &WriteReport{}
	r.Succeeded("rec1")
	r.Failed("b", errors.New("boom"))
	r.Skipped("c", "no record id")

	if r.Total() != 3 {
		t.Errorf("expected total 3, got %d", r.Total())
	}
	if len(r.WrittenIDs) != 1 || r.WrittenIDs[0] != "rec1" {
		t.Errorf("unexpected written ids %v", r.WrittenIDs)
	}
	if len(r.Failures) != 2 {
		t.Errorf("expected 2 failure entries, got %d", len(r.Failures))
	}
}

func TestJobRecord(t *testing.T) {
	t.Run("lifecycle", func(t *testing.T) {
		submitted := time.Now()
		rec := NewJobRecord(1, Job{ID: "task-1", Kind: KindCollect, SubmittedAt: submitted})
		if rec.Outcome() != JobRunning {
			t.Errorf("expected running, got %s", rec.Outcome())
		}
		if err := rec.Validate(); err != nil {
			t.Fatalf("unexpected validation error: %v", err)
		}

		rec.SetProgress(2, 3)
		rec.Finish(JobTimedOut, "poll timeout", submitted.Add(time.Minute))

		if !rec.Outcome().Partial() {
			t.Error("timed out outcome should be partial")
		}
		if rec.FinishedAt() == nil {
			t.Error("expected finished time")
		}
		if rec.Job().ID != "task-1" {
			t.Errorf("unexpected job id %s", rec.Job().ID)
		}
	})

	t.Run("validation", func(t *testing.T) {
		rec := NewJobRecord(1, Job{Kind: KindCollect, SubmittedAt: time.Now()})
		if err := rec.Validate(); err == nil {
			t.Error("expected error for missing remote id")
		}

		rec = NewJobRecord(1, Job{ID: "x", Kind: "bogus", SubmittedAt: time.Now()})
		if err := rec.Validate(); err == nil {
			t.Error("expected error for invalid kind")
		}

		rec = NewJobRecord(1, Job{ID: "x", Kind: KindTranscribe})
		if err := rec.Validate(); err == nil {
			t.Error("expected error for zero submitted time")
		}
	})
}
