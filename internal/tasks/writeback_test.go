package tasks

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/collectx/internal/models"
	"github.com/desertthunder/collectx/internal/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var target = models.Target{AppToken: "app1", TableID: "tbl1"}

func newTestWriter(store TableStore) *WriteBackEngine {
	clk := newClock()
	return NewWriteBackEngine(store, WriteOpts{BatchDelay: -1, Now: clk.Now, Location: time.UTC})
}

func TestEnsureSchema(t *testing.T) {
	t.Run("uses existing and creates missing", func(t *testing.T) {
		store := newMemoryStore(models.TableField{ID: "fldA", Name: "标题", Type: models.FieldText})
		w := newTestWriter(store)

		got, err := w.EnsureSchema(context.Background(), target, Labels("title", "share_url", "digg_count"))
		require.NoError(t, err)
		require.Len(t, got, 3)

		assert.Equal(t, "fldA", got["title"].ExternalID)
		assert.Equal(t, models.FieldURL, got["share_url"].Type)
		assert.Equal(t, models.FieldText, got["digg_count"].Type)
		assert.Equal(t, 0, store.createCount("标题"))
		assert.Equal(t, 1, store.createCount("视频链接"))
	})

	t.Run("keeps store type for existing fields", func(t *testing.T) {
		store := newMemoryStore(models.TableField{ID: "fldA", Name: "点赞数", Type: models.FieldNumber})
		got, err := newTestWriter(store).EnsureSchema(context.Background(), target, Labels("digg_count"))
		require.NoError(t, err)
		assert.Equal(t, models.FieldNumber, got["digg_count"].Type)
	})

	t.Run("concurrent calls create each field once", func(t *testing.T) {
		store := newMemoryStore()
		store.delay = 20 * time.Millisecond
		w := newTestWriter(store)

		var wg sync.WaitGroup
		results := make([]map[string]models.SchemaField, 8)
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := w.EnsureSchema(context.Background(), target, TranscriptionLabels)
				assert.NoError(t, err)
				results[i] = got
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, store.fieldCount("视频转写内容"))
		for _, got := range results {
			assert.Equal(t, "视频转写内容", got["transcription"].Label)
		}
	})

	t.Run("adopts field created by someone else", func(t *testing.T) {
		store := newMemoryStore()
		store.conflict = true
		got, err := newTestWriter(store).EnsureSchema(context.Background(), target, TranscriptionLabels)
		require.NoError(t, err)
		assert.Equal(t, "fld1", got["transcription"].ExternalID)
	})

	t.Run("skips fields that cannot be created", func(t *testing.T) {
		store := newMemoryStore(models.TableField{ID: "fldA", Name: "标题"})
		store.createErr = fmt.Errorf("%w: field limit reached", shared.ErrAPIRequest)

		got, err := newTestWriter(store).EnsureSchema(context.Background(), target, Labels("title", "play_count"))
		require.NoError(t, err)
		assert.Contains(t, got, "title")
		assert.NotContains(t, got, "play_count")
	})

	t.Run("expired credentials stop resolution", func(t *testing.T) {
		store := newMemoryStore()
		store.createErr = shared.ErrAuthExpired
		_, err := newTestWriter(store).EnsureSchema(context.Background(), target, Labels("title"))
		assert.ErrorIs(t, err, shared.ErrAuthExpired)
	})

	t.Run("list failure", func(t *testing.T) {
		store := newMemoryStore()
		store.listErr = fmt.Errorf("%w: dial tcp", shared.ErrTransient)
		_, err := newTestWriter(store).EnsureSchema(context.Background(), target, Labels("title"))
		assert.ErrorIs(t, err, shared.ErrStoreUnavailable)
	})

	t.Run("invalid target", func(t *testing.T) {
		_, err := newTestWriter(newMemoryStore()).EnsureSchema(context.Background(), models.Target{AppToken: "app1"}, Labels("title"))
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})
}

func fieldMap() map[string]models.SchemaField {
	return map[string]models.SchemaField{
		"title":       {ExternalID: "f1", Label: "标题", Type: models.FieldText},
		"create_time": {ExternalID: "f2", Label: "发布时间戳", Type: models.FieldDate},
		"digg_count":  {ExternalID: "f3", Label: "点赞数", Type: models.FieldText},
		"play_count":  {ExternalID: "f4", Label: "播放量", Type: models.FieldNumber},
	}
}

func numbered(n int) []models.ResultItem {
	out := make([]models.ResultItem, n)
	for i := range out {
		out[i] = models.ResultItem{
			RecordID: fmt.Sprintf("v%d", i+1),
			Payload: map[string]any{
				"title":       fmt.Sprintf("video %d", i+1),
				"create_time": 1714564800,
				"digg_count":  "1.2w",
				"play_count":  "3,456",
			},
			Outcome: models.OutcomeOK,
		}
	}
	return out
}

func TestWrite(t *testing.T) {
	t.Run("writes all records", func(t *testing.T) {
		store := newMemoryStore()
		report, err := newTestWriter(store).Write(context.Background(), target, numbered(25), fieldMap())
		require.NoError(t, err)

		assert.Equal(t, 25, report.SuccessCount)
		assert.Zero(t, report.FailedCount)
		assert.Len(t, report.WrittenIDs, 25)
		assert.Equal(t, 3, store.batches)

		rec := store.records[0]
		assert.Equal(t, "video 1", rec.Fields["标题"])
		assert.Equal(t, int64(1714564800000), rec.Fields["发布时间戳"])
		assert.Equal(t, "1.2w", rec.Fields["点赞数"])
		assert.Equal(t, float64(3456), rec.Fields["播放量"])
	})

	t.Run("falls back to single records", func(t *testing.T) {
		store := newMemoryStore()
		store.failIf = titleIs("video 4")

		report, err := newTestWriter(store).Write(context.Background(), target, numbered(10), fieldMap())
		require.NoError(t, err)
		assert.Equal(t, 9, report.SuccessCount)
		assert.Equal(t, 1, report.FailedCount)
		assert.Equal(t, "v4", report.Failures[0].RecordID)
		assert.Equal(t, 10, report.Total())
	})

	t.Run("bad values still write", func(t *testing.T) {
		store := newMemoryStore()
		input := numbered(10)
		input[3].Payload["create_time"] = "not a date"
		input[5].Payload["play_count"] = nil
		delete(input[6].Payload, "title")

		report, err := newTestWriter(store).Write(context.Background(), target, input, fieldMap())
		require.NoError(t, err)
		assert.Equal(t, 10, report.SuccessCount)

		now := newClock().Now().UnixMilli()
		assert.Equal(t, now, store.records[3].Fields["发布时间戳"])
		assert.Equal(t, float64(0), store.records[5].Fields["播放量"])
		assert.Equal(t, "", store.records[6].Fields["标题"])
	})

	t.Run("empty input", func(t *testing.T) {
		store := newMemoryStore()
		report, err := newTestWriter(store).Write(context.Background(), target, nil, fieldMap())
		require.NoError(t, err)
		assert.Zero(t, report.Total())
		assert.Zero(t, store.batches)
	})

	t.Run("fatal store error stops", func(t *testing.T) {
		store := newMemoryStore()
		store.batchErr = fmt.Errorf("%w: refresh rejected", shared.ErrAuthExpired)

		report, err := newTestWriter(store).Write(context.Background(), target, numbered(15), fieldMap())
		assert.ErrorIs(t, err, shared.ErrAuthExpired)
		assert.Zero(t, report.SuccessCount)
		assert.Equal(t, 15, report.FailedCount)
		assert.Equal(t, 1, store.batches)
	})

	t.Run("connection reset on one batch", func(t *testing.T) {
		store := newMemoryStore()
		store.failBatch = 2

		report, err := newTestWriter(store).Write(context.Background(), target, numbered(25), fieldMap())
		require.NoError(t, err)
		assert.Equal(t, 25, report.SuccessCount+report.FailedCount)
		assert.Equal(t, 25, report.SuccessCount)
		assert.Len(t, store.records, 25)
	})

	t.Run("short acknowledgement is not replayed", func(t *testing.T) {
		store := newMemoryStore()
		store.short = 1

		report, err := newTestWriter(store).Write(context.Background(), target, numbered(10), fieldMap())
		require.NoError(t, err)
		assert.Equal(t, 1, store.batches)
		assert.Len(t, store.records, 10)
		assert.Equal(t, 9, report.SuccessCount)
		assert.Equal(t, 1, report.FailedCount)
		assert.Equal(t, "v10", report.Failures[0].RecordID)
		assert.Contains(t, report.Failures[0].Error, shared.ErrProtocol.Error())
		assert.Equal(t, 10, report.Total())
	})

	t.Run("every record accounted once", func(t *testing.T) {
		for _, n := range []int{1, 9, 10, 11, 37} {
			store := newMemoryStore()
			store.failIf = func(r models.TableRecord) bool {
				s, _ := r.Fields["标题"].(string)
				return len(s) > 0 && s[len(s)-1] == '7'
			}
			report, err := newTestWriter(store).Write(context.Background(), target, numbered(n), fieldMap())
			require.NoError(t, err)
			assert.Equal(t, n, report.SuccessCount+report.FailedCount, "n=%d", n)
		}
	})

	t.Run("paces batches", func(t *testing.T) {
		store := newMemoryStore()
		w := NewWriteBackEngine(store, WriteOpts{BatchSize: 2, BatchDelay: 10 * time.Millisecond})

		start := time.Now()
		_, err := w.Write(context.Background(), target, numbered(6), fieldMap())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
		assert.Equal(t, 3, store.batches)
	})
}

func TestUpdate(t *testing.T) {
	labels := map[string]models.SchemaField{
		"transcription": {ExternalID: "f1", Label: "视频转写内容", Type: models.FieldLongText},
	}

	t.Run("skips unusable items", func(t *testing.T) {
		store := newMemoryStore()
		input := []models.ResultItem{
			{RecordID: "rec1", Payload: map[string]any{"transcription": "hello"}, Outcome: models.OutcomeOK},
			{RecordID: "", Payload: map[string]any{"transcription": "orphan"}, Outcome: models.OutcomeOK},
			{RecordID: "rec3", Payload: map[string]any{"transcription": "partial"}, Outcome: models.OutcomeFailed},
			{RecordID: "rec4", Payload: map[string]any{"transcription": ""}, Outcome: models.OutcomeOK},
			{RecordID: "rec5", Payload: map[string]any{"transcription": "fallback"}, Outcome: models.OutcomeFallback},
		}

		report, err := newTestWriter(store).Update(context.Background(), target, input, labels)
		require.NoError(t, err)

		assert.Equal(t, 2, report.SuccessCount)
		assert.Equal(t, 3, report.SkippedCount)
		assert.Equal(t, []string{"rec1", "rec5"}, report.WrittenIDs)
		assert.Equal(t, len(input), report.Total())
		require.Len(t, store.records, 2)
		assert.Equal(t, "rec1", store.records[0].ID)
		assert.Equal(t, "hello", store.records[0].Fields["视频转写内容"])
	})

	t.Run("nothing to update", func(t *testing.T) {
		store := newMemoryStore()
		report, err := newTestWriter(store).Update(context.Background(), target, []models.ResultItem{{RecordID: ""}}, labels)
		require.NoError(t, err)
		assert.Equal(t, 1, report.SkippedCount)
		assert.Zero(t, store.batches)
	})
}

func TestSkipExisting(t *testing.T) {
	existing := func() *memoryStore {
		store := newMemoryStore()
		store.records = []models.TableRecord{
			{ID: "rec1", Fields: map[string]any{"视频ID": "v1"}},
			{ID: "rec2", Fields: map[string]any{"视频ID": []any{map[string]any{"type": "text", "text": "v2"}}}},
		}
		return store
	}
	results := []models.ResultItem{
		{RecordID: "v1", Payload: map[string]any{"aweme_id": "v1"}},
		{RecordID: "v2", Payload: map[string]any{"aweme_id": "v2"}},
		{RecordID: "v3", Payload: map[string]any{"aweme_id": "v3"}},
		{RecordID: "x", Payload: map[string]any{"title": "no id"}},
	}

	t.Run("drops results already in the table", func(t *testing.T) {
		kept, skipped, err := newTestWriter(existing()).SkipExisting(context.Background(), target, results, "aweme_id", "视频ID")
		require.NoError(t, err)
		assert.Equal(t, 2, skipped)
		assert.Equal(t, []string{"v3", "x"}, ids(kept))
	})

	t.Run("list failure", func(t *testing.T) {
		store := existing()
		store.listErr = fmt.Errorf("%w: dial tcp", shared.ErrTransient)
		_, _, err := newTestWriter(store).SkipExisting(context.Background(), target, results, "aweme_id", "视频ID")
		assert.ErrorIs(t, err, shared.ErrStoreUnavailable)
	})

	t.Run("store without record listing", func(t *testing.T) {
		w := newTestWriter(struct{ TableStore }{existing()})
		_, _, err := w.SkipExisting(context.Background(), target, results, "aweme_id", "视频ID")
		assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	})
}
