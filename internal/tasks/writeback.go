package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/collectx/internal/models"
	"github.com/desertthunder/collectx/internal/shared"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	DefaultBatchSize  = 10
	DefaultBatchDelay = 100 * time.Millisecond
)

// TableStore is the subset of the table API the write-back engine needs.
type TableStore interface {
	ListFields(ctx context.Context, target models.Target) ([]models.TableField, error)
	CreateField(ctx context.Context, target models.Target, name string, typ models.FieldType) (models.TableField, error)
	BatchCreate(ctx context.Context, target models.Target, records []models.TableRecord) ([]models.TableRecord, error)
	BatchUpdate(ctx context.Context, target models.Target, records []models.TableRecord) ([]models.TableRecord, error)
}

// RecordLister is implemented by stores that can list a table's existing records.
type RecordLister interface {
	ListRecords(ctx context.Context, target models.Target) ([]models.TableRecord, error)
}

// WriteOpts configures a [WriteBackEngine].
type WriteOpts struct {
	BatchSize  int
	BatchDelay time.Duration
	Now        func() time.Time
	Location   *time.Location // for date strings without a zone
	Logger     *log.Logger
}

// WriteBackEngine resolves table schemas and writes reconciled results in paced batches.
type WriteBackEngine struct {
	store  TableStore
	opts   WriteOpts
	conv   converter
	flight singleflight.Group
}

func NewWriteBackEngine(store TableStore, opts WriteOpts) *WriteBackEngine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}
	return &WriteBackEngine{
		store: store,
		opts:  opts,
		conv:  converter{now: opts.Now, loc: opts.Location},
	}
}

// fatal reports errors that no retry against the same store can recover from.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, shared.ErrAuthExpired)
}

// EnsureSchema resolves every logical key in required to a field on target, creating missing fields.
//
// Labels match exactly. Missing fields are created with [FieldTypeFor] the key; concurrent calls for the
// same target and label share one creation, and a creation that loses to an existing field adopts it.
// A field that cannot be created is logged and left out of the result. Only a failure to list fields,
// expired credentials or cancellation return an error.
func (w *WriteBackEngine) EnsureSchema(ctx context.Context, target models.Target, required map[string]string) (map[string]models.SchemaField, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: target needs an app token and a table id", shared.ErrInvalidInput)
	}
	logger := shared.WithLogger(w.opts.Logger, "target", target.Key())

	existing, err := w.store.ListFields(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrStoreUnavailable, err)
	}
	byLabel := make(map[string]models.TableField, len(existing))
	for _, f := range existing {
		byLabel[f.Name] = f
	}

	keys := make([]string, 0, len(required))
	for k := range required {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]models.SchemaField, len(required))
	for _, key := range keys {
		label := required[key]
		field, ok := byLabel[label]
		if !ok {
			field, err = w.createField(ctx, target, label, FieldTypeFor(key))
			if err != nil {
				if fatal(ctx, err) || errors.Is(err, shared.ErrStoreUnavailable) {
					return nil, err
				}
				logger.Warn("field unavailable, skipping", "key", key, "label", label, "error", err)
				continue
			}
			byLabel[label] = field
		}
		out[key] = models.SchemaField{ExternalID: field.ID, LogicalName: key, Label: label, Type: field.Type}
	}

	logger.Debug("schema resolved", "required", len(required), "resolved", len(out))
	return out, nil
}

// createField creates label once per target across concurrent callers.
func (w *WriteBackEngine) createField(ctx context.Context, target models.Target, label string, typ models.FieldType) (models.TableField, error) {
	ch := w.flight.DoChan(target.Key()+"\x00"+label, func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		field, err := w.store.CreateField(ctx, target, label, typ)
		if err == nil {
			return field, nil
		}
		if !errors.Is(err, shared.ErrFieldConflict) {
			return nil, err
		}

		w.opts.Logger.Debug("field already exists, adopting", "target", target.Key(), "label", label)
		fields, listErr := w.store.ListFields(ctx, target)
		if listErr != nil {
			return nil, fmt.Errorf("%w: %w", shared.ErrStoreUnavailable, listErr)
		}
		for _, f := range fields {
			if f.Name == label {
				return f, nil
			}
		}
		return nil, fmt.Errorf("%w: %q reported as existing but not listed", shared.ErrFieldConflict, label)
	})

	select {
	case <-ctx.Done():
		return models.TableField{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.TableField{}, res.Err
		}
		return res.Val.(models.TableField), nil
	}
}

// pending is one converted record with the result item it came from.
type pending struct {
	recordID string
	record   models.TableRecord
}

// Write inserts one record per result.
//
// Every field in fieldMap is written; empty payload values get the field type's default. Records go out in
// batches paced by the configured delay, and a failed batch is retried record by record. Each result is
// counted exactly once as a success or a failure. Records the store acknowledged are never sent again.
// Expired credentials or cancellation stop the write; records not yet sent are counted as failed and the
// error is returned with the report.
func (w *WriteBackEngine) Write(ctx context.Context, target models.Target, results []models.ResultItem, fieldMap map[string]models.SchemaField) (*models.WriteReport, error) {
	report := &models.WriteReport{}
	if len(results) == 0 {
		return report, nil
	}

	fields := sortedFields(fieldMap)
	batch := make([]pending, 0, len(results))
	for _, item := range results {
		rec := models.TableRecord{Fields: make(map[string]any, len(fields))}
		for _, f := range fields {
			rec.Fields[f.Label] = w.conv.Convert(item.Payload[f.LogicalName], f.Type)
		}
		batch = append(batch, pending{recordID: item.RecordID, record: rec})
	}

	return report, w.send(ctx, target, batch, report, w.store.BatchCreate)
}

// Update writes payload fields into existing records, using each item's RecordID as the record id.
//
// Only fields present in the payload are sent. Items without a record id, failed items and items with no
// mapped values are skipped. Accounting and batching follow [WriteBackEngine.Write].
func (w *WriteBackEngine) Update(ctx context.Context, target models.Target, updates []models.ResultItem, fieldMap map[string]models.SchemaField) (*models.WriteReport, error) {
	report := &models.WriteReport{}
	fields := sortedFields(fieldMap)

	batch := make([]pending, 0, len(updates))
	for _, item := range updates {
		switch {
		case item.RecordID == "":
			report.Skipped("", "no record id")
			continue
		case item.Outcome == models.OutcomeFailed:
			report.Skipped(item.RecordID, "result failed")
			continue
		}

		rec := models.TableRecord{ID: item.RecordID, Fields: make(map[string]any)}
		for _, f := range fields {
			if v, ok := item.Payload[f.LogicalName]; ok && !isEmpty(v) {
				rec.Fields[f.Label] = w.conv.Convert(v, f.Type)
			}
		}
		if len(rec.Fields) == 0 {
			report.Skipped(item.RecordID, "no mapped values")
			continue
		}
		batch = append(batch, pending{recordID: item.RecordID, record: rec})
	}

	if len(batch) == 0 {
		return report, nil
	}
	return report, w.send(ctx, target, batch, report, w.store.BatchUpdate)
}

type batchFunc func(ctx context.Context, target models.Target, records []models.TableRecord) ([]models.TableRecord, error)

func (w *WriteBackEngine) send(ctx context.Context, target models.Target, items []pending, report *models.WriteReport, call batchFunc) error {
	logger := shared.WithLogger(w.opts.Logger, "target", target.Key())

	var limiter *rate.Limiter
	if w.opts.BatchDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(w.opts.BatchDelay), 1)
	}

	for done := 0; done < len(items); done += w.opts.BatchSize {
		chunk := items[done:min(done+w.opts.BatchSize, len(items))]
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				abandon(items[done:], report, err)
				return err
			}
		}

		records := make([]models.TableRecord, len(chunk))
		for i, p := range chunk {
			records[i] = p.record
		}

		written, err := call(ctx, target, records)
		if err == nil {
			acknowledge(chunk, written, report, logger)
			continue
		}
		if fatal(ctx, err) {
			abandon(items[done:], report, err)
			return err
		}

		logger.Warn("batch failed, retrying records individually", "size", len(chunk), "error", err)
		for i, p := range chunk {
			one, err := call(ctx, target, []models.TableRecord{p.record})
			switch {
			case err == nil && len(one) == 0:
				err = fmt.Errorf("%w: store returned no record", shared.ErrProtocol)
				logger.Warn("record failed", "record", p.recordID, "error", err)
				report.Failed(p.recordID, err)
			case err == nil:
				id := p.recordID
				if one[0].ID != "" {
					id = one[0].ID
				}
				report.Succeeded(id)
			case fatal(ctx, err):
				abandon(items[done+i:], report, err)
				return err
			default:
				logger.Warn("record failed", "record", p.recordID, "error", err)
				report.Failed(p.recordID, err)
			}
		}
	}

	logger.Info("write finished", "success", report.SuccessCount, "failed", report.FailedCount, "skipped", report.SkippedCount)
	return nil
}

// acknowledge counts a batch the store accepted. Records the store did not echo back are failures; the batch
// is never sent again since the store may already hold them.
func acknowledge(chunk []pending, written []models.TableRecord, report *models.WriteReport, logger *log.Logger) {
	if len(written) > len(chunk) {
		logger.Warn("store returned extra records", "sent", len(chunk), "returned", len(written))
		written = written[:len(chunk)]
	}
	for i, rec := range written {
		id := rec.ID
		if id == "" {
			id = chunk[i].recordID
		}
		report.Succeeded(id)
	}
	if len(written) == len(chunk) {
		return
	}

	err := fmt.Errorf("%w: sent %d records, store returned %d", shared.ErrProtocol, len(chunk), len(written))
	logger.Warn("batch partially acknowledged", "error", err)
	for _, p := range chunk[len(written):] {
		report.Failed(p.recordID, err)
	}
}

// abandon marks records that were never sent as failed so the report still covers every input.
func abandon(rest []pending, report *models.WriteReport, err error) {
	for _, p := range rest {
		report.Failed(p.recordID, err)
	}
}

// sortedFields orders the field map by logical key so record fields are built deterministically.
func sortedFields(fieldMap map[string]models.SchemaField) []models.SchemaField {
	fields := make([]models.SchemaField, 0, len(fieldMap))
	for key, f := range fieldMap {
		if f.LogicalName == "" {
			f.LogicalName = key
		}
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].LogicalName < fields[j].LogicalName })
	return fields
}

// SkipExisting drops results whose payload value for key already appears in the label column of target.
//
// It returns the remaining results in order and how many were dropped. Results with an empty value for key
// are kept.
func (w *WriteBackEngine) SkipExisting(ctx context.Context, target models.Target, results []models.ResultItem, key, label string) ([]models.ResultItem, int, error) {
	lister, ok := w.store.(RecordLister)
	if !ok {
		return nil, 0, fmt.Errorf("%w: store cannot list records", shared.ErrServiceUnavailable)
	}
	records, err := lister.ListRecords(ctx, target)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", shared.ErrStoreUnavailable, err)
	}

	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if v := cellText(rec.Fields[label]); v != "" {
			seen[v] = struct{}{}
		}
	}

	kept := make([]models.ResultItem, 0, len(results))
	for _, item := range results {
		if v := item.Payload[key]; !isEmpty(v) {
			if _, dup := seen[toText(v)]; dup {
				continue
			}
		}
		kept = append(kept, item)
	}

	skipped := len(results) - len(kept)
	w.opts.Logger.Debug("existing records checked", "target", target.Key(), "records", len(records), "skipped", skipped)
	return kept, skipped, nil
}

// cellText reads a text cell, which the store returns either as a string or as a list of {text} segments.
func cellText(v any) string {
	segments, ok := v.([]any)
	if !ok {
		if v == nil {
			return ""
		}
		return toText(v)
	}
	var b strings.Builder
	for _, seg := range segments {
		if m, ok := seg.(map[string]any); ok {
			if t, ok := m["text"].(string); ok {
				b.WriteString(t)
			}
		}
	}
	return b.String()
}
