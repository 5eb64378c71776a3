package tasks

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/desertthunder/collectx/internal/models"
	"github.com/desertthunder/collectx/internal/shared"
)

// clock is a manual clock whose Sleep advances time instead of blocking.
type clock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps int
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps++
	return nil
}

type step struct {
	snap *models.StatusSnapshot
	err  error
}

// scriptedClient replays status steps in order and repeats the last one.
type scriptedClient struct {
	kind      models.JobKind
	submitErr error
	steps     []step
	fetches   atomic.Int32
	onFetch   func(n int)
}

func (c *scriptedClient) Kind() models.JobKind { return c.kind }

func (c *scriptedClient) Submit(ctx context.Context, spec models.JobSpec) (models.Job, error) {
	if c.submitErr != nil {
		return models.Job{}, c.submitErr
	}
	return models.Job{ID: "task-1", Kind: c.kind}, nil
}

func (c *scriptedClient) FetchStatus(ctx context.Context, job models.Job) (*models.StatusSnapshot, error) {
	n := int(c.fetches.Add(1))
	if c.onFetch != nil {
		c.onFetch(n)
	}
	i := min(n-1, len(c.steps)-1)
	s := c.steps[i]
	if s.err != nil {
		return nil, s.err
	}
	snap := *s.snap
	snap.PartialResults = models.CloneItems(s.snap.PartialResults)
	return &snap, nil
}

// fetchingClient also serves final results.
type fetchingClient struct {
	*scriptedClient
	results []models.ResultItem
	err     error
}

func (c *fetchingClient) FetchResults(ctx context.Context, job models.Job) ([]models.ResultItem, error) {
	return models.CloneItems(c.results), c.err
}

func items(ids ...string) []models.ResultItem {
	out := make([]models.ResultItem, len(ids))
	for i, id := range ids {
		out[i] = models.ResultItem{RecordID: id, Payload: map[string]any{"title": "video " + id}, Outcome: models.OutcomeOK}
	}
	return out
}

func snapshot(phase models.Phase, completed, total int, ids ...string) step {
	return step{snap: &models.StatusSnapshot{
		JobID:          "task-1",
		Phase:          phase,
		CompletedCount: completed,
		TotalCount:     total,
		PartialResults: items(ids...),
	}}
}

func ids(items []models.ResultItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.RecordID
	}
	return out
}

// memoryStore is an in-memory table. failIf makes record-level writes fail.
type memoryStore struct {
	mu        sync.Mutex
	fields    []models.TableField
	records   []models.TableRecord
	creates   map[string]int
	listErr   error
	createErr error
	batchErr  error
	failBatch int
	short     int
	failIf    func(rec models.TableRecord) bool
	conflict  bool
	delay     time.Duration
	batches   int
}

func newMemoryStore(existing ...models.TableField) *memoryStore {
	return &memoryStore{fields: existing, creates: make(map[string]int)}
}

func (s *memoryStore) ListFields(ctx context.Context, target models.Target) ([]models.TableField, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]models.TableField(nil), s.fields...), nil
}

func (s *memoryStore) CreateField(ctx context.Context, target models.Target, name string, typ models.FieldType) (models.TableField, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates[name]++
	if s.createErr != nil {
		return models.TableField{}, s.createErr
	}
	for _, f := range s.fields {
		if f.Name == name {
			return models.TableField{}, fmt.Errorf("%w: %s", shared.ErrFieldConflict, name)
		}
	}
	f := models.TableField{ID: fmt.Sprintf("fld%d", len(s.fields)+1), Name: name, Type: typ}
	s.fields = append(s.fields, f)
	if s.conflict {
		return models.TableField{}, fmt.Errorf("%w: %s", shared.ErrFieldConflict, name)
	}
	return f, nil
}

func (s *memoryStore) BatchCreate(ctx context.Context, target models.Target, records []models.TableRecord) ([]models.TableRecord, error) {
	return s.write(records, false)
}

func (s *memoryStore) BatchUpdate(ctx context.Context, target models.Target, records []models.TableRecord) ([]models.TableRecord, error) {
	return s.write(records, true)
}

func (s *memoryStore) write(records []models.TableRecord, update bool) ([]models.TableRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	if s.batchErr != nil {
		return nil, s.batchErr
	}
	if s.failBatch == s.batches {
		return nil, fmt.Errorf("%w: request failed: connection reset", shared.ErrStoreUnavailable)
	}
	if s.failIf != nil {
		for _, r := range records {
			if s.failIf(r) {
				return nil, fmt.Errorf("%w: rejected record", shared.ErrAPIRequest)
			}
		}
	}
	out := make([]models.TableRecord, len(records))
	for i, r := range records {
		if !update {
			r.ID = fmt.Sprintf("rec%d", len(s.records)+1)
		}
		s.records = append(s.records, r)
		out[i] = r
	}
	return out[:max(len(out)-s.short, 0)], nil
}

func (s *memoryStore) ListRecords(ctx context.Context, target models.Target) ([]models.TableRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return slices.Clone(s.records), nil
}

func (s *memoryStore) createCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates[name]
}

func (s *memoryStore) fieldCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.fields {
		if f.Name == name {
			n++
		}
	}
	return n
}

func titleIs(value string) func(models.TableRecord) bool {
	return func(r models.TableRecord) bool {
		s, _ := r.Fields["标题"].(string)
		return strings.EqualFold(s, value)
	}
}
