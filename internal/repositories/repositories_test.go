package repositories

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/desertthunder/collectx/internal/models"
	"github.com/desertthunder/collectx/internal/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	require.NoError(t, err, "failed to create test database")
	shared.ConfigureDatabase(db, 1, 1)

	require.NoError(t, shared.RunMigrations(db), "failed to run migrations")
	t.Cleanup(func() { db.Close() })
	return db
}

func newJob(id string) models.Job {
	return models.Job{ID: id, Kind: models.KindCollect, SubmittedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestJobRepository(t *testing.T) {
	t.Run("Create", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t))

		first := models.NewJobRecord(0, newJob("task-1"))
		second := models.NewJobRecord(0, newJob("task-2"))
		require.NoError(t, repo.Create(first))
		require.NoError(t, repo.Create(second))

		assert.NotEmpty(t, first.ID())
		assert.Equal(t, 1, first.Sequence())
		assert.Equal(t, 2, second.Sequence())
	})

	t.Run("Get", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t))
		rec := models.NewJobRecord(0, newJob("task-1"))
		require.NoError(t, repo.Create(rec))

		got, err := repo.Get(rec.ID())
		require.NoError(t, err)
		assert.Equal(t, "task-1", got.RemoteID())
		assert.Equal(t, models.KindCollect, got.Kind())
		assert.Equal(t, models.JobRunning, got.Outcome())
		assert.Nil(t, got.FinishedAt())
		assert.True(t, got.SubmittedAt().Equal(rec.SubmittedAt()))

		bySeq, err := repo.GetBySequence(rec.Sequence())
		require.NoError(t, err)
		assert.Equal(t, rec.ID(), bySeq.ID())

		byRemote, err := repo.GetByRemoteID("task-1")
		require.NoError(t, err)
		assert.Equal(t, rec.ID(), byRemote.ID())
	})

	t.Run("Update", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t))
		rec := models.NewJobRecord(0, newJob("task-1"))
		require.NoError(t, repo.Create(rec))

		rec.SetProgress(3, 5)
		rec.Finish(models.JobQuotaExhausted, "insufficient points", time.Now().UTC())
		require.NoError(t, repo.Update(rec))

		got, err := repo.Get(rec.ID())
		require.NoError(t, err)
		assert.Equal(t, models.JobQuotaExhausted, got.Outcome())
		assert.Equal(t, 3, got.CompletedCount())
		assert.Equal(t, 5, got.TotalCount())
		assert.Equal(t, "insufficient points", got.ErrorMessage())
		assert.NotNil(t, got.FinishedAt())
	})

	t.Run("Delete", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t))
		rec := models.NewJobRecord(0, newJob("task-1"))
		require.NoError(t, repo.Create(rec))

		require.NoError(t, repo.Delete(rec.ID()))
		_, err := repo.Get(rec.ID())
		assert.ErrorIs(t, err, ErrJobRecordNotFound)
		assert.ErrorIs(t, repo.Delete(rec.ID()), ErrJobRecordNotFound)
	})

	t.Run("List", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t))
		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, repo.Create(models.NewJobRecord(0, newJob(id))))
		}
		transcribe := models.NewJobRecord(0, models.Job{ID: "t", Kind: models.KindTranscribe, SubmittedAt: time.Now()})
		require.NoError(t, repo.Create(transcribe))

		all, err := repo.List(nil)
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, "t", all[0].RemoteID(), "newest first")

		collect, err := repo.List(map[string]any{"kind": "collect", "limit": 2})
		require.NoError(t, err)
		assert.Len(t, collect, 2)
	})
}

func TestJobRepositoryErrors(t *testing.T) {
	repo := NewJobRepository(setupTestDB(t))

	t.Run("Validation", func(t *testing.T) {
		err := repo.Create(models.NewJobRecord(0, models.Job{Kind: models.KindCollect, SubmittedAt: time.Now()}))
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.Get("missing")
		assert.ErrorIs(t, err, ErrJobRecordNotFound)

		rec := models.NewJobRecord(0, newJob("x"))
		rec.SetID("missing")
		assert.ErrorIs(t, repo.Update(rec), ErrJobRecordNotFound)
	})
}

func items(ids ...string) []models.ResultItem {
	out := make([]models.ResultItem, len(ids))
	for i, id := range ids {
		out[i] = models.ResultItem{RecordID: id, Payload: map[string]any{"title": "video " + id}, Outcome: models.OutcomeOK, BatchSeq: 1}
	}
	return out
}

func TestResultRepository(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	jobs := NewJobRepository(db)
	results := NewResultRepository(db)

	rec := models.NewJobRecord(0, newJob("task-1"))
	require.NoError(t, jobs.Create(rec))

	n, err := results.SaveItems(ctx, rec.ID(), items("b", "a"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = results.SaveItems(ctx, rec.ID(), items("a", "c"))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "stored record ids are ignored")

	got, err := results.ListByJob(ctx, rec.ID())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].RecordID)
	assert.Equal(t, "a", got[1].RecordID)
	assert.Equal(t, "c", got[2].RecordID)
	assert.Equal(t, "video a", got[1].Payload["title"])
	assert.Equal(t, models.OutcomeOK, got[1].Outcome)

	count, err := results.Count(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	n, err = results.SaveItems(ctx, rec.ID(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCredentialRepository(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewCredentialRepository(db, "")
	assert.Equal(t, "default", repo.Scope())

	tok, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)

	expiry := time.UnixMilli(1714564800123)
	require.NoError(t, repo.Save(ctx, &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: expiry}))

	tok, err = repo.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "a1", tok.AccessToken)
	assert.Equal(t, "r1", tok.RefreshToken)
	assert.True(t, tok.Expiry.Equal(expiry))

	require.NoError(t, repo.Save(ctx, &oauth2.Token{AccessToken: "a2", RefreshToken: "r2"}))
	tok, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a2", tok.AccessToken)
	assert.True(t, tok.Expiry.IsZero())

	other := NewCredentialRepository(db, "bitable")
	tok, err = other.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok, "scopes are separate")

	assert.ErrorIs(t, repo.Save(ctx, &oauth2.Token{}), shared.ErrMissingCredentials)

	require.NoError(t, repo.Clear(ctx))
	tok, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestJobHistory(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	h := NewJobHistory(db)
	job := newJob("task-1")

	require.NoError(t, h.RecordSubmitted(ctx, job))
	require.NoError(t, h.RecordItems(ctx, job, items("a", "b")))
	require.NoError(t, h.RecordItems(ctx, job, items("c")))
	require.NoError(t, h.RecordFinished(ctx, job, models.JobCompleted, 3, 3, ""))

	rec, err := h.Jobs.GetByRemoteID("task-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, rec.Outcome())
	assert.Equal(t, 3, rec.CompletedCount())

	got, err := h.Results.ListByJob(ctx, rec.ID())
	require.NoError(t, err)
	assert.Len(t, got, 3)

	t.Run("resumed jobs reuse their row", func(t *testing.T) {
		resumed := NewJobHistory(db)
		require.NoError(t, resumed.RecordSubmitted(ctx, job))
		require.NoError(t, resumed.RecordItems(ctx, job, items("c", "d")))

		all, err := resumed.Jobs.List(map[string]any{"remote_id": "task-1"})
		require.NoError(t, err)
		assert.Len(t, all, 1)

		got, err := resumed.Results.ListByJob(ctx, rec.ID())
		require.NoError(t, err)
		assert.Len(t, got, 4)
	})

	t.Run("items before submission create the row", func(t *testing.T) {
		other := newJob("task-2")
		require.NoError(t, h.RecordItems(ctx, other, items("x")))
		_, err := h.Jobs.GetByRemoteID("task-2")
		assert.NoError(t, err)
	})
}
