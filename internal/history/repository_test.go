package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vortexx09/MediaCorr/internal/database"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	db, err := database.New(database.Config{
		Path: "file:history_test?mode=memory&cache=shared",
		Name: "history",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := NewRepository(db)
	require.NoError(t, err)
	return repo
}

func TestRepository_RecordAndFinish(t *testing.T) {
	repo := newTestRepository(t)

	runID := NewRunID()
	id, err := repo.RecordTrigger(runID, "analysis", "correlator-job", "created")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, repo.MarkFinished(id, "Succeeded", ""))

	runs, err := repo.Recent(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, runID, run.RunID)
	assert.Equal(t, "analysis", run.Stage)
	assert.Equal(t, "correlator-job", run.JobName)
	assert.Equal(t, "created", run.Outcome)
	assert.Equal(t, "Succeeded", run.Phase)
	require.NotNil(t, run.FinishedAt)
}

func TestRepository_ByRun(t *testing.T) {
	repo := newTestRepository(t)

	runID := NewRunID()
	otherRun := NewRunID()

	_, err := repo.RecordTrigger(runID, "download", "sources-job", "created")
	require.NoError(t, err)
	_, err = repo.RecordTrigger(runID, "filter", "filter-job", "restarted")
	require.NoError(t, err)
	_, err = repo.RecordTrigger(otherRun, "market", "icolcap-job", "created")
	require.NoError(t, err)

	runs, err := repo.ByRun(runID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "download", runs[0].Stage)
	assert.Equal(t, "filter", runs[1].Stage)
}

func TestRepository_RecordsFailures(t *testing.T) {
	repo := newTestRepository(t)

	id, err := repo.RecordTrigger(NewRunID(), "analysis", "correlator-job", "created")
	require.NoError(t, err)
	require.NoError(t, repo.MarkFinished(id, "Failed", "deletion timeout exceeded"))

	runs, err := repo.Recent(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "Failed", runs[0].Phase)
	assert.Contains(t, runs[0].Error, "timeout")
}
