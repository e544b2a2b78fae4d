package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/Vortexx09/MediaCorr/internal/artifacts"
	"github.com/Vortexx09/MediaCorr/internal/config"
	"github.com/Vortexx09/MediaCorr/internal/database"
	"github.com/Vortexx09/MediaCorr/internal/history"
	"github.com/Vortexx09/MediaCorr/internal/jobs"
	"github.com/Vortexx09/MediaCorr/internal/pipeline"
)

func testServer(t *testing.T, repoName string) (*Server, *fake.Clientset) {
	t.Helper()

	cfg := &config.Config{
		DataDir:           t.TempDir(),
		Namespace:         "mediacorr",
		ClaimName:         "mediacorr-pvc",
		ImagePrefix:       "mediacorr",
		ImageTag:          "latest",
		ShardCount:        2,
		MaxLag:            5,
		DeletionTimeout:   time.Second,
		StagePollInterval: 2 * time.Millisecond,
		StageTimeout:      time.Second,
		Port:              8000,
	}

	clientset := fake.NewSimpleClientset()
	log := zerolog.Nop()
	controller := jobs.NewController(clientset, cfg.Namespace, log).
		WithPollInterval(time.Millisecond)
	store := artifacts.NewStore(cfg.DataDir, log)

	db, err := database.New(database.Config{
		Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", repoName),
		Name: "history",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := history.NewRepository(db)
	require.NoError(t, err)

	orchestrator := pipeline.NewOrchestrator(controller, store, repo, nil, cfg, log)

	srv := New(Config{
		Log:          log,
		Config:       cfg,
		Orchestrator: orchestrator,
		History:      repo,
		Port:         cfg.Port,
	})
	return srv, clientset
}

func TestHandleHealth(t *testing.T) {
	srv, _ := testServer(t, "srv_health")

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStageTrigger(t *testing.T) {
	t.Run("creates the stage job", func(t *testing.T) {
		srv, clientset := testServer(t, "srv_trigger_ok")

		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/icolcap", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "created", body["status"])
		assert.Equal(t, "icolcap-job", body["job"])
		assert.NotEmpty(t, body["run_id"])

		job, err := clientset.BatchV1().Jobs("mediacorr").
			Get(context.Background(), "icolcap-job", metav1.GetOptions{})
		require.NoError(t, err)
		assert.Equal(t, int32(1), *job.Spec.Parallelism)
	})

	t.Run("restarts a conflicting job by default", func(t *testing.T) {
		srv, _ := testServer(t, "srv_trigger_restart")

		first := httptest.NewRecorder()
		srv.Router().ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/icolcap", nil))
		require.Equal(t, http.StatusOK, first.Code)

		second := httptest.NewRecorder()
		srv.Router().ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/icolcap", nil))
		require.Equal(t, http.StatusOK, second.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
		assert.Equal(t, "restarted", body["status"])
	})

	t.Run("reports an existing job when recovery is off", func(t *testing.T) {
		srv, _ := testServer(t, "srv_trigger_norecover")

		first := httptest.NewRecorder()
		srv.Router().ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/icolcap", nil))
		require.Equal(t, http.StatusOK, first.Code)

		second := httptest.NewRecorder()
		srv.Router().ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/icolcap?recover=false", nil))
		require.Equal(t, http.StatusOK, second.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
		assert.Equal(t, "already_exists", body["status"])
	})

	t.Run("rejects a malformed recover parameter", func(t *testing.T) {
		srv, _ := testServer(t, "srv_trigger_badparam")

		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/icolcap?recover=maybe", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("refuses a stage with missing upstream artifacts", func(t *testing.T) {
		srv, _ := testServer(t, "srv_trigger_unready")

		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process", nil))

		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestHandleJobStatus(t *testing.T) {
	t.Run("returns the phase of a live job", func(t *testing.T) {
		srv, _ := testServer(t, "srv_status_ok")

		trigger := httptest.NewRecorder()
		srv.Router().ServeHTTP(trigger, httptest.NewRequest(http.MethodPost, "/icolcap", nil))
		require.Equal(t, http.StatusOK, trigger.Code)

		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/icolcap-job", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "icolcap-job", body["job"])
		assert.Equal(t, "Created", body["phase"])
	})

	t.Run("404 for an unknown job", func(t *testing.T) {
		srv, _ := testServer(t, "srv_status_missing")

		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/nope-job", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleRecentRuns(t *testing.T) {
	srv, _ := testServer(t, "srv_runs")

	for _, path := range []string{"/icolcap", "/download"} {
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pipeline/runs", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs []history.StageRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	// Most recent first.
	assert.Equal(t, "download", body.Runs[0].Stage)
	assert.Equal(t, "market", body.Runs[1].Stage)

	t.Run("filters by run id", func(t *testing.T) {
		runID := body.Runs[0].RunID
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pipeline/runs?run_id="+runID, nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var filtered struct {
			Runs []history.StageRun `json:"runs"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &filtered))
		require.Len(t, filtered.Runs, 1)
		assert.Equal(t, "download", filtered.Runs[0].Stage)
	})

	t.Run("rejects an invalid limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pipeline/runs?limit=zero", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleSystemStatus(t *testing.T) {
	srv, _ := testServer(t, "srv_system")

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/system/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "cpu_percent")
	assert.Contains(t, body, "memory_percent")
}
