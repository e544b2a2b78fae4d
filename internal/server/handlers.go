package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Vortexx09/MediaCorr/internal/history"
	"github.com/Vortexx09/MediaCorr/internal/jobs"
	"github.com/Vortexx09/MediaCorr/internal/pipeline"
)

// PipelineHandlers serves the stage trigger and status endpoints.
type PipelineHandlers struct {
	log          zerolog.Logger
	orchestrator *pipeline.Orchestrator
	history      *history.Repository
}

// NewPipelineHandlers creates pipeline handlers.
func NewPipelineHandlers(log zerolog.Logger, orchestrator *pipeline.Orchestrator, repo *history.Repository) *PipelineHandlers {
	return &PipelineHandlers{
		log:          log.With().Str("component", "pipeline_handlers").Logger(),
		orchestrator: orchestrator,
		history:      repo,
	}
}

// RegisterRoutes mounts the stage trigger, status and pipeline routes.
// Trigger routes are named after the original surface, one per stage.
func (h *PipelineHandlers) RegisterRoutes(r chi.Router) {
	r.Post("/icolcap", h.stageTrigger(pipeline.StageMarket))
	r.Post("/download", h.stageTrigger(pipeline.StageDownload))
	r.Post("/process", h.stageTrigger(pipeline.StageProcess))
	r.Post("/filter", h.stageTrigger(pipeline.StageFilter))
	r.Post("/sentiment", h.stageTrigger(pipeline.StageSentiment))
	r.Post("/analysis", h.stageTrigger(pipeline.StageAnalysis))

	r.Get("/status/{job}", h.HandleJobStatus)

	r.Route("/pipeline", func(r chi.Router) {
		r.Post("/run", h.HandleRunPipeline)
		r.Get("/runs", h.HandleRecentRuns)
	})
}

// stageTrigger builds the POST handler for a single stage. A name
// conflict with a live job is resolved by deleting the stale job and
// resubmitting, unless ?recover=false is passed.
func (h *PipelineHandlers) stageTrigger(stage string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recoverConflict := true
		if v := r.URL.Query().Get("recover"); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				h.writeError(w, http.StatusBadRequest, "invalid recover parameter")
				return
			}
			recoverConflict = parsed
		}

		runID := history.NewRunID()
		result, err := h.orchestrator.TriggerStage(r.Context(), runID, stage, recoverConflict)
		if err != nil {
			switch {
			case errors.Is(err, pipeline.ErrStageNotReady):
				h.writeError(w, http.StatusConflict, err.Error())
			case errors.Is(err, jobs.ErrDeletionTimeout):
				h.writeError(w, http.StatusGatewayTimeout, err.Error())
			default:
				h.log.Error().Err(err).Str("stage", stage).Msg("Stage trigger failed")
				h.writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}

		h.log.Info().
			Str("stage", result.Stage).
			Str("job", result.Job).
			Str("outcome", string(result.Outcome)).
			Msg("Stage triggered")

		h.writeJSON(w, http.StatusOK, map[string]any{
			"stage":  result.Stage,
			"job":    result.Job,
			"status": result.Outcome,
			"run_id": runID,
		})
	}
}

// HandleJobStatus reports the observed phase of a named job.
// GET /status/{job}
func (h *PipelineHandlers) HandleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobName := chi.URLParam(r, "job")

	status, err := h.orchestrator.Status(r.Context(), jobName)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			h.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.log.Error().Err(err).Str("job", jobName).Msg("Status lookup failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"job":       status.Name,
		"phase":     status.Phase(),
		"active":    status.Active,
		"succeeded": status.Succeeded,
		"failed":    status.Failed,
	})
}

// HandleRunPipeline starts a full pipeline run in the background and
// returns immediately with the run ID.
// POST /pipeline/run
func (h *PipelineHandlers) HandleRunPipeline(w http.ResponseWriter, r *http.Request) {
	runID := history.NewRunID()

	go func() {
		if err := h.orchestrator.RunPipelineWithID(context.Background(), runID); err != nil {
			h.log.Error().Err(err).Str("run_id", runID).Msg("Pipeline run failed")
			return
		}
		h.log.Info().Str("run_id", runID).Msg("Pipeline run finished")
	}()

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "started",
		"run_id": runID,
	})
}

// HandleRecentRuns lists recently recorded stage runs.
// GET /pipeline/runs
func (h *PipelineHandlers) HandleRecentRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = parsed
	}

	runID := r.URL.Query().Get("run_id")

	var runs []history.StageRun
	var err error
	if runID != "" {
		runs, err = h.history.ByRun(runID)
	} else {
		runs, err = h.history.Recent(limit)
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read run history")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []history.StageRun{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *PipelineHandlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *PipelineHandlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"status": "error", "message": msg})
}
