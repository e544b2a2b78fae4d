package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Vortexx09/MediaCorr/internal/artifacts"
	"github.com/Vortexx09/MediaCorr/internal/config"
	"github.com/Vortexx09/MediaCorr/internal/correlator"
	"github.com/Vortexx09/MediaCorr/internal/history"
	"github.com/Vortexx09/MediaCorr/internal/jobs"
)

// ErrStageNotReady is returned when a stage's required upstream artifacts
// are missing from the shared volume.
var ErrStageNotReady = errors.New("upstream artifacts not ready")

// ErrStageFailed is returned when a stage job reaches the Failed phase.
// The orchestrator never auto-retries a failed stage.
var ErrStageFailed = errors.New("stage failed")

// ErrUnknownStage is returned for a trigger naming no catalog stage.
var ErrUnknownStage = errors.New("unknown stage")

// Mirror is the optional artifact mirror the orchestrator pushes final
// analysis outputs to.
type Mirror interface {
	MirrorAnalysis(ctx context.Context, store *artifacts.Store) error
}

// Orchestrator sequences pipeline stages through the job controller. It is
// the only layer aware of inter-stage ordering; the controller only knows
// individual named jobs.
type Orchestrator struct {
	controller *jobs.Controller
	store      *artifacts.Store
	repo       *history.Repository
	mirror     Mirror // nil disables mirroring
	cfg        *config.Config
	log        zerolog.Logger
}

// NewOrchestrator wires the orchestrator.
func NewOrchestrator(controller *jobs.Controller, store *artifacts.Store, repo *history.Repository, mirror Mirror, cfg *config.Config, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		controller: controller,
		store:      store,
		repo:       repo,
		mirror:     mirror,
		cfg:        cfg,
		log:        log.With().Str("component", "orchestrator").Logger(),
	}
}

// TriggerResult is what the API surface reports for a stage trigger.
type TriggerResult struct {
	Stage   string       `json:"stage"`
	Job     string       `json:"job"`
	Outcome jobs.Outcome `json:"status"`
}

// TriggerStage submits a single stage. With recover set, a name conflict
// tears down the stale job and resubmits; otherwise the conflict is
// reported as already_exists and nothing is touched.
func (o *Orchestrator) TriggerStage(ctx context.Context, runID, stageName string, recover bool) (TriggerResult, error) {
	stage, ok := StageByName(stageName)
	if !ok {
		return TriggerResult{}, fmt.Errorf("%w: %q", ErrUnknownStage, stageName)
	}

	for _, required := range stage.Requires {
		if !o.store.StageReady(required) {
			return TriggerResult{}, fmt.Errorf("%w: stage %q requires %q artifacts", ErrStageNotReady, stage.Name, required)
		}
	}

	// Stale partial reports from an earlier run with a different shard
	// count would poison the disjoint merge, so the analysis stage always
	// starts from a clean slate.
	if stage.Name == StageAnalysis {
		if err := o.store.ClearPartReports(); err != nil {
			return TriggerResult{}, err
		}
	}

	spec := buildSpec(stage, o.cfg)

	var outcome jobs.Outcome
	var err error
	if recover {
		outcome, err = o.controller.SubmitWithRecovery(ctx, spec, o.cfg.DeletionTimeout)
	} else {
		outcome, err = o.controller.Submit(ctx, spec)
	}
	if err != nil {
		return TriggerResult{}, err
	}

	if o.repo != nil {
		if _, recErr := o.repo.RecordTrigger(runID, stage.Name, stage.JobName, string(outcome)); recErr != nil {
			o.log.Warn().Err(recErr).Str("stage", stage.Name).Msg("Failed to record stage trigger")
		}
	}

	o.log.Info().Str("stage", stage.Name).Str("outcome", string(outcome)).Msg("Stage triggered")
	return TriggerResult{Stage: stage.Name, Job: stage.JobName, Outcome: outcome}, nil
}

// Status reports the replica counts of a stage's job by job name.
func (o *Orchestrator) Status(ctx context.Context, jobName string) (jobs.Status, error) {
	return o.controller.Status(ctx, jobName)
}

// RunPipeline executes the full stage sequence, waiting for each job to
// finish before the next is submitted, then merges the analysis shards'
// partial reports into the final artifacts. A failed stage aborts the run.
func (o *Orchestrator) RunPipeline(ctx context.Context) (string, error) {
	runID := history.NewRunID()
	return runID, o.RunPipelineWithID(ctx, runID)
}

// RunPipelineWithID is RunPipeline with a caller-supplied run ID, so the
// ID can be handed out before the run starts.
func (o *Orchestrator) RunPipelineWithID(ctx context.Context, runID string) error {
	o.log.Info().Str("run_id", runID).Msg("Pipeline run started")

	for _, stage := range Catalog {
		if err := o.runStage(ctx, runID, stage); err != nil {
			return fmt.Errorf("pipeline run %s: %w", runID, err)
		}
	}

	if err := o.Aggregate(ctx); err != nil {
		return fmt.Errorf("pipeline run %s: %w", runID, err)
	}

	o.log.Info().Str("run_id", runID).Msg("Pipeline run completed")
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, runID string, stage Stage) error {
	result, err := o.TriggerStage(ctx, runID, stage.Name, true)
	if err != nil {
		return err
	}

	status, err := o.controller.AwaitCompletion(ctx, result.Job, o.cfg.StagePollInterval, o.cfg.StageTimeout)
	if err != nil {
		return err
	}

	phase := status.Phase()
	if o.repo != nil {
		runs, byRunErr := o.repo.ByRun(runID)
		if byRunErr == nil && len(runs) > 0 {
			last := runs[len(runs)-1]
			if err := o.repo.MarkFinished(last.ID, string(phase), ""); err != nil {
				o.log.Warn().Err(err).Str("stage", stage.Name).Msg("Failed to record stage completion")
			}
		}
	}

	if phase == jobs.PhaseFailed {
		return fmt.Errorf("%w: %q (%d failed replicas)", ErrStageFailed, stage.Name, status.Failed)
	}

	if !o.store.StageReady(stage.Produces) {
		return fmt.Errorf("%w: stage %q succeeded but produced no %q artifacts", ErrStageNotReady, stage.Name, stage.Produces)
	}

	o.log.Info().Str("stage", stage.Name).Str("phase", string(phase)).Msg("Stage completed")
	return nil
}

// Aggregate merges the analysis shards' partial reports and produces the
// cluster-wide artifacts (rolling correlation and the combined series).
// It runs strictly after all analysis shards have completed, which removes
// the single-writer race a "shard 0 computes global artifacts" convention
// would carry.
func (o *Orchestrator) Aggregate(ctx context.Context) error {
	worker := correlator.New(o.store, o.cfg.MaxLag, o.log)
	err := worker.Aggregate(ctx, o.mirror)
	if errors.Is(err, correlator.ErrNoPartialReports) {
		return fmt.Errorf("%w: %v", ErrStageNotReady, err)
	}
	return err
}
