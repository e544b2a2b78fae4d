// Package correlator implements the analysis-stage worker: each shard
// computes its assigned lags over the joined daily series and writes a
// partial report; the aggregation step merges the parts and produces the
// cluster-wide artifacts once all shards have completed.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/Vortexx09/MediaCorr/internal/analysis"
	"github.com/Vortexx09/MediaCorr/internal/artifacts"
	"github.com/Vortexx09/MediaCorr/internal/shard"
)

// ErrNoPartialReports is returned by Aggregate when no shard has written
// a partial report yet.
var ErrNoPartialReports = errors.New("no partial reports on the shared volume")

// MirrorTarget receives final analysis artifacts after aggregation.
type MirrorTarget interface {
	MirrorAnalysis(ctx context.Context, store *artifacts.Store) error
}

// Worker runs the causality analysis against the shared volume.
type Worker struct {
	store  *artifacts.Store
	maxLag int
	log    zerolog.Logger
}

// New creates an analysis worker.
func New(store *artifacts.Store, maxLag int, log zerolog.Logger) *Worker {
	return &Worker{
		store:  store,
		maxLag: maxLag,
		log:    log.With().Str("component", "correlator").Logger(),
	}
}

// RunShard computes the shard's assigned lags and writes the partial
// report under a filename embedding the shard index. The Granger data
// floor is fatal for the invocation: no partial report is written then.
func (w *Worker) RunShard(sc shard.Context) error {
	points, err := w.store.LoadJoinedSeries()
	if err != nil {
		return err
	}

	w.log.Info().
		Str("shard", sc.String()).
		Int("points", len(points)).
		Int("max_lag", w.maxLag).
		Msg("Computing assigned lags")

	report, err := analysis.Compute(points, w.maxLag, sc)
	if err != nil {
		return err
	}

	if err := w.store.WritePartReport(sc, report); err != nil {
		return err
	}

	w.log.Info().
		Str("shard", sc.String()).
		Int("correlations", len(report.Correlations)).
		Int("granger", len(report.Granger)).
		Msg("Partial report written")
	return nil
}

// Aggregate merges all shards' partial reports into the final report and
// computes the cluster-wide artifacts (rolling correlation, combined
// series). It must run only after every shard of the stage has completed;
// that gating removes the single-writer race of a "shard 0 writes global
// artifacts" convention. mirror may be nil.
func (w *Worker) Aggregate(ctx context.Context, mirror MirrorTarget) error {
	parts, err := w.store.LoadPartReports()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNoPartialReports
		}
		return err
	}
	if len(parts) == 0 {
		return ErrNoPartialReports
	}

	merged := analysis.MergeReports(parts)
	if err := w.store.WriteFinalReport(merged); err != nil {
		return err
	}

	points, err := w.store.LoadJoinedSeries()
	if err != nil {
		return err
	}
	if err := w.store.WriteRollingCorrelation(analysis.RollingCorrelation(points, analysis.RollingWindow)); err != nil {
		return err
	}
	if err := w.store.WriteCombinedSeries(points); err != nil {
		return err
	}

	w.log.Info().
		Int("parts", len(parts)).
		Int("lags", len(merged.Correlations)).
		Msg("Partial reports merged")

	if mirror != nil {
		if err := mirror.MirrorAnalysis(ctx, w.store); err != nil {
			return fmt.Errorf("mirroring analysis artifacts: %w", err)
		}
	}
	return nil
}
