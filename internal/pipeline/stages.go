// Package pipeline sequences the MediaCorr stages as cluster jobs:
// market + download feed process, filter, sentiment, and finally the
// sharded analysis stage, whose partial reports the orchestrator merges.
package pipeline

import (
	"strconv"

	"github.com/Vortexx09/MediaCorr/internal/artifacts"
	"github.com/Vortexx09/MediaCorr/internal/config"
	"github.com/Vortexx09/MediaCorr/internal/jobs"
)

// Stage names, used as API surface and history keys.
const (
	StageMarket    = "market"
	StageDownload  = "download"
	StageProcess   = "process"
	StageFilter    = "filter"
	StageSentiment = "sentiment"
	StageAnalysis  = "analysis"
)

// Stage describes one pipeline stage: which worker image runs it, which
// artifacts it consumes and produces, and whether it shards.
type Stage struct {
	// Name is the stage identifier on the trigger surface.
	Name string

	// Worker is the image name suffix, e.g. "correlator".
	Worker string

	// JobName is the cluster job name; unique per stage.
	JobName string

	// Produces is the artifact directory the stage writes.
	Produces string

	// Requires lists artifact directories that must be non-empty before
	// the stage may be submitted. Enforced by the orchestrator; the
	// controller itself knows nothing about ordering.
	Requires []string

	// Sharded stages run with the configured shard count; others with a
	// single replica.
	Sharded bool
}

// Catalog is the stage set in execution order for a full pipeline run.
// Market data is fetched first so the analysis join has both sides.
var Catalog = []Stage{
	{
		Name:     StageMarket,
		Worker:   "icolcap",
		JobName:  "icolcap-job",
		Produces: artifacts.DirMarket,
	},
	{
		Name:     StageDownload,
		Worker:   "sources",
		JobName:  "sources-job",
		Produces: artifacts.DirRaw,
		Sharded:  true,
	},
	{
		Name:     StageProcess,
		Worker:   "ingestor",
		JobName:  "ingestor-job",
		Produces: artifacts.DirParsed,
		Requires: []string{artifacts.DirRaw},
		Sharded:  true,
	},
	{
		Name:     StageFilter,
		Worker:   "filter",
		JobName:  "filter-job",
		Produces: artifacts.DirFiltered,
		Requires: []string{artifacts.DirParsed},
		Sharded:  true,
	},
	{
		Name:     StageSentiment,
		Worker:   "classifier",
		JobName:  "classifier-job",
		Produces: artifacts.DirSentiment,
		Requires: []string{artifacts.DirFiltered},
		Sharded:  true,
	},
	{
		Name:     StageAnalysis,
		Worker:   "correlator",
		JobName:  "correlator-job",
		Produces: artifacts.DirAnalysis,
		Requires: []string{artifacts.DirSentiment, artifacts.DirMarket},
		Sharded:  true,
	},
}

// StageByName looks a stage up in the catalog.
func StageByName(name string) (Stage, bool) {
	for _, stage := range Catalog {
		if stage.Name == name {
			return stage, true
		}
	}
	return Stage{}, false
}

// buildSpec turns a stage into a validated job spec using the deployment
// configuration. Stage parameters travel as string env values.
func buildSpec(stage Stage, cfg *config.Config) jobs.Spec {
	parallelism := 1
	if stage.Sharded {
		parallelism = cfg.ShardCount
	}

	env := map[string]string{
		"START":       cfg.MarketStart,
		"END":         cfg.MarketEnd,
		"MAX_RECORDS": strconv.Itoa(cfg.MaxRecords),
	}
	if stage.Name == StageAnalysis {
		env["MAX_LAG"] = strconv.Itoa(cfg.MaxLag)
	}

	return jobs.Spec{
		Name:        stage.JobName,
		Image:       cfg.StageImage(stage.Worker),
		Command:     []string{"/app/" + stage.Worker},
		Parallelism: parallelism,
		Env:         env,
		ClaimName:   cfg.ClaimName,
	}
}
