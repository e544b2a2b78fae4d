package analysis

import (
	"github.com/Vortexx09/MediaCorr/internal/shard"
)

// Report maps lags to their correlation and Granger results. A shard's
// report covers only its assigned lag subset; a lag missing from every
// shard simply had insufficient data. Lag keys are disjoint across shards
// by construction of the partitioner, so merging is a plain key union.
type Report struct {
	MaxLag       int                    `json:"max_lag"`
	Observations int                    `json:"n_observations"`
	Correlations map[int]LagCorrelation `json:"lagged_correlation"`
	Granger      map[int]GrangerResult  `json:"granger"`
}

// Compute runs the full causality analysis for the shard's assigned lags.
// The Granger data floor applies to the whole invocation: below
// MinGrangerObs no partial report is produced at all.
func Compute(points []DailyPoint, maxLag int, sc shard.Context) (Report, error) {
	granger, err := GrangerTest(points, maxLag, sc)
	if err != nil {
		return Report{}, err
	}

	return Report{
		MaxLag:       maxLag,
		Observations: len(points),
		Correlations: LaggedCorrelation(points, maxLag, sc),
		Granger:      granger,
	}, nil
}

// MergeReports unions per-shard partial reports into one. Since each lag
// is owned by exactly one shard no conflict-resolution rule is needed; an
// absent lag key means that shard found insufficient data for it.
func MergeReports(parts []Report) Report {
	merged := Report{
		Correlations: make(map[int]LagCorrelation),
		Granger:      make(map[int]GrangerResult),
	}

	for _, part := range parts {
		if part.MaxLag > merged.MaxLag {
			merged.MaxLag = part.MaxLag
		}
		if part.Observations > merged.Observations {
			merged.Observations = part.Observations
		}
		for lag, corr := range part.Correlations {
			merged.Correlations[lag] = corr
		}
		for lag, granger := range part.Granger {
			merged.Granger[lag] = granger
		}
	}

	return merged
}
