package analysis

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// RollingWindow is the fixed window, in trading days, for the rolling
// correlation artifact produced by the aggregation step.
const RollingWindow = 20

// RollingPoint is the correlation over the window ending on Date.
type RollingPoint struct {
	Date        time.Time `json:"date"`
	Correlation float64   `json:"correlation"`
}

// RollingCorrelation computes the windowed Pearson correlation between the
// sentiment and return series. Windows with a degenerate series yield no
// point. This runs once per stage run, in the aggregation step after all
// shards have completed.
func RollingCorrelation(points []DailyPoint, window int) []RollingPoint {
	if window < 2 || len(points) < window {
		return nil
	}

	sentiment := make([]float64, len(points))
	ret := make([]float64, len(points))
	for i, p := range points {
		sentiment[i] = p.AvgSentiment
		ret[i] = p.LogReturn
	}

	rolling := make([]RollingPoint, 0, len(points)-window+1)
	for end := window; end <= len(points); end++ {
		corr := stat.Correlation(sentiment[end-window:end], ret[end-window:end], nil)
		if math.IsNaN(corr) {
			continue
		}
		rolling = append(rolling, RollingPoint{
			Date:        points[end-1].Date,
			Correlation: corr,
		})
	}
	return rolling
}
