package analysis

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/Vortexx09/MediaCorr/internal/shard"
)

const (
	// MinCorrelationObs is the minimum number of aligned observations for
	// a lag's correlation to be reported. Lags below the threshold are
	// omitted from the report, not reported as zero.
	MinCorrelationObs = 10

	// MinGrangerObs is the minimum number of fully aligned observations
	// for the Granger test to run at all.
	MinGrangerObs = 20

	// SignificanceLevel is the p-value threshold for the Granger
	// significance flag.
	SignificanceLevel = 0.05

	correlationDecimals = 4
	pValueDecimals      = 6
)

// ErrInsufficientGrangerData is returned when the joined series has fewer
// than MinGrangerObs aligned observations. No partial result is produced.
var ErrInsufficientGrangerData = errors.New("insufficient data for Granger test")

// LagCorrelation is one lag's Pearson correlation between the sentiment
// series shifted forward by the lag and the unshifted return series.
type LagCorrelation struct {
	Correlation float64 `json:"correlation"`
	NObs        int     `json:"n_obs"`
}

// GrangerResult is one lag's Granger F-test outcome. Significant is
// evaluated on the unrounded p-value.
type GrangerResult struct {
	PValue      float64 `json:"p_value"`
	Significant bool    `json:"significant_5pct"`
}

// LaggedCorrelation computes, for each lag in the shard's assigned subset
// of 0..maxLag, the Pearson correlation between sentiment shifted forward
// by the lag and the return series. Pairing sentiment[i-lag] with
// return[i] drops the first lag rows; lags left with fewer than
// MinCorrelationObs pairs, or with a degenerate (constant) series, are
// omitted.
func LaggedCorrelation(points []DailyPoint, maxLag int, sc shard.Context) map[int]LagCorrelation {
	results := make(map[int]LagCorrelation)

	for _, lag := range shard.Partition(shard.LagRange(maxLag), sc) {
		n := len(points) - lag
		if n < MinCorrelationObs {
			continue
		}

		sentiment := make([]float64, n)
		ret := make([]float64, n)
		for i := 0; i < n; i++ {
			sentiment[i] = points[i].AvgSentiment
			ret[i] = points[i+lag].LogReturn
		}

		corr := stat.Correlation(sentiment, ret, nil)
		if math.IsNaN(corr) {
			continue
		}

		results[lag] = LagCorrelation{
			Correlation: round(corr, correlationDecimals),
			NObs:        n,
		}
	}

	return results
}

// GrangerTest runs the SSR-based F-test for Granger causality from
// sentiment to returns, for each lag 1..maxLag within the shard's
// assigned lag subset. The restricted model regresses the return on its
// own past; the unrestricted model adds the sentiment's past at the same
// lag depth. Lags without enough residual degrees of freedom are omitted.
func GrangerTest(points []DailyPoint, maxLag int, sc shard.Context) (map[int]GrangerResult, error) {
	n := len(points)
	if n < MinGrangerObs {
		return nil, fmt.Errorf("%w: %d aligned observations, need %d", ErrInsufficientGrangerData, n, MinGrangerObs)
	}

	ret := make([]float64, n)
	sentiment := make([]float64, n)
	for i, p := range points {
		ret[i] = p.LogReturn
		sentiment[i] = p.AvgSentiment
	}

	results := make(map[int]GrangerResult)

	for _, lag := range shard.Partition(shard.LagRange(maxLag), sc) {
		if lag < 1 {
			continue
		}

		nObs := n - lag
		dfDenom := nObs - 2*lag - 1
		if dfDenom < 1 {
			continue
		}

		y := ret[lag:]

		// Restricted: y_t ~ 1 + y_{t-1..t-lag}.
		restricted := mat.NewDense(nObs, lag+1, nil)
		// Unrestricted: adds x_{t-1..t-lag}.
		unrestricted := mat.NewDense(nObs, 2*lag+1, nil)
		for row := 0; row < nObs; row++ {
			restricted.Set(row, 0, 1)
			unrestricted.Set(row, 0, 1)
			for j := 1; j <= lag; j++ {
				restricted.Set(row, j, ret[row+lag-j])
				unrestricted.Set(row, j, ret[row+lag-j])
				unrestricted.Set(row, lag+j, sentiment[row+lag-j])
			}
		}

		rssRestricted, ok := residualSumOfSquares(y, restricted)
		if !ok {
			continue
		}
		rssUnrestricted, ok := residualSumOfSquares(y, unrestricted)
		if !ok || rssUnrestricted <= 0 {
			continue
		}

		f := ((rssRestricted - rssUnrestricted) / float64(lag)) / (rssUnrestricted / float64(dfDenom))
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		if f < 0 {
			f = 0
		}

		dist := distuv.F{D1: float64(lag), D2: float64(dfDenom)}
		p := dist.Survival(f)

		results[lag] = GrangerResult{
			PValue:      round(p, pValueDecimals),
			Significant: p < SignificanceLevel,
		}
	}

	return results, nil
}

// residualSumOfSquares fits y = Xb by least squares and returns the sum of
// squared residuals. ok is false when the design matrix is rank deficient.
func residualSumOfSquares(y []float64, x *mat.Dense) (float64, bool) {
	rows, cols := x.Dims()

	var qr mat.QR
	qr.Factorize(x)

	b := mat.NewVecDense(rows, y)
	beta := mat.NewVecDense(cols, nil)
	if err := qr.SolveVecTo(beta, false, b); err != nil {
		return 0, false
	}

	fitted := mat.NewVecDense(rows, nil)
	fitted.MulVec(x, beta)

	var rss float64
	for i := 0; i < rows; i++ {
		r := y[i] - fitted.AtVec(i)
		rss += r * r
	}
	if math.IsNaN(rss) {
		return 0, false
	}
	return rss, true
}

func round(x float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(x*scale) / scale
}
