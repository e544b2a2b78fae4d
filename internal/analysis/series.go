// Package analysis implements the causality analysis over the joined daily
// sentiment / market-return series: per-lag Pearson correlation, the
// Granger F-test, partial-report merging, and the aggregation artifacts
// (rolling correlation, combined series).
package analysis

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// NewsRecord is one classified article as read from the sentiment stage's
// artifacts. Records with a missing or unparseable published date are
// dropped before aggregation.
type NewsRecord struct {
	Title          string  `json:"title"`
	URL            string  `json:"url,omitempty"`
	PublishedDate  string  `json:"published_date"`
	SentimentLabel string  `json:"sentiment_label"`
	SentimentScore float64 `json:"sentiment_score"`
}

// recordDateLayouts are the timestamp shapes the upstream stages emit.
var recordDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Day parses the record's published date and truncates it to a UTC
// calendar day. ok is false when the date is missing or unparseable.
func (r NewsRecord) Day() (time.Time, bool) {
	for _, layout := range recordDateLayouts {
		if ts, err := time.Parse(layout, r.PublishedDate); err == nil {
			return ts.UTC().Truncate(24 * time.Hour), true
		}
	}
	return time.Time{}, false
}

// SentimentDay is a per-calendar-day aggregate of classified articles.
type SentimentDay struct {
	Date            time.Time `json:"date"`
	AvgSentiment    float64   `json:"avg_sentiment"`
	MedianSentiment float64   `json:"median_sentiment"`
	MinSentiment    float64   `json:"min_sentiment"`
	MaxSentiment    float64   `json:"max_sentiment"`
	NewsCount       int       `json:"news_count"`
	NegativeRatio   float64   `json:"negative_ratio"`
}

// MarketBar is one daily close from the market stage's artifacts.
type MarketBar struct {
	Date  time.Time
	Close float64
}

// DailyPoint is one row of the joined analysis series: a calendar day for
// which both a sentiment aggregate and a market log-return exist.
type DailyPoint struct {
	Date            time.Time `json:"date"`
	AvgSentiment    float64   `json:"avg_sentiment"`
	MedianSentiment float64   `json:"median_sentiment"`
	MinSentiment    float64   `json:"min_sentiment"`
	MaxSentiment    float64   `json:"max_sentiment"`
	NewsCount       int       `json:"news_count"`
	NegativeRatio   float64   `json:"negative_ratio"`
	LogReturn       float64   `json:"daily_return"`
}

// AggregateDaily groups classified records by UTC calendar day and
// computes the per-day sentiment aggregates. Output is sorted by date.
func AggregateDaily(records []NewsRecord) []SentimentDay {
	byDay := make(map[time.Time][]NewsRecord)
	for _, r := range records {
		day, ok := r.Day()
		if !ok {
			continue
		}
		byDay[day] = append(byDay[day], r)
	}

	days := make([]SentimentDay, 0, len(byDay))
	for day, group := range byDay {
		scores := make([]float64, len(group))
		var negatives int
		for i, r := range group {
			scores[i] = r.SentimentScore
			if r.SentimentLabel == "negative" {
				negatives++
			}
		}
		sort.Float64s(scores)

		days = append(days, SentimentDay{
			Date:            day,
			AvgSentiment:    stat.Mean(scores, nil),
			MedianSentiment: median(scores),
			MinSentiment:    scores[0],
			MaxSentiment:    scores[len(scores)-1],
			NewsCount:       len(group),
			NegativeRatio:   float64(negatives) / float64(len(group)),
		})
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
	return days
}

// LogReturns converts sorted daily bars into per-day log returns keyed by
// date. The first bar has no predecessor and yields no return; bars with
// non-positive closes are skipped.
func LogReturns(bars []MarketBar) map[time.Time]float64 {
	sorted := make([]MarketBar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	returns := make(map[time.Time]float64, len(sorted))
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.Close <= 0 || cur.Close <= 0 {
			continue
		}
		returns[cur.Date.UTC().Truncate(24*time.Hour)] = math.Log(cur.Close) - math.Log(prev.Close)
	}
	return returns
}

// JoinDaily inner-joins the daily sentiment aggregates with the market
// log-returns on calendar day. Days missing either side are excluded.
// Output is sorted by date, one point per day.
func JoinDaily(sentiment []SentimentDay, returns map[time.Time]float64) []DailyPoint {
	points := make([]DailyPoint, 0, len(sentiment))
	for _, day := range sentiment {
		ret, ok := returns[day.Date]
		if !ok {
			continue
		}
		points = append(points, DailyPoint{
			Date:            day.Date,
			AvgSentiment:    day.AvgSentiment,
			MedianSentiment: day.MedianSentiment,
			MinSentiment:    day.MinSentiment,
			MaxSentiment:    day.MaxSentiment,
			NewsCount:       day.NewsCount,
			NegativeRatio:   day.NegativeRatio,
			LogReturn:       ret,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points
}

// median expects scores to be sorted ascending and non-empty.
func median(scores []float64) float64 {
	n := len(scores)
	if n%2 == 1 {
		return scores[n/2]
	}
	return (scores[n/2-1] + scores[n/2]) / 2
}
