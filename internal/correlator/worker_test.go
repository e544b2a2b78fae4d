package correlator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vortexx09/MediaCorr/internal/analysis"
	"github.com/Vortexx09/MediaCorr/internal/artifacts"
	"github.com/Vortexx09/MediaCorr/internal/shard"
)

// seedSeries writes sentiment and market artifacts yielding n joined days.
func seedSeries(t *testing.T, store *artifacts.Store, n int) {
	t.Helper()

	require.NoError(t, store.EnsureDir(artifacts.DirSentiment))

	// One record per day so the join has n points.
	var records []analysis.NewsRecord
	base := "2024-01-%02d"
	for i := 0; i < n; i++ {
		score := 0.3*float64(i%5) - 0.5
		records = append(records, analysis.NewsRecord{
			Title:          fmt.Sprintf("n%d", i),
			PublishedDate:  fmt.Sprintf(base, i+2),
			SentimentLabel: "positive",
			SentimentScore: score,
		})
	}
	data := "["
	for i, r := range records {
		if i > 0 {
			data += ","
		}
		data += fmt.Sprintf(`{"title":%q,"published_date":%q,"sentiment_label":%q,"sentiment_score":%g}`,
			r.Title, r.PublishedDate, r.SentimentLabel, r.SentimentScore)
	}
	data += "]"
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(artifacts.DirSentiment), "sentiment_part_0.json"), []byte(data), 0o644))

	require.NoError(t, store.EnsureDir(artifacts.DirMarket))
	csvData := "Date,Close\n"
	for i := 0; i <= n; i++ {
		close := 100.0 + 3.0*float64(i%4) + float64(i)
		csvData += fmt.Sprintf("2024-01-%02d,%0.2f\n", i+1, close)
	}
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(artifacts.DirMarket), "icolcap.csv"), []byte(csvData), 0o644))
}

func TestWorker_RunShard(t *testing.T) {
	store := artifacts.NewStore(t.TempDir(), zerolog.Nop())
	seedSeries(t, store, 25)

	w := New(store, 3, zerolog.Nop())
	sc, err := shard.New(0, 2)
	require.NoError(t, err)

	require.NoError(t, w.RunShard(sc))

	parts, err := store.LoadPartReports()
	require.NoError(t, err)
	require.Len(t, parts, 1)

	// Shard 0 of 2 owns even lags.
	for lag := range parts[0].Correlations {
		assert.Equal(t, 0, lag%2)
	}
}

func TestWorker_RunShard_GrangerFloorIsFatal(t *testing.T) {
	store := artifacts.NewStore(t.TempDir(), zerolog.Nop())
	seedSeries(t, store, 12)

	w := New(store, 3, zerolog.Nop())
	err := w.RunShard(shard.Single())
	assert.ErrorIs(t, err, analysis.ErrInsufficientGrangerData)

	_, loadErr := store.LoadPartReports()
	if loadErr == nil {
		parts, _ := store.LoadPartReports()
		assert.Empty(t, parts, "no partial report below the data floor")
	}
}

func TestWorker_ShardsThenAggregate(t *testing.T) {
	store := artifacts.NewStore(t.TempDir(), zerolog.Nop())
	seedSeries(t, store, 30)

	const maxLag = 4
	w := New(store, maxLag, zerolog.Nop())

	for index := 0; index < 2; index++ {
		sc, err := shard.New(index, 2)
		require.NoError(t, err)
		require.NoError(t, w.RunShard(sc))
	}

	require.NoError(t, w.Aggregate(context.Background(), nil))

	merged, err := store.LoadFinalReport()
	require.NoError(t, err)

	// The merged report covers the union of both shards' lag sets, and
	// matches a single-worker run exactly.
	points, err := store.LoadJoinedSeries()
	require.NoError(t, err)
	full, err := analysis.Compute(points, maxLag, shard.Single())
	require.NoError(t, err)

	assert.Equal(t, full.Correlations, merged.Correlations)
	assert.Equal(t, full.Granger, merged.Granger)
}

func TestWorker_AggregateWithoutParts(t *testing.T) {
	store := artifacts.NewStore(t.TempDir(), zerolog.Nop())

	w := New(store, 3, zerolog.Nop())
	err := w.Aggregate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoPartialReports)
}
