// Package artifacts manages the shared-volume layout through which
// pipeline stages exchange files. Every stage of a run mounts the same
// volume; a stage reads its upstream directory and writes its own. Sharded
// stages embed the shard index in output filenames, which keeps writers
// disjoint without locks.
package artifacts

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Vortexx09/MediaCorr/internal/analysis"
	"github.com/Vortexx09/MediaCorr/internal/shard"
)

// Stage artifact directories under the volume root.
const (
	DirRaw       = "raw"
	DirParsed    = "parsed"
	DirFiltered  = "filtered"
	DirSentiment = "sentiment"
	DirMarket    = "market"
	DirAnalysis  = "analysis"
)

const (
	marketFile      = "icolcap.csv"
	finalReportFile = "analysis_report.json"
	rollingFile     = "rolling_correlation.json"
	combinedFile    = "sentiment_vs_market.json"
	partPrefix      = "summary_part_"
)

// Store reads and writes stage artifacts under a single volume root.
type Store struct {
	root string
	log  zerolog.Logger
}

// NewStore creates a store rooted at the shared mount point.
func NewStore(root string, log zerolog.Logger) *Store {
	return &Store{
		root: root,
		log:  log.With().Str("component", "artifact_store").Logger(),
	}
}

// Dir returns the absolute path of a stage directory.
func (s *Store) Dir(stage string) string {
	return filepath.Join(s.root, stage)
}

// EnsureDir creates a stage directory if it does not exist yet.
func (s *Store) EnsureDir(stage string) error {
	if err := os.MkdirAll(s.Dir(stage), 0o755); err != nil {
		return fmt.Errorf("creating artifact directory %q: %w", stage, err)
	}
	return nil
}

// StageReady reports whether a stage has produced at least one artifact.
// The orchestrator gates inter-stage ordering on this.
func (s *Store) StageReady(stage string) bool {
	entries, err := os.ReadDir(s.Dir(stage))
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			return true
		}
	}
	return false
}

// LoadSentimentRecords reads every JSON artifact of the sentiment stage.
// Each file holds an array of classified records.
func (s *Store) LoadSentimentRecords() ([]analysis.NewsRecord, error) {
	dir := s.Dir(DirSentiment)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading sentiment artifacts: %w", err)
	}

	var records []analysis.NewsRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading sentiment artifact %q: %w", entry.Name(), err)
		}
		var batch []analysis.NewsRecord
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("decoding sentiment artifact %q: %w", entry.Name(), err)
		}
		records = append(records, batch...)
	}

	s.log.Debug().Int("records", len(records)).Msg("Loaded sentiment artifacts")
	return records, nil
}

// marketDateLayouts covers the date shapes market CSV exports use.
var marketDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05-07:00",
	time.RFC3339,
}

// LoadMarketBars reads the market stage's CSV of daily closes. Header
// names are matched case-insensitively; rows with unparseable dates or
// closes are skipped.
func (s *Store) LoadMarketBars() ([]analysis.MarketBar, error) {
	path := filepath.Join(s.Dir(DirMarket), marketFile)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening market artifact: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading market artifact: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("market artifact %q has no data rows", marketFile)
	}

	dateCol, closeCol := -1, -1
	for i, name := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "date":
			dateCol = i
		case "close":
			closeCol = i
		}
	}
	if dateCol < 0 || closeCol < 0 {
		return nil, fmt.Errorf("market artifact %q is missing date/close columns", marketFile)
	}

	var bars []analysis.MarketBar
	for _, row := range rows[1:] {
		if len(row) <= dateCol || len(row) <= closeCol {
			continue
		}
		date, ok := parseMarketDate(row[dateCol])
		if !ok {
			continue
		}
		closePrice, err := strconv.ParseFloat(strings.TrimSpace(row[closeCol]), 64)
		if err != nil {
			continue
		}
		bars = append(bars, analysis.MarketBar{Date: date, Close: closePrice})
	}

	s.log.Debug().Int("bars", len(bars)).Msg("Loaded market artifact")
	return bars, nil
}

// WritePartReport stores one shard's partial report. The filename embeds
// the shard index, so concurrent shards never touch the same file.
func (s *Store) WritePartReport(sc shard.Context, report analysis.Report) error {
	if err := s.EnsureDir(DirAnalysis); err != nil {
		return err
	}
	name := fmt.Sprintf("%s%d.json", partPrefix, sc.Index)
	return s.writeJSON(filepath.Join(s.Dir(DirAnalysis), name), report)
}

// ClearPartReports removes every shard's partial report. The orchestrator
// runs this before submitting the analysis job: a leftover high-index part
// from a run with more shards would otherwise be merged alongside the new
// parts and could carry lags the current partition assigns elsewhere.
func (s *Store) ClearPartReports() error {
	dir := s.Dir(DirAnalysis)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading analysis artifacts: %w", err)
	}

	var removed int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), partPrefix) || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("removing stale partial report %q: %w", entry.Name(), err)
		}
		removed++
	}
	if removed > 0 {
		s.log.Info().Int("files", removed).Msg("Cleared stale partial reports")
	}
	return nil
}

// LoadPartReports reads every shard's partial report, ordered by shard
// index. Shards that produced no report (insufficient data) are simply
// absent.
func (s *Store) LoadPartReports() ([]analysis.Report, error) {
	dir := s.Dir(DirAnalysis)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading analysis artifacts: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), partPrefix) && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	reports := make([]analysis.Report, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading partial report %q: %w", name, err)
		}
		var report analysis.Report
		if err := json.Unmarshal(data, &report); err != nil {
			return nil, fmt.Errorf("decoding partial report %q: %w", name, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// WriteFinalReport stores the merged report for the stage run.
func (s *Store) WriteFinalReport(report analysis.Report) error {
	if err := s.EnsureDir(DirAnalysis); err != nil {
		return err
	}
	return s.writeJSON(filepath.Join(s.Dir(DirAnalysis), finalReportFile), report)
}

// LoadFinalReport reads the merged report back, if present.
func (s *Store) LoadFinalReport() (analysis.Report, error) {
	var report analysis.Report
	data, err := os.ReadFile(filepath.Join(s.Dir(DirAnalysis), finalReportFile))
	if err != nil {
		return report, fmt.Errorf("reading final report: %w", err)
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return report, fmt.Errorf("decoding final report: %w", err)
	}
	return report, nil
}

// WriteRollingCorrelation stores the aggregation step's rolling artifact.
func (s *Store) WriteRollingCorrelation(points []analysis.RollingPoint) error {
	if err := s.EnsureDir(DirAnalysis); err != nil {
		return err
	}
	return s.writeJSON(filepath.Join(s.Dir(DirAnalysis), rollingFile), points)
}

// WriteCombinedSeries stores the joined sentiment-vs-return series.
func (s *Store) WriteCombinedSeries(points []analysis.DailyPoint) error {
	if err := s.EnsureDir(DirAnalysis); err != nil {
		return err
	}
	return s.writeJSON(filepath.Join(s.Dir(DirAnalysis), combinedFile), points)
}

// LoadJoinedSeries builds the joined daily analysis series from the
// sentiment and market artifacts: per-day sentiment aggregates inner-joined
// with market log-returns.
func (s *Store) LoadJoinedSeries() ([]analysis.DailyPoint, error) {
	records, err := s.LoadSentimentRecords()
	if err != nil {
		return nil, err
	}
	bars, err := s.LoadMarketBars()
	if err != nil {
		return nil, err
	}

	points := analysis.JoinDaily(analysis.AggregateDaily(records), analysis.LogReturns(bars))
	s.log.Debug().Int("points", len(points)).Msg("Joined daily series")
	return points, nil
}

// AnalysisFiles lists the analysis directory's files for mirroring.
func (s *Store) AnalysisFiles() ([]string, error) {
	dir := s.Dir(DirAnalysis)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing analysis artifacts: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if !entry.IsDir() {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %q: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %q: %w", filepath.Base(path), err)
	}
	return nil
}

func parseMarketDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range marketDateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC().Truncate(24 * time.Hour), true
		}
	}
	return time.Time{}, false
}
