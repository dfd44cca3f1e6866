package downloads

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
	"github.com/apache/infrastructure-reporting-dashboard/projects"
	"github.com/apache/infrastructure-reporting-dashboard/search"
)

const (
	// backfillMonths is how far back monthly reports are (re)generated.
	backfillMonths = 6
	// reportScanInterval paces the persistence loop.
	reportScanInterval = 4 * time.Hour
	// reportFreshness skips months whose report file was written recently.
	reportFreshness = 24 * time.Hour
)

// monthJob is one report file that needs (re)generating.
type monthJob struct {
	path   string
	window search.Window
}

// ReportWriter persists per-project monthly download reports to disk so that
// finished months survive restarts and can be served without a backend query.
type ReportWriter struct {
	agg     *Aggregator
	lister  *projects.Lister
	dataDir string
	logger  *slog.Logger
}

// NewReportWriter creates a monthly report writer rooted at dataDir.
func NewReportWriter(agg *Aggregator, lister *projects.Lister, dataDir string, logger *slog.Logger) *ReportWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportWriter{agg: agg, lister: lister, dataDir: dataDir, logger: logger}
}

// Run loops the persistence scan until the context is cancelled.
func (w *ReportWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(reportScanInterval)
	defer ticker.Stop()
	for {
		w.scan(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// scan walks the current project list and refreshes every stale monthly
// report. A failure for one project never stops the others.
func (w *ReportWriter) scan(ctx context.Context) {
	if w.dataDir == "" {
		return
	}
	for _, project := range w.lister.Projects(ctx) {
		if ctx.Err() != nil {
			return
		}
		if err := w.writeProjectReports(ctx, project); err != nil {
			w.logger.Warn("Monthly report generation failed", "project", project, "error", err)
		}
	}
}

func (w *ReportWriter) writeProjectReports(ctx context.Context, project string) error {
	projectDir := filepath.Join(w.dataDir, project)
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return errors.WrapFatal(err, "downloads", "writeProjectReports", "create data dir "+projectDir)
	}

	for _, job := range w.monthsToProcess(projectDir, time.Now().UTC()) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fresh, err := isFreshReport(job.path); err == nil && fresh {
			continue
		}
		result, err := w.agg.Stats(ctx, project, job.window.String(), DefaultFilters)
		if err != nil {
			return err
		}
		if err := writeReport(job.path, result); err != nil {
			return err
		}
		w.logger.Info("Wrote monthly download report", "project", project, "file", job.path)
	}
	return nil
}

// monthsToProcess returns the report files needing a refresh: missing, empty,
// or not updated after their month ended. Months are walked newest first.
func (w *ReportWriter) monthsToProcess(projectDir string, now time.Time) []monthJob {
	var jobs []monthJob
	cursor := now
	for m := 0; m < backfillMonths; m++ {
		first := time.Date(cursor.Year(), cursor.Month(), 1, 0, 0, 0, 0, time.UTC)
		path := filepath.Join(projectDir, fmt.Sprintf("%04d-%02d.json", first.Year(), int(first.Month())))
		// A report is final once written after the month has ended.
		deadline := first.AddDate(0, 1, 0)
		stat, err := os.Stat(path)
		if err != nil || stat.Size() == 0 || stat.ModTime().Before(deadline) {
			jobs = append(jobs, monthJob{path: path, window: search.MonthWindow(m)})
		}
		cursor = first.AddDate(0, 0, -1)
	}
	return jobs
}

// isFreshReport reports whether a non-empty report file was written within
// the freshness window, in which case a rescan is pointless.
func isFreshReport(path string) (bool, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return stat.Size() > 0 && time.Since(stat.ModTime()) < reportFreshness, nil
}

// writeReport writes the report atomically via a temp file rename, so readers
// never observe a partially written month.
func writeReport(path string, result Result) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*")
	if err != nil {
		return errors.WrapTransient(err, "downloads", "writeReport", "create temp file")
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		tmp.Close()
		return errors.WrapInvalid(err, "downloads", "writeReport", "encode report")
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapTransient(err, "downloads", "writeReport", "flush report")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.WrapTransient(err, "downloads", "writeReport", "replace "+path)
	}
	return nil
}
