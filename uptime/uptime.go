// Package uptime scans the monitoring provider for per-host uptime history
// and serves collated series views.
package uptime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
)

const (
	// ScanInterval paces provider scans.
	ScanInterval = 3600 * time.Second
	// DefaultTimespanMonths covers the last 12 months plus the current one.
	DefaultTimespanMonths = 13
	// weeklySpanHours and weeklyLimit shape the raw check-result query for
	// the past-week figure.
	weeklySpanHours = 168
	weeklyLimit     = 20000
)

// HostStats is the uptime history for one monitored host.
type HostStats struct {
	UUID           string             `json:"uuid"`
	Label          string             `json:"label"`
	UptimeMonthly  map[string]float64 `json:"uptime_monthly"`
	UptimeAverage  float64            `json:"uptime_average"`
	UptimePastWeek float64            `json:"uptime_past_week"`
}

// Scanner polls the monitoring provider and keeps per-host stats in memory.
type Scanner struct {
	summaryURL string
	hostURL    string
	resultsURL string
	httpClient *http.Client
	logger     *slog.Logger
	clock      func() time.Time

	mu    sync.RWMutex
	stats map[string]HostStats
}

// NewScanner creates an uptime scanner. hostURL and resultsURL are templates
// with a "{uuid}" placeholder.
func NewScanner(summaryURL, hostURL, resultsURL string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		summaryURL: summaryURL,
		hostURL:    hostURL,
		resultsURL: resultsURL,
		httpClient: &http.Client{Timeout: 45 * time.Second},
		logger:     logger,
		clock:      time.Now,
		stats:      make(map[string]HostStats),
	}
}

// Stats returns the current per-host stats keyed by host UUID.
func (s *Scanner) Stats() map[string]HostStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Scan performs one full provider scan and replaces the stats wholesale. A
// failing summary fetch keeps the previous stats; a failing per-host fetch
// keeps that host's defaults.
func (s *Scanner) Scan(ctx context.Context) error {
	var summary map[string]struct {
		UUID  string `json:"uuid"`
		Label string `json:"label"`
	}
	if err := s.getJSON(ctx, s.summaryURL, &summary); err != nil {
		return err
	}

	cutoff := s.clock().AddDate(0, -DefaultTimespanMonths, 0).Format("2006-01")
	fresh := make(map[string]HostStats, len(summary))
	for _, host := range summary {
		stats := HostStats{
			UUID:           host.UUID,
			Label:          host.Label,
			UptimeMonthly:  make(map[string]float64),
			UptimeAverage:  100.0,
			UptimePastWeek: 100.0,
		}
		s.fillMonthly(ctx, &stats, cutoff)
		s.fillPastWeek(ctx, &stats)
		fresh[host.UUID] = stats
	}

	s.mu.Lock()
	s.stats = fresh
	s.mu.Unlock()
	return nil
}

// monthEntry is one row of a host's monthly uptime report. Uptime is "-"
// for months without data, so it arrives untyped.
type monthEntry struct {
	ID     string          `json:"id"`
	Uptime json.RawMessage `json:"uptime"`
}

// fillMonthly loads the host's monthly uptimes within the window and their
// average. The provider's "total" row and dataless months are skipped.
func (s *Scanner) fillMonthly(ctx context.Context, stats *HostStats, cutoff string) {
	url := strings.ReplaceAll(s.hostURL, "{uuid}", stats.UUID) + "?format=json"
	var months []monthEntry
	if err := s.getJSON(ctx, url, &months); err != nil {
		s.logger.Warn("Could not fetch monthly uptime", "uuid", stats.UUID, "error", err)
		return
	}

	var sum float64
	var count int
	for _, month := range months {
		if month.ID <= cutoff || month.ID == "total" {
			continue
		}
		var value float64
		if err := json.Unmarshal(month.Uptime, &value); err != nil {
			continue
		}
		stats.UptimeMonthly[month.ID] = value
		sum += value
		count++
	}
	if count > 0 {
		stats.UptimeAverage = sum / float64(count)
	}
}

// fillPastWeek derives the past-week uptime from the raw check results.
func (s *Scanner) fillPastWeek(ctx context.Context, stats *HostStats) {
	url := fmt.Sprintf("%s?format=json&span=%d&limit=%d",
		strings.ReplaceAll(s.resultsURL, "{uuid}", stats.UUID), weeklySpanHours, weeklyLimit)
	var checks []struct {
		Success *bool `json:"su"`
	}
	if err := s.getJSON(ctx, url, &checks); err != nil {
		s.logger.Warn("Could not fetch weekly check results", "uuid", stats.UUID, "error", err)
		return
	}
	if len(checks) == 0 {
		return
	}
	var failed int
	for _, check := range checks {
		if check.Success != nil && !*check.Success {
			failed++
		}
	}
	stats.UptimePastWeek = 100.0 - float64(failed)/float64(len(checks))*100.0
}

func (s *Scanner) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.WrapInvalid(err, "uptime", "getJSON", "build request")
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "uptime", "getJSON", "fetch "+url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.WrapTransient(
			fmt.Errorf("provider returned status %d", resp.StatusCode),
			"uptime", "getJSON", "fetch "+url)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.WrapInvalid(errors.ErrParsingFailed, "uptime", "getJSON", "decode "+url)
	}
	return nil
}
