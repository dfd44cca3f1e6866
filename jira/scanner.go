package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
)

const (
	// DefaultScanInterval paces full scans between pubsub triggers.
	DefaultScanInterval = 15 * time.Minute
	// DefaultScanDays bounds a full scan to recently updated tickets; open
	// tickets are always included regardless of age.
	DefaultScanDays = 90
	// DefaultRetentionDays limits query results to open tickets plus those
	// updated within the window.
	DefaultRetentionDays = 120

	scanFields = "key,created,summary,status,assignee,priority,comment,creator,updated,issuetype"
)

// Store holds the derived tickets, replaced wholesale on every successful
// scan so deleted tickets disappear.
type Store struct {
	mu      sync.RWMutex
	tickets map[string]*Ticket
	clock   func() time.Time
}

// NewStore creates an empty ticket store.
func NewStore() *Store {
	return &Store{tickets: make(map[string]*Ticket), clock: time.Now}
}

// Replace swaps in a freshly derived ticket set. An empty set is ignored so
// a scan that found nothing never blanks the stats.
func (s *Store) Replace(tickets map[string]*Ticket) {
	if len(tickets) == 0 {
		return
	}
	s.mu.Lock()
	s.tickets = tickets
	s.mu.Unlock()
}

// Tickets returns every ticket that is still open or was updated within the
// retention window.
func (s *Store) Tickets(retentionDays int) []*Ticket {
	deadline := s.clock().Unix() - int64(retentionDays)*86400
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		if !t.Closed || t.UpdatedAt >= deadline {
			result = append(result, t)
		}
	}
	return result
}

// Size returns the number of stored tickets.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tickets)
}

// Scanner performs full tracker scans and maintains the ticket store.
type Scanner struct {
	apiURL     string
	project    string
	token      string
	scanDays   int
	policy     Policy
	store      *Store
	httpClient *http.Client
	logger     *slog.Logger
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithScannerLogger sets the logger.
func WithScannerLogger(logger *slog.Logger) ScannerOption {
	return func(s *Scanner) { s.logger = logger }
}

// WithScanDays overrides the full-scan update window.
func WithScanDays(days int) ScannerOption {
	return func(s *Scanner) { s.scanDays = days }
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) ScannerOption {
	return func(s *Scanner) { s.httpClient = hc }
}

// NewScanner creates a tracker scanner for one project.
func NewScanner(apiURL, project, token string, policy Policy, store *Store, options ...ScannerOption) *Scanner {
	s := &Scanner{
		apiURL:     strings.TrimSuffix(apiURL, "/") + "/",
		project:    project,
		token:      token,
		scanDays:   DefaultScanDays,
		policy:     policy,
		store:      store,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Scan runs one full scan: fetch every recently updated or still-open ticket
// with its changelog expanded, derive the SLA view, and replace the store.
// A single malformed issue is logged and skipped, never failing the scan.
func (s *Scanner) Scan(ctx context.Context) error {
	started := time.Now()
	issues, err := s.fetchIssues(ctx)
	if err != nil {
		return err
	}

	tickets := make(map[string]*Ticket, len(issues))
	for _, issue := range issues {
		ticket, err := DeriveTicket(issue, s.policy)
		if err != nil {
			s.logger.Warn("Skipping malformed issue", "key", issue.Key, "error", err)
			continue
		}
		tickets[issue.Key] = ticket
	}
	s.store.Replace(tickets)

	s.logger.Info("Jira scan completed",
		"tickets", len(tickets), "elapsed", time.Since(started).Round(time.Second))
	return nil
}

func (s *Scanner) fetchIssues(ctx context.Context) ([]Issue, error) {
	params := url.Values{
		"fields":     {scanFields},
		"expand":     {"changelog"},
		"maxResults": {"1000"},
		"jql":        {fmt.Sprintf("project=%s and (updated>=-%dd or status!=closed)", s.project, s.scanDays)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"search?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.WrapInvalid(err, "jira", "fetchIssues", "build request")
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "jira", "fetchIssues", "tracker search")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.WrapTransient(
			fmt.Errorf("tracker returned status %d", resp.StatusCode),
			"jira", "fetchIssues", "tracker search")
	}

	var payload struct {
		Issues []Issue `json:"issues"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "jira", "fetchIssues", "decode search response")
	}
	return payload.Issues, nil
}
