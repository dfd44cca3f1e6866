// Package projects fetches the list of known projects shared by the
// downloads and builds scanners. The upstream list is a JSON document of the
// form {"projects": {"<name>": {...}}}; on fetch failure the previously
// cached list is served.
package projects

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
)

// Lister fetches and caches the project list.
type Lister struct {
	url    string
	client *http.Client
	logger *slog.Logger

	mu     sync.RWMutex
	cached []string
}

// NewLister creates a project lister for the given URL.
func NewLister(url string, logger *slog.Logger) *Lister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lister{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Projects returns the current project list, refreshing from upstream when
// possible and falling back to the cached copy otherwise.
func (l *Lister) Projects(ctx context.Context) []string {
	fresh, err := l.fetch(ctx)
	if err != nil {
		l.logger.Warn("Could not fetch project list, using cached entry", "url", l.url, "error", err)
		l.mu.RLock()
		defer l.mu.RUnlock()
		return l.cached
	}

	l.mu.Lock()
	l.cached = fresh
	l.mu.Unlock()
	return fresh
}

// Cached returns the last successfully fetched list without going upstream.
func (l *Lister) Cached() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cached
}

// Known reports whether name is in the current cached list.
func (l *Lister) Known(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, project := range l.cached {
		if project == name {
			return true
		}
	}
	return false
}

func (l *Lister) fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, errors.WrapInvalid(err, "projects", "fetch", "build request")
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "projects", "fetch", "project list request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.WrapTransient(
			fmt.Errorf("unexpected status %d", resp.StatusCode),
			"projects", "fetch", "project list request")
	}

	var payload struct {
		Projects map[string]json.RawMessage `json:"projects"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.WrapInvalid(err, "projects", "fetch", "decode project list")
	}

	names := make([]string, 0, len(payload.Projects))
	for name := range payload.Projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
