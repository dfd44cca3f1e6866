package builds

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
	"github.com/apache/infrastructure-reporting-dashboard/projects"
)

const (
	// MaxBuildSpanHours caps how much history one query may cover.
	MaxBuildSpanHours = 720
	// DefaultBuildSpanHours is one week; past it, job detail is dropped from
	// the memory cache to save space.
	DefaultBuildSpanHours = 168

	refreshInterval = 900 * time.Second
)

// Cache keeps the recent run window in memory so queries never touch the
// database on the request path. The whole window is rebuilt and swapped on
// every refresh.
type Cache struct {
	store  *Store
	lister *projects.Lister
	logger *slog.Logger
	clock  func() time.Time

	mu   sync.RWMutex
	runs []Run
}

// NewCache creates a run cache over the given store.
func NewCache(store *Store, lister *projects.Lister, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, lister: lister, logger: logger, clock: time.Now}
}

// Refresh reloads the run window from the database. Runs older than the
// default span keep their summary but lose their job detail.
func (c *Cache) Refresh(ctx context.Context) error {
	now := c.clock()
	start := float64(now.Add(-MaxBuildSpanHours * time.Hour).Unix())
	jobCutoff := float64(now.Add(-DefaultBuildSpanHours * time.Hour).Unix())

	runs, err := c.store.RunsSince(ctx, start)
	if err != nil {
		return err
	}
	for i := range runs {
		if runs[i].RunFinish < jobCutoff {
			runs[i].Jobs = nil
		}
	}

	c.mu.Lock()
	c.runs = runs
	c.mu.Unlock()
	return nil
}

// Run refreshes the cache on a fixed interval until the context is
// cancelled. The project list is refreshed alongside so query responses can
// echo it without an upstream fetch.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		if c.lister != nil {
			c.lister.Projects(ctx)
		}
		if err := c.Refresh(ctx); err != nil {
			c.logger.Warn("Build cache refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Query scopes one usage query to a viewer.
type Query struct {
	// Hours is the lookback window; zero means the default span and anything
	// above the maximum is clamped.
	Hours int
	// Project selects a single project; the viewer must be authorized for it
	// unless they are root.
	Project string
	// IncludeSelfHosted keeps self-hosted runner time in the totals.
	IncludeSelfHosted bool

	ViewerProjects []string
	ViewerRoot     bool
}

// Report is the query response.
type Report struct {
	AllProjects     []string `json:"all_projects"`
	SelectedProject string   `json:"selected_project"`
	Builds          []Run    `json:"builds"`
}

// Select filters the cached window for one viewer. Selecting a project the
// viewer is not authorized for is an access error; with no project selected
// the result is scoped to the viewer's projects and stripped of per-run job
// detail to bound the response size.
func (c *Cache) Select(q Query) (Report, error) {
	if q.Project != "" && !q.ViewerRoot && !slices.Contains(q.ViewerProjects, q.Project) {
		return Report{}, errors.WrapInvalid(errors.ErrAccessDenied, "builds", "Select", "query project "+q.Project)
	}

	hours := q.Hours
	if hours <= 0 {
		hours = DefaultBuildSpanHours
	}
	if hours > MaxBuildSpanHours {
		hours = MaxBuildSpanHours
	}
	startFrom := float64(c.clock().Add(-time.Duration(hours) * time.Hour).Unix())

	c.mu.RLock()
	window := c.runs
	c.mu.RUnlock()

	builds := make([]Run, 0, len(window))
	for _, run := range window {
		if run.RunStart < startFrom || run.RunFinish < startFrom {
			continue
		}
		if q.Project != "" {
			if run.Project != q.Project {
				continue
			}
		} else if !q.ViewerRoot && !slices.Contains(q.ViewerProjects, run.Project) {
			continue
		}

		// The cached run stays untouched; only the copy is adjusted.
		if !q.IncludeSelfHosted {
			for _, job := range run.Jobs {
				if job.SelfHosted() {
					run.SecondsUsed -= job.JobDuration
				}
			}
		}
		if q.Project == "" {
			run.Jobs = nil
		}
		builds = append(builds, run)
	}

	var allProjects []string
	if c.lister != nil {
		allProjects = c.lister.Cached()
	}
	return Report{
		AllProjects:     allProjects,
		SelectedProject: q.Project,
		Builds:          builds,
	}, nil
}
