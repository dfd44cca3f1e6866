package builds

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
)

func testCache(t *testing.T, now time.Time) (*Cache, *Store) {
	t.Helper()
	store := testStore(t)
	c := NewCache(store, nil, nil)
	c.clock = func() time.Time { return now }
	return c, store
}

func TestCacheRefreshStripsOldJobDetail(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	c, store := testCache(t, now)
	ctx := context.Background()

	recent := float64(now.Add(-24 * time.Hour).Unix())
	old := float64(now.Add(-300 * time.Hour).Unix())
	tooOld := float64(now.Add(-800 * time.Hour).Unix())
	require.NoError(t, store.InsertRun(ctx, sampleRun("fresh", recent, recent+600)))
	require.NoError(t, store.InsertRun(ctx, sampleRun("aged", old, old+600)))
	require.NoError(t, store.InsertRun(ctx, sampleRun("ancient", tooOld, tooOld+600)))

	require.NoError(t, c.Refresh(ctx))

	byProject := map[string]Run{}
	for _, run := range c.runs {
		byProject[run.Project] = run
	}
	require.Len(t, byProject, 2, "runs beyond the max span are not cached")
	assert.NotEmpty(t, byProject["fresh"].Jobs)
	assert.Empty(t, byProject["aged"].Jobs, "job detail past the default span is dropped")
}

func seedCache(t *testing.T, now time.Time) *Cache {
	t.Helper()
	c, store := testCache(t, now)
	ctx := context.Background()

	recent := float64(now.Add(-2 * time.Hour).Unix())
	run := sampleRun("tomcat", recent, recent+600)
	run.Jobs = append(run.Jobs, Job{
		Name:        "deploy",
		JobDuration: 200,
		Labels:      []string{"self-hosted", "linux"},
		RunnerGroup: "asf-runners",
	})
	run.SecondsUsed = 800
	require.NoError(t, store.InsertRun(ctx, run))
	require.NoError(t, store.InsertRun(ctx, sampleRun("httpd", recent, recent+600)))
	require.NoError(t, c.Refresh(ctx))
	return c
}

func TestSelectScopesToViewerProjects(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	c := seedCache(t, now)

	report, err := c.Select(Query{ViewerProjects: []string{"tomcat"}})
	require.NoError(t, err)
	require.Len(t, report.Builds, 1)
	assert.Equal(t, "tomcat", report.Builds[0].Project)

	// Root sees everything.
	report, err = c.Select(Query{ViewerRoot: true})
	require.NoError(t, err)
	assert.Len(t, report.Builds, 2)
}

func TestSelectSingleProjectRequiresAuthorization(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	c := seedCache(t, now)

	_, err := c.Select(Query{Project: "tomcat", ViewerProjects: []string{"httpd"}})
	require.Error(t, err)
	assert.True(t, errors.IsAccessDenied(err))

	report, err := c.Select(Query{Project: "tomcat", ViewerProjects: []string{"tomcat"}})
	require.NoError(t, err)
	require.Len(t, report.Builds, 1)
	assert.Equal(t, "tomcat", report.SelectedProject)
	// Single-project view keeps the job detail.
	assert.NotEmpty(t, report.Builds[0].Jobs)
}

func TestSelectStripsJobsWithoutProjectSelection(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	c := seedCache(t, now)

	report, err := c.Select(Query{ViewerRoot: true})
	require.NoError(t, err)
	for _, run := range report.Builds {
		assert.Empty(t, run.Jobs)
	}

	// The cached copies keep their jobs.
	for _, run := range c.runs {
		assert.NotEmpty(t, run.Jobs)
	}
}

func TestSelectDiscountsSelfHostedTime(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	c := seedCache(t, now)

	report, err := c.Select(Query{Project: "tomcat", ViewerRoot: true})
	require.NoError(t, err)
	require.Len(t, report.Builds, 1)
	// 800 total minus the 200s self-hosted deploy job.
	assert.Equal(t, float64(600), report.Builds[0].SecondsUsed)

	report, err = c.Select(Query{Project: "tomcat", ViewerRoot: true, IncludeSelfHosted: true})
	require.NoError(t, err)
	assert.Equal(t, float64(800), report.Builds[0].SecondsUsed)
}

func TestSelectClampsHours(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	c, store := testCache(t, now)
	ctx := context.Background()

	// Inside the max span but outside the default one-week window.
	old := float64(now.Add(-400 * time.Hour).Unix())
	require.NoError(t, store.InsertRun(ctx, sampleRun("tomcat", old, old+600)))
	require.NoError(t, c.Refresh(ctx))

	report, err := c.Select(Query{ViewerRoot: true})
	require.NoError(t, err)
	assert.Empty(t, report.Builds, "default window is one week")

	report, err = c.Select(Query{ViewerRoot: true, Hours: 10000})
	require.NoError(t, err)
	assert.Len(t, report.Builds, 1, "oversized windows clamp to the max span")
}
