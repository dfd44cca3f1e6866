package builds

import (
	"testing"
	"time"

	"github.com/google/go-github/v65/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJobsURL(t *testing.T) {
	owner, repo, runID, err := parseJobsURL("https://api.github.com/repos/apache/tomcat/actions/runs/123456/jobs")
	require.NoError(t, err)
	assert.Equal(t, "apache", owner)
	assert.Equal(t, "tomcat", repo)
	assert.Equal(t, int64(123456), runID)

	_, _, _, err = parseJobsURL("https://example.org/not/a/jobs/url")
	assert.Error(t, err)
}

func TestProjectForRepo(t *testing.T) {
	tests := []struct {
		repo string
		want string
	}{
		{"tomcat", "tomcat"},
		{"tomcat-site", "tomcat"},
		{"incubator-ponymail-foal", "ponymail"},
		{"httpd.old", "httpd"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, projectForRepo(tt.repo), tt.repo)
	}
}

func TestBuildRunFoldsJobs(t *testing.T) {
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	ts := func(t time.Time) *github.Timestamp { return &github.Timestamp{Time: t} }

	workflowRun := &github.WorkflowRun{
		Name:       github.String("CI"),
		WorkflowID: github.Int64(42),
	}
	jobs := []*github.WorkflowJob{
		{
			WorkflowName: github.String("CI"),
			StartedAt:    ts(start),
			CompletedAt:  ts(start.Add(10 * time.Minute)),
			Labels:       []string{"ubuntu-latest"},
			Steps: []*github.TaskStep{{
				Name:        github.String("checkout"),
				StartedAt:   ts(start),
				CompletedAt: ts(start.Add(5 * time.Second)),
			}},
		},
		{
			WorkflowName:    github.String("CI"),
			StartedAt:       ts(start.Add(-2 * time.Minute)),
			CompletedAt:     ts(start.Add(3 * time.Minute)),
			Labels:          []string{"self-hosted", "linux"},
			RunnerGroupName: github.String("asf-runners"),
		},
		// Never started: contributes nothing.
		{WorkflowName: github.String("CI")},
	}

	run := buildRun("tomcat-site", workflowRun, jobs)
	assert.Equal(t, "tomcat", run.Project)
	assert.Equal(t, "tomcat-site", run.Repo)
	assert.Equal(t, int64(42), run.WorkflowID)
	assert.Equal(t, "CI", run.WorkflowName)
	require.Len(t, run.Jobs, 2)

	// 600s + 300s of job time; the skipped job adds nothing.
	assert.Equal(t, float64(900), run.SecondsUsed)
	assert.Equal(t, float64(start.Add(-2*time.Minute).Unix()), run.RunStart)
	assert.Equal(t, float64(start.Add(10*time.Minute).Unix()), run.RunFinish)

	assert.Equal(t, "tomcat-site/CI", run.Jobs[0].NameUnique)
	assert.Equal(t, "GitHub Actions", run.Jobs[0].RunnerGroup)
	require.Len(t, run.Jobs[0].Steps, 1)
	assert.Equal(t, float64(5), run.Jobs[0].Steps[0].Duration)

	assert.Equal(t, "asf-runners", run.Jobs[1].RunnerGroup)
	assert.True(t, run.Jobs[1].SelfHosted())
}
