package builds

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/google/go-github/v65/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
	"github.com/apache/infrastructure-reporting-dashboard/pubsub"
)

var (
	// projectFromRepo extracts the project name from a repository name,
	// ignoring any incubator- prefix: "incubator-ponymail-foal" -> "ponymail".
	projectFromRepo = regexp.MustCompile(`^(?:incubator-)?([^-.]+)`)

	// jobsURLPattern matches the jobs URL carried in a workflow run event.
	jobsURLPattern = regexp.MustCompile(`^https://api\.github\.com/repos/([^/]+)/([^/]+)/actions/runs/(\d+)/jobs$`)
)

// runEvent is the payload published for a completed workflow run.
type runEvent struct {
	JobsURL    string `json:"jobs_url"`
	Repository string `json:"repository"`
}

// Collector turns workflow run events into persisted Run rows.
type Collector struct {
	gh      *github.Client
	store   *Store
	limiter *rate.Limiter
	logger  *slog.Logger
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithCollectorLogger sets the logger.
func WithCollectorLogger(logger *slog.Logger) CollectorOption {
	return func(c *Collector) { c.logger = logger }
}

// WithGitHubClient overrides the API client, mainly for tests.
func WithGitHubClient(gh *github.Client) CollectorOption {
	return func(c *Collector) { c.gh = gh }
}

// NewCollector creates a collector authenticated with the given read token.
// API calls are paced to stay well inside the token's rate budget.
func NewCollector(token string, store *Store, options ...CollectorOption) *Collector {
	hc := oauth2.NewClient(context.Background(),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	c := &Collector{
		gh:      github.NewClient(hc),
		store:   store,
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		logger:  slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Consume processes workflow run events until the channel closes or the
// context is cancelled. A failing event is logged and dropped.
func (c *Collector) Consume(ctx context.Context, events <-chan pubsub.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := c.collect(ctx, event.Payload); err != nil {
				c.logger.Warn("Workflow run collection failed", "error", err)
			}
		}
	}
}

// collect fetches the run and job details for one event and persists the
// aggregated timings. Runs with no measurable job time are dropped.
func (c *Collector) collect(ctx context.Context, payload []byte) error {
	var event runEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return errors.WrapInvalid(errors.ErrParsingFailed, "builds", "collect", "decode run event")
	}
	owner, repo, runID, err := parseJobsURL(event.JobsURL)
	if err != nil {
		return err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	workflowRun, _, err := c.gh.Actions.GetWorkflowRunByID(ctx, owner, repo, runID)
	if err != nil {
		return errors.WrapTransient(err, "builds", "collect", "fetch workflow run")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	jobs, _, err := c.gh.Actions.ListWorkflowJobs(ctx, owner, repo, runID,
		&github.ListWorkflowJobsOptions{ListOptions: github.ListOptions{PerPage: 100}})
	if err != nil {
		return errors.WrapTransient(err, "builds", "collect", "fetch workflow jobs")
	}

	run := buildRun(event.Repository, workflowRun, jobs.Jobs)
	if run.SecondsUsed <= 0 {
		return nil
	}
	return c.store.InsertRun(ctx, run)
}

func parseJobsURL(url string) (owner, repo string, runID int64, err error) {
	m := jobsURLPattern.FindStringSubmatch(url)
	if m == nil {
		return "", "", 0, errors.WrapInvalid(errors.ErrInvalidData, "builds", "parseJobsURL", "parse jobs url "+url)
	}
	runID, err = strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return "", "", 0, errors.WrapInvalid(err, "builds", "parseJobsURL", "parse run id")
	}
	return m[1], m[2], runID, nil
}

// buildRun folds the job listing into one Run. Jobs that never started or
// never completed carry no usable timing and are skipped.
func buildRun(repo string, workflowRun *github.WorkflowRun, jobs []*github.WorkflowJob) Run {
	run := Run{
		Project:      projectForRepo(repo),
		Repo:         repo,
		WorkflowID:   workflowRun.GetWorkflowID(),
		WorkflowName: workflowRun.GetName(),
	}
	for _, job := range jobs {
		if job.StartedAt == nil || job.CompletedAt == nil {
			continue
		}
		start := float64(job.StartedAt.Unix())
		end := float64(job.CompletedAt.Unix())
		duration := end - start
		run.SecondsUsed += duration
		if run.RunStart == 0 || start < run.RunStart {
			run.RunStart = start
		}
		if end > run.RunFinish {
			run.RunFinish = end
		}

		var steps []Step
		for _, step := range job.Steps {
			if step.StartedAt == nil || step.CompletedAt == nil {
				continue
			}
			stepStart := float64(step.StartedAt.Unix())
			steps = append(steps, Step{
				Name:     step.GetName(),
				Start:    stepStart,
				Duration: float64(step.CompletedAt.Unix()) - stepStart,
			})
		}

		runnerGroup := job.GetRunnerGroupName()
		if runnerGroup == "" {
			runnerGroup = "GitHub Actions"
		}
		run.Jobs = append(run.Jobs, Job{
			Name:        job.GetWorkflowName(),
			NameUnique:  repo + "/" + job.GetWorkflowName(),
			JobDuration: duration,
			Steps:       steps,
			Labels:      job.Labels,
			RunnerGroup: runnerGroup,
		})
	}
	return run
}

func projectForRepo(repo string) string {
	if m := projectFromRepo.FindStringSubmatch(repo); m != nil {
		return m[1]
	}
	return "unknown"
}
