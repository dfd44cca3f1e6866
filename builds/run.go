// Package builds collects GitHub Actions run statistics from the event
// stream, persists them to a local database, and serves windowed usage
// queries with per-project access scoping.
package builds

import "strings"

// Step is one workflow step as the tuple (name, start epoch, duration).
type Step struct {
	Name     string  `json:"name"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// Job is one runner job within a workflow run.
type Job struct {
	Name        string   `json:"name"`
	NameUnique  string   `json:"name_unique"`
	JobDuration float64  `json:"job_duration"`
	Steps       []Step   `json:"steps"`
	Labels      []string `json:"labels"`
	RunnerGroup string   `json:"runner_group"`
}

// SelfHosted reports whether the job ran on self-hosted infrastructure,
// matched by label substring.
func (j Job) SelfHosted() bool {
	for _, label := range j.Labels {
		if strings.Contains(label, selfHostedLabel) {
			return true
		}
	}
	return false
}

const selfHostedLabel = "self-hosted"

// Run is one completed workflow run. SecondsUsed is the sum of all job
// durations; the self-hosted share is subtracted at read time when a caller
// excludes it, never at rest.
type Run struct {
	ID           int64   `json:"id"`
	Project      string  `json:"project"`
	Repo         string  `json:"repo"`
	WorkflowID   int64   `json:"workflow_id"`
	WorkflowName string  `json:"workflow_name"`
	SecondsUsed  float64 `json:"seconds_used"`
	RunStart     float64 `json:"run_start"`
	RunFinish    float64 `json:"run_finish"`
	Jobs         []Job   `json:"jobs"`
}
