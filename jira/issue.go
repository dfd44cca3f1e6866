// Package jira scans the issue tracker and derives per-ticket SLA compliance
// from each ticket's changelog and comments.
package jira

import (
	"regexp"
	"time"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
)

// Issue is the raw tracker payload for one ticket, with its changelog
// expanded.
type Issue struct {
	Key       string      `json:"key"`
	Fields    IssueFields `json:"fields"`
	Changelog struct {
		Histories []ChangelogEntry `json:"histories"`
	} `json:"changelog"`
}

// IssueFields carries the ticket fields requested by the scanner.
type IssueFields struct {
	Summary   string     `json:"summary"`
	Created   string     `json:"created"`
	Updated   string     `json:"updated"`
	Status    NamedField `json:"status"`
	Priority  NamedField `json:"priority"`
	IssueType NamedField `json:"issuetype"`
	// Assignee and Creator may be null for deleted or unassigned accounts.
	Assignee *NamedField `json:"assignee"`
	Creator  *NamedField `json:"creator"`
	Comment  struct {
		Comments []Comment `json:"comments"`
	} `json:"comment"`
}

// NamedField is the tracker's {"name": ...} wrapper.
type NamedField struct {
	Name string `json:"name"`
}

// ChangelogEntry is one changelog history record.
type ChangelogEntry struct {
	Author  *NamedField  `json:"author"`
	Created string       `json:"created"`
	Items   []ChangeItem `json:"items"`
}

// ChangeItem is one field change within a changelog entry.
type ChangeItem struct {
	Field      string `json:"field"`
	FromString string `json:"fromString"`
	ToString   string `json:"toString"`
}

// Comment is one ticket comment.
type Comment struct {
	Author  NamedField `json:"author"`
	Created string     `json:"created"`
}

// subSecond strips the fractional-second and zone suffix from tracker
// timestamps, e.g. "2024-01-02T13:37:00.000+0000".
var subSecond = regexp.MustCompile(`\..*`)

// parseTime converts a tracker ISO timestamp to a unix epoch.
func parseTime(raw string) (int64, error) {
	trimmed := subSecond.ReplaceAllString(raw, "")
	t, err := time.ParseInLocation("2006-01-02T15:04:05", trimmed, time.UTC)
	if err != nil {
		return 0, errors.WrapInvalid(errors.ErrParsingFailed, "jira", "parseTime", "parse timestamp "+raw)
	}
	return t.Unix(), nil
}
