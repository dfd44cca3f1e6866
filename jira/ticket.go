package jira

import (
	"slices"
	"strings"
	"time"
)

const (
	// discountDelta is the step width used when discounting weekend time.
	discountDelta = 600 * time.Second

	closedStatus = "Closed"
)

// SLA is a response/resolution deadline pair in hours.
type SLA struct {
	Respond int `json:"respond"`
	Resolve int `json:"resolve"`
}

// DefaultSLA is the fallback applied to priorities with no configured SLA.
var DefaultSLA = SLA{Respond: 48, Resolve: 120}

// Policy is the SLA ruleset tickets are evaluated against.
type Policy struct {
	// TicketURL is a template with a "{key}" placeholder.
	TicketURL string
	// SLAs maps priority names to their deadlines.
	SLAs map[string]SLA
	// ExemptTypes lists issue types that carry no SLA at all.
	ExemptTypes []string
	// ApplyStatuses lists the statuses during which SLA time accrues
	// (typically "waiting for infra" style states).
	ApplyStatuses []string
	// DiscountWeekend enables the weekend discount on all durations.
	DiscountWeekend bool
	// Clock overrides the wall clock in tests.
	Clock func() time.Time
}

func (p Policy) now() int64 {
	if p.Clock != nil {
		return p.Clock().Unix()
	}
	return time.Now().Unix()
}

func (p Policy) slaFor(priority string) SLA {
	if sla, ok := p.SLAs[priority]; ok {
		return sla
	}
	return DefaultSLA
}

// slaDuration is the active SLA time in seconds between two epochs. With the
// weekend discount enabled, time falling on Saturday or Sunday, Friday from
// 20:00 UTC or Monday before 08:00 UTC is stepped off in ten-minute
// increments, capped at the span length.
func (p Policy) slaDuration(from, to int64) int64 {
	spent := to - from
	if spent <= 0 {
		return 0
	}
	if !p.DiscountWeekend {
		return spent
	}
	var discount int64
	cursor := time.Unix(from, 0).UTC()
	end := time.Unix(to, 0).UTC()
	step := int64(discountDelta / time.Second)
	for cursor.Before(end) && discount < spent {
		cursor = cursor.Add(discountDelta)
		wd := cursor.Weekday()
		if wd == time.Saturday || wd == time.Sunday ||
			(wd == time.Friday && cursor.Hour() >= 20) ||
			(wd == time.Monday && cursor.Hour() < 8) {
			discount += step
		}
	}
	if discount > spent {
		discount = spent
	}
	return spent - discount
}

// StatusChange is one status the ticket entered, at a point in time.
type StatusChange struct {
	Status string `json:"status"`
	At     int64  `json:"at"`
}

// ChangelogEvent records who touched the ticket and when.
type ChangelogEvent struct {
	Author string `json:"author"`
	At     int64  `json:"at"`
}

// Ticket is the derived SLA view of one tracker issue. Verdict fields are
// nil while undecided: a ticket that is still open and within its deadlines
// has neither met nor missed its SLA yet.
type Ticket struct {
	Key       string  `json:"key"`
	Project   string  `json:"project"`
	URL       string  `json:"url"`
	Summary   string  `json:"summary"`
	Status    string  `json:"status"`
	Closed    bool    `json:"closed"`
	Reopened  bool    `json:"reopened"`
	Assignee  *string `json:"assignee"`
	Priority  string  `json:"priority"`
	Author    string  `json:"author"`
	IssueType string  `json:"issuetype"`
	CreatedAt int64   `json:"created_at"`
	UpdatedAt int64   `json:"updated_at"`
	SLA       SLA     `json:"sla"`

	FirstResponse  int64 `json:"first_response"`
	ResponseTime   int64 `json:"response_time"`
	ResolveTime    int64 `json:"resolve_time"`
	ClosedAt       int64 `json:"closed_at"`
	SLATimeCounted int64 `json:"sla_time_counted"`

	SLAMetRespond *bool `json:"sla_met_respond"`
	SLAMetResolve *bool `json:"sla_met_resolve"`

	Statuses  []StatusChange   `json:"statuses"`
	Changelog []ChangelogEvent `json:"changelog"`
	Paused    bool             `json:"paused"`
}

// setFirstResponse keeps the earliest observed response time.
func (t *Ticket) setFirstResponse(epoch int64) {
	if t.FirstResponse == 0 || epoch < t.FirstResponse {
		t.FirstResponse = epoch
	}
}

// DeriveTicket replays an issue's changelog and comments into an SLA ticket.
func DeriveTicket(issue Issue, p Policy) (*Ticket, error) {
	createdAt, err := parseTime(issue.Fields.Created)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(issue.Fields.Updated)
	if err != nil {
		return nil, err
	}

	author := "(nobody)"
	if issue.Fields.Creator != nil && issue.Fields.Creator.Name != "" {
		author = issue.Fields.Creator.Name
	}
	var assignee *string
	if issue.Fields.Assignee != nil {
		assignee = &issue.Fields.Assignee.Name
	}
	project, _, _ := strings.Cut(issue.Key, "-")

	t := &Ticket{
		Key:       issue.Key,
		Project:   project,
		URL:       strings.ReplaceAll(p.TicketURL, "{key}", issue.Key),
		Summary:   issue.Fields.Summary,
		Status:    issue.Fields.Status.Name,
		Closed:    issue.Fields.Status.Name == closedStatus,
		Assignee:  assignee,
		Priority:  issue.Fields.Priority.Name,
		Author:    author,
		IssueType: issue.Fields.IssueType.Name,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		SLA:       p.slaFor(issue.Fields.Priority.Name),
		Paused:    slices.Contains(p.ExemptTypes, issue.Fields.IssueType.Name),
	}

	if err := t.replayChangelog(issue, createdAt); err != nil {
		return nil, err
	}
	if err := t.scanComments(issue); err != nil {
		return nil, err
	}
	t.deriveVerdicts(p)
	return t, nil
}

// replayChangelog walks the changelog in order, tracking resolution times,
// reopenings and the full status history. The first status change also seeds
// the history with the ticket's original status at creation time.
func (t *Ticket) replayChangelog(issue Issue, createdAt int64) error {
	for _, entry := range issue.Changelog.Histories {
		entryAuthor := "nobody"
		if entry.Author != nil && entry.Author.Name != "" {
			entryAuthor = entry.Author.Name
		}
		epoch, err := parseTime(entry.Created)
		if err != nil {
			return err
		}
		t.Changelog = append(t.Changelog, ChangelogEvent{Author: entryAuthor, At: epoch})
		for _, item := range entry.Items {
			switch item.Field {
			case "resolution":
				t.setFirstResponse(epoch)
				t.ClosedAt = epoch
			case "status":
				// A status change after a logged resolution means the ticket
				// was reopened.
				if t.ClosedAt != 0 {
					t.Reopened = true
				}
				if len(t.Statuses) == 0 {
					t.Statuses = append(t.Statuses, StatusChange{
						Status: strings.ToLower(item.FromString), At: createdAt,
					})
				}
				t.Statuses = append(t.Statuses, StatusChange{
					Status: strings.ToLower(item.ToString), At: epoch,
				})
			}
		}
	}
	return nil
}

// scanComments looks for a response earlier than any changelog entry. Only
// the first comment by someone other than the reporter counts.
func (t *Ticket) scanComments(issue Issue) error {
	for _, comment := range issue.Fields.Comment.Comments {
		epoch, err := parseTime(comment.Created)
		if err != nil {
			return err
		}
		t.Changelog = append(t.Changelog, ChangelogEvent{Author: comment.Author.Name, At: epoch})
		if comment.Author.Name != t.Author {
			t.setFirstResponse(epoch)
			break
		}
	}
	return nil
}

// deriveVerdicts sums the time spent in SLA-relevant statuses and decides
// the respond/resolve verdicts against the ticket's deadlines.
func (t *Ticket) deriveVerdicts(p Policy) {
	applyStatuses := make([]string, len(p.ApplyStatuses))
	for i, s := range p.ApplyStatuses {
		applyStatuses[i] = strings.ToLower(s)
	}

	type span struct{ from, to int64 }
	var active []span
	if len(t.Statuses) == 0 {
		// No transitions at all: the whole lifetime counts.
		end := t.ClosedAt
		if !t.Closed || end == 0 {
			end = p.now()
		}
		active = append(active, span{t.CreatedAt, end})
	} else {
		var previousTS int64
		previousApplies := false
		for _, status := range t.Statuses {
			if previousTS != 0 && previousApplies {
				active = append(active, span{previousTS, status.At})
			}
			previousTS = status.At
			previousApplies = slices.Contains(applyStatuses, status.Status)
		}
		// An open ticket sitting in a non-SLA status is paused.
		last := t.Statuses[len(t.Statuses)-1]
		if !t.Closed && !slices.Contains(applyStatuses, last.Status) {
			t.Paused = true
		}
	}

	for _, s := range active {
		t.SLATimeCounted += p.slaDuration(s.from, s.to)
	}
	if t.FirstResponse != 0 {
		t.ResponseTime = p.slaDuration(t.CreatedAt, t.FirstResponse)
	}
	if t.ClosedAt != 0 {
		t.ResolveTime = p.slaDuration(t.CreatedAt, t.ClosedAt)
	}

	resolveLimit := int64(t.SLA.Resolve) * 3600
	respondLimit := int64(t.SLA.Respond) * 3600
	if t.Closed {
		t.SLAMetResolve = boolPtr(t.ResolveTime <= resolveLimit)
	} else if t.SLATimeCounted > resolveLimit {
		t.SLAMetResolve = boolPtr(false)
	}
	if t.FirstResponse != 0 {
		t.SLAMetRespond = boolPtr(t.ResponseTime <= respondLimit)
	} else if t.SLATimeCounted > respondLimit {
		t.SLAMetRespond = boolPtr(false)
	}
}

func boolPtr(b bool) *bool { return &b }
