package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apache/infrastructure-reporting-dashboard/auth"
	"github.com/apache/infrastructure-reporting-dashboard/builds"
	"github.com/apache/infrastructure-reporting-dashboard/downloads"
	"github.com/apache/infrastructure-reporting-dashboard/errors"
	"github.com/apache/infrastructure-reporting-dashboard/health"
	"github.com/apache/infrastructure-reporting-dashboard/jira"
	"github.com/apache/infrastructure-reporting-dashboard/machines"
	"github.com/apache/infrastructure-reporting-dashboard/mailstats"
	"github.com/apache/infrastructure-reporting-dashboard/uptime"
)

type stubDownloads struct {
	project  string
	duration string
	filters  string
	err      error
}

func (s *stubDownloads) Stats(_ context.Context, project, duration, filters string) (downloads.Result, error) {
	s.project, s.duration, s.filters = project, duration, filters
	if s.err != nil {
		return downloads.Result{}, s.err
	}
	return downloads.Result{
		Artifacts: map[string]*downloads.Artifact{"tomcat-11.0.0.zip": {Hits: 12}},
		Query:     downloads.Metadata{Project: project},
	}, nil
}

type stubTickets struct {
	retention int
	tickets   []*jira.Ticket
}

func (s *stubTickets) Tickets(retentionDays int) []*jira.Ticket {
	s.retention = retentionDays
	return s.tickets
}

type stubBuilds struct {
	query  builds.Query
	report builds.Report
	err    error
}

func (s *stubBuilds) Select(q builds.Query) (builds.Report, error) {
	s.query = q
	return s.report, s.err
}

type stubMail struct{}

func (stubMail) Stats() map[string][]mailstats.Entry {
	return map[string][]mailstats.Entry{"mx1.example.org": {{TS: 1700000000, Pending: 3}}}
}

type stubUptime struct{}

func (stubUptime) Stats() map[string]uptime.HostStats {
	return map[string]uptime.HostStats{
		"mail.example.org": {Label: "mail.example.org", UptimeAverage: 99.5, UptimePastWeek: 100},
	}
}

type stubMachines struct{}

func (stubMachines) Report() machines.Report {
	return machines.Report{Reachable: 2, Unreachable: []string{"ghost.example.org"}}
}

type fixture struct {
	server   *Server
	sessions *auth.Manager

	downloads *stubDownloads
	tickets   *stubTickets
	builds    *stubBuilds
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		sessions:  auth.NewManager("test-secret", 0),
		downloads: &stubDownloads{},
		tickets:   &stubTickets{tickets: []*jira.Ticket{{Key: "INFRA-100"}}},
		builds:    &stubBuilds{report: builds.Report{SelectedProject: "tomcat"}},
	}
	f.server = NewServer(f.sessions, Sources{
		Downloads:           f.downloads,
		Tickets:             f.tickets,
		Builds:              f.builds,
		Mail:                stubMail{},
		Uptime:              stubUptime{},
		Machines:            stubMachines{},
		TicketRetentionDays: 120,
		UptimeSeries:        map[string][]string{"mail": {"mail.example.org"}},
	}, opts...)
	return f
}

func (f *fixture) get(t *testing.T, path string, session *auth.Session) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if session != nil {
		token, err := f.sessions.Issue(*session)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeFailure(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	return body.Message
}

func TestDownloadsRequiresSession(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/api/downloads?project=tomcat", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "not logged in", decodeFailure(t, rec))
}

func TestDownloadsRequiresProject(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/api/downloads", &auth.Session{UID: "user"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing required parameter", decodeFailure(t, rec))
}

func TestDownloadsDefaultsAndResponds(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/api/downloads?project=tomcat", &auth.Session{UID: "user"})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "tomcat", f.downloads.project)
	assert.Equal(t, "30", f.downloads.duration)
	assert.Empty(t, f.downloads.filters)

	var result downloads.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Contains(t, result.Artifacts, "tomcat-11.0.0.zip")
	assert.Equal(t, "tomcat", result.Query.Project)
}

func TestDownloadsInvalidDuration(t *testing.T) {
	f := newFixture(t)
	f.downloads.err = errors.WrapInvalid(errors.ErrInvalidDuration, "search", "ParseWindow",
		"parse duration bogus")
	rec := f.get(t, "/api/downloads?project=tomcat&duration=bogus", &auth.Session{UID: "user"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid duration parameter", decodeFailure(t, rec))
}

func TestJiraRequiresRoot(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/api/jira?action=stats", &auth.Session{UID: "user", Projects: []string{"tomcat"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "access denied", decodeFailure(t, rec))
}

func TestJiraStats(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/api/jira?action=stats", &auth.Session{UID: "admin", Root: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 120, f.tickets.retention)

	var report ticketReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Tickets, 1)
	assert.Equal(t, "INFRA-100", report.Tickets[0].Key)
}

func TestJiraUnknownAction(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/api/jira?action=purge", &auth.Session{UID: "admin", Root: true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuildsPassesViewerScope(t *testing.T) {
	f := newFixture(t)
	session := &auth.Session{UID: "user", Projects: []string{"tomcat"}, PMCs: []string{"kafka"}}
	rec := f.get(t, "/api/ghactions?hours=24&project=tomcat&selfhosted=true", session)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 24, f.builds.query.Hours)
	assert.Equal(t, "tomcat", f.builds.query.Project)
	assert.True(t, f.builds.query.IncludeSelfHosted)
	assert.ElementsMatch(t, []string{"tomcat", "kafka"}, f.builds.query.ViewerProjects)
	assert.False(t, f.builds.query.ViewerRoot)
}

func TestBuildsInvalidHours(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/api/ghactions?hours=abc", &auth.Session{UID: "user"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid duration parameter", decodeFailure(t, rec))
}

func TestBuildsAccessDenied(t *testing.T) {
	f := newFixture(t)
	f.builds.err = errors.WrapInvalid(errors.ErrAccessDenied, "builds", "Select", "query project kafka")
	rec := f.get(t, "/api/ghactions?project=kafka", &auth.Session{UID: "user", Projects: []string{"tomcat"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "access denied", decodeFailure(t, rec))
}

func TestUptimeReport(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/api/uptime", &auth.Session{UID: "user"})
	require.Equal(t, http.StatusOK, rec.Code)

	var report uptime.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Contains(t, report.Individual, "mail.example.org")
	assert.Contains(t, report.Collated, "mail")
}

func TestMailStats(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/api/mailstats", &auth.Session{UID: "user"})
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string][]mailstats.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Contains(t, stats, "mx1.example.org")
}

func TestMachinesRequiresRoot(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/api/machines", &auth.Session{UID: "user", Projects: []string{"tomcat"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.get(t, "/api/machines", &auth.Session{UID: "admin", Root: true})
	require.Equal(t, http.StatusOK, rec.Code)
	var report machines.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.Reachable)
	assert.Equal(t, []string{"ghost.example.org"}, report.Unreachable)
}

func TestSessionViewAndLogout(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/api/session", &auth.Session{UID: "humbedooh", Name: "Daniel"})
	require.Equal(t, http.StatusOK, rec.Code)

	var session auth.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, "humbedooh", session.UID)

	rec = f.get(t, "/api/session?action=logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestSessionMissing(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/api/session", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthWithoutMonitor(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealthAggregates(t *testing.T) {
	monitor := health.NewMonitor()
	monitor.UpdateHealthy("jira", "scan ok")
	monitor.UpdateUnhealthy("uptime", "backend down")

	f := newFixture(t, WithHealthMonitor(monitor))
	rec := f.get(t, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status     string                   `json:"status"`
		Components map[string]health.Status `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, health.StatusUnhealthy, body.Status)
	assert.Len(t, body.Components, 2)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/downloads", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	decodeFailure(t, rec)
}

func TestRequestIDEchoed(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "trace-42")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "trace-42", rec.Header().Get("X-Request-ID"))

	rec = f.get(t, "/api/health", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
