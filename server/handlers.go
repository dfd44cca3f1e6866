package server

import (
	"net/http"
	"strconv"

	"github.com/apache/infrastructure-reporting-dashboard/auth"
	"github.com/apache/infrastructure-reporting-dashboard/builds"
	"github.com/apache/infrastructure-reporting-dashboard/errors"
	"github.com/apache/infrastructure-reporting-dashboard/jira"
	"github.com/apache/infrastructure-reporting-dashboard/uptime"
)

// defaultDownloadsDuration is used when no duration parameter is given.
const defaultDownloadsDuration = "30"

// requireSession verifies the session cookie and derives the caller's scope.
func (s *Server) requireSession(r *http.Request) (*auth.Session, auth.Scope, error) {
	session, err := s.sessions.ReadSession(r)
	if err != nil {
		return nil, auth.Scope{}, err
	}
	return session, auth.ScopeFromSession(session), nil
}

func (s *Server) handleDownloads(w http.ResponseWriter, r *http.Request) error {
	if _, _, err := s.requireSession(r); err != nil {
		return err
	}
	if s.sources.Downloads == nil {
		return errors.WrapTransient(errors.ErrStorageUnavailable, "server", "handleDownloads",
			"downloads source not configured")
	}

	project := r.URL.Query().Get("project")
	if project == "" {
		return errors.WrapInvalid(errors.ErrMissingField, "server", "handleDownloads",
			"read project parameter")
	}
	duration := r.URL.Query().Get("duration")
	if duration == "" {
		duration = defaultDownloadsDuration
	}
	filters := r.URL.Query().Get("filters")

	result, err := s.sources.Downloads.Stats(r.Context(), project, duration, filters)
	if err != nil {
		return err
	}
	return s.writeJSON(w, result)
}

// ticketReport is the /api/jira response envelope.
type ticketReport struct {
	Tickets []*jira.Ticket `json:"tickets"`
}

func (s *Server) handleJira(w http.ResponseWriter, r *http.Request) error {
	_, scope, err := s.requireSession(r)
	if err != nil {
		return err
	}
	if err := scope.RequireRoot(); err != nil {
		return err
	}
	if s.sources.Tickets == nil {
		return errors.WrapTransient(errors.ErrStorageUnavailable, "server", "handleJira",
			"ticket source not configured")
	}

	action := r.URL.Query().Get("action")
	if action != "" && action != "stats" {
		return errors.WrapInvalid(errors.ErrInvalidData, "server", "handleJira",
			"handle action "+action)
	}

	tickets := s.sources.Tickets.Tickets(s.sources.TicketRetentionDays)
	if tickets == nil {
		tickets = []*jira.Ticket{}
	}
	return s.writeJSON(w, ticketReport{Tickets: tickets})
}

func (s *Server) handleBuilds(w http.ResponseWriter, r *http.Request) error {
	_, scope, err := s.requireSession(r)
	if err != nil {
		return err
	}
	if s.sources.Builds == nil {
		return errors.WrapTransient(errors.ErrStorageUnavailable, "server", "handleBuilds",
			"build source not configured")
	}

	query := builds.Query{
		Project:        r.URL.Query().Get("project"),
		ViewerProjects: scope.Projects,
		ViewerRoot:     scope.Root,
	}
	if raw := r.URL.Query().Get("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours < 0 {
			return errors.WrapInvalid(errors.ErrInvalidDuration, "server", "handleBuilds",
				"parse hours "+raw)
		}
		query.Hours = hours
	}
	if raw := r.URL.Query().Get("selfhosted"); raw != "" {
		query.IncludeSelfHosted = raw == "true" || raw == "yes" || raw == "1"
	}

	report, err := s.sources.Builds.Select(query)
	if err != nil {
		return err
	}
	return s.writeJSON(w, report)
}

func (s *Server) handleUptime(w http.ResponseWriter, r *http.Request) error {
	if _, _, err := s.requireSession(r); err != nil {
		return err
	}
	if s.sources.Uptime == nil {
		return errors.WrapTransient(errors.ErrStorageUnavailable, "server", "handleUptime",
			"uptime source not configured")
	}
	return s.writeJSON(w, uptime.BuildReport(s.sources.Uptime.Stats(), s.sources.UptimeSeries))
}

func (s *Server) handleMailStats(w http.ResponseWriter, r *http.Request) error {
	if _, _, err := s.requireSession(r); err != nil {
		return err
	}
	if s.sources.Mail == nil {
		return errors.WrapTransient(errors.ErrStorageUnavailable, "server", "handleMailStats",
			"mail source not configured")
	}
	return s.writeJSON(w, s.sources.Mail.Stats())
}

func (s *Server) handleMachines(w http.ResponseWriter, r *http.Request) error {
	// Host fingerprints are infrastructure-sensitive, so the whole report is
	// restricted to root.
	_, scope, err := s.requireSession(r)
	if err != nil {
		return err
	}
	if err := scope.RequireRoot(); err != nil {
		return err
	}
	if s.sources.Machines == nil {
		return errors.WrapTransient(errors.ErrStorageUnavailable, "server", "handleMachines",
			"machine source not configured")
	}
	return s.writeJSON(w, s.sources.Machines.Report())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) error {
	if r.URL.Query().Get("action") == "logout" {
		s.sessions.ClearCookie(w)
		return s.writeJSON(w, map[string]any{"success": true})
	}

	session, _, err := s.requireSession(r)
	if err != nil {
		return err
	}
	return s.writeJSON(w, session)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) error {
	if s.monitor == nil {
		return s.writeJSON(w, map[string]any{"status": "ok"})
	}
	aggregate := s.monitor.AggregateHealth("reporting-dashboard")
	return s.writeJSON(w, map[string]any{
		"status":     aggregate.Status,
		"message":    aggregate.Message,
		"components": s.monitor.GetAll(),
	})
}
