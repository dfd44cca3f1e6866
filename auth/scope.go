package auth

import (
	"sort"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
)

// Scope is the project-level authorization derived from a session. A nil
// session yields the zero scope, which sees nothing.
type Scope struct {
	// Projects is the sorted union of committer and PMC memberships.
	Projects []string
	// Root grants unrestricted visibility.
	Root bool
}

// ScopeFromSession derives a scope from a verified session.
func ScopeFromSession(s *Session) Scope {
	if s == nil {
		return Scope{}
	}
	seen := make(map[string]struct{}, len(s.Projects)+len(s.PMCs))
	for _, p := range s.Projects {
		seen[p] = struct{}{}
	}
	for _, p := range s.PMCs {
		seen[p] = struct{}{}
	}
	projects := make([]string, 0, len(seen))
	for p := range seen {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	return Scope{Projects: projects, Root: s.Root}
}

// Allowed reports whether the scope may see entries for a project.
func (sc Scope) Allowed(project string) bool {
	if sc.Root {
		return true
	}
	for _, p := range sc.Projects {
		if p == project {
			return true
		}
	}
	return false
}

// Authorize checks access to an explicitly requested project. Requesting a
// project outside the scope is a denial, not an empty result.
func (sc Scope) Authorize(project string) error {
	if project == "" || sc.Allowed(project) {
		return nil
	}
	return errors.WrapInvalid(errors.ErrAccessDenied, "auth", "Authorize",
		"authorize project "+project)
}

// RequireRoot checks that the scope has unrestricted access.
func (sc Scope) RequireRoot() error {
	if sc.Root {
		return nil
	}
	return errors.WrapInvalid(errors.ErrAccessDenied, "auth", "RequireRoot",
		"authorize privileged query")
}
