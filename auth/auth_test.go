package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
)

func TestIssueAndVerify(t *testing.T) {
	m := NewManager("test-secret", 0)

	token, err := m.Issue(Session{
		UID:      "humbedooh",
		Name:     "Daniel",
		Projects: []string{"httpd"},
		PMCs:     []string{"tomcat"},
		Root:     false,
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	session, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "humbedooh", session.UID)
	assert.Equal(t, "Daniel", session.Name)
	assert.Equal(t, []string{"httpd"}, session.Projects)
	assert.Equal(t, []string{"tomcat"}, session.PMCs)
	assert.False(t, session.Root)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewManager("secret-a", 0).Issue(Session{UID: "u"})
	require.NoError(t, err)

	_, err = NewManager("secret-b", 0).Verify(token)
	require.Error(t, err)
	assert.True(t, errors.IsNotAuthed(err))
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	token, err := m.Issue(Session{UID: "u"})
	require.NoError(t, err)

	m.clock = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = m.Verify(token)
	require.Error(t, err)
	assert.True(t, errors.IsNotAuthed(err))
}

func TestVerifyRejectsGarbage(t *testing.T) {
	m := NewManager("test-secret", 0)
	_, err := m.Verify("not-a-token")
	require.Error(t, err)
	assert.True(t, errors.IsNotAuthed(err))
}

func TestReadSessionFromCookie(t *testing.T) {
	m := NewManager("test-secret", 0)
	token, err := m.Issue(Session{UID: "humbedooh", Root: true})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	m.SetCookie(rec, token)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.AddCookie(cookies[0])
	session, err := m.ReadSession(req)
	require.NoError(t, err)
	assert.Equal(t, "humbedooh", session.UID)
	assert.True(t, session.Root)
}

func TestReadSessionMissingCookie(t *testing.T) {
	m := NewManager("test-secret", 0)
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	_, err := m.ReadSession(req)
	require.Error(t, err)
	assert.True(t, errors.IsNotAuthed(err))
}

func TestClearCookie(t *testing.T) {
	m := NewManager("test-secret", 0)
	rec := httptest.NewRecorder()
	m.ClearCookie(rec)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestScopeFromSession(t *testing.T) {
	scope := ScopeFromSession(&Session{
		Projects: []string{"httpd", "tomcat"},
		PMCs:     []string{"tomcat", "kafka"},
	})
	assert.Equal(t, []string{"httpd", "kafka", "tomcat"}, scope.Projects)
	assert.False(t, scope.Root)

	assert.Empty(t, ScopeFromSession(nil).Projects)
	assert.False(t, ScopeFromSession(nil).Root)
}

func TestScopeAuthorize(t *testing.T) {
	scope := ScopeFromSession(&Session{Projects: []string{"httpd"}})

	assert.NoError(t, scope.Authorize(""))
	assert.NoError(t, scope.Authorize("httpd"))

	err := scope.Authorize("kafka")
	require.Error(t, err)
	assert.True(t, errors.IsAccessDenied(err))

	root := Scope{Root: true}
	assert.NoError(t, root.Authorize("kafka"))
	assert.True(t, root.Allowed("anything"))
}

func TestScopeRequireRoot(t *testing.T) {
	assert.NoError(t, Scope{Root: true}.RequireRoot())

	err := ScopeFromSession(&Session{Projects: []string{"httpd"}}).RequireRoot()
	require.Error(t, err)
	assert.True(t, errors.IsAccessDenied(err))
}
