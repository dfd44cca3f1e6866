// Package auth issues and verifies browser sessions and scopes queries to
// the projects a caller is authorized to see.
package auth

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
)

// CookieName carries the signed session token.
const CookieName = "reporting_session"

// DefaultSessionTimeout is how long a session stays valid.
const DefaultSessionTimeout = 24 * time.Hour

// Session identifies an authenticated user and their authorization scope.
type Session struct {
	UID      string   `json:"uid"`
	Name     string   `json:"name"`
	Projects []string `json:"projects"`
	PMCs     []string `json:"pmcs"`
	Root     bool     `json:"root"`
}

type sessionClaims struct {
	UID      string   `json:"uid"`
	Name     string   `json:"name"`
	Projects []string `json:"projects"`
	PMCs     []string `json:"pmcs"`
	Root     bool     `json:"root"`
	jwt.RegisteredClaims
}

// Manager signs and verifies session tokens.
type Manager struct {
	secret  []byte
	timeout time.Duration
	clock   func() time.Time
}

// NewManager creates a session manager with the given signing secret. A zero
// timeout means the default.
func NewManager(secret string, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &Manager{secret: []byte(secret), timeout: timeout, clock: time.Now}
}

// Issue signs a session into a compact token.
func (m *Manager) Issue(session Session) (string, error) {
	now := m.clock()
	claims := sessionClaims{
		UID:      session.UID,
		Name:     session.Name,
		Projects: session.Projects,
		PMCs:     session.PMCs,
		Root:     session.Root,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.timeout)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", errors.WrapFatal(err, "auth", "Issue", "sign session token")
	}
	return token, nil
}

// Verify parses and validates a session token. Anything but a valid,
// unexpired token signed by us is a missing session.
func (m *Manager) Verify(token string) (*Session, error) {
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.clock))
	if err != nil || !parsed.Valid {
		return nil, errors.WrapInvalid(errors.ErrNotAuthed, "auth", "Verify", "validate session token")
	}
	return &Session{
		UID:      claims.UID,
		Name:     claims.Name,
		Projects: claims.Projects,
		PMCs:     claims.PMCs,
		Root:     claims.Root,
	}, nil
}

// ReadSession extracts and verifies the session cookie from a request.
func (m *Manager) ReadSession(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrNotAuthed, "auth", "ReadSession", "read session cookie")
	}
	return m.Verify(cookie.Value)
}

// SetCookie attaches a session token to a response.
func (m *Manager) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.timeout / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie removes the session cookie.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}
