// Package auth issues and verifies the HS256 session tokens that bind a user
// to REST requests and /ws upgrades.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing session token")
	ErrInvalidToken = errors.New("invalid session token")
	ErrDisabled     = errors.New("session tokens are disabled")
)

const defaultTokenTTL = 24 * time.Hour

// Role mirrors the application's user roles.
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleTeamLeader    Role = "team_leader"
	RoleCompanyMember Role = "company_member"
)

// Session is the identity carried by a token.
type Session struct {
	UserID      int64  `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role,omitempty"`
}

type claims struct {
	DisplayName string `json:"name,omitempty"`
	Role        Role   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies tokens with one shared secret.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewManager returns a Manager. An empty secret yields a disabled manager:
// Issue fails and Parse rejects every token.
func NewManager(secret, issuer string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Manager{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Enabled reports whether a secret is configured.
func (m *Manager) Enabled() bool {
	return len(m.secret) > 0
}

// Issue signs a token for s.
func (m *Manager) Issue(s Session) (string, error) {
	if !m.Enabled() {
		return "", ErrDisabled
	}
	if s.UserID <= 0 {
		return "", fmt.Errorf("user id must be positive, got %d", s.UserID)
	}

	now := m.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		DisplayName: s.DisplayName,
		Role:        s.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   strconv.FormatInt(s.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	})

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns its session.
func (m *Manager) Parse(token string) (Session, error) {
	if !m.Enabled() {
		return Session{}, ErrDisabled
	}
	if token == "" {
		return Session{}, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Session{}, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, c.Subject)
	}

	return Session{
		UserID:      userID,
		DisplayName: c.DisplayName,
		Role:        c.Role,
	}, nil
}

// TokenFromRequest extracts a bearer token from the Authorization header or,
// for WebSocket upgrades from browsers, the "token" query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// SessionFromRequest resolves the caller of r. Without a token the caller is
// anonymous (zero Session) unless required is set, in which case
// ErrMissingToken is returned. A token that does not verify is always an
// error. When the manager is disabled every caller is anonymous.
func (m *Manager) SessionFromRequest(r *http.Request, required bool) (Session, error) {
	token := TokenFromRequest(r)
	if token == "" || !m.Enabled() {
		if required {
			return Session{}, ErrMissingToken
		}
		return Session{}, nil
	}
	return m.Parse(token)
}
