package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TokenType distinguishes the purposes a signed token can serve.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
	TokenTerms   TokenType = "terms"
)

// Default lifetimes for each token type.
const (
	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultTermsTTL   = 24 * time.Hour
)

// Claims represents JWT claims carried by every token the service issues.
type Claims struct {
	UserID      uint      `json:"uid,omitempty"`
	Type        TokenType `json:"type"`
	Role        Role      `json:"role,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// TokenTTLs configures the lifetime of each token type.
type TokenTTLs struct {
	Access  time.Duration
	Refresh time.Duration
	Terms   time.Duration
}

// IssuedToken is a signed token together with the claims it carries.
type IssuedToken struct {
	Token     string
	Claims    *Claims
	ExpiresAt time.Time
}

// Manager encapsulates JWT generation and validation.
type Manager struct {
	secret []byte
	issuer string
	ttl    TokenTTLs
	now    func() time.Time
}

// NewManager creates a new JWT manager.
func NewManager(secret, issuer string, ttl TokenTTLs) (*Manager, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	if ttl.Access <= 0 {
		ttl.Access = DefaultAccessTTL
	}
	if ttl.Refresh <= 0 {
		ttl.Refresh = DefaultRefreshTTL
	}
	if ttl.Terms <= 0 {
		ttl.Terms = DefaultTermsTTL
	}
	if strings.TrimSpace(issuer) == "" {
		issuer = "wellness"
	}
	return &Manager{
		secret: []byte(trimmed),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// WithClock replaces the time source used for issuing and verifying.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

// TTLs returns the configured token lifetimes.
func (m *Manager) TTLs() TokenTTLs {
	return m.ttl
}

// Issue signs a token of the given type for subject. userID is zero for
// tokens that do not name an identity.
func (m *Manager) Issue(userID uint, subject string, typ TokenType, ttl time.Duration, role Role, permissions []string) (*IssuedToken, error) {
	if m == nil {
		return nil, errors.New("jwt manager is nil")
	}
	if strings.TrimSpace(subject) == "" {
		return nil, errors.New("token subject must not be empty")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	now := m.now().UTC()
	expiry := now.Add(ttl)

	claims := &Claims{
		UserID:      userID,
		Type:        typ,
		Role:        role,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return nil, err
	}
	return &IssuedToken{Token: signed, Claims: claims, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// IssueAccess issues an access token carrying the role and a snapshot of
// the resolved permissions.
func (m *Manager) IssueAccess(userID uint, subject string, role Role, permissions []Permission) (*IssuedToken, error) {
	if userID == 0 {
		return nil, errors.New("access token requires a user id")
	}
	return m.Issue(userID, subject, TokenAccess, m.ttl.Access, role, PermissionStrings(permissions))
}

// IssueRefresh issues a refresh token carrying only the identity.
func (m *Manager) IssueRefresh(userID uint, subject string) (*IssuedToken, error) {
	if userID == 0 {
		return nil, errors.New("refresh token requires a user id")
	}
	return m.Issue(userID, subject, TokenRefresh, m.ttl.Refresh, "", nil)
}

// IssueTerms issues a terms token for a pre-registration identifier.
func (m *Manager) IssueTerms(identifier string) (*IssuedToken, error) {
	return m.Issue(0, identifier, TokenTerms, m.ttl.Terms, "", nil)
}

// Verify validates signature, expiry and type. Every failure is reported as
// ErrInvalidCredentials.
func (m *Manager) Verify(tokenString string, expected TokenType) (*Claims, error) {
	if m == nil {
		return nil, errors.New("jwt manager is nil")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)

	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		logrus.WithError(err).Debug("token rejected")
		return nil, ErrInvalidCredentials
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	if claims.Type != expected {
		logrus.WithFields(logrus.Fields{"got": claims.Type, "want": expected}).Debug("token type mismatch")
		return nil, ErrInvalidCredentials
	}
	if strings.TrimSpace(claims.Subject) == "" {
		logrus.Debug("token missing subject")
		return nil, ErrInvalidCredentials
	}
	if expected != TokenTerms && claims.UserID == 0 {
		logrus.Debug("token missing user id")
		return nil, ErrInvalidCredentials
	}
	return claims, nil
}
