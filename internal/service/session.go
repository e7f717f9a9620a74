package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"wellness/internal/audit"
	"wellness/internal/auth"
	"wellness/internal/entity"
	"wellness/internal/ids"
	"wellness/internal/model"
	"wellness/internal/obs"
	"wellness/internal/terms"
)

// LoginInput carries the credentials presented to Authenticate.
type LoginInput struct {
	Username  string
	Password  string
	GateToken string
	Client    ClientMeta
}

// RegisterInput carries a self-registration request.
type RegisterInput struct {
	Username   string
	Email      string
	Password   string
	Role       string
	GateToken  string
	TermsToken string
	Client     ClientMeta
}

// AuthResult is the outcome of a successful login or registration.
type AuthResult struct {
	User        *entity.DbUser
	Access      *auth.IssuedToken
	Refresh     *auth.IssuedToken
	Permissions []auth.Permission
}

// RefreshResult carries the new access token. The refresh token is unchanged.
type RefreshResult struct {
	User   *entity.DbUser
	Access *auth.IssuedToken
}

// TermsResult is returned after the client accepts the terms.
type TermsResult struct {
	SessionID  string
	Version    string
	Gate       *terms.Issued
	TermsToken *auth.IssuedToken
}

// SessionAuthenticator authenticates identities and manages their sessions.
type SessionAuthenticator struct {
	repo         model.Repository
	hasher       *auth.Hasher
	tokens       *auth.Manager
	authz        *auth.Authorizer
	gate         *terms.Gate
	audit        *audit.Recorder
	termsVersion string
	now          func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewSessionAuthenticator creates the authenticator.
func NewSessionAuthenticator(d Deps) *SessionAuthenticator {
	return &SessionAuthenticator{
		repo:         d.Repo,
		hasher:       d.Hasher,
		tokens:       d.Tokens,
		authz:        d.authorizer(),
		gate:         d.Gate,
		audit:        d.Audit,
		termsVersion: d.TermsVersion,
		now:          d.clock(),
	}
}

// GateEnabled reports whether gated operations require a gate token.
func (s *SessionAuthenticator) GateEnabled() bool {
	return s.gate != nil
}

// Authenticate verifies username and password and opens a session.
func (s *SessionAuthenticator) Authenticate(ctx context.Context, in LoginInput) (*AuthResult, error) {
	claim, err := s.claimGate(ctx, in.GateToken)
	if err != nil {
		obs.AuthAttempts.WithLabelValues("login", "gate_rejected").Inc()
		return nil, err
	}

	result, err := s.authenticate(ctx, in)
	if err != nil {
		s.releaseGate(ctx, claim, err)
		obs.AuthAttempts.WithLabelValues("login", outcome(err)).Inc()
		return nil, err
	}
	obs.AuthAttempts.WithLabelValues("login", "success").Inc()
	return result, nil
}

func (s *SessionAuthenticator) authenticate(ctx context.Context, in LoginInput) (*AuthResult, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return nil, auth.ErrInvalidCredentials
	}

	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			// Keep the unknown-user path as slow as a real comparison.
			s.hasher.Verify(in.Password, s.timingHash())
			return nil, auth.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		s.recordLoginFailure(ctx, user, "invalid_password", in.Client)
		return nil, auth.ErrInvalidCredentials
	}
	if !user.IsActive {
		s.recordLoginFailure(ctx, user, "inactive_account", in.Client)
		return nil, auth.ErrInactiveAccount
	}

	return s.openSession(ctx, user, in.Client, audit.ActionLogin)
}

// Refresh exchanges a refresh token for a new access token. The refresh
// token stays the same and remains bound to its session.
func (s *SessionAuthenticator) Refresh(ctx context.Context, refreshToken string, client ClientMeta) (*RefreshResult, error) {
	result, err := s.refresh(ctx, refreshToken, client)
	if err != nil {
		obs.AuthAttempts.WithLabelValues("refresh", outcome(err)).Inc()
		return nil, err
	}
	obs.AuthAttempts.WithLabelValues("refresh", "success").Inc()
	return result, nil
}

func (s *SessionAuthenticator) refresh(ctx context.Context, refreshToken string, client ClientMeta) (*RefreshResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, auth.ErrMissingCredentials
	}
	claims, err := s.tokens.Verify(refreshToken, auth.TokenRefresh)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	session, err := s.repo.GetActiveSessionByRefresh(ctx, claims.ID, now)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, auth.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	if session.UserID != claims.UserID {
		return nil, auth.ErrInvalidCredentials
	}
	user, err := s.repo.GetUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, auth.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return nil, auth.ErrInactiveAccount
	}

	perms, err := s.authz.ResolvePermissions(ctx, user.Identity())
	if err != nil {
		return nil, err
	}
	access, err := s.tokens.IssueAccess(user.ID, user.Username, user.Role, perms)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	if err := s.repo.UpdateSessionAccessToken(ctx, session.ID, access.Claims.ID); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:       &user.ID,
		Action:       audit.ActionTokenRefresh,
		ResourceType: "session",
		ResourceID:   &session.ID,
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
	})
	return &RefreshResult{User: user, Access: access}, nil
}

// Register creates a self-registered identity with the default role and
// opens a session for it.
func (s *SessionAuthenticator) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	claim, err := s.claimGate(ctx, in.GateToken)
	if err != nil {
		obs.AuthAttempts.WithLabelValues("register", "gate_rejected").Inc()
		return nil, err
	}

	result, err := s.register(ctx, in, claim)
	if err != nil {
		s.releaseGate(ctx, claim, err)
		obs.AuthAttempts.WithLabelValues("register", outcome(err)).Inc()
		return nil, err
	}
	obs.AuthAttempts.WithLabelValues("register", "success").Inc()
	return result, nil
}

func (s *SessionAuthenticator) register(ctx context.Context, in RegisterInput, claim *terms.Entry) (*AuthResult, error) {
	username := strings.TrimSpace(in.Username)
	email := trimEmail(in.Email)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	if requested := strings.TrimSpace(in.Role); requested != "" {
		role, err := auth.ParseRole(requested)
		if err != nil {
			return nil, err
		}
		if role != auth.DefaultRole {
			return nil, auth.ErrForbidden
		}
	}

	acceptanceID := ""
	if claim != nil {
		acceptanceID = claim.SessionID
	}
	if token := strings.TrimSpace(in.TermsToken); token != "" {
		claims, err := s.tokens.Verify(token, auth.TokenTerms)
		if err != nil {
			return nil, err
		}
		acceptanceID = claims.Subject
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	user := &entity.DbUser{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         auth.DefaultRole,
		IsActive:     true,
		LastLoginAt:  &now,
		LoginCount:   1,
	}
	var link *entity.TermsLink
	if acceptanceID != "" {
		link = &entity.TermsLink{SessionID: acceptanceID, Version: s.termsVersion, At: now}
	}

	// A new identity holds no grants, so its role set is the full snapshot.
	perms := auth.PermissionsForRole(user.Role)
	var access, refresh *auth.IssuedToken
	// The unique indexes decide concurrent registrations.
	err = s.repo.RegisterUser(ctx, user, link, func(created *entity.DbUser) (*entity.DbSession, error) {
		var session *entity.DbSession
		var err error
		access, refresh, session, err = s.issueSession(created, perms, in.Client)
		return session, err
	})
	if err != nil {
		if errors.Is(err, auth.ErrConflict) {
			return nil, auth.ErrConflict
		}
		return nil, fmt.Errorf("register user: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:       &user.ID,
		Action:       audit.ActionRegister,
		ResourceType: "user",
		ResourceID:   &user.ID,
		Details:      map[string]interface{}{"role": string(user.Role), "terms_linked": link != nil},
		IPAddress:    in.Client.IPAddress,
		UserAgent:    in.Client.UserAgent,
	})
	return &AuthResult{User: user, Access: access, Refresh: refresh, Permissions: perms}, nil
}

// Logout ends the session owning accessJTI, or every session of the identity
// when all is set.
func (s *SessionAuthenticator) Logout(ctx context.Context, id auth.Identity, accessJTI string, all bool, client ClientMeta) error {
	var (
		ended int64
		err   error
	)
	if all {
		ended, err = s.repo.DeactivateUserSessions(ctx, id.ID)
	} else {
		ended, err = s.repo.DeactivateSession(ctx, id.ID, accessJTI)
	}
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:    &id.ID,
		Action:    audit.ActionLogout,
		Details:   map[string]interface{}{"all": all, "sessions_ended": ended},
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	})
	return nil
}

// AcceptTerms records a terms acceptance and hands out the gate token that
// admits one registration or login, plus a terms token naming the acceptance.
func (s *SessionAuthenticator) AcceptTerms(ctx context.Context, client ClientMeta) (*TermsResult, error) {
	now := s.now().UTC()
	sessionID := ids.NewAt(now)

	if err := s.repo.CreateTermsAcceptance(ctx, &entity.DbTermsAcceptance{
		SessionID:    sessionID,
		TermsVersion: s.termsVersion,
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
		AcceptedAt:   now,
	}); err != nil {
		return nil, fmt.Errorf("record terms acceptance: %w", err)
	}

	result := &TermsResult{SessionID: sessionID, Version: s.termsVersion}
	if s.gate != nil {
		issued, err := s.gate.Issue(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		obs.GateTokens.WithLabelValues("issued").Inc()
		result.Gate = issued
	}
	termsToken, err := s.tokens.IssueTerms(sessionID)
	if err != nil {
		return nil, fmt.Errorf("issue terms token: %w", err)
	}
	result.TermsToken = termsToken
	return result, nil
}

// ResolveIdentity loads the active user the verified access claims were
// issued to. The user id is authoritative since usernames can change hands.
func (s *SessionAuthenticator) ResolveIdentity(ctx context.Context, claims *auth.Claims) (*entity.DbUser, error) {
	if claims == nil || claims.UserID == 0 {
		return nil, auth.ErrInvalidCredentials
	}
	user, err := s.repo.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, auth.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return nil, auth.ErrInactiveAccount
	}
	return user, nil
}

// Permissions returns the effective permissions of the user.
func (s *SessionAuthenticator) Permissions(ctx context.Context, user *entity.DbUser) ([]auth.Permission, error) {
	return s.authz.ResolvePermissions(ctx, user.Identity())
}

// openSession issues the token pair, persists the session and audits action.
// No tokens are returned unless the session row was written.
func (s *SessionAuthenticator) openSession(ctx context.Context, user *entity.DbUser, client ClientMeta, action audit.Action) (*AuthResult, error) {
	perms, err := s.authz.ResolvePermissions(ctx, user.Identity())
	if err != nil {
		return nil, err
	}
	access, refresh, session, err := s.issueSession(user, perms, client)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	now := s.now().UTC()
	if err := s.repo.RecordLogin(ctx, user.ID, now); err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Warn("failed to record login")
	} else {
		user.LastLoginAt = &now
		user.LoginCount++
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:       &user.ID,
		Action:       action,
		ResourceType: "session",
		ResourceID:   &session.ID,
		Details:      map[string]interface{}{"role": string(user.Role)},
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
	})

	return &AuthResult{User: user, Access: access, Refresh: refresh, Permissions: perms}, nil
}

// issueSession signs the token pair for user and builds the unsaved session
// row binding them.
func (s *SessionAuthenticator) issueSession(user *entity.DbUser, perms []auth.Permission, client ClientMeta) (*auth.IssuedToken, *auth.IssuedToken, *entity.DbSession, error) {
	access, err := s.tokens.IssueAccess(user.ID, user.Username, user.Role, perms)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefresh(user.ID, user.Username)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("issue refresh token: %w", err)
	}
	session := &entity.DbSession{
		UserID:       user.ID,
		SessionToken: access.Claims.ID,
		RefreshToken: refresh.Claims.ID,
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
		ExpiresAt:    refresh.ExpiresAt,
		IsActive:     true,
	}
	return access, refresh, session, nil
}

func (s *SessionAuthenticator) recordLoginFailure(ctx context.Context, user *entity.DbUser, reason string, client ClientMeta) {
	s.audit.Record(ctx, audit.Entry{
		UserID:    &user.ID,
		Action:    audit.ActionLoginFailed,
		Details:   map[string]interface{}{"reason": reason},
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	})
}

func (s *SessionAuthenticator) claimGate(ctx context.Context, token string) (*terms.Entry, error) {
	if s.gate == nil {
		return nil, nil
	}
	entry, err := s.gate.Consume(ctx, token)
	if err != nil {
		obs.GateTokens.WithLabelValues("rejected").Inc()
		return nil, err
	}
	obs.GateTokens.WithLabelValues("consumed").Inc()
	return &entry, nil
}

func (s *SessionAuthenticator) releaseGate(ctx context.Context, claim *terms.Entry, cause error) {
	if claim == nil || !retryable(cause) {
		return
	}
	if err := s.gate.Release(ctx, *claim); err != nil {
		logrus.WithError(err).Warn("failed to release terms gate token")
		return
	}
	obs.GateTokens.WithLabelValues("released").Inc()
}

func (s *SessionAuthenticator) timingHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(ids.New())
		if err != nil {
			logrus.WithError(err).Warn("failed to prepare timing hash")
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func outcome(err error) string {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrMissingCredentials):
		return "invalid_credentials"
	case errors.Is(err, auth.ErrInactiveAccount):
		return "inactive"
	case errors.Is(err, auth.ErrConflict):
		return "conflict"
	case errors.Is(err, auth.ErrForbidden):
		return "forbidden"
	case errors.Is(err, auth.ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}
