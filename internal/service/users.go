package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"wellness/internal/audit"
	"wellness/internal/auth"
	"wellness/internal/entity"
	"wellness/internal/model"
)

// UserCreateInput is an admin request to create an account with an explicit role.
type UserCreateInput struct {
	Username string
	Email    string
	Password string
	Role     string
	IsActive *bool
	Client   ClientMeta
}

// UserPatch carries optional profile changes. Nil fields are left untouched.
type UserPatch struct {
	Username *string
	Email    *string
	Password *string
	Role     *string
	IsActive *bool
	Client   ClientMeta
}

// UserService manages accounts, grants and the audit view.
type UserService struct {
	repo   model.Repository
	hasher *auth.Hasher
	authz  *auth.Authorizer
	audit  *audit.Recorder
	now    func() time.Time
}

// NewUserService creates the user management service.
func NewUserService(d Deps) *UserService {
	return &UserService{
		repo:   d.Repo,
		hasher: d.Hasher,
		authz:  d.authorizer(),
		audit:  d.Audit,
		now:    d.clock(),
	}
}

// CreateUser creates an account on behalf of an administrator.
func (s *UserService) CreateUser(ctx context.Context, actor auth.Identity, in UserCreateInput) (*entity.DbUser, error) {
	if err := s.authz.RequirePermission(ctx, actor, auth.ModuleUserManagement, auth.ActionCreate); err != nil {
		return nil, err
	}

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
	role := auth.DefaultRole
	if strings.TrimSpace(in.Role) != "" {
		parsed, err := auth.ParseRole(in.Role)
		if err != nil {
			return nil, err
		}
		role = parsed
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	creator := actor.ID
	user := &entity.DbUser{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     active,
		CreatedBy:    &creator,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, auth.ErrConflict) {
			return nil, auth.ErrConflict
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:       &actor.ID,
		Action:       audit.ActionUserCreated,
		ResourceType: "user",
		ResourceID:   &user.ID,
		Details:      map[string]interface{}{"username": user.Username, "role": string(user.Role)},
		IPAddress:    in.Client.IPAddress,
		UserAgent:    in.Client.UserAgent,
	})
	return user, nil
}

// GetUser returns the account with id. Users may always read themselves.
func (s *UserService) GetUser(ctx context.Context, actor auth.Identity, id uint) (*entity.DbUser, error) {
	if err := s.requireSelfOr(ctx, actor, id, auth.ActionRead); err != nil {
		return nil, err
	}
	return s.repo.GetUserByID(ctx, id)
}

// UpdateUser applies patch to the account with id.
func (s *UserService) UpdateUser(ctx context.Context, actor auth.Identity, id uint, patch UserPatch) (*entity.DbUser, error) {
	if err := s.requireSelfOr(ctx, actor, id, auth.ActionUpdate); err != nil {
		return nil, err
	}
	target, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var updates entity.UserUpdates
	changed := make([]string, 0, 5)

	if patch.Username != nil {
		username := strings.TrimSpace(*patch.Username)
		if err := validateUsername(username); err != nil {
			return nil, err
		}
		updates.Username = &username
		changed = append(changed, "username")
	}
	if patch.Email != nil {
		email := trimEmail(*patch.Email)
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		updates.Email = &email
		changed = append(changed, "email")
	}
	if patch.Password != nil {
		if err := validatePassword(*patch.Password); err != nil {
			return nil, err
		}
		hash, err := s.hasher.Hash(*patch.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		updates.PasswordHash = &hash
		changed = append(changed, "password")
	}
	if patch.Role != nil || patch.IsActive != nil {
		// Role and status are administrative and never self-service.
		if actor.ID == id {
			return nil, auth.ErrForbidden
		}
		if err := s.authz.RequirePermission(ctx, actor, auth.ModuleUserManagement, auth.ActionUpdate); err != nil {
			return nil, err
		}
	}
	if patch.Role != nil {
		role, err := auth.ParseRole(*patch.Role)
		if err != nil {
			return nil, err
		}
		updates.Role = &role
		changed = append(changed, "role")
	}
	if patch.IsActive != nil {
		active := *patch.IsActive
		updates.IsActive = &active
		changed = append(changed, "is_active")
	}

	if updates.IsEmpty() {
		return target, nil
	}
	if err := s.repo.UpdateUser(ctx, id, updates); err != nil {
		return nil, err
	}
	if updates.IsActive != nil && !*updates.IsActive {
		if _, err := s.repo.DeactivateUserSessions(ctx, id); err != nil {
			logrus.WithError(err).WithField("user_id", id).Warn("failed to end sessions of deactivated user")
		}
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:       &actor.ID,
		Action:       audit.ActionUserUpdated,
		ResourceType: "user",
		ResourceID:   &id,
		Details:      map[string]interface{}{"fields": changed},
		IPAddress:    patch.Client.IPAddress,
		UserAgent:    patch.Client.UserAgent,
	})
	return s.repo.GetUserByID(ctx, id)
}

// DeleteUser removes the account with id together with its sessions, grants
// and audit rows. Admin accounts can only delete themselves.
func (s *UserService) DeleteUser(ctx context.Context, actor auth.Identity, id uint, client ClientMeta) error {
	if err := s.requireSelfOr(ctx, actor, id, auth.ActionDelete); err != nil {
		return err
	}
	target, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return err
	}
	if target.IsAdmin() && actor.ID != id {
		return auth.ErrForbidden
	}
	if err := s.repo.DeleteUserCascade(ctx, id); err != nil {
		return err
	}

	entry := audit.Entry{
		Action:       audit.ActionUserDeleted,
		ResourceType: "user",
		ResourceID:   &id,
		Details:      map[string]interface{}{"username": target.Username},
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
	}
	// A self-deletion leaves no actor row to attribute the event to.
	if actor.ID != id {
		entry.UserID = &actor.ID
	}
	s.audit.Record(ctx, entry)
	return nil
}

// ListUsers pages through accounts.
func (s *UserService) ListUsers(ctx context.Context, query *entity.UserQuery) ([]entity.DbUser, *entity.Meta, error) {
	if query == nil {
		query = &entity.UserQuery{}
	}
	if query.Role != "" {
		role, err := auth.ParseRole(query.Role)
		if err != nil {
			return nil, nil, err
		}
		query.Role = string(role)
	}
	return s.repo.ListUsers(ctx, query)
}

// Stats summarises the user base.
func (s *UserService) Stats(ctx context.Context) (*entity.UserStats, error) {
	return s.repo.UserStats(ctx, s.now().UTC())
}

// GrantPermission gives userID the module/action pair on top of its role.
func (s *UserService) GrantPermission(ctx context.Context, actor auth.Identity, userID uint, module, action string, client ClientMeta) (*entity.DbUserPermission, error) {
	return s.setGrant(ctx, actor, userID, module, action, true, client)
}

// RevokePermission marks the grant of userID as revoked.
func (s *UserService) RevokePermission(ctx context.Context, actor auth.Identity, userID uint, module, action string, client ClientMeta) (*entity.DbUserPermission, error) {
	return s.setGrant(ctx, actor, userID, module, action, false, client)
}

func (s *UserService) setGrant(ctx context.Context, actor auth.Identity, userID uint, module, action string, granted bool, client ClientMeta) (*entity.DbUserPermission, error) {
	if err := s.authz.RequirePermission(ctx, actor, auth.ModuleUserManagement, auth.ActionUpdate); err != nil {
		return nil, err
	}
	perm, err := auth.ParsePermission(module, action)
	if err != nil {
		return nil, err
	}
	target, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if target.IsAdmin() {
		return nil, fmt.Errorf("%w: admin accounts hold every permission", auth.ErrInvalidInput)
	}

	grantor := actor.ID
	grant := &entity.DbUserPermission{
		UserID:    userID,
		Module:    perm.Module,
		Action:    perm.Action,
		Granted:   granted,
		GrantedBy: &grantor,
		GrantedAt: s.now().UTC(),
	}
	if err := s.repo.UpsertUserPermission(ctx, grant); err != nil {
		return nil, fmt.Errorf("save permission grant: %w", err)
	}

	event := audit.ActionPermissionGranted
	if !granted {
		event = audit.ActionPermissionRevoked
	}
	s.audit.Record(ctx, audit.Entry{
		UserID:       &actor.ID,
		Action:       event,
		ResourceType: "user",
		ResourceID:   &userID,
		Details:      map[string]interface{}{"permission": perm.String()},
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
	})
	return grant, nil
}

// ListGrants returns the stored grants of userID and its effective permissions.
func (s *UserService) ListGrants(ctx context.Context, userID uint) (*entity.UserPermissionsResponse, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	grants, err := s.repo.ListUserPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	effective, err := s.authz.ResolvePermissions(ctx, user.Identity())
	if err != nil {
		return nil, err
	}
	return &entity.UserPermissionsResponse{
		UserID:    user.ID,
		Role:      user.Role,
		Grants:    grants,
		Effective: auth.PermissionStrings(effective),
	}, nil
}

// AuditLogs returns a page of the audit log.
func (s *UserService) AuditLogs(ctx context.Context, query *entity.AuditQuery) ([]entity.DbAuditLog, *entity.Meta, error) {
	return s.audit.List(ctx, query)
}

// RolePermissions renders the compiled role table.
func (s *UserService) RolePermissions() entity.RolePermissionsResponse {
	roles := make(map[auth.Role][]string, len(auth.AllRoles))
	for _, role := range auth.AllRoles {
		perms := auth.PermissionsForRole(role)
		auth.SortPermissions(perms)
		roles[role] = auth.PermissionStrings(perms)
	}
	return entity.RolePermissionsResponse{Roles: roles}
}

// SetRolePermission always fails: role permissions are compiled in.
func (s *UserService) SetRolePermission(ctx context.Context, actor auth.Identity, role, module, action string, allowed bool) error {
	if err := s.authz.RequirePermission(ctx, actor, auth.ModuleUserManagement, auth.ActionUpdate); err != nil {
		return err
	}
	r, err := auth.ParseRole(role)
	if err != nil {
		return err
	}
	perm, err := auth.ParsePermission(module, action)
	if err != nil {
		return err
	}
	return auth.SetRolePermission(r, perm, allowed)
}

func (s *UserService) requireSelfOr(ctx context.Context, actor auth.Identity, id uint, action auth.Action) error {
	if actor.ID != 0 && actor.ID == id {
		return nil
	}
	return s.authz.RequirePermission(ctx, actor, auth.ModuleUserManagement, action)
}
