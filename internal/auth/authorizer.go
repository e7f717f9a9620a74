package auth

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Identity is the authenticated subject an authorization decision is made for.
type Identity struct {
	ID       uint
	Username string
	Role     Role
}

// GrantLookup reads per-user permission grants. Only grants with
// granted=true are reported.
type GrantLookup interface {
	HasActiveGrant(ctx context.Context, userID uint, module Module, action Action) (bool, error)
	ListActiveGrants(ctx context.Context, userID uint) ([]Permission, error)
}

// Authorizer decides whether an identity may perform a module/action pair.
type Authorizer struct {
	grants GrantLookup
}

// NewAuthorizer creates an authorizer. A nil lookup disables per-user grants.
func NewAuthorizer(grants GrantLookup) *Authorizer {
	return &Authorizer{grants: grants}
}

// Authorize resolves the decision: admin always, then the fixed role table,
// then active per-user grants.
func (a *Authorizer) Authorize(ctx context.Context, id Identity, module Module, action Action) (bool, error) {
	if id.Role == RoleAdmin {
		return true, nil
	}
	perm := Permission{Module: module, Action: action}
	if RoleAllows(id.Role, perm) {
		return true, nil
	}
	if a == nil || a.grants == nil || id.ID == 0 {
		return false, nil
	}
	granted, err := a.grants.HasActiveGrant(ctx, id.ID, module, action)
	if err != nil {
		return false, fmt.Errorf("lookup permission grant: %w", err)
	}
	if granted {
		logrus.WithFields(logrus.Fields{
			"user_id":    id.ID,
			"permission": perm.String(),
		}).Debug("permission satisfied by user grant")
	}
	return granted, nil
}

// RequirePermission wraps Authorize and returns ErrForbidden on denial.
func (a *Authorizer) RequirePermission(ctx context.Context, id Identity, module Module, action Action) error {
	ok, err := a.Authorize(ctx, id, module, action)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// ResolvePermissions returns the union of the role's fixed set and the
// identity's active grants, sorted and de-duplicated.
func (a *Authorizer) ResolvePermissions(ctx context.Context, id Identity) ([]Permission, error) {
	perms := PermissionsForRole(id.Role)
	if id.Role != RoleAdmin && a != nil && a.grants != nil && id.ID != 0 {
		extra, err := a.grants.ListActiveGrants(ctx, id.ID)
		if err != nil {
			return nil, fmt.Errorf("list permission grants: %w", err)
		}
		perms = append(perms, extra...)
	}

	seen := make(map[Permission]struct{}, len(perms))
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	SortPermissions(out)
	return out, nil
}
