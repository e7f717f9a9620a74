package service

import (
	"context"
	"errors"
	"testing"

	"wellness/internal/audit"
	"wellness/internal/auth"
	"wellness/internal/entity"
)

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func TestCreateUserRequiresPermission(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	tracker := env.register(t, "judy", "Passw0rd!")

	_, err := env.users.CreateUser(ctx, tracker.User.Identity(), UserCreateInput{
		Username: "mallory", Email: "mallory@x.com", Password: "Passw0rd!", Role: "admin",
	})
	if !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCreateUserConflictAndInactive(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	admin := env.seedAdmin(t)

	user, err := env.users.CreateUser(ctx, admin.Identity(), UserCreateInput{
		Username: "ken", Email: "ken@x.com", Password: "Passw0rd!", IsActive: boolPtr(false),
	})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if user.IsActive || user.Role != auth.DefaultRole {
		t.Fatalf("unexpected user state: active=%v role=%s", user.IsActive, user.Role)
	}

	_, err = env.users.CreateUser(ctx, admin.Identity(), UserCreateInput{
		Username: "ken", Email: "ken2@x.com", Password: "Passw0rd!",
	})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	logs, _, err := env.users.AuditLogs(ctx, &entity.AuditQuery{Action: string(audit.ActionUserCreated)})
	if err != nil {
		t.Fatalf("AuditLogs() error = %v", err)
	}
	if len(logs) != 1 || logs[0].UserID == nil || *logs[0].UserID != admin.ID {
		t.Fatalf("expected one USER_CREATED row attributed to the admin, got %+v", logs)
	}
}

func TestUpdateUserSelfService(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	reg := env.register(t, "leo", "Passw0rd!")
	other := env.register(t, "mia", "Passw0rd!")
	self := reg.User.Identity()

	tests := []struct {
		name  string
		id    uint
		patch UserPatch
		want  error
	}{
		{name: "own role", id: self.ID, patch: UserPatch{Role: strPtr("admin")}, want: auth.ErrForbidden},
		{name: "own status", id: self.ID, patch: UserPatch{IsActive: boolPtr(false)}, want: auth.ErrForbidden},
		{name: "someone else", id: other.User.ID, patch: UserPatch{Email: strPtr("x@x.com")}, want: auth.ErrForbidden},
		{name: "taken username", id: self.ID, patch: UserPatch{Username: strPtr("mia")}, want: auth.ErrConflict},
		{name: "short password", id: self.ID, patch: UserPatch{Password: strPtr("short")}, want: auth.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.users.UpdateUser(ctx, self, tt.id, tt.patch)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	updated, err := env.users.UpdateUser(ctx, self, self.ID, UserPatch{
		Email:    strPtr(" Leo.New@X.com "),
		Password: strPtr("N3wPassword!"),
	})
	if err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}
	if updated.Email != "Leo.New@X.com" {
		t.Fatalf("expected trimmed email, got %s", updated.Email)
	}
	if _, err := env.session.Authenticate(ctx, LoginInput{Username: "leo", Password: "N3wPassword!"}); err != nil {
		t.Fatalf("new password should authenticate, got %v", err)
	}
	if _, err := env.session.Authenticate(ctx, LoginInput{Username: "leo", Password: "Passw0rd!"}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}
}

func TestAdminChangesRole(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	admin := env.seedAdmin(t)
	reg := env.register(t, "nina", "Passw0rd!")

	updated, err := env.users.UpdateUser(ctx, admin.Identity(), reg.User.ID, UserPatch{Role: strPtr("wellness_tracker")})
	if err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}
	if updated.Role != auth.RoleWellnessTracker {
		t.Fatalf("expected wellness_tracker, got %s", updated.Role)
	}
	if _, err := env.users.UpdateUser(ctx, admin.Identity(), reg.User.ID, UserPatch{Role: strPtr("owner")}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown role, got %v", err)
	}
	if _, err := env.users.UpdateUser(ctx, admin.Identity(), 9999, UserPatch{Email: strPtr("a@b.com")}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteUser(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	admin := env.seedAdmin(t)
	oscar := env.register(t, "oscar", "Passw0rd!")
	pat := env.register(t, "pat", "Passw0rd!")

	if err := env.users.DeleteUser(ctx, oscar.User.Identity(), pat.User.ID, ClientMeta{}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("tracker must not delete others, got %v", err)
	}
	if err := env.users.DeleteUser(ctx, oscar.User.Identity(), admin.ID, ClientMeta{}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("tracker must not delete admin, got %v", err)
	}

	if err := env.users.DeleteUser(ctx, oscar.User.Identity(), oscar.User.ID, ClientMeta{}); err != nil {
		t.Fatalf("self delete error = %v", err)
	}
	if _, err := env.repo.GetUserByID(ctx, oscar.User.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected deleted user to be gone, got %v", err)
	}
	if _, err := env.session.Refresh(ctx, oscar.Refresh.Token, ClientMeta{}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("deleted user's sessions must be gone, got %v", err)
	}

	if err := env.users.DeleteUser(ctx, admin.Identity(), pat.User.ID, ClientMeta{}); err != nil {
		t.Fatalf("admin delete error = %v", err)
	}
	logs, _, err := env.users.AuditLogs(ctx, &entity.AuditQuery{Action: string(audit.ActionUserDeleted)})
	if err != nil {
		t.Fatalf("AuditLogs() error = %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected two USER_DELETED rows, got %d", len(logs))
	}
}

func TestGrantAndRevokePermission(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	admin := env.seedAdmin(t)
	reg := env.register(t, "quinn", "Passw0rd!")
	authz := auth.NewAuthorizer(env.repo)
	id := reg.User.Identity()

	if ok, _ := authz.Authorize(ctx, id, auth.ModuleSleep, auth.ActionRead); ok {
		t.Fatal("exercise tracker should not read sleep before a grant")
	}

	grant, err := env.users.GrantPermission(ctx, admin.Identity(), id.ID, "sleep", "read", ClientMeta{})
	if err != nil {
		t.Fatalf("GrantPermission() error = %v", err)
	}
	if !grant.Granted || grant.GrantedBy == nil || *grant.GrantedBy != admin.ID {
		t.Fatalf("unexpected grant %+v", grant)
	}
	if ok, err := authz.Authorize(ctx, id, auth.ModuleSleep, auth.ActionRead); err != nil || !ok {
		t.Fatalf("grant should allow sleep:read (ok=%v, err=%v)", ok, err)
	}

	view, err := env.users.ListGrants(ctx, id.ID)
	if err != nil {
		t.Fatalf("ListGrants() error = %v", err)
	}
	if len(view.Grants) != 1 {
		t.Fatalf("expected one stored grant, got %d", len(view.Grants))
	}
	found := false
	for _, p := range view.Effective {
		if p == "sleep:read" {
			found = true
		}
	}
	if !found {
		t.Fatalf("effective permissions should include sleep:read: %v", view.Effective)
	}

	if _, err := env.users.RevokePermission(ctx, admin.Identity(), id.ID, "sleep", "read", ClientMeta{}); err != nil {
		t.Fatalf("RevokePermission() error = %v", err)
	}
	if ok, _ := authz.Authorize(ctx, id, auth.ModuleSleep, auth.ActionRead); ok {
		t.Fatal("revocation should deny sleep:read again")
	}

	tests := []struct {
		name   string
		actor  auth.Identity
		target uint
		module string
		want   error
	}{
		{name: "tracker grants", actor: id, target: id.ID, module: "sleep", want: auth.ErrForbidden},
		{name: "unknown module", actor: admin.Identity(), target: id.ID, module: "finance", want: auth.ErrInvalidInput},
		{name: "admin target", actor: admin.Identity(), target: admin.ID, module: "sleep", want: auth.ErrInvalidInput},
		{name: "missing target", actor: admin.Identity(), target: 4242, module: "sleep", want: auth.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.users.GrantPermission(ctx, tt.actor, tt.target, tt.module, "read", ClientMeta{})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRolePermissionsAndImmutableTable(t *testing.T) {
	env := newTestEnv(t, false)
	admin := env.seedAdmin(t)

	view := env.users.RolePermissions()
	if len(view.Roles) != len(auth.AllRoles) {
		t.Fatalf("expected %d roles, got %d", len(auth.AllRoles), len(view.Roles))
	}
	if got := len(view.Roles[auth.RoleAdmin]); got != len(auth.AllModules)*len(auth.AllActions) {
		t.Fatalf("admin should list every permission, got %d", got)
	}

	err := env.users.SetRolePermission(context.Background(), admin.Identity(), "exercise_tracker", "sleep", "read", true)
	if !errors.Is(err, auth.ErrRoleTableImmutable) {
		t.Fatalf("expected ErrRoleTableImmutable, got %v", err)
	}
}

func TestListUsersAndStats(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	env.seedAdmin(t)
	env.register(t, "rita", "Passw0rd!")
	env.register(t, "sam", "Passw0rd!")

	users, meta, err := env.users.ListUsers(ctx, &entity.UserQuery{Role: "EXERCISE_TRACKER"})
	if err != nil {
		t.Fatalf("ListUsers() error = %v", err)
	}
	if len(users) != 2 || meta == nil || meta.Total != 2 {
		t.Fatalf("expected two trackers, got %d (meta=%+v)", len(users), meta)
	}
	if _, _, err := env.users.ListUsers(ctx, &entity.UserQuery{Role: "owner"}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown role filter, got %v", err)
	}

	stats, err := env.users.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalUsers != 3 || stats.ActiveUsers != 3 {
		t.Fatalf("unexpected totals %+v", stats)
	}
	if stats.UsersByRole[auth.RoleExerciseTracker] != 2 || stats.UsersByRole[auth.RoleAdmin] != 1 {
		t.Fatalf("unexpected role breakdown %+v", stats.UsersByRole)
	}
	if stats.ActiveSessions != 2 {
		t.Fatalf("expected two active sessions, got %d", stats.ActiveSessions)
	}
}
