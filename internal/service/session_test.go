package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"wellness/internal/audit"
	"wellness/internal/auth"
	"wellness/internal/entity"
	"wellness/internal/model"
)

func TestRegisterThenAuthenticate(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	reg := env.register(t, "alice", "Passw0rd!")
	if reg.Access == nil || reg.Refresh == nil {
		t.Fatal("expected access and refresh tokens")
	}
	if reg.User.Role != auth.DefaultRole {
		t.Fatalf("expected default role, got %s", reg.User.Role)
	}
	if _, err := env.tokens.Verify(reg.Access.Token, auth.TokenAccess); err != nil {
		t.Fatalf("registration access token should verify: %v", err)
	}

	login, err := env.session.Authenticate(ctx, LoginInput{Username: "alice", Password: "Passw0rd!"})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if login.Access.Claims.ID == reg.Access.Claims.ID {
		t.Fatal("each session must get its own access token")
	}
	if login.User.LoginCount != 2 {
		t.Fatalf("expected login count 2, got %d", login.User.LoginCount)
	}

	_, wrongPassword := env.session.Authenticate(ctx, LoginInput{Username: "alice", Password: "wrong"})
	_, unknownUser := env.session.Authenticate(ctx, LoginInput{Username: "ghost", Password: "anything"})
	if wrongPassword != auth.ErrInvalidCredentials || unknownUser != auth.ErrInvalidCredentials {
		t.Fatalf("expected identical ErrInvalidCredentials, got %v and %v", wrongPassword, unknownUser)
	}
	if wrongPassword.Error() != unknownUser.Error() {
		t.Fatal("wrong password and unknown user must be indistinguishable")
	}

	logs, _, err := env.repo.ListAuditLogs(ctx, &entity.AuditQuery{Action: string(audit.ActionLoginFailed)})
	if err != nil {
		t.Fatalf("ListAuditLogs() error = %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected one LOGIN_FAILED row for the known user, got %d", len(logs))
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name  string
		input RegisterInput
		want  error
	}{
		{name: "short username", input: RegisterInput{Username: "al", Email: "al@x.com", Password: "Passw0rd!"}, want: auth.ErrInvalidInput},
		{name: "short password", input: RegisterInput{Username: "alice", Email: "alice@x.com", Password: "short"}, want: auth.ErrInvalidInput},
		{name: "bad email", input: RegisterInput{Username: "alice", Email: "not-an-email", Password: "Passw0rd!"}, want: auth.ErrInvalidInput},
		{name: "unknown role", input: RegisterInput{Username: "alice", Email: "alice@x.com", Password: "Passw0rd!", Role: "owner"}, want: auth.ErrInvalidInput},
		{name: "elevated role", input: RegisterInput{Username: "alice", Email: "alice@x.com", Password: "Passw0rd!", Role: "admin"}, want: auth.ErrForbidden},
		{name: "other tracker role", input: RegisterInput{Username: "alice", Email: "alice@x.com", Password: "Passw0rd!", Role: "wellness_tracker"}, want: auth.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.session.Register(context.Background(), tt.input)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if n, err := env.repo.CountUsers(context.Background()); err != nil || n != 0 {
		t.Fatalf("no user should have been created, got %d (err=%v)", n, err)
	}
}

func TestRegisterExplicitDefaultRoleAllowed(t *testing.T) {
	env := newTestEnv(t, false)
	res, err := env.session.Register(context.Background(), RegisterInput{
		Username: "bob", Email: "bob@x.com", Password: "Passw0rd!", Role: "Exercise_Tracker",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if res.User.Role != auth.RoleExerciseTracker {
		t.Fatalf("unexpected role %s", res.User.Role)
	}
}

func TestConcurrentDuplicateRegistration(t *testing.T) {
	env := newTestEnv(t, false)
	const workers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.session.Register(context.Background(), RegisterInput{
				Username: "dup", Email: "dup@x.com", Password: "Passw0rd!",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, auth.ErrConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != workers-1 || len(others) != 0 {
		t.Fatalf("expected 1 success and %d conflicts, got %d/%d (others=%v)", workers-1, successes, conflicts, others)
	}
}

func TestConcurrentGatedRegistrationSingleToken(t *testing.T) {
	env := newTestEnv(t, true)
	token := env.gateToken(t)
	const workers = 6

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
		others    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("user%d", i)
			_, err := env.session.Register(context.Background(), RegisterInput{
				Username:  name,
				Email:     name + "@x.com",
				Password:  "Passw0rd!",
				GateToken: token,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, auth.ErrInvalidCredentials):
				rejected++
			default:
				others = append(others, err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 || rejected != workers-1 || len(others) != 0 {
		t.Fatalf("expected 1 success and %d rejections, got %d/%d (others=%v)", workers-1, successes, rejected, others)
	}
}

func TestGatedRegistrationLinksTermsAcceptance(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	accepted, err := env.session.AcceptTerms(ctx, ClientMeta{IPAddress: "10.0.0.1", UserAgent: "test"})
	if err != nil {
		t.Fatalf("AcceptTerms() error = %v", err)
	}
	if accepted.TermsToken == nil || accepted.SessionID == "" {
		t.Fatal("expected terms token and acceptance session")
	}

	res, err := env.session.Register(ctx, RegisterInput{
		Username:  "carol",
		Email:     "Carol@X.com",
		Password:  "Passw0rd!",
		GateToken: accepted.Gate.Token,
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if res.User.Email != "Carol@X.com" {
		t.Fatalf("expected email stored as given, got %s", res.User.Email)
	}

	stored, err := env.repo.GetUserByID(ctx, res.User.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if !stored.TermsAccepted || stored.TermsVersion != "v1" {
		t.Fatalf("expected terms acceptance to be recorded, got %+v", stored)
	}
	acceptance, err := env.repo.GetTermsAcceptance(ctx, accepted.SessionID)
	if err != nil {
		t.Fatalf("GetTermsAcceptance() error = %v", err)
	}
	if acceptance.UserID == nil || *acceptance.UserID != res.User.ID {
		t.Fatalf("acceptance should be linked to the new user, got %v", acceptance.UserID)
	}
}

func TestGateRequiredForGatedOperations(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	_, err := env.session.Register(ctx, RegisterInput{Username: "dave", Email: "dave@x.com", Password: "Passw0rd!"})
	if !errors.Is(err, auth.ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials without gate token, got %v", err)
	}
	_, err = env.session.Authenticate(ctx, LoginInput{Username: "dave", Password: "Passw0rd!", GateToken: "deadbeef"})
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown gate token, got %v", err)
	}
}

func TestGateReleasedAfterBadPassword(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	if _, err := env.session.Register(ctx, RegisterInput{
		Username: "erin", Email: "erin@x.com", Password: "Passw0rd!", GateToken: env.gateToken(t),
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	token := env.gateToken(t)
	if _, err := env.session.Authenticate(ctx, LoginInput{Username: "erin", Password: "nope", GateToken: token}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := env.session.Authenticate(ctx, LoginInput{Username: "erin", Password: "Passw0rd!", GateToken: token}); err != nil {
		t.Fatalf("gate token should survive a wrong password, got %v", err)
	}
	if _, err := env.session.Authenticate(ctx, LoginInput{Username: "erin", Password: "Passw0rd!", GateToken: token}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("gate token must not be reusable after success, got %v", err)
	}
}

func TestInactiveAccountCannotAuthenticate(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	admin := env.seedAdmin(t)
	reg := env.register(t, "frank", "Passw0rd!")

	inactive := false
	if _, err := env.users.UpdateUser(ctx, admin.Identity(), reg.User.ID, UserPatch{IsActive: &inactive}); err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}

	_, err := env.session.Authenticate(ctx, LoginInput{Username: "frank", Password: "Passw0rd!"})
	if !errors.Is(err, auth.ErrInactiveAccount) {
		t.Fatalf("expected ErrInactiveAccount, got %v", err)
	}
	// Deactivation ends existing sessions, so the refresh token is dead too.
	if _, err := env.session.Refresh(ctx, reg.Refresh.Token, ClientMeta{}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected refresh to fail after deactivation, got %v", err)
	}
}

func TestRefreshIsNonRotating(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	reg := env.register(t, "grace", "Passw0rd!")

	first, err := env.session.Refresh(ctx, reg.Refresh.Token, ClientMeta{})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	second, err := env.session.Refresh(ctx, reg.Refresh.Token, ClientMeta{})
	if err != nil {
		t.Fatalf("refresh token should be reusable, got %v", err)
	}
	if first.Access.Claims.ID == second.Access.Claims.ID {
		t.Fatal("each refresh should mint a new access token")
	}
	if _, err := env.tokens.Verify(second.Access.Token, auth.TokenAccess); err != nil {
		t.Fatalf("refreshed access token should verify: %v", err)
	}

	if _, err := env.session.Refresh(ctx, reg.Access.Token, ClientMeta{}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("access token must not be accepted as refresh, got %v", err)
	}
	if _, err := env.session.Refresh(ctx, "", ClientMeta{}); !errors.Is(err, auth.ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestLogoutEndsSession(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	reg := env.register(t, "heidi", "Passw0rd!")
	other, err := env.session.Authenticate(ctx, LoginInput{Username: "heidi", Password: "Passw0rd!"})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	if err := env.session.Logout(ctx, reg.User.Identity(), reg.Access.Claims.ID, false, ClientMeta{}); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := env.session.Refresh(ctx, reg.Refresh.Token, ClientMeta{}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("logged out session must not refresh, got %v", err)
	}
	if _, err := env.session.Refresh(ctx, other.Refresh.Token, ClientMeta{}); err != nil {
		t.Fatalf("other session should survive a single logout, got %v", err)
	}

	if err := env.session.Logout(ctx, reg.User.Identity(), "", true, ClientMeta{}); err != nil {
		t.Fatalf("Logout(all) error = %v", err)
	}
	if _, err := env.session.Refresh(ctx, other.Refresh.Token, ClientMeta{}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("logout all must end every session, got %v", err)
	}
}

func TestResolveIdentity(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	reg := env.register(t, "ivan", "Passw0rd!")

	user, err := env.session.ResolveIdentity(ctx, reg.Access.Claims)
	if err != nil || user.ID != reg.User.ID {
		t.Fatalf("ResolveIdentity() = %v, %v", user, err)
	}
	if _, err := env.session.ResolveIdentity(ctx, &auth.Claims{}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for claims without a user, got %v", err)
	}
	if _, err := env.session.ResolveIdentity(ctx, nil); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for nil claims, got %v", err)
	}
}

func TestAdminCreatedTrackerAuthorization(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	admin := env.seedAdmin(t)

	tracker, err := env.users.CreateUser(ctx, admin.Identity(), UserCreateInput{
		Username: "tracker", Email: "tracker@x.com", Password: "Passw0rd!", Role: "wellness_tracker",
	})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if tracker.CreatedBy == nil || *tracker.CreatedBy != admin.ID {
		t.Fatalf("created_by should reference the admin, got %v", tracker.CreatedBy)
	}

	login, err := env.session.Authenticate(ctx, LoginInput{Username: "tracker", Password: "Passw0rd!"})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	claims, err := env.tokens.Verify(login.Access.Token, auth.TokenAccess)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	user, err := env.session.ResolveIdentity(ctx, claims)
	if err != nil {
		t.Fatalf("ResolveIdentity() error = %v", err)
	}

	authz := auth.NewAuthorizer(env.repo)
	allowed, err := authz.Authorize(ctx, user.Identity(), auth.ModuleUserManagement, auth.ActionDelete)
	if err != nil || allowed {
		t.Fatalf("tracker must not delete users (allowed=%v, err=%v)", allowed, err)
	}
	allowed, err = authz.Authorize(ctx, admin.Identity(), auth.ModuleUserManagement, auth.ActionDelete)
	if err != nil || !allowed {
		t.Fatalf("admin must be allowed (allowed=%v, err=%v)", allowed, err)
	}
}

func TestTokensStayWithTheirUserAfterRename(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	first := env.register(t, "alice", "Passw0rd!")
	if _, err := env.users.UpdateUser(ctx, first.User.Identity(), first.User.ID, UserPatch{Username: strPtr("alice2")}); err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}
	second := env.register(t, "alice", "Passw0rd!")
	if second.User.ID == first.User.ID {
		t.Fatal("expected a distinct user for the reused username")
	}

	resolved, err := env.session.ResolveIdentity(ctx, first.Access.Claims)
	if err != nil {
		t.Fatalf("ResolveIdentity() error = %v", err)
	}
	if resolved.ID != first.User.ID || resolved.Username != "alice2" {
		t.Fatalf("old token resolved to user %d (%s), want %d", resolved.ID, resolved.Username, first.User.ID)
	}

	refreshed, err := env.session.Refresh(ctx, first.Refresh.Token, ClientMeta{})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed.User.ID != first.User.ID || refreshed.Access.Claims.UserID != first.User.ID {
		t.Fatalf("refresh crossed accounts: user %d, claims %d", refreshed.User.ID, refreshed.Access.Claims.UserID)
	}
}

func TestDeletedUserTokenDoesNotResolveToNewOwner(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	gone := env.register(t, "bruno", "Passw0rd!")
	if err := env.users.DeleteUser(ctx, gone.User.Identity(), gone.User.ID, ClientMeta{}); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}
	env.register(t, "bruno", "Passw0rd!")

	if _, err := env.session.ResolveIdentity(ctx, gone.Access.Claims); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("token of a deleted user must not resolve, got %v", err)
	}
}

// failingSessionRepo fails the session step of a registration after the user
// row has been written inside the transaction.
type failingSessionRepo struct {
	model.Repository
	fail bool
}

func (r *failingSessionRepo) RegisterUser(ctx context.Context, user *entity.DbUser, link *entity.TermsLink, open model.SessionOpener) error {
	return r.Repository.RegisterUser(ctx, user, link, func(created *entity.DbUser) (*entity.DbSession, error) {
		session, err := open(created)
		if err != nil {
			return nil, err
		}
		if r.fail {
			return nil, errors.New("session store down")
		}
		return session, nil
	})
}

func TestRegisterLeavesNothingBehindWhenSessionFails(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	repo := &failingSessionRepo{Repository: env.repo, fail: true}
	tokens := env.tokens
	authn := NewSessionAuthenticator(Deps{
		Repo:         repo,
		Hasher:       auth.NewHasher(bcrypt.MinCost),
		Tokens:       tokens,
		Gate:         env.gate,
		Audit:        audit.NewRecorder(env.repo, nil),
		TermsVersion: "v1",
	})

	accepted, err := authn.AcceptTerms(ctx, ClientMeta{})
	if err != nil {
		t.Fatalf("AcceptTerms() error = %v", err)
	}
	in := RegisterInput{
		Username:  "olga",
		Email:     "olga@x.com",
		Password:  "Passw0rd!",
		GateToken: accepted.Gate.Token,
	}
	if _, err := authn.Register(ctx, in); err == nil {
		t.Fatal("expected registration to fail")
	}
	if _, err := env.repo.GetUserByUsername(ctx, "olga"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("user must not exist after a failed registration, got %v", err)
	}
	acceptance, err := env.repo.GetTermsAcceptance(ctx, accepted.SessionID)
	if err != nil {
		t.Fatalf("GetTermsAcceptance() error = %v", err)
	}
	if acceptance.UserID != nil {
		t.Fatal("terms acceptance must stay unlinked")
	}

	repo.fail = false
	res, err := authn.Register(ctx, in)
	if err != nil {
		t.Fatalf("retry should succeed with the released gate token, got %v", err)
	}
	if res.Access.Claims.UserID != res.User.ID {
		t.Fatalf("access token names user %d, want %d", res.Access.Claims.UserID, res.User.ID)
	}
}

func TestEmailUniquenessIsCaseSensitive(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	if _, err := env.session.Register(ctx, RegisterInput{Username: "petra", Email: "Petra@x.com", Password: "Passw0rd!"}); err != nil {
		t.Fatalf("Register(Petra@x.com) error = %v", err)
	}
	if _, err := env.session.Register(ctx, RegisterInput{Username: "petra2", Email: "petra@x.com", Password: "Passw0rd!"}); err != nil {
		t.Fatalf("emails differing only in case are distinct, got %v", err)
	}
	if _, err := env.session.Register(ctx, RegisterInput{Username: "petra3", Email: " petra@x.com ", Password: "Passw0rd!"}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict for an exact duplicate, got %v", err)
	}
}
