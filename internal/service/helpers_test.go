package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"wellness/internal/audit"
	"wellness/internal/auth"
	"wellness/internal/config"
	"wellness/internal/entity"
	"wellness/internal/model"
	"wellness/internal/terms"
)

type testEnv struct {
	repo    model.Repository
	tokens  *auth.Manager
	gate    *terms.Gate
	session *SessionAuthenticator
	users   *UserService
}

func newTestEnv(t *testing.T, gated bool) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	repo, err := model.NewRepositoryFactory().CreateRepository(&config.Config{
		DBType: model.DBTypeSQLite,
		DBPath: fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name),
	})
	if err != nil {
		t.Fatalf("CreateRepository() error = %v", err)
	}
	tokens, err := auth.NewManager("service-test-secret", "wellness-test", auth.TokenTTLs{})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	deps := Deps{
		Repo:         repo,
		Hasher:       auth.NewHasher(bcrypt.MinCost),
		Tokens:       tokens,
		Authorizer:   auth.NewAuthorizer(repo),
		Audit:        audit.NewRecorder(repo, nil),
		TermsVersion: "v1",
	}
	env := &testEnv{repo: repo, tokens: tokens}
	if gated {
		env.gate = terms.NewGate(terms.NewMemoryStore(), 0)
		deps.Gate = env.gate
	}
	env.session = NewSessionAuthenticator(deps)
	env.users = NewUserService(deps)
	return env
}

// seedAdmin inserts an active admin directly through the repository.
func (e *testEnv) seedAdmin(t *testing.T) *entity.DbUser {
	t.Helper()
	hash, err := auth.NewHasher(bcrypt.MinCost).Hash("admin-password")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	admin := &entity.DbUser{
		Username:     "admin",
		Email:        "admin@example.com",
		PasswordHash: hash,
		Role:         auth.RoleAdmin,
		IsActive:     true,
	}
	if err := e.repo.CreateUser(context.Background(), admin); err != nil {
		t.Fatalf("CreateUser(admin) error = %v", err)
	}
	return admin
}

func (e *testEnv) gateToken(t *testing.T) string {
	t.Helper()
	res, err := e.session.AcceptTerms(context.Background(), ClientMeta{IPAddress: "127.0.0.1"})
	if err != nil {
		t.Fatalf("AcceptTerms() error = %v", err)
	}
	if res.Gate == nil {
		t.Fatal("expected a gate token")
	}
	return res.Gate.Token
}

func (e *testEnv) register(t *testing.T, username, password string) *AuthResult {
	t.Helper()
	res, err := e.session.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    username + "@x.com",
		Password: password,
	})
	if err != nil {
		t.Fatalf("Register(%s) error = %v", username, err)
	}
	return res
}
