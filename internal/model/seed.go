package model

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"wellness/internal/auth"
	"wellness/internal/config"
	"wellness/internal/entity"
)

// SeedRolePermissions writes the compiled role table into role_permissions so
// it can be reported on. Authorization never reads these rows.
func SeedRolePermissions(ctx context.Context, repo Repository) error {
	if repo == nil {
		return nil
	}
	rows := make([]entity.DbRolePermission, 0, len(auth.AllRoles)*len(auth.AllModules)*len(auth.AllActions))
	for _, role := range auth.AllRoles {
		for _, module := range auth.AllModules {
			for _, action := range auth.AllActions {
				rows = append(rows, entity.DbRolePermission{
					Role:    role,
					Module:  module,
					Action:  action,
					Allowed: auth.RoleAllows(role, auth.Permission{Module: module, Action: action}),
				})
			}
		}
	}
	if err := repo.SyncRolePermissions(ctx, rows); err != nil {
		return fmt.Errorf("seed role permissions: %w", err)
	}
	return nil
}

// SeedAdmin creates the bootstrap admin account from ADMIN_* settings when it
// does not exist yet. Missing settings skip seeding.
func SeedAdmin(ctx context.Context, repo Repository, hasher *auth.Hasher, cfg config.Config) (*entity.DbUser, error) {
	username := strings.TrimSpace(cfg.AdminUsername)
	if repo == nil || username == "" || cfg.AdminPassword == "" {
		return nil, nil
	}

	existing, err := repo.GetUserByUsername(ctx, username)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, auth.ErrNotFound):
		return nil, fmt.Errorf("lookup admin: %w", err)
	}

	hash, err := hasher.Hash(cfg.AdminPassword)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}
	email := strings.TrimSpace(cfg.AdminEmail)
	if email == "" {
		email = username + "@localhost"
	}
	admin := &entity.DbUser{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         auth.RoleAdmin,
		IsActive:     true,
	}
	if err := repo.CreateUser(ctx, admin); err != nil {
		// Another instance may have seeded concurrently.
		if errors.Is(err, auth.ErrConflict) {
			return repo.GetUserByUsername(ctx, username)
		}
		return nil, fmt.Errorf("create admin: %w", err)
	}
	logrus.WithField("username", username).Info("seeded admin account")
	return admin, nil
}
