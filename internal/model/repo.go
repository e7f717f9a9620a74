package model

import (
	"context"
	"time"

	"wellness/internal/auth"
	"wellness/internal/entity"
)

// SessionOpener builds the session for a user created inside RegisterUser.
// It runs inside the registration transaction and must not touch the
// repository itself.
type SessionOpener = func(user *entity.DbUser) (*entity.DbSession, error)

// Repository 定义数据库操作接口
type Repository interface {
	// 用户管理
	CreateUser(ctx context.Context, user *entity.DbUser) error
	RegisterUser(ctx context.Context, user *entity.DbUser, link *entity.TermsLink, open SessionOpener) error
	UpdateUser(ctx context.Context, id uint, updates entity.UserUpdates) error
	GetUserByUsername(ctx context.Context, username string) (*entity.DbUser, error)
	GetUserByEmail(ctx context.Context, email string) (*entity.DbUser, error)
	GetUserByID(ctx context.Context, id uint) (*entity.DbUser, error)
	ListUsers(ctx context.Context, params *entity.UserQuery) ([]entity.DbUser, *entity.Meta, error)
	DeleteUserCascade(ctx context.Context, id uint) error
	CountUsers(ctx context.Context) (int64, error)
	RecordLogin(ctx context.Context, id uint, at time.Time) error
	UserStats(ctx context.Context, now time.Time) (*entity.UserStats, error)

	// 权限
	auth.GrantLookup
	UpsertUserPermission(ctx context.Context, grant *entity.DbUserPermission) error
	ListUserPermissions(ctx context.Context, userID uint) ([]entity.DbUserPermission, error)
	SyncRolePermissions(ctx context.Context, rows []entity.DbRolePermission) error
	ListRolePermissions(ctx context.Context) ([]entity.DbRolePermission, error)

	// 会话
	CreateSession(ctx context.Context, session *entity.DbSession) error
	GetActiveSessionByRefresh(ctx context.Context, refreshJTI string, now time.Time) (*entity.DbSession, error)
	UpdateSessionAccessToken(ctx context.Context, sessionID uint, accessJTI string) error
	DeactivateSession(ctx context.Context, userID uint, accessJTI string) (int64, error)
	DeactivateUserSessions(ctx context.Context, userID uint) (int64, error)

	// 审计
	CreateAuditLog(ctx context.Context, log *entity.DbAuditLog) error
	ListAuditLogs(ctx context.Context, params *entity.AuditQuery) ([]entity.DbAuditLog, *entity.Meta, error)

	// 条款
	CreateTermsAcceptance(ctx context.Context, acceptance *entity.DbTermsAcceptance) error
	GetTermsAcceptance(ctx context.Context, sessionID string) (*entity.DbTermsAcceptance, error)
}
