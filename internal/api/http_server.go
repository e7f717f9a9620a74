package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"wellness/internal/auth"
	"wellness/internal/config"
	"wellness/internal/service"
	"wellness/internal/terms"
)

const requestTimeout = 5 * time.Second

// HTTPHandler HTTP 请求处理器
type HTTPHandler struct {
	cfg    config.Config
	tokens *auth.Manager
	authz  *auth.Authorizer
	gate   *terms.Gate

	// 服务层
	sessions *service.SessionAuthenticator
	users    *service.UserService

	limiter *rateLimiter
}

// NewEngine 创建 gin 引擎。客户端 IP 只从配置的可信代理转发头中读取，
// 未配置时一律使用连接地址。
func NewEngine(cfg config.Config) (*gin.Engine, error) {
	useWireFieldNames()
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	return r, nil
}

// NewHTTPHandler 创建 HTTP 处理器实例
func NewHTTPHandler(cfg config.Config, deps service.Deps) (*HTTPHandler, error) {
	if deps.Repo == nil {
		return nil, errors.New("repository is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("token manager is required")
	}
	if deps.Hasher == nil {
		deps.Hasher = auth.NewHasher(cfg.BcryptCost)
	}
	if deps.Authorizer == nil {
		deps.Authorizer = auth.NewAuthorizer(deps.Repo)
	}

	return &HTTPHandler{
		cfg:      cfg,
		tokens:   deps.Tokens,
		authz:    deps.Authorizer,
		gate:     deps.Gate,
		sessions: service.NewSessionAuthenticator(deps),
		users:    service.NewUserService(deps),
		limiter:  newRateLimiter(cfg.LoginRatePerSecond, cfg.LoginRateBurst),
	}, nil
}

// RegisterRoutes mounts the API on r, normally the /api group.
func (h *HTTPHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/terms/agree", h.RateLimit(), h.AcceptTerms)

	authGroup := r.Group("/auth")
	authGroup.POST("/register", h.RateLimit(), h.RequireGateToken(), h.Register)
	authGroup.POST("/authenticate", h.RateLimit(), h.RequireGateToken(), h.Authenticate)
	authGroup.POST("/refresh", h.Refresh)
	authGroup.POST("/logout", h.RequireBearerToken(), h.Logout)
	authGroup.GET("/me", h.RequireBearerToken(), h.Me)
	authGroup.GET("/verify-token", h.RequireBearerToken(), h.VerifyToken)

	protected := r.Group("")
	protected.Use(h.RequireBearerToken())
	protected.GET("/users/:id", h.GetUser)
	protected.PUT("/users/:id", h.UpdateUser)
	protected.PATCH("/users/:id", h.UpdateUser)
	protected.DELETE("/users/:id", h.DeleteUser)
	protected.GET("/roles/permissions", h.RolePermissions)

	admin := protected.Group("/admin")
	admin.GET("/users", h.RequirePermission(auth.ModuleUserManagement, auth.ActionRead), h.ListUsers)
	admin.POST("/users", h.RequirePermission(auth.ModuleUserManagement, auth.ActionCreate), h.CreateUser)
	admin.GET("/stats", h.RequirePermission(auth.ModuleUserManagement, auth.ActionRead), h.Stats)
	admin.GET("/audit-logs", h.RequirePermission(auth.ModuleUserManagement, auth.ActionRead), h.AuditLogs)

	grants := admin.Group("/users/:id/permissions")
	grants.Use(h.RequirePermission(auth.ModuleUserManagement, auth.ActionUpdate))
	grants.GET("", h.ListUserPermissions)
	grants.POST("", h.GrantUserPermission)
	grants.DELETE("", h.RevokeUserPermission)

	admin.PUT("/role-permissions", h.RequirePermission(auth.ModuleUserManagement, auth.ActionUpdate), h.UpdateRolePermissions)
}

func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

func clientMeta(c *gin.Context) service.ClientMeta {
	return service.ClientMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// parseIDParam 解析路径中的 ID 参数
func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, ErrCodeInvalidRequest, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}
