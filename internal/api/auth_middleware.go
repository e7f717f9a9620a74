package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"wellness/internal/auth"
)

const (
	currentUserContextKey = "current-user"
	gateTokenContextKey   = "gate-token"

	// GateTokenHeader carries the terms gate token on gated endpoints.
	GateTokenHeader = "X-Auth-Token"
)

// RequestUser 存储请求上下文中的认证用户信息
type RequestUser struct {
	ID       uint
	Username string
	Email    string
	Role     auth.Role
	TokenID  string
}

// Identity returns the authorization subject of the request.
func (u *RequestUser) Identity() auth.Identity {
	if u == nil {
		return auth.Identity{}
	}
	return auth.Identity{ID: u.ID, Username: u.Username, Role: u.Role}
}

// RequireBearerToken JWT 认证中间件
func (h *HTTPHandler) RequireBearerToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			writeError(c, auth.ErrMissingCredentials)
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			writeError(c, auth.ErrInvalidCredentials)
			return
		}

		claims, err := h.tokens.Verify(strings.TrimSpace(parts[1]), auth.TokenAccess)
		if err != nil {
			writeError(c, err)
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		user, err := h.sessions.ResolveIdentity(ctx, claims)
		if err != nil {
			writeError(c, err)
			return
		}

		c.Set(currentUserContextKey, &RequestUser{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
			Role:     user.Role,
			TokenID:  claims.ID,
		})
		c.Next()
	}
}

// RequireGateToken rejects gated requests without a usable gate token. The
// token is only checked here; the service consumes it.
func (h *HTTPHandler) RequireGateToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.gate == nil {
			c.Next()
			return
		}
		ctx, cancel := requestContext(c)
		defer cancel()

		entry, err := h.gate.Require(ctx, c.GetHeader(GateTokenHeader))
		if err != nil {
			writeError(c, err)
			return
		}
		c.Set(gateTokenContextKey, entry.Token)
		c.Next()
	}
}

// RequirePermission 权限守卫中间件，需在 RequireBearerToken 之后使用
func (h *HTTPHandler) RequirePermission(module auth.Module, action auth.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			writeError(c, auth.ErrMissingCredentials)
			return
		}
		ctx, cancel := requestContext(c)
		defer cancel()

		if err := h.authz.RequirePermission(ctx, user.Identity(), module, action); err != nil {
			writeError(c, err)
			return
		}
		c.Next()
	}
}

// CurrentUser 从上下文获取当前认证用户
func CurrentUser(c *gin.Context) *RequestUser {
	value, exists := c.Get(currentUserContextKey)
	if !exists {
		return nil
	}
	user, ok := value.(*RequestUser)
	if !ok {
		return nil
	}
	return user
}

func gateToken(c *gin.Context) string {
	return c.GetString(gateTokenContextKey)
}
