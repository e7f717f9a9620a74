package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"wellness/internal/auth"
	"wellness/internal/entity"
	"wellness/internal/service"
)

const bearerTokenType = "bearer"

// AcceptTerms 接受服务条款并签发网关令牌
func (h *HTTPHandler) AcceptTerms(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.sessions.AcceptTerms(ctx, clientMeta(c))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := entity.TermsAgreeResponse{
		TermsToken:   result.TermsToken.Token,
		SessionID:    result.SessionID,
		TermsVersion: result.Version,
		ExpiresAt:    result.TermsToken.ExpiresAt,
	}
	if result.Gate != nil {
		resp.AuthToken = result.Gate.Token
		resp.ExpiresIn = result.Gate.ExpiresIn
		resp.ExpiresAt = result.Gate.ExpiresAt
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HTTPHandler) Register(c *gin.Context) {
	var req entity.AuthRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err, "invalid registration payload")
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.sessions.Register(ctx, service.RegisterInput{
		Username:   req.Username,
		Email:      req.Email,
		Password:   req.Password,
		Role:       req.Role,
		GateToken:  gateToken(c),
		TermsToken: req.TermsToken,
		Client:     clientMeta(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, makeAuthResponse(result))
}

func (h *HTTPHandler) Authenticate(c *gin.Context) {
	var req entity.AuthLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err, "invalid login payload")
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.sessions.Authenticate(ctx, service.LoginInput{
		Username:  req.Username,
		Password:  req.Password,
		GateToken: gateToken(c),
		Client:    clientMeta(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, makeAuthResponse(result))
}

func (h *HTTPHandler) Refresh(c *gin.Context) {
	var req entity.AuthRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, auth.ErrMissingCredentials)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.sessions.Refresh(ctx, req.RefreshToken, clientMeta(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entity.RefreshResponse{
		AccessToken: result.Access.Token,
		TokenType:   bearerTokenType,
		ExpiresAt:   result.Access.ExpiresAt,
	})
}

func (h *HTTPHandler) Logout(c *gin.Context) {
	user := CurrentUser(c)
	if user == nil {
		writeError(c, auth.ErrMissingCredentials)
		return
	}

	var req entity.AuthLogoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			InvalidPayload(c)
			return
		}
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.sessions.Logout(ctx, user.Identity(), user.TokenID, req.All, clientMeta(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *HTTPHandler) Me(c *gin.Context) {
	user := CurrentUser(c)
	if user == nil {
		writeError(c, auth.ErrMissingCredentials)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	dbUser, err := h.users.GetUser(ctx, user.Identity(), user.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	perms, err := h.sessions.Permissions(ctx, dbUser)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entity.CurrentUserResponse{
		User:        entity.NewUserSummary(dbUser),
		Permissions: auth.PermissionStrings(perms),
	})
}

func (h *HTTPHandler) VerifyToken(c *gin.Context) {
	user := CurrentUser(c)
	if user == nil {
		writeError(c, auth.ErrMissingCredentials)
		return
	}
	c.JSON(http.StatusOK, entity.VerifyTokenResponse{
		Valid:    true,
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		Message:  "token is valid",
	})
}

func makeAuthResponse(result *service.AuthResult) entity.AuthResponse {
	return entity.AuthResponse{
		AccessToken:  result.Access.Token,
		RefreshToken: result.Refresh.Token,
		TokenType:    bearerTokenType,
		ExpiresAt:    result.Access.ExpiresAt,
		User:         entity.NewUserSummary(result.User),
		Permissions:  auth.PermissionStrings(result.Permissions),
	}
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}
