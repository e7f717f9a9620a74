package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"wellness/internal/entity"
	"wellness/internal/service"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (h *HTTPHandler) ListUsers(c *gin.Context) {
	var query entity.UserQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		BadRequest(c, ErrCodeInvalidRequest, "invalid query parameters")
		return
	}
	query.Normalize(defaultPageSize, maxPageSize)

	ctx, cancel := requestContext(c)
	defer cancel()

	users, meta, err := h.users.ListUsers(ctx, &query)
	if err != nil {
		writeError(c, err)
		return
	}

	response := entity.UserListResponse{
		Users: make([]entity.UserSummary, 0, len(users)),
		Meta:  meta,
	}
	for idx := range users {
		response.Users = append(response.Users, entity.NewUserSummary(&users[idx]))
	}
	c.JSON(http.StatusOK, response)
}

func (h *HTTPHandler) CreateUser(c *gin.Context) {
	var req entity.UserCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err, "invalid user payload")
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := h.users.CreateUser(ctx, CurrentUser(c).Identity(), service.UserCreateInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
		IsActive: req.IsActive,
		Client:   clientMeta(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entity.NewUserSummary(user))
}

func (h *HTTPHandler) Stats(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	stats, err := h.users.Stats(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *HTTPHandler) AuditLogs(c *gin.Context) {
	var query entity.AuditQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		BadRequest(c, ErrCodeInvalidRequest, "invalid query parameters")
		return
	}
	query.Normalize(defaultPageSize, maxPageSize)

	ctx, cancel := requestContext(c)
	defer cancel()

	logs, meta, err := h.users.AuditLogs(ctx, &query)
	if err != nil {
		writeError(c, err)
		return
	}
	if logs == nil {
		logs = []entity.DbAuditLog{}
	}
	c.JSON(http.StatusOK, entity.AuditListResponse{Logs: logs, Meta: meta})
}

func (h *HTTPHandler) ListUserPermissions(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	view, err := h.users.ListGrants(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *HTTPHandler) GrantUserPermission(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req entity.PermissionGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err, "invalid permission payload")
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	grant, err := h.users.GrantPermission(ctx, CurrentUser(c).Identity(), id, req.Module, req.Action, clientMeta(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

func (h *HTTPHandler) RevokeUserPermission(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req entity.PermissionGrantRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		bindFailed(c, err, "invalid permission query")
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	grant, err := h.users.RevokePermission(ctx, CurrentUser(c).Identity(), id, req.Module, req.Action, clientMeta(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

func (h *HTTPHandler) UpdateRolePermissions(c *gin.Context) {
	var req entity.RolePermissionUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err, "invalid role permission payload")
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.users.SetRolePermission(ctx, CurrentUser(c).Identity(), req.Role, req.Module, req.Action, req.Allowed); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
