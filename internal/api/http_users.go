package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"wellness/internal/entity"
	"wellness/internal/service"
)

func (h *HTTPHandler) GetUser(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := h.users.GetUser(ctx, CurrentUser(c).Identity(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entity.NewUserSummary(user))
}

func (h *HTTPHandler) UpdateUser(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req entity.UserUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := h.users.UpdateUser(ctx, CurrentUser(c).Identity(), id, service.UserPatch{
		Username: trimmedPtr(req.Username),
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
	c.JSON(http.StatusOK, entity.NewUserSummary(user))
}

func (h *HTTPHandler) DeleteUser(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.users.DeleteUser(ctx, CurrentUser(c).Identity(), id, clientMeta(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) RolePermissions(c *gin.Context) {
	c.JSON(http.StatusOK, h.users.RolePermissions())
}
