package entity

import (
	"time"

	"wellness/internal/auth"
)

// DbRolePermission mirrors the compiled role table for reporting. It is never
// read when making authorization decisions.
type DbRolePermission struct {
	ID      uint        `gorm:"primarykey" json:"id"`
	Role    auth.Role   `gorm:"column:role;type:varchar(50);not null;uniqueIndex:uniq_role_permission" json:"role"`
	Module  auth.Module `gorm:"column:module;type:varchar(50);not null;uniqueIndex:uniq_role_permission" json:"module"`
	Action  auth.Action `gorm:"column:action;type:varchar(20);not null;uniqueIndex:uniq_role_permission" json:"action"`
	Allowed bool        `gorm:"column:allowed;not null" json:"allowed"`
}

func (DbRolePermission) TableName() string {
	return "role_permissions"
}

// DbUserPermission is a per-user grant layered on top of the role table.
// Only rows with Granted=true extend a user's permissions.
type DbUserPermission struct {
	ID        uint        `gorm:"primarykey" json:"id"`
	UserID    uint        `gorm:"column:user_id;not null;uniqueIndex:uniq_user_permission" json:"user_id"`
	Module    auth.Module `gorm:"column:module;type:varchar(50);not null;uniqueIndex:uniq_user_permission" json:"module"`
	Action    auth.Action `gorm:"column:action;type:varchar(20);not null;uniqueIndex:uniq_user_permission" json:"action"`
	Granted   bool        `gorm:"column:granted;not null" json:"granted"`
	GrantedBy *uint       `gorm:"column:granted_by" json:"granted_by,omitempty"`
	GrantedAt time.Time   `gorm:"column:granted_at" json:"granted_at"`
}

func (DbUserPermission) TableName() string {
	return "user_permissions"
}

// Permission returns the module/action pair of the grant.
func (p DbUserPermission) Permission() auth.Permission {
	return auth.Permission{Module: p.Module, Action: p.Action}
}

type PermissionGrantRequest struct {
	Module string `json:"module" form:"module" binding:"required"`
	Action string `json:"action" form:"action" binding:"required"`
}

// RolePermissionUpdateRequest asks to change one cell of the role table.
type RolePermissionUpdateRequest struct {
	Role    string `json:"role" binding:"required"`
	Module  string `json:"module" binding:"required"`
	Action  string `json:"action" binding:"required"`
	Allowed bool   `json:"allowed"`
}

// RolePermissionsResponse lists the fixed permission set of every role.
type RolePermissionsResponse struct {
	Roles map[auth.Role][]string `json:"roles"`
}

// UserPermissionsResponse lists the grants and effective permissions of a user.
type UserPermissionsResponse struct {
	UserID    uint               `json:"user_id"`
	Role      auth.Role          `json:"role"`
	Grants    []DbUserPermission `json:"grants"`
	Effective []string           `json:"effective"`
}
