package sql

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"wellness/internal/auth"
	"wellness/internal/entity"
)

// HasActiveGrant reports whether the user holds a granted=true row for the pair.
func (r *GormRepository) HasActiveGrant(ctx context.Context, userID uint, module auth.Module, action auth.Action) (bool, error) {
	if r == nil || r.db == nil {
		return false, fmt.Errorf("repository not initialised")
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.DbUserPermission{}).
		Where("user_id = ? AND module = ? AND action = ? AND granted = ?", userID, module, action, true).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListActiveGrants returns the pairs the user holds through granted=true rows.
func (r *GormRepository) ListActiveGrants(ctx context.Context, userID uint) ([]auth.Permission, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	var rows []entity.DbUserPermission
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND granted = ?", userID, true).
		Order("module, action").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	perms := make([]auth.Permission, 0, len(rows))
	for _, row := range rows {
		perms = append(perms, row.Permission())
	}
	return perms, nil
}

// UpsertUserPermission inserts the grant or overwrites granted, granted_by
// and granted_at on the existing (user, module, action) row.
func (r *GormRepository) UpsertUserPermission(ctx context.Context, grant *entity.DbUserPermission) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if grant == nil || grant.UserID == 0 {
		return fmt.Errorf("invalid permission grant")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "module"}, {Name: "action"}},
		DoUpdates: clause.AssignmentColumns([]string{"granted", "granted_by", "granted_at"}),
	}).Create(grant).Error
}

// ListUserPermissions returns every grant row of the user, revoked ones included.
func (r *GormRepository) ListUserPermissions(ctx context.Context, userID uint) ([]entity.DbUserPermission, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	var rows []entity.DbUserPermission
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("module, action").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// SyncRolePermissions writes the reporting mirror of the role table.
func (r *GormRepository) SyncRolePermissions(ctx context.Context, rows []entity.DbRolePermission) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "role"}, {Name: "module"}, {Name: "action"}},
		DoUpdates: clause.AssignmentColumns([]string{"allowed"}),
	}).CreateInBatches(rows, 100).Error
}

// ListRolePermissions returns the reporting mirror.
func (r *GormRepository) ListRolePermissions(ctx context.Context) ([]entity.DbRolePermission, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	var rows []entity.DbRolePermission
	if err := r.db.WithContext(ctx).Order("role, module, action").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
