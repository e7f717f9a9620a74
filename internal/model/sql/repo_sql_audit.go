package sql

import (
	"context"
	"fmt"
	"strings"

	"wellness/internal/entity"
)

// CreateAuditLog appends an audit row.
func (r *GormRepository) CreateAuditLog(ctx context.Context, log *entity.DbAuditLog) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if log == nil {
		return fmt.Errorf("audit log is nil")
	}
	return r.db.WithContext(ctx).Create(log).Error
}

// ListAuditLogs returns paginated audit rows, newest first unless a sort
// column is given.
func (r *GormRepository) ListAuditLogs(ctx context.Context, params *entity.AuditQuery) ([]entity.DbAuditLog, *entity.Meta, error) {
	if r == nil || r.db == nil {
		return nil, nil, fmt.Errorf("repository not initialised")
	}

	query := r.db.WithContext(ctx).Model(&entity.DbAuditLog{})
	var base *entity.BaseParams
	if params != nil {
		base = &params.BaseParams
	}
	order, err := orderBy(base, auditSortColumns, "timestamp DESC, id DESC")
	if err != nil {
		return nil, nil, err
	}
	if params != nil {
		if params.UserID != nil {
			query = query.Where("user_id = ?", *params.UserID)
		}
		if action := strings.TrimSpace(params.Action); action != "" {
			query = query.Where("action = ?", strings.ToUpper(action))
		}
		if params.Since != nil {
			query = query.Where("timestamp >= ?", *params.Since)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, nil, err
	}

	page, pageSize, offset := pageBounds(base)

	var logs []entity.DbAuditLog
	if err := query.Order(order).Offset(offset).Limit(pageSize).Find(&logs).Error; err != nil {
		return nil, nil, err
	}
	return logs, r.calculatePagination(total, page, pageSize), nil
}
