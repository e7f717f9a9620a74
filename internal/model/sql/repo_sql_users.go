package sql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"wellness/internal/auth"
	"wellness/internal/entity"
)

// CreateUser persists a new user record. Duplicate usernames or emails yield
// auth.ErrConflict.
func (r *GormRepository) CreateUser(ctx context.Context, user *entity.DbUser) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if user == nil {
		return fmt.Errorf("user is nil")
	}
	if user.Role == "" {
		user.Role = auth.DefaultRole
	}
	return translateError(r.db.WithContext(ctx).Create(user).Error)
}

// RegisterUser creates the user, links its terms acceptance and stores the
// session built by open in one transaction. Nothing is committed unless every
// step succeeds.
func (r *GormRepository) RegisterUser(ctx context.Context, user *entity.DbUser, link *entity.TermsLink, open func(*entity.DbUser) (*entity.DbSession, error)) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if user == nil || open == nil {
		return fmt.Errorf("invalid registration")
	}
	if user.Role == "" {
		user.Role = auth.DefaultRole
	}
	if link != nil {
		at := link.At
		user.TermsAccepted = true
		user.TermsAcceptedAt = &at
		user.TermsVersion = link.Version
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return translateError(err)
		}
		if link != nil && link.SessionID != "" {
			if err := tx.Model(&entity.DbTermsAcceptance{}).
				Where("session_id = ? AND user_id IS NULL", link.SessionID).
				Update("user_id", user.ID).Error; err != nil {
				return fmt.Errorf("link terms acceptance: %w", err)
			}
		}

		session, err := open(user)
		if err != nil {
			return err
		}
		if session == nil {
			return fmt.Errorf("invalid session")
		}
		session.UserID = user.ID
		if err := tx.Create(session).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	})
}

// UpdateUser updates an existing user entry.
func (r *GormRepository) UpdateUser(ctx context.Context, id uint, updates entity.UserUpdates) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if id == 0 {
		return fmt.Errorf("invalid user")
	}
	if updates.IsEmpty() {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&entity.DbUser{}).Where("id = ?", id).Updates(updates.ToMap())
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// GetUserByUsername loads a user by exact username.
func (r *GormRepository) GetUserByUsername(ctx context.Context, username string) (*entity.DbUser, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	if username == "" {
		return nil, auth.ErrNotFound
	}

	var user entity.DbUser
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, translateError(err)
	}
	return &user, nil
}

// GetUserByEmail loads a user by exact email.
func (r *GormRepository) GetUserByEmail(ctx context.Context, email string) (*entity.DbUser, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return nil, fmt.Errorf("email is empty")
	}

	var user entity.DbUser
	if err := r.db.WithContext(ctx).Where("email = ?", trimmed).First(&user).Error; err != nil {
		return nil, translateError(err)
	}
	return &user, nil
}

// GetUserByID loads a user by ID.
func (r *GormRepository) GetUserByID(ctx context.Context, id uint) (*entity.DbUser, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	if id == 0 {
		return nil, auth.ErrNotFound
	}
	var user entity.DbUser
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, translateError(err)
	}
	return &user, nil
}

// ListUsers returns paginated users.
func (r *GormRepository) ListUsers(ctx context.Context, params *entity.UserQuery) ([]entity.DbUser, *entity.Meta, error) {
	if r == nil || r.db == nil {
		return nil, nil, fmt.Errorf("repository not initialised")
	}

	query := r.db.WithContext(ctx).Model(&entity.DbUser{})
	var base *entity.BaseParams
	if params != nil {
		base = &params.BaseParams
	}
	order, err := orderBy(base, userSortColumns, "id DESC")
	if err != nil {
		return nil, nil, err
	}
	if params != nil {
		if trimmed := strings.TrimSpace(params.Role); trimmed != "" {
			query = query.Where("role = ?", trimmed)
		}
		if keyword := strings.TrimSpace(params.Keyword); keyword != "" {
			kw := "%" + strings.ToLower(keyword) + "%"
			query = query.Where("LOWER(email) LIKE ? OR LOWER(username) LIKE ?", kw, kw)
		}
		if params.IsActive != nil {
			query = query.Where("is_active = ?", *params.IsActive)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, nil, err
	}

	page, pageSize, offset := pageBounds(base)

	var users []entity.DbUser
	if err := query.Order(order).Offset(offset).Limit(pageSize).Find(&users).Error; err != nil {
		return nil, nil, err
	}

	meta := r.calculatePagination(total, page, pageSize)
	return users, meta, nil
}

// DeleteUserCascade removes a user together with its sessions, grants and
// audit rows in one transaction.
func (r *GormRepository) DeleteUserCascade(ctx context.Context, id uint) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if id == 0 {
		return auth.ErrNotFound
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&entity.DbSession{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&entity.DbUserPermission{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&entity.DbAuditLog{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&entity.DbTermsAcceptance{}).Where("user_id = ?", id).Update("user_id", nil).Error; err != nil {
			return err
		}
		result := tx.Delete(&entity.DbUser{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return auth.ErrNotFound
		}
		return nil
	})
}

// CountUsers returns total user count.
func (r *GormRepository) CountUsers(ctx context.Context) (int64, error) {
	if r == nil || r.db == nil {
		return 0, fmt.Errorf("repository not initialised")
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&entity.DbUser{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// RecordLogin stamps last_login_at and increments login_count.
func (r *GormRepository) RecordLogin(ctx context.Context, id uint, at time.Time) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	return r.db.WithContext(ctx).Model(&entity.DbUser{}).Where("id = ?", id).Updates(map[string]interface{}{
		"last_login_at": at,
		"login_count":   gorm.Expr("login_count + ?", 1),
	}).Error
}

type roleCount struct {
	Role  string
	Count int64
}

// UserStats aggregates user, session and audit counters.
func (r *GormRepository) UserStats(ctx context.Context, now time.Time) (*entity.UserStats, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	db := r.db.WithContext(ctx)
	stats := &entity.UserStats{UsersByRole: make(map[auth.Role]int64, len(auth.AllRoles))}
	for _, role := range auth.AllRoles {
		stats.UsersByRole[role] = 0
	}

	if err := db.Model(&entity.DbUser{}).Count(&stats.TotalUsers).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&entity.DbUser{}).Where("is_active = ?", true).Count(&stats.ActiveUsers).Error; err != nil {
		return nil, err
	}
	stats.InactiveUsers = stats.TotalUsers - stats.ActiveUsers

	var rows []roleCount
	if err := db.Model(&entity.DbUser{}).Select("role, COUNT(*) AS count").Group("role").Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.UsersByRole[auth.Role(row.Role)] = row.Count
	}

	if err := db.Model(&entity.DbSession{}).
		Where("is_active = ? AND expires_at > ?", true, now).
		Count(&stats.ActiveSessions).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&entity.DbAuditLog{}).
		Where("timestamp >= ?", now.Add(-24*time.Hour)).
		Count(&stats.AuditEvents24h).Error; err != nil {
		return nil, err
	}
	return stats, nil
}
