package sql

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"wellness/internal/auth"
	"wellness/internal/entity"
)

// GormRepository implements Repository using GORM
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new repository instance
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Models lists every table the repository manages, in migration order.
func Models() []interface{} {
	return []interface{}{
		&entity.DbUser{},
		&entity.DbRolePermission{},
		&entity.DbUserPermission{},
		&entity.DbSession{},
		&entity.DbAuditLog{},
		&entity.DbTermsAcceptance{},
	}
}

// calculatePagination calculates pagination metrics
func (r *GormRepository) calculatePagination(totalCount int64, page, pageSize int) *entity.Meta {
	if pageSize <= 0 {
		pageSize = 20
	}
	if page <= 0 {
		page = 1
	}

	return &entity.Meta{
		Total:    totalCount,
		Page:     int64(page),
		PageSize: int64(pageSize),
	}
}

func pageBounds(params *entity.BaseParams) (page, pageSize, offset int) {
	page, pageSize = 1, 20
	if params != nil {
		if params.Page > 0 {
			page = int(params.Page)
		}
		if params.PageSize > 0 {
			pageSize = int(params.PageSize)
		}
	}
	offset = (page - 1) * pageSize
	if offset < 0 {
		offset = 0
	}
	return page, pageSize, offset
}

var (
	userSortColumns = map[string]string{
		"id":            "id",
		"username":      "username",
		"email":         "email",
		"role":          "role",
		"created_at":    "created_at",
		"last_login_at": "last_login_at",
		"login_count":   "login_count",
	}
	auditSortColumns = map[string]string{
		"id":        "id",
		"timestamp": "timestamp",
		"action":    "action",
		"user_id":   "user_id",
	}
)

// orderBy builds the ORDER BY clause for params. Only columns in allowed can
// be sorted on; id breaks ties in the same direction.
func orderBy(params *entity.BaseParams, allowed map[string]string, fallback string) (string, error) {
	if params == nil || strings.TrimSpace(params.SortBy) == "" {
		return fallback, nil
	}
	key := strings.ToLower(strings.TrimSpace(params.SortBy))
	column, ok := allowed[key]
	if !ok {
		return "", fmt.Errorf("%w: cannot sort by %q", auth.ErrInvalidInput, params.SortBy)
	}
	dir := "ASC"
	if params.SortDesc {
		dir = "DESC"
	}
	if column == "id" {
		return "id " + dir, nil
	}
	return column + " " + dir + ", id " + dir, nil
}

// translateError maps driver errors onto the auth sentinels callers check.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return auth.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), isUniqueViolation(err):
		return auth.ErrConflict
	default:
		return err
	}
}

// isUniqueViolation catches drivers that do not implement gorm's error
// translator.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "duplicate key")
}
