package sql

import (
	"context"
	"fmt"
	"time"

	"wellness/internal/auth"
	"wellness/internal/entity"
)

// CreateSession persists a session for an issued token pair.
func (r *GormRepository) CreateSession(ctx context.Context, session *entity.DbSession) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if session == nil || session.UserID == 0 {
		return fmt.Errorf("invalid session")
	}
	return translateError(r.db.WithContext(ctx).Create(session).Error)
}

// GetActiveSessionByRefresh loads the active, unexpired session owning the
// refresh token id.
func (r *GormRepository) GetActiveSessionByRefresh(ctx context.Context, refreshJTI string, now time.Time) (*entity.DbSession, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	if refreshJTI == "" {
		return nil, auth.ErrNotFound
	}
	var session entity.DbSession
	err := r.db.WithContext(ctx).
		Where("refresh_token = ? AND is_active = ? AND expires_at > ?", refreshJTI, true, now).
		First(&session).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &session, nil
}

// UpdateSessionAccessToken points the session at a newly issued access token.
func (r *GormRepository) UpdateSessionAccessToken(ctx context.Context, sessionID uint, accessJTI string) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	return translateError(r.db.WithContext(ctx).Model(&entity.DbSession{}).
		Where("id = ?", sessionID).
		Update("session_token", accessJTI).Error)
}

// DeactivateSession ends the session owning the access token id.
func (r *GormRepository) DeactivateSession(ctx context.Context, userID uint, accessJTI string) (int64, error) {
	if r == nil || r.db == nil {
		return 0, fmt.Errorf("repository not initialised")
	}
	result := r.db.WithContext(ctx).Model(&entity.DbSession{}).
		Where("user_id = ? AND session_token = ? AND is_active = ?", userID, accessJTI, true).
		Update("is_active", false)
	return result.RowsAffected, result.Error
}

// DeactivateUserSessions ends every active session of the user.
func (r *GormRepository) DeactivateUserSessions(ctx context.Context, userID uint) (int64, error) {
	if r == nil || r.db == nil {
		return 0, fmt.Errorf("repository not initialised")
	}
	result := r.db.WithContext(ctx).Model(&entity.DbSession{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Update("is_active", false)
	return result.RowsAffected, result.Error
}
