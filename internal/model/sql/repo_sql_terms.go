package sql

import (
	"context"
	"fmt"

	"wellness/internal/entity"
)

// CreateTermsAcceptance records an acceptance before any identity exists.
func (r *GormRepository) CreateTermsAcceptance(ctx context.Context, acceptance *entity.DbTermsAcceptance) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if acceptance == nil || acceptance.SessionID == "" {
		return fmt.Errorf("invalid terms acceptance")
	}
	return translateError(r.db.WithContext(ctx).Create(acceptance).Error)
}

// GetTermsAcceptance loads an acceptance by its session id.
func (r *GormRepository) GetTermsAcceptance(ctx context.Context, sessionID string) (*entity.DbTermsAcceptance, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	var acceptance entity.DbTermsAcceptance
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&acceptance).Error; err != nil {
		return nil, translateError(err)
	}
	return &acceptance, nil
}
