package entity

import "time"

// DbSession tracks an issued token pair. SessionToken holds the access token
// jti and RefreshToken the refresh token jti.
type DbSession struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	UserID       uint      `gorm:"column:user_id;not null;index" json:"user_id"`
	SessionToken string    `gorm:"column:session_token;type:varchar(64);uniqueIndex;not null" json:"-"`
	RefreshToken string    `gorm:"column:refresh_token;type:varchar(64);uniqueIndex;not null" json:"-"`
	IPAddress    string    `gorm:"column:ip_address;type:varchar(64)" json:"ip_address"`
	UserAgent    string    `gorm:"column:user_agent;type:varchar(512)" json:"user_agent"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `gorm:"column:expires_at;not null" json:"expires_at"`
	IsActive     bool      `gorm:"column:is_active;not null" json:"is_active"`
}

func (DbSession) TableName() string {
	return "user_sessions"
}
