package entity

import "time"

// DbTermsAcceptance records that a client agreed to a terms version. UserID
// stays nil until the acceptance is linked during registration.
type DbTermsAcceptance struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	UserID       *uint     `gorm:"column:user_id;index" json:"user_id,omitempty"`
	SessionID    string    `gorm:"column:session_id;type:varchar(64);uniqueIndex;not null" json:"session_id"`
	TermsVersion string    `gorm:"column:terms_version;type:varchar(64);not null" json:"terms_version"`
	IPAddress    string    `gorm:"column:ip_address;type:varchar(64)" json:"ip_address,omitempty"`
	UserAgent    string    `gorm:"column:user_agent;type:varchar(512)" json:"user_agent,omitempty"`
	AcceptedAt   time.Time `gorm:"column:accepted_at;not null" json:"accepted_at"`
}

func (DbTermsAcceptance) TableName() string {
	return "terms_acceptances"
}

// TermsAgreeResponse is returned after the client accepts the terms.
type TermsAgreeResponse struct {
	AuthToken    string    `json:"auth_token"`
	TermsToken   string    `json:"terms_token"`
	SessionID    string    `json:"session_id"`
	TermsVersion string    `json:"terms_version"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TermsLink attaches a terms acceptance to a user created in the same
// registration.
type TermsLink struct {
	SessionID string
	Version   string
	At        time.Time
}
