package entity

import "time"

// DbAuditLog is an append-only record of a security-relevant action.
// UserID is nil for events without a resolved identity.
type DbAuditLog struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	UserID       *uint     `gorm:"column:user_id;index" json:"user_id,omitempty"`
	Action       string    `gorm:"column:action;type:varchar(64);index;not null" json:"action"`
	ResourceType string    `gorm:"column:resource_type;type:varchar(64)" json:"resource_type,omitempty"`
	ResourceID   *uint     `gorm:"column:resource_id" json:"resource_id,omitempty"`
	Details      JSONMap   `gorm:"column:details;type:text" json:"details,omitempty"`
	IPAddress    string    `gorm:"column:ip_address;type:varchar(64)" json:"ip_address,omitempty"`
	UserAgent    string    `gorm:"column:user_agent;type:varchar(512)" json:"user_agent,omitempty"`
	Timestamp    time.Time `gorm:"column:timestamp;index;not null" json:"timestamp"`
}

func (DbAuditLog) TableName() string {
	return "audit_logs"
}

// AuditQuery filters the audit log view.
type AuditQuery struct {
	BaseParams
	UserID *uint      `json:"user_id" form:"user_id" query:"user_id"`
	Action string     `json:"action" form:"action" query:"action"`
	Since  *time.Time `json:"since" form:"since" query:"since" time_format:"2006-01-02T15:04:05Z07:00"`
}

type AuditListResponse struct {
	Logs []DbAuditLog `json:"logs"`
	Meta *Meta        `json:"meta"`
}
