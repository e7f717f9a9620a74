package entity

import (
	"time"

	"wellness/internal/auth"
)

// DbUser represents a persisted user account.
type DbUser struct {
	ID              uint       `gorm:"primarykey" json:"id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Username        string     `gorm:"column:username;type:varchar(100);uniqueIndex;not null" json:"username"`
	Email           string     `gorm:"column:email;type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash    string     `gorm:"column:password_hash;type:varchar(255);not null" json:"-"`
	Role            auth.Role  `gorm:"column:role;type:varchar(50);index;not null;default:exercise_tracker" json:"role"`
	IsActive        bool       `gorm:"column:is_active;not null" json:"is_active"`
	CreatedBy       *uint      `gorm:"column:created_by;index" json:"created_by,omitempty"`
	TermsAccepted   bool       `gorm:"column:terms_accepted;not null;default:false" json:"terms_accepted"`
	TermsAcceptedAt *time.Time `gorm:"column:terms_accepted_at" json:"terms_accepted_at,omitempty"`
	TermsVersion    string     `gorm:"column:terms_version;type:varchar(64)" json:"terms_version,omitempty"`
	LastLoginAt     *time.Time `gorm:"column:last_login_at" json:"last_login_at,omitempty"`
	LoginCount      int64      `gorm:"column:login_count;not null;default:0" json:"login_count"`
}

// TableName overrides default pluralised name.
func (DbUser) TableName() string {
	return "users"
}

// Identity returns the authorization subject for the user.
func (u *DbUser) Identity() auth.Identity {
	if u == nil {
		return auth.Identity{}
	}
	return auth.Identity{ID: u.ID, Username: u.Username, Role: u.Role}
}

// IsAdmin reports whether the user holds the admin role.
func (u *DbUser) IsAdmin() bool {
	return u != nil && u.Role == auth.RoleAdmin
}

// UserSummary is a lightweight user description returned to clients.
type UserSummary struct {
	ID            uint       `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	Role          auth.Role  `json:"role"`
	IsActive      bool       `json:"is_active"`
	CreatedBy     *uint      `json:"created_by,omitempty"`
	TermsAccepted bool       `json:"terms_accepted"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	LoginCount    int64      `json:"login_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NewUserSummary converts a persisted user into its client view.
func NewUserSummary(u *DbUser) UserSummary {
	if u == nil {
		return UserSummary{}
	}
	return UserSummary{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		Role:          u.Role,
		IsActive:      u.IsActive,
		CreatedBy:     u.CreatedBy,
		TermsAccepted: u.TermsAccepted,
		LastLoginAt:   u.LastLoginAt,
		LoginCount:    u.LoginCount,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

// UserQuery supports listing users with pagination.
type UserQuery struct {
	BaseParams
	Role     string `json:"role" form:"role" query:"role"`
	Keyword  string `json:"keyword" form:"keyword" query:"keyword"`
	IsActive *bool  `json:"is_active" form:"is_active" query:"is_active"`
}

type AuthLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AuthRegisterRequest struct {
	Username   string `json:"username" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required"`
	Role       string `json:"role,omitempty"`
	TermsToken string `json:"terms_token,omitempty"`
}

type AuthRefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type AuthLogoutRequest struct {
	All bool `json:"all"`
}

// AuthResponse is returned after a successful login or registration.
type AuthResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresAt    time.Time   `json:"expires_at"`
	User         UserSummary `json:"user"`
	Permissions  []string    `json:"permissions"`
}

// RefreshResponse carries a new access token; the refresh token is unchanged.
type RefreshResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// CurrentUserResponse is returned by the "me" endpoint.
type CurrentUserResponse struct {
	User        UserSummary `json:"user"`
	Permissions []string    `json:"permissions"`
}

// VerifyTokenResponse is returned by the token verification endpoint.
type VerifyTokenResponse struct {
	Valid    bool      `json:"valid"`
	UserID   uint      `json:"user_id"`
	Username string    `json:"username"`
	Role     auth.Role `json:"role"`
	Message  string    `json:"message"`
}

type UserCreateRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role" binding:"required"`
	IsActive *bool  `json:"is_active"`
}

type UserUpdateRequest struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
	Role     *string `json:"role,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

type UserListResponse struct {
	Users []UserSummary `json:"users"`
	Meta  *Meta         `json:"meta"`
}

// UserStats summarises the user base for the admin dashboard.
type UserStats struct {
	TotalUsers     int64               `json:"total_users"`
	ActiveUsers    int64               `json:"active_users"`
	InactiveUsers  int64               `json:"inactive_users"`
	UsersByRole    map[auth.Role]int64 `json:"users_by_role"`
	ActiveSessions int64               `json:"active_sessions"`
	AuditEvents24h int64               `json:"audit_events_24h"`
}
