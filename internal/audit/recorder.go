// Package audit records security-relevant actions. Recording is best effort:
// a failed write is logged and counted but never fails the caller.
package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"wellness/internal/entity"
	"wellness/internal/ids"
	"wellness/internal/obs"
)

// Action names an audited event.
type Action string

const (
	ActionLogin             Action = "LOGIN"
	ActionLoginFailed       Action = "LOGIN_FAILED"
	ActionLogout            Action = "LOGOUT"
	ActionRegister          Action = "REGISTER"
	ActionTokenRefresh      Action = "TOKEN_REFRESH"
	ActionUserCreated       Action = "USER_CREATED"
	ActionUserUpdated       Action = "USER_UPDATED"
	ActionUserDeleted       Action = "USER_DELETED"
	ActionPermissionGranted Action = "PERMISSION_GRANTED"
	ActionPermissionRevoked Action = "PERMISSION_REVOKED"
)

// Entry describes one audited action.
type Entry struct {
	UserID       *uint
	Action       Action
	ResourceType string
	ResourceID   *uint
	Details      map[string]interface{}
	IPAddress    string
	UserAgent    string
}

// Event is the published form of an entry.
type Event struct {
	ID           string                 `json:"id"`
	Action       Action                 `json:"action"`
	UserID       *uint                  `json:"user_id,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   *uint                  `json:"resource_id,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	UserAgent    string                 `json:"user_agent,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Store persists audit rows.
type Store interface {
	CreateAuditLog(ctx context.Context, log *entity.DbAuditLog) error
	ListAuditLogs(ctx context.Context, params *entity.AuditQuery) ([]entity.DbAuditLog, *entity.Meta, error)
}

// Publisher forwards audit events to an external consumer.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Recorder writes audit rows and optionally publishes them.
type Recorder struct {
	store     Store
	publisher Publisher
	now       func() time.Time
}

// NewRecorder creates a recorder. publisher may be nil.
func NewRecorder(store Store, publisher Publisher) *Recorder {
	return &Recorder{store: store, publisher: publisher, now: time.Now}
}

// WithClock replaces the time source.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	if now != nil {
		r.now = now
	}
	return r
}

// Record stores the entry. Failures are logged and counted only.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil {
		return
	}
	ts := r.now().UTC()
	fields := logrus.Fields{"action": e.Action}
	if e.UserID != nil {
		fields["user_id"] = *e.UserID
	}

	if r.store != nil {
		row := &entity.DbAuditLog{
			UserID:       e.UserID,
			Action:       string(e.Action),
			ResourceType: e.ResourceType,
			ResourceID:   e.ResourceID,
			Details:      entity.JSONMap(e.Details),
			IPAddress:    e.IPAddress,
			UserAgent:    e.UserAgent,
			Timestamp:    ts,
		}
		if err := r.store.CreateAuditLog(ctx, row); err != nil {
			obs.AuditFailures.WithLabelValues("store").Inc()
			logrus.WithError(err).WithFields(fields).Warn("failed to write audit log")
		}
	}

	if r.publisher != nil {
		event := Event{
			ID:           ids.NewAt(ts),
			Action:       e.Action,
			UserID:       e.UserID,
			ResourceType: e.ResourceType,
			ResourceID:   e.ResourceID,
			Details:      e.Details,
			IPAddress:    e.IPAddress,
			UserAgent:    e.UserAgent,
			Timestamp:    ts,
		}
		if err := r.publisher.Publish(ctx, event); err != nil {
			obs.AuditFailures.WithLabelValues("publish").Inc()
			logrus.WithError(err).WithFields(fields).Warn("failed to publish audit event")
		}
	}
}

// List returns audit rows matching the query.
func (r *Recorder) List(ctx context.Context, query *entity.AuditQuery) ([]entity.DbAuditLog, *entity.Meta, error) {
	return r.store.ListAuditLogs(ctx, query)
}
