package terms

import (
	"context"
	"time"
)

// Entry is the stored state of one gate token.
type Entry struct {
	Token     string    `json:"token"`
	Valid     bool      `json:"valid"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Active reports whether the entry can still admit a gated request at now.
func (e Entry) Active(now time.Time) bool {
	return e.Valid && now.Before(e.ExpiresAt)
}

// Store keeps gate entries. CompareAndInvalidate must be atomic: for one
// token, at most one caller may ever observe claimed=true per Put.
type Store interface {
	Put(ctx context.Context, entry Entry) error
	Get(ctx context.Context, token string) (Entry, bool, error)
	CompareAndInvalidate(ctx context.Context, token string, now time.Time) (Entry, bool, error)
	Purge(ctx context.Context, now time.Time) (int, error)
}
