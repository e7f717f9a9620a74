// Package terms implements the short-lived gate token a client obtains by
// accepting the terms and must present before registering or logging in.
package terms

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"wellness/internal/auth"
)

// DefaultTTL is how long a freshly issued gate token stays valid.
const DefaultTTL = time.Hour

const tokenBytes = 32

// ErrGateUnavailable wraps failures of the backing store.
var ErrGateUnavailable = errors.New("terms gate unavailable")

// Issued is what a client receives after accepting the terms.
type Issued struct {
	Token     string    `json:"auth_token"`
	ExpiresIn int64     `json:"expires_in"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Gate issues and consumes gate tokens. A token admits exactly one gated
// operation.
type Gate struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewGate creates a gate over store. A non-positive ttl uses DefaultTTL.
func NewGate(store Store, ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Gate{store: store, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	if now != nil {
		g.now = now
	}
	return g
}

// TTL returns the lifetime of issued tokens.
func (g *Gate) TTL() time.Duration {
	return g.ttl
}

// Issue stores a new valid token bound to sessionID.
func (g *Gate) Issue(ctx context.Context, sessionID string) (*Issued, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	now := g.now().UTC()
	entry := Entry{
		Token:     token,
		Valid:     true,
		SessionID: sessionID,
		CreatedAt: now,
		ExpiresAt: now.Add(g.ttl),
	}
	if err := g.store.Put(ctx, entry); err != nil {
		return nil, fmt.Errorf("%w: issue gate token: %w", ErrGateUnavailable, err)
	}
	return &Issued{
		Token:     token,
		ExpiresIn: int64(g.ttl / time.Second),
		ExpiresAt: entry.ExpiresAt,
	}, nil
}

// Require checks a token without consuming it.
func (g *Gate) Require(ctx context.Context, header string) (Entry, error) {
	token := strings.TrimSpace(header)
	if token == "" {
		return Entry{}, auth.ErrMissingCredentials
	}
	entry, ok, err := g.store.Get(ctx, token)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: check gate token: %w", ErrGateUnavailable, err)
	}
	if !ok || !entry.Active(g.now()) {
		return Entry{}, auth.ErrInvalidCredentials
	}
	return entry, nil
}

// Consume atomically claims the token. Only one caller can succeed per token.
func (g *Gate) Consume(ctx context.Context, header string) (Entry, error) {
	token := strings.TrimSpace(header)
	if token == "" {
		return Entry{}, auth.ErrMissingCredentials
	}
	entry, claimed, err := g.store.CompareAndInvalidate(ctx, token, g.now())
	if err != nil {
		return Entry{}, fmt.Errorf("%w: consume gate token: %w", ErrGateUnavailable, err)
	}
	if !claimed {
		return Entry{}, auth.ErrInvalidCredentials
	}
	entry.Token = token
	return entry, nil
}

// Release makes a claimed token valid again so the client can retry after a
// recoverable failure. Expired tokens stay consumed.
func (g *Gate) Release(ctx context.Context, entry Entry) error {
	if entry.Token == "" || !g.now().Before(entry.ExpiresAt) {
		return nil
	}
	entry.Valid = true
	if err := g.store.Put(ctx, entry); err != nil {
		return fmt.Errorf("release gate token: %w", err)
	}
	return nil
}

// Sweep purges entries that can no longer be used.
func (g *Gate) Sweep(ctx context.Context) (int, error) {
	return g.store.Purge(ctx, g.now())
}

// RunSweeper sweeps immediately and then every interval until ctx is done.
func (g *Gate) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = g.ttl
	}
	g.sweepAndLog(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweepAndLog(ctx)
		}
	}
}

func (g *Gate) sweepAndLog(ctx context.Context) {
	removed, err := g.Sweep(ctx)
	if err != nil {
		logrus.WithError(err).Warn("terms gate sweep failed")
		return
	}
	if removed > 0 {
		logrus.WithField("removed", removed).Debug("terms gate swept expired tokens")
	}
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate gate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
