package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wardwatch/internal/client"
	"wardwatch/internal/model"
	"wardwatch/internal/util"
)

const (
	sessionDataPrefix = "session_data:"
	activeUserPrefix  = "active_session:"
)

// ErrSessionNotFound means the session id is unknown or has expired
var ErrSessionNotFound = errors.New("session not found")

// SessionCache holds gateway login sessions. The browser only carries the
// gateway session id; the upstream bearer token lives here and never leaves
// the server side.
type SessionCache struct {
	client *client.RedisClient
}

func NewSessionCache(client *client.RedisClient) *SessionCache {
	return &SessionCache{client: client}
}

// StoreSession persists a freshly minted session with the given TTL
func (c *SessionCache) StoreSession(ctx context.Context, session *model.Session, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, sessionDataPrefix+session.SessionID, string(data), ttl)
	pipe.Set(ctx, activeUserPrefix+session.Username, session.SessionID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to store session",
			zap.String("session_id", session.SessionID),
			zap.String("username", session.Username),
			zap.Error(err))
		return fmt.Errorf("failed to store session: %w", err)
	}

	util.Debug("Session stored",
		zap.String("session_id", session.SessionID),
		zap.Duration("ttl", ttl))
	return nil
}

// GetSession resolves a session id back to the full session record
func (c *SessionCache) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	raw, err := c.client.Get(ctx, sessionDataPrefix+sessionID)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	var session model.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// UpstreamToken returns the bearer token for a session, empty when the
// session is gone. This is the poller's credential source: an empty return
// is exactly the "no credential" state.
func (c *SessionCache) UpstreamToken(ctx context.Context, sessionID string) string {
	session, err := c.GetSession(ctx, sessionID)
	if err != nil {
		return ""
	}
	return session.UpstreamToken
}

// InvalidateSession removes a session on logout
func (c *SessionCache) InvalidateSession(ctx context.Context, sessionID string) error {
	session, err := c.GetSession(ctx, sessionID)
	if err != nil {
		// Already gone: logout is idempotent
		return nil
	}

	if err := c.client.Del(ctx, sessionDataPrefix+sessionID, activeUserPrefix+session.Username); err != nil {
		util.Error("Failed to invalidate session",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return fmt.Errorf("failed to invalidate session: %w", err)
	}

	util.Info("Session invalidated",
		zap.String("session_id", sessionID),
		zap.String("username", session.Username))
	return nil
}

// RefreshSession extends a live session's TTL
func (c *SessionCache) RefreshSession(ctx context.Context, sessionID string, ttl time.Duration) error {
	session, err := c.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return c.StoreSession(ctx, session, ttl)
}
