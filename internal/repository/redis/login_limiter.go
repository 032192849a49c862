package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"wardwatch/internal/client"
	"wardwatch/internal/util"
)

const loginAttemptPrefix = "login_attempts:"

// LoginLimiter throttles failed dashboard logins per username. Counters
// live in redis so a restart doesn't reset an attacker's budget.
type LoginLimiter struct {
	client      *client.RedisClient
	maxAttempts int
	window      time.Duration
}

func NewLoginLimiter(client *client.RedisClient, maxAttempts int, window time.Duration) *LoginLimiter {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &LoginLimiter{client: client, maxAttempts: maxAttempts, window: window}
}

// Allowed reports whether the username may attempt another login
func (l *LoginLimiter) Allowed(ctx context.Context, username string) bool {
	raw, err := l.client.Get(ctx, loginAttemptPrefix+username)
	if err != nil {
		return true
	}
	attempts, err := strconv.Atoi(raw)
	if err != nil {
		return true
	}
	return attempts < l.maxAttempts
}

// RecordFailure increments the failure counter, starting the lockout
// window on the first failure
func (l *LoginLimiter) RecordFailure(ctx context.Context, username string) error {
	key := loginAttemptPrefix + username
	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to record login failure", zap.String("username", username), zap.Error(err))
		return fmt.Errorf("failed to record login failure: %w", err)
	}

	if n := incr.Val(); n >= int64(l.maxAttempts) {
		util.Warn("Login lockout threshold reached",
			zap.String("username", username),
			zap.Int64("attempts", n))
	}
	return nil
}

// Reset clears the counter after a successful login
func (l *LoginLimiter) Reset(ctx context.Context, username string) error {
	return l.client.Del(ctx, loginAttemptPrefix+username)
}
