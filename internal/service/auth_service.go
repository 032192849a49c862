package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wardwatch/internal/audit"
	"wardwatch/internal/config"
	"wardwatch/internal/hashing"
	"wardwatch/internal/model"
	redisrepo "wardwatch/internal/repository/redis"
	"wardwatch/internal/upstream"
	"wardwatch/internal/util"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTooManyAttempts    = errors.New("too many failed login attempts")
)

// AuthService mints and tears down gateway sessions. The browser holds a
// gateway session id; the upstream bearer token stays server-side in the
// session cache and in the monitor's credential slot.
type AuthService struct {
	cfg      config.AuthConfig
	upstream *upstream.Client
	sessions *redisrepo.SessionCache
	limiter  *redisrepo.LoginLimiter
	hasher   *hashing.Hasher
	monitor  *Monitor
	audit    *audit.Publisher
	logger   *zap.Logger
}

func NewAuthService(cfg config.AuthConfig, client *upstream.Client, sessions *redisrepo.SessionCache, limiter *redisrepo.LoginLimiter, monitor *Monitor, auditPub *audit.Publisher, logger *zap.Logger) *AuthService {
	return &AuthService{
		cfg:      cfg,
		upstream: client,
		sessions: sessions,
		limiter:  limiter,
		hasher:   hashing.NewHasher(hashing.DefaultParams),
		monitor:  monitor,
		audit:    auditPub,
		logger:   logger,
	}
}

// Login authenticates a dashboard user and mints a session. With local
// users enabled the credential is checked against the configured admin
// hash first; the upstream login then becomes best-effort, so the ward
// pages stay reachable even while the upstream is down.
func (s *AuthService) Login(ctx context.Context, username, password string) (*model.LoginResponse, error) {
	if s.limiter != nil && !s.limiter.Allowed(ctx, username) {
		return nil, ErrTooManyAttempts
	}

	var token string
	if s.cfg.LocalUsers && s.cfg.AdminPassHash != "" {
		ok := username == s.cfg.AdminUser
		if ok {
			var err error
			ok, err = s.hasher.Verify(password, s.cfg.AdminPassHash)
			if err != nil {
				util.Error("Local credential verification failed", zap.Error(err))
				ok = false
			}
		}
		if !ok {
			s.recordFailure(ctx, username)
			return nil, ErrInvalidCredentials
		}

		token, _ = s.loginUpstream(ctx, username, password)
	} else {
		var err error
		token, err = s.loginUpstream(ctx, username, password)
		if err != nil {
			s.recordFailure(ctx, username)
			return nil, err
		}
	}

	session := &model.Session{
		SessionID:     uuid.NewString(),
		Username:      username,
		UpstreamToken: token,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.sessions.StoreSession(ctx, session, s.cfg.SessionTTL); err != nil {
		return nil, err
	}
	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, username); err != nil {
			util.Warn("Failed to reset login limiter", zap.Error(err))
		}
	}

	if token != "" && s.monitor != nil {
		s.monitor.SetCredential(token)
	}
	if s.audit != nil {
		s.audit.UserAction(ctx, audit.ActionLogin, username, "", "")
	}

	util.Info("Dashboard login", zap.String("username", username))
	return &model.LoginResponse{
		SessionID: session.SessionID,
		Username:  username,
		ExpiresIn: int64(s.cfg.SessionTTL.Seconds()),
	}, nil
}

// Logout invalidates the session and clears the live credential
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		// Unknown session: logout is idempotent
		return nil
	}

	if err := s.sessions.InvalidateSession(ctx, sessionID); err != nil {
		return err
	}
	if s.monitor != nil {
		s.monitor.ClearCredential()
	}
	if s.audit != nil {
		s.audit.UserAction(ctx, audit.ActionLogout, session.Username, "", "")
	}
	return nil
}

// Resolve returns the session behind an id, ErrSessionNotFound when gone
func (s *AuthService) Resolve(ctx context.Context, sessionID string) (*model.Session, error) {
	return s.sessions.GetSession(ctx, sessionID)
}

func (s *AuthService) loginUpstream(ctx context.Context, username, password string) (string, error) {
	token, err := s.upstream.Login(ctx, username, password)
	if err != nil {
		if errors.Is(err, upstream.ErrUnauthorized) {
			return "", ErrInvalidCredentials
		}
		var httpErr *upstream.HTTPError
		if errors.As(err, &httpErr) && httpErr.Status < 500 {
			return "", ErrInvalidCredentials
		}
		util.Warn("Upstream login unavailable", zap.Error(err))
		return "", err
	}
	return token, nil
}

func (s *AuthService) recordFailure(ctx context.Context, username string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.RecordFailure(ctx, username); err != nil {
		util.Warn("Failed to record login failure", zap.Error(err))
	}
}
