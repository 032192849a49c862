package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"wardwatch/internal/model"
	"wardwatch/internal/service"
	"wardwatch/internal/util"
)

// SessionCookie is the browser-side carrier of the gateway session id
const SessionCookie = "ww_session"

type contextKey string

const sessionContextKey contextKey = "wardwatch.session"

var errNoSession = errors.New("missing or expired session")

// SessionFromContext returns the authenticated session, nil outside the
// auth middleware
func SessionFromContext(ctx context.Context) *model.Session {
	s, _ := ctx.Value(sessionContextKey).(*model.Session)
	return s
}

// SessionAuth resolves the session id from the cookie or the
// X-Session-ID header and rejects requests without a live session
func SessionAuth(auth *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := sessionIDFromRequest(r)
			if sessionID == "" {
				respondWithError(w, http.StatusUnauthorized, errNoSession, "Login required")
				return
			}
			session, err := auth.Resolve(r.Context(), sessionID)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, errNoSession, "Login required")
				return
			}
			ctx := context.WithValue(r.Context(), sessionContextKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionIDFromRequest(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("X-Session-ID"); h != "" {
		return h
	}
	// SSE through EventSource cannot set headers; allow a query fallback
	if q := r.URL.Query().Get("session_id"); q != "" {
		return q
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// LoggerMiddleware logs every HTTP request with its final status
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
