package model

import "time"

// Session is a dashboard login session held by the gateway. The upstream
// bearer token never reaches the browser; the browser only sees the
// gateway session id.
type Session struct {
	SessionID     string    `json:"session_id"`
	Username      string    `json:"username"`
	UpstreamToken string    `json:"upstream_token"`
	CreatedAt     time.Time `json:"created_at"`
}

// LoginRequest is the dashboard login payload
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse returns the minted gateway session
type LoginResponse struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
	ExpiresIn int64  `json:"expires_in"`
}
