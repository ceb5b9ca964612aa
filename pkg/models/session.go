package models

import "time"

// LoginState represents where a manual-login session is in its lifecycle
type LoginState string

const (
	StateLoginPending LoginState = "LOGIN_PENDING"
	StateReady        LoginState = "READY"
	StateGenerating   LoginState = "GENERATING"
	StateCompleted    LoginState = "COMPLETED"
	StateExpired      LoginState = "EXPIRED"
	StateCancelled    LoginState = "CANCELLED"
)

// LoginSession is the public view of a manual-login session
type LoginSession struct {
	ID                   string     `json:"sessionId"`
	State                LoginState `json:"state"`
	LoginURL             string     `json:"loginUrl"`
	TotalURLs            int        `json:"totalUrls"`
	UsingExistingBrowser bool       `json:"usingExistingBrowser"`
	CreatedAt            time.Time  `json:"createdAt"`
	ReadyAt              time.Time  `json:"readyAt"`
	ExpiresAt            time.Time  `json:"expiresAt"`
}

// PrepareLoginRequest is the payload for opening a login page
type PrepareLoginRequest struct {
	URLs string `json:"urls"`
}

// PrepareLoginResponse tells the caller which session to resume later
type PrepareLoginResponse struct {
	Message              string `json:"message"`
	SessionID            string `json:"sessionId"`
	LoginURL             string `json:"loginUrl"`
	TotalURLs            int    `json:"totalUrls"`
	UsingExistingBrowser bool   `json:"usingExistingBrowser"`
}

// SessionRequest carries a session id (start generation, cancel)
type SessionRequest struct {
	SessionID string `json:"sessionId"`
}
