package models

import "time"

// Session struct for storing session data
type Session struct {
	SessionToken string    `json:"session_token"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
	CSRFToken    string    `json:"csrf_token"`
	UserAgent    string    `json:"user_agent"`
	IPAddress    string    `json:"ip_address"`
}

// ResetToken is the verified content of a password reset link.
type ResetToken struct {
	ID       string
	Email    string
	IssuedAt time.Time
}
