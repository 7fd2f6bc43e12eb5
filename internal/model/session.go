package model

import "time"

// UserSession records one known local user and their last activity.
// The most recently active unexpired session decides which user the
// cache considers current on startup.
type UserSession struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Host     string `json:"host"`

	// Capabilities holds the serialized server session capabilities
	// captured at login, possibly empty.
	Capabilities string `json:"capabilities,omitempty"`

	LastActivity time.Time `json:"last_activity"`
}
