package model

import "time"

// Thread is a cached conversation: the ordered list of message IDs the
// server groups under one thread.
type Thread struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	EmailIDs []string  `json:"email_ids"`
	SyncedAt time.Time `json:"synced_at"`
}
