package model

import "time"

// Blob is a cached attachment body, downloaded once and then served
// locally on repeat views.
type Blob struct {
	BlobID   string    `json:"blob_id"`
	UserID   string    `json:"user_id"`
	Type     string    `json:"type"`
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Data     []byte    `json:"-"`
	SyncedAt time.Time `json:"synced_at"`
}
