package model

import "time"

// SyncState records how far a user's cache has been synchronized with
// the server. There is one row per (user, account, mailbox) for page
// fetching, plus one account-wide row (empty MailboxID) tracking the
// Email collection state used by incremental push sync.
type SyncState struct {
	// UserID is the local user partition this row belongs to.
	UserID string `json:"user_id"`

	// AccountID is the server-side account the state was taken from.
	AccountID string `json:"account_id"`

	// MailboxID scopes this row to one mailbox. Empty means the
	// account-wide Email collection row.
	MailboxID string `json:"mailbox_id"`

	// State is the opaque server token identifying the snapshot the
	// cached rows were taken from. Never inspected, only echoed back.
	State string `json:"state"`

	// Position is the offset just past the last fetched page, so the
	// next page fetch resumes where the previous one ended.
	Position int `json:"position"`

	// LastSyncAt is when this cursor was last advanced.
	LastSyncAt time.Time `json:"last_sync_at"`
}
