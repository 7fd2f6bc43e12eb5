package model

import "time"

// Standard mailbox roles. A mailbox either has one of these roles or
// is a plain user-created folder with no role.
const (
	RoleInbox   = "inbox"
	RoleArchive = "archive"
	RoleDrafts  = "drafts"
	RoleSent    = "sent"
	RoleTrash   = "trash"
	RoleJunk    = "junk"
)

// Mailbox is a cached mail folder with its server-reported counts.
type Mailbox struct {
	// ID is the server-assigned mailbox identifier.
	ID string `json:"id"`

	// UserID is the local user partition this row belongs to.
	UserID string `json:"user_id"`

	// Name is the display name of the folder.
	Name string `json:"name"`

	// ParentID is the enclosing mailbox, empty for top-level folders.
	ParentID string `json:"parent_id"`

	// Role is one of the Role* constants, or empty for plain folders.
	Role string `json:"role"`

	// SortOrder is the server-suggested position among siblings.
	SortOrder int `json:"sort_order"`

	// TotalEmails and UnreadEmails are the server-reported counts at
	// the time of the last sync, not counts of locally cached rows.
	TotalEmails  int `json:"total_emails"`
	UnreadEmails int `json:"unread_emails"`

	// SyncedAt is when this row was last written by a sync.
	SyncedAt time.Time `json:"synced_at"`
}
