package model

import "time"

// EmailAddress is a single sender or recipient entry on a message.
type EmailAddress struct {
	// Name is the display name, possibly empty.
	Name string `json:"name"`

	// Email is the address itself (local@domain).
	Email string `json:"email"`
}

// Attachment holds the metadata of one message attachment. The binary
// content is cached separately in the blobs table, keyed by BlobID.
type Attachment struct {
	// BlobID identifies the attachment content on the server.
	BlobID string `json:"blob_id"`

	// Type is the media type, e.g. "application/pdf".
	Type string `json:"type"`

	// Name is the suggested file name, possibly empty.
	Name string `json:"name"`

	// Size is the content length in bytes.
	Size int64 `json:"size"`
}

// Email is a single cached message. All offline reads are served from
// rows of this shape; the server is never consulted on the read path.
type Email struct {
	// ID is the server-assigned immutable message identifier.
	ID string `json:"id"`

	// ThreadID groups this message with the rest of its conversation.
	ThreadID string `json:"thread_id"`

	// UserID is the local user partition this row belongs to. Writes
	// with an empty UserID are rejected by the store.
	UserID string `json:"user_id"`

	// MailboxIDs is the canonical mailbox membership set. A message may
	// belong to several mailboxes at once.
	MailboxIDs map[string]bool `json:"mailbox_ids"`

	// MailboxIDList is MailboxIDs flattened to a sorted slice. It is
	// derived and must always agree with MailboxIDs, which stays the
	// canonical set: the store rebuilds both the membership rows and
	// this slice from the set, never the other way around.
	MailboxIDList []string `json:"mailbox_id_list"`

	// Keywords holds per-message flags such as "$seen" and "$flagged".
	Keywords map[string]bool `json:"keywords"`

	// Size is the full message size in bytes as reported by the server.
	Size int64 `json:"size"`

	// ReceivedAt is when the server received the message. It orders
	// mailbox listings and is required on every cached row.
	ReceivedAt time.Time `json:"received_at"`

	// SentAt is the date claimed by the message header, possibly zero.
	SentAt time.Time `json:"sent_at"`

	// From, To, and Cc are the address lists from the message envelope.
	From []EmailAddress `json:"from"`
	To   []EmailAddress `json:"to"`
	Cc   []EmailAddress `json:"cc,omitempty"`

	// Subject is the sanitized subject line.
	Subject string `json:"subject"`

	// Preview is a short sanitized plain-text snippet of the body.
	Preview string `json:"preview"`

	// HasAttachment reports whether the message carries attachments.
	HasAttachment bool `json:"has_attachment"`

	// Attachments lists attachment metadata; bodies are cached as blobs.
	Attachments []Attachment `json:"attachments,omitempty"`

	// SyncedAt is when this row was last written by a sync.
	SyncedAt time.Time `json:"synced_at"`
}
