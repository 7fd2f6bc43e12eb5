package jmap

import (
	"time"

	"github.com/nhle/mailcache/internal/model"
)

// Email is a message record as returned by the server, before the
// cache layer validates it and stamps cache metadata onto it.
type Email struct {
	ID            string
	ThreadID      string
	MailboxIDs    map[string]bool
	Keywords      map[string]bool
	Size          int64
	ReceivedAt    time.Time
	SentAt        time.Time
	From          []model.EmailAddress
	To            []model.EmailAddress
	Cc            []model.EmailAddress
	Subject       string
	Preview       string
	HasAttachment bool
	Attachments   []model.Attachment
}

// Mailbox is a folder record as returned by the server.
type Mailbox struct {
	ID           string
	Name         string
	ParentID     string
	Role         string
	SortOrder    int
	TotalEmails  int
	UnreadEmails int
}

// Thread is a conversation record as returned by the server.
type Thread struct {
	ID       string
	EmailIDs []string
}

// EmailPage is one page of a mailbox listing together with the
// collection state it was taken from.
type EmailPage struct {
	Emails []Email

	// Total is the server-reported size of the full listing, not of
	// this page.
	Total int

	// State is the Email collection state token the page reflects.
	State string

	// Position is the offset of the first item in the listing.
	Position int
}

// EmailChanges is the server delta since a known collection state.
type EmailChanges struct {
	OldState string
	NewState string

	Created   []string
	Updated   []string
	Destroyed []string

	// HasMoreChanges indicates the delta was truncated and another
	// FetchEmailChanges call from NewState is needed.
	HasMoreChanges bool
}
