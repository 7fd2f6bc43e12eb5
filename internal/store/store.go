package store

import (
	"context"
	"time"

	"github.com/nhle/mailcache/internal/model"
)

// EmailQuery controls filtering and pagination for mailbox listings.
// UserID and MailboxID are required; everything else is optional.
type EmailQuery struct {
	UserID    string
	MailboxID string

	// Before and After bound the receive date. Either or both may be
	// nil for an open-ended range.
	Before *time.Time
	After  *time.Time

	Limit  int
	Offset int
}

// SearchQuery controls offline full-text lookups. Text is matched as a
// case-insensitive substring of the subject, sender, and preview.
type SearchQuery struct {
	UserID string

	// MailboxID restricts the search to one mailbox when non-empty.
	MailboxID string

	Text  string
	Limit int
}

// Store defines the persistence interface for the mail cache. Every
// read and write is scoped to a single user partition; the only
// cross-table operation without a filter is DeleteUserData, which
// removes one partition entirely.
//
// Single-row getters return nil with no error when the row is absent.
type Store interface {
	// === Emails ===

	UpsertEmails(ctx context.Context, emails []model.Email) error
	GetEmails(ctx context.Context, q EmailQuery) ([]model.Email, error)
	GetEmailByID(ctx context.Context, userID, id string) (*model.Email, error)
	CountMailboxEmails(ctx context.Context, userID, mailboxID string) (int, error)
	SearchEmails(ctx context.Context, q SearchQuery) ([]model.Email, error)
	DeleteEmails(ctx context.Context, userID string, ids []string) error

	// SaveEmailPage writes a fetched page and its advanced sync cursor
	// in one transaction, so a crash never leaves messages cached
	// without the cursor that explains them.
	SaveEmailPage(ctx context.Context, emails []model.Email, cursor model.SyncState) error

	// ApplyEmailChanges applies a server delta (upserts and deletions)
	// and advances the account-wide collection state in one transaction.
	ApplyEmailChanges(
		ctx context.Context,
		upserts []model.Email,
		destroyedIDs []string,
		state model.SyncState,
	) error

	// === Mailboxes ===

	UpsertMailboxes(ctx context.Context, mailboxes []model.Mailbox) error
	GetMailboxes(ctx context.Context, userID string) ([]model.Mailbox, error)

	// === Threads ===

	UpsertThreads(ctx context.Context, threads []model.Thread) error
	GetThreadByID(ctx context.Context, userID, id string) (*model.Thread, error)

	// === Sync state ===

	GetSyncState(ctx context.Context, userID, accountID, mailboxID string) (*model.SyncState, error)
	SetSyncState(ctx context.Context, state model.SyncState) error
	GetSyncStates(ctx context.Context, userID string) ([]model.SyncState, error)

	// === Sessions ===

	UpsertSession(ctx context.Context, session model.UserSession) error
	GetSessions(ctx context.Context) ([]model.UserSession, error)
	DeleteSession(ctx context.Context, userID string) error

	// === Blobs ===

	PutBlob(ctx context.Context, blob model.Blob) error
	GetBlob(ctx context.Context, userID, blobID string) (*model.Blob, error)

	// === Maintenance ===

	DeleteUserData(ctx context.Context, userID string) error

	Close() error
}
