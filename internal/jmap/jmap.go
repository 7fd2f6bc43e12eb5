// Package jmap defines the contract between the cache layer and the
// JMAP protocol client. The cache never speaks the wire protocol
// itself; it consumes an implementation of Client provided by the
// application and treats server state tokens as opaque strings.
package jmap

import (
	"context"
	"errors"
	"fmt"
)

// AuthError indicates that the server rejected the account's
// credentials. It is returned by clients on a 401-class response.
type AuthError struct {
	Op      string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Op, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// RequestError indicates a transient transport or server failure for a
// single request. Callers may retry; the cache treats it as a network
// error, not a data error.
type RequestError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request error (%s): status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("request error (%s): %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// IsRequestError reports whether err (or any error in its chain) is a
// RequestError.
func IsRequestError(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr)
}

// PushEventType identifies the kind of event delivered on a push stream.
type PushEventType string

const (
	// PushOpened is delivered once when the stream is established.
	PushOpened PushEventType = "opened"

	// PushStateChange is delivered when server-side state changes.
	PushStateChange PushEventType = "state"

	// PushPing is a keepalive with no payload.
	PushPing PushEventType = "ping"
)

// PushEvent is a single event from the server push channel.
type PushEvent struct {
	Type PushEventType

	// Changed maps account IDs to the collection states that changed,
	// present on PushStateChange events. Inner keys are type names
	// ("Email", "Mailbox", "Thread"); values are the new state tokens.
	Changed map[string]map[string]string
}

// PushStream is one open server push connection.
type PushStream interface {
	// Events returns the stream's event channel. The channel is closed
	// when the connection drops or Close is called.
	Events() <-chan PushEvent

	// Err returns the error that terminated the stream, or nil after a
	// clean Close. Valid only once Events is closed.
	Err() error

	// Close tears down the connection. Safe to call more than once.
	Close() error
}

// Client is the protocol client the cache layer synchronizes through.
// Implementations own authentication, request batching, and the wire
// format; every method maps to one server round trip.
type Client interface {
	// FetchMailboxes lists all mailboxes in the account.
	FetchMailboxes(ctx context.Context, accountID string) ([]Mailbox, error)

	// FetchMailboxEmails retrieves one page of a mailbox listing,
	// newest first, starting at the given position.
	FetchMailboxEmails(
		ctx context.Context,
		accountID, mailboxID string,
		position, limit int,
	) (*EmailPage, error)

	// FetchEmailChanges reports the email IDs created, updated, and
	// destroyed since the given collection state.
	FetchEmailChanges(
		ctx context.Context,
		accountID, sinceState string,
	) (*EmailChanges, error)

	// FetchEmailsByID retrieves full email records for the given IDs.
	// Unknown IDs are silently absent from the result.
	FetchEmailsByID(ctx context.Context, accountID string, ids []string) ([]Email, error)

	// FetchThread retrieves a single conversation.
	FetchThread(ctx context.Context, accountID, threadID string) (*Thread, error)

	// DownloadBlob retrieves a raw blob body.
	DownloadBlob(ctx context.Context, accountID, blobID string) ([]byte, error)

	// OpenPushStream opens the server push channel. The returned stream
	// delivers state-change notifications until it drops or is closed.
	OpenPushStream(ctx context.Context) (PushStream, error)
}
