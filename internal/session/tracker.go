// Package session tracks which local users are known to the cache and
// when they were last active. Expiry is lazy: stale rows are removed
// when a read encounters them, not by a background job.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/internal/store"
)

// DefaultTimeout is how long a session stays current without activity.
const DefaultTimeout = 2 * time.Hour

// Tracker records user activity and answers "who is the current user"
// from the sessions table.
type Tracker struct {
	store   store.Store
	timeout time.Duration
	now     func() time.Time
}

// NewTracker creates a Tracker over the given store. A non-positive
// timeout falls back to DefaultTimeout.
func NewTracker(s store.Store, timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{
		store:   s,
		timeout: timeout,
		now:     time.Now,
	}
}

// Register stores a full session row at login time, stamping the
// current time as last activity.
func (t *Tracker) Register(ctx context.Context, sess model.UserSession) error {
	if sess.UserID == "" {
		return fmt.Errorf("registering session: empty user id")
	}
	sess.LastActivity = t.now().UTC()
	if err := t.store.UpsertSession(ctx, sess); err != nil {
		return fmt.Errorf("registering session: %w", err)
	}
	return nil
}

// Touch bumps the last-activity timestamp for a user, creating a
// minimal session row if none exists yet. Username, host, and
// capabilities of an existing row are preserved.
func (t *Tracker) Touch(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("recording activity: empty user id")
	}

	sessions, err := t.store.GetSessions(ctx)
	if err != nil {
		return fmt.Errorf("recording activity: %w", err)
	}

	sess := model.UserSession{UserID: userID}
	for _, known := range sessions {
		if known.UserID == userID {
			sess = known
			break
		}
	}
	sess.LastActivity = t.now().UTC()

	if err := t.store.UpsertSession(ctx, sess); err != nil {
		return fmt.Errorf("recording activity: %w", err)
	}
	return nil
}

// CurrentUser returns the most recently active unexpired session, or
// nil when every known session has expired. Expired rows encountered
// during the scan are deleted.
func (t *Tracker) CurrentUser(ctx context.Context) (*model.UserSession, error) {
	sessions, err := t.store.GetSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading sessions: %w", err)
	}

	now := t.now()
	for _, sess := range sessions {
		if now.Sub(sess.LastActivity) <= t.timeout {
			found := sess
			return &found, nil
		}
		if err := t.store.DeleteSession(ctx, sess.UserID); err != nil {
			return nil, fmt.Errorf("expiring session %s: %w", sess.UserID, err)
		}
	}

	return nil, nil
}

// Forget removes a user's session row, if any.
func (t *Tracker) Forget(ctx context.Context, userID string) error {
	if err := t.store.DeleteSession(ctx, userID); err != nil {
		return fmt.Errorf("forgetting session %s: %w", userID, err)
	}
	return nil
}
