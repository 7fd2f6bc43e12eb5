// Package sync implements the cache-first synchronization engine. It
// fills the local store through the JMAP collaborator, serves every
// read from the cache, and keeps the cache following the server push
// channel. One Engine is constructed per login.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/nhle/mailcache/internal/identity"
	"github.com/nhle/mailcache/internal/jmap"
	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/internal/session"
	"github.com/nhle/mailcache/internal/store"
)

const (
	// fetchTimeout bounds a single server interaction during sync.
	fetchTimeout = 30 * time.Second

	// defaultPageSize is used when the config does not set one.
	defaultPageSize = 50

	// maxChangeRounds caps how many truncated delta pages one push
	// notification may chase before giving up.
	maxChangeRounds = 10
)

// ResumePosition makes SyncMailbox continue from the stored cursor
// instead of an explicit page offset.
const ResumePosition = -1

// CredentialStore removes per-user secrets when a partition is wiped.
// *credential.TokenStore satisfies it.
type CredentialStore interface {
	DeleteSessionToken(userID string) error
}

// SyncResult is the outcome of a mailbox sync or cache-first read.
type SyncResult struct {
	Emails []model.Email

	// Total is the full listing size: the server-reported total after a
	// fetch, or the cached count when served from cache.
	Total int

	// FromCache reports whether Emails were served from the local store
	// without a server round trip.
	FromCache bool
}

// Engine coordinates the offline cache for at most one active user.
// Reads never touch the network; writes happen only through validated,
// sanitized sync paths.
type Engine struct {
	store       store.Store
	client      jmap.Client
	tracker     *session.Tracker
	credentials CredentialStore
	log         zerolog.Logger

	pageSize int
	pushCfg  model.PushConfig

	// ctx bounds all background work and is canceled by Stop.
	ctx    context.Context
	cancel context.CancelFunc

	refreshGroup singleflight.Group
	refreshWG    gosync.WaitGroup

	mu     gosync.Mutex
	userID string
	push   *pushListener
}

// NewEngine wires an engine from its dependencies. A nil cfg falls
// back to defaults.
func NewEngine(
	s store.Store,
	client jmap.Client,
	tracker *session.Tracker,
	credentials CredentialStore,
	logger zerolog.Logger,
	cfg *model.Config,
) *Engine {
	pageSize := 0
	var pushCfg model.PushConfig
	if cfg != nil {
		pageSize = cfg.Sync.PageSize
		pushCfg = cfg.Push
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:       s,
		client:      client,
		tracker:     tracker,
		credentials: credentials,
		log:         logger.With().Str("component", "sync").Logger(),
		pageSize:    pageSize,
		pushCfg:     pushCfg,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// InitializeUser validates userID and makes it the active user. Calling
// it again with the same id is a no-op; a different id replaces the
// active user and disconnects any push listener bound to the old one.
func (e *Engine) InitializeUser(ctx context.Context, userID string) error {
	if !identity.Valid(userID) {
		return &ValidationError{Field: "user_id", Message: fmt.Sprintf("%q is not a valid user id", userID)}
	}

	e.mu.Lock()
	previous := e.userID
	e.userID = userID
	var push *pushListener
	if previous != identity.None && previous != userID {
		push = e.push
		e.push = nil
	}
	e.mu.Unlock()

	if push != nil {
		push.stop()
		e.log.Info().Str("user", previous).Msg("push listener stopped on user switch")
	}

	if err := e.tracker.Touch(ctx, userID); err != nil {
		return fmt.Errorf("recording activity for %s: %w", userID, err)
	}
	e.log.Info().Str("user", userID).Msg("user initialized")
	return nil
}

// CurrentUserID returns the active user, or identity.None when no user
// has been initialized.
func (e *Engine) CurrentUserID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userID
}

func (e *Engine) activeUser() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.userID == identity.None {
		return "", ErrNoActiveUser
	}
	return e.userID, nil
}

// InitialSync loads the first page of a mailbox. With a warm cache it
// returns the cached page immediately and refreshes in the background;
// with a cold cache it blocks on one server fetch.
func (e *Engine) InitialSync(ctx context.Context, accountID, mailboxID string) (*SyncResult, error) {
	userID, err := e.activeUser()
	if err != nil {
		return nil, err
	}
	if mailboxID == "" {
		return nil, &ValidationError{Field: "mailbox_id", Message: "mailbox id is required"}
	}

	count, err := e.store.CountMailboxEmails(ctx, userID, mailboxID)
	if err != nil {
		return nil, fmt.Errorf("counting cached emails: %w", err)
	}
	if count == 0 {
		return e.SyncMailbox(ctx, accountID, mailboxID, 0)
	}

	emails, err := e.store.GetEmails(ctx, store.EmailQuery{
		UserID:    userID,
		MailboxID: mailboxID,
		Limit:     e.pageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("reading cached emails: %w", err)
	}

	e.scheduleRefresh(userID, accountID, mailboxID)

	if err := e.tracker.Touch(ctx, userID); err != nil {
		e.log.Warn().Err(err).Str("user", userID).Msg("recording activity failed")
	}
	e.log.Debug().Str("mailbox", mailboxID).Int("cached", count).Msg("serving mailbox from cache")
	return &SyncResult{Emails: emails, Total: count, FromCache: true}, nil
}

// scheduleRefresh kicks one background refresh of the mailbox's first
// page. Concurrent requests for the same mailbox collapse into a
// single in-flight sync.
func (e *Engine) scheduleRefresh(userID, accountID, mailboxID string) {
	key := userID + "/" + accountID + "/" + mailboxID
	e.refreshWG.Add(1)
	go func() {
		defer e.refreshWG.Done()
		_, err, _ := e.refreshGroup.Do(key, func() (interface{}, error) {
			return e.syncPage(e.ctx, userID, accountID, mailboxID, 0)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			e.log.Warn().Err(err).Str("mailbox", mailboxID).Msg("background refresh failed")
		}
	}()
}

// SyncMailbox fetches one page of a mailbox at the given position, or
// from the stored cursor when position is ResumePosition, and caches
// it. The fetched page is returned so callers can render it directly.
func (e *Engine) SyncMailbox(ctx context.Context, accountID, mailboxID string, position int) (*SyncResult, error) {
	userID, err := e.activeUser()
	if err != nil {
		return nil, err
	}
	result, err := e.syncPage(ctx, userID, accountID, mailboxID, position)
	if err != nil {
		return nil, err
	}
	if err := e.tracker.Touch(ctx, userID); err != nil {
		e.log.Warn().Err(err).Str("user", userID).Msg("recording activity failed")
	}
	return result, nil
}

// syncPage fetches one page, validates and sanitizes every record, and
// commits the page together with its advanced cursor. Nothing is
// written when any record fails validation.
func (e *Engine) syncPage(ctx context.Context, userID, accountID, mailboxID string, position int) (*SyncResult, error) {
	if accountID == "" {
		return nil, &ValidationError{Field: "account_id", Message: "account id is required"}
	}
	if mailboxID == "" {
		return nil, &ValidationError{Field: "mailbox_id", Message: "mailbox id is required"}
	}

	if position == ResumePosition {
		cursor, err := e.store.GetSyncState(ctx, userID, accountID, mailboxID)
		if err != nil {
			return nil, fmt.Errorf("reading sync cursor: %w", err)
		}
		position = 0
		if cursor != nil {
			position = cursor.Position
		}
	}
	if position < 0 {
		return nil, &ValidationError{Field: "position", Message: "position must not be negative"}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	page, err := e.client.FetchMailboxEmails(fetchCtx, accountID, mailboxID, position, e.pageSize)
	if err != nil {
		return nil, fmt.Errorf("fetching mailbox %s page at %d: %w", mailboxID, position, err)
	}

	now := time.Now().UTC()
	emails := make([]model.Email, 0, len(page.Emails))
	for _, raw := range page.Emails {
		email, err := buildCachedEmail(raw, userID, now)
		if err != nil {
			return nil, fmt.Errorf("rejecting page for mailbox %s: %w", mailboxID, err)
		}
		emails = append(emails, email)
	}

	cursor := model.SyncState{
		UserID:     userID,
		AccountID:  accountID,
		MailboxID:  mailboxID,
		State:      page.State,
		Position:   position + len(emails),
		LastSyncAt: now,
	}
	if err := e.store.SaveEmailPage(ctx, emails, cursor); err != nil {
		return nil, fmt.Errorf("caching mailbox %s page: %w", mailboxID, err)
	}
	e.seedAccountState(ctx, userID, accountID, page.State, now)

	e.log.Info().
		Str("mailbox", mailboxID).
		Int("fetched", len(emails)).
		Int("total", page.Total).
		Int("position", position).
		Msg("mailbox page cached")
	return &SyncResult{Emails: emails, Total: page.Total}, nil
}

// seedAccountState records the first known Email collection state for
// the account so incremental push sync has a starting point. An
// existing row is left alone; only ApplyEmailChanges advances it.
func (e *Engine) seedAccountState(ctx context.Context, userID, accountID, state string, now time.Time) {
	if state == "" {
		return
	}
	existing, err := e.store.GetSyncState(ctx, userID, accountID, "")
	if err != nil {
		e.log.Warn().Err(err).Msg("reading account sync state failed")
		return
	}
	if existing != nil {
		return
	}
	err = e.store.SetSyncState(ctx, model.SyncState{
		UserID:     userID,
		AccountID:  accountID,
		State:      state,
		LastSyncAt: now,
	})
	if err != nil {
		e.log.Warn().Err(err).Msg("seeding account sync state failed")
	}
}

// MailboxEmails reads a slice of a cached mailbox listing, most recent
// first. It never touches the network.
func (e *Engine) MailboxEmails(ctx context.Context, mailboxID string, offset, limit int) ([]model.Email, error) {
	userID, err := e.activeUser()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = e.pageSize
	}
	emails, err := e.store.GetEmails(ctx, store.EmailQuery{
		UserID:    userID,
		MailboxID: mailboxID,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, fmt.Errorf("reading mailbox %s: %w", mailboxID, err)
	}
	return emails, nil
}

// SearchOffline matches the query against cached subjects, senders,
// and previews. The query is trimmed, lowercased, and capped; an empty
// query returns no results.
func (e *Engine) SearchOffline(ctx context.Context, query, mailboxID string) ([]model.Email, error) {
	userID, err := e.activeUser()
	if err != nil {
		return nil, err
	}
	query = sanitizeQuery(query)
	if query == "" {
		return nil, nil
	}
	emails, err := e.store.SearchEmails(ctx, store.SearchQuery{
		UserID:    userID,
		MailboxID: mailboxID,
		Text:      query,
		Limit:     maxSearchResults,
	})
	if err != nil {
		return nil, fmt.Errorf("searching cache: %w", err)
	}
	return emails, nil
}

// SyncMailboxes refreshes the cached folder list from the server.
func (e *Engine) SyncMailboxes(ctx context.Context, accountID string) error {
	userID, err := e.activeUser()
	if err != nil {
		return err
	}
	if accountID == "" {
		return &ValidationError{Field: "account_id", Message: "account id is required"}
	}
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	return e.refreshMailboxes(fetchCtx, userID, accountID)
}

// Mailboxes lists the cached folders for the active user.
func (e *Engine) Mailboxes(ctx context.Context) ([]model.Mailbox, error) {
	userID, err := e.activeUser()
	if err != nil {
		return nil, err
	}
	mailboxes, err := e.store.GetMailboxes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("reading mailboxes: %w", err)
	}
	return mailboxes, nil
}

func (e *Engine) refreshMailboxes(ctx context.Context, userID, accountID string) error {
	remote, err := e.client.FetchMailboxes(ctx, accountID)
	if err != nil {
		return fmt.Errorf("fetching mailboxes: %w", err)
	}
	now := time.Now().UTC()
	mailboxes := make([]model.Mailbox, 0, len(remote))
	for _, m := range remote {
		if m.ID == "" {
			return &ValidationError{Field: "id", Message: "server mailbox has no id"}
		}
		mailboxes = append(mailboxes, model.Mailbox{
			ID:           m.ID,
			UserID:       userID,
			Name:         m.Name,
			ParentID:     m.ParentID,
			Role:         m.Role,
			SortOrder:    m.SortOrder,
			TotalEmails:  m.TotalEmails,
			UnreadEmails: m.UnreadEmails,
			SyncedAt:     now,
		})
	}
	if err := e.store.UpsertMailboxes(ctx, mailboxes); err != nil {
		return fmt.Errorf("caching mailboxes: %w", err)
	}
	e.log.Info().Int("count", len(mailboxes)).Msg("mailbox list refreshed")
	return nil
}

// Thread returns a conversation, serving the cached row when present
// and fetching it once on a miss.
func (e *Engine) Thread(ctx context.Context, accountID, threadID string) (*model.Thread, error) {
	userID, err := e.activeUser()
	if err != nil {
		return nil, err
	}
	if threadID == "" {
		return nil, &ValidationError{Field: "thread_id", Message: "thread id is required"}
	}

	cached, err := e.store.GetThreadByID(ctx, userID, threadID)
	if err != nil {
		return nil, fmt.Errorf("reading cached thread: %w", err)
	}
	if cached != nil {
		return cached, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	remote, err := e.client.FetchThread(fetchCtx, accountID, threadID)
	if err != nil {
		return nil, fmt.Errorf("fetching thread %s: %w", threadID, err)
	}
	if remote == nil || remote.ID == "" {
		return nil, &ValidationError{Field: "id", Message: "server thread has no id"}
	}

	thread := model.Thread{
		ID:       remote.ID,
		UserID:   userID,
		EmailIDs: remote.EmailIDs,
		SyncedAt: time.Now().UTC(),
	}
	if err := e.store.UpsertThreads(ctx, []model.Thread{thread}); err != nil {
		return nil, fmt.Errorf("caching thread %s: %w", threadID, err)
	}
	return &thread, nil
}

// CacheBlob returns an attachment body, downloading and caching it on
// first access so repeat views are served locally.
func (e *Engine) CacheBlob(ctx context.Context, accountID string, att model.Attachment) (*model.Blob, error) {
	userID, err := e.activeUser()
	if err != nil {
		return nil, err
	}
	if att.BlobID == "" {
		return nil, &ValidationError{Field: "blob_id", Message: "blob id is required"}
	}

	cached, err := e.store.GetBlob(ctx, userID, att.BlobID)
	if err != nil {
		return nil, fmt.Errorf("reading cached blob: %w", err)
	}
	if cached != nil {
		return cached, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	data, err := e.client.DownloadBlob(fetchCtx, accountID, att.BlobID)
	if err != nil {
		return nil, fmt.Errorf("downloading blob %s: %w", att.BlobID, err)
	}

	blob := model.Blob{
		BlobID:   att.BlobID,
		UserID:   userID,
		Type:     att.Type,
		Name:     att.Name,
		Size:     int64(len(data)),
		Data:     data,
		SyncedAt: time.Now().UTC(),
	}
	if err := e.store.PutBlob(ctx, blob); err != nil {
		return nil, fmt.Errorf("caching blob %s: %w", att.BlobID, err)
	}
	return &blob, nil
}

// StartPushSync opens the server push channel and keeps the cache
// following it. Calling it again while a listener is running is a
// no-op.
func (e *Engine) StartPushSync(ctx context.Context, accountID string) error {
	userID, err := e.activeUser()
	if err != nil {
		return err
	}
	if accountID == "" {
		return &ValidationError{Field: "account_id", Message: "account id is required"}
	}

	e.mu.Lock()
	if e.push != nil {
		e.mu.Unlock()
		return nil
	}
	listener := newPushListener(
		e.client,
		func(changed map[string]map[string]string) {
			e.applyStateChange(userID, accountID, changed)
		},
		time.Duration(e.pushCfg.RetryDelaySec)*time.Second,
		time.Duration(e.pushCfg.IdleTimeoutSec)*time.Second,
		e.log,
	)
	e.push = listener
	listener.start(e.ctx)
	e.mu.Unlock()

	if err := e.tracker.Touch(ctx, userID); err != nil {
		e.log.Warn().Err(err).Str("user", userID).Msg("recording activity failed")
	}
	e.log.Info().Str("account", accountID).Msg("push sync started")
	return nil
}

// applyStateChange reacts to one push notification. A changed Mailbox
// state refreshes the folder list; a changed Email state pulls and
// applies the delta. Errors are logged and the listener keeps running.
func (e *Engine) applyStateChange(userID, accountID string, changed map[string]map[string]string) {
	states := changed[accountID]
	if len(states) == 0 {
		return
	}
	e.mu.Lock()
	active := e.userID
	e.mu.Unlock()
	if active != userID {
		return
	}

	ctx, cancel := context.WithTimeout(e.ctx, fetchTimeout)
	defer cancel()

	if states["Mailbox"] != "" {
		if err := e.refreshMailboxes(ctx, userID, accountID); err != nil {
			e.log.Warn().Err(err).Msg("mailbox refresh failed")
		}
	}
	if state := states["Email"]; state != "" {
		if err := e.applyEmailDelta(ctx, userID, accountID, state); err != nil {
			e.log.Warn().Err(err).Msg("incremental email sync failed")
		}
	}
}

// applyEmailDelta pulls Email changes since the last known collection
// state and applies them. Created and updated records pass through the
// same validation and sanitization as a full page sync; a malformed
// record rejects the whole round and leaves the stored state where it
// was.
func (e *Engine) applyEmailDelta(ctx context.Context, userID, accountID, newState string) error {
	known, err := e.store.GetSyncState(ctx, userID, accountID, "")
	if err != nil {
		return fmt.Errorf("reading account sync state: %w", err)
	}
	if known == nil || known.State == "" {
		e.log.Debug().Str("account", accountID).Msg("no known email state, skipping delta")
		return nil
	}
	if known.State == newState {
		return nil
	}

	since := known.State
	for round := 0; round < maxChangeRounds; round++ {
		changes, err := e.client.FetchEmailChanges(ctx, accountID, since)
		if err != nil {
			return fmt.Errorf("fetching email changes since %s: %w", since, err)
		}

		ids := make([]string, 0, len(changes.Created)+len(changes.Updated))
		ids = append(ids, changes.Created...)
		ids = append(ids, changes.Updated...)

		var upserts []model.Email
		if len(ids) > 0 {
			records, err := e.client.FetchEmailsByID(ctx, accountID, ids)
			if err != nil {
				return fmt.Errorf("fetching changed emails: %w", err)
			}
			now := time.Now().UTC()
			upserts = make([]model.Email, 0, len(records))
			for _, raw := range records {
				email, err := buildCachedEmail(raw, userID, now)
				if err != nil {
					return fmt.Errorf("rejecting email delta: %w", err)
				}
				upserts = append(upserts, email)
			}
		}

		err = e.store.ApplyEmailChanges(ctx, upserts, changes.Destroyed, model.SyncState{
			UserID:     userID,
			AccountID:  accountID,
			State:      changes.NewState,
			LastSyncAt: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("applying email changes: %w", err)
		}
		e.log.Info().
			Int("upserted", len(upserts)).
			Int("destroyed", len(changes.Destroyed)).
			Str("state", changes.NewState).
			Msg("email delta applied")

		if !changes.HasMoreChanges {
			return nil
		}
		since = changes.NewState
	}
	return fmt.Errorf("email delta for account %s did not converge", accountID)
}

// WipeUser removes every local trace of userID: the store partition
// (emails, mailboxes, threads, sync state, blobs, and the session row)
// and the keyring credential. The id must match the session tracker's
// current user; wiping anyone else fails with an IdentityError.
func (e *Engine) WipeUser(ctx context.Context, userID string) error {
	if !identity.Valid(userID) {
		return &ValidationError{Field: "user_id", Message: fmt.Sprintf("%q is not a valid user id", userID)}
	}

	current, err := e.tracker.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("verifying current user: %w", err)
	}
	if current == nil {
		return &IdentityError{Requested: userID}
	}
	if current.UserID != userID {
		return &IdentityError{Requested: userID, Active: current.UserID}
	}

	e.mu.Lock()
	var push *pushListener
	if e.userID == userID {
		push = e.push
		e.push = nil
		e.userID = identity.None
	}
	e.mu.Unlock()
	if push != nil {
		push.stop()
	}

	if err := e.store.DeleteUserData(ctx, userID); err != nil {
		return fmt.Errorf("wiping data for %s: %w", userID, err)
	}
	if e.credentials != nil {
		if err := e.credentials.DeleteSessionToken(userID); err != nil {
			return fmt.Errorf("removing credential for %s: %w", userID, err)
		}
	}
	e.log.Info().Str("user", userID).Msg("user data wiped")
	return nil
}

// Stop tears the engine down: the push listener disconnects, background
// refreshes are canceled and drained, and the active user is cleared.
// Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	push := e.push
	e.push = nil
	e.userID = identity.None
	e.mu.Unlock()

	e.cancel()
	if push != nil {
		push.stop()
	}
	e.refreshWG.Wait()
	e.log.Info().Msg("sync engine stopped")
}
