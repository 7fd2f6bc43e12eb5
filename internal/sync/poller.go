package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/nhle/mailcache/internal/jmap"
	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/internal/store"
)

// RefreshState represents the current state of one mailbox refresh loop.
type RefreshState int

const (
	RefreshIdle RefreshState = iota
	RefreshRunning
	RefreshError
)

// RefreshStatus holds the refresh state for a single tracked mailbox.
type RefreshStatus struct {
	AccountID string
	MailboxID string
	State     RefreshState
	LastRun   time.Time
	Err       error
}

// RefreshResult is emitted on the poller's result channel when one
// refresh completes.
type RefreshResult struct {
	AccountID string
	MailboxID string

	// Emails is the freshly cached page on success.
	Emails []model.Email

	// NewEmails counts messages on the page that were not cached before
	// this refresh.
	NewEmails int

	Err error

	// AuthExpired marks failures caused by rejected credentials, which
	// need the user to log in again rather than another retry.
	AuthExpired bool
}

// defaultPollInterval is used when the config does not set one.
const defaultPollInterval = 5 * time.Minute

// pollTarget is one mailbox the poller keeps fresh.
type pollTarget struct {
	accountID string
	mailboxID string
}

func (t pollTarget) key() string { return t.accountID + "/" + t.mailboxID }

// Poller periodically re-syncs tracked mailboxes through the engine.
// It is the fallback freshness mechanism for servers without a usable
// push channel, and complements push rather than replacing it: both
// paths converge on the same upsert semantics.
type Poller struct {
	engine   *Engine
	interval time.Duration
	targets  []pollTarget
	statuses map[string]*RefreshStatus
	triggers map[string]chan struct{}
	resultCh chan RefreshResult
	stopCh   chan struct{}
	mu       gosync.Mutex
	running  bool
}

// NewPoller creates a poller that refreshes each tracked mailbox every
// interval. A non-positive interval falls back to the default.
func NewPoller(engine *Engine, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		engine:   engine,
		interval: interval,
		statuses: make(map[string]*RefreshStatus),
		triggers: make(map[string]chan struct{}),
		resultCh: make(chan RefreshResult, 16),
		stopCh:   make(chan struct{}),
	}
}

// Track registers a mailbox for periodic refresh. Tracking must happen
// before Start.
func (p *Poller) Track(accountID, mailboxID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := pollTarget{accountID: accountID, mailboxID: mailboxID}
	p.targets = append(p.targets, t)
	p.statuses[t.key()] = &RefreshStatus{
		AccountID: accountID,
		MailboxID: mailboxID,
		State:     RefreshIdle,
	}
	// Capacity one collapses bursts of triggers into a single refresh.
	p.triggers[t.key()] = make(chan struct{}, 1)
}

// Start launches one refresh loop per tracked mailbox. Calling Start
// on a running poller is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	targets := make([]pollTarget, len(p.targets))
	copy(targets, p.targets)
	p.mu.Unlock()

	for _, t := range targets {
		go p.pollMailbox(t)
	}
}

// Stop halts all refresh loops. A stopped poller cannot be restarted;
// construct a new one instead.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	close(p.stopCh)
	p.running = false
}

// RefreshAll triggers an immediate refresh of every tracked mailbox.
func (p *Poller) RefreshAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, trigger := range p.triggers {
		select {
		case trigger <- struct{}{}:
		default:
			// A refresh is already pending.
		}
	}
}

// Refresh triggers an immediate refresh of a single mailbox. Unknown
// mailboxes are ignored.
func (p *Poller) Refresh(accountID, mailboxID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	trigger, ok := p.triggers[pollTarget{accountID: accountID, mailboxID: mailboxID}.key()]
	if !ok {
		return
	}
	select {
	case trigger <- struct{}{}:
	default:
	}
}

// Statuses returns the current refresh status of every tracked mailbox.
func (p *Poller) Statuses() []RefreshStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]RefreshStatus, 0, len(p.statuses))
	for _, s := range p.statuses {
		statuses = append(statuses, *s)
	}
	return statuses
}

// Results returns the channel refresh outcomes are delivered on.
// Results are dropped, not queued, when nobody is draining it.
func (p *Poller) Results() <-chan RefreshResult {
	return p.resultCh
}

// pollMailbox runs the refresh loop for a single mailbox.
func (p *Poller) pollMailbox(t pollTarget) {
	p.mu.Lock()
	trigger := p.triggers[t.key()]
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Do an initial refresh immediately.
	p.refreshOnce(t)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.refreshOnce(t)
		case <-trigger:
			p.refreshOnce(t)
		}
	}
}

// refreshOnce re-syncs the first page of one mailbox and reports the
// outcome. With no active user the cycle is skipped quietly.
func (p *Poller) refreshOnce(t pollTarget) {
	userID, err := p.engine.activeUser()
	if err != nil {
		return
	}

	p.setStatus(t, RefreshRunning, nil)

	ctx, cancel := context.WithTimeout(p.engine.ctx, fetchTimeout)
	defer cancel()

	// Snapshot the cached ids first so newly arrived messages can be
	// counted after the sync.
	existing, err := p.engine.store.GetEmails(ctx, store.EmailQuery{
		UserID:    userID,
		MailboxID: t.mailboxID,
		Limit:     1000,
	})
	if err != nil {
		p.setStatus(t, RefreshError, err)
		p.sendResult(RefreshResult{AccountID: t.accountID, MailboxID: t.mailboxID, Err: err})
		return
	}
	known := make(map[string]bool, len(existing))
	for _, e := range existing {
		known[e.ID] = true
	}

	result, err := p.engine.syncPage(ctx, userID, t.accountID, t.mailboxID, 0)
	if err != nil {
		p.setStatus(t, RefreshError, err)
		p.sendResult(RefreshResult{
			AccountID:   t.accountID,
			MailboxID:   t.mailboxID,
			Err:         err,
			AuthExpired: jmap.IsAuthError(err),
		})
		return
	}

	newCount := 0
	for _, e := range result.Emails {
		if !known[e.ID] {
			newCount++
		}
	}

	p.setStatus(t, RefreshIdle, nil)
	p.sendResult(RefreshResult{
		AccountID: t.accountID,
		MailboxID: t.mailboxID,
		Emails:    result.Emails,
		NewEmails: newCount,
	})
}

// setStatus updates the refresh status for one mailbox.
func (p *Poller) setStatus(t pollTarget, state RefreshState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.statuses[t.key()]
	if !ok {
		return
	}
	status.State = state
	status.Err = err
	if state == RefreshIdle && err == nil {
		status.LastRun = time.Now()
	}
}

// sendResult delivers a result without blocking the refresh loop.
func (p *Poller) sendResult(result RefreshResult) {
	select {
	case p.resultCh <- result:
	default:
		// Drop if nobody is listening.
	}
}
