package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nhle/mailcache/internal/jmap"
)

const (
	defaultRetryDelay  = 5 * time.Second
	defaultIdleTimeout = 90 * time.Second
)

// connState tracks where the listener is in its connection lifecycle.
type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateOpen
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	default:
		return "disconnected"
	}
}

// stateChangeHandler consumes the payload of one push state change.
type stateChangeHandler func(changed map[string]map[string]string)

// pushListener owns the server push connection. At any moment it holds
// at most one open stream and at most one armed reconnect timer; every
// drop is treated as transient and retried after a fixed delay until
// stop is called. A watchdog forces a reconnect when the stream goes
// quiet for longer than idleTimeout, since a dead TCP path can
// otherwise look identical to a silent server.
type pushListener struct {
	client      jmap.Client
	handle      stateChangeHandler
	log         zerolog.Logger
	retryDelay  time.Duration
	idleTimeout time.Duration

	mu         gosync.Mutex
	state      connState
	stream     jmap.PushStream
	retryTimer *time.Timer
	stopped    bool

	wg gosync.WaitGroup
}

func newPushListener(
	client jmap.Client,
	handle stateChangeHandler,
	retryDelay, idleTimeout time.Duration,
	logger zerolog.Logger,
) *pushListener {
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	return &pushListener{
		client:      client,
		handle:      handle,
		log:         logger.With().Str("component", "push").Logger(),
		retryDelay:  retryDelay,
		idleTimeout: idleTimeout,
	}
}

// start opens the first connection. Calling it on an already started
// or stopped listener is a no-op.
func (p *pushListener) start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.state != stateDisconnected || p.retryTimer != nil {
		return
	}
	p.connectLocked(ctx)
}

// connectLocked moves Disconnected to Connecting and launches the
// connection goroutine. The caller holds mu.
func (p *pushListener) connectLocked(ctx context.Context) {
	p.state = stateConnecting
	p.wg.Add(1)
	go p.run(ctx, uuid.New().String())
}

// run owns one connection attempt from dial to drop. Each attempt gets
// its own connection id so its log lines can be correlated.
func (p *pushListener) run(ctx context.Context, connID string) {
	defer p.wg.Done()
	log := p.log.With().Str("conn", connID).Logger()

	stream, err := p.client.OpenPushStream(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("push connect failed")
		p.onDisconnect(ctx)
		return
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		stream.Close()
		return
	}
	p.stream = stream
	p.state = stateOpen
	p.mu.Unlock()
	log.Info().Msg("push stream open")

	idle := time.NewTimer(p.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			stream.Close()
			p.mu.Lock()
			p.stream = nil
			p.state = stateDisconnected
			p.mu.Unlock()
			return

		case <-idle.C:
			log.Warn().Dur("idle", p.idleTimeout).Msg("push stream idle, forcing reconnect")
			// Closing the stream closes its event channel; the drop
			// branch below arms the reconnect.
			stream.Close()

		case ev, ok := <-stream.Events():
			if !ok {
				if err := stream.Err(); err != nil {
					log.Warn().Err(err).Msg("push stream dropped")
				} else {
					log.Info().Msg("push stream closed")
				}
				p.onDisconnect(ctx)
				return
			}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.idleTimeout)

			switch ev.Type {
			case jmap.PushOpened:
				log.Debug().Msg("push handshake complete")
			case jmap.PushPing:
				// Keepalive; only feeds the watchdog.
			case jmap.PushStateChange:
				p.handle(ev.Changed)
			}
		}
	}
}

// onDisconnect records the drop and arms the reconnect timer. The
// retryTimer check keeps a single timer armed no matter how many paths
// report the same drop.
func (p *pushListener) onDisconnect(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stream = nil
	p.state = stateDisconnected
	if p.stopped || ctx.Err() != nil {
		return
	}
	if p.retryTimer != nil {
		return
	}
	p.retryTimer = time.AfterFunc(p.retryDelay, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.retryTimer = nil
		if p.stopped || ctx.Err() != nil || p.state != stateDisconnected {
			return
		}
		p.connectLocked(ctx)
	})
}

// stop closes the connection and prevents any further reconnect.
// Idempotent.
func (p *pushListener) stop() {
	p.mu.Lock()
	p.stopped = true
	if p.retryTimer != nil {
		p.retryTimer.Stop()
		p.retryTimer = nil
	}
	stream := p.stream
	p.stream = nil
	p.state = stateDisconnected
	p.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	p.wg.Wait()
}

func (p *pushListener) currentState() connState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
