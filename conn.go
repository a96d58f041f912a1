package waweb

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/waforge/waweb/eventbus"
	"github.com/waforge/waweb/keyedmutex"
	"github.com/waforge/waweb/pkg/logger"
	"github.com/waforge/waweb/wire"
)

// ConnectionState is the lifecycle state of a Conn.
type ConnectionState int32

const (
	StateClosed ConnectionState = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s ConnectionState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event topics published by the connection engine.
const (
	TopicOpen        = "open"
	TopicClose       = "close"
	TopicWSClose     = "ws-close"
	TopicPhoneChange = "connection-phone-change"
)

// TagTopic returns the topic on which unclaimed replies for tag are
// republished.
func TagTopic(tag string) string { return "TAG:" + tag }

// CloseEvent is the payload of TopicClose.
type CloseEvent struct {
	Reason         Reason
	IsReconnecting bool
}

// WSCloseEvent is the payload of TopicWSClose.
type WSCloseEvent struct {
	Reason Reason
}

// PhoneChangeEvent is the payload of TopicPhoneChange.
type PhoneChangeEvent struct {
	Connected bool
}

// socket is the subset of the WebSocket connection the engine uses. It is
// narrow so tests can substitute an in-memory transport.
type socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type dialFunc func(ctx context.Context, endpoint string, header http.Header) (socket, error)

func gorillaDial(ctx context.Context, endpoint string, header http.Header) (socket, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	ws, _, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}
	return ws, nil
}

// Conn is the authenticated, framed, request/response transport between the
// application and the WhatsApp Web server. Higher-level modules consume its
// Query primitive and event bus.
type Conn struct {
	opts     Options
	log      logger.Logger
	bus      *eventbus.Bus
	corr     *correlator
	jidLocks *keyedmutex.Map
	msgLog   *messageLog
	dial     dialFunc

	mu              sync.Mutex
	state           ConnectionState
	ws              socket
	gen             int
	tagger          *wire.Tagger
	auth            *AuthInfo
	retries         int
	openWaiters     []chan error
	reconnectTimer  *time.Timer
	idleTimer       *time.Timer
	keepAliveCancel func()
	phoneConnected  bool
	probeStop       chan struct{}
	probeTag        string
}

// New creates a Conn in the closed state.
func New(opts Options) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		opts:     opts,
		log:      opts.Logger,
		bus:      eventbus.New(),
		jidLocks: keyedmutex.New(),
		dial:     gorillaDial,
		tagger:   wire.NewTagger(),
		state:    StateClosed,
	}
	c.corr = newCorrelator(c.bus, c.log)
	c.corr.onPhoneWaiters = c.setPhoneProbe
	if opts.MaxCachedMessages > 0 {
		c.msgLog = newMessageLog(opts.MaxCachedMessages)
	}
	initMetrics()
	return c
}

// Events returns the connection's event bus.
func (c *Conn) Events() *eventbus.Bus { return c.bus }

// Config returns the options the connection was created with.
func (c *Conn) Config() Options { return c.opts }

// State returns the current connection state.
func (c *Conn) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LoadAuthInfo installs credentials for the envelope and handshake.
func (c *Conn) LoadAuthInfo(a *AuthInfo) {
	c.mu.Lock()
	c.auth = a
	c.mu.Unlock()
}

// AuthInfo returns the currently loaded credentials, or nil.
func (c *Conn) AuthInfo() *AuthInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth
}

func (c *Conn) authSnapshot() *AuthInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth
}

func (c *Conn) clearAuthInfo() {
	c.mu.Lock()
	c.auth = nil
	c.mu.Unlock()
}

// RegisterKeepAlive hands the engine the cancel function of the externally
// owned keep-alive loop; it is invoked once, on the next close.
func (c *Conn) RegisterKeepAlive(cancel func()) {
	c.mu.Lock()
	c.keepAliveCancel = cancel
	c.mu.Unlock()
}

// PhoneConnected reports the last observed phone reachability.
func (c *Conn) PhoneConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phoneConnected
}

func (c *Conn) currentTagger() *wire.Tagger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tagger
}

// Connect dials the endpoint, runs the handshake hook, and moves the
// connection to open.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateClosed {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()

	c.log.Debugf("connecting to %s", c.opts.Endpoint)
	ws, err := c.dial(ctx, c.opts.Endpoint, http.Header{"Origin": []string{c.opts.Origin}})
	if err != nil {
		return c.connectFailed(err)
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Closed while dialing.
		c.mu.Unlock()
		_ = ws.Close()
		return ErrIntentional
	}
	c.ws = ws
	c.gen++
	gen := c.gen
	c.tagger = wire.NewTagger()
	c.phoneConnected = false
	c.mu.Unlock()

	go c.readLoop(ws, gen)

	if hs := c.opts.Handshake; hs != nil {
		if err := hs(ctx, c); err != nil {
			c.log.Warnf("handshake failed: %v", err)
			c.mu.Lock()
			if c.state == StateConnecting {
				c.state = StateClosing
			}
			c.mu.Unlock()
			c.closeInternal(ReasonClose, c.decideReconnect(ReasonClose))
			return fmt.Errorf("handshake failed: %w", err)
		}
	}

	c.socketOpen()
	return nil
}

// connectFailed handles a dial error: the socket never opened, so this is
// the connecting -> closed transition.
func (c *Conn) connectFailed(err error) error {
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	isReconnecting := false
	if c.decideReconnect(ReasonClose) {
		isReconnecting = c.scheduleReconnect()
	}
	c.bus.Publish(TopicClose, CloseEvent{Reason: ReasonClose, IsReconnecting: isReconnecting})
	return err
}

func (c *Conn) socketOpen() {
	c.mu.Lock()
	c.state = StateOpen
	c.retries = 0
	waiters := c.openWaiters
	c.openWaiters = nil
	c.mu.Unlock()

	c.log.Infof("connection open")
	c.bus.Publish(TopicOpen, nil)
	for _, ch := range waiters {
		ch <- nil
	}
}

// Close shuts the connection down intentionally. Pending requests reject;
// no reconnect is scheduled.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateClosing {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosing
	c.mu.Unlock()

	c.closeInternal(ReasonIntentional, false)
	return nil
}

// Logout tells the server to drop the session, clears the credentials, and
// closes the connection.
func (c *Conn) Logout(ctx context.Context) error {
	c.mu.Lock()
	wasOpen := c.state == StateOpen
	if c.state == StateOpen || c.state == StateConnecting {
		c.state = StateClosing
	}
	c.mu.Unlock()

	if wasOpen {
		if err := c.sendJSONWithTag("goodbye", []any{"admin", "Conn", "disconnect"}); err != nil {
			c.log.Warnf("logout frame not sent: %v", err)
		}
	}
	c.clearAuthInfo()
	c.closeInternal(ReasonIntentional, false)
	return nil
}

// unexpectedDisconnect drives the open -> closed transition for server- or
// timer-initiated failures and applies the reconnect policy.
func (c *Conn) unexpectedDisconnect(r Reason) {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	c.mu.Unlock()

	c.closeInternal(r, c.decideReconnect(r))
}

// socketClosed is invoked by the read loop when the transport fails. Stale
// generations (already replaced or closed sockets) are ignored.
func (c *Conn) socketClosed(gen int, err error) {
	c.mu.Lock()
	if gen != c.gen || c.state == StateClosed || c.state == StateClosing {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	c.mu.Unlock()

	c.log.Warnf("socket closed: %v", err)
	c.closeInternal(ReasonClose, c.decideReconnect(ReasonClose))
}

// closeInternal releases the socket and all timers, rejects every pending
// request, rejects WaitForConnection callers when the close is terminal
// (invalid session or intentional), publishes ws-close and close, and
// optionally schedules a reconnect.
func (c *Conn) closeInternal(r Reason, willReconnect bool) {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.gen++
	c.state = StateClosed
	c.phoneConnected = false
	c.probeTag = ""
	probe := c.probeStop
	c.probeStop = nil
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	ka := c.keepAliveCancel
	c.keepAliveCancel = nil
	if r == ReasonInvalidSession {
		c.auth = nil
	}
	terminal := r == ReasonInvalidSession || r == ReasonIntentional
	var waiters []chan error
	if terminal {
		waiters = c.openWaiters
		c.openWaiters = nil
	}
	c.mu.Unlock()

	if ws != nil {
		_ = ws.Close()
	}
	if ka != nil {
		ka()
	}
	if probe != nil {
		close(probe)
	}

	werr := reasonError(r)
	c.corr.failAll(werr)
	for _, ch := range waiters {
		ch <- werr
	}

	c.bus.Publish(TopicWSClose, WSCloseEvent{Reason: r})

	isReconnecting := false
	if willReconnect {
		isReconnecting = c.scheduleReconnect()
	}
	c.log.Infof("connection closed: %s (reconnecting=%v)", r, isReconnecting)
	c.bus.Publish(TopicClose, CloseEvent{Reason: r, IsReconnecting: isReconnecting})
}

func (c *Conn) decideReconnect(r Reason) bool {
	switch c.opts.AutoReconnect {
	case ReconnectOnAllErrors:
		return r != ReasonInvalidSession
	case ReconnectOnConnectionLost:
		return r != ReasonInvalidSession && r != ReasonReplaced
	default:
		return false
	}
}

// scheduleReconnect arms a Connect after the cooldown, bounded by
// MaxRetries. Returns whether an attempt was scheduled.
func (c *Conn) scheduleReconnect() bool {
	c.mu.Lock()
	c.retries++
	if c.opts.MaxRetries > 0 && c.retries > c.opts.MaxRetries {
		c.mu.Unlock()
		c.log.Warnf("giving up after %d reconnect attempts", c.opts.MaxRetries)
		return false
	}
	attempt := c.retries
	c.reconnectTimer = time.AfterFunc(c.opts.ConnectCooldown, func() {
		if err := c.Connect(context.Background()); err != nil {
			c.log.Warnf("reconnect attempt %d failed: %v", attempt, err)
		}
	})
	c.mu.Unlock()

	mReconnects.Inc()
	return true
}

// WaitForConnection blocks until the connection is open. It rejects
// immediately when the connection closed for good (invalid session or an
// intentional close) and honors PendingRequestTimeout.
func (c *Conn) WaitForConnection(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	pt := c.opts.PendingRequestTimeout
	if pt != nil && *pt <= 0 {
		c.mu.Unlock()
		return &CloseError{Code: 428, Reason: ReasonClose}
	}
	ch := make(chan error, 1)
	c.openWaiters = append(c.openWaiters, ch)
	c.mu.Unlock()

	var deadline <-chan time.Time
	if pt != nil {
		timer := time.NewTimer(*pt)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-deadline:
		return ErrTimeout
	}
}
