// Package connection implements the per-socket state machine from
// spec §4.2 (C3): the CONNECTING/AUTHENTICATING/OPEN/CLOSING/CLOSED
// lifecycle shared by both the receiver and the sender, built on the
// teacher's atomic-state/callback-list idiom (internal/ws.Client).
package connection

import (
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"crowdlink/internal/codec"
	"crowdlink/internal/protocol"
	"crowdlink/internal/protoerr"
)

const (
	sendBufferSize            = 64
	defaultLoginTimeout       = 10 * time.Second
	maxDroppedBeforeDisconnect = 32
)

// Side fixes which wire direction a Connection speaks: a receiver
// decodes Requests and encodes Responses; a sender does the reverse.
type Side int

const (
	SideReceiver Side = iota
	SideSender
)

// RequestHandler dispatches a decoded Request on a receiver-side
// connection (implemented by the request router, C5).
type RequestHandler interface {
	HandleRequest(c *Connection, req *protocol.Request)
}

// ResponseHandler dispatches a decoded Response on a sender-side
// connection (implemented by the request tracker, C7).
type ResponseHandler interface {
	HandleResponse(c *Connection, resp *protocol.Response)
}

// AuthConfig configures the LOGIN handshake for one Connection.
type AuthConfig struct {
	// Password is, on the receiver side, the secret incoming
	// connections must present; on the sender side, the secret this
	// connection will present when challenged. Empty disables the
	// challenge on the receiver side, and fails the handshake on the
	// sender side if a challenge arrives.
	Password string

	// LoginTimeout bounds how long AUTHENTICATING may last before the
	// connection is force-closed. Zero uses defaultLoginTimeout.
	LoginTimeout time.Duration

	// LoginLimiter throttles login attempts accepted on the receiver
	// side (spec addendum §4.9). Nil disables throttling.
	LoginLimiter *rate.Limiter
}

// Connection wraps one net.Conn with the shared lifecycle, a single
// writer goroutine and a single reader goroutine.
type Connection struct {
	id    string
	side  Side
	conn  net.Conn
	codec *codec.Codec
	auth  AuthConfig
	log   zerolog.Logger

	requestHandler  RequestHandler
	responseHandler ResponseHandler

	send          chan any
	sendCloseOnce sync.Once
	connCloseOnce sync.Once

	state atomic.Int32

	loginMu    sync.Mutex
	loginTimer *time.Timer

	callbackMu      sync.Mutex
	openCallbacks   []func(*Connection)
	closeCallbacks  []func(*Connection, string)
	openFired       bool
	closeFired      bool
	lastCloseReason string

	sourceMu sync.RWMutex
	source   *protocol.Source

	droppedMessages atomic.Int64
}

func newConnection(conn net.Conn, side Side, auth AuthConfig, log zerolog.Logger) *Connection {
	if auth.LoginTimeout <= 0 {
		auth.LoginTimeout = defaultLoginTimeout
	}
	id := uuid.New().String()
	c := &Connection{
		id:    id,
		side:  side,
		conn:  conn,
		codec: codec.New(conn),
		auth:  auth,
		log:   log.With().Str("conn_id", id).Logger(),
		send:  make(chan any, sendBufferSize),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// NewReceiverConnection builds a Connection that decodes Requests and
// encodes Responses (the game side of the protocol, spec §2).
func NewReceiverConnection(conn net.Conn, handler RequestHandler, auth AuthConfig, log zerolog.Logger) *Connection {
	c := newConnection(conn, SideReceiver, auth, log)
	c.requestHandler = handler
	return c
}

// NewSenderConnection builds a Connection that decodes Responses and
// encodes Requests (the counterparty side of the protocol, spec §2).
func NewSenderConnection(conn net.Conn, handler ResponseHandler, auth AuthConfig, log zerolog.Logger) *Connection {
	c := newConnection(conn, SideSender, auth, log)
	c.responseHandler = handler
	return c
}

// ID satisfies protocol.ReplyTarget.
func (c *Connection) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// IsOpen reports whether the handshake has completed.
func (c *Connection) IsOpen() bool { return c.State() == StateOpen }

// IsClosed reports whether the connection is closing or closed.
func (c *Connection) IsClosed() bool {
	s := c.State()
	return s == StateClosing || s == StateClosed
}

// RemoteAddr exposes the underlying socket's peer address.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Source returns the last PLAYER_INFO payload received, if any.
func (c *Connection) Source() *protocol.Source {
	c.sourceMu.RLock()
	defer c.sourceMu.RUnlock()
	return c.source
}

func (c *Connection) setSource(s *protocol.Source) {
	c.sourceMu.Lock()
	c.source = s
	c.sourceMu.Unlock()
}

// OnOpen registers a callback fired once the connection reaches OPEN.
// If it is already open, callback runs inline.
func (c *Connection) OnOpen(callback func(*Connection)) {
	if callback == nil {
		return
	}
	c.callbackMu.Lock()
	if c.openFired {
		c.callbackMu.Unlock()
		callback(c)
		return
	}
	c.openCallbacks = append(c.openCallbacks, callback)
	c.callbackMu.Unlock()
}

// OnClose registers a callback fired once the connection reaches
// CLOSED, with the reason passed to Close.
func (c *Connection) OnClose(callback func(*Connection, string)) {
	if callback == nil {
		return
	}
	c.callbackMu.Lock()
	if c.closeFired {
		c.callbackMu.Unlock()
		callback(c, c.lastCloseReason)
		return
	}
	c.closeCallbacks = append(c.closeCallbacks, callback)
	c.callbackMu.Unlock()
}

func (c *Connection) transitionTo(next State) bool {
	for {
		cur := State(c.state.Load())
		if !isValidTransition(cur, next) {
			return false
		}
		if c.state.CompareAndSwap(int32(cur), int32(next)) {
			return true
		}
	}
}

func (c *Connection) runOpenCallbacks() {
	c.callbackMu.Lock()
	if c.openFired {
		c.callbackMu.Unlock()
		return
	}
	c.openFired = true
	cbs := append([]func(*Connection){}, c.openCallbacks...)
	c.openCallbacks = nil
	c.callbackMu.Unlock()
	for _, cb := range cbs {
		cb(c)
	}
}

func (c *Connection) runCloseCallbacks(reason string) {
	c.callbackMu.Lock()
	if c.closeFired {
		c.callbackMu.Unlock()
		return
	}
	c.closeFired = true
	c.lastCloseReason = reason
	cbs := append([]func(*Connection, string){}, c.closeCallbacks...)
	c.closeCallbacks = nil
	c.callbackMu.Unlock()
	for _, cb := range cbs {
		cb(c, reason)
	}
}

// Start launches the read and write pumps. It does not block.
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()

	if c.side == SideReceiver {
		c.beginReceiverAuth()
	}
	c.armLoginTimeout()
}

func (c *Connection) armLoginTimeout() {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	c.loginTimer = time.AfterFunc(c.auth.LoginTimeout, func() {
		if c.State() == StateAuthenticating || c.State() == StateConnecting {
			c.Close("login timed out")
		}
	})
}

func (c *Connection) disarmLoginTimeout() {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if c.loginTimer != nil {
		c.loginTimer.Stop()
		c.loginTimer = nil
	}
}

func (c *Connection) beginReceiverAuth() {
	c.transitionTo(StateAuthenticating)
	if c.auth.Password == "" {
		c.completeOpen()
		return
	}
	c.enqueue(protocol.LoginChallenge())
}

func (c *Connection) completeOpen() {
	c.disarmLoginTimeout()
	if !c.transitionTo(StateOpen) {
		return
	}
	if c.side == SideReceiver {
		c.enqueue(protocol.LoginSuccess())
	}
	c.runOpenCallbacks()
}

// Send queues a Response for delivery; it implements
// protocol.ReplyTarget so handlers can reply without importing this
// package. Only meaningful on a receiver-side connection.
func (c *Connection) Send(resp *protocol.Response) error {
	if c.side != SideReceiver {
		return protoerr.New(protoerr.KindIllegalState, "connection.Send", errors.New("not a receiver connection"))
	}
	return c.enqueueChecked(resp)
}

// SendRequest queues a Request for delivery on a sender-side
// connection.
func (c *Connection) SendRequest(req *protocol.Request) error {
	if c.side != SideSender {
		return protoerr.New(protoerr.KindIllegalState, "connection.SendRequest", errors.New("not a sender connection"))
	}
	return c.enqueueChecked(req)
}

func (c *Connection) enqueueChecked(msg any) error {
	if c.IsClosed() {
		return protoerr.New(protoerr.KindIllegalState, "connection.enqueue", errors.New("connection closed"))
	}
	c.enqueue(msg)
	return nil
}

// enqueue is best-effort: a full buffer means a stalled peer, so the
// frame is dropped and counted rather than blocking the caller,
// mirroring the teacher's trySend drop-counter.
func (c *Connection) enqueue(msg any) {
	defer func() {
		_ = recover() // send on a closed channel during a Close race
	}()
	select {
	case c.send <- msg:
	default:
		n := c.droppedMessages.Add(1)
		c.log.Warn().Int64("dropped_total", n).Msg("outbound buffer full, dropping frame")
		if n >= maxDroppedBeforeDisconnect {
			go c.Close("too many dropped messages")
		}
	}
}

func (c *Connection) writePump() {
	for msg := range c.send {
		if err := c.codec.WriteFrame(msg); err != nil {
			c.log.Debug().Err(err).Msg("write failed")
			go c.Close("write error")
			return
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Close("connection closed")
	}()

	for {
		switch c.side {
		case SideReceiver:
			if !c.readOneRequest() {
				return
			}
		case SideSender:
			if !c.readOneResponse() {
				return
			}
		}
	}
}

// readOneRequest returns false when the read loop should stop.
func (c *Connection) readOneRequest() bool {
	req, err := c.codec.ReadRequest()
	if err != nil {
		return c.handleReadError(err)
	}
	if err := req.Validate(); err != nil {
		c.log.Warn().Err(err).Msg("dropping invalid request")
		return true
	}

	switch c.State() {
	case StateAuthenticating:
		c.handleLoginAttempt(req)
		return true
	case StateConnecting:
		return true
	}

	switch req.Type {
	case protocol.RequestKeepAlive:
		c.enqueue(protocol.KeepAlive())
	case protocol.RequestPlayerInfo:
		if req.Source != nil {
			c.setSource(req.Source)
		}
	default:
		if c.requestHandler != nil {
			c.requestHandler.HandleRequest(c, req)
		}
	}
	return true
}

func (c *Connection) handleLoginAttempt(req *protocol.Request) {
	if req.Type != protocol.RequestLogin {
		c.log.Debug().Stringer("type", req.Type).Msg("ignoring packet before authentication")
		return
	}
	if c.auth.LoginLimiter != nil && !c.auth.LoginLimiter.Allow() {
		c.Close("too many login attempts")
		return
	}
	if !passwordMatches(c.auth.Password, req.Password) {
		c.enqueue(protocol.Disconnect("Invalid password"))
		go c.Close("invalid password")
		return
	}
	c.completeOpen()
}

// passwordMatches compares the SHA-512 hex digest of want against got,
// case-insensitively, per spec §4.2.
func passwordMatches(want, got string) bool {
	if want == "" {
		return true
	}
	sum := sha512.Sum512([]byte(want))
	expected := hex.EncodeToString(sum[:])
	return strings.EqualFold(expected, got)
}

// readOneResponse returns false when the read loop should stop.
func (c *Connection) readOneResponse() bool {
	resp, err := c.codec.ReadResponse()
	if err != nil {
		return c.handleReadError(err)
	}
	if err := resp.Validate(); err != nil {
		c.log.Warn().Err(err).Msg("dropping invalid response")
		return true
	}

	if c.State() != StateOpen {
		return c.handleSenderHandshake(resp)
	}

	switch resp.PacketType {
	case protocol.PacketDisconnect:
		go c.Close(resp.Message)
		return false
	default:
		if c.responseHandler != nil {
			c.responseHandler.HandleResponse(c, resp)
		}
	}
	return true
}

func (c *Connection) handleSenderHandshake(resp *protocol.Response) bool {
	switch resp.PacketType {
	case protocol.PacketLogin:
		if c.auth.Password == "" {
			c.log.Error().Msg("login challenge received but no password configured")
			go c.Close("login challenge with no password configured")
			return false
		}
		c.transitionTo(StateAuthenticating)
		sum := sha512.Sum512([]byte(c.auth.Password))
		digest := hex.EncodeToString(sum[:])
		c.enqueue(&protocol.Request{Type: protocol.RequestLogin, Password: digest})
		return true
	case protocol.PacketLoginSuccess:
		c.completeOpen()
		return true
	case protocol.PacketDisconnect:
		go c.Close(resp.Message)
		return false
	default:
		c.log.Warn().Stringer("type", resp.PacketType).Msg("unexpected packet before authentication")
		return true
	}
}

func (c *Connection) handleReadError(err error) bool {
	if errors.Is(err, codec.ErrPeerClosed) {
		return false
	}
	if errors.Is(err, codec.ErrNoPacket) {
		return false
	}
	var decodeErr *codec.DecodeError
	if errors.As(err, &decodeErr) {
		c.log.Warn().Err(err).Msg("malformed packet, continuing")
		return true
	}
	c.log.Debug().Err(err).Msg("read failed")
	return false
}

// Close begins (or no-ops on top of) a graceful shutdown, recording
// reason for OnClose observers. Safe to call multiple times and from
// multiple goroutines.
func (c *Connection) Close(reason string) {
	c.disarmLoginTimeout()

	if !c.transitionTo(StateClosing) {
		c.connCloseOnce.Do(func() { c.conn.Close() })
		return
	}
	c.sendCloseOnce.Do(func() { close(c.send) })
	c.connCloseOnce.Do(func() { c.conn.Close() })
	c.transitionTo(StateClosed)
	c.runCloseCallbacks(reason)
}
