// Package session implements the Session Manager from spec §4.3 (C4):
// the client-role variant dials one upstream and reconnects with
// doubling backoff, the server-role variant accepts many connections,
// and both share connection bookkeeping, broadcast and shutdown.
//
// Grounded on the teacher's internal/ws.Hub (internal/ws/hub.go):
// a map of live connections guarded by one mutex, a fan-out broadcast
// path and a close-everything shutdown — generalized here to cover
// both the accept-many (server) and dial-one-with-retry (client)
// shapes spec §4.3 calls for.
package session

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"crowdlink/internal/connection"
	"crowdlink/internal/protocol"
)

// Role fixes whether a Manager dials out once or accepts many inbound
// connections.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

const defaultReconnectBaseDelay = time.Second

// ConnFactory wraps a freshly-accepted or freshly-dialed net.Conn into
// a *connection.Connection, already bound to the caller's request or
// response handler and auth config. The receiver and sender packages
// supply this so session stays free of protocol-dispatch concerns.
type ConnFactory func(net.Conn) *connection.Connection

// Manager owns a set of live Connections for one role.
type Manager struct {
	role        Role
	addr        string
	newConn     ConnFactory
	log         zerolog.Logger
	reconnectBase time.Duration

	mu    sync.RWMutex
	conns map[string]*connection.Connection

	listener net.Listener

	connectMu    sync.Mutex
	connectCbs   []func(*connection.Connection)

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	wg           sync.WaitGroup
}

// NewClientManager builds a Manager that dials addr once and
// reconnects with doubling backoff (starting at 1s, reset to 1s after
// any successful connection) until Shutdown is called.
func NewClientManager(addr string, factory ConnFactory, log zerolog.Logger) *Manager {
	return newManager(RoleClient, addr, factory, log)
}

// NewServerManager builds a Manager that listens on addr and accepts
// connections until Shutdown is called.
func NewServerManager(addr string, factory ConnFactory, log zerolog.Logger) *Manager {
	return newManager(RoleServer, addr, factory, log)
}

func newManager(role Role, addr string, factory ConnFactory, log zerolog.Logger) *Manager {
	return &Manager{
		role:          role,
		addr:          addr,
		newConn:       factory,
		log:           log,
		reconnectBase: defaultReconnectBaseDelay,
		conns:         make(map[string]*connection.Connection),
		shutdownCh:    make(chan struct{}),
	}
}

// AddConnectListener registers a callback fired for every connection
// that reaches OPEN under this manager, in addition to whatever
// OnOpen callback the caller's ConnFactory already attached.
func (m *Manager) AddConnectListener(fn func(*connection.Connection)) {
	if fn == nil {
		return
	}
	m.connectMu.Lock()
	m.connectCbs = append(m.connectCbs, fn)
	m.connectMu.Unlock()
}

func (m *Manager) runConnectListeners(c *connection.Connection) {
	m.connectMu.Lock()
	cbs := append([]func(*connection.Connection){}, m.connectCbs...)
	m.connectMu.Unlock()
	for _, cb := range cbs {
		cb(c)
	}
}

// Start begins accepting (server role) or dialing (client role). It
// returns once the listener is bound (server) or immediately after
// launching the dial loop (client); ongoing work happens in
// background goroutines until Shutdown.
func (m *Manager) Start() error {
	switch m.role {
	case RoleServer:
		return m.startServer()
	case RoleClient:
		m.wg.Add(1)
		go m.dialLoop()
		return nil
	default:
		return errors.New("session: unknown role")
	}
}

func (m *Manager) startServer() error {
	ln, err := net.Listen("tcp", m.addr)
	if err != nil {
		return err
	}
	m.listener = ln

	m.wg.Add(1)
	go m.acceptLoop(ln)
	return nil
}

func (m *Manager) acceptLoop(ln net.Listener) {
	defer m.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-m.shutdownCh:
				return
			default:
			}
			m.log.Warn().Err(err).Msg("accept failed")
			return
		}
		m.adopt(conn)
	}
}

func (m *Manager) dialLoop() {
	defer m.wg.Done()
	backoff := m.reconnectBase

	for {
		select {
		case <-m.shutdownCh:
			return
		default:
		}

		conn, err := net.Dial("tcp", m.addr)
		if err != nil {
			m.log.Warn().Err(err).Dur("retry_in", backoff).Msg("dial failed, retrying")
			select {
			case <-time.After(backoff):
			case <-m.shutdownCh:
				return
			}
			backoff *= 2
			continue
		}

		backoff = m.reconnectBase
		done := make(chan struct{})
		c := m.newConn(conn)
		c.OnClose(func(closed *connection.Connection, _ string) {
			m.unregister(closed)
			close(done)
		})
		m.register(c)
		c.Start()

		select {
		case <-done:
		case <-m.shutdownCh:
			c.Close("shutdown")
			return
		}
	}
}

func (m *Manager) adopt(conn net.Conn) {
	c := m.newConn(conn)
	c.OnClose(func(closed *connection.Connection, _ string) { m.unregister(closed) })
	m.register(c)
	c.Start()
}

func (m *Manager) register(c *connection.Connection) {
	m.mu.Lock()
	m.conns[c.ID()] = c
	m.mu.Unlock()
	c.OnOpen(m.runConnectListeners)
}

func (m *Manager) unregister(c *connection.Connection) {
	m.mu.Lock()
	delete(m.conns, c.ID())
	m.mu.Unlock()
}

// Connections returns a snapshot of every currently-tracked connection.
func (m *Manager) Connections() []*connection.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*connection.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out
}

// Sources returns the last-known Source for every open connection that
// has reported one via PLAYER_INFO.
func (m *Manager) Sources() []*protocol.Source {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*protocol.Source, 0, len(m.conns))
	for _, c := range m.conns {
		if s := c.Source(); s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Broadcast delivers resp to its bound origin if it has one, or to
// every open connection otherwise, aggregating per-connection write
// errors with errgroup (SPEC_FULL §2.1 A7).
func (m *Manager) Broadcast(resp *protocol.Response) error {
	if origin := resp.Origin(); origin != nil {
		return origin.Send(resp)
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, c := range m.Connections() {
		c := c
		if !c.IsOpen() {
			continue
		}
		g.Go(func() error {
			if err := c.Send(resp); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Shutdown closes the listener/dial loop and every tracked connection,
// then waits for background goroutines to exit.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		close(m.shutdownCh)
		if m.listener != nil {
			m.listener.Close()
		}
		var g errgroup.Group
		for _, c := range m.Connections() {
			c := c
			g.Go(func() error { c.Close("shutdown"); return nil })
		}
		_ = g.Wait()
	})
	m.wg.Wait()
}
