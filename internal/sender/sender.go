package sender

import (
	"context"
	"net"

	"github.com/rs/zerolog"

	"crowdlink/internal/connection"
	"crowdlink/internal/protocol"
	"crowdlink/internal/session"
)

// Sender wires the Request Tracker (C7) to a session.Manager, forming
// the counterparty half of the protocol (spec §2), in either TCP
// client or TCP server role.
type Sender struct {
	Tracker *Tracker
	mgr     *session.Manager
}

// Options selects the TCP role and the shared-secret handshake this
// connection presents when the receiver side challenges it. Kept
// separate from Tracker's Config (the request-lifecycle timing knobs)
// since the two are orthogonal.
type Options struct {
	Addr       string
	Password   string
	ServerRole bool
}

// NewSender builds a Sender. Call Start to begin dialing/listening.
func NewSender(opts Options, trackerCfg Config, log zerolog.Logger) *Sender {
	tr := New(trackerCfg, log)
	s := &Sender{Tracker: tr}

	factory := func(conn net.Conn) *connection.Connection {
		c := connection.NewSenderConnection(conn, tr, connection.AuthConfig{
			Password: opts.Password,
		}, log)
		c.OnOpen(func(opened *connection.Connection) { tr.SetConnection(opened) })
		c.OnClose(func(*connection.Connection, string) { tr.SetConnection(nil) })
		return c
	}

	if opts.ServerRole {
		s.mgr = session.NewServerManager(opts.Addr, factory, log)
	} else {
		s.mgr = session.NewClientManager(opts.Addr, factory, log)
	}
	return s
}

// Start begins listening (server role) or dialing (client role).
func (s *Sender) Start() error { return s.mgr.Start() }

// Shutdown closes every connection, stops accepting/dialing and drains
// the tracker.
func (s *Sender) Shutdown() {
	s.mgr.Shutdown()
	s.Tracker.Shutdown()
}

// Send issues an effect request through the active connection.
func (s *Sender) Send(ctx context.Context, req *protocol.Request) (<-chan *protocol.Response, error) {
	return s.Tracker.Send(ctx, req)
}

// Connections exposes the underlying session manager's tracked set.
func (s *Sender) Connections() []*connection.Connection { return s.mgr.Connections() }
