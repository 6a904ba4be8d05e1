package receiver

import (
	"net"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"crowdlink/internal/connection"
	"crowdlink/internal/protocol"
	"crowdlink/internal/session"
)

// Receiver wires together the request router (C5), the effect-status
// diff filter (C6) and a session.Manager to form the game-side half of
// the protocol (spec §2), in either TCP client or TCP server role.
type Receiver struct {
	Router *Router
	diff   *DiffFilter
	mgr    *session.Manager
	log    zerolog.Logger
}

// Config selects the TCP role and the shared-secret handshake.
type Config struct {
	Addr         string
	Password     string
	ServerRole   bool // true: accept connections; false: dial Addr
	AsyncWorkers int
	LoginLimiter *rate.Limiter
}

// New builds a Receiver. Call Start to begin listening/dialing.
func New(cfg Config, log zerolog.Logger) *Receiver {
	r := &Receiver{
		Router: NewRouter(cfg.AsyncWorkers, log),
		diff:   NewDiffFilter(),
		log:    log,
	}

	factory := func(conn net.Conn) *connection.Connection {
		c := connection.NewReceiverConnection(conn, r.Router, connection.AuthConfig{
			Password:     cfg.Password,
			LoginLimiter: cfg.LoginLimiter,
		}, log)
		c.OnClose(func(closed *connection.Connection, _ string) { r.diff.Forget(closed.ID()) })
		return c
	}

	if cfg.ServerRole {
		r.mgr = session.NewServerManager(cfg.Addr, factory, log)
	} else {
		r.mgr = session.NewClientManager(cfg.Addr, factory, log)
	}
	return r
}

// Start begins listening (server role) or dialing (client role).
func (r *Receiver) Start() error { return r.mgr.Start() }

// Shutdown closes every connection and stops accepting/dialing.
func (r *Receiver) Shutdown() {
	r.mgr.Shutdown()
	_ = r.Router.Wait()
}

// Connections exposes the underlying session manager's tracked set.
func (r *Receiver) Connections() []*connection.Connection { return r.mgr.Connections() }

// BroadcastStatus sends an EFFECT_STATUS update for ids to every open
// connection, filtering out ids that are a no-op for that particular
// connection (spec §4.5/C6).
func (r *Receiver) BroadcastStatus(result protocol.ResultType, ids []string) {
	for _, c := range r.mgr.Connections() {
		if !c.IsOpen() {
			continue
		}
		filtered := r.diff.Apply(c.ID(), result, ids)
		if len(filtered) == 0 {
			continue
		}
		resp := protocol.EffectStatus(result, filtered).WithOrigin(c)
		if err := c.Send(resp); err != nil {
			r.log.Debug().Err(err).Msg("failed to deliver status broadcast")
		}
	}
}

// Broadcast delivers an arbitrary response (e.g. a RemoteFunction
// call) unfiltered to every open connection, or to resp's bound origin
// if it has one.
func (r *Receiver) Broadcast(resp *protocol.Response) error {
	return r.mgr.Broadcast(resp)
}
