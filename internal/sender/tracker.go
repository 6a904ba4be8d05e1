// Package sender implements the Request Tracker (C7): the
// counterparty side of the protocol that issues effect requests and
// follows their response lifecycle (pending -> running/paused/resumed
// -> finished/retry/unavailable) per spec §4.6.
//
// Grounded on the teacher's scheduleAuthExpiry/handleAuthExpired pair
// (internal/ws/client.go): a version-counter guarded *time.Timer so a
// stale timer firing after the state it was armed for has already
// changed is a safe no-op, reused here for both the initial-response
// timeout and the synthetic-completion timer of a timed effect.
package sender

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"crowdlink/internal/connection"
	"crowdlink/internal/protocol"
	"crowdlink/internal/protoerr"
)

const (
	defaultInitialResponseTimeout = 15 * time.Second
	defaultMaxRetries             = 7
	defaultShutdownDrain          = 2 * time.Second
	responseBufferSize            = 8
)

// durationOf returns 0 for an unset TimeRemaining rather than
// requiring every caller to nil-check the pointer.
func durationOf(d *time.Duration) time.Duration {
	if d == nil {
		return 0
	}
	return *d
}

// Config tunes the tracker's timing, resolving spec §9's Open Question
// on RETRY cap/timeout configurability.
type Config struct {
	// InitialResponseTimeout bounds how long a request may wait for its
	// first response before it is treated as EFFECT_RESULT/UNAVAILABLE.
	InitialResponseTimeout time.Duration
	// MaxRetries caps automatic RETRY-driven resends; the 8th RETRY
	// (retryCount > MaxRetries) is delivered to the caller but not
	// auto-resent.
	MaxRetries int
	// ShutdownDrain bounds how long Shutdown waits for in-flight
	// requests to reach a terminating response before force-closing
	// their channels.
	ShutdownDrain time.Duration
}

func (c *Config) setDefaults() {
	if c.InitialResponseTimeout <= 0 {
		c.InitialResponseTimeout = defaultInitialResponseTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.ShutdownDrain <= 0 {
		c.ShutdownDrain = defaultShutdownDrain
	}
}

// requestState is one outstanding request's lifecycle bookkeeping.
type requestState struct {
	id        int64
	effect    string
	req       *protocol.Request
	responses chan *protocol.Response

	mu             sync.Mutex
	version        uint64
	retryCount     int
	paused         bool
	timeRemaining  time.Duration
	remainingAt    time.Time
	initialTimer   *time.Timer
	completeTimer  *time.Timer
	done           bool
}

// Tracker assigns request ids, tracks their response lifecycle and
// exposes a per-effect availability cache (spec §4.6's effectAvailable
// TriState map).
type Tracker struct {
	cfg Config
	log zerolog.Logger

	nextID atomic.Int64

	connMu sync.RWMutex
	conn   *connection.Connection

	pendingMu sync.Mutex
	pending   map[int64]*requestState

	availability sync.Map // effect string -> protocol.TriState
}

// New builds a Tracker. Call SetConnection once a session.Manager
// reports a connection as open.
func New(cfg Config, log zerolog.Logger) *Tracker {
	cfg.setDefaults()
	return &Tracker{
		cfg:     cfg,
		log:     log,
		pending: make(map[int64]*requestState),
	}
}

// SetConnection binds the connection requests are sent on. Pass nil
// when the connection drops; in-flight requests are left pending so a
// reconnect can still deliver late responses for them, but Send will
// reject new effect-type requests until a connection is set again.
func (t *Tracker) SetConnection(c *connection.Connection) {
	t.connMu.Lock()
	t.conn = c
	t.connMu.Unlock()
}

func (t *Tracker) activeConn() *connection.Connection {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	return t.conn
}

// EffectAvailable reports the last known availability of effect, or
// TriUnknown if no response has ever been observed for it.
func (t *Tracker) EffectAvailable(effect string) protocol.TriState {
	v, ok := t.availability.Load(protocol.NormalizeEffect(effect))
	if !ok {
		return protocol.TriUnknown
	}
	return v.(protocol.TriState)
}

// Send assigns an id, registers the request's response stream and
// delivers it on the active connection. The returned channel receives
// every response for this request and is closed once a terminating
// response (or the initial-response timeout) is reached.
func (t *Tracker) Send(ctx context.Context, req *protocol.Request) (<-chan *protocol.Response, error) {
	conn := t.activeConn()
	if req.Type.IsEffectType() {
		if t.EffectAvailable(req.Effect) == protocol.TriFalse {
			return nil, protoerr.New(protoerr.KindEffectUnavailable, "tracker.Send", errors.New(req.Effect))
		}
		if conn == nil || !conn.IsOpen() {
			return nil, protoerr.New(protoerr.KindIllegalState, "tracker.Send", errors.New("no open connection"))
		}
	}
	if conn == nil {
		return nil, protoerr.New(protoerr.KindIllegalState, "tracker.Send", errors.New("no connection"))
	}

	id := t.nextID.Add(1)
	req.ID = id

	state := &requestState{
		id:        id,
		effect:    req.Effect,
		req:       req,
		responses: make(chan *protocol.Response, responseBufferSize),
	}

	t.pendingMu.Lock()
	t.pending[id] = state
	t.pendingMu.Unlock()

	t.armInitialTimeout(state)

	if err := conn.SendRequest(req); err != nil {
		t.finish(state)
		return nil, err
	}
	return state.responses, nil
}

func (t *Tracker) armInitialTimeout(state *requestState) {
	state.mu.Lock()
	version := state.version
	state.initialTimer = time.AfterFunc(t.cfg.InitialResponseTimeout, func() {
		t.onInitialTimeout(state, version)
	})
	state.mu.Unlock()
}

func (t *Tracker) onInitialTimeout(state *requestState, version uint64) {
	state.mu.Lock()
	if state.version != version || state.done {
		state.mu.Unlock()
		return
	}
	state.mu.Unlock()

	t.availability.Store(protocol.NormalizeEffect(state.effect), protocol.TriFalse)
	t.deliver(state, protocol.EffectUnavailable(state.id, "No response received"))
	t.finish(state)
}

// HandleResponse implements connection.ResponseHandler: it looks up
// the pending request by id and advances its lifecycle.
func (t *Tracker) HandleResponse(c *connection.Connection, resp *protocol.Response) {
	t.pendingMu.Lock()
	state, ok := t.pending[resp.ID]
	t.pendingMu.Unlock()
	if !ok {
		t.log.Debug().Int64("request_id", resp.ID).Msg("response for unknown or completed request")
		return
	}

	state.mu.Lock()
	state.version++
	if state.initialTimer != nil {
		state.initialTimer.Stop()
	}
	state.mu.Unlock()

	if resp.ResultType == nil {
		t.deliver(state, resp)
		return
	}

	switch *resp.ResultType {
	case protocol.ResultSuccess:
		t.availability.Store(protocol.NormalizeEffect(state.effect), protocol.TriTrue)
		t.deliver(state, resp)
		if remaining := durationOf(resp.TimeRemaining); remaining > 0 {
			t.scheduleSyntheticFinish(state, remaining)
		} else {
			t.finish(state)
		}

	case protocol.ResultPaused:
		state.mu.Lock()
		state.paused = true
		state.timeRemaining = durationOf(resp.TimeRemaining)
		state.remainingAt = time.Now()
		if state.completeTimer != nil {
			state.completeTimer.Stop()
		}
		state.mu.Unlock()
		t.deliver(state, resp)

	case protocol.ResultResumed:
		t.deliver(state, resp)
		if remaining := durationOf(resp.TimeRemaining); remaining > 0 {
			t.scheduleSyntheticFinish(state, remaining)
		}
		state.mu.Lock()
		state.paused = false
		state.mu.Unlock()

	case protocol.ResultRetry:
		state.mu.Lock()
		state.retryCount++
		count := state.retryCount
		state.mu.Unlock()
		t.deliver(state, resp)
		if count <= t.cfg.MaxRetries {
			t.scheduleRetry(state, count-1)
		}

	case protocol.ResultQueue:
		t.deliver(state, resp)

	case protocol.ResultUnavailable:
		t.availability.Store(protocol.NormalizeEffect(state.effect), protocol.TriFalse)
		t.deliver(state, resp)
		t.finish(state)

	case protocol.ResultFinished, protocol.ResultFailure, protocol.ResultNotReady:
		t.deliver(state, resp)
		t.finish(state)

	default:
		t.deliver(state, resp)
	}
}

// scheduleSyntheticFinish arms a timer that synthesizes a FINISHED
// response once timeRemaining elapses, since the wire protocol does
// not require the receiver to send one (spec §4.6).
func (t *Tracker) scheduleSyntheticFinish(state *requestState, remaining time.Duration) {
	state.mu.Lock()
	state.paused = false
	state.timeRemaining = remaining
	state.remainingAt = time.Now()
	if state.completeTimer != nil {
		state.completeTimer.Stop()
	}
	version := state.version
	state.completeTimer = time.AfterFunc(remaining, func() {
		t.onSyntheticFinish(state, version)
	})
	state.mu.Unlock()
}

func (t *Tracker) onSyntheticFinish(state *requestState, version uint64) {
	state.mu.Lock()
	if state.version != version || state.done || state.paused {
		state.mu.Unlock()
		return
	}
	state.mu.Unlock()

	t.deliver(state, protocol.EffectFinished(state.id))
	t.finish(state)
}

// scheduleRetry resends the original request after the backoff from
// spec §4.6: 2^(2+retryCount) seconds, retryCount being the count
// before this retry was recorded (first retry: 4s, second: 8s, ...).
func (t *Tracker) scheduleRetry(state *requestState, retryCount int) {
	delay := time.Duration(1<<(2+retryCount)) * time.Second
	state.mu.Lock()
	version := state.version
	state.mu.Unlock()

	time.AfterFunc(delay, func() {
		state.mu.Lock()
		if state.version != version || state.done {
			state.mu.Unlock()
			return
		}
		state.mu.Unlock()

		conn := t.activeConn()
		if conn == nil || !conn.IsOpen() {
			return
		}
		if err := conn.SendRequest(state.req); err != nil {
			t.log.Debug().Err(err).Int64("request_id", state.id).Msg("retry resend failed")
		}
	})
}

func (t *Tracker) deliver(state *requestState, resp *protocol.Response) {
	select {
	case state.responses <- resp:
	default:
		t.log.Warn().Int64("request_id", state.id).Msg("response buffer full, dropping")
	}
}

func (t *Tracker) finish(state *requestState) {
	state.mu.Lock()
	if state.done {
		state.mu.Unlock()
		return
	}
	state.done = true
	if state.initialTimer != nil {
		state.initialTimer.Stop()
	}
	if state.completeTimer != nil {
		state.completeTimer.Stop()
	}
	state.mu.Unlock()

	t.pendingMu.Lock()
	delete(t.pending, state.id)
	t.pendingMu.Unlock()

	close(state.responses)
}

// Shutdown waits up to cfg.ShutdownDrain for outstanding requests to
// reach a terminating response, then force-closes whatever remains.
func (t *Tracker) Shutdown() {
	deadline := time.After(t.cfg.ShutdownDrain)
	for {
		t.pendingMu.Lock()
		remaining := len(t.pending)
		t.pendingMu.Unlock()
		if remaining == 0 {
			return
		}
		select {
		case <-deadline:
			t.forceCloseAll()
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (t *Tracker) forceCloseAll() {
	t.pendingMu.Lock()
	states := make([]*requestState, 0, len(t.pending))
	for _, s := range t.pending {
		states = append(states, s)
	}
	t.pendingMu.Unlock()

	for _, s := range states {
		t.finish(s)
	}
}
