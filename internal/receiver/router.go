// Package receiver implements the request router (C5) and the
// effect-status diff filter (C6) on the game side of the protocol.
//
// The registry and dispatch-order design is grounded on the teacher's
// internal/ws.Client.handleDispatch switch (one case per command,
// with rate-limit "global checks" run before the handler, spec §4.4's
// "global checks → route by effect → fallback → exception
// translation" pipeline generalizes that same shape) plus the
// worker-pool dispatch offered by golang.org/x/sync/errgroup's
// SetLimit, used in place of the teacher's single-goroutine Hub loop
// because handlers here may block on game-side work.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"crowdlink/internal/connection"
	"crowdlink/internal/protocol"
	"crowdlink/internal/protoerr"
)

// Handler processes one effect request and returns the Response to
// send back (or an error to translate per spec §4.4). Returning
// (nil, nil) means the handler will reply later itself (e.g. after
// scheduling a timed effect) via the Connection passed to it.
type Handler func(ctx context.Context, c *connection.Connection, req *protocol.Request) (*protocol.Response, error)

// HandlerEntry pairs a Handler with its dispatch mode.
type HandlerEntry struct {
	Handler Handler
	Async   bool
}

// GlobalCheck runs before routing; returning false short-circuits
// dispatch with the canonical "game is unavailable" FAILURE response
// (e.g. a maintenance-mode rejection), per spec §4.4(1).
type GlobalCheck func(c *connection.Connection, req *protocol.Request) bool

var textPolicy = bluemonday.StrictPolicy()

// Router owns the effect handler registry and dispatches decoded
// Requests to it. It implements connection.RequestHandler.
type Router struct {
	log zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerEntry

	checksMu sync.RWMutex
	checks   []GlobalCheck

	pool errgroup.Group
}

// NewRouter builds an empty Router. asyncWorkers bounds how many
// async handlers may run concurrently; 0 means unbounded.
func NewRouter(asyncWorkers int, log zerolog.Logger) *Router {
	r := &Router{
		log:      log,
		handlers: make(map[string]HandlerEntry),
	}
	if asyncWorkers > 0 {
		r.pool.SetLimit(asyncWorkers)
	}
	return r
}

// Register adds a handler for effect, rejecting a duplicate
// registration per spec §4.4/§8 scenario S2.
func (r *Router) Register(effect string, entry HandlerEntry) error {
	key := protocol.NormalizeEffect(effect)
	if key == "" {
		return protoerr.New(protoerr.KindValidation, "router.Register", errors.New("effect name required"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[key]; exists {
		return protoerr.New(protoerr.KindHandler, "router.Register", fmt.Errorf("%w: %s", protoerr.ErrDuplicateHandler, key))
	}
	r.handlers[key] = entry
	return nil
}

// AddGlobalCheck appends a check run before every dispatch, in
// registration order.
func (r *Router) AddGlobalCheck(check GlobalCheck) {
	if check == nil {
		return
	}
	r.checksMu.Lock()
	r.checks = append(r.checks, check)
	r.checksMu.Unlock()
}

func (r *Router) lookup(effect string) (HandlerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.handlers[protocol.NormalizeEffect(effect)]
	return entry, ok
}

// HandleRequest implements connection.RequestHandler.
func (r *Router) HandleRequest(c *connection.Connection, req *protocol.Request) {
	if !req.Type.IsEffectType() {
		// REMOTE_FUNCTION_RESULT and anything else outside the effect
		// family is not routed through the effect registry.
		return
	}

	if !r.runGlobalChecks(c, req) {
		r.reply(c, protocol.EffectFailure(req.ID, "The game is unavailable"))
		return
	}

	req.Effect = protocol.NormalizeEffect(textPolicy.Sanitize(req.Effect))
	req.Viewer = textPolicy.Sanitize(req.Viewer)
	req.Message = textPolicy.Sanitize(req.Message)

	entry, ok := r.lookup(req.Effect)
	if !ok {
		r.reply(c, protocol.EffectUnavailable(req.ID, "Effect unavailable"))
		r.reply(c, protocol.EffectStatusFor(protocol.ResultNotVisible, req.Effect))
		return
	}

	if entry.Async {
		r.pool.Go(func() error {
			r.invoke(c, req, entry)
			return nil
		})
		return
	}
	r.invoke(c, req, entry)
}

func (r *Router) invoke(c *connection.Connection, req *protocol.Request, entry HandlerEntry) {
	resp, err := entry.Handler(context.Background(), c, req)
	if err != nil {
		r.reply(c, r.translateError(req, err))
		return
	}
	if resp != nil {
		r.reply(c, resp)
	}
}

// translateError maps a handler's returned error to a wire response
// per spec §4.4: a "no applicable target" exception gets the dedicated
// "Streamer(s) unavailable" message, everything else is a generic
// FAILURE with the message "Request handler threw an exception" (the
// error text is only logged).
func (r *Router) translateError(req *protocol.Request, err error) *protocol.Response {
	if errors.Is(err, protoerr.ErrNoApplicableTarget) {
		return protocol.EffectFailure(req.ID, "Streamer(s) unavailable")
	}
	r.log.Error().Err(err).Str("effect", req.Effect).Int64("request_id", req.ID).Msg("handler error")
	return protocol.EffectFailure(req.ID, "Request handler threw an exception")
}

func (r *Router) runGlobalChecks(c *connection.Connection, req *protocol.Request) bool {
	r.checksMu.RLock()
	checks := append([]GlobalCheck{}, r.checks...)
	r.checksMu.RUnlock()

	for _, check := range checks {
		if !check(c, req) {
			return false
		}
	}
	return true
}

func (r *Router) reply(c *connection.Connection, resp *protocol.Response) {
	if err := c.Send(resp.WithOrigin(c)); err != nil {
		r.log.Debug().Err(err).Msg("failed to deliver response")
	}
}

// Wait blocks until every in-flight async handler has returned. Use
// during shutdown to drain outstanding work.
func (r *Router) Wait() error { return r.pool.Wait() }

// knownEffects reports the registered effect keys, for diagnostics.
func (r *Router) knownEffects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	return out
}
