// Package scheduler implements the Timed Effect Scheduler (C8): a
// process-wide registry keyed by effect group that enforces mutual
// exclusion between overlapping timed effects, queues the rest FIFO,
// and supports pause/resume with wall-clock-accurate remaining time.
//
// Grounded on the teacher's ScreenShareManager
// (internal/sfu/screenshare.go): a mutex-guarded registry, mutated
// with the lock held, whose callbacks are invoked outside the lock on
// values captured before unlocking.
package scheduler

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crowdlink/internal/protoerr"
)

// State is a TimedEffect's position in its lifecycle (spec §4.7).
type State int

const (
	StateCreated State = iota
	StateQueued
	StateRunning
	StatePaused
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateQueued:
		return "QUEUED"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// StartSeed is passed to StartCallback when the effect starts: the
// pieces of an EFFECT_RESULT/SUCCESS response the scheduler supplies.
// StartCallback returns nothing, and the scheduler does not itself
// build or send the SUCCESS response.
type StartSeed struct {
	Message string
}

// Target identifies one addressee a TimedEffect applies to, for the
// isActive query (spec §4.7's "any of its targets" intersection test).
type Target = string

// TimedEffect is one scheduled unit of exclusive, timed work.
type TimedEffect struct {
	Request any // opaque caller payload, e.g. *protocol.Request
	Group   string
	Effect  string
	Targets []Target
	Duration time.Duration

	StartCallback      func(seed StartSeed)
	QueueCallback       func()
	PauseCallback       func(remaining time.Duration)
	ResumeCallback      func(remaining time.Duration)
	CompletionCallback func()

	// Blocks/Waits are advisory policy flags (spec §9 Open Question,
	// resolved in SPEC_FULL §3.1): they inform queue() placement
	// decisions a caller's startCallback may make, but the scheduler
	// itself always serializes one RUNNING member per group regardless
	// of their value.
	Blocks bool
	Waits  bool

	mu          sync.Mutex
	state       State
	startedAt   time.Time
	remaining   time.Duration
	timer       *time.Timer
	timerVersion uint64
	sched       *Scheduler
}

// NewTimedEffect validates construction per spec §4.7: a non-nil
// request and startCallback, a non-negative duration. Blocks/Waits
// default true.
func NewTimedEffect(sched *Scheduler, group, effect string, targets []Target, request any, duration time.Duration, start func(StartSeed)) (*TimedEffect, error) {
	if request == nil {
		return nil, protoerr.New(protoerr.KindValidation, "scheduler.NewTimedEffect", errors.New("request is nil"))
	}
	if start == nil {
		return nil, protoerr.New(protoerr.KindValidation, "scheduler.NewTimedEffect", errors.New("startCallback is nil"))
	}
	if duration < 0 {
		return nil, protoerr.New(protoerr.KindValidation, "scheduler.NewTimedEffect", errors.New("duration must be non-negative"))
	}
	if group == "" {
		group = effect
	}
	return &TimedEffect{
		Request:       request,
		Group:         group,
		Effect:        effect,
		Targets:       targets,
		Duration:      duration,
		StartCallback: start,
		Blocks:        true,
		Waits:         true,
		state:         StateCreated,
		sched:         sched,
	}, nil
}

// State reports the effect's current lifecycle state.
func (e *TimedEffect) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Remaining reports the time left in the current run, valid while
// RUNNING or PAUSED.
func (e *TimedEffect) Remaining() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StatePaused {
		return e.remaining
	}
	if e.state == StateRunning {
		left := e.remaining - time.Since(e.startedAt)
		if left < 0 {
			return 0
		}
		return left
	}
	return 0
}

// Queue enters the effect into its group's registry (spec §4.7
// queue()). Must be called exactly once.
func (e *TimedEffect) Queue() {
	e.sched.enqueue(e)
}

// Pause requires RUNNING; it is an illegal-state error otherwise.
func (e *TimedEffect) Pause() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return protoerr.New(protoerr.KindIllegalState, "TimedEffect.Pause", errors.New("not running"))
	}
	remaining := e.remaining - time.Since(e.startedAt)
	if remaining < 0 {
		remaining = 0
	}
	e.remaining = remaining
	e.state = StatePaused
	e.timerVersion++
	if e.timer != nil {
		e.timer.Stop()
	}
	cb := e.PauseCallback
	e.mu.Unlock()

	if cb != nil {
		cb(remaining)
	}
	return nil
}

// Resume requires PAUSED; it is an illegal-state error otherwise.
func (e *TimedEffect) Resume() error {
	e.mu.Lock()
	if e.state != StatePaused {
		e.mu.Unlock()
		return protoerr.New(protoerr.KindIllegalState, "TimedEffect.Resume", errors.New("not paused"))
	}
	e.state = StateRunning
	e.startedAt = time.Now()
	remaining := e.remaining
	version := e.timerVersion
	cb := e.ResumeCallback
	e.armTimerLocked(version)
	e.mu.Unlock()

	if cb != nil {
		cb(remaining)
	}
	return nil
}

// Complete is idempotent: only the first call has effect. Subsequent
// calls are no-ops per spec §4.7/§8 property 6.
func (e *TimedEffect) Complete() {
	e.mu.Lock()
	if e.state == StateCompleted {
		e.mu.Unlock()
		return
	}
	e.state = StateCompleted
	e.timerVersion++
	if e.timer != nil {
		e.timer.Stop()
	}
	cb := e.CompletionCallback
	e.mu.Unlock()

	e.sched.onComplete(e)
	if cb != nil {
		cb()
	}
}

// start transitions CREATED/QUEUED -> RUNNING: records the start time,
// invokes startCallback and arms the completion timer. Called by the
// scheduler with the group's active slot already claimed.
func (e *TimedEffect) start() {
	e.mu.Lock()
	e.state = StateRunning
	e.startedAt = time.Now()
	e.remaining = e.Duration
	version := e.timerVersion
	cb := e.StartCallback
	e.armTimerLocked(version)
	e.mu.Unlock()

	if cb != nil {
		cb(StartSeed{Message: "Effect applied successfully"})
	}
}

// armTimerLocked schedules tryComplete for e.remaining from now. Must
// be called with e.mu held; duration zero completes on the next tick.
func (e *TimedEffect) armTimerLocked(version uint64) {
	d := e.remaining
	if d < 0 {
		d = 0
	}
	e.timer = time.AfterFunc(d, func() {
		e.tryComplete(version)
	})
}

func (e *TimedEffect) tryComplete(version uint64) {
	e.mu.Lock()
	if e.timerVersion != version || e.state == StateCompleted {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.Complete()
}

// markQueued is called by the scheduler while it holds the group
// registry's mutex.
func (e *TimedEffect) markQueued() {
	e.mu.Lock()
	e.state = StateQueued
	e.mu.Unlock()
}

// matches reports whether this effect intersects the given effect name
// and target set, for the isActive query.
func (e *TimedEffect) matches(effect string, targets []Target) bool {
	if e.Effect != effect {
		return false
	}
	if len(targets) == 0 {
		return true
	}
	for _, want := range targets {
		for _, have := range e.Targets {
			if want == have {
				return true
			}
		}
	}
	return false
}

// group is the per-effect-group registry entry.
type group struct {
	active *TimedEffect
	queue  []*TimedEffect
}

// Scheduler is the process-wide (or caller-scoped) registry from spec
// §4.7. All mutations happen under mu; callbacks run outside it.
type Scheduler struct {
	mu     sync.Mutex
	groups map[string]*group
	log    zerolog.Logger
}

// New builds an empty scheduler.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{groups: make(map[string]*group), log: log}
}

// enqueue implements TimedEffect.Queue: start immediately if the group
// has no active, unfinished member; otherwise append to the FIFO queue
// and invoke QueueCallback once, outside the lock, so the caller can
// emit the single intermediate EFFECT_RESULT/QUEUE response spec §4.7
// requires.
func (s *Scheduler) enqueue(e *TimedEffect) {
	s.mu.Lock()
	g, ok := s.groups[e.Group]
	if !ok {
		g = &group{}
		s.groups[e.Group] = g
	}

	if g.active == nil || g.active.State() == StateCompleted {
		g.active = e
		s.mu.Unlock()
		e.start()
		return
	}

	e.markQueued()
	g.queue = append(g.queue, e)
	s.mu.Unlock()

	if e.QueueCallback != nil {
		e.QueueCallback()
	}
}

// onComplete implements the tail of TimedEffect.Complete(): clear the
// group's active slot if it still points at e, then dequeue and start
// the next entry if any.
func (s *Scheduler) onComplete(e *TimedEffect) {
	s.mu.Lock()
	g, ok := s.groups[e.Group]
	if !ok {
		s.mu.Unlock()
		return
	}
	if g.active == e {
		g.active = nil
	}
	var next *TimedEffect
	if g.active == nil && len(g.queue) > 0 {
		next = g.queue[0]
		g.queue = g.queue[1:]
		g.active = next
	}
	s.mu.Unlock()

	if next != nil {
		next.start()
	}
}

// IsActive is the static query from spec §4.7: true when some
// registered, non-completed TimedEffect intersects effect and any of
// targets (or targets is empty, meaning "any target").
func (s *Scheduler) IsActive(effect string, targets ...Target) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.active != nil && g.active.matches(effect, targets) {
			return true
		}
		for _, queued := range g.queue {
			if queued.matches(effect, targets) {
				return true
			}
		}
	}
	return false
}

// Shutdown clears every group's queue and stops all timers, per
// spec.md §9's global-state note: process exit must not be the only
// way to reclaim scheduler resources.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	groups := s.groups
	s.groups = make(map[string]*group)
	s.mu.Unlock()

	for _, g := range groups {
		if g.active != nil {
			g.active.mu.Lock()
			g.active.timerVersion++
			if g.active.timer != nil {
				g.active.timer.Stop()
			}
			g.active.mu.Unlock()
		}
		for _, queued := range g.queue {
			queued.mu.Lock()
			queued.timerVersion++
			if queued.timer != nil {
				queued.timer.Stop()
			}
			queued.mu.Unlock()
		}
	}
}
