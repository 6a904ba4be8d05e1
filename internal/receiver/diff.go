package receiver

import (
	"sync"

	"crowdlink/internal/protocol"
)

// visibility is the last known EFFECT_STATUS state of one id, as seen
// by one connection. The two axes (visible/selectable) are tracked
// independently since spec §3 allows VISIBLE/NOT_VISIBLE and
// SELECTABLE/NOT_SELECTABLE to change on separate broadcasts.
type visibility struct {
	visible    protocol.TriState
	selectable protocol.TriState
}

// DiffFilter suppresses EFFECT_STATUS broadcasts that would tell a
// connection something it already knows, per spec §4.5 (C6). State is
// kept per connection because two connections may have diverged
// histories (e.g. one joined after a status change the other already
// saw).
//
// Grounded on the teacher's ScreenShareManager
// (internal/sfu/screenshare.go): a mutex-guarded map keyed by
// identity, mutated and read with the lock held, callbacks/decisions
// returned to the caller to act on outside the lock.
type DiffFilter struct {
	mu    sync.Mutex
	state map[string]map[string]visibility // connID -> id -> visibility
}

// NewDiffFilter builds an empty filter.
func NewDiffFilter() *DiffFilter {
	return &DiffFilter{state: make(map[string]map[string]visibility)}
}

// Forget drops all state for a connection, called on disconnect so
// the map does not grow unbounded.
func (f *DiffFilter) Forget(connID string) {
	f.mu.Lock()
	delete(f.state, connID)
	f.mu.Unlock()
}

// Apply filters ids down to the subset whose visibility or
// selectability actually changes for connID, given resp's result
// type. It returns nil if every id is a no-op for this connection,
// signaling the caller should drop the broadcast entirely (spec §4.5's
// "drop-empty-packet" rule).
func (f *DiffFilter) Apply(connID string, result protocol.ResultType, ids []string) []string {
	if !result.InEffectStatusFamily() {
		return ids
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	perConn, ok := f.state[connID]
	if !ok {
		perConn = make(map[string]visibility)
		f.state[connID] = perConn
	}

	changed := make([]string, 0, len(ids))
	for _, id := range ids {
		v := perConn[id]
		if applyResult(&v, result) {
			changed = append(changed, id)
		}
		perConn[id] = v
	}
	if len(changed) == 0 {
		return nil
	}
	return changed
}

// applyResult mutates v in place for the given incoming result and
// reports whether that changed v from its previous value.
func applyResult(v *visibility, result protocol.ResultType) bool {
	switch result {
	case protocol.ResultVisible:
		if v.visible == protocol.TriTrue {
			return false
		}
		v.visible = protocol.TriTrue
	case protocol.ResultNotVisible:
		if v.visible == protocol.TriFalse {
			return false
		}
		v.visible = protocol.TriFalse
	case protocol.ResultSelectable:
		if v.selectable == protocol.TriTrue {
			return false
		}
		v.selectable = protocol.TriTrue
	case protocol.ResultNotSelectable:
		if v.selectable == protocol.TriFalse {
			return false
		}
		v.selectable = protocol.TriFalse
	default:
		return true
	}
	return true
}
