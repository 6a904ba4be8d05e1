// Package protocol defines the wire data model shared between the
// receiver and the sender: requests, responses, targets/sources and
// the enum families used to classify them.
package protocol

import "strings"

// RequestType is the ordinal wire encoding of Request.Type. Values are
// pinned explicitly rather than left to iota so the mapping survives
// reordering of the const block.
type RequestType int

const (
	RequestStart                RequestType = 1
	RequestStop                 RequestType = 2
	RequestLogin                RequestType = 240
	RequestPlayerInfo            RequestType = 253
	RequestRemoteFunctionResult  RequestType = 254
	RequestKeepAlive             RequestType = 255
)

// IsEffectType reports whether requests of this type carry an effect
// payload (START/STOP), per spec §3.
func (t RequestType) IsEffectType() bool {
	return t == RequestStart || t == RequestStop
}

func (t RequestType) String() string {
	switch t {
	case RequestStart:
		return "START"
	case RequestStop:
		return "STOP"
	case RequestLogin:
		return "LOGIN"
	case RequestPlayerInfo:
		return "PLAYER_INFO"
	case RequestRemoteFunctionResult:
		return "REMOTE_FUNCTION_RESULT"
	case RequestKeepAlive:
		return "KEEP_ALIVE"
	default:
		return "UNKNOWN"
	}
}

// PacketType is the outer classification of a Response, in its own
// ordinal namespace distinct from ResultType.
type PacketType int

const (
	PacketEffectResult   PacketType = 0
	PacketEffectStatus   PacketType = 200
	PacketLogin          PacketType = 240
	PacketLoginSuccess   PacketType = 241
	PacketDisconnect     PacketType = 242
	PacketRemoteFunction PacketType = 243
	PacketKeepAlive      PacketType = 254
)

func (p PacketType) String() string {
	switch p {
	case PacketEffectResult:
		return "EFFECT_RESULT"
	case PacketEffectStatus:
		return "EFFECT_STATUS"
	case PacketLogin:
		return "LOGIN"
	case PacketLoginSuccess:
		return "LOGIN_SUCCESS"
	case PacketDisconnect:
		return "DISCONNECT"
	case PacketRemoteFunction:
		return "REMOTE_FUNCTION"
	case PacketKeepAlive:
		return "KEEP_ALIVE"
	default:
		return "UNKNOWN"
	}
}

// HasID reports whether this packet type carries a non-zero id on the
// wire (only EFFECT_RESULT does, per spec §3 invariant 3).
func (p PacketType) HasID() bool {
	return p == PacketEffectResult
}

// ResultType is the inner classification carried by EFFECT_RESULT and
// EFFECT_STATUS packets. The two families live in disjoint ranges so a
// single wire field ("status") can carry either without ambiguity.
type ResultType int

const (
	// EFFECT_RESULT family
	ResultSuccess     ResultType = 0
	ResultFailure     ResultType = 1
	ResultUnavailable ResultType = 2
	ResultRetry       ResultType = 3
	ResultPaused      ResultType = 4
	ResultResumed     ResultType = 5
	ResultFinished    ResultType = 6
	ResultQueue       ResultType = 7
	ResultNotReady    ResultType = 8

	// EFFECT_STATUS family
	ResultVisible       ResultType = 100
	ResultNotVisible    ResultType = 101
	ResultSelectable    ResultType = 102
	ResultNotSelectable ResultType = 103
)

func (r ResultType) String() string {
	switch r {
	case ResultSuccess:
		return "SUCCESS"
	case ResultFailure:
		return "FAILURE"
	case ResultUnavailable:
		return "UNAVAILABLE"
	case ResultRetry:
		return "RETRY"
	case ResultPaused:
		return "PAUSED"
	case ResultResumed:
		return "RESUMED"
	case ResultFinished:
		return "FINISHED"
	case ResultQueue:
		return "QUEUE"
	case ResultNotReady:
		return "NOT_READY"
	case ResultVisible:
		return "VISIBLE"
	case ResultNotVisible:
		return "NOT_VISIBLE"
	case ResultSelectable:
		return "SELECTABLE"
	case ResultNotSelectable:
		return "NOT_SELECTABLE"
	default:
		return "UNKNOWN"
	}
}

// InEffectResultFamily reports whether r is a valid EFFECT_RESULT status.
func (r ResultType) InEffectResultFamily() bool {
	return r >= ResultSuccess && r <= ResultNotReady
}

// InEffectStatusFamily reports whether r is a valid EFFECT_STATUS status.
func (r ResultType) InEffectStatusFamily() bool {
	return r >= ResultVisible && r <= ResultNotSelectable
}

// IsTerminating reports whether this result type closes the
// per-request response stream (spec §3 Lifecycle, §8 item 4).
// SUCCESS only terminates when it does not carry a positive
// TimeRemaining (a timed-effect start); the caller is responsible for
// checking that case separately since it depends on a field, not the
// enum alone.
func (r ResultType) IsTerminating() bool {
	switch r {
	case ResultFailure, ResultUnavailable, ResultFinished, ResultNotReady:
		return true
	default:
		return false
	}
}

// IdType identifies the namespace of a target effect key used in
// EFFECT_STATUS broadcasts and in the scheduler's diff filter.
type IdType int

const (
	IdTypeEffect IdType = iota
	IdTypeCategory
)

func (t IdType) String() string {
	if t == IdTypeCategory {
		return "category"
	}
	return "effect"
}

// TriState models an optional boolean that additionally distinguishes
// "unknown" from both true and false — used for the sender's
// effectAvailable map (spec §4.6) where an effect that has never
// received a response is neither known available nor known
// unavailable.
type TriState int

const (
	TriUnknown TriState = iota
	TriTrue
	TriFalse
)

// FromBool converts a plain bool into a known TriState.
func FromBool(b bool) TriState {
	if b {
		return TriTrue
	}
	return TriFalse
}

// NormalizeEffect case-folds an effect identifier to lower English, as
// required by spec §3 for Request.Effect.
func NormalizeEffect(effect string) string {
	return strings.ToLower(strings.TrimSpace(effect))
}
