// Package protoerr defines the error taxonomy from spec §7 as typed
// Go errors, mirroring the teacher's internal/sfu/errors.go pattern of
// a Kind enum wrapped in a single error struct so callers can dispatch
// with errors.As/errors.Is at each boundary.
package protoerr

import (
	"errors"
	"fmt"
)

// Kind names one of the error categories from spec §7.
type Kind int

const (
	KindValidation Kind = iota
	KindIO
	KindCodec
	KindProtocol
	KindTimeout
	KindHandler
	KindEffectUnavailable
	KindIllegalState
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindIO:
		return "io"
	case KindCodec:
		return "codec"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	case KindHandler:
		return "handler"
	case KindEffectUnavailable:
		return "effect-unavailable"
	case KindIllegalState:
		return "illegal-state"
	default:
		return "unknown"
	}
}

// Error is the shared error type for every kind in spec §7's taxonomy.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ErrNoApplicableTarget is the distinguished handler exception from
// spec §4.4: a handler that fails because none of the request's
// targets apply maps to EFFECT_RESULT/FAILURE with the message
// "Streamer(s) unavailable" instead of the generic handler-exception
// message.
var ErrNoApplicableTarget = errors.New("no applicable target")

// ErrDuplicateHandler is raised by the registry when an effect is
// registered twice (spec §4.4, §8 scenario S2).
var ErrDuplicateHandler = errors.New("duplicate-handler")
