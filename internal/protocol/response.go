package protocol

import (
	"fmt"
	"time"
)

// ReplyTarget is the "reply here if still open" side of a Response's
// weak reference to its originating Connection (spec §3 Ownership).
// The connection package implements this; protocol stays free of that
// dependency so codec/data-model code can be used standalone.
type ReplyTarget interface {
	Send(*Response) error
	ID() string
}

// Response is a reply to a Request, or an unsolicited connection-wide
// packet (spec §3).
type Response struct {
	ID              int64       `json:"id"`
	PacketType      PacketType  `json:"type"`
	ResultType      *ResultType `json:"status,omitempty"`
	Message         string      `json:"message,omitempty"`
	TimeRemainingMS *int64      `json:"timeRemaining,omitempty"`
	Effect          string      `json:"effect,omitempty"`
	IDs             []string    `json:"ids,omitempty"`
	Method          string      `json:"method,omitempty"`
	Arguments       []any       `json:"arguments,omitempty"`

	// TimeRemaining is nil when unset (spec §3: "> 0 if specified;
	// zero/negative rejected" — a nil pointer is the only way to tell
	// "not specified" apart from an explicit, invalid zero).
	TimeRemaining *time.Duration `json:"-"`

	// origin is nil for a broadcast response (spec §3 Ownership): one
	// built without an originating connection is delivered to every
	// connection owned by the enclosing Session Manager.
	origin ReplyTarget
}

// MarshalJSON projects TimeRemaining into TimeRemainingMS.
func (r Response) MarshalJSON() ([]byte, error) {
	type wire Response
	w := wire(r)
	if r.TimeRemaining != nil {
		ms := r.TimeRemaining.Milliseconds()
		w.TimeRemainingMS = &ms
	}
	return jsonMarshal(w)
}

// UnmarshalJSON reverses MarshalJSON's projection.
func (r *Response) UnmarshalJSON(data []byte) error {
	type wire Response
	var w wire
	if err := jsonUnmarshal(data, &w); err != nil {
		return err
	}
	*r = Response(w)
	if w.TimeRemainingMS != nil {
		d := time.Duration(*w.TimeRemainingMS) * time.Millisecond
		r.TimeRemaining = &d
	}
	r.TimeRemainingMS = nil
	return nil
}

// Origin returns the connection this response should be routed back
// to, or nil if it is a broadcast response.
func (r *Response) Origin() ReplyTarget { return r.origin }

// WithOrigin returns a copy of r bound to the given connection.
func (r Response) WithOrigin(target ReplyTarget) *Response {
	r.origin = target
	return &r
}

// IsBroadcast reports whether this response has no originating
// connection and should be sent to every open connection.
func (r *Response) IsBroadcast() bool { return r.origin == nil }

// IsTerminating reports whether this response closes the per-request
// stream it belongs to (spec §3 Lifecycle): a SUCCESS only terminates
// when it carries no positive TimeRemaining (otherwise it is the start
// of a timed effect and more responses are expected).
func (r *Response) IsTerminating() bool {
	if r.ResultType == nil {
		return false
	}
	switch *r.ResultType {
	case ResultSuccess:
		return r.TimeRemaining == nil || *r.TimeRemaining <= 0
	default:
		return r.ResultType.IsTerminating()
	}
}

// Validate enforces the construction invariants from spec §3.
func (r Response) Validate() error {
	if r.ID < 0 {
		return fmt.Errorf("protocol: %w: response id must be >= 0", errValidation)
	}
	if r.PacketType == PacketEffectResult && r.ID <= 0 {
		return fmt.Errorf("protocol: %w: EFFECT_RESULT response requires positive id", errValidation)
	}
	if r.PacketType != PacketEffectResult && r.ID != 0 {
		return fmt.Errorf("protocol: %w: non-EFFECT_RESULT response must carry id 0", errValidation)
	}
	if r.PacketType == PacketDisconnect && r.Message == "" {
		return fmt.Errorf("protocol: %w: DISCONNECT response requires a message", errValidation)
	}

	needsResult := r.PacketType == PacketEffectResult || r.PacketType == PacketEffectStatus
	if needsResult && r.ResultType == nil {
		return fmt.Errorf("protocol: %w: %s response requires a result type", errValidation, r.PacketType)
	}
	if !needsResult && r.ResultType != nil {
		return fmt.Errorf("protocol: %w: %s response must not carry a result type", errValidation, r.PacketType)
	}
	if r.ResultType != nil {
		switch r.PacketType {
		case PacketEffectResult:
			if !r.ResultType.InEffectResultFamily() {
				return fmt.Errorf("protocol: %w: result type %s not valid for EFFECT_RESULT", errValidation, r.ResultType)
			}
		case PacketEffectStatus:
			if !r.ResultType.InEffectStatusFamily() {
				return fmt.Errorf("protocol: %w: result type %s not valid for EFFECT_STATUS", errValidation, r.ResultType)
			}
		}
	}

	if r.TimeRemaining != nil && *r.TimeRemaining <= 0 {
		return fmt.Errorf("protocol: %w: timeRemaining must be positive when set", errValidation)
	}

	if r.PacketType == PacketEffectStatus && r.Effect == "" && len(r.IDs) == 0 {
		return fmt.Errorf("protocol: %w: EFFECT_STATUS response requires effect or ids", errValidation)
	}

	return nil
}

// ResponseBuilder constructs a Response one PacketType at a time,
// refusing ResultType values outside that packet type's family (spec
// §9's "packetType-aware Response construction" resolution).
type ResponseBuilder struct {
	resp Response
}

// NewResponseBuilder seeds a builder for the given request id and
// packet type.
func NewResponseBuilder(id int64, packetType PacketType) *ResponseBuilder {
	return &ResponseBuilder{resp: Response{ID: id, PacketType: packetType}}
}

func (b *ResponseBuilder) Message(msg string) *ResponseBuilder {
	b.resp.Message = msg
	return b
}

func (b *ResponseBuilder) Effect(effect string) *ResponseBuilder {
	b.resp.Effect = NormalizeEffect(effect)
	return b
}

func (b *ResponseBuilder) IDs(ids []string) *ResponseBuilder {
	b.resp.IDs = ids
	return b
}

func (b *ResponseBuilder) TimeRemaining(d time.Duration) *ResponseBuilder {
	b.resp.TimeRemaining = &d
	return b
}

func (b *ResponseBuilder) MethodCall(method string, args []any) *ResponseBuilder {
	b.resp.Method = method
	b.resp.Arguments = args
	return b
}

// Result sets the result type, panicking only on a programmer error
// (a family mismatch should never compile in caller code that uses
// the typed Effect* constructors in helpers.go; this is the one place where a
// hard panic is appropriate because it signals a bug in this package,
// not in wire data).
func (b *ResponseBuilder) Result(rt ResultType) *ResponseBuilder {
	switch b.resp.PacketType {
	case PacketEffectResult:
		if !rt.InEffectResultFamily() {
			panic(fmt.Sprintf("protocol: %s is not a valid EFFECT_RESULT status", rt))
		}
	case PacketEffectStatus:
		if !rt.InEffectStatusFamily() {
			panic(fmt.Sprintf("protocol: %s is not a valid EFFECT_STATUS status", rt))
		}
	default:
		panic(fmt.Sprintf("protocol: packet type %s does not carry a result type", b.resp.PacketType))
	}
	b.resp.ResultType = &rt
	return b
}

// Build finalizes the response, validating it before returning.
func (b *ResponseBuilder) Build() (*Response, error) {
	if err := b.resp.Validate(); err != nil {
		return nil, err
	}
	r := b.resp
	return &r, nil
}
