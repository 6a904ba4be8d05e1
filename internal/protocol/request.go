package protocol

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parameter is one element of Request.Parameters: a numeric, string or
// boolean value in wire order. Decoding through encoding/json already
// yields float64/string/bool/nil for an interface{} field, so Parameter
// is just a named alias kept for readability at call sites.
type Parameter = any

// Request is a single unit of incoming work, as defined in spec §3.
//
// JSON tags follow the wire contract in spec §6: the effect key is
// serialized as "code", durations as whole milliseconds.
type Request struct {
	ID         int64         `json:"id" validate:"gte=0"`
	Type       RequestType   `json:"type"`
	Effect     string        `json:"code,omitempty"`
	Viewer     string        `json:"viewer,omitempty"`
	Message    string        `json:"message,omitempty"`
	Cost       int64         `json:"cost,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration,omitempty"`
	Parameters []Parameter   `json:"parameters,omitempty"`
	Quantity   int           `json:"quantity,omitempty"`
	Targets    []Target      `json:"targets,omitempty"`
	Source     *Source       `json:"source,omitempty"`
	Password   string        `json:"password,omitempty"`
	Login      string        `json:"login,omitempty"`
	Value      any           `json:"value,omitempty"`
}

// MarshalJSON projects Duration into DurationMS (whole milliseconds)
// before delegating to the default struct encoding, and folds Effect
// to lower English on the wire as spec §3 requires.
func (r Request) MarshalJSON() ([]byte, error) {
	type wire Request
	w := wire(r)
	w.DurationMS = r.Duration.Milliseconds()
	w.Effect = NormalizeEffect(r.Effect)
	if w.Quantity == 0 {
		w.Quantity = 1
	}
	return jsonMarshal(w)
}

// UnmarshalJSON reverses MarshalJSON's projection and applies the
// default-quantity-of-1 rule from spec §3.
func (r *Request) UnmarshalJSON(data []byte) error {
	type wire Request
	var w wire
	if err := jsonUnmarshal(data, &w); err != nil {
		return err
	}
	*r = Request(w)
	r.Duration = time.Duration(w.DurationMS) * time.Millisecond
	r.DurationMS = 0
	r.Effect = NormalizeEffect(r.Effect)
	if r.Quantity <= 0 {
		r.Quantity = 1
	}
	return nil
}

// Validate enforces the construction invariants from spec §3:
//   - id >= 0
//   - effect and viewer are required for effect-type requests
//   - password is required (non-empty) for LOGIN requests
//   - value is only meaningful for REMOTE_FUNCTION_RESULT (not enforced
//     as an error, since spec does not require it be absent otherwise)
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("protocol: invalid request: %w", err)
	}
	if r.Type.IsEffectType() {
		if r.Effect == "" {
			return fmt.Errorf("protocol: %w: effect-type request missing effect", errValidation)
		}
		if r.Viewer == "" {
			return fmt.Errorf("protocol: %w: effect-type request missing viewer", errValidation)
		}
	}
	if r.Type == RequestLogin && r.Password == "" {
		return fmt.Errorf("protocol: %w: LOGIN request missing password", errValidation)
	}
	if r.Quantity < 0 {
		return fmt.Errorf("protocol: %w: quantity must be positive", errValidation)
	}
	return nil
}

// IsUnsolicited reports whether this request is keep-alive/status
// traffic rather than an effect-bearing request (spec §3: id == 0).
func (r Request) IsUnsolicited() bool {
	return r.ID == 0
}
